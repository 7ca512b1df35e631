package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"helpdesk-ingest-go/internal/broadcast"
	"helpdesk-ingest-go/internal/config"
	"helpdesk-ingest-go/internal/db"
	"helpdesk-ingest-go/internal/handler"
	"helpdesk-ingest-go/internal/logging"
	"helpdesk-ingest-go/internal/metrics"
	"helpdesk-ingest-go/internal/model"
	"helpdesk-ingest-go/internal/repository"
	"helpdesk-ingest-go/internal/router"
	"helpdesk-ingest-go/internal/service/mailbox"
	"helpdesk-ingest-go/internal/service/mailer"
	"helpdesk-ingest-go/internal/service/scheduler"
)

// App holds the wired services of a running process
type App struct {
	Config       *config.Config
	DB           *gorm.DB
	Repo         *repository.Repository
	Metrics      *metrics.Metrics
	Hub          *broadcast.Hub
	Orchestrator *scheduler.Orchestrator
	Scheduler    *scheduler.Scheduler
	Sender       mailer.Sender
}

// LoadConfig loads and validates configuration, then configures logging
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

// New connects the database, syncs configured mailboxes and builds every
// service. The scheduler is created but not started.
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*App, error) {
	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &App{
		Config:  cfg,
		DB:      dbConn,
		Repo:    repository.New(dbConn),
		Metrics: metrics.NewMetrics(reg),
	}

	if err := a.SyncMailboxes(ctx); err != nil {
		return nil, err
	}

	a.Hub = broadcast.NewHub(broadcast.WithDropHook(a.Metrics.BroadcastDropped.Inc))

	var oauthConfig *oauth2.Config
	if cfg.OAuth.ClientID != "" {
		oauthConfig = mailbox.GoogleOAuthConfig(cfg.OAuth.ClientID, cfg.OAuth.ClientSecret, cfg.OAuth.RedirectURL)
	}
	opener := mailbox.NewIMAPOpener(mailbox.NewProvider(oauthConfig), cfg.Ingest.ConnectTimeout, cfg.Ingest.CommandTimeout)

	a.Orchestrator = scheduler.NewOrchestrator(scheduler.Deps{
		Repo:      a.Repo,
		Opener:    opener,
		Publisher: a.Hub,
		Metrics:   a.Metrics,
	}, cfg.Ingest)
	a.Scheduler = scheduler.New(&cfg.Scheduler, a.Orchestrator)

	a.Sender = mailer.NopSender{}
	if cfg.Mailer.Enabled {
		sender, err := mailer.NewGmailSender(ctx, cfg.Mailer, oauthConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gmail sender: %w", err)
		}
		a.Sender = sender
		logrus.Info("Agent replies are sent through the Gmail API")
	}

	return a, nil
}

// SyncMailboxes upserts the mailboxes declared in configuration
func (a *App) SyncMailboxes(ctx context.Context) error {
	for _, mc := range a.Config.Mailboxes {
		mb := mailboxFromConfig(mc)
		if err := a.Repo.UpsertMailbox(ctx, &mb); err != nil {
			return fmt.Errorf("failed to sync mailbox %s: %w", logging.MaskEmail(mc.Address), err)
		}
		logrus.WithFields(logrus.Fields{
			"mailbox_id": mb.ID,
			"address":    logging.MaskEmail(mb.Address),
			"active":     mb.Active,
		}).Info("Mailbox synced from configuration")
	}
	return nil
}

// Handler builds the HTTP router
func (a *App) Handler(metricsHandler http.Handler) http.Handler {
	h := handler.NewHandlers(handler.Deps{
		Repo:           a.Repo,
		Orchestrator:   a.Orchestrator,
		Scheduler:      a.Scheduler,
		Hub:            a.Hub,
		Sender:         a.Sender,
		Metrics:        a.Metrics,
		MetricsHandler: metricsHandler,
	})
	return router.SetupRouter(h, router.Options{
		Hub:            a.Hub,
		AllowedOrigins: a.Config.Server.AllowedOrigins,
	})
}

// Close stops background work and releases the database
func (a *App) Close() {
	if a.Scheduler != nil {
		if err := a.Scheduler.Stop(); err != nil {
			logrus.Errorf("Failed to stop scheduler: %v", err)
		}
		a.Scheduler.Wait()
	}
	if a.Orchestrator != nil {
		a.Orchestrator.Stop()
	}
	if a.Hub != nil {
		a.Hub.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
}

// Run starts the HTTP server and the scheduler and blocks until SIGINT or
// SIGTERM.
func Run(configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	logrus.Info("Starting helpdesk ingest service")

	a, err := New(context.Background(), cfg, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      a.Handler(promhttp.Handler()),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Scheduler.Enabled {
		if err := a.Scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// websocket write loops exit once the hub closes their channels
	a.Hub.Close()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Server stopped gracefully")
	return nil
}

func mailboxFromConfig(mc config.MailboxConfig) model.Mailbox {
	active := true
	if mc.Active != nil {
		active = *mc.Active
	}
	port := mc.Port
	if port == 0 {
		port = 993
	}
	authType := strings.ToLower(mc.AuthType)
	if authType == "" {
		authType = model.AuthPassword
	}
	name := mc.Name
	if name == "" {
		name = mc.Address
	}
	return model.Mailbox{
		Name:               name,
		Address:            mc.Address,
		Host:               mc.Host,
		Port:               port,
		Username:           mc.Username,
		Password:           mc.Password,
		AuthType:           authType,
		RefreshToken:       mc.RefreshToken,
		Folder:             mc.Folder,
		ArchiveFolder:      mc.ArchiveFolder,
		SearchMode:         mc.SearchMode,
		InsecureSkipVerify: mc.InsecureSkipVerify,
		Active:             active,
	}
}
