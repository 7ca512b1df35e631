package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"helpdesk-ingest-go/internal/app"
	"helpdesk-ingest-go/internal/db"
	"helpdesk-ingest-go/internal/service/mailbox"
	"helpdesk-ingest-go/internal/service/scheduler"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "helpdesk-ingest",
		Short:         "Poll support mailboxes and turn inbound mail into cases",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default ./config.yaml)")

	root.AddCommand(
		newServeCmd(&configPath),
		newFetchCmd(&configPath),
		newMigrateCmd(&configPath),
		newTokenCmd(&configPath),
	)
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, websocket feed and fetch scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(*configPath)
		},
	}
}

func newFetchCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Run one fetch cycle over every active mailbox and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer a.Close()

			report, ok := a.Orchestrator.RunCycle(ctx, scheduler.ReasonManual)
			if !ok {
				return fmt.Errorf("a fetch cycle is already running")
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			conn, err := db.Init(cfg.Database)
			if err != nil {
				return err
			}
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	}
}

func newTokenCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Obtain an OAuth2 refresh token for an xoauth2 mailbox or the mailer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.OAuth.ClientID == "" || cfg.OAuth.ClientSecret == "" {
				return fmt.Errorf("set GMAIL_CLIENT_ID and GMAIL_CLIENT_SECRET first")
			}

			oauthConfig := mailbox.GoogleOAuthConfig(cfg.OAuth.ClientID, cfg.OAuth.ClientSecret, cfg.OAuth.RedirectURL)
			out := cmd.OutOrStdout()

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
			fmt.Fprintf(out, "Go to the following link in your browser: %v\n", authURL)
			fmt.Fprintln(out, "\nAfter authorization, copy the 'code' parameter from the redirect URL.")
			fmt.Fprint(out, "\nEnter the authorization code: ")

			code, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && code == "" {
				return fmt.Errorf("failed to read authorization code: %w", err)
			}

			tok, err := oauthConfig.Exchange(context.Background(), strings.TrimSpace(code))
			if err != nil {
				return fmt.Errorf("unable to retrieve token: %w", err)
			}

			fmt.Fprintf(out, "\nRefresh Token: %s\n", tok.RefreshToken)
			fmt.Fprintf(out, "Expiry: %v\n", tok.Expiry)
			fmt.Fprintln(out, "\nUse it as refresh_token on an xoauth2 mailbox or as MAILER_REFRESH_TOKEN.")
			return nil
		},
	}
}
