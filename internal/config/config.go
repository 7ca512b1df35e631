package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	OAuth     OAuthConfig     `mapstructure:"oauth"`
	Mailer    MailerConfig    `mapstructure:"mailer"`
	Log       LogConfig       `mapstructure:"log"`
	Mailboxes []MailboxConfig `mapstructure:"mailboxes"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// AllowedOrigins are host patterns accepted for websocket upgrades
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	Path     string `mapstructure:"path"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalMinutes int  `mapstructure:"interval_minutes"`
}

// IngestConfig holds mailbox polling and correlation settings
type IngestConfig struct {
	Folder          string        `mapstructure:"folder"`
	ArchiveFolder   string        `mapstructure:"archive_folder"`
	SearchMode      string        `mapstructure:"search_mode"`
	MinInterval     time.Duration `mapstructure:"min_interval"`
	FailureCooldown time.Duration `mapstructure:"failure_cooldown"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout  time.Duration `mapstructure:"command_timeout"`
	FallbackChars   int           `mapstructure:"fallback_chars"`
}

// OAuthConfig holds the OAuth client used for XOAUTH2 mailboxes
type OAuthConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
}

// MailerConfig holds Gmail API settings for outbound agent replies
type MailerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	UserEmail    string `mapstructure:"user_email"`
	FromName     string `mapstructure:"from_name"`
	RefreshToken string `mapstructure:"refresh_token"`
	MaxRetries   int    `mapstructure:"max_retries"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MailboxConfig is a mailbox declared in the config file. Declared
// mailboxes are upserted into the database at startup.
type MailboxConfig struct {
	Name               string `mapstructure:"name"`
	Address            string `mapstructure:"address"`
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Username           string `mapstructure:"username"`
	Password           string `mapstructure:"password"`
	AuthType           string `mapstructure:"auth_type"`
	RefreshToken       string `mapstructure:"refresh_token"`
	Folder             string `mapstructure:"folder"`
	ArchiveFolder      string `mapstructure:"archive_folder"`
	SearchMode         string `mapstructure:"search_mode"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
	Active             *bool  `mapstructure:"active"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	return LoadConfigFile("")
}

// LoadConfigFile loads configuration from an explicit file path, falling back
// to config.yaml in the working directory or ./config when path is empty.
func LoadConfigFile(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "helpdesk.db")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval_minutes", 15)

	v.SetDefault("ingest.folder", "INBOX")
	v.SetDefault("ingest.archive_folder", "Processed")
	v.SetDefault("ingest.search_mode", "all")
	v.SetDefault("ingest.min_interval", "10m")
	v.SetDefault("ingest.failure_cooldown", "30m")
	v.SetDefault("ingest.connect_timeout", "45s")
	v.SetDefault("ingest.command_timeout", "30s")
	v.SetDefault("ingest.fallback_chars", 500)

	v.SetDefault("oauth.redirect_url", "http://localhost:8080/callback")

	v.SetDefault("mailer.enabled", false)
	v.SetDefault("mailer.max_retries", 3)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.sslmode", "DB_SSLMODE")
	v.BindEnv("database.path", "DB_PATH")

	// Scheduler
	v.BindEnv("scheduler.enabled", "SCHEDULER_ENABLED")
	v.BindEnv("scheduler.interval_minutes", "SCHEDULER_INTERVAL_MINUTES")

	// Ingest
	v.BindEnv("ingest.folder", "INGEST_FOLDER")
	v.BindEnv("ingest.archive_folder", "INGEST_ARCHIVE_FOLDER")
	v.BindEnv("ingest.search_mode", "INGEST_SEARCH_MODE")
	v.BindEnv("ingest.min_interval", "INGEST_MIN_INTERVAL")
	v.BindEnv("ingest.failure_cooldown", "INGEST_FAILURE_COOLDOWN")
	v.BindEnv("ingest.connect_timeout", "INGEST_CONNECT_TIMEOUT")
	v.BindEnv("ingest.command_timeout", "INGEST_COMMAND_TIMEOUT")

	// OAuth
	v.BindEnv("oauth.client_id", "GMAIL_CLIENT_ID")
	v.BindEnv("oauth.client_secret", "GMAIL_CLIENT_SECRET")
	v.BindEnv("oauth.redirect_url", "GMAIL_REDIRECT_URL")

	// Mailer
	v.BindEnv("mailer.enabled", "MAILER_ENABLED")
	v.BindEnv("mailer.user_email", "MAILER_USER_EMAIL")
	v.BindEnv("mailer.from_name", "MAILER_FROM_NAME")
	v.BindEnv("mailer.refresh_token", "MAILER_REFRESH_TOKEN")

	// Log
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.format", "LOG_FORMAT")
}

// GetDSN returns the database connection string for the configured driver
func (c *DatabaseConfig) GetDSN() string {
	switch c.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	case "sqlite":
		return c.Path
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.User, c.Password, c.Host, c.Port, c.DBName)
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case "mysql", "postgres":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host, user, and dbname are required")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}

	switch c.Ingest.SearchMode {
	case "all", "unseen":
	default:
		return fmt.Errorf("ingest search_mode must be \"all\" or \"unseen\"")
	}

	if c.Ingest.MinInterval < 0 || c.Ingest.FailureCooldown < 0 {
		return fmt.Errorf("ingest cooldowns must not be negative")
	}

	for i, mb := range c.Mailboxes {
		if mb.Address == "" || mb.Host == "" {
			return fmt.Errorf("mailbox %d: address and host are required", i)
		}
		switch strings.ToLower(mb.AuthType) {
		case "", "password":
			if mb.Password == "" {
				return fmt.Errorf("mailbox %s: password is required", mb.Address)
			}
		case "xoauth2":
			if mb.RefreshToken == "" || c.OAuth.ClientID == "" || c.OAuth.ClientSecret == "" {
				return fmt.Errorf("mailbox %s: OAuth2 client credentials and refresh token are required", mb.Address)
			}
		default:
			return fmt.Errorf("mailbox %s: unsupported auth_type %q", mb.Address, mb.AuthType)
		}
	}

	if c.Mailer.Enabled {
		if c.OAuth.ClientID == "" || c.OAuth.ClientSecret == "" || c.Mailer.RefreshToken == "" || c.Mailer.UserEmail == "" {
			return fmt.Errorf("Gmail OAuth2 credentials and user email are required when the mailer is enabled")
		}
	}

	return nil
}
