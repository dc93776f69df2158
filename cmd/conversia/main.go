package main

import (
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/conversia/conversia/internal/api"
	"github.com/conversia/conversia/internal/config"
	"github.com/conversia/conversia/internal/genai"
	"github.com/conversia/conversia/internal/store"
	"github.com/conversia/conversia/internal/util"
	"github.com/conversia/conversia/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultRefreshInterval is the default flow refresh sweep interval.
	DefaultRefreshInterval = 5 * time.Minute
)

func main() {
	initializeLogger()

	cfg := loadEnvironmentConfig()
	flags := parseCommandLineFlags(cfg)

	waOpts := buildWhatsAppOptions(flags)
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping Conversia with configured modules")
	slog.Debug("Module options counts", "whatsapp", len(waOpts), "store", len(storeOpts), "genai", len(genaiOpts), "api", len(apiOpts))
	if err := api.Run(waOpts, storeOpts, genaiOpts, apiOpts); err != nil {
		slog.Error("Conversia failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Conversia exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	DatabaseURL      string
	RedisAddr        string
	APIAddr          string
	OpenAIKey        string
	TenantsFile      string
	RefreshInterval  time.Duration
	TerminalQR       bool
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
}

// Flags holds command line flag values
type Flags struct {
	stateDir         *string
	dbDSN            *string
	redisAddr        *string
	apiAddr          *string
	openaiKey        *string
	tenantsFile      *string
	refreshInterval  *time.Duration
	terminalQR       *bool
	twilioAccountSID *string
	twilioAuthToken  *string
	twilioFrom       *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	cfg := Config{
		StateDir:         os.Getenv("CONVERSIA_STATE_DIR"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		APIAddr:          os.Getenv("API_ADDR"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		TenantsFile:      os.Getenv("CONVERSIA_TENANTS_FILE"),
		RefreshInterval:  util.ParseDurationEnv("FLOW_REFRESH_INTERVAL", DefaultRefreshInterval),
		TerminalQR:       util.ParseBoolEnv("CONVERSIA_TERMINAL_QR", false),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
	}

	if cfg.StateDir == "" {
		cfg.StateDir = whatsapp.DefaultStateDir
		slog.Debug("No CONVERSIA_STATE_DIR set, using default", "default_state_dir", cfg.StateDir)
	}

	slog.Debug("environment variables loaded",
		"CONVERSIA_STATE_DIR", cfg.StateDir,
		"DATABASE_URL_SET", cfg.DatabaseURL != "",
		"REDIS_ADDR_SET", cfg.RedisAddr != "",
		"API_ADDR", cfg.APIAddr,
		"OPENAI_API_KEY_SET", cfg.OpenAIKey != "",
		"CONVERSIA_TENANTS_FILE", cfg.TenantsFile,
		"FLOW_REFRESH_INTERVAL", cfg.RefreshInterval,
		"TWILIO_ACCOUNT_SID_SET", cfg.TwilioAccountSID != "")

	return cfg
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(cfg Config) Flags {
	flags := Flags{
		stateDir:         flag.String("state-dir", cfg.StateDir, "state directory for channel session data (overrides $CONVERSIA_STATE_DIR)"),
		dbDSN:            flag.String("db-dsn", cfg.DatabaseURL, "database DSN for tenant/flow storage (overrides $DATABASE_URL)"),
		redisAddr:        flag.String("redis-addr", cfg.RedisAddr, "Redis address for conversation state (overrides $REDIS_ADDR)"),
		apiAddr:          flag.String("api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)"),
		openaiKey:        flag.String("openai-api-key", cfg.OpenAIKey, "OpenAI API key for clarification replies (overrides $OPENAI_API_KEY)"),
		tenantsFile:      flag.String("tenants-file", cfg.TenantsFile, "YAML file with tenants to register at startup (overrides $CONVERSIA_TENANTS_FILE)"),
		refreshInterval:  flag.Duration("refresh-interval", cfg.RefreshInterval, "flow refresh sweep interval (overrides $FLOW_REFRESH_INTERVAL)"),
		terminalQR:       flag.Bool("terminal-qr", cfg.TerminalQR, "render login QR codes to stdout (overrides $CONVERSIA_TERMINAL_QR)"),
		twilioAccountSID: flag.String("twilio-account-sid", cfg.TwilioAccountSID, "Twilio account SID; enables the Twilio transport (overrides $TWILIO_ACCOUNT_SID)"),
		twilioAuthToken:  flag.String("twilio-auth-token", cfg.TwilioAuthToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:       flag.String("twilio-from", cfg.TwilioFrom, "Twilio WhatsApp sender number (overrides $TWILIO_FROM_NUMBER)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"redisAddr_set", *flags.redisAddr != "",
		"apiAddr", *flags.apiAddr,
		"openaiKeySet", *flags.openaiKey != "",
		"tenantsFile", *flags.tenantsFile,
		"refreshInterval", *flags.refreshInterval,
		"terminalQR", *flags.terminalQR,
		"twilioSet", *flags.twilioAccountSID != "")

	return flags
}

// buildWhatsAppOptions constructs session manager configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.stateDir != "" {
		waOpts = append(waOpts, whatsapp.WithStateDir(*flags.stateDir))
	}
	if *flags.terminalQR {
		waOpts = append(waOpts, whatsapp.WithTerminalQR())
	}
	return waOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.refreshInterval > 0 {
		apiOpts = append(apiOpts, api.WithRefreshInterval(*flags.refreshInterval))
	}
	if *flags.redisAddr != "" {
		apiOpts = append(apiOpts, api.WithRedisAddr(*flags.redisAddr))
	}
	if *flags.twilioAccountSID != "" {
		apiOpts = append(apiOpts, api.WithTwilio(*flags.twilioAccountSID, *flags.twilioAuthToken, *flags.twilioFrom))
	}
	if *flags.tenantsFile != "" {
		tenants, err := config.LoadTenantsFile(*flags.tenantsFile)
		if err != nil {
			slog.Error("Failed to load tenants file, continuing without bootstrap", "error", err, "path", *flags.tenantsFile)
		} else {
			apiOpts = append(apiOpts, api.WithBootstrapTenants(tenants))
		}
	}
	return apiOpts
}
