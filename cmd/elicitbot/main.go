package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/aoi-labs/elicitbot/internal/api"
	"github.com/aoi-labs/elicitbot/internal/bot"
	"github.com/aoi-labs/elicitbot/internal/genai"
	"github.com/aoi-labs/elicitbot/internal/messaging"
	"github.com/aoi-labs/elicitbot/internal/models"
	"github.com/aoi-labs/elicitbot/internal/store"
	"github.com/aoi-labs/elicitbot/internal/twiliowhatsapp"
	"github.com/aoi-labs/elicitbot/internal/util"
	"github.com/aoi-labs/elicitbot/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for elicitbot state data
	DefaultStateDir = "/var/lib/elicitbot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "elicitbot.db"
	// ShutdownTimeout bounds graceful API server shutdown
	ShutdownTimeout = 10 * time.Second
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping elicitbot with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "use_twilio", *flags.useTwilio)
	if err := run(config, flags); err != nil {
		slog.Error("elicitbot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("elicitbot exited successfully")
}

// Config holds environment configuration
type Config struct {
	WhatsAppDSN      string
	DatabaseURL      string
	StateDir         string
	OpenAIKey        string
	APIAddr          string
	UseTwilio        bool
	InteractionLimit int
	BlocklistTTL     time.Duration
}

// Flags holds command line flag values
type Flags struct {
	qrOutput         *string
	numeric          *bool
	stateDir         *string
	dbDSN            *string
	openaiKey        *string
	apiAddr          *string
	useTwilio        *bool
	interactionLimit *int
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

	config := Config{
		WhatsAppDSN:      os.Getenv("WHATSAPP_DB_DSN"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		StateDir:         os.Getenv("ELICITBOT_STATE_DIR"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		APIAddr:          os.Getenv("API_ADDR"),
		UseTwilio:        util.ParseBoolEnv("USE_TWILIO", false),
		InteractionLimit: util.ParseIntEnv("INTERACTION_LIMIT", 0),
		BlocklistTTL:     util.ParseDurationEnv("BLOCKLIST_TTL", bot.DefaultBlocklistTTL),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No ELICITBOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("ELICITBOT_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// Default to DATABASE_URL if the WhatsApp-specific DSN is not set
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = config.DatabaseURL
		if config.DatabaseURL != "" {
			slog.Debug("Using DATABASE_URL as WHATSAPP_DB_DSN", "dsn_set", true)
		}
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.WhatsAppDSN)
	}

	slog.Debug("environment variables loaded",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"ELICITBOT_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"USE_TWILIO", config.UseTwilio,
		"INTERACTION_LIMIT", config.InteractionLimit,
		"BLOCKLIST_TTL", config.BlocklistTTL)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:         flag.String("qr-output", "", "path to write login QR code"),
		numeric:          flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:         flag.String("state-dir", config.StateDir, "state directory for elicitbot data (overrides $ELICITBOT_STATE_DIR)"),
		dbDSN:            flag.String("db-dsn", config.WhatsAppDSN, "database DSN for WhatsApp and application store (overrides $WHATSAPP_DB_DSN or $DATABASE_URL)"),
		openaiKey:        flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:          flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		useTwilio:        flag.Bool("use-twilio", config.UseTwilio, "send and receive via Twilio instead of a linked WhatsApp device (overrides $USE_TWILIO)"),
		interactionLimit: flag.Int("interaction-limit", config.InteractionLimit, "per-event interaction limit override, 0 uses each event's own limit (overrides $INTERACTION_LIMIT)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"useTwilio", *flags.useTwilio,
		"interactionLimit", *flags.interactionLimit)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.WhatsAppDSN && config.WhatsAppDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	// Ensure state directory exists if we're using a file-based DSN
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
		slog.Debug("State directory created successfully", "state_dir", stateDir)
	}
	return nil
}

// openStore opens the application store matching the configured DSN type.
func openStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.dbDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.dbDSN))
	}
	return waOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	return genaiOpts
}

// buildEngineOptions constructs bot engine configuration options
func buildEngineOptions(config Config, flags Flags, media bot.MediaFetcher) []bot.Option {
	var botOpts []bot.Option
	if *flags.interactionLimit > 0 {
		botOpts = append(botOpts, bot.WithInteractionLimit(*flags.interactionLimit))
	}
	if config.BlocklistTTL > 0 {
		botOpts = append(botOpts, bot.WithBlocklistTTL(config.BlocklistTTL))
	}
	if media != nil {
		botOpts = append(botOpts, bot.WithMediaFetcher(media))
	}
	return botOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}

// run wires the store, GenAI client, messaging transport, bot engine, and API
// server together, then blocks until shutdown.
func run(config Config, flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	gaClient, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		return err
	}

	var (
		msgService messaging.Service
		media      bot.MediaFetcher
	)
	if *flags.useTwilio {
		// Twilio delivers inbound messages through the API webhook, so no
		// response handler loop is needed on this path.
		twClient, err := twiliowhatsapp.NewClient()
		if err != nil {
			return err
		}
		twService := messaging.NewTwilioService(twClient)
		msgService = twService
		media = twService
		slog.Info("Messaging transport configured", "transport", "twilio")
	} else {
		waClient, err := whatsapp.NewClient(buildWhatsAppOptions(flags)...)
		if err != nil {
			return err
		}
		msgService = messaging.NewWhatsAppService(waClient)
		slog.Info("Messaging transport configured", "transport", "whatsapp")
	}

	if err := msgService.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := msgService.Stop(); err != nil {
			slog.Error("Failed to stop messaging service", "error", err)
		}
	}()

	engine := bot.NewEngine(st, gaClient, msgService, buildEngineOptions(config, flags, media)...)

	// The WhatsApp transport emits inbound messages on a channel; route them
	// into the engine the same way the webhook does for Twilio.
	if !*flags.useTwilio {
		handler := messaging.NewResponseHandler(msgService, func(ctx context.Context, response models.Response) error {
			res, err := engine.Dispatch(ctx, bot.Inbound{From: response.From, Body: response.Body, MediaURL: response.MediaURL})
			if err != nil {
				return err
			}
			slog.Debug("Inbound message dispatched", "from", response.From, "status", res.Status)
			return nil
		})
		handler.Start(ctx)
	}

	apiServer := api.NewServer(engine, st, gaClient, buildAPIOptions(flags)...)
	errCh := apiServer.Start()
	slog.Info("elicitbot running", "api_addr", *flags.apiAddr)

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return apiServer.Stop(shutdownCtx)
}
