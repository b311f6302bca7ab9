package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/LinePilot/internal/api"
	"github.com/BTreeMap/LinePilot/internal/carrier"
	"github.com/BTreeMap/LinePilot/internal/flow"
	"github.com/BTreeMap/LinePilot/internal/genai"
	"github.com/BTreeMap/LinePilot/internal/lockfile"
	"github.com/BTreeMap/LinePilot/internal/notify"
	"github.com/BTreeMap/LinePilot/internal/store"
	"github.com/BTreeMap/LinePilot/internal/tools"
	"github.com/BTreeMap/LinePilot/internal/util"
	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for LinePilot state data
	DefaultStateDir = "/var/lib/linepilot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "linepilot.db"
	// MemoryDSN selects the in-memory session store
	MemoryDSN = "memory"
	// DefaultSessionTTL is how long an idle session is kept
	DefaultSessionTTL = 24 * time.Hour
	// DefaultJanitorInterval is how often idle sessions are purged
	DefaultJanitorInterval = 15 * time.Minute

	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

var version = "dev"

func main() {
	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)

	closeLog := initializeLogger(config)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping LinePilot", "version", version, "transport", flags.transport)
	if err := run(ctx, flags); err != nil {
		slog.Error("LinePilot failed to run", "error", err)
		closeLog()
		os.Exit(1)
	}
	slog.Info("LinePilot exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir        string
	DatabaseURL     string
	Transport       string
	APIAddr         string
	OpenAIKey       string
	CarrierBaseURL  string
	CarrierTenantID string
	CarrierRate     float64
	ExternalTimeout time.Duration
	SessionTTL      time.Duration
	LogLevel        string
	LogFormat       string
	LogFile         string
	LogSource       bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir        string
	dbDSN           string
	transport       string
	apiAddr         string
	openaiKey       string
	carrierBaseURL  string
	carrierTenantID string
	carrierRate     float64
	externalTimeout time.Duration
	sessionTTL      time.Duration
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	envLoaded := godotenv.Load() == nil

	config := Config{
		StateDir:        os.Getenv("LINEPILOT_STATE_DIR"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		Transport:       os.Getenv("LINEPILOT_TRANSPORT"),
		APIAddr:         os.Getenv("API_ADDR"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		CarrierBaseURL:  os.Getenv("CARRIER_BASE_URL"),
		CarrierTenantID: os.Getenv("CARRIER_TENANT_ID"),
		CarrierRate:     util.ParseFloatEnv("CARRIER_RATE_LIMIT", carrier.DefaultRateLimit),
		ExternalTimeout: util.ParseDurationEnv("LINEPILOT_EXTERNAL_TIMEOUT", flow.DefaultExternalTimeout),
		SessionTTL:      util.ParseDurationEnv("LINEPILOT_SESSION_TTL", DefaultSessionTTL),
		LogLevel:        os.Getenv("LOG_LEVEL"),
		LogFormat:       os.Getenv("LOG_FORMAT"),
		LogFile:         os.Getenv("LOG_FILE"),
		LogSource:       util.ParseBoolEnv("LOG_SOURCE", false),
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.Transport == "" {
		config.Transport = TransportStdio
	}
	if config.APIAddr == "" {
		config.APIAddr = api.DefaultAddr
	}
	slog.Debug("environment variables loaded",
		"dotenv", envLoaded,
		"LINEPILOT_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"LINEPILOT_TRANSPORT", config.Transport,
		"API_ADDR", config.APIAddr,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"CARRIER_BASE_URL", config.CarrierBaseURL)
	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) Flags {
	var flags Flags
	fs.StringVar(&flags.stateDir, "state-dir", config.StateDir, "state directory for LinePilot data (overrides $LINEPILOT_STATE_DIR)")
	fs.StringVar(&flags.dbDSN, "db-dsn", config.DatabaseURL, "Postgres DSN, SQLite path or \"memory\" (overrides $DATABASE_URL; default SQLite in the state directory)")
	fs.StringVar(&flags.transport, "transport", config.Transport, "MCP transport: stdio or http (overrides $LINEPILOT_TRANSPORT)")
	fs.StringVar(&flags.apiAddr, "api-addr", config.APIAddr, "HTTP listen address for the http transport (overrides $API_ADDR)")
	fs.StringVar(&flags.openaiKey, "openai-api-key", config.OpenAIKey, "OpenAI API key for answer classification (overrides $OPENAI_API_KEY)")
	fs.StringVar(&flags.carrierBaseURL, "carrier-url", config.CarrierBaseURL, "carrier API base URL; the built-in catalog is used when empty (overrides $CARRIER_BASE_URL)")
	fs.StringVar(&flags.carrierTenantID, "carrier-tenant", config.CarrierTenantID, "carrier tenant id (overrides $CARRIER_TENANT_ID)")
	fs.Float64Var(&flags.carrierRate, "carrier-rate-limit", config.CarrierRate, "carrier requests per second, 0 for unlimited (overrides $CARRIER_RATE_LIMIT)")
	fs.DurationVar(&flags.externalTimeout, "external-timeout", config.ExternalTimeout, "timeout for each carrier call (overrides $LINEPILOT_EXTERNAL_TIMEOUT)")
	fs.DurationVar(&flags.sessionTTL, "session-ttl", config.SessionTTL, "idle time before a session is purged, 0 keeps sessions (overrides $LINEPILOT_SESSION_TTL)")
	_ = fs.Parse(args)

	if flags.dbDSN == "" {
		flags.dbDSN = filepath.Join(flags.stateDir, DefaultDBFileName)
	}
	flags.transport = strings.ToLower(strings.TrimSpace(flags.transport))

	slog.Debug("flags parsed",
		"stateDir", flags.stateDir,
		"dbDSN_set", flags.dbDSN != "",
		"transport", flags.transport,
		"apiAddr", flags.apiAddr,
		"openaiKeySet", flags.openaiKey != "",
		"carrierURL", flags.carrierBaseURL)
	return flags
}

// initializeLogger installs the default slog handler. Logs go to stderr
// because stdout carries the stdio transport. The returned func closes the
// log file, if any.
func initializeLogger(config Config) func() {
	var out io.Writer = os.Stderr
	closer := func() {}
	if config.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   config.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, rotator)
		closer = func() { _ = rotator.Close() }
	}

	opts := &slog.HandlerOptions{Level: parseLogLevel(config.LogLevel), AddSource: config.LogSource}
	var handler slog.Handler
	if strings.EqualFold(config.LogFormat, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
	return closer
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// backend is what a carrier implementation provides to the flow.
type backend interface {
	flow.Catalog
	flow.CoverageChecker
	flow.DeviceValidator
	flow.SIMSwapper
}

// run wires every module and serves until ctx is canceled.
func run(ctx context.Context, flags Flags) error {
	if flags.transport != TransportStdio && flags.transport != TransportHTTP {
		return fmt.Errorf("unknown transport %q (want %s or %s)", flags.transport, TransportStdio, TransportHTTP)
	}

	if usesStateDir(flags.dbDSN) {
		lock, err := lockfile.Acquire(flags.stateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := openStore(flags)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("run: failed to close store", "error", err)
		}
	}()
	if _, isMemory := st.(*store.MemoryStore); !isMemory && flags.sessionTTL > 0 {
		go store.NewJanitor(st, flags.sessionTTL, DefaultJanitorInterval).Run(ctx)
	}

	carrierBackend, err := buildBackend(flags)
	if err != nil {
		return err
	}
	registry := flow.NewRegistry(st)
	service := flow.NewService(registry, carrierBackend, buildServiceOptions(flags, carrierBackend)...)
	toolServer := tools.NewServer(service, version)

	slog.Debug("Final configuration", "state_dir", flags.stateDir, "store", fmt.Sprintf("%T", st), "backend", fmt.Sprintf("%T", carrierBackend))
	if flags.transport == TransportHTTP {
		return api.NewServer(toolServer, registry, st, buildAPIOptions(flags)...).Run(ctx)
	}
	if err := toolServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// usesStateDir reports whether the DSN is a SQLite file that must not be
// shared between processes.
func usesStateDir(dsn string) bool {
	return dsn != MemoryDSN && store.DetectDSNType(dsn) == "sqlite3"
}

func openStore(flags Flags) (store.Store, error) {
	opts := buildStoreOptions(flags)
	switch {
	case flags.dbDSN == MemoryDSN:
		slog.Debug("Using in-memory session store")
		return store.NewMemoryStore(opts...), nil
	case store.DetectDSNType(flags.dbDSN) == "postgres":
		return store.NewPostgresStore(opts...)
	default:
		return store.NewSQLiteStore(opts...)
	}
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	storeOpts := []store.Option{store.WithSessionTTL(flags.sessionTTL)}
	if flags.dbDSN == "" || flags.dbDSN == MemoryDSN {
		return storeOpts
	}
	if store.DetectDSNType(flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		return append(storeOpts, store.WithPostgresDSN(flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", flags.dbDSN)
	return append(storeOpts, store.WithSQLiteDSN(flags.dbDSN))
}

// buildBackend returns the carrier API client, or the built-in catalog when
// no carrier URL is configured.
func buildBackend(flags Flags) (backend, error) {
	if flags.carrierBaseURL == "" {
		slog.Info("No carrier URL configured, using the built-in catalog")
		return carrier.NewStaticCatalog(), nil
	}
	c, err := carrier.NewClient(buildCarrierOptions(flags)...)
	if err != nil {
		return nil, fmt.Errorf("carrier client: %w", err)
	}
	return c, nil
}

// buildCarrierOptions constructs carrier client options. Credentials come
// from the environment inside carrier.NewClient.
func buildCarrierOptions(flags Flags) []carrier.Option {
	opts := []carrier.Option{
		carrier.WithBaseURL(flags.carrierBaseURL),
		carrier.WithRateLimit(flags.carrierRate),
	}
	if flags.carrierTenantID != "" {
		opts = append(opts, carrier.WithTenantID(flags.carrierTenantID))
	}
	return opts
}

// buildServiceOptions wires the optional collaborators.
func buildServiceOptions(flags Flags, b backend) []flow.ServiceOption {
	opts := []flow.ServiceOption{
		flow.WithCoverageChecker(b),
		flow.WithDeviceValidator(b),
		flow.WithSIMSwapper(b),
		flow.WithExternalTimeout(flags.externalTimeout),
	}
	if flags.openaiKey != "" {
		client, err := genai.NewClient(buildGenAIOptions(flags)...)
		if err != nil {
			slog.Warn("OpenAI client unavailable, using keyword classification", "error", err)
		} else {
			opts = append(opts, flow.WithModeClassifier(genai.NewModeClassifier(client, flow.KeywordClassifier{})))
		}
	}
	if os.Getenv("TWILIO_ACCOUNT_SID") != "" {
		sender, err := notify.NewTwilioSender()
		if err != nil {
			slog.Warn("Twilio sender unavailable, order confirmations disabled", "error", err)
		} else {
			opts = append(opts, flow.WithNotifier(sender))
		}
	}
	return opts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(flags.openaiKey))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(flags.apiAddr))
	}
	return apiOpts
}
