// Command AutiConnect runs the community WhatsApp bot for autistic adults and
// their facilitators.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/AutiConnect/internal/api"
	"github.com/BTreeMap/AutiConnect/internal/flow"
	"github.com/BTreeMap/AutiConnect/internal/genai"
	"github.com/BTreeMap/AutiConnect/internal/lockfile"
	"github.com/BTreeMap/AutiConnect/internal/moderation"
	"github.com/BTreeMap/AutiConnect/internal/store"
	"github.com/BTreeMap/AutiConnect/internal/twiliowhatsapp"
	"github.com/BTreeMap/AutiConnect/internal/util"
	"github.com/BTreeMap/AutiConnect/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for AutiConnect state data
	DefaultStateDir = "/var/lib/auticonnect"
	// DefaultAppDBFileName is the default SQLite entity store filename
	DefaultAppDBFileName = "auticonnect.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow device store filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	initializeLogger(os.Getenv("AUTICONNECT_LOG_LEVEL"))

	config := loadEnvironmentConfig()
	fs := flag.NewFlagSet("AutiConnect", flag.ContinueOnError)
	if err := parseCommandLineFlags(fs, args, &config); err != nil {
		return 2
	}
	initializeLogger(config.LogLevel)
	applyStateDirDefaults(&config)

	lock, err := lockfile.Acquire(config.StateDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer lock.Release()

	waOpts := buildWhatsAppOptions(config)
	twOpts := buildTwilioOptions(config)
	storeOpts := buildStoreOptions(config)
	genaiOpts := buildGenAIOptions(config)
	modOpts := buildModerationOptions(config)
	apiOpts := buildAPIOptions(config)

	slog.Info("Bootstrapping AutiConnect", "state_dir", config.StateDir, "transport", transportName(config), "api_addr", config.APIAddr)
	slog.Debug("Module options counts", "whatsapp", len(waOpts), "twilio", len(twOpts), "store", len(storeOpts), "genai", len(genaiOpts), "moderation", len(modOpts), "api", len(apiOpts))
	if err := api.Run(waOpts, twOpts, storeOpts, genaiOpts, modOpts, apiOpts); err != nil {
		slog.Error("AutiConnect failed to run", "error", err)
		return 1
	}
	slog.Info("AutiConnect exited successfully")
	return 0
}

// Config holds the merged environment and flag configuration.
type Config struct {
	StateDir    string
	DatabaseDSN string
	WhatsAppDSN string
	QROutput    string
	NumericCode bool

	UseTwilio       bool
	TwilioSID       string
	TwilioToken     string
	TwilioFrom      string
	TwilioPublicURL string

	LLMKey         string
	LLMEndpoint    string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeout     time.Duration

	MediatorCooldown time.Duration
	ContextWindow    int
	SupportTTL       time.Duration
	FlowSessionTTL   time.Duration
	Languages        []string
	ExtraAlert       []string
	ExtraSupport     []string

	APIAddr   string
	SendRate  float64
	SendBurst int
	LogLevel  string
}

// initializeLogger installs a text slog handler on stderr at the named level.
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:    os.Getenv("AUTICONNECT_STATE_DIR"),
		DatabaseDSN: os.Getenv("DATABASE_DSN"),
		WhatsAppDSN: os.Getenv("WHATSAPP_DB_DSN"),

		UseTwilio:       util.ParseBoolEnv("USE_TWILIO", false),
		TwilioSID:       os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:      os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioPublicURL: os.Getenv("TWILIO_PUBLIC_URL"),

		LLMKey:         os.Getenv("LLM_API_KEY"),
		LLMEndpoint:    os.Getenv("LLM_API_ENDPOINT"),
		LLMModel:       os.Getenv("LLM_MODEL"),
		LLMMaxTokens:   util.ParseIntEnv("LLM_MAX_TOKENS", genai.DefaultMaxTokens),
		LLMTemperature: util.ParseFloatEnv("LLM_TEMPERATURE", genai.DefaultTemperature),
		LLMTimeout:     util.ParseDurationEnv("LLM_TIMEOUT", genai.DefaultTimeout),

		MediatorCooldown: util.ParseDurationEnv("MEDIATOR_COOLDOWN", moderation.DefaultCooldown),
		ContextWindow:    util.ParseIntEnv("CONTEXT_WINDOW", moderation.DefaultContextWindow),
		SupportTTL:       util.ParseDurationEnv("SUPPORT_SESSION_TTL", 0),
		FlowSessionTTL:   util.ParseDurationEnv("FLOW_SESSION_TTL", flow.DefaultSessionTTL),
		Languages:        util.ParseListEnv("MODERATION_LANGUAGES", moderation.DefaultLanguages),
		ExtraAlert:       util.ParseListEnv("ALERT_EXTRA_KEYWORDS", nil),
		ExtraSupport:     util.ParseListEnv("SUPPORT_EXTRA_KEYWORDS", nil),

		APIAddr:   os.Getenv("API_ADDR"),
		SendRate:  util.ParseFloatEnv("SEND_RATE_PER_SECOND", api.DefaultSendRate),
		SendBurst: util.ParseIntEnv("SEND_BURST", api.DefaultSendBurst),
		LogLevel:  os.Getenv("AUTICONNECT_LOG_LEVEL"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.LLMKey == "" {
		config.LLMKey = os.Getenv("OPENAI_API_KEY")
	}
	if config.LLMModel == "" {
		config.LLMModel = genai.DefaultModel
	}
	if config.APIAddr == "" {
		config.APIAddr = api.DefaultServerAddress
	}

	slog.Debug("environment variables loaded",
		"AUTICONNECT_STATE_DIR", config.StateDir,
		"DATABASE_DSN_SET", config.DatabaseDSN != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"USE_TWILIO", config.UseTwilio,
		"LLM_API_KEY_SET", config.LLMKey != "",
		"LLM_MODEL", config.LLMModel,
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags overrides config with any flags given in args.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config *Config) error {
	fs.StringVar(&config.StateDir, "state-dir", config.StateDir, "state directory for AutiConnect data (overrides $AUTICONNECT_STATE_DIR)")
	fs.StringVar(&config.DatabaseDSN, "db-dsn", config.DatabaseDSN, "entity store DSN, SQLite path or Postgres URL (overrides $DATABASE_DSN)")
	fs.StringVar(&config.WhatsAppDSN, "whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&config.QROutput, "qr-output", config.QROutput, "path to write the login QR code")
	fs.BoolVar(&config.NumericCode, "numeric-code", config.NumericCode, "print the pairing code instead of a QR code")
	fs.BoolVar(&config.UseTwilio, "twilio", config.UseTwilio, "use Twilio instead of a linked WhatsApp device (overrides $USE_TWILIO)")
	fs.StringVar(&config.LLMKey, "llm-api-key", config.LLMKey, "mediator LLM API key (overrides $LLM_API_KEY)")
	fs.StringVar(&config.LLMModel, "llm-model", config.LLMModel, "mediator LLM model (overrides $LLM_MODEL)")
	fs.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "HTTP server address (overrides $API_ADDR)")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "debug, info, warn or error (overrides $AUTICONNECT_LOG_LEVEL)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	slog.Debug("flags parsed",
		"stateDir", config.StateDir,
		"dbDSN_set", config.DatabaseDSN != "",
		"whatsappDSN_set", config.WhatsAppDSN != "",
		"twilio", config.UseTwilio,
		"apiAddr", config.APIAddr)
	return nil
}

// applyStateDirDefaults places unset databases inside the final state directory.
func applyStateDirDefaults(config *Config) {
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
		slog.Debug("No DATABASE_DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseDSN)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = "file:" + filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
}

func transportName(config Config) string {
	if config.UseTwilio {
		return "twilio"
	}
	return "whatsapp"
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(config Config) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if config.WhatsAppDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(config.WhatsAppDSN))
	}
	if config.QROutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(config.QROutput))
	}
	if config.NumericCode {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if parseLogLevel(config.LogLevel) == slog.LevelDebug {
		waOpts = append(waOpts, whatsapp.WithLogLevel("DEBUG"))
	}
	return waOpts
}

// buildTwilioOptions constructs Twilio configuration options
func buildTwilioOptions(config Config) []twiliowhatsapp.Option {
	var twOpts []twiliowhatsapp.Option
	if config.TwilioSID != "" {
		twOpts = append(twOpts, twiliowhatsapp.WithAccountSID(config.TwilioSID))
	}
	if config.TwilioToken != "" {
		twOpts = append(twOpts, twiliowhatsapp.WithAuthToken(config.TwilioToken))
	}
	if config.TwilioFrom != "" {
		twOpts = append(twOpts, twiliowhatsapp.WithFromWhats(config.TwilioFrom))
	}
	return twOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(config Config) []store.Option {
	var storeOpts []store.Option
	if config.DatabaseDSN != "" {
		slog.Debug("Configuring entity store", "dsn_type", store.DetectDSNType(config.DatabaseDSN))
		storeOpts = append(storeOpts, store.WithDSN(config.DatabaseDSN))
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(config Config) []genai.Option {
	var genaiOpts []genai.Option
	if config.LLMKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(config.LLMKey))
	}
	if config.LLMEndpoint != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(config.LLMEndpoint))
	}
	genaiOpts = append(genaiOpts,
		genai.WithModel(config.LLMModel),
		genai.WithMaxTokens(int64(config.LLMMaxTokens)),
		genai.WithTemperature(config.LLMTemperature),
		genai.WithTimeout(config.LLMTimeout),
	)
	return genaiOpts
}

// buildModerationOptions constructs moderation engine options
func buildModerationOptions(config Config) []moderation.Option {
	return []moderation.Option{
		moderation.WithCooldown(config.MediatorCooldown),
		moderation.WithOracleTimeout(config.LLMTimeout),
		moderation.WithSupportTTL(config.SupportTTL),
		moderation.WithContextWindow(config.ContextWindow),
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(config Config) []api.Option {
	apiOpts := []api.Option{
		api.WithAddr(config.APIAddr),
		api.WithSendRate(config.SendRate, config.SendBurst),
		api.WithFlowSessionTTL(config.FlowSessionTTL),
		api.WithVocabulary(config.Languages, config.ExtraSupport, config.ExtraAlert),
	}
	if config.UseTwilio {
		apiOpts = append(apiOpts, api.WithTwilio(config.TwilioPublicURL))
	}
	return apiOpts
}
