package main

import (
	"flag"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/BTreeMap/AutiConnect/internal/api"
	"github.com/BTreeMap/AutiConnect/internal/flow"
	"github.com/BTreeMap/AutiConnect/internal/genai"
	"github.com/BTreeMap/AutiConnect/internal/moderation"
)

var configEnv = []string{
	"AUTICONNECT_STATE_DIR", "DATABASE_DSN", "WHATSAPP_DB_DSN", "USE_TWILIO",
	"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER", "TWILIO_PUBLIC_URL",
	"LLM_API_KEY", "OPENAI_API_KEY", "LLM_API_ENDPOINT", "LLM_MODEL", "LLM_MAX_TOKENS",
	"LLM_TEMPERATURE", "LLM_TIMEOUT", "MEDIATOR_COOLDOWN", "CONTEXT_WINDOW",
	"SUPPORT_SESSION_TTL", "FLOW_SESSION_TTL", "MODERATION_LANGUAGES",
	"ALERT_EXTRA_KEYWORDS", "SUPPORT_EXTRA_KEYWORDS", "API_ADDR",
	"SEND_RATE_PER_SECOND", "SEND_BURST", "AUTICONNECT_LOG_LEVEL",
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnv {
		t.Setenv(key, "")
	}
}

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestLoadEnvironmentConfigDefaults(t *testing.T) {
	clearConfigEnv(t)

	config := loadEnvironmentConfig()
	applyStateDirDefaults(&config)

	if config.StateDir != DefaultStateDir {
		t.Errorf("state dir = %q, want %q", config.StateDir, DefaultStateDir)
	}
	if want := filepath.Join(DefaultStateDir, DefaultAppDBFileName); config.DatabaseDSN != want {
		t.Errorf("app DSN = %q, want %q", config.DatabaseDSN, want)
	}
	if want := "file:" + filepath.Join(DefaultStateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"; config.WhatsAppDSN != want {
		t.Errorf("WhatsApp DSN = %q, want %q", config.WhatsAppDSN, want)
	}
	if config.UseTwilio {
		t.Error("Twilio should be off by default")
	}
	if config.LLMModel != genai.DefaultModel || config.LLMMaxTokens != genai.DefaultMaxTokens || config.LLMTimeout != genai.DefaultTimeout {
		t.Errorf("unexpected LLM defaults: %+v", config)
	}
	if config.MediatorCooldown != moderation.DefaultCooldown || config.ContextWindow != moderation.DefaultContextWindow {
		t.Errorf("unexpected moderation defaults: %+v", config)
	}
	if config.SupportTTL != 0 || config.FlowSessionTTL != flow.DefaultSessionTTL {
		t.Errorf("unexpected session defaults: support=%v flow=%v", config.SupportTTL, config.FlowSessionTTL)
	}
	if !reflect.DeepEqual(config.Languages, moderation.DefaultLanguages) {
		t.Errorf("languages = %v", config.Languages)
	}
	if config.APIAddr != api.DefaultServerAddress || config.SendRate != api.DefaultSendRate || config.SendBurst != api.DefaultSendBurst {
		t.Errorf("unexpected API defaults: %+v", config)
	}
}

func TestLoadEnvironmentConfigOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("AUTICONNECT_STATE_DIR", "/srv/auticonnect")
	t.Setenv("DATABASE_DSN", "postgres://bot:secret@db/auticonnect")
	t.Setenv("USE_TWILIO", "yes")
	t.Setenv("OPENAI_API_KEY", "sk-fallback")
	t.Setenv("MEDIATOR_COOLDOWN", "2m")
	t.Setenv("SUPPORT_SESSION_TTL", "24h")
	t.Setenv("CONTEXT_WINDOW", "6")
	t.Setenv("MODERATION_LANGUAGES", "en")
	t.Setenv("ALERT_EXTRA_KEYWORDS", "Emergency, SOS")
	t.Setenv("SEND_RATE_PER_SECOND", "0.5")

	config := loadEnvironmentConfig()
	applyStateDirDefaults(&config)

	if config.DatabaseDSN != "postgres://bot:secret@db/auticonnect" {
		t.Errorf("explicit DSN replaced: %q", config.DatabaseDSN)
	}
	if want := "file:/srv/auticonnect/whatsmeow.db?_foreign_keys=on"; config.WhatsAppDSN != want {
		t.Errorf("WhatsApp DSN = %q, want %q", config.WhatsAppDSN, want)
	}
	if !config.UseTwilio {
		t.Error("USE_TWILIO=yes should enable Twilio")
	}
	if config.LLMKey != "sk-fallback" {
		t.Errorf("OPENAI_API_KEY fallback not applied: %q", config.LLMKey)
	}
	if config.MediatorCooldown != 2*time.Minute || config.SupportTTL != 24*time.Hour || config.ContextWindow != 6 {
		t.Errorf("moderation overrides not applied: %+v", config)
	}
	if !reflect.DeepEqual(config.Languages, []string{"en"}) || !reflect.DeepEqual(config.ExtraAlert, []string{"emergency", "sos"}) {
		t.Errorf("keyword lists = %v / %v", config.Languages, config.ExtraAlert)
	}
	if config.SendRate != 0.5 {
		t.Errorf("send rate = %v", config.SendRate)
	}
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("API_ADDR", ":9000")

	config := loadEnvironmentConfig()
	err := parseCommandLineFlags(newFlagSet(), []string{
		"-state-dir", "/tmp/auticonnect-flags",
		"-api-addr", ":9100",
		"-twilio",
		"-log-level", "debug",
	}, &config)
	if err != nil {
		t.Fatalf("parseCommandLineFlags: %v", err)
	}
	applyStateDirDefaults(&config)

	if config.APIAddr != ":9100" {
		t.Errorf("api addr = %q", config.APIAddr)
	}
	if !config.UseTwilio || config.LogLevel != "debug" {
		t.Errorf("flags not applied: %+v", config)
	}
	if want := filepath.Join("/tmp/auticonnect-flags", DefaultAppDBFileName); config.DatabaseDSN != want {
		t.Errorf("app DSN should follow the flag state dir: got %q, want %q", config.DatabaseDSN, want)
	}
}

func TestParseCommandLineFlagsRejectsUnknown(t *testing.T) {
	clearConfigEnv(t)
	config := loadEnvironmentConfig()
	if err := parseCommandLineFlags(newFlagSet(), []string{"-no-such-flag"}, &config); err == nil {
		t.Error("expected an error for an unknown flag")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestBuildOptions(t *testing.T) {
	clearConfigEnv(t)
	config := loadEnvironmentConfig()
	applyStateDirDefaults(&config)

	if got := len(buildWhatsAppOptions(config)); got != 1 {
		t.Errorf("whatsapp options = %d, want 1 (device DSN)", got)
	}
	if got := len(buildTwilioOptions(config)); got != 0 {
		t.Errorf("twilio options without credentials = %d, want 0", got)
	}
	if got := len(buildStoreOptions(config)); got != 1 {
		t.Errorf("store options = %d, want 1", got)
	}
	if got := len(buildGenAIOptions(config)); got != 4 {
		t.Errorf("genai options without key or endpoint = %d, want 4", got)
	}
	if got := len(buildModerationOptions(config)); got != 4 {
		t.Errorf("moderation options = %d, want 4", got)
	}
	if got := len(buildAPIOptions(config)); got != 4 {
		t.Errorf("api options = %d, want 4", got)
	}

	config.UseTwilio = true
	config.TwilioSID, config.TwilioToken, config.TwilioFrom = "AC1", "token", "+14155238886"
	config.QROutput = "/tmp/qr.txt"
	config.NumericCode = true
	config.LogLevel = "debug"
	if got := len(buildTwilioOptions(config)); got != 3 {
		t.Errorf("twilio options = %d, want 3", got)
	}
	if got := len(buildAPIOptions(config)); got != 5 {
		t.Errorf("api options with Twilio = %d, want 5", got)
	}
	if got := len(buildWhatsAppOptions(config)); got != 4 {
		t.Errorf("whatsapp options = %d, want 4", got)
	}
	if transportName(config) != "twilio" {
		t.Errorf("transport = %q", transportName(config))
	}
}
