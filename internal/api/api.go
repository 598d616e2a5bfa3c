// Package api wires the AutiConnect bot together and serves its small HTTP surface.
//
// Run opens the entity store, connects the chat transport, builds the flow and
// moderation engines, feeds transport events to the dispatcher and serves
// health, stats, group listing and (for Twilio) the inbound webhook until the
// process is signalled.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/AutiConnect/internal/bot"
	"github.com/BTreeMap/AutiConnect/internal/flow"
	"github.com/BTreeMap/AutiConnect/internal/genai"
	"github.com/BTreeMap/AutiConnect/internal/messaging"
	"github.com/BTreeMap/AutiConnect/internal/moderation"
	"github.com/BTreeMap/AutiConnect/internal/store"
	"github.com/BTreeMap/AutiConnect/internal/twiliowhatsapp"
	"github.com/BTreeMap/AutiConnect/internal/whatsapp"
)

// Default configuration values for the server.
const (
	DefaultServerAddress   = ":8080"
	DefaultSendRate        = 1.0
	DefaultSendBurst       = 5
	DefaultShutdownTimeout = 10 * time.Second
	DefaultReadTimeout     = 15 * time.Second
	DefaultHealthTimeout   = 5 * time.Second
	TwilioWebhookPath      = "/twilio/webhook"
)

// Opts holds configuration options for the API server and the wiring around it.
type Opts struct {
	Addr           string
	UseTwilio      bool
	PublicURL      string // externally visible base URL, enables Twilio signature checks
	SendRate       float64
	SendBurst      int
	FlowSessionTTL time.Duration
	Languages      []string
	ExtraSupport   []string
	ExtraAlert     []string
	OutboxPoll     time.Duration
}

// Option defines a function that configures Opts.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTwilio selects Twilio as the chat transport. A non-empty publicURL makes
// the webhook verify request signatures against it.
func WithTwilio(publicURL string) Option {
	return func(o *Opts) {
		o.UseTwilio = true
		o.PublicURL = publicURL
	}
}

// WithSendRate paces outbound messages.
func WithSendRate(perSecond float64, burst int) Option {
	return func(o *Opts) {
		o.SendRate = perSecond
		o.SendBurst = burst
	}
}

// WithFlowSessionTTL sets how long an idle conversation flow survives.
func WithFlowSessionTTL(d time.Duration) Option {
	return func(o *Opts) { o.FlowSessionTTL = d }
}

// WithVocabulary selects keyword languages and extra support and alert keywords.
func WithVocabulary(languages, extraSupport, extraAlert []string) Option {
	return func(o *Opts) {
		o.Languages = languages
		o.ExtraSupport = extraSupport
		o.ExtraAlert = extraAlert
	}
}

// WithOutboxPoll sets the alert outbox polling interval.
func WithOutboxPoll(d time.Duration) Option {
	return func(o *Opts) { o.OutboxPoll = d }
}

func resolveOpts(opts ...Option) Opts {
	cfg := Opts{
		Addr:           DefaultServerAddress,
		SendRate:       DefaultSendRate,
		SendBurst:      DefaultSendBurst,
		FlowSessionTTL: flow.DefaultSessionTTL,
		Languages:      moderation.DefaultLanguages,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultServerAddress
	}
	return cfg
}

// Run bootstraps every component and blocks until SIGINT/SIGTERM or a server error.
func Run(waOpts []whatsapp.Option, twOpts []twiliowhatsapp.Option, storeOpts []store.Option, genaiOpts []genai.Option, modOpts []moderation.Option, apiOpts []Option) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := resolveOpts(apiOpts...)
	slog.Debug("api.Run: options resolved", "addr", cfg.Addr, "use_twilio", cfg.UseTwilio, "send_rate", cfg.SendRate, "send_burst", cfg.SendBurst)

	st, err := openStore(storeOpts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("api.Run: failed to close store", "error", err)
		}
	}()

	svc, webhook, closeTransport, err := openTransport(ctx, cfg, waOpts, twOpts)
	if err != nil {
		return err
	}
	defer closeTransport()

	policy, err := moderation.NewPolicy(cfg.Languages, cfg.ExtraSupport, cfg.ExtraAlert)
	if err != nil {
		return fmt.Errorf("failed to build moderation policy: %w", err)
	}

	flows := flow.NewEngine(flow.NewSessionStore(cfg.FlowSessionTTL), svc, flow.Definitions(flow.Deps{Store: st, Sender: svc})...)
	mod := moderation.NewEngine(st, newOracle(genaiOpts...), svc, newNotifier(ctx, st, svc, cfg.OutboxPoll), policy, modOpts...)

	var dispatchOpts []bot.Option
	if dedup, ok := st.(store.DedupRepo); ok {
		dispatchOpts = append(dispatchOpts, bot.WithDedup(dedup))
	}
	dispatcher := bot.NewDispatcher(st, flows, mod, svc, dispatchOpts...)

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	go dispatcher.Run(ctx, svc.Events())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewServer(st, flows, mod, webhook).Handler(),
		ReadHeaderTimeout: DefaultReadTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("api.Run: HTTP server listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		slog.Info("api.Run: shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			slog.Error("api.Run: HTTP server failed", "error", err)
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("api.Run: HTTP shutdown incomplete", "error", err)
	}
	return nil
}

// openStore picks the backend from the DSN: none means in-memory, otherwise
// the DSN shape selects SQLite or Postgres.
func openStore(opts ...store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Warn("api.openStore: no database DSN, using in-memory store; data is lost on exit")
		return store.NewInMemoryStore(), nil
	}
	switch store.DetectDSNType(cfg.DSN) {
	case "postgres":
		slog.Debug("api.openStore: using PostgreSQL store")
		st, err := store.NewPostgresStore(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return st, nil
	default:
		slog.Debug("api.openStore: using SQLite store")
		st, err := store.NewSQLiteStore(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return st, nil
	}
}

// openTransport connects WhatsApp (whatsmeow) or Twilio. The returned handler
// is the Twilio webhook, nil for WhatsApp.
func openTransport(ctx context.Context, cfg Opts, waOpts []whatsapp.Option, twOpts []twiliowhatsapp.Option) (messaging.Service, http.Handler, func(), error) {
	msgOpts := []messaging.Option{messaging.WithSendRate(cfg.SendRate, cfg.SendBurst)}

	if cfg.UseTwilio {
		client, err := twiliowhatsapp.NewClient(twOpts...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(client, msgOpts...)
		if cfg.PublicURL != "" {
			svc.RequireSignature(client.Validator(), cfg.PublicURL)
		} else {
			slog.Warn("api.openTransport: no public URL configured, Twilio webhook signatures are not verified")
		}
		closer := func() {
			if err := svc.Stop(); err != nil {
				slog.Error("api.openTransport: failed to stop Twilio service", "error", err)
			}
		}
		return svc, http.HandlerFunc(svc.WebhookHandler), closer, nil
	}

	client, err := whatsapp.NewClient(ctx, waOpts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
	}
	svc := messaging.NewWhatsAppService(client, msgOpts...)
	closer := func() {
		if err := svc.Stop(); err != nil {
			slog.Error("api.openTransport: failed to stop WhatsApp service", "error", err)
		}
		client.Disconnect()
	}
	return svc, nil, closer, nil
}

// newOracle returns nil when no API key is configured; the moderation engine
// then answers with its fallback text.
func newOracle(opts ...genai.Option) moderation.Oracle {
	client, err := genai.NewClient(opts...)
	if err != nil {
		if errors.Is(err, genai.ErrMissingAPIKey) {
			slog.Warn("api.newOracle: no LLM API key, mediator replies use the fallback text")
		} else {
			slog.Error("api.newOracle: failed to create GenAI client", "error", err)
		}
		return nil
	}
	return client
}

// newNotifier delivers alerts through the durable outbox when the store has
// one, starting its background sender; otherwise alerts go out directly.
func newNotifier(ctx context.Context, st store.Store, sender moderation.Sender, poll time.Duration) moderation.Notifier {
	repo, ok := st.(store.OutboxRepo)
	if !ok {
		return moderation.NewDirectNotifier(sender)
	}
	outbox := store.NewOutboxSender(repo, moderation.DeliverOutbox(sender), poll)
	if err := outbox.RecoverStaleMessages(ctx); err != nil {
		slog.Error("api.newNotifier: failed to recover stale outbox messages", "error", err)
	}
	go outbox.Run(ctx)
	return moderation.NewOutboxNotifier(repo)
}
