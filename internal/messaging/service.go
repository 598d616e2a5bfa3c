package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/BTreeMap/AutiConnect/internal/models"
	"golang.org/x/time/rate"
)

// Service defines a pluggable message delivery abstraction.
// It supports sending messages and menus, and provides a channel of inbound events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// SendMenu sends a prompt with selectable options. A later reply choosing
	// one of them arrives on Events as a callback event.
	SendMenu(ctx context.Context, to string, body string, buttons []models.Button) error

	// Start begins any background processing (e.g., listening for messages).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the event channel.
	Stop() error

	// Events returns a channel of inbound messages, commands and selections.
	Events() <-chan models.Event
}

// ErrServiceStopped is returned by sends after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

const (
	// DefaultChannelBufferSize defines the default buffer size for the event channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines how long an inbound event may wait for room in the channel
	DefaultChannelTimeout = 1 * time.Second
)

// phoneNumberRegex matches everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// canonicalPhone strips formatting from a phone number and requires at least 6 digits.
func canonicalPhone(recipient string) (string, error) {
	if strings.TrimSpace(recipient) == "" {
		return "", models.ErrEmptyRecipient
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	if canonical != recipient {
		slog.Debug("messaging.canonicalPhone: canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Pacer spaces outbound sends with a token bucket shared by every send of a transport.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer allows perSecond sends on average with bursts of up to burst.
// A non-positive rate disables pacing.
func NewPacer(perSecond float64, burst int) *Pacer {
	if perSecond <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until a send is allowed or ctx ends. A nil Pacer never waits.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

// Opts configures a transport.
type Opts struct {
	BufferSize int
	Pacer      *Pacer
	Now        func() time.Time
}

// Option defines a configuration option for a transport.
type Option func(*Opts)

// WithBufferSize sets the capacity of the event channel.
func WithBufferSize(n int) Option {
	return func(o *Opts) { o.BufferSize = n }
}

// WithSendRate paces outbound sends.
func WithSendRate(perSecond float64, burst int) Option {
	return func(o *Opts) { o.Pacer = NewPacer(perSecond, burst) }
}

// WithPacer shares an existing pacer.
func WithPacer(p *Pacer) Option {
	return func(o *Opts) { o.Pacer = p }
}

// WithClock overrides the clock used to stamp webhook events.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

func resolveOpts(opts ...Option) Opts {
	cfg := Opts{BufferSize: DefaultChannelBufferSize, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultChannelBufferSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}
