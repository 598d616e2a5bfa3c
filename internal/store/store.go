// Package store provides the entity store backends for AutiConnect.
//
// Three implementations share one contract: InMemoryStore for tests and ephemeral
// runs, SQLiteStore as the default durable store, and PostgresStore for hosted
// deployments. Single-entity mutations are atomic; cross-entity sequences such as
// creating a group and then recording the creator's membership are not.
package store

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/BTreeMap/AutiConnect/internal/models"
)

// Store is the durable entity store consumed by the flows, the moderation engine
// and the dispatcher. Lookups of absent entities return (nil, nil).
type Store interface {
	UpsertUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	UpdateUserProfile(ctx context.Context, userID string, patch models.ProfilePatch) error
	AppendInteraction(ctx context.Context, userID string, it models.Interaction) error
	TouchLastActive(ctx context.Context, userID string, at time.Time) error

	UpsertGroup(ctx context.Context, g *models.Group) error
	GetGroup(ctx context.Context, id string) (*models.Group, error)
	GetGroupByChatID(ctx context.Context, chatID string) (*models.Group, error)
	ListGroups(ctx context.Context) ([]models.Group, error)
	AddMemberToGroup(ctx context.Context, groupID, userID string) error
	UpdateGroupMediator(ctx context.Context, groupID string, enabled bool, settings models.MediatorSettings) error
	LinkGroupChat(ctx context.Context, groupID, chatID string) error

	CreateActivity(ctx context.Context, a *models.Activity) error
	GetActivity(ctx context.Context, id string) (*models.Activity, error)
	ListActivitiesByGroup(ctx context.Context, groupID string, status models.ActivityStatus) ([]models.Activity, error)
	ListActivitiesForUserGroups(ctx context.Context, userID string, status models.ActivityStatus) ([]models.Activity, error)
	UpdateActivityGuidance(ctx context.Context, activityID string, enabled bool) error

	AppendMessage(ctx context.Context, m *models.Message) error
	ListRecentMessages(ctx context.Context, q models.MessageQuery) ([]models.Message, error)
	AppendAIInteraction(ctx context.Context, r *models.AIInteraction) error

	Close() error
}

// DefaultRecentLimit is used when a MessageQuery carries no limit.
const DefaultRecentLimit = 20

// Opts holds configuration options for the SQL stores.
type Opts struct {
	DSN string
}

// Option defines a function that configures Opts.
type Option func(*Opts)

// WithDSN sets the data source name.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

var postgresKeyValue = regexp.MustCompile(`(^|\s)(host|user|dbname|password|sslmode|port)=`)

// DetectDSNType returns the database/sql driver name matching the DSN shape:
// "postgres" for URLs and key=value connection strings, "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if postgresKeyValue.MatchString(dsn) {
		return "postgres"
	}
	return "sqlite3"
}
