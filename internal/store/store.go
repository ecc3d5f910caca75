// Package store provides storage backends for Elicitbot.
//
// It persists user sessions, event configurations, participant records, claim
// banks, the moderation overage log, and the blocklist. Three implementations
// are provided: SQLite, PostgreSQL, and an in-memory store for tests. All
// documents are stored as JSON blobs keyed by their natural identifiers, so
// the schema stays stable as the document shapes evolve.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/aoi-labs/elicitbot/internal/models"
)

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option defines a functional option for configuring stores.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType inspects a DSN and reports the matching SQL driver name,
// "postgres" or "sqlite3". Anything that does not look like a Postgres
// connection string is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	// Key=value style Postgres DSNs, e.g. "host=localhost dbname=elicitbot".
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// Store defines the persistence operations the bot engine depends on.
// Lookup methods return (nil, nil) when the requested document does not exist.
type Store interface {
	// User sessions, keyed by normalized contact address.
	GetUserSession(ctx context.Context, userID string) (*models.UserSession, error)
	SaveUserSession(ctx context.Context, session *models.UserSession) error

	// Event configurations.
	GetEvent(ctx context.Context, eventID string) (*models.EventConfig, error)
	SaveEvent(ctx context.Context, event *models.EventConfig) error
	ListEventIDs(ctx context.Context) ([]string, error)

	// Participant records, keyed by (event, user).
	GetParticipant(ctx context.Context, eventID, userID string) (*models.Participant, error)
	SaveParticipant(ctx context.Context, p *models.Participant) error
	ListParticipants(ctx context.Context, eventID string) ([]*models.Participant, error)

	// TryAppendSecondRound atomically appends a second-round exchange to the
	// participant record unless the incoming message is a duplicate of the
	// most recent recorded user message after normalization. It returns true
	// when the exchange was appended and false when the duplicate was
	// suppressed. A reply of "" appends only the user message.
	TryAppendSecondRound(ctx context.Context, eventID, userID, message, reply string, now time.Time) (bool, error)

	// Claim banks for second-round deliberation.
	GetClaimBank(ctx context.Context, collection, document string) (*models.ClaimBank, error)
	SaveClaimBank(ctx context.Context, bank *models.ClaimBank) error

	// Moderation log for interaction-limit breaches.
	RecordLimitOverage(ctx context.Context, o models.LimitOverage) error
	ListLimitOverages(ctx context.Context, eventID string) ([]models.LimitOverage, error)

	// Blocklist.
	IsBlocked(ctx context.Context, userID string) (bool, error)
	SetBlocked(ctx context.Context, userID string, blocked bool) error

	Close() error
}

// isDuplicateSecondRound reports whether msg repeats the most recent user
// message in the second-round history after normalization.
func isDuplicateSecondRound(interactions []models.Interaction, msg string) bool {
	for i := len(interactions) - 1; i >= 0; i-- {
		if interactions[i].Message != "" {
			return models.NormalizeMessage(interactions[i].Message) == models.NormalizeMessage(msg)
		}
	}
	return false
}

// appendSecondRound appends the user message and optional reply with a shared
// timestamp.
func appendSecondRound(p *models.Participant, msg, reply string, now time.Time) {
	p.SecondRoundInteractions = append(p.SecondRoundInteractions, models.Interaction{Message: msg, Timestamp: now})
	if reply != "" {
		p.SecondRoundInteractions = append(p.SecondRoundInteractions, models.Interaction{Response: reply, Timestamp: now})
	}
	p.UpdatedAt = now
}
