// Package store provides storage backends for Elicitbot.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/aoi-labs/elicitbot/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetUserSession(ctx context.Context, userID string) (*models.UserSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT doc FROM user_sessions WHERE user_id = $1`, userID)
	session, err := scanDoc[models.UserSession](row)
	if err != nil {
		slog.Error("PostgresStore GetUserSession failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get user session for %s: %w", userID, err)
	}
	return session, nil
}

func (s *PostgresStore) SaveUserSession(ctx context.Context, session *models.UserSession) error {
	doc, err := encodeDoc(session)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_sessions (user_id, doc, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`,
		session.UserID, doc)
	if err != nil {
		slog.Error("PostgresStore SaveUserSession failed", "error", err, "userID", session.UserID)
		return fmt.Errorf("failed to save user session for %s: %w", session.UserID, err)
	}
	slog.Debug("PostgresStore SaveUserSession succeeded", "userID", session.UserID, "step", session.Step)
	return nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, eventID string) (*models.EventConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT doc FROM events WHERE id = $1`, eventID)
	event, err := scanDoc[models.EventConfig](row)
	if err != nil {
		slog.Error("PostgresStore GetEvent failed", "error", err, "eventID", eventID)
		return nil, fmt.Errorf("failed to get event %s: %w", eventID, err)
	}
	return event, nil
}

func (s *PostgresStore) SaveEvent(ctx context.Context, event *models.EventConfig) error {
	doc, err := encodeDoc(event)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, doc, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`,
		event.ID, doc)
	if err != nil {
		slog.Error("PostgresStore SaveEvent failed", "error", err, "eventID", event.ID)
		return fmt.Errorf("failed to save event %s: %w", event.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListEventIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM events ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore ListEventIDs query failed", "error", err)
		return nil, fmt.Errorf("failed to query event ids: %w", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

func (s *PostgresStore) GetParticipant(ctx context.Context, eventID, userID string) (*models.Participant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT doc FROM participants WHERE event_id = $1 AND user_id = $2`, eventID, userID)
	p, err := scanDoc[models.Participant](row)
	if err != nil {
		slog.Error("PostgresStore GetParticipant failed", "error", err, "eventID", eventID, "userID", userID)
		return nil, fmt.Errorf("failed to get participant %s/%s: %w", eventID, userID, err)
	}
	return p, nil
}

func (s *PostgresStore) SaveParticipant(ctx context.Context, p *models.Participant) error {
	doc, err := encodeDoc(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO participants (event_id, user_id, doc, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (event_id, user_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`,
		p.EventID, p.UserID, doc)
	if err != nil {
		slog.Error("PostgresStore SaveParticipant failed", "error", err, "eventID", p.EventID, "userID", p.UserID)
		return fmt.Errorf("failed to save participant %s/%s: %w", p.EventID, p.UserID, err)
	}
	return nil
}

func (s *PostgresStore) ListParticipants(ctx context.Context, eventID string) ([]*models.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM participants WHERE event_id = $1 ORDER BY user_id`, eventID)
	if err != nil {
		slog.Error("PostgresStore ListParticipants query failed", "error", err, "eventID", eventID)
		return nil, fmt.Errorf("failed to query participants for %s: %w", eventID, err)
	}
	defer rows.Close()
	return collectParticipants(rows)
}

func (s *PostgresStore) TryAppendSecondRound(ctx context.Context, eventID, userID, message, reply string, now time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin second round transaction: %w", err)
	}
	defer tx.Rollback()

	// Row lock serializes concurrent webhook deliveries for the same participant.
	row := tx.QueryRowContext(ctx, `SELECT doc FROM participants WHERE event_id = $1 AND user_id = $2 FOR UPDATE`, eventID, userID)
	p, err := scanDoc[models.Participant](row)
	if err != nil {
		return false, fmt.Errorf("failed to load participant %s/%s: %w", eventID, userID, err)
	}
	if p == nil {
		p = &models.Participant{EventID: eventID, UserID: userID, CreatedAt: now}
	}
	if isDuplicateSecondRound(p.SecondRoundInteractions, message) {
		slog.Info("PostgresStore TryAppendSecondRound duplicate suppressed", "eventID", eventID, "userID", userID)
		return false, nil
	}
	appendSecondRound(p, message, reply, now)

	doc, err := encodeDoc(p)
	if err != nil {
		return false, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO participants (event_id, user_id, doc, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (event_id, user_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`,
		eventID, userID, doc)
	if err != nil {
		return false, fmt.Errorf("failed to append second round for %s/%s: %w", eventID, userID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit second round for %s/%s: %w", eventID, userID, err)
	}
	return true, nil
}

func (s *PostgresStore) GetClaimBank(ctx context.Context, collection, document string) (*models.ClaimBank, error) {
	row := s.db.QueryRowContext(ctx, `SELECT doc FROM claim_banks WHERE collection = $1 AND document = $2`, collection, document)
	bank, err := scanDoc[models.ClaimBank](row)
	if err != nil {
		slog.Error("PostgresStore GetClaimBank failed", "error", err, "collection", collection, "document", document)
		return nil, fmt.Errorf("failed to get claim bank %s/%s: %w", collection, document, err)
	}
	return bank, nil
}

func (s *PostgresStore) SaveClaimBank(ctx context.Context, bank *models.ClaimBank) error {
	doc, err := encodeDoc(bank)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO claim_banks (collection, document, doc, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (collection, document) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`,
		bank.Collection, bank.Document, doc)
	if err != nil {
		slog.Error("PostgresStore SaveClaimBank failed", "error", err, "collection", bank.Collection, "document", bank.Document)
		return fmt.Errorf("failed to save claim bank %s/%s: %w", bank.Collection, bank.Document, err)
	}
	return nil
}

func (s *PostgresStore) RecordLimitOverage(ctx context.Context, o models.LimitOverage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO limit_overages (user_id, event_id, total_interactions, limit_used, ts) VALUES ($1, $2, $3, $4, $5)`,
		o.UserID, o.EventID, o.TotalInteractions, o.LimitUsed, o.Timestamp)
	if err != nil {
		slog.Error("PostgresStore RecordLimitOverage failed", "error", err, "userID", o.UserID, "eventID", o.EventID)
		return fmt.Errorf("failed to record limit overage for %s: %w", o.UserID, err)
	}
	return nil
}

func (s *PostgresStore) ListLimitOverages(ctx context.Context, eventID string) ([]models.LimitOverage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, event_id, total_interactions, limit_used, ts FROM limit_overages
		WHERE ($1 = '' OR event_id = $1) ORDER BY ts`, eventID)
	if err != nil {
		slog.Error("PostgresStore ListLimitOverages query failed", "error", err)
		return nil, fmt.Errorf("failed to query limit overages: %w", err)
	}
	defer rows.Close()
	return collectOverages(rows)
}

func (s *PostgresStore) IsBlocked(ctx context.Context, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM blocked_numbers WHERE user_id = $1`, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("PostgresStore IsBlocked failed", "error", err, "userID", userID)
		return false, fmt.Errorf("failed to check blocklist for %s: %w", userID, err)
	}
	return true, nil
}

func (s *PostgresStore) SetBlocked(ctx context.Context, userID string, blocked bool) error {
	var err error
	if blocked {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO blocked_numbers (user_id, blocked_at) VALUES ($1, NOW())
			ON CONFLICT (user_id) DO NOTHING`, userID)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM blocked_numbers WHERE user_id = $1`, userID)
	}
	if err != nil {
		slog.Error("PostgresStore SetBlocked failed", "error", err, "userID", userID, "blocked", blocked)
		return fmt.Errorf("failed to update blocklist for %s: %w", userID, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
