// Package store provides storage backends for Elicitbot.
//
// This file implements the SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/aoi-labs/elicitbot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetUserSession(ctx context.Context, userID string) (*models.UserSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT doc FROM user_sessions WHERE user_id = ?`, userID)
	session, err := scanDoc[models.UserSession](row)
	if err != nil {
		slog.Error("SQLiteStore GetUserSession failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get user session for %s: %w", userID, err)
	}
	return session, nil
}

func (s *SQLiteStore) SaveUserSession(ctx context.Context, session *models.UserSession) error {
	doc, err := encodeDoc(session)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_sessions (user_id, doc, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET doc = excluded.doc, updated_at = CURRENT_TIMESTAMP`,
		session.UserID, doc)
	if err != nil {
		slog.Error("SQLiteStore SaveUserSession failed", "error", err, "userID", session.UserID)
		return fmt.Errorf("failed to save user session for %s: %w", session.UserID, err)
	}
	slog.Debug("SQLiteStore SaveUserSession succeeded", "userID", session.UserID, "step", session.Step)
	return nil
}

func (s *SQLiteStore) GetEvent(ctx context.Context, eventID string) (*models.EventConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT doc FROM events WHERE id = ?`, eventID)
	event, err := scanDoc[models.EventConfig](row)
	if err != nil {
		slog.Error("SQLiteStore GetEvent failed", "error", err, "eventID", eventID)
		return nil, fmt.Errorf("failed to get event %s: %w", eventID, err)
	}
	return event, nil
}

func (s *SQLiteStore) SaveEvent(ctx context.Context, event *models.EventConfig) error {
	doc, err := encodeDoc(event)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, doc, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = CURRENT_TIMESTAMP`,
		event.ID, doc)
	if err != nil {
		slog.Error("SQLiteStore SaveEvent failed", "error", err, "eventID", event.ID)
		return fmt.Errorf("failed to save event %s: %w", event.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListEventIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM events ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore ListEventIDs query failed", "error", err)
		return nil, fmt.Errorf("failed to query event ids: %w", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

func (s *SQLiteStore) GetParticipant(ctx context.Context, eventID, userID string) (*models.Participant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT doc FROM participants WHERE event_id = ? AND user_id = ?`, eventID, userID)
	p, err := scanDoc[models.Participant](row)
	if err != nil {
		slog.Error("SQLiteStore GetParticipant failed", "error", err, "eventID", eventID, "userID", userID)
		return nil, fmt.Errorf("failed to get participant %s/%s: %w", eventID, userID, err)
	}
	return p, nil
}

func (s *SQLiteStore) SaveParticipant(ctx context.Context, p *models.Participant) error {
	doc, err := encodeDoc(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO participants (event_id, user_id, doc, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(event_id, user_id) DO UPDATE SET doc = excluded.doc, updated_at = CURRENT_TIMESTAMP`,
		p.EventID, p.UserID, doc)
	if err != nil {
		slog.Error("SQLiteStore SaveParticipant failed", "error", err, "eventID", p.EventID, "userID", p.UserID)
		return fmt.Errorf("failed to save participant %s/%s: %w", p.EventID, p.UserID, err)
	}
	return nil
}

func (s *SQLiteStore) ListParticipants(ctx context.Context, eventID string) ([]*models.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM participants WHERE event_id = ? ORDER BY user_id`, eventID)
	if err != nil {
		slog.Error("SQLiteStore ListParticipants query failed", "error", err, "eventID", eventID)
		return nil, fmt.Errorf("failed to query participants for %s: %w", eventID, err)
	}
	defer rows.Close()
	return collectParticipants(rows)
}

func (s *SQLiteStore) TryAppendSecondRound(ctx context.Context, eventID, userID, message, reply string, now time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin second round transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT doc FROM participants WHERE event_id = ? AND user_id = ?`, eventID, userID)
	p, err := scanDoc[models.Participant](row)
	if err != nil {
		return false, fmt.Errorf("failed to load participant %s/%s: %w", eventID, userID, err)
	}
	if p == nil {
		p = &models.Participant{EventID: eventID, UserID: userID, CreatedAt: now}
	}
	if isDuplicateSecondRound(p.SecondRoundInteractions, message) {
		slog.Info("SQLiteStore TryAppendSecondRound duplicate suppressed", "eventID", eventID, "userID", userID)
		return false, nil
	}
	appendSecondRound(p, message, reply, now)

	doc, err := encodeDoc(p)
	if err != nil {
		return false, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO participants (event_id, user_id, doc, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(event_id, user_id) DO UPDATE SET doc = excluded.doc, updated_at = CURRENT_TIMESTAMP`,
		eventID, userID, doc)
	if err != nil {
		return false, fmt.Errorf("failed to append second round for %s/%s: %w", eventID, userID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit second round for %s/%s: %w", eventID, userID, err)
	}
	return true, nil
}

func (s *SQLiteStore) GetClaimBank(ctx context.Context, collection, document string) (*models.ClaimBank, error) {
	row := s.db.QueryRowContext(ctx, `SELECT doc FROM claim_banks WHERE collection = ? AND document = ?`, collection, document)
	bank, err := scanDoc[models.ClaimBank](row)
	if err != nil {
		slog.Error("SQLiteStore GetClaimBank failed", "error", err, "collection", collection, "document", document)
		return nil, fmt.Errorf("failed to get claim bank %s/%s: %w", collection, document, err)
	}
	return bank, nil
}

func (s *SQLiteStore) SaveClaimBank(ctx context.Context, bank *models.ClaimBank) error {
	doc, err := encodeDoc(bank)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO claim_banks (collection, document, doc, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(collection, document) DO UPDATE SET doc = excluded.doc, updated_at = CURRENT_TIMESTAMP`,
		bank.Collection, bank.Document, doc)
	if err != nil {
		slog.Error("SQLiteStore SaveClaimBank failed", "error", err, "collection", bank.Collection, "document", bank.Document)
		return fmt.Errorf("failed to save claim bank %s/%s: %w", bank.Collection, bank.Document, err)
	}
	return nil
}

func (s *SQLiteStore) RecordLimitOverage(ctx context.Context, o models.LimitOverage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO limit_overages (user_id, event_id, total_interactions, limit_used, ts) VALUES (?, ?, ?, ?, ?)`,
		o.UserID, o.EventID, o.TotalInteractions, o.LimitUsed, o.Timestamp)
	if err != nil {
		slog.Error("SQLiteStore RecordLimitOverage failed", "error", err, "userID", o.UserID, "eventID", o.EventID)
		return fmt.Errorf("failed to record limit overage for %s: %w", o.UserID, err)
	}
	return nil
}

func (s *SQLiteStore) ListLimitOverages(ctx context.Context, eventID string) ([]models.LimitOverage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, event_id, total_interactions, limit_used, ts FROM limit_overages
		WHERE (? = '' OR event_id = ?) ORDER BY ts`, eventID, eventID)
	if err != nil {
		slog.Error("SQLiteStore ListLimitOverages query failed", "error", err)
		return nil, fmt.Errorf("failed to query limit overages: %w", err)
	}
	defer rows.Close()
	return collectOverages(rows)
}

func (s *SQLiteStore) IsBlocked(ctx context.Context, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM blocked_numbers WHERE user_id = ?`, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore IsBlocked failed", "error", err, "userID", userID)
		return false, fmt.Errorf("failed to check blocklist for %s: %w", userID, err)
	}
	return true, nil
}

func (s *SQLiteStore) SetBlocked(ctx context.Context, userID string, blocked bool) error {
	var err error
	if blocked {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO blocked_numbers (user_id, blocked_at) VALUES (?, CURRENT_TIMESTAMP)
			ON CONFLICT(user_id) DO NOTHING`, userID)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM blocked_numbers WHERE user_id = ?`, userID)
	}
	if err != nil {
		slog.Error("SQLiteStore SetBlocked failed", "error", err, "userID", userID, "blocked", blocked)
		return fmt.Errorf("failed to update blocklist for %s: %w", userID, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
