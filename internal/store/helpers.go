package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aoi-labs/elicitbot/internal/models"
)

// encodeDoc marshals a document for storage in a doc column.
func encodeDoc(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}
	return string(raw), nil
}

// scanDoc scans a single doc column into T, mapping sql.ErrNoRows to (nil, nil).
func scanDoc[T any](row *sql.Row) (*T, error) {
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return &v, nil
}

// collectIDs drains a single-column id result set.
func collectIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate id rows: %w", err)
	}
	return ids, nil
}

// collectParticipants drains a participants doc result set.
func collectParticipants(rows *sql.Rows) ([]*models.Participant, error) {
	var out []*models.Participant
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan participant row: %w", err)
		}
		var p models.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("failed to decode participant document: %w", err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participant rows: %w", err)
	}
	return out, nil
}

// collectOverages drains a limit_overages result set.
func collectOverages(rows *sql.Rows) ([]models.LimitOverage, error) {
	var out []models.LimitOverage
	for rows.Next() {
		var o models.LimitOverage
		if err := rows.Scan(&o.UserID, &o.EventID, &o.TotalInteractions, &o.LimitUsed, &o.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan limit overage row: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate limit overage rows: %w", err)
	}
	return out, nil
}
