// Package store provides storage backends for Elicitbot.
//
// This file implements an in-memory store used in tests and local development.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aoi-labs/elicitbot/internal/models"
)

// InMemoryStore is a mutex-guarded map-backed store. Documents are copied via
// JSON round trips so callers never share memory with the store.
type InMemoryStore struct {
	mu        sync.Mutex
	sessions  map[string][]byte
	events    map[string][]byte
	parts     map[string][]byte
	banks     map[string][]byte
	overages  []models.LimitOverage
	blocked   map[string]bool
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string][]byte),
		events:   make(map[string][]byte),
		parts:    make(map[string][]byte),
		banks:    make(map[string][]byte),
		blocked:  make(map[string]bool),
	}
}

func participantKey(eventID, userID string) string {
	return eventID + "/" + userID
}

func bankKey(collection, document string) string {
	return collection + "/" + document
}

func getDoc[T any](m map[string][]byte, key string) (*T, error) {
	raw, ok := m[key]
	if !ok {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to decode stored document %s: %w", key, err)
	}
	return &v, nil
}

func putDoc(m map[string][]byte, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", key, err)
	}
	m[key] = raw
	return nil
}

func (s *InMemoryStore) GetUserSession(_ context.Context, userID string) (*models.UserSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getDoc[models.UserSession](s.sessions, userID)
}

func (s *InMemoryStore) SaveUserSession(_ context.Context, session *models.UserSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putDoc(s.sessions, session.UserID, session)
}

func (s *InMemoryStore) GetEvent(_ context.Context, eventID string) (*models.EventConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getDoc[models.EventConfig](s.events, eventID)
}

func (s *InMemoryStore) SaveEvent(_ context.Context, event *models.EventConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putDoc(s.events, event.ID, event)
}

func (s *InMemoryStore) ListEventIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.events))
	for id := range s.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *InMemoryStore) GetParticipant(_ context.Context, eventID, userID string) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getDoc[models.Participant](s.parts, participantKey(eventID, userID))
}

func (s *InMemoryStore) SaveParticipant(_ context.Context, p *models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putDoc(s.parts, participantKey(p.EventID, p.UserID), p)
}

func (s *InMemoryStore) ListParticipants(_ context.Context, eventID string) ([]*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key := range s.parts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var out []*models.Participant
	for _, key := range keys {
		p, err := getDoc[models.Participant](s.parts, key)
		if err != nil {
			return nil, err
		}
		if p.EventID == eventID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *InMemoryStore) TryAppendSecondRound(_ context.Context, eventID, userID, message, reply string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := participantKey(eventID, userID)
	p, err := getDoc[models.Participant](s.parts, key)
	if err != nil {
		return false, err
	}
	if p == nil {
		p = &models.Participant{EventID: eventID, UserID: userID, CreatedAt: now}
	}
	if isDuplicateSecondRound(p.SecondRoundInteractions, message) {
		return false, nil
	}
	appendSecondRound(p, message, reply, now)
	if err := putDoc(s.parts, key, p); err != nil {
		return false, err
	}
	return true, nil
}

func (s *InMemoryStore) GetClaimBank(_ context.Context, collection, document string) (*models.ClaimBank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getDoc[models.ClaimBank](s.banks, bankKey(collection, document))
}

func (s *InMemoryStore) SaveClaimBank(_ context.Context, bank *models.ClaimBank) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putDoc(s.banks, bankKey(bank.Collection, bank.Document), bank)
}

func (s *InMemoryStore) RecordLimitOverage(_ context.Context, o models.LimitOverage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overages = append(s.overages, o)
	return nil
}

func (s *InMemoryStore) ListLimitOverages(_ context.Context, eventID string) ([]models.LimitOverage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LimitOverage
	for _, o := range s.overages {
		if eventID == "" || o.EventID == eventID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *InMemoryStore) IsBlocked(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocked[userID], nil
}

func (s *InMemoryStore) SetBlocked(_ context.Context, userID string, blocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if blocked {
		s.blocked[userID] = true
	} else {
		delete(s.blocked, userID)
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
