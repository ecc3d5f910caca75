// Package bot implements the conversation engine behind the WhatsApp
// webhook.
//
// Inbound messages are normalized, checked against the blocklist, and routed
// through a strict-precedence decision ladder shared by the three event modes
// (listener, followup, survey). Each ladder step either fully handles the
// turn or falls through to the next; the terminal step is the per-mode
// conversation loop. All state lives in the store, so the engine itself is
// stateless apart from a small blocklist cache.
package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aoi-labs/elicitbot/internal/deliberation"
	"github.com/aoi-labs/elicitbot/internal/genai"
	"github.com/aoi-labs/elicitbot/internal/models"
	"github.com/aoi-labs/elicitbot/internal/store"
)

// DefaultBlocklistTTL bounds how long a blocklist lookup is served from cache.
const DefaultBlocklistTTL = 60 * time.Second

// Sender delivers outbound messages to a user. Both the Twilio and the
// whatsmeow messaging services satisfy it.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// MediaFetcher downloads inbound media referenced by a webhook. Only the
// Twilio transport provides one; without it, media messages are rejected.
type MediaFetcher interface {
	DownloadMedia(ctx context.Context, mediaURL string) (io.ReadCloser, string, error)
}

// Inbound is one webhook delivery handed to the engine.
type Inbound struct {
	From     string
	Body     string
	MediaURL string
}

// Result is the engine's verdict on a turn. Status is an HTTP status code;
// Body carries an explanation for non-200 results and is empty otherwise.
type Result struct {
	Status int
	Body   string
}

func handled() Result { return Result{Status: http.StatusOK} }

func badRequest(msg string) Result {
	return Result{Status: http.StatusBadRequest, Body: msg}
}

// Opts holds configuration options for the engine.
type Opts struct {
	InteractionLimit int
	BlocklistTTL     time.Duration
	Media            MediaFetcher
	Now              func() time.Time
}

// Option defines a functional option for configuring the engine.
type Option func(*Opts)

// WithInteractionLimit overrides the global default interaction limit used
// when an event does not configure its own.
func WithInteractionLimit(limit int) Option {
	return func(o *Opts) {
		o.InteractionLimit = limit
	}
}

// WithBlocklistTTL sets how long blocklist lookups are cached.
func WithBlocklistTTL(ttl time.Duration) Option {
	return func(o *Opts) {
		o.BlocklistTTL = ttl
	}
}

// WithMediaFetcher wires the transport used to download inbound audio.
func WithMediaFetcher(m MediaFetcher) Option {
	return func(o *Opts) {
		o.Media = m
	}
}

// WithClock replaces the engine's time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) {
		o.Now = now
	}
}

// Engine dispatches inbound messages to the mode handlers.
type Engine struct {
	store  store.Store
	genai  genai.ClientInterface
	sender Sender
	media  MediaFetcher
	agent  *deliberation.Agent

	now          func() time.Time
	limit        int
	blocklistTTL time.Duration

	mu        sync.Mutex
	blockSeen map[string]blockEntry
}

type blockEntry struct {
	blocked bool
	at      time.Time
}

// NewEngine creates a conversation engine backed by the given store, GenAI
// client, and outbound message sender.
func NewEngine(st store.Store, gc genai.ClientInterface, sender Sender, opts ...Option) *Engine {
	cfg := Opts{
		InteractionLimit: models.DefaultInteractionLimit,
		BlocklistTTL:     DefaultBlocklistTTL,
		Now:              time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{
		store:        st,
		genai:        gc,
		sender:       sender,
		media:        cfg.Media,
		agent:        deliberation.NewAgent(st, gc),
		now:          cfg.Now,
		limit:        cfg.InteractionLimit,
		blocklistTTL: cfg.BlocklistTTL,
		blockSeen:    make(map[string]blockEntry),
	}
}

// Dispatch routes one inbound message through the mode handler protocol and
// reports how the webhook should respond.
func (e *Engine) Dispatch(ctx context.Context, in Inbound) (Result, error) {
	if in.From == "" {
		return badRequest("missing sender"), nil
	}
	userID := models.NormalizeUserID(in.From)
	slog.Debug("Engine.Dispatch: inbound message", "userID", userID, "hasMedia", in.MediaURL != "")

	if e.isBlocked(ctx, userID) {
		slog.Info("Engine.Dispatch: ignoring blocked sender", "userID", userID)
		return handled(), nil
	}

	sess, err := e.store.GetUserSession(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load user session: %w", err)
	}
	if sess == nil {
		sess = &models.UserSession{
			UserID:    userID,
			Step:      models.StepNormal,
			CreatedAt: e.now(),
		}
	}
	sess.DeduplicateEvents()

	t := &turn{
		engine:  e,
		session: sess,
		userID:  userID,
		from:    in.From,
		body:    in.Body,
		media:   in.MediaURL,
	}

	// Without a current event the listener protocol alone is responsible
	// for acquiring an event id.
	if sess.CurrentEventID == "" {
		return e.runProtocol(ctx, t, nil, listenerMode{})
	}

	event, err := e.store.GetEvent(ctx, sess.CurrentEventID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load event config: %w", err)
	}
	strategy, err := strategyForEvent(event)
	if err != nil {
		return Result{}, err
	}
	return e.runProtocol(ctx, t, event, strategy)
}

// strategyForEvent resolves the mode handler for an event. An unset mode
// defaults to listener; a value that is set but not recognized is a hard
// configuration error. A nil event also resolves to listener, since the
// ladder's validity step handles the deleted-event case before any mode
// behavior matters.
func strategyForEvent(event *models.EventConfig) (modeStrategy, error) {
	if event == nil || event.Mode == "" {
		return listenerMode{}, nil
	}
	switch event.Mode {
	case models.ModeListener:
		return listenerMode{}, nil
	case models.ModeFollowup:
		return followupMode{}, nil
	case models.ModeSurvey:
		return surveyMode{}, nil
	default:
		return nil, fmt.Errorf("unknown event mode %q for event %s", event.Mode, event.ID)
	}
}

// isBlocked consults the blocklist through a short-lived cache. Store errors
// fail open so a storage blip cannot silence every sender.
func (e *Engine) isBlocked(ctx context.Context, userID string) bool {
	now := e.now()

	e.mu.Lock()
	entry, ok := e.blockSeen[userID]
	e.mu.Unlock()
	if ok && now.Sub(entry.at) < e.blocklistTTL {
		return entry.blocked
	}

	blocked, err := e.store.IsBlocked(ctx, userID)
	if err != nil {
		slog.Error("Engine.isBlocked: blocklist lookup failed", "error", err, "userID", userID)
		return false
	}
	e.mu.Lock()
	e.blockSeen[userID] = blockEntry{blocked: blocked, at: now}
	e.mu.Unlock()
	return blocked
}

// send delivers an outbound message and logs delivery failures. A failed
// send does not abort the turn; state mutations have already been committed.
func (e *Engine) send(ctx context.Context, to, body string) {
	if err := e.sender.SendMessage(ctx, to, body); err != nil {
		slog.Error("Engine.send: outbound delivery failed", "error", err, "to", models.NormalizeUserID(to))
	}
}
