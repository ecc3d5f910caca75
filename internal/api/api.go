// Package api provides the HTTP surface of Elicitbot.
//
// It exposes the Twilio webhook that feeds the conversation engine, plus an
// administration API for provisioning events, claim banks, and the blocklist,
// and for reviewing participants and interaction-limit overages.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aoi-labs/elicitbot/internal/bot"
	"github.com/aoi-labs/elicitbot/internal/genai"
	"github.com/aoi-labs/elicitbot/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a functional option for configuring the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// Server wires the HTTP handlers to the engine and the store.
type Server struct {
	engine   *bot.Engine
	st       store.Store
	gaClient genai.ClientInterface

	addr       string
	httpServer *http.Server
}

// NewServer creates an API server around the given engine, store, and GenAI
// client. The GenAI client drives the second-round warm-up endpoint.
func NewServer(engine *bot.Engine, st store.Store, gaClient genai.ClientInterface, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		engine:   engine,
		st:       st,
		gaClient: gaClient,
		addr:     cfg.Addr,
	}
}

// Handler returns the server's route table, exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/events", s.eventsHandler)
	mux.HandleFunc("/events/", s.eventHandler)
	mux.HandleFunc("/claims/", s.claimBankHandler)
	mux.HandleFunc("/blocklist", s.blocklistHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Start begins serving HTTP requests. It returns once the listener is
// running; serve errors are reported asynchronously on the returned channel.
func (s *Server) Start() <-chan error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		slog.Info("Server.Start: API listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("api server failed: %w", err)
		}
		close(errs)
	}()
	return errs
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		slog.Error("Server.healthHandler: failed to write response", "error", err)
	}
}
