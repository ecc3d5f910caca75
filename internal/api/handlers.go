package api

import (
	"log/slog"
	"net/http"

	"github.com/aoi-labs/elicitbot/internal/bot"
	"github.com/aoi-labs/elicitbot/internal/models"
)

func botInbound(r *http.Request) bot.Inbound {
	return bot.Inbound{
		From:     r.FormValue("From"),
		Body:     r.FormValue("Body"),
		MediaURL: r.FormValue("MediaUrl0"),
	}
}

// webhookHandler translates a Twilio form POST into an engine dispatch and
// maps the engine's verdict back onto the HTTP response.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.webhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.webhookHandler: failed to parse form", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid form data"))
		return
	}

	in := botInbound(r)
	if in.From == "" {
		slog.Warn("Server.webhookHandler: missing sender")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing sender"))
		return
	}
	if in.Body == "" && in.MediaURL == "" {
		slog.Warn("Server.webhookHandler: empty message", "from", models.NormalizeUserID(in.From))
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Empty message"))
		return
	}

	res, err := s.engine.Dispatch(r.Context(), in)
	if err != nil {
		slog.Error("Server.webhookHandler: dispatch failed", "error", err, "from", models.NormalizeUserID(in.From))
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}

	switch {
	case res.Status == http.StatusOK:
		writeJSONResponse(w, http.StatusOK, models.Success(nil))
	case res.Status == http.StatusBadRequest:
		writeJSONResponse(w, http.StatusBadRequest, models.Error(res.Body))
	default:
		writeJSONResponse(w, res.Status, models.Error(res.Body))
	}
}
