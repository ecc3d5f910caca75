package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aoi-labs/elicitbot/internal/deliberation"
	"github.com/aoi-labs/elicitbot/internal/models"
)

// eventsHandler lists event ids and accepts new event configurations.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch r.Method {
	case http.MethodGet:
		ids, err := s.st.ListEventIDs(r.Context())
		if err != nil {
			slog.Error("Server.eventsHandler: failed to list events", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list events"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(ids))
	case http.MethodPost, http.MethodPut:
		var event models.EventConfig
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			slog.Warn("Server.eventsHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		if event.ID == "" {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Event id is required"))
			return
		}
		if event.Mode != "" && !models.IsValidEventMode(event.Mode) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Unknown event mode"))
			return
		}
		if err := s.st.SaveEvent(r.Context(), &event); err != nil {
			slog.Error("Server.eventsHandler: failed to save event", "error", err, "eventID", event.ID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save event"))
			return
		}
		slog.Info("Server.eventsHandler: event saved", "eventID", event.ID, "mode", event.Mode)
		writeJSONResponse(w, http.StatusOK, models.Success(nil))
	default:
		w.Header().Set("Allow", "GET, POST, PUT")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// eventHandler serves one event and its sub-resources:
//
//	GET  /events/{id}
//	GET  /events/{id}/participants
//	GET  /events/{id}/overages
//	POST /events/{id}/secondround/warmup
func (s *Server) eventHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	rest := strings.TrimPrefix(r.URL.Path, "/events/")
	eventID, sub, _ := strings.Cut(rest, "/")
	if eventID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Event id is required"))
		return
	}

	switch sub {
	case "":
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		event, err := s.st.GetEvent(r.Context(), eventID)
		if err != nil {
			slog.Error("Server.eventHandler: failed to load event", "error", err, "eventID", eventID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load event"))
			return
		}
		if event == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Event not found"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(event))
	case "participants":
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		participants, err := s.st.ListParticipants(r.Context(), eventID)
		if err != nil {
			slog.Error("Server.eventHandler: failed to list participants", "error", err, "eventID", eventID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list participants"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(participants))
	case "overages":
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		overages, err := s.st.ListLimitOverages(r.Context(), eventID)
		if err != nil {
			slog.Error("Server.eventHandler: failed to list overages", "error", err, "eventID", eventID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list overages"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(overages))
	case "secondround/warmup":
		s.warmupHandler(w, r, eventID)
	default:
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown resource"))
	}
}

// warmupHandler pre-computes summaries and claim selections for every
// participant of an event, so first second-round turns stay fast.
func (s *Server) warmupHandler(w http.ResponseWriter, r *http.Request, eventID string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	event, err := s.st.GetEvent(r.Context(), eventID)
	if err != nil {
		slog.Error("Server.warmupHandler: failed to load event", "error", err, "eventID", eventID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load event"))
		return
	}
	if event == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Event not found"))
		return
	}
	if !event.SecondRound.Enabled {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Second round is not enabled for this event"))
		return
	}

	summarized, err := deliberation.SummarizeEvent(r.Context(), s.st, s.gaClient, eventID)
	if err != nil {
		slog.Error("Server.warmupHandler: summarization failed", "error", err, "eventID", eventID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to summarize participants"))
		return
	}
	selected, err := deliberation.SelectClaimsForEvent(r.Context(), s.st, s.gaClient, event)
	if err != nil {
		slog.Error("Server.warmupHandler: claim selection failed", "error", err, "eventID", eventID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to select claims"))
		return
	}
	slog.Info("Server.warmupHandler: warm-up complete", "eventID", eventID, "summarized", summarized, "selected", selected)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]int{
		"summarized": summarized,
		"selected":   selected,
	}))
}

// claimBankHandler serves GET and PUT on /claims/{collection}/{document}.
func (s *Server) claimBankHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	rest := strings.TrimPrefix(r.URL.Path, "/claims/")
	collection, document, ok := strings.Cut(rest, "/")
	if !ok || collection == "" || document == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Collection and document are required"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		bank, err := s.st.GetClaimBank(r.Context(), collection, document)
		if err != nil {
			slog.Error("Server.claimBankHandler: failed to load claim bank", "error", err, "collection", collection, "document", document)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load claim bank"))
			return
		}
		if bank == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Claim bank not found"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(bank))
	case http.MethodPut, http.MethodPost:
		var bank models.ClaimBank
		if err := json.NewDecoder(r.Body).Decode(&bank); err != nil {
			slog.Warn("Server.claimBankHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		bank.Collection = collection
		bank.Document = document
		if len(bank.Claims) == 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Claim list is empty"))
			return
		}
		if err := s.st.SaveClaimBank(r.Context(), &bank); err != nil {
			slog.Error("Server.claimBankHandler: failed to save claim bank", "error", err, "collection", collection, "document", document)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save claim bank"))
			return
		}
		slog.Info("Server.claimBankHandler: claim bank saved", "collection", collection, "document", document, "claims", len(bank.Claims))
		writeJSONResponse(w, http.StatusOK, models.Success(nil))
	default:
		w.Header().Set("Allow", "GET, POST, PUT")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// blocklistRequest is the payload for blocklist updates.
type blocklistRequest struct {
	UserID  string `json:"user_id"`
	Blocked bool   `json:"blocked"`
}

func (s *Server) blocklistHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req blocklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.blocklistHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.UserID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("user_id is required"))
		return
	}
	userID := models.NormalizeUserID(req.UserID)
	if err := s.st.SetBlocked(r.Context(), userID, req.Blocked); err != nil {
		slog.Error("Server.blocklistHandler: failed to update blocklist", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update blocklist"))
		return
	}
	slog.Info("Server.blocklistHandler: blocklist updated", "userID", userID, "blocked", req.Blocked)
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}
