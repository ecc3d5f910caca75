package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aoi-labs/elicitbot/internal/bot"
	"github.com/aoi-labs/elicitbot/internal/genai"
	"github.com/aoi-labs/elicitbot/internal/models"
	"github.com/aoi-labs/elicitbot/internal/store"
	"github.com/aoi-labs/elicitbot/internal/twiliowhatsapp"
)

type testServer struct {
	server *Server
	store  *store.InMemoryStore
	genai  *genai.MockClient
	sender *twiliowhatsapp.MockClient
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewInMemoryStore()
	gc := genai.NewMockClient()
	sender := twiliowhatsapp.NewMockClient()
	engine := bot.NewEngine(st, gc, sender,
		bot.WithMediaFetcher(sender),
		bot.WithClock(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }))
	return &testServer{
		server: NewServer(engine, st, gc),
		store:  st,
		genai:  gc,
		sender: sender,
	}
}

func (ts *testServer) do(t *testing.T, method, path, body, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) postForm(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, http.MethodPost, path, form.Encode(), "application/x-www-form-urlencoded")
}

func (ts *testServer) postJSON(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, http.MethodPost, path, body, "application/json")
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return resp
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, wantCode int, wantStatus string) models.APIResponse {
	t.Helper()
	if rr.Code != wantCode {
		t.Fatalf("expected HTTP %d, got %d: %s", wantCode, rr.Code, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp.Status != wantStatus {
		t.Fatalf("expected status %q, got %q", wantStatus, resp.Status)
	}
	return resp
}

func TestWebhookDispatchesToEngine(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.postForm(t, "/webhook", url.Values{
		"From": {"whatsapp:+15551234567"},
		"Body": {"hello"},
	})
	assertStatus(t, rr, http.StatusOK, "ok")
	// A fresh sender is asked for an event id.
	if msg := ts.sender.LastMessage(); msg == nil || !strings.Contains(msg.Body, "event ID") {
		t.Errorf("expected the event-id prompt to be sent, got %v", msg)
	}
}

func TestWebhookRejectsMissingSender(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.postForm(t, "/webhook", url.Values{"Body": {"hello"}})
	assertStatus(t, rr, http.StatusBadRequest, "error")
}

func TestWebhookRejectsEmptyMessage(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.postForm(t, "/webhook", url.Values{"From": {"+15551234567"}})
	assertStatus(t, rr, http.StatusBadRequest, "error")
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodGet, "/webhook", "", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestEventUpsertAndFetch(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.postJSON(t, "/events", `{"id":"E1","mode":"survey","questions":[{"id":"1","text":"Q1"}]}`)
	assertStatus(t, rr, http.StatusOK, "ok")

	rr = ts.do(t, http.MethodGet, "/events/E1", "", "")
	resp := assertStatus(t, rr, http.StatusOK, "ok")
	raw, _ := json.Marshal(resp.Result)
	var event models.EventConfig
	if err := json.Unmarshal(raw, &event); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if event.Mode != models.ModeSurvey || len(event.SurveyQuestions) != 1 {
		t.Errorf("unexpected event: %+v", event)
	}

	rr = ts.do(t, http.MethodGet, "/events", "", "")
	resp = assertStatus(t, rr, http.StatusOK, "ok")
	ids, _ := resp.Result.([]interface{})
	if len(ids) != 1 || ids[0] != "E1" {
		t.Errorf("unexpected id list: %v", resp.Result)
	}
}

func TestEventUpsertRejectsUnknownMode(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.postJSON(t, "/events", `{"id":"E1","mode":"broadcast"}`)
	assertStatus(t, rr, http.StatusBadRequest, "error")
}

func TestEventFetchNotFound(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodGet, "/events/NOPE", "", "")
	assertStatus(t, rr, http.StatusNotFound, "error")
}

func TestClaimBankRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPut, "/claims/reports/transit", `{"claims":["Buses should run later."]}`, "application/json")
	assertStatus(t, rr, http.StatusOK, "ok")

	rr = ts.do(t, http.MethodGet, "/claims/reports/transit", "", "")
	resp := assertStatus(t, rr, http.StatusOK, "ok")
	raw, _ := json.Marshal(resp.Result)
	var bank models.ClaimBank
	if err := json.Unmarshal(raw, &bank); err != nil {
		t.Fatalf("failed to decode claim bank: %v", err)
	}
	if bank.Collection != "reports" || bank.Document != "transit" || len(bank.Claims) != 1 {
		t.Errorf("unexpected claim bank: %+v", bank)
	}
}

func TestClaimBankRejectsEmptyClaims(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodPut, "/claims/reports/transit", `{"claims":[]}`, "application/json")
	assertStatus(t, rr, http.StatusBadRequest, "error")
}

func TestBlocklistUpdate(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.postJSON(t, "/blocklist", `{"user_id":"whatsapp:+1 555-123-4567","blocked":true}`)
	assertStatus(t, rr, http.StatusOK, "ok")

	blocked, err := ts.store.IsBlocked(context.Background(), "15551234567")
	if err != nil {
		t.Fatalf("IsBlocked failed: %v", err)
	}
	if !blocked {
		t.Error("expected the normalized user id to be blocked")
	}
}

func TestOveragesListing(t *testing.T) {
	ts := newTestServer(t)
	if err := ts.store.RecordLimitOverage(context.Background(), models.LimitOverage{
		UserID: "10001", EventID: "E1", TotalInteractions: 451, LimitUsed: 450,
	}); err != nil {
		t.Fatalf("RecordLimitOverage failed: %v", err)
	}

	rr := ts.do(t, http.MethodGet, "/events/E1/overages", "", "")
	resp := assertStatus(t, rr, http.StatusOK, "ok")
	raw, _ := json.Marshal(resp.Result)
	var overages []models.LimitOverage
	if err := json.Unmarshal(raw, &overages); err != nil {
		t.Fatalf("failed to decode overages: %v", err)
	}
	if len(overages) != 1 || overages[0].TotalInteractions != 451 {
		t.Errorf("unexpected overages: %+v", overages)
	}
}

func TestWarmupEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	if err := ts.store.SaveEvent(ctx, &models.EventConfig{
		ID:   "SR",
		Mode: models.ModeListener,
		SecondRound: models.SecondRoundConfig{
			Enabled:     true,
			ClaimSource: models.ClaimSource{Collection: "reports", Document: "transit"},
		},
	}); err != nil {
		t.Fatalf("SaveEvent failed: %v", err)
	}
	if err := ts.store.SaveClaimBank(ctx, &models.ClaimBank{
		Collection: "reports", Document: "transit",
		Claims: []string{"Buses should run later.", "Bus funding should be cut."},
	}); err != nil {
		t.Fatalf("SaveClaimBank failed: %v", err)
	}
	if err := ts.store.SaveParticipant(ctx, &models.Participant{
		EventID: "SR", UserID: "10001",
		Interactions: []models.Interaction{{Message: "night buses stop too early"}},
	}); err != nil {
		t.Fatalf("SaveParticipant failed: %v", err)
	}
	ts.genai.CompleteFn = func(_ context.Context, req genai.CompletionRequest) (string, error) {
		if strings.Contains(req.System, "Pick 2 claims") {
			return "**Agreeable Claims:**\n- [0] Buses should run later.\n**Opposing Claims:**\n- [1] Bus funding should be cut.\n**Reason:** Match.", nil
		}
		return "Wants later buses.", nil
	}

	rr := ts.postJSON(t, "/events/SR/secondround/warmup", "")
	resp := assertStatus(t, rr, http.StatusOK, "ok")
	counts, _ := resp.Result.(map[string]interface{})
	if counts["summarized"] != float64(1) || counts["selected"] != float64(1) {
		t.Errorf("unexpected warm-up counts: %v", resp.Result)
	}

	p, err := ts.store.GetParticipant(ctx, "SR", "10001")
	if err != nil || p == nil {
		t.Fatalf("GetParticipant failed: %v", err)
	}
	if p.Summary == "" || len(p.AgreeableClaims) == 0 {
		t.Errorf("warm-up should populate the participant, got %+v", p)
	}
}

func TestWarmupRequiresSecondRound(t *testing.T) {
	ts := newTestServer(t)
	if err := ts.store.SaveEvent(context.Background(), &models.EventConfig{ID: "E1", Mode: models.ModeListener}); err != nil {
		t.Fatalf("SaveEvent failed: %v", err)
	}
	rr := ts.postJSON(t, "/events/E1/secondround/warmup", "")
	assertStatus(t, rr, http.StatusBadRequest, "error")
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodGet, "/health", "", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Errorf("unexpected health response: %d %q", rr.Code, rr.Body.String())
	}
}
