package deliberation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aoi-labs/elicitbot/internal/genai"
	"github.com/aoi-labs/elicitbot/internal/models"
	"github.com/aoi-labs/elicitbot/internal/store"
)

const testSelection = `**Agreeable Claims:**
- [0] Transit should be free
- [1] Buses need priority lanes

**Opposing Claims:**
- [2] Fares fund maintenance
- [3] Cars remain essential

**Reason:** The user favors public transit investment.`

func secondRoundEvent() *models.EventConfig {
	return &models.EventConfig{
		ID:   "ev1",
		Mode: models.ModeListener,
		SecondRound: models.SecondRoundConfig{
			Enabled:     true,
			ClaimSource: models.ClaimSource{Collection: "reports", Document: "round1"},
		},
	}
}

// scriptedGenAI answers the summarizer, claim selector, and reply builder
// based on the system prompt of each call.
func scriptedGenAI(t *testing.T, reply string, prompts *[]genai.CompletionRequest) *genai.MockClient {
	t.Helper()
	mock := genai.NewMockClient()
	mock.CompleteFn = func(_ context.Context, req genai.CompletionRequest) (string, error) {
		if prompts != nil {
			*prompts = append(*prompts, req)
		}
		switch {
		case strings.Contains(req.System, "summarizing a user's perspective"):
			return "The user supports free public transit.", nil
		case strings.Contains(req.System, "Pick 2 claims"):
			return testSelection, nil
		default:
			return reply, nil
		}
	}
	return mock
}

func seedParticipant(t *testing.T, st store.Store, withContext bool) *models.Participant {
	t.Helper()
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	p := &models.Participant{
		EventID: "ev1",
		UserID:  "15551230001",
		Interactions: []models.Interaction{
			{Message: "Buses should be free", Timestamp: now},
			{Response: "Tell me more", Timestamp: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if withContext {
		p.Summary = "The user supports free public transit."
		p.AgreeableClaims = []string{"- [0] Transit should be free"}
		p.OpposingClaims = []string{"- [2] Fares fund maintenance"}
		p.ClaimSelectionReason = "Strong transit support."
	}
	if err := st.SaveParticipant(context.Background(), p); err != nil {
		t.Fatalf("SaveParticipant: %v", err)
	}
	return p
}

func seedClaimBank(t *testing.T, st store.Store) {
	t.Helper()
	err := st.SaveClaimBank(context.Background(), &models.ClaimBank{
		Collection: "reports",
		Document:   "round1",
		Claims:     []string{"Transit should be free", "Buses need priority lanes", "Fares fund maintenance", "Cars remain essential"},
		Metadata:   map[string]string{"topic": "transit", "round": "1"},
	})
	if err != nil {
		t.Fatalf("SaveClaimBank: %v", err)
	}
}

func TestAgentRunWithResolvedContext(t *testing.T) {
	st := store.NewInMemoryStore()
	seedParticipant(t, st, true)
	seedClaimBank(t, st)

	var prompts []genai.CompletionRequest
	agent := NewAgent(st, scriptedGenAI(t, "Have you considered how fares fund maintenance?", &prompts))

	reply, err := agent.Run(context.Background(), secondRoundEvent(), "15551230001", "I still think buses should be free")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply != "Have you considered how fares fund maintenance?" {
		t.Errorf("reply = %q", reply)
	}
	if len(prompts) != 1 {
		t.Fatalf("expected a single completion, got %d", len(prompts))
	}
	user := prompts[0].User
	if !strings.Contains(user, "- [0] Transit should be free") {
		t.Errorf("prompt missing agreeable claims:\n%s", user)
	}
	if !strings.Contains(user, "Claim selection note: Strong transit support.") {
		t.Errorf("prompt missing reason line:\n%s", user)
	}
	if !strings.Contains(user, "round: 1; topic: transit") {
		t.Errorf("prompt missing metadata:\n%s", user)
	}
	if !strings.Contains(user, "Current user message: I still think buses should be free") {
		t.Errorf("prompt missing user message:\n%s", user)
	}
}

func TestAgentRunWarmsUpMissingContext(t *testing.T) {
	st := store.NewInMemoryStore()
	seedParticipant(t, st, false)
	seedClaimBank(t, st)

	agent := NewAgent(st, scriptedGenAI(t, "Grounded reply", nil))

	reply, err := agent.Run(context.Background(), secondRoundEvent(), "15551230001", "hello again")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply != "Grounded reply" {
		t.Errorf("reply = %q", reply)
	}

	p, _ := st.GetParticipant(context.Background(), "ev1", "15551230001")
	if p.Summary == "" {
		t.Errorf("warm-up should store a summary")
	}
	if len(p.AgreeableClaims) != 2 || len(p.OpposingClaims) != 2 {
		t.Errorf("warm-up should store claims, got %d/%d", len(p.AgreeableClaims), len(p.OpposingClaims))
	}
	if p.ClaimSelectionReason != "The user favors public transit investment." {
		t.Errorf("reason = %q", p.ClaimSelectionReason)
	}
}

func TestAgentRunUnresolvedAfterWarmup(t *testing.T) {
	st := store.NewInMemoryStore()
	// Participant with no user messages cannot be summarized.
	p := &models.Participant{EventID: "ev1", UserID: "15551230001"}
	if err := st.SaveParticipant(context.Background(), p); err != nil {
		t.Fatalf("SaveParticipant: %v", err)
	}
	seedClaimBank(t, st)

	agent := NewAgent(st, scriptedGenAI(t, "should not be produced", nil))

	reply, err := agent.Run(context.Background(), secondRoundEvent(), "15551230001", "hi")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply != "" {
		t.Errorf("expected empty reply for unresolved context, got %q", reply)
	}
}

func TestAgentRunMissingParticipant(t *testing.T) {
	st := store.NewInMemoryStore()
	agent := NewAgent(st, genai.NewMockClient())

	reply, err := agent.Run(context.Background(), secondRoundEvent(), "19998887777", "hi")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply != "" {
		t.Errorf("expected empty reply for missing participant, got %q", reply)
	}
}

func TestAgentHidesClaimsAfterIntro(t *testing.T) {
	st := store.NewInMemoryStore()
	p := seedParticipant(t, st, true)
	p.SecondRoundIntroDone = true
	if err := st.SaveParticipant(context.Background(), p); err != nil {
		t.Fatalf("SaveParticipant: %v", err)
	}
	seedClaimBank(t, st)

	var prompts []genai.CompletionRequest
	agent := NewAgent(st, scriptedGenAI(t, "ok", &prompts))

	if _, err := agent.Run(context.Background(), secondRoundEvent(), "15551230001", "what else?"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	user := prompts[0].User
	if strings.Contains(user, "- [0] Transit should be free") {
		t.Errorf("claims should be hidden after intro:\n%s", user)
	}
	if !strings.Contains(user, "(hidden; show only if user asks)") {
		t.Errorf("prompt missing hidden marker:\n%s", user)
	}
	if strings.Contains(user, "Claim selection note:") {
		t.Errorf("reason line should be omitted after intro:\n%s", user)
	}
}

func TestHistoryBlockWindowing(t *testing.T) {
	var interactions []models.Interaction
	for i := 0; i < 5; i++ {
		interactions = append(interactions,
			models.Interaction{Message: "user turn"},
			models.Interaction{Response: "bot turn"},
		)
	}
	block := historyBlock(interactions)
	if got := strings.Count(block, "\n") - 2; strings.Count(block, "User:")+strings.Count(block, "Assistant:") != historyWindow {
		t.Errorf("expected %d turns in history block, layout:\n%s (lines %d)", historyWindow, block, got)
	}
	if historyBlock(nil) != "" {
		t.Errorf("empty history should produce empty block")
	}
}
