package deliberation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aoi-labs/elicitbot/internal/genai"
	"github.com/aoi-labs/elicitbot/internal/models"
	"github.com/aoi-labs/elicitbot/internal/store"
)

const selectionSystemPrompt = "You will be given a user summary and a list of claim texts.\n" +
	"Pick 2 claims that strongly agree and 2 that strongly oppose the user's view.\n" +
	"Then add one sentence explaining why.\n" +
	"Format:\n" +
	"**Agreeable Claims:**\n- [index] text\n- [index] text\n\n" +
	"**Opposing Claims:**\n- [index] text\n- [index] text\n\n" +
	"**Reason:** <one sentence>"

// Selection is the parsed result of a claim-selection completion.
type Selection struct {
	Agreeable []string
	Opposing  []string
	Reason    string
}

// selectClaims asks the model to pick agreeable and opposing claims for a
// participant summary against the claim bank.
func selectClaims(ctx context.Context, gc genai.ClientInterface, summary string, bank []string) (string, error) {
	var body strings.Builder
	for i, t := range bank {
		if i > 0 {
			body.WriteString("\n\n")
		}
		fmt.Fprintf(&body, "[%d] %s", i, t)
	}
	raw, err := gc.Complete(ctx, genai.CompletionRequest{
		Model:       genai.ExtractionModel,
		System:      selectionSystemPrompt,
		User:        fmt.Sprintf("User Summary:\n%s\n\nClaim Texts:\n%s", summary, body.String()),
		Temperature: 0.4,
		MaxTokens:   1200,
	})
	if err != nil {
		return "", fmt.Errorf("claim selection failed: %w", err)
	}
	return raw, nil
}

// ParseSelection parses the claim-selection response format. Lines outside the
// expected grammar are ignored; a malformed block yields empty claim lists
// rather than a partial misread.
func ParseSelection(block string) Selection {
	var sel Selection
	section := ""
	for _, line := range strings.Split(block, "\n") {
		s := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(s, "**Agreeable"):
			section = "A"
		case strings.HasPrefix(s, "**Opposing"):
			section = "O"
		case strings.HasPrefix(s, "**Reason:**"):
			sel.Reason = strings.TrimSpace(strings.TrimPrefix(s, "**Reason:**"))
		case strings.HasPrefix(s, "- [") && strings.Contains(s, "]"):
			switch section {
			case "A":
				sel.Agreeable = append(sel.Agreeable, s)
			case "O":
				sel.Opposing = append(sel.Opposing, s)
			}
		}
	}
	if sel.Reason == "" {
		sel.Reason = "No reason provided."
	}
	return sel
}

// SelectClaimsForParticipant selects and stores perspective claims for a
// participant that has a summary but no claims yet. It reports whether the
// participant was updated.
func SelectClaimsForParticipant(ctx context.Context, st store.Store, gc genai.ClientInterface, p *models.Participant, bank []string) (bool, error) {
	if len(p.AgreeableClaims) > 0 || len(p.OpposingClaims) > 0 {
		return false, nil
	}
	if strings.TrimSpace(p.Summary) == "" {
		return false, nil
	}
	if len(bank) == 0 {
		return false, fmt.Errorf("empty claim bank")
	}
	slog.Info("Deliberation.SelectClaimsForParticipant: selecting", "eventID", p.EventID, "userID", p.UserID)
	raw, err := selectClaims(ctx, gc, p.Summary, bank)
	if err != nil {
		return false, err
	}
	sel := ParseSelection(raw)
	p.AgreeableClaims = sel.Agreeable
	p.OpposingClaims = sel.Opposing
	p.ClaimSelectionReason = sel.Reason
	if err := st.SaveParticipant(ctx, p); err != nil {
		return false, err
	}
	return true, nil
}

// SelectClaimsForEvent runs claim selection for every summarized participant
// of an event that has no claims yet. It returns the number updated.
func SelectClaimsForEvent(ctx context.Context, st store.Store, gc genai.ClientInterface, event *models.EventConfig) (int, error) {
	bank, err := loadClaimBank(ctx, st, event)
	if err != nil {
		return 0, err
	}
	parts, err := st.ListParticipants(ctx, event.ID)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, p := range parts {
		ok, err := SelectClaimsForParticipant(ctx, st, gc, p, bank)
		if err != nil {
			slog.Error("Deliberation.SelectClaimsForEvent: participant failed", "error", err, "eventID", event.ID, "userID", p.UserID)
			continue
		}
		if ok {
			updated++
		}
	}
	slog.Info("Deliberation.SelectClaimsForEvent: done", "eventID", event.ID, "updated", updated)
	return updated, nil
}

// loadClaimBank resolves the event's claim source to its claim texts.
func loadClaimBank(ctx context.Context, st store.Store, event *models.EventConfig) ([]string, error) {
	src := event.SecondRound.ClaimSource
	if src.Collection == "" || src.Document == "" {
		return nil, fmt.Errorf("event %s has no claim source configured", event.ID)
	}
	bank, err := st.GetClaimBank(ctx, src.Collection, src.Document)
	if err != nil {
		return nil, err
	}
	if bank == nil {
		return nil, fmt.Errorf("claim bank %s/%s not found", src.Collection, src.Document)
	}
	return bank.Claims, nil
}
