// Package deliberation implements the second-round deliberation sub-dialogue.
//
// After a first conversation round, participants are summarized, matched
// against a claim bank for agreeable and opposing perspectives, and engaged in
// a short grounded follow-up dialogue.
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

const summarizerSystemPrompt = "You are a neutral assistant tasked with summarizing a user's perspective. " +
	"Write a clear and concise summary in 1-2 sentences, preserving tone and core themes."

// summarizeMessages produces a 1-2 sentence summary of the user's messages.
func summarizeMessages(ctx context.Context, gc genai.ClientInterface, messages []string) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("no messages to summarize")
	}
	var b strings.Builder
	b.WriteString("Here are the user's messages:\n\n")
	for _, m := range messages {
		if m == "" {
			continue
		}
		b.WriteString("- ")
		b.WriteString(m)
		b.WriteString("\n")
	}
	summary, err := gc.Complete(ctx, genai.CompletionRequest{
		Model:       genai.DefaultModel,
		System:      summarizerSystemPrompt,
		User:        b.String(),
		Temperature: 0.2,
		MaxTokens:   300,
	})
	if err != nil {
		return "", fmt.Errorf("summarization failed: %w", err)
	}
	if summary == "" {
		return "", fmt.Errorf("summarization returned empty text")
	}
	return summary, nil
}

// SummarizeParticipant writes a summary for the participant when one is
// missing. It is idempotent and reports whether a summary was written.
func SummarizeParticipant(ctx context.Context, st store.Store, gc genai.ClientInterface, p *models.Participant) (bool, error) {
	if strings.TrimSpace(p.Summary) != "" {
		return false, nil
	}
	msgs := p.UserMessages()
	if len(msgs) == 0 {
		return false, nil
	}
	slog.Info("Deliberation.SummarizeParticipant: summarizing", "eventID", p.EventID, "userID", p.UserID, "messages", len(msgs))
	summary, err := summarizeMessages(ctx, gc, msgs)
	if err != nil {
		return false, err
	}
	p.Summary = summary
	if err := st.SaveParticipant(ctx, p); err != nil {
		return false, err
	}
	return true, nil
}

// SummarizeEvent summarizes every participant of an event that has user
// messages but no summary yet. It returns the number of participants updated.
func SummarizeEvent(ctx context.Context, st store.Store, gc genai.ClientInterface, eventID string) (int, error) {
	parts, err := st.ListParticipants(ctx, eventID)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, p := range parts {
		ok, err := SummarizeParticipant(ctx, st, gc, p)
		if err != nil {
			slog.Error("Deliberation.SummarizeEvent: participant failed", "error", err, "eventID", eventID, "userID", p.UserID)
			continue
		}
		if ok {
			updated++
		}
	}
	slog.Info("Deliberation.SummarizeEvent: done", "eventID", eventID, "updated", updated)
	return updated, nil
}
