package deliberation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/aoi-labs/elicitbot/internal/genai"
	"github.com/aoi-labs/elicitbot/internal/models"
	"github.com/aoi-labs/elicitbot/internal/store"
)

// historyWindow is how many recent second-round turns are shown to the model.
const historyWindow = 6

// snippetLimit caps each history turn shown to the model, in runes.
const snippetLimit = 220

const defaultAgentSystemPrompt = "You are a concise, context-aware *second-round deliberation* assistant.\n" +
	"Goals: keep flow natural, avoid repetition, and deepen the user's thinking with concrete contrasts.\n" +
	"Hard rules:\n" +
	"- NEVER re-introduce the whole setup after the intro.\n" +
	"- Keep replies short: 1-4 crisp sentences, <= ~400 characters total.\n" +
	"- Answer the user's exact question first; then, if helpful, add ONE brief nudge.\n" +
	"- Do not ask generic questions like 'What aspect...?'. Be specific and grounded.\n" +
	"- Only restate claims if the user asks for them.\n"

const defaultAgentUserPrompt = "{history_block}" +
	"User Summary: {summary}\n" +
	"Report Metadata (context only): {metadata}\n" +
	"Agreeable (grounding): {agree_block}\n" +
	"Opposing (grounding): {oppose_block}" +
	"{reason_line}\n\n" +
	"Current user message: {user_msg}\n\n" +
	"Respond now following the rules above..."

// Agent produces grounded second-round replies. It lazily warms up a
// participant's summary and claim selection on first contact.
type Agent struct {
	store store.Store
	genai genai.ClientInterface
}

// NewAgent creates a second-round deliberation agent.
func NewAgent(st store.Store, gc genai.ClientInterface) *Agent {
	return &Agent{store: st, genai: gc}
}

// Run produces a reply to userMsg for the given participant. When the
// participant lacks a summary or claim selection it warms both up and retries
// exactly once. It returns "" (with no error) when second-round context cannot
// be resolved, signalling the caller to fall back to the normal conversation.
func (a *Agent) Run(ctx context.Context, event *models.EventConfig, userID, userMsg string) (string, error) {
	return a.attempt(ctx, event, userID, userMsg, false)
}

func (a *Agent) attempt(ctx context.Context, event *models.EventConfig, userID, userMsg string, afterWarm bool) (string, error) {
	p, err := a.store.GetParticipant(ctx, event.ID, userID)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", nil
	}

	if strings.TrimSpace(p.Summary) == "" || (len(p.AgreeableClaims) == 0 && len(p.OpposingClaims) == 0) {
		if afterWarm {
			slog.Info("Deliberation.Agent: context still unresolved after warm-up", "eventID", event.ID, "userID", userID)
			return "", nil
		}
		a.warmUp(ctx, event, p)
		return a.attempt(ctx, event, userID, userMsg, true)
	}

	metadata := a.fetchReportMetadata(ctx, event)
	reply, err := a.buildReply(ctx, event, p, userMsg, metadata)
	if err != nil {
		// A model failure here is absorbed; the caller falls back to the
		// normal conversation loop.
		slog.Error("Deliberation.Agent: reply generation failed", "error", err, "eventID", event.ID, "userID", userID)
		return "", nil
	}
	return reply, nil
}

// warmUp creates the summary and claim selection for a participant. Failures
// are logged; the follow-up attempt decides whether context resolved.
func (a *Agent) warmUp(ctx context.Context, event *models.EventConfig, p *models.Participant) {
	slog.Info("Deliberation.Agent: warming up participant", "eventID", event.ID, "userID", p.UserID)
	if _, err := SummarizeParticipant(ctx, a.store, a.genai, p); err != nil {
		slog.Error("Deliberation.Agent: warm-up summarization failed", "error", err, "userID", p.UserID)
		return
	}
	bank, err := loadClaimBank(ctx, a.store, event)
	if err != nil {
		slog.Error("Deliberation.Agent: warm-up claim bank unavailable", "error", err, "eventID", event.ID)
		return
	}
	if _, err := SelectClaimsForParticipant(ctx, a.store, a.genai, p, bank); err != nil {
		slog.Error("Deliberation.Agent: warm-up claim selection failed", "error", err, "userID", p.UserID)
	}
}

// fetchReportMetadata loads the claim bank's metadata for prompt context.
// Missing metadata is not an error.
func (a *Agent) fetchReportMetadata(ctx context.Context, event *models.EventConfig) string {
	src := event.SecondRound.ClaimSource
	if src.Collection == "" || src.Document == "" {
		return ""
	}
	bank, err := a.store.GetClaimBank(ctx, src.Collection, src.Document)
	if err != nil || bank == nil {
		return ""
	}
	return renderMetadata(bank.Metadata)
}

func renderMetadata(meta map[string]string) string {
	if len(meta) == 0 {
		return ""
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, meta[k]))
	}
	return strings.Join(parts, "; ")
}

// truncateSnippet collapses whitespace and caps the text at snippetLimit runes.
func truncateSnippet(text string) string {
	snippet := strings.Join(strings.Fields(text), " ")
	runes := []rune(snippet)
	if len(runes) > snippetLimit {
		return string(runes[:snippetLimit]) + "…"
	}
	return snippet
}

// historyBlock formats the last historyWindow second-round turns.
func historyBlock(interactions []models.Interaction) string {
	type turn struct {
		role string
		text string
	}
	var turns []turn
	for _, it := range interactions {
		if it.Message != "" {
			turns = append(turns, turn{"User", it.Message})
		} else if it.Response != "" {
			turns = append(turns, turn{"Assistant", it.Response})
		}
	}
	if len(turns) == 0 {
		return ""
	}
	if len(turns) > historyWindow {
		turns = turns[len(turns)-historyWindow:]
	}
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, t.role+": "+truncateSnippet(t.text))
	}
	return "Recent Dialogue (latest last):\n" + strings.Join(lines, "\n") + "\n\n"
}

func (a *Agent) buildReply(ctx context.Context, event *models.EventConfig, p *models.Participant, userMsg, metadata string) (string, error) {
	agreeBlock, opposeBlock := "(none)", "(none)"
	if p.SecondRoundIntroDone {
		// After the intro the claims stay out of the prompt unless asked for.
		agreeBlock = "(hidden; show only if user asks)"
		opposeBlock = "(hidden; show only if user asks)"
	} else {
		if len(p.AgreeableClaims) > 0 {
			agreeBlock = strings.Join(firstN(p.AgreeableClaims, 2), "\n")
		}
		if len(p.OpposingClaims) > 0 {
			opposeBlock = strings.Join(firstN(p.OpposingClaims, 2), "\n")
		}
	}

	reasonLine := ""
	if p.ClaimSelectionReason != "" && !p.SecondRoundIntroDone {
		reasonLine = "\nClaim selection note: " + p.ClaimSelectionReason
	}

	systemPrompt := event.SecondRound.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultAgentSystemPrompt
	}
	userTemplate := event.SecondRound.UserPrompt
	if userTemplate == "" {
		userTemplate = defaultAgentUserPrompt
	}

	userPrompt := strings.NewReplacer(
		"{history_block}", historyBlock(p.SecondRoundInteractions),
		"{summary}", p.Summary,
		"{metadata}", metadata,
		"{agree_block}", agreeBlock,
		"{oppose_block}", opposeBlock,
		"{reason_line}", reasonLine,
		"{user_msg}", userMsg,
	).Replace(userTemplate)

	return a.genai.Complete(ctx, genai.CompletionRequest{
		Model:       genai.DefaultModel,
		System:      systemPrompt,
		User:        userPrompt,
		Temperature: 0.35,
		MaxTokens:   200,
	})
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
