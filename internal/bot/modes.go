package bot

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/aoi-labs/elicitbot/internal/genai"
	"github.com/aoi-labs/elicitbot/internal/models"
)

// modeStrategy parameterizes the shared protocol ladder with the per-mode
// behaviors: the terminal conversation step and the finalization command.
type modeStrategy interface {
	// Terminal runs the normal-conversation step once every earlier
	// ladder step has fallen through. The participant record has already
	// passed the interaction-limit gate.
	Terminal(ctx context.Context, t *turn, event *models.EventConfig, p *models.Participant) (Result, error)
	// Finalize handles the "finalize"/"finish" command.
	Finalize(ctx context.Context, e *Engine, t *turn, event *models.EventConfig) error
}

// listenerFallbacks are sent when both the default and the fallback model
// fail, so a listening session never stalls on a model outage.
var listenerFallbacks = []string{
	"Agreed.",
	"Please continue.",
	"That's an interesting point, tell me more.",
	"I understand.",
	"Go on, I'm listening.",
}

const msgProcessingIssue = "There was an issue processing your request."

type listenerMode struct{}

func (listenerMode) Terminal(ctx context.Context, t *turn, event *models.EventConfig, p *models.Participant) (Result, error) {
	return t.engine.converse(ctx, t, event, p, listenerInstructions(event), func(e *Engine) (string, bool) {
		return listenerFallbacks[rand.Intn(len(listenerFallbacks))], true
	})
}

func (listenerMode) Finalize(ctx context.Context, e *Engine, t *turn, event *models.EventConfig) error {
	e.send(ctx, t.from, completionMessage(event))
	return nil
}

type followupMode struct{}

func (followupMode) Terminal(ctx context.Context, t *turn, event *models.EventConfig, p *models.Participant) (Result, error) {
	return t.engine.converse(ctx, t, event, p, followupInstructions(event, p), func(e *Engine) (string, bool) {
		return msgProcessingIssue, false
	})
}

func (followupMode) Finalize(ctx context.Context, e *Engine, t *turn, event *models.EventConfig) error {
	e.send(ctx, t.from, completionMessage(event))
	return nil
}

type surveyMode struct{}

func (surveyMode) Terminal(ctx context.Context, t *turn, event *models.EventConfig, p *models.Participant) (Result, error) {
	return t.engine.surveyTurn(ctx, t, event, p)
}

func (surveyMode) Finalize(ctx context.Context, e *Engine, t *turn, event *models.EventConfig) error {
	p, err := e.ensureParticipant(ctx, event, t.userID)
	if err != nil {
		return err
	}
	p.SurveyComplete = true
	p.UpdatedAt = e.now()
	if err := e.store.SaveParticipant(ctx, p); err != nil {
		return fmt.Errorf("failed to save participant: %w", err)
	}
	e.send(ctx, t.from, "Survey ended. Thank you for participating!")
	return nil
}

// converse runs one model-driven conversation turn: the inbound message is
// recorded, the model is invoked with mode-specific instructions, and the
// response is recorded and sent. onFailure supplies the outbound text when
// both models fail; record reports whether that text joins the history.
func (e *Engine) converse(ctx context.Context, t *turn, event *models.EventConfig, p *models.Participant, instructions string, onFailure func(*Engine) (text string, record bool)) (Result, error) {
	now := e.now()
	p.Interactions = append(p.Interactions, models.Interaction{Message: t.body, Timestamp: now})
	p.UpdatedAt = now
	if err := e.store.SaveParticipant(ctx, p); err != nil {
		return Result{}, fmt.Errorf("failed to save participant: %w", err)
	}

	result, err := e.genai.CompleteWithFallback(ctx, genai.CompletionRequest{
		Model:  event.DefaultModel,
		System: instructions,
		User:   t.body,
	})
	if err != nil {
		slog.Warn("Engine.converse: both models failed", "error", err, "userID", t.userID, "eventID", event.ID)
		text, record := onFailure(e)
		e.send(ctx, t.from, text)
		if record {
			p.Interactions = append(p.Interactions, models.Interaction{Response: text, Fallback: true, Timestamp: e.now()})
			p.UpdatedAt = e.now()
			if err := e.store.SaveParticipant(ctx, p); err != nil {
				return Result{}, fmt.Errorf("failed to save participant: %w", err)
			}
		}
		return handled(), nil
	}

	e.send(ctx, t.from, result.Text)
	p.Interactions = append(p.Interactions, models.Interaction{
		Response:  result.Text,
		Model:     result.Model,
		Fallback:  result.Fallback,
		Timestamp: e.now(),
	})
	p.UpdatedAt = e.now()
	if err := e.store.SaveParticipant(ctx, p); err != nil {
		return Result{}, fmt.Errorf("failed to save participant: %w", err)
	}
	return handled(), nil
}

func completionMessage(event *models.EventConfig) string {
	if event.CompletionMessage != "" {
		return event.CompletionMessage
	}
	return "Thank you for participating!"
}
