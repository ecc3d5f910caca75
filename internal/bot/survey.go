package bot

import (
	"context"
	"fmt"

	"github.com/aoi-labs/elicitbot/internal/models"
)

const msgSurveyComplete = "You've completed the survey. Thank you!"

// surveyTurn threads the fixed question list through a conversation turn: the
// reply to whichever question is currently open is recorded first, then the
// next unasked question is sent. Question selection is first-unasked-wins
// against the event's list, so questions added mid-survey still get asked.
func (e *Engine) surveyTurn(ctx context.Context, t *turn, event *models.EventConfig, p *models.Participant) (Result, error) {
	now := e.now()
	if p.QuestionsAsked == nil {
		p.QuestionsAsked = make(map[string]bool, len(event.SurveyQuestions))
	}
	if p.Responses == nil {
		p.Responses = make(map[string]string)
	}

	if p.LastQuestionID != "" {
		p.Responses[p.LastQuestionID] = t.body
		p.LastQuestionID = ""
		p.Interactions = append(p.Interactions, models.Interaction{Message: t.body, Timestamp: now})
	}

	for _, q := range event.SurveyQuestions {
		if _, ok := p.QuestionsAsked[q.ID]; !ok {
			p.QuestionsAsked[q.ID] = false
		}
	}

	var next *models.SurveyQuestion
	for i := range event.SurveyQuestions {
		if !p.QuestionsAsked[event.SurveyQuestions[i].ID] {
			next = &event.SurveyQuestions[i]
			break
		}
	}

	if next != nil {
		e.send(ctx, t.from, next.Text)
		p.QuestionsAsked[next.ID] = true
		p.LastQuestionID = next.ID
		p.Interactions = append(p.Interactions, models.Interaction{Response: next.Text, Timestamp: now})
	} else {
		msg := event.CompletionMessage
		if msg == "" {
			msg = msgSurveyComplete
		}
		e.send(ctx, t.from, msg)
		p.SurveyComplete = true
	}

	p.UpdatedAt = now
	if err := e.store.SaveParticipant(ctx, p); err != nil {
		return Result{}, fmt.Errorf("failed to save participant: %w", err)
	}
	return handled(), nil
}
