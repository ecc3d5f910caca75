package bot

import (
	"context"
	"testing"

	"github.com/aoi-labs/elicitbot/internal/genai"
	"github.com/aoi-labs/elicitbot/internal/models"
)

func surveyEvent() *models.EventConfig {
	return &models.EventConfig{
		ID:   "SURV",
		Mode: models.ModeSurvey,
		SurveyQuestions: []models.SurveyQuestion{
			{ID: "1", Text: "How did you hear about us?"},
			{ID: "2", Text: "Would you attend again?"},
		},
		CompletionMessage: "That was the last question, thank you!",
	}
}

func surveySession(env *testEnv) *models.UserSession {
	return &models.UserSession{
		UserID:         "10001",
		CurrentEventID: "SURV",
		Events:         []models.EventRef{{EventID: "SURV", LastActiveAt: env.now}},
		Step:           models.StepNormal,
	}
}

func TestSurveyAsksQuestionsInOrder(t *testing.T) {
	env := newTestEnv(t)
	env.saveEvent(t, surveyEvent())
	env.saveSession(t, surveySession(env))

	env.dispatch(t, "+10001", "hello")
	if got := env.lastSent(t); got != "How did you hear about us?" {
		t.Fatalf("expected the first question, got %q", got)
	}
	p := env.participant(t, "SURV", "10001")
	if !p.QuestionsAsked["1"] || p.LastQuestionID != "1" {
		t.Fatalf("question 1 should be open, got asked=%v last=%q", p.QuestionsAsked, p.LastQuestionID)
	}

	env.dispatch(t, "+10001", "from a friend")
	p = env.participant(t, "SURV", "10001")
	if p.Responses["1"] != "from a friend" {
		t.Errorf("reply should be recorded under question 1, got %v", p.Responses)
	}
	if p.LastQuestionID != "2" {
		t.Errorf("question 2 should now be open, got %q", p.LastQuestionID)
	}
	if got := env.lastSent(t); got != "Would you attend again?" {
		t.Errorf("expected the second question, got %q", got)
	}

	env.dispatch(t, "+10001", "definitely")
	p = env.participant(t, "SURV", "10001")
	if p.Responses["2"] != "definitely" {
		t.Errorf("reply should be recorded under question 2, got %v", p.Responses)
	}
	if !p.SurveyComplete {
		t.Error("survey should be marked complete")
	}
	if got := env.lastSent(t); got != "That was the last question, thank you!" {
		t.Errorf("expected the completion message, got %q", got)
	}
}

func TestSurveyRecordsOpenReplyBeforeAdvancing(t *testing.T) {
	env := newTestEnv(t)
	env.saveEvent(t, surveyEvent())
	env.saveSession(t, surveySession(env))
	p := &models.Participant{
		EventID:        "SURV",
		UserID:         "10001",
		QuestionsAsked: map[string]bool{"1": true},
		Responses:      map[string]string{},
		LastQuestionID: "1",
	}
	if err := env.store.SaveParticipant(context.Background(), p); err != nil {
		t.Fatalf("SaveParticipant failed: %v", err)
	}

	env.dispatch(t, "+10001", "my answer")

	got := env.participant(t, "SURV", "10001")
	if got.Responses["1"] != "my answer" {
		t.Errorf("expected responses[1]=%q, got %v", "my answer", got.Responses)
	}
	if got.LastQuestionID != "2" {
		t.Errorf("the next unasked question should be open, got %q", got.LastQuestionID)
	}
	if body := env.lastSent(t); body != "Would you attend again?" {
		t.Errorf("unexpected reply: %q", body)
	}
}

func TestSurveyPicksFirstUnaskedQuestion(t *testing.T) {
	env := newTestEnv(t)
	event := surveyEvent()
	// Question 3 was added to the event after this participant started.
	event.SurveyQuestions = append(event.SurveyQuestions, models.SurveyQuestion{ID: "3", Text: "Any other feedback?"})
	env.saveEvent(t, event)
	env.saveSession(t, surveySession(env))
	p := &models.Participant{
		EventID:        "SURV",
		UserID:         "10001",
		QuestionsAsked: map[string]bool{"1": true, "2": true},
		Responses:      map[string]string{"1": "a friend", "2": "yes"},
	}
	if err := env.store.SaveParticipant(context.Background(), p); err != nil {
		t.Fatalf("SaveParticipant failed: %v", err)
	}

	env.dispatch(t, "+10001", "hello again")

	if got := env.lastSent(t); got != "Any other feedback?" {
		t.Errorf("expected the newly added question, got %q", got)
	}
	if got := env.participant(t, "SURV", "10001"); got.LastQuestionID != "3" {
		t.Errorf("question 3 should be open, got %q", got.LastQuestionID)
	}
}

func TestSurveyFinalizeMarksComplete(t *testing.T) {
	env := newTestEnv(t)
	env.saveEvent(t, surveyEvent())
	env.saveSession(t, surveySession(env))

	env.dispatch(t, "+10001", "finish")

	if got := env.lastSent(t); got != "Survey ended. Thank you for participating!" {
		t.Errorf("unexpected reply: %q", got)
	}
	if p := env.participant(t, "SURV", "10001"); !p.SurveyComplete {
		t.Error("finalize should mark the survey complete")
	}
}

func TestSurveyModelFailureDoesNotStallQuestions(t *testing.T) {
	// The survey loop never calls the model, so a dead model must not
	// matter to question threading.
	env := newTestEnv(t)
	env.saveEvent(t, surveyEvent())
	env.saveSession(t, surveySession(env))
	env.genai.CompleteWithFallbackFn = func(context.Context, genai.CompletionRequest) (genai.CompletionResult, error) {
		t.Fatal("survey turns must not invoke the completion model")
		return genai.CompletionResult{}, nil
	}

	env.dispatch(t, "+10001", "hello")

	if got := env.lastSent(t); got != "How did you hear about us?" {
		t.Errorf("unexpected reply: %q", got)
	}
}
