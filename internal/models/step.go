package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConversationStep is the single decision-point tag for a user session. It
// replaces the legacy trio of awaiting_* booleans; exactly one step is active
// at a time.
type ConversationStep string

const (
	// StepNormal routes messages into the active event's conversation loop.
	StepNormal ConversationStep = "normal"
	// StepAwaitingEventID means the user has no active event and must supply one.
	StepAwaitingEventID ConversationStep = "awaiting_event_id"
	// StepAwaitingChangeConfirmation means an inactivity prompt asked whether to
	// continue the current event or switch.
	StepAwaitingChangeConfirmation ConversationStep = "awaiting_change_confirmation"
	// StepAwaitingExtraQuestion means onboarding questions are in flight.
	StepAwaitingExtraQuestion ConversationStep = "awaiting_extra_question"
)

// IsValidConversationStep checks if the given step is one of the defined states.
func IsValidConversationStep(s ConversationStep) bool {
	switch s {
	case StepNormal, StepAwaitingEventID, StepAwaitingChangeConfirmation, StepAwaitingExtraQuestion:
		return true
	default:
		return false
	}
}

// sessionDoc is the wire form of UserSession. It carries both the step tag and
// the legacy awaiting_* booleans so that documents written by older deployments
// still load. The booleans are derived from Step on write and folded back into
// Step on read; they exist only at this boundary.
type sessionDoc struct {
	UserID             string     `json:"user_id"`
	Events             []EventRef `json:"events,omitempty"`
	CurrentEventID     string     `json:"current_event_id,omitempty"`
	Step               string     `json:"step,omitempty"`
	ExtraQuestionIndex int        `json:"extra_question_index,omitempty"`
	InvalidAttempts    int        `json:"invalid_attempts,omitempty"`
	LastInactivityPromptAt *time.Time `json:"last_inactivity_prompt_at,omitempty"`
	PendingEventID     string     `json:"pending_event_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`

	AwaitingEventID           bool `json:"awaiting_event_id,omitempty"`
	AwaitingChangeConfirm     bool `json:"awaiting_event_change_confirmation,omitempty"`
	AwaitingExtraQuestions    bool `json:"awaiting_extra_questions,omitempty"`
}

// MarshalJSON writes the session with the legacy booleans derived from Step.
func (s UserSession) MarshalJSON() ([]byte, error) {
	doc := sessionDoc{
		UserID:             s.UserID,
		Events:             s.Events,
		CurrentEventID:     s.CurrentEventID,
		Step:               string(s.Step),
		ExtraQuestionIndex: s.ExtraQuestionIndex,
		InvalidAttempts:    s.InvalidAttempts,
		LastInactivityPromptAt: s.LastInactivityPromptAt,
		PendingEventID:     s.PendingEventID,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
	switch s.Step {
	case StepAwaitingEventID:
		doc.AwaitingEventID = true
	case StepAwaitingChangeConfirmation:
		doc.AwaitingChangeConfirm = true
	case StepAwaitingExtraQuestion:
		doc.AwaitingExtraQuestions = true
	}
	return json.Marshal(doc)
}

// UnmarshalJSON loads a session, reconstructing Step from the legacy booleans
// when the step tag is absent. Boolean precedence mirrors the order the old
// handlers checked them: change confirmation, then event id, then extra
// questions.
func (s *UserSession) UnmarshalJSON(data []byte) error {
	var doc sessionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal user session: %w", err)
	}
	s.UserID = doc.UserID
	s.Events = doc.Events
	s.CurrentEventID = doc.CurrentEventID
	s.ExtraQuestionIndex = doc.ExtraQuestionIndex
	s.InvalidAttempts = doc.InvalidAttempts
	s.LastInactivityPromptAt = doc.LastInactivityPromptAt
	s.PendingEventID = doc.PendingEventID
	s.CreatedAt = doc.CreatedAt
	s.UpdatedAt = doc.UpdatedAt

	step := ConversationStep(doc.Step)
	if !IsValidConversationStep(step) {
		switch {
		case doc.AwaitingChangeConfirm:
			step = StepAwaitingChangeConfirmation
		case doc.AwaitingEventID:
			step = StepAwaitingEventID
		case doc.AwaitingExtraQuestions:
			step = StepAwaitingExtraQuestion
		default:
			step = StepNormal
		}
	}
	s.Step = step
	return nil
}
