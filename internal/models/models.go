// Package models defines the core data structures for Elicitbot.
//
// It includes the user session, event configuration, and participant documents
// shared across the store, bot, and deliberation modules.
package models

import (
	"sort"
	"strings"
	"time"
)

// EventMode selects the conversation protocol an event runs.
type EventMode string

const (
	// ModeListener is a passive free-form conversation with minimal prompts.
	ModeListener EventMode = "listener"
	// ModeFollowup is a topic-driven elicitation conversation with an optional
	// follow-up question bank.
	ModeFollowup EventMode = "followup"
	// ModeSurvey walks the participant through a fixed ordered question list.
	ModeSurvey EventMode = "survey"
)

// IsValidEventMode checks if the given mode is supported.
func IsValidEventMode(m EventMode) bool {
	switch m {
	case ModeListener, ModeFollowup, ModeSurvey:
		return true
	default:
		return false
	}
}

// Default policy constants shared by the mode handlers.
const (
	// DefaultInteractionLimit caps conversation turns per participant per event.
	DefaultInteractionLimit = 450
	// InactivityThreshold is how long a user must be idle before the event
	// reselection prompt fires, and the minimum gap between two such prompts.
	InactivityThreshold = 24 * time.Hour
	// MaxInvalidSelectionAttempts bounds retries during inactivity reselection.
	MaxInvalidSelectionAttempts = 2
)

// EventRef links a user session to an event they have engaged.
type EventRef struct {
	EventID      string    `json:"event_id"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// UserSession is the per-user tracking document, keyed by the normalized
// contact address. The decision-point flags from the legacy schema are
// collapsed into Step; see step.go for the serialization boundary.
type UserSession struct {
	UserID             string
	Events             []EventRef
	CurrentEventID     string
	Step               ConversationStep
	ExtraQuestionIndex int
	InvalidAttempts    int
	LastInactivityPromptAt *time.Time
	PendingEventID     string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TouchEvent refreshes the timestamp for eventID, appending a new ref when the
// session has not seen the event before.
func (s *UserSession) TouchEvent(eventID string, now time.Time) {
	for i := range s.Events {
		if s.Events[i].EventID == eventID {
			s.Events[i].LastActiveAt = now
			return
		}
	}
	s.Events = append(s.Events, EventRef{EventID: eventID, LastActiveAt: now})
}

// DropEvent removes eventID from the session's events set.
func (s *UserSession) DropEvent(eventID string) {
	kept := s.Events[:0]
	for _, ref := range s.Events {
		if ref.EventID != eventID {
			kept = append(kept, ref)
		}
	}
	s.Events = kept
}

// DeduplicateEvents collapses duplicate event refs, keeping the newest
// last-active timestamp for each event id.
func (s *UserSession) DeduplicateEvents() {
	seen := make(map[string]int, len(s.Events))
	unique := s.Events[:0]
	for _, ref := range s.Events {
		if i, ok := seen[ref.EventID]; ok {
			if ref.LastActiveAt.After(unique[i].LastActiveAt) {
				unique[i].LastActiveAt = ref.LastActiveAt
			}
			continue
		}
		seen[ref.EventID] = len(unique)
		unique = append(unique, ref)
	}
	s.Events = unique
}

// MostRecentActivity returns the newest last-active timestamp across the
// session's events, or the zero time when the session has no events.
func (s *UserSession) MostRecentActivity() time.Time {
	var most time.Time
	for _, ref := range s.Events {
		if ref.LastActiveAt.After(most) {
			most = ref.LastActiveAt
		}
	}
	return most
}

// ExtractorKind names a GenAI extraction capability an extra question can bind to.
type ExtractorKind string

const (
	ExtractorName   ExtractorKind = "extract_name"
	ExtractorAge    ExtractorKind = "extract_age"
	ExtractorGender ExtractorKind = "extract_gender"
	ExtractorRegion ExtractorKind = "extract_region"
)

// ExtraQuestion is a short onboarding question asked once per user per event.
type ExtraQuestion struct {
	Key       string        `json:"key"`
	Text      string        `json:"text"`
	Enabled   bool          `json:"enabled"`
	Order     int           `json:"order"`
	Extractor ExtractorKind `json:"extractor,omitempty"`
}

// SurveyQuestion is one entry in a survey event's fixed question list.
type SurveyQuestion struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// FollowUpConfig holds the optional follow-up question bank for followup mode.
type FollowUpConfig struct {
	Enabled   bool     `json:"enabled"`
	Questions []string `json:"questions,omitempty"`
}

// ClaimSource points at the claim bank document backing second-round deliberation.
type ClaimSource struct {
	Collection string `json:"collection"`
	Document   string `json:"document"`
}

// SecondRoundConfig enables and customizes the second-round deliberation overlay.
type SecondRoundConfig struct {
	Enabled      bool        `json:"enabled"`
	ClaimSource  ClaimSource `json:"claim_source"`
	SystemPrompt string      `json:"system_prompt,omitempty"`
	UserPrompt   string      `json:"user_prompt,omitempty"`
}

// EventConfig describes an administrator-configured conversation campaign.
// The core treats it as read-only.
type EventConfig struct {
	ID                string            `json:"id"`
	Mode              EventMode         `json:"mode"`
	EventName         string            `json:"event_name,omitempty"`
	EventLocation     string            `json:"event_location,omitempty"`
	EventBackground   string            `json:"event_background,omitempty"`
	LanguageGuidance  string            `json:"language_guidance,omitempty"`
	BotTopic          string            `json:"bot_topic,omitempty"`
	BotAim            string            `json:"bot_aim,omitempty"`
	BotPrinciples     []string          `json:"bot_principles,omitempty"`
	BotPersonality    string            `json:"bot_personality,omitempty"`
	InitialMessage    string            `json:"initial_message,omitempty"`
	WelcomeMessage    string            `json:"welcome_message,omitempty"`
	CompletionMessage string            `json:"completion_message,omitempty"`
	ExtraQuestions    []ExtraQuestion   `json:"extra_questions,omitempty"`
	SurveyQuestions   []SurveyQuestion  `json:"questions,omitempty"`
	FollowUp          FollowUpConfig    `json:"follow_up_questions,omitempty"`
	InteractionLimit  int               `json:"interaction_limit,omitempty"`
	SecondRound       SecondRoundConfig `json:"second_round,omitempty"`
	DefaultModel      string            `json:"default_model,omitempty"`
}

// OrderedExtraQuestions returns the enabled extra questions sorted by their
// order field, ties broken by insertion order.
func (e *EventConfig) OrderedExtraQuestions() []ExtraQuestion {
	var enabled []ExtraQuestion
	for _, q := range e.ExtraQuestions {
		if q.Enabled {
			enabled = append(enabled, q)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Order < enabled[j].Order
	})
	return enabled
}

// EffectiveInteractionLimit returns the event's configured limit, falling back
// to the supplied default when unset.
func (e *EventConfig) EffectiveInteractionLimit(fallback int) int {
	if e.InteractionLimit > 0 {
		return e.InteractionLimit
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultInteractionLimit
}

// Interaction is one side of a conversation turn. Exactly one of Message
// (user side) and Response (bot side) is set.
type Interaction struct {
	Message   string    `json:"message,omitempty"`
	Response  string    `json:"response,omitempty"`
	Model     string    `json:"model,omitempty"`
	Fallback  bool      `json:"fallback,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Participant is the per-(event, user) record holding interaction history and
// derived fields. Interaction lists are append-only.
type Participant struct {
	EventID string `json:"event_id"`
	UserID  string `json:"user_id"`
	Name    string `json:"name,omitempty"`

	Interactions []Interaction     `json:"interactions"`
	ExtraAnswers map[string]string `json:"extra_answers,omitempty"`

	// Survey mode progress.
	QuestionsAsked map[string]bool   `json:"questions_asked,omitempty"`
	Responses      map[string]string `json:"responses,omitempty"`
	LastQuestionID string            `json:"last_question_id,omitempty"`
	SurveyComplete bool              `json:"survey_complete,omitempty"`

	// Second-round deliberation state.
	Summary                 string        `json:"summary,omitempty"`
	AgreeableClaims         []string      `json:"agreeable_claims,omitempty"`
	OpposingClaims          []string      `json:"opposing_claims,omitempty"`
	ClaimSelectionReason    string        `json:"claim_selection_reason,omitempty"`
	SecondRoundInteractions []Interaction `json:"second_round_interactions,omitempty"`
	SecondRoundIntroDone    bool          `json:"second_round_intro_done,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SetExtraAnswer stores an extra-question answer under the question key.
func (p *Participant) SetExtraAnswer(key, value string) {
	if p.ExtraAnswers == nil {
		p.ExtraAnswers = make(map[string]string)
	}
	p.ExtraAnswers[key] = value
}

// UserMessages returns the user-side texts of the interaction history in order.
func (p *Participant) UserMessages() []string {
	var msgs []string
	for _, it := range p.Interactions {
		if it.Message != "" {
			msgs = append(msgs, it.Message)
		}
	}
	return msgs
}

// ClaimBank is a curated set of claim texts used to ground second-round replies.
type ClaimBank struct {
	Collection string            `json:"collection"`
	Document   string            `json:"document"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Claims     []string          `json:"claims"`
}

// LimitOverage records an interaction-limit breach for moderation review.
type LimitOverage struct {
	UserID            string    `json:"user_id"`
	EventID           string    `json:"event_id"`
	TotalInteractions int       `json:"total_interactions"`
	LimitUsed         int       `json:"limit_used"`
	Timestamp         time.Time `json:"timestamp"`
}

// NormalizeUserID strips formatting characters from a contact address so the
// same sender always maps to the same document key.
func NormalizeUserID(raw string) string {
	r := strings.NewReplacer("+", "", "-", "", " ", "", "whatsapp:", "")
	return r.Replace(strings.TrimSpace(raw))
}

// NormalizeMessage collapses whitespace and lowercases a message for duplicate
// comparison.
func NormalizeMessage(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// IsValidName reports whether an extracted name is usable for personalization:
// non-empty, not "Anonymous", and containing at least one letter.
func IsValidName(name string) bool {
	name = strings.Trim(strings.TrimSpace(name), `"'`)
	if name == "" || strings.EqualFold(name, "anonymous") {
		return false
	}
	for _, r := range name {
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') {
			return true
		}
	}
	return false
}
