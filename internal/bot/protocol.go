package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aoi-labs/elicitbot/internal/models"
)

// Turn-level user-facing texts shared by all modes.
const (
	msgProvideEventID    = "Welcome! Please provide your event ID to proceed."
	msgInvalidEventRetry = "Invalid event ID. Please re-enter or contact support."
	msgDefaultInitial    = "Thank you for agreeing to participate. Let's get started."
	msgDefaultWelcome    = "Welcome! You can now start sending text and audio messages."
)

// turn bundles the mutable state of one inbound message as it moves down the
// decision ladder.
type turn struct {
	engine  *Engine
	session *models.UserSession
	userID  string
	from    string
	body    string
	media   string
}

func (t *turn) saveSession(ctx context.Context) error {
	t.session.UpdatedAt = t.engine.now()
	if err := t.engine.store.SaveUserSession(ctx, t.session); err != nil {
		return fmt.Errorf("failed to save user session: %w", err)
	}
	return nil
}

// runProtocol is the strict-precedence decision ladder shared by the three
// modes. Each step either fully handles the message and returns, or falls
// through to the next; the final step is the per-mode conversation loop.
func (e *Engine) runProtocol(ctx context.Context, t *turn, event *models.EventConfig, strategy modeStrategy) (Result, error) {
	now := e.now()
	sess := t.session

	// Event validity. A session pointing at a deleted event is reset and
	// asked for a fresh id rather than silently continuing.
	if sess.CurrentEventID != "" && event == nil {
		gone := sess.CurrentEventID
		sess.DropEvent(gone)
		sess.CurrentEventID = ""
		sess.Step = models.StepAwaitingEventID
		if err := t.saveSession(ctx); err != nil {
			return Result{}, err
		}
		slog.Info("Engine.runProtocol: current event no longer exists", "userID", t.userID, "eventID", gone)
		e.send(ctx, t.from, fmt.Sprintf("The event '%s' is no longer active. Please enter a new event ID to continue.", gone))
		return handled(), nil
	}

	// Inactivity detection, throttled to one prompt per threshold window.
	if recent := sess.MostRecentActivity(); !recent.IsZero() && now.Sub(recent) > models.InactivityThreshold {
		last := sess.LastInactivityPromptAt
		if last == nil || now.Sub(*last) >= models.InactivityThreshold {
			sess.LastInactivityPromptAt = &now
			if err := t.saveSession(ctx); err != nil {
				return Result{}, err
			}
			e.send(ctx, t.from, fmt.Sprintf(
				"You have been inactive for more than 24 hours.\nYour events:\n%s\nPlease reply with the number of the event you'd like to continue.",
				formatEventList(sess.Events)))
			return handled(), nil
		}
	}

	// Inactivity reselection: a prompt is outstanding, so interpret the
	// reply as a 1-based pick from the enumerated event list.
	if sess.LastInactivityPromptAt != nil {
		return e.handleReselection(ctx, t, now)
	}

	// Event-change confirmation.
	if sess.Step == models.StepAwaitingChangeConfirmation {
		return e.handleChangeConfirmation(ctx, t, now)
	}

	// Acquiring a new event id via the extraction capability.
	if sess.Step == models.StepAwaitingEventID || sess.CurrentEventID == "" {
		return e.handleEventAcquisition(ctx, t, now)
	}

	// Extra-question onboarding sequence.
	if sess.Step == models.StepAwaitingExtraQuestion {
		return e.handleExtraQuestion(ctx, t, event)
	}

	// Command interception.
	lower := strings.ToLower(t.body)
	if strings.HasPrefix(lower, "change name ") {
		return e.handleChangeName(ctx, t, event, strings.TrimSpace(t.body[len("change name "):]))
	}
	if strings.HasPrefix(lower, "change event ") {
		return e.handleChangeEvent(ctx, t, event, strings.TrimSpace(t.body[len("change event "):]))
	}

	// Finalization.
	switch strings.ToLower(strings.TrimSpace(t.body)) {
	case "finalize", "finish":
		return e.handleFinalize(ctx, t, event, strategy)
	}

	// Inbound audio is transcribed before the conversation step sees it.
	if t.media != "" {
		if res, done, err := e.resolveMedia(ctx, t); done || err != nil {
			return res, err
		}
	}
	if strings.TrimSpace(t.body) == "" {
		return badRequest("empty message"), nil
	}

	// Second-round deliberation overlay, when enabled for the event.
	if event.SecondRound.Enabled {
		res, fellThrough, err := e.runSecondRound(ctx, t, event)
		if err != nil || !fellThrough {
			return res, err
		}
	}

	// Interaction-limit gate guards every normal conversation turn.
	p, err := e.ensureParticipant(ctx, event, t.userID)
	if err != nil {
		return Result{}, err
	}
	limit := event.EffectiveInteractionLimit(e.limit)
	if len(p.Interactions) >= limit {
		return e.handleLimitBreach(ctx, t, event, p, limit)
	}

	return strategy.Terminal(ctx, t, event, p)
}

// handleReselection processes the numeric reply to an inactivity prompt,
// bounding invalid retries before falling back.
func (e *Engine) handleReselection(ctx context.Context, t *turn, now time.Time) (Result, error) {
	sess := t.session
	if n, err := strconv.Atoi(strings.TrimSpace(t.body)); err == nil && n >= 1 && n <= len(sess.Events) {
		selected := sess.Events[n-1].EventID
		sess.CurrentEventID = selected
		sess.TouchEvent(selected, now)
		sess.LastInactivityPromptAt = nil
		sess.InvalidAttempts = 0
		if err := t.saveSession(ctx); err != nil {
			return Result{}, err
		}
		e.send(ctx, t.from, fmt.Sprintf("You are now continuing in event %s.", selected))
		return handled(), nil
	}

	sess.InvalidAttempts++
	if sess.InvalidAttempts < models.MaxInvalidSelectionAttempts {
		if err := t.saveSession(ctx); err != nil {
			return Result{}, err
		}
		e.send(ctx, t.from, "Invalid selection. Please reply with the number of the event you'd like to continue.")
		return handled(), nil
	}

	// Retry ceiling reached: fall back to the current event if there is
	// one, otherwise start over with event acquisition.
	sess.LastInactivityPromptAt = nil
	sess.InvalidAttempts = 0
	if sess.CurrentEventID != "" {
		sess.TouchEvent(sess.CurrentEventID, now)
		if err := t.saveSession(ctx); err != nil {
			return Result{}, err
		}
		e.send(ctx, t.from, fmt.Sprintf("No valid selection made. Continuing with your current event '%s'.", sess.CurrentEventID))
		return handled(), nil
	}
	sess.Step = models.StepAwaitingEventID
	if err := t.saveSession(ctx); err != nil {
		return Result{}, err
	}
	e.send(ctx, t.from, "No valid selection and no current event. Please provide your event ID.")
	return handled(), nil
}

// handleChangeConfirmation resolves a pending "change event" request.
func (e *Engine) handleChangeConfirmation(ctx context.Context, t *turn, now time.Time) (Result, error) {
	sess := t.session
	reply := strings.ToLower(strings.TrimSpace(t.body))
	pending := sess.PendingEventID
	sess.PendingEventID = ""

	if reply != "yes" && reply != "y" {
		sess.Step = models.StepNormal
		if err := t.saveSession(ctx); err != nil {
			return Result{}, err
		}
		e.send(ctx, t.from, fmt.Sprintf("Event change canceled. You remain in event %s.", sess.CurrentEventID))
		return handled(), nil
	}

	// Re-validate; the event may have disappeared since the request.
	target, err := e.store.GetEvent(ctx, pending)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load event config: %w", err)
	}
	if target == nil {
		sess.Step = models.StepAwaitingEventID
		if err := t.saveSession(ctx); err != nil {
			return Result{}, err
		}
		e.send(ctx, t.from, fmt.Sprintf("The event ID '%s' is invalid. Please enter a new event ID.", pending))
		return handled(), nil
	}

	sess.CurrentEventID = target.ID
	sess.TouchEvent(target.ID, now)
	if _, err := e.ensureParticipant(ctx, target, t.userID); err != nil {
		return Result{}, err
	}
	notice := fmt.Sprintf("You have switched to event %s.", target.ID)
	// The switch notice precedes the question sequence; without questions it
	// is the whole reply.
	if len(target.OrderedExtraQuestions()) > 0 {
		e.send(ctx, t.from, notice)
	}
	return e.beginOnboarding(ctx, t, target, notice)
}

// handleEventAcquisition extracts an event id from free text and, on
// success, adopts the event.
func (e *Engine) handleEventAcquisition(ctx context.Context, t *turn, now time.Time) (Result, error) {
	sess := t.session
	wasAwaiting := sess.Step == models.StepAwaitingEventID

	validIDs, err := e.store.ListEventIDs(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list event ids: %w", err)
	}
	extracted, err := e.genai.ExtractEventID(ctx, t.body, validIDs)
	if err != nil {
		slog.Error("Engine.handleEventAcquisition: extraction failed", "error", err, "userID", t.userID)
		extracted = ""
	}

	var target *models.EventConfig
	if extracted != "" {
		target, err = e.store.GetEvent(ctx, extracted)
		if err != nil {
			return Result{}, fmt.Errorf("failed to load event config: %w", err)
		}
	}
	if target == nil {
		if wasAwaiting {
			e.send(ctx, t.from, msgInvalidEventRetry)
			return handled(), nil
		}
		sess.Step = models.StepAwaitingEventID
		if err := t.saveSession(ctx); err != nil {
			return Result{}, err
		}
		e.send(ctx, t.from, msgProvideEventID)
		return handled(), nil
	}

	sess.CurrentEventID = target.ID
	sess.TouchEvent(target.ID, now)
	p, err := e.ensureParticipant(ctx, target, t.userID)
	if err != nil {
		return Result{}, err
	}

	// Users who were explicitly re-asked for an id get a personalized
	// welcome; first-contact users get the event's initial message.
	fallbackMsg := initialMessage(target)
	if wasAwaiting {
		fallbackMsg = welcomeMessage(target, p.Name, false)
	}
	return e.beginOnboarding(ctx, t, target, fallbackMsg)
}

// beginOnboarding enters the extra-question sequence when the event has one,
// otherwise sends noQuestionsMsg and returns to the normal step.
func (e *Engine) beginOnboarding(ctx context.Context, t *turn, event *models.EventConfig, noQuestionsMsg string) (Result, error) {
	sess := t.session
	questions := event.OrderedExtraQuestions()
	if len(questions) == 0 {
		sess.Step = models.StepNormal
		sess.ExtraQuestionIndex = 0
		if err := t.saveSession(ctx); err != nil {
			return Result{}, err
		}
		e.send(ctx, t.from, noQuestionsMsg)
		return handled(), nil
	}

	sess.Step = models.StepAwaitingExtraQuestion
	sess.ExtraQuestionIndex = 0
	if err := t.saveSession(ctx); err != nil {
		return Result{}, err
	}
	e.send(ctx, t.from, fmt.Sprintf("%s\n\n%s", initialMessage(event), questions[0].Text))
	return handled(), nil
}

// handleExtraQuestion advances the onboarding FSM by one question.
func (e *Engine) handleExtraQuestion(ctx context.Context, t *turn, event *models.EventConfig) (Result, error) {
	sess := t.session
	if t.media != "" {
		if res, done, err := e.resolveMedia(ctx, t); done || err != nil {
			return res, err
		}
	}

	questions := event.OrderedExtraQuestions()
	if sess.ExtraQuestionIndex >= len(questions) {
		// The question list shrank under the session. Close the sequence.
		sess.Step = models.StepNormal
		if err := t.saveSession(ctx); err != nil {
			return Result{}, err
		}
		p, err := e.ensureParticipant(ctx, event, t.userID)
		if err != nil {
			return Result{}, err
		}
		e.send(ctx, t.from, welcomeMessage(event, p.Name, false))
		return handled(), nil
	}

	// A blank reply does not answer anything; repeat the open question.
	if strings.TrimSpace(t.body) == "" {
		e.send(ctx, t.from, questions[sess.ExtraQuestionIndex].Text)
		return handled(), nil
	}

	p, err := e.ensureParticipant(ctx, event, t.userID)
	if err != nil {
		return Result{}, err
	}

	q := questions[sess.ExtraQuestionIndex]
	answer := e.extractAnswer(ctx, q, t.body, event)
	p.SetExtraAnswer(q.Key, answer)
	if q.Extractor == models.ExtractorName {
		p.Name = answer
	}
	p.UpdatedAt = e.now()
	if err := e.store.SaveParticipant(ctx, p); err != nil {
		return Result{}, fmt.Errorf("failed to save participant: %w", err)
	}

	sess.ExtraQuestionIndex++
	if sess.ExtraQuestionIndex < len(questions) {
		if err := t.saveSession(ctx); err != nil {
			return Result{}, err
		}
		e.send(ctx, t.from, questions[sess.ExtraQuestionIndex].Text)
		return handled(), nil
	}

	sess.Step = models.StepNormal
	if err := t.saveSession(ctx); err != nil {
		return Result{}, err
	}
	e.send(ctx, t.from, welcomeMessage(event, p.Name, false))
	return handled(), nil
}

// extractAnswer runs the question's extraction capability over the message
// text. Extraction failures keep the raw text so onboarding never stalls.
func (e *Engine) extractAnswer(ctx context.Context, q models.ExtraQuestion, body string, event *models.EventConfig) string {
	var (
		val string
		err error
	)
	switch q.Extractor {
	case models.ExtractorName:
		val, err = e.genai.ExtractName(ctx, body, event.EventName, event.EventLocation)
	case models.ExtractorAge:
		val, err = e.genai.ExtractAge(ctx, body)
	case models.ExtractorGender:
		val, err = e.genai.ExtractGender(ctx, body)
	case models.ExtractorRegion:
		val, err = e.genai.ExtractRegion(ctx, body)
	default:
		return body
	}
	if err != nil {
		slog.Error("Engine.extractAnswer: extraction failed", "error", err, "key", q.Key)
		return body
	}
	return val
}

func (e *Engine) handleChangeName(ctx context.Context, t *turn, event *models.EventConfig, newName string) (Result, error) {
	if newName == "" {
		e.send(ctx, t.from, "It seems there was an error updating your name. Please try again.")
		return handled(), nil
	}
	p, err := e.ensureParticipant(ctx, event, t.userID)
	if err != nil {
		return Result{}, err
	}
	p.Name = newName
	p.UpdatedAt = e.now()
	if err := e.store.SaveParticipant(ctx, p); err != nil {
		return Result{}, fmt.Errorf("failed to save participant: %w", err)
	}
	e.send(ctx, t.from, fmt.Sprintf("Your name has been updated to %s. Please continue.", newName))
	return handled(), nil
}

func (e *Engine) handleChangeEvent(ctx context.Context, t *turn, event *models.EventConfig, newEventID string) (Result, error) {
	sess := t.session
	target, err := e.store.GetEvent(ctx, newEventID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load event config: %w", err)
	}
	if target == nil {
		e.send(ctx, t.from, fmt.Sprintf("The event ID '%s' is invalid. Please check and try again.", newEventID))
		return handled(), nil
	}
	if newEventID == sess.CurrentEventID {
		e.send(ctx, t.from, fmt.Sprintf("You are already in event %s.", newEventID))
		return handled(), nil
	}
	sess.Step = models.StepAwaitingChangeConfirmation
	sess.PendingEventID = newEventID
	if err := t.saveSession(ctx); err != nil {
		return Result{}, err
	}
	e.send(ctx, t.from, fmt.Sprintf("You requested to change to event %s. Please confirm by replying 'yes' or cancel with 'no'.", newEventID))
	return handled(), nil
}

func (e *Engine) handleFinalize(ctx context.Context, t *turn, event *models.EventConfig, strategy modeStrategy) (Result, error) {
	if err := strategy.Finalize(ctx, e, t, event); err != nil {
		return Result{}, err
	}
	return handled(), nil
}

// handleLimitBreach records the overage for moderation and tells the user.
func (e *Engine) handleLimitBreach(ctx context.Context, t *turn, event *models.EventConfig, p *models.Participant, limit int) (Result, error) {
	slog.Info("Engine.handleLimitBreach: interaction limit reached",
		"userID", t.userID, "eventID", event.ID, "interactions", len(p.Interactions), "limit", limit)
	overage := models.LimitOverage{
		UserID:            t.userID,
		EventID:           event.ID,
		TotalInteractions: len(p.Interactions),
		LimitUsed:         limit,
		Timestamp:         e.now(),
	}
	if err := e.store.RecordLimitOverage(ctx, overage); err != nil {
		slog.Error("Engine.handleLimitBreach: failed to record overage", "error", err, "userID", t.userID)
	}
	e.send(ctx, t.from, fmt.Sprintf("You have reached your interaction limit (%d) for this event. Please contact AOI for assistance.", limit))
	return handled(), nil
}

// runSecondRound runs the deliberation overlay for one turn. fellThrough is
// true when the overlay produced no reply and the normal conversation loop
// should take over.
func (e *Engine) runSecondRound(ctx context.Context, t *turn, event *models.EventConfig) (res Result, fellThrough bool, err error) {
	reply, err := e.agent.Run(ctx, event, t.userID, t.body)
	if err != nil {
		slog.Error("Engine.runSecondRound: agent failed", "error", err, "userID", t.userID, "eventID", event.ID)
		reply = ""
	}

	accepted, err := e.store.TryAppendSecondRound(ctx, event.ID, t.userID, t.body, reply, e.now())
	if err != nil {
		return Result{}, false, fmt.Errorf("failed to append second-round interaction: %w", err)
	}
	if !accepted {
		// Duplicate webhook delivery; absorb silently.
		slog.Debug("Engine.runSecondRound: duplicate turn suppressed", "userID", t.userID, "eventID", event.ID)
		return handled(), false, nil
	}
	if reply == "" {
		slog.Warn("Engine.runSecondRound: no grounded reply, falling back to normal flow", "userID", t.userID, "eventID", event.ID)
		return Result{}, true, nil
	}

	e.send(ctx, t.from, reply)
	if err := e.markIntroDone(ctx, event.ID, t.userID); err != nil {
		slog.Error("Engine.runSecondRound: failed to mark intro done", "error", err, "userID", t.userID)
	}
	return handled(), false, nil
}

func (e *Engine) markIntroDone(ctx context.Context, eventID, userID string) error {
	p, err := e.store.GetParticipant(ctx, eventID, userID)
	if err != nil || p == nil || p.SecondRoundIntroDone {
		return err
	}
	p.SecondRoundIntroDone = true
	p.UpdatedAt = e.now()
	return e.store.SaveParticipant(ctx, p)
}

// resolveMedia downloads the referenced media and replaces the turn body
// with its transcript. done is true when the turn is fully answered by the
// returned result.
func (e *Engine) resolveMedia(ctx context.Context, t *turn) (res Result, done bool, err error) {
	if e.media == nil {
		return badRequest("media messages are not supported on this channel"), true, nil
	}
	body, contentType, err := e.media.DownloadMedia(ctx, t.media)
	if err != nil {
		return Result{}, true, fmt.Errorf("failed to download media: %w", err)
	}
	defer body.Close()
	if !strings.Contains(contentType, "audio") {
		return badRequest("Unsupported media type."), true, nil
	}
	text, err := e.genai.Transcribe(ctx, "file.ogg", body)
	if err != nil {
		return Result{Status: http.StatusInternalServerError, Body: "transcription failed"}, true, fmt.Errorf("failed to transcribe audio: %w", err)
	}
	t.body = text
	t.media = ""
	return Result{}, false, nil
}

// ensureParticipant loads the participant record, creating it when the user
// engages the event for the first time. Survey events are pre-seeded with
// the question tracking structure.
func (e *Engine) ensureParticipant(ctx context.Context, event *models.EventConfig, userID string) (*models.Participant, error) {
	p, err := e.store.GetParticipant(ctx, event.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participant: %w", err)
	}
	if p != nil {
		return p, nil
	}
	p = &models.Participant{
		EventID:   event.ID,
		UserID:    userID,
		CreatedAt: e.now(),
		UpdatedAt: e.now(),
	}
	if event.Mode == models.ModeSurvey {
		p.QuestionsAsked = make(map[string]bool, len(event.SurveyQuestions))
		for _, q := range event.SurveyQuestions {
			p.QuestionsAsked[q.ID] = false
		}
		p.Responses = make(map[string]string)
	}
	if err := e.store.SaveParticipant(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save participant: %w", err)
	}
	return p, nil
}

func formatEventList(events []models.EventRef) string {
	var b strings.Builder
	for i, ref := range events {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, ref.EventID)
	}
	return b.String()
}

func initialMessage(event *models.EventConfig) string {
	if event.InitialMessage != "" {
		return event.InitialMessage
	}
	return msgDefaultInitial
}

// welcomeMessage personalizes the event's welcome text with the
// participant's name when a usable one is on record. promptForName appends a
// request for the user's name.
func welcomeMessage(event *models.EventConfig, name string, promptForName bool) string {
	msg := event.WelcomeMessage
	if msg == "" {
		msg = msgDefaultWelcome
	}
	if models.IsValidName(name) {
		if strings.Contains(msg, "Welcome to") {
			msg = strings.Replace(msg, "Welcome to", fmt.Sprintf("Welcome %s to", name), 1)
		} else {
			msg = fmt.Sprintf("Welcome %s, %s", name, msg)
		}
	}
	if promptForName {
		msg += " Please tell me your name."
	}
	return msg
}
