package bot

import (
	"fmt"
	"strings"

	"github.com/aoi-labs/elicitbot/internal/models"
)

// pastInteractionWindow bounds how many prior exchanges are shown to the
// followup model for context.
const pastInteractionWindow = 30

const defaultLanguageBehavior = "No specific language behavior was requested. The bot defaults to matching the user's language when possible."

// listenerInstructions renders the passive-listening system prompt from the
// event's configuration.
func listenerInstructions(event *models.EventConfig) string {
	name := stringOr(event.EventName, "the event")
	location := stringOr(event.EventLocation, "the location")
	background := stringOr(event.EventBackground, "the background")
	language := stringOr(event.LanguageGuidance, defaultLanguageBehavior)

	return fmt.Sprintf(`Bot Objective
The AI bot is primarily designed to listen and record discussions at the %[1]s in %[2]s with minimal interaction. Its responses are restricted to one or two sentences only, to maintain focus on the participants' discussions.

Event Background
%[3]s

Language Behavior
%[4]s

Bot Personality
The bot is programmed to be non-intrusive and neutral, offering no more than essential interaction required to acknowledge participants' inputs.

Listening Mode
Data Retention: The bot is in a passive listening mode, capturing important discussion points without actively participating.
Minimal Responses: The bot remains largely silent, offering brief acknowledgments if directly addressed.

Interaction Guidelines
Ultra-Brief Responses: If the bot needs to respond, it will use no more than one to two sentences, strictly adhering to this rule to prevent engaging beyond necessary acknowledgment.
Acknowledgments: For instance, if a participant makes a point or asks if the bot is recording, it might say, "Acknowledged," or, "Yes, I'm recording. Please continue."

Conversation Management
Directive Responses: On rare occasions where direction is required and appropriate, the bot will use concise prompts like "Please continue," or, "Could you clarify?"
Passive Engagement: The bot uses minimal phrases like "Understood" or "Noted" with professional emojis to confirm its presence and listening status without adding substance to the conversation.

Closure of Interaction
Concluding Interaction: When a dialogue concludes or a user ends the interaction, the bot responds succinctly with, "Thank you for the discussion."

Overall Management
The bot ensures it does not interfere with or distract from the human-centric discussions at the %[1]s in %[2]s. Its primary role is to support by listening and only acknowledging when absolutely necessary, ensuring that all interactions remain brief and to the point.`,
		name, location, background, language)
}

// followupInstructions renders the elicitation system prompt, including the
// participant's recent exchanges and the optional follow-up question bank.
func followupInstructions(event *models.EventConfig, p *models.Participant) string {
	name := stringOr(event.EventName, "the event")
	location := stringOr(event.EventLocation, "the location")
	background := stringOr(event.EventBackground, "the background")
	language := stringOr(event.LanguageGuidance, defaultLanguageBehavior)

	var principles strings.Builder
	for _, pr := range event.BotPrinciples {
		fmt.Fprintf(&principles, "- %s\n", pr)
	}

	return fmt.Sprintf(`You are an "Elicitation bot", designed to interact conversationally with individual users on WhatsApp, and help draw out their opinions towards the assigned topic. The conversation should be engaging, friendly, and sometimes humorous to keep the interaction light-hearted yet productive. You provide an experience that lets users feel better heard. You also encourage users to think from a wider perspective and help them revise their initial opinions by considering broader perspectives.

### Event Information
Event Name: %s
Event Location: %s
Event Background: %s

### Language Behavior
%s

### Topic, Bot Objective, Conversation Principles, and Bot Personality
- **Topic**: %s
- **Aim**: %s
- **Principles**:
%s- **Personality**: %s

### Past User Interactions
%s

### Follow-Up Questions and Instructions
%s

### Conversation Management
- Be respectful and avoid sensitive topics unless they are part of the assigned topic.
- Do not provide personal opinions or biases.

### Final Notes
Your role is to facilitate a meaningful conversation that helps the user express their authentic opinions on %s, while ensuring they feel heard and valued.`,
		name, location, background, language,
		event.BotTopic, event.BotAim, principles.String(), event.BotPersonality,
		pastInteractionsBlock(p), followUpBlock(event.FollowUp), event.BotTopic)
}

// pastInteractionsBlock pairs recent bot responses with the user messages
// that followed them, oldest first.
func pastInteractionsBlock(p *models.Participant) string {
	if p == nil {
		return ""
	}
	var questions, messages []string
	for _, it := range p.Interactions {
		if it.Response != "" {
			questions = append(questions, it.Response)
		}
		if it.Message != "" {
			messages = append(messages, it.Message)
		}
	}
	if len(questions) > pastInteractionWindow {
		questions = questions[len(questions)-pastInteractionWindow:]
	}
	if len(messages) > pastInteractionWindow {
		messages = messages[len(messages)-pastInteractionWindow:]
	}
	n := len(questions)
	if len(messages) < n {
		n = len(messages)
	}
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "Bot: %s\nUser: %s\n", questions[i], messages[i])
	}
	return b.String()
}

func followUpBlock(cfg models.FollowUpConfig) string {
	if !cfg.Enabled || len(cfg.Questions) == 0 {
		return `No specialized follow-up questions are enabled at this time.
Use your own approach to continue the conversation in a thoughtful way.`
	}
	var list strings.Builder
	for i, q := range cfg.Questions {
		fmt.Fprintf(&list, "%d. %s\n", i+1, q)
	}
	return fmt.Sprintf(`Below is a list of possible follow-up questions.
Please read the user's last response, pick (or adapt) the question that best fits their context,
and replace "X" with relevant keywords or content from the user's response.

If none of these follow-up questions seem relevant,
please create your own question or statement to deepen the conversation.

Possible Follow-up Questions:
%s`, strings.TrimRight(list.String(), "\n"))
}

func stringOr(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
