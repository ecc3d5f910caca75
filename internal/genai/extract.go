package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Sentinel strings the extraction prompts instruct the model to return when
// the requested field is absent. Extractors map them to an empty result.
const (
	noEventIDSentinel = "No event ID found"
	noAgeSentinel     = "No age found"
	noGenderSentinel  = "No gender found"
	noRegionSentinel  = "No region found"
)

func eventIDPrompt(validIDs []string) string {
	return fmt.Sprintf(`You are to extract the event ID from the user's input. The event ID is one of the following IDs:
%s.

The user's input may contain additional text. Your task is to identify and extract the event ID from the input.

Return only the event ID. If you cannot find an event ID in the user's input, return '%s'.`,
		strings.Join(validIDs, ", "), noEventIDSentinel)
}

func namePrompt(eventName, eventLocation string) string {
	if eventName == "" {
		eventName = "the event"
	}
	if eventLocation == "" {
		eventLocation = "the location"
	}
	return fmt.Sprintf(`You are to extract the participant's name from the user's input. The user is participating in %s in %s.

Instructions:
- The user's input may contain their name or a statement that they prefer to remain anonymous.
- If the user provides their name, extract only the name.
- If the user indicates they prefer to remain anonymous, return "Anonymous".
- If you cannot find a name in the user's input, return an empty string.

Examples:
- User Input: "My name is John." => Output: "John"
- User Input: "I prefer not to share my name." => Output: "Anonymous"
- User Input: "Anonymous" => Output: "Anonymous"
- User Input: "Just call me Jane Doe." => Output: "Jane Doe"
- User Input: "Hello!" => Output: ""`, eventName, eventLocation)
}

const agePrompt = `You are to extract the participant's age from the user's input. The age should be an integer representing the person's age in years.

The user's input may contain additional text. Your task is to identify and extract the age from the input.

Return only the age as a number. If you cannot find an age in the user's input, return 'No age found'.`

const genderPrompt = `You are to extract the participant's gender from the user's input.

The user's input may contain additional text. Your task is to identify and extract the gender from the input.

Return only the gender. Acceptable responses are 'Male', 'Female', 'Non-binary', or 'Other'. If you cannot find a gender in the user's input, return 'No gender found'.`

const regionPrompt = `You are to extract the participant's region or location from the user's input.

The user's input may contain additional text. Your task is to identify and extract the region from the input.

Return only the region or location. If you cannot find a region in the user's input, return 'No region found'.`

// extractField runs an extraction completion and maps the sentinel to "".
func (c *Client) extractField(ctx context.Context, system, input, sentinel string, temperature float64, maxTokens int64) (string, error) {
	text, err := c.Complete(ctx, CompletionRequest{
		Model:       ExtractionModel,
		System:      system,
		User:        input,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", err
	}
	text = strings.Trim(strings.TrimSpace(text), `"'`)
	if text == "" || strings.EqualFold(text, sentinel) {
		return "", nil
	}
	return text, nil
}

// ExtractEventID pulls an event ID out of free-form input. It returns "" when
// the model finds no ID among the valid ones.
func (c *Client) ExtractEventID(ctx context.Context, input string, validIDs []string) (string, error) {
	id, err := c.extractField(ctx, eventIDPrompt(validIDs), input, noEventIDSentinel, 0.2, 20)
	if err != nil {
		slog.Error("GenAI ExtractEventID failed", "error", err)
		return "", err
	}
	slog.Debug("GenAI ExtractEventID", "extracted", id)
	return id, nil
}

// ExtractName pulls the participant's name out of free-form input. It returns
// "Anonymous" when the user declines and "" when no name is present.
func (c *Client) ExtractName(ctx context.Context, input, eventName, eventLocation string) (string, error) {
	name, err := c.extractField(ctx, namePrompt(eventName, eventLocation), input, "none", 0.6, 50)
	if err != nil {
		slog.Error("GenAI ExtractName failed", "error", err)
		return "", err
	}
	return name, nil
}

// ExtractAge pulls the participant's age out of free-form input.
func (c *Client) ExtractAge(ctx context.Context, input string) (string, error) {
	return c.extractField(ctx, agePrompt, input, noAgeSentinel, 0.3, 50)
}

// ExtractGender pulls the participant's gender out of free-form input.
func (c *Client) ExtractGender(ctx context.Context, input string) (string, error) {
	return c.extractField(ctx, genderPrompt, input, noGenderSentinel, 0.4, 60)
}

// ExtractRegion pulls the participant's region out of free-form input.
func (c *Client) ExtractRegion(ctx context.Context, input string) (string, error) {
	return c.extractField(ctx, regionPrompt, input, noRegionSentinel, 0.4, 60)
}
