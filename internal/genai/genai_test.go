package genai

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// fakeChat returns scripted responses per model, recording each call.
type fakeChat struct {
	responses map[string]string
	errors    map[string]error
	calls     []openai.ChatCompletionNewParams
}

func (f *fakeChat) New(_ context.Context, params openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.calls = append(f.calls, params)
	if err, ok := f.errors[params.Model]; ok {
		return nil, err
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.responses[params.Model]}},
		},
	}, nil
}

func TestCompleteWithFallbackUsesPrimary(t *testing.T) {
	chat := &fakeChat{responses: map[string]string{DefaultModel: "primary reply"}}
	c := &Client{chat: chat}

	res, err := c.CompleteWithFallback(context.Background(), CompletionRequest{User: "hello"})
	if err != nil {
		t.Fatalf("CompleteWithFallback: %v", err)
	}
	if res.Text != "primary reply" || res.Model != DefaultModel || res.Fallback {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(chat.calls) != 1 {
		t.Errorf("expected 1 call, got %d", len(chat.calls))
	}
}

func TestCompleteWithFallbackRetriesOnFailure(t *testing.T) {
	chat := &fakeChat{
		errors:    map[string]error{DefaultModel: fmt.Errorf("rate limited")},
		responses: map[string]string{FallbackModel: "fallback reply"},
	}
	c := &Client{chat: chat}

	res, err := c.CompleteWithFallback(context.Background(), CompletionRequest{User: "hello"})
	if err != nil {
		t.Fatalf("CompleteWithFallback: %v", err)
	}
	if res.Text != "fallback reply" || res.Model != FallbackModel || !res.Fallback {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(chat.calls) != 2 {
		t.Errorf("expected 2 calls, got %d", len(chat.calls))
	}
}

func TestCompleteWithFallbackRetriesOnEmptyResponse(t *testing.T) {
	chat := &fakeChat{responses: map[string]string{DefaultModel: "", FallbackModel: "recovered"}}
	c := &Client{chat: chat}

	res, err := c.CompleteWithFallback(context.Background(), CompletionRequest{User: "hello"})
	if err != nil {
		t.Fatalf("CompleteWithFallback: %v", err)
	}
	if res.Text != "recovered" || !res.Fallback {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestCompleteWithFallbackBothFail(t *testing.T) {
	chat := &fakeChat{errors: map[string]error{
		DefaultModel:  fmt.Errorf("down"),
		FallbackModel: fmt.Errorf("also down"),
	}}
	c := &Client{chat: chat}

	if _, err := c.CompleteWithFallback(context.Background(), CompletionRequest{User: "hello"}); err == nil {
		t.Fatalf("expected error when both models fail")
	}
}

func TestExtractEventIDMapsSentinel(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{"id found", "town-hall-2026", "town-hall-2026"},
		{"sentinel maps to empty", "No event ID found", ""},
		{"quoted id is trimmed", `"town-hall-2026"`, "town-hall-2026"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &fakeChat{responses: map[string]string{ExtractionModel: tt.response}}
			c := &Client{chat: chat}
			got, err := c.ExtractEventID(context.Background(), "sign me up", []string{"town-hall-2026", "park-cleanup"})
			if err != nil {
				t.Fatalf("ExtractEventID: %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractEventID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEventIDPromptListsValidIDs(t *testing.T) {
	prompt := eventIDPrompt([]string{"ev-a", "ev-b"})
	if !strings.Contains(prompt, "ev-a, ev-b") {
		t.Errorf("prompt missing valid id list: %s", prompt)
	}
	if !strings.Contains(prompt, noEventIDSentinel) {
		t.Errorf("prompt missing sentinel instruction")
	}
}

func TestNamePromptDefaults(t *testing.T) {
	prompt := namePrompt("", "")
	if !strings.Contains(prompt, "the event in the location") {
		t.Errorf("expected placeholder defaults, got: %s", prompt)
	}
	prompt = namePrompt("Town Hall", "Utrecht")
	if !strings.Contains(prompt, "Town Hall in Utrecht") {
		t.Errorf("expected event details in prompt, got: %s", prompt)
	}
}

func TestBuildParamsMessageOrder(t *testing.T) {
	params := buildParams(CompletionRequest{
		System:  "be brief",
		History: []Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}},
		User:    "how are you",
	})
	if len(params.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(params.Messages))
	}
	if params.Model != DefaultModel {
		t.Errorf("expected default model, got %s", params.Model)
	}
}
