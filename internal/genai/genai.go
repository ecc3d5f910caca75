// Package genai provides GenAI-enhanced operations using the OpenAI API.
//
// It wraps chat completions with a primary/fallback model strategy, exposes
// Whisper transcription for voice notes, and hosts the structured field
// extractors used during onboarding.
package genai

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Model selection defaults. Events may override the primary model; the
// fallback is used when the primary call fails or returns nothing.
const (
	DefaultModel  = openai.ChatModelGPT4oMini
	FallbackModel = "gpt-4.1-mini"
	// ExtractionModel is used for structured field extraction.
	ExtractionModel = openai.ChatModelGPT4o
)

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey string
}

// Option defines a functional option for configuring the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// Message is one turn of conversation history passed to a completion.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// CompletionRequest describes a chat completion call.
type CompletionRequest struct {
	Model       string  // empty means DefaultModel
	System      string  // system prompt, prepended when non-empty
	User        string  // final user message; ignored when empty
	History     []Message
	Temperature float64 // applied when > 0
	MaxTokens   int64   // applied when > 0
}

// CompletionResult carries the completion text and which model produced it.
type CompletionResult struct {
	Text     string
	Model    string
	Fallback bool
}

// ClientInterface defines the GenAI operations the rest of the system uses.
// It exists so handlers can be tested with a mock client.
type ClientInterface interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	CompleteWithFallback(ctx context.Context, req CompletionRequest) (CompletionResult, error)
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)

	ExtractEventID(ctx context.Context, input string, validIDs []string) (string, error)
	ExtractName(ctx context.Context, input, eventName, eventLocation string) (string, error)
	ExtractAge(ctx context.Context, input string) (string, error)
	ExtractGender(ctx context.Context, input string) (string, error)
	ExtractRegion(ctx context.Context, input string) (string, error)
}

// chatService is the slice of the OpenAI client used for completions.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// transcriptionService is the slice of the OpenAI client used for audio.
type transcriptionService interface {
	New(ctx context.Context, params openai.AudioTranscriptionNewParams, opts ...option.RequestOption) (*openai.Transcription, error)
}

// The SDK services satisfy these interfaces with pointer receivers only.
var (
	_ chatService          = (*openai.ChatCompletionService)(nil)
	_ transcriptionService = (*openai.AudioTranscriptionService)(nil)
)

// Client wraps the OpenAI API for completions, transcription, and extraction.
type Client struct {
	chat  chatService
	audio transcriptionService
}

// NewClient initializes a new GenAI client. The API key is taken from options
// or falls back to the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	cli := openai.NewClient(option.WithAPIKey(apiKey))
	slog.Debug("GenAI client initialized")
	return &Client{chat: &cli.Chat.Completions, audio: &cli.Audio.Transcriptions}, nil
}

func buildParams(req CompletionRequest) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.History {
		if m.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(m.Content))
		} else {
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	if req.User != "" {
		messages = append(messages, openai.UserMessage(req.User))
	}
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}
	return params
}

// Complete runs a single chat completion and returns the response text.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	params := buildParams(req)
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		slog.Error("GenAI Complete failed", "error", err, "model", params.Model)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// CompleteWithFallback runs the completion against the requested model and
// retries once with FallbackModel when the primary attempt fails or returns
// an empty response.
func (c *Client) CompleteWithFallback(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	primary := req.Model
	if primary == "" {
		primary = DefaultModel
	}
	req.Model = primary
	text, err := c.Complete(ctx, req)
	if err == nil && text != "" {
		return CompletionResult{Text: text, Model: primary}, nil
	}
	slog.Warn("GenAI CompleteWithFallback retrying with fallback model", "primary", primary, "fallback", FallbackModel, "error", err)

	req.Model = FallbackModel
	text, err = c.Complete(ctx, req)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("both models failed, last error from %s: %w", FallbackModel, err)
	}
	if text == "" {
		return CompletionResult{}, fmt.Errorf("both models returned empty responses")
	}
	return CompletionResult{Text: text, Model: FallbackModel, Fallback: true}, nil
}

// Transcribe converts an audio recording to text using Whisper.
func (c *Client) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	resp, err := c.audio.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(audio, filename, "application/octet-stream"),
		Model: openai.AudioModelWhisper1,
	})
	if err != nil {
		slog.Error("GenAI Transcribe failed", "error", err, "filename", filename)
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
