package genai

import (
	"context"
	"io"
)

// MockClient implements ClientInterface for tests. Each method delegates to
// the corresponding function field when set and returns a zero value otherwise.
type MockClient struct {
	CompleteFn             func(ctx context.Context, req CompletionRequest) (string, error)
	CompleteWithFallbackFn func(ctx context.Context, req CompletionRequest) (CompletionResult, error)
	TranscribeFn           func(ctx context.Context, filename string, audio io.Reader) (string, error)
	ExtractEventIDFn       func(ctx context.Context, input string, validIDs []string) (string, error)
	ExtractNameFn          func(ctx context.Context, input, eventName, eventLocation string) (string, error)
	ExtractAgeFn           func(ctx context.Context, input string) (string, error)
	ExtractGenderFn        func(ctx context.Context, input string) (string, error)
	ExtractRegionFn        func(ctx context.Context, input string) (string, error)
}

// NewMockClient creates an empty mock GenAI client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if m.CompleteFn != nil {
		return m.CompleteFn(ctx, req)
	}
	return "", nil
}

func (m *MockClient) CompleteWithFallback(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	if m.CompleteWithFallbackFn != nil {
		return m.CompleteWithFallbackFn(ctx, req)
	}
	return CompletionResult{}, nil
}

func (m *MockClient) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	if m.TranscribeFn != nil {
		return m.TranscribeFn(ctx, filename, audio)
	}
	return "", nil
}

func (m *MockClient) ExtractEventID(ctx context.Context, input string, validIDs []string) (string, error) {
	if m.ExtractEventIDFn != nil {
		return m.ExtractEventIDFn(ctx, input, validIDs)
	}
	return "", nil
}

func (m *MockClient) ExtractName(ctx context.Context, input, eventName, eventLocation string) (string, error) {
	if m.ExtractNameFn != nil {
		return m.ExtractNameFn(ctx, input, eventName, eventLocation)
	}
	return "", nil
}

func (m *MockClient) ExtractAge(ctx context.Context, input string) (string, error) {
	if m.ExtractAgeFn != nil {
		return m.ExtractAgeFn(ctx, input)
	}
	return "", nil
}

func (m *MockClient) ExtractGender(ctx context.Context, input string) (string, error) {
	if m.ExtractGenderFn != nil {
		return m.ExtractGenderFn(ctx, input)
	}
	return "", nil
}

func (m *MockClient) ExtractRegion(ctx context.Context, input string) (string, error) {
	if m.ExtractRegionFn != nil {
		return m.ExtractRegionFn(ctx, input)
	}
	return "", nil
}
