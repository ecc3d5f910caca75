// Package messaging provides response handling for inbound participant messages.
package messaging

import (
	"context"
	"log/slog"

	"github.com/aoi-labs/elicitbot/internal/models"
)

// ResponseAction processes one inbound participant message. Implementations
// own the conversation logic; the handler only routes.
type ResponseAction func(ctx context.Context, response models.Response) error

// ResponseHandler drains a Service's Responses channel and dispatches each
// inbound message to the configured action. It is the glue between the
// event-driven transports and the bot engine.
type ResponseHandler struct {
	msgService Service
	action     ResponseAction
}

// NewResponseHandler creates a handler routing inbound messages to action.
func NewResponseHandler(msgService Service, action ResponseAction) *ResponseHandler {
	return &ResponseHandler{msgService: msgService, action: action}
}

// Start begins consuming inbound responses until the context is cancelled or
// the responses channel closes. It runs in its own goroutine.
func (rh *ResponseHandler) Start(ctx context.Context) {
	go func() {
		slog.Debug("ResponseHandler starting response processing loop")
		for {
			select {
			case <-ctx.Done():
				slog.Debug("ResponseHandler stopping due to context cancellation")
				return
			case response, ok := <-rh.msgService.Responses():
				if !ok {
					slog.Debug("ResponseHandler responses channel closed")
					return
				}
				if err := rh.action(ctx, response); err != nil {
					slog.Error("ResponseHandler action failed", "error", err, "from", response.From)
				}
			}
		}
	}()
}
