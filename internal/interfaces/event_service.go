package interfaces

import (
	"context"

	"github.com/ternarybob/gusto/internal/models"
)

// EventHandler is a function that receives published frames
type EventHandler func(ctx context.Context, event *models.Event)

// EventService is the fire-and-forget frame publisher. Publish never
// blocks the pipeline and never surfaces delivery failures; a failed
// delivery is logged at warn and dropped.
type EventService interface {
	// Subscribe registers a handler for all frames. Returns an id used to
	// unsubscribe.
	Subscribe(handler EventHandler) int

	// SubscribeRequest registers a handler for frames of one request id
	SubscribeRequest(requestID string, handler EventHandler) int

	// Unsubscribe removes a handler by subscription id
	Unsubscribe(id int)

	// Publish delivers a frame to all matching subscribers asynchronously
	Publish(ctx context.Context, event *models.Event)

	// PublishSync delivers a frame and returns once every matching handler
	// has finished. Used for terminal frames where the publisher is about
	// to exit and the frame must not be lost in flight.
	PublishSync(ctx context.Context, event *models.Event)

	// Close shuts down the event service
	Close() error
}
