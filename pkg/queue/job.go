package queue

import "context"

// Job handles one message type pulled off the queue.
type Job interface {
	Name() string
	// Type is the message type the job consumes.
	Type() string
	Handle(ctx context.Context, payload interface{}) error
}
