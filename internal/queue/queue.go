package queue

import (
	"context"
	"fmt"
)

// Publisher publishes call outcome messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg CallOutcomeMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg CallOutcomeMessage) error

// Consumer consumes call outcome messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// OutcomeQueue carries post-call reports from the webhook to the outcome worker.
	OutcomeQueue = "call.outcomes"

	outcomeRoutingKey = "call.outcomes"
)

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.call.outcomes.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// WorkQueueNames returns all declared work queues.
func WorkQueueNames() []string {
	return []string{OutcomeQueue}
}

// DLQNames returns all declared dead-letter queues.
func DLQNames() []string {
	return []string{DLQName(OutcomeQueue)}
}
