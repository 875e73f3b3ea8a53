package queue

import (
	"context"
	"errors"

	"github.com/blwatch/blwatch/pkg/types"
)

// ErrClosed reports an operation on a closed broker connection.
var ErrClosed = errors.New("broker connection closed")

// Delivery is one in-flight message with the opaque disposition tag the
// broker assigned to it.
type Delivery struct {
	Tag  uint64
	Body []byte
}

// Broker is the capability set the pipeline needs from the message
// transport. Nothing outside this package sees the underlying library.
type Broker interface {
	// EnsureQueue declares the queue idempotently.
	EnsureQueue(name string) error

	// Purge drops all currently-resident messages and returns how many.
	Purge(name string) (int, error)

	// Publish appends each task as a persistent message.
	Publish(ctx context.Context, name string, msgs []types.QueueMessage) error

	// Consume streams deliveries until ctx is cancelled or the broker
	// cancels the consumer; the returned channel is closed either way.
	// prefetch bounds the in-flight window.
	Consume(ctx context.Context, name string, prefetch int) (<-chan Delivery, error)

	// Ack acknowledges one delivery.
	Ack(tag uint64) error

	// Nack negatively acknowledges one delivery, optionally re-queueing it.
	Nack(tag uint64, requeue bool) error

	// MessageCount reports the broker-side depth of the queue.
	MessageCount(name string) (int, error)

	// Close tears down the connection.
	Close() error
}
