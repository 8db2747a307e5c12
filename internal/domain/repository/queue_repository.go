package repository

import "context"

// QueueMessage is one consumed message of a durable queue channel. Exactly
// one of Ack or Release must be called per message: Ack removes it, Release
// returns it for redelivery.
type QueueMessage struct {
	Payload []byte
	Ack     func() error
	Release func() error
}

// QueueClient provides durable, at-least-once message channels. Subscribe
// delivers messages sequentially per channel; the returned channel closes
// when ctx is cancelled.
type QueueClient interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan *QueueMessage, error)
}
