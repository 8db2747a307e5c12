package repository

import "context"

// LiveNotifier is a non-durable, in-process pub/sub channel used to push the
// keys of newly stored parcels to open client connections. Notifications are
// buffered and then exert backpressure; they are never dropped.
type LiveNotifier interface {
	Publish(ctx context.Context, topic, objectKey string) error
	Subscribe(topic string) (notifications <-chan string, cancel func())
}
