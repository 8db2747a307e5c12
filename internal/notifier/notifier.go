package notifier

import (
	"context"
	"sync"

	"github.com/relaycorp/awala-gateway-internet-sub001/pkg/logger"
)

// subscriptionBuffer is how many notifications a subscriber can fall behind
// before publishers start blocking on it.
const subscriptionBuffer = 100

type subscription struct {
	ch   chan string
	done chan struct{}
}

// Notifier is an in-process pub/sub channel for pushing the keys of newly
// stored parcels to open client connections. It is constructed once at
// process start and shared. Notifications are buffered per subscriber and
// then exert backpressure; they are never dropped.
type Notifier struct {
	mu     sync.Mutex
	subs   map[string]map[uint64]*subscription
	nextID uint64
	logger *logger.Logger
}

// New creates a new Notifier
func New(log *logger.Logger) *Notifier {
	return &Notifier{
		subs:   make(map[string]map[uint64]*subscription),
		logger: log,
	}
}

// Subscribe registers a subscriber for a topic. The subscription channel is
// never closed; callers observe cancellation through their own context and
// must call cancel to release the subscription.
func (n *Notifier) Subscribe(topic string) (<-chan string, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub := &subscription{
		ch:   make(chan string, subscriptionBuffer),
		done: make(chan struct{}),
	}

	if n.subs[topic] == nil {
		n.subs[topic] = make(map[uint64]*subscription)
	}
	id := n.nextID
	n.nextID++
	n.subs[topic][id] = sub

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()

		if subs, ok := n.subs[topic]; ok {
			if s, ok := subs[id]; ok {
				close(s.done)
				delete(subs, id)
				if len(subs) == 0 {
					delete(n.subs, topic)
				}
			}
		}
	}

	return sub.ch, cancel
}

// Publish delivers the object key to every current subscriber of the topic.
// It blocks on subscribers whose buffers are full until they drain, cancel,
// or ctx fires.
func (n *Notifier) Publish(ctx context.Context, topic, objectKey string) error {
	n.mu.Lock()
	subs := make([]*subscription, 0, len(n.subs[topic]))
	for _, sub := range n.subs[topic] {
		subs = append(subs, sub)
	}
	n.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- objectKey:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	n.logger.Debug("Published live notification",
		logger.String("topic", topic),
		logger.String("key", objectKey),
		logger.Int("subscribers", len(subs)),
	)

	return nil
}
