package tarantool

import (
	"context"
	"fmt"
	"time"

	"github.com/relaycorp/awala-gateway-internet-sub001/internal/domain/entity"
	"github.com/relaycorp/awala-gateway-internet-sub001/internal/domain/repository"
	"github.com/relaycorp/awala-gateway-internet-sub001/pkg/logger"
)

// takeTimeout is how long a queue_take call waits server-side for a task
// before returning empty.
const takeTimeout = 5 * time.Second

// errorRetryDelay is how long a subscription waits after a broker error
// before taking again.
const errorRetryDelay = 3 * time.Second

// Queue implements repository.QueueClient on Tarantool queue tubes, driven
// by server-side Lua functions. A tube is created on first use by
// queue_publish/queue_take.
type Queue struct {
	client *Client
	logger *logger.Logger
}

// NewQueue creates a new durable queue client
func NewQueue(client *Client, log *logger.Logger) *Queue {
	return &Queue{
		client: client,
		logger: log,
	}
}

// Publish appends a payload to the given channel
func (q *Queue) Publish(ctx context.Context, channel string, payload []byte) error {
	if channel == "" {
		return fmt.Errorf("channel cannot be empty")
	}

	_, err := q.client.Call("queue_publish", []interface{}{channel, payload})
	if err != nil {
		return entity.NewUnavailableError("queue broker", fmt.Errorf("failed to publish to %s: %w", channel, err))
	}

	q.logger.Debug("Published queue message",
		logger.String("channel", channel),
		logger.Int("size", len(payload)),
	)

	return nil
}

// Subscribe consumes the given channel until ctx is cancelled. Messages are
// delivered sequentially; each must be acked or released exactly once. The
// returned channel closes when ctx fires.
func (q *Queue) Subscribe(ctx context.Context, channel string) (<-chan *repository.QueueMessage, error) {
	if channel == "" {
		return nil, fmt.Errorf("channel cannot be empty")
	}

	out := make(chan *repository.QueueMessage)

	go q.consumeLoop(ctx, channel, out)

	return out, nil
}

func (q *Queue) consumeLoop(ctx context.Context, channel string, out chan<- *repository.QueueMessage) {
	defer close(out)

	for {
		if ctx.Err() != nil {
			return
		}

		msg, err := q.take(channel)
		if err != nil {
			q.logger.Error("Failed to take queue message",
				logger.String("channel", channel),
				logger.Error(err),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(errorRetryDelay):
			}
			continue
		}

		if msg == nil {
			// Take timed out with no task.
			continue
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			// Never handed to a consumer; put it back for redelivery.
			if err := msg.Release(); err != nil {
				q.logger.Warn("Failed to release queue message on shutdown",
					logger.String("channel", channel),
					logger.Error(err),
				)
			}
			return
		}
	}
}

func (q *Queue) take(channel string) (*repository.QueueMessage, error) {
	resp, err := q.client.Call("queue_take", []interface{}{channel, takeTimeout.Seconds()})
	if err != nil {
		return nil, err
	}

	if len(resp) < 2 || resp[0] == nil {
		return nil, nil
	}

	taskID := toUint64(resp[0])
	payload := toBytes(resp[1])

	return &repository.QueueMessage{
		Payload: payload,
		Ack: func() error {
			if _, err := q.client.Call("queue_ack", []interface{}{channel, taskID}); err != nil {
				return entity.NewUnavailableError("queue broker", fmt.Errorf("failed to ack task %d: %w", taskID, err))
			}
			return nil
		},
		Release: func() error {
			if _, err := q.client.Call("queue_release", []interface{}{channel, taskID}); err != nil {
				return entity.NewUnavailableError("queue broker", fmt.Errorf("failed to release task %d: %w", taskID, err))
			}
			return nil
		},
	}, nil
}
