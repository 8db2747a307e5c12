package parcelstore

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/multierr"

	"github.com/relaycorp/awala-gateway-internet-sub001/internal/domain/entity"
	"github.com/relaycorp/awala-gateway-internet-sub001/internal/domain/repository"
	"github.com/relaycorp/awala-gateway-internet-sub001/pkg/logger"
)

// streamBuffer decouples the stream consumer from the queue subscription so
// a slow consumer does not stall the broker take loop.
const streamBuffer = 16

// LiveStreamActiveParcelsForPeer yields every active parcel stored for the
// peer, followed by parcels announced after the stream starts, until ctx is
// cancelled. There is no ordering guarantee between the historical tail and
// the first live item, and duplicates are possible; omissions are not: the
// queue subscription is opened before the historical listing starts.
//
// Each item's Ack must be invoked exactly once by the consumer; it
// acknowledges the underlying queue message (if any) and deletes the stored
// object.
func (s *Store) LiveStreamActiveParcelsForPeer(ctx context.Context, peerID string) (<-chan entity.StreamedParcel, error) {
	queueMsgs, err := s.queue.Subscribe(ctx, PeerChannelName(peerID))
	if err != nil {
		return nil, err
	}

	out := make(chan entity.StreamedParcel, streamBuffer)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.streamHistorical(ctx, peerID, out)
	}()
	go func() {
		defer wg.Done()
		s.streamLive(ctx, queueMsgs, out)
	}()
	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

// streamHistorical yields the parcels already stored when the stream
// started. Their acks only delete the object; there is no queue message to
// acknowledge.
func (s *Store) streamHistorical(ctx context.Context, peerID string, out chan<- entity.StreamedParcel) {
	keys, err := s.objects.ListKeys(ctx, gatewayBoundPeerPrefix(peerID))
	if err != nil {
		s.logger.Error("Failed to list stored parcels for stream",
			logger.String("peer_id", peerID),
			logger.Error(err),
		)
		return
	}

	for _, key := range keys {
		obj, err := s.getActiveParcel(ctx, key)
		if err != nil {
			s.logger.Error("Failed to retrieve stored parcel for stream",
				logger.String("key", key),
				logger.Error(err),
			)
			return
		}
		if obj == nil {
			continue
		}

		key := obj.Key
		item := entity.StreamedParcel{
			Key:  key,
			Body: obj.Body,
			Ack: oneShot(func(ackCtx context.Context) error {
				return s.objects.Delete(ackCtx, key)
			}),
		}

		select {
		case out <- item:
		case <-ctx.Done():
			return
		}
	}
}

// streamLive turns queue announcements into stream items. Each item's ack
// acknowledges the queue message and deletes the object.
func (s *Store) streamLive(ctx context.Context, msgs <-chan *repository.QueueMessage, out chan<- entity.StreamedParcel) {
	for msg := range msgs {
		key := string(msg.Payload)

		obj, err := s.getActiveParcel(ctx, key)
		if err != nil {
			// Infrastructure failure: leave the announcement for redelivery.
			s.logger.Error("Failed to retrieve announced parcel",
				logger.String("key", key),
				logger.Error(err),
			)
			if rerr := msg.Release(); rerr != nil {
				s.logger.Warn("Failed to release announcement", logger.Error(rerr))
			}
			continue
		}
		if obj == nil {
			// Vanished, expired or invalid: the announcement is settled.
			if err := s.objects.Delete(ctx, key); err != nil && !errors.Is(err, entity.ErrObjectNotFound) {
				s.logger.Warn("Failed to delete inactive parcel", logger.String("key", key), logger.Error(err))
			}
			if err := msg.Ack(); err != nil {
				s.logger.Warn("Failed to ack announcement", logger.Error(err))
			}
			continue
		}

		ack := msg.Ack
		item := entity.StreamedParcel{
			Key:  key,
			Body: obj.Body,
			Ack: oneShot(func(ackCtx context.Context) error {
				return multierr.Append(ack(), s.objects.Delete(ackCtx, key))
			}),
		}

		select {
		case out <- item:
		case <-ctx.Done():
			// Never handed to the consumer; put the announcement back.
			if err := msg.Release(); err != nil {
				s.logger.Warn("Failed to release announcement on cancellation", logger.Error(err))
			}
			return
		}
	}
}

// oneShot makes an ack safe against double invocation: the first call runs
// it, later calls return the first call's result. Calling an ack twice is a
// caller bug, not a retry signal.
func oneShot(fn entity.AckFunc) entity.AckFunc {
	var once sync.Once
	var result error
	return func(ctx context.Context) error {
		once.Do(func() {
			result = fn(ctx)
		})
		return result
	}
}
