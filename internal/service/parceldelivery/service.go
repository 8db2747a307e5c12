package parceldelivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relaycorp/awala-gateway-internet-sub001/internal/domain/entity"
	"github.com/relaycorp/awala-gateway-internet-sub001/internal/domain/repository"
	"github.com/relaycorp/awala-gateway-internet-sub001/internal/parcelstore"
	"github.com/relaycorp/awala-gateway-internet-sub001/pkg/logger"
)

// ParcelStore defines the parcel store operations the worker needs
type ParcelStore interface {
	RetrieveEndpointBoundParcel(ctx context.Context, key string) ([]byte, error)
	DeleteEndpointBoundParcel(ctx context.Context, key string) error
}

// Service consumes queued delivery records and attempts to deliver each
// referenced parcel to its public endpoint. Every classified outcome ends in
// exactly one acknowledgement; only infrastructure failures leave a record
// un-acked for redelivery.
type Service struct {
	queue       repository.QueueClient
	store       ParcelStore
	deliverer   repository.ParcelDeliverer
	maxAttempts int
	logger      *logger.Logger
	now         func() time.Time
}

// NewService creates a new parcel delivery service
func NewService(
	queue repository.QueueClient,
	store ParcelStore,
	deliverer repository.ParcelDeliverer,
	maxAttempts int,
	log *logger.Logger,
) *Service {
	if maxAttempts <= 0 {
		maxAttempts = entity.MaxDeliveryAttempts
	}
	return &Service{
		queue:       queue,
		store:       store,
		deliverer:   deliverer,
		maxAttempts: maxAttempts,
		logger:      log,
		now:         time.Now,
	}
}

// Run consumes the delivery channel until ctx is cancelled
func (s *Service) Run(ctx context.Context) error {
	msgs, err := s.queue.Subscribe(ctx, parcelstore.DeliveryChannelName)
	if err != nil {
		return fmt.Errorf("failed to subscribe to delivery channel: %w", err)
	}

	s.logger.Info("Parcel delivery worker started",
		logger.String("channel", parcelstore.DeliveryChannelName),
		logger.Int("max_attempts", s.maxAttempts),
	)

	for msg := range msgs {
		if err := s.processRecord(ctx, msg); err != nil {
			s.logger.Error("Aborting delivery record without acknowledgement", logger.Error(err))
			if rerr := msg.Release(); rerr != nil {
				s.logger.Warn("Failed to release delivery record", logger.Error(rerr))
			}
		}
	}

	s.logger.Info("Parcel delivery worker stopped")
	return ctx.Err()
}

// processRecord handles one queued delivery record. It acks the message on
// every classified outcome; a returned error means the record was aborted
// and must be released.
func (s *Service) processRecord(ctx context.Context, msg *repository.QueueMessage) error {
	record, err := entity.UnmarshalDeliveryRecord(msg.Payload)
	if err != nil {
		s.logger.Warn("Discarding malformed delivery record", logger.Error(err))
		return msg.Ack()
	}

	log := s.logger.WithField("key", record.ParcelObjectKey).
		WithField("recipient", record.ParcelRecipientAddress)

	if record.IsExpired(s.now()) {
		// Expired parcels are never attempted.
		if err := s.store.DeleteEndpointBoundParcel(ctx, record.ParcelObjectKey); err != nil {
			return err
		}
		log.Info("Discarded expired parcel", logger.Time("expiry", record.ParcelExpiryDate))
		return msg.Ack()
	}

	body, err := s.store.RetrieveEndpointBoundParcel(ctx, record.ParcelObjectKey)
	if err != nil {
		if errors.Is(err, entity.ErrObjectNotFound) {
			// The delete-then-ack pair of a previous attempt is not atomic,
			// so a redelivered record can find the object gone: another
			// consumer already completed this delivery.
			log.Debug("Parcel object already handled")
			return msg.Ack()
		}
		return err
	}

	err = s.deliverer.DeliverParcel(ctx, record.ParcelRecipientAddress, body)
	switch {
	case err == nil:
		if err := s.store.DeleteEndpointBoundParcel(ctx, record.ParcelObjectKey); err != nil {
			return err
		}
		log.Info("Parcel delivered", logger.Int("attempt", record.DeliveryAttempts+1))
		return msg.Ack()

	case errors.Is(err, entity.ErrInvalidParcel), errors.Is(err, entity.ErrBindingViolation):
		// Permanent rejection: never retried, regardless of the counter.
		if derr := s.store.DeleteEndpointBoundParcel(ctx, record.ParcelObjectKey); derr != nil {
			return derr
		}
		log.Info("Delivery abandoned: parcel rejected by endpoint", logger.Error(err))
		return msg.Ack()

	default:
		return s.handleTransientFailure(ctx, log, msg, record, err)
	}
}

func (s *Service) handleTransientFailure(
	ctx context.Context,
	log *logger.Logger,
	msg *repository.QueueMessage,
	record *entity.DeliveryRecord,
	cause error,
) error {
	attempts := record.DeliveryAttempts + 1

	if attempts >= s.maxAttempts {
		if err := s.store.DeleteEndpointBoundParcel(ctx, record.ParcelObjectKey); err != nil {
			return err
		}
		log.Warn("Delivery abandoned after transient failures",
			logger.Int("attempts", attempts),
			logger.Error(cause),
		)
		return msg.Ack()
	}

	requeued := *record
	requeued.DeliveryAttempts = attempts
	payload, err := requeued.Marshal()
	if err != nil {
		return err
	}
	if err := s.queue.Publish(ctx, parcelstore.DeliveryChannelName, payload); err != nil {
		return err
	}

	log.Info("Delivery requeued after transient failure",
		logger.Int("attempts", attempts),
		logger.Error(cause),
	)
	return msg.Ack()
}
