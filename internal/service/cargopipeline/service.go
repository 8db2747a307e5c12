package cargopipeline

import (
	"context"
	"fmt"

	"github.com/relaycorp/awala-gateway-internet-sub001/internal/domain/entity"
	"github.com/relaycorp/awala-gateway-internet-sub001/internal/domain/repository"
	"github.com/relaycorp/awala-gateway-internet-sub001/pkg/logger"
)

// CargoChannelName is the durable queue channel carrying incoming cargo
// frames from peer gateways.
const CargoChannelName = "cargo.gateway"

// ParcelStore defines the parcel store operations the pipeline needs
type ParcelStore interface {
	StoreGatewayBoundParcel(ctx context.Context, parcel *entity.Parcel, serialized []byte, peerID string) (string, error)
	StoreEndpointBoundParcel(ctx context.Context, parcel *entity.Parcel, serialized []byte, peerID string) (string, error)
	DeleteGatewayBoundParcel(ctx context.Context, parcelID, senderID, recipientAddress, peerID string) error
}

// Service consumes incoming cargo, unwraps each into items and dispatches
// them. A cargo is acknowledged only once every item has been processed or
// deliberately skipped; infrastructure failures leave it un-acked so the
// broker redelivers it.
type Service struct {
	queue  repository.QueueClient
	store  ParcelStore
	codec  repository.CargoCodec
	logger *logger.Logger
}

// NewService creates a new cargo pipeline service
func NewService(
	queue repository.QueueClient,
	store ParcelStore,
	codec repository.CargoCodec,
	log *logger.Logger,
) *Service {
	return &Service{
		queue:  queue,
		store:  store,
		codec:  codec,
		logger: log,
	}
}

// Run consumes the cargo channel until ctx is cancelled
func (s *Service) Run(ctx context.Context) error {
	msgs, err := s.queue.Subscribe(ctx, CargoChannelName)
	if err != nil {
		return fmt.Errorf("failed to subscribe to cargo channel: %w", err)
	}

	s.logger.Info("Cargo pipeline started", logger.String("channel", CargoChannelName))

	for msg := range msgs {
		if err := s.processCargo(ctx, msg); err != nil {
			s.logger.Error("Aborting cargo without acknowledgement", logger.Error(err))
			if rerr := msg.Release(); rerr != nil {
				s.logger.Warn("Failed to release cargo message", logger.Error(rerr))
			}
		}
	}

	s.logger.Info("Cargo pipeline stopped")
	return ctx.Err()
}

// processCargo runs the per-cargo state machine. It acks the message itself
// on every terminal path; a returned error means the cargo was aborted and
// must be released for redelivery.
func (s *Service) processCargo(ctx context.Context, msg *repository.QueueMessage) error {
	cargo, err := s.codec.DeserializeCargo(msg.Payload)
	if err != nil {
		// Permanently unreadable; redelivery cannot help.
		s.logger.Warn("Discarding malformed cargo", logger.Error(err))
		return msg.Ack()
	}

	log := s.logger.WithField("cargo_id", cargo.ID).WithField("peer_id", cargo.SenderID)

	items, err := s.codec.UnwrapCargoPayload(ctx, cargo)
	if err != nil {
		if entity.IsUnavailableError(err) {
			// Key store outage: keep the cargo queued for retry.
			return err
		}
		log.Warn("Discarding cargo with invalid payload", logger.Error(err))
		return msg.Ack()
	}

	for i, raw := range items {
		if err := s.processItem(ctx, log, cargo, raw); err != nil {
			return fmt.Errorf("failed to process cargo item %d: %w", i, err)
		}
	}

	if err := msg.Ack(); err != nil {
		return err
	}

	log.Info("Cargo processed", logger.Int("items", len(items)))
	return nil
}

// processItem handles one decoded cargo item. Malformed or policy-rejected
// items are logged and skipped; any other failure aborts the cargo.
func (s *Service) processItem(ctx context.Context, log *logger.Logger, cargo *entity.Cargo, raw []byte) error {
	item, err := s.codec.DeserializeCargoItem(raw)
	if err != nil {
		log.Warn("Skipping malformed cargo item", logger.Error(err))
		return nil
	}

	switch it := item.(type) {
	case entity.ParcelItem:
		return s.processParcel(ctx, log, cargo.SenderID, it)

	case entity.CollectionAckItem:
		if err := s.store.DeleteGatewayBoundParcel(ctx, it.ParcelID, it.SenderID, it.RecipientAddress, cargo.SenderID); err != nil {
			return err
		}
		log.Info("Collection acknowledgement processed", logger.String("parcel_id", it.ParcelID))
		return nil

	case entity.RotationNoticeItem:
		log.Info("Ignoring certificate rotation notice", logger.String("subject_id", it.SubjectID))
		return nil

	default:
		log.Warn("Skipping cargo item of unknown kind")
		return nil
	}
}

func (s *Service) processParcel(ctx context.Context, log *logger.Logger, peerID string, item entity.ParcelItem) error {
	var err error
	if item.Parcel.IsRecipientPublic() {
		_, err = s.store.StoreEndpointBoundParcel(ctx, item.Parcel, item.Serialized, peerID)
	} else {
		_, err = s.store.StoreGatewayBoundParcel(ctx, item.Parcel, item.Serialized, peerID)
	}

	if err != nil {
		if entity.IsMessageError(err) {
			log.Warn("Skipping rejected parcel",
				logger.String("parcel_id", item.Parcel.ID),
				logger.Error(err),
			)
			return nil
		}
		return err
	}

	return nil
}
