package parcelstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relaycorp/awala-gateway-internet-sub001/internal/domain/entity"
	"github.com/relaycorp/awala-gateway-internet-sub001/internal/domain/repository"
	"github.com/relaycorp/awala-gateway-internet-sub001/pkg/logger"
)

// Store is the sole owner of parcel persistence: key derivation, expiry
// enforcement and every read/write/delete against the object store.
type Store struct {
	objects   repository.ObjectStore
	ledger    repository.IdempotencyLedger
	queue     repository.QueueClient
	notifier  repository.LiveNotifier
	validator repository.ParcelValidator
	logger    *logger.Logger
}

// NewStore creates a new parcel store
func NewStore(
	objects repository.ObjectStore,
	ledger repository.IdempotencyLedger,
	queue repository.QueueClient,
	notifier repository.LiveNotifier,
	validator repository.ParcelValidator,
	log *logger.Logger,
) *Store {
	return &Store{
		objects:   objects,
		ledger:    ledger,
		queue:     queue,
		notifier:  notifier,
		validator: validator,
		logger:    log,
	}
}

// StoreGatewayBoundParcel stores a parcel awaiting collection by the peer
// gateway and announces its key on the peer's channels. A trust validation
// failure is returned as-is; it is the caller's cue to skip the parcel.
func (s *Store) StoreGatewayBoundParcel(ctx context.Context, parcel *entity.Parcel, serialized []byte, peerID string) (string, error) {
	if err := s.validator.ValidateForPeer(ctx, parcel, serialized, peerID); err != nil {
		return "", err
	}

	key := gatewayBoundKey(peerID, parcel.RecipientAddress, parcel.SenderID, parcel.ID)

	metadata := map[string]string{expiryMetadataKey: formatExpiry(parcel.ExpiryDate)}
	if err := s.objects.Put(ctx, key, serialized, metadata); err != nil {
		return "", err
	}

	channel := PeerChannelName(peerID)
	if err := s.queue.Publish(ctx, channel, []byte(key)); err != nil {
		return "", err
	}
	if err := s.notifier.Publish(ctx, channel, key); err != nil {
		return "", err
	}

	s.logger.Info("Gateway-bound parcel stored",
		logger.String("key", key),
		logger.String("peer_id", peerID),
		logger.Time("expiry", parcel.ExpiryDate),
	)

	return key, nil
}

// StoreEndpointBoundParcel stores a parcel awaiting online delivery and
// queues its delivery record. A parcel already recorded in the idempotency
// ledger is ignored: no write happens and the returned key is empty.
func (s *Store) StoreEndpointBoundParcel(ctx context.Context, parcel *entity.Parcel, serialized []byte, peerID string) (string, error) {
	if err := s.validator.Validate(ctx, parcel, serialized); err != nil {
		return "", err
	}

	processed, err := s.ledger.WasProcessed(ctx, parcel.ID, parcel.SenderID, parcel.RecipientAddress, peerID)
	if err != nil {
		return "", err
	}
	if processed {
		s.logger.Info("Ignoring duplicate parcel",
			logger.String("parcel_id", parcel.ID),
			logger.String("sender_id", parcel.SenderID),
			logger.String("peer_id", peerID),
		)
		return "", nil
	}

	key := endpointBoundKey(peerID, parcel.SenderID)

	metadata := map[string]string{expiryMetadataKey: formatExpiry(parcel.ExpiryDate)}
	if err := s.objects.Put(ctx, key, serialized, metadata); err != nil {
		return "", err
	}

	record := entity.DeliveryRecord{
		ParcelObjectKey:        key,
		ParcelRecipientAddress: parcel.RecipientAddress,
		ParcelExpiryDate:       parcel.ExpiryDate,
		DeliveryAttempts:       0,
	}
	payload, err := record.Marshal()
	if err != nil {
		return "", err
	}
	if err := s.queue.Publish(ctx, DeliveryChannelName, payload); err != nil {
		return "", err
	}

	// Recorded last: a crash in between yields a duplicate delivery attempt,
	// never a lost parcel.
	if err := s.ledger.RecordProcessed(ctx, parcel.ID, parcel.SenderID, parcel.RecipientAddress, peerID); err != nil {
		return "", err
	}

	s.logger.Info("Endpoint-bound parcel stored",
		logger.String("key", key),
		logger.String("recipient", parcel.RecipientAddress),
		logger.String("peer_id", peerID),
	)

	return key, nil
}

// RetrieveEndpointBoundParcel reads a stored parcel body by key
func (s *Store) RetrieveEndpointBoundParcel(ctx context.Context, key string) ([]byte, error) {
	body, _, err := s.objects.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// DeleteGatewayBoundParcel deletes the stored copy of a collected parcel.
// A missing object is not an error.
func (s *Store) DeleteGatewayBoundParcel(ctx context.Context, parcelID, senderID, recipientAddress, peerID string) error {
	key := gatewayBoundKey(peerID, recipientAddress, senderID, parcelID)
	if err := s.objects.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete gateway-bound parcel: %w", err)
	}

	s.logger.Info("Gateway-bound parcel deleted",
		logger.String("key", key),
		logger.String("peer_id", peerID),
	)
	return nil
}

// DeleteEndpointBoundParcel deletes a stored parcel by key. A missing object
// is not an error.
func (s *Store) DeleteEndpointBoundParcel(ctx context.Context, key string) error {
	if err := s.objects.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete endpoint-bound parcel: %w", err)
	}
	return nil
}

// ListActiveParcelsForPeer returns every stored, unexpired parcel awaiting
// collection by the peer. Objects with missing or malformed expiry metadata
// and objects deleted between listing and retrieval are skipped.
func (s *Store) ListActiveParcelsForPeer(ctx context.Context, peerID string) ([]entity.ParcelObject, error) {
	keys, err := s.objects.ListKeys(ctx, gatewayBoundPeerPrefix(peerID))
	if err != nil {
		return nil, err
	}

	parcels := make([]entity.ParcelObject, 0, len(keys))
	for _, key := range keys {
		obj, err := s.getActiveParcel(ctx, key)
		if err != nil {
			return nil, err
		}
		if obj != nil {
			parcels = append(parcels, *obj)
		}
	}

	return parcels, nil
}

// getActiveParcel retrieves one stored parcel, returning nil (no error) when
// the object should be skipped: vanished, expired or carrying no valid
// expiry.
func (s *Store) getActiveParcel(ctx context.Context, key string) (*entity.ParcelObject, error) {
	body, metadata, err := s.objects.Get(ctx, key)
	if err != nil {
		if errors.Is(err, entity.ErrObjectNotFound) {
			// Benign race with a concurrent deletion.
			s.logger.Debug("Parcel object vanished after listing", logger.String("key", key))
			return nil, nil
		}
		return nil, err
	}

	expiry, err := parseExpiry(metadata)
	if err != nil {
		s.logger.Warn("Skipping parcel with invalid expiry metadata",
			logger.String("key", key),
			logger.Error(err),
		)
		return nil, nil
	}

	if !time.Now().Before(expiry) {
		s.logger.Info("Skipping expired parcel",
			logger.String("key", key),
			logger.Time("expiry", expiry),
		)
		return nil, nil
	}

	return &entity.ParcelObject{Key: key, Body: body, ExpiryDate: expiry}, nil
}
