package parceldelivery

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/relaycorp/awala-gateway-internet-sub001/internal/domain/entity"
	"github.com/relaycorp/awala-gateway-internet-sub001/internal/domain/repository"
	"github.com/relaycorp/awala-gateway-internet-sub001/internal/parcelstore"
	"github.com/relaycorp/awala-gateway-internet-sub001/pkg/logger"
)

type mockQueue struct {
	publishFunc   func(ctx context.Context, channel string, payload []byte) error
	subscribeFunc func(ctx context.Context, channel string) (<-chan *repository.QueueMessage, error)
}

func (m *mockQueue) Publish(ctx context.Context, channel string, payload []byte) error {
	if m.publishFunc != nil {
		return m.publishFunc(ctx, channel, payload)
	}
	return nil
}

func (m *mockQueue) Subscribe(ctx context.Context, channel string) (<-chan *repository.QueueMessage, error) {
	if m.subscribeFunc != nil {
		return m.subscribeFunc(ctx, channel)
	}
	ch := make(chan *repository.QueueMessage)
	close(ch)
	return ch, nil
}

type mockStore struct {
	retrieveFunc func(ctx context.Context, key string) ([]byte, error)
	deleteFunc   func(ctx context.Context, key string) error
}

func (m *mockStore) RetrieveEndpointBoundParcel(ctx context.Context, key string) ([]byte, error) {
	if m.retrieveFunc != nil {
		return m.retrieveFunc(ctx, key)
	}
	return []byte("parcel-body"), nil
}

func (m *mockStore) DeleteEndpointBoundParcel(ctx context.Context, key string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, key)
	}
	return nil
}

type mockDeliverer struct {
	deliverFunc func(ctx context.Context, recipientAddress string, parcel []byte) error
}

func (m *mockDeliverer) DeliverParcel(ctx context.Context, recipientAddress string, parcel []byte) error {
	if m.deliverFunc != nil {
		return m.deliverFunc(ctx, recipientAddress, parcel)
	}
	return nil
}

type messageCounts struct {
	acks     int
	releases int
}

func newRecordMessage(t *testing.T, record *entity.DeliveryRecord, counts *messageCounts) *repository.QueueMessage {
	t.Helper()
	payload, err := record.Marshal()
	if err != nil {
		t.Fatalf("failed to marshal record: %v", err)
	}
	return &repository.QueueMessage{
		Payload: payload,
		Ack: func() error {
			counts.acks++
			return nil
		},
		Release: func() error {
			counts.releases++
			return nil
		},
	}
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "debug", Format: "json", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return log
}

func testRecord(attempts int) *entity.DeliveryRecord {
	return &entity.DeliveryRecord{
		ParcelObjectKey:        "parcels/endpoint-bound/peer-1/sender-1/object-1",
		ParcelRecipientAddress: "https://endpoint.example.com",
		ParcelExpiryDate:       time.Now().Add(time.Hour),
		DeliveryAttempts:       attempts,
	}
}

func TestProcessRecord_SuccessDeletesAndAcks(t *testing.T) {
	var deletedKey string
	var deliveredTo string
	store := &mockStore{
		deleteFunc: func(ctx context.Context, key string) error {
			deletedKey = key
			return nil
		},
	}
	deliverer := &mockDeliverer{
		deliverFunc: func(ctx context.Context, recipientAddress string, parcel []byte) error {
			deliveredTo = recipientAddress
			if string(parcel) != "parcel-body" {
				t.Errorf("delivered body %q", parcel)
			}
			return nil
		},
	}

	svc := NewService(&mockQueue{}, store, deliverer, 0, newTestLogger(t))

	record := testRecord(0)
	var counts messageCounts
	if err := svc.processRecord(context.Background(), newRecordMessage(t, record, &counts)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deliveredTo != record.ParcelRecipientAddress {
		t.Errorf("delivered to %q, want %q", deliveredTo, record.ParcelRecipientAddress)
	}
	if deletedKey != record.ParcelObjectKey {
		t.Errorf("deleted %q, want %q", deletedKey, record.ParcelObjectKey)
	}
	if counts.acks != 1 {
		t.Errorf("acks = %d, want 1", counts.acks)
	}
}

func TestProcessRecord_MalformedRecordAcked(t *testing.T) {
	attempts := 0
	deliverer := &mockDeliverer{
		deliverFunc: func(ctx context.Context, recipientAddress string, parcel []byte) error {
			attempts++
			return nil
		},
	}

	svc := NewService(&mockQueue{}, &mockStore{}, deliverer, 0, newTestLogger(t))

	var counts messageCounts
	msg := &repository.QueueMessage{
		Payload: []byte("not json"),
		Ack: func() error {
			counts.acks++
			return nil
		},
		Release: func() error {
			counts.releases++
			return nil
		},
	}
	if err := svc.processRecord(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts.acks != 1 {
		t.Errorf("acks = %d, want 1", counts.acks)
	}
	if attempts != 0 {
		t.Errorf("delivery attempts = %d, want 0", attempts)
	}
}

func TestProcessRecord_ExpiredParcelDrainedWithoutAttempt(t *testing.T) {
	attempts := 0
	var deletedKey string
	store := &mockStore{
		deleteFunc: func(ctx context.Context, key string) error {
			deletedKey = key
			return nil
		},
	}
	deliverer := &mockDeliverer{
		deliverFunc: func(ctx context.Context, recipientAddress string, parcel []byte) error {
			attempts++
			return nil
		},
	}

	svc := NewService(&mockQueue{}, store, deliverer, 0, newTestLogger(t))

	record := testRecord(0)
	record.ParcelExpiryDate = time.Now().Add(-time.Minute)
	var counts messageCounts
	if err := svc.processRecord(context.Background(), newRecordMessage(t, record, &counts)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 0 {
		t.Errorf("delivery attempts = %d, want 0", attempts)
	}
	if deletedKey != record.ParcelObjectKey {
		t.Errorf("deleted %q, want %q", deletedKey, record.ParcelObjectKey)
	}
	if counts.acks != 1 {
		t.Errorf("acks = %d, want 1", counts.acks)
	}
}

func TestProcessRecord_MissingObjectAcked(t *testing.T) {
	attempts := 0
	store := &mockStore{
		retrieveFunc: func(ctx context.Context, key string) ([]byte, error) {
			return nil, entity.ErrObjectNotFound
		},
	}
	deliverer := &mockDeliverer{
		deliverFunc: func(ctx context.Context, recipientAddress string, parcel []byte) error {
			attempts++
			return nil
		},
	}

	svc := NewService(&mockQueue{}, store, deliverer, 0, newTestLogger(t))

	var counts messageCounts
	if err := svc.processRecord(context.Background(), newRecordMessage(t, testRecord(0), &counts)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 0 {
		t.Errorf("delivery attempts = %d, want 0", attempts)
	}
	if counts.acks != 1 {
		t.Errorf("acks = %d, want 1", counts.acks)
	}
}

func TestProcessRecord_RetrieveFailureLeavesRecordQueued(t *testing.T) {
	store := &mockStore{
		retrieveFunc: func(ctx context.Context, key string) ([]byte, error) {
			return nil, entity.NewUnavailableError("object store", errors.New("timeout"))
		},
	}

	svc := NewService(&mockQueue{}, store, &mockDeliverer{}, 0, newTestLogger(t))

	var counts messageCounts
	err := svc.processRecord(context.Background(), newRecordMessage(t, testRecord(0), &counts))
	if err == nil {
		t.Fatal("expected an error")
	}
	if counts.acks != 0 {
		t.Errorf("acks = %d, want 0", counts.acks)
	}
}

func TestProcessRecord_PermanentRejectionShortCircuits(t *testing.T) {
	for _, tt := range []struct {
		name  string
		cause error
	}{
		{"invalid parcel", entity.ErrInvalidParcel},
		{"binding violation", entity.ErrBindingViolation},
	} {
		t.Run(tt.name, func(t *testing.T) {
			published := 0
			queue := &mockQueue{
				publishFunc: func(ctx context.Context, channel string, payload []byte) error {
					published++
					return nil
				},
			}
			var deletedKey string
			store := &mockStore{
				deleteFunc: func(ctx context.Context, key string) error {
					deletedKey = key
					return nil
				},
			}
			deliverer := &mockDeliverer{
				deliverFunc: func(ctx context.Context, recipientAddress string, parcel []byte) error {
					return tt.cause
				},
			}

			svc := NewService(queue, store, deliverer, 0, newTestLogger(t))

			// Even a fresh record is abandoned on a permanent rejection.
			record := testRecord(0)
			var counts messageCounts
			if err := svc.processRecord(context.Background(), newRecordMessage(t, record, &counts)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if published != 0 {
				t.Errorf("requeues = %d, want 0", published)
			}
			if deletedKey != record.ParcelObjectKey {
				t.Errorf("deleted %q, want %q", deletedKey, record.ParcelObjectKey)
			}
			if counts.acks != 1 {
				t.Errorf("acks = %d, want 1", counts.acks)
			}
		})
	}
}

func TestProcessRecord_TransientFailureRequeuesWithIncrementedCounter(t *testing.T) {
	var publishedChannel string
	var publishedPayload []byte
	queue := &mockQueue{
		publishFunc: func(ctx context.Context, channel string, payload []byte) error {
			publishedChannel = channel
			publishedPayload = payload
			return nil
		},
	}
	deletes := 0
	store := &mockStore{
		deleteFunc: func(ctx context.Context, key string) error {
			deletes++
			return nil
		},
	}
	deliverer := &mockDeliverer{
		deliverFunc: func(ctx context.Context, recipientAddress string, parcel []byte) error {
			return errors.New("connection reset")
		},
	}

	svc := NewService(queue, store, deliverer, 0, newTestLogger(t))

	var counts messageCounts
	if err := svc.processRecord(context.Background(), newRecordMessage(t, testRecord(0), &counts)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if publishedChannel != parcelstore.DeliveryChannelName {
		t.Errorf("requeued on %q, want %q", publishedChannel, parcelstore.DeliveryChannelName)
	}
	var requeued entity.DeliveryRecord
	if err := json.Unmarshal(publishedPayload, &requeued); err != nil {
		t.Fatalf("requeued payload is not a record: %v", err)
	}
	if requeued.DeliveryAttempts != 1 {
		t.Errorf("requeued attempts = %d, want 1", requeued.DeliveryAttempts)
	}
	if deletes != 0 {
		t.Errorf("deletes = %d, want 0", deletes)
	}
	if counts.acks != 1 {
		t.Errorf("acks = %d, want 1", counts.acks)
	}
}

func TestProcessRecord_RetryBoundAbandonsAfterMaxAttempts(t *testing.T) {
	published := 0
	queue := &mockQueue{
		publishFunc: func(ctx context.Context, channel string, payload []byte) error {
			published++
			return nil
		},
	}
	deletes := 0
	store := &mockStore{
		deleteFunc: func(ctx context.Context, key string) error {
			deletes++
			return nil
		},
	}
	deliverer := &mockDeliverer{
		deliverFunc: func(ctx context.Context, recipientAddress string, parcel []byte) error {
			return errors.New("gateway timeout")
		},
	}

	svc := NewService(queue, store, deliverer, 0, newTestLogger(t))

	// Two transient failures are already on the counter; this third attempt
	// exhausts the bound.
	record := testRecord(entity.MaxDeliveryAttempts - 1)
	var counts messageCounts
	if err := svc.processRecord(context.Background(), newRecordMessage(t, record, &counts)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if published != 0 {
		t.Errorf("requeues = %d, want 0", published)
	}
	if deletes != 1 {
		t.Errorf("deletes = %d, want 1", deletes)
	}
	if counts.acks != 1 {
		t.Errorf("acks = %d, want 1", counts.acks)
	}
}

func TestRun_ReleasesAbortedRecord(t *testing.T) {
	var counts messageCounts
	msg := newRecordMessage(t, testRecord(0), &counts)

	queue := &mockQueue{
		subscribeFunc: func(ctx context.Context, channel string) (<-chan *repository.QueueMessage, error) {
			if channel != parcelstore.DeliveryChannelName {
				t.Errorf("subscribed to %q, want %q", channel, parcelstore.DeliveryChannelName)
			}
			ch := make(chan *repository.QueueMessage, 1)
			ch <- msg
			close(ch)
			return ch, nil
		},
	}
	store := &mockStore{
		retrieveFunc: func(ctx context.Context, key string) ([]byte, error) {
			return nil, entity.NewUnavailableError("object store", errors.New("down"))
		},
	}

	svc := NewService(queue, store, &mockDeliverer{}, 0, newTestLogger(t))

	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts.releases != 1 {
		t.Errorf("releases = %d, want 1", counts.releases)
	}
	if counts.acks != 0 {
		t.Errorf("acks = %d, want 0", counts.acks)
	}
}
