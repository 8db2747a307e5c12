package codec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/relaycorp/awala-gateway-internet-sub001/internal/domain/entity"
)

type mockKeyStore struct {
	getSessionKeyFunc func(ctx context.Context, peerID string) ([]byte, error)
}

func (m *mockKeyStore) GetSessionKey(ctx context.Context, peerID string) ([]byte, error) {
	if m.getSessionKeyFunc != nil {
		return m.getSessionKeyFunc(ctx, peerID)
	}
	return []byte("session-key"), nil
}

func testCargo(t *testing.T, sessionKey []byte, items [][]byte) []byte {
	t.Helper()
	payload, err := WrapCargoPayload(items, sessionKey)
	if err != nil {
		t.Fatalf("failed to wrap payload: %v", err)
	}
	raw, err := SerializeCargo(&entity.Cargo{
		ID:             "cargo-1",
		SenderID:       "peer-1",
		WrappedPayload: payload,
		ExpiryDate:     time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("failed to serialize cargo: %v", err)
	}
	return raw
}

func TestDeserializeCargo(t *testing.T) {
	codec := New(&mockKeyStore{})

	raw := testCargo(t, []byte("session-key"), nil)
	cargo, err := codec.DeserializeCargo(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cargo.ID != "cargo-1" || cargo.SenderID != "peer-1" {
		t.Errorf("cargo = %+v", cargo)
	}
}

func TestDeserializeCargo_MalformedFrame(t *testing.T) {
	codec := New(&mockKeyStore{})

	_, err := codec.DeserializeCargo([]byte{0xc1})
	if !entity.IsMessageError(err) {
		t.Fatalf("expected a message error, got %v", err)
	}
}

func TestDeserializeCargo_MissingSender(t *testing.T) {
	codec := New(&mockKeyStore{})

	raw, err := SerializeCargo(&entity.Cargo{ID: "cargo-1", ExpiryDate: time.Now()})
	if err != nil {
		t.Fatalf("failed to serialize cargo: %v", err)
	}
	if _, err := codec.DeserializeCargo(raw); !entity.IsMessageError(err) {
		t.Fatalf("expected a message error, got %v", err)
	}
}

func TestUnwrapCargoPayload_Roundtrip(t *testing.T) {
	sessionKey := []byte("session-key")
	codec := New(&mockKeyStore{
		getSessionKeyFunc: func(ctx context.Context, peerID string) ([]byte, error) {
			if peerID != "peer-1" {
				t.Errorf("looked up key for %q, want peer-1", peerID)
			}
			return sessionKey, nil
		},
	})

	want := [][]byte{[]byte("item-a"), []byte("item-b")}
	cargo, err := codec.DeserializeCargo(testCargo(t, sessionKey, want))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := codec.UnwrapCargoPayload(context.Background(), cargo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
}

func TestUnwrapCargoPayload_WrongKeyRejected(t *testing.T) {
	codec := New(&mockKeyStore{
		getSessionKeyFunc: func(ctx context.Context, peerID string) ([]byte, error) {
			return []byte("a different key"), nil
		},
	})

	cargo, err := codec.DeserializeCargo(testCargo(t, []byte("session-key"), [][]byte{[]byte("item")}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = codec.UnwrapCargoPayload(context.Background(), cargo)
	if !entity.IsMessageError(err) {
		t.Fatalf("expected a message error, got %v", err)
	}
}

func TestUnwrapCargoPayload_KeyStoreErrorsPassThrough(t *testing.T) {
	cause := entity.NewUnavailableError("session key store", errors.New("connection refused"))
	codec := New(&mockKeyStore{
		getSessionKeyFunc: func(ctx context.Context, peerID string) ([]byte, error) {
			return nil, cause
		},
	})

	_, err := codec.UnwrapCargoPayload(context.Background(), &entity.Cargo{SenderID: "peer-1"})
	if !entity.IsUnavailableError(err) {
		t.Fatalf("expected an unavailable error, got %v", err)
	}
}

func TestDeserializeCargoItem_Parcel(t *testing.T) {
	codec := New(&mockKeyStore{})

	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	raw, err := SerializeParcelItem(&entity.Parcel{
		ID:               "parcel-1",
		SenderID:         "sender-1",
		RecipientAddress: "recipient-1",
		ExpiryDate:       expiry,
	})
	if err != nil {
		t.Fatalf("failed to serialize item: %v", err)
	}

	item, err := codec.DeserializeCargoItem(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parcelItem, ok := item.(entity.ParcelItem)
	if !ok {
		t.Fatalf("item has type %T, want ParcelItem", item)
	}
	if parcelItem.Parcel.ID != "parcel-1" || parcelItem.Parcel.RecipientAddress != "recipient-1" {
		t.Errorf("parcel = %+v", parcelItem.Parcel)
	}
	if !parcelItem.Parcel.ExpiryDate.Equal(expiry) {
		t.Errorf("expiry = %v, want %v", parcelItem.Parcel.ExpiryDate, expiry)
	}
	if string(parcelItem.Serialized) != string(raw) {
		t.Error("serialized form was not preserved")
	}
}

func TestDeserializeCargoItem_CollectionAck(t *testing.T) {
	codec := New(&mockKeyStore{})

	want := entity.CollectionAckItem{
		ParcelID:         "parcel-1",
		SenderID:         "sender-1",
		RecipientAddress: "recipient-1",
	}
	raw, err := SerializeCollectionAckItem(want)
	if err != nil {
		t.Fatalf("failed to serialize item: %v", err)
	}

	item, err := codec.DeserializeCargoItem(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(want, item); diff != "" {
		t.Errorf("item mismatch (-want +got):\n%s", diff)
	}
}

func TestDeserializeCargoItem_RotationNotice(t *testing.T) {
	codec := New(&mockKeyStore{})

	raw, err := SerializeRotationNoticeItem(entity.RotationNoticeItem{SubjectID: "peer-1"})
	if err != nil {
		t.Fatalf("failed to serialize item: %v", err)
	}

	item, err := codec.DeserializeCargoItem(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	notice, ok := item.(entity.RotationNoticeItem)
	if !ok {
		t.Fatalf("item has type %T, want RotationNoticeItem", item)
	}
	if notice.SubjectID != "peer-1" {
		t.Errorf("subject = %q, want peer-1", notice.SubjectID)
	}
}

func TestDeserializeCargoItem_UnknownKind(t *testing.T) {
	codec := New(&mockKeyStore{})

	raw, err := serializeItem(&itemFrame{Kind: 99})
	if err != nil {
		t.Fatalf("failed to serialize item: %v", err)
	}
	if _, err := codec.DeserializeCargoItem(raw); !entity.IsMessageError(err) {
		t.Fatalf("expected a message error, got %v", err)
	}
}

func TestDeserializeCargoItem_ParcelMissingRecipient(t *testing.T) {
	codec := New(&mockKeyStore{})

	raw, err := serializeItem(&itemFrame{Kind: itemKindParcel, ID: "parcel-1", SenderID: "sender-1"})
	if err != nil {
		t.Fatalf("failed to serialize item: %v", err)
	}
	if _, err := codec.DeserializeCargoItem(raw); !entity.IsMessageError(err) {
		t.Fatalf("expected a message error, got %v", err)
	}
}
