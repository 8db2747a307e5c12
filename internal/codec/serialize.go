package codec

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/relaycorp/awala-gateway-internet-sub001/internal/domain/entity"
)

// The serialization half of the codec. The gateway itself only generates
// cargo when relaying toward a peer; peers and tests use the same functions
// to produce frames the deserialization half accepts.

// SerializeCargo encodes a cargo frame around an already wrapped payload
func SerializeCargo(cargo *entity.Cargo) ([]byte, error) {
	frame := cargoFrame{
		ID:             cargo.ID,
		SenderID:       cargo.SenderID,
		ExpiryUnix:     cargo.ExpiryDate.Unix(),
		WrappedPayload: cargo.WrappedPayload,
	}
	data, err := msgpack.Marshal(&frame)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize cargo: %w", err)
	}
	return data, nil
}

// WrapCargoPayload authenticates the item frames with the session key
func WrapCargoPayload(items [][]byte, sessionKey []byte) ([]byte, error) {
	encoded, err := msgpack.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cargo items: %w", err)
	}

	mac := hmac.New(sha256.New, sessionKey)
	mac.Write(encoded)

	data, err := msgpack.Marshal(&payloadEnvelope{
		Tag:   mac.Sum(nil),
		Items: encoded,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode cargo payload envelope: %w", err)
	}
	return data, nil
}

// SerializeParcelItem encodes a parcel as a cargo item frame
func SerializeParcelItem(parcel *entity.Parcel) ([]byte, error) {
	return serializeItem(&itemFrame{
		Kind:             itemKindParcel,
		ID:               parcel.ID,
		SenderID:         parcel.SenderID,
		RecipientAddress: parcel.RecipientAddress,
		ExpiryUnix:       parcel.ExpiryDate.Unix(),
	})
}

// SerializeCollectionAckItem encodes a collection acknowledgement frame
func SerializeCollectionAckItem(ack entity.CollectionAckItem) ([]byte, error) {
	return serializeItem(&itemFrame{
		Kind:             itemKindCollectionAck,
		ID:               ack.ParcelID,
		SenderID:         ack.SenderID,
		RecipientAddress: ack.RecipientAddress,
	})
}

// SerializeRotationNoticeItem encodes a certificate rotation notice frame
func SerializeRotationNoticeItem(notice entity.RotationNoticeItem) ([]byte, error) {
	return serializeItem(&itemFrame{
		Kind:      itemKindRotationNotice,
		SubjectID: notice.SubjectID,
	})
}

func serializeItem(frame *itemFrame) ([]byte, error) {
	data, err := msgpack.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize cargo item: %w", err)
	}
	return data, nil
}
