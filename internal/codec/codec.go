// Package codec implements the wire format for cargo exchanged with peer
// gateways: msgpack frames whose payload is authenticated with the peer's
// session key. The relay core only depends on the interfaces in
// internal/domain/repository; this package is the concrete collaborator.
package codec

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/relaycorp/awala-gateway-internet-sub001/internal/domain/entity"
	"github.com/relaycorp/awala-gateway-internet-sub001/internal/domain/repository"
)

// Cargo item kinds on the wire.
const (
	itemKindParcel uint8 = iota
	itemKindCollectionAck
	itemKindRotationNotice
)

type cargoFrame struct {
	ID             string `msgpack:"id"`
	SenderID       string `msgpack:"sender_id"`
	ExpiryUnix     int64  `msgpack:"expiry"`
	WrappedPayload []byte `msgpack:"payload"`
}

// payloadEnvelope authenticates the item set with an HMAC-SHA256 tag keyed
// by the sender's session key.
type payloadEnvelope struct {
	Tag   []byte `msgpack:"tag"`
	Items []byte `msgpack:"items"` // msgpack-encoded [][]byte
}

type itemFrame struct {
	Kind             uint8  `msgpack:"kind"`
	ID               string `msgpack:"id,omitempty"`
	SenderID         string `msgpack:"sender_id,omitempty"`
	RecipientAddress string `msgpack:"recipient,omitempty"`
	ExpiryUnix       int64  `msgpack:"expiry,omitempty"`
	SubjectID        string `msgpack:"subject_id,omitempty"`
}

// Codec implements repository.CargoCodec
type Codec struct {
	keys repository.SessionKeyStore
}

// New creates a new cargo codec
func New(keys repository.SessionKeyStore) *Codec {
	return &Codec{keys: keys}
}

// DeserializeCargo decodes a cargo frame. Failures are MessageErrors: the
// frame is permanently unreadable.
func (c *Codec) DeserializeCargo(raw []byte) (*entity.Cargo, error) {
	var frame cargoFrame
	if err := msgpack.Unmarshal(raw, &frame); err != nil {
		return nil, entity.NewMessageError("malformed cargo frame", err)
	}
	if frame.ID == "" || frame.SenderID == "" {
		return nil, entity.NewMessageError("cargo frame is missing id or sender", nil)
	}

	return &entity.Cargo{
		ID:             frame.ID,
		SenderID:       frame.SenderID,
		WrappedPayload: frame.WrappedPayload,
		ExpiryDate:     time.Unix(frame.ExpiryUnix, 0),
	}, nil
}

// UnwrapCargoPayload verifies the payload envelope with the sender's session
// key and returns the raw item frames. A key store outage surfaces as an
// UnavailableError so the cargo stays queued.
func (c *Codec) UnwrapCargoPayload(ctx context.Context, cargo *entity.Cargo) ([][]byte, error) {
	key, err := c.keys.GetSessionKey(ctx, cargo.SenderID)
	if err != nil {
		return nil, err
	}

	var envelope payloadEnvelope
	if err := msgpack.Unmarshal(cargo.WrappedPayload, &envelope); err != nil {
		return nil, entity.NewMessageError("malformed cargo payload envelope", err)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(envelope.Items)
	if !hmac.Equal(mac.Sum(nil), envelope.Tag) {
		return nil, entity.NewMessageError("cargo payload failed authentication", nil)
	}

	var items [][]byte
	if err := msgpack.Unmarshal(envelope.Items, &items); err != nil {
		return nil, entity.NewMessageError("malformed cargo item set", err)
	}

	return items, nil
}

// DeserializeCargoItem decodes one item frame into the cargo item union
func (c *Codec) DeserializeCargoItem(raw []byte) (entity.CargoItem, error) {
	var frame itemFrame
	if err := msgpack.Unmarshal(raw, &frame); err != nil {
		return nil, entity.NewMessageError("malformed cargo item", err)
	}

	switch frame.Kind {
	case itemKindParcel:
		if frame.ID == "" || frame.SenderID == "" || frame.RecipientAddress == "" {
			return nil, entity.NewMessageError("parcel item is missing required fields", nil)
		}
		return entity.ParcelItem{
			Parcel: &entity.Parcel{
				ID:               frame.ID,
				SenderID:         frame.SenderID,
				RecipientAddress: frame.RecipientAddress,
				ExpiryDate:       time.Unix(frame.ExpiryUnix, 0),
			},
			Serialized: raw,
		}, nil

	case itemKindCollectionAck:
		if frame.ID == "" || frame.SenderID == "" || frame.RecipientAddress == "" {
			return nil, entity.NewMessageError("collection ack is missing required fields", nil)
		}
		return entity.CollectionAckItem{
			ParcelID:         frame.ID,
			SenderID:         frame.SenderID,
			RecipientAddress: frame.RecipientAddress,
		}, nil

	case itemKindRotationNotice:
		return entity.RotationNoticeItem{SubjectID: frame.SubjectID}, nil

	default:
		return nil, entity.NewMessageError("unknown cargo item kind", nil)
	}
}
