package repository

import (
	"context"

	"github.com/relaycorp/awala-gateway-internet-sub001/internal/domain/entity"
)

// CargoCodec deserializes cargo frames and their items. Failures are
// reported through the entity error taxonomy: a *entity.MessageError for
// malformed or untrusted input, a *entity.UnavailableError when the session
// key store cannot be reached.
type CargoCodec interface {
	DeserializeCargo(raw []byte) (*entity.Cargo, error)
	UnwrapCargoPayload(ctx context.Context, cargo *entity.Cargo) ([][]byte, error)
	DeserializeCargoItem(raw []byte) (entity.CargoItem, error)
}

// ParcelValidator checks parcels against the trust infrastructure.
// ValidateForPeer additionally requires the parcel to be scoped to the given
// peer. Rejections are *entity.MessageError.
type ParcelValidator interface {
	Validate(ctx context.Context, parcel *entity.Parcel, serialized []byte) error
	ValidateForPeer(ctx context.Context, parcel *entity.Parcel, serialized []byte, peerID string) error
}

// SessionKeyStore resolves the shared session key for a peer. A transport
// failure is a *entity.UnavailableError; an unknown peer is a
// *entity.MessageError.
type SessionKeyStore interface {
	GetSessionKey(ctx context.Context, peerID string) ([]byte, error)
}
