package repository

import "context"

// ParcelDeliverer delivers a serialized parcel to a public endpoint. It
// returns nil on success, entity.ErrInvalidParcel when the endpoint rejected
// the parcel, entity.ErrBindingViolation when the endpoint reported a
// protocol violation by this gateway, and a plain error for transient
// network or server failures.
type ParcelDeliverer interface {
	DeliverParcel(ctx context.Context, recipientAddress string, parcel []byte) error
}
