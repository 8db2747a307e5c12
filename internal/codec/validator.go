package codec

import (
	"context"
	"time"

	"github.com/relaycorp/awala-gateway-internet-sub001/internal/domain/entity"
)

// Validator implements repository.ParcelValidator. Rejections are
// MessageErrors; callers skip the parcel and move on.
type Validator struct {
	now func() time.Time
}

// NewValidator creates a new parcel validator
func NewValidator() *Validator {
	return &Validator{now: time.Now}
}

// Validate checks the parcel's structure and expiry
func (v *Validator) Validate(ctx context.Context, parcel *entity.Parcel, serialized []byte) error {
	if parcel.ID == "" || parcel.SenderID == "" || parcel.RecipientAddress == "" {
		return entity.NewMessageError("parcel is missing required attributes", nil)
	}
	if len(serialized) == 0 {
		return entity.NewMessageError("parcel has an empty serialization", nil)
	}
	if !v.now().Before(parcel.ExpiryDate) {
		return entity.NewMessageError("parcel has expired", nil)
	}
	return nil
}

// ValidateForPeer additionally requires the parcel to be collectable by the
// given peer: only privately addressed parcels travel via cargo.
func (v *Validator) ValidateForPeer(ctx context.Context, parcel *entity.Parcel, serialized []byte, peerID string) error {
	if err := v.Validate(ctx, parcel, serialized); err != nil {
		return err
	}
	if peerID == "" {
		return entity.NewMessageError("peer id cannot be empty", nil)
	}
	if parcel.IsRecipientPublic() {
		return entity.NewMessageError("publicly addressed parcel cannot be peer-scoped", nil)
	}
	return nil
}
