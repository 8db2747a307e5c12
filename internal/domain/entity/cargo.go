package entity

import "time"

// Cargo is a batch container exchanged with a peer gateway. The payload is
// still wrapped in its envelope until the codec unwraps it with the peer's
// session key.
type Cargo struct {
	ID             string
	SenderID       string
	WrappedPayload []byte
	ExpiryDate     time.Time
}

// CargoItem is one decoded item of a cargo payload. It is a closed union:
// ParcelItem, CollectionAckItem or RotationNoticeItem. Handlers dispatch with
// an exhaustive type switch.
type CargoItem interface {
	cargoItem()
}

// ParcelItem carries a parcel to be relayed onward.
type ParcelItem struct {
	Parcel     *Parcel
	Serialized []byte
}

// CollectionAckItem confirms the peer collected a parcel, so the stored copy
// can be deleted.
type CollectionAckItem struct {
	SenderID         string
	RecipientAddress string
	ParcelID         string
}

// RotationNoticeItem announces a certificate rotation. The relay logs it and
// moves on; rotations are handled by the trust infrastructure.
type RotationNoticeItem struct {
	SubjectID string
}

func (ParcelItem) cargoItem()         {}
func (CollectionAckItem) cargoItem()  {}
func (RotationNoticeItem) cargoItem() {}
