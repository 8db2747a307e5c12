package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxDeliveryAttempts bounds how many times an endpoint-bound parcel is
// attempted before it is abandoned.
const MaxDeliveryAttempts = 3

// DeliveryRecord is a queued request to deliver one stored parcel to a public
// endpoint. It is re-published with an incremented attempt counter on
// transient failure.
type DeliveryRecord struct {
	ParcelObjectKey        string    `json:"parcelObjectKey"`
	ParcelRecipientAddress string    `json:"parcelRecipientAddress"`
	ParcelExpiryDate       time.Time `json:"parcelExpiryDate"`
	DeliveryAttempts       int       `json:"deliveryAttempts"`
}

// Marshal encodes the record for the delivery queue.
func (r *DeliveryRecord) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal delivery record: %w", err)
	}
	return data, nil
}

// UnmarshalDeliveryRecord decodes a queued delivery record. A decoding
// failure is a MessageError: the record is permanently unreadable.
func UnmarshalDeliveryRecord(data []byte) (*DeliveryRecord, error) {
	var record DeliveryRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, NewMessageError("malformed delivery record", err)
	}
	if record.ParcelObjectKey == "" {
		return nil, NewMessageError("delivery record has no parcel object key", nil)
	}
	return &record, nil
}

// IsExpired reports whether the referenced parcel has expired at the given
// instant.
func (r *DeliveryRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ParcelExpiryDate)
}
