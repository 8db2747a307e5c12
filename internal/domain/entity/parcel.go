package entity

import (
	"context"
	"strings"
	"time"
)

// Parcel is an individual relayed message. The serialized form travels
// alongside it; the struct only carries the routing attributes the relay
// needs.
type Parcel struct {
	ID               string
	SenderID         string
	RecipientAddress string
	ExpiryDate       time.Time
}

// IsRecipientPublic reports whether the parcel is addressed to a public
// endpoint (delivered online) as opposed to a private gateway address
// (delivered via cargo).
func (p *Parcel) IsRecipientPublic() bool {
	return strings.HasPrefix(p.RecipientAddress, "https://")
}

// ParcelObject is a stored parcel as read back from the object store.
type ParcelObject struct {
	Key        string
	Body       []byte
	ExpiryDate time.Time
}

// AckFunc acknowledges one streamed parcel: it acks the underlying queue
// message (if any) and deletes the stored object. It must be invoked exactly
// once per item; a second call is a caller bug.
type AckFunc func(ctx context.Context) error

// StreamedParcel is one item of a live parcel stream.
type StreamedParcel struct {
	Key  string
	Body []byte
	Ack  AckFunc
}
