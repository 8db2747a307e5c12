package parcelstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	gatewayBoundPrefix  = "parcels/gateway-bound/"
	endpointBoundPrefix = "parcels/endpoint-bound/"
)

// expiryMetadataKey is the object metadata entry holding the parcel expiry
// as Unix seconds.
const expiryMetadataKey = "expiry-date"

// gatewayBoundKey derives the storage key for a parcel awaiting collection
// by a peer gateway. The key encodes the routing attributes so provenance
// can be reconstructed without a side lookup; the parcel id is digested
// because raw ids may contain characters that are illegal in storage keys.
func gatewayBoundKey(peerID, recipientAddress, senderID, parcelID string) string {
	digest := sha256.Sum256([]byte(parcelID))
	return fmt.Sprintf("%s%s/%s/%s/%s",
		gatewayBoundPrefix, peerID, recipientAddress, senderID, hex.EncodeToString(digest[:]))
}

// gatewayBoundPeerPrefix is the listing prefix covering every parcel stored
// for the given peer.
func gatewayBoundPeerPrefix(peerID string) string {
	return gatewayBoundPrefix + peerID + "/"
}

// endpointBoundKey derives the storage key for a parcel awaiting online
// delivery. The random suffix keeps concurrent parcels from the same sender
// from colliding.
func endpointBoundKey(peerID, senderID string) string {
	return fmt.Sprintf("%s%s/%s/%s", endpointBoundPrefix, peerID, senderID, uuid.NewString())
}

// PeerChannelName is the durable queue channel announcing new gateway-bound
// parcels for the given peer. The in-process live notifier uses the same
// topic name.
func PeerChannelName(peerID string) string {
	return "pdc-parcel." + peerID
}

// DeliveryChannelName is the shared durable queue channel carrying
// endpoint-bound delivery records.
const DeliveryChannelName = "endpoint-parcel-deliveries"

func formatExpiry(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// parseExpiry extracts the expiry from object metadata. An absent or
// non-numeric entry means the object has no valid expiry and must be treated
// as gone.
func parseExpiry(metadata map[string]string) (time.Time, error) {
	raw, ok := metadata[expiryMetadataKey]
	if !ok {
		return time.Time{}, fmt.Errorf("object has no expiry metadata")
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed expiry metadata %q: %w", raw, err)
	}
	return time.Unix(seconds, 0), nil
}
