package repository

import "context"

// IdempotencyLedger records which parcels have already been accepted from
// which peers. RecordProcessed must be safe under concurrent duplicate calls:
// exactly one writer wins and the losers observe "already recorded", not an
// error.
type IdempotencyLedger interface {
	WasProcessed(ctx context.Context, parcelID, senderID, recipientAddress, peerID string) (bool, error)
	RecordProcessed(ctx context.Context, parcelID, senderID, recipientAddress, peerID string) error
}
