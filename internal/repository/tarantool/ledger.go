package tarantool

import (
	"context"
	"errors"
	"time"

	"github.com/tarantool/go-iproto"
	"github.com/tarantool/go-tarantool/v2"

	"github.com/relaycorp/awala-gateway-internet-sub001/internal/domain/entity"
	"github.com/relaycorp/awala-gateway-internet-sub001/pkg/logger"
)

// ledgerSpace holds one tuple per accepted parcel, with a unique primary
// index over (parcel_id, sender_id, recipient_address, peer_id). The unique
// index is what makes concurrent duplicate inserts linearizable: exactly one
// writer wins.
const ledgerSpace = "parcel_collections"

// Ledger implements repository.IdempotencyLedger on a Tarantool space
type Ledger struct {
	client *Client
	logger *logger.Logger
}

// NewLedger creates a new idempotency ledger
func NewLedger(client *Client, log *logger.Logger) *Ledger {
	return &Ledger{
		client: client,
		logger: log,
	}
}

// WasProcessed reports whether the parcel was already accepted from the peer
func (l *Ledger) WasProcessed(ctx context.Context, parcelID, senderID, recipientAddress, peerID string) (bool, error) {
	req := tarantool.NewSelectRequest(ledgerSpace).
		Index("primary").
		Iterator(tarantool.IterEq).
		Limit(1).
		Key([]interface{}{parcelID, senderID, recipientAddress, peerID})

	resp, err := l.client.Do(req)
	if err != nil {
		return false, entity.NewUnavailableError("idempotency ledger", err)
	}

	return len(resp) > 0, nil
}

// RecordProcessed records the acceptance. Losing a race against a concurrent
// writer recording the same tuple is not an error: the tuple is recorded
// either way.
func (l *Ledger) RecordProcessed(ctx context.Context, parcelID, senderID, recipientAddress, peerID string) error {
	req := tarantool.NewInsertRequest(ledgerSpace).
		Tuple([]interface{}{parcelID, senderID, recipientAddress, peerID, time.Now().Unix()})

	_, err := l.client.Do(req)
	if err != nil {
		var terr tarantool.Error
		if errors.As(err, &terr) && terr.Code == iproto.ER_TUPLE_FOUND {
			l.logger.Debug("Parcel collection already recorded",
				logger.String("parcel_id", parcelID),
				logger.String("peer_id", peerID),
			)
			return nil
		}
		return entity.NewUnavailableError("idempotency ledger", err)
	}

	return nil
}
