package pohttp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/relaycorp/awala-gateway-internet-sub001/internal/domain/entity"
	"github.com/relaycorp/awala-gateway-internet-sub001/pkg/logger"
)

const parcelContentType = "application/vnd.awala.parcel"

// Deliverer implements repository.ParcelDeliverer over HTTP: the serialized
// parcel is POSTed to the recipient endpoint URL.
type Deliverer struct {
	client *http.Client
	logger *logger.Logger
}

// NewDeliverer creates a new HTTP parcel deliverer
func NewDeliverer(timeout time.Duration, log *logger.Logger) *Deliverer {
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = timeout

	return &Deliverer{
		client: client,
		logger: log,
	}
}

// DeliverParcel POSTs the parcel to the recipient address. A 403 response
// means the endpoint rejected the parcel (entity.ErrInvalidParcel); any
// other 4xx means this gateway broke the delivery protocol
// (entity.ErrBindingViolation); 5xx and transport failures are transient.
func (d *Deliverer) DeliverParcel(ctx context.Context, recipientAddress string, parcel []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, recipientAddress, bytes.NewReader(parcel))
	if err != nil {
		return fmt.Errorf("%w: malformed recipient address %q", entity.ErrBindingViolation, recipientAddress)
	}
	req.Header.Set("Content-Type", parcelContentType)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach endpoint %s: %w", recipientAddress, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		d.logger.Debug("Parcel delivered over HTTP",
			logger.String("recipient", recipientAddress),
			logger.Int("status", resp.StatusCode),
		)
		return nil

	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w (HTTP %d)", entity.ErrInvalidParcel, resp.StatusCode)

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w (HTTP %d)", entity.ErrBindingViolation, resp.StatusCode)

	default:
		return fmt.Errorf("endpoint %s returned HTTP %d", recipientAddress, resp.StatusCode)
	}
}
