package payments

import (
	"context"
	"errors"
	"fmt"

	"appointly/internal/config"
	"appointly/internal/models"

	"github.com/rs/zerolog"
)

var (
	ErrNotConfigured      = errors.New("payment gateway is not configured")
	ErrUnsupportedGateway = errors.New("unsupported payment gateway")
)

// Gateway is an opaque payment capability. Outcomes are normalized to
// succeeded, failed or pending.
type Gateway interface {
	Name() string
	IsConfigured() bool
	CreateIntent(ctx context.Context, b *models.Booking) (models.PaymentIntent, error)
	Confirm(ctx context.Context, paymentRef string) (models.PaymentResult, error)
	Refund(ctx context.Context, paymentRef string, amountCents int64) (models.RefundResult, error)
}

// New returns the gateway selected by cfg.Gateway.
func New(cfg config.PaymentConfig, logger *zerolog.Logger) (Gateway, error) {
	switch cfg.Gateway {
	case config.GatewayStripe, "":
		return NewStripeGateway(cfg, nil, logger), nil
	case config.GatewayManual:
		return NewManualGateway(logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGateway, cfg.Gateway)
	}
}

func bookingMetadata(b *models.Booking) map[string]string {
	return map[string]string{
		"booking_id": b.ID,
		"service_id": b.ServiceID,
	}
}
