package payments

import (
	"context"
	"strings"

	"appointly/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	manualGatewayName = "manual"
	manualRefPrefix   = "manual_"
)

// ManualGateway records cash or on-site payments. Staff confirmation is the
// proof of payment, so Confirm always succeeds for a manual reference.
type ManualGateway struct {
	logger *zerolog.Logger
}

func NewManualGateway(logger *zerolog.Logger) *ManualGateway {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &ManualGateway{logger: logger}
}

func (g *ManualGateway) Name() string { return manualGatewayName }

func (g *ManualGateway) IsConfigured() bool { return true }

func (g *ManualGateway) CreateIntent(_ context.Context, b *models.Booking) (models.PaymentIntent, error) {
	return models.PaymentIntent{
		ID:          manualRefPrefix + uuid.NewString(),
		AmountCents: b.AmountCents,
		Currency:    b.Currency,
		Status:      models.OutcomePending,
		Metadata:    bookingMetadata(b),
	}, nil
}

func (g *ManualGateway) Confirm(_ context.Context, paymentRef string) (models.PaymentResult, error) {
	status := models.OutcomeSucceeded
	if !strings.HasPrefix(paymentRef, manualRefPrefix) {
		status = models.OutcomeFailed
	}
	g.logger.Info().Str("payment_ref", paymentRef).Str("status", status).Msg("manual payment confirmation")
	return models.PaymentResult{ID: paymentRef, Status: status}, nil
}

func (g *ManualGateway) Refund(_ context.Context, paymentRef string, amountCents int64) (models.RefundResult, error) {
	return models.RefundResult{
		ID:          paymentRef,
		Status:      models.OutcomeSucceeded,
		AmountCents: amountCents,
		RefundID:    manualRefPrefix + "refund_" + uuid.NewString(),
	}, nil
}
