package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"appointly/internal/config"
	"appointly/internal/models"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

const stripeGatewayName = "stripe"

// StripeGateway charges bookings through Stripe Checkout. The payment
// reference is the Checkout Session id.
type StripeGateway struct {
	api        *client.API
	secretKey  string
	successURL string
	cancelURL  string
	logger     *zerolog.Logger
}

// NewStripeGateway builds a gateway. backends may be nil to use Stripe's API.
func NewStripeGateway(cfg config.PaymentConfig, backends *stripe.Backends, logger *zerolog.Logger) *StripeGateway {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	key := strings.TrimSpace(cfg.Stripe.SecretKey)
	return &StripeGateway{
		api:        client.New(key, backends),
		secretKey:  key,
		successURL: strings.TrimSpace(cfg.SuccessURL),
		cancelURL:  strings.TrimSpace(cfg.CancelURL),
		logger:     logger,
	}
}

func (g *StripeGateway) Name() string { return stripeGatewayName }

func (g *StripeGateway) IsConfigured() bool {
	return g.secretKey != "" && g.successURL != "" && g.cancelURL != ""
}

func (g *StripeGateway) CreateIntent(ctx context.Context, b *models.Booking) (models.PaymentIntent, error) {
	if !g.IsConfigured() {
		return models.PaymentIntent{}, ErrNotConfigured
	}
	if b.AmountCents <= 0 {
		return models.PaymentIntent{}, fmt.Errorf("booking %s has nothing to charge", b.ID)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
		ClientReferenceID: stripe.String(b.ID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(b.Currency)),
					UnitAmount: stripe.Int64(b.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(b.ServiceName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if b.ClientEmail != "" {
		params.CustomerEmail = stripe.String(b.ClientEmail)
	}
	for k, v := range bookingMetadata(b) {
		params.AddMetadata(k, v)
	}
	params.IdempotencyKey = stripe.String("booking-" + b.ID + "-checkout")
	params.Context = ctx

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		g.logger.Error().Err(err).Str("booking_id", b.ID).Msg("stripe checkout session create failed")
		return models.PaymentIntent{}, fmt.Errorf("create checkout session: %w", err)
	}

	return models.PaymentIntent{
		ID:          sess.ID,
		RedirectURL: sess.URL,
		AmountCents: b.AmountCents,
		Currency:    b.Currency,
		Status:      models.OutcomePending,
		Metadata:    bookingMetadata(b),
	}, nil
}

func (g *StripeGateway) Confirm(ctx context.Context, paymentRef string) (models.PaymentResult, error) {
	if !g.IsConfigured() {
		return models.PaymentResult{}, ErrNotConfigured
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := g.api.CheckoutSessions.Get(paymentRef, params)
	if err != nil {
		return models.PaymentResult{}, fmt.Errorf("retrieve checkout session %s: %w", paymentRef, err)
	}

	res := models.PaymentResult{
		ID:          sess.ID,
		Status:      sessionOutcome(sess),
		AmountCents: sess.AmountTotal,
		Currency:    strings.ToUpper(string(sess.Currency)),
		Metadata:    sess.Metadata,
	}
	if sess.PaymentIntent != nil {
		res.TransactionID = sess.PaymentIntent.ID
	}
	return res, nil
}

func sessionOutcome(sess *stripe.CheckoutSession) string {
	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return models.OutcomeSucceeded
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		return models.OutcomeFailed
	default:
		return models.OutcomePending
	}
}

// Refund refunds amountCents of the payment behind paymentRef. A zero amount
// refunds the full charge.
func (g *StripeGateway) Refund(ctx context.Context, paymentRef string, amountCents int64) (models.RefundResult, error) {
	if !g.IsConfigured() {
		return models.RefundResult{}, ErrNotConfigured
	}
	if amountCents < 0 {
		return models.RefundResult{}, errors.New("refund amount must not be negative")
	}

	intentID := paymentRef
	if !strings.HasPrefix(paymentRef, "pi_") {
		confirmed, err := g.Confirm(ctx, paymentRef)
		if err != nil {
			return models.RefundResult{}, err
		}
		if confirmed.TransactionID == "" {
			return models.RefundResult{}, fmt.Errorf("checkout session %s has no payment to refund", paymentRef)
		}
		intentID = confirmed.TransactionID
	}

	params := &stripe.RefundParams{PaymentIntent: stripe.String(intentID)}
	if amountCents > 0 {
		params.Amount = stripe.Int64(amountCents)
	}
	params.Context = ctx

	r, err := g.api.Refunds.New(params)
	if err != nil {
		g.logger.Error().Err(err).Str("payment_ref", paymentRef).Msg("stripe refund failed")
		return models.RefundResult{}, fmt.Errorf("create refund: %w", err)
	}

	return models.RefundResult{
		ID:          paymentRef,
		Status:      refundOutcome(r.Status),
		AmountCents: r.Amount,
		Currency:    strings.ToUpper(string(r.Currency)),
		RefundID:    r.ID,
	}, nil
}

func refundOutcome(s stripe.RefundStatus) string {
	switch s {
	case stripe.RefundStatusSucceeded:
		return models.OutcomeSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return models.OutcomeFailed
	default:
		return models.OutcomePending
	}
}
