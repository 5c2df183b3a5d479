package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"appointly/internal/config"
	"appointly/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
)

type stripeStub struct {
	mu       sync.Mutex
	sessions map[string]map[string]interface{}
	forms    map[string]map[string]string
}

func newStripeStub(t *testing.T) (*stripeStub, *httptest.Server) {
	t.Helper()
	s := &stripeStub{
		sessions: map[string]map[string]interface{}{
			"cs_paid": {
				"id": "cs_paid", "object": "checkout.session", "status": "complete",
				"payment_status": "paid", "amount_total": 5000, "currency": "usd", "payment_intent": "pi_123",
			},
			"cs_open": {
				"id": "cs_open", "object": "checkout.session", "status": "open", "payment_status": "unpaid",
			},
			"cs_expired": {
				"id": "cs_expired", "object": "checkout.session", "status": "expired", "payment_status": "unpaid",
			},
		},
		forms: map[string]map[string]string{},
	}
	srv := httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *stripeStub) record(r *http.Request, name string) {
	_ = r.ParseForm()
	form := map[string]string{}
	for k, v := range r.PostForm {
		form[k] = v[0]
	}
	s.mu.Lock()
	s.forms[name] = form
	s.mu.Unlock()
}

func (s *stripeStub) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/checkout/sessions":
		s.record(r, "checkout")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "cs_new", "object": "checkout.session", "url": "https://checkout.stripe.test/cs_new",
			"status": "open", "payment_status": "unpaid",
		})
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/checkout/sessions/"):
		id := strings.TrimPrefix(r.URL.Path, "/v1/checkout/sessions/")
		sess, ok := s.sessions[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such checkout.session"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(sess)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/refunds":
		s.record(r, "refund")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "re_1", "object": "refund", "status": "succeeded", "amount": 2500, "currency": "usd",
		})
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"unknown route"}}`))
	}
}

func newTestGateway(srv *httptest.Server) *StripeGateway {
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	cfg := config.PaymentConfig{
		Gateway:    config.GatewayStripe,
		SuccessURL: "https://appointly.test/paid",
		CancelURL:  "https://appointly.test/cancel",
		Stripe:     config.StripeConfig{SecretKey: "sk_test_123"},
	}
	return NewStripeGateway(cfg, &stripe.Backends{API: backend, Connect: backend, Uploads: backend}, nil)
}

func testBooking() *models.Booking {
	return &models.Booking{
		ID:          "bk-1",
		ServiceID:   "massage",
		ServiceName: "Massage",
		AmountCents: 5000,
		Currency:    "USD",
		ClientEmail: "ana@example.com",
	}
}

func TestFactory(t *testing.T) {
	g, err := New(config.PaymentConfig{Gateway: config.GatewayManual}, nil)
	require.NoError(t, err)
	assert.Equal(t, "manual", g.Name())

	g, err = New(config.PaymentConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "stripe", g.Name())
	assert.False(t, g.IsConfigured())

	_, err = New(config.PaymentConfig{Gateway: "paypal"}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedGateway)
}

func TestStripeNotConfigured(t *testing.T) {
	g := NewStripeGateway(config.PaymentConfig{}, nil, nil)
	ctx := context.Background()

	_, err := g.CreateIntent(ctx, testBooking())
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = g.Confirm(ctx, "cs_paid")
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = g.Refund(ctx, "cs_paid", 0)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestStripeCreateIntent(t *testing.T) {
	stub, srv := newStripeStub(t)
	g := newTestGateway(srv)

	intent, err := g.CreateIntent(context.Background(), testBooking())
	require.NoError(t, err)
	assert.Equal(t, "cs_new", intent.ID)
	assert.Equal(t, "https://checkout.stripe.test/cs_new", intent.RedirectURL)
	assert.Equal(t, models.OutcomePending, intent.Status)

	form := stub.forms["checkout"]
	assert.Equal(t, "payment", form["mode"])
	assert.Equal(t, "bk-1", form["client_reference_id"])
	assert.Equal(t, "usd", form["line_items[0][price_data][currency]"])
	assert.Equal(t, "5000", form["line_items[0][price_data][unit_amount]"])
	assert.Equal(t, "Massage", form["line_items[0][price_data][product_data][name]"])
	assert.Equal(t, "bk-1", form["metadata[booking_id]"])

	free := testBooking()
	free.AmountCents = 0
	_, err = g.CreateIntent(context.Background(), free)
	assert.Error(t, err)
}

func TestStripeConfirmOutcomes(t *testing.T) {
	_, srv := newStripeStub(t)
	g := newTestGateway(srv)
	ctx := context.Background()

	tests := []struct {
		ref  string
		want string
	}{
		{"cs_paid", models.OutcomeSucceeded},
		{"cs_open", models.OutcomePending},
		{"cs_expired", models.OutcomeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			res, err := g.Confirm(ctx, tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
		})
	}

	res, err := g.Confirm(ctx, "cs_paid")
	require.NoError(t, err)
	assert.Equal(t, "pi_123", res.TransactionID)
	assert.Equal(t, int64(5000), res.AmountCents)
	assert.Equal(t, "USD", res.Currency)

	_, err = g.Confirm(ctx, "cs_missing")
	assert.Error(t, err)
}

func TestStripeRefund(t *testing.T) {
	stub, srv := newStripeStub(t)
	g := newTestGateway(srv)

	res, err := g.Refund(context.Background(), "cs_paid", 2500)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSucceeded, res.Status)
	assert.Equal(t, "re_1", res.RefundID)
	assert.Equal(t, int64(2500), res.AmountCents)
	assert.True(t, res.Succeeded())

	form := stub.forms["refund"]
	assert.Equal(t, "pi_123", form["payment_intent"])
	assert.Equal(t, "2500", form["amount"])

	_, err = g.Refund(context.Background(), "cs_open", 0)
	assert.Error(t, err, "no payment intent to refund")

	_, err = g.Refund(context.Background(), "pi_123", -1)
	assert.Error(t, err)
}

func TestManualGateway(t *testing.T) {
	g := NewManualGateway(nil)
	ctx := context.Background()
	assert.True(t, g.IsConfigured())

	intent, err := g.CreateIntent(ctx, testBooking())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(intent.ID, "manual_"))
	assert.Empty(t, intent.RedirectURL)

	res, err := g.Confirm(ctx, intent.ID)
	require.NoError(t, err)
	assert.True(t, res.Succeeded())

	res, err = g.Confirm(ctx, "cs_foreign")
	require.NoError(t, err)
	assert.True(t, res.Failed())

	refund, err := g.Refund(ctx, intent.ID, 1000)
	require.NoError(t, err)
	assert.True(t, refund.Succeeded())
	assert.Equal(t, int64(1000), refund.AmountCents)
}
