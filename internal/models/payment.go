package models

// Normalized payment outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomePending   = "pending"
)

// PaymentIntent is the result of starting a payment for a booking.
type PaymentIntent struct {
	ID          string            `json:"id"`
	RedirectURL string            `json:"redirect_url"`
	AmountCents int64             `json:"amount_cents"`
	Currency    string            `json:"currency"`
	Status      string            `json:"status"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// PaymentResult is the outcome of confirming a payment.
type PaymentResult struct {
	ID                string            `json:"id"`
	Status            string            `json:"status"`
	AmountCents       int64             `json:"amount_cents"`
	Currency          string            `json:"currency"`
	TransactionID     string            `json:"transaction_id,omitempty"`
	AuthorizationCode string            `json:"authorization_code,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

func (r PaymentResult) Succeeded() bool { return r.Status == OutcomeSucceeded }

func (r PaymentResult) Failed() bool { return r.Status == OutcomeFailed }

func (r PaymentResult) Pending() bool { return r.Status == OutcomePending }

// RefundResult is the outcome of a refund request.
type RefundResult struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	AmountCents int64             `json:"amount_cents"`
	Currency    string            `json:"currency"`
	RefundID    string            `json:"refund_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (r RefundResult) Succeeded() bool { return r.Status == OutcomeSucceeded }
