// Package payments ties the visit payment flow to the request lifecycle:
// funds are held when a nurse is assigned, captured when the visit
// completes, and released when the request is cancelled.
package payments

import (
	"context"
	"fmt"
	"os"
	"sync"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// Charger is the payment-provider surface VisitPayments needs; StripeClient
// is the production implementation.
type Charger interface {
	Hold(ctx context.Context, amount int64, currency string) (string, error)
	Capture(ctx context.Context, intentID string) error
	Cancel(ctx context.Context, intentID string) error
}

// StripeClient wraps stripe-go PaymentIntent hold/capture/cancel flows.
type StripeClient struct{}

// NewStripeClient initializes the stripe client from the STRIPE_API_KEY env var.
func NewStripeClient() *StripeClient {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	return &StripeClient{}
}

// Hold creates a PaymentIntent with capture_method=manual and returns its id.
func (s *StripeClient) Hold(_ context.Context, amount int64, currency string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeClient) Capture(_ context.Context, intentID string) error {
	_, err := paymentintent.Capture(intentID, nil)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(_ context.Context, intentID string) error {
	_, err := paymentintent.Cancel(intentID, nil)
	return err
}

// VisitPayments maps request ids to payment intents and implements the
// engine's Payments hook. Flat per-visit pricing; a real deployment would
// price from the visit record.
type VisitPayments struct {
	client   Charger
	amount   int64
	currency string

	mu      sync.Mutex
	intents map[string]string
}

func NewVisitPayments(client Charger, amount int64, currency string) *VisitPayments {
	return &VisitPayments{
		client:   client,
		amount:   amount,
		currency: currency,
		intents:  make(map[string]string),
	}
}

func (v *VisitPayments) Hold(ctx context.Context, requestID string) error {
	id, err := v.client.Hold(ctx, v.amount, v.currency)
	if err != nil {
		return fmt.Errorf("hold for request %s: %w", requestID, err)
	}
	v.mu.Lock()
	v.intents[requestID] = id
	v.mu.Unlock()
	return nil
}

func (v *VisitPayments) Capture(ctx context.Context, requestID string) error {
	id, ok := v.take(requestID)
	if !ok {
		// nothing held, e.g. the hold itself failed earlier
		return nil
	}
	if err := v.client.Capture(ctx, id); err != nil {
		return fmt.Errorf("capture for request %s: %w", requestID, err)
	}
	return nil
}

func (v *VisitPayments) Release(ctx context.Context, requestID string) error {
	id, ok := v.take(requestID)
	if !ok {
		return nil
	}
	if err := v.client.Cancel(ctx, id); err != nil {
		return fmt.Errorf("release for request %s: %w", requestID, err)
	}
	return nil
}

func (v *VisitPayments) take(requestID string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id, ok := v.intents[requestID]
	if ok {
		delete(v.intents, requestID)
	}
	return id, ok
}
