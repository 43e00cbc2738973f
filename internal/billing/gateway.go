package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// PaymentGateway — операции с платежом у провайдера.
type PaymentGateway interface {
	Refund(ctx context.Context, paymentIntentID, idempotencyKey string) error
	Cancel(ctx context.Context, paymentIntentID, idempotencyKey string) error
}

// StripeGateway работает через отдельный клиент, без глобального stripe.Key.
type StripeGateway struct {
	api *client.API
}

func NewStripeGateway(secretKey string, backends *stripe.Backends) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeGateway{api: api}
}

func (g *StripeGateway) Refund(ctx context.Context, paymentIntentID, idempotencyKey string) error {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(paymentIntentID)}
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	if _, err := g.api.Refunds.New(params); err != nil {
		return fmt.Errorf("stripe refund %s: %w", paymentIntentID, err)
	}
	return nil
}

func (g *StripeGateway) Cancel(ctx context.Context, paymentIntentID, idempotencyKey string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	if _, err := g.api.PaymentIntents.Cancel(paymentIntentID, params); err != nil {
		// intent уже отменён или оплачен
		var se *stripe.Error
		if errors.As(err, &se) && se.Code == stripe.ErrorCodePaymentIntentUnexpectedState {
			return nil
		}
		return fmt.Errorf("stripe cancel %s: %w", paymentIntentID, err)
	}
	return nil
}

// NopGateway используется, когда ключ Stripe не настроен.
type NopGateway struct{}

func (NopGateway) Refund(context.Context, string, string) error { return nil }
func (NopGateway) Cancel(context.Context, string, string) error { return nil }
