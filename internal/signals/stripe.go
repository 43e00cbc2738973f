package signals

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const sourceStripe = "stripe"

// MetadataReferenceKey — ключ metadata, в котором checkout несёт ссылку на запись или заказ.
const MetadataReferenceKey = "reference_id"

// StripeParser проверяет подпись webhook и переводит событие в Signal.
type StripeParser struct {
	secret    string
	tolerance time.Duration
}

func NewStripeParser(secret string, tolerance time.Duration) *StripeParser {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeParser{secret: secret, tolerance: tolerance}
}

// Parse возвращает ok=false для событий, которые нас не интересуют.
func (p *StripeParser) Parse(payload []byte, sigHeader string) (sig Signal, ok bool, err error) {
	evt, err := webhook.ConstructEventWithOptions(payload, sigHeader, p.secret, webhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Signal{}, false, fmt.Errorf("verify stripe signature: %w", err)
	}

	switch evt.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			return Signal{}, false, fmt.Errorf("decode checkout session: %w", err)
		}
		verifiedBy := "stripe:" + session.ID
		if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
			verifiedBy = "stripe:" + session.PaymentIntent.ID
		}
		return OrderCompleted(sourceStripe, evt.ID, sessionReference(&session), verifiedBy), true, nil

	case "checkout.session.expired":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			return Signal{}, false, fmt.Errorf("decode checkout session: %w", err)
		}
		return OrderCancelled(sourceStripe, evt.ID, sessionReference(&session)), true, nil

	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(evt.Data.Raw, &charge); err != nil {
			return Signal{}, false, fmt.Errorf("decode charge: %w", err)
		}
		return OrderCancelled(sourceStripe, evt.ID, charge.Metadata[MetadataReferenceKey]), true, nil

	case "payment_intent.canceled":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
			return Signal{}, false, fmt.Errorf("decode payment intent: %w", err)
		}
		return OrderCancelled(sourceStripe, evt.ID, intent.Metadata[MetadataReferenceKey]), true, nil
	}
	return Signal{}, false, nil
}

func sessionReference(s *stripe.CheckoutSession) string {
	if ref := s.Metadata[MetadataReferenceKey]; ref != "" {
		return ref
	}
	return s.ClientReferenceID
}
