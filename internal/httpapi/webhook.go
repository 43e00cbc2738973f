package httpapi

import (
	"context"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Leganyst/clinic-scheduling/internal/signals"
)

const maxWebhookBody = 1 << 20

// SignalHandler применяет нормализованный сигнал.
type SignalHandler interface {
	Handle(ctx context.Context, sig signals.Signal) signals.Report
}

type StripeWebhook struct {
	parser  *signals.StripeParser
	handler SignalHandler
	log     zerolog.Logger
}

func NewStripeWebhook(parser *signals.StripeParser, handler SignalHandler, log zerolog.Logger) *StripeWebhook {
	return &StripeWebhook{parser: parser, handler: handler, log: log.With().Str("component", "stripe_webhook").Logger()}
}

type webhookResponse struct {
	Received  bool   `json:"received"`
	Ignored   bool   `json:"ignored,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Dropped   string `json:"dropped,omitempty"`
	Applied   int    `json:"applied"`
}

// Handle отвечает 400 на неверную подпись и 500, если сигнал не удалось
// применить из-за сбоя: тогда Stripe повторит доставку.
func (w *StripeWebhook) Handle(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	sig, ok, err := w.parser.Parse(body, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		w.log.Warn().Err(err).Msg("rejected stripe webhook")
		return echo.NewHTTPError(http.StatusBadRequest, "invalid signature")
	}
	if !ok {
		return c.JSON(http.StatusOK, webhookResponse{Received: true, Ignored: true})
	}

	rep := w.handler.Handle(c.Request().Context(), sig)
	resp := webhookResponse{Received: true, Duplicate: rep.Duplicate}
	if rep.Dropped {
		resp.Dropped = rep.Reason
	}
	for _, r := range rep.Results {
		if r.Action != signals.ActionSkipped && r.Action != signals.ActionFailed {
			resp.Applied++
		}
	}
	if rep.Failed() {
		return c.JSON(http.StatusInternalServerError, resp)
	}
	return c.JSON(http.StatusOK, resp)
}
