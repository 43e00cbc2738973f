package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/Leganyst/clinic-scheduling/internal/app"
	"github.com/Leganyst/clinic-scheduling/internal/db/dbtest"
	"github.com/Leganyst/clinic-scheduling/internal/identity"
	"github.com/Leganyst/clinic-scheduling/internal/model"
	"github.com/Leganyst/clinic-scheduling/internal/service"
	"github.com/Leganyst/clinic-scheduling/internal/signals"
)

const secret = "whsec_test"

func signed(t *testing.T, id, typ string, object map[string]any) (string, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        typ,
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret, Timestamp: time.Now()})
	return string(sp.Payload), sp.Header
}

func post(e http.Handler, body, sigHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body))
	req.Header.Set("Stripe-Signature", sigHeader)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type recordingHandler struct {
	got []signals.Signal
	rep signals.Report
}

func (h *recordingHandler) Handle(_ context.Context, sig signals.Signal) signals.Report {
	h.got = append(h.got, sig)
	rep := h.rep
	rep.Signal = sig
	return rep
}

func TestHealthAndReadiness(t *testing.T) {
	e := New(Deps{
		Log: zerolog.Nop(),
		Checks: map[string]ReadyCheck{
			"db":    func(context.Context) error { return nil },
			"redis": func(context.Context) error { return errors.New("connection refused") },
		},
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["db"])
	assert.Equal(t, "connection refused", body["redis"])
}

func TestStripeWebhookRouting(t *testing.T) {
	h := &recordingHandler{}
	e := New(Deps{Log: zerolog.Nop(), Stripe: NewStripeWebhook(signals.NewStripeParser(secret, time.Minute), h, zerolog.Nop())})

	body, header := signed(t, "evt_1", "checkout.session.completed", map[string]any{
		"id":       "cs_1",
		"object":   "checkout.session",
		"metadata": map[string]string{"reference_id": "ord-1"},
	})
	rec := post(e, body, header)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.got, 1)
	assert.Equal(t, signals.KindOrderCompleted, h.got[0].Kind)

	body, header = signed(t, "evt_2", "invoice.created", map[string]any{"id": "in_1", "object": "invoice"})
	rec = post(e, body, header)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ignored":true`)
	assert.Len(t, h.got, 1)

	rec = post(e, body, "t=1,v1=deadbeef")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStripeWebhookFailureAsksForRetry(t *testing.T) {
	h := &recordingHandler{rep: signals.Report{Results: []signals.AppointmentResult{{Action: signals.ActionFailed}}}}
	e := New(Deps{Log: zerolog.Nop(), Stripe: NewStripeWebhook(signals.NewStripeParser(secret, time.Minute), h, zerolog.Nop())})

	body, header := signed(t, "evt_3", "charge.refunded", map[string]any{
		"id":       "ch_1",
		"object":   "charge",
		"metadata": map[string]string{"reference_id": "ord-1"},
	})
	rec := post(e, body, header)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type failingOrders struct{}

func (failingOrders) FindOrdersByReference(context.Context, string) ([]model.Order, error) {
	return nil, errors.New("connection reset")
}

func (failingOrders) MarkPaid(context.Context, uuid.UUID) error { return nil }

func TestStripeWebhookRetriesOnLookupFailure(t *testing.T) {
	a := app.New(dbtest.Open(t), app.Options{Location: time.UTC, Log: zerolog.Nop()})
	dd := signals.NewMemoryDeduper(time.Hour)
	adapter := signals.NewAdapter(a.Lifecycle, failingOrders{}, dd, zerolog.Nop())
	e := New(Deps{Log: zerolog.Nop(), Stripe: NewStripeWebhook(signals.NewStripeParser(secret, time.Minute), adapter, zerolog.Nop())})

	body, header := signed(t, "evt_lookup", "checkout.session.completed", map[string]any{
		"id":       "cs_lookup",
		"object":   "checkout.session",
		"metadata": map[string]string{"reference_id": "ord-77"},
	})
	rec := post(e, body, header)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"dropped":"lookup failed"`)

	// повтор от Stripe не считается дубликатом
	rec = post(e, body, header)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"duplicate":true`)
}

func TestStripeWebhookConfirmsAppointment(t *testing.T) {
	ctx := context.Background()
	a := app.New(dbtest.Open(t), app.Options{
		Location: time.UTC,
		Dedupe:   signals.NewMemoryDeduper(time.Hour),
		Log:      zerolog.Nop(),
	})
	staff, branch := uuid.New(), uuid.New()

	sched, err := a.Schedules.CreateSchedule(ctx, identity.System, service.ScheduleInput{
		StaffID: staff, BranchID: branch, TimeZone: "UTC",
		StartTime: "08:00", EndTime: "12:00",
		Frequency: model.FrequencyDaily, AnchorDate: "2025-03-03", Count: 1,
	})
	require.NoError(t, err)
	_, err = a.Schedules.GenerateShifts(ctx, identity.System, sched.ID, false)
	require.NoError(t, err)

	start := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	out, err := a.Lifecycle.Create(ctx, identity.System, service.CreateRequest{
		PatientID: uuid.New(), StaffID: staff, ServiceID: uuid.New(),
		Start: start, End: start.Add(15 * time.Minute),
	})
	require.NoError(t, err)

	e := New(Deps{Log: zerolog.Nop(), Stripe: NewStripeWebhook(signals.NewStripeParser(secret, time.Minute), a.Signals, zerolog.Nop())})
	body, header := signed(t, "evt_paid", "checkout.session.completed", map[string]any{
		"id":             "cs_paid",
		"object":         "checkout.session",
		"payment_intent": "pi_paid",
		"metadata":       map[string]string{"reference_id": out.Appointment.ID.String()},
	})

	rec := post(e, body, header)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"applied":1`)

	// повторная доставка того же события
	rec = post(e, body, header)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"duplicate":true`)

	got, err := a.Lifecycle.Get(ctx, out.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentConfirmed, got.Status)
	require.NotNil(t, got.VerifiedBy)
	assert.Equal(t, "stripe:pi_paid", *got.VerifiedBy)
	require.NotNil(t, got.CalendarEventID)

	history, err := a.Audit.History(ctx, got.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "signal:stripe", history[1].ActorID)
}
