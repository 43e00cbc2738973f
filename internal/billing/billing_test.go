package billing

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"

	"github.com/Leganyst/clinic-scheduling/internal/db/dbtest"
	"github.com/Leganyst/clinic-scheduling/internal/model"
	"github.com/Leganyst/clinic-scheduling/internal/repository"
)

type call struct {
	op, intent, key string
}

type fakeGateway struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (g *fakeGateway) Refund(_ context.Context, intent, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call{"refund", intent, key})
	return g.err
}

func (g *fakeGateway) Cancel(_ context.Context, intent, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call{"cancel", intent, key})
	return g.err
}

func setup(t *testing.T) (*Service, repository.OrderRepository, *fakeGateway) {
	t.Helper()
	orders := repository.NewGormOrderRepository(dbtest.Open(t))
	gw := &fakeGateway{}
	svc := NewService(orders, gw, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC) }
	return svc, orders, gw
}

func seedOrder(t *testing.T, orders repository.OrderRepository, status model.OrderStatus, intent *string, appts ...uuid.UUID) *model.Order {
	t.Helper()
	o := &model.Order{Reference: "cs_" + uuid.NewString(), Status: status, PaymentIntentID: intent}
	for _, a := range appts {
		o.Lines = append(o.Lines, model.OrderLine{AppointmentID: a})
	}
	require.NoError(t, orders.Create(context.Background(), o))
	return o
}

func TestRefundOrderCallsGatewayOnce(t *testing.T) {
	svc, orders, gw := setup(t)
	ctx := context.Background()
	o := seedOrder(t, orders, model.OrderStatusPaid, stripe.String("pi_1"))

	require.NoError(t, svc.RefundOrder(ctx, o.ID))
	require.NoError(t, svc.RefundOrder(ctx, o.ID))

	require.Len(t, gw.calls, 1)
	assert.Equal(t, call{"refund", "pi_1", "refund:" + o.ID.String()}, gw.calls[0])

	got, err := orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusRefunded, got.Status)
	require.NotNil(t, got.RefundedAt)
}

func TestRefundOrderGatewayFailureKeepsStatus(t *testing.T) {
	svc, orders, gw := setup(t)
	gw.err = assert.AnError
	o := seedOrder(t, orders, model.OrderStatusPaid, stripe.String("pi_2"))

	err := svc.RefundOrder(context.Background(), o.ID)
	require.ErrorIs(t, err, assert.AnError)

	got, err := orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, got.Status)
}

func TestCancelOrder(t *testing.T) {
	svc, orders, gw := setup(t)
	ctx := context.Background()

	open := seedOrder(t, orders, model.OrderStatusOpen, stripe.String("pi_open"))
	paid := seedOrder(t, orders, model.OrderStatusPaid, stripe.String("pi_paid"))

	require.NoError(t, svc.CancelOrder(ctx, open.ID))
	require.NoError(t, svc.CancelOrder(ctx, open.ID))
	require.NoError(t, svc.CancelOrder(ctx, paid.ID))

	require.Len(t, gw.calls, 1)
	assert.Equal(t, "cancel", gw.calls[0].op)

	got, err := orders.GetByID(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, got.Status)

	got, err = orders.GetByID(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, got.Status)
}

func TestMarkPaidAndLookup(t *testing.T) {
	svc, orders, _ := setup(t)
	ctx := context.Background()
	appt := uuid.New()
	o := seedOrder(t, orders, model.OrderStatusOpen, nil, appt)

	require.NoError(t, svc.MarkPaid(ctx, o.ID))

	byRef, err := svc.FindOrdersByReference(ctx, o.Reference)
	require.NoError(t, err)
	require.Len(t, byRef, 1)
	assert.Equal(t, model.OrderStatusPaid, byRef[0].Status)

	byAppt, err := svc.FindOrdersByAppointment(ctx, appt)
	require.NoError(t, err)
	require.Len(t, byAppt, 1)
	assert.Equal(t, o.ID, byAppt[0].ID)
}

func TestStripeGatewayRefund(t *testing.T) {
	var (
		gotPath string
		gotBody string
		gotKey  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("Idempotency-Key")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"re_1","object":"refund","status":"succeeded"}`))
	}))
	defer srv.Close()

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
	})
	gw := NewStripeGateway("sk_test_123", &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	require.NoError(t, gw.Refund(context.Background(), "pi_42", "refund:abc"))
	assert.Equal(t, "/v1/refunds", gotPath)
	assert.Contains(t, gotBody, "payment_intent=pi_42")
	assert.Equal(t, "refund:abc", gotKey)
}
