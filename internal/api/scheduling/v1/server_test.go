package schedulingv1

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Leganyst/clinic-scheduling/internal/app"
	"github.com/Leganyst/clinic-scheduling/internal/apperr"
	"github.com/Leganyst/clinic-scheduling/internal/db/dbtest"
	"github.com/Leganyst/clinic-scheduling/internal/identity"
	"github.com/Leganyst/clinic-scheduling/internal/model"
)

const testSecret = "test-secret"

type harness struct {
	client  *SchedulingClient
	app     *app.App
	tokens  *identity.Tokens
	staff   uuid.UUID
	branch  uuid.UUID
	patient uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gdb := dbtest.Open(t)
	a := app.New(gdb, app.Options{Location: time.UTC, Log: zerolog.Nop()})
	tokens := identity.NewTokens(testSecret, "clinic-scheduling")

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(identity.UnaryServerInterceptor(tokens, true, zerolog.Nop())))
	RegisterSchedulingServer(srv, NewServer(a.Lifecycle, a.Schedules, a.Lister, a.Free, zerolog.Nop()))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	h := &harness{client: NewSchedulingClient(conn), app: a, tokens: tokens, branch: uuid.New()}
	ctx := context.Background()
	staff := &model.Staff{DisplayName: "Dr. Ivanova", BranchID: h.branch}
	require.NoError(t, a.Staff.Create(ctx, staff))
	patient := &model.Patient{DisplayName: "Petrov"}
	require.NoError(t, a.Patients.Create(ctx, patient))
	h.staff, h.patient = staff.ID, patient.ID
	return h
}

func (h *harness) call(t *testing.T, method string, req map[string]any) (*structpb.Struct, error) {
	t.Helper()
	tok, err := h.tokens.Issue(identity.Actor{ID: "reception-1", Role: identity.RoleReception}, time.Hour)
	require.NoError(t, err)
	ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+tok)
	return h.client.Call(ctx, method, req)
}

func data(t *testing.T, out *structpb.Struct) map[string]any {
	t.Helper()
	m := out.AsMap()
	require.Equal(t, true, m["success"])
	d, _ := m["data"].(map[string]any)
	return d
}

func (h *harness) seedShift(t *testing.T) {
	t.Helper()
	out, err := h.call(t, "CreateSchedule", map[string]any{
		"staff_id":    h.staff.String(),
		"branch_id":   h.branch.String(),
		"time_zone":   "UTC",
		"start_time":  "08:00",
		"end_time":    "12:00",
		"frequency":   "DAILY",
		"anchor_date": "2025-03-03",
		"count":       1,
	})
	require.NoError(t, err)
	schedID := data(t, out)["id"].(string)

	out, err = h.call(t, "GenerateShifts", map[string]any{"schedule_id": schedID})
	require.NoError(t, err)
	assert.Equal(t, float64(1), data(t, out)["count"])
}

func slot(hour, minute, minutes int) (string, string) {
	start := time.Date(2025, 3, 3, hour, minute, 0, 0, time.UTC)
	return start.Format(time.RFC3339), start.Add(time.Duration(minutes) * time.Minute).Format(time.RFC3339)
}

func TestBookingFlow(t *testing.T) {
	h := newHarness(t)
	h.seedShift(t)

	start, end := slot(9, 0, 15)
	out, err := h.call(t, "CreateAppointment", map[string]any{
		"patient_id": h.patient.String(),
		"staff_id":   h.staff.String(),
		"service_id": uuid.NewString(),
		"starts_at":  start,
		"ends_at":    end,
	})
	require.NoError(t, err)
	appt := data(t, out)["appointment"].(map[string]any)
	assert.Equal(t, "PENDING", appt["status"])
	assert.Equal(t, h.branch.String(), appt["branch_id"])
	apptID := appt["id"].(string)

	out, err = h.call(t, "ConfirmAppointment", map[string]any{"appointment_id": apptID, "verified_by": "cashier"})
	require.NoError(t, err)
	d := data(t, out)
	assert.Equal(t, "CONFIRMED", d["appointment"].(map[string]any)["status"])
	ev := d["calendar_event"].(map[string]any)
	assert.Equal(t, "confirmed", ev["color"])
	assert.Equal(t, "Appointment: Petrov", ev["title"])

	// тот же слот уже подтверждён
	_, err = h.call(t, "CreateAppointment", map[string]any{
		"patient_id": uuid.NewString(),
		"staff_id":   h.staff.String(),
		"service_id": uuid.NewString(),
		"starts_at":  start,
		"ends_at":    end,
	})
	require.Error(t, err)
	assert.Equal(t, codes.AlreadyExists, status.Code(err))
	assert.Equal(t, apperr.KindSlotAlreadyConfirmed, KindFromStatus(err))

	out, err = h.call(t, "ListCalendarEvents", map[string]any{
		"staff_id": h.staff.String(),
		"from":     "2025-03-03T00:00:00Z",
		"to":       "2025-03-04T00:00:00Z",
	})
	require.NoError(t, err)
	page := data(t, out)
	assert.Equal(t, float64(2), page["total"])
	items := page["items"].([]any)
	assert.Equal(t, "SHIFT", items[0].(map[string]any)["kind"])

	// 08:00-12:00 = 16 слотов, один занят подтверждённой записью
	out, err = h.call(t, "ListFreeSlots", map[string]any{
		"staff_id": h.staff.String(),
		"from":     "2025-03-03T00:00:00Z",
		"to":       "2025-03-04T00:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, float64(15), data(t, out)["total"])

	out, err = h.call(t, "GetAppointment", map[string]any{"appointment_id": apptID})
	require.NoError(t, err)
	assert.Equal(t, "cashier", data(t, out)["appointment"].(map[string]any)["verified_by"])
}

func TestCreateAppointmentErrors(t *testing.T) {
	h := newHarness(t)
	h.seedShift(t)

	start, end := slot(9, 0, 10)
	_, err := h.call(t, "CreateAppointment", map[string]any{
		"patient_id": h.patient.String(),
		"staff_id":   h.staff.String(),
		"service_id": uuid.NewString(),
		"starts_at":  start,
		"ends_at":    end,
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Equal(t, apperr.KindValidation, KindFromStatus(err))

	start, end = slot(13, 0, 15)
	_, err = h.call(t, "CreateAppointment", map[string]any{
		"patient_id": h.patient.String(),
		"staff_id":   h.staff.String(),
		"service_id": uuid.NewString(),
		"starts_at":  start,
		"ends_at":    end,
	})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Equal(t, apperr.KindNoAvailableShift, KindFromStatus(err))

	_, err = h.call(t, "CreateAppointment", map[string]any{"staff_id": "not-a-uuid"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "PatientID")
}

func TestCancelNonPendingIsNoop(t *testing.T) {
	h := newHarness(t)
	h.seedShift(t)

	start, end := slot(10, 30, 15)
	out, err := h.call(t, "CreateAppointment", map[string]any{
		"patient_id": h.patient.String(),
		"staff_id":   h.staff.String(),
		"service_id": uuid.NewString(),
		"starts_at":  start,
		"ends_at":    end,
	})
	require.NoError(t, err)
	id := data(t, out)["appointment"].(map[string]any)["id"].(string)

	_, err = h.call(t, "ConfirmAppointment", map[string]any{"appointment_id": id})
	require.NoError(t, err)

	out, err = h.call(t, "CancelAppointment", map[string]any{"appointment_id": id, "reason": "changed mind"})
	require.NoError(t, err)
	m := out.AsMap()
	assert.Equal(t, true, m["success"])
	assert.Equal(t, "only pending appointments may be cancelled this way", m["message"])
	d := m["data"].(map[string]any)
	assert.Equal(t, false, d["changed"])
	assert.Equal(t, "CONFIRMED", d["appointment"].(map[string]any)["status"])

	_, err = h.call(t, "RefundAppointment", map[string]any{"appointment_id": id, "reason": "clinic closed"})
	require.NoError(t, err)

	_, err = h.call(t, "MarkNoShow", map[string]any{"appointment_id": id})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Equal(t, apperr.KindInvalidStateTransition, KindFromStatus(err))
}

func TestGetAppointmentNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.call(t, "GetAppointment", map[string]any{"appointment_id": uuid.NewString()})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestRejectsBadToken(t *testing.T) {
	h := newHarness(t)
	ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer garbage")
	_, err := h.client.Call(ctx, "GetAppointment", map[string]any{"appointment_id": uuid.NewString()})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}
