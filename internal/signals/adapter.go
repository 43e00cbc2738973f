package signals

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Leganyst/clinic-scheduling/internal/apperr"
	"github.com/Leganyst/clinic-scheduling/internal/identity"
	"github.com/Leganyst/clinic-scheduling/internal/model"
	"github.com/Leganyst/clinic-scheduling/internal/service"
)

var tracer = otel.Tracer("github.com/Leganyst/clinic-scheduling/internal/signals")

// Lifecycle — операции записи, которые вызывает адаптер.
type Lifecycle interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	ResolveCurrent(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	Confirm(ctx context.Context, actor identity.Actor, id uuid.UUID, cc service.ConfirmContext) (*service.Outcome, error)
	Cancel(ctx context.Context, actor identity.Actor, id uuid.UUID, reason string) (*service.Outcome, error)
	Refund(ctx context.Context, actor identity.Actor, id uuid.UUID, reason string) (*service.Outcome, error)
}

// Orders — поиск заказов по внешней ссылке.
type Orders interface {
	FindOrdersByReference(ctx context.Context, reference string) ([]model.Order, error)
	MarkPaid(ctx context.Context, orderID uuid.UUID) error
}

var errUnmapped = errors.New("reference does not map to any appointment")

type target struct {
	appointmentID uuid.UUID
	orderID       *uuid.UUID
}

type Adapter struct {
	lifecycle Lifecycle
	orders    Orders
	dedupe    Deduper
	log       zerolog.Logger
}

func NewAdapter(lifecycle Lifecycle, orders Orders, dedupe Deduper, log zerolog.Logger) *Adapter {
	return &Adapter{
		lifecycle: lifecycle,
		orders:    orders,
		dedupe:    dedupe,
		log:       log.With().Str("component", "signals").Logger(),
	}
}

// Handle обрабатывает сигнал. Ошибки сопоставления и паники не выходят наружу.
func (a *Adapter) Handle(ctx context.Context, sig Signal) (rep Report) {
	rep.Signal = sig
	ctx, span := tracer.Start(ctx, "signals.handle", trace.WithAttributes(
		attribute.String("signal.source", sig.Source),
		attribute.String("signal.kind", string(sig.Kind)),
		attribute.String("signal.reference_id", sig.ReferenceID),
	))
	defer span.End()

	log := a.log.With().
		Str("source", sig.Source).
		Str("event_id", sig.EventID).
		Str("kind", string(sig.Kind)).
		Str("reference_id", sig.ReferenceID).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("signal handler panicked")
			span.RecordError(fmt.Errorf("panic: %v", r))
			rep.Dropped = true
			rep.Retryable = true
			rep.Reason = "panic"
			a.release(ctx, sig, log)
		}
	}()

	if sig.Kind != KindOrderCompleted && sig.Kind != KindOrderCancelled {
		return a.drop(rep, log, "unknown signal kind")
	}
	if strings.TrimSpace(sig.ReferenceID) == "" {
		return a.drop(rep, log, "empty reference id")
	}

	if sig.EventID != "" && a.dedupe != nil {
		first, err := a.dedupe.Claim(ctx, sig.EventID)
		if err != nil {
			// без дедупликации обработка всё равно идемпотентна
			log.Warn().Err(err).Msg("dedupe claim failed")
		} else if !first {
			log.Info().Msg("duplicate signal ignored")
			rep.Duplicate = true
			return rep
		}
	}

	targets, err := a.resolve(ctx, sig.ReferenceID)
	if err != nil {
		if errors.Is(err, errUnmapped) {
			return a.drop(rep, log, err.Error())
		}
		span.RecordError(err)
		log.Error().Err(err).Msg("resolve signal reference")
		a.release(ctx, sig, log)
		rep.Dropped = true
		rep.Retryable = true
		rep.Reason = "lookup failed"
		return rep
	}

	actor := identity.Signal(sig.Source)
	paid := make(map[uuid.UUID]bool)
	for _, t := range targets {
		var res AppointmentResult
		switch sig.Kind {
		case KindOrderCompleted:
			res = a.complete(ctx, actor, sig, t)
			if t.orderID != nil && res.Action == ActionConfirmed && !paid[*t.orderID] {
				paid[*t.orderID] = true
				if err := a.orders.MarkPaid(ctx, *t.orderID); err != nil {
					log.Error().Err(err).Str("order_id", t.orderID.String()).Msg("mark order paid")
				}
			}
		case KindOrderCancelled:
			res = a.cancel(ctx, actor, sig, t)
		}
		a.logResult(log, res)
		rep.Results = append(rep.Results, res)
	}

	if rep.Failed() {
		a.release(ctx, sig, log)
	}
	return rep
}

func (a *Adapter) complete(ctx context.Context, actor identity.Actor, sig Signal, t target) AppointmentResult {
	res := AppointmentResult{ReferencedID: t.appointmentID}
	appt, err := a.lifecycle.ResolveCurrent(ctx, t.appointmentID)
	if err != nil {
		return fail(res, err)
	}
	res.CurrentID = appt.ID

	verifiedBy := sig.VerifiedBy
	if verifiedBy == "" {
		verifiedBy = actor.ID
	}
	out, err := a.lifecycle.Confirm(ctx, actor, appt.ID, service.ConfirmContext{VerifiedBy: verifiedBy, OrderID: t.orderID})
	if err != nil {
		return fail(res, err)
	}
	res.Action = ActionConfirmed
	if !out.Changed {
		res.Action = ActionSkipped
	}
	return res
}

func (a *Adapter) cancel(ctx context.Context, actor identity.Actor, sig Signal, t target) AppointmentResult {
	res := AppointmentResult{ReferencedID: t.appointmentID}
	appt, err := a.lifecycle.ResolveCurrent(ctx, t.appointmentID)
	if err != nil {
		return fail(res, err)
	}
	res.CurrentID = appt.ID

	if appt.Status.IsTerminal() {
		res.Action = ActionSkipped
		return res
	}

	reason := fmt.Sprintf("order %s cancelled via %s", sig.ReferenceID, sig.Source)
	switch appt.Status {
	case model.AppointmentConfirmed:
		_, err = a.lifecycle.Refund(ctx, actor, appt.ID, reason)
		res.Action = ActionRefunded
	case model.AppointmentPending:
		_, err = a.lifecycle.Cancel(ctx, actor, appt.ID, reason)
		res.Action = ActionCancelled
	default:
		res.Action = ActionSkipped
	}
	if err != nil {
		return fail(res, err)
	}
	return res
}

// resolve: referenceId может быть ID записи, ID заказа или ссылка заказа.
func (a *Adapter) resolve(ctx context.Context, ref string) ([]target, error) {
	ref = strings.TrimSpace(ref)
	if id, err := uuid.Parse(ref); err == nil {
		_, err := a.lifecycle.Get(ctx, id)
		switch {
		case err == nil:
			return []target{{appointmentID: id}}, nil
		case !apperr.Is(err, apperr.KindNotFound):
			return nil, err
		}
	}

	if a.orders == nil {
		return nil, errUnmapped
	}
	orders, err := a.orders.FindOrdersByReference(ctx, ref)
	if err != nil {
		return nil, err
	}

	var targets []target
	seen := make(map[uuid.UUID]bool)
	for _, o := range orders {
		orderID := o.ID
		for _, line := range o.Lines {
			if seen[line.AppointmentID] {
				continue
			}
			seen[line.AppointmentID] = true
			targets = append(targets, target{appointmentID: line.AppointmentID, orderID: &orderID})
		}
	}
	if len(targets) == 0 {
		return nil, errUnmapped
	}
	return targets, nil
}

func (a *Adapter) drop(rep Report, log zerolog.Logger, reason string) Report {
	log.Warn().Str("reason", reason).Msg("signal dropped")
	rep.Dropped = true
	rep.Reason = reason
	return rep
}

func (a *Adapter) release(ctx context.Context, sig Signal, log zerolog.Logger) {
	if sig.EventID == "" || a.dedupe == nil {
		return
	}
	if err := a.dedupe.Release(ctx, sig.EventID); err != nil {
		log.Warn().Err(err).Msg("dedupe release failed")
	}
}

func (a *Adapter) logResult(log zerolog.Logger, res AppointmentResult) {
	ev := log.Info()
	if res.Err != nil {
		ev = log.Warn().Err(res.Err).Str("error_kind", string(apperr.KindOf(res.Err)))
		if res.Action == ActionFailed {
			ev = log.Error().Err(res.Err)
		}
	}
	ev.Str("appointment_id", res.ReferencedID.String()).
		Str("current_id", res.CurrentID.String()).
		Str("action", string(res.Action)).
		Msg("signal applied")
}

// fail: ожидаемые отказы (конфликт, недопустимый переход) означают пропуск,
// а не сбой.
func fail(res AppointmentResult, err error) AppointmentResult {
	res.Err = err
	res.Action = ActionFailed
	if apperr.IsExpected(err) {
		res.Action = ActionSkipped
	}
	return res
}
