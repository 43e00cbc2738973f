// Package audit пишет журнал действий над сущностями планировщика.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Leganyst/clinic-scheduling/internal/model"
	"github.com/Leganyst/clinic-scheduling/internal/repository"
)

// Recorder сохраняет события аудита. Ошибка записи не прерывает операцию,
// а только логируется.
type Recorder struct {
	repo repository.AuditRepository
	log  zerolog.Logger
}

func NewRecorder(repo repository.AuditRepository, log zerolog.Logger) *Recorder {
	return &Recorder{repo: repo, log: log.With().Str("component", "audit").Logger()}
}

func (r *Recorder) Record(
	ctx context.Context,
	entityID uuid.UUID,
	entityType model.EntityType,
	action model.AuditAction,
	actorID string,
	at time.Time,
) {
	r.RecordWithDetails(ctx, entityID, entityType, action, actorID, at, nil)
}

// RecordWithDetails дополнительно сохраняет произвольные детали в JSON.
func (r *Recorder) RecordWithDetails(
	ctx context.Context,
	entityID uuid.UUID,
	entityType model.EntityType,
	action model.AuditAction,
	actorID string,
	at time.Time,
	details map[string]any,
) {
	event := &model.AuditEvent{
		EntityID:   entityID,
		EntityType: entityType,
		Action:     action,
		ActorID:    actorID,
		OccurredAt: at.UTC(),
	}
	if len(details) > 0 {
		raw, err := json.Marshal(details)
		if err != nil {
			r.log.Warn().Err(err).Str("entity_id", entityID.String()).Msg("encode audit details")
		} else {
			event.Details = raw
		}
	}

	if err := r.repo.Create(ctx, event); err != nil {
		r.log.Warn().Err(err).
			Str("entity_id", entityID.String()).
			Str("entity_type", string(entityType)).
			Str("action", string(action)).
			Msg("audit record failed")
	}
}

// History — события сущности по времени.
func (r *Recorder) History(ctx context.Context, entityID uuid.UUID) ([]model.AuditEvent, error) {
	return r.repo.ListByEntity(ctx, entityID)
}
