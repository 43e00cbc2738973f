// Package signals принимает внешние события по заказам (Kafka, Stripe)
// и переводит их в операции жизненного цикла записи.
package signals

import (
	"github.com/google/uuid"
)

type Kind string

const (
	KindOrderCompleted Kind = "ORDER_COMPLETED"
	KindOrderCancelled Kind = "ORDER_CANCELLED"
)

// Signal — нормализованное внешнее событие.
type Signal struct {
	// Идентификатор события у источника, по нему отсекаются дубли.
	EventID string
	Source  string
	Kind    Kind
	// ID записи, ID заказа или внешняя ссылка заказа.
	ReferenceID string
	VerifiedBy  string
}

func OrderCompleted(source, eventID, referenceID, verifiedBy string) Signal {
	return Signal{EventID: eventID, Source: source, Kind: KindOrderCompleted, ReferenceID: referenceID, VerifiedBy: verifiedBy}
}

func OrderCancelled(source, eventID, referenceID string) Signal {
	return Signal{EventID: eventID, Source: source, Kind: KindOrderCancelled, ReferenceID: referenceID}
}

// Action — что сделано с конкретной записью.
type Action string

const (
	ActionConfirmed Action = "confirmed"
	ActionCancelled Action = "cancelled"
	ActionRefunded  Action = "refunded"
	ActionSkipped   Action = "skipped"
	ActionFailed    Action = "failed"
)

type AppointmentResult struct {
	// Запись из сигнала и актуальная запись после переносов.
	ReferencedID uuid.UUID
	CurrentID    uuid.UUID
	Action       Action
	Err          error
}

// Report — итог обработки сигнала. Adapter.Handle никогда не паникует
// и не возвращает ошибку: всё попадает сюда.
type Report struct {
	Signal    Signal
	Duplicate bool
	Dropped   bool
	Reason    string
	// Retryable: сигнал не обработан из-за сбоя инфраструктуры, ключ
	// дедупликации освобождён, источник должен доставить его повторно.
	Retryable bool
	Results   []AppointmentResult
}

// Failed: была ли хотя бы одна инфраструктурная ошибка.
func (r Report) Failed() bool {
	if r.Retryable {
		return true
	}
	for _, res := range r.Results {
		if res.Action == ActionFailed {
			return true
		}
	}
	return false
}
