// Package apperr — классификация ошибок планировщика.
package apperr

import (
	"errors"
	"fmt"
)

// Kind — класс отказа.
type Kind string

const (
	KindValidation                Kind = "VALIDATION"
	KindNoAvailableShift          Kind = "NO_AVAILABLE_SHIFT"
	KindSlotAlreadyConfirmed      Kind = "SLOT_ALREADY_CONFIRMED"
	KindConfirmationConflict      Kind = "CONFIRMATION_CONFLICT"
	KindInvalidStateTransition    Kind = "INVALID_STATE_TRANSITION"
	KindInvalidScheduleDefinition Kind = "INVALID_SCHEDULE_DEFINITION"
	KindNotFound                  Kind = "NOT_FOUND"
	KindInternal                  Kind = "INTERNAL"
)

// Error передаётся между пакетами вместо сырых ошибок хранилища.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Expected: штатный отказ (валидация, конкуренция за слот), а не сбой
// инфраструктуры.
func (e *Error) Expected() bool {
	return e.Kind != KindInternal
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func InvalidTransition(format string, args ...any) *Error {
	return New(KindInvalidStateTransition, format, args...)
}

func InvalidSchedule(format string, args ...any) *Error {
	return New(KindInvalidScheduleDefinition, format, args...)
}

func Internal(err error, format string, args ...any) *Error {
	return Wrap(KindInternal, err, format, args...)
}

// KindOf возвращает класс первой *Error в цепочке, иначе KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// IsExpected: в цепочке есть *Error со штатным отказом. Ошибки вне
// классификации считаются сбоем.
func IsExpected(err error) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Expected()
}
