// Package identity определяет, от чьего имени выполняется операция.
package identity

import (
	"context"
	"errors"
	"strings"
)

// Ошибки разбора субъекта.
var (
	ErrMissingSubject = errors.New("actor subject is empty")
	ErrUnknownRole    = errors.New("actor role is unknown")
	ErrActorBlocked   = errors.New("actor is blocked")
)

// Роль субъекта.
type Role string

const (
	RoleStaff     Role = "staff"
	RoleReception Role = "reception"
	RoleAdmin     Role = "admin"
	RolePatient   Role = "patient"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStaff, RoleReception, RoleAdmin, RolePatient, RoleSystem:
		return true
	}
	return false
}

// Actor — кто выполняет операцию; попадает в аудит.
type Actor struct {
	ID   string
	Role Role
}

// System — действия, инициированные внутренними процессами.
var System = Actor{ID: "system", Role: RoleSystem}

// Signal — субъект для внешних сигналов (платёжный провайдер, очередь заказов).
func Signal(source string) Actor {
	source = strings.TrimSpace(source)
	if source == "" {
		return System
	}
	return Actor{ID: "signal:" + source, Role: RoleSystem}
}

func (a Actor) IsZero() bool {
	return a.ID == ""
}

// Validate нормализует субъект и проверяет роль.
func Validate(a Actor) (Actor, error) {
	a.ID = strings.TrimSpace(a.ID)
	if a.ID == "" {
		return Actor{}, ErrMissingSubject
	}
	a.Role = Role(strings.ToLower(strings.TrimSpace(string(a.Role))))
	if !a.Role.Valid() {
		return Actor{}, ErrUnknownRole
	}
	return a, nil
}

type ctxKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// FromContext возвращает субъекта из контекста или System.
func FromContext(ctx context.Context) Actor {
	if a, ok := ctx.Value(ctxKey{}).(Actor); ok && !a.IsZero() {
		return a
	}
	return System
}
