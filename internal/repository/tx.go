package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Leganyst/clinic-scheduling/internal/db"
)

// ErrNotFound возвращается репозиториями вместо gorm.ErrRecordNotFound.
var ErrNotFound = errors.New("record not found")

type txKey struct{}

// Transactor выполняет fn в одной транзакции; репозитории берут
// соединение транзакции из контекста.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type GormTransactor struct {
	db *gorm.DB
}

func NewGormTransactor(db *gorm.DB) *GormTransactor {
	return &GormTransactor{db: db}
}

func (t *GormTransactor) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	// вложенный вызов присоединяется к внешней транзакции
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// InTransaction сообщает, идёт ли выполнение внутри WithTransaction.
func InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*gorm.DB)
	return ok
}

func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// forUpdate добавляет FOR UPDATE там, где диалект его поддерживает.
func forUpdate(q *gorm.DB) *gorm.DB {
	if db.SupportsRowLocks(q) {
		return q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}
