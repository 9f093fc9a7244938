package database

import (
	"context"

	"gorm.io/gorm"
)

// Data hands out the gorm handle for a context: the open transaction when
// the context carries one, the pool otherwise.
type Data struct {
	db *gorm.DB
}

type contextTxKey struct{}

func NewData(db *gorm.DB) *Data {
	return &Data{db: db}
}

// Exec runs fn in a transaction. A nested Exec joins the outer transaction.
func (d *Data) Exec(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(contextTxKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, contextTxKey{}, tx))
	})
}

func (d *Data) DB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(contextTxKey{}).(*gorm.DB); ok {
		return tx
	}
	return d.db.WithContext(ctx)
}

func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(contextTxKey{}).(*gorm.DB)
	return ok
}
