// Package repo persists the order event stream into postgres.
package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type IOrder interface {
	// Upsert stores records, keeping the row with the highest LastSeq.
	Upsert(ctx context.Context, records []*OrderRecord) error
	Get(ctx context.Context, id string) (*OrderRecord, error)
}

type IFill interface {
	// BulkCreate ignores exec ids already stored.
	BulkCreate(ctx context.Context, records []*FillRecord) error
}

type IOrderEvent interface {
	// BulkCreate ignores event ids already stored.
	BulkCreate(ctx context.Context, records []*OrderEventRecord) error
}

type IRepo interface {
	Order() IOrder
	Fill() IFill
	OrderEvent() IOrderEvent
	// Transaction runs fn against repos bound to one transaction.
	Transaction(ctx context.Context, fn func(r IRepo) error) error
}

type Repo struct {
	omsDB *gorm.DB
}

func NewRepo(omsDB *gorm.DB) IRepo {
	return &Repo{
		omsDB: omsDB,
	}
}

func (r *Repo) Order() IOrder {
	return &OrderSQLRepo{db: r.omsDB}
}

func (r *Repo) Fill() IFill {
	return &FillSQLRepo{db: r.omsDB}
}

func (r *Repo) OrderEvent() IOrderEvent {
	return &OrderEventSQLRepo{db: r.omsDB}
}

func (r *Repo) Transaction(ctx context.Context, fn func(r IRepo) error) error {
	return r.omsDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repo{omsDB: tx})
	})
}

type OrderSQLRepo struct {
	db *gorm.DB
}

func (s *OrderSQLRepo) dbWithContext(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *OrderSQLRepo) Upsert(ctx context.Context, records []*OrderRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.dbWithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "venue", "route_attempts", "degraded", "reason_kind", "reason_message",
			"cum_quantity", "leaves_quantity", "avg_price", "last_seq", "updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "orders.last_seq < excluded.last_seq"},
		}},
	}).Create(records).Error
}

func (s *OrderSQLRepo) Get(ctx context.Context, id string) (*OrderRecord, error) {
	var rec OrderRecord
	if err := s.dbWithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

type FillSQLRepo struct {
	db *gorm.DB
}

func (s *FillSQLRepo) BulkCreate(ctx context.Context, records []*FillRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(records).Error
}

type OrderEventSQLRepo struct {
	db *gorm.DB
}

func (s *OrderEventSQLRepo) BulkCreate(ctx context.Context, records []*OrderEventRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(records).Error
}
