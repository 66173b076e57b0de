package finance

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Transactions interface {
	repository.Repository[*Transaction]

	Record(ctx context.Context, txn *Transaction) (*Transaction, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Transaction, error)
	SummaryForUser(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]CategorySummary, error)
}

type transactions struct {
	repository.Repository[*Transaction]
	db *bun.DB
}

var _ Transactions = (*transactions)(nil)

func NewTransactionsRepository(db *bun.DB) Transactions {
	repo := repository.NewRepository[*Transaction](db, repository.ModelHandlers[*Transaction]{
		NewRecord: func() *Transaction { return &Transaction{} },
		GetID: func(t *Transaction) uuid.UUID {
			if t == nil {
				return uuid.Nil
			}
			return t.ID
		},
		SetID: func(t *Transaction, id uuid.UUID) {
			if t != nil {
				t.ID = id
			}
		},
	})

	return &transactions{
		Repository: repo,
		db:         db,
	}
}

func (r *transactions) Record(ctx context.Context, txn *Transaction) (*Transaction, error) {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	if txn.OccurredAt.IsZero() {
		txn.OccurredAt = time.Now()
	}
	if txn.Currency == "" {
		txn.Currency = "USD"
	}
	return r.Repository.Create(ctx, txn)
}

func (r *transactions) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var out []*Transaction
	err := r.db.NewSelect().
		Model(&out).
		Where("?TableAlias.user_id = ?", userID).
		Order("occurred_at DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SummaryForUser aggregates totals per category and kind over a window.
func (r *transactions) SummaryForUser(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]CategorySummary, error) {
	var out []CategorySummary
	err := r.db.NewSelect().
		Model((*Transaction)(nil)).
		ColumnExpr("?TableAlias.category AS category").
		ColumnExpr("?TableAlias.kind AS kind").
		ColumnExpr("SUM(?TableAlias.amount_cents) AS total_cents").
		ColumnExpr("COUNT(*) AS count").
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.occurred_at >= ?", from).
		Where("?TableAlias.occurred_at < ?", to).
		Where("?TableAlias.deleted_at IS NULL").
		GroupExpr("?TableAlias.category, ?TableAlias.kind").
		OrderExpr("total_cents DESC").
		Scan(ctx, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

type Budgets interface {
	repository.Repository[*Budget]

	// SetCap replaces the cap for (user, category, period), creating the
	// row when none exists. Named apart from the promoted Upsert, whose
	// repository signature differs.
	SetCap(ctx context.Context, budget *Budget) (*Budget, error)
	ListForUser(ctx context.Context, userID uuid.UUID, periodMonth string) ([]*Budget, error)
}

type budgets struct {
	repository.Repository[*Budget]
	db *bun.DB
}

var _ Budgets = (*budgets)(nil)

func NewBudgetsRepository(db *bun.DB) Budgets {
	repo := repository.NewRepository[*Budget](db, repository.ModelHandlers[*Budget]{
		NewRecord: func() *Budget { return &Budget{} },
		GetID: func(b *Budget) uuid.UUID {
			if b == nil {
				return uuid.Nil
			}
			return b.ID
		},
		SetID: func(b *Budget, id uuid.UUID) {
			if b != nil {
				b.ID = id
			}
		},
	})

	return &budgets{
		Repository: repo,
		db:         db,
	}
}

func (r *budgets) SetCap(ctx context.Context, budget *Budget) (*Budget, error) {
	if budget.ID == uuid.Nil {
		budget.ID = uuid.New()
	}
	if budget.Currency == "" {
		budget.Currency = "USD"
	}

	existing := new(Budget)
	err := r.db.NewSelect().
		Model(existing).
		Where("?TableAlias.user_id = ?", budget.UserID).
		Where("?TableAlias.category = ?", budget.Category).
		Where("?TableAlias.period_month = ?", budget.PeriodMonth).
		Where("?TableAlias.deleted_at IS NULL").
		Limit(1).
		Scan(ctx)
	if err == nil && existing.ID != uuid.Nil {
		existing.LimitCents = budget.LimitCents
		existing.Currency = budget.Currency
		return r.Repository.Update(ctx, existing)
	}

	return r.Repository.Create(ctx, budget)
}

func (r *budgets) ListForUser(ctx context.Context, userID uuid.UUID, periodMonth string) ([]*Budget, error) {
	var out []*Budget
	q := r.db.NewSelect().
		Model(&out).
		Where("?TableAlias.user_id = ?", userID).
		Order("category ASC")

	if periodMonth != "" {
		q = q.Where("?TableAlias.period_month = ?", periodMonth)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return out, nil
}
