package finance

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type TransactionKind string

const (
	TransactionExpense TransactionKind = "expense"
	TransactionIncome  TransactionKind = "income"
)

func (k TransactionKind) IsValid() bool {
	return k == TransactionExpense || k == TransactionIncome
}

// Transaction is a single money movement owned by a user. Amounts are
// stored in cents to avoid float drift.
type Transaction struct {
	bun.BaseModel `bun:"table:transactions,alias:txn"`

	ID          uuid.UUID       `bun:"id,pk,notnull" json:"id"`
	UserID      uuid.UUID       `bun:"user_id,notnull" json:"user_id"`
	Kind        TransactionKind `bun:"kind,notnull" json:"kind"`
	Category    string          `bun:"category,notnull" json:"category"`
	AmountCents int64           `bun:"amount_cents,notnull" json:"amount_cents"`
	Currency    string          `bun:"currency,notnull,default:'USD'" json:"currency"`
	Note        string          `bun:"note" json:"note,omitempty"`
	OccurredAt  time.Time       `bun:"occurred_at,notnull" json:"occurred_at"`

	CreatedAt *time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt *time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
	DeletedAt *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"-"`
}

// Budget is a per-category monthly spending cap.
type Budget struct {
	bun.BaseModel `bun:"table:budgets,alias:bdg"`

	ID          uuid.UUID `bun:"id,pk,notnull" json:"id"`
	UserID      uuid.UUID `bun:"user_id,notnull" json:"user_id"`
	Category    string    `bun:"category,notnull" json:"category"`
	LimitCents  int64     `bun:"limit_cents,notnull" json:"limit_cents"`
	Currency    string    `bun:"currency,notnull,default:'USD'" json:"currency"`
	PeriodMonth string    `bun:"period_month,notnull" json:"period_month"`

	CreatedAt *time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt *time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
	DeletedAt *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"-"`
}

// CategorySummary is one row of the dashboard aggregate.
type CategorySummary struct {
	Category   string          `json:"category"`
	Kind       TransactionKind `json:"kind"`
	TotalCents int64           `json:"total_cents"`
	Count      int64           `json:"count"`
}
