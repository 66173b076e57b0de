package finance

import (
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-router"

	"github.com/centsible/centsible/auth"
)

// Controller exposes the JSON finance endpoints. Routes are expected to be
// mounted behind the authentication filter plus a RequireAuthenticated
// guard; capability checks still run per handler.
type Controller struct {
	Logger       auth.Logger
	Transactions Transactions
	Budgets      Budgets
	ContextKey   string
}

type ControllerOption func(*Controller) *Controller

func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{
		Logger:     auth.DefaultLogger(),
		ContextKey: "principal",
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Transactions == nil {
		panic("Missing Transactions repository in finance controller...")
	}

	if c.Budgets == nil {
		panic("Missing Budgets repository in finance controller...")
	}

	return c
}

func WithTransactions(repo Transactions) ControllerOption {
	return func(c *Controller) *Controller {
		c.Transactions = repo
		return c
	}
}

func WithBudgets(repo Budgets) ControllerOption {
	return func(c *Controller) *Controller {
		c.Budgets = repo
		return c
	}
}

func WithLogger(logger auth.Logger) ControllerOption {
	return func(c *Controller) *Controller {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func RegisterFinanceRoutes[T any](app router.Router[T], controller *Controller, mw ...router.MiddlewareFunc) {
	app.Get("/transactions", controller.ListTransactions, mw...).
		SetName("transactions.get")
	app.Post("/transactions", controller.CreateTransaction, mw...).
		SetName("transactions.post")
	app.Get("/budgets", controller.ListBudgets, mw...).
		SetName("budgets.get")
	app.Post("/budgets", controller.UpsertBudget, mw...).
		SetName("budgets.post")
	app.Get("/dashboard", controller.Dashboard, mw...).
		SetName("dashboard.get")
}

// TransactionCreatePayload is the create-transaction body
type TransactionCreatePayload struct {
	Kind        string `form:"kind" json:"kind"`
	Category    string `form:"category" json:"category"`
	AmountCents int64  `form:"amount_cents" json:"amount_cents"`
	Currency    string `form:"currency" json:"currency"`
	Note        string `form:"note" json:"note"`
	OccurredAt  string `form:"occurred_at" json:"occurred_at"`
}

func (p TransactionCreatePayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Kind, validation.Required, validation.In(
			string(TransactionExpense),
			string(TransactionIncome),
		)),
		validation.Field(&p.Category, validation.Required, validation.Length(1, 100)),
		validation.Field(&p.AmountCents, validation.Required, validation.Min(int64(1))),
		validation.Field(&p.Currency, validation.Length(3, 3)),
		validation.Field(&p.OccurredAt, validation.Date(time.RFC3339)),
	)
}

func (c *Controller) ListTransactions(ctx router.Context) error {
	principal, resp := c.requirePrincipal(ctx, auth.CapTransactionsRead)
	if principal == nil {
		return resp
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", "50"))
	offset, _ := strconv.Atoi(ctx.Query("offset", "0"))

	userID, err := principal.UserUUID()
	if err != nil {
		return c.internalError(ctx, err)
	}

	records, err := c.Transactions.ListForUser(ctx.Context(), userID, limit, offset)
	if err != nil {
		return c.internalError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"transactions": records,
	})
}

func (c *Controller) CreateTransaction(ctx router.Context) error {
	principal, resp := c.requirePrincipal(ctx, auth.CapTransactionsWrite)
	if principal == nil {
		return resp
	}

	payload := new(TransactionCreatePayload)
	if err := ctx.Bind(payload); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error": "failed to parse request body",
		})
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error":      "invalid transaction payload",
			"validation": err.Error(),
		})
	}

	userID, err := principal.UserUUID()
	if err != nil {
		return c.internalError(ctx, err)
	}

	occurredAt := time.Now()
	if payload.OccurredAt != "" {
		if parsed, perr := time.Parse(time.RFC3339, payload.OccurredAt); perr == nil {
			occurredAt = parsed
		}
	}

	record, err := c.Transactions.Record(ctx.Context(), &Transaction{
		UserID:      userID,
		Kind:        TransactionKind(payload.Kind),
		Category:    payload.Category,
		AmountCents: payload.AmountCents,
		Currency:    payload.Currency,
		Note:        payload.Note,
		OccurredAt:  occurredAt,
	})
	if err != nil {
		return c.internalError(ctx, err)
	}

	return ctx.JSON(router.StatusCreated, record)
}

// BudgetUpsertPayload sets a category cap for a month
type BudgetUpsertPayload struct {
	Category    string `form:"category" json:"category"`
	LimitCents  int64  `form:"limit_cents" json:"limit_cents"`
	Currency    string `form:"currency" json:"currency"`
	PeriodMonth string `form:"period_month" json:"period_month"`
}

func (p BudgetUpsertPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Category, validation.Required, validation.Length(1, 100)),
		validation.Field(&p.LimitCents, validation.Required, validation.Min(int64(1))),
		validation.Field(&p.Currency, validation.Length(3, 3)),
		validation.Field(&p.PeriodMonth, validation.Required, validation.Date("2006-01")),
	)
}

func (c *Controller) ListBudgets(ctx router.Context) error {
	principal, resp := c.requirePrincipal(ctx, auth.CapBudgetsRead)
	if principal == nil {
		return resp
	}

	userID, err := principal.UserUUID()
	if err != nil {
		return c.internalError(ctx, err)
	}

	records, err := c.Budgets.ListForUser(ctx.Context(), userID, ctx.Query("month", ""))
	if err != nil {
		return c.internalError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"budgets": records,
	})
}

func (c *Controller) UpsertBudget(ctx router.Context) error {
	principal, resp := c.requirePrincipal(ctx, auth.CapBudgetsWrite)
	if principal == nil {
		return resp
	}

	payload := new(BudgetUpsertPayload)
	if err := ctx.Bind(payload); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error": "failed to parse request body",
		})
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error":      "invalid budget payload",
			"validation": err.Error(),
		})
	}

	userID, err := principal.UserUUID()
	if err != nil {
		return c.internalError(ctx, err)
	}

	record, err := c.Budgets.SetCap(ctx.Context(), &Budget{
		UserID:      userID,
		Category:    payload.Category,
		LimitCents:  payload.LimitCents,
		Currency:    payload.Currency,
		PeriodMonth: payload.PeriodMonth,
	})
	if err != nil {
		return c.internalError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, record)
}

// Dashboard aggregates the current month's totals per category alongside
// the caps configured for it.
func (c *Controller) Dashboard(ctx router.Context) error {
	principal, resp := c.requirePrincipal(ctx, auth.CapDashboardRead)
	if principal == nil {
		return resp
	}

	userID, err := principal.UserUUID()
	if err != nil {
		return c.internalError(ctx, err)
	}

	now := time.Now()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	summary, err := c.Transactions.SummaryForUser(ctx.Context(), userID, from, to)
	if err != nil {
		return c.internalError(ctx, err)
	}

	caps, err := c.Budgets.ListForUser(ctx.Context(), userID, from.Format("2006-01"))
	if err != nil {
		return c.internalError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"month":   from.Format("2006-01"),
		"summary": summary,
		"budgets": caps,
	})
}

func (c *Controller) requirePrincipal(ctx router.Context, capability auth.Capability) (*auth.Principal, error) {
	principal, ok := auth.PrincipalFromRouter(ctx, c.ContextKey)
	if !ok {
		return nil, ctx.JSON(router.StatusUnauthorized, map[string]any{
			"error": "authentication required",
		})
	}

	if !principal.Can(capability) {
		return nil, ctx.JSON(router.StatusForbidden, map[string]any{
			"error": "insufficient permissions",
		})
	}

	return principal, nil
}

func (c *Controller) internalError(ctx router.Context, err error) error {
	c.Logger.Error("finance handler error", "error", err)
	return ctx.JSON(router.StatusInternalServerError, map[string]any{
		"error": "internal error",
	})
}
