package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	gconfig "github.com/goliatone/go-config/config"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/centsible/centsible/auth"
	"github.com/centsible/centsible/config"
	"github.com/centsible/centsible/finance"
	"github.com/centsible/centsible/middleware/authware"
)

type App struct {
	config       *gconfig.Container[*config.BaseConfig]
	bunDB        *bun.DB
	repo         auth.RepositoryManager
	auther       auth.Authenticator
	transactions finance.Transactions
	budgets      finance.Budgets
	srv          router.Server[*fiber.App]
	logger       *glog.BaseLogger
}

func (a *App) Config() *config.BaseConfig {
	return a.config.Raw()
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

// accountStoreAdapter narrows the users repository to the single-record
// lookups the auth core and the request filter declare, dropping the
// query criteria variadics from the repository signatures.
type accountStoreAdapter struct {
	users auth.Users
}

func (a accountStoreAdapter) GetByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	return a.users.GetByIdentifier(ctx, identifier)
}

func (a accountStoreAdapter) BumpTokenVersion(ctx context.Context, id uuid.UUID) (int, error) {
	return a.users.BumpTokenVersion(ctx, id)
}

func (a accountStoreAdapter) TrackAttemptedLogin(ctx context.Context, user *auth.User, threshold int, lockUntil time.Time) (int, error) {
	return a.users.TrackAttemptedLogin(ctx, user, threshold, lockUntil)
}

func (a accountStoreAdapter) TrackSuccessfulLogin(ctx context.Context, user *auth.User) error {
	return a.users.TrackSuccessfulLogin(ctx, user)
}

func (a accountStoreAdapter) ClearLock(ctx context.Context, user *auth.User) error {
	return a.users.ClearLock(ctx, user)
}

var (
	_ auth.UserTracker         = accountStoreAdapter{}
	_ auth.AccountStore        = accountStoreAdapter{}
	_ authware.AccountResolver = accountStoreAdapter{}
)

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Info),
		glog.WithName("centsible"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	cfg := gconfig.New(&config.BaseConfig{}).
		WithLogger(lgr.GetLogger("config"))

	ctx := context.Background()
	if err := cfg.Load(ctx); err != nil {
		panic(err)
	}

	app := &App{
		config: cfg,
		logger: lgr,
	}

	if app.Config().GetEnvironment() == "development" {
		fmt.Println(print.MaybeHighlightJSON(cfg.Raw()))
	}

	if err := WithPersistence(ctx, app); err != nil {
		panic(err)
	}

	if err := WithHTTPServer(ctx, app); err != nil {
		panic(err)
	}

	if err := WithAuth(ctx, app); err != nil {
		panic(err)
	}

	if err := WithFinance(ctx, app); err != nil {
		panic(err)
	}

	app.srv.Serve(app.Config().GetServer().GetAddress())

	WaitExitSignal()
}

func WithPersistence(ctx context.Context, app *App) error {
	db, err := sql.Open(sqliteshim.ShimName, app.Config().GetPersistence().GetDSN())
	if err != nil {
		return err
	}

	persistence.RegisterModel((*auth.User)(nil))
	persistence.RegisterModel((*auth.Session)(nil))
	persistence.RegisterModel((*auth.PasswordReset)(nil))
	persistence.RegisterModel((*auth.EmailVerification)(nil))
	persistence.RegisterModel((*finance.Transaction)(nil))
	persistence.RegisterModel((*finance.Budget)(nil))

	pcfg := app.Config().GetPersistence()
	dialect := sqlitedialect.New()
	client, err := persistence.New(pcfg, db, dialect)
	if err != nil {
		return err
	}

	client.SetLogger(app.GetLogger("persistence"))

	authMigrations, err := fs.Sub(auth.GetMigrationsFS(), "data/sql/migrations")
	if err != nil {
		return err
	}

	financeMigrations, err := fs.Sub(finance.GetMigrationsFS(), "data/sql/migrations")
	if err != nil {
		return err
	}

	client.RegisterDialectMigrations(
		authMigrations,
		persistence.WithDialectSourceLabel("auth/data/sql/migrations"),
		persistence.WithValidationTargets("postgres", "sqlite"),
	)
	client.RegisterDialectMigrations(
		financeMigrations,
		persistence.WithDialectSourceLabel("finance/data/sql/migrations"),
		persistence.WithValidationTargets("postgres", "sqlite"),
	)

	if err := client.ValidateDialects(ctx); err != nil {
		return err
	}

	if err := client.Migrate(ctx); err != nil {
		return err
	}

	app.bunDB = client.DB()
	app.repo = auth.NewRepositoryManager(client.DB())
	app.transactions = finance.NewTransactionsRepository(client.DB())
	app.budgets = finance.NewBudgetsRepository(client.DB())

	return nil
}

func WithHTTPServer(ctx context.Context, app *App) error {
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:       app.Config().GetName(),
			StrictRouting: false,
		}))
	})

	srv.Router().WithLogger(app.GetLogger("router"))

	srv.Router().Get("/healthz", func(ctx router.Context) error {
		return ctx.JSON(router.StatusOK, map[string]any{
			"status": "ok",
		})
	})

	app.srv = srv

	return nil
}

func WithAuth(ctx context.Context, app *App) error {
	cfg := app.Config().GetAuth()

	if err := app.repo.Validate(); err != nil {
		return err
	}

	accounts := accountStoreAdapter{users: app.repo.Users()}

	userProvider := auth.NewUserProvider(accounts)
	userProvider.WithLogger(app.GetLogger("auth:prv"))

	authenticator := auth.NewAuthenticator(userProvider, accounts, app.repo.Sessions(), cfg)
	authenticator.WithLogger(app.GetLogger("auth:authz"))

	app.auther = authenticator

	// the filter only establishes identity, guards on the routes enforce it
	app.srv.Router().Use(authware.New(authware.Config{
		Validator:   authenticator.TokenService(),
		Accounts:    accounts,
		ContextKey:  cfg.GetContextKey(),
		TokenLookup: cfg.GetTokenLookup(),
		AuthScheme:  cfg.GetAuthScheme(),
		Logger:      app.GetLogger("auth:filter"),
		Filter: func(ctx router.Context) bool {
			return ctx.OriginalURL() == "/healthz"
		},
	}))

	controller := auth.NewAuthController(func(ac *auth.AuthController) *auth.AuthController {
		ac.Auther = authenticator
		ac.Repo = app.repo
		ac.Config.ContextKey = cfg.GetContextKey()
		ac.Config.CookieName = cfg.GetRefreshCookieName()
		ac.Config.CookieSecure = cfg.GetRefreshCookieSecure()
		ac.WithLogger(app.GetLogger("auth:ctrl"))
		return ac
	})

	auth.RegisterAuthRoutes(
		app.srv.Router(),
		controller,
		authware.RequireAuthenticated(cfg.GetContextKey()),
	)

	return nil
}

func WithFinance(ctx context.Context, app *App) error {
	cfg := app.Config().GetAuth()

	controller := finance.NewController(
		finance.WithTransactions(app.transactions),
		finance.WithBudgets(app.budgets),
		finance.WithLogger(app.GetLogger("finance")),
	)
	controller.ContextKey = cfg.GetContextKey()

	finance.RegisterFinanceRoutes(
		app.srv.Router(),
		controller,
		authware.RequireAuthenticated(cfg.GetContextKey()),
	)

	return nil
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
