package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type InitializePasswordResetMessage struct {
	Email      string `json:"email"`
	OnResponse func(resp *InitializePasswordResetResponse)
}

func (p InitializePasswordResetMessage) Type() string { return "user.password_reset" }

type InitializePasswordResetResponse struct {
	Reset   *PasswordReset
	Success bool
}

type InitializePasswordResetHandler struct {
	repo     RepositoryManager
	notifier ResetNotifier
	logger   Logger
}

// ResetNotifier delivers the reset link out of band
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, email, resetID string) error
}

// ResetNotifierFunc adapts a function to the ResetNotifier interface
type ResetNotifierFunc func(ctx context.Context, email, resetID string) error

func (f ResetNotifierFunc) NotifyPasswordReset(ctx context.Context, email, resetID string) error {
	if f == nil {
		return nil
	}
	return f(ctx, email, resetID)
}

func NewInitializePasswordResetHandler(repo RepositoryManager) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		repo:   repo,
		logger: defLogger{},
	}
}

func (h *InitializePasswordResetHandler) WithNotifier(n ResetNotifier) *InitializePasswordResetHandler {
	h.notifier = n
	return h
}

func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	reset := &PasswordReset{}
	resp := &InitializePasswordResetResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := h.repo.Users().GetByIdentifier(ctx, event.Email)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				// report success either way so the endpoint does not
				// reveal which addresses are registered
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
		}

		reset.UserID = &user.ID
		reset.Email = user.Email
		reset.Status = ResetRequestedStatus
		createdReset, err := h.repo.PasswordResets().CreateTx(ctx, tx, reset)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create password reset record")
		}
		resp.Reset = createdReset

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to initialize password reset")
	}

	if resp.Reset != nil && h.notifier != nil {
		if err := h.notifier.NotifyPasswordReset(ctx, resp.Reset.Email, resp.Reset.ID.String()); err != nil {
			h.logger.Warn("password reset notification failed", "error", err)
		}
	}

	resp.Success = true
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}
