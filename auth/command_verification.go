package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// VerificationWindow is the period during which a verification link stays
// valid
var VerificationWindow = "72h"

type RequestEmailVerificationMessage struct {
	Email      string `json:"email"`
	OnResponse func(verification *EmailVerification)
}

func (m RequestEmailVerificationMessage) Type() string { return "user.verification_request" }

type RequestEmailVerificationHandler struct {
	repo   RepositoryManager
	logger Logger
}

func NewRequestEmailVerificationHandler(repo RepositoryManager) *RequestEmailVerificationHandler {
	return &RequestEmailVerificationHandler{
		repo:   repo,
		logger: defLogger{},
	}
}

func (h *RequestEmailVerificationHandler) WithLogger(logger Logger) *RequestEmailVerificationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RequestEmailVerificationHandler) Execute(ctx context.Context, event RequestEmailVerificationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during verification request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RequestEmailVerificationHandler) execute(ctx context.Context, event RequestEmailVerificationMessage) error {
	verification := &EmailVerification{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := h.repo.Users().GetByIdentifier(ctx, event.Email)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				// do not reveal whether the address is registered
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for verification")
		}

		if user.EmailVerified {
			return nil
		}

		verification.UserID = &user.ID
		verification.Email = user.Email
		verification.Status = VerificationPendingStatus
		if verification, err = h.repo.EmailVerifications().CreateTx(ctx, tx, verification); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create verification record")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to request email verification")
	}

	if event.OnResponse != nil && verification.ID != uuid.Nil {
		event.OnResponse(verification)
	}

	return nil
}

type ConfirmEmailVerificationMessage struct {
	Session string `json:"session"`
}

func (m ConfirmEmailVerificationMessage) Type() string { return "user.verification_confirm" }

type ConfirmEmailVerificationHandler struct {
	repo     RepositoryManager
	activity ActivitySink
	logger   Logger
}

func NewConfirmEmailVerificationHandler(repo RepositoryManager) *ConfirmEmailVerificationHandler {
	return &ConfirmEmailVerificationHandler{
		repo:     repo,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

func (h *ConfirmEmailVerificationHandler) WithActivitySink(sink ActivitySink) *ConfirmEmailVerificationHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *ConfirmEmailVerificationHandler) WithLogger(logger Logger) *ConfirmEmailVerificationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *ConfirmEmailVerificationHandler) Execute(ctx context.Context, event ConfirmEmailVerificationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during verification confirmation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ConfirmEmailVerificationHandler) execute(ctx context.Context, event ConfirmEmailVerificationMessage) error {
	verification := &EmailVerification{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var err error

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		verification, err = h.repo.EmailVerifications().GetByID(ctx, event.Session)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return goerrors.New("invalid or expired verification token", goerrors.CategoryNotFound).
					WithCode(goerrors.CodeNotFound)
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve verification request")
		}

		if verification.Status != VerificationPendingStatus {
			return goerrors.New("verification token has already been used", goerrors.CategoryConflict).
				WithTextCode("TOKEN_ALREADY_USED")
		}

		if verification.CreatedAt != nil {
			expired, err := IsOutsideThresholdPeriod(*verification.CreatedAt, VerificationWindow)
			if err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check verification window")
			}
			if expired {
				return goerrors.New("verification token has expired", goerrors.CategoryValidation).
					WithTextCode(TextCodeTokenExpired)
			}
		}

		if verification.UserID == nil {
			return goerrors.New("verification record is not associated with a user", goerrors.CategoryInternal)
		}

		if err := h.repo.Users().MarkEmailVerifiedTx(ctx, tx, *verification.UserID); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark email as verified")
		}

		now := time.Now()
		confirmed := &EmailVerification{
			ID:          verification.ID,
			Status:      VerificationConfirmedStatus,
			ConfirmedAt: &now,
		}
		if _, err := h.repo.EmailVerifications().UpdateTx(ctx, tx, confirmed); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update verification status")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to confirm email verification")
	}

	h.recordActivity(ctx, verification)

	return nil
}

func (h *ConfirmEmailVerificationHandler) recordActivity(ctx context.Context, verification *EmailVerification) {
	if verification == nil || verification.UserID == nil {
		return
	}

	event := ActivityEvent{
		EventType: ActivityEventEmailVerified,
		Actor: ActorRef{
			ID:   verification.UserID.String(),
			Type: "user",
		},
		UserID: verification.UserID.String(),
		Metadata: map[string]any{
			"verification_id": verification.ID.String(),
		},
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during email verification: %v", err)
	}
}
