package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var ResetUserPasswordSQL = `UPDATE "users" AS "usr"
SET
	"is_email_verified" = TRUE,
	"password_hash" = ?
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."id" = ?
) RETURNING *;`

// TrackAttemptedLoginSQL increments the failure counter and conditionally
// locks in the same statement, so two racing failures cannot both observe
// the pre-increment count. It returns the post-increment counter so the
// caller can tell whether this attempt was the one that engaged the lock.
var TrackAttemptedLoginSQL = `UPDATE "users" AS "usr"
SET
	"login_attempts" = "login_attempts" + 1,
	"login_attempt_at" = ?,
	"locked_until" = CASE
		WHEN "login_attempts" + 1 >= ? THEN ?
		ELSE "locked_until"
	END
WHERE
	("usr"."id" = ?)
	AND "usr"."deleted_at" IS NULL
RETURNING "login_attempts";`

var TrackSuccessfulLoginSQL = `UPDATE "users" AS "usr"
SET
	"loggedin_at" = ?,
	"login_attempt_at" = NULL,
	"login_attempts" = 0,
	"locked_until" = NULL
WHERE
	("usr"."id" = ?)
	AND "usr"."deleted_at" IS NULL;`

var ClearLockSQL = `UPDATE "users" AS "usr"
SET
	"login_attempts" = 0,
	"login_attempt_at" = NULL,
	"locked_until" = NULL
WHERE
	("usr"."id" = ?)
	AND "usr"."deleted_at" IS NULL;`

var BumpTokenVersionSQL = `UPDATE "users" AS "usr"
SET
	"token_version" = "token_version" + 1
WHERE
	("usr"."id" = ?)
	AND "usr"."deleted_at" IS NULL
RETURNING "token_version";`

var MarkEmailVerifiedSQL = `UPDATE "users" AS "usr"
SET
	"is_email_verified" = TRUE
WHERE
	("usr"."id" = ?)
	AND "usr"."deleted_at" IS NULL;`

type Users interface {
	repository.Repository[*User]

	TrackAttemptedLogin(ctx context.Context, user *User, threshold int, lockUntil time.Time) (int, error)
	TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, user *User, threshold int, lockUntil time.Time) (int, error)
	TrackSuccessfulLogin(ctx context.Context, user *User) error
	TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User) error
	ClearLock(ctx context.Context, user *User) error
	ClearLockTx(ctx context.Context, tx bun.IDB, user *User) error

	BumpTokenVersion(ctx context.Context, id uuid.UUID) (int, error)
	BumpTokenVersionTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (int, error)

	Register(ctx context.Context, user *User) (*User, error)
	RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error)

	MarkEmailVerified(ctx context.Context, id uuid.UUID) error
	MarkEmailVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error

	ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

func (a *users) Register(ctx context.Context, user *User) (*User, error) {
	return a.RegisterTx(ctx, a.db, user)
}

func (a *users) RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	return a.CreateTx(ctx, tx, user)
}

// GetByIdentifier resolves a user by uuid or email. Email lookups are
// case-insensitive so login identifiers do not depend on how the address
// was typed at registration.
func (a *users) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier, criteria...)
}

func (a *users) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	for _, opt := range resolveUserIdentifier(identifier) {
		record := &User{}
		q := tx.NewSelect().Model(record)

		for _, c := range criteria {
			q.Apply(c)
		}

		err := q.
			Where(opt.clause, opt.value).
			Limit(1).
			Scan(ctx)

		if err != nil {
			if repository.IsRecordNotFound(err) {
				continue
			}
			return nil, err
		}

		return record, nil
	}

	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			"identifier": identifier,
		})
}

func (a *users) Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	prepareUserDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *users) ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return a.ResetPasswordTx(ctx, a.db, id, passwordHash)
}

func (a *users) ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	res, err := a.Repository.RawTx(ctx, tx, ResetUserPasswordSQL, passwordHash, id.String())
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return nil
}

func (a *users) TrackSuccessfulLogin(ctx context.Context, user *User) error {
	return a.TrackSuccessfulLoginTx(ctx, a.db, user)
}

// TrackSuccessfulLoginTx resets the failure state in raw SQL. The ORM
// update would skip the NULL assignments for zero-valued fields.
func (a *users) TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User) error {
	loggedInAt := time.Now()
	_, err := tx.NewRaw(TrackSuccessfulLoginSQL, loggedInAt, user.ID).Exec(ctx)
	return err
}

func (a *users) TrackAttemptedLogin(ctx context.Context, user *User, threshold int, lockUntil time.Time) (int, error) {
	return a.TrackAttemptedLoginTx(ctx, a.db, user, threshold, lockUntil)
}

func (a *users) TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, user *User, threshold int, lockUntil time.Time) (int, error) {
	now := time.Now()
	var attempts int
	if err := tx.NewRaw(TrackAttemptedLoginSQL, now, threshold, lockUntil, user.ID).Scan(ctx, &attempts); err != nil {
		return 0, err
	}
	return attempts, nil
}

func (a *users) ClearLock(ctx context.Context, user *User) error {
	return a.ClearLockTx(ctx, a.db, user)
}

func (a *users) ClearLockTx(ctx context.Context, tx bun.IDB, user *User) error {
	_, err := tx.NewRaw(ClearLockSQL, user.ID).Exec(ctx)
	return err
}

func (a *users) BumpTokenVersion(ctx context.Context, id uuid.UUID) (int, error) {
	return a.BumpTokenVersionTx(ctx, a.db, id)
}

// BumpTokenVersionTx invalidates every outstanding token in one atomic
// single-row UPDATE and returns the new live version.
func (a *users) BumpTokenVersionTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (int, error) {
	var version int
	if err := tx.NewRaw(BumpTokenVersionSQL, id).Scan(ctx, &version); err != nil {
		return 0, err
	}
	return version, nil
}

func (a *users) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	return a.MarkEmailVerifiedTx(ctx, a.db, id)
}

func (a *users) MarkEmailVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	_, err := tx.NewRaw(MarkEmailVerifiedSQL, id).Exec(ctx)
	return err
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	if record.Role == "" {
		record.Role = RoleMember
	}

	record.Email = strings.ToLower(strings.TrimSpace(record.Email))

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

type identifierOption struct {
	clause string
	value  string
}

func resolveUserIdentifier(identifier string) []identifierOption {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil
	}

	options := make([]identifierOption, 0, 2)

	if isUUID(trimmed) {
		options = append(options, identifierOption{
			clause: "?TableAlias.id = ?",
			value:  trimmed,
		})
	}

	if isEmail(trimmed) {
		options = append(options, identifierOption{
			clause: "LOWER(?TableAlias.email) = ?",
			value:  strings.ToLower(trimmed),
		})
	}

	if len(options) == 0 {
		options = append(options, identifierOption{
			clause: "?TableAlias.id = ?",
			value:  trimmed,
		})
	}

	return options
}

func isEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

func isUUID(identifier string) bool {
	_, err := uuid.Parse(identifier)
	return err == nil
}
