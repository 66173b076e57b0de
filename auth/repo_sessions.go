package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var TouchSessionSQL = `UPDATE "sessions" AS "ses"
SET
	"last_used_at" = ?
WHERE
	("ses"."id" = ?);`

// RevokeSessionSQL only touches live rows, so revoking twice is a no-op
var RevokeSessionSQL = `UPDATE "sessions" AS "ses"
SET
	"revoked_at" = ?
WHERE
	("ses"."id" = ?)
	AND "ses"."revoked_at" IS NULL;`

var DeleteUserSessionsSQL = `DELETE FROM "sessions"
WHERE "user_id" = ?;`

type Sessions interface {
	repository.Repository[*Session]

	Start(ctx context.Context, session *Session) (*Session, error)
	StartTx(ctx context.Context, tx bun.IDB, session *Session) (*Session, error)
	GetLive(ctx context.Context, id uuid.UUID, now time.Time) (*Session, error)
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) error
	DeleteAllForUser(ctx context.Context, userID uuid.UUID) error
}

type sessions struct {
	repository.Repository[*Session]
	db *bun.DB
}

var (
	_ Sessions                        = (*sessions)(nil)
	_ repository.Repository[*Session] = (*sessions)(nil)
)

func NewSessionsRepository(db *bun.DB) Sessions {
	repo := repository.NewRepository[*Session](db, repository.ModelHandlers[*Session]{
		NewRecord: func() *Session { return &Session{} },
		GetID: func(s *Session) uuid.UUID {
			if s == nil {
				return uuid.Nil
			}
			return s.ID
		},
		SetID: func(s *Session, id uuid.UUID) {
			if s != nil {
				s.ID = id
			}
		},
	})

	return &sessions{
		Repository: repo,
		db:         db,
	}
}

func (r *sessions) Start(ctx context.Context, session *Session) (*Session, error) {
	return r.StartTx(ctx, r.db, session)
}

func (r *sessions) StartTx(ctx context.Context, tx bun.IDB, session *Session) (*Session, error) {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.IssuedAt == nil {
		now := time.Now()
		session.IssuedAt = &now
	}
	return r.Repository.CreateTx(ctx, tx, session)
}

// GetLive loads a session and applies the liveness rules. A row that is
// missing, revoked, or expired all collapse into ErrSessionNotFound so a
// refresh caller cannot tell which one it was.
func (r *sessions) GetLive(ctx context.Context, id uuid.UUID, now time.Time) (*Session, error) {
	session, err := r.Repository.GetByID(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	if !session.IsLive(now) {
		return nil, ErrSessionNotFound
	}

	return session, nil
}

func (r *sessions) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.NewRaw(TouchSessionSQL, at, id).Exec(ctx)
	return err
}

func (r *sessions) Revoke(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.NewRaw(RevokeSessionSQL, at, id).Exec(ctx)
	return err
}

func (r *sessions) RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) error {
	_, err := r.db.NewRaw(`UPDATE "sessions" AS "ses"
SET "revoked_at" = ?
WHERE ("ses"."user_id" = ?) AND "ses"."revoked_at" IS NULL;`, at, userID).Exec(ctx)
	return err
}

func (r *sessions) DeleteAllForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.NewRaw(DeleteUserSessionsSQL, userID).Exec(ctx)
	return err
}
