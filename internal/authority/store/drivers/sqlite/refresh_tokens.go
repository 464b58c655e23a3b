package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/stsession/internal/authority/domain"
	"github.com/aussiebroadwan/stsession/internal/authority/store"
)

type refreshTokensRepo struct {
	db *sql.DB
}

const refreshTokenColumns = `id, session_handle, token_hash, parent_hash, expires_at, rotated_at, created_at`

func scanRefreshToken(row rowScanner) (domain.RefreshToken, error) {
	var (
		t                domain.RefreshToken
		expires, created int64
		rotated          sql.NullInt64
	)
	if err := row.Scan(&t.ID, &t.SessionHandle, &t.TokenHash, &t.ParentHash, &expires, &rotated, &created); err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}
	t.ExpiresAt = fromMillis(expires)
	t.RotatedAt = mapNullMillis(rotated)
	t.CreatedAt = fromMillis(created)
	return t, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRefreshToken(ctx context.Context, db execer, t domain.RefreshToken) error {
	_, err := db.ExecContext(ctx, `INSERT INTO refresh_tokens (`+refreshTokenColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionHandle, t.TokenHash, t.ParentHash, toMillis(t.ExpiresAt), mapOptionalMillis(t.RotatedAt), toMillis(t.CreatedAt))
	return mapConstraint(err)
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	return insertRefreshToken(ctx, r.db, t)
}

func (r *refreshTokensRepo) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE token_hash = ?`, hash)
	return scanRefreshToken(row)
}

func (r *refreshTokensRepo) Rotate(ctx context.Context, oldHash string, next domain.RefreshToken, now time.Time) (domain.RefreshToken, error) {
	var old domain.RefreshToken

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		row := tx.QueryRowContext(ctx, `SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE token_hash = ?`, oldHash)
		if old, err = scanRefreshToken(row); err != nil {
			return err
		}
		if old.IsRotated() {
			return store.ErrTokenReused
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE refresh_tokens SET rotated_at = ? WHERE id = ? AND rotated_at IS NULL`,
			toMillis(now), old.ID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return store.ErrTokenReused
		}

		next.ParentHash = old.TokenHash
		return insertRefreshToken(ctx, tx, next)
	})
	return old, err
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= ?`, toMillis(now))
	return err
}
