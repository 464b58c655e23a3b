package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aussiebroadwan/stsession/internal/authority/domain"
	"github.com/aussiebroadwan/stsession/internal/authority/store"
)

type sessionsRepo struct {
	db *sql.DB
}

const sessionColumns = `handle, user_id, recipe_user_id, tenant_id, user_data_jwt, user_data_db,
	anti_csrf_token, created_at, expires_at, revoked`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (domain.Session, error) {
	var (
		s                domain.Session
		jwtData, dbData  string
		created, expires int64
	)
	err := row.Scan(&s.Handle, &s.UserID, &s.RecipeUserID, &s.TenantID, &jwtData, &dbData,
		&s.AntiCsrfToken, &created, &expires, &s.Revoked)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}

	if s.UserDataInJWT, err = decodeData(jwtData); err != nil {
		return domain.Session{}, fmt.Errorf("sqlite: session %s jwt data: %w", s.Handle, err)
	}
	if s.UserDataInDatabase, err = decodeData(dbData); err != nil {
		return domain.Session{}, fmt.Errorf("sqlite: session %s db data: %w", s.Handle, err)
	}
	s.CreatedAt = fromMillis(created)
	s.ExpiresAt = fromMillis(expires)
	return s, nil
}

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	jwtData, err := encodeData(s.UserDataInJWT)
	if err != nil {
		return err
	}
	dbData, err := encodeData(s.UserDataInDatabase)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Handle, s.UserID, s.RecipeUserID, s.TenantID, jwtData, dbData,
		s.AntiCsrfToken, toMillis(s.CreatedAt), toMillis(s.ExpiresAt), s.Revoked)
	return mapConstraint(err)
}

func (r *sessionsRepo) GetSession(ctx context.Context, handle string) (domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE handle = ?`, handle)
	return scanSession(row)
}

func (r *sessionsRepo) ListSessionsForUser(ctx context.Context, userID, tenantID string) ([]domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = ? AND tenant_id = ? ORDER BY created_at DESC`, userID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *sessionsRepo) UpdateUserDataInJWT(ctx context.Context, handle string, data map[string]any) error {
	return r.updateData(ctx, "user_data_jwt", handle, data)
}

func (r *sessionsRepo) UpdateUserDataInDatabase(ctx context.Context, handle string, data map[string]any) error {
	return r.updateData(ctx, "user_data_db", handle, data)
}

// updateData writes one of the two JSON columns. column is never user input.
func (r *sessionsRepo) updateData(ctx context.Context, column, handle string, data map[string]any) error {
	encoded, err := encodeData(data)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE sessions SET `+column+` = ? WHERE handle = ?`, encoded, handle)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *sessionsRepo) ExtendSession(ctx context.Context, handle string, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sessions SET expires_at = ? WHERE handle = ?`, toMillis(expiresAt), handle)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *sessionsRepo) RevokeSession(ctx context.Context, handle string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE sessions SET revoked = 1 WHERE handle = ? AND revoked = 0`, handle)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *sessionsRepo) DeleteExpiredSessions(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, toMillis(now))
	return err
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
