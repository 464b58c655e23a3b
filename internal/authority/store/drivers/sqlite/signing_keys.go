package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/stsession/internal/authority/domain"
)

type signingKeysRepo struct {
	db *sql.DB
}

const signingKeyColumns = `id, kid, algorithm, private_key_encrypted, created_at, retired_at, expires_at`

func scanSigningKey(row rowScanner) (domain.SigningKey, error) {
	var (
		k                domain.SigningKey
		created          int64
		retired, expires sql.NullInt64
	)
	if err := row.Scan(&k.ID, &k.Kid, &k.Algorithm, &k.PrivateKeyEncrypted, &created, &retired, &expires); err != nil {
		return domain.SigningKey{}, mapNotFound(err)
	}
	k.CreatedAt = fromMillis(created)
	k.RetiredAt = mapNullMillis(retired)
	k.ExpiresAt = mapNullMillis(expires)
	return k, nil
}

func (r *signingKeysRepo) CreateSigningKey(ctx context.Context, key domain.SigningKey) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO signing_keys (`+signingKeyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.Kid, key.Algorithm, key.PrivateKeyEncrypted, toMillis(key.CreatedAt),
		mapOptionalMillis(key.RetiredAt), mapOptionalMillis(key.ExpiresAt))
	return mapConstraint(err)
}

func (r *signingKeysRepo) GetSigningKeyByKid(ctx context.Context, kid string) (domain.SigningKey, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+signingKeyColumns+` FROM signing_keys WHERE kid = ?`, kid)
	return scanSigningKey(row)
}

func (r *signingKeysRepo) ListSigningKeys(ctx context.Context) ([]domain.SigningKey, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+signingKeyColumns+` FROM signing_keys ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.SigningKey
	for rows.Next() {
		k, err := scanSigningKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *signingKeysRepo) RetireSigningKey(ctx context.Context, kid string, retiredAt, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE signing_keys SET retired_at = ?, expires_at = ? WHERE kid = ? AND retired_at IS NULL`,
		toMillis(retiredAt), toMillis(expiresAt), kid)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *signingKeysRepo) DeleteExpiredSigningKeys(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM signing_keys WHERE expires_at IS NOT NULL AND expires_at <= ?`, toMillis(now))
	return err
}
