package repository

import (
	"context"
	"time"

	"github.com/eyesee/license-server-go/internal/database"
	"github.com/eyesee/license-server-go/internal/model"
)

type pgGeneratedKeyRepo struct {
	db database.DBTX
}

// NewGeneratedKeyRepository creates a postgres-backed generated key repository.
// db may be a connection or a transaction.
func NewGeneratedKeyRepository(db database.DBTX) GeneratedKeyRepository {
	return &pgGeneratedKeyRepo{db: db}
}

func (r *pgGeneratedKeyRepo) Add(ctx context.Context, params model.CreateGeneratedKeyParams) (*model.GeneratedKey, error) {
	var key model.GeneratedKey
	err := r.db.GetContext(ctx, &key, `
		INSERT INTO generated_keys (license_key, product_code, generated_at)
		VALUES ($1, $2, $3)
		RETURNING *
	`, params.LicenseKey, params.ProductCode, params.GeneratedAt)
	if isUniqueViolation(err) {
		return nil, ErrDuplicateKey
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *pgGeneratedKeyRepo) FindByKey(ctx context.Context, licenseKey string) (*model.GeneratedKey, error) {
	var key model.GeneratedKey
	err := r.db.GetContext(ctx, &key, `
		SELECT * FROM generated_keys WHERE license_key = $1
	`, licenseKey)
	return HandleNotFound(&key, err)
}

func (r *pgGeneratedKeyRepo) FindAll(ctx context.Context, status model.KeyStatus) ([]model.GeneratedKey, error) {
	query := `SELECT * FROM generated_keys`
	switch status {
	case model.KeyStatusUsed:
		query += ` WHERE is_used = TRUE`
	case model.KeyStatusUnused:
		query += ` WHERE is_used = FALSE`
	}
	query += ` ORDER BY generated_at DESC, license_key`

	keys := []model.GeneratedKey{}
	if err := r.db.SelectContext(ctx, &keys, query); err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *pgGeneratedKeyRepo) MarkUsed(ctx context.Context, licenseKey, hardwareID string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE generated_keys
		SET is_used = TRUE, used_at = $2, activated_by_hardware_id = $3
		WHERE license_key = $1 AND is_used = FALSE
	`, licenseKey, at, hardwareID)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *pgGeneratedKeyRepo) ResetToUnused(ctx context.Context, licenseKey string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE generated_keys
		SET is_used = FALSE, used_at = NULL, activated_by_hardware_id = NULL
		WHERE license_key = $1
	`, licenseKey)
	return err
}

func (r *pgGeneratedKeyRepo) Delete(ctx context.Context, licenseKey string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM generated_keys WHERE license_key = $1`, licenseKey)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type productCount struct {
	ProductCode string `db:"product_code"`
	Count       int    `db:"count"`
}

func (r *pgGeneratedKeyRepo) Stats(ctx context.Context) (*model.KeyStats, error) {
	stats := model.KeyStats{ByProduct: emptyByProduct()}
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE is_used),
			COUNT(*) FILTER (WHERE NOT is_used)
		FROM generated_keys
	`).Scan(&stats.Total, &stats.Used, &stats.Unused)
	if err != nil {
		return nil, err
	}

	var rows []productCount
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT product_code, COUNT(*) AS count
		FROM generated_keys
		GROUP BY product_code
	`); err != nil {
		return nil, err
	}
	for _, row := range rows {
		stats.ByProduct[row.ProductCode] = row.Count
	}
	return &stats, nil
}
