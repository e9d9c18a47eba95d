package repository

import (
	"context"
	"time"

	"github.com/eyesee/license-server-go/internal/database"
	"github.com/eyesee/license-server-go/internal/model"
)

type pgActiveLicenseRepo struct {
	db database.DBTX
}

// NewActiveLicenseRepository creates a postgres-backed active license repository.
func NewActiveLicenseRepository(db database.DBTX) ActiveLicenseRepository {
	return &pgActiveLicenseRepo{db: db}
}

func (r *pgActiveLicenseRepo) Create(ctx context.Context, params model.CreateActiveLicenseParams) (*model.ActiveLicense, error) {
	var lic model.ActiveLicense
	err := r.db.GetContext(ctx, &lic, `
		INSERT INTO active_licenses (license_key, hardware_id, device_name, product_code, activated_at, last_check_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING *
	`, params.LicenseKey, params.HardwareID, params.DeviceName, params.ProductCode, params.ActivatedAt)
	if isUniqueViolation(err) {
		return nil, ErrSlotTaken
	}
	if err != nil {
		return nil, err
	}
	return &lic, nil
}

func (r *pgActiveLicenseRepo) FindByHardwareID(ctx context.Context, hardwareID string) (*model.ActiveLicense, error) {
	var lic model.ActiveLicense
	err := r.db.GetContext(ctx, &lic, `
		SELECT * FROM active_licenses
		WHERE hardware_id = $1
		ORDER BY activated_at, id
		LIMIT 1
	`, hardwareID)
	return HandleNotFound(&lic, err)
}

func (r *pgActiveLicenseRepo) FindByHardwareAndProduct(ctx context.Context, hardwareID, productCode string) (*model.ActiveLicense, error) {
	var lic model.ActiveLicense
	err := r.db.GetContext(ctx, &lic, `
		SELECT * FROM active_licenses
		WHERE hardware_id = $1 AND product_code = $2
	`, hardwareID, productCode)
	return HandleNotFound(&lic, err)
}

func (r *pgActiveLicenseRepo) FindByKey(ctx context.Context, licenseKey string) (*model.ActiveLicense, error) {
	var lic model.ActiveLicense
	err := r.db.GetContext(ctx, &lic, `
		SELECT * FROM active_licenses
		WHERE license_key = $1
		ORDER BY id
		LIMIT 1
	`, licenseKey)
	return HandleNotFound(&lic, err)
}

func (r *pgActiveLicenseRepo) FindAll(ctx context.Context) ([]model.ActiveLicense, error) {
	licenses := []model.ActiveLicense{}
	err := r.db.SelectContext(ctx, &licenses, `
		SELECT * FROM active_licenses ORDER BY activated_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	return licenses, nil
}

func (r *pgActiveLicenseRepo) UpdateLastCheck(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE active_licenses SET last_check_at = $2 WHERE id = $1
	`, id, at)
	return err
}

func (r *pgActiveLicenseRepo) Revoke(ctx context.Context, id int64, reason string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE active_licenses
		SET is_revoked = TRUE, revoked_at = $2, revoked_reason = $3
		WHERE id = $1
	`, id, at, reason)
	return err
}

func (r *pgActiveLicenseRepo) Reactivate(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE active_licenses
		SET is_revoked = FALSE, revoked_at = NULL, revoked_reason = NULL
		WHERE id = $1
	`, id)
	return err
}

func (r *pgActiveLicenseRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM active_licenses WHERE id = $1`, id)
	return err
}

func (r *pgActiveLicenseRepo) Stats(ctx context.Context) (*model.LicenseStats, error) {
	stats := model.LicenseStats{ByProduct: emptyByProduct()}
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE NOT is_revoked),
			COUNT(*) FILTER (WHERE is_revoked)
		FROM active_licenses
	`).Scan(&stats.Total, &stats.Active, &stats.Revoked)
	if err != nil {
		return nil, err
	}

	var rows []productCount
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT product_code, COUNT(*) AS count
		FROM active_licenses
		GROUP BY product_code
	`); err != nil {
		return nil, err
	}
	for _, row := range rows {
		stats.ByProduct[row.ProductCode] = row.Count
	}
	return &stats, nil
}
