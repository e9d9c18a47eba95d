package service

import (
	"context"

	"github.com/rs/zerolog/log"

	apperrors "github.com/eyesee/license-server-go/internal/errors"
	"github.com/eyesee/license-server-go/internal/metrics"
	"github.com/eyesee/license-server-go/internal/model"
	"github.com/eyesee/license-server-go/internal/repository"
)

// ReconcileReport lists the keys touched by a repair pass.
type ReconcileReport struct {
	CheckedKeys     int `json:"checkedKeys"`
	CheckedLicenses int `json:"checkedLicenses"`
	// KeysReset were marked used but no license holds them.
	KeysReset []string `json:"keysReset"`
	// KeysMarked were unused although a license holds them.
	KeysMarked []string `json:"keysMarked"`
	// KeysRebound pointed at a different hardware id than their license.
	KeysRebound []string `json:"keysRebound"`
	// KeysRestored were missing entirely and re-created from the license.
	KeysRestored []string `json:"keysRestored"`
}

func (r *ReconcileReport) Repairs() int {
	return len(r.KeysReset) + len(r.KeysMarked) + len(r.KeysRebound) + len(r.KeysRestored)
}

// Reconcile restores the invariant that a key is used exactly when a license
// holds it, with the key's activator matching the license. Licenses are the
// source of truth.
func (s *AdminService) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{
		KeysReset:    []string{},
		KeysMarked:   []string{},
		KeysRebound:  []string{},
		KeysRestored: []string{},
	}

	err := s.store.Atomic(ctx, func(repos repository.Repositories) error {
		keys, err := repos.Keys.FindAll(ctx, model.KeyStatusAll)
		if err != nil {
			return apperrors.Database(err)
		}
		licenses, err := repos.Licenses.FindAll(ctx)
		if err != nil {
			return apperrors.Database(err)
		}
		report.CheckedKeys = len(keys)
		report.CheckedLicenses = len(licenses)

		holders := make(map[string]*model.ActiveLicense, len(licenses))
		held := make([]string, 0, len(licenses))
		for i := range licenses {
			lic := &licenses[i]
			if _, seen := holders[lic.LicenseKey]; !seen {
				held = append(held, lic.LicenseKey)
			}
			// FindAll is newest first; keep the oldest holder.
			holders[lic.LicenseKey] = lic
		}
		byKey := make(map[string]*model.GeneratedKey, len(keys))
		for i := range keys {
			byKey[keys[i].LicenseKey] = &keys[i]
		}

		for _, key := range keys {
			if key.IsUsed && holders[key.LicenseKey] == nil {
				if err := repos.Keys.ResetToUnused(ctx, key.LicenseKey); err != nil {
					return apperrors.Database(err)
				}
				report.KeysReset = append(report.KeysReset, key.LicenseKey)
			}
		}

		for _, licenseKey := range held {
			lic := holders[licenseKey]
			key := byKey[licenseKey]
			switch {
			case key == nil:
				if _, err := repos.Keys.Add(ctx, model.CreateGeneratedKeyParams{
					LicenseKey:  licenseKey,
					ProductCode: lic.ProductCode,
					GeneratedAt: lic.ActivatedAt,
				}); err != nil {
					return apperrors.Database(err)
				}
				if _, err := repos.Keys.MarkUsed(ctx, licenseKey, lic.HardwareID, lic.ActivatedAt); err != nil {
					return apperrors.Database(err)
				}
				report.KeysRestored = append(report.KeysRestored, licenseKey)
			case !key.IsUsed:
				if _, err := repos.Keys.MarkUsed(ctx, licenseKey, lic.HardwareID, lic.ActivatedAt); err != nil {
					return apperrors.Database(err)
				}
				report.KeysMarked = append(report.KeysMarked, licenseKey)
			case key.ActivatedBy() != lic.HardwareID:
				if err := repos.Keys.ResetToUnused(ctx, licenseKey); err != nil {
					return apperrors.Database(err)
				}
				if _, err := repos.Keys.MarkUsed(ctx, licenseKey, lic.HardwareID, lic.ActivatedAt); err != nil {
					return apperrors.Database(err)
				}
				report.KeysRebound = append(report.KeysRebound, licenseKey)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ReconcileRepairsTotal.WithLabelValues("reset").Add(float64(len(report.KeysReset)))
	metrics.ReconcileRepairsTotal.WithLabelValues("marked").Add(float64(len(report.KeysMarked)))
	metrics.ReconcileRepairsTotal.WithLabelValues("rebound").Add(float64(len(report.KeysRebound)))
	metrics.ReconcileRepairsTotal.WithLabelValues("restored").Add(float64(len(report.KeysRestored)))

	logEvent := log.Info()
	if report.Repairs() > 0 {
		logEvent = log.Warn()
	}
	logEvent.
		Int("checkedKeys", report.CheckedKeys).
		Int("checkedLicenses", report.CheckedLicenses).
		Int("repairs", report.Repairs()).
		Msg("license store reconciled")
	return report, nil
}
