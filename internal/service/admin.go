package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/eyesee/license-server-go/internal/config"
	apperrors "github.com/eyesee/license-server-go/internal/errors"
	"github.com/eyesee/license-server-go/internal/license"
	"github.com/eyesee/license-server-go/internal/metrics"
	"github.com/eyesee/license-server-go/internal/model"
	"github.com/eyesee/license-server-go/internal/repository"
	"github.com/eyesee/license-server-go/internal/util"
)

const testDeviceName = "TEST-DEVICE"

type IssuedKey struct {
	Key         string `json:"key"`
	ProductCode string `json:"productCode"`
	ProductName string `json:"productName"`
}

type Stats struct {
	GeneratedKeys     *model.KeyStats     `json:"generatedKeys"`
	ActivatedLicenses *model.LicenseStats `json:"activatedLicenses"`
}

type KeyReset struct {
	LicenseKey     string `json:"licenseKey"`
	PreviousStatus string `json:"previousStatus"`
	CurrentStatus  string `json:"currentStatus"`
}

type TestActivation struct {
	LicenseKey     string `json:"licenseKey"`
	TestHardwareID string `json:"testHardwareId"`
	ProductCode    string `json:"productCode"`
	Status         string `json:"status"`
}

// AdminService implements the password-gated management operations.
type AdminService struct {
	store repository.Store
	codec *license.Codec
	now   func() time.Time
}

func NewAdminService(store repository.Store, codec *license.Codec) *AdminService {
	return &AdminService{store: store, codec: codec, now: now}
}

// ClampGenerateCount bounds a requested batch size.
func ClampGenerateCount(count int) int {
	if count < config.MinGenerateCount {
		return config.MinGenerateCount
	}
	if count > config.MaxGenerateCount {
		return config.MaxGenerateCount
	}
	return count
}

// GenerateKeys issues count keys for a product in a single transaction. A key
// collision aborts the whole batch.
func (s *AdminService) GenerateKeys(ctx context.Context, productCode string, count int) ([]IssuedKey, error) {
	productCode = strings.ToUpper(strings.TrimSpace(productCode))
	if productCode == "" {
		return nil, apperrors.MissingRequired("productCode")
	}
	product, ok := s.codec.Registry().Lookup(productCode)
	if !ok {
		return nil, apperrors.UnknownProduct(productCode).
			WithDetails(map[string]any{"validCodes": s.codec.Registry().Codes()})
	}
	count = ClampGenerateCount(count)

	at := s.now()
	issued := make([]IssuedKey, 0, count)
	err := s.store.Atomic(ctx, func(repos repository.Repositories) error {
		for i := 0; i < count; i++ {
			key, err := s.codec.Generate(product.Code)
			if err != nil {
				return apperrors.Internal("Failed to generate license key").WithCause(err)
			}
			if _, err := repos.Keys.Add(ctx, model.CreateGeneratedKeyParams{
				LicenseKey:  key,
				ProductCode: product.Code,
				GeneratedAt: at,
			}); err != nil {
				if errors.Is(err, repository.ErrDuplicateKey) {
					return apperrors.Internal("Generated license key collided with an existing key").WithCause(err)
				}
				return apperrors.Database(err)
			}
			issued = append(issued, IssuedKey{Key: key, ProductCode: product.Code, ProductName: product.Name})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.KeysGeneratedTotal.WithLabelValues(product.Code).Add(float64(len(issued)))
	log.Info().Str("productCode", product.Code).Int("count", len(issued)).Msg("license keys generated")
	return issued, nil
}

func (s *AdminService) ListKeys(ctx context.Context, status string) ([]model.GeneratedKey, *model.KeyStats, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "" {
		status = string(model.KeyStatusAll)
	}
	if !util.IsValidEnum(status, model.KeyStatusValues) {
		return nil, nil, apperrors.InvalidInput("status", "must be one of all, used, unused")
	}

	keys, err := s.store.Keys().FindAll(ctx, model.KeyStatus(status))
	if err != nil {
		return nil, nil, apperrors.Database(err)
	}
	stats, err := s.store.Keys().Stats(ctx)
	if err != nil {
		return nil, nil, apperrors.Database(err)
	}
	return keys, stats, nil
}

// DeleteKey removes an unused key. Used keys stay until their license is
// deleted.
func (s *AdminService) DeleteKey(ctx context.Context, rawKey string) error {
	key := license.Normalize(rawKey)
	if key == "" {
		return apperrors.MissingRequired("licenseKey")
	}

	return s.store.Atomic(ctx, func(repos repository.Repositories) error {
		existing, err := repos.Keys.FindByKey(ctx, key)
		if err != nil {
			return apperrors.Database(err)
		}
		if existing == nil {
			return apperrors.NotFound("License key")
		}
		if existing.IsUsed {
			return apperrors.KeyInUse()
		}
		if _, err := repos.Keys.Delete(ctx, key); err != nil {
			return apperrors.Database(err)
		}
		log.Info().Str("licenseKey", key).Msg("license key deleted")
		return nil
	})
}

func (s *AdminService) ListLicenses(ctx context.Context) ([]model.ActiveLicense, *model.LicenseStats, error) {
	licenses, err := s.store.Licenses().FindAll(ctx)
	if err != nil {
		return nil, nil, apperrors.Database(err)
	}
	stats, err := s.store.Licenses().Stats(ctx)
	if err != nil {
		return nil, nil, apperrors.Database(err)
	}
	return licenses, stats, nil
}

func (s *AdminService) GetLicense(ctx context.Context, rawHardwareID, productCode string) (*model.ActiveLicense, error) {
	hardwareID, err := normalizeAdminHardwareID(rawHardwareID)
	if err != nil {
		return nil, err
	}
	lic, err := findLicense(ctx, s.store.Licenses(), hardwareID, productCode)
	if err != nil {
		return nil, err
	}
	return lic, nil
}

func (s *AdminService) Revoke(ctx context.Context, rawHardwareID, reason, productCode string) (*model.ActiveLicense, error) {
	hardwareID, err := normalizeAdminHardwareID(rawHardwareID)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = model.DefaultRevokeReason
	}

	var lic *model.ActiveLicense
	at := s.now()
	err = s.store.Atomic(ctx, func(repos repository.Repositories) error {
		var err error
		lic, err = findLicense(ctx, repos.Licenses, hardwareID, productCode)
		if err != nil {
			return err
		}
		if lic.IsRevoked {
			return apperrors.AlreadyRevoked()
		}
		if err := repos.Licenses.Revoke(ctx, lic.ID, reason, at); err != nil {
			return apperrors.Database(err)
		}
		lic.Revoke(reason, at)
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.LicenseAdminActionsTotal.WithLabelValues("revoke").Inc()
	log.Info().
		Str("hardwareId", util.MaskHardwareID(hardwareID)).
		Str("productCode", lic.ProductCode).
		Str("reason", reason).
		Msg("license revoked")
	return lic, nil
}

func (s *AdminService) Reactivate(ctx context.Context, rawHardwareID, productCode string) (*model.ActiveLicense, error) {
	hardwareID, err := normalizeAdminHardwareID(rawHardwareID)
	if err != nil {
		return nil, err
	}

	var lic *model.ActiveLicense
	err = s.store.Atomic(ctx, func(repos repository.Repositories) error {
		var err error
		lic, err = findLicense(ctx, repos.Licenses, hardwareID, productCode)
		if err != nil {
			return err
		}
		if !lic.IsRevoked {
			return apperrors.NotRevoked()
		}
		if err := repos.Licenses.Reactivate(ctx, lic.ID); err != nil {
			return apperrors.Database(err)
		}
		lic.Reactivate()
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.LicenseAdminActionsTotal.WithLabelValues("reactivate").Inc()
	log.Info().
		Str("hardwareId", util.MaskHardwareID(hardwareID)).
		Str("productCode", lic.ProductCode).
		Msg("license reactivated")
	return lic, nil
}

// DeleteLicense removes a license and returns its key to the unused pool in
// one transaction.
func (s *AdminService) DeleteLicense(ctx context.Context, rawHardwareID, productCode string) (*model.ActiveLicense, error) {
	hardwareID, err := normalizeAdminHardwareID(rawHardwareID)
	if err != nil {
		return nil, err
	}

	var lic *model.ActiveLicense
	err = s.store.Atomic(ctx, func(repos repository.Repositories) error {
		var err error
		lic, err = findLicense(ctx, repos.Licenses, hardwareID, productCode)
		if err != nil {
			return err
		}
		if err := repos.Keys.ResetToUnused(ctx, lic.LicenseKey); err != nil {
			return apperrors.Database(err)
		}
		if err := repos.Licenses.Delete(ctx, lic.ID); err != nil {
			return apperrors.Database(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.LicenseAdminActionsTotal.WithLabelValues("delete").Inc()
	log.Info().
		Str("hardwareId", util.MaskHardwareID(hardwareID)).
		Str("productCode", lic.ProductCode).
		Msg("license deleted, key returned to pool")
	return lic, nil
}

func (s *AdminService) Stats(ctx context.Context) (*Stats, error) {
	keyStats, err := s.store.Keys().Stats(ctx)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	licenseStats, err := s.store.Licenses().Stats(ctx)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return &Stats{GeneratedKeys: keyStats, ActivatedLicenses: licenseStats}, nil
}

func (s *AdminService) Products() []license.Product {
	return s.codec.Registry().Products()
}

// ResetKey returns a key to the pool and drops any license holding it.
// Only reachable when test endpoints are enabled.
func (s *AdminService) ResetKey(ctx context.Context, rawKey string) (*KeyReset, error) {
	key := license.Normalize(rawKey)
	if key == "" {
		return nil, apperrors.MissingRequired("licenseKey")
	}

	var reset *KeyReset
	err := s.store.Atomic(ctx, func(repos repository.Repositories) error {
		existing, err := repos.Keys.FindByKey(ctx, key)
		if err != nil {
			return apperrors.Database(err)
		}
		if existing == nil {
			return apperrors.NotFound("License key")
		}
		if err := repos.Keys.ResetToUnused(ctx, key); err != nil {
			return apperrors.Database(err)
		}
		lic, err := repos.Licenses.FindByKey(ctx, key)
		if err != nil {
			return apperrors.Database(err)
		}
		if lic != nil {
			if err := repos.Licenses.Delete(ctx, lic.ID); err != nil {
				return apperrors.Database(err)
			}
		}
		reset = &KeyReset{
			LicenseKey:     key,
			PreviousStatus: keyStatusLabel(existing.IsUsed),
			CurrentStatus:  keyStatusLabel(false),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Warn().Str("licenseKey", key).Msg("test endpoint: key reset to unused")
	return reset, nil
}

// MarkUsedForTest activates a key against a random TEST- hardware id so the
// activation flow can be exercised without a device.
func (s *AdminService) MarkUsedForTest(ctx context.Context, rawKey string) (*TestActivation, error) {
	key := license.Normalize(rawKey)
	if key == "" {
		return nil, apperrors.MissingRequired("licenseKey")
	}
	token, err := util.GenerateToken(16)
	if err != nil {
		return nil, apperrors.Internal("Failed to generate test hardware id").WithCause(err)
	}
	hardwareID := "TEST-" + token
	deviceName := testDeviceName

	var result *TestActivation
	at := s.now()
	err = s.store.Atomic(ctx, func(repos repository.Repositories) error {
		existing, err := repos.Keys.FindByKey(ctx, key)
		if err != nil {
			return apperrors.Database(err)
		}
		if existing == nil {
			return apperrors.NotFound("License key")
		}
		if existing.IsUsed {
			return apperrors.AlreadyUsed().
				WithDetails(map[string]string{"usedBy": util.MaskHardwareID(existing.ActivatedBy())})
		}
		marked, err := repos.Keys.MarkUsed(ctx, key, hardwareID, at)
		if err != nil {
			return apperrors.Database(err)
		}
		if !marked {
			return apperrors.AlreadyUsed()
		}
		if _, err := repos.Licenses.Create(ctx, model.CreateActiveLicenseParams{
			LicenseKey:  key,
			HardwareID:  hardwareID,
			DeviceName:  &deviceName,
			ProductCode: existing.ProductCode,
			ActivatedAt: at,
		}); err != nil {
			return apperrors.Database(err)
		}
		result = &TestActivation{
			LicenseKey:     key,
			TestHardwareID: hardwareID,
			ProductCode:    existing.ProductCode,
			Status:         keyStatusLabel(true),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Warn().Str("licenseKey", key).Msg("test endpoint: key marked used")
	return result, nil
}

// findLicense resolves a license by hardware id, narrowed to one product when
// productCode is given.
func findLicense(ctx context.Context, repo repository.ActiveLicenseRepository, hardwareID, productCode string) (*model.ActiveLicense, error) {
	productCode = strings.ToUpper(strings.TrimSpace(productCode))

	var (
		lic *model.ActiveLicense
		err error
	)
	if productCode == "" {
		lic, err = repo.FindByHardwareID(ctx, hardwareID)
	} else {
		lic, err = repo.FindByHardwareAndProduct(ctx, hardwareID, productCode)
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if lic == nil {
		return nil, apperrors.NotFound("License")
	}
	return lic, nil
}

func keyStatusLabel(used bool) string {
	if used {
		return "USED"
	}
	return "UNUSED"
}
