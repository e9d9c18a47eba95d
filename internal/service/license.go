package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/eyesee/license-server-go/internal/errors"
	"github.com/eyesee/license-server-go/internal/license"
	"github.com/eyesee/license-server-go/internal/metrics"
	"github.com/eyesee/license-server-go/internal/model"
	"github.com/eyesee/license-server-go/internal/repository"
	"github.com/eyesee/license-server-go/internal/util"
)

// CheckStatus is the availability of a genuine, stored key.
type CheckStatus string

const (
	CheckAvailable        CheckStatus = "AVAILABLE"
	CheckAlreadyActivated CheckStatus = "ALREADY_ACTIVATED"
)

type KeyCheck struct {
	Status      CheckStatus `json:"status"`
	LicenseKey  string      `json:"licenseKey"`
	ProductCode string      `json:"productCode"`
	ProductName string      `json:"productName"`
	ActivatedBy string      `json:"activatedBy,omitempty"`
	UsedAt      *time.Time  `json:"usedAt,omitempty"`
}

type KeyInfo struct {
	LicenseKey  string `json:"licenseKey"`
	ProductCode string `json:"productCode"`
	ProductName string `json:"productName"`
	IsUsed      bool   `json:"isUsed"`
	ActivatedBy string `json:"activatedBy,omitempty"`
}

type ActivateParams struct {
	LicenseKey string
	HardwareID string
	DeviceName string
}

type Activation struct {
	License     *model.ActiveLicense
	ProductName string
	// Created is false when the device re-activated the key it already holds.
	Created bool
}

type LicenseSummary struct {
	HardwareID  string    `json:"hardwareId"`
	ProductCode string    `json:"productCode"`
	ProductName string    `json:"productName"`
	ActivatedAt time.Time `json:"activatedAt"`
	LastCheckAt time.Time `json:"lastCheckAt"`
}

type Validation struct {
	Valid                 bool            `json:"valid"`
	Activated             bool            `json:"activated"`
	Revoked               bool            `json:"revoked"`
	Reason                string          `json:"reason,omitempty"`
	RevokedAt             *time.Time      `json:"revokedAt,omitempty"`
	License               *LicenseSummary `json:"license,omitempty"`
	ServerTime            *time.Time      `json:"serverTime,omitempty"`
	OfflineToleranceHours int             `json:"offlineToleranceHours,omitempty"`
	TrustedUntil          *time.Time      `json:"trustedUntil,omitempty"`
}

type ServerStatus struct {
	Online                bool      `json:"online"`
	ServerTime            time.Time `json:"serverTime"`
	OfflineToleranceHours int       `json:"offlineToleranceHours"`
	Products              []string  `json:"products"`
}

// LicenseService runs the public side of the activation state machine.
type LicenseService struct {
	store            repository.Store
	codec            *license.Codec
	offlineTolerance time.Duration
	now              func() time.Time
}

func NewLicenseService(store repository.Store, codec *license.Codec, offlineTolerance time.Duration) *LicenseService {
	return &LicenseService{
		store:            store,
		codec:            codec,
		offlineTolerance: offlineTolerance,
		now:              now,
	}
}

func now() time.Time {
	// postgres keeps microseconds; trimming keeps both backends comparable.
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (s *LicenseService) Status() ServerStatus {
	return ServerStatus{
		Online:                true,
		ServerTime:            s.now(),
		OfflineToleranceHours: int(s.offlineTolerance / time.Hour),
		Products:              s.codec.Registry().Codes(),
	}
}

// Check reports whether a key can be activated. It never writes.
func (s *LicenseService) Check(ctx context.Context, rawKey string) (*KeyCheck, error) {
	v, err := verifyKey(s.codec, rawKey)
	if err != nil {
		metrics.KeyChecksTotal.WithLabelValues(metrics.Result(string(apperrors.GetCode(err)))).Inc()
		return nil, err
	}

	key, err := s.store.Keys().FindByKey(ctx, v.Key)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if key == nil {
		metrics.KeyChecksTotal.WithLabelValues(string(apperrors.ErrCodeNotFound)).Inc()
		return nil, apperrors.NotFound("License key")
	}

	check := &KeyCheck{
		Status:      CheckAvailable,
		LicenseKey:  v.Key,
		ProductCode: v.ProductCode,
		ProductName: v.Product.Name,
	}
	if key.IsUsed {
		check.Status = CheckAlreadyActivated
		check.ActivatedBy = util.MaskHardwareID(key.ActivatedBy())
		check.UsedAt = key.UsedAt
	}
	metrics.KeyChecksTotal.WithLabelValues(string(check.Status)).Inc()
	return check, nil
}

// CheckKey is the compact lookup used by installers.
func (s *LicenseService) CheckKey(ctx context.Context, rawKey string) (*KeyInfo, error) {
	v, err := verifyKey(s.codec, rawKey)
	if err != nil {
		return nil, err
	}

	key, err := s.store.Keys().FindByKey(ctx, v.Key)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if key == nil {
		return nil, apperrors.NotFound("License key")
	}

	return &KeyInfo{
		LicenseKey:  v.Key,
		ProductCode: v.ProductCode,
		ProductName: v.Product.Name,
		IsUsed:      key.IsUsed,
		ActivatedBy: util.MaskHardwareID(key.ActivatedBy()),
	}, nil
}

// Activate binds a key to a hardware id. Repeating the same activation from
// the same device succeeds without creating anything.
func (s *LicenseService) Activate(ctx context.Context, params ActivateParams) (*Activation, error) {
	hardwareID, err := normalizeDeviceHardwareID(params.HardwareID)
	if err != nil {
		return nil, err
	}
	v, err := verifyKey(s.codec, params.LicenseKey)
	if err != nil {
		metrics.ActivationsTotal.WithLabelValues("unknown", string(apperrors.GetCode(err))).Inc()
		return nil, err
	}

	var deviceName *string
	if name := strings.TrimSpace(params.DeviceName); name != "" {
		deviceName = &name
	}

	at := s.now()
	var result *Activation
	err = s.store.Atomic(ctx, func(repos repository.Repositories) error {
		existing, err := repos.Licenses.FindByHardwareAndProduct(ctx, hardwareID, v.ProductCode)
		if err != nil {
			return apperrors.Database(err)
		}
		if existing != nil {
			if existing.LicenseKey != v.Key {
				return apperrors.AlreadyActivated()
			}
			if err := repos.Licenses.UpdateLastCheck(ctx, existing.ID, at); err != nil {
				return apperrors.Database(err)
			}
			existing.LastCheckAt = at
			result = &Activation{License: existing, ProductName: v.Product.Name}
			return nil
		}

		key, err := repos.Keys.FindByKey(ctx, v.Key)
		if err != nil {
			return apperrors.Database(err)
		}
		if key == nil {
			return apperrors.NotFound("License key")
		}
		if key.IsUsed {
			return apperrors.AlreadyUsed()
		}
		if key.ProductCode != v.ProductCode {
			return apperrors.ProductMismatch()
		}

		marked, err := repos.Keys.MarkUsed(ctx, v.Key, hardwareID, at)
		if err != nil {
			return apperrors.Database(err)
		}
		if !marked {
			return apperrors.AlreadyUsed()
		}

		lic, err := repos.Licenses.Create(ctx, model.CreateActiveLicenseParams{
			LicenseKey:  v.Key,
			HardwareID:  hardwareID,
			DeviceName:  deviceName,
			ProductCode: v.ProductCode,
			ActivatedAt: at,
		})
		if errors.Is(err, repository.ErrSlotTaken) {
			return apperrors.AlreadyActivated()
		}
		if err != nil {
			return apperrors.Database(err)
		}
		result = &Activation{License: lic, ProductName: v.Product.Name, Created: true}
		return nil
	})
	if err != nil {
		metrics.ActivationsTotal.WithLabelValues(v.ProductCode, string(apperrors.GetCode(err))).Inc()
		if !apperrors.IsAppError(err) {
			return nil, apperrors.Database(err)
		}
		return nil, err
	}

	metrics.ActivationsTotal.WithLabelValues(v.ProductCode, metrics.Result("")).Inc()
	if result.Created {
		log.Info().
			Str("hardwareId", util.MaskHardwareID(hardwareID)).
			Str("productCode", v.ProductCode).
			Int64("licenseId", result.License.ID).
			Msg("license activated")
	} else {
		log.Debug().
			Str("hardwareId", util.MaskHardwareID(hardwareID)).
			Str("productCode", v.ProductCode).
			Msg("license already active for device, refreshed last check")
	}
	return result, nil
}

// Validate is the periodic phone-home. Every call on an activated device
// refreshes last_check_at, including calls that report a revocation. With an
// empty productCode the device's earliest activation is used.
func (s *LicenseService) Validate(ctx context.Context, rawHardwareID, productCode string) (*Validation, error) {
	hardwareID, err := normalizeDeviceHardwareID(rawHardwareID)
	if err != nil {
		return nil, err
	}
	productCode = strings.ToUpper(strings.TrimSpace(productCode))

	var lic *model.ActiveLicense
	if productCode == "" {
		lic, err = s.store.Licenses().FindByHardwareID(ctx, hardwareID)
	} else {
		if _, ok := s.codec.Registry().Lookup(productCode); !ok {
			return nil, apperrors.UnknownProduct(productCode)
		}
		lic, err = s.store.Licenses().FindByHardwareAndProduct(ctx, hardwareID, productCode)
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if lic == nil {
		metrics.ValidationsTotal.WithLabelValues("not_activated").Inc()
		return &Validation{Valid: false, Activated: false}, nil
	}

	at := s.now()
	if err := s.store.Licenses().UpdateLastCheck(ctx, lic.ID, at); err != nil {
		return nil, apperrors.Database(err)
	}
	lic.LastCheckAt = at

	if lic.IsRevoked {
		metrics.ValidationsTotal.WithLabelValues("revoked").Inc()
		log.Info().
			Str("hardwareId", util.MaskHardwareID(hardwareID)).
			Str("productCode", lic.ProductCode).
			Msg("validation blocked: license revoked")
		return &Validation{
			Valid:     false,
			Activated: true,
			Revoked:   true,
			Reason:    lic.Reason(),
			RevokedAt: lic.RevokedAt,
		}, nil
	}

	trustedUntil := at.Add(s.offlineTolerance)
	metrics.ValidationsTotal.WithLabelValues("valid").Inc()
	return &Validation{
		Valid:                 true,
		Activated:             true,
		License:               s.summarize(lic),
		ServerTime:            &at,
		OfflineToleranceHours: int(s.offlineTolerance / time.Hour),
		TrustedUntil:          &trustedUntil,
	}, nil
}

func (s *LicenseService) summarize(lic *model.ActiveLicense) *LicenseSummary {
	name := lic.ProductCode
	if p, ok := s.codec.Registry().Lookup(lic.ProductCode); ok {
		name = p.Name
	}
	return &LicenseSummary{
		HardwareID:  lic.HardwareID,
		ProductCode: lic.ProductCode,
		ProductName: name,
		ActivatedAt: lic.ActivatedAt,
		LastCheckAt: lic.LastCheckAt,
	}
}

// verifyKey runs the codec and turns a failed verification into the matching
// client error. Nothing here touches storage.
func verifyKey(codec *license.Codec, rawKey string) (license.Verification, error) {
	if strings.TrimSpace(rawKey) == "" {
		return license.Verification{}, apperrors.MissingRequired("licenseKey")
	}
	v := codec.ParseAndVerify(rawKey)
	if v.Valid {
		return v, nil
	}
	switch v.Kind {
	case license.KindUnknownProduct:
		return v, apperrors.UnknownProduct(v.ProductCode)
	case license.KindChecksumMismatch:
		return v, apperrors.ChecksumMismatch()
	default:
		return v, apperrors.InvalidFormat(v.Reason)
	}
}

// normalizeDeviceHardwareID applies the rules for ids sent by devices:
// trimmed, uppercased and at least util.MinHardwareIDLength long.
func normalizeDeviceHardwareID(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", apperrors.MissingRequired("hardwareId")
	}
	id, ok := util.NormalizeHardwareID(raw)
	if !ok {
		return "", apperrors.InvalidInput("hardwareId", "must be at least 8 characters")
	}
	return id, nil
}

// normalizeAdminHardwareID only canonicalises; admins may address legacy ids
// shorter than the device minimum.
func normalizeAdminHardwareID(raw string) (string, error) {
	id := strings.ToUpper(strings.TrimSpace(raw))
	if id == "" {
		return "", apperrors.MissingRequired("hardwareId")
	}
	return id, nil
}
