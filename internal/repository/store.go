package repository

import (
	"context"
	"errors"
	"time"

	"github.com/eyesee/license-server-go/internal/model"
)

// Sentinel errors shared by all backends. Services translate them into
// domain errors.
var (
	// ErrDuplicateKey is returned when a generated key already exists.
	ErrDuplicateKey = errors.New("license key already exists")
	// ErrSlotTaken is returned when a (hardware_id, product_code) pair
	// already holds a license.
	ErrSlotTaken = errors.New("hardware id already has a license for this product")
)

// GeneratedKeyRepository handles generated key data operations.
type GeneratedKeyRepository interface {
	Add(ctx context.Context, params model.CreateGeneratedKeyParams) (*model.GeneratedKey, error)
	FindByKey(ctx context.Context, licenseKey string) (*model.GeneratedKey, error)
	FindAll(ctx context.Context, status model.KeyStatus) ([]model.GeneratedKey, error)
	// MarkUsed flips an unused key to used. It reports false when the key is
	// missing or was already used, so concurrent activations cannot both win.
	MarkUsed(ctx context.Context, licenseKey, hardwareID string, at time.Time) (bool, error)
	ResetToUnused(ctx context.Context, licenseKey string) error
	Delete(ctx context.Context, licenseKey string) (bool, error)
	Stats(ctx context.Context) (*model.KeyStats, error)
}

// ActiveLicenseRepository handles active license data operations.
type ActiveLicenseRepository interface {
	Create(ctx context.Context, params model.CreateActiveLicenseParams) (*model.ActiveLicense, error)
	// FindByHardwareID returns the earliest activation for the hardware id.
	FindByHardwareID(ctx context.Context, hardwareID string) (*model.ActiveLicense, error)
	FindByHardwareAndProduct(ctx context.Context, hardwareID, productCode string) (*model.ActiveLicense, error)
	FindByKey(ctx context.Context, licenseKey string) (*model.ActiveLicense, error)
	FindAll(ctx context.Context) ([]model.ActiveLicense, error)
	UpdateLastCheck(ctx context.Context, id int64, at time.Time) error
	Revoke(ctx context.Context, id int64, reason string, at time.Time) error
	Reactivate(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	Stats(ctx context.Context) (*model.LicenseStats, error)
}

// Repositories groups the repositories bound to one unit of work.
type Repositories struct {
	Keys     GeneratedKeyRepository
	Licenses ActiveLicenseRepository
}

// Store is the persistence strategy. Keys and Licenses run every call on its
// own; Atomic runs fn in a single transaction that is rolled back when fn
// returns an error.
type Store interface {
	Keys() GeneratedKeyRepository
	Licenses() ActiveLicenseRepository
	Atomic(ctx context.Context, fn func(repos Repositories) error) error
	Ping(ctx context.Context) error
	Close() error
}
