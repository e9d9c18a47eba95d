package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/eyesee/license-server-go/internal/errors"
	"github.com/eyesee/license-server-go/internal/license"
	"github.com/eyesee/license-server-go/internal/model"
	"github.com/eyesee/license-server-go/internal/repository"
)

type testEnv struct {
	store   repository.Store
	codec   *license.Codec
	license *LicenseService
	admin   *AdminService
}

func testRegistry(t *testing.T) *license.Registry {
	t.Helper()
	reg, err := license.NewRegistry(
		license.Product{Code: "BM01", Name: "BMS", Secret: "bms-license-secret-key-2024-v2"},
		license.Product{Code: "BL01", Name: "BLM", Secret: "blm-license-secret-key-2024-v2"},
		license.Product{Code: "VC01", Name: "VComm", Secret: "vcomm-license-secret-key-2024-v2"},
		license.Product{Code: "ES01", Name: "EyeSee", Secret: "eyesee-license-secret-key-2024-v2"},
	)
	require.NoError(t, err)
	return reg
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := repository.OpenBolt(filepath.Join(t.TempDir(), "licenses.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	codec := license.NewCodec(testRegistry(t))
	return &testEnv{
		store:   store,
		codec:   codec,
		license: NewLicenseService(store, codec, 24*time.Hour),
		admin:   NewAdminService(store, codec),
	}
}

func (e *testEnv) generate(t *testing.T, productCode string) string {
	t.Helper()
	keys, err := e.admin.GenerateKeys(context.Background(), productCode, 1)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	return keys[0].Key
}

func requireCode(t *testing.T, err error, code apperrors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, apperrors.GetCode(err), "unexpected error: %v", err)
}

// failingStore hands out repositories that report storage failures.
type failingStore struct {
	mock.Mock
}

func (s *failingStore) Keys() repository.GeneratedKeyRepository {
	return s.Called().Get(0).(repository.GeneratedKeyRepository)
}

func (s *failingStore) Licenses() repository.ActiveLicenseRepository {
	return s.Called().Get(0).(repository.ActiveLicenseRepository)
}

func (s *failingStore) Atomic(ctx context.Context, fn func(repos repository.Repositories) error) error {
	return s.Called(ctx).Error(0)
}

func (s *failingStore) Ping(ctx context.Context) error { return s.Called(ctx).Error(0) }

func (s *failingStore) Close() error { return nil }

type mockKeyRepo struct {
	mock.Mock
	repository.GeneratedKeyRepository
}

func (m *mockKeyRepo) FindByKey(ctx context.Context, licenseKey string) (*model.GeneratedKey, error) {
	args := m.Called(ctx, licenseKey)
	key, _ := args.Get(0).(*model.GeneratedKey)
	return key, args.Error(1)
}

func (m *mockKeyRepo) Stats(ctx context.Context) (*model.KeyStats, error) {
	args := m.Called(ctx)
	stats, _ := args.Get(0).(*model.KeyStats)
	return stats, args.Error(1)
}
