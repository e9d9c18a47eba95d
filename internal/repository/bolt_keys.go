package repository

import (
	"context"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/eyesee/license-server-go/internal/model"
)

type boltKeyRepo struct {
	boltRunner
}

func keysBucket(tx *bbolt.Tx) *bbolt.Bucket {
	return tx.Bucket([]byte(bucketKeys))
}

func (r *boltKeyRepo) Add(ctx context.Context, params model.CreateGeneratedKeyParams) (*model.GeneratedKey, error) {
	key := model.GeneratedKey{
		LicenseKey:  params.LicenseKey,
		ProductCode: params.ProductCode,
		GeneratedAt: params.GeneratedAt.UTC(),
	}
	err := r.update(ctx, func(tx *bbolt.Tx) error {
		b := keysBucket(tx)
		if b.Get([]byte(key.LicenseKey)) != nil {
			return ErrDuplicateKey
		}
		return putJSON(b, []byte(key.LicenseKey), key)
	})
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *boltKeyRepo) FindByKey(ctx context.Context, licenseKey string) (*model.GeneratedKey, error) {
	var key *model.GeneratedKey
	err := r.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		key, err = getJSON[model.GeneratedKey](keysBucket(tx), []byte(licenseKey))
		return err
	})
	return key, err
}

func (r *boltKeyRepo) FindAll(ctx context.Context, status model.KeyStatus) ([]model.GeneratedKey, error) {
	keys := []model.GeneratedKey{}
	err := r.view(ctx, func(tx *bbolt.Tx) error {
		return keysBucket(tx).ForEach(func(k, v []byte) error {
			key, err := decodeJSON[model.GeneratedKey](v)
			if err != nil {
				return err
			}
			if key.Matches(status) {
				keys = append(keys, *key)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].GeneratedAt.Equal(keys[j].GeneratedAt) {
			return keys[i].LicenseKey < keys[j].LicenseKey
		}
		return keys[i].GeneratedAt.After(keys[j].GeneratedAt)
	})
	return keys, nil
}

func (r *boltKeyRepo) MarkUsed(ctx context.Context, licenseKey, hardwareID string, at time.Time) (bool, error) {
	marked := false
	err := r.update(ctx, func(tx *bbolt.Tx) error {
		b := keysBucket(tx)
		key, err := getJSON[model.GeneratedKey](b, []byte(licenseKey))
		if err != nil || key == nil || key.IsUsed {
			return err
		}
		key.MarkUsed(hardwareID, at.UTC())
		marked = true
		return putJSON(b, []byte(licenseKey), key)
	})
	if err != nil {
		return false, err
	}
	return marked, nil
}

func (r *boltKeyRepo) ResetToUnused(ctx context.Context, licenseKey string) error {
	return r.update(ctx, func(tx *bbolt.Tx) error {
		b := keysBucket(tx)
		key, err := getJSON[model.GeneratedKey](b, []byte(licenseKey))
		if err != nil || key == nil {
			return err
		}
		key.Reset()
		return putJSON(b, []byte(licenseKey), key)
	})
}

func (r *boltKeyRepo) Delete(ctx context.Context, licenseKey string) (bool, error) {
	deleted := false
	err := r.update(ctx, func(tx *bbolt.Tx) error {
		b := keysBucket(tx)
		if b.Get([]byte(licenseKey)) == nil {
			return nil
		}
		deleted = true
		return b.Delete([]byte(licenseKey))
	})
	return deleted, err
}

func (r *boltKeyRepo) Stats(ctx context.Context) (*model.KeyStats, error) {
	stats := model.KeyStats{ByProduct: emptyByProduct()}
	err := r.view(ctx, func(tx *bbolt.Tx) error {
		return keysBucket(tx).ForEach(func(k, v []byte) error {
			key, err := decodeJSON[model.GeneratedKey](v)
			if err != nil {
				return err
			}
			stats.Total++
			if key.IsUsed {
				stats.Used++
			} else {
				stats.Unused++
			}
			stats.ByProduct[key.ProductCode]++
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
