package repository

import (
	"context"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/eyesee/license-server-go/internal/model"
)

type boltLicenseRepo struct {
	boltRunner
}

func licensesBucket(tx *bbolt.Tx) *bbolt.Bucket {
	return tx.Bucket([]byte(bucketLicenses))
}

func slotsBucket(tx *bbolt.Tx) *bbolt.Bucket {
	return tx.Bucket([]byte(bucketSlots))
}

func (r *boltLicenseRepo) Create(ctx context.Context, params model.CreateActiveLicenseParams) (*model.ActiveLicense, error) {
	at := params.ActivatedAt.UTC()
	lic := model.ActiveLicense{
		LicenseKey:  params.LicenseKey,
		HardwareID:  params.HardwareID,
		DeviceName:  params.DeviceName,
		ProductCode: params.ProductCode,
		ActivatedAt: at,
		LastCheckAt: at,
	}
	err := r.update(ctx, func(tx *bbolt.Tx) error {
		slots := slotsBucket(tx)
		slot := slotKey(lic.HardwareID, lic.ProductCode)
		if slots.Get(slot) != nil {
			return ErrSlotTaken
		}

		b := licensesBucket(tx)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		lic.ID = int64(seq)
		if err := putJSON(b, itob(lic.ID), lic); err != nil {
			return err
		}
		return slots.Put(slot, itob(lic.ID))
	})
	if err != nil {
		return nil, err
	}
	return &lic, nil
}

// first returns the lowest-id license accepted by match.
func (r *boltLicenseRepo) first(ctx context.Context, match func(*model.ActiveLicense) bool) (*model.ActiveLicense, error) {
	var found *model.ActiveLicense
	err := r.view(ctx, func(tx *bbolt.Tx) error {
		c := licensesBucket(tx).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			lic, err := decodeJSON[model.ActiveLicense](v)
			if err != nil {
				return err
			}
			if match(lic) {
				found = lic
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (r *boltLicenseRepo) FindByHardwareID(ctx context.Context, hardwareID string) (*model.ActiveLicense, error) {
	return r.first(ctx, func(l *model.ActiveLicense) bool {
		return l.HardwareID == hardwareID
	})
}

func (r *boltLicenseRepo) FindByHardwareAndProduct(ctx context.Context, hardwareID, productCode string) (*model.ActiveLicense, error) {
	var lic *model.ActiveLicense
	err := r.view(ctx, func(tx *bbolt.Tx) error {
		id := slotsBucket(tx).Get(slotKey(hardwareID, productCode))
		if id == nil {
			return nil
		}
		var err error
		lic, err = getJSON[model.ActiveLicense](licensesBucket(tx), id)
		return err
	})
	return lic, err
}

func (r *boltLicenseRepo) FindByKey(ctx context.Context, licenseKey string) (*model.ActiveLicense, error) {
	return r.first(ctx, func(l *model.ActiveLicense) bool {
		return l.LicenseKey == licenseKey
	})
}

func (r *boltLicenseRepo) FindAll(ctx context.Context) ([]model.ActiveLicense, error) {
	licenses := []model.ActiveLicense{}
	err := r.view(ctx, func(tx *bbolt.Tx) error {
		return licensesBucket(tx).ForEach(func(k, v []byte) error {
			lic, err := decodeJSON[model.ActiveLicense](v)
			if err != nil {
				return err
			}
			licenses = append(licenses, *lic)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(licenses, func(i, j int) bool {
		return licenses[i].ID > licenses[j].ID
	})
	return licenses, nil
}

// modify loads license id, applies fn and writes it back. Missing ids are a
// no-op, matching an UPDATE that touches zero rows.
func (r *boltLicenseRepo) modify(ctx context.Context, id int64, fn func(*model.ActiveLicense)) error {
	return r.update(ctx, func(tx *bbolt.Tx) error {
		b := licensesBucket(tx)
		lic, err := getJSON[model.ActiveLicense](b, itob(id))
		if err != nil || lic == nil {
			return err
		}
		fn(lic)
		return putJSON(b, itob(id), lic)
	})
}

func (r *boltLicenseRepo) UpdateLastCheck(ctx context.Context, id int64, at time.Time) error {
	return r.modify(ctx, id, func(l *model.ActiveLicense) {
		l.LastCheckAt = at.UTC()
	})
}

func (r *boltLicenseRepo) Revoke(ctx context.Context, id int64, reason string, at time.Time) error {
	return r.modify(ctx, id, func(l *model.ActiveLicense) {
		l.Revoke(reason, at.UTC())
	})
}

func (r *boltLicenseRepo) Reactivate(ctx context.Context, id int64) error {
	return r.modify(ctx, id, func(l *model.ActiveLicense) {
		l.Reactivate()
	})
}

func (r *boltLicenseRepo) Delete(ctx context.Context, id int64) error {
	return r.update(ctx, func(tx *bbolt.Tx) error {
		b := licensesBucket(tx)
		lic, err := getJSON[model.ActiveLicense](b, itob(id))
		if err != nil || lic == nil {
			return err
		}
		if err := slotsBucket(tx).Delete(slotKey(lic.HardwareID, lic.ProductCode)); err != nil {
			return err
		}
		return b.Delete(itob(id))
	})
}

func (r *boltLicenseRepo) Stats(ctx context.Context) (*model.LicenseStats, error) {
	stats := model.LicenseStats{ByProduct: emptyByProduct()}
	err := r.view(ctx, func(tx *bbolt.Tx) error {
		return licensesBucket(tx).ForEach(func(k, v []byte) error {
			lic, err := decodeJSON[model.ActiveLicense](v)
			if err != nil {
				return err
			}
			stats.Total++
			if lic.IsRevoked {
				stats.Revoked++
			} else {
				stats.Active++
			}
			stats.ByProduct[lic.ProductCode]++
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
