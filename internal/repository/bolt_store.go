package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	bucketKeys     = "generated_keys"
	bucketLicenses = "active_licenses"
	bucketSlots    = "license_slots"
)

const boltOpenTimeout = 2 * time.Second

type boltStore struct {
	db *bbolt.DB
}

// OpenBolt opens (creating if needed) a bbolt file at path and returns a
// Store backed by it. bbolt allows a single writer, so Atomic transactions
// are serialised.
func OpenBolt(path string) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketKeys, bucketLicenses, bucketSlots} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Keys() GeneratedKeyRepository {
	return &boltKeyRepo{boltRunner{db: s.db}}
}

func (s *boltStore) Licenses() ActiveLicenseRepository {
	return &boltLicenseRepo{boltRunner{db: s.db}}
}

func (s *boltStore) Atomic(ctx context.Context, fn func(repos Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		r := boltRunner{db: s.db, tx: tx}
		return fn(Repositories{
			Keys:     &boltKeyRepo{r},
			Licenses: &boltLicenseRepo{r},
		})
	})
}

func (s *boltStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bbolt.Tx) error { return nil })
}

func (s *boltStore) Close() error { return s.db.Close() }

// boltRunner runs repository calls in the bound transaction, or in a fresh
// one per call when none is bound.
type boltRunner struct {
	db *bbolt.DB
	tx *bbolt.Tx
}

func (r boltRunner) view(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.tx != nil {
		return fn(r.tx)
	}
	return r.db.View(fn)
}

func (r boltRunner) update(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.tx != nil {
		return fn(r.tx)
	}
	return r.db.Update(fn)
}

func getJSON[T any](b *bbolt.Bucket, key []byte) (*T, error) {
	raw := b.Get(key)
	if raw == nil {
		return nil, nil
	}
	return decodeJSON[T](raw)
}

func decodeJSON[T any](raw []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func putJSON(b *bbolt.Bucket, key []byte, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, buf)
}

func itob(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func slotKey(hardwareID, productCode string) []byte {
	return []byte(hardwareID + "\x00" + productCode)
}
