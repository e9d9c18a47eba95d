package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/eyesee/license-server-go/internal/database"
)

type postgresStore struct {
	db *database.DB
}

// NewPostgresStore returns a Store backed by postgres. Migrations are the
// caller's responsibility (see database.DB.Migrate).
func NewPostgresStore(db *database.DB) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) Keys() GeneratedKeyRepository {
	return NewGeneratedKeyRepository(s.db)
}

func (s *postgresStore) Licenses() ActiveLicenseRepository {
	return NewActiveLicenseRepository(s.db)
}

func (s *postgresStore) Atomic(ctx context.Context, fn func(repos Repositories) error) error {
	return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(Repositories{
			Keys:     NewGeneratedKeyRepository(tx),
			Licenses: NewActiveLicenseRepository(tx),
		})
	})
}

func (s *postgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *postgresStore) Close() error {
	return s.db.Close()
}
