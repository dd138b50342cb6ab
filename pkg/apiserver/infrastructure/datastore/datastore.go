package datastore

import (
	"context"

	"gorm.io/gorm"
)

// Store is the relational unit of work over the system of record.
type Store struct {
	client *gorm.DB
}

// New wraps an opened gorm client.
func New(client *gorm.DB) *Store {
	return &Store{client: client}
}

// DB returns the underlying gorm client for read paths.
func (s *Store) DB() *gorm.DB { return s.client }

// WithTransaction runs fn within a database transaction. The provided tx
// client must be used for all operations that should be atomic; any error
// rolls back the whole transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.client.WithContext(ctx).Transaction(fn)
}
