package pgx

import (
	"context"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
	SendBatch(ctx context.Context, b *pgxv5.Batch) pgxv5.BatchResults
}

const defaultLookupBatch = 500

// Store implements store.RelationalStore and store.RunStore on PostgreSQL
// with pgvector for entity embeddings.
type Store struct {
	conn        pgxIConn
	lookupBatch int
}

type StoreOption func(*Store)

// WithLookupBatch bounds how many identity keys go into one lookup query.
func WithLookupBatch(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.lookupBatch = n
		}
	}
}

// NewStoreWithConnection creates a Store on an existing connection or pool.
func NewStoreWithConnection(conn pgxIConn, opts ...StoreOption) *Store {
	s := &Store{
		conn:        conn,
		lookupBatch: defaultLookupBatch,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}
