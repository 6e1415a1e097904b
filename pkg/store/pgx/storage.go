package pgx

import (
	"context"
	"sync"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// EntityDBStorage implements the EntityStorage interface on PostgreSQL.
// The entity graph, token inventory, mention records, pair ledger and
// ranking history all live in one schema so classification mutations and
// their review bookkeeping commit atomically.
type EntityDBStorage struct {
	conn   pgxIConn
	dbLock sync.Mutex
}

// NewEntityDBStorageWithConnection creates a new EntityDBStorage using an
// existing database connection or pool.
func NewEntityDBStorageWithConnection(
	ctx context.Context,
	conn pgxIConn,
) (*EntityDBStorage, error) {
	return &EntityDBStorage{
		conn:   conn,
		dbLock: sync.Mutex{},
	}, nil
}
