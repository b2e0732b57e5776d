package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque, infra-defined transaction handle (pgx.Tx for Postgres,
// *memory.Tx for the in-process store). Repositories accept nil for the
// non-transactional path.
type Tx interface{}

var NoTX interface{}

// TransactionManager runs fn inside one transaction and commits only when fn
// returns nil. Repositories called with the tx handed to fn join that
// transaction, which is how redemption and the lifecycle write commit together.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
