// Package memory is an in-process implementation of every repository port.
// It backs unit tests and `storage.driver: memory` dev runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v4"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/repository"
)

var _ repository.TransactionManager = (*TxManager)(nil)

// Store holds all tables behind one mutex. Conditional writes (MarkUsed,
// IncrementUsage, Reserve) check and mutate under that mutex.
//
// Writes are applied in place and undone on rollback, so other transactions
// could observe them early. Code rows and tenants are therefore guarded by
// named locks held until the owning transaction ends, the way Postgres row
// locks and advisory locks behave: a second redeemer of the same code waits
// for the first to commit or roll back, then reads the settled row.
type Store struct {
	mu         sync.RWMutex
	activation map[string]*model.ActivationCode // by code
	discount   map[string]*model.DiscountCode   // by code
	issued     map[string]model.CodeKind
	tiers      map[string]*model.Tier
	subs       map[string]*model.Subscription
	invoices   map[string]*model.Invoice

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewStore() *Store {
	return &Store{
		activation: make(map[string]*model.ActivationCode),
		discount:   make(map[string]*model.DiscountCode),
		issued:     make(map[string]model.CodeKind),
		tiers:      make(map[string]*model.Tier),
		subs:       make(map[string]*model.Subscription),
		invoices:   make(map[string]*model.Invoice),
		locks:      make(map[string]*sync.Mutex),
	}
}

// Tx records undo steps and held locks for one WithTx call.
type Tx struct {
	undo  []func()
	held  map[string]*sync.Mutex
	store *Store
}

// onRollback registers fn to run if the transaction fails. Safe on a nil Tx.
func (t *Tx) onRollback(fn func()) {
	if t != nil {
		t.undo = append(t.undo, fn)
	}
}

func (t *Tx) rollback() {
	t.store.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.store.mu.Unlock()
	t.undo = nil
}

func (t *Tx) release() {
	for _, m := range t.held {
		m.Unlock()
	}
	t.held = nil
}

// asTx resolves the opaque handle; nil means auto-commit.
func asTx(tx repository.Tx) (*Tx, error) {
	switch v := tx.(type) {
	case nil:
		return nil, nil
	case *Tx:
		return v, nil
	default:
		return nil, domain.ErrInvalidExecContext
	}
}

type TxManager struct {
	store *Store
}

func NewTxManager(s *Store) *TxManager {
	return &TxManager{store: s}
}

// WithTx runs fn and reverts its writes if it returns an error. Isolation
// options are accepted for interface parity and otherwise ignored.
func (m *TxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &Tx{store: m.store, held: make(map[string]*sync.Mutex)}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) lockTenant(ctx context.Context, tx *Tx, tenantID int64) error {
	if tx == nil {
		return domain.ErrInvalidExecContext
	}
	_, err := s.lockKey(ctx, tx, fmt.Sprintf("tenant:%d", tenantID))
	return err
}

// lockCode guards one code row. Callers must not hold s.mu.
func (s *Store) lockCode(ctx context.Context, tx *Tx, kind model.CodeKind, code string) (func(), error) {
	return s.lockKey(ctx, tx, "code:"+string(kind)+":"+code)
}

// lockKey takes the named lock until tx ends. Without a transaction the lock
// is only waited for: the returned func releases it right away.
func (s *Store) lockKey(ctx context.Context, tx *Tx, key string) (func(), error) {
	noop := func() {}
	if tx != nil {
		if _, ok := tx.held[key]; ok {
			return noop, nil
		}
	}
	s.lockMu.Lock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	s.lockMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.Lock()
	if tx == nil {
		return m.Unlock, nil
	}
	tx.held[key] = m
	return noop, nil
}

func paginate[T any](in []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(in) {
		return []T{}
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}
