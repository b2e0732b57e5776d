package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/repository"
)

var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

const tenantLockNamespace = "tenant-subscription"

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) repository.SubscriptionRepository {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, tenant_id, tier_id, start_at, end_at, status, payment_status, activation_method,
       auto_renew, source, proof_path, note, created_at, updated_at`

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var (
		s                       model.Subscription
		status, payment, method string
	)
	err := row.Scan(&s.ID, &s.TenantID, &s.TierID, &s.StartAt, &s.EndAt, &status, &payment, &method,
		&s.AutoRenew, &s.Source, &s.ProofPath, &s.Note, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Status = model.SubscriptionStatus(status)
	s.PaymentStatus = model.PaymentStatus(payment)
	s.ActivationMethod = model.ActivationMethod(method)
	return &s, nil
}

// LockTenant takes a transaction-scoped advisory lock; it is released on
// commit or rollback.
func (r *subscriptionRepo) LockTenant(ctx context.Context, tx repository.Tx, tenantID int64) error {
	ptx, ok := tx.(pgx.Tx)
	if !ok {
		return domain.ErrInvalidExecContext
	}
	_, err := ptx.Exec(ctx, `SELECT pg_advisory_xact_lock($1);`, advisoryKey(tenantLockNamespace, tenantID))
	return mapErr("LockTenant", err)
}

// Save upserts by id. The partial unique index on live statuses turns a
// second live subscription for a tenant into domain.ErrAlreadyExists.
func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, sub *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (` + subscriptionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE
  SET tier_id           = EXCLUDED.tier_id,
      start_at          = EXCLUDED.start_at,
      end_at            = EXCLUDED.end_at,
      status            = EXCLUDED.status,
      payment_status    = EXCLUDED.payment_status,
      activation_method = EXCLUDED.activation_method,
      auto_renew        = EXCLUDED.auto_renew,
      source            = EXCLUDED.source,
      proof_path        = EXCLUDED.proof_path,
      note              = EXCLUDED.note,
      updated_at        = EXCLUDED.updated_at;
`
	_, err := execSQL(ctx, r.pool, tx, q,
		sub.ID, sub.TenantID, sub.TierID, sub.StartAt, sub.EndAt,
		string(sub.Status), string(sub.PaymentStatus), string(sub.ActivationMethod),
		sub.AutoRenew, sub.Source, sub.ProofPath, sub.Note, sub.CreatedAt, sub.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return mapErr("Save subscription", err)
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1;`
	return r.one(ctx, tx, q, id)
}

func (r *subscriptionRepo) FindLiveByTenant(ctx context.Context, tx repository.Tx, tenantID int64) (*model.Subscription, error) {
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE tenant_id = $1
   AND status IN ('pending', 'trial', 'active', 'suspended');
`
	return r.one(ctx, tx, q, tenantID)
}

func (r *subscriptionRepo) ListByTenant(ctx context.Context, tx repository.Tx, tenantID int64) ([]*model.Subscription, error) {
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE tenant_id = $1
 ORDER BY created_at DESC;
`
	return r.many(ctx, tx, "ListByTenant subscriptions", q, tenantID)
}

func (r *subscriptionRepo) HasPaidHistory(ctx context.Context, tx repository.Tx, tenantID int64) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE tenant_id = $1 AND payment_status = 'paid');`
	row, err := pickRow(ctx, r.pool, tx, q, tenantID)
	if err != nil {
		return false, err
	}
	var paid bool
	if err := row.Scan(&paid); err != nil {
		return false, scanErr(err)
	}
	return paid, nil
}

func (r *subscriptionRepo) ListDue(ctx context.Context, tx repository.Tx, now time.Time, grace time.Duration, limit int) ([]*model.Subscription, error) {
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE end_at IS NOT NULL
   AND (
        (status = 'trial' AND end_at <= $1)
     OR (status = 'active' AND NOT auto_renew AND end_at <= $1)
     OR (status = 'active' AND auto_renew AND end_at + ($2::double precision * interval '1 second') <= $1)
   )
 ORDER BY end_at
 LIMIT $3;
`
	return r.many(ctx, tx, "ListDue subscriptions", q, now, grace.Seconds(), limitOrAll(limit))
}

func (r *subscriptionRepo) one(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Subscription, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	s, err := scanSubscription(row)
	if err != nil {
		return nil, scanErr(err)
	}
	return s, nil
}

func (r *subscriptionRepo) many(ctx context.Context, tx repository.Tx, op, q string, args ...interface{}) ([]*model.Subscription, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapErr(op, err)
	}
	defer rows.Close()
	out := make([]*model.Subscription, 0)
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, scanErr(err)
		}
		out = append(out, s)
	}
	return out, mapErr(op, rows.Err())
}
