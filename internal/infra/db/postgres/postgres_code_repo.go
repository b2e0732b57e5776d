package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/repository"
)

var (
	_ repository.ActivationCodeRepository = (*activationCodeRepo)(nil)
	_ repository.DiscountCodeRepository   = (*discountCodeRepo)(nil)
	_ repository.IssuedCodeRepository     = (*issuedCodeRepo)(nil)
)

// --- issued code registry ---

type issuedCodeRepo struct {
	pool *pgxpool.Pool
}

func NewIssuedCodeRepo(pool *pgxpool.Pool) repository.IssuedCodeRepository {
	return &issuedCodeRepo{pool: pool}
}

// Reserve never raises a unique violation, so a collision inside a
// transaction leaves it usable for the next candidate.
func (r *issuedCodeRepo) Reserve(ctx context.Context, tx repository.Tx, code string, kind model.CodeKind) error {
	const q = `
INSERT INTO issued_codes (code, kind)
VALUES ($1, $2)
ON CONFLICT (code) DO NOTHING;
`
	tag, err := execSQL(ctx, r.pool, tx, q, code, string(kind))
	if err != nil {
		return mapErr("Reserve code", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCodeAlreadyExists
	}
	return nil
}

func (r *issuedCodeRepo) Existing(ctx context.Context, tx repository.Tx, codes []string) (map[string]model.CodeKind, error) {
	out := make(map[string]model.CodeKind)
	if len(codes) == 0 {
		return out, nil
	}
	const q = `SELECT code, kind FROM issued_codes WHERE code = ANY($1);`
	rows, err := queryRows(ctx, r.pool, tx, q, codes)
	if err != nil {
		return nil, mapErr("Existing codes", err)
	}
	defer rows.Close()
	for rows.Next() {
		var code, kind string
		if err := rows.Scan(&code, &kind); err != nil {
			return nil, scanErr(err)
		}
		out[code] = model.CodeKind(kind)
	}
	return out, mapErr("Existing codes", rows.Err())
}

// --- activation codes ---

type activationCodeRepo struct {
	pool *pgxpool.Pool
}

func NewActivationCodeRepo(pool *pgxpool.Pool) repository.ActivationCodeRepository {
	return &activationCodeRepo{pool: pool}
}

const activationColumns = `id, code, tier_id, status, source, trial_days, expires_at, used_at, redeemed_by_tenant, created_at`

func scanActivation(row pgx.Row) (*model.ActivationCode, error) {
	var (
		ac     model.ActivationCode
		status string
	)
	err := row.Scan(&ac.ID, &ac.Code, &ac.TierID, &status, &ac.Source, &ac.TrialDays,
		&ac.ExpiresAt, &ac.UsedAt, &ac.RedeemedByTenant, &ac.CreatedAt)
	if err != nil {
		return nil, err
	}
	ac.Status = model.CodeStatus(status)
	return &ac, nil
}

// Create expects the code to be reserved in issued_codes within the same tx.
func (r *activationCodeRepo) Create(ctx context.Context, tx repository.Tx, code *model.ActivationCode) error {
	if code.ID == "" {
		code.ID = uuid.NewString()
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now()
	}
	const q = `
INSERT INTO activation_codes (` + activationColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`
	_, err := execSQL(ctx, r.pool, tx, q,
		code.ID, code.Code, code.TierID, string(code.Status), code.Source, code.TrialDays,
		code.ExpiresAt, code.UsedAt, code.RedeemedByTenant, code.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrCodeAlreadyExists
	}
	return mapErr("Create activation code", err)
}

func (r *activationCodeRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.ActivationCode, error) {
	const q = `SELECT ` + activationColumns + ` FROM activation_codes WHERE code = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, code)
	if err != nil {
		return nil, err
	}
	ac, err := scanActivation(row)
	if err != nil {
		return nil, scanErr(err)
	}
	return ac, nil
}

// MarkUsed is the compare-and-set that makes activation codes single-use:
// only the update that still sees used_at IS NULL affects a row.
func (r *activationCodeRepo) MarkUsed(ctx context.Context, tx repository.Tx, id string, tenantID int64, at time.Time) (bool, error) {
	const q = `
UPDATE activation_codes
   SET used_at = $2, redeemed_by_tenant = $3
 WHERE id = $1 AND used_at IS NULL;
`
	tag, err := execSQL(ctx, r.pool, tx, q, id, at, tenantID)
	if err != nil {
		return false, mapErr("MarkUsed activation code", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *activationCodeRepo) UpdateStatus(ctx context.Context, tx repository.Tx, code string, status model.CodeStatus) error {
	const q = `UPDATE activation_codes SET status = $2 WHERE code = $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, code, string(status))
	if err != nil {
		return mapErr("UpdateStatus activation code", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *activationCodeRepo) ListByTier(ctx context.Context, tx repository.Tx, tierID string, limit, offset int) ([]*model.ActivationCode, error) {
	const q = `
SELECT ` + activationColumns + `
  FROM activation_codes
 WHERE tier_id = $1
 ORDER BY created_at DESC, code
 LIMIT $2 OFFSET $3;
`
	rows, err := queryRows(ctx, r.pool, tx, q, tierID, limitOrAll(limit), offset)
	if err != nil {
		return nil, mapErr("ListByTier activation codes", err)
	}
	defer rows.Close()
	out := make([]*model.ActivationCode, 0)
	for rows.Next() {
		ac, err := scanActivation(rows)
		if err != nil {
			return nil, scanErr(err)
		}
		out = append(out, ac)
	}
	return out, mapErr("ListByTier activation codes", rows.Err())
}

// --- discount codes ---

type discountCodeRepo struct {
	pool *pgxpool.Pool
}

func NewDiscountCodeRepo(pool *pgxpool.Pool) repository.DiscountCodeRepository {
	return &discountCodeRepo{pool: pool}
}

const discountColumns = `id, code, tier_id, status, source, trial_days, expires_at,
       discount_percentage, usage_type, max_uses, times_used, created_at, updated_at`

func scanDiscount(row pgx.Row) (*model.DiscountCode, error) {
	var (
		dc            model.DiscountCode
		status, usage string
	)
	err := row.Scan(&dc.ID, &dc.Code, &dc.TierID, &status, &dc.Source, &dc.TrialDays, &dc.ExpiresAt,
		&dc.DiscountPercentage, &usage, &dc.MaxUses, &dc.TimesUsed, &dc.CreatedAt, &dc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	dc.Status = model.CodeStatus(status)
	dc.UsageType = model.UsageType(usage)
	return &dc, nil
}

func (r *discountCodeRepo) Create(ctx context.Context, tx repository.Tx, code *model.DiscountCode) error {
	if code.ID == "" {
		code.ID = uuid.NewString()
	}
	now := time.Now()
	if code.CreatedAt.IsZero() {
		code.CreatedAt = now
	}
	if code.UpdatedAt.IsZero() {
		code.UpdatedAt = code.CreatedAt
	}
	const q = `
INSERT INTO discount_codes (` + discountColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);
`
	_, err := execSQL(ctx, r.pool, tx, q,
		code.ID, code.Code, code.TierID, string(code.Status), code.Source, code.TrialDays, code.ExpiresAt,
		code.DiscountPercentage, string(code.UsageType), code.MaxUses, code.TimesUsed, code.CreatedAt, code.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrCodeAlreadyExists
	}
	return mapErr("Create discount code", err)
}

func (r *discountCodeRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.DiscountCode, error) {
	const q = `SELECT ` + discountColumns + ` FROM discount_codes WHERE code = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, code)
	if err != nil {
		return nil, err
	}
	dc, err := scanDiscount(row)
	if err != nil {
		return nil, scanErr(err)
	}
	return dc, nil
}

// IncrementUsage bumps times_used while the cap for the row's usage type holds.
// Concurrent callers serialize on the row lock and re-evaluate the predicate.
func (r *discountCodeRepo) IncrementUsage(ctx context.Context, tx repository.Tx, id string, at time.Time) (bool, error) {
	const q = `
UPDATE discount_codes
   SET times_used = times_used + 1, updated_at = $2
 WHERE id = $1
   AND CASE usage_type
         WHEN 'one-time-use' THEN times_used < 1
         WHEN 'multi-use'    THEN times_used < max_uses
         ELSE TRUE
       END;
`
	tag, err := execSQL(ctx, r.pool, tx, q, id, at)
	if err != nil {
		return false, mapErr("IncrementUsage discount code", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *discountCodeRepo) UpdateStatus(ctx context.Context, tx repository.Tx, code string, status model.CodeStatus) error {
	const q = `UPDATE discount_codes SET status = $2, updated_at = now() WHERE code = $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, code, string(status))
	if err != nil {
		return mapErr("UpdateStatus discount code", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *discountCodeRepo) ListByTier(ctx context.Context, tx repository.Tx, tierID string, limit, offset int) ([]*model.DiscountCode, error) {
	const q = `
SELECT ` + discountColumns + `
  FROM discount_codes
 WHERE tier_id = $1
 ORDER BY code
 LIMIT $2 OFFSET $3;
`
	rows, err := queryRows(ctx, r.pool, tx, q, tierID, limitOrAll(limit), offset)
	if err != nil {
		return nil, mapErr("ListByTier discount codes", err)
	}
	defer rows.Close()
	out := make([]*model.DiscountCode, 0)
	for rows.Next() {
		dc, err := scanDiscount(rows)
		if err != nil {
			return nil, scanErr(err)
		}
		out = append(out, dc)
	}
	return out, mapErr("ListByTier discount codes", rows.Err())
}

// limitOrAll turns a non-positive limit into SQL NULL, which LIMIT reads as no limit.
func limitOrAll(limit int) interface{} {
	if limit <= 0 {
		return nil
	}
	return limit
}
