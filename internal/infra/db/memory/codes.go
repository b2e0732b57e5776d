package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/repository"
)

var (
	_ repository.ActivationCodeRepository = (*ActivationCodeRepo)(nil)
	_ repository.DiscountCodeRepository   = (*DiscountCodeRepo)(nil)
	_ repository.IssuedCodeRepository     = (*IssuedCodeRepo)(nil)
)

func cloneActivation(c *model.ActivationCode) *model.ActivationCode {
	out := *c
	if c.ExpiresAt != nil {
		v := *c.ExpiresAt
		out.ExpiresAt = &v
	}
	if c.UsedAt != nil {
		v := *c.UsedAt
		out.UsedAt = &v
	}
	if c.RedeemedByTenant != nil {
		v := *c.RedeemedByTenant
		out.RedeemedByTenant = &v
	}
	return &out
}

func cloneDiscount(c *model.DiscountCode) *model.DiscountCode {
	out := *c
	if c.ExpiresAt != nil {
		v := *c.ExpiresAt
		out.ExpiresAt = &v
	}
	return &out
}

// --- activation codes ---

type ActivationCodeRepo struct{ s *Store }

func NewActivationCodeRepo(s *Store) *ActivationCodeRepo { return &ActivationCodeRepo{s: s} }

func (r *ActivationCodeRepo) Create(ctx context.Context, qx repository.Tx, code *model.ActivationCode) error {
	tx, err := asTx(qx)
	if err != nil {
		return err
	}
	if code.ID == "" {
		code.ID = uuid.NewString()
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.activation[code.Code]; ok {
		return domain.ErrCodeAlreadyExists
	}
	r.s.activation[code.Code] = cloneActivation(code)
	key := code.Code
	tx.onRollback(func() { delete(r.s.activation, key) })
	return nil
}

func (r *ActivationCodeRepo) FindByCode(ctx context.Context, qx repository.Tx, code string) (*model.ActivationCode, error) {
	tx, err := asTx(qx)
	if err != nil {
		return nil, err
	}
	unlock, err := r.s.lockCode(ctx, tx, model.CodeKindActivation, code)
	if err != nil {
		return nil, err
	}
	defer unlock()
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.activation[code]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneActivation(c), nil
}

func (r *ActivationCodeRepo) MarkUsed(ctx context.Context, qx repository.Tx, id string, tenantID int64, at time.Time) (bool, error) {
	tx, err := asTx(qx)
	if err != nil {
		return false, err
	}
	code, ok := r.codeOf(id)
	if !ok {
		return false, domain.ErrNotFound
	}
	unlock, err := r.s.lockCode(ctx, tx, model.CodeKindActivation, code)
	if err != nil {
		return false, err
	}
	defer unlock()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.activation {
		if c.ID != id {
			continue
		}
		if c.UsedAt != nil {
			return false, nil
		}
		used, tenant := at, tenantID
		c.UsedAt = &used
		c.RedeemedByTenant = &tenant
		row := c
		tx.onRollback(func() {
			row.UsedAt = nil
			row.RedeemedByTenant = nil
		})
		return true, nil
	}
	return false, domain.ErrNotFound
}

func (r *ActivationCodeRepo) codeOf(id string) (string, bool) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for code, c := range r.s.activation {
		if c.ID == id {
			return code, true
		}
	}
	return "", false
}

func (r *ActivationCodeRepo) UpdateStatus(ctx context.Context, qx repository.Tx, code string, status model.CodeStatus) error {
	tx, err := asTx(qx)
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.activation[code]
	if !ok {
		return domain.ErrNotFound
	}
	prev := c.Status
	c.Status = status
	tx.onRollback(func() { c.Status = prev })
	return nil
}

func (r *ActivationCodeRepo) ListByTier(ctx context.Context, qx repository.Tx, tierID string, limit, offset int) ([]*model.ActivationCode, error) {
	if _, err := asTx(qx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	out := make([]*model.ActivationCode, 0)
	for _, c := range r.s.activation {
		if c.TierID == tierID {
			out = append(out, cloneActivation(c))
		}
	}
	r.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Code < out[j].Code
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, limit, offset), nil
}

// --- discount codes ---

type DiscountCodeRepo struct{ s *Store }

func NewDiscountCodeRepo(s *Store) *DiscountCodeRepo { return &DiscountCodeRepo{s: s} }

func (r *DiscountCodeRepo) Create(ctx context.Context, qx repository.Tx, code *model.DiscountCode) error {
	tx, err := asTx(qx)
	if err != nil {
		return err
	}
	if code.ID == "" {
		code.ID = uuid.NewString()
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.discount[code.Code]; ok {
		return domain.ErrCodeAlreadyExists
	}
	r.s.discount[code.Code] = cloneDiscount(code)
	key := code.Code
	tx.onRollback(func() { delete(r.s.discount, key) })
	return nil
}

func (r *DiscountCodeRepo) FindByCode(ctx context.Context, qx repository.Tx, code string) (*model.DiscountCode, error) {
	tx, err := asTx(qx)
	if err != nil {
		return nil, err
	}
	unlock, err := r.s.lockCode(ctx, tx, model.CodeKindDiscount, code)
	if err != nil {
		return nil, err
	}
	defer unlock()
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.discount[code]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneDiscount(c), nil
}

func (r *DiscountCodeRepo) IncrementUsage(ctx context.Context, qx repository.Tx, id string, at time.Time) (bool, error) {
	tx, err := asTx(qx)
	if err != nil {
		return false, err
	}
	code, ok := r.codeOf(id)
	if !ok {
		return false, domain.ErrNotFound
	}
	unlock, err := r.s.lockCode(ctx, tx, model.CodeKindDiscount, code)
	if err != nil {
		return false, err
	}
	defer unlock()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.discount {
		if c.ID != id {
			continue
		}
		if c.Exhausted() {
			return false, nil
		}
		prevUpdated := c.UpdatedAt
		c.TimesUsed++
		c.UpdatedAt = at
		row := c
		tx.onRollback(func() {
			row.TimesUsed--
			row.UpdatedAt = prevUpdated
		})
		return true, nil
	}
	return false, domain.ErrNotFound
}

func (r *DiscountCodeRepo) codeOf(id string) (string, bool) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for code, c := range r.s.discount {
		if c.ID == id {
			return code, true
		}
	}
	return "", false
}

func (r *DiscountCodeRepo) UpdateStatus(ctx context.Context, qx repository.Tx, code string, status model.CodeStatus) error {
	tx, err := asTx(qx)
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.discount[code]
	if !ok {
		return domain.ErrNotFound
	}
	prev := c.Status
	c.Status = status
	tx.onRollback(func() { c.Status = prev })
	return nil
}

func (r *DiscountCodeRepo) ListByTier(ctx context.Context, qx repository.Tx, tierID string, limit, offset int) ([]*model.DiscountCode, error) {
	if _, err := asTx(qx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	out := make([]*model.DiscountCode, 0)
	for _, c := range r.s.discount {
		if c.TierID == tierID {
			out = append(out, cloneDiscount(c))
		}
	}
	r.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return paginate(out, limit, offset), nil
}

// --- issued code registry ---

type IssuedCodeRepo struct{ s *Store }

func NewIssuedCodeRepo(s *Store) *IssuedCodeRepo { return &IssuedCodeRepo{s: s} }

func (r *IssuedCodeRepo) Reserve(ctx context.Context, qx repository.Tx, code string, kind model.CodeKind) error {
	tx, err := asTx(qx)
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.issued[code]; ok {
		return domain.ErrCodeAlreadyExists
	}
	r.s.issued[code] = kind
	tx.onRollback(func() { delete(r.s.issued, code) })
	return nil
}

func (r *IssuedCodeRepo) Existing(ctx context.Context, qx repository.Tx, codes []string) (map[string]model.CodeKind, error) {
	if _, err := asTx(qx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[string]model.CodeKind)
	for _, c := range codes {
		if k, ok := r.s.issued[c]; ok {
			out[c] = k
		}
	}
	return out, nil
}
