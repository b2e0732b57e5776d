package memory

import (
	"context"
	"sort"
	"strings"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/repository"
)

var _ repository.TierRepository = (*TierRepo)(nil)

func cloneTier(t *model.Tier) *model.Tier {
	out := *t
	out.Modules = append([]model.Module(nil), t.Modules...)
	out.Limits = model.Limits{
		MaxSalesReps: clonePtr(t.Limits.MaxSalesReps),
		MaxContacts:  clonePtr(t.Limits.MaxContacts),
		StorageBytes: clonePtr(t.Limits.StorageBytes),
	}
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

type TierRepo struct{ s *Store }

func NewTierRepo(s *Store) *TierRepo { return &TierRepo{s: s} }

func (r *TierRepo) Save(ctx context.Context, qx repository.Tx, tier *model.Tier) error {
	tx, err := asTx(qx)
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, t := range r.s.tiers {
		if id != tier.ID && strings.EqualFold(t.Name, tier.Name) {
			return domain.ErrAlreadyExists
		}
	}
	prev, existed := r.s.tiers[tier.ID]
	r.s.tiers[tier.ID] = cloneTier(tier)
	id := tier.ID
	tx.onRollback(func() {
		if existed {
			r.s.tiers[id] = prev
		} else {
			delete(r.s.tiers, id)
		}
	})
	return nil
}

func (r *TierRepo) FindByID(ctx context.Context, qx repository.Tx, id string) (*model.Tier, error) {
	if _, err := asTx(qx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.tiers[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneTier(t), nil
}

func (r *TierRepo) ListAll(ctx context.Context, qx repository.Tx) ([]*model.Tier, error) {
	if _, err := asTx(qx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	out := make([]*model.Tier, 0, len(r.s.tiers))
	for _, t := range r.s.tiers {
		out = append(out, cloneTier(t))
	}
	r.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price == out[j].Price {
			return out[i].Name < out[j].Name
		}
		return out[i].Price < out[j].Price
	})
	return out, nil
}
