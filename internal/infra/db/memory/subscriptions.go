package memory

import (
	"context"
	"sort"
	"time"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/repository"
)

var _ repository.SubscriptionRepository = (*SubscriptionRepo)(nil)

type SubscriptionRepo struct{ s *Store }

func NewSubscriptionRepo(s *Store) *SubscriptionRepo { return &SubscriptionRepo{s: s} }

func (r *SubscriptionRepo) LockTenant(ctx context.Context, qx repository.Tx, tenantID int64) error {
	tx, err := asTx(qx)
	if err != nil {
		return err
	}
	return r.s.lockTenant(ctx, tx, tenantID)
}

func (r *SubscriptionRepo) Save(ctx context.Context, qx repository.Tx, sub *model.Subscription) error {
	tx, err := asTx(qx)
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sub.Status.IsLive() {
		for id, other := range r.s.subs {
			if id != sub.ID && other.TenantID == sub.TenantID && other.Status.IsLive() {
				return domain.ErrAlreadyExists
			}
		}
	}
	prev, existed := r.s.subs[sub.ID]
	r.s.subs[sub.ID] = sub.Clone()
	id := sub.ID
	tx.onRollback(func() {
		if existed {
			r.s.subs[id] = prev
		} else {
			delete(r.s.subs, id)
		}
	})
	return nil
}

func (r *SubscriptionRepo) FindByID(ctx context.Context, qx repository.Tx, id string) (*model.Subscription, error) {
	if _, err := asTx(qx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sub, ok := r.s.subs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return sub.Clone(), nil
}

func (r *SubscriptionRepo) FindLiveByTenant(ctx context.Context, qx repository.Tx, tenantID int64) (*model.Subscription, error) {
	if _, err := asTx(qx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, sub := range r.s.subs {
		if sub.TenantID == tenantID && sub.Status.IsLive() {
			return sub.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *SubscriptionRepo) ListByTenant(ctx context.Context, qx repository.Tx, tenantID int64) ([]*model.Subscription, error) {
	if _, err := asTx(qx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	out := make([]*model.Subscription, 0)
	for _, sub := range r.s.subs {
		if sub.TenantID == tenantID {
			out = append(out, sub.Clone())
		}
	}
	r.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *SubscriptionRepo) HasPaidHistory(ctx context.Context, qx repository.Tx, tenantID int64) (bool, error) {
	if _, err := asTx(qx); err != nil {
		return false, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, sub := range r.s.subs {
		if sub.TenantID == tenantID && sub.PaymentStatus == model.PaymentPaid {
			return true, nil
		}
	}
	return false, nil
}

func (r *SubscriptionRepo) ListDue(ctx context.Context, qx repository.Tx, now time.Time, grace time.Duration, limit int) ([]*model.Subscription, error) {
	if _, err := asTx(qx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	out := make([]*model.Subscription, 0)
	for _, sub := range r.s.subs {
		if isDue(sub, now, grace) {
			out = append(out, sub.Clone())
		}
	}
	r.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].EndAt.Before(*out[j].EndAt) })
	return paginate(out, limit, 0), nil
}

func isDue(sub *model.Subscription, now time.Time, grace time.Duration) bool {
	if sub.EndAt == nil {
		return false
	}
	switch sub.Status {
	case model.SubscriptionStatusTrial:
		return !now.Before(*sub.EndAt)
	case model.SubscriptionStatusActive:
		if sub.AutoRenew {
			return !now.Before(sub.EndAt.Add(grace))
		}
		return !now.Before(*sub.EndAt)
	}
	return false
}
