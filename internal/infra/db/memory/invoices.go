package memory

import (
	"context"
	"sort"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/repository"
)

var _ repository.InvoiceRepository = (*InvoiceRepo)(nil)

type InvoiceRepo struct{ s *Store }

func NewInvoiceRepo(s *Store) *InvoiceRepo { return &InvoiceRepo{s: s} }

func (r *InvoiceRepo) Save(ctx context.Context, qx repository.Tx, inv *model.Invoice) error {
	tx, err := asTx(qx)
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, existed := r.s.invoices[inv.ID]
	cp := *inv
	r.s.invoices[inv.ID] = &cp
	id := inv.ID
	tx.onRollback(func() {
		if existed {
			r.s.invoices[id] = prev
		} else {
			delete(r.s.invoices, id)
		}
	})
	return nil
}

func (r *InvoiceRepo) FindPendingBySubscription(ctx context.Context, qx repository.Tx, subscriptionID string) (*model.Invoice, error) {
	if _, err := asTx(qx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var found *model.Invoice
	for _, inv := range r.s.invoices {
		if inv.SubscriptionID == subscriptionID && inv.Status == model.InvoicePending {
			if found == nil || inv.CreatedAt.After(found.CreatedAt) {
				found = inv
			}
		}
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (r *InvoiceRepo) ListByTenant(ctx context.Context, qx repository.Tx, tenantID int64, limit, offset int) ([]*model.Invoice, error) {
	if _, err := asTx(qx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	out := make([]*model.Invoice, 0)
	for _, inv := range r.s.invoices {
		if inv.TenantID == tenantID {
			cp := *inv
			out = append(out, &cp)
		}
	}
	r.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	return paginate(out, limit, offset), nil
}
