package model

import "time"

// Entitlements is the effective module set and limits for a tenant.
type Entitlements struct {
	TenantID int64              `json:"tenant_id"`
	TierID   string             `json:"tier_id,omitempty"`
	Status   SubscriptionStatus `json:"status,omitempty"`
	Modules  []Module           `json:"modules"`
	Limits   Limits             `json:"limits"`
	EndAt    *time.Time         `json:"end_at,omitempty"`
	Free     bool               `json:"free"`
}

func (e *Entitlements) Has(m Module) bool {
	for _, x := range e.Modules {
		if x == m {
			return true
		}
	}
	return false
}

// FreePlan is the entitlement set granted to tenants without a live paid tier.
type FreePlan struct {
	Modules []Module
	Limits  Limits
}

func (f FreePlan) For(tenantID int64) *Entitlements {
	mods := make([]Module, len(f.Modules))
	copy(mods, f.Modules)
	return &Entitlements{TenantID: tenantID, Modules: mods, Limits: f.Limits, Free: true}
}

// RedemptionResult is what a successful redemption hands back to the caller.
type RedemptionResult struct {
	Code               string
	Kind               CodeKind
	TenantID           int64
	TierID             string
	TrialDays          int
	DiscountPercentage int
	SubscriptionID     string
	Subscription       *Subscription
}

// TenantState is the cached projection of a tenant's current subscription.
type TenantState struct {
	TenantID  int64              `json:"tenant_id"`
	TierID    string             `json:"tier_id,omitempty"`
	Status    SubscriptionStatus `json:"status,omitempty"`
	EndAt     *time.Time         `json:"end_at,omitempty"`
	AutoRenew bool               `json:"auto_renew,omitempty"`
}

func StateOf(tenantID int64, sub *Subscription) *TenantState {
	st := &TenantState{TenantID: tenantID}
	if sub != nil {
		st.TierID = sub.TierID
		st.Status = sub.Status
		st.AutoRenew = sub.AutoRenew
		if sub.EndAt != nil {
			end := *sub.EndAt
			st.EndAt = &end
		}
	}
	return st
}

// GrantsAccessAt reports whether the projected subscription unlocks its tier
// at now. An active auto-renewing term keeps access until end+grace, which is
// when the sweeper suspends it.
func (s *TenantState) GrantsAccessAt(now time.Time, grace time.Duration) bool {
	if s == nil || s.TierID == "" || !s.Status.GrantsAccess() {
		return false
	}
	if s.EndAt == nil {
		return true
	}
	cutoff := *s.EndAt
	if s.AutoRenew && s.Status == SubscriptionStatusActive {
		cutoff = cutoff.Add(grace)
	}
	return now.Before(cutoff)
}
