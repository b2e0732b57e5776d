package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/infra/logging"
	"crm-licensing/internal/infra/redis"
	"crm-licensing/internal/usecase"
)

func (s *Server) listPublicTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := s.d.Tiers.ListPublic(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tiers)
}

// allowPurchase applies the per-tenant purchase limit. Limiter failures
// admit the request.
func (s *Server) allowPurchase(r *http.Request, tenantID int64) bool {
	if s.d.Limiter == nil || s.d.RedeemPerMinute <= 0 {
		return true
	}
	ok, err := s.d.Limiter.Allow(r.Context(), redis.TenantActionKey(tenantID, "purchase"), s.d.RedeemPerMinute, time.Minute)
	if err != nil {
		l := logging.With(r.Context(), s.log)
		l.Warn().Err(err).Msg("rate limiter unavailable")
		return true
	}
	return ok
}

func (s *Server) purchase(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)
	if !s.allowPurchase(r, tenantID) {
		writeError(w, r, errRateLimited)
		return
	}
	var req purchaseRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.d.Purchase.BuyTier(r.Context(), usecase.PurchaseRequest{
		TenantID:       tenantID,
		ActivationCode: req.ActivationCode,
		TierID:         req.TierID,
		DiscountCode:   req.DiscountCode,
		Source:         req.Source,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Invoice != nil && res.Invoice.Status == model.InvoicePending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, purchaseOf(res))
}

func (s *Server) entitlements(w http.ResponseWriter, r *http.Request) {
	ent, err := s.d.Entitlements.Entitlements(r.Context(), tenantFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ent)
}

func (s *Server) hasModule(w http.ResponseWriter, r *http.Request) {
	mod, err := model.ParseModule(chi.URLParam(r, "module"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tenantID := tenantFrom(r)
	ok, err := s.d.Entitlements.HasModule(r.Context(), tenantID, mod)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, moduleCheckView{TenantID: tenantID, Module: string(mod), Allowed: ok})
}

func (s *Server) currentSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.d.Lifecycle.Current(r.Context(), tenantFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionOf(sub))
}

func (s *Server) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	sub, err := s.d.Lifecycle.Cancel(r.Context(), tenantFrom(r), req.Note)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionOf(sub))
}

func (s *Server) paymentCallback(w http.ResponseWriter, r *http.Request) {
	var req paymentCallbackRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ctx := logging.WithTenantID(r.Context(), req.TenantID)
	res, err := s.d.Payments.HandleCallback(ctx, usecase.PaymentCallback{
		TenantID:       req.TenantID,
		SubscriptionID: req.SubscriptionID,
		Outcome:        usecase.PaymentOutcome(req.Outcome),
		Amount:         req.Amount,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentView{Subscription: subscriptionOf(res.Subscription), Invoice: invoiceOf(res.Invoice)})
}
