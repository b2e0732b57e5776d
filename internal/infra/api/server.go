package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/infra/logging"
	"crm-licensing/internal/usecase"
)

// Limiter is a per-key fixed-window admission check.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Deps struct {
	Tiers        *usecase.TierUseCase
	Codes        *usecase.CodeUseCase
	Purchase     *usecase.PurchaseUseCase
	Payments     *usecase.PaymentUseCase
	Lifecycle    *usecase.SubscriptionUseCase
	Entitlements *usecase.EntitlementUseCase
	Auth         *Authenticator

	Limiter         Limiter // nil disables rate limiting
	RedeemPerMinute int
	RequestTimeout  time.Duration
	MaxProofBytes   int64
	Health          map[string]HealthCheck
}

type Server struct {
	d      Deps
	router chi.Router
	log    *zerolog.Logger
}

func NewServer(d Deps, logger *zerolog.Logger) *Server {
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 10 * time.Second
	}
	if d.MaxProofBytes <= 0 {
		d.MaxProofBytes = 10 << 20
	}
	s := &Server{d: d, log: logging.Component(logger, "http")}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.RealIP,
		TraceID(),
		RequestLog(s.log),
		Recover(s.log),
		Timeout(s.d.RequestTimeout),
	)

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/tiers", s.listPublicTiers)
		r.With(s.d.Auth.RequireRole(RoleGateway, RoleAdmin)).Post("/payments/callback", s.paymentCallback)

		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Use(tenantScope)
			r.Post("/purchase", s.purchase)
			r.Get("/entitlements", s.entitlements)
			r.Get("/entitlements/{module}", s.hasModule)
			r.Get("/subscription", s.currentSubscription)
			r.Post("/subscription/cancel", s.cancelSubscription)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.d.Auth.RequireAdmin())

			r.Post("/activation-codes/bulk", s.bulkActivationCodes)
			r.Post("/activation-codes", s.createActivationCode)
			r.Post("/discount-codes", s.createDiscountCode)
			r.Patch("/codes/{code}/status", s.setCodeStatus)

			r.Get("/tiers", s.listTiers)
			r.Post("/tiers", s.createTier)
			r.Get("/tiers/{tierID}", s.getTier)
			r.Put("/tiers/{tierID}", s.updateTier)
			r.Patch("/tiers/{tierID}/status", s.setTierStatus)
			r.Get("/tiers/{tierID}/codes", s.listCodes)

			r.Route("/tenants/{tenantID}", func(r chi.Router) {
				r.Use(tenantScope)
				r.Post("/subscriptions", s.activate)
				r.Get("/subscriptions", s.history)
				r.Get("/invoices", s.invoices)
			})

			r.Post("/subscriptions/{subscriptionID}/cancel", s.cancelByID)
			r.Post("/subscriptions/{subscriptionID}/evaluate", s.evaluate)
			r.Post("/subscriptions/{subscriptionID}/proof", s.uploadProof)
		})
	})
	return r
}

type tenantKey struct{}

// tenantScope parses {tenantID} once and tags the request logger with it.
func tenantScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "tenantID"), 10, 64)
		if err != nil || id <= 0 {
			writeError(w, r, domain.ErrInvalidArgument)
			return
		}
		ctx := logging.WithTenantID(r.Context(), id)
		ctx = context.WithValue(ctx, tenantKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tenantFrom(r *http.Request) int64 {
	id, _ := r.Context().Value(tenantKey{}).(int64)
	return id
}

// fail logs server-side failures before writing the error body.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := classify(err); status >= http.StatusInternalServerError {
		l := logging.With(r.Context(), s.log)
		l.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, r, err)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.d.Health))
	for name, check := range s.d.Health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": checks})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
