package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/usecase"
)

func (s *Server) bulkActivationCodes(w http.ResponseWriter, r *http.Request) {
	var req bulkActivationRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	codes, err := s.d.Codes.GenerateActivationCodes(r.Context(), usecase.BulkActivationRequest{
		Count:     req.NumberOfCodes,
		Format:    req.format(),
		TierID:    req.TierID,
		Status:    model.CodeStatus(req.Status),
		Source:    req.Source,
		TrialDays: req.TrialDays,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]activationCodeView, 0, len(codes))
	for _, c := range codes {
		out = append(out, activationCodeOf(c))
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) createActivationCode(w http.ResponseWriter, r *http.Request) {
	var req activationCodeRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ac, err := s.d.Codes.CreateActivationCode(r.Context(), usecase.ActivationCodeInput{
		Code:      req.Code,
		TierID:    req.TierID,
		Status:    model.CodeStatus(req.Status),
		Source:    req.Source,
		TrialDays: req.TrialDays,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, activationCodeOf(ac))
}

func (s *Server) createDiscountCode(w http.ResponseWriter, r *http.Request) {
	var req discountCodeRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	dc, err := s.d.Codes.CreateDiscountCode(r.Context(), usecase.DiscountCodeInput{
		Code:               req.Code,
		Format:             req.format(),
		TierID:             req.TierID,
		Status:             model.CodeStatus(req.Status),
		Source:             req.Source,
		TrialDays:          req.TrialDays,
		ExpiresAt:          req.ExpiresAt,
		DiscountPercentage: req.DiscountPercentage,
		UsageType:          model.UsageType(req.UsageType),
		MaxUses:            req.MaxUses,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, discountCodeOf(dc))
}

func (s *Server) setCodeStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	code := model.NormalizeCode(chi.URLParam(r, "code"))
	kind, err := s.d.Codes.SetCodeStatus(r.Context(), code, model.CodeStatus(req.Status))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": code, "kind": string(kind), "status": req.Status})
}

func (s *Server) listCodes(w http.ResponseWriter, r *http.Request) {
	list, err := s.d.Codes.ListCodes(r.Context(), chi.URLParam(r, "tierID"), queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := codeListingView{
		Activation: make([]activationCodeView, 0, len(list.Activation)),
		Discount:   make([]discountCodeView, 0, len(list.Discount)),
	}
	for _, c := range list.Activation {
		out.Activation = append(out.Activation, activationCodeOf(c))
	}
	for _, c := range list.Discount {
		out.Discount = append(out.Discount, discountCodeOf(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := s.d.Tiers.ListAll(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tiers)
}

func (s *Server) getTier(w http.ResponseWriter, r *http.Request) {
	tier, err := s.d.Tiers.Get(r.Context(), chi.URLParam(r, "tierID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tier)
}

func (s *Server) createTier(w http.ResponseWriter, r *http.Request) {
	var req tierRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	tier, err := s.d.Tiers.Create(r.Context(), req.input())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tier)
}

func (s *Server) updateTier(w http.ResponseWriter, r *http.Request) {
	var req tierRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	tier, err := s.d.Tiers.Update(r.Context(), chi.URLParam(r, "tierID"), req.input())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tier)
}

func (s *Server) setTierStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	tier, err := s.d.Tiers.SetStatus(r.Context(), chi.URLParam(r, "tierID"), model.TierStatus(req.Status))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tier)
}

func (s *Server) activate(w http.ResponseWriter, r *http.Request) {
	var req activationRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	method := model.ActivationMethod(req.Method)
	if method == "" {
		method = model.ActivationManual
	}
	sub, err := s.d.Lifecycle.Activate(r.Context(), usecase.ActivationInput{
		TenantID:  tenantFrom(r),
		TierID:    req.TierID,
		TrialDays: req.TrialDays,
		Method:    method,
		Source:    req.Source,
		AutoRenew: req.AutoRenew,
		Note:      req.Note,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, subscriptionOf(sub))
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	subs, err := s.d.Lifecycle.History(r.Context(), tenantFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]*subscriptionView, 0, len(subs))
	for _, sub := range subs {
		out = append(out, subscriptionOf(sub))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) invoices(w http.ResponseWriter, r *http.Request) {
	invs, err := s.d.Lifecycle.Invoices(r.Context(), tenantFrom(r), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]*invoiceView, 0, len(invs))
	for _, inv := range invs {
		out = append(out, invoiceOf(inv))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) cancelByID(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	sub, err := s.d.Lifecycle.CancelByID(r.Context(), chi.URLParam(r, "subscriptionID"), req.Note)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionOf(sub))
}

func (s *Server) evaluate(w http.ResponseWriter, r *http.Request) {
	sub, err := s.d.Lifecycle.Evaluate(r.Context(), chi.URLParam(r, "subscriptionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionOf(sub))
}

// uploadProof accepts a multipart "file" part no larger than MaxProofBytes.
func (s *Server) uploadProof(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.d.MaxProofBytes+(1<<20))
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, errPayloadTooLarge)
			return
		}
		s.fail(w, r, errors.Join(domain.ErrInvalidArgument, err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		s.fail(w, r, errors.Join(domain.ErrInvalidArgument, err))
		return
	}
	defer file.Close()
	if hdr.Size > s.d.MaxProofBytes {
		writeError(w, r, errPayloadTooLarge)
		return
	}
	ct := hdr.Header.Get("Content-Type")
	if ct == "" || strings.HasPrefix(ct, "multipart/") {
		ct = "application/octet-stream"
	}

	sub, err := s.d.Lifecycle.AttachProof(r.Context(), chi.URLParam(r, "subscriptionID"), hdr.Filename, file, hdr.Size, ct)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionOf(sub))
}
