package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/usecase"
)

var validate = validator.New()

const maxJSONBody = 1 << 20

// decode reads a JSON body into dst and runs its validate tags.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %v: %w", err, domain.ErrInvalidArgument)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%v: %w", err, domain.ErrInvalidArgument)
	}
	return nil
}

// ---- requests ----

type purchaseRequest struct {
	ActivationCode string `json:"activation_code" validate:"required_without=TierID,max=64"`
	TierID         string `json:"tier_id" validate:"required_without=ActivationCode"`
	DiscountCode   string `json:"discount_code" validate:"max=64"`
	Source         string `json:"source"`
}

type codeFormatRequest struct {
	CodeParts  int    `json:"code_parts" validate:"omitempty,min=1,max=16"`
	PartLength int    `json:"part_length" validate:"omitempty,min=1,max=32"`
	Charset    string `json:"charset"`
}

func (f codeFormatRequest) format() usecase.CodeFormat {
	return usecase.CodeFormat{Parts: f.CodeParts, PartLength: f.PartLength, Charset: f.Charset}
}

type bulkActivationRequest struct {
	codeFormatRequest
	NumberOfCodes int        `json:"number_of_codes" validate:"required,min=1"`
	TierID        string     `json:"tier_id" validate:"required"`
	Status        string     `json:"status" validate:"omitempty,oneof=active inactive"`
	Source        string     `json:"source" validate:"required"`
	TrialDays     int        `json:"trial_days" validate:"min=0"`
	ExpiresAt     *time.Time `json:"expires_at"`
}

type activationCodeRequest struct {
	Code      string     `json:"code" validate:"required,max=64"`
	TierID    string     `json:"tier_id" validate:"required"`
	Status    string     `json:"status" validate:"omitempty,oneof=active inactive"`
	Source    string     `json:"source" validate:"required"`
	TrialDays int        `json:"trial_days" validate:"min=0"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type discountCodeRequest struct {
	codeFormatRequest
	Code               string     `json:"code" validate:"max=64"`
	TierID             string     `json:"tier_id" validate:"required"`
	Status             string     `json:"status" validate:"omitempty,oneof=active inactive"`
	Source             string     `json:"source" validate:"required"`
	TrialDays          int        `json:"trial_days" validate:"min=0"`
	ExpiresAt          *time.Time `json:"expires_at"`
	DiscountPercentage int        `json:"discount_percentage" validate:"min=1,max=100"`
	UsageType          string     `json:"usage_type" validate:"omitempty,oneof=one-time-use multi-use unlimited-use"`
	MaxUses            int        `json:"max_uses" validate:"min=0"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=active inactive"`
}

type tierRequest struct {
	Name             string         `json:"name" validate:"required,max=128"`
	Price            int64          `json:"price" validate:"min=0"`
	Duration         model.Duration `json:"duration"`
	RefundPeriodDays int            `json:"refund_period_days" validate:"min=0"`
	Limits           model.Limits   `json:"limits"`
	Modules          []string       `json:"modules" validate:"dive,required"`
	Availability     string         `json:"availability" validate:"omitempty,oneof=public private"`
}

func (t tierRequest) input() usecase.TierInput {
	return usecase.TierInput{
		Name:             t.Name,
		Price:            t.Price,
		Duration:         t.Duration,
		RefundPeriodDays: t.RefundPeriodDays,
		Limits:           t.Limits,
		Modules:          t.Modules,
		Availability:     model.TierAvailability(t.Availability),
	}
}

type activationRequest struct {
	TierID    string `json:"tier_id" validate:"required"`
	TrialDays int    `json:"trial_days" validate:"min=0"`
	Method    string `json:"method" validate:"omitempty,oneof=api manual stripe"`
	Source    string `json:"source"`
	AutoRenew bool   `json:"auto_renew"`
	Note      string `json:"note" validate:"max=512"`
}

type cancelRequest struct {
	Note string `json:"note" validate:"max=512"`
}

type paymentCallbackRequest struct {
	TenantID       int64  `json:"tenant_id" validate:"required,gt=0"`
	SubscriptionID string `json:"subscription_id" validate:"required"`
	Outcome        string `json:"outcome" validate:"required,oneof=success failure"`
	Amount         int64  `json:"amount" validate:"min=0"`
}

// ---- responses ----

type subscriptionView struct {
	ID               string     `json:"id"`
	TenantID         int64      `json:"tenant_id"`
	TierID           string     `json:"tier_id"`
	StartAt          time.Time  `json:"start_at"`
	EndAt            *time.Time `json:"end_at"`
	Status           string     `json:"status"`
	PaymentStatus    string     `json:"payment_status"`
	ActivationMethod string     `json:"activation_method"`
	AutoRenew        bool       `json:"auto_renew"`
	Source           string     `json:"source,omitempty"`
	ProofPath        string     `json:"proof_path,omitempty"`
	Note             string     `json:"note,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func subscriptionOf(s *model.Subscription) *subscriptionView {
	if s == nil {
		return nil
	}
	return &subscriptionView{
		ID:               s.ID,
		TenantID:         s.TenantID,
		TierID:           s.TierID,
		StartAt:          s.StartAt,
		EndAt:            s.EndAt,
		Status:           string(s.Status),
		PaymentStatus:    string(s.PaymentStatus),
		ActivationMethod: string(s.ActivationMethod),
		AutoRenew:        s.AutoRenew,
		Source:           s.Source,
		ProofPath:        s.ProofPath,
		Note:             s.Note,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

type invoiceView struct {
	ID             string    `json:"id"`
	Number         string    `json:"number"`
	SubscriptionID string    `json:"subscription_id"`
	TenantID       int64     `json:"tenant_id"`
	Amount         int64     `json:"amount"`
	Status         string    `json:"status"`
	DueDate        time.Time `json:"due_date"`
	CreatedAt      time.Time `json:"created_at"`
}

func invoiceOf(inv *model.Invoice) *invoiceView {
	if inv == nil {
		return nil
	}
	return &invoiceView{
		ID:             inv.ID,
		Number:         inv.Number,
		SubscriptionID: inv.SubscriptionID,
		TenantID:       inv.TenantID,
		Amount:         inv.Amount,
		Status:         string(inv.Status),
		DueDate:        inv.DueDate,
		CreatedAt:      inv.CreatedAt,
	}
}

type activationCodeView struct {
	Code             string     `json:"code"`
	TierID           string     `json:"tier_id"`
	Status           string     `json:"status"`
	Source           string     `json:"source"`
	TrialDays        int        `json:"trial_days"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	UsedAt           *time.Time `json:"used_at,omitempty"`
	RedeemedByTenant *int64     `json:"redeemed_by_tenant,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func activationCodeOf(c *model.ActivationCode) activationCodeView {
	return activationCodeView{
		Code:             c.Code,
		TierID:           c.TierID,
		Status:           string(c.Status),
		Source:           c.Source,
		TrialDays:        c.TrialDays,
		ExpiresAt:        c.ExpiresAt,
		UsedAt:           c.UsedAt,
		RedeemedByTenant: c.RedeemedByTenant,
		CreatedAt:        c.CreatedAt,
	}
}

type discountCodeView struct {
	Code               string     `json:"code"`
	TierID             string     `json:"tier_id"`
	Status             string     `json:"status"`
	Source             string     `json:"source"`
	TrialDays          int        `json:"trial_days"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	DiscountPercentage int        `json:"discount_percentage"`
	UsageType          string     `json:"usage_type"`
	MaxUses            int        `json:"max_uses"`
	TimesUsed          int        `json:"times_used"`
	CreatedAt          time.Time  `json:"created_at"`
}

func discountCodeOf(c *model.DiscountCode) discountCodeView {
	return discountCodeView{
		Code:               c.Code,
		TierID:             c.TierID,
		Status:             string(c.Status),
		Source:             c.Source,
		TrialDays:          c.TrialDays,
		ExpiresAt:          c.ExpiresAt,
		DiscountPercentage: c.DiscountPercentage,
		UsageType:          string(c.UsageType),
		MaxUses:            c.MaxUses,
		TimesUsed:          c.TimesUsed,
		CreatedAt:          c.CreatedAt,
	}
}

type redemptionView struct {
	Code               string `json:"code"`
	Kind               string `json:"kind"`
	TierID             string `json:"tier_id"`
	TrialDays          int    `json:"trial_days,omitempty"`
	DiscountPercentage int    `json:"discount_percentage,omitempty"`
}

type purchaseView struct {
	Subscription *subscriptionView `json:"subscription"`
	Redemption   *redemptionView   `json:"redemption,omitempty"`
	Invoice      *invoiceView      `json:"invoice,omitempty"`
	AmountDue    int64             `json:"amount_due"`
}

func purchaseOf(res *usecase.PurchaseResult) purchaseView {
	out := purchaseView{
		Subscription: subscriptionOf(res.Subscription),
		Invoice:      invoiceOf(res.Invoice),
		AmountDue:    res.AmountDue,
	}
	if r := res.Redemption; r != nil {
		out.Redemption = &redemptionView{
			Code:               r.Code,
			Kind:               string(r.Kind),
			TierID:             r.TierID,
			TrialDays:          r.TrialDays,
			DiscountPercentage: r.DiscountPercentage,
		}
	}
	return out
}

type paymentView struct {
	Subscription *subscriptionView `json:"subscription"`
	Invoice      *invoiceView      `json:"invoice,omitempty"`
}

type codeListingView struct {
	Activation []activationCodeView `json:"activation_codes"`
	Discount   []discountCodeView   `json:"discount_codes"`
}

type moduleCheckView struct {
	TenantID int64  `json:"tenant_id"`
	Module   string `json:"module"`
	Allowed  bool   `json:"allowed"`
}
