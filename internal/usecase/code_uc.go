package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/repository"
	"crm-licensing/internal/infra/logging"
	"crm-licensing/internal/infra/metrics"
)

// BulkActivationRequest asks for Count fresh activation codes for one tier.
type BulkActivationRequest struct {
	Count     int
	Format    CodeFormat
	TierID    string
	Status    model.CodeStatus
	Source    string
	TrialDays int
	ExpiresAt *time.Time
}

// ActivationCodeInput creates a single activation code with a chosen value.
type ActivationCodeInput struct {
	Code      string
	TierID    string
	Status    model.CodeStatus
	Source    string
	TrialDays int
	ExpiresAt *time.Time
}

// DiscountCodeInput creates a discount code; an empty Code is generated with Format.
type DiscountCodeInput struct {
	Code               string
	Format             CodeFormat
	TierID             string
	Status             model.CodeStatus
	Source             string
	TrialDays          int
	ExpiresAt          *time.Time
	DiscountPercentage int
	UsageType          model.UsageType
	MaxUses            int
}

// CodeListing is one page of a tier's codes in both namespaces.
type CodeListing struct {
	Activation []*model.ActivationCode
	Discount   []*model.DiscountCode
}

// CodeUseCase is code administration: issuing, status changes and listing.
type CodeUseCase struct {
	activation repository.ActivationCodeRepository
	discount   repository.DiscountCodeRepository
	issued     repository.IssuedCodeRepository
	gen        *CodeGenerator
	tiers      *TierUseCase
	tm         repository.TransactionManager
	policy     model.CodePolicy
	now        func() time.Time
	log        *zerolog.Logger
}

func NewCodeUseCase(
	activation repository.ActivationCodeRepository,
	discount repository.DiscountCodeRepository,
	issued repository.IssuedCodeRepository,
	tiers *TierUseCase,
	tm repository.TransactionManager,
	policy model.CodePolicy,
	logger *zerolog.Logger,
) *CodeUseCase {
	return &CodeUseCase{
		activation: activation,
		discount:   discount,
		issued:     issued,
		gen:        NewCodeGenerator(issued, policy),
		tiers:      tiers,
		tm:         tm,
		policy:     policy,
		now:        time.Now,
		log:        logging.Component(logger, "code_uc"),
	}
}

func (uc *CodeUseCase) WithClock(now func() time.Time) *CodeUseCase {
	uc.now = now
	return uc
}

func (uc *CodeUseCase) checkCommon(ctx context.Context, tx repository.Tx, tierID, source string, status model.CodeStatus, trialDays int, expiresAt *time.Time) error {
	if err := uc.policy.CheckSource(source); err != nil {
		return err
	}
	if !status.Valid() {
		return fmt.Errorf("unknown code status %q: %w", status, domain.ErrInvalidArgument)
	}
	if trialDays < 0 {
		return fmt.Errorf("trial days must not be negative: %w", domain.ErrInvalidArgument)
	}
	if expiresAt != nil && !expiresAt.After(uc.now()) {
		return fmt.Errorf("expiry must be in the future: %w", domain.ErrInvalidArgument)
	}
	_, err := uc.tiers.resolvePurchasable(ctx, tx, tierID)
	return err
}

func defaultStatus(s model.CodeStatus) model.CodeStatus {
	if s == "" {
		return model.CodeActive
	}
	return s
}

// reserveGenerated claims codes in the issued-code table, replacing any that
// another writer claimed after generation.
func (uc *CodeUseCase) reserveGenerated(ctx context.Context, tx repository.Tx, codes []string, kind model.CodeKind, format CodeFormat) ([]string, error) {
	out := make([]string, 0, len(codes))
	pending := codes
	for tries := 0; len(pending) > 0; tries++ {
		var lost int
		for _, c := range pending {
			err := uc.issued.Reserve(ctx, tx, c, kind)
			if errors.Is(err, domain.ErrCodeAlreadyExists) {
				lost++
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		if lost == 0 {
			break
		}
		if tries >= uc.gen.retries {
			return nil, domain.ErrGenerationExhausted
		}
		metrics.IncGenerationCollision()
		var err error
		if pending, err = uc.gen.Generate(ctx, tx, lost, format); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GenerateActivationCodes issues req.Count new activation codes in one transaction.
func (uc *CodeUseCase) GenerateActivationCodes(ctx context.Context, req BulkActivationRequest) ([]*model.ActivationCode, error) {
	defer logging.TraceDuration(uc.log, "CodeUC.GenerateActivationCodes")()

	if req.Count < 1 {
		return nil, fmt.Errorf("count must be positive: %w", domain.ErrInvalidArgument)
	}
	if uc.policy.MaxBatch > 0 && req.Count > uc.policy.MaxBatch {
		return nil, fmt.Errorf("count %d exceeds batch limit %d: %w", req.Count, uc.policy.MaxBatch, domain.ErrInvalidArgument)
	}
	req.Status = defaultStatus(req.Status)
	req.Source = strings.ToLower(strings.TrimSpace(req.Source))

	var out []*model.ActivationCode
	err := uc.tm.WithTx(ctx, txOpts(), func(ctx context.Context, tx repository.Tx) error {
		if err := uc.checkCommon(ctx, tx, req.TierID, req.Source, req.Status, req.TrialDays, req.ExpiresAt); err != nil {
			return err
		}
		codes, err := uc.gen.Generate(ctx, tx, req.Count, req.Format)
		if err != nil {
			return err
		}
		if codes, err = uc.reserveGenerated(ctx, tx, codes, model.CodeKindActivation, req.Format); err != nil {
			return err
		}
		now := uc.now()
		out = make([]*model.ActivationCode, 0, len(codes))
		for _, c := range codes {
			ac := &model.ActivationCode{
				ID:        uuid.NewString(),
				Code:      c,
				TierID:    req.TierID,
				Status:    req.Status,
				Source:    req.Source,
				TrialDays: req.TrialDays,
				ExpiresAt: req.ExpiresAt,
				CreatedAt: now,
			}
			if err := uc.activation.Create(ctx, tx, ac); err != nil {
				return err
			}
			out = append(out, ac)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.AddCodesGenerated(string(model.CodeKindActivation), len(out))
	uc.log.Info().Int("count", len(out)).Str("tier_id", req.TierID).Str("source", req.Source).Msg("activation codes generated")
	return out, nil
}

func checkManualCode(code string) error {
	if code == "" {
		return fmt.Errorf("code is required: %w", domain.ErrInvalidArgument)
	}
	if len(code) > maxCodeChars+maxCodeChars/2 || strings.ContainsAny(code, " \t\r\n") {
		return fmt.Errorf("code has an invalid shape: %w", domain.ErrInvalidArgument)
	}
	return nil
}

// CreateActivationCode issues one activation code with an admin-chosen value.
func (uc *CodeUseCase) CreateActivationCode(ctx context.Context, in ActivationCodeInput) (*model.ActivationCode, error) {
	code := model.NormalizeCode(in.Code)
	if err := checkManualCode(code); err != nil {
		return nil, err
	}
	in.Status = defaultStatus(in.Status)
	in.Source = strings.ToLower(strings.TrimSpace(in.Source))

	ac := &model.ActivationCode{
		ID:        uuid.NewString(),
		Code:      code,
		TierID:    in.TierID,
		Status:    in.Status,
		Source:    in.Source,
		TrialDays: in.TrialDays,
		ExpiresAt: in.ExpiresAt,
	}
	err := uc.tm.WithTx(ctx, txOpts(), func(ctx context.Context, tx repository.Tx) error {
		if err := uc.checkCommon(ctx, tx, in.TierID, in.Source, in.Status, in.TrialDays, in.ExpiresAt); err != nil {
			return err
		}
		if err := uc.issued.Reserve(ctx, tx, code, model.CodeKindActivation); err != nil {
			return err
		}
		ac.CreatedAt = uc.now()
		return uc.activation.Create(ctx, tx, ac)
	})
	if err != nil {
		return nil, err
	}
	metrics.AddCodesGenerated(string(model.CodeKindActivation), 1)
	return ac, nil
}

// CreateDiscountCode issues one discount code, generating its value when none is given.
func (uc *CodeUseCase) CreateDiscountCode(ctx context.Context, in DiscountCodeInput) (*model.DiscountCode, error) {
	defer logging.TraceDuration(uc.log, "CodeUC.CreateDiscountCode")()

	code := model.NormalizeCode(in.Code)
	if code != "" {
		if err := checkManualCode(code); err != nil {
			return nil, err
		}
	}
	now := uc.now()
	dc := &model.DiscountCode{
		ID:                 uuid.NewString(),
		TierID:             in.TierID,
		Status:             defaultStatus(in.Status),
		Source:             strings.ToLower(strings.TrimSpace(in.Source)),
		TrialDays:          in.TrialDays,
		ExpiresAt:          in.ExpiresAt,
		DiscountPercentage: in.DiscountPercentage,
		UsageType:          in.UsageType,
		MaxUses:            in.MaxUses,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if dc.UsageType == "" {
		dc.UsageType = model.UsageOneTime
	}
	if dc.UsageType != model.UsageMultiUse {
		dc.MaxUses = 0
	}
	if err := dc.Validate(); err != nil {
		return nil, err
	}

	err := uc.tm.WithTx(ctx, txOpts(), func(ctx context.Context, tx repository.Tx) error {
		if err := uc.checkCommon(ctx, tx, dc.TierID, dc.Source, dc.Status, dc.TrialDays, dc.ExpiresAt); err != nil {
			return err
		}
		if code != "" {
			if err := uc.issued.Reserve(ctx, tx, code, model.CodeKindDiscount); err != nil {
				return err
			}
			dc.Code = code
		} else {
			codes, err := uc.gen.Generate(ctx, tx, 1, in.Format)
			if err != nil {
				return err
			}
			if codes, err = uc.reserveGenerated(ctx, tx, codes, model.CodeKindDiscount, in.Format); err != nil {
				return err
			}
			dc.Code = codes[0]
		}
		return uc.discount.Create(ctx, tx, dc)
	})
	if err != nil {
		return nil, err
	}
	metrics.AddCodesGenerated(string(model.CodeKindDiscount), 1)
	uc.log.Info().Str("tier_id", dc.TierID).Str("usage_type", string(dc.UsageType)).
		Int("discount_percentage", dc.DiscountPercentage).Msg("discount code created")
	return dc, nil
}

// SetCodeStatus activates or deactivates a code in whichever namespace holds it.
func (uc *CodeUseCase) SetCodeStatus(ctx context.Context, code string, status model.CodeStatus) (model.CodeKind, error) {
	code = model.NormalizeCode(code)
	if !status.Valid() {
		return "", fmt.Errorf("unknown code status %q: %w", status, domain.ErrInvalidArgument)
	}
	var kind model.CodeKind
	err := uc.tm.WithTx(ctx, txOpts(), func(ctx context.Context, tx repository.Tx) error {
		err := uc.activation.UpdateStatus(ctx, tx, code, status)
		if err == nil {
			kind = model.CodeKindActivation
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		err = uc.discount.UpdateStatus(ctx, tx, code, status)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrCodeNotFound
		}
		if err == nil {
			kind = model.CodeKindDiscount
		}
		return err
	})
	if err != nil {
		return "", err
	}
	uc.log.Info().Str("code", logging.Redact(code, false)).Str("kind", string(kind)).Str("status", string(status)).Msg("code status changed")
	return kind, nil
}

func (uc *CodeUseCase) ListCodes(ctx context.Context, tierID string, limit, offset int) (*CodeListing, error) {
	if _, err := uc.tiers.Get(ctx, tierID); err != nil {
		return nil, err
	}
	acts, err := uc.activation.ListByTier(ctx, repository.NoTX, tierID, limit, offset)
	if err != nil {
		return nil, err
	}
	discs, err := uc.discount.ListByTier(ctx, repository.NoTX, tierID, limit, offset)
	if err != nil {
		return nil, err
	}
	return &CodeListing{Activation: acts, Discount: discs}, nil
}
