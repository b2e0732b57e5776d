package model

import (
	"fmt"
	"time"

	"crm-licensing/internal/domain"
)

type UsageType string

const (
	UsageOneTime   UsageType = "one-time-use"
	UsageMultiUse  UsageType = "multi-use"
	UsageUnlimited UsageType = "unlimited-use"
)

func (u UsageType) Valid() bool {
	switch u {
	case UsageOneTime, UsageMultiUse, UsageUnlimited:
		return true
	}
	return false
}

// DiscountCode reduces the purchase price of its tier, bounded by a usage cap.
type DiscountCode struct {
	ID                 string
	Code               string
	TierID             string
	Status             CodeStatus
	Source             string
	TrialDays          int
	ExpiresAt          *time.Time
	DiscountPercentage int
	UsageType          UsageType
	MaxUses            int // ignored for unlimited-use
	TimesUsed          int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Cap returns the effective ceiling on TimesUsed and false when there is none.
func (d *DiscountCode) Cap() (int, bool) {
	switch d.UsageType {
	case UsageOneTime:
		return 1, true
	case UsageMultiUse:
		return d.MaxUses, true
	default:
		return 0, false
	}
}

func (d *DiscountCode) Exhausted() bool {
	limit, capped := d.Cap()
	return capped && d.TimesUsed >= limit
}

func (d *DiscountCode) CheckRedeemable(now time.Time) error {
	if d.Status != CodeActive {
		return domain.ErrCodeInactive
	}
	if d.ExpiresAt != nil && !now.Before(*d.ExpiresAt) {
		return domain.ErrCodeExpired
	}
	if d.Exhausted() {
		return domain.ErrCodeUsageExceeded
	}
	return nil
}

// Apply returns price reduced by the discount percentage, rounded down to the minor unit.
func (d *DiscountCode) Apply(price int64) int64 {
	return price - price*int64(d.DiscountPercentage)/100
}

func (d *DiscountCode) Validate() error {
	if d.DiscountPercentage < 0 || d.DiscountPercentage > 100 {
		return fmt.Errorf("discount percentage must be within 0..100: %w", domain.ErrInvalidArgument)
	}
	if !d.UsageType.Valid() {
		return fmt.Errorf("unknown usage type %q: %w", d.UsageType, domain.ErrInvalidArgument)
	}
	if d.UsageType == UsageMultiUse && d.MaxUses <= 0 {
		return fmt.Errorf("multi-use code needs max uses: %w", domain.ErrInvalidArgument)
	}
	if !d.Status.Valid() {
		return fmt.Errorf("unknown code status %q: %w", d.Status, domain.ErrInvalidArgument)
	}
	if d.TrialDays < 0 {
		return fmt.Errorf("trial days must not be negative: %w", domain.ErrInvalidArgument)
	}
	return nil
}
