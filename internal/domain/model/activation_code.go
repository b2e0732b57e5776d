package model

import (
	"strings"
	"time"

	"crm-licensing/internal/domain"
)

type CodeStatus string

const (
	CodeActive   CodeStatus = "active"
	CodeInactive CodeStatus = "inactive"
)

func (s CodeStatus) Valid() bool { return s == CodeActive || s == CodeInactive }

// CodeKind names the namespace a code was issued in.
type CodeKind string

const (
	CodeKindActivation CodeKind = "activation"
	CodeKindDiscount   CodeKind = "discount"
)

// NormalizeCode trims and upper-cases user input before lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ActivationCode is a single-use code that grants a tier subscription directly.
type ActivationCode struct {
	ID               string
	Code             string
	TierID           string
	Status           CodeStatus
	Source           string
	TrialDays        int
	ExpiresAt        *time.Time // nil never expires
	UsedAt           *time.Time // nil until redeemed
	RedeemedByTenant *int64
	CreatedAt        time.Time
}

func (c *ActivationCode) IsUsed() bool { return c.UsedAt != nil }

// CheckRedeemable reports why the code cannot be consumed at now, if anything.
func (c *ActivationCode) CheckRedeemable(now time.Time) error {
	if c.Status != CodeActive {
		return domain.ErrCodeInactive
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return domain.ErrCodeExpired
	}
	if c.UsedAt != nil {
		return domain.ErrCodeAlreadyUsed
	}
	return nil
}
