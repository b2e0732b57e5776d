package model

import (
	"fmt"
	"strings"
	"time"

	"crm-licensing/internal/domain"

	"github.com/google/uuid"
)

type DurationUnit string

const (
	DurationDays     DurationUnit = "days"
	DurationMonths   DurationUnit = "months"
	DurationYears    DurationUnit = "years"
	DurationLifetime DurationUnit = "lifetime"
)

// Duration is a calendar-aware subscription term.
type Duration struct {
	Amount int          `json:"amount"`
	Unit   DurationUnit `json:"unit"`
}

func (d Duration) IsLifetime() bool { return d.Unit == DurationLifetime }

func (d Duration) Validate() error {
	switch d.Unit {
	case DurationLifetime:
		return nil
	case DurationDays, DurationMonths, DurationYears:
		if d.Amount <= 0 {
			return fmt.Errorf("duration amount must be positive: %w", domain.ErrInvalidArgument)
		}
		return nil
	default:
		return fmt.Errorf("unknown duration unit %q: %w", d.Unit, domain.ErrInvalidArgument)
	}
}

// EndFrom returns start advanced by the duration; nil means the term never ends.
func (d Duration) EndFrom(start time.Time) *time.Time {
	var end time.Time
	switch d.Unit {
	case DurationDays:
		end = start.AddDate(0, 0, d.Amount)
	case DurationMonths:
		end = start.AddDate(0, d.Amount, 0)
	case DurationYears:
		end = start.AddDate(d.Amount, 0, 0)
	default:
		return nil
	}
	return &end
}

func (d Duration) String() string {
	if d.IsLifetime() {
		return string(DurationLifetime)
	}
	return fmt.Sprintf("%d %s", d.Amount, d.Unit)
}

type TierStatus string

const (
	TierActive   TierStatus = "active"
	TierInactive TierStatus = "inactive"
)

type TierAvailability string

const (
	TierPublic  TierAvailability = "public"
	TierPrivate TierAvailability = "private"
)

// Limits caps tenant resources. A nil field means unlimited.
type Limits struct {
	MaxSalesReps *int64 `json:"max_sales_reps"`
	MaxContacts  *int64 `json:"max_contacts"`
	StorageBytes *int64 `json:"storage_bytes"`
}

// Tier is a purchasable plan bundling modules and limits.
type Tier struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Price            int64            `json:"price"` // minor units
	Duration         Duration         `json:"duration"`
	RefundPeriodDays int              `json:"refund_period_days"`
	Limits           Limits           `json:"limits"`
	Modules          []Module         `json:"modules"`
	Status           TierStatus       `json:"status"`
	Availability     TierAvailability `json:"availability"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

func (t *Tier) IsActive() bool { return t != nil && t.Status == TierActive }
func (t *Tier) IsPublic() bool { return t != nil && t.Availability == TierPublic }

func (t *Tier) Snapshot() *TierSnapshot {
	mods := make([]Module, len(t.Modules))
	copy(mods, t.Modules)
	return &TierSnapshot{
		TierID:   t.ID,
		Name:     t.Name,
		Price:    t.Price,
		Modules:  mods,
		Limits:   t.Limits,
		Duration: t.Duration,
		Status:   t.Status,
	}
}

// Validate checks the invariants shared by create and update.
func (t *Tier) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("tier name is required: %w", domain.ErrInvalidArgument)
	}
	if t.Price < 0 || t.RefundPeriodDays < 0 {
		return fmt.Errorf("tier price and refund period must not be negative: %w", domain.ErrInvalidArgument)
	}
	if err := t.Duration.Validate(); err != nil {
		return err
	}
	for _, l := range []*int64{t.Limits.MaxSalesReps, t.Limits.MaxContacts, t.Limits.StorageBytes} {
		if l != nil && *l < 0 {
			return fmt.Errorf("tier limits must not be negative: %w", domain.ErrInvalidArgument)
		}
	}
	seen := make(map[Module]struct{}, len(t.Modules))
	for _, m := range t.Modules {
		if !m.Valid() {
			return fmt.Errorf("unknown module %q: %w", m, domain.ErrInvalidArgument)
		}
		if _, dup := seen[m]; dup {
			return fmt.Errorf("duplicate module %q: %w", m, domain.ErrInvalidArgument)
		}
		seen[m] = struct{}{}
	}
	switch t.Status {
	case TierActive, TierInactive:
	default:
		return fmt.Errorf("unknown tier status %q: %w", t.Status, domain.ErrInvalidArgument)
	}
	switch t.Availability {
	case TierPublic, TierPrivate:
	default:
		return fmt.Errorf("unknown tier availability %q: %w", t.Availability, domain.ErrInvalidArgument)
	}
	return nil
}

// NewTier validates and constructs an active tier. An empty id gets a fresh UUID.
func NewTier(id, name string, price int64, duration Duration, modules []Module, limits Limits) (*Tier, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	t := &Tier{
		ID:           id,
		Name:         strings.TrimSpace(name),
		Price:        price,
		Duration:     duration,
		Limits:       limits,
		Modules:      modules,
		Status:       TierActive,
		Availability: TierPublic,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// TierSnapshot is the read view of a tier handed to the lifecycle and entitlement layers.
type TierSnapshot struct {
	TierID   string     `json:"tier_id"`
	Name     string     `json:"name"`
	Price    int64      `json:"price"`
	Modules  []Module   `json:"modules"`
	Limits   Limits     `json:"limits"`
	Duration Duration   `json:"duration"`
	Status   TierStatus `json:"status"`
}
