package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

type InvoiceStatus string

const (
	InvoiceSuccessful InvoiceStatus = "successful"
	InvoiceFailed     InvoiceStatus = "failed"
	InvoicePending    InvoiceStatus = "pending"
)

// Invoice is emitted by payment-bearing lifecycle transitions. Display only.
type Invoice struct {
	ID             string
	Number         string // ULID, sortable by issue time
	SubscriptionID string
	TenantID       int64
	Amount         int64 // minor units
	Status         InvoiceStatus
	DueDate        time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func NewInvoice(sub *Subscription, amount int64, status InvoiceStatus, now time.Time) *Invoice {
	return &Invoice{
		ID:             uuid.NewString(),
		Number:         ulid.Make().String(),
		SubscriptionID: sub.ID,
		TenantID:       sub.TenantID,
		Amount:         amount,
		Status:         status,
		DueDate:        now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
