package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrLockNotAcquired    = errors.New("lock is held elsewhere")

	// Codes
	ErrCodeNotFound                 = errors.New("code not found")
	ErrCodeInactive                 = errors.New("code is not active")
	ErrCodeExpired                  = errors.New("code has expired")
	ErrCodeAlreadyUsed              = errors.New("activation code already used")
	ErrCodeUsageExceeded            = errors.New("discount code usage limit reached")
	ErrCodeAlreadyExists            = errors.New("code already issued")
	ErrGenerationExhausted          = errors.New("code generation retry budget exhausted")
	ErrConcurrentRedemptionConflict = errors.New("concurrent redemption conflict")

	// Tiers
	ErrTierNotFound = errors.New("tier not found")
	ErrTierInactive = errors.New("tier is inactive")

	// Subscriptions and payments
	ErrNoSubscription              = errors.New("tenant has no subscription")
	ErrInvalidTransition           = errors.New("invalid subscription transition")
	ErrPaymentCallbackUnrecognized = errors.New("payment callback not recognized")
	ErrProofStorageDisabled        = errors.New("proof-of-payment storage is not configured")
)
