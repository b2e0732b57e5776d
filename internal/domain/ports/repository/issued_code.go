package repository

import (
	"context"

	"crm-licensing/internal/domain/model"
)

// IssuedCodeRepository owns the single uniqueness domain shared by activation
// and discount codes.
type IssuedCodeRepository interface {
	// Reserve claims code; domain.ErrCodeAlreadyExists if it is already issued.
	Reserve(ctx context.Context, tx Tx, code string, kind model.CodeKind) error
	// Existing returns the subset of codes that are already issued.
	Existing(ctx context.Context, tx Tx, codes []string) (map[string]model.CodeKind, error)
}
