package model

import (
	"fmt"
	"strings"

	"crm-licensing/internal/domain"
)

const (
	DefaultCodeCharset     = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	DefaultCodeParts       = 3
	DefaultCodePartLength  = 4
	DefaultGenerationTries = 10
)

// CodePolicy is the settings snapshot code validation runs against.
type CodePolicy struct {
	AllowedSources []string
	Charset        string
	// GenerationRetries bounds collision retries per requested code.
	GenerationRetries int
	MaxBatch          int
}

func DefaultCodePolicy() CodePolicy {
	return CodePolicy{
		AllowedSources:    []string{"admin", "partner", "promotion", "support"},
		Charset:           DefaultCodeCharset,
		GenerationRetries: DefaultGenerationTries,
		MaxBatch:          10000,
	}
}

// CheckSource fails with ErrInvalidArgument when source is not allow-listed.
// An empty allow-list admits any non-empty source.
func (p CodePolicy) CheckSource(source string) error {
	source = strings.TrimSpace(source)
	if source == "" {
		return fmt.Errorf("code source is required: %w", domain.ErrInvalidArgument)
	}
	if len(p.AllowedSources) == 0 {
		return nil
	}
	for _, s := range p.AllowedSources {
		if strings.EqualFold(s, source) {
			return nil
		}
	}
	return fmt.Errorf("code source %q is not allowed: %w", source, domain.ErrInvalidArgument)
}
