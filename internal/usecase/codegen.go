package usecase

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/repository"
	"crm-licensing/internal/infra/metrics"
)

// CodeFormat describes the shape of generated codes: Parts groups of
// PartLength characters drawn from Charset, joined by '-'.
type CodeFormat struct {
	Parts      int
	PartLength int
	Charset    string
}

const maxCodeChars = 64

func (f CodeFormat) withDefaults(charset string) CodeFormat {
	if f.Parts == 0 {
		f.Parts = model.DefaultCodeParts
	}
	if f.PartLength == 0 {
		f.PartLength = model.DefaultCodePartLength
	}
	if f.Charset == "" {
		f.Charset = charset
	}
	return f
}

func (f CodeFormat) validate() error {
	if f.Parts < 1 || f.PartLength < 1 || f.Parts*f.PartLength > maxCodeChars {
		return fmt.Errorf("code format %dx%d out of range: %w", f.Parts, f.PartLength, domain.ErrInvalidArgument)
	}
	if len(f.Charset) < 2 || len(f.Charset) > 256 {
		return fmt.Errorf("charset must have 2..256 symbols: %w", domain.ErrInvalidArgument)
	}
	seen := make(map[byte]struct{}, len(f.Charset))
	for i := 0; i < len(f.Charset); i++ {
		c := f.Charset[i]
		if c == '-' || c > 0x7f || strings.ToUpper(string(c)) != string(c) {
			return fmt.Errorf("charset symbol %q not allowed: %w", c, domain.ErrInvalidArgument)
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("charset repeats %q: %w", c, domain.ErrInvalidArgument)
		}
		seen[c] = struct{}{}
	}
	return nil
}

// Matches reports whether code has exactly this format.
func (f CodeFormat) Matches(code string) bool {
	parts := strings.Split(code, "-")
	if len(parts) != f.Parts {
		return false
	}
	for _, p := range parts {
		if len(p) != f.PartLength {
			return false
		}
		for i := 0; i < len(p); i++ {
			if strings.IndexByte(f.Charset, p[i]) < 0 {
				return false
			}
		}
	}
	return true
}

// CodeGenerator produces codes that collide neither with each other nor with
// any code already issued in either namespace.
type CodeGenerator struct {
	issued  repository.IssuedCodeRepository
	rand    io.Reader
	charset string
	retries int
}

func NewCodeGenerator(issued repository.IssuedCodeRepository, policy model.CodePolicy) *CodeGenerator {
	charset := policy.Charset
	if charset == "" {
		charset = model.DefaultCodeCharset
	}
	retries := policy.GenerationRetries
	if retries <= 0 {
		retries = model.DefaultGenerationTries
	}
	return &CodeGenerator{issued: issued, rand: rand.Reader, charset: charset, retries: retries}
}

// WithRand replaces the entropy source.
func (g *CodeGenerator) WithRand(r io.Reader) *CodeGenerator {
	g.rand = r
	return g
}

// Generate returns count distinct codes. The retry budget is count*retries
// extra candidates; spending it yields domain.ErrGenerationExhausted.
func (g *CodeGenerator) Generate(ctx context.Context, tx repository.Tx, count int, format CodeFormat) ([]string, error) {
	if count < 1 {
		return nil, fmt.Errorf("count must be positive: %w", domain.ErrInvalidArgument)
	}
	format = format.withDefaults(g.charset)
	if err := format.validate(); err != nil {
		return nil, err
	}

	out := make([]string, 0, count)
	taken := make(map[string]struct{}, count)
	budget := count * g.retries

	for len(out) < count {
		need := count - len(out)
		batch := make([]string, 0, need)
		for len(batch) < need {
			c, err := g.candidate(format)
			if err != nil {
				return nil, err
			}
			if _, dup := taken[c]; dup {
				if budget--; budget < 0 {
					return nil, domain.ErrGenerationExhausted
				}
				metrics.IncGenerationCollision()
				continue
			}
			taken[c] = struct{}{}
			batch = append(batch, c)
		}

		existing, err := g.issued.Existing(ctx, tx, batch)
		if err != nil {
			return nil, err
		}
		for _, c := range batch {
			if _, hit := existing[c]; hit {
				if budget--; budget < 0 {
					return nil, domain.ErrGenerationExhausted
				}
				metrics.IncGenerationCollision()
				continue
			}
			out = append(out, c)
		}
	}
	return out, nil
}

// candidate draws one code with rejection sampling so every symbol is equally likely.
func (g *CodeGenerator) candidate(f CodeFormat) (string, error) {
	n := len(f.Charset)
	limit := 256 - 256%n
	total := f.Parts * f.PartLength

	var sb strings.Builder
	sb.Grow(total + f.Parts - 1)
	buf := make([]byte, total*2)
	written := 0
	for written < total {
		if _, err := io.ReadFull(g.rand, buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			if written > 0 && written%f.PartLength == 0 {
				sb.WriteByte('-')
			}
			sb.WriteByte(f.Charset[int(b)%n])
			if written++; written == total {
				break
			}
		}
	}
	return sb.String(), nil
}
