package adapter

import (
	"context"
	"io"
)

// ProofStore keeps proof-of-payment files attached to manual activations.
type ProofStore interface {
	// Put stores the object and returns the path recorded on the subscription.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}
