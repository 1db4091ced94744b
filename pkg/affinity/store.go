// Package affinity pins each chat thread to one model provider for a TTL, so
// conversation context built against one vendor's model is not silently
// replayed through another mid-conversation.
package affinity

import (
	"context"
	"errors"

	"github.com/grahak-ai/grahak/pkg/provider"
)

// ErrUnavailable means the lock store could not be reached. Callers degrade
// to the ephemeral tier default for the current turn instead of failing it.
var ErrUnavailable = errors.New("affinity store unavailable")

// Store resolves and maintains thread-to-provider locks.
type Store interface {
	// Resolve returns the provider locked to threadID, assigning a new lock
	// when none is live. requested seeds a new lock only; a live lock always
	// wins over requested.
	Resolve(ctx context.Context, threadID, tier string, requested provider.ID) (provider.ID, error)

	// Peek reads the current lock without assigning or extending anything.
	Peek(ctx context.Context, threadID string) (provider.ID, bool, error)

	// Release drops the lock for threadID if present.
	Release(ctx context.Context, threadID string) error
}
