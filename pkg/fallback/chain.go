// Package fallback cascades model calls across an ordered list of provider
// adapters until one succeeds.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/grahak-ai/grahak/internal/observability"
	"github.com/grahak-ai/grahak/internal/tracing"
	"github.com/grahak-ai/grahak/pkg/provider"
	"github.com/rs/zerolog"
)

// ExhaustedError means every configured provider failed for one invocation.
// The caller must surface the failure, never synthesize an answer.
type ExhaustedError struct {
	Attempts []*provider.Error
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		parts = append(parts, attempt.Error())
	}
	return fmt.Sprintf("all providers exhausted after %d attempts: %s", len(e.Attempts), strings.Join(parts, "; "))
}

// Chain iterates providers in a fixed priority order, preferring the
// caller's locked provider for the first attempt.
type Chain struct {
	registry *provider.Registry
	logger   zerolog.Logger
}

// New creates a fallback chain over the registry
func New(registry *provider.Registry, logger zerolog.Logger) *Chain {
	return &Chain{
		registry: registry,
		logger:   logger,
	}
}

// Invoke tries the preferred provider first, then the remaining providers in
// priority order, returning the first success. A permanent failure of one
// vendor says nothing about the next, so the chain continues past
// non-retryable errors too. It never mutates any affinity lock.
func (c *Chain) Invoke(ctx context.Context, preferred provider.ID, request provider.Request) (*provider.Response, error) {
	logger := tracing.LoggerFromContext(ctx, c.logger)

	candidates := c.candidates(preferred)
	attempts := []*provider.Error{}

	for _, id := range candidates {
		if err := ctx.Err(); err != nil {
			observability.RecordFallback(len(attempts), false)
			return nil, err
		}

		adapter, ok := c.registry.Get(id)
		if !ok {
			continue
		}

		start := time.Now()
		response, err := adapter.Invoke(ctx, request)
		if err == nil {
			observability.RecordProviderCall(string(id), time.Since(start), true)
			observability.RecordFallback(len(attempts)+1, true)

			if id != preferred {
				logger.Info().
					Str("preferred", string(preferred)).
					Str("served_by", string(id)).
					Msg("Turn served by fallback provider")
			}
			return response, nil
		}

		observability.RecordProviderCall(string(id), time.Since(start), false)

		var provErr *provider.Error
		if !errors.As(err, &provErr) {
			provErr = provider.NewError(id, err)
		}
		attempts = append(attempts, provErr)

		logger.Warn().
			Str("provider", string(id)).
			Bool("retryable", provErr.Retryable).
			Err(provErr.Err).
			Msg("Provider failed, trying next candidate")
	}

	observability.RecordFallback(len(attempts), false)
	logger.Error().Int("attempts", len(attempts)).Msg("All providers exhausted")

	return nil, &ExhaustedError{Attempts: attempts}
}

// candidates builds the deduplicated try order: preferred first, then the
// registry's fixed priority order.
func (c *Chain) candidates(preferred provider.ID) []provider.ID {
	order := c.registry.Order()
	candidates := make([]provider.ID, 0, len(order)+1)

	if c.registry.Has(preferred) {
		candidates = append(candidates, preferred)
	}

	for _, id := range order {
		if id == preferred {
			continue
		}
		candidates = append(candidates, id)
	}

	return candidates
}
