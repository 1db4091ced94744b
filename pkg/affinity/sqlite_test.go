package affinity

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/grahak-ai/grahak/pkg/provider"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopAdapter struct{ id provider.ID }

func (n *nopAdapter) ID() provider.ID { return n.id }
func (n *nopAdapter) Invoke(ctx context.Context, request provider.Request) (*provider.Response, error) {
	return &provider.Response{Kind: provider.KindFinal, Text: "ok"}, nil
}

func testRegistry(t *testing.T) *provider.Registry {
	t.Helper()
	registry, err := provider.NewRegistry([]provider.Registration{
		{ID: provider.OpenAI, Priority: 1, Adapter: &nopAdapter{id: provider.OpenAI}},
		{ID: provider.Anthropic, Priority: 2, Adapter: &nopAdapter{id: provider.Anthropic}, Premium: true},
	})
	require.NoError(t, err)
	return registry
}

func testStore(t *testing.T, ttl time.Duration, now *time.Time) *SQLiteStore {
	t.Helper()

	cfg := Config{
		DBPath:   filepath.Join(t.TempDir(), "locks.db"),
		Registry: testRegistry(t),
		TTL:      ttl,
		Logger:   zerolog.New(os.Stdout).Level(zerolog.Disabled),
	}
	if now != nil {
		cfg.Now = func() time.Time { return *now }
	}

	store, err := NewSQLiteStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestResolve(t *testing.T) {
	t.Run("should assign tier default on first resolve", func(t *testing.T) {
		store := testStore(t, 30*time.Minute, nil)

		got, err := store.Resolve(context.Background(), "thread-1", "free", "")
		require.NoError(t, err)
		assert.Equal(t, provider.OpenAI, got)
	})

	t.Run("should map premium tier to premium provider", func(t *testing.T) {
		store := testStore(t, 30*time.Minute, nil)

		got, err := store.Resolve(context.Background(), "thread-1", "premium", "")
		require.NoError(t, err)
		assert.Equal(t, provider.Anthropic, got)
	})

	t.Run("should seed new lock from requested provider", func(t *testing.T) {
		store := testStore(t, 30*time.Minute, nil)

		got, err := store.Resolve(context.Background(), "thread-1", "free", provider.Anthropic)
		require.NoError(t, err)
		assert.Equal(t, provider.Anthropic, got)
	})

	t.Run("should ignore requested provider when lock is live", func(t *testing.T) {
		store := testStore(t, 30*time.Minute, nil)
		ctx := context.Background()

		first, err := store.Resolve(ctx, "thread-1", "free", "")
		require.NoError(t, err)
		assert.Equal(t, provider.OpenAI, first)

		second, err := store.Resolve(ctx, "thread-1", "free", provider.Anthropic)
		require.NoError(t, err)
		assert.Equal(t, provider.OpenAI, second)
	})

	t.Run("should ignore requested provider that is not registered", func(t *testing.T) {
		store := testStore(t, 30*time.Minute, nil)

		got, err := store.Resolve(context.Background(), "thread-1", "free", "palm")
		require.NoError(t, err)
		assert.Equal(t, provider.OpenAI, got)
	})

	t.Run("should return same provider for repeated resolves within TTL", func(t *testing.T) {
		store := testStore(t, 30*time.Minute, nil)
		ctx := context.Background()

		first, err := store.Resolve(ctx, "thread-1", "free", "")
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			again, err := store.Resolve(ctx, "thread-1", "premium", "")
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
	})

	t.Run("should reassign after expiry", func(t *testing.T) {
		now := time.Now()
		store := testStore(t, 10*time.Minute, &now)
		ctx := context.Background()

		first, err := store.Resolve(ctx, "thread-1", "free", "")
		require.NoError(t, err)
		assert.Equal(t, provider.OpenAI, first)

		now = now.Add(11 * time.Minute)

		second, err := store.Resolve(ctx, "thread-1", "premium", "")
		require.NoError(t, err)
		assert.Equal(t, provider.Anthropic, second)
	})

	t.Run("should converge to one winner under concurrent first messages", func(t *testing.T) {
		store := testStore(t, 30*time.Minute, nil)

		const workers = 8
		results := make([]provider.ID, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(slot int) {
				defer wg.Done()
				tier := "free"
				if slot%2 == 0 {
					tier = "premium"
				}
				got, err := store.Resolve(context.Background(), "thread-1", tier, "")
				assert.NoError(t, err)
				results[slot] = got
			}(i)
		}
		wg.Wait()

		for _, got := range results {
			assert.Equal(t, results[0], got)
		}
	})
}

func TestPeekAndRelease(t *testing.T) {
	t.Run("should report absence without assigning", func(t *testing.T) {
		store := testStore(t, 30*time.Minute, nil)

		_, live, err := store.Peek(context.Background(), "thread-1")
		require.NoError(t, err)
		assert.False(t, live)

		_, live, err = store.Peek(context.Background(), "thread-1")
		require.NoError(t, err)
		assert.False(t, live)
	})

	t.Run("should release a held lock", func(t *testing.T) {
		store := testStore(t, 30*time.Minute, nil)
		ctx := context.Background()

		_, err := store.Resolve(ctx, "thread-1", "free", "")
		require.NoError(t, err)

		require.NoError(t, store.Release(ctx, "thread-1"))

		_, live, err := store.Peek(ctx, "thread-1")
		require.NoError(t, err)
		assert.False(t, live)
	})
}

func TestSweepExpired(t *testing.T) {
	t.Run("should remove only expired rows", func(t *testing.T) {
		now := time.Now()
		store := testStore(t, 10*time.Minute, &now)
		ctx := context.Background()

		_, err := store.Resolve(ctx, "old-thread", "free", "")
		require.NoError(t, err)

		now = now.Add(11 * time.Minute)

		_, err = store.Resolve(ctx, "fresh-thread", "free", "")
		require.NoError(t, err)

		removed, err := store.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		_, live, err := store.Peek(ctx, "fresh-thread")
		require.NoError(t, err)
		assert.True(t, live)
	})
}

func TestNewSQLiteStore(t *testing.T) {
	t.Run("should reject missing configuration", func(t *testing.T) {
		_, err := NewSQLiteStore(Config{})
		assert.Error(t, err)

		_, err = NewSQLiteStore(Config{DBPath: filepath.Join(t.TempDir(), "locks.db")})
		assert.Error(t, err)
	})
}
