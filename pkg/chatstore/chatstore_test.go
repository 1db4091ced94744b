package chatstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(
		filepath.Join(t.TempDir(), "chat.db"),
		zerolog.New(os.Stdout).Level(zerolog.Disabled),
	)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppendTurn(t *testing.T) {
	t.Run("should append user and bot messages together", func(t *testing.T) {
		store := testStore(t)
		ctx := context.Background()

		userMsg, botMsg, err := store.AppendTurn(ctx, "thread-1", Turn{
			UserText: "what is the gold rate today",
			BotText:  "22K gold is 7200 per gram in Mumbai",
			Provider: "anthropic",
			Model:    "claude-sonnet-4",
		})
		require.NoError(t, err)

		assert.Equal(t, SenderUser, userMsg.Sender)
		assert.Equal(t, SenderBot, botMsg.Sender)
		assert.Equal(t, 0, userMsg.Seq)
		assert.Equal(t, 1, botMsg.Seq)
		assert.NotEmpty(t, userMsg.ID)
		assert.NotEmpty(t, botMsg.ID)
		assert.NotEqual(t, userMsg.ID, botMsg.ID)
	})

	t.Run("should extend sequence across turns", func(t *testing.T) {
		store := testStore(t)
		ctx := context.Background()

		_, _, err := store.AppendTurn(ctx, "thread-1", Turn{UserText: "hi", BotText: "hello"})
		require.NoError(t, err)

		userMsg, botMsg, err := store.AppendTurn(ctx, "thread-1", Turn{UserText: "pnr 1234567890", BotText: "confirmed"})
		require.NoError(t, err)

		assert.Equal(t, 2, userMsg.Seq)
		assert.Equal(t, 3, botMsg.Seq)
	})

	t.Run("should keep threads independent", func(t *testing.T) {
		store := testStore(t)
		ctx := context.Background()

		_, _, err := store.AppendTurn(ctx, "thread-1", Turn{UserText: "a", BotText: "b"})
		require.NoError(t, err)

		userMsg, _, err := store.AppendTurn(ctx, "thread-2", Turn{UserText: "c", BotText: "d"})
		require.NoError(t, err)
		assert.Equal(t, 0, userMsg.Seq)
	})

	t.Run("should keep concurrent turn pairs contiguous", func(t *testing.T) {
		store := testStore(t)

		const turns = 10
		var wg sync.WaitGroup
		for i := 0; i < turns; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				_, _, err := store.AppendTurn(context.Background(), "thread-1", Turn{
					UserText: fmt.Sprintf("question %d", n),
					BotText:  fmt.Sprintf("answer %d", n),
				})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		history, err := store.History(context.Background(), "thread-1")
		require.NoError(t, err)
		require.Len(t, history, turns*2)

		for i := 0; i < len(history); i += 2 {
			assert.Equal(t, SenderUser, history[i].Sender)
			assert.Equal(t, SenderBot, history[i+1].Sender)
			assert.Equal(t, i, history[i].Seq)
			assert.Equal(t, i+1, history[i+1].Seq)
		}
	})
}

func TestHistory(t *testing.T) {
	t.Run("should return messages in sequence order", func(t *testing.T) {
		store := testStore(t)
		ctx := context.Background()

		_, _, err := store.AppendTurn(ctx, "thread-1", Turn{UserText: "first", BotText: "one"})
		require.NoError(t, err)
		_, _, err = store.AppendTurn(ctx, "thread-1", Turn{UserText: "second", BotText: "two"})
		require.NoError(t, err)

		history, err := store.History(ctx, "thread-1")
		require.NoError(t, err)
		require.Len(t, history, 4)

		assert.Equal(t, "first", history[0].Text)
		assert.Equal(t, "one", history[1].Text)
		assert.Equal(t, "second", history[2].Text)
		assert.Equal(t, "two", history[3].Text)
	})

	t.Run("should return empty slice for unknown thread", func(t *testing.T) {
		store := testStore(t)

		history, err := store.History(context.Background(), "no-such-thread")
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("should preserve image attachment reference", func(t *testing.T) {
		store := testStore(t)
		ctx := context.Background()

		_, _, err := store.AppendTurn(ctx, "thread-1", Turn{
			UserText:  "is this bill inflated",
			UserImage: "uploads/bill-123.jpg",
			BotText:   "the service charge looks doubled",
		})
		require.NoError(t, err)

		history, err := store.History(ctx, "thread-1")
		require.NoError(t, err)
		assert.Equal(t, "uploads/bill-123.jpg", history[0].Image)
		assert.Empty(t, history[1].Image)
	})
}

func TestGetSession(t *testing.T) {
	t.Run("should track provider and model of latest turn", func(t *testing.T) {
		store := testStore(t)
		ctx := context.Background()

		_, _, err := store.AppendTurn(ctx, "thread-1", Turn{
			UserText: "hi", BotText: "hello",
			Provider: "anthropic", Model: "claude-sonnet-4",
		})
		require.NoError(t, err)

		session, err := store.GetSession(ctx, "thread-1")
		require.NoError(t, err)
		assert.Equal(t, "thread-1", session.ThreadID)
		assert.Equal(t, "anthropic", session.Provider)
		assert.Equal(t, "claude-sonnet-4", session.Model)
	})

	t.Run("should return ErrThreadNotFound for unknown thread", func(t *testing.T) {
		store := testStore(t)

		_, err := store.GetSession(context.Background(), "no-such-thread")
		assert.ErrorIs(t, err, ErrThreadNotFound)
	})
}
