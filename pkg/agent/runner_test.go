package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/grahak-ai/grahak/pkg/affinity"
	"github.com/grahak-ai/grahak/pkg/chatstore"
	"github.com/grahak-ai/grahak/pkg/fallback"
	"github.com/grahak-ai/grahak/pkg/provider"
	"github.com/grahak-ai/grahak/pkg/tools"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedAdapter replays a fixed sequence of responses and errors
type scriptedAdapter struct {
	id    provider.ID
	steps []func() (*provider.Response, error)
	calls int
	seen  []provider.Request
}

func (s *scriptedAdapter) ID() provider.ID { return s.id }

func (s *scriptedAdapter) Invoke(ctx context.Context, request provider.Request) (*provider.Response, error) {
	s.seen = append(s.seen, request)
	step := s.calls
	s.calls++
	if step >= len(s.steps) {
		step = len(s.steps) - 1
	}
	return s.steps[step]()
}

func finalStep(text string) func() (*provider.Response, error) {
	return func() (*provider.Response, error) {
		return &provider.Response{Kind: provider.KindFinal, Text: text}, nil
	}
}

func toolStep(callID, name string, args map[string]interface{}) func() (*provider.Response, error) {
	return func() (*provider.Response, error) {
		return &provider.Response{
			Kind:  provider.KindToolCall,
			Calls: []provider.ToolCall{{ID: callID, Name: name, Arguments: args}},
		}, nil
	}
}

func failStep(id provider.ID) func() (*provider.Response, error) {
	return func() (*provider.Response, error) {
		return nil, &provider.Error{Provider: id, Retryable: true, Err: fmt.Errorf("request timed out")}
	}
}

type fixture struct {
	runner   *Runner
	affinity *affinity.SQLiteStore
	chat     *chatstore.SQLiteStore
	tools    *tools.Registry
}

func newFixture(t *testing.T, maxHops int, adapters ...*scriptedAdapter) *fixture {
	t.Helper()

	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	regs := make([]provider.Registration, 0, len(adapters))
	for i, a := range adapters {
		regs = append(regs, provider.Registration{ID: a.id, Priority: i + 1, Adapter: a})
	}
	registry, err := provider.NewRegistry(regs)
	require.NoError(t, err)

	locks, err := affinity.NewSQLiteStore(affinity.Config{
		DBPath:   filepath.Join(t.TempDir(), "locks.db"),
		Registry: registry,
		TTL:      30 * time.Minute,
		Logger:   logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { locks.Close() })

	chat, err := chatstore.NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { chat.Close() })

	toolReg := tools.NewRegistry(time.Second, logger)

	runner, err := NewRunner(Config{
		Chain:     fallback.New(registry, logger),
		Affinity:  locks,
		Chat:      chat,
		Tools:     toolReg,
		Providers: registry,
		Logger:    logger,
		MaxHops:   maxHops,
	})
	require.NoError(t, err)

	return &fixture{runner: runner, affinity: locks, chat: chat, tools: toolReg}
}

func TestRun(t *testing.T) {
	t.Run("should answer gold rate question via tool call", func(t *testing.T) {
		adapter := &scriptedAdapter{id: provider.OpenAI, steps: []func() (*provider.Response, error){
			toolStep("c1", "get_gold_rates", map[string]interface{}{}),
			finalStep("24K gold is at 7850 INR per gram today."),
		}}
		fx := newFixture(t, 5, adapter)

		require.NoError(t, fx.tools.Register(tools.Definition{
			Name:        "get_gold_rates",
			Description: "Get today's gold rates",
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return map[string]interface{}{"gold24k": 7850.0, "gold22k": 7200.0}, nil
			},
		}))

		result, err := fx.runner.Run(context.Background(), TurnParams{
			ThreadID: "t1",
			Text:     "What's today's gold rate?",
			Tier:     "free",
		})
		require.NoError(t, err)

		assert.Equal(t, provider.OpenAI, result.Provider)
		assert.Equal(t, 1, result.Hops)
		assert.Contains(t, result.BotMessage.Text, "7850")

		history, err := fx.chat.History(context.Background(), "t1")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, chatstore.SenderUser, history[0].Sender)
		assert.Equal(t, chatstore.SenderBot, history[1].Sender)

		// Second model call must carry the tool result
		require.Equal(t, 2, adapter.calls)
		lastMsg := adapter.seen[1].Messages[len(adapter.seen[1].Messages)-1]
		assert.Equal(t, "tool", lastMsg.Role)
		assert.Contains(t, lastMsg.Content, "7850")
	})

	t.Run("should serve PNR turn from secondary while lock keeps original provider", func(t *testing.T) {
		primary := &scriptedAdapter{id: provider.Anthropic, steps: []func() (*provider.Response, error){
			failStep(provider.Anthropic),
		}}
		secondary := &scriptedAdapter{id: provider.OpenAI, steps: []func() (*provider.Response, error){
			finalStep("PNR 1234567890 is confirmed on Rajdhani Express."),
		}}
		fx := newFixture(t, 5, primary, secondary)

		result, err := fx.runner.Run(context.Background(), TurnParams{
			ThreadID:  "t2",
			Text:      "Check PNR 1234567890",
			Tier:      "free",
			Requested: provider.Anthropic,
		})
		require.NoError(t, err)
		assert.Contains(t, result.BotMessage.Text, "confirmed")

		// Lock still records the original preferred provider, not the one
		// that served the turn.
		locked, live, err := fx.affinity.Peek(context.Background(), "t2")
		require.NoError(t, err)
		require.True(t, live)
		assert.Equal(t, provider.Anthropic, locked)
	})

	t.Run("should append nothing when every provider fails", func(t *testing.T) {
		adapter := &scriptedAdapter{id: provider.OpenAI, steps: []func() (*provider.Response, error){
			failStep(provider.OpenAI),
		}}
		fx := newFixture(t, 5, adapter)

		_, err := fx.runner.Run(context.Background(), TurnParams{
			ThreadID: "t3",
			Text:     "hello",
		})

		var exhausted *fallback.ExhaustedError
		require.ErrorAs(t, err, &exhausted)

		history, err := fx.chat.History(context.Background(), "t3")
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("should stop a tool-looping model at the hop limit", func(t *testing.T) {
		adapter := &scriptedAdapter{id: provider.OpenAI, steps: []func() (*provider.Response, error){
			toolStep("c1", "noop", map[string]interface{}{}),
		}}
		fx := newFixture(t, 2, adapter)

		require.NoError(t, fx.tools.Register(tools.Definition{
			Name:        "noop",
			Description: "does nothing",
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return "ok", nil
			},
		}))

		result, err := fx.runner.Run(context.Background(), TurnParams{
			ThreadID: "t4",
			Text:     "loop forever",
		})
		require.NoError(t, err)

		assert.True(t, result.HopLimitHit)
		assert.Equal(t, 3, result.Hops)
		assert.NotEmpty(t, result.BotMessage.Text)

		// The turn still completes and persists
		history, err := fx.chat.History(context.Background(), "t4")
		require.NoError(t, err)
		assert.Len(t, history, 2)
	})

	t.Run("should reach the end state when a tool throws", func(t *testing.T) {
		adapter := &scriptedAdapter{id: provider.OpenAI, steps: []func() (*provider.Response, error){
			toolStep("c1", "flaky", map[string]interface{}{}),
			finalStep("The PNR service is down right now, please try again later."),
		}}
		fx := newFixture(t, 5, adapter)

		require.NoError(t, fx.tools.Register(tools.Definition{
			Name:        "flaky",
			Description: "always fails",
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return nil, fmt.Errorf("PNR lookup unavailable")
			},
		}))

		result, err := fx.runner.Run(context.Background(), TurnParams{
			ThreadID: "t5",
			Text:     "check my pnr",
		})
		require.NoError(t, err)
		assert.Contains(t, result.BotMessage.Text, "down right now")

		// The failure reached the model as a tool result payload
		lastMsg := adapter.seen[1].Messages[len(adapter.seen[1].Messages)-1]
		assert.Equal(t, "tool", lastMsg.Role)
		assert.Contains(t, lastMsg.Content, "PNR lookup unavailable")
	})

	t.Run("should keep the same provider across turns within TTL", func(t *testing.T) {
		adapter := &scriptedAdapter{id: provider.OpenAI, steps: []func() (*provider.Response, error){
			finalStep("hello"),
		}}
		other := &scriptedAdapter{id: provider.Anthropic, steps: []func() (*provider.Response, error){
			finalStep("hello from anthropic"),
		}}
		fx := newFixture(t, 5, adapter, other)

		first, err := fx.runner.Run(context.Background(), TurnParams{ThreadID: "t6", Text: "hi"})
		require.NoError(t, err)

		// A later request asking for a different provider must not move the lock
		second, err := fx.runner.Run(context.Background(), TurnParams{
			ThreadID: "t6", Text: "hi again", Requested: provider.Anthropic,
		})
		require.NoError(t, err)
		assert.Equal(t, first.Provider, second.Provider)
	})

	t.Run("should include bill extract in the stored user message", func(t *testing.T) {
		adapter := &scriptedAdapter{id: provider.OpenAI, steps: []func() (*provider.Response, error){
			finalStep("The service charge on this bill is double the legal cap."),
		}}
		fx := newFixture(t, 5, adapter)

		result, err := fx.runner.Run(context.Background(), TurnParams{
			ThreadID:    "t7",
			Text:        "Is this bill inflated?",
			BillContext: "Service charge: 500\nGST: 250",
		})
		require.NoError(t, err)
		assert.Contains(t, result.UserMessage.Text, "Service charge: 500")
	})

	t.Run("should reject empty message text", func(t *testing.T) {
		adapter := &scriptedAdapter{id: provider.OpenAI, steps: []func() (*provider.Response, error){
			finalStep("hello"),
		}}
		fx := newFixture(t, 5, adapter)

		_, err := fx.runner.Run(context.Background(), TurnParams{ThreadID: "t8", Text: "   "})
		assert.Error(t, err)
	})
}
