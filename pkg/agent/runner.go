// Package agent drives one chat turn through the tool-calling state machine:
// the model either answers directly or requests tool calls, whose results are
// fed back until it produces a final answer or the hop limit is hit.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grahak-ai/grahak/internal/observability"
	"github.com/grahak-ai/grahak/internal/tracing"
	"github.com/grahak-ai/grahak/pkg/affinity"
	"github.com/grahak-ai/grahak/pkg/chatstore"
	"github.com/grahak-ai/grahak/pkg/fallback"
	"github.com/grahak-ai/grahak/pkg/provider"
	"github.com/grahak-ai/grahak/pkg/tools"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrHopLimitExceeded means the model kept requesting tools past the
// configured hop limit. The turn still completes with a best-effort answer.
var ErrHopLimitExceeded = errors.New("agent hop limit exceeded")

const hopLimitAnswer = "I gathered some information but couldn't finish reasoning about it. " +
	"Here's what I have so far; please ask again if you need more detail."

const defaultSystemPrompt = "You are Grahak, a consumer-rights assistant for Indian users. " +
	"You help with inflated bills, complaint letters, gold rates, PNR status and traffic challans. " +
	"Use the available tools when the user asks about live data. Answer plainly and cite amounts in INR."

// Config holds runner configuration
type Config struct {
	Chain     *fallback.Chain
	Affinity  affinity.Store
	Chat      chatstore.Store
	Tools     *tools.Registry
	Providers *provider.Registry
	Logger    zerolog.Logger

	MaxHops      int
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
}

// TurnParams describes one incoming user message
type TurnParams struct {
	ThreadID  string
	Text      string
	Image     string
	Tier      string
	Requested provider.ID // seeds a new lock only, never overrides a live one
	UserID    string

	// BillContext is the OCR collaborator's extract for an attached bill,
	// included as additional context on the user turn.
	BillContext string
}

// TurnResult is one completed turn
type TurnResult struct {
	UserMessage chatstore.Message
	BotMessage  chatstore.Message
	Provider    provider.ID
	Hops        int
	HopLimitHit bool
}

// Runner executes chat turns
type Runner struct {
	cfg Config
}

// NewRunner creates an agent runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Chain == nil {
		return nil, fmt.Errorf("fallback chain is required")
	}
	if cfg.Affinity == nil {
		return nil, fmt.Errorf("affinity store is required")
	}
	if cfg.Chat == nil {
		return nil, fmt.Errorf("chat store is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.Providers == nil {
		return nil, fmt.Errorf("provider registry is required")
	}

	if cfg.MaxHops <= 0 {
		cfg.MaxHops = 5
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}

	return &Runner{cfg: cfg}, nil
}

// Run executes one turn. On success the user and bot messages are appended
// to history atomically; when every provider fails nothing is appended and
// the fallback.ExhaustedError is returned as-is.
func (r *Runner) Run(ctx context.Context, params TurnParams) (*TurnResult, error) {
	if strings.TrimSpace(params.Text) == "" {
		return nil, fmt.Errorf("message text is required")
	}

	ctx = tracing.NewTurnContext(ctx, params.ThreadID)
	ctx, span := tracing.StartSpan(
		ctx,
		"grahak.agent",
		"agent.turn",
		attribute.String("thread_id", params.ThreadID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, r.cfg.Logger)
	start := time.Now()

	locked := r.resolveProvider(ctx, params, logger)
	span.SetAttributes(attribute.String("provider", string(locked)))

	request, err := r.buildRequest(ctx, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	botText, hops, hopLimitHit, err := r.converse(ctx, locked, request, logger)
	if err != nil {
		observability.RecordAgentTurn(string(locked), time.Since(start), hops, false)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	userMsg, botMsg, err := r.cfg.Chat.AppendTurn(ctx, params.ThreadID, chatstore.Turn{
		UserText:  r.userTurnText(params),
		UserImage: params.Image,
		BotText:   botText,
		Provider:  string(locked),
		Model:     r.cfg.Providers.Model(locked),
		UserID:    params.UserID,
	})
	if err != nil {
		observability.RecordAgentTurn(string(locked), time.Since(start), hops, false)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to persist turn: %w", err)
	}

	observability.RecordAgentTurn(string(locked), time.Since(start), hops, true)
	logger.Info().
		Str("provider", string(locked)).
		Int("hops", hops).
		Bool("hop_limit_hit", hopLimitHit).
		Dur("duration", time.Since(start)).
		Msg("Turn completed")

	return &TurnResult{
		UserMessage: userMsg,
		BotMessage:  botMsg,
		Provider:    locked,
		Hops:        hops,
		HopLimitHit: hopLimitHit,
	}, nil
}

// resolveProvider returns the thread's locked provider, degrading to the
// ephemeral tier default when the lock store is unreachable.
func (r *Runner) resolveProvider(ctx context.Context, params TurnParams, logger zerolog.Logger) provider.ID {
	locked, err := r.cfg.Affinity.Resolve(ctx, params.ThreadID, params.Tier, params.Requested)
	if err == nil {
		return locked
	}

	fallbackID := r.cfg.Providers.DefaultFor(params.Tier)
	if errors.Is(err, affinity.ErrUnavailable) {
		logger.Warn().
			Str("thread_id", params.ThreadID).
			Str("provider", string(fallbackID)).
			Msg("Lock store unavailable, using ephemeral tier default")
	} else {
		logger.Error().Err(err).Str("thread_id", params.ThreadID).Msg("Lock resolution failed")
	}
	return fallbackID
}

func (r *Runner) buildRequest(ctx context.Context, params TurnParams) (provider.Request, error) {
	history, err := r.cfg.Chat.History(ctx, params.ThreadID)
	if err != nil {
		return provider.Request{}, fmt.Errorf("failed to load history: %w", err)
	}

	messages := make([]provider.Message, 0, len(history)+1)
	for _, msg := range history {
		role := "user"
		if msg.Sender == chatstore.SenderBot {
			role = "assistant"
		}
		messages = append(messages, provider.Message{Role: role, Content: msg.Text})
	}
	messages = append(messages, provider.Message{Role: "user", Content: r.userTurnText(params)})

	return provider.Request{
		Messages:     messages,
		Tools:        r.cfg.Tools.Specs(),
		Temperature:  r.cfg.Temperature,
		MaxTokens:    r.cfg.MaxTokens,
		SystemPrompt: r.cfg.SystemPrompt,
	}, nil
}

func (r *Runner) userTurnText(params TurnParams) string {
	if params.BillContext == "" {
		return params.Text
	}
	return fmt.Sprintf("%s\n\n[Attached bill extract]\n%s", params.Text, params.BillContext)
}

// converse runs the AGENT/TOOLS loop until a final answer or the hop limit
func (r *Runner) converse(ctx context.Context, locked provider.ID, request provider.Request, logger zerolog.Logger) (string, int, bool, error) {
	hops := 0

	for {
		response, err := r.cfg.Chain.Invoke(ctx, locked, request)
		if err != nil {
			return "", hops, false, err
		}

		if response.Kind == provider.KindFinal {
			return response.Text, hops, false, nil
		}

		hops++
		if hops > r.cfg.MaxHops {
			logger.Error().
				Int("hops", hops).
				Err(ErrHopLimitExceeded).
				Msg("Model kept requesting tools, answering best-effort")
			return hopLimitAnswer, hops, true, nil
		}

		request.Messages = append(request.Messages, provider.Message{
			Role:      "assistant",
			Content:   response.Text,
			ToolCalls: response.Calls,
		})
		request.Messages = append(request.Messages, r.runTools(ctx, response.Calls)...)
	}
}

// runTools executes the requested calls in parallel and returns their results
// as tool messages in request order.
func (r *Runner) runTools(ctx context.Context, calls []provider.ToolCall) []provider.Message {
	results := make([]provider.Message, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(slot int, call provider.ToolCall) {
			defer wg.Done()
			result := r.cfg.Tools.Invoke(ctx, call.Name, call.Arguments)
			results[slot] = provider.Message{
				Role:       "tool",
				Content:    encodeToolResult(result),
				ToolCallID: call.ID,
			}
		}(i, call)
	}
	wg.Wait()

	return results
}

func encodeToolResult(result tools.Result) string {
	if !result.Success {
		payload, _ := json.Marshal(map[string]string{"error": result.Error})
		return string(payload)
	}

	payload, err := json.Marshal(result.Output)
	if err != nil {
		return fmt.Sprintf("%v", result.Output)
	}
	return string(payload)
}
