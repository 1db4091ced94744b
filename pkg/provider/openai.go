package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIAdapter implements Adapter for OpenAI
type OpenAIAdapter struct {
	client   openai.Client
	settings Settings
}

// NewOpenAIAdapter creates a new OpenAI adapter
func NewOpenAIAdapter(settings Settings) *OpenAIAdapter {
	return &OpenAIAdapter{
		client:   openai.NewClient(option.WithAPIKey(settings.APIKey)),
		settings: settings,
	}
}

// ID returns the provider identifier
func (a *OpenAIAdapter) ID() ID {
	return OpenAI
}

// Invoke makes an API call to OpenAI
func (a *OpenAIAdapter) Invoke(ctx context.Context, request Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, a.settings.callTimeout())
	defer cancel()

	// Convert messages to OpenAI format
	messages := []openai.ChatCompletionMessageParamUnion{}

	if request.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(request.SystemPrompt))
	}

	for _, msg := range request.Messages {
		if msg.Role == "system" {
			continue // Already handled above
		}

		switch msg.Role {
		case "user":
			messages = append(messages, openai.UserMessage(msg.Content))
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				toolCalls := []openai.ChatCompletionMessageToolCall{}
				for _, tc := range msg.ToolCalls {
					argsJSON, err := json.Marshal(tc.Arguments)
					if err != nil {
						return nil, &Error{
							Provider:  OpenAI,
							Retryable: false,
							Err:       fmt.Errorf("failed to marshal tool arguments: %w", err),
						}
					}

					toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
						ID:   tc.ID,
						Type: "function",
						Function: openai.ChatCompletionMessageToolCallFunction{
							Name:      tc.Name,
							Arguments: string(argsJSON),
						},
					})
				}

				assistantMsg := openai.ChatCompletionMessage{
					Role:      "assistant",
					Content:   msg.Content,
					ToolCalls: toolCalls,
				}
				messages = append(messages, assistantMsg.ToParam())
			} else {
				messages = append(messages, openai.AssistantMessage(msg.Content))
			}
		case "tool":
			messages = append(messages, openai.ToolMessage(msg.ToolCallID, msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(a.settings.Model),
		Messages: messages,
	}

	if request.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(request.MaxTokens))
	}

	if request.Temperature > 0 {
		params.Temperature = openai.Float(request.Temperature)
	}

	if len(request.Tools) > 0 {
		tools := []openai.ChatCompletionToolParam{}
		for _, tool := range request.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(tool.InputSchema),
				},
			})
		}
		params.Tools = tools
	}

	response, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, NewError(OpenAI, err)
	}

	if len(response.Choices) == 0 {
		// A 200 with no choices is as useless as a timeout
		return nil, NewEmptyCompletionError(OpenAI)
	}

	choice := response.Choices[0]
	content := choice.Message.Content

	toolCalls := []ToolCall{}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, &Error{
				Provider:  OpenAI,
				Retryable: true,
				Err:       fmt.Errorf("failed to parse tool arguments: %w", err),
			}
		}

		toolCalls = append(toolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	normalized, provErr := normalize(OpenAI, content, toolCalls)
	if provErr != nil {
		return nil, provErr
	}

	normalized.Usage = &Usage{
		InputTokens:  int(response.Usage.PromptTokens),
		OutputTokens: int(response.Usage.CompletionTokens),
	}
	return normalized, nil
}
