// Package tools holds the registry of callable tools exposed to the model.
// Execution failures are data fed back into the conversation, never control
// flow: a handler error, timeout, or panic becomes a Result payload.
package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grahak-ai/grahak/internal/observability"
	"github.com/grahak-ai/grahak/pkg/provider"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// Handler is the function signature for tool execution
type Handler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Parameter defines one tool parameter
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Definition defines a tool's metadata and handler
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// Result is the outcome of one tool invocation
type Result struct {
	Success bool        `json:"success"`
	Output  interface{} `json:"output,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Registry manages the registered tools
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRegistry creates an empty tool registry. timeout caps every handler run.
func NewRegistry(timeout time.Duration, logger zerolog.Logger) *Registry {
	observability.EnsureRegistered()

	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Registry{
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
		timeout: timeout,
		logger:  logger,
	}
}

// Register adds a tool definition
func (r *Registry) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return err
	}

	schema, err := compileSchema(def)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}

	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema

	r.logger.Info().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Specs returns the registered tools in the shape provider adapters send to
// the model APIs.
func (r *Registry) Specs() []provider.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]provider.ToolSpec, 0, len(r.tools))
	for _, def := range r.tools {
		specs = append(specs, provider.ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schemaMap(*def),
		})
	}
	return specs
}

// Has reports whether a tool is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Invoke runs a tool by name. The returned Result always describes the
// outcome; Invoke itself never fails.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]interface{}) Result {
	start := time.Now()

	r.mu.RLock()
	def := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if def == nil {
		return Result{Success: false, Error: fmt.Sprintf("tool not found: %s", name)}
	}

	if err := validateParams(schema, params); err != nil {
		r.logger.Warn().Str("tool", name).Err(err).Msg("Tool parameter validation failed")
		observability.RecordToolExecution(name, time.Since(start), false)
		return Result{Success: false, Error: fmt.Sprintf("parameter validation failed: %v", err)}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		output interface{}
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", rec)}
			}
		}()
		output, err := def.Handler(timeoutCtx, params)
		done <- outcome{output: output, err: err}
	}()

	var result Result
	select {
	case out := <-done:
		if out.err != nil {
			result = Result{Success: false, Error: out.err.Error()}
		} else {
			result = Result{Success: true, Output: out.output}
		}
	case <-timeoutCtx.Done():
		result = Result{Success: false, Error: fmt.Sprintf("tool timed out after %s", r.timeout)}
	}

	duration := time.Since(start)
	observability.RecordToolExecution(name, duration, result.Success)

	if result.Success {
		r.logger.Debug().Str("tool", name).Dur("duration", duration).Msg("Tool execution completed")
	} else {
		r.logger.Warn().Str("tool", name).Dur("duration", duration).Str("error", result.Error).Msg("Tool execution failed")
	}

	return result
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}
	return nil
}

func schemaMap(def Definition) map[string]interface{} {
	properties := map[string]interface{}{}
	required := []string{}

	for _, param := range def.Parameters {
		properties[param.Name] = map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func compileSchema(def Definition) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap(def)))
}

func validateParams(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}
	if !result.Valid() {
		issues := []string{}
		for _, issue := range result.Errors() {
			issues = append(issues, issue.String())
		}
		return fmt.Errorf("validation errors: %v", issues)
	}
	return nil
}
