package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lyzr/graphflow/common/logger"
	"github.com/lyzr/graphflow/tools"
)

// defaultToolCallLimit bounds the agent loop per node call.
const defaultToolCallLimit = 10

// strictReprompt is sent once when the model's final message is not a JSON
// object at all.
const strictReprompt = "Your previous reply was not valid JSON. Respond with only a JSON object matching the requested schema, with no surrounding text."

// schemaReprompt is sent once when the reply parsed as JSON but failed the
// output schema check; the validation error fills the verb.
const schemaReprompt = "Your previous reply did not match the requested schema: %v. Respond with only a JSON object that matches the schema exactly, with no surrounding text."

// Output describes the structured reply a call expects: the JSON Schema
// sent to the provider and an optional semantic check run on the parsed
// object. A check failure gets the same single strict reprompt as
// malformed JSON.
type Output struct {
	Schema map[string]any
	Check  func(map[string]any) error
}

// Client is the façade node executors call. It layers retries, the
// tool-using agent loop, and structured-output parsing over a Provider.
type Client struct {
	provider      Provider
	tools         *tools.Registry
	retry         RetryConfig
	log           *logger.Logger
	toolCallLimit int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(c *Client) { c.retry = cfg }
}

// WithToolCallLimit caps agent-loop rounds per call.
func WithToolCallLimit(n int) ClientOption {
	return func(c *Client) { c.toolCallLimit = n }
}

// NewClient builds a client over the given provider. registry may be nil
// when no workflow node declares tools.
func NewClient(provider Provider, registry *tools.Registry, log *logger.Logger, opts ...ClientOption) *Client {
	c := &Client{
		provider:      provider,
		tools:         registry,
		retry:         DefaultRetryConfig(),
		log:           log,
		toolCallLimit: defaultToolCallLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result is the outcome of one Call.
type Result struct {
	// Output is the parsed structured response. Nil when no output schema
	// was requested; Text carries the raw reply in that case.
	Output map[string]any

	Text       string
	Usage      Usage
	Cost       float64
	ToolRounds int
}

// Call runs the full request cycle: provider round trips with retry, tool
// execution when the model asks for it, and structured-output parsing.
func (c *Client) Call(ctx context.Context, messages []Message, output *Output, toolDefs []ToolDefinition, params Params) (*Result, error) {
	msgs := append([]Message(nil), messages...)
	var (
		usage      Usage
		toolRounds int
		reprompted bool
	)
	var outputSchema map[string]any
	if output != nil {
		outputSchema = output.Schema
	}

	for {
		resp, err := c.complete(ctx, Request{
			Messages:     msgs,
			OutputSchema: outputSchema,
			Tools:        toolDefs,
			Params:       params,
		})
		if err != nil {
			return nil, err
		}
		usage.Add(resp.Usage)

		if len(resp.Message.ToolCalls) > 0 {
			toolRounds++
			if toolRounds > c.toolCallLimit {
				return nil, NewFatalError(fmt.Errorf("tool-call limit of %d rounds exceeded", c.toolCallLimit))
			}
			msgs = append(msgs, resp.Message)
			results, err := c.runToolCalls(ctx, resp.Message.ToolCalls)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, results...)
			continue
		}

		result := &Result{
			Text:       resp.Message.Content,
			Usage:      usage,
			Cost:       Cost(params.Model, usage),
			ToolRounds: toolRounds,
		}
		if output == nil {
			return result, nil
		}

		parsed, perr := parseJSONObject(resp.Message.Content)
		hint := strictReprompt
		if perr == nil && output.Check != nil {
			if cerr := output.Check(parsed); cerr != nil {
				perr = cerr
				hint = fmt.Sprintf(schemaReprompt, cerr)
			}
		}
		if perr != nil {
			if !reprompted {
				reprompted = true
				msgs = append(msgs, resp.Message, Message{Role: RoleUser, Content: hint})
				continue
			}
			return nil, NewFatalError(fmt.Errorf("%w: %v", ErrMalformedOutput, perr))
		}
		result.Output = parsed
		return result, nil
	}
}

func (c *Client) complete(ctx context.Context, req Request) (*Response, error) {
	var resp *Response
	err := withRetry(ctx, c.retry, c.log, func() error {
		r, err := c.provider.Complete(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", c.provider.Name(), err)
	}
	return resp, nil
}

func (c *Client) runToolCalls(ctx context.Context, calls []ToolCall) ([]Message, error) {
	if c.tools == nil {
		return nil, &ToolError{Tool: calls[0].Name, Err: fmt.Errorf("no tool registry configured")}
	}
	results := make([]Message, 0, len(calls))
	for _, call := range calls {
		c.log.Debug("invoking tool", "tool", call.Name, "call_id", call.ID)
		out, err := c.tools.Invoke(ctx, call.Name, call.Arguments)
		if err != nil {
			return nil, &ToolError{Tool: call.Name, Err: err}
		}
		payload, err := json.Marshal(out)
		if err != nil {
			return nil, &ToolError{Tool: call.Name, Err: fmt.Errorf("encode result: %w", err)}
		}
		results = append(results, Message{
			Role:       RoleTool,
			Content:    string(payload),
			ToolCallID: call.ID,
		})
	}
	return results, nil
}
