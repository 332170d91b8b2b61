// Package openai adapts the OpenAI chat-completion API (and any
// OpenAI-compatible endpoint) to the llm.Provider interface.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	gopenai "github.com/sashabaranov/go-openai"

	"github.com/lyzr/graphflow/llm"
)

func init() {
	llm.RegisterProvider("openai", New)
}

// Provider talks to an OpenAI-compatible chat-completion endpoint.
type Provider struct {
	name   string
	client *gopenai.Client

	// jsonSchema selects native structured-output enforcement. Compatible
	// endpoints that only support JSON mode leave it false.
	jsonSchema bool
}

// New builds the OpenAI provider. The API key comes from settings or the
// OPENAI_API_KEY environment variable.
func New(settings llm.Settings) (llm.Provider, error) {
	key := settings.APIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("openai: missing API key (set OPENAI_API_KEY)")
	}
	cfg := gopenai.DefaultConfig(key)
	if settings.APIBase != "" {
		cfg.BaseURL = settings.APIBase
	}
	return &Provider{name: "openai", client: gopenai.NewClientWithConfig(cfg), jsonSchema: true}, nil
}

// NewCompatible builds a provider for an OpenAI-compatible endpoint under a
// different name, using JSON mode instead of native schema enforcement.
func NewCompatible(name, apiKey, baseURL string) *Provider {
	cfg := gopenai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &Provider{name: name, client: gopenai.NewClientWithConfig(cfg)}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	oreq, err := p.buildRequest(req)
	if err != nil {
		return nil, llm.NewFatalError(err)
	}

	resp, err := p.client.CreateChatCompletion(ctx, oreq)
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewTransientError(fmt.Errorf("%s: response has no choices", p.name))
	}

	choice := resp.Choices[0]
	msg := llm.Message{Role: llm.RoleAssistant, Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, llm.NewFatalError(fmt.Errorf("tool call %s: decode arguments: %w", tc.Function.Name, err))
			}
		}
		msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}

	return &llm.Response{
		Message: msg,
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
		FinishReason: string(choice.FinishReason),
	}, nil
}

func (p *Provider) buildRequest(req llm.Request) (gopenai.ChatCompletionRequest, error) {
	oreq := gopenai.ChatCompletionRequest{Model: req.Params.Model}
	if req.Params.Temperature != nil {
		oreq.Temperature = float32(*req.Params.Temperature)
	}
	if req.Params.MaxTokens > 0 {
		oreq.MaxTokens = req.Params.MaxTokens
	}
	if req.Params.TopP != nil {
		oreq.TopP = float32(*req.Params.TopP)
	}

	for _, m := range req.Messages {
		om, err := toOpenAIMessage(m)
		if err != nil {
			return oreq, err
		}
		oreq.Messages = append(oreq.Messages, om)
	}

	for _, t := range req.Tools {
		raw, err := json.Marshal(t.Schema)
		if err != nil {
			return oreq, fmt.Errorf("tool %s: encode schema: %w", t.Name, err)
		}
		oreq.Tools = append(oreq.Tools, gopenai.Tool{
			Type: gopenai.ToolTypeFunction,
			Function: &gopenai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(raw),
			},
		})
	}

	if req.OutputSchema != nil {
		if p.jsonSchema {
			raw, err := json.Marshal(req.OutputSchema)
			if err != nil {
				return oreq, fmt.Errorf("encode output schema: %w", err)
			}
			oreq.ResponseFormat = &gopenai.ChatCompletionResponseFormat{
				Type: gopenai.ChatCompletionResponseFormatTypeJSONSchema,
				JSONSchema: &gopenai.ChatCompletionResponseFormatJSONSchema{
					Name:   "node_output",
					Schema: json.RawMessage(raw),
					Strict: true,
				},
			}
		} else {
			oreq.ResponseFormat = &gopenai.ChatCompletionResponseFormat{
				Type: gopenai.ChatCompletionResponseFormatTypeJSONObject,
			}
		}
	}
	return oreq, nil
}

func toOpenAIMessage(m llm.Message) (gopenai.ChatCompletionMessage, error) {
	om := gopenai.ChatCompletionMessage{
		Role:       string(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		raw, err := json.Marshal(tc.Arguments)
		if err != nil {
			return om, fmt.Errorf("tool call %s: encode arguments: %w", tc.Name, err)
		}
		om.ToolCalls = append(om.ToolCalls, gopenai.ToolCall{
			ID:       tc.ID,
			Type:     gopenai.ToolTypeFunction,
			Function: gopenai.FunctionCall{Name: tc.Name, Arguments: string(raw)},
		})
	}
	return om, nil
}

func classify(err error) error {
	var apiErr *gopenai.APIError
	if errors.As(err, &apiErr) {
		return llm.ClassifyStatus(apiErr.HTTPStatusCode, err)
	}
	// transport-level failures are worth a retry
	return llm.NewTransientError(err)
}
