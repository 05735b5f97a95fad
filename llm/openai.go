// ABOUTME: OpenAI Chat Completions backend built on the official openai-go SDK.
// ABOUTME: Supports custom base URLs for compatible providers and maps API failures onto the retryable error hierarchy.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is the model used when none is configured.
const DefaultModel = "gpt-4o-mini"

// OpenAI implements Backend using the Chat Completions API.
type OpenAI struct {
	client openai.Client
	model  string
}

// OpenAIOption is a functional option for configuring an OpenAI backend.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// WithOpenAIBaseURL points the backend at an OpenAI-compatible endpoint.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) {
		c.baseURL = url
	}
}

// WithOpenAITimeout bounds each HTTP request.
func WithOpenAITimeout(d time.Duration) OpenAIOption {
	return func(c *openAIConfig) {
		c.timeout = d
	}
}

// WithOpenAIHTTPClient replaces the HTTP client used for requests.
func WithOpenAIHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *openAIConfig) {
		c.httpClient = hc
	}
}

// NewOpenAI creates a Chat Completions backend. SDK-level retries are disabled
// because the stage executor owns the retry policy.
func NewOpenAI(apiKey, model string, opts ...OpenAIOption) *OpenAI {
	if model == "" {
		model = DefaultModel
	}
	var cfg openAIConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.timeout))
	}
	if cfg.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	}
	return &OpenAI{
		client: openai.NewClient(reqOpts...),
		model:  model,
	}
}

// Name identifies the backend in logs and run records.
func (o *OpenAI) Name() string { return "openai" }

// Model returns the configured default model.
func (o *OpenAI) Model() string { return o.model }

// Complete sends the request and returns the first choice.
func (o *OpenAI) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Model == "" {
		req.Model = o.model
	}

	resp, err := o.client.Chat.Completions.New(ctx, convertRequest(req))
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ServerError{StatusError: StatusError{
			BackendError: BackendError{Message: "openai returned no choices"},
			Backend:      "openai",
			Retryable:    true,
		}}
	}

	choice := resp.Choices[0]
	msg := Message{Role: RoleAssistant, Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return &Response{
		Message:      msg,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
	}, nil
}

// classifyOpenAIError maps SDK failures onto the backend error hierarchy.
func classifyOpenAIError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return ErrorFromStatusCode(apiErr.StatusCode, fmt.Sprintf("openai request failed with status %d", apiErr.StatusCode), "openai", err)
	}
	if IsNetworkError(err) {
		return &NetworkError{BackendError: BackendError{Message: "openai request failed", Cause: err}}
	}
	return &ResponseError{BackendError: BackendError{Message: "openai response unusable", Cause: err}}
}

// convertRequest converts a Request to OpenAI ChatCompletionNewParams.
func convertRequest(req Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: req.Model,
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case RoleAssistant:
			messages = append(messages, convertAssistantMessage(msg))
		case RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		}
	}
	params.Messages = messages

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(tool.Parameters),
				},
			})
		}
		params.Tools = tools
	}

	return params
}

// convertAssistantMessage keeps tool calls so tool results stay paired on replay.
func convertAssistantMessage(msg Message) openai.ChatCompletionMessageParamUnion {
	if len(msg.ToolCalls) == 0 {
		return openai.AssistantMessage(msg.Content)
	}

	toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		args := tc.Arguments
		if args == "" || !json.Valid([]byte(args)) {
			args = "{}"
		}
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   tc.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: args,
			},
		})
	}

	asstMsg := openai.ChatCompletionAssistantMessageParam{
		Role:      "assistant",
		ToolCalls: toolCalls,
	}
	if msg.Content != "" {
		asstMsg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: openai.String(msg.Content),
		}
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &asstMsg}
}

// Compile-time interface assertion.
var _ Backend = (*OpenAI)(nil)
