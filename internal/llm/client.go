package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stellarlinkco/yui/internal/config"
)

// ChatMessage is one entry of a chat/completions conversation.
type ChatMessage struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolSpec describes a callable tool in the request payload.
// Parameters is a JSON Schema object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ChatResult is the assistant reply: text content plus any tool calls.
type ChatResult struct {
	Content   string
	ToolCalls []ToolCall
}

// Client talks to an OpenAI-compatible chat/completions endpoint.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		apiKey:      cfg.Provider.APIKey,
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.Provider.BaseURL), "/"),
		model:       cfg.Agent.Model,
		maxTokens:   cfg.Agent.MaxTokens,
		temperature: cfg.Agent.Temperature,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Agent.LLMTimeoutMs) * time.Millisecond,
		},
	}
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// Chat sends the message sequence and optional tool specs, returning
// the assistant content and requested tool calls.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (*ChatResult, error) {
	body := map[string]any{
		"model":       c.model,
		"messages":    encodeMessages(messages),
		"max_tokens":  c.maxTokens,
		"temperature": c.temperature,
	}
	if len(tools) > 0 {
		encoded := make([]map[string]any, 0, len(tools))
		for _, t := range tools {
			encoded = append(encoded, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Parameters,
				},
			})
		}
		body["tools"] = encoded
	}

	msg, err := c.send(ctx, body)
	if err != nil {
		return nil, err
	}

	result := &ChatResult{Content: strings.TrimSpace(msg.Content)}
	for _, tc := range msg.ToolCalls {
		call := ToolCall{ID: tc.ID, Name: tc.Function.Name}
		if args := strings.TrimSpace(tc.Function.Arguments); args != "" {
			if err := json.Unmarshal([]byte(args), &call.Args); err != nil {
				call.Args = map[string]any{"raw": args}
			}
		}
		if call.Args == nil {
			call.Args = map[string]any{}
		}
		result.ToolCalls = append(result.ToolCalls, call)
	}
	return result, nil
}

// Complete runs a single-prompt completion and returns the text reply.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	body := map[string]any{
		"model":       c.model,
		"messages":    []wireMessage{{Role: "user", Content: prompt}},
		"max_tokens":  c.maxTokens,
		"temperature": 0.3,
	}
	msg, err := c.send(ctx, body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(msg.Content), nil
}

// CompleteJSON is Complete with the provider forced into JSON mode.
func (c *Client) CompleteJSON(ctx context.Context, prompt string) (string, error) {
	body := map[string]any{
		"model":           c.model,
		"messages":        []wireMessage{{Role: "user", Content: prompt}},
		"max_tokens":      c.maxTokens,
		"temperature":     0.3,
		"response_format": map[string]string{"type": "json_object"},
	}
	msg, err := c.send(ctx, body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(msg.Content), nil
}

func encodeMessages(messages []ChatMessage) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Args)
			if err != nil {
				args = []byte("{}")
			}
			wtc := wireToolCall{ID: tc.ID, Type: "function"}
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = string(args)
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		out = append(out, wm)
	}
	return out
}

func (c *Client) send(ctx context.Context, body map[string]any) (*wireMessage, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return nil, fmt.Errorf("missing provider api key")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("missing provider base url")
	}
	if c.model == "" {
		return nil, fmt.Errorf("missing model")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("chat model http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded struct {
		Choices []struct {
			Message wireMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("empty choices in response")
	}

	msg := decoded.Choices[0].Message
	if strings.TrimSpace(msg.Content) == "" && len(msg.ToolCalls) == 0 {
		return nil, fmt.Errorf("empty content in response")
	}
	return &msg, nil
}
