package providers

import (
	"context"
	"encoding/json"
)

// Provider is the LLM provider interface
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

type ChatRequest struct {
	Model        string    `json:"model"`
	Messages     []Message `json:"messages"`
	Tools        []ToolDef `json:"tools,omitempty"`
	MaxTokens    int       `json:"max_tokens,omitempty"`
	Temperature  float64   `json:"temperature,omitempty"`
	SystemPrompt string    `json:"-"` // handled separately by some providers
}

// Normalized stop reasons, stable across provider adapters.
const (
	StopReasonStop      = "stop"
	StopReasonToolCall  = "tool_call"
	StopReasonMaxTokens = "max_tokens"
	StopReasonError     = "error"
)

type ChatResponse struct {
	Content      string     `json:"content"`
	RequestedTools []ToolCall `json:"tool_calls,omitempty"`
	Usage        Usage      `json:"usage"`
	StopReason   string     `json:"stop_reason"`
}

// Text returns the response's plain text content.
func (r *ChatResponse) Text() string {
	return r.Content
}

// ToolCalls returns the tool calls the model requested, if any.
func (r *ChatResponse) ToolCalls() []ToolCall {
	return r.RequestedTools
}

// ContentPart represents a part of a multimodal message.
type ContentPart struct {
	Type     string    `json:"type"`               // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL holds the URL and optional detail level for an image content part.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"` // "auto", "low", "high"
}

type Message struct {
	Role         string        `json:"role"` // "system", "user", "assistant", "tool"
	Content      string        `json:"content,omitempty"`
	ContentParts []ContentPart `json:"content_parts,omitempty"` // for multimodal
	ToolCallID   string        `json:"tool_call_id,omitempty"`
	ToolCalls    []ToolCall    `json:"tool_calls,omitempty"`
}

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

type ToolDef struct {
	Type     string      `json:"type"` // "function"
	Function FunctionDef `json:"function"`
}

type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
