// Package compactor summarizes old conversation turns into a single
// synthetic message when a session grows past its token budget, so the
// live run keeps operating within the provider's context window.
package compactor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nanoagent/runtime/internal/providers"
	"github.com/nanoagent/runtime/internal/session"
)

const (
	DefaultMaxTokens        = 150_000
	DefaultThreshold        = 0.8
	DefaultKeepRecentTokens = 20_000
)

const summarizationSystemPrompt = `Summarize the conversation below so it can replace the original messages while preserving everything needed to continue the work. Produce markdown with exactly these sections:

## Goal
## Constraints
## Progress
### Done
### InProgress
### Blocked
## Key Decisions
## Next Steps
## Critical Context`

// Compactor summarizes and rewrites sessions that have grown too large.
type Compactor struct {
	provider providers.Provider
	sessions *session.Manager
	model    string

	maxTokens        int
	threshold        float64
	keepRecentTokens int
}

func New(provider providers.Provider, sessions *session.Manager, model string) *Compactor {
	return &Compactor{
		provider:         provider,
		sessions:         sessions,
		model:            model,
		maxTokens:        DefaultMaxTokens,
		threshold:        DefaultThreshold,
		keepRecentTokens: DefaultKeepRecentTokens,
	}
}

func (c *Compactor) WithBudget(maxTokens int, threshold float64, keepRecentTokens int) *Compactor {
	c.maxTokens = maxTokens
	c.threshold = threshold
	c.keepRecentTokens = keepRecentTokens
	return c
}

// EstimateTokens approximates a message's token footprint as
// ceil(byteLength(json)/4), the same coarse estimate the teacher's shell and
// web tools apply to output length before truncating.
func EstimateTokens(content string) int {
	n := len(content)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

func totalTokens(messages []providers.Message) int {
	total := 0
	for _, m := range messages {
		b, _ := json.Marshal(m)
		total += EstimateTokens(string(b))
	}
	return total
}

// ShouldCompact reports whether messages exceed maxTokens*threshold.
func (c *Compactor) ShouldCompact(messages []providers.Message) bool {
	return float64(totalTokens(messages)) > float64(c.maxTokens)*c.threshold
}

// Compact walks messages from the tail, accumulating token estimates until
// keepRecentTokens is reached (the message that reaches it stays in the kept
// tail), summarizes everything before that cut with
// one Complete call, and rewrites sessionKey's persisted history to the
// compacted form: one synthetic <summary> user message followed by the
// kept tail. If the cut leaves at most one message to summarize, it returns
// messages unchanged — a single message doesn't warrant a "summary".
func (c *Compactor) Compact(ctx context.Context, sessionKey string, messages []providers.Message) ([]providers.Message, error) {
	cut := len(messages)
	kept := 0
	for i := len(messages) - 1; i >= 0; i-- {
		b, _ := json.Marshal(messages[i])
		kept += EstimateTokens(string(b))
		if kept > c.keepRecentTokens {
			cut = i
			break
		}
		cut = i
	}

	if cut <= 1 {
		return messages, nil
	}

	toSummarize := messages[:cut]
	tail := messages[cut:]

	req := providers.ChatRequest{
		Model:        c.model,
		Messages:     toSummarize,
		Tools:        nil,
		SystemPrompt: summarizationSystemPrompt,
	}
	resp, err := c.provider.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("compactor: summarization failed: %w", err)
	}

	summaryMsg := providers.Message{
		Role:    "user",
		Content: "The conversation history before this point was compacted into the following summary: <summary>\n" + resp.Text() + "\n</summary>",
	}

	compacted := make([]providers.Message, 0, len(tail)+1)
	compacted = append(compacted, summaryMsg)
	compacted = append(compacted, tail...)

	if err := c.sessions.Rewrite(sessionKey, toSessionMessages(compacted)); err != nil {
		return nil, fmt.Errorf("compactor: session rewrite failed: %w", err)
	}

	return compacted, nil
}

func toSessionMessages(messages []providers.Message) []session.Message {
	out := make([]session.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "tool" {
			continue
		}
		out = append(out, session.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
