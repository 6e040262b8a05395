// Package agent implements the durable think/act/observe loop: one call to
// Loop.Run drives a single conversational turn to completion, consulting the
// LLM gateway, dispatching any tool calls it requests, and folding their
// results back in until the model replies with text and no further tool
// calls. Generalized from the teacher's runToolLoop/processMessage into the
// bounded, durable-substep, pruning/compacting loop the spec describes.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nanoagent/runtime/internal/compactor"
	"github.com/nanoagent/runtime/internal/durable"
	"github.com/nanoagent/runtime/internal/errs"
	"github.com/nanoagent/runtime/internal/providers"
	"github.com/nanoagent/runtime/internal/pruner"
	"github.com/nanoagent/runtime/internal/session"
	"github.com/nanoagent/runtime/internal/tools"
)

const (
	DefaultMaxIterations          = 20
	DefaultKeepLastAssistantTurns = 3
	// historyWindow is how many persisted messages BuildConversationHistory
	// loads before a fresh turn's incoming text is appended.
	historyWindow = 10
)

// RunResult is what one agent run produces: the final textual reply plus
// bookkeeping the caller (or a parent run awaiting a sub-agent) may want.
type RunResult struct {
	Response   string
	Iterations int
	ToolCalls  int
	Model      string
}

// Loop drives one conversational turn end to end: context assembly,
// compaction, the bounded think/act/observe cycle, pruning, and session
// persistence.
type Loop struct {
	provider   providers.Provider
	sessions   *session.Manager
	tools      *tools.Registry
	compactor  *compactor.Compactor
	ctxBuilder *ContextBuilder
	durable    *durable.Store

	model       string
	maxTokens   int
	temperature float64

	maxIterations          int
	keepLastAssistantTurns int
	workspace              string
}

// Config holds every dependency and tunable Loop needs.
type Config struct {
	Provider       providers.Provider
	Sessions       *session.Manager
	Tools          *tools.Registry
	Compactor      *compactor.Compactor
	ContextBuilder *ContextBuilder
	Durable        *durable.Store

	Model       string
	MaxTokens   int
	Temperature float64

	MaxIterations          int
	KeepLastAssistantTurns int
	Workspace              string
}

// New builds a Loop from cfg, applying spec defaults for anything left zero.
func New(cfg Config) *Loop {
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	keepTurns := cfg.KeepLastAssistantTurns
	if keepTurns <= 0 {
		keepTurns = DefaultKeepLastAssistantTurns
	}
	return &Loop{
		provider:               cfg.Provider,
		sessions:               cfg.Sessions,
		tools:                  cfg.Tools,
		compactor:              cfg.Compactor,
		ctxBuilder:             cfg.ContextBuilder,
		durable:                cfg.Durable,
		model:                  cfg.Model,
		maxTokens:              cfg.MaxTokens,
		temperature:            cfg.Temperature,
		maxIterations:          maxIter,
		keepLastAssistantTurns: keepTurns,
		workspace:              cfg.Workspace,
	}
}

// Run drives one turn of sessionKey's conversation to completion. runID
// identifies this attempt for durable-substep replay: retrying a crashed run
// with the same runID replays every substep whose output was already
// recorded instead of re-executing its side effects. isSubAgent disables
// delegate_task interception, matching the spec's "no recursive spawning"
// invariant.
func (l *Loop) Run(ctx context.Context, runID, sessionKey, incomingText string, isSubAgent bool) (RunResult, error) {
	run := l.durable.NewRun(runID)

	systemPrompt, err := durable.Step(ctx, run, "build_system_prompt", func(context.Context) (string, error) {
		return l.ctxBuilder.BuildSystemPrompt(), nil
	})
	if err != nil {
		return RunResult{}, fmt.Errorf("agent: failed to build system prompt: %w", err)
	}

	history, err := durable.Step(ctx, run, "load_history", func(context.Context) ([]providers.Message, error) {
		return l.ctxBuilder.BuildConversationHistory(sessionKey, historyWindow)
	})
	if err != nil {
		return RunResult{}, fmt.Errorf("agent: failed to load history: %w", err)
	}

	if l.compactor.ShouldCompact(history) {
		history, err = durable.Step(ctx, run, "compact", func(ctx context.Context) ([]providers.Message, error) {
			return l.compactor.Compact(ctx, sessionKey, history)
		})
		if err != nil {
			return RunResult{}, fmt.Errorf("agent: compaction failed: %w", err)
		}
	}

	messages := make([]providers.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, providers.Message{Role: "user", Content: incomingText})

	toolDefs := toProviderTools(l.tools.Definitions())

	var (
		finalResponse       string
		done                bool
		iterations          int
		totalToolCalls      int
		hasCompactedThisRun bool
	)

	for !done && iterations < l.maxIterations {
		if ctx.Err() != nil {
			return RunResult{}, ctx.Err()
		}
		iterations++

		if iterations > l.keepLastAssistantTurns {
			pruner.Prune(messages, iterations, l.keepLastAssistantTurns)
		}

		outgoing := messages
		switch {
		case iterations >= l.maxIterations-3:
			outgoing = append(append([]providers.Message{}, messages...), providers.Message{
				Role:    "user",
				Content: fmt.Sprintf("[SYSTEM: iter %d/%d — respond NOW]", iterations, l.maxIterations),
			})
		case iterations >= l.maxIterations-10:
			outgoing = append(append([]providers.Message{}, messages...), providers.Message{
				Role:    "user",
				Content: "[SYSTEM: wrap up]",
			})
		}

		reply, thinkErr := durable.Step(ctx, run, "think", func(ctx context.Context) (*providers.ChatResponse, error) {
			return l.provider.Chat(ctx, providers.ChatRequest{
				Model:        l.model,
				Messages:     outgoing,
				Tools:        toolDefs,
				MaxTokens:    l.maxTokens,
				Temperature:  l.temperature,
				SystemPrompt: systemPrompt,
			})
		})

		var stepErr error
		if thinkErr != nil {
			stepErr = thinkErr
		} else if reply.StopReason == providers.StopReasonError {
			stepErr = fmt.Errorf("provider returned stop_reason=error: %s", reply.Text())
		}

		if stepErr != nil {
			if errs.IsOverflow(stepErr) && !hasCompactedThisRun {
				messages = emergencyCompact(messages)
				hasCompactedThisRun = true
				iterations--
				continue
			}
			return RunResult{}, stepErr
		}

		toolCalls := reply.ToolCalls()
		if len(toolCalls) == 0 && strings.TrimSpace(reply.Text()) != "" {
			finalResponse = reply.Text()
			done = true
			break
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   reply.Text(),
			ToolCalls: toolCalls,
		})

		for _, tc := range toolCalls {
			resultText, isDelegate := "", tc.Name == tools.DelegateTaskName
			if isDelegate && !isSubAgent {
				delegated, spawnErr := durable.Step(ctx, run, "spawn", func(ctx context.Context) (string, error) {
					return l.spawnDelegate(ctx, tc.Arguments, sessionKey)
				})
				if spawnErr != nil {
					resultText = fmt.Sprintf("Error: %v", spawnErr)
				} else {
					resultText = delegated
				}
			} else {
				result, _ := durable.Step(ctx, run, "tool", func(ctx context.Context) (tools.Result, error) {
					return l.tools.Execute(ctx, tc.Name, json.RawMessage(tc.Arguments)), nil
				})
				resultText = result.Text
			}

			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    resultText,
				ToolCallID: tc.ID,
			})
			totalToolCalls++
		}
	}

	if !done {
		finalResponse = fmt.Sprintf("(Reached max iterations: %d)", l.maxIterations)
	}

	// A run superseded by a newer MessageReceived for this session key must
	// never persist its reply — the caller that cancelled us already owns
	// the session's next state.
	if ctx.Err() != nil {
		return RunResult{}, ctx.Err()
	}

	if _, err := durable.Step(ctx, run, "persist_user", func(context.Context) (struct{}, error) {
		return struct{}{}, l.sessions.Append(sessionKey, session.RoleUser, incomingText, nil)
	}); err != nil {
		return RunResult{}, fmt.Errorf("agent: failed to persist user turn: %w", err)
	}
	if _, err := durable.Step(ctx, run, "persist_assistant", func(context.Context) (struct{}, error) {
		return struct{}{}, l.sessions.Append(sessionKey, session.RoleAssistant, finalResponse, map[string]string{
			"iterations": fmt.Sprintf("%d", iterations),
			"toolCalls":  fmt.Sprintf("%d", totalToolCalls),
		})
	}); err != nil {
		return RunResult{}, fmt.Errorf("agent: failed to persist assistant turn: %w", err)
	}

	return RunResult{
		Response:   finalResponse,
		Iterations: iterations,
		ToolCalls:  totalToolCalls,
		Model:      l.model,
	}, nil
}

// spawnDelegate parses a delegate_task call's arguments and hands the task
// off to a fresh isolated sub-agent run, returning only its final response —
// the parent never sees the child's intermediate messages or tool calls.
func (l *Loop) spawnDelegate(ctx context.Context, rawArgs, parentSessionKey string) (string, error) {
	var args struct {
		Task string `json:"task"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return "", fmt.Errorf("invalid delegate_task arguments: %w", err)
	}
	subSessionKey := fmt.Sprintf("sub-%s-%s", parentSessionKey, uuid.NewString())
	result, err := l.Spawn(ctx, args.Task, subSessionKey)
	if err != nil {
		return "", err
	}
	return result.Response, nil
}

func toProviderTools(defs []tools.ToolDefinition) []providers.ToolDef {
	result := make([]providers.ToolDef, len(defs))
	for i, d := range defs {
		result[i] = providers.ToolDef{
			Type: d.Type,
			Function: providers.FunctionDef{
				Name:        d.Function.Name,
				Description: d.Function.Description,
				Parameters:  d.Function.Parameters,
			},
		}
	}
	return result
}

// emergencyCompact is the last-resort, LLM-free recovery path taken when a
// provider rejects a request as too large for its context window: it keeps
// the tail of the conversation verbatim and coarsely truncates everything
// older into one synthetic message rather than risk the retry overflowing
// again. Per spec §9's open-question decision, the 200-char-per-message
// truncation is deliberate policy, not a placeholder heuristic.
func emergencyCompact(messages []providers.Message) []providers.Message {
	keep := 6
	if len(messages) < keep {
		keep = len(messages)
	}
	cut := len(messages) - keep
	old, tail := messages[:cut], messages[cut:]

	var sb strings.Builder
	sb.WriteString("The following is a coarse emergency summary of earlier conversation, truncated to fit the provider's context window:\n\n")
	for _, m := range old {
		content := m.Content
		if len(content) > 200 {
			content = content[:200] + "..."
		}
		fmt.Fprintf(&sb, "[%s] %s\n", m.Role, content)
	}

	compacted := make([]providers.Message, 0, len(tail)+1)
	compacted = append(compacted, providers.Message{Role: "user", Content: sb.String()})
	compacted = append(compacted, tail...)
	return compacted
}
