package agent

import (
	"context"
	"fmt"
)

// subAgentFraming wraps a delegated task with the framing the child's first
// (and only) user message carries, so a sub-agent with no parent history
// still knows it is isolated and that its own final text is the only thing
// that reaches the parent.
const subAgentFraming = `## Sub-Agent Context

You are an isolated sub-agent spawned to handle one self-contained task. You
do not have access to the parent conversation's history — only the task
below. When you produce a final text reply with no further tool calls, that
reply is the ONLY thing the parent agent will see; make it a complete,
self-contained account of what you did and found.

## Your Task
%s`

// Spawn runs task as a fresh, isolated child loop under subSessionKey and
// returns its RunResult. The child gets its own session file (never the
// parent's), the delegate_task tool removed from its registry (recursive
// delegation is forbidden), and isSubAgent=true so it can't delegate either.
// The parent sees only result.Response — the child's tool calls and
// intermediate messages never appear in the parent's message array or
// session file.
func (l *Loop) Spawn(ctx context.Context, task, subSessionKey string) (RunResult, error) {
	child := &Loop{
		provider:               l.provider,
		sessions:               l.sessions,
		tools:                  l.tools.WithoutDelegate(),
		compactor:              l.compactor,
		ctxBuilder:             l.ctxBuilder,
		durable:                l.durable,
		model:                  l.model,
		maxTokens:              l.maxTokens,
		temperature:            l.temperature,
		maxIterations:          l.maxIterations,
		keepLastAssistantTurns: l.keepLastAssistantTurns,
		workspace:              l.workspace,
	}

	incomingText := fmt.Sprintf(subAgentFraming, task)
	return child.Run(ctx, subSessionKey, subSessionKey, incomingText, true)
}
