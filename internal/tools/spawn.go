package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// DelegateTaskTool is registered only in the main registry so the model can
// see and call it, but the loop intercepts delegate_task calls before they
// reach Registry.Execute and routes them to the sub-agent spawner directly —
// Execute here is never actually invoked in normal operation.
type DelegateTaskTool struct{}

func NewDelegateTaskTool() *DelegateTaskTool { return &DelegateTaskTool{} }

func (t *DelegateTaskTool) Name() string { return DelegateTaskName }
func (t *DelegateTaskTool) Description() string {
	return "Delegate a self-contained subtask to an isolated sub-agent and receive its final response"
}
func (t *DelegateTaskTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task":  {"type": "string", "description": "Task description for the sub-agent"},
			"label": {"type": "string", "description": "Short label for the task"}
		},
		"required": ["task"]
	}`)
}

func (t *DelegateTaskTool) Execute(_ context.Context, _ json.RawMessage) (string, error) {
	return "", fmt.Errorf("delegate_task must be intercepted by the agent loop, not dispatched through the registry")
}
