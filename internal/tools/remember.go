package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nanoagent/runtime/internal/memory"
)

type RememberTool struct {
	store *memory.Store
}

func NewRememberTool(store *memory.Store) *RememberTool {
	return &RememberTool{store: store}
}

func (t *RememberTool) Name() string        { return "remember" }
func (t *RememberTool) Description() string { return "Append a note to today's daily log for the heartbeat to later distill into long-term memory" }
func (t *RememberTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"note": {"type": "string", "description": "What to remember"}
		},
		"required": ["note"]
	}`)
}

func (t *RememberTool) Execute(_ context.Context, params json.RawMessage) (string, error) {
	var p struct {
		Note string `json:"note"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if err := t.store.AppendDailyLog(p.Note); err != nil {
		return "", fmt.Errorf("failed to append daily log: %w", err)
	}
	return "Noted.", nil
}
