package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxFileOutputLen bounds coding-tool output per spec §4.5 step 3.
const maxFileOutputLen = 50_000

func truncateFileOutput(s string) string {
	if len(s) > maxFileOutputLen {
		return s[:maxFileOutputLen] + "\n[output truncated]"
	}
	return s
}

// resolveInWorkspace joins path against root and rejects escapes, so every
// coding tool operates against a fixed workspace root per spec §4.5 step 3.
func resolveInWorkspace(root, path string) (string, error) {
	if root == "" {
		return path, nil
	}
	full := filepath.Join(root, path)
	rel, err := filepath.Rel(root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes workspace root", path)
	}
	return full, nil
}

// read tool

type ReadFileTool struct{ Root string }

func NewReadFileTool(root string) *ReadFileTool { return &ReadFileTool{Root: root} }

func (t *ReadFileTool) Name() string        { return "read" }
func (t *ReadFileTool) Description() string { return "Read file content with optional line offset and limit" }
func (t *ReadFileTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path":   {"type": "string", "description": "File path to read"},
			"offset": {"type": "integer", "description": "Line offset (1-based, optional)"},
			"limit":  {"type": "integer", "description": "Max lines to return (optional)"}
		},
		"required": ["path"]
	}`)
}

func (t *ReadFileTool) Execute(_ context.Context, params json.RawMessage) (string, error) {
	var p struct {
		Path   string `json:"path"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	path, err := resolveInWorkspace(t.Root, p.Path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	lines := strings.Split(string(data), "\n")
	start := 0
	if p.Offset > 0 {
		start = p.Offset - 1
	}
	if start >= len(lines) {
		return "", fmt.Errorf("offset %d exceeds file length %d", p.Offset, len(lines))
	}
	end := len(lines)
	if p.Limit > 0 && start+p.Limit < end {
		end = start + p.Limit
	}
	var sb strings.Builder
	for i, line := range lines[start:end] {
		fmt.Fprintf(&sb, "%d\t%s\n", start+i+1, line)
	}
	return truncateFileOutput(sb.String()), nil
}

// write tool

type WriteFileTool struct{ Root string }

func NewWriteFileTool(root string) *WriteFileTool { return &WriteFileTool{Root: root} }

func (t *WriteFileTool) Name() string        { return "write" }
func (t *WriteFileTool) Description() string { return "Write content to a file, creating parent directories as needed" }
func (t *WriteFileTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path":    {"type": "string", "description": "File path to write"},
			"content": {"type": "string", "description": "Content to write"}
		},
		"required": ["path", "content"]
	}`)
}

func (t *WriteFileTool) Execute(_ context.Context, params json.RawMessage) (string, error) {
	var p struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	path, err := resolveInWorkspace(t.Root, p.Path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directories: %w", err)
	}
	if err := os.WriteFile(path, []byte(p.Content), 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return fmt.Sprintf("File written: %s", p.Path), nil
}

// edit tool

type EditFileTool struct{ Root string }

func NewEditFileTool(root string) *EditFileTool { return &EditFileTool{Root: root} }

func (t *EditFileTool) Name() string        { return "edit" }
func (t *EditFileTool) Description() string { return "Replace first occurrence of old_text with new_text in a file" }
func (t *EditFileTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path":     {"type": "string", "description": "File path to edit"},
			"old_text": {"type": "string", "description": "Text to replace"},
			"new_text": {"type": "string", "description": "Replacement text"}
		},
		"required": ["path", "old_text", "new_text"]
	}`)
}

func (t *EditFileTool) Execute(_ context.Context, params json.RawMessage) (string, error) {
	var p struct {
		Path    string `json:"path"`
		OldText string `json:"old_text"`
		NewText string `json:"new_text"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	path, err := resolveInWorkspace(t.Root, p.Path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	content := string(data)
	if !strings.Contains(content, p.OldText) {
		return "", fmt.Errorf("old_text not found in %s", p.Path)
	}
	updated := strings.Replace(content, p.OldText, p.NewText, 1)
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return fmt.Sprintf("File edited: %s", p.Path), nil
}

// ls tool

type ListDirTool struct{ Root string }

func NewListDirTool(root string) *ListDirTool { return &ListDirTool{Root: root} }

func (t *ListDirTool) Name() string        { return "ls" }
func (t *ListDirTool) Description() string { return "List directory contents with type indicators" }
func (t *ListDirTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Directory path to list"}
		},
		"required": ["path"]
	}`)
}

func (t *ListDirTool) Execute(_ context.Context, params json.RawMessage) (string, error) {
	var p struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	path, err := resolveInWorkspace(t.Root, p.Path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("failed to list directory: %w", err)
	}
	var sb strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintf(&sb, "%s/\n", e.Name())
		} else {
			fmt.Fprintf(&sb, "%s\n", e.Name())
		}
	}
	return truncateFileOutput(sb.String()), nil
}
