package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const maxSearchOutputLen = 50_000

// find_files tool

type FindFilesTool struct{}

func NewFindFilesTool() *FindFilesTool { return &FindFilesTool{} }

func (t *FindFilesTool) Name() string        { return "find" }
func (t *FindFilesTool) Description() string { return "Find files under a root whose name matches a glob pattern" }
func (t *FindFilesTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"root":    {"type": "string", "description": "Directory to search under"},
			"pattern": {"type": "string", "description": "filepath.Match-style glob applied to the base name"}
		},
		"required": ["root", "pattern"]
	}`)
}

func (t *FindFilesTool) Execute(_ context.Context, params json.RawMessage) (string, error) {
	var p struct {
		Root    string `json:"root"`
		Pattern string `json:"pattern"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	var matches []string
	err := filepath.WalkDir(p.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ok, matchErr := filepath.Match(p.Pattern, d.Name())
		if matchErr != nil {
			return matchErr
		}
		if ok {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("find failed: %w", err)
	}

	out := strings.Join(matches, "\n")
	return truncateSearchOutput(out), nil
}

// grep tool

type GrepTool struct{}

func NewGrepTool() *GrepTool { return &GrepTool{} }

func (t *GrepTool) Name() string        { return "grep" }
func (t *GrepTool) Description() string { return "Search file contents under a root for a regular expression" }
func (t *GrepTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"root":    {"type": "string", "description": "Directory to search under"},
			"pattern": {"type": "string", "description": "Regular expression to search for"}
		},
		"required": ["root", "pattern"]
	}`)
}

func (t *GrepTool) Execute(_ context.Context, params json.RawMessage) (string, error) {
	var p struct {
		Root    string `json:"root"`
		Pattern string `json:"pattern"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	re, err := regexp.Compile(p.Pattern)
	if err != nil {
		return "", fmt.Errorf("invalid pattern: %w", err)
	}

	var sb strings.Builder
	err = filepath.WalkDir(p.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if re.MatchString(line) {
				fmt.Fprintf(&sb, "%s:%d:%s\n", path, lineNo, line)
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("grep failed: %w", err)
	}

	return truncateSearchOutput(sb.String()), nil
}

func truncateSearchOutput(s string) string {
	if len(s) > maxSearchOutputLen {
		return s[:maxSearchOutputLen] + "\n[output truncated]"
	}
	return s
}
