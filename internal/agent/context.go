package agent

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/nanoagent/runtime/internal/bus"
	"github.com/nanoagent/runtime/internal/memory"
	"github.com/nanoagent/runtime/internal/providers"
	"github.com/nanoagent/runtime/internal/session"
)

// defaultIdentityTemplate is used when no SOUL.md is present in the workspace.
const defaultIdentityTemplate = "You are %s, an autonomous assistant operating continuously across conversations."

// behavioralGuidelines are fixed instructions appended to every system prompt,
// independent of identity or memory content.
const behavioralGuidelines = `## Guidelines

- Use tools to gather information or take action; do not guess at facts you can look up.
- Your text reply ends the turn. Once you produce a final text response with no further tool calls, the run stops and that text is sent back to the user.
- Keep tool arguments precise; invalid arguments are rejected before the tool runs.`

// ContextBuilder assembles system prompts and conversation history for a run.
type ContextBuilder struct {
	workspace string
	agentName string
	memory    *memory.Store
	sessions  *session.Manager
}

func NewContextBuilder(workspace, agentName string, mem *memory.Store, sessions *session.Manager) *ContextBuilder {
	return &ContextBuilder{
		workspace: workspace,
		agentName: agentName,
		memory:    mem,
		sessions:  sessions,
	}
}

// BuildSystemPrompt concatenates identity, optional user info, the memory
// block, and fixed behavioral guidelines, in that order. Absent optional
// files are skipped without error.
func (c *ContextBuilder) BuildSystemPrompt() string {
	var parts []string

	if soul := c.memory.ReadSoul(); soul != "" {
		parts = append(parts, soul)
	} else {
		parts = append(parts, fmt.Sprintf(defaultIdentityTemplate, c.agentName))
	}

	if user := c.memory.ReadUser(); user != "" {
		parts = append(parts, user)
	}

	if block := c.memoryBlock(); block != "" {
		parts = append(parts, block)
	}

	parts = append(parts, behavioralGuidelines)

	return strings.Join(parts, "\n\n---\n\n")
}

// memoryBlock assembles curated memory plus yesterday's and today's daily
// logs, skipping any that are empty or absent.
func (c *ContextBuilder) memoryBlock() string {
	var sections []string

	if curated := c.memory.ReadMemory(); curated != "" {
		sections = append(sections, "## Memory\n\n"+curated)
	}

	now := time.Now().UTC()
	if yesterday := c.memory.ReadDailyLog(now.AddDate(0, 0, -1)); yesterday != "" {
		sections = append(sections, "## Yesterday\n\n"+yesterday)
	}
	if today := c.memory.ReadDailyLog(now); today != "" {
		sections = append(sections, "## Today\n\n"+today)
	}

	return strings.Join(sections, "\n\n")
}

// BuildConversationHistory loads the session and returns only user/assistant
// entries — tool results are never replayed from persistence; they exist
// only within the live run that produced them.
func (c *ContextBuilder) BuildConversationHistory(sessionKey string, maxMessages int) ([]providers.Message, error) {
	msgs, err := c.sessions.Load(sessionKey, maxMessages)
	if err != nil {
		return nil, fmt.Errorf("failed to load session history: %w", err)
	}

	history := make([]providers.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != session.RoleUser && m.Role != session.RoleAssistant {
			continue
		}
		history = append(history, providers.Message{Role: m.Role, Content: m.Content})
	}
	return history, nil
}

// ProcessMedia converts a slice of bus.Media items into ContentParts for multimodal messages.
// URL media becomes an image_url part directly; local file media is read, MIME-detected,
// and base64-encoded into a data URI; inline Data bytes are base64-encoded into a data URI.
func ProcessMedia(media []bus.Media) []providers.ContentPart {
	parts := make([]providers.ContentPart, 0, len(media))
	for _, m := range media {
		switch {
		case m.Data != nil:
			// Inline bytes — detect MIME if not provided, then encode as data URI.
			mime := m.MimeType
			if mime == "" {
				mime = http.DetectContentType(m.Data)
			}
			encoded := base64.StdEncoding.EncodeToString(m.Data)
			parts = append(parts, providers.ContentPart{
				Type: "image_url",
				ImageURL: &providers.ImageURL{
					URL:    fmt.Sprintf("data:%s;base64,%s", mime, encoded),
					Detail: "auto",
				},
			})
		case isLocalPath(m.URL):
			// Local file — read, detect MIME, encode.
			data, err := os.ReadFile(m.URL)
			if err != nil {
				continue
			}
			mime := m.MimeType
			if mime == "" {
				mime = http.DetectContentType(data)
			}
			encoded := base64.StdEncoding.EncodeToString(data)
			parts = append(parts, providers.ContentPart{
				Type: "image_url",
				ImageURL: &providers.ImageURL{
					URL:    fmt.Sprintf("data:%s;base64,%s", mime, encoded),
					Detail: "auto",
				},
			})
		case m.URL != "":
			// Remote URL — pass through directly.
			parts = append(parts, providers.ContentPart{
				Type: "image_url",
				ImageURL: &providers.ImageURL{
					URL:    m.URL,
					Detail: "auto",
				},
			})
		}
	}
	return parts
}

// isLocalPath returns true when the string looks like a filesystem path rather than a URL.
func isLocalPath(s string) bool {
	return !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") && s != ""
}
