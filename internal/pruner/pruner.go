// Package pruner trims old tool-result output from a live run's in-memory
// message slice, generalizing the truncate-on-write idiom the shell and web
// tools already apply to a single output string (internal/tools.maxOutputLen,
// maxWebContentLen) to the whole conversation. It never touches the
// persisted session — only the []providers.Message slice the loop is
// currently operating on.
package pruner

import (
	"fmt"

	"github.com/nanoagent/runtime/internal/providers"
)

const (
	DefaultKeepLastAssistantTurns = 3
	hardClearThreshold            = 50_000
	softTrimThreshold             = 4_000
	softTrimHeadLen               = 1500
	softTrimTailLen               = 1500

	hardClearPlaceholder = "[Tool result cleared — old context]"
)

// Prune mutates messages in place, hard-clearing or soft-trimming old
// tool-result entries once the run has progressed past
// keepLastAssistantTurns assistant turns. If keepLastAssistantTurns <= 0,
// DefaultKeepLastAssistantTurns is used.
func Prune(messages []providers.Message, iteration, keepLastAssistantTurns int) {
	if keepLastAssistantTurns <= 0 {
		keepLastAssistantTurns = DefaultKeepLastAssistantTurns
	}
	if iteration <= keepLastAssistantTurns {
		return
	}

	cutoff := len(messages) - 2*keepLastAssistantTurns
	if cutoff <= 0 {
		return
	}

	oldToolResults := oldToolResultIndices(messages, cutoff)
	if len(oldToolResults) == 0 {
		return
	}

	totalOld := 0
	for _, idx := range oldToolResults {
		totalOld += len(messages[idx].Content)
	}

	hardClear := totalOld > hardClearThreshold
	for _, idx := range oldToolResults {
		if hardClear {
			messages[idx].Content = hardClearPlaceholder
			continue
		}
		messages[idx].Content = softTrim(messages[idx].Content)
	}
}

func oldToolResultIndices(messages []providers.Message, cutoff int) []int {
	var idxs []int
	for i := 0; i < cutoff && i < len(messages); i++ {
		if messages[i].Role == "tool" {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

func softTrim(content string) string {
	if len(content) <= softTrimThreshold {
		return content
	}
	trimmed := len(content) - softTrimHeadLen - softTrimTailLen
	return fmt.Sprintf("%s...[%d chars trimmed]...%s",
		content[:softTrimHeadLen],
		trimmed,
		content[len(content)-softTrimTailLen:],
	)
}
