// Package history derives model-facing views from a thread's message log:
// the current turn's task/result pairs and the flat conversation transcript.
package history

import (
	"strings"

	"github.com/hupe1980/researchmesh/core"
)

const (
	prefixUser      = "UserMessage: "
	prefixAssistant = "AssistantMessage: "
	prefixTool      = "ToolMessage: "
)

// Options configures an Extractor.
type Options struct {
	// MaxTranscriptMessages bounds the transcript to the most recent N
	// rendered messages. Zero renders everything.
	MaxTranscriptMessages int
}

// Extractor renders history views. It holds no per-thread state and is safe
// for concurrent use.
type Extractor struct {
	opts Options
}

// New constructs an Extractor.
func New(optFns ...func(o *Options)) *Extractor {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Extractor{opts: opts}
}

// TurnHistory renders every tool result since the most recent turn marker,
// paired with the task of the nearest preceding task marker, one
// "AssistantMessage: <task>\nToolMessage: <result>" entry per result in
// chronological order. Without a marker the whole log is scanned.
func (e *Extractor) TurnHistory(msgs []core.Message) string {
	start := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsTurnMarker() {
			start = i + 1
			break
		}
	}

	var (
		entries []string
		task    string
		hasTask bool
	)
	for _, m := range msgs[start:] {
		if t, ok := m.TaskText(); ok {
			task, hasTask = t, true
			continue
		}
		if m.Role != core.RoleTool || !hasTask {
			continue
		}
		entries = append(entries, prefixAssistant+task+"\n"+prefixTool+m.Content)
	}
	if len(entries) == 0 {
		return ""
	}
	return strings.Join(entries, "\n") + "\n"
}

// Transcript renders all non-empty plain messages with a role prefix. The
// most recent user message is always included.
func (e *Extractor) Transcript(msgs []core.Message) string {
	latestUser := latestUserIndex(msgs)

	idx := make([]int, 0, len(msgs))
	for i, m := range msgs {
		if i == latestUser || (!m.IsStructured() && m.Content != "") {
			idx = append(idx, i)
		}
	}

	if max := e.opts.MaxTranscriptMessages; max > 0 && len(idx) > max {
		cut := idx[len(idx)-max:]
		if latestUser >= 0 && cut[0] > latestUser {
			cut = append([]int{latestUser}, cut[1:]...)
		}
		idx = cut
	}

	lines := make([]string, 0, len(idx))
	for _, i := range idx {
		lines = append(lines, render(msgs[i]))
	}
	return strings.Join(lines, "\n")
}

func render(m core.Message) string {
	switch m.Role {
	case core.RoleUser:
		return prefixUser + m.Content
	case core.RoleTool:
		return prefixTool + m.Content
	default:
		return prefixAssistant + m.Content
	}
}

func latestUserIndex(msgs []core.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == core.RoleUser {
			return i
		}
	}
	return -1
}

// LatestUserText returns the content of the most recent user message.
func LatestUserText(msgs []core.Message) (string, bool) {
	if i := latestUserIndex(msgs); i >= 0 {
		return msgs[i].Content, true
	}
	return "", false
}

// LatestToolResults returns the trailing run of tool result messages, in
// order. It is empty when the log does not end with tool results.
func LatestToolResults(msgs []core.Message) []core.Message {
	i := len(msgs)
	for i > 0 && msgs[i-1].Role == core.RoleTool {
		i--
	}
	return append([]core.Message(nil), msgs[i:]...)
}
