package prompt

import (
	"fmt"

	"github.com/hupe1980/researchmesh/internal/util"
)

// Progress message keys.
const (
	MsgRoute        = "route"
	MsgPlan         = "plan"
	MsgPlanOverflow = "plan_overflow"
	MsgRevisePlan   = "revise_plan"
	MsgSelectTool   = "select_tool"
	MsgSkipTask     = "skip_task"
	MsgToolResult   = "tool_result"
	MsgUpdateStatus = "update_status"
	MsgJudgeReplan  = "judge_replan"
	MsgJudgeFinal   = "judge_final"
	MsgMaxTurn      = "max_turn"
	MsgAskHuman     = "ask_human"
	MsgPaperQuery   = "paper_query"
	MsgElapsed      = "elapsed"
)

// Messages is the localized catalog of progress messages.
type Messages struct {
	lang    string
	entries map[string]string
}

// LoadMessages reads the embedded catalog for lang, falling back to English
// for missing languages or keys, and overlays overridePath when non-empty.
func LoadMessages(lang, overridePath string) (*Messages, error) {
	entries := map[string]string{}
	if err := loadEmbedded("messages", lang, &entries); err != nil {
		return nil, err
	}
	if overridePath != "" {
		if err := loadFile(overridePath, &entries); err != nil {
			return nil, err
		}
	}
	return &Messages{lang: lang, entries: entries}, nil
}

// Lang returns the catalog language.
func (m *Messages) Lang() string { return m.lang }

// Format renders key with data. Unknown keys and broken templates fall back
// to a plain rendering so progress reporting never fails a run.
func (m *Messages) Format(key string, data map[string]any) string {
	tmpl, ok := m.entries[key]
	if !ok {
		return fmt.Sprintf("%s %v", key, data)
	}
	out, err := util.RenderTemplate(tmpl, data)
	if err != nil {
		return tmpl
	}
	return out
}
