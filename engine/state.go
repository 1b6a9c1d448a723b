package engine

import "github.com/hupe1980/researchmesh/core"

// State names a node of the orchestration state machine.
type State string

const (
	StateStart        State = "START"
	StateRoute        State = "ROUTE"
	StateAnswerDirect State = "ANSWER_DIRECT"
	StateAskHuman     State = "ASK_HUMAN"
	StatePlan         State = "PLAN"
	StateSelectTool   State = "SELECT_TOOL"
	StateExecuteTool  State = "EXECUTE_TOOL"
	StateUpdateStatus State = "UPDATE_STATUS"
	StateJudgeReplan  State = "JUDGE_REPLAN"
	StateRevisePlan   State = "REVISE_PLAN"
	StateFinalize     State = "FINALIZE"
	StateEnd          State = core.StateEnd
)

var transitions = map[State][]State{
	StateStart:        {StateRoute},
	StateRoute:        {StateAnswerDirect, StateAskHuman, StatePlan},
	StateAnswerDirect: {StateEnd},
	StateAskHuman:     {StateEnd},
	StatePlan:         {StateSelectTool},
	StateSelectTool:   {StateExecuteTool},
	StateExecuteTool:  {StateUpdateStatus},
	StateUpdateStatus: {StateSelectTool, StateJudgeReplan},
	StateJudgeReplan:  {StateRevisePlan, StateFinalize},
	StateRevisePlan:   {StateSelectTool},
	StateFinalize:     {StateEnd},
}

// CanTransition reports whether from → to is an edge of the state machine.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
