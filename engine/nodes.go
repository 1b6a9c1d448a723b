package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/history"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/prompt"
	"github.com/hupe1980/researchmesh/tool"
	"github.com/sethvargo/go-retry"
	"github.com/sourcegraph/conc/iter"
)

const timeLayout = "2006-01-02 15:04:05"

// noToolNote is recorded as the result of a task no tool was selected for.
const noToolNote = "No tool could be selected for this task; it was skipped."

func (e *Engine) route(ctx context.Context, in nodeInput) Outcome {
	request, _ := history.LatestUserText(in.msgs)
	p, err := e.prompts.Render(prompt.Route, e.baseData(in, map[string]any{
		"Request": request,
	}))
	if err != nil {
		return Fatal(core.KindInvariant, err)
	}

	raw, err := e.gateway.CompleteJSON(ctx, p, routeSchema)
	if err != nil {
		return classify(ctx, err)
	}
	out, err := decodeRoute(raw)
	if err != nil {
		return classify(ctx, err)
	}

	var next State
	switch out.Route {
	case RouteDirect:
		next = StateAnswerDirect
	case RouteClarify:
		next = StateAskHuman
	case RouteResearch:
		next = StatePlan
	default:
		return Fatal(core.KindInvariant, fmt.Errorf("unknown route %q", out.Route))
	}

	revised := strings.TrimSpace(out.RevisedRequest)
	if revised == "" {
		revised = request
	}
	e.progress(ctx, in, StateRoute, prompt.MsgRoute, map[string]any{
		"Route":   out.Route,
		"Request": revised,
		"Reason":  out.Reason,
	})
	e.logger.Info("Request routed", "thread_key", in.ec.ThreadKey, "route", out.Route, "revision_reason", out.RevisionReason)

	return Ok(next, Delta{Update: func(ec *core.ExecutionContext) {
		ec.Route = out.Route
		ec.RevisedRequest = revised
		ec.RouteReason = out.Reason
	}})
}

func (e *Engine) answerDirect(ctx context.Context, in nodeInput) Outcome {
	p, err := e.prompts.Render(prompt.AnswerDirect, e.baseData(in, nil))
	if err != nil {
		return Fatal(core.KindInvariant, err)
	}
	return e.answer(ctx, in, StateAnswerDirect, p)
}

func (e *Engine) askHuman(ctx context.Context, in nodeInput) Outcome {
	p, err := e.prompts.Render(prompt.AskHuman, e.baseData(in, map[string]any{"Reason": in.ec.RouteReason}))
	if err != nil {
		return Fatal(core.KindInvariant, err)
	}
	out := e.answer(ctx, in, StateAskHuman, p)
	if out.IsOk() {
		e.progress(ctx, in, StateAskHuman, prompt.MsgAskHuman, map[string]any{"Content": out.Delta.Messages[0].Content})
	}
	return out
}

func (e *Engine) plan(ctx context.Context, in nodeInput) Outcome {
	p, err := e.prompts.Render(prompt.Plan, e.baseData(in, map[string]any{
		"MaxPlan": e.cfg.MaxPlanTasks,
	}))
	if err != nil {
		return Fatal(core.KindInvariant, err)
	}
	return e.newPlan(ctx, in, StatePlan, p, 1)
}

func (e *Engine) revisePlan(ctx context.Context, in nodeInput) Outcome {
	if in.ec.Turn == 0 {
		return Fatal(core.KindInvariant, errors.New("revise requested before the first turn"))
	}
	prev := ""
	if in.ec.Plan != nil {
		prev = in.ec.Plan.Summary()
	}
	p, err := e.prompts.Render(prompt.RevisePlan, e.baseData(in, map[string]any{
		"MaxPlan":     e.cfg.MaxPlanTasks,
		"Plan":        prev,
		"TurnHistory": e.extractor.TurnHistory(in.msgs),
	}))
	if err != nil {
		return Fatal(core.KindInvariant, err)
	}
	return e.newPlan(ctx, in, StateRevisePlan, p, in.ec.Turn+1)
}

// newPlan is shared by PLAN and REVISE_PLAN: it opens turn with a fresh plan.
func (e *Engine) newPlan(ctx context.Context, in nodeInput, st State, p model.Prompt, turn int) Outcome {
	raw, err := e.gateway.CompleteJSON(ctx, p, planSchema)
	if err != nil {
		return classify(ctx, err)
	}
	pl, overflow, err := decodePlan(raw, e.cfg.MaxPlanTasks, in.ec.RevisedRequest)
	if err != nil {
		return classify(ctx, err)
	}
	record, err := core.NewStructuredMessage(pl)
	if err != nil {
		return Fatal(core.KindInvariant, err)
	}

	data := map[string]any{"Count": pl.Len(), "Plan": pl.Summary(), "Turn": turn}
	switch {
	case overflow:
		e.logger.Warn("Plan exceeded the task limit", "thread_key", in.ec.ThreadKey, "max", e.cfg.MaxPlanTasks)
		e.progress(ctx, in, st, prompt.MsgPlanOverflow, data)
	case st == StateRevisePlan:
		e.progress(ctx, in, st, prompt.MsgRevisePlan, data)
	default:
		e.progress(ctx, in, st, prompt.MsgPlan, data)
	}

	return Ok(StateSelectTool, Delta{
		Messages: []core.Message{core.NewTurnMarker(), record},
		Update: func(ec *core.ExecutionContext) {
			ec.Turn = turn
			ec.Plan = &pl
			ec.PlanOver = overflow
			ec.CurrentTask = ""
		},
	})
}

func (e *Engine) selectTool(ctx context.Context, in nodeInput) Outcome {
	if in.ec.Plan == nil {
		return Fatal(core.KindInvariant, errors.New("no plan"))
	}
	_, task, ok := in.ec.Plan.FirstOpen()
	if !ok {
		return Fatal(core.KindInvariant, errors.New("plan has no open task"))
	}

	defs := e.tools.Definitions()
	bind := retry.WithMaxRetries(uint64(max(e.cfg.BindAttempts, 1)-1), retry.NewConstant(e.cfg.RetryDelay))
	if err := retry.Do(ctx, bind, func(context.Context) error {
		if err := e.gateway.BindTools(defs); err != nil {
			if errors.Is(err, model.ErrToolBinding) {
				e.logger.Warn("Tool binding failed, retrying", "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	}); err != nil {
		if ctx.Err() != nil {
			return Fatal(core.KindCanceled, ctx.Err())
		}
		return Fatal(core.KindToolBinding, err)
	}

	p, err := e.prompts.Render(prompt.SelectTool, e.baseData(in, map[string]any{"Task": task}))
	if err != nil {
		return Fatal(core.KindInvariant, err)
	}

	var calls []core.ToolCall
	for attempt := 1; attempt <= max(e.cfg.SelectAttempts, 1); attempt++ {
		calls, err = e.gateway.SelectTool(ctx, p, defs, true)
		if err != nil {
			return classify(ctx, err)
		}
		if len(calls) > 0 {
			break
		}
		e.logger.Warn("No tool selected", "task", task, "attempt", attempt)
	}

	if len(calls) == 0 {
		e.progress(ctx, in, StateSelectTool, prompt.MsgSkipTask, map[string]any{"Task": task})
	} else {
		names := make([]string, len(calls))
		for i, c := range calls {
			names[i] = c.Name
		}
		e.progress(ctx, in, StateSelectTool, prompt.MsgSelectTool, map[string]any{
			"Task":  task,
			"Tools": strings.Join(names, ", "),
		})
	}

	return Ok(StateExecuteTool, Delta{
		Messages: []core.Message{core.NewTaskMarker(task, calls)},
		Update:   func(ec *core.ExecutionContext) { ec.CurrentTask = task },
	})
}

func (e *Engine) executeTool(ctx context.Context, in nodeInput) Outcome {
	if len(in.msgs) == 0 {
		return Fatal(core.KindInvariant, errors.New("empty history"))
	}
	marker := in.msgs[len(in.msgs)-1]
	task, ok := marker.TaskText()
	if !ok {
		return Fatal(core.KindInvariant, errors.New("no task marker before tool execution"))
	}

	if len(marker.ToolCalls) == 0 {
		note := core.NewToolResultMessage(core.ToolCall{ID: core.NewID()}, noToolNote, false)
		return Ok(StateUpdateStatus, Delta{Messages: []core.Message{note}})
	}

	// tools run concurrently; the emitter expects one caller at a time
	var mu sync.Mutex
	input := tool.Input{
		Task:    task,
		History: e.extractor.TurnHistory(in.msgs),
		Notify: func(msg string) {
			mu.Lock()
			defer mu.Unlock()
			in.emit.Progress(ctx, StateExecuteTool, msg)
		},
	}

	results := iter.Map(marker.ToolCalls, func(c *core.ToolCall) core.Message {
		out, err := e.tools.Dispatch(ctx, *c, input)
		if err != nil {
			return core.NewToolResultMessage(*c, "Error: "+err.Error(), true)
		}
		return core.NewToolResultMessage(*c, out, false)
	})
	if err := ctx.Err(); err != nil {
		return Fatal(core.KindCanceled, err)
	}

	for _, r := range results {
		if r.Failed {
			continue
		}
		e.progress(ctx, in, StateExecuteTool, prompt.MsgToolResult, map[string]any{
			"Tool":    r.ToolName,
			"Content": r.Content,
		})
	}
	return Ok(StateUpdateStatus, Delta{Messages: results})
}

func (e *Engine) updateStatus(ctx context.Context, in nodeInput) Outcome {
	if in.ec.Plan == nil {
		return Fatal(core.KindInvariant, errors.New("no plan"))
	}
	for _, r := range history.LatestToolResults(in.msgs) {
		if r.Failed {
			return Fatal(core.KindToolExecution, fmt.Errorf("tool %s failed: %s", r.ToolName, r.Content))
		}
	}

	next, exhausted := in.ec.Plan.Advance()
	e.progress(ctx, in, StateUpdateStatus, prompt.MsgUpdateStatus, map[string]any{"Plan": next.Summary()})

	to := StateSelectTool
	if exhausted {
		to = StateJudgeReplan
	}
	return Ok(to, Delta{Update: func(ec *core.ExecutionContext) { ec.Plan = &next }})
}

func (e *Engine) judgeReplan(ctx context.Context, in nodeInput) Outcome {
	turn := in.ec.Turn
	if turn == 0 {
		return Fatal(core.KindInvariant, errors.New("judge reached with turn 0"))
	}
	if turn >= e.cfg.MaxTurns {
		e.progress(ctx, in, StateJudgeReplan, prompt.MsgMaxTurn, map[string]any{"Turn": turn})
		return Ok(StateFinalize, Delta{})
	}

	summary := ""
	if in.ec.Plan != nil {
		summary = in.ec.Plan.Summary()
	}
	p, err := e.prompts.Render(prompt.JudgeReplan, e.baseData(in, map[string]any{
		"Plan":        summary,
		"TurnHistory": e.extractor.TurnHistory(in.msgs),
	}))
	if err != nil {
		return Fatal(core.KindInvariant, err)
	}
	raw, err := e.gateway.CompleteJSON(ctx, p, judgeSchema)
	if err != nil {
		return classify(ctx, err)
	}

	if isIncluded(raw) {
		e.progress(ctx, in, StateJudgeReplan, prompt.MsgJudgeFinal, map[string]any{"Turn": turn})
		return Ok(StateFinalize, Delta{})
	}
	e.progress(ctx, in, StateJudgeReplan, prompt.MsgJudgeReplan, map[string]any{"Turn": turn})
	return Ok(StateRevisePlan, Delta{})
}

func (e *Engine) finalize(ctx context.Context, in nodeInput) Outcome {
	p, err := e.prompts.Render(prompt.Finalize, e.baseData(in, map[string]any{
		"TurnHistory": e.extractor.TurnHistory(in.msgs),
	}))
	if err != nil {
		return Fatal(core.KindInvariant, err)
	}
	return e.answer(ctx, in, StateFinalize, p)
}

// answer streams a completion to the caller and records it as the run's answer.
func (e *Engine) answer(ctx context.Context, in nodeInput, st State, p model.Prompt) Outcome {
	chunks, errs := e.gateway.CompleteStreaming(ctx, p)

	var sb strings.Builder
	for c := range chunks {
		sb.WriteString(c)
		in.emit.Token(ctx, st, c)
	}
	if err := <-errs; err != nil {
		if ctx.Err() != nil {
			return Fatal(core.KindCanceled, ctx.Err())
		}
		return Fatal(core.KindTransport, err)
	}

	text := sb.String()
	return Ok(StateEnd, Delta{
		Messages: []core.Message{core.NewAssistantMessage(text)},
		Update:   func(ec *core.ExecutionContext) { ec.Answer = text },
	})
}

// baseData is the prompt data every template may use.
func (e *Engine) baseData(in nodeInput, extra map[string]any) map[string]any {
	data := map[string]any{
		"Request":     in.ec.RevisedRequest,
		"Transcript":  e.extractor.Transcript(in.msgs),
		"ToolCatalog": e.tools.Catalog(),
		"DomainScope": e.cfg.DomainScope,
		"Now":         e.now().Format(timeLayout),
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

func (e *Engine) progress(ctx context.Context, in nodeInput, st State, key string, data map[string]any) {
	in.emit.Progress(ctx, st, e.messages.Format(key, data))
}

// classify maps gateway failures onto node outcomes.
func classify(ctx context.Context, err error) Outcome {
	switch {
	case ctx.Err() != nil:
		return Fatal(core.KindCanceled, ctx.Err())
	case errors.Is(err, model.ErrMalformedOutput):
		return Retryable(core.KindMalformedOutput, err)
	case errors.Is(err, model.ErrToolBinding):
		return Fatal(core.KindToolBinding, err)
	default:
		return Fatal(core.KindTransport, err)
	}
}
