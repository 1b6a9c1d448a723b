package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/internal/testutil"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/plan"
	"github.com/hupe1980/researchmesh/prompt"
	"github.com/hupe1980/researchmesh/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	tokens   []string
	progress []string
	updates  []Update
}

func (r *recorder) Token(_ context.Context, _ State, chunk string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, chunk)
}

func (r *recorder) Progress(_ context.Context, _ State, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, msg)
}

func (r *recorder) Update(_ context.Context, u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) answer() string { return strings.Join(r.tokens, "") }

func (r *recorder) edges() []string {
	out := make([]string, len(r.updates))
	for i, u := range r.updates {
		out[i] = string(u.From) + "->" + string(u.To)
	}
	return out
}

func newRegistry(t *testing.T, tools ...tool.Tool) *tool.Registry {
	t.Helper()
	if len(tools) == 0 {
		tools = []tool.Tool{tool.NewFunctionTool("search", "Search the web.", func(_ context.Context, in tool.Input) (string, error) {
			return "result for " + in.Task, nil
		})}
	}
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(tools...))
	return reg
}

func newEngine(t *testing.T, gw model.Gateway, reg *tool.Registry, optFns ...func(o *Options)) *Engine {
	t.Helper()
	fns := append([]func(o *Options){func(o *Options) {
		o.Config.RetryDelay = time.Millisecond
		o.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	}}, optFns...)
	e, err := New(gw, reg, fns...)
	require.NoError(t, err)
	return e
}

func route(r, revised string) testutil.Reply {
	return testutil.JSON(map[string]string{"route": r, "revised_request": revised, "reason": "because"})
}

func planOf(tasks ...string) testutil.Reply {
	return testutil.JSON(map[string]any{"plan": tasks})
}

func lastPrompt(t *testing.T, gw *testutil.ScriptedGateway, name string) model.Prompt {
	t.Helper()
	prompts := gw.Prompts()
	for i := len(prompts) - 1; i >= 0; i-- {
		if prompts[i].Name == name {
			return prompts[i]
		}
	}
	t.Fatalf("no %s prompt", name)
	return model.Prompt{}
}

func TestEngine_DirectRoute(t *testing.T) {
	gw := testutil.NewScriptedGateway().
		On(prompt.Route, route("direct", "What is Go?")).
		On(prompt.AnswerDirect, testutil.Text("Go is a programming language."))
	e := newEngine(t, gw, newRegistry(t))

	rec := &recorder{}
	res, err := e.Run(context.Background(), "t1", "what is go", rec)
	require.NoError(t, err)

	assert.Equal(t, RouteDirect, res.Route)
	assert.Equal(t, "Go is a programming language.", res.Answer)
	assert.Equal(t, res.Answer, rec.answer())
	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, []string{"START->ROUTE", "ROUTE->ANSWER_DIRECT", "ANSWER_DIRECT->END"}, rec.edges())
	require.NotEmpty(t, rec.progress)
	assert.Contains(t, rec.progress[0], "Revised request: What is Go?")

	cp, err := e.Checkpoint(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, cp.Finished())
	require.Len(t, cp.Messages, 2)
	assert.Equal(t, core.RoleUser, cp.Messages[0].Role)
	assert.Equal(t, "Go is a programming language.", cp.Messages[1].Content)
}

func TestEngine_AskHuman(t *testing.T) {
	gw := testutil.NewScriptedGateway().
		On(prompt.Route, testutil.JSON(map[string]string{"route": "Clarify", "reason": "which year?"})).
		On(prompt.AskHuman, testutil.Text("Which year do you mean?"))
	e := newEngine(t, gw, newRegistry(t))

	rec := &recorder{}
	res, err := e.Run(context.Background(), "t1", "sales numbers", rec)
	require.NoError(t, err)

	assert.Equal(t, RouteClarify, res.Route)
	assert.Equal(t, "Which year do you mean?", res.Answer)
	assert.Contains(t, rec.progress[len(rec.progress)-1], "Which year do you mean?")

	p := lastPrompt(t, gw, prompt.AskHuman)
	assert.Contains(t, p.Text, "which year?")
	// without a revision the user text is used verbatim
	assert.Contains(t, p.Text, "sales numbers")
}

func TestEngine_ResearchSingleTurn(t *testing.T) {
	gw := testutil.NewScriptedGateway().
		On(prompt.Route, route("research", "Compare A and B")).
		On(prompt.Plan, planOf("look up A", "look up B")).
		On(prompt.SelectTool, testutil.Calls("search")).
		On(prompt.JudgeReplan, judge("yes")).
		On(prompt.Finalize, testutil.Text("A beats B."))
	e := newEngine(t, gw, newRegistry(t))

	rec := &recorder{}
	res, err := e.Run(context.Background(), "t1", "compare them", rec)
	require.NoError(t, err)

	assert.Equal(t, "A beats B.", res.Answer)
	assert.Equal(t, 10, res.Steps)
	assert.Equal(t, []string{
		"START->ROUTE", "ROUTE->PLAN", "PLAN->SELECT_TOOL",
		"SELECT_TOOL->EXECUTE_TOOL", "EXECUTE_TOOL->UPDATE_STATUS", "UPDATE_STATUS->SELECT_TOOL",
		"SELECT_TOOL->EXECUTE_TOOL", "EXECUTE_TOOL->UPDATE_STATUS", "UPDATE_STATUS->JUDGE_REPLAN",
		"JUDGE_REPLAN->FINALIZE", "FINALIZE->END",
	}, rec.edges())

	fin := lastPrompt(t, gw, prompt.Finalize)
	assert.Contains(t, fin.Text, "AssistantMessage: look up A\nToolMessage: result for look up A")
	assert.Contains(t, fin.Text, "AssistantMessage: look up B\nToolMessage: result for look up B")
	assert.Contains(t, lastPrompt(t, gw, prompt.SelectTool).Text, "Task: look up B")

	cp, err := e.Checkpoint(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, cp.Context.Plan)
	assert.Equal(t, []plan.Status{plan.StatusDone, plan.StatusDone}, cp.Context.Plan.Statuses())
	assert.Equal(t, 1, cp.Context.Turn)
	assert.Len(t, cp.Messages, 8)
}

func TestEngine_ParallelToolsKeepCallOrder(t *testing.T) {
	slow := tool.NewFunctionTool("slow", "Slow search.", func(_ context.Context, in tool.Input) (string, error) {
		time.Sleep(20 * time.Millisecond)
		in.Progress("slow working")
		return "slow result", nil
	})
	fast := tool.NewFunctionTool("fast", "Fast search.", func(_ context.Context, in tool.Input) (string, error) {
		in.Progress("fast working")
		return "fast result", nil
	})
	gw := testutil.NewScriptedGateway().
		On(prompt.Route, route("research", "r")).
		On(prompt.Plan, planOf("only task")).
		On(prompt.SelectTool, testutil.Calls("slow", "fast")).
		On(prompt.JudgeReplan, judge(true)).
		On(prompt.Finalize, testutil.Text("done"))
	e := newEngine(t, gw, newRegistry(t, slow, fast))

	rec := &recorder{}
	_, err := e.Run(context.Background(), "t1", "q", rec)
	require.NoError(t, err)

	cp, err := e.Checkpoint(context.Background(), "t1")
	require.NoError(t, err)
	var results []string
	for _, m := range cp.Messages {
		if m.Role == core.RoleTool {
			results = append(results, m.ToolName+":"+m.Content)
		}
	}
	assert.Equal(t, []string{"slow:slow result", "fast:fast result"}, results)
	assert.Contains(t, rec.progress, "slow working")
	assert.Contains(t, rec.progress, "fast working")
	assert.Contains(t, rec.progress, "Task: only task\nSelected tool(s): slow, fast")
}

func judge(v any) testutil.Reply {
	return testutil.JSON(map[string]any{"is_included": v})
}

func TestEngine_ReplanUntilMaxTurns(t *testing.T) {
	gw := testutil.NewScriptedGateway().
		On(prompt.Route, route("research", "r")).
		On(prompt.Plan, planOf("first")).
		On(prompt.RevisePlan, planOf("second")).
		On(prompt.SelectTool, testutil.Calls("search")).
		On(prompt.JudgeReplan, judge("no")).
		On(prompt.Finalize, testutil.Text("best effort"))
	e := newEngine(t, gw, newRegistry(t))

	rec := &recorder{}
	res, err := e.Run(context.Background(), "t1", "q", rec)
	require.NoError(t, err)
	assert.Equal(t, "best effort", res.Answer)

	// the second judge is decided by the turn limit without a model call
	assert.Equal(t, 1, gw.Count(prompt.JudgeReplan))
	assert.Equal(t, 1, gw.Count(prompt.RevisePlan))
	assert.Contains(t, rec.progress, "Turn 2: reached the maximum number of research turns, writing the answer.")

	rev := lastPrompt(t, gw, prompt.RevisePlan)
	assert.Contains(t, rev.Text, "- [x] first")
	assert.Contains(t, rev.Text, "ToolMessage: result for first")

	// a new turn starts with an empty turn history
	fin := lastPrompt(t, gw, prompt.Finalize)
	assert.Contains(t, fin.Text, "ToolMessage: result for second")
	assert.NotContains(t, fin.Text, "ToolMessage: result for first")

	cp, err := e.Checkpoint(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, cp.Context.Turn)
}

func TestEngine_PlanOverflow(t *testing.T) {
	gw := testutil.NewScriptedGateway().
		On(prompt.Route, route("research", "the whole question")).
		On(prompt.Plan, planOf("a", "b", "c")).
		On(prompt.SelectTool, testutil.Calls("search")).
		On(prompt.JudgeReplan, judge("yes")).
		On(prompt.Finalize, testutil.Text("ok"))
	e := newEngine(t, gw, newRegistry(t), func(o *Options) { o.Config.MaxPlanTasks = 2 })

	rec := &recorder{}
	_, err := e.Run(context.Background(), "t1", "q", rec)
	require.NoError(t, err)

	assert.Equal(t, 1, gw.Count(prompt.SelectTool))
	assert.Contains(t, lastPrompt(t, gw, prompt.SelectTool).Text, "Task: the whole question")

	cp, err := e.Checkpoint(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, cp.Context.PlanOver)
	assert.Equal(t, []string{"the whole question"}, cp.Context.Plan.Tasks())
}

func TestEngine_ToolFailureIsTerminal(t *testing.T) {
	broken := tool.NewFunctionTool("broken", "Always fails.", func(context.Context, tool.Input) (string, error) {
		return "", errors.New("boom")
	})
	gw := testutil.NewScriptedGateway().
		On(prompt.Route, route("research", "r")).
		On(prompt.Plan, planOf("a", "b")).
		On(prompt.SelectTool, testutil.Calls("broken"))

	var failed error
	cbs := NewCallbackManager()
	cbs.RegisterCallback(NewFunctionCallback(CallbackOnError, func(_ context.Context, cc *CallbackContext) error {
		failed = cc.Err
		return nil
	}))
	e := newEngine(t, gw, newRegistry(t, broken), func(o *Options) { o.Callbacks = cbs })

	_, err := e.Run(context.Background(), "t1", "q", nil)
	require.Error(t, err)
	assert.Equal(t, core.KindToolExecution, core.KindOf(err))
	assert.Equal(t, err, failed)
	assert.Equal(t, 0, gw.Count(prompt.Finalize))

	cp, err := e.Checkpoint(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, string(StateUpdateStatus), cp.Next)
	assert.Equal(t, []plan.Status{plan.StatusOpen, plan.StatusOpen}, cp.Context.Plan.Statuses())

	last := cp.Messages[len(cp.Messages)-1]
	assert.True(t, last.Failed)
	assert.Equal(t, "Error: search failed in broken: boom", last.Content)
}

func TestEngine_NoToolSelectedSkipsTask(t *testing.T) {
	gw := testutil.NewScriptedGateway().
		On(prompt.Route, route("research", "r")).
		On(prompt.Plan, planOf("a")).
		On(prompt.SelectTool, testutil.Reply{}).
		On(prompt.JudgeReplan, judge("yes")).
		On(prompt.Finalize, testutil.Text("ok"))
	e := newEngine(t, gw, newRegistry(t))

	rec := &recorder{}
	_, err := e.Run(context.Background(), "t1", "q", rec)
	require.NoError(t, err)

	assert.Equal(t, 2, gw.Count(prompt.SelectTool))
	assert.Contains(t, rec.progress, "No tool could be selected for task: a")
	assert.Contains(t, lastPrompt(t, gw, prompt.Finalize).Text, noToolNote)

	cp, err := e.Checkpoint(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, []plan.Status{plan.StatusDone}, cp.Context.Plan.Statuses())
}

func TestEngine_MalformedJSONIsRetried(t *testing.T) {
	t.Run("recovers", func(t *testing.T) {
		gw := testutil.NewScriptedGateway().
			On(prompt.Route, testutil.Text("I think this is direct"), route("direct", "r")).
			On(prompt.AnswerDirect, testutil.Text("fine"))
		e := newEngine(t, gw, newRegistry(t))

		res, err := e.Run(context.Background(), "t1", "q", nil)
		require.NoError(t, err)
		assert.Equal(t, "fine", res.Answer)
		assert.Equal(t, 2, gw.Count(prompt.Route))
	})

	t.Run("gives up", func(t *testing.T) {
		gw := testutil.NewScriptedGateway().
			On(prompt.Route, route("research", "r")).
			On(prompt.Plan, testutil.JSON(map[string]any{"steps": []string{"a"}}))
		e := newEngine(t, gw, newRegistry(t))

		_, err := e.Run(context.Background(), "t1", "q", nil)
		require.Error(t, err)
		assert.Equal(t, core.KindMalformedOutput, core.KindOf(err))
		assert.ErrorIs(t, err, model.ErrMalformedOutput)
		assert.Equal(t, 3, gw.Count(prompt.Plan))
	})
}

func TestEngine_UnknownRouteIsFatal(t *testing.T) {
	gw := testutil.NewScriptedGateway().On(prompt.Route, route("banana", "r"))
	e := newEngine(t, gw, newRegistry(t))

	_, err := e.Run(context.Background(), "t1", "q", nil)
	require.Error(t, err)
	assert.Equal(t, core.KindInvariant, core.KindOf(err))
	assert.Equal(t, 1, gw.Count(prompt.Route))
}

func TestEngine_StepBudget(t *testing.T) {
	gw := testutil.NewScriptedGateway().
		On(prompt.Route, route("research", "r")).
		On(prompt.Plan, planOf("a")).
		On(prompt.SelectTool, testutil.Calls("search"))
	e := newEngine(t, gw, newRegistry(t), func(o *Options) { o.Config.MaxSteps = 3 })

	_, err := e.Run(context.Background(), "t1", "q", nil)
	require.Error(t, err)
	assert.Equal(t, core.KindStepBudget, core.KindOf(err))

	cp, err := e.Checkpoint(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 3, cp.Context.Steps)
	assert.Equal(t, string(StateExecuteTool), cp.Next)
}

func TestEngine_ToolBinding(t *testing.T) {
	t.Run("retried once", func(t *testing.T) {
		gw := testutil.NewScriptedGateway().
			FailBind(model.ErrToolBinding).
			On(prompt.Route, route("research", "r")).
			On(prompt.Plan, planOf("a")).
			On(prompt.SelectTool, testutil.Calls("search")).
			On(prompt.JudgeReplan, judge("yes")).
			On(prompt.Finalize, testutil.Text("ok"))
		e := newEngine(t, gw, newRegistry(t))

		_, err := e.Run(context.Background(), "t1", "q", nil)
		require.NoError(t, err)
		assert.Equal(t, 2, gw.Binds())
	})

	t.Run("fatal after retries", func(t *testing.T) {
		gw := testutil.NewScriptedGateway().
			FailBind(model.ErrToolBinding, model.ErrToolBinding).
			On(prompt.Route, route("research", "r")).
			On(prompt.Plan, planOf("a"))
		e := newEngine(t, gw, newRegistry(t))

		_, err := e.Run(context.Background(), "t1", "q", nil)
		require.Error(t, err)
		assert.Equal(t, core.KindToolBinding, core.KindOf(err))
		assert.Equal(t, 0, gw.Count(prompt.SelectTool))
	})
}

func TestEngine_ThreadBusy(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := tool.NewFunctionTool("block", "Blocks.", func(context.Context, tool.Input) (string, error) {
		close(entered)
		<-release
		return "ok", nil
	})
	gw := testutil.NewScriptedGateway().
		On(prompt.Route, route("research", "r")).
		On(prompt.Plan, planOf("a")).
		On(prompt.SelectTool, testutil.Calls("block")).
		On(prompt.JudgeReplan, judge("yes")).
		On(prompt.Finalize, testutil.Text("ok"))
	e := newEngine(t, gw, newRegistry(t, blocking))

	done := make(chan error, 1)
	go func() {
		_, err := e.Run(context.Background(), "t1", "q", nil)
		done <- err
	}()
	<-entered

	_, err := e.Run(context.Background(), "t1", "again", nil)
	assert.ErrorIs(t, err, ErrThreadBusy)
	_, err = e.Resume(context.Background(), "t1", nil)
	assert.ErrorIs(t, err, ErrThreadBusy)

	close(release)
	require.NoError(t, <-done)
}

func TestEngine_Resume(t *testing.T) {
	gw := testutil.NewScriptedGateway().
		On(prompt.Route, route("research", "r")).
		On(prompt.Plan, planOf("a")).
		On(prompt.SelectTool, testutil.Calls("search")).
		On(prompt.JudgeReplan, judge("yes")).
		On(prompt.Finalize, testutil.Text("resumed answer"))

	crash := true
	cbs := NewCallbackManager()
	cbs.RegisterCallback(NewFunctionCallback(CallbackBeforeNode, func(_ context.Context, cc *CallbackContext) error {
		if crash && cc.Node == StateJudgeReplan {
			return errors.New("simulated crash")
		}
		return nil
	}))
	e := newEngine(t, gw, newRegistry(t), func(o *Options) { o.Callbacks = cbs })

	_, err := e.Resume(context.Background(), "t1", nil)
	assert.ErrorIs(t, err, ErrNothingToResume)

	first, err := e.Run(context.Background(), "t1", "q", nil)
	require.Error(t, err)
	assert.Empty(t, first.Answer)

	cp, err := e.Checkpoint(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, string(StateJudgeReplan), cp.Next)
	assert.Equal(t, 5, cp.Context.Steps)

	crash = false
	rec := &recorder{}
	res, err := e.Resume(context.Background(), "t1", rec)
	require.NoError(t, err)
	assert.Equal(t, "resumed answer", res.Answer)
	assert.Equal(t, 7, res.Steps)
	assert.Equal(t, []string{"JUDGE_REPLAN->FINALIZE", "FINALIZE->END"}, rec.edges())
	assert.Equal(t, 1, gw.Count(prompt.Plan))

	_, err = e.Resume(context.Background(), "t1", nil)
	assert.ErrorIs(t, err, ErrNothingToResume)
}

func TestEngine_FollowUpSeesTranscript(t *testing.T) {
	gw := testutil.NewScriptedGateway().
		On(prompt.Route, route("direct", "r")).
		On(prompt.AnswerDirect, testutil.Text("first answer"), testutil.Text("second answer"))
	e := newEngine(t, gw, newRegistry(t))

	_, err := e.Run(context.Background(), "t1", "first question", nil)
	require.NoError(t, err)
	res, err := e.Run(context.Background(), "t1", "follow up", nil)
	require.NoError(t, err)
	assert.Equal(t, "second answer", res.Answer)

	p := lastPrompt(t, gw, prompt.Route)
	assert.Contains(t, p.Text, "UserMessage: first question\nAssistantMessage: first answer\nUserMessage: follow up")

	cp, err := e.Checkpoint(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, cp.Messages, 4)
}

func TestEngine_Canceled(t *testing.T) {
	gw := testutil.NewScriptedGateway()
	e := newEngine(t, gw, newRegistry(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Run(ctx, "t1", "q", nil)
	require.Error(t, err)
	assert.Equal(t, core.KindCanceled, core.KindOf(err))
	assert.Equal(t, 0, gw.Count(prompt.Route))
}

func TestEngine_AfterNodeCallbacks(t *testing.T) {
	var (
		mu    sync.Mutex
		lines []string
	)
	cbs := NewCallbackManager()
	cbs.RegisterCallback(NewLoggingCallback(CallbackAfterNode, func(msg string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, msg)
	}))
	gw := testutil.NewScriptedGateway().
		On(prompt.Route, route("direct", "r")).
		On(prompt.AnswerDirect, testutil.Text("a"))
	e := newEngine(t, gw, newRegistry(t), func(o *Options) { o.Callbacks = cbs })

	_, err := e.Run(context.Background(), "t1", "q", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"[after_node] thread=t1 step=1 ROUTE -> ANSWER_DIRECT",
		"[after_node] thread=t1 step=2 ANSWER_DIRECT -> END",
	}, lines)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateStart, StateRoute, true},
		{StateRoute, StatePlan, true},
		{StateRoute, StateFinalize, false},
		{StateUpdateStatus, StateJudgeReplan, true},
		{StateUpdateStatus, StateFinalize, false},
		{StateJudgeReplan, StateRevisePlan, true},
		{StateRevisePlan, StateSelectTool, true},
		{StateRevisePlan, StatePlan, false},
		{StateFinalize, StateEnd, true},
		{StateEnd, StateRoute, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestEngine_IllegalTransitionIsRejected(t *testing.T) {
	e := newEngine(t, testutil.NewScriptedGateway(), newRegistry(t))
	rs := &runState{ec: core.ExecutionContext{ThreadKey: "t1"}, history: core.NewHistory("t1")}

	err := e.commit(context.Background(), rs, StateRoute, Ok(StateFinalize, Delta{}), NopEmitter{})
	require.Error(t, err)
	assert.Equal(t, core.KindInvariant, core.KindOf(err))

	cp, err := e.Checkpoint(context.Background(), "t1")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestIsIncluded(t *testing.T) {
	for raw, want := range map[string]bool{
		`{"is_included": "yes"}`:  true,
		`{"is_included": " YES "}`: true,
		`{"is_included": "true"}`: true,
		`{"is_included": true}`:   true,
		`{"is_included": "no"}`:   false,
		`{"is_included": false}`:  false,
		`{"is_included": 1}`:      false,
	} {
		assert.Equal(t, want, isIncluded([]byte(raw)), raw)
	}
}
