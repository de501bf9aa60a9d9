package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/events"
	"github.com/kadirpekel/conductor/pkg/task"
)

type memArchive struct {
	mu    sync.Mutex
	tasks map[string]*task.Task
}

func newMemArchive() *memArchive {
	return &memArchive{tasks: make(map[string]*task.Task)}
}

func (m *memArchive) Save(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	return nil
}

func (m *memArchive) Load(_ context.Context, id string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, task.ErrTaskNotFound
	}
	return t, nil
}

type countingMetrics struct {
	mu        sync.Mutex
	submitted int
	finished  map[task.State]int
}

func (c *countingMetrics) TaskSubmitted(context.Context, string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted++
}

func (c *countingMetrics) TaskFinished(_ context.Context, _, _ string, state task.State, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished == nil {
		c.finished = make(map[task.State]int)
	}
	c.finished[state]++
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Type
}

func (r *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e.Type)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Type(nil), r.events...)
}

// gate is a handler that blocks until released or canceled.
type gate struct {
	started  chan struct{}
	release  chan struct{}
	returned chan struct{}
	once     sync.Once
}

func newGate() *gate {
	return &gate{
		started:  make(chan struct{}),
		release:  make(chan struct{}),
		returned: make(chan struct{}),
	}
}

func (g *gate) cooperative(ctx context.Context, _ map[string]any) (any, error) {
	defer close(g.returned)
	g.once.Do(func() { close(g.started) })
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.release:
		return map[string]any{"response": "late"}, nil
	}
}

func (g *gate) stubborn(_ context.Context, _ map[string]any) (any, error) {
	defer close(g.returned)
	g.once.Do(func() { close(g.started) })
	<-g.release
	return map[string]any{"response": "late"}, nil
}

func newTestOrchestrator(t *testing.T, actions []agent.Action, opts ...Option) *Orchestrator {
	t.Helper()
	reg := agent.NewRegistry(nil)
	require.NoError(t, reg.Register("test", agent.New("Test Agent", "testing", actions...), nil, ""))
	o := New(reg, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o
}

func returning(v any, err error) agent.Handler {
	return func(context.Context, map[string]any) (any, error) {
		return v, err
	}
}

func TestSubmit_BlockingCompletes(t *testing.T) {
	o := newTestOrchestrator(t, []agent.Action{
		{Name: "chat", Handler: returning(map[string]any{"response": "ok"}, nil)},
	})

	tk, err := o.Submit(context.Background(), SubmitRequest{
		AgentType: "test", Action: "chat", UserID: "alice", Blocking: true,
	})
	require.NoError(t, err)

	assert.Equal(t, task.StateCompleted, tk.State)
	assert.Equal(t, map[string]any{"response": "ok"}, tk.Result)
	assert.Empty(t, tk.Error)
	assert.Equal(t, 100, tk.Progress)
	assert.Equal(t, task.ProgressCompleted, tk.ProgressMessage)
	require.NotEmpty(t, tk.History)
	assert.Equal(t, "ok", task.MessageText(tk.History[len(tk.History)-1]))
	assert.NotEmpty(t, tk.ContextID)
	require.NotNil(t, tk.StartedAt)
	require.NotNil(t, tk.CompletedAt)
	assert.False(t, tk.CompletedAt.Before(*tk.StartedAt))
}

func TestSubmit_BlockingFails(t *testing.T) {
	o := newTestOrchestrator(t, []agent.Action{
		{Name: "chat", Handler: returning(nil, errors.New("bad input"))},
	})

	tk, err := o.Submit(context.Background(), SubmitRequest{
		AgentType: "test", Action: "chat", UserID: "alice", Blocking: true,
	})
	require.NoError(t, err)

	assert.Equal(t, task.StateFailed, tk.State)
	assert.Equal(t, "bad input", tk.Error)
	assert.Equal(t, map[string]any{"success": false, "error": "bad input"}, tk.Result)
	assert.Equal(t, task.ProgressFailed, tk.ProgressMessage)
	assert.Equal(t, "Error: bad input", task.MessageText(tk.History[len(tk.History)-1]))
}

func TestSubmit_ResultWrapping(t *testing.T) {
	tests := []struct {
		name string
		ret  any
		want map[string]any
	}{
		{"map", map[string]any{"a": 1}, map[string]any{"a": 1}},
		{"string", "hello", map[string]any{"response": "hello"}},
		{"number", 42, map[string]any{"result": 42}},
		{"nil", nil, map[string]any{"result": nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOrchestrator(t, []agent.Action{{Name: "run", Handler: returning(tt.ret, nil)}})
			tk, err := o.Submit(context.Background(), SubmitRequest{
				AgentType: "test", Action: "run", UserID: "u", Blocking: true,
			})
			require.NoError(t, err)
			assert.Equal(t, task.StateCompleted, tk.State)
			assert.Equal(t, tt.want, tk.Result)
		})
	}
}

func TestSubmit_UnknownAgentCreatesNoTask(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	tk, err := o.Submit(context.Background(), SubmitRequest{AgentType: "missing", Action: "chat", UserID: "u"})
	assert.Nil(t, tk)
	assert.ErrorIs(t, err, agent.ErrAgentNotFound)
	assert.Equal(t, 0, o.Stats().TotalTasks)
	assert.Empty(t, o.GetUserTasks("u", 0, ""))
}

func TestSubmit_UnknownActionFailsTask(t *testing.T) {
	o := newTestOrchestrator(t, []agent.Action{{Name: "chat", Handler: returning("hi", nil)}})

	tk, err := o.Submit(context.Background(), SubmitRequest{
		AgentType: "test", Action: "summarize", UserID: "u", Blocking: true,
	})
	require.NoError(t, err)
	assert.Equal(t, task.StateFailed, tk.State)
	assert.Contains(t, tk.Error, "does not support action summarize")
}

func TestSubmit_PanicFailsTask(t *testing.T) {
	o := newTestOrchestrator(t, []agent.Action{{
		Name: "chat",
		Handler: func(context.Context, map[string]any) (any, error) {
			panic("boom")
		},
	}})

	tk, err := o.Submit(context.Background(), SubmitRequest{
		AgentType: "test", Action: "chat", UserID: "u", Blocking: true,
	})
	require.NoError(t, err)
	assert.Equal(t, task.StateFailed, tk.State)
	assert.Contains(t, tk.Error, "boom")
}

func TestSubmit_Timeout(t *testing.T) {
	o := newTestOrchestrator(t, []agent.Action{{
		Name: "chat",
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}, WithTaskTimeout(20*time.Millisecond))

	tk, err := o.Submit(context.Background(), SubmitRequest{
		AgentType: "test", Action: "chat", UserID: "u", Blocking: true,
	})
	require.NoError(t, err)
	assert.Equal(t, task.StateFailed, tk.State)
	assert.Contains(t, tk.Error, context.DeadlineExceeded.Error())
}

func TestSubmit_HistoryOrdering(t *testing.T) {
	o := newTestOrchestrator(t, []agent.Action{{Name: "chat", Handler: returning("done", nil)}})

	origin := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "please do it"})
	tk, err := o.Submit(context.Background(), SubmitRequest{
		AgentType:     "test",
		Action:        "chat",
		UserID:        "u",
		ContextID:     "ctx-1",
		OriginMessage: origin,
		Blocking:      true,
	})
	require.NoError(t, err)

	require.Len(t, tk.History, 2)
	first := tk.History[0]
	assert.NotEqual(t, origin.ID, first.ID)
	assert.Equal(t, "ctx-1", first.ContextID)
	assert.Equal(t, a2a.TaskID(tk.ID), first.TaskID)
	assert.Equal(t, origin.Parts, first.Parts)
	assert.Equal(t, a2a.MessageRoleUser, first.Role)

	last := tk.History[1]
	assert.Equal(t, a2a.MessageRoleAgent, last.Role)
	assert.Equal(t, "done", task.MessageText(last))
}

func TestSubmit_PayloadIsCopied(t *testing.T) {
	var seen map[string]any
	o := newTestOrchestrator(t, []agent.Action{{
		Name: "chat",
		Handler: func(_ context.Context, payload map[string]any) (any, error) {
			seen = payload
			payload["mutated"] = true
			return "ok", nil
		},
	}})

	payload := map[string]any{"message": "hi"}
	tk, err := o.Submit(context.Background(), SubmitRequest{
		AgentType: "test", Action: "chat", Payload: payload, UserID: "u", Blocking: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", seen["message"])
	assert.NotContains(t, payload, "mutated")
	assert.NotContains(t, tk.Payload, "mutated")
}

func TestBackground_Completes(t *testing.T) {
	g := newGate()
	o := newTestOrchestrator(t, []agent.Action{{Name: "chat", Handler: g.cooperative}})

	tk, err := o.Submit(context.Background(), SubmitRequest{AgentType: "test", Action: "chat", UserID: "u"})
	require.NoError(t, err)
	assert.Contains(t, []task.State{task.StateSubmitted, task.StateWorking}, tk.State)

	<-g.started
	assert.Equal(t, 1, o.RunningCount())
	close(g.release)
	<-g.returned

	require.Eventually(t, func() bool {
		got, ok := o.GetTask(context.Background(), tk.ID)
		return ok && got.State == task.StateCompleted
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return o.RunningCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCancel_CooperativeHandler(t *testing.T) {
	g := newGate()
	o := newTestOrchestrator(t, []agent.Action{{Name: "chat", Handler: g.cooperative}})

	tk, err := o.Submit(context.Background(), SubmitRequest{AgentType: "test", Action: "chat", UserID: "u"})
	require.NoError(t, err)
	<-g.started

	assert.True(t, o.Cancel(context.Background(), nil, tk.ID))
	<-g.returned

	got, ok := o.GetTask(context.Background(), tk.ID)
	require.True(t, ok)
	assert.Equal(t, task.StateCanceled, got.State)
	assert.Nil(t, got.Result)
	assert.Empty(t, got.Error)
	assert.Equal(t, task.CancelMessage, task.MessageText(got.History[len(got.History)-1]))
	assert.Equal(t, 0, o.RunningCount())
}

func TestCancel_StubbornHandlerResultDiscarded(t *testing.T) {
	g := newGate()
	o := newTestOrchestrator(t, []agent.Action{{Name: "chat", Handler: g.stubborn}})

	tk, err := o.Submit(context.Background(), SubmitRequest{AgentType: "test", Action: "chat", UserID: "u"})
	require.NoError(t, err)
	<-g.started

	require.True(t, o.Cancel(context.Background(), nil, tk.ID))
	close(g.release)
	<-g.returned

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))

	got, _ := o.GetTask(context.Background(), tk.ID)
	assert.Equal(t, task.StateCanceled, got.State)
	assert.Nil(t, got.Result)
	for _, msg := range got.History {
		assert.NotEqual(t, "late", task.MessageText(msg))
	}
}

func TestCancel_Guards(t *testing.T) {
	g := newGate()
	o := newTestOrchestrator(t, []agent.Action{
		{Name: "slow", Handler: g.cooperative},
		{Name: "fast", Handler: returning("ok", nil)},
	})
	ctx := context.Background()

	assert.False(t, o.Cancel(ctx, nil, "does-not-exist"))

	done, err := o.Submit(ctx, SubmitRequest{AgentType: "test", Action: "fast", UserID: "alice", Blocking: true})
	require.NoError(t, err)
	assert.False(t, o.Cancel(ctx, nil, done.ID), "completed tasks cannot be canceled")

	running, err := o.Submit(ctx, SubmitRequest{AgentType: "test", Action: "slow", UserID: "alice"})
	require.NoError(t, err)
	<-g.started

	bob := "bob"
	assert.False(t, o.Cancel(ctx, &bob, running.ID), "only the owner may cancel")

	alice := "alice"
	assert.True(t, o.Cancel(ctx, &alice, running.ID))
	assert.False(t, o.Cancel(ctx, &alice, running.ID), "second cancel is refused")
}

func TestCancel_QueuedTaskNeverRuns(t *testing.T) {
	g := newGate()
	var calls int
	var mu sync.Mutex
	o := newTestOrchestrator(t, []agent.Action{
		{Name: "slow", Handler: g.cooperative},
		{Name: "count", Handler: func(context.Context, map[string]any) (any, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			return "ok", nil
		}},
	}, WithMaxConcurrent(1))
	ctx := context.Background()

	_, err := o.Submit(ctx, SubmitRequest{AgentType: "test", Action: "slow", UserID: "u"})
	require.NoError(t, err)
	<-g.started

	queued, err := o.Submit(ctx, SubmitRequest{AgentType: "test", Action: "count", UserID: "u"})
	require.NoError(t, err)
	require.True(t, o.Cancel(ctx, nil, queued.ID))

	close(g.release)
	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(shutdownCtx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, calls)

	got, _ := o.GetTask(ctx, queued.ID)
	assert.Equal(t, task.StateCanceled, got.State)
	assert.Nil(t, got.StartedAt)
}

func TestLifecycle_MonotonicAndTimestamps(t *testing.T) {
	g := newGate()
	o := newTestOrchestrator(t, []agent.Action{{Name: "chat", Handler: g.cooperative}})

	tk, err := o.Submit(context.Background(), SubmitRequest{AgentType: "test", Action: "chat", UserID: "u"})
	require.NoError(t, err)

	order := map[task.State]int{task.StateSubmitted: 0, task.StateWorking: 1, task.StateCompleted: 2}
	last := -1
	observe := func() {
		got, ok := o.GetTask(context.Background(), tk.ID)
		require.True(t, ok)
		rank, known := order[got.State]
		require.True(t, known, "unexpected state %s", got.State)
		assert.GreaterOrEqual(t, rank, last)
		last = rank
		assert.Equal(t, got.State.IsTerminal(), got.CompletedAt != nil)
	}

	observe()
	<-g.started
	observe()
	close(g.release)
	<-g.returned
	require.Eventually(t, func() bool {
		got, _ := o.GetTask(context.Background(), tk.ID)
		return got.State.IsTerminal()
	}, time.Second, 5*time.Millisecond)
	observe()
	observe()
}

func TestQueries(t *testing.T) {
	o := newTestOrchestrator(t, []agent.Action{
		{Name: "ok", Handler: returning("ok", nil)},
		{Name: "bad", Handler: returning(nil, errors.New("nope"))},
	})
	ctx := context.Background()

	var aliceIDs []string
	for _, action := range []string{"ok", "bad", "ok"} {
		tk, err := o.Submit(ctx, SubmitRequest{AgentType: "test", Action: action, UserID: "alice", Blocking: true})
		require.NoError(t, err)
		aliceIDs = append(aliceIDs, tk.ID)
		time.Sleep(2 * time.Millisecond)
	}
	bobTask, err := o.Submit(ctx, SubmitRequest{AgentType: "test", Action: "ok", UserID: "bob", Blocking: true})
	require.NoError(t, err)

	t.Run("newest first", func(t *testing.T) {
		tasks := o.GetUserTasks("alice", 0, "")
		require.Len(t, tasks, 3)
		assert.Equal(t, aliceIDs[2], tasks[0].ID)
		assert.Equal(t, aliceIDs[0], tasks[2].ID)
	})

	t.Run("limit and status filter", func(t *testing.T) {
		assert.Len(t, o.GetUserTasks("alice", 2, ""), 2)
		failed := o.GetUserTasks("alice", 10, "failed")
		require.Len(t, failed, 1)
		assert.Equal(t, aliceIDs[1], failed[0].ID)
		assert.Empty(t, o.GetUserTasks("alice", 10, "running"))
	})

	t.Run("ownership isolation", func(t *testing.T) {
		_, ok := o.GetTaskByID(ctx, "alice", bobTask.ID)
		assert.False(t, ok)
		got, ok := o.GetTaskByID(ctx, "bob", bobTask.ID)
		require.True(t, ok)
		assert.Equal(t, bobTask.ID, got.ID)

		_, ok = o.GetTask(ctx, bobTask.ID)
		assert.True(t, ok)
	})

	t.Run("stats", func(t *testing.T) {
		stats := o.Stats()
		assert.Equal(t, 4, stats.TotalTasks)
		assert.Equal(t, 3, stats.CompletedTasks)
		assert.Equal(t, 1, stats.FailedTasks)
		assert.Equal(t, 0, stats.RunningTasks)
		assert.Equal(t, 1, stats.RegisteredAgents)

		us := o.UserStats("alice")
		assert.Equal(t, 3, us.UserTotalTasks)
		assert.Equal(t, 2, us.UserCompletedTasks)
		assert.Equal(t, 1, us.UserFailedTasks)
	})

	t.Run("snapshots are isolated", func(t *testing.T) {
		got, _ := o.GetTask(ctx, bobTask.ID)
		got.Result["response"] = "tampered"
		again, _ := o.GetTask(ctx, bobTask.ID)
		assert.Equal(t, "ok", again.Result["response"])
	})
}

func TestCollaborators(t *testing.T) {
	archive := newMemArchive()
	metrics := &countingMetrics{}
	pub := &recordingPublisher{}
	o := newTestOrchestrator(t, []agent.Action{{Name: "chat", Handler: returning("ok", nil)}},
		WithArchive(archive), WithMetrics(metrics), WithPublisher(pub))

	tk, err := o.Submit(context.Background(), SubmitRequest{AgentType: "test", Action: "chat", UserID: "u", Blocking: true})
	require.NoError(t, err)

	assert.Equal(t, []events.Type{events.TypeSubmitted, events.TypeStarted, events.TypeCompleted}, pub.types())
	assert.Equal(t, 1, metrics.submitted)
	assert.Equal(t, 1, metrics.finished[task.StateCompleted])

	archived, err := archive.Load(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateCompleted, archived.State)

	t.Run("archive fallback", func(t *testing.T) {
		old := task.New(task.Params{UserID: "u", AgentType: "test", Action: "chat"})
		old.Start(time.Now())
		old.Complete(time.Now(), map[string]any{"response": "from disk"})
		require.NoError(t, archive.Save(context.Background(), old))

		got, ok := o.GetTask(context.Background(), old.ID)
		require.True(t, ok)
		assert.Equal(t, "from disk", got.Result["response"])

		_, ok = o.GetTaskByID(context.Background(), "someone-else", old.ID)
		assert.False(t, ok)

		_, ok = o.GetTask(context.Background(), "nowhere")
		assert.False(t, ok)
	})
}

func TestWrapResult_NilMap(t *testing.T) {
	var m map[string]any
	assert.Equal(t, map[string]any{}, WrapResult(m))
}

func TestAgentStatus(t *testing.T) {
	reg := agent.NewRegistry(nil)
	require.NoError(t, reg.Register("local", agent.New("Local", "in process"), map[string]any{"max_items": 3}, ""))
	require.NoError(t, reg.Register("far", agent.New("Far", "elsewhere"), nil, "http://far.example/a2a/agents/far"))
	o := New(reg)

	local := o.AgentStatus("local")
	assert.True(t, local.Registered)
	assert.Equal(t, "local", local.AgentType)
	assert.Equal(t, LocalEndpoint, local.Endpoint)
	assert.Equal(t, map[string]any{"max_items": 3}, local.Capabilities)
	assert.Empty(t, local.Error)

	far := o.AgentStatus("far")
	assert.True(t, far.Registered)
	assert.Equal(t, "http://far.example/a2a/agents/far", far.Endpoint)
	assert.Equal(t, map[string]any{}, far.Capabilities)

	missing := o.AgentStatus("ghost")
	assert.False(t, missing.Registered)
	assert.Equal(t, "Agent type 'ghost' not registered", missing.Error)
}
