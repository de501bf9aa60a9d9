package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/orchestrator"
	"github.com/kadirpekel/conductor/pkg/task"
)

func intPtr(v int) *int { return &v }

func TestExtractActionAndPayload(t *testing.T) {
	t.Run("metadata hints", func(t *testing.T) {
		msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "ignored"})
		msg.Metadata = map[string]any{
			"action":  "create_document",
			"payload": map[string]any{"title": "Plan"},
		}

		action, payload := ExtractActionAndPayload("document_editor", msg)
		assert.Equal(t, "create_document", action)
		assert.Equal(t, map[string]any{"title": "Plan"}, payload)
	})

	t.Run("later data part overrides", func(t *testing.T) {
		msg := a2a.NewMessage(a2a.MessageRoleUser,
			a2a.DataPart{Data: map[string]any{"action": "first", "payload": map[string]any{"n": 1}}},
			a2a.DataPart{Data: map[string]any{"action": "second"}},
		)
		msg.Metadata = map[string]any{"action": "from_metadata"}

		action, payload := ExtractActionAndPayload("any", msg)
		assert.Equal(t, "second", action)
		assert.Equal(t, map[string]any{"n": 1}, payload)
	})

	// Known quirk: the default action is "chat" whatever the agent type.
	t.Run("default action ignores agent type", func(t *testing.T) {
		for _, agentType := range []string{"document_editor", "summarizer", ""} {
			msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "hello"})
			action, _ := ExtractActionAndPayload(agentType, msg)
			assert.Equal(t, DefaultAction, action)
		}
	})

	t.Run("synthesized payload", func(t *testing.T) {
		msg := a2a.NewMessage(a2a.MessageRoleUser,
			a2a.TextPart{Text: "first"},
			a2a.TextPart{Text: "second"},
		)
		msg.Metadata = map[string]any{"context_document_id": "doc-7"}

		_, payload := ExtractActionAndPayload("x", msg)
		assert.Equal(t, map[string]any{"message": "first", "context_document_id": "doc-7"}, payload)
	})

	t.Run("nil message", func(t *testing.T) {
		action, payload := ExtractActionAndPayload("x", nil)
		assert.Equal(t, DefaultAction, action)
		assert.Equal(t, "", payload["message"])
	})
}

func TestTaskToWire(t *testing.T) {
	tk := task.New(task.Params{UserID: "u", AgentType: "a", Action: "chat", ContextID: "ctx",
		OriginMessage: a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "hi"})})

	wire := TaskToWire(tk, nil)
	assert.Equal(t, a2a.TaskID(tk.ID), wire.ID)
	assert.Equal(t, "ctx", wire.ContextID)
	assert.Equal(t, a2a.TaskStateSubmitted, wire.Status.State)
	assert.Nil(t, wire.Status.Message)
	assert.Equal(t, tk.CreatedAt, *wire.Status.Timestamp)
	assert.Nil(t, wire.History, "empty history is omitted")
	assert.Nil(t, wire.Artifacts, "empty artifacts are omitted")

	started := tk.CreatedAt.Add(time.Second)
	tk.Start(started)
	assert.Equal(t, started, *TaskToWire(tk, nil).Status.Timestamp)

	done := started.Add(time.Second)
	tk.Complete(done, map[string]any{"response": "all good"})

	wire = TaskToWire(tk, nil)
	assert.Equal(t, a2a.TaskStateCompleted, wire.Status.State)
	assert.Equal(t, done, *wire.Status.Timestamp)
	require.NotNil(t, wire.Status.Message)
	assert.Equal(t, "all good", task.MessageText(wire.Status.Message))
	assert.Len(t, wire.History, 2)

	wire = TaskToWire(tk, intPtr(1))
	require.Len(t, wire.History, 1)
	assert.Equal(t, a2a.MessageRoleAgent, wire.History[0].Role)

	assert.Nil(t, TaskToWire(tk, intPtr(0)).History)
	assert.Len(t, TaskToWire(tk, intPtr(10)).History, 2)

	require.Len(t, wire.Artifacts, 1)
	assert.Equal(t, task.ResultArtifactName, wire.Artifacts[0].Name)
	assert.Equal(t, a2a.ContentParts{a2a.DataPart{Data: map[string]any{"response": "all good"}}}, wire.Artifacts[0].Parts)
}

func TestWireRoundTripKeepsSimpleStatus(t *testing.T) {
	for _, s := range task.States {
		tk := task.New(task.Params{UserID: "u"})
		tk.State = s

		wire := TaskToWire(tk, nil)
		assert.Equal(t, task.SimpleStatus(s), task.SimpleStatus(task.StateFromWire(wire.Status.State)), "state %s", s)
	}
}

// harness wires a dispatcher to a real orchestrator.
type harness struct {
	orch *orchestrator.Orchestrator
	d    *Dispatcher
	gate chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{gate: make(chan struct{})}

	reg := agent.NewRegistry(nil)
	require.NoError(t, reg.Register("echo", agent.New("Echo", "echoes messages",
		agent.Action{Name: "chat", Parameters: []string{"message"}, Handler: func(_ context.Context, p map[string]any) (any, error) {
			return "echo: " + p["message"].(string), nil
		}},
		agent.Action{Name: "explode", Handler: func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("bad input")
		}},
		agent.Action{Name: "wait", Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-h.gate:
				return "released", nil
			}
		}},
	), nil, ""))

	h.orch = orchestrator.New(reg)
	h.d = NewDispatcher(h.orch, reg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.orch.Shutdown(ctx)
	})
	return h
}

func (h *harness) call(t *testing.T, agentType, body string) *Response {
	t.Helper()
	resp := h.d.Handle(context.Background(), agentType, "rpc-user", []byte(body))
	require.NotNil(t, resp)
	assert.Equal(t, Version, resp.JSONRPC)
	return resp
}

// decode round-trips the response through JSON, as a client would see it.
func decode(t *testing.T, resp *Response) map[string]any {
	t.Helper()
	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestDispatcher_MessageSendBlockingByDefault(t *testing.T) {
	h := newHarness(t)

	resp := h.call(t, "echo", `{
		"jsonrpc": "2.0",
		"id": "req-1",
		"method": "message/send",
		"params": {
			"message": {
				"kind": "message",
				"messageId": "m1",
				"role": "user",
				"parts": [{"kind": "text", "text": "hello"}]
			}
		}
	}`)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `"req-1"`, string(resp.ID))

	wire, ok := resp.Result.(*a2a.Task)
	require.True(t, ok)
	assert.Equal(t, a2a.TaskStateCompleted, wire.Status.State)
	require.Len(t, wire.History, 2)
	assert.Equal(t, "hello", task.MessageText(wire.History[0]))
	assert.Equal(t, "echo: hello", task.MessageText(wire.History[1]))

	stored, ok := h.orch.GetTask(context.Background(), string(wire.ID))
	require.True(t, ok)
	assert.Equal(t, "rpc-user", stored.UserID)
	assert.Equal(t, "chat", stored.Action)
}

func TestDispatcher_MessageSendFailureIsATask(t *testing.T) {
	h := newHarness(t)

	resp := h.call(t, "echo", `{"jsonrpc":"2.0","id":2,"method":"message/send","params":{
		"message":{"kind":"message","messageId":"m2","role":"user",
			"parts":[{"kind":"data","data":{"action":"explode"}}]}}}`)
	require.Nil(t, resp.Error)

	wire := resp.Result.(*a2a.Task)
	assert.Equal(t, a2a.TaskStateFailed, wire.Status.State)
	assert.Equal(t, "Error: bad input", task.MessageText(wire.Status.Message))
}

func TestDispatcher_NonBlockingThenCancel(t *testing.T) {
	h := newHarness(t)

	resp := h.call(t, "echo", `{"jsonrpc":"2.0","id":3,"method":"message/send","params":{
		"message":{"kind":"message","messageId":"m3","role":"user",
			"parts":[{"kind":"text","text":"go"}],"metadata":{"action":"wait"}},
		"configuration":{"blocking":false}}}`)
	require.Nil(t, resp.Error)
	wire := resp.Result.(*a2a.Task)
	assert.Contains(t, []a2a.TaskState{a2a.TaskStateSubmitted, a2a.TaskStateWorking}, wire.Status.State)

	resp = h.call(t, "echo", `{"jsonrpc":"2.0","id":4,"method":"tasks/cancel","params":{"id":"`+string(wire.ID)+`"}}`)
	require.Nil(t, resp.Error)
	canceled := resp.Result.(*a2a.Task)
	assert.Equal(t, a2a.TaskStateCanceled, canceled.Status.State)
	assert.Equal(t, task.CancelMessage, task.MessageText(canceled.Status.Message))

	resp = h.call(t, "echo", `{"jsonrpc":"2.0","id":5,"method":"tasks/cancel","params":{"id":"`+string(wire.ID)+`"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeTaskNotFound, resp.Error.Code)

	resp = h.call(t, "echo", `{"jsonrpc":"2.0","id":6,"method":"tasks/get","params":{"id":"`+string(wire.ID)+`","historyLength":1}}`)
	require.Nil(t, resp.Error)
	got := resp.Result.(*a2a.Task)
	assert.Equal(t, a2a.TaskStateCanceled, got.Status.State)
	assert.Len(t, got.History, 1)
}

func TestDispatcher_TasksGetUnknownTask(t *testing.T) {
	h := newHarness(t)

	resp := h.call(t, "echo", `{"jsonrpc":"2.0","id":"abc-123","method":"tasks/get","params":{"id":"missing"}}`)
	require.NotNil(t, resp.Error)
	assert.Nil(t, resp.Result)
	assert.Equal(t, CodeTaskNotFound, resp.Error.Code)

	out := decode(t, resp)
	assert.Equal(t, "abc-123", out["id"])
	assert.NotContains(t, out, "result")
}

func TestDispatcher_TasksAreScopedToCaller(t *testing.T) {
	h := newHarness(t)

	resp := h.call(t, "echo", `{"jsonrpc":"2.0","id":1,"method":"message/send","params":{
		"message":{"kind":"message","messageId":"m1","role":"user",
			"parts":[{"kind":"text","text":"go"}],"metadata":{"action":"wait"}},
		"configuration":{"blocking":false}}}`)
	require.Nil(t, resp.Error)
	id := string(resp.Result.(*a2a.Task).ID)

	asOther := func(method string) *Response {
		body := `{"jsonrpc":"2.0","id":2,"method":"` + method + `","params":{"id":"` + id + `"}}`
		return h.d.Handle(context.Background(), "echo", "someone-else", []byte(body))
	}

	got := asOther(MethodTasksGet)
	require.NotNil(t, got.Error)
	assert.Equal(t, CodeTaskNotFound, got.Error.Code)

	canceled := asOther(MethodTasksCancel)
	require.NotNil(t, canceled.Error)
	assert.Equal(t, CodeTaskNotFound, canceled.Error.Code)

	stored, ok := h.orch.GetTask(context.Background(), id)
	require.True(t, ok)
	assert.False(t, stored.GetState().IsTerminal())

	resp = h.call(t, "echo", `{"jsonrpc":"2.0","id":3,"method":"tasks/cancel","params":{"id":"`+id+`"}}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, a2a.TaskStateCanceled, resp.Result.(*a2a.Task).Status.State)
}

func TestDispatcher_EnvelopeErrors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		agent  string
		body   string
		code   int
		wantID string
	}{
		{"unparseable body", "echo", `{"jsonrpc": "2.0", "id": 1,`, CodeParseError, "null"},
		{"not an object", "echo", `[1, 2, 3]`, CodeInvalidRequest, "null"},
		{"wrong version", "echo", `{"jsonrpc":"1.0","id":7,"method":"tasks/get","params":{"id":"x"}}`, CodeInvalidRequest, "7"},
		{"missing method", "echo", `{"jsonrpc":"2.0","id":8}`, CodeInvalidRequest, "8"},
		{"unknown method", "echo", `{"jsonrpc":"2.0","id":9,"method":"tasks/list","params":{}}`, CodeMethodNotFound, "9"},
		{"method is case sensitive", "echo", `{"jsonrpc":"2.0","id":10,"method":"Tasks/Get","params":{"id":"x"}}`, CodeMethodNotFound, "10"},
		{"streaming unsupported", "echo", `{"jsonrpc":"2.0","id":11,"method":"message/stream","params":{}}`, CodeNotImplemented, "11"},
		{"missing params", "echo", `{"jsonrpc":"2.0","id":12,"method":"tasks/get"}`, CodeInvalidParams, "12"},
		{"missing task id", "echo", `{"jsonrpc":"2.0","id":13,"method":"tasks/get","params":{}}`, CodeInvalidParams, "13"},
		{"missing message", "echo", `{"jsonrpc":"2.0","id":14,"method":"message/send","params":{}}`, CodeInvalidParams, "14"},
		{"wrong param type", "echo", `{"jsonrpc":"2.0","id":15,"method":"tasks/get","params":{"id":42}}`, CodeInvalidParams, "15"},
		{"unknown agent", "nobody", `{"jsonrpc":"2.0","id":16,"method":"message/send","params":{"message":{"kind":"message","messageId":"m","role":"user","parts":[{"kind":"text","text":"x"}]}}}`, CodeTaskNotFound, "16"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.call(t, tt.agent, tt.body)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.JSONEq(t, tt.wantID, string(resp.ID))
		})
	}
}

func TestDispatcher_InvalidParamsCarryFieldErrors(t *testing.T) {
	h := newHarness(t)

	resp := h.call(t, "echo", `{"jsonrpc":"2.0","id":1,"method":"tasks/get","params":{"historyLength":-1}}`)
	require.NotNil(t, resp.Error)
	fields, ok := resp.Error.Data.([]FieldError)
	require.True(t, ok)
	require.Len(t, fields, 2)
	assert.Equal(t, "id", fields[0].Field)
	assert.Equal(t, "historyLength", fields[1].Field)
}

func TestDispatcher_UnknownAgentCreatesNoTask(t *testing.T) {
	h := newHarness(t)

	h.call(t, "nobody", `{"jsonrpc":"2.0","id":1,"method":"message/send","params":{"message":{"kind":"message","messageId":"m","role":"user","parts":[{"kind":"text","text":"x"}]}}}`)
	assert.Equal(t, 0, h.orch.Stats().TotalTasks)
}

func TestDispatcher_GetCapabilities(t *testing.T) {
	h := newHarness(t)

	resp := h.call(t, "echo", `{"jsonrpc":"2.0","id":1,"method":"agent/getCapabilities","params":{}}`)
	require.Nil(t, resp.Error)
	info, ok := resp.Result.(agent.Info)
	require.True(t, ok)
	assert.Equal(t, "echo", info.Type)
	assert.Len(t, info.Actions, 3)

	resp = h.call(t, "nobody", `{"jsonrpc":"2.0","id":2,"method":"agent/getCapabilities"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeTaskNotFound, resp.Error.Code)
}
