package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abbyhq/abby/pkg/api"
	"github.com/abbyhq/abby/pkg/approval"
	"github.com/abbyhq/abby/pkg/artifacts"
	"github.com/abbyhq/abby/pkg/classifier"
	"github.com/abbyhq/abby/pkg/contracts"
	"github.com/abbyhq/abby/pkg/events"
	"github.com/abbyhq/abby/pkg/executor"
	"github.com/abbyhq/abby/pkg/llm"
	"github.com/abbyhq/abby/pkg/proposal"
	"github.com/abbyhq/abby/pkg/session"
	"github.com/abbyhq/abby/pkg/store"
)

type fakeLLM struct {
	reply string
	err   error
}

func (f *fakeLLM) Chat(ctx context.Context, _ []llm.Message, _ *llm.SamplingOptions) (*llm.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.reply}, nil
}

// gatedExecutor holds every execution until release is closed.
type gatedExecutor struct {
	inner   session.Executor
	started chan struct{}
	release chan struct{}
}

func (g *gatedExecutor) ExecuteCommand(ctx context.Context, cmd contracts.ActionCommand, token contracts.ApprovalToken) contracts.ExecutionResult {
	close(g.started)
	<-g.release
	return g.inner.ExecuteCommand(ctx, cmd, token)
}

type harness struct {
	srv   *api.Server
	llm   *fakeLLM
	queue *approval.Queue
	store *store.Store
	hub   *events.Hub
	exec  *executor.Executor
}

type option func(*api.Deps, *harness)

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	hub := events.NewHub()
	t.Cleanup(hub.Close)

	st, err := store.New(store.NewMemoryKV(), hub)
	require.NoError(t, err)
	require.NoError(t, st.EnsureSchemaVersion(context.Background()))

	issuer, err := approval.NewTokenIssuer("api-test", time.Minute)
	require.NoError(t, err)
	queue := approval.NewQueue(issuer)
	exec := executor.New(issuer, approval.NewMemoryLedger(), st)

	fake := &fakeLLM{}
	cls, err := classifier.New(fake, artifacts.NewMemoryStore())
	require.NoError(t, err)
	risks, err := proposal.NewRiskEvaluator(nil)
	require.NoError(t, err)

	h := &harness{llm: fake, queue: queue, store: st, hub: hub, exec: exec}
	deps := api.Deps{
		Classifier:  cls,
		Proposals:   proposal.NewBuilder(risks),
		Queue:       queue,
		Decider:     session.New(queue, exec),
		Executor:    exec,
		Collections: st,
		Events:      hub,
	}
	for _, o := range opts {
		o(&deps, h)
	}
	h.srv = api.NewServer(deps)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.srv.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type classifyBody struct {
	Error  string                 `json:"error"`
	Intent contracts.ActionIntent `json:"intent"`
}

const reminderReply = `{"kind":"reasoning","action":"create_reminder","data":{"title":"call the dentist","date":"2099-03-10"},"confidence":0.9,"missing_fields":[]}`

func TestClassify_OK(t *testing.T) {
	h := newHarness(t)
	h.llm.reply = reminderReply

	w := h.do(http.MethodPost, "/api/ai/classify", map[string]any{"input": "remind me to call the dentist"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[classifyBody](t, w)
	assert.Empty(t, body.Error)
	assert.Equal(t, contracts.IntentReminder, body.Intent.Type)
	assert.Equal(t, "call the dentist", body.Intent.Payload["title"])
}

func TestClassify_UpstreamFailureIs500WithFallbackIntent(t *testing.T) {
	h := newHarness(t)
	h.llm.err = errors.New("dial tcp: connection refused")

	w := h.do(http.MethodPost, "/api/ai/classify", map[string]any{"input": "add milk"})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode[classifyBody](t, w)
	assert.NotEmpty(t, body.Error)
	assert.NotContains(t, body.Error, "connection refused")
	assert.Equal(t, contracts.IntentUnknown, body.Intent.Type)
	assert.NotEmpty(t, body.Intent.FollowUpQuestion)
}

func TestClassify_InvalidInputIs400(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/api/ai/classify", map[string]any{"input": "   "})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[classifyBody](t, w)
	assert.NotEmpty(t, body.Error)
	assert.Equal(t, contracts.IntentUnknown, body.Intent.Type)

	req := httptest.NewRequest(http.MethodPost, "/api/ai/classify", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPropose_EnqueuesAndApproveExecutes(t *testing.T) {
	h := newHarness(t)
	h.llm.reply = reminderReply

	w := h.do(http.MethodPost, "/api/ai/propose", map[string]any{"input": "remind me to call the dentist"})
	require.Equal(t, http.StatusOK, w.Code)
	var proposed struct {
		Intent   contracts.ActionIntent    `json:"intent"`
		Proposal *contracts.ActionProposal `json:"proposal"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &proposed))
	require.NotNil(t, proposed.Proposal)
	id := proposed.Proposal.Command.ID
	assert.Equal(t, "Set reminder", proposed.Proposal.Summary.Title)

	// Nothing is written before approval.
	reminders, err := h.store.Load(context.Background(), store.CollectionReminders)
	require.NoError(t, err)
	assert.Empty(t, reminders)

	list := h.do(http.MethodGet, "/api/proposals", nil)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Contains(t, list.Body.String(), id)

	w = h.do(http.MethodPost, "/api/proposals/"+id+"/approve", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var approved struct {
		Token  contracts.ApprovalToken   `json:"token"`
		Result contracts.ExecutionResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &approved))
	assert.Equal(t, id, approved.Token.CommandID)
	assert.True(t, approved.Result.Success)
	assert.Equal(t, "Created reminder: call the dentist", approved.Result.Message)

	w = h.do(http.MethodGet, "/api/collections/reminders", nil)
	require.Equal(t, http.StatusOK, w.Code)
	records := decode[[]map[string]any](t, w)
	require.Len(t, records, 1)
	assert.Equal(t, "call the dentist", records[0]["title"])

	// A second approval finds nothing pending.
	w = h.do(http.MethodPost, "/api/proposals/"+id+"/approve", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
}

func TestPropose_ClarificationReturnsIntentOnly(t *testing.T) {
	h := newHarness(t)
	h.llm.reply = `{"kind":"reasoning","action":"create_task","data":{},"missing_fields":["What should the task be called?"]}`

	w := h.do(http.MethodPost, "/api/ai/propose", map[string]any{"input": "add a task"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), `"proposal"`)
	assert.Contains(t, w.Body.String(), "What should the task be called?")
	assert.Zero(t, h.queue.Len())
}

func TestCreateProposal(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/api/proposals", map[string]any{
		"action": "create_task", "entity": "task", "params": map[string]any{"title": "water plants"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 1, h.queue.Len())

	w = h.do(http.MethodPost, "/api/proposals", map[string]any{
		"action": "complete_task", "entity": "meal", "params": map[string]any{"id": "x"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReject(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/api/proposals", map[string]any{
		"action": "create_pet", "entity": "pet", "params": map[string]any{"name": "Rex"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	p := decode[struct {
		Proposal contracts.ActionProposal `json:"proposal"`
	}](t, w).Proposal

	w = h.do(http.MethodPost, "/api/proposals/"+p.Command.ID+"/reject", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, h.queue.Len())

	// Unknown ids are a no-op.
	w = h.do(http.MethodPost, "/api/proposals/nope/reject", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	pets, err := h.store.Load(context.Background(), store.CollectionPets)
	require.NoError(t, err)
	assert.Empty(t, pets)
}

func TestDecisionsAreRefusedWhileExecuting(t *testing.T) {
	gate := &gatedExecutor{started: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, func(d *api.Deps, h *harness) {
		gate.inner = h.exec
		d.Decider = session.New(h.queue, gate)
	})

	first := h.do(http.MethodPost, "/api/proposals", map[string]any{
		"action": "create_task", "entity": "task", "params": map[string]any{"title": "one"},
	})
	second := h.do(http.MethodPost, "/api/proposals", map[string]any{
		"action": "create_task", "entity": "task", "params": map[string]any{"title": "two"},
	})
	idOf := func(w *httptest.ResponseRecorder) string {
		return decode[struct {
			Proposal contracts.ActionProposal `json:"proposal"`
		}](t, w).Proposal.Command.ID
	}
	id1, id2 := idOf(first), idOf(second)

	done := make(chan *httptest.ResponseRecorder)
	go func() { done <- h.do(http.MethodPost, "/api/proposals/"+id1+"/approve", nil) }()
	<-gate.started

	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/api/proposals/"+id2+"/reject", nil).Code)
	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/api/proposals/"+id2+"/approve", nil).Code)

	close(gate.release)
	assert.Equal(t, http.StatusOK, (<-done).Code)
	assert.Equal(t, 1, h.queue.Len())
}

func TestExecuteCommand_StatusCodes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cmd := contracts.ActionCommand{
		ID: "cmd-1", Action: contracts.ActionCompleteTask, Entity: contracts.EntityTask,
		Params: map[string]any{"id": "missing"}, CreatedAt: time.Now(),
	}
	require.NoError(t, h.queue.Enqueue(cmd))
	token, err := h.queue.Approve(ctx, cmd.ID)
	require.NoError(t, err)

	body := map[string]any{"command": cmd, "token": token}
	w := h.do(http.MethodPost, "/api/commands/execute", body)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.False(t, decode[contracts.ExecutionResult](t, w).Success)

	// The token was spent by the failed attempt.
	w = h.do(http.MethodPost, "/api/commands/execute", body)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, executor.InvalidApproval, decode[contracts.ExecutionResult](t, w).Error)

	cmd2 := contracts.ActionCommand{
		ID: "cmd-2", Action: contracts.ActionCreateTask, Entity: contracts.EntityTask,
		Params: map[string]any{"title": "fold laundry"}, CreatedAt: time.Now(),
	}
	require.NoError(t, h.queue.Enqueue(cmd2))
	token2, err := h.queue.Approve(ctx, cmd2.ID)
	require.NoError(t, err)
	w = h.do(http.MethodPost, "/api/commands/execute", map[string]any{"command": cmd2, "token": token2})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[contracts.ExecutionResult](t, w).Success)
}

func TestCollections_Unknown(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodGet, "/api/collections/weather", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	p := decode[api.ProblemDetail](t, w)
	assert.Equal(t, "/api/collections/weather", p.Instance)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestEventsStream(t *testing.T) {
	h := newHarness(t)
	ts := httptest.NewServer(h.srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events?kinds=tasksUpdated"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	ctx := context.Background()
	_, err = h.store.Append(ctx, store.CollectionPets, contracts.Pet{ID: "p1", Name: "Rex", CreatedAt: time.Now()})
	require.NoError(t, err)
	_, err = h.store.Append(ctx, store.CollectionTasks, contracts.Task{ID: "t1", Title: "walk Rex", CreatedAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.TasksUpdated, ev.Kind)
	assert.Equal(t, store.CollectionTasks, ev.Collection)
	assert.Equal(t, 1, ev.Count)
}

func TestEventsStream_RejectsForeignOrigin(t *testing.T) {
	h := newHarness(t)
	ts := httptest.NewServer(h.srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
