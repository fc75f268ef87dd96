package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abbyhq/abby/pkg/approval"
	"github.com/abbyhq/abby/pkg/contracts"
	"github.com/abbyhq/abby/pkg/intent"
	"github.com/abbyhq/abby/pkg/proposal"
	"github.com/abbyhq/abby/pkg/store"
)

// spyRecords counts mutations before delegating to a real store.
type spyRecords struct {
	inner     Records
	mutations int
	fail      error
	panicOn   bool
}

func (s *spyRecords) AppendMany(ctx context.Context, name string, recs []any) ([]store.Record, error) {
	s.mutations++
	if s.panicOn {
		panic("disk on fire")
	}
	if s.fail != nil {
		return nil, s.fail
	}
	return s.inner.AppendMany(ctx, name, recs)
}

func (s *spyRecords) Update(ctx context.Context, name, id string, fn func(store.Record) error) (store.Record, error) {
	s.mutations++
	return s.inner.Update(ctx, name, id, fn)
}

func (s *spyRecords) Remove(ctx context.Context, name, id string) error {
	s.mutations++
	return s.inner.Remove(ctx, name, id)
}

type fixture struct {
	queue  *approval.Queue
	exec   *Executor
	spy    *spyRecords
	store  *store.Store
	issuer *approval.TokenIssuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	issuer, err := approval.NewTokenIssuer("test-secret", time.Minute)
	require.NoError(t, err)
	st, err := store.New(store.NewMemoryKV(), nil)
	require.NoError(t, err)
	spy := &spyRecords{inner: st}
	return &fixture{
		queue:  approval.NewQueue(issuer),
		exec:   New(issuer, approval.NewMemoryLedger(), spy),
		spy:    spy,
		store:  st,
		issuer: issuer,
	}
}

func command(id string, action contracts.ActionType, entity contracts.EntityType, params map[string]any) contracts.ActionCommand {
	return contracts.ActionCommand{ID: id, Action: action, Entity: entity, Params: params, CreatedAt: time.Now()}
}

func TestExecuteCommand_RoundTripReminder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reasoning := contracts.ReasoningResult{
		Kind:       contracts.ReasoningKindReasoning,
		Action:     "create_reminder",
		Data:       map[string]any{"title": "call the dentist", "date": "2026-03-10"},
		Confidence: ptr(0.9),
	}
	in := intent.ConvertReasoningToIntent(reasoning, "remind me to call the dentist tomorrow")
	require.Equal(t, contracts.IntentReminder, in.Type)
	assert.InDelta(t, 0.9, in.Confidence, 1e-9)

	p, err := proposal.NewBuilder(nil).FromIntent(in)
	require.NoError(t, err)
	require.NoError(t, f.queue.Enqueue(p.Command))

	token, err := f.queue.Approve(ctx, p.Command.ID)
	require.NoError(t, err)

	res := f.exec.ExecuteCommand(ctx, p.Command, token)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, p.Command.ID, res.CommandID)
	assert.Equal(t, "Created reminder: call the dentist", res.Message)

	reminders, err := store.LoadInto[contracts.Reminder](ctx, f.store, store.CollectionReminders)
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	assert.Equal(t, "call the dentist", reminders[0].Title)
	assert.Equal(t, "2026-03-10", reminders[0].Date)
	assert.Equal(t, res.RecordID, reminders[0].ID)
}

func TestExecuteCommand_TokenForOtherCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := command("cmd-a", contracts.ActionCreateTask, contracts.EntityTask, map[string]any{"title": "a"})
	b := command("cmd-b", contracts.ActionCreateTask, contracts.EntityTask, map[string]any{"title": "b"})
	require.NoError(t, f.queue.Enqueue(a))
	require.NoError(t, f.queue.Enqueue(b))

	tokenA, err := f.queue.Approve(ctx, a.ID)
	require.NoError(t, err)

	res := f.exec.ExecuteCommand(ctx, b, tokenA)
	assert.False(t, res.Success)
	assert.Equal(t, InvalidApproval, res.Error)
	assert.Zero(t, f.spy.mutations)

	// Relabelling the token does not help either.
	forged := tokenA
	forged.CommandID = b.ID
	res = f.exec.ExecuteCommand(ctx, b, forged)
	assert.False(t, res.Success)
	assert.Zero(t, f.spy.mutations)
}

func TestExecuteCommand_SingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cmd := command("cmd-1", contracts.ActionCreateTask, contracts.EntityTask, map[string]any{"title": "once"})
	require.NoError(t, f.queue.Enqueue(cmd))
	token, err := f.queue.Approve(ctx, cmd.ID)
	require.NoError(t, err)

	assert.True(t, f.exec.ExecuteCommand(ctx, cmd, token).Success)
	res := f.exec.ExecuteCommand(ctx, cmd, token)
	assert.False(t, res.Success)
	assert.Equal(t, InvalidApproval, res.Error)
	assert.Equal(t, 1, f.spy.mutations)
}

func TestExecuteCommand_TamperedParams(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cmd := command("cmd-1", contracts.ActionCreateTask, contracts.EntityTask, map[string]any{"title": "water plants"})
	require.NoError(t, f.queue.Enqueue(cmd))
	token, err := f.queue.Approve(ctx, cmd.ID)
	require.NoError(t, err)

	tampered := cmd
	tampered.Params = map[string]any{"title": "sell the car"}
	res := f.exec.ExecuteCommand(ctx, tampered, token)
	assert.False(t, res.Success)
	assert.Zero(t, f.spy.mutations)
}

func TestExecuteCommand_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	f.issuer.WithClock(func() time.Time { return now })

	cmd := command("cmd-1", contracts.ActionCreateTask, contracts.EntityTask, map[string]any{"title": "late"})
	require.NoError(t, f.queue.Enqueue(cmd))
	token, err := f.queue.Approve(ctx, cmd.ID)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	res := f.exec.ExecuteCommand(ctx, cmd, token)
	assert.False(t, res.Success)
	assert.Equal(t, InvalidApproval, res.Error)
	assert.Zero(t, f.spy.mutations)
}

func TestExecuteCommand_ZeroToken(t *testing.T) {
	f := newFixture(t)
	cmd := command("cmd-1", contracts.ActionCreateTask, contracts.EntityTask, map[string]any{"title": "x"})
	res := f.exec.ExecuteCommand(context.Background(), cmd, contracts.ApprovalToken{})
	assert.False(t, res.Success)
	assert.Zero(t, f.spy.mutations)
}

func approved(t *testing.T, f *fixture, cmd contracts.ActionCommand) contracts.ApprovalToken {
	t.Helper()
	require.NoError(t, f.queue.Enqueue(cmd))
	token, err := f.queue.Approve(context.Background(), cmd.ID)
	require.NoError(t, err)
	return token
}

func TestExecuteCommand_MutationFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.spy.fail = errors.New("storage offline")
	cmd := command("cmd-1", contracts.ActionCreateTask, contracts.EntityTask, map[string]any{"title": "x"})
	token := approved(t, f, cmd)
	res := f.exec.ExecuteCommand(ctx, cmd, token)
	assert.False(t, res.Success)
	assert.Equal(t, "storage offline", res.Error)

	// The token stays consumed.
	f.spy.fail = nil
	res = f.exec.ExecuteCommand(ctx, cmd, token)
	assert.Equal(t, InvalidApproval, res.Error)

	cmd = command("cmd-2", contracts.ActionCreateTask, contracts.EntityTask, map[string]any{"priority": "high"})
	res = f.exec.ExecuteCommand(ctx, cmd, approved(t, f, cmd))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "title is required")
}

func TestExecuteCommand_RecoversPanic(t *testing.T) {
	f := newFixture(t)
	f.spy.panicOn = true
	cmd := command("cmd-1", contracts.ActionCreatePet, contracts.EntityPet, map[string]any{"name": "Rex"})

	var res contracts.ExecutionResult
	assert.NotPanics(t, func() {
		res = f.exec.ExecuteCommand(context.Background(), cmd, approved(t, f, cmd))
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "disk on fire")
}

func TestExecuteCommand_CompleteAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	create := command("c1", contracts.ActionCreateTask, contracts.EntityTask, map[string]any{"title": "fold laundry"})
	res := f.exec.ExecuteCommand(ctx, create, approved(t, f, create))
	require.True(t, res.Success, res.Error)
	taskID := res.RecordID

	complete := command("c2", contracts.ActionCompleteTask, contracts.EntityTask, map[string]any{"id": taskID})
	res = f.exec.ExecuteCommand(ctx, complete, approved(t, f, complete))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Task completed: fold laundry", res.Message)

	tasks, err := store.LoadInto[contracts.Task](ctx, f.store, store.CollectionTasks)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].Completed)

	del := command("c3", contracts.ActionDeleteItem, contracts.EntityTask, map[string]any{"id": taskID})
	res = f.exec.ExecuteCommand(ctx, del, approved(t, f, del))
	require.True(t, res.Success, res.Error)

	tasks, err = store.LoadInto[contracts.Task](ctx, f.store, store.CollectionTasks)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	missing := command("c4", contracts.ActionDeleteItem, contracts.EntityTask, map[string]any{"id": "nope"})
	res = f.exec.ExecuteCommand(ctx, missing, approved(t, f, missing))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not found")
}

func TestExecuteCommand_ShoppingItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cmd := command("s1", contracts.ActionCreateShopping, contracts.EntityShopping,
		map[string]any{"items": []any{"milk", "eggs", 3.0}})
	res := f.exec.ExecuteCommand(ctx, cmd, approved(t, f, cmd))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Created shopping: milk, eggs, 3", res.Message)

	items, err := store.LoadInto[contracts.ShoppingItem](ctx, f.store, store.CollectionShoppingItems)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

// flakyKV fails every Put while down is set.
type flakyKV struct {
	*store.MemoryKV
	down bool
	puts int
}

func (f *flakyKV) Put(ctx context.Context, key string, value []byte) error {
	f.puts++
	if f.down {
		return errors.New("backend down")
	}
	return f.MemoryKV.Put(ctx, key, value)
}

func TestExecuteCommand_ShoppingItemsAreAllOrNothing(t *testing.T) {
	ctx := context.Background()
	issuer, err := approval.NewTokenIssuer("test-secret", time.Minute)
	require.NoError(t, err)
	kv := &flakyKV{MemoryKV: store.NewMemoryKV(), down: true}
	st, err := store.New(kv, nil)
	require.NoError(t, err)
	queue := approval.NewQueue(issuer)
	exec := New(issuer, approval.NewMemoryLedger(), st)

	approve := func(cmd contracts.ActionCommand) contracts.ApprovalToken {
		require.NoError(t, queue.Enqueue(cmd))
		token, err := queue.Approve(ctx, cmd.ID)
		require.NoError(t, err)
		return token
	}

	cmd := command("s1", contracts.ActionCreateShopping, contracts.EntityShopping,
		map[string]any{"items": []any{"milk", "eggs", "bread"}})
	res := exec.ExecuteCommand(ctx, cmd, approve(cmd))
	assert.False(t, res.Success)
	assert.Equal(t, "backend down", res.Error)
	assert.Equal(t, 1, kv.puts, "all items go out in one write")

	kv.down = false
	items, err := store.LoadInto[contracts.ShoppingItem](ctx, st, store.CollectionShoppingItems)
	require.NoError(t, err)
	assert.Empty(t, items)

	again := command("s2", contracts.ActionCreateShopping, contracts.EntityShopping,
		map[string]any{"items": "milk, eggs, bread"})
	res = exec.ExecuteCommand(ctx, again, approve(again))
	require.True(t, res.Success, res.Error)
	items, err = store.LoadInto[contracts.ShoppingItem](ctx, st, store.CollectionShoppingItems)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func ptr[T any](v T) *T { return &v }
