// Package executor is the only place a command turns into a mutation, and
// it only does so for a valid, unused approval token.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abbyhq/abby/pkg/approval"
	"github.com/abbyhq/abby/pkg/contracts"
	"github.com/abbyhq/abby/pkg/store"
)

// InvalidApproval is the error text of every rejected token.
const InvalidApproval = "invalid or expired approval"

// Verifier checks a token against the command it is presented with.
type Verifier interface {
	Verify(cmd contracts.ActionCommand, token contracts.ApprovalToken) (*approval.TokenClaims, error)
}

// Records is the persistence the executor mutates.
type Records interface {
	AppendMany(ctx context.Context, name string, recs []any) ([]store.Record, error)
	Update(ctx context.Context, name, id string, fn func(store.Record) error) (store.Record, error)
	Remove(ctx context.Context, name, id string) error
}

// Executor runs approved commands against the household records.
type Executor struct {
	verifier Verifier
	ledger   approval.Ledger
	records  Records
	newID    func() string
	clock    func() time.Time
	logger   *slog.Logger
}

// New builds an Executor. Tokens are checked with verifier and spent in ledger.
func New(verifier Verifier, ledger approval.Ledger, records Records) *Executor {
	return &Executor{
		verifier: verifier,
		ledger:   ledger,
		records:  records,
		newID:    uuid.NewString,
		clock:    time.Now,
		logger:   slog.Default().With("component", "executor"),
	}
}

// WithClock overrides the time source (for testing).
func (e *Executor) WithClock(clock func() time.Time) *Executor {
	e.clock = clock
	return e
}

// ExecuteCommand runs cmd if token authorizes it. It never panics and never
// returns an error: every failure is reported in the result.
//
// The token is consumed before the mutation runs; a failed mutation does
// not make it usable again.
func (e *Executor) ExecuteCommand(ctx context.Context, cmd contracts.ActionCommand, token contracts.ApprovalToken) (res contracts.ExecutionResult) {
	res.CommandID = cmd.ID
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "execution panicked", "command", cmd.ID, "panic", r)
			res = contracts.ExecutionResult{CommandID: cmd.ID, Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	if err := e.authorize(ctx, cmd, token); err != nil {
		e.logger.WarnContext(ctx, "approval refused", "command", cmd.ID, "error", err)
		res.Error = InvalidApproval
		return res
	}

	msg, recordID, err := e.mutate(ctx, cmd)
	if err != nil {
		e.logger.ErrorContext(ctx, "execution failed", "command", cmd.ID, "action", cmd.Action, "error", err)
		res.Error = err.Error()
		return res
	}

	e.logger.InfoContext(ctx, "command executed", "command", cmd.ID, "action", cmd.Action, "record", recordID)
	res.Success = true
	res.Message = msg
	res.RecordID = recordID
	return res
}

func (e *Executor) authorize(ctx context.Context, cmd contracts.ActionCommand, token contracts.ApprovalToken) error {
	if e.verifier == nil || e.ledger == nil {
		return errors.New("executor has no approval verifier")
	}
	claims, err := e.verifier.Verify(cmd, token)
	if err != nil {
		return err
	}
	if claims.ID == "" || claims.ExpiresAt == nil {
		return fmt.Errorf("%w: token has no id", approval.ErrInvalidToken)
	}
	fresh, err := e.ledger.Consume(ctx, claims.ID, claims.ExpiresAt.Time)
	if err != nil {
		return fmt.Errorf("consume token: %w", err)
	}
	if !fresh {
		return fmt.Errorf("%w: token already used", approval.ErrInvalidToken)
	}
	return nil
}

func (e *Executor) mutate(ctx context.Context, cmd contracts.ActionCommand) (string, string, error) {
	collection, ok := store.CollectionFor(cmd.Entity)
	if !ok {
		return "", "", fmt.Errorf("unknown entity %q", cmd.Entity)
	}
	params := cmd.Params
	if params == nil {
		params = map[string]any{}
	}

	switch cmd.Action {
	case contracts.ActionCompleteTask:
		id := str(params, "id")
		rec, err := e.records.Update(ctx, collection, id, func(r store.Record) error {
			r["completed"] = true
			return nil
		})
		if err != nil {
			return "", "", err
		}
		return fmt.Sprintf("Task completed: %v", rec["title"]), id, nil

	case contracts.ActionDeleteItem:
		id := str(params, "id")
		if err := e.records.Remove(ctx, collection, id); err != nil {
			return "", "", err
		}
		return fmt.Sprintf("Deleted %s %s", cmd.Entity, id), id, nil
	}

	entity, ok := cmd.Action.CreateEntity()
	if !ok {
		return "", "", fmt.Errorf("action %q cannot be executed", cmd.Action)
	}
	if entity != cmd.Entity {
		return "", "", fmt.Errorf("action %s does not write %s", cmd.Action, cmd.Entity)
	}

	recs, err := buildRecords(entity, params, e.newID, e.clock().UTC())
	if err != nil {
		return "", "", fmt.Errorf("invalid %s: %w", entity, err)
	}
	saved, err := e.records.AppendMany(ctx, collection, recs)
	if err != nil {
		return "", "", err
	}
	ids := make([]string, 0, len(saved))
	labels := make([]string, 0, len(saved))
	for _, r := range saved {
		ids = append(ids, fmt.Sprint(r["id"]))
		if l, ok := r["title"].(string); ok {
			labels = append(labels, l)
		} else if l, ok := r["name"].(string); ok {
			labels = append(labels, l)
		}
	}
	return fmt.Sprintf("Created %s: %s", entity, strings.Join(labels, ", ")), strings.Join(ids, ","), nil
}
