// Package approval owns the lifecycle of pending commands and mints the
// single-use tokens that let the executor run them.
//
// A command is enqueued once, then either approved (a token is minted and
// the command leaves the queue) or rejected (it leaves the queue, no token).
// Both transitions are terminal.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/abbyhq/abby/pkg/contracts"
)

var (
	ErrNotFound  = errors.New("approval: command not found")
	ErrDuplicate = errors.New("approval: command already enqueued")
)

// Queue holds pending commands keyed by id.
type Queue struct {
	mu      sync.Mutex
	pending map[string]contracts.ActionCommand
	order   []string
	issuer  *TokenIssuer
	logger  *slog.Logger
}

// NewQueue creates an empty queue that mints tokens with issuer.
func NewQueue(issuer *TokenIssuer) *Queue {
	return &Queue{
		pending: make(map[string]contracts.ActionCommand),
		issuer:  issuer,
		logger:  slog.Default().With("component", "approval"),
	}
}

// Enqueue adds cmd. An id that is already pending is an error, never an
// overwrite: replacing a command must not leave an old token usable.
func (q *Queue) Enqueue(cmd contracts.ActionCommand) error {
	if cmd.ID == "" {
		return fmt.Errorf("approval: command id is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.pending[cmd.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, cmd.ID)
	}
	q.pending[cmd.ID] = cmd
	q.order = append(q.order, cmd.ID)
	return nil
}

// Approve removes the command and returns a token bound to it. A second
// approval of the same id fails with ErrNotFound.
func (q *Queue) Approve(ctx context.Context, commandID string) (contracts.ApprovalToken, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cmd, ok := q.pending[commandID]
	if !ok {
		return contracts.ApprovalToken{}, fmt.Errorf("%w: %s", ErrNotFound, commandID)
	}

	token, err := q.issuer.Issue(cmd)
	if err != nil {
		// The command stays pending so the user can retry.
		return contracts.ApprovalToken{}, fmt.Errorf("approval: mint token: %w", err)
	}
	q.removeLocked(commandID)

	q.logger.InfoContext(ctx, "command approved", "command_id", commandID, "action", cmd.Action)
	return token, nil
}

// Reject drops the command. Unknown or already resolved ids are a no-op.
func (q *Queue) Reject(ctx context.Context, commandID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.pending[commandID]; !ok {
		return
	}
	q.removeLocked(commandID)
	q.logger.InfoContext(ctx, "command rejected", "command_id", commandID)
}

// Get returns a pending command.
func (q *Queue) Get(commandID string) (contracts.ActionCommand, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cmd, ok := q.pending[commandID]
	return cmd, ok
}

// Pending lists pending commands in enqueue order.
func (q *Queue) Pending() []contracts.ActionCommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]contracts.ActionCommand, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.pending[id])
	}
	return out
}

// Len returns the number of pending commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) removeLocked(id string) {
	delete(q.pending, id)
	for i, v := range q.order {
		if v == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}
