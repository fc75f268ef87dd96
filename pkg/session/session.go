// Package session is the confirmation contract between the pipeline and
// whatever renders proposals: a card is presented, the user approves or
// rejects it, and nothing else is accepted while an approval executes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/abbyhq/abby/pkg/approval"
	"github.com/abbyhq/abby/pkg/contracts"
)

var (
	// ErrBusy is returned while an approval is still executing.
	ErrBusy = errors.New("session: approval in progress")
	// ErrNoProposal is returned by HandleKey when nothing is presented.
	ErrNoProposal = errors.New("session: no proposal presented")
)

// Key is a keyboard input the confirmation card reacts to.
type Key int

const (
	KeyEnter Key = iota + 1
	KeyEscape
)

// Executor runs approved commands.
type Executor interface {
	ExecuteCommand(ctx context.Context, cmd contracts.ActionCommand, token contracts.ApprovalToken) contracts.ExecutionResult
}

// Controller owns the proposal currently on screen.
type Controller struct {
	mu         sync.Mutex
	queue      *approval.Queue
	exec       Executor
	current    *contracts.ActionProposal
	processing bool
	logger     *slog.Logger
}

func New(queue *approval.Queue, exec Executor) *Controller {
	return &Controller{
		queue:  queue,
		exec:   exec,
		logger: slog.Default().With("component", "session"),
	}
}

// Present enqueues p and puts it on screen. A card that was still open is
// rejected, since the user moved on without answering it.
func (c *Controller) Present(ctx context.Context, p contracts.ActionProposal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processing {
		return ErrBusy
	}
	if err := c.queue.Enqueue(p.Command); err != nil {
		return err
	}
	if c.current != nil {
		c.queue.Reject(ctx, c.current.Command.ID)
	}
	c.current = &p
	return nil
}

// Current returns the proposal on screen.
func (c *Controller) Current() (contracts.ActionProposal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return contracts.ActionProposal{}, false
	}
	return *c.current, true
}

func (c *Controller) IsProcessing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing
}

// OnApprove approves a pending command and executes it. Any pending id is
// accepted, not only the one on screen.
func (c *Controller) OnApprove(ctx context.Context, commandID string) (contracts.ApprovalToken, contracts.ExecutionResult, error) {
	c.mu.Lock()
	if c.processing {
		c.mu.Unlock()
		return contracts.ApprovalToken{}, contracts.ExecutionResult{}, ErrBusy
	}
	cmd, ok := c.queue.Get(commandID)
	if !ok {
		c.mu.Unlock()
		return contracts.ApprovalToken{}, contracts.ExecutionResult{}, fmt.Errorf("%w: %s", approval.ErrNotFound, commandID)
	}
	token, err := c.queue.Approve(ctx, commandID)
	if err != nil {
		c.mu.Unlock()
		return contracts.ApprovalToken{}, contracts.ExecutionResult{}, err
	}
	c.processing = true
	if c.current != nil && c.current.Command.ID == commandID {
		c.current = nil
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.processing = false
		c.mu.Unlock()
	}()

	res := c.exec.ExecuteCommand(ctx, cmd, token)
	if !res.Success {
		c.logger.WarnContext(ctx, "approved command failed", "command", commandID, "error", res.Error)
	}
	return token, res, nil
}

// OnReject drops a pending command. Unknown ids are ignored.
func (c *Controller) OnReject(ctx context.Context, commandID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processing {
		return ErrBusy
	}
	c.queue.Reject(ctx, commandID)
	if c.current != nil && c.current.Command.ID == commandID {
		c.current = nil
	}
	return nil
}

// HandleKey applies the keyboard contract to the proposal on screen:
// Enter approves, Escape rejects. The result is nil for rejections.
func (c *Controller) HandleKey(ctx context.Context, k Key) (*contracts.ExecutionResult, error) {
	p, ok := c.Current()
	if !ok {
		return nil, ErrNoProposal
	}
	switch k {
	case KeyEnter:
		_, res, err := c.OnApprove(ctx, p.Command.ID)
		if err != nil {
			return nil, err
		}
		return &res, nil
	case KeyEscape:
		return nil, c.OnReject(ctx, p.Command.ID)
	default:
		return nil, fmt.Errorf("session: unhandled key %d", k)
	}
}

// View renders the proposal on screen as a plain text card.
func (c *Controller) View() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		if c.processing {
			return "Working...\n"
		}
		return ""
	}
	return Render(*c.current)
}

// Render draws a proposal as a confirmation card.
func Render(p contracts.ActionProposal) string {
	var b strings.Builder
	b.WriteString(p.Summary.Title)
	b.WriteByte('\n')
	if p.Summary.Description != "" {
		b.WriteString(p.Summary.Description)
		b.WriteByte('\n')
	}
	if len(p.Summary.Impacts) > 0 {
		b.WriteByte('\n')
		for _, line := range p.Summary.Impacts {
			b.WriteString("  - ")
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	if len(p.Risks) > 0 {
		b.WriteByte('\n')
		for _, r := range p.Risks {
			b.WriteString("  ! ")
			b.WriteString(r)
			b.WriteByte('\n')
		}
	}
	b.WriteString("\n[Enter] Confirm   [Esc] Cancel\n")
	return b.String()
}
