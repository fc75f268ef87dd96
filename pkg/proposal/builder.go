// Package proposal turns intents and direct UI requests into proposals:
// a command plus the summary and risk warnings the confirmation card shows.
package proposal

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/abbyhq/abby/pkg/contracts"
	"github.com/abbyhq/abby/pkg/store"
)

var (
	// ErrNotActionable is returned for intents that need clarification.
	ErrNotActionable = errors.New("intent is not actionable")
	// ErrInvalidRequest is returned for malformed direct proposals.
	ErrInvalidRequest = errors.New("invalid proposal request")
)

var titles = map[contracts.ActionType]string{
	contracts.ActionCreateTask:        "Add task",
	contracts.ActionCreateMeal:        "Plan meal",
	contracts.ActionCreateShopping:    "Add to shopping list",
	contracts.ActionCreateReminder:    "Set reminder",
	contracts.ActionCreateAppointment: "Schedule appointment",
	contracts.ActionCreateFamily:      "Add family member",
	contracts.ActionCreatePet:         "Add pet",
	contracts.ActionCompleteTask:      "Complete task",
}

// Builder creates proposals. It is safe for concurrent use.
type Builder struct {
	risks *RiskEvaluator
	clock func() time.Time
	newID func() string
}

// NewBuilder creates a Builder. risks may be nil.
func NewBuilder(risks *RiskEvaluator) *Builder {
	return &Builder{
		risks: risks,
		clock: time.Now,
		newID: uuid.NewString,
	}
}

// WithClock overrides the time source (for testing).
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// FromIntent builds the proposal for a classified intent.
func (b *Builder) FromIntent(in contracts.ActionIntent) (contracts.ActionProposal, error) {
	if in.NeedsClarification() {
		return contracts.ActionProposal{}, fmt.Errorf("%w: %s", ErrNotActionable, in.Type)
	}
	if _, ok := in.Action.CreateEntity(); !ok {
		return contracts.ActionProposal{}, fmt.Errorf("%w: action %q", ErrNotActionable, in.Action)
	}
	cmd := contracts.ActionCommand{
		ID:         b.newID(),
		Action:     in.Action,
		Entity:     in.Entity,
		Params:     copyParams(in.Payload),
		Confidence: in.Confidence,
		Source:     in.Raw,
		CreatedAt:  b.clock().UTC(),
	}
	return b.build(cmd), nil
}

// FromRequest builds a proposal for an action the user picked directly.
func (b *Builder) FromRequest(action contracts.ActionType, entity contracts.EntityType, params map[string]any) (contracts.ActionProposal, error) {
	if !action.IsMutation() {
		return contracts.ActionProposal{}, fmt.Errorf("%w: unsupported action %q", ErrInvalidRequest, action)
	}

	switch {
	case action == contracts.ActionCompleteTask:
		if entity != "" && entity != contracts.EntityTask {
			return contracts.ActionProposal{}, fmt.Errorf("%w: %s applies to tasks only", ErrInvalidRequest, action)
		}
		entity = contracts.EntityTask
	case action == contracts.ActionDeleteItem:
		if !entity.Valid() {
			return contracts.ActionProposal{}, fmt.Errorf("%w: unknown entity %q", ErrInvalidRequest, entity)
		}
	default:
		want, _ := action.CreateEntity()
		if entity != "" && entity != want {
			return contracts.ActionProposal{}, fmt.Errorf("%w: %s creates %s, not %s", ErrInvalidRequest, action, want, entity)
		}
		entity = want
	}

	if action == contracts.ActionCompleteTask || action == contracts.ActionDeleteItem {
		if id, _ := params["id"].(string); strings.TrimSpace(id) == "" {
			return contracts.ActionProposal{}, fmt.Errorf("%w: params.id is required for %s", ErrInvalidRequest, action)
		}
	}

	cmd := contracts.ActionCommand{
		ID:         b.newID(),
		Action:     action,
		Entity:     entity,
		Params:     copyParams(params),
		Confidence: 1,
		CreatedAt:  b.clock().UTC(),
	}
	return b.build(cmd), nil
}

func (b *Builder) build(cmd contracts.ActionCommand) contracts.ActionProposal {
	p := contracts.ActionProposal{
		Command: cmd,
		Summary: contracts.ProposalSummary{
			Title:       b.titleFor(cmd),
			Description: describe(cmd),
			Impacts:     impacts(cmd),
		},
	}
	if b.risks != nil {
		p.Risks = b.risks.Evaluate(cmd, b.clock())
	}
	return p
}

func (b *Builder) titleFor(cmd contracts.ActionCommand) string {
	if t, ok := titles[cmd.Action]; ok {
		return t
	}
	return "Delete " + strings.ReplaceAll(string(cmd.Entity), "_", " ")
}

// describe picks the record's own label.
func describe(cmd contracts.ActionCommand) string {
	for _, key := range []string{"title", "name", "item"} {
		if s, ok := cmd.Params[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	if id, ok := cmd.Params["id"].(string); ok {
		return id
	}
	return ""
}

var skipImpact = map[string]bool{"id": true, "title": true, "name": true, "item": true}

func impacts(cmd contracts.ActionCommand) []string {
	collection, _ := store.CollectionFor(cmd.Entity)

	keys := make([]string, 0, len(cmd.Params))
	for k := range cmd.Params {
		if !skipImpact[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		v := render(cmd.Params[k])
		if v == "" {
			continue
		}
		out = append(out, label(k)+": "+v)
	}

	switch cmd.Action {
	case contracts.ActionDeleteItem:
		out = append(out, fmt.Sprintf("Removes %s from %s", describe(cmd), collection))
	case contracts.ActionCompleteTask:
		out = append(out, fmt.Sprintf("Marks %s as completed in %s", describe(cmd), collection))
	default:
		if n := contracts.ItemCount(cmd.Entity, cmd.Params); n > 1 {
			out = append(out, fmt.Sprintf("Adds %d records to %s", n, collection))
		} else {
			out = append(out, "Adds 1 record to "+collection)
		}
	}
	return out
}

// label turns "dueDate" or "due_date" into "Due Date".
func label(key string) string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range key {
		switch {
		case r == '_' || r == '-' || r == ' ':
			flush()
		case unicode.IsUpper(r):
			flush()
			cur = append(cur, unicode.ToLower(r))
		default:
			cur = append(cur, r)
		}
	}
	flush()
	// Casers keep state, so each call gets its own.
	return cases.Title(language.English).String(strings.Join(words, " "))
}

func render(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case bool:
		if x {
			return "yes"
		}
		return "no"
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			if s := render(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(x)
	}
}

func copyParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
