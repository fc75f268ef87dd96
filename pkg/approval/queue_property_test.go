//go:build property
// +build property

package approval

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: for any interleaving of approve and reject calls on a set of
// enqueued ids, each id yields at most one token, and only if its first
// decision was an approval.
func TestDecisionsAreTerminal(t *testing.T) {
	issuer, err := NewTokenIssuer("property", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	type op struct {
		ID      int
		Approve bool
	}
	genOp := gopter.CombineGens(gen.IntRange(0, 4), gen.Bool()).Map(func(v []any) op {
		return op{ID: v[0].(int), Approve: v[1].(bool)}
	})

	properties.Property("each command is decided once", prop.ForAll(
		func(ops []op) bool {
			ctx := context.Background()
			q := NewQueue(issuer)
			for i := 0; i < 5; i++ {
				if err := q.Enqueue(testCommand(fmt.Sprintf("cmd-%d", i))); err != nil {
					return false
				}
			}

			tokens := map[string]int{}
			decided := map[string]bool{}
			for _, o := range ops {
				id := fmt.Sprintf("cmd-%d", o.ID)
				if !o.Approve {
					q.Reject(ctx, id)
					decided[id] = true
					continue
				}
				_, err := q.Approve(ctx, id)
				switch {
				case err == nil:
					if decided[id] {
						return false
					}
					tokens[id]++
				case !errors.Is(err, ErrNotFound):
					return false
				}
				decided[id] = true
			}
			for _, n := range tokens {
				if n != 1 {
					return false
				}
			}
			return q.Len() == 5-len(decided)
		},
		gen.SliceOf(genOp),
	))

	properties.TestingRun(t)
}
