package proposal

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/abbyhq/abby/pkg/contracts"
)

// Rule flags a proposal when its CEL condition holds.
//
// Conditions see: action, entity (strings), params (map), confidence
// (double), assisted (true when the command came from the classifier) and
// today (YYYY-MM-DD).
type Rule struct {
	ID      string `yaml:"id" json:"id"`
	When    string `yaml:"when" json:"when"`
	Message string `yaml:"message" json:"message"`
}

// BuiltinRules always apply.
var BuiltinRules = []Rule{
	{
		ID:      "irreversible-delete",
		When:    `action == "delete_item"`,
		Message: "Deleting cannot be undone.",
	},
	{
		ID:      "many-shopping-items",
		When:    `action == "create_shopping" && item_count > 10`,
		Message: "This adds more than 10 items to the shopping list.",
	},
	{
		ID:      "date-in-past",
		When:    `(entity == "appointment" || entity == "reminder") && "date" in params && string(params.date) < today`,
		Message: "The date is in the past.",
	},
	{
		ID:      "low-confidence",
		When:    `assisted && confidence < 0.6`,
		Message: "This request may have been misunderstood.",
	},
}

type compiledRule struct {
	Rule
	prg cel.Program
}

// RiskEvaluator turns a command into the risk warnings of its proposal.
type RiskEvaluator struct {
	rules  []compiledRule
	logger *slog.Logger
}

// NewRiskEvaluator compiles the built-in rules plus extra. A rule that does
// not compile to a boolean is a configuration error.
func NewRiskEvaluator(extra []Rule) (*RiskEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("action", cel.StringType),
		cel.Variable("entity", cel.StringType),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("confidence", cel.DoubleType),
		cel.Variable("assisted", cel.BoolType),
		cel.Variable("today", cel.StringType),
		cel.Variable("item_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	all := append(append([]Rule(nil), BuiltinRules...), extra...)
	compiled := make([]compiledRule, 0, len(all))
	for _, r := range all {
		if r.ID == "" || r.When == "" || r.Message == "" {
			return nil, fmt.Errorf("risk rule %q: id, when and message are required", r.ID)
		}
		ast, issues := env.Compile(r.When)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("risk rule %s: compile: %w", r.ID, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("risk rule %s: condition must be boolean, got %s", r.ID, ast.OutputType())
		}
		prg, err := env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
		if err != nil {
			return nil, fmt.Errorf("risk rule %s: program: %w", r.ID, err)
		}
		compiled = append(compiled, compiledRule{Rule: r, prg: prg})
	}

	return &RiskEvaluator{rules: compiled, logger: slog.Default().With("component", "risk")}, nil
}

// Evaluate returns the messages of every rule that holds, in rule order.
// Rules that fail at runtime are logged and skipped.
func (e *RiskEvaluator) Evaluate(cmd contracts.ActionCommand, now time.Time) []string {
	params := cmd.Params
	if params == nil {
		params = map[string]any{}
	}
	input := map[string]any{
		"action":     string(cmd.Action),
		"entity":     string(cmd.Entity),
		"params":     params,
		"confidence": cmd.Confidence,
		"assisted":   cmd.Source != "",
		"today":      now.Format(time.DateOnly),
		"item_count": int64(contracts.ItemCount(cmd.Entity, params)),
	}

	var risks []string
	for _, r := range e.rules {
		out, _, err := r.prg.Eval(input)
		if err != nil {
			e.logger.Warn("risk rule failed", "rule", r.ID, "command", cmd.ID, "error", err)
			continue
		}
		if hit, ok := out.Value().(bool); ok && hit {
			risks = append(risks, r.Message)
		}
	}
	return risks
}
