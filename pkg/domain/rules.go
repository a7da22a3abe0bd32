package domain

import (
	"context"
	"fmt"
)

// RuleView is the committed-to-be state a rule inspects: the packages of the
// model with their folders, elements, relations and views, as they will look
// if the transaction commits.
type RuleView interface {
	TransactionView
}

// Rule checks architecture invariants (element typing, relation endpoints,
// diagram references) against the changes of one transaction. A violation
// with SeverityBlock aborts the commit.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine runs the registered rules at commit time, in registration
// order.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine returns an engine with no rules; every commit passes.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Rules returns the registered rule names in registration order.
func (e *RulesEngine) Rules() []string {
	names := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		names = append(names, r.Name())
	}
	return names
}

// Evaluate runs every rule and merges their violations. Violations a rule
// leaves unattributed carry the rule's name. A rule error aborts the run.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, fmt.Errorf("rule %s: %w", rule.Name(), err)
		}
		for i := range res.Violations {
			if res.Violations[i].Rule == "" {
				res.Violations[i].Rule = rule.Name()
			}
		}
		combined.Merge(res)
	}
	return combined, nil
}
