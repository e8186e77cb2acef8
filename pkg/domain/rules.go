package domain

import (
	"context"
	"fmt"
)

// RuleView is the read-only state a rule inspects after a transaction's
// changes have been applied.
type RuleView interface {
	TransactionView
}

// Rule checks a commit-time invariant over the changes of one transaction.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine runs its rules in registration order before every commit.
type RulesEngine struct {
	rules []Rule
}

func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends rule. Registering a second rule under an existing name
// panics; rule sets are assembled once at start-up.
func (e *RulesEngine) Register(rule Rule) {
	for _, r := range e.rules {
		if r.Name() == rule.Name() {
			panic(fmt.Sprintf("domain: rule %q registered twice", rule.Name()))
		}
	}
	e.rules = append(e.rules, rule)
}

// Rules returns the registered rule names in evaluation order.
func (e *RulesEngine) Rules() []string {
	out := make([]string, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Name()
	}
	return out
}

// Evaluate merges every rule's result. Violations that do not name their rule
// are attributed to the rule that produced them. The first rule error aborts
// evaluation.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
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
