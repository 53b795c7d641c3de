package domain

import (
	"context"
	"fmt"
	"strings"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Action enumerates the record lifecycle events evaluated by rules.
type Action string

// Change actions.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change describes one record transition. Before is nil on create, After on delete.
type Change[T any] struct {
	Entity EntityType
	Action Action
	ID     string
	Before *T
	After  *T
}

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
// It matches ErrConflict.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	var msgs []string
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			msgs = append(msgs, v.Rule+": "+v.Message)
		}
	}
	if len(msgs) == 0 {
		return "transaction blocked by rules"
	}
	return fmt.Sprintf("transaction blocked by rules: %s", strings.Join(msgs, "; "))
}

func (e RuleViolationError) Unwrap() error { return ErrConflict }

// Rule defines an invariant evaluated before a record change is committed.
type Rule[T any] interface {
	Name() string
	Evaluate(ctx context.Context, change Change[T]) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine[T any] struct {
	rules []Rule[T]
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine[T any](rules ...Rule[T]) *RulesEngine[T] {
	return &RulesEngine[T]{rules: rules}
}

// Register appends a rule to the engine.
func (e *RulesEngine[T]) Register(rule Rule[T]) {
	e.rules = append(e.rules, rule)
}

// Evaluate executes all registered rules and aggregates their results.
// A nil engine evaluates to an empty result.
func (e *RulesEngine[T]) Evaluate(ctx context.Context, change Change[T]) (Result, error) {
	var combined Result
	if e == nil {
		return combined, nil
	}
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, change)
		if err != nil {
			return Result{}, fmt.Errorf("rule %s: %w", rule.Name(), err)
		}
		combined.Merge(res)
	}
	return combined, nil
}
