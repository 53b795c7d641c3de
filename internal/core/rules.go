package core

import (
	"context"
	"fmt"
	"reflect"

	"fleetcore/pkg/domain"
)

// NewEquipmentRulesEngine builds the rules engine guarding every equipment write.
func NewEquipmentRulesEngine() *domain.RulesEngine[domain.Equipment] {
	return domain.NewRulesEngine(
		HoursMonotoneRule(),
		LogHistoryRule(),
		UrgencyConsistencyRule(),
	)
}

// HoursMonotoneRule blocks updates that move a machine's hour meter backwards.
func HoursMonotoneRule() domain.Rule[domain.Equipment] {
	return hoursMonotoneRule{}
}

type hoursMonotoneRule struct{}

func (hoursMonotoneRule) Name() string { return "hours_monotone" }

func (r hoursMonotoneRule) Evaluate(_ context.Context, change domain.Change[domain.Equipment]) (domain.Result, error) {
	var res domain.Result
	if change.Action != domain.ActionUpdate || change.Before == nil || change.After == nil {
		return res, nil
	}
	if change.After.CurrentHours < change.Before.CurrentHours {
		res.Violations = append(res.Violations, violation(r.Name(), change,
			fmt.Sprintf("hours moved from %g to %g", change.Before.CurrentHours, change.After.CurrentHours)))
	}
	return res, nil
}

// LogHistoryRule blocks updates that edit or drop existing service logs.
// New logs may only be added in front of the previous history.
func LogHistoryRule() domain.Rule[domain.Equipment] {
	return logHistoryRule{}
}

type logHistoryRule struct{}

func (logHistoryRule) Name() string { return "log_history_append_only" }

func (r logHistoryRule) Evaluate(_ context.Context, change domain.Change[domain.Equipment]) (domain.Result, error) {
	var res domain.Result
	if change.Action != domain.ActionUpdate || change.Before == nil || change.After == nil {
		return res, nil
	}
	before, after := change.Before.Logs, change.After.Logs
	if len(after) < len(before) {
		res.Violations = append(res.Violations, violation(r.Name(), change, "logs removed"))
		return res, nil
	}
	tail := after[len(after)-len(before):]
	if len(before) > 0 && !reflect.DeepEqual(tail, before) {
		res.Violations = append(res.Violations, violation(r.Name(), change, "existing logs modified"))
	}
	return res, nil
}

// UrgencyConsistencyRule blocks writes whose task urgencies disagree with
// DeriveUrgency for the machine's hours.
func UrgencyConsistencyRule() domain.Rule[domain.Equipment] {
	return urgencyConsistencyRule{}
}

type urgencyConsistencyRule struct{}

func (urgencyConsistencyRule) Name() string { return "urgency_consistency" }

func (r urgencyConsistencyRule) Evaluate(_ context.Context, change domain.Change[domain.Equipment]) (domain.Result, error) {
	var res domain.Result
	eq := change.After
	if eq == nil {
		return res, nil
	}
	for _, task := range eq.Tasks {
		want := domain.DeriveUrgency(task.NextDueHours, eq.CurrentHours)
		if task.Urgency != want {
			res.Violations = append(res.Violations, violation(r.Name(), change,
				fmt.Sprintf("task %s urgency %q, expected %q", task.ID, task.Urgency, want)))
		}
	}
	return res, nil
}

func violation(rule string, change domain.Change[domain.Equipment], msg string) domain.Violation {
	return domain.Violation{
		Rule:     rule,
		Severity: domain.SeverityBlock,
		Message:  msg,
		Entity:   change.Entity,
		EntityID: change.ID,
	}
}
