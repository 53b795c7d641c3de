package core

import (
	"context"
	"sort"
	"strings"
	"time"

	"fleetcore/pkg/domain"
)

// UpdateHours raises the machine's hour meter to hours. Lower readings are
// ignored, so the meter never moves backwards. Every task's urgency is
// recomputed against the resulting hours.
func (s *Service) UpdateHours(ctx context.Context, id string, hours float64) (eq domain.Equipment, err error) {
	defer s.track(ctx, "update_hours", time.Now(), &err, "equipment_id", id, "hours", hours)
	if err := validHours("hours", hours); err != nil {
		return domain.Equipment{}, domain.NewEntityError("update hours", domain.EntityEquipment, id, err)
	}
	return s.equipment.Mutate(ctx, id, func(cur domain.Equipment) (domain.Equipment, error) {
		return ApplyHours(cur, hours), nil
	})
}

// AddLog records a completed service in front of the machine's history.
// The hour meter advances to HoursAtService when higher. When TaskID names
// one of the machine's tasks, that task is marked performed and its next due
// point moves forward by its intervals; an unknown TaskID is ignored.
func (s *Service) AddLog(ctx context.Context, id string, in LogInput) (eq domain.Equipment, err error) {
	defer s.track(ctx, "add_log", time.Now(), &err, "equipment_id", id, "task_id", in.TaskID)
	if err := in.Validate(); err != nil {
		return domain.Equipment{}, domain.NewEntityError("add log", domain.EntityEquipment, id, err)
	}
	logID := s.ids.NewID()
	return s.equipment.Mutate(ctx, id, func(cur domain.Equipment) (domain.Equipment, error) {
		return ApplyLog(cur, domain.MaintenanceLog{
			ID:             logID,
			EquipmentID:    cur.ID,
			Date:           in.Date,
			HoursAtService: in.HoursAtService,
			Description:    strings.TrimSpace(in.Description),
			Cost:           in.Cost,
			PerformedBy:    strings.TrimSpace(in.PerformedBy),
		}, in.TaskID), nil
	})
}

// SetStatus moves the machine to status. Urgencies are refreshed on the way.
func (s *Service) SetStatus(ctx context.Context, id string, status domain.EquipmentStatus) (eq domain.Equipment, err error) {
	defer s.track(ctx, "set_status", time.Now(), &err, "equipment_id", id, "status", string(status))
	if !status.Valid() {
		return domain.Equipment{}, domain.NewEntityError("set status", domain.EntityEquipment, id,
			domain.Invalid("status", "unknown status "+string(status)))
	}
	return s.equipment.Mutate(ctx, id, func(cur domain.Equipment) (domain.Equipment, error) {
		cur.Status = status
		cur.Tasks = domain.RecomputeUrgency(cur.Tasks, cur.CurrentHours)
		return cur, nil
	})
}

// AddTask attaches a custom maintenance task. Its next due point is derived
// from the last performed values, or from the machine's current hours and
// today when the task has never been performed.
func (s *Service) AddTask(ctx context.Context, id string, in TaskInput) (eq domain.Equipment, err error) {
	defer s.track(ctx, "add_task", time.Now(), &err, "equipment_id", id)
	if err := in.Validate(); err != nil {
		return domain.Equipment{}, domain.NewEntityError("add task", domain.EntityEquipment, id, err)
	}
	taskID := s.ids.NewID()
	today := time.Now().UTC().Format(domain.DateLayout)
	return s.equipment.Mutate(ctx, id, func(cur domain.Equipment) (domain.Equipment, error) {
		task := domain.MaintenanceTask{
			ID:                 taskID,
			Title:              strings.TrimSpace(in.Title),
			IntervalHours:      in.IntervalHours,
			IntervalMonths:     in.IntervalMonths,
			LastPerformedHours: in.LastPerformedHours,
			LastPerformedDate:  in.LastPerformedDate,
		}.Clone()
		if task.IntervalHours != nil {
			base := cur.CurrentHours
			if task.LastPerformedHours != nil {
				base = *task.LastPerformedHours
			}
			task.NextDueHours = domain.Float(base + *task.IntervalHours)
		}
		if task.IntervalMonths != nil {
			base := task.LastPerformedDate
			if base == "" {
				base = today
			}
			task.NextDueDate = domain.AddMonths(base, *task.IntervalMonths)
		}
		cur.Tasks = append(cur.Tasks, task)
		cur.Tasks = domain.RecomputeUrgency(cur.Tasks, cur.CurrentHours)
		return cur, nil
	})
}

// ApplyHours returns eq with its meter raised to hours and urgencies recomputed.
func ApplyHours(eq domain.Equipment, hours float64) domain.Equipment {
	out := eq.Clone()
	out.CurrentHours = max(eq.CurrentHours, hours)
	out.Tasks = domain.RecomputeUrgency(out.Tasks, out.CurrentHours)
	return out
}

// ApplyLog returns eq with log prepended to its history. See Service.AddLog.
func ApplyLog(eq domain.Equipment, log domain.MaintenanceLog, taskID string) domain.Equipment {
	out := eq.Clone()
	out.Logs = append([]domain.MaintenanceLog{log}, out.Logs...)
	out.CurrentHours = max(out.CurrentHours, log.HoursAtService)
	if i := out.TaskIndex(taskID); taskID != "" && i >= 0 {
		task := out.Tasks[i]
		task.LastPerformedHours = domain.Float(log.HoursAtService)
		task.LastPerformedDate = log.Date
		if task.IntervalHours != nil {
			task.NextDueHours = domain.Float(log.HoursAtService + *task.IntervalHours)
		}
		if task.IntervalMonths != nil {
			if next := domain.AddMonths(log.Date, *task.IntervalMonths); next != "" {
				task.NextDueDate = next
			}
		}
		out.Tasks[i] = task
	}
	out.Tasks = domain.RecomputeUrgency(out.Tasks, out.CurrentHours)
	return out
}

// ScheduleItem is one maintenance task flattened with its machine.
type ScheduleItem struct {
	domain.MaintenanceTask
	MachineID    string  `json:"machineId"`
	MachineName  string  `json:"machineName"`
	CurrentHours float64 `json:"currentHours"`
}

// Schedule lists every task across the fleet, most urgent first and then by
// next due hours, filtered by a case-insensitive match on task title or
// machine name.
func (s *Service) Schedule(ctx context.Context, query string) (items []ScheduleItem, err error) {
	defer s.track(ctx, "schedule", time.Now(), &err, "query", query)
	fleet, err := s.equipment.All(ctx)
	if err != nil {
		return nil, err
	}
	return BuildSchedule(fleet, query), nil
}

// BuildSchedule flattens and orders the tasks of fleet. See Service.Schedule.
func BuildSchedule(fleet []domain.Equipment, query string) []ScheduleItem {
	items := []ScheduleItem{}
	for _, eq := range fleet {
		for _, task := range eq.Tasks {
			if !domain.Matches(query, task.Title, eq.Name) {
				continue
			}
			items = append(items, ScheduleItem{
				MaintenanceTask: task.Clone(),
				MachineID:       eq.ID,
				MachineName:     eq.Name,
				CurrentHours:    eq.CurrentHours,
			})
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if ra, rb := a.Urgency.Rank(), b.Urgency.Rank(); ra != rb {
			return ra < rb
		}
		return dueOrMax(a.NextDueHours) < dueOrMax(b.NextDueHours)
	})
	return items
}

func dueOrMax(v *float64) float64 {
	if v == nil {
		return 1e18
	}
	return *v
}

// HistoryItem is one service log flattened with its machine name.
type HistoryItem struct {
	domain.MaintenanceLog
	MachineName string `json:"machineName"`
}

// History is the fleet-wide service history.
type History struct {
	Items      []HistoryItem `json:"items"`
	TotalSpend float64       `json:"totalSpend"`
}

// History lists every service log newest date first, filtered by a
// case-insensitive match on description, machine name or technician.
// TotalSpend sums the cost of the listed logs.
func (s *Service) History(ctx context.Context, query string) (h History, err error) {
	defer s.track(ctx, "history", time.Now(), &err, "query", query)
	fleet, err := s.equipment.All(ctx)
	if err != nil {
		return History{}, err
	}
	return BuildHistory(fleet, query), nil
}

// BuildHistory flattens and orders the logs of fleet. See Service.History.
func BuildHistory(fleet []domain.Equipment, query string) History {
	h := History{Items: []HistoryItem{}}
	for _, eq := range fleet {
		for _, log := range eq.Logs {
			if !domain.Matches(query, log.Description, eq.Name, log.PerformedBy) {
				continue
			}
			h.Items = append(h.Items, HistoryItem{MaintenanceLog: log, MachineName: eq.Name})
			h.TotalSpend += log.Cost
		}
	}
	sort.SliceStable(h.Items, func(i, j int) bool {
		return logTime(h.Items[i].Date).After(logTime(h.Items[j].Date))
	})
	return h
}

func logTime(date string) time.Time {
	t, _ := domain.ParseDate(date)
	return t
}

// FleetSummary counts machines by status and tasks that are overdue.
type FleetSummary struct {
	Total        int `json:"total"`
	Operational  int `json:"operational"`
	Maintenance  int `json:"maintenance"`
	Down         int `json:"down"`
	OverdueTasks int `json:"overdueTasks"`
}

// Summary aggregates the fleet.
func (s *Service) Summary(ctx context.Context) (sum FleetSummary, err error) {
	defer s.track(ctx, "fleet_summary", time.Now(), &err)
	fleet, err := s.equipment.All(ctx)
	if err != nil {
		return FleetSummary{}, err
	}
	return Summarize(fleet), nil
}

// Summarize aggregates fleet. See Service.Summary.
func Summarize(fleet []domain.Equipment) FleetSummary {
	sum := FleetSummary{Total: len(fleet)}
	for _, eq := range fleet {
		switch eq.Status {
		case domain.StatusOperational:
			sum.Operational++
		case domain.StatusMaintenance:
			sum.Maintenance++
		case domain.StatusDown:
			sum.Down++
		}
		for _, task := range eq.Tasks {
			if task.Urgency == domain.UrgencyOverdue {
				sum.OverdueTasks++
			}
		}
	}
	return sum
}
