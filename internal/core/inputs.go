package core

import (
	"math"
	"strings"

	"fleetcore/pkg/domain"
)

// Default maintenance plan attached to every newly created machine.
var defaultTasks = []struct {
	title    string
	interval float64
}{
	{"Engine Oil Change", 50},
	{"Air Filter Check", 100},
}

// CreateInput describes a machine to add to the fleet.
type CreateInput struct {
	Name         string               `json:"name"`
	Type         domain.EquipmentType `json:"type"`
	Model        string               `json:"model"`
	SerialNumber string               `json:"serialNumber"`
	PurchaseDate string               `json:"purchaseDate"`
	CurrentHours float64              `json:"currentHours"`
	Image        string               `json:"image"`
}

// Validate checks the fields a new machine needs.
func (in CreateInput) Validate() error {
	if len([]rune(strings.TrimSpace(in.Name))) < 2 {
		return domain.Invalid("name", "must be at least 2 characters")
	}
	if !in.Type.Valid() {
		return domain.Invalid("type", "unknown equipment type "+string(in.Type))
	}
	if err := validHours("currentHours", in.CurrentHours); err != nil {
		return err
	}
	if in.PurchaseDate != "" {
		if _, ok := domain.ParseDate(in.PurchaseDate); !ok {
			return domain.Invalid("purchaseDate", "must be a YYYY-MM-DD date")
		}
	}
	return nil
}

// LogInput describes a completed service. TaskID optionally names the task
// the service fulfils.
type LogInput struct {
	HoursAtService float64 `json:"hoursAtService"`
	Date           string  `json:"date"`
	Description    string  `json:"description"`
	Cost           float64 `json:"cost"`
	PerformedBy    string  `json:"performedBy"`
	TaskID         string  `json:"taskId,omitempty"`
}

// Validate checks the log fields.
func (in LogInput) Validate() error {
	if err := validHours("hoursAtService", in.HoursAtService); err != nil {
		return err
	}
	if strings.TrimSpace(in.Date) == "" {
		return domain.Invalid("date", "required")
	}
	if _, ok := domain.ParseDate(in.Date); !ok {
		return domain.Invalid("date", "must be a YYYY-MM-DD date")
	}
	if len([]rune(strings.TrimSpace(in.Description))) < 3 {
		return domain.Invalid("description", "must be at least 3 characters")
	}
	if math.IsNaN(in.Cost) || math.IsInf(in.Cost, 0) || in.Cost < 0 {
		return domain.Invalid("cost", "must be a number >= 0")
	}
	if strings.TrimSpace(in.PerformedBy) == "" {
		return domain.Invalid("performedBy", "required")
	}
	return nil
}

// TaskInput describes a custom maintenance task. At least one interval is required.
type TaskInput struct {
	Title              string   `json:"title"`
	IntervalHours      *float64 `json:"intervalHours,omitempty"`
	IntervalMonths     *int     `json:"intervalMonths,omitempty"`
	LastPerformedHours *float64 `json:"lastPerformedHours,omitempty"`
	LastPerformedDate  string   `json:"lastPerformedDate,omitempty"`
}

// Validate checks the task fields.
func (in TaskInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return domain.Invalid("title", "required")
	}
	if in.IntervalHours == nil && in.IntervalMonths == nil {
		return domain.Invalid("interval", "intervalHours or intervalMonths required")
	}
	if in.IntervalHours != nil {
		if err := validHours("intervalHours", *in.IntervalHours); err != nil {
			return err
		}
		if *in.IntervalHours == 0 {
			return domain.Invalid("intervalHours", "must be > 0")
		}
	}
	if in.IntervalMonths != nil && *in.IntervalMonths <= 0 {
		return domain.Invalid("intervalMonths", "must be > 0")
	}
	if in.LastPerformedHours != nil {
		if err := validHours("lastPerformedHours", *in.LastPerformedHours); err != nil {
			return err
		}
	}
	if in.LastPerformedDate != "" {
		if _, ok := domain.ParseDate(in.LastPerformedDate); !ok {
			return domain.Invalid("lastPerformedDate", "must be a YYYY-MM-DD date")
		}
	}
	return nil
}

func validHours(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return domain.Invalid(field, "must be a finite number")
	}
	if v < 0 {
		return domain.Invalid(field, "must be >= 0")
	}
	return nil
}
