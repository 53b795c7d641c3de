// Package domain defines the equipment records, maintenance value types,
// failure taxonomy and persistence contracts shared by fleetcore.
package domain

import "strings"

// EntityType identifies a class of records persisted by the entity store.
type EntityType string

// Entity types known to fleetcore.
const (
	// EntityEquipment identifies an equipment record with embedded tasks and logs.
	EntityEquipment EntityType = "equipment"
)

// EquipmentType classifies a machine.
type EquipmentType string

// Supported equipment types.
const (
	EquipmentTractor  EquipmentType = "tractor"
	EquipmentMower    EquipmentType = "mower"
	EquipmentChainsaw EquipmentType = "chainsaw"
	EquipmentHandheld EquipmentType = "handheld"
	EquipmentVehicle  EquipmentType = "vehicle"
	EquipmentOther    EquipmentType = "other"
)

// Valid reports whether t is one of the supported equipment types.
func (t EquipmentType) Valid() bool {
	switch t {
	case EquipmentTractor, EquipmentMower, EquipmentChainsaw, EquipmentHandheld, EquipmentVehicle, EquipmentOther:
		return true
	}
	return false
}

// EquipmentStatus captures whether a machine is usable.
type EquipmentStatus string

// Canonical equipment statuses.
const (
	StatusOperational EquipmentStatus = "operational"
	StatusMaintenance EquipmentStatus = "maintenance"
	StatusDown        EquipmentStatus = "down"
)

// Valid reports whether s is a known status.
func (s EquipmentStatus) Valid() bool {
	switch s {
	case StatusOperational, StatusMaintenance, StatusDown:
		return true
	}
	return false
}

// MaintenanceLog records a completed service. Logs are append-only.
type MaintenanceLog struct {
	ID             string  `json:"id"`
	EquipmentID    string  `json:"equipmentId"`
	Date           string  `json:"date"`
	HoursAtService float64 `json:"hoursAtService"`
	Description    string  `json:"description"`
	Cost           float64 `json:"cost"`
	PerformedBy    string  `json:"performedBy"`
}

// MaintenanceTask is a recurring service item attached to a machine.
// Urgency is derived from NextDueHours and the owning machine's hours.
type MaintenanceTask struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	IntervalHours      *float64 `json:"intervalHours,omitempty"`
	IntervalMonths     *int     `json:"intervalMonths,omitempty"`
	LastPerformedHours *float64 `json:"lastPerformedHours,omitempty"`
	LastPerformedDate  string   `json:"lastPerformedDate,omitempty"`
	NextDueHours       *float64 `json:"nextDueHours,omitempty"`
	NextDueDate        string   `json:"nextDueDate,omitempty"`
	Urgency            Urgency  `json:"urgency"`
}

// Equipment is the primary persisted record.
type Equipment struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Type         EquipmentType     `json:"type"`
	Model        string            `json:"model"`
	SerialNumber string            `json:"serialNumber"`
	PurchaseDate string            `json:"purchaseDate"`
	CurrentHours float64           `json:"currentHours"`
	Status       EquipmentStatus   `json:"status"`
	Image        string            `json:"image,omitempty"`
	Tasks        []MaintenanceTask `json:"tasks"`
	Logs         []MaintenanceLog  `json:"logs"`
}

// RecordID implements the entity record contract.
func (e Equipment) RecordID() string { return e.ID }

// WithRecordID returns a copy of e carrying id.
func (e Equipment) WithRecordID(id string) Equipment {
	e.ID = id
	return e
}

// NewEquipment returns the zero-value template used for new machines.
func NewEquipment() Equipment {
	return Equipment{
		Type:   EquipmentOther,
		Status: StatusOperational,
		Tasks:  []MaintenanceTask{},
		Logs:   []MaintenanceLog{},
	}
}

// Normalize fills empty collections and defaults so stored values are stable.
func (e Equipment) Normalize() Equipment {
	if e.Tasks == nil {
		e.Tasks = []MaintenanceTask{}
	}
	if e.Logs == nil {
		e.Logs = []MaintenanceLog{}
	}
	if e.Status == "" {
		e.Status = StatusOperational
	}
	if e.Type == "" {
		e.Type = EquipmentOther
	}
	return e
}

// Clone returns a deep copy of e.
func (e Equipment) Clone() Equipment {
	out := e
	if e.Tasks != nil {
		out.Tasks = make([]MaintenanceTask, len(e.Tasks))
		for i, t := range e.Tasks {
			out.Tasks[i] = t.Clone()
		}
	}
	if e.Logs != nil {
		out.Logs = make([]MaintenanceLog, len(e.Logs))
		copy(out.Logs, e.Logs)
	}
	return out
}

// TaskIndex returns the position of the task with id, or -1.
func (e Equipment) TaskIndex(id string) int {
	for i, t := range e.Tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of t.
func (t MaintenanceTask) Clone() MaintenanceTask {
	out := t
	out.IntervalHours = cloneFloat(t.IntervalHours)
	out.LastPerformedHours = cloneFloat(t.LastPerformedHours)
	out.NextDueHours = cloneFloat(t.NextDueHours)
	if t.IntervalMonths != nil {
		v := *t.IntervalMonths
		out.IntervalMonths = &v
	}
	return out
}

// Matches reports whether the lowercase query is contained in any of the values.
func Matches(query string, values ...string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	for _, v := range values {
		if strings.Contains(strings.ToLower(v), q) {
			return true
		}
	}
	return false
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
