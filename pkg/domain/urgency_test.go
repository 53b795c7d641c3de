package domain

import (
	"errors"
	"testing"
)

func TestDeriveUrgencyTiers(t *testing.T) {
	cases := []struct {
		due     *float64
		current float64
		want    Urgency
	}{
		{Float(150), 150, UrgencyOverdue},
		{Float(150), 160, UrgencyOverdue},
		{Float(150), 148, UrgencyHigh},
		{Float(150), 145, UrgencyHigh},
		{Float(150), 140, UrgencyMedium},
		{Float(150), 135, UrgencyMedium},
		{Float(150), 130, UrgencyLow},
		{nil, 1000, UrgencyLow},
	}
	for _, tc := range cases {
		if got := DeriveUrgency(tc.due, tc.current); got != tc.want {
			t.Fatalf("due=%v current=%v: expected %s, got %s", tc.due, tc.current, tc.want, got)
		}
	}
}

func TestUrgencyRankOrdersOverdueFirst(t *testing.T) {
	order := []Urgency{UrgencyOverdue, UrgencyHigh, UrgencyMedium, UrgencyLow}
	for i := 1; i < len(order); i++ {
		if order[i-1].Rank() >= order[i].Rank() {
			t.Fatalf("%s should rank before %s", order[i-1], order[i])
		}
	}
}

func TestRecomputeUrgencyDoesNotAliasInput(t *testing.T) {
	tasks := []MaintenanceTask{{ID: "t", NextDueHours: Float(10), Urgency: UrgencyLow}}
	out := RecomputeUrgency(tasks, 9)
	if out[0].Urgency != UrgencyHigh || tasks[0].Urgency != UrgencyLow {
		t.Fatalf("unexpected urgencies in=%s out=%s", tasks[0].Urgency, out[0].Urgency)
	}
	*out[0].NextDueHours = 99
	if *tasks[0].NextDueHours != 10 {
		t.Fatalf("recompute must deep copy tasks")
	}
}

func TestAddMonths(t *testing.T) {
	if got := AddMonths("2024-01-15", 6); got != "2024-07-15" {
		t.Fatalf("unexpected date %s", got)
	}
	if got := AddMonths("2024-03-01T10:00:00Z", 1); got != "2024-04-01" {
		t.Fatalf("unexpected date from timestamp %s", got)
	}
	for _, tc := range []struct {
		from   string
		months int
		want   string
	}{
		{"2024-01-31", 1, "2024-02-29"},
		{"2023-01-31", 1, "2023-02-28"},
		{"2024-08-31", 1, "2024-09-30"},
		{"2024-03-31", -1, "2024-02-29"},
		{"2024-10-31", 4, "2025-02-28"},
		{"2024-12-15", 12, "2025-12-15"},
	} {
		if got := AddMonths(tc.from, tc.months); got != tc.want {
			t.Fatalf("%s %+d months: got %s want %s", tc.from, tc.months, got, tc.want)
		}
	}
	if got := AddMonths("yesterday", 1); got != "" {
		t.Fatalf("expected empty result for bad date, got %s", got)
	}
}

func TestSeedEquipmentHoldsUrgencyInvariant(t *testing.T) {
	seed := SeedEquipment()
	if len(seed) != 3 || seed[0].ID != "eq-1" || seed[2].ID != "eq-3" {
		t.Fatalf("unexpected seed %+v", seed)
	}
	want := map[string]Urgency{
		"task-1": UrgencyHigh,
		"task-3": UrgencyHigh,
		"task-4": UrgencyLow,
		"task-5": UrgencyOverdue,
	}
	for _, eq := range seed {
		if eq.Logs == nil || eq.Tasks == nil {
			t.Fatalf("%s: collections must be non-nil", eq.ID)
		}
		for _, task := range eq.Tasks {
			if task.Urgency != DeriveUrgency(task.NextDueHours, eq.CurrentHours) {
				t.Fatalf("%s/%s: urgency %s not derived", eq.ID, task.ID, task.Urgency)
			}
			if u, ok := want[task.ID]; ok && u != task.Urgency {
				t.Fatalf("%s: expected %s, got %s", task.ID, u, task.Urgency)
			}
		}
	}
}

func TestErrorTaxonomy(t *testing.T) {
	err := NewEntityError("get", EntityEquipment, "eq-9", ErrNotFound)
	if !errors.Is(err, ErrNotFound) || err.Error() != `get equipment "eq-9": not found` {
		t.Fatalf("unexpected entity error %v", err)
	}
	if !errors.Is(ErrInvalidCursor, ErrInvalidArgument) {
		t.Fatalf("invalid cursor must be an invalid argument")
	}
	if !errors.Is(Invalid("hours", "must be >= 0"), ErrInvalidArgument) {
		t.Fatalf("validation errors must match invalid argument")
	}
	wrapped := StorageError("put", errors.New("disk full"))
	if !errors.Is(wrapped, ErrStorageUnavailable) || StorageError("put", wrapped) != wrapped || StorageError("put", nil) != nil {
		t.Fatalf("unexpected storage wrapping %v", wrapped)
	}
	if !errors.Is(RuleViolationError{}, ErrConflict) {
		t.Fatalf("rule violations must match conflict")
	}
}
