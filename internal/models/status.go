package models

import "fmt"

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusCreated     Status = "created"
	StatusConfirmed   Status = "confirmed"
	StatusReminded    Status = "reminded"
	StatusStarted     Status = "started"
	StatusCompleted   Status = "completed"
	StatusNoShow      Status = "no_show"
	StatusCancelled   Status = "cancelled"
	StatusRescheduled Status = "rescheduled"
)

// AllStatuses lists every state in lifecycle order.
var AllStatuses = []Status{
	StatusCreated,
	StatusConfirmed,
	StatusReminded,
	StatusStarted,
	StatusCompleted,
	StatusNoShow,
	StatusCancelled,
	StatusRescheduled,
}

// ActiveStatuses are the states that keep a slot occupied.
var ActiveStatuses = []Status{
	StatusCreated,
	StatusConfirmed,
	StatusReminded,
	StatusStarted,
}

// StatusMeta is the display metadata attached to a status.
type StatusMeta struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

var statusMeta = map[Status]StatusMeta{
	StatusCreated:     {Label: "Created", Color: "gray"},
	StatusConfirmed:   {Label: "Confirmed", Color: "blue"},
	StatusReminded:    {Label: "Reminded", Color: "purple"},
	StatusStarted:     {Label: "Started", Color: "yellow"},
	StatusCompleted:   {Label: "Completed", Color: "green"},
	StatusNoShow:      {Label: "No Show", Color: "red"},
	StatusCancelled:   {Label: "Cancelled", Color: "red"},
	StatusRescheduled: {Label: "Rescheduled", Color: "orange"},
}

// transitions is the only source of truth for legal status changes.
// RESCHEDULED -> CONFIRMED exists for completeness; the original record of a
// reschedule never leaves RESCHEDULED in practice.
var transitions = map[Status][]Status{
	StatusCreated:     {StatusConfirmed, StatusCancelled, StatusRescheduled},
	StatusConfirmed:   {StatusReminded, StatusStarted, StatusNoShow, StatusCancelled, StatusRescheduled},
	StatusReminded:    {StatusStarted, StatusNoShow, StatusCancelled, StatusRescheduled},
	StatusStarted:     {StatusCompleted},
	StatusCompleted:   {},
	StatusNoShow:      {},
	StatusCancelled:   {},
	StatusRescheduled: {StatusConfirmed},
}

// Meta returns label and color for the status. Unknown statuses get a neutral entry.
func (s Status) Meta() StatusMeta {
	if m, ok := statusMeta[s]; ok {
		return m
	}
	return StatusMeta{Label: string(s), Color: "gray"}
}

func (s Status) Label() string { return s.Meta().Label }

func (s Status) Color() string { return s.Meta().Color }

// IsValid reports whether s is one of the known states.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// AllowedTransitions returns a copy of the destinations reachable from s.
func (s Status) AllowedTransitions() []Status {
	return append([]Status(nil), transitions[s]...)
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsActive reports whether a booking in this state blocks its slot.
func (s Status) IsActive() bool {
	for _, a := range ActiveStatuses {
		if a == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
// RESCHEDULED is not terminal by the table even though it is final for the record.
func (s Status) IsTerminal() bool {
	return s.IsValid() && len(transitions[s]) == 0
}

func (s Status) IsCancellable() bool {
	return s == StatusCreated || s == StatusConfirmed || s == StatusReminded
}

func (s Status) IsReschedulable() bool {
	return s.IsCancellable()
}

// ParseStatus converts raw input into a known Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown booking status %q", raw)
	}
	return s, nil
}
