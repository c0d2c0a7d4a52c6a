package model

import "fmt"

// Status is the internal delivery lifecycle state of an order.
//
//	DRAFT -> CONFIRMED -> ASSIGNED -> ARRIVED_AT_VENDOR -> EN_ROUTE_TO_CLIENT -> ARRIVED_TO_CLIENT -> COMPLETED
//
// CANCELLED is reachable from every non-terminal state. COMPLETED and
// CANCELLED are terminal.
type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusConfirmed       Status = "CONFIRMED"
	StatusAssigned        Status = "ASSIGNED"
	StatusArrivedAtVendor Status = "ARRIVED_AT_VENDOR"
	StatusEnRouteToClient Status = "EN_ROUTE_TO_CLIENT"
	StatusArrivedToClient Status = "ARRIVED_TO_CLIENT"
	StatusCompleted       Status = "COMPLETED"
	StatusCancelled       Status = "CANCELLED"
)

// lifecycle is the forward path; index order is the transition order.
var lifecycle = []Status{
	StatusDraft,
	StatusConfirmed,
	StatusAssigned,
	StatusArrivedAtVendor,
	StatusEnRouteToClient,
	StatusArrivedToClient,
	StatusCompleted,
}

// Statuses returns every internal status, forward path first.
func Statuses() []Status {
	out := append([]Status(nil), lifecycle...)
	return append(out, StatusCancelled)
}

// ParseStatus converts s to a Status, rejecting anything outside the closed set.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	if s == StatusCancelled {
		return true
	}
	return s.index() >= 0
}

func (s Status) index() int {
	for i, v := range lifecycle {
		if v == s {
			return i
		}
	}
	return -1
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Mutable reports whether partner updates are still accepted.
func (s Status) Mutable() bool { return s == StatusDraft }

// Next returns the following state on the forward path.
func (s Status) Next() (Status, bool) {
	i := s.index()
	if i < 0 || i+1 >= len(lifecycle) {
		return "", false
	}
	return lifecycle[i+1], true
}

// CanTransitionTo reports whether s -> next is a legal single step.
func (s Status) CanTransitionTo(next Status) bool {
	if !s.Valid() || !next.Valid() || s.IsTerminal() {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	n, ok := s.Next()
	return ok && n == next
}

// PartnerStatus is the partner's status vocabulary.
type PartnerStatus string

const (
	PartnerConfirm   PartnerStatus = "CONFIRM"
	PartnerReady     PartnerStatus = "READY"
	PartnerOnTheWay  PartnerStatus = "ON_THE_WAY"
	PartnerCompleted PartnerStatus = "COMPLETED"
	PartnerCancelled PartnerStatus = "CANCELLED"
)
