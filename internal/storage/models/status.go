package models

import (
	"fmt"
	"strings"
)

// ParseAppointmentStatus accepts the stored form or its display form
// ("Scheduled", "Completed", "Cancelled").
func ParseAppointmentStatus(s string) (AppointmentStatus, error) {
	switch AppointmentStatus(normalize(s)) {
	case AppointmentScheduled:
		return AppointmentScheduled, nil
	case AppointmentCompleted:
		return AppointmentCompleted, nil
	case AppointmentCancelled:
		return AppointmentCancelled, nil
	}
	return "", fmt.Errorf("unknown appointment status %q", s)
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// Re-issuing the current status is allowed and changes nothing.
func (s AppointmentStatus) CanTransitionTo(next AppointmentStatus) bool {
	if s == next {
		return true
	}
	return s == AppointmentScheduled && (next == AppointmentCompleted || next == AppointmentCancelled)
}

func (s AppointmentStatus) Display() string {
	return title(string(s))
}

func ParseProcessStatus(s string) (ProcessStatus, error) {
	switch ProcessStatus(normalize(s)) {
	case ProcessScheduled:
		return ProcessScheduled, nil
	case ProcessInProgress:
		return ProcessInProgress, nil
	case ProcessCompleted:
		return ProcessCompleted, nil
	case ProcessCancelled:
		return ProcessCancelled, nil
	}
	return "", fmt.Errorf("unknown process status %q", s)
}

func (s ProcessStatus) Display() string {
	return title(string(s))
}

func (a SlotAvailability) Display() string {
	return title(string(a))
}

func (s BillStatus) Display() string {
	return title(string(s))
}

// ParseResourceAvailability accepts "Available", "In Use", "in_use",
// "Maintenance" and similar spellings.
func ParseResourceAvailability(s string) (ResourceAvailability, error) {
	switch ResourceAvailability(normalize(s)) {
	case ResourceAvailable:
		return ResourceAvailable, nil
	case ResourceInUse:
		return ResourceInUse, nil
	case ResourceMaintenance:
		return ResourceMaintenance, nil
	}
	return "", fmt.Errorf("unknown resource availability %q", s)
}

func (a ResourceAvailability) Display() string {
	return title(string(a))
}

// ParseDecision accepts only the two terminal request states.
func ParseDecision(s string) (RequestStatus, error) {
	switch RequestStatus(normalize(s)) {
	case RequestApproved:
		return RequestApproved, nil
	case RequestRejected:
		return RequestRejected, nil
	}
	return "", fmt.Errorf("unknown decision %q", s)
}

func (s RequestStatus) Display() string {
	return title(string(s))
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ReplaceAll(s, " ", "_")
}

// title turns "in_use" into "In Use".
func title(s string) string {
	words := strings.Split(s, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
