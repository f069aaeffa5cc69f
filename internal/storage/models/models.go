package models

import (
	"time"
)

type SlotAvailability string

const (
	SlotAvailable SlotAvailability = "available"
	SlotBooked    SlotAvailability = "booked"
)

type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

type ProcessStatus string

const (
	ProcessScheduled  ProcessStatus = "scheduled"
	ProcessInProgress ProcessStatus = "in_progress"
	ProcessCompleted  ProcessStatus = "completed"
	ProcessCancelled  ProcessStatus = "cancelled"
)

type BillStatus string

const (
	BillPending BillStatus = "pending"
	BillPaid    BillStatus = "paid"
)

type ResourceAvailability string

const (
	ResourceAvailable   ResourceAvailability = "available"
	ResourceInUse       ResourceAvailability = "in_use"
	ResourceMaintenance ResourceAvailability = "maintenance"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

type Doctor struct {
	ID             int64
	Name           string
	Specialization string
	CreatedAt      time.Time
}

type Patient struct {
	ID        int64
	Name      string
	Balance   Money
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Slot is keyed by (DoctorID, StartTime, EndTime).
type Slot struct {
	DoctorID     int64
	StartTime    time.Time
	EndTime      time.Time
	Availability SlotAvailability
}

type Appointment struct {
	ID        int64
	PatientID int64
	DoctorID  int64
	StartTime time.Time
	EndTime   time.Time
	Status    AppointmentStatus
	Rating    *int
	Review    *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Process struct {
	ID            int64
	AppointmentID int64
	Name          string
	Description   string
	Status        ProcessStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Bill struct {
	ID        int64
	ProcessID int64
	Amount    Money
	Status    BillStatus
	BilledAt  time.Time
	PaidAt    *time.Time
}

// ProcessWithBill is a process and its bill, if one was recorded.
type ProcessWithBill struct {
	Process
	Bill *Bill
}

// Settlement is the locked view read at the start of a payment: the bill,
// the patient that owes it and that patient's balance.
type Settlement struct {
	ProcessID  int64
	BillID     int64
	Amount     Money
	BillStatus BillStatus
	PatientID  int64
	Balance    Money
}

type Resource struct {
	ID           int64
	Name         string
	Availability ResourceAvailability
}

// ResourceRequest is keyed by (DoctorID, ResourceID); a newer request for the
// same pair replaces the older one.
type ResourceRequest struct {
	DoctorID     int64
	ResourceID   int64
	ResourceName string
	Status       RequestStatus
	RequestedAt  time.Time
}

type EventLog struct {
	ID        int64
	EventType string
	Entity    string
	EntityID  string
	Payload   []byte
	CreatedAt time.Time
}
