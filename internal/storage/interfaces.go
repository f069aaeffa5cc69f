package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hackgods/medisync-core/internal/storage/models"
)

var (
	ErrNotFound        = errors.New("row not found")
	ErrUniqueViolation = errors.New("unique constraint violated")
	ErrForeignKey      = errors.New("foreign key constraint violated")
	// ErrBusy means a row lock or connection could not be obtained within the
	// configured bound, after all retries.
	ErrBusy = errors.New("storage busy")
)

// Store is the persistent store used by the allocation services.
type Store interface {
	Reader

	// WithTx runs fn as one atomic unit. Any error returned by fn rolls the
	// unit back. Lock timeouts and serialization failures re-run fn from the
	// start a bounded number of times, so fn must not keep state across runs.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Reader holds plain reads issued outside an atomic unit.
type Reader interface {
	// Slots
	GetSlot(ctx context.Context, doctorID int64, start, end time.Time) (*models.Slot, error)
	ListAvailableSlotsBetween(ctx context.Context, doctorID int64, from, to time.Time) ([]models.Slot, error)

	// Appointments
	GetAppointment(ctx context.Context, id int64) (*models.Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID int64, status *models.AppointmentStatus) ([]models.Appointment, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID int64, filter DoctorAppointmentFilter) ([]models.Appointment, error)

	// Processes and bills
	GetProcessWithBill(ctx context.Context, processID int64) (*models.ProcessWithBill, error)
	ListProcessesForAppointment(ctx context.Context, appointmentID int64) ([]models.ProcessWithBill, error)

	// Patients
	GetPatient(ctx context.Context, id int64) (*models.Patient, error)

	// Resources
	GetResource(ctx context.Context, id int64) (*models.Resource, error)
	ListResources(ctx context.Context, onlyAvailable bool) ([]models.Resource, error)
	GetResourceRequest(ctx context.Context, doctorID, resourceID int64) (*models.ResourceRequest, error)
	ListResourceRequests(ctx context.Context, doctorID *int64) ([]models.ResourceRequest, error)
}

// DoctorAppointmentFilter narrows ListAppointmentsByDoctor. Upcoming nil
// means no time filter; true keeps start > Now ascending, false keeps
// start <= Now descending.
type DoctorAppointmentFilter struct {
	Status   *models.AppointmentStatus
	Upcoming *bool
	Now      time.Time
}

// Tx is the set of operations available inside an atomic unit. Lock* methods
// take a row lock held until the unit ends.
type Tx interface {
	Reader

	LockSlot(ctx context.Context, doctorID int64, start, end time.Time) (*models.Slot, error)
	// ClaimSlot flips an available slot to booked; it reports false when the
	// slot is missing or already booked.
	ClaimSlot(ctx context.Context, doctorID int64, start, end time.Time) (bool, error)

	InsertAppointment(ctx context.Context, a *models.Appointment) error
	LockAppointment(ctx context.Context, id int64) (*models.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id int64, status models.AppointmentStatus, at time.Time) error
	// SetReview writes rating and review only when the appointment belongs to
	// patientID and is completed; it reports whether a row was updated.
	SetReview(ctx context.Context, id, patientID int64, rating int, review *string, at time.Time) (bool, error)

	InsertProcess(ctx context.Context, p *models.Process) error
	InsertBill(ctx context.Context, b *models.Bill) error
	LockProcessWithBill(ctx context.Context, processID int64) (*models.ProcessWithBill, error)
	UpdateProcessStatus(ctx context.Context, id int64, status models.ProcessStatus, at time.Time) error

	// LockSettlement locks the bill of a process and the patient row that owes it.
	LockSettlement(ctx context.Context, processID int64) (*models.Settlement, error)
	// MarkBillPaid flips a pending bill to paid; false when it was not pending.
	MarkBillPaid(ctx context.Context, billID int64, at time.Time) (bool, error)
	// DebitBalance subtracts amount when the balance covers it; false otherwise.
	DebitBalance(ctx context.Context, patientID int64, amount models.Money, at time.Time) (bool, error)
	// CreditBalance adds amount to the balance; false when the patient is
	// missing or the result would exceed models.MaxMoney.
	CreditBalance(ctx context.Context, patientID int64, amount models.Money, at time.Time) (bool, error)

	LockResource(ctx context.Context, id int64) (*models.Resource, error)
	InsertResource(ctx context.Context, r *models.Resource) error
	SetResourceAvailability(ctx context.Context, id int64, availability models.ResourceAvailability) error
	UpsertResourceRequest(ctx context.Context, r *models.ResourceRequest) error

	InsertEvent(ctx context.Context, ev models.EventLog) error
}

// Seeder holds the bulk writes used by the slot generation job and fixtures.
type Seeder interface {
	InsertDoctor(ctx context.Context, d *models.Doctor) error
	InsertPatient(ctx context.Context, p *models.Patient) error
	InsertResource(ctx context.Context, r *models.Resource) error
	// InsertSlots skips slots that already exist and returns how many were added.
	InsertSlots(ctx context.Context, slots []models.Slot) (int, error)
	ListDoctors(ctx context.Context) ([]models.Doctor, error)
	ListPatients(ctx context.Context, limit int) ([]models.Patient, error)
	DeleteSlots(ctx context.Context, doctorID *int64) (int64, error)
}
