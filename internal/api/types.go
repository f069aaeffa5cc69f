package api

import (
	"time"

	"github.com/hackgods/medisync-core/internal/payment"
	"github.com/hackgods/medisync-core/internal/storage/models"
)

type BookAppointmentRequest struct {
	DoctorID  int64     `json:"doctor_id" validate:"required,gt=0"`
	StartTime time.Time `json:"start_time" validate:"required"`
	EndTime   time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type ReviewRequest struct {
	Rating int     `json:"rating" validate:"required,min=1,max=5"`
	Review *string `json:"review,omitempty" validate:"omitempty,max=2000"`
}

type CreateProcessRequest struct {
	Name        string       `json:"name" validate:"required,max=200"`
	Description string       `json:"description" validate:"max=2000"`
	Amount      models.Money `json:"amount" validate:"gt=0"`
}

type TopUpRequest struct {
	Amount models.Money `json:"amount" validate:"gt=0"`
}

type CreateResourceRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

type DecisionRequest struct {
	Decision string `json:"decision" validate:"required"`
}

type AvailabilityRequest struct {
	Availability string `json:"availability" validate:"required"`
}

type SlotResponse struct {
	DoctorID     int64     `json:"doctor_id"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Availability string    `json:"availability"`
}

type AvailableDatesResponse struct {
	DoctorID int64    `json:"doctor_id"`
	Dates    []string `json:"dates"`
}

type AppointmentResponse struct {
	ID        int64     `json:"id"`
	PatientID int64     `json:"patient_id"`
	DoctorID  int64     `json:"doctor_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Status    string    `json:"status"`
	Rating    *int      `json:"rating,omitempty"`
	Review    *string   `json:"review,omitempty"`
}

type BillResponse struct {
	ID       int64        `json:"id"`
	Amount   models.Money `json:"amount"`
	Status   string       `json:"status"`
	BilledAt time.Time    `json:"billed_at"`
	PaidAt   *time.Time   `json:"paid_at,omitempty"`
}

type ProcessResponse struct {
	ID            int64         `json:"id"`
	AppointmentID int64         `json:"appointment_id"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	Status        string        `json:"status"`
	Bill          *BillResponse `json:"bill,omitempty"`
}

type PaymentResponse struct {
	Process ProcessResponse `json:"process"`
	Balance models.Money    `json:"balance"`
}

type BalanceResponse struct {
	PatientID int64        `json:"patient_id"`
	Balance   models.Money `json:"balance"`
}

type ResourceResponse struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Availability string `json:"availability"`
}

type ResourceRequestResponse struct {
	DoctorID     int64     `json:"doctor_id"`
	ResourceID   int64     `json:"resource_id"`
	ResourceName string    `json:"resource_name"`
	Status       string    `json:"status"`
	RequestedAt  time.Time `json:"requested_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toSlots(slots []models.Slot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotResponse{
			DoctorID:     s.DoctorID,
			StartTime:    s.StartTime,
			EndTime:      s.EndTime,
			Availability: s.Availability.Display(),
		})
	}
	return out
}

func toAppointment(a *models.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		PatientID: a.PatientID,
		DoctorID:  a.DoctorID,
		StartTime: a.StartTime,
		EndTime:   a.EndTime,
		Status:    a.Status.Display(),
		Rating:    a.Rating,
		Review:    a.Review,
	}
}

func toAppointments(appts []models.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		out = append(out, toAppointment(&appts[i]))
	}
	return out
}

func toProcess(p *models.ProcessWithBill) ProcessResponse {
	resp := ProcessResponse{
		ID:            p.ID,
		AppointmentID: p.AppointmentID,
		Name:          p.Name,
		Description:   p.Description,
		Status:        p.Status.Display(),
	}
	if p.Bill != nil {
		resp.Bill = &BillResponse{
			ID:       p.Bill.ID,
			Amount:   p.Bill.Amount,
			Status:   p.Bill.Status.Display(),
			BilledAt: p.Bill.BilledAt,
			PaidAt:   p.Bill.PaidAt,
		}
	}
	return resp
}

func toProcesses(ps []models.ProcessWithBill) []ProcessResponse {
	out := make([]ProcessResponse, 0, len(ps))
	for i := range ps {
		out = append(out, toProcess(&ps[i]))
	}
	return out
}

func toPayment(r *payment.Receipt) PaymentResponse {
	return PaymentResponse{Process: toProcess(&r.ProcessWithBill), Balance: r.Balance}
}

func toResource(r *models.Resource) ResourceResponse {
	return ResourceResponse{ID: r.ID, Name: r.Name, Availability: r.Availability.Display()}
}

func toResources(rs []models.Resource) []ResourceResponse {
	out := make([]ResourceResponse, 0, len(rs))
	for i := range rs {
		out = append(out, toResource(&rs[i]))
	}
	return out
}

func toRequest(r *models.ResourceRequest) ResourceRequestResponse {
	return ResourceRequestResponse{
		DoctorID:     r.DoctorID,
		ResourceID:   r.ResourceID,
		ResourceName: r.ResourceName,
		Status:       r.Status.Display(),
		RequestedAt:  r.RequestedAt,
	}
}

func toRequests(rs []models.ResourceRequest) []ResourceRequestResponse {
	out := make([]ResourceRequestResponse, 0, len(rs))
	for i := range rs {
		out = append(out, toRequest(&rs[i]))
	}
	return out
}
