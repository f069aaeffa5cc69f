package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/medisync-core/internal/appointment"
	"github.com/hackgods/medisync-core/internal/apperr"
	"github.com/hackgods/medisync-core/internal/billing"
	"github.com/hackgods/medisync-core/internal/payment"
	"github.com/hackgods/medisync-core/internal/resource"
	"github.com/hackgods/medisync-core/internal/slot"
	"github.com/hackgods/medisync-core/internal/storage/models"
)

func availableDatesHandler(svc *slot.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := pathID(r, "doctorID")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		dates, err := svc.ListAvailableDates(r.Context(), doctorID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := AvailableDatesResponse{DoctorID: doctorID, Dates: make([]string, 0, len(dates))}
		for _, d := range dates {
			resp.Dates = append(resp.Dates, d.Format(slot.DateLayout))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func availableSlotsHandler(svc *slot.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := pathID(r, "doctorID")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		date, err := slot.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		slots, err := svc.ListAvailableSlots(r.Context(), doctorID, date)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlots(slots))
	}
}

func bookAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := decodeBody(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}

		appt, err := svc.Book(r.Context(), appointment.BookRequest{
			PatientID: Identity(r.Context()).UserID,
			DoctorID:  req.DoctorID,
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointment(appt))
	}
}

// listAppointmentsHandler lists the caller's own appointments. Staff and
// admins pick a patient_id or doctor_id.
func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := Identity(r.Context())
		q := r.URL.Query()
		status := q.Get("status")

		upcoming, err := queryBool(r, "upcoming")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		var appts []models.Appointment
		switch id.Role {
		case RolePatient:
			appts, err = svc.ListForPatient(r.Context(), id.UserID, status)
		case RoleDoctor:
			appts, err = svc.ListForDoctor(r.Context(), id.UserID, status, upcoming)
		default:
			var patientID, doctorID *int64
			if patientID, err = queryID(r, "patient_id"); err != nil {
				break
			}
			if doctorID, err = queryID(r, "doctor_id"); err != nil {
				break
			}
			switch {
			case patientID != nil:
				appts, err = svc.ListForPatient(r.Context(), *patientID, status)
			case doctorID != nil:
				appts, err = svc.ListForDoctor(r.Context(), *doctorID, status, upcoming)
			default:
				err = apperr.ErrValidation.WithMessage("patient_id or doctor_id is required")
			}
		}
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointments(appts))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appt, err := visibleAppointment(r, svc)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointment(appt))
	}
}

func updateAppointmentStatusHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appt, err := visibleAppointment(r, svc)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		var req UpdateStatusRequest
		if err := decodeBody(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}

		updated, err := svc.UpdateStatus(r.Context(), appt.ID, req.Status, Identity(r.Context()).UserID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointment(updated))
	}
}

func reviewAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		var req ReviewRequest
		if err := decodeBody(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}

		appt, err := svc.AddReview(r.Context(), id, Identity(r.Context()).UserID, req.Rating, req.Review)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointment(appt))
	}
}

func createProcessHandler(appts *appointment.Service, svc *billing.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appt, err := visibleAppointment(r, appts)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		var req CreateProcessRequest
		if err := decodeBody(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}

		proc, err := svc.CreateProcess(r.Context(), billing.CreateProcessRequest{
			AppointmentID: appt.ID,
			Name:          req.Name,
			Description:   req.Description,
			Amount:        req.Amount,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toProcess(proc))
	}
}

// listProcessesHandler answers with an empty list for an appointment the
// caller cannot see or that does not exist.
func listProcessesHandler(appts *appointment.Service, svc *billing.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appt, err := visibleAppointment(r, appts)
		switch {
		case errors.Is(err, apperr.ErrAppointmentNotFound):
			writeJSON(w, http.StatusOK, []ProcessResponse{})
			return
		case err != nil:
			writeServiceError(w, r, err)
			return
		}

		procs, err := svc.ListProcessesForAppointment(r.Context(), appt.ID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toProcesses(procs))
	}
}

func getProcessHandler(appts *appointment.Service, svc *billing.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		proc, err := visibleProcess(r, appts, svc)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toProcess(proc))
	}
}

func updateProcessStatusHandler(appts *appointment.Service, svc *billing.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		proc, err := visibleProcess(r, appts, svc)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		var req UpdateStatusRequest
		if err := decodeBody(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}

		updated, err := svc.UpdateProcessStatus(r.Context(), proc.ID, req.Status, Identity(r.Context()).UserID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toProcess(updated))
	}
}

func payBillHandler(svc *payment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		receipt, err := svc.PayBill(r.Context(), id, Identity(r.Context()).UserID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toPayment(receipt))
	}
}

func balanceHandler(svc *payment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID := Identity(r.Context()).UserID
		balance, err := svc.Balance(r.Context(), patientID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, BalanceResponse{PatientID: patientID, Balance: balance})
	}
}

func topUpHandler(svc *payment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TopUpRequest
		if err := decodeBody(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}

		patientID := Identity(r.Context()).UserID
		balance, err := svc.TopUp(r.Context(), patientID, req.Amount)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, BalanceResponse{PatientID: patientID, Balance: balance})
	}
}

func listResourcesHandler(svc *resource.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		onlyAvailable, err := queryBool(r, "available")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		res, err := svc.ListResources(r.Context(), onlyAvailable != nil && *onlyAvailable)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toResources(res))
	}
}

func getResourceHandler(svc *resource.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		res, err := svc.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toResource(res))
	}
}

func createResourceHandler(svc *resource.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateResourceRequest
		if err := decodeBody(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}
		res, err := svc.CreateResource(r.Context(), req.Name)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toResource(res))
	}
}

func requestResourceHandler(svc *resource.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		req, err := svc.RequestResource(r.Context(), Identity(r.Context()).UserID, id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toRequest(req))
	}
}

func decideRequestHandler(svc *resource.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		doctorID, err := pathID(r, "doctorID")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		var body DecisionRequest
		if err := decodeBody(r, &body); err != nil {
			writeServiceError(w, r, err)
			return
		}

		req, err := svc.DecideRequest(r.Context(), doctorID, id, body.Decision)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toRequest(req))
	}
}

func setAvailabilityHandler(svc *resource.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		var body AvailabilityRequest
		if err := decodeBody(r, &body); err != nil {
			writeServiceError(w, r, err)
			return
		}

		res, err := svc.SetAvailability(r.Context(), id, body.Availability)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toResource(res))
	}
}

// listRequestsHandler shows a doctor their own requests; staff see all or
// filter by doctor_id.
func listRequestsHandler(svc *resource.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := Identity(r.Context())
		doctorID := &id.UserID
		if id.Role != RoleDoctor {
			var err error
			if doctorID, err = queryID(r, "doctor_id"); err != nil {
				writeServiceError(w, r, err)
				return
			}
		}

		reqs, err := svc.ListRequests(r.Context(), doctorID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toRequests(reqs))
	}
}

// visibleAppointment loads the {id} appointment. Patients and doctors only
// see their own; anything else reads as not found.
func visibleAppointment(r *http.Request, svc *appointment.Service) (*models.Appointment, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	appt, err := svc.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}

	if !canSee(Identity(r.Context()), appt) {
		return nil, apperr.ErrAppointmentNotFound
	}
	return appt, nil
}

// visibleProcess loads the process in the {id} path parameter and checks
// its appointment the way visibleAppointment does. A process on someone
// else's appointment is reported as not found.
func visibleProcess(r *http.Request, appts *appointment.Service, svc *billing.Service) (*models.ProcessWithBill, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	proc, err := svc.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}

	appt, err := appts.Get(r.Context(), proc.AppointmentID)
	switch {
	case errors.Is(err, apperr.ErrAppointmentNotFound):
		return nil, apperr.ErrProcessNotFound
	case err != nil:
		return nil, err
	}
	if !canSee(Identity(r.Context()), appt) {
		return nil, apperr.ErrProcessNotFound
	}
	return proc, nil
}

// canSee limits patients and doctors to their own appointments. Staff and
// admins see every appointment.
func canSee(caller *Claims, appt *models.Appointment) bool {
	switch caller.Role {
	case RolePatient:
		return appt.PatientID == caller.UserID
	case RoleDoctor:
		return appt.DoctorID == caller.UserID
	}
	return true
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.ErrValidation.WithMessage("%s must be a positive integer, got %q", name, raw)
	}
	return id, nil
}

func queryID(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, apperr.ErrValidation.WithMessage("%s must be a positive integer, got %q", name, raw)
	}
	return &id, nil
}

func queryBool(r *http.Request, name string) (*bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, apperr.ErrValidation.WithMessage("%s must be true or false, got %q", name, raw)
	}
	return &v, nil
}
