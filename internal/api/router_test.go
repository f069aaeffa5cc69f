package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/medisync-core/internal/appointment"
	"github.com/hackgods/medisync-core/internal/apperr"
	"github.com/hackgods/medisync-core/internal/billing"
	"github.com/hackgods/medisync-core/internal/payment"
	redisclient "github.com/hackgods/medisync-core/internal/redis"
	"github.com/hackgods/medisync-core/internal/resource"
	"github.com/hackgods/medisync-core/internal/slot"
	"github.com/hackgods/medisync-core/internal/storage/models"
	"github.com/hackgods/medisync-core/internal/storage/sqlstore"
	"github.com/hackgods/medisync-core/internal/storage/storetest"
)

const testSecret = "test-secret"

type testEnv struct {
	handler http.Handler
	store   *sqlstore.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := storetest.New(t)
	locker := redisclient.NewLocalLocker(redisclient.LockOptions{
		TTL:        5 * time.Second,
		Attempts:   100,
		RetryDelay: 2 * time.Millisecond,
	})
	log := zerolog.Nop()

	h := NewRouter(RouterConfig{
		Slots:        slot.NewService(store, log),
		Appointments: appointment.NewService(store, locker, log),
		Billing:      billing.NewService(store, locker, log),
		Payments:     payment.NewService(store, locker, log),
		Resources:    resource.NewService(store, locker, log),
		Store:        store,
		Driver:       "sqlite",
		JWTSecret:    testSecret,
		Logger:       log,
		Env:          "test",
		Version:      "dev",
	})
	return &testEnv{handler: h, store: store}
}

func token(t *testing.T, userID int64, role Role) string {
	t.Helper()
	tok, err := IssueToken(testSecret, userID, role, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expect(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	if code != "" {
		if got := decode[ErrorResponse](t, rec); got.Error != code {
			t.Fatalf("error = %q, want %q", got.Error, code)
		}
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health/live", "", nil)
	expect(t, rec, http.StatusOK, "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID")
	}

	rec = env.do(t, http.MethodGet, "/health/ready", "", nil)
	expect(t, rec, http.StatusOK, "")
	ready := decode[ReadinessResponse](t, rec)
	if ready.Status != "ok" || ready.Dependencies["sqlite"] != "ok" || ready.Dependencies["redis"] != "disabled" {
		t.Fatalf("readiness = %+v", ready)
	}

	rec = env.do(t, http.MethodGet, "/metrics", "", nil)
	expect(t, rec, http.StatusOK, "")
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t)

	expect(t, env.do(t, http.MethodGet, "/appointments", "", nil), http.StatusUnauthorized, "UNAUTHORIZED")
	expect(t, env.do(t, http.MethodGet, "/appointments", "garbage", nil), http.StatusUnauthorized, "UNAUTHORIZED")

	foreign, err := IssueToken("other-secret", 1, RolePatient, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	expect(t, env.do(t, http.MethodGet, "/appointments", foreign, nil), http.StatusUnauthorized, "UNAUTHORIZED")

	expired, err := IssueToken(testSecret, 1, RolePatient, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	expect(t, env.do(t, http.MethodGet, "/appointments", expired, nil), http.StatusUnauthorized, "UNAUTHORIZED")

	doc := token(t, 1, RoleDoctor)
	expect(t, env.do(t, http.MethodPost, "/appointments", doc, BookAppointmentRequest{}), http.StatusForbidden, "FORBIDDEN")
}

func TestAppointmentBillingAndPaymentFlow(t *testing.T) {
	env := newTestEnv(t)
	doc := storetest.Doctor(t, env.store, "Dr. House", "Diagnostics")
	ann := storetest.Patient(t, env.store, "Ann", models.Cents(5000))
	bob := storetest.Patient(t, env.store, "Bob", 0)
	sl := storetest.Slot(t, env.store, doc.ID, storetest.Tomorrow(9), 30*time.Minute)

	annTok := token(t, ann.ID, RolePatient)
	bobTok := token(t, bob.ID, RolePatient)
	docTok := token(t, doc.ID, RoleDoctor)
	staffTok := token(t, 99, RoleStaff)

	date := sl.StartTime.Format(slot.DateLayout)
	rec := env.do(t, http.MethodGet, "/doctors/"+itoa(doc.ID)+"/slots?date="+date, annTok, nil)
	expect(t, rec, http.StatusOK, "")
	if slots := decode[[]SlotResponse](t, rec); len(slots) != 1 || slots[0].Availability != "Available" {
		t.Fatalf("slots = %+v", slots)
	}
	expect(t, env.do(t, http.MethodGet, "/doctors/1/slots?date=tomorrow", annTok, nil), http.StatusBadRequest, "VALIDATION_ERROR")

	book := BookAppointmentRequest{DoctorID: doc.ID, StartTime: sl.StartTime, EndTime: sl.EndTime}
	rec = env.do(t, http.MethodPost, "/appointments", annTok, book)
	expect(t, rec, http.StatusCreated, "")
	appt := decode[AppointmentResponse](t, rec)
	if appt.PatientID != ann.ID || appt.Status != "Scheduled" {
		t.Fatalf("appointment = %+v", appt)
	}
	expect(t, env.do(t, http.MethodPost, "/appointments", bobTok, book), http.StatusConflict, "SLOT_UNAVAILABLE")

	apptPath := "/appointments/" + itoa(appt.ID)
	expect(t, env.do(t, http.MethodGet, apptPath, bobTok, nil), http.StatusNotFound, "APPOINTMENT_NOT_FOUND")

	rec = env.do(t, http.MethodGet, "/appointments?upcoming=true", docTok, nil)
	expect(t, rec, http.StatusOK, "")
	if list := decode[[]AppointmentResponse](t, rec); len(list) != 1 {
		t.Fatalf("doctor list = %+v", list)
	}
	expect(t, env.do(t, http.MethodGet, "/appointments", staffTok, nil), http.StatusBadRequest, "VALIDATION_ERROR")

	expect(t, env.do(t, http.MethodPut, apptPath+"/review", annTok, ReviewRequest{Rating: 4}), http.StatusNotFound, "NOT_FOUND_OR_NOT_ELIGIBLE")
	expect(t, env.do(t, http.MethodPut, apptPath+"/status", docTok, UpdateStatusRequest{Status: "Done"}), http.StatusBadRequest, "INVALID_STATUS")
	rec = env.do(t, http.MethodPut, apptPath+"/status", docTok, UpdateStatusRequest{Status: "Completed"})
	expect(t, rec, http.StatusOK, "")
	if got := decode[AppointmentResponse](t, rec); got.Status != "Completed" {
		t.Fatalf("status = %s", got.Status)
	}
	expect(t, env.do(t, http.MethodPut, apptPath+"/status", docTok, UpdateStatusRequest{Status: "Cancelled"}), http.StatusConflict, "INVALID_TRANSITION")

	expect(t, env.do(t, http.MethodPut, apptPath+"/review", annTok, ReviewRequest{Rating: 6}), http.StatusBadRequest, "VALIDATION_ERROR")
	rec = env.do(t, http.MethodPut, apptPath+"/review", annTok, ReviewRequest{Rating: 5})
	expect(t, rec, http.StatusOK, "")
	if got := decode[AppointmentResponse](t, rec); got.Rating == nil || *got.Rating != 5 {
		t.Fatalf("rating = %v", got.Rating)
	}

	rec = env.do(t, http.MethodPost, apptPath+"/processes", docTok, CreateProcessRequest{Name: "X-Ray", Amount: models.Cents(8000)})
	expect(t, rec, http.StatusCreated, "")
	proc := decode[ProcessResponse](t, rec)
	if proc.Bill == nil || proc.Bill.Amount != models.Cents(8000) || proc.Bill.Status != "Pending" {
		t.Fatalf("process = %+v", proc)
	}
	expect(t, env.do(t, http.MethodPost, apptPath+"/processes", docTok, CreateProcessRequest{Name: "Free"}), http.StatusBadRequest, "VALIDATION_ERROR")

	rec = env.do(t, http.MethodGet, apptPath+"/processes", annTok, nil)
	expect(t, rec, http.StatusOK, "")
	if list := decode[[]ProcessResponse](t, rec); len(list) != 1 {
		t.Fatalf("processes = %+v", list)
	}
	rec = env.do(t, http.MethodGet, "/appointments/999/processes", staffTok, nil)
	expect(t, rec, http.StatusOK, "")
	if list := decode[[]ProcessResponse](t, rec); len(list) != 0 {
		t.Fatalf("unknown appointment processes = %+v", list)
	}

	payPath := "/processes/" + itoa(proc.ID) + "/pay"
	expect(t, env.do(t, http.MethodPost, payPath, annTok, nil), http.StatusPaymentRequired, "INSUFFICIENT_BALANCE")
	expect(t, env.do(t, http.MethodPost, payPath, bobTok, nil), http.StatusNotFound, "PROCESS_NOT_FOUND")

	rec = env.do(t, http.MethodPost, "/patients/me/balance", annTok, TopUpRequest{Amount: models.Cents(5000)})
	expect(t, rec, http.StatusOK, "")
	if bal := decode[BalanceResponse](t, rec); bal.Balance != models.Cents(10000) {
		t.Fatalf("balance = %s", bal.Balance)
	}

	rec = env.do(t, http.MethodPost, payPath, annTok, nil)
	expect(t, rec, http.StatusOK, "")
	paid := decode[PaymentResponse](t, rec)
	if paid.Balance != models.Cents(2000) || paid.Process.Bill.Status != "Paid" {
		t.Fatalf("payment = %+v", paid)
	}
	expect(t, env.do(t, http.MethodPost, payPath, annTok, nil), http.StatusConflict, "ALREADY_PAID")

	rec = env.do(t, http.MethodGet, "/patients/me/balance", annTok, nil)
	expect(t, rec, http.StatusOK, "")
	if bal := decode[BalanceResponse](t, rec); bal.Balance != models.Cents(2000) {
		t.Fatalf("balance = %s", bal.Balance)
	}

	statusPath := "/processes/" + itoa(proc.ID) + "/status"
	expect(t, env.do(t, http.MethodPut, statusPath, staffTok, UpdateStatusRequest{Status: "Cancelled"}), http.StatusConflict, "PROCESS_LOCKED")
	expect(t, env.do(t, http.MethodPut, statusPath, annTok, UpdateStatusRequest{Status: "Cancelled"}), http.StatusForbidden, "FORBIDDEN")
}

func TestProcessVisibleOnlyToItsAppointment(t *testing.T) {
	env := newTestEnv(t)
	doc := storetest.Doctor(t, env.store, "Dr. House", "Diagnostics")
	other := storetest.Doctor(t, env.store, "Dr. Wilson", "Oncology")
	ann := storetest.Patient(t, env.store, "Ann", 0)
	bob := storetest.Patient(t, env.store, "Bob", 0)
	sl := storetest.Slot(t, env.store, doc.ID, storetest.Tomorrow(9), 30*time.Minute)

	annTok := token(t, ann.ID, RolePatient)
	bobTok := token(t, bob.ID, RolePatient)
	docTok := token(t, doc.ID, RoleDoctor)
	otherTok := token(t, other.ID, RoleDoctor)
	staffTok := token(t, 99, RoleStaff)

	rec := env.do(t, http.MethodPost, "/appointments", annTok, BookAppointmentRequest{DoctorID: doc.ID, StartTime: sl.StartTime, EndTime: sl.EndTime})
	expect(t, rec, http.StatusCreated, "")
	appt := decode[AppointmentResponse](t, rec)

	rec = env.do(t, http.MethodPost, "/appointments/"+itoa(appt.ID)+"/processes", docTok, CreateProcessRequest{Name: "MRI", Amount: models.Cents(12000)})
	expect(t, rec, http.StatusCreated, "")
	proc := decode[ProcessResponse](t, rec)

	procPath := "/processes/" + itoa(proc.ID)
	for _, tok := range []string{annTok, docTok, staffTok} {
		expect(t, env.do(t, http.MethodGet, procPath, tok, nil), http.StatusOK, "")
	}
	expect(t, env.do(t, http.MethodGet, procPath, bobTok, nil), http.StatusNotFound, "PROCESS_NOT_FOUND")
	expect(t, env.do(t, http.MethodGet, procPath, otherTok, nil), http.StatusNotFound, "PROCESS_NOT_FOUND")
	expect(t, env.do(t, http.MethodGet, "/processes/999", staffTok, nil), http.StatusNotFound, "PROCESS_NOT_FOUND")

	statusPath := procPath + "/status"
	expect(t, env.do(t, http.MethodPut, statusPath, otherTok, UpdateStatusRequest{Status: "Cancelled"}), http.StatusNotFound, "PROCESS_NOT_FOUND")
	rec = env.do(t, http.MethodGet, procPath, docTok, nil)
	expect(t, rec, http.StatusOK, "")
	if got := decode[ProcessResponse](t, rec); got.Status != "Scheduled" {
		t.Fatalf("status = %s after foreign update", got.Status)
	}

	rec = env.do(t, http.MethodPut, statusPath, docTok, UpdateStatusRequest{Status: "Completed"})
	expect(t, rec, http.StatusOK, "")
	if got := decode[ProcessResponse](t, rec); got.Status != "Completed" {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestResourceFlow(t *testing.T) {
	env := newTestEnv(t)
	staffTok := token(t, 1, RoleAdmin)
	docTok := token(t, 7, RoleDoctor)

	expect(t, env.do(t, http.MethodPost, "/resources", docTok, CreateResourceRequest{Name: "MRI"}), http.StatusForbidden, "FORBIDDEN")
	expect(t, env.do(t, http.MethodPost, "/resources", staffTok, CreateResourceRequest{}), http.StatusBadRequest, "VALIDATION_ERROR")

	rec := env.do(t, http.MethodPost, "/resources", staffTok, CreateResourceRequest{Name: "MRI"})
	expect(t, rec, http.StatusCreated, "")
	mri := decode[ResourceResponse](t, rec)
	if mri.Availability != "Available" {
		t.Fatalf("resource = %+v", mri)
	}
	path := "/resources/" + itoa(mri.ID)

	rec = env.do(t, http.MethodPost, path+"/requests", docTok, nil)
	expect(t, rec, http.StatusCreated, "")
	if req := decode[ResourceRequestResponse](t, rec); req.Status != "Pending" || req.DoctorID != 7 {
		t.Fatalf("request = %+v", req)
	}
	expect(t, env.do(t, http.MethodPost, "/resources/999/requests", docTok, nil), http.StatusNotFound, "RESOURCE_NOT_FOUND")

	expect(t, env.do(t, http.MethodPut, path+"/requests/7", staffTok, DecisionRequest{Decision: "Maybe"}), http.StatusBadRequest, "INVALID_DECISION")
	rec = env.do(t, http.MethodPut, path+"/requests/7", staffTok, DecisionRequest{Decision: "Approved"})
	expect(t, rec, http.StatusOK, "")
	if req := decode[ResourceRequestResponse](t, rec); req.Status != "Approved" {
		t.Fatalf("decision = %+v", req)
	}

	rec = env.do(t, http.MethodGet, path, docTok, nil)
	expect(t, rec, http.StatusOK, "")
	if got := decode[ResourceResponse](t, rec); got.Availability != "In Use" {
		t.Fatalf("availability = %s", got.Availability)
	}

	rec = env.do(t, http.MethodGet, "/resource-requests", docTok, nil)
	expect(t, rec, http.StatusOK, "")
	if list := decode[[]ResourceRequestResponse](t, rec); len(list) != 1 {
		t.Fatalf("requests = %+v", list)
	}

	expect(t, env.do(t, http.MethodPut, path+"/availability", staffTok, AvailabilityRequest{Availability: "Broken"}), http.StatusBadRequest, "VALIDATION_ERROR")
	rec = env.do(t, http.MethodPut, path+"/availability", staffTok, AvailabilityRequest{Availability: "Maintenance"})
	expect(t, rec, http.StatusOK, "")
	if got := decode[ResourceResponse](t, rec); got.Availability != "Maintenance" {
		t.Fatalf("availability = %s", got.Availability)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  *apperr.Error
		want int
	}{
		{apperr.ErrSlotUnavailable, http.StatusConflict},
		{apperr.ErrValidation, http.StatusBadRequest},
		{apperr.ErrBillNotFound, http.StatusNotFound},
		{apperr.ErrInsufficientBalance, http.StatusPaymentRequired},
		{apperr.ErrBusy, http.StatusServiceUnavailable},
		{apperr.ErrAppointmentCreationFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err.Kind); got != tt.want {
			t.Errorf("statusFor(%s) = %d, want %d", tt.err.Code, got, tt.want)
		}
	}
}

func TestRecoverMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(RecoverMiddleware(zerolog.Nop()))
	r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	expect(t, rec, http.StatusInternalServerError, "INTERNAL_ERROR")
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
