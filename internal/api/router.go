package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/medisync-core/internal/appointment"
	"github.com/hackgods/medisync-core/internal/billing"
	"github.com/hackgods/medisync-core/internal/payment"
	"github.com/hackgods/medisync-core/internal/resource"
	"github.com/hackgods/medisync-core/internal/slot"
)

type RouterConfig struct {
	Slots        *slot.Service
	Appointments *appointment.Service
	Billing      *billing.Service
	Payments     *payment.Service
	Resources    *resource.Service
	Store        Pinger
	Driver       string
	Redis        *redis.Client
	JWTSecret    string
	Logger       zerolog.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoverMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.Store, cfg.Driver, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		patient := RequireRole(RolePatient)
		doctor := RequireRole(RoleDoctor)
		staff := RequireRole(RoleStaff, RoleAdmin)

		// Slots
		r.Get("/doctors/{doctorID}/available-dates", availableDatesHandler(cfg.Slots))
		r.Get("/doctors/{doctorID}/slots", availableSlotsHandler(cfg.Slots))

		// Appointments
		r.With(patient).Post("/appointments", bookAppointmentHandler(cfg.Appointments))
		r.Get("/appointments", listAppointmentsHandler(cfg.Appointments))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments))
		r.With(doctor).Put("/appointments/{id}/status", updateAppointmentStatusHandler(cfg.Appointments))
		r.With(patient).Put("/appointments/{id}/review", reviewAppointmentHandler(cfg.Appointments))

		// Processes and bills
		r.With(doctor).Post("/appointments/{id}/processes", createProcessHandler(cfg.Appointments, cfg.Billing))
		r.Get("/appointments/{id}/processes", listProcessesHandler(cfg.Appointments, cfg.Billing))
		r.Get("/processes/{id}", getProcessHandler(cfg.Appointments, cfg.Billing))
		r.With(RequireRole(RoleDoctor, RoleStaff)).Put("/processes/{id}/status", updateProcessStatusHandler(cfg.Appointments, cfg.Billing))
		r.With(patient).Post("/processes/{id}/pay", payBillHandler(cfg.Payments))

		// Balance
		r.With(patient).Get("/patients/me/balance", balanceHandler(cfg.Payments))
		r.With(patient).Post("/patients/me/balance", topUpHandler(cfg.Payments))

		// Resources
		r.Get("/resources", listResourcesHandler(cfg.Resources))
		r.With(staff).Post("/resources", createResourceHandler(cfg.Resources))
		r.Get("/resources/{id}", getResourceHandler(cfg.Resources))
		r.With(doctor).Post("/resources/{id}/requests", requestResourceHandler(cfg.Resources))
		r.With(staff).Put("/resources/{id}/requests/{doctorID}", decideRequestHandler(cfg.Resources))
		r.With(staff).Put("/resources/{id}/availability", setAvailabilityHandler(cfg.Resources))
		r.With(RequireRole(RoleDoctor, RoleStaff, RoleAdmin)).Get("/resource-requests", listRequestsHandler(cfg.Resources))
	})

	return r
}
