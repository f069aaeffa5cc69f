package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/medisync-core/internal/apperr"
	redisclient "github.com/hackgods/medisync-core/internal/redis"
	"github.com/hackgods/medisync-core/internal/storage"
	"github.com/hackgods/medisync-core/internal/storage/models"
	"github.com/hackgods/medisync-core/internal/storage/sqlstore"
	"github.com/hackgods/medisync-core/internal/storage/storetest"
)

func setup(t *testing.T) (*Service, *sqlstore.Store, models.Appointment) {
	t.Helper()
	ctx := context.Background()
	store := storetest.New(t)
	svc := NewService(store, redisclient.NewLocalLocker(redisclient.LockOptions{Attempts: 50, RetryDelay: time.Millisecond}), zerolog.Nop())

	doc := storetest.Doctor(t, store, "Dr. Grey", "Radiology")
	pat := storetest.Patient(t, store, "Ann", models.Cents(10000))
	sl := storetest.Slot(t, store, doc.ID, storetest.Tomorrow(9), 30*time.Minute)

	appt := models.Appointment{PatientID: pat.ID, DoctorID: doc.ID, StartTime: sl.StartTime, EndTime: sl.EndTime}
	err := store.WithTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.ClaimSlot(ctx, doc.ID, sl.StartTime, sl.EndTime); err != nil {
			return err
		}
		return tx.InsertAppointment(ctx, &appt)
	})
	if err != nil {
		t.Fatalf("setup appointment: %v", err)
	}
	return svc, store, appt
}

func TestCreateProcess(t *testing.T) {
	ctx := context.Background()
	svc, _, appt := setup(t)

	pw, err := svc.CreateProcess(ctx, CreateProcessRequest{
		AppointmentID: appt.ID,
		Name:          " X-Ray ",
		Description:   "chest",
		Amount:        models.Cents(8000),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if pw.ID == 0 || pw.Name != "X-Ray" || pw.Status != models.ProcessScheduled {
		t.Fatalf("process = %+v", pw.Process)
	}
	if pw.Bill == nil || pw.Bill.Status != models.BillPending || pw.Bill.Amount != models.Cents(8000) || pw.Bill.ProcessID != pw.ID {
		t.Fatalf("bill = %+v", pw.Bill)
	}

	list, err := svc.ListProcessesForAppointment(ctx, appt.ID)
	if err != nil || len(list) != 1 || list[0].Bill == nil || list[0].Bill.Amount != models.Cents(8000) {
		t.Fatalf("list = %+v, %v", list, err)
	}
}

func TestCreateProcessFailures(t *testing.T) {
	ctx := context.Background()
	svc, _, appt := setup(t)

	tests := []struct {
		name string
		req  CreateProcessRequest
		want error
	}{
		{"missing appointment", CreateProcessRequest{AppointmentID: 999, Name: "MRI", Amount: 100}, apperr.ErrAppointmentNotFound},
		{"blank name", CreateProcessRequest{AppointmentID: appt.ID, Name: "  ", Amount: 100}, apperr.ErrValidation},
		{"zero amount", CreateProcessRequest{AppointmentID: appt.ID, Name: "MRI"}, apperr.ErrValidation},
		{"negative amount", CreateProcessRequest{AppointmentID: appt.ID, Name: "MRI", Amount: -5}, apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.CreateProcess(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	list, err := svc.ListProcessesForAppointment(ctx, appt.ID)
	if err != nil || len(list) != 0 {
		t.Fatalf("failed creates left rows: %+v, %v", list, err)
	}
}

func TestUpdateProcessStatus(t *testing.T) {
	ctx := context.Background()
	svc, store, appt := setup(t)

	pw, err := svc.CreateProcess(ctx, CreateProcessRequest{AppointmentID: appt.ID, Name: "MRI", Amount: models.Cents(2500)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.UpdateProcessStatus(ctx, pw.ID, "exploded", 1); !errors.Is(err, apperr.ErrInvalidStatus) {
		t.Fatalf("bad status err = %v", err)
	}
	if _, err := svc.UpdateProcessStatus(ctx, 999, "Completed", 1); !errors.Is(err, apperr.ErrProcessNotFound) {
		t.Fatalf("missing process err = %v", err)
	}

	// free movement between values
	for _, st := range []string{"In Progress", "Completed", "Scheduled", "cancelled"} {
		got, err := svc.UpdateProcessStatus(ctx, pw.ID, st, 1)
		if err != nil {
			t.Fatalf("-> %s: %v", st, err)
		}
		want, _ := models.ParseProcessStatus(st)
		if got.Status != want {
			t.Fatalf("status = %s, want %s", got.Status, want)
		}
	}

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		_, err := tx.MarkBillPaid(ctx, pw.Bill.ID, time.Now())
		return err
	})
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	if _, err := svc.UpdateProcessStatus(ctx, pw.ID, "Completed", 1); !errors.Is(err, apperr.ErrProcessLocked) {
		t.Fatalf("paid process err = %v, want ProcessLocked", err)
	}

	got, err := svc.Get(ctx, pw.ID)
	if err != nil || got.Status != models.ProcessCancelled {
		t.Fatalf("frozen process = %+v, %v", got, err)
	}
}

func TestListProcessesForUnknownAppointment(t *testing.T) {
	svc, _, _ := setup(t)
	list, err := svc.ListProcessesForAppointment(context.Background(), 31337)
	if err != nil || list == nil || len(list) != 0 {
		t.Fatalf("list = %#v, %v", list, err)
	}
	if _, err := svc.Get(context.Background(), 31337); !errors.Is(err, apperr.ErrProcessNotFound) {
		t.Fatalf("get err = %v", err)
	}
}
