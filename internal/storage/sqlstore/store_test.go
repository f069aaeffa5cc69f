package sqlstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hackgods/medisync-core/internal/storage"
	"github.com/hackgods/medisync-core/internal/storage/models"
	"github.com/hackgods/medisync-core/internal/storage/sqlstore"
	"github.com/hackgods/medisync-core/internal/storage/storetest"
)

var errAbort = errors.New("abort")

func TestClaimSlotOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	doc := storetest.Doctor(t, s, "Dr. Grey", "Cardiology")
	slot := storetest.Slot(t, s, doc.ID, storetest.Tomorrow(9), 30*time.Minute)

	var first, second bool
	err := s.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		if first, err = tx.ClaimSlot(ctx, doc.ID, slot.StartTime, slot.EndTime); err != nil {
			return err
		}
		second, err = tx.ClaimSlot(ctx, doc.ID, slot.StartTime, slot.EndTime)
		return err
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if !first || second {
		t.Fatalf("claims = %v, %v; want true, false", first, second)
	}

	got, err := s.GetSlot(ctx, doc.ID, slot.StartTime, slot.EndTime)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	if got.Availability != models.SlotBooked {
		t.Fatalf("availability = %s, want booked", got.Availability)
	}
	if !got.StartTime.Equal(slot.StartTime) || !got.EndTime.Equal(slot.EndTime) {
		t.Fatalf("slot times changed: %v-%v", got.StartTime, got.EndTime)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	doc := storetest.Doctor(t, s, "Dr. Grey", "Cardiology")
	slot := storetest.Slot(t, s, doc.ID, storetest.Tomorrow(10), 30*time.Minute)

	err := s.WithTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.ClaimSlot(ctx, doc.ID, slot.StartTime, slot.EndTime); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("err = %v, want abort", err)
	}

	got, err := s.GetSlot(ctx, doc.ID, slot.StartTime, slot.EndTime)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	if got.Availability != models.SlotAvailable {
		t.Fatalf("availability = %s after rollback", got.Availability)
	}
}

func TestWithTxOutlivingTimeoutIsBusy(t *testing.T) {
	ctx := context.Background()
	s := storetest.NewWithOptions(t, sqlstore.Options{
		TxTimeout:   40 * time.Millisecond,
		MaxAttempts: 2,
	})
	doc := storetest.Doctor(t, s, "Dr. Grey", "Cardiology")
	slot := storetest.Slot(t, s, doc.ID, storetest.Tomorrow(11), 30*time.Minute)

	tests := []struct {
		name string
		tail func(tx storage.Tx) error
	}{
		{"statement after deadline", func(tx storage.Tx) error {
			_, err := tx.ListResources(ctx, false)
			return err
		}},
		{"commit after deadline", func(storage.Tx) error { return nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := s.WithTx(ctx, func(tx storage.Tx) error {
				attempts++
				if _, err := tx.ClaimSlot(ctx, doc.ID, slot.StartTime, slot.EndTime); err != nil {
					return err
				}
				time.Sleep(120 * time.Millisecond)
				return tt.tail(tx)
			})
			if !errors.Is(err, storage.ErrBusy) {
				t.Fatalf("err = %v, want busy", err)
			}
			if attempts != 2 {
				t.Fatalf("attempts = %d, want 2", attempts)
			}

			got, err := s.GetSlot(ctx, doc.ID, slot.StartTime, slot.EndTime)
			if err != nil {
				t.Fatalf("get slot: %v", err)
			}
			if got.Availability != models.SlotAvailable {
				t.Fatalf("availability = %s after timed out unit", got.Availability)
			}
		})
	}
}

func TestInsertAppointmentConstraints(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	doc := storetest.Doctor(t, s, "Dr. Grey", "Cardiology")
	pat := storetest.Patient(t, s, "Ann", models.Cents(0))
	slot := storetest.Slot(t, s, doc.ID, storetest.Tomorrow(11), 30*time.Minute)

	appt := models.Appointment{PatientID: pat.ID, DoctorID: doc.ID, StartTime: slot.StartTime, EndTime: slot.EndTime}
	err := s.WithTx(ctx, func(tx storage.Tx) error {
		return tx.InsertAppointment(ctx, &appt)
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if appt.ID == 0 || appt.Status != models.AppointmentScheduled {
		t.Fatalf("unexpected appointment %+v", appt)
	}

	dup := models.Appointment{PatientID: pat.ID, DoctorID: doc.ID, StartTime: slot.StartTime, EndTime: slot.EndTime}
	err = s.WithTx(ctx, func(tx storage.Tx) error {
		return tx.InsertAppointment(ctx, &dup)
	})
	if !errors.Is(err, storage.ErrUniqueViolation) {
		t.Fatalf("duplicate insert err = %v, want unique violation", err)
	}

	other := storetest.Slot(t, s, doc.ID, storetest.Tomorrow(12), 30*time.Minute)
	orphan := models.Appointment{PatientID: 9999, DoctorID: doc.ID, StartTime: other.StartTime, EndTime: other.EndTime}
	err = s.WithTx(ctx, func(tx storage.Tx) error {
		return tx.InsertAppointment(ctx, &orphan)
	})
	if !errors.Is(err, storage.ErrForeignKey) {
		t.Fatalf("orphan insert err = %v, want foreign key", err)
	}
}

func TestListAvailableSlotsBetween(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	doc := storetest.Doctor(t, s, "Dr. Grey", "Cardiology")

	day := storetest.Tomorrow(0)
	late := storetest.Slot(t, s, doc.ID, day.Add(15*time.Hour), 30*time.Minute)
	early := storetest.Slot(t, s, doc.ID, day.Add(9*time.Hour), 30*time.Minute)
	booked := storetest.Slot(t, s, doc.ID, day.Add(10*time.Hour), 30*time.Minute)
	storetest.Slot(t, s, doc.ID, day.Add(33*time.Hour), 30*time.Minute)

	err := s.WithTx(ctx, func(tx storage.Tx) error {
		_, err := tx.ClaimSlot(ctx, doc.ID, booked.StartTime, booked.EndTime)
		return err
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	slots, err := s.ListAvailableSlotsBetween(ctx, doc.ID, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("got %d slots, want 2: %+v", len(slots), slots)
	}
	if !slots[0].StartTime.Equal(early.StartTime) || !slots[1].StartTime.Equal(late.StartTime) {
		t.Fatalf("unexpected order: %v, %v", slots[0].StartTime, slots[1].StartTime)
	}
}

func TestSettlementGuards(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	doc := storetest.Doctor(t, s, "Dr. Grey", "Cardiology")
	pat := storetest.Patient(t, s, "Ann", models.Cents(5000))
	slot := storetest.Slot(t, s, doc.ID, storetest.Tomorrow(9), 30*time.Minute)

	var processID int64
	err := s.WithTx(ctx, func(tx storage.Tx) error {
		appt := models.Appointment{PatientID: pat.ID, DoctorID: doc.ID, StartTime: slot.StartTime, EndTime: slot.EndTime}
		if err := tx.InsertAppointment(ctx, &appt); err != nil {
			return err
		}
		p := models.Process{AppointmentID: appt.ID, Name: "X-Ray"}
		if err := tx.InsertProcess(ctx, &p); err != nil {
			return err
		}
		processID = p.ID
		return tx.InsertBill(ctx, &models.Bill{ProcessID: p.ID, Amount: models.Cents(3000)})
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	now := time.Now()
	err = s.WithTx(ctx, func(tx storage.Tx) error {
		st, err := tx.LockSettlement(ctx, processID)
		if err != nil {
			return err
		}
		if st.PatientID != pat.ID || st.Amount != models.Cents(3000) || st.Balance != models.Cents(5000) {
			t.Errorf("settlement = %+v", st)
		}
		paid, err := tx.MarkBillPaid(ctx, st.BillID, now)
		if err != nil || !paid {
			t.Errorf("first mark paid = %v, %v", paid, err)
		}
		again, err := tx.MarkBillPaid(ctx, st.BillID, now)
		if err != nil || again {
			t.Errorf("second mark paid = %v, %v", again, err)
		}
		debited, err := tx.DebitBalance(ctx, pat.ID, st.Amount, now)
		if err != nil || !debited {
			t.Errorf("first debit = %v, %v", debited, err)
		}
		over, err := tx.DebitBalance(ctx, pat.ID, st.Amount, now)
		if err != nil || over {
			t.Errorf("overdraft debit = %v, %v", over, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	got, err := s.GetPatient(ctx, pat.ID)
	if err != nil {
		t.Fatalf("get patient: %v", err)
	}
	if got.Balance != models.Cents(2000) {
		t.Fatalf("balance = %s, want 20.00", got.Balance)
	}

	pw, err := s.GetProcessWithBill(ctx, processID)
	if err != nil {
		t.Fatalf("get process: %v", err)
	}
	if pw.Bill == nil || pw.Bill.Status != models.BillPaid || pw.Bill.PaidAt == nil {
		t.Fatalf("bill = %+v", pw.Bill)
	}
}

func TestProcessWithoutBill(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	doc := storetest.Doctor(t, s, "Dr. Grey", "Cardiology")
	pat := storetest.Patient(t, s, "Ann", 0)
	slot := storetest.Slot(t, s, doc.ID, storetest.Tomorrow(9), 30*time.Minute)

	var apptID int64
	err := s.WithTx(ctx, func(tx storage.Tx) error {
		appt := models.Appointment{PatientID: pat.ID, DoctorID: doc.ID, StartTime: slot.StartTime, EndTime: slot.EndTime}
		if err := tx.InsertAppointment(ctx, &appt); err != nil {
			return err
		}
		apptID = appt.ID
		return tx.InsertProcess(ctx, &models.Process{AppointmentID: appt.ID, Name: "Consult"})
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	list, err := s.ListProcessesForAppointment(ctx, apptID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Bill != nil {
		t.Fatalf("list = %+v", list)
	}

	empty, err := s.ListProcessesForAppointment(ctx, 424242)
	if err != nil || len(empty) != 0 {
		t.Fatalf("unknown appointment = %v, %v", empty, err)
	}
}

func TestUpsertResourceRequestOverwrites(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	mri := storetest.Resource(t, s, "MRI", models.ResourceAvailable)

	first := time.Now().Add(-time.Hour)
	for _, req := range []models.ResourceRequest{
		{DoctorID: 7, ResourceID: mri.ID, Status: models.RequestApproved, RequestedAt: first},
		{DoctorID: 7, ResourceID: mri.ID, Status: models.RequestPending, RequestedAt: time.Now()},
	} {
		req := req
		if err := s.WithTx(ctx, func(tx storage.Tx) error { return tx.UpsertResourceRequest(ctx, &req) }); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	list, err := s.ListResourceRequests(ctx, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d requests, want 1", len(list))
	}
	if list[0].Status != models.RequestPending || list[0].ResourceName != "MRI" {
		t.Fatalf("request = %+v", list[0])
	}

	if _, err := s.GetResourceRequest(ctx, 8, mri.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing request err = %v", err)
	}
}
