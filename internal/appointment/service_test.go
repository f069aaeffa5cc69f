package appointment

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/medisync-core/internal/apperr"
	redisclient "github.com/hackgods/medisync-core/internal/redis"
	"github.com/hackgods/medisync-core/internal/storage/models"
	"github.com/hackgods/medisync-core/internal/storage/sqlstore"
	"github.com/hackgods/medisync-core/internal/storage/storetest"
)

func newTestService(t *testing.T) (*Service, *sqlstore.Store) {
	t.Helper()
	store := storetest.New(t)
	locker := redisclient.NewLocalLocker(redisclient.LockOptions{
		TTL:        5 * time.Second,
		Attempts:   500,
		RetryDelay: 2 * time.Millisecond,
	})
	return NewService(store, locker, zerolog.Nop()), store
}

func book(t *testing.T, svc *Service, patientID int64, sl models.Slot) *models.Appointment {
	t.Helper()
	appt, err := svc.Book(context.Background(), BookRequest{
		PatientID: patientID,
		DoctorID:  sl.DoctorID,
		StartTime: sl.StartTime,
		EndTime:   sl.EndTime,
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	return appt
}

func TestBookCreatesScheduledAppointment(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	doc := storetest.Doctor(t, store, "Dr. Grey", "Cardiology")
	pat := storetest.Patient(t, store, "Ann", 0)
	sl := storetest.Slot(t, store, doc.ID, storetest.Tomorrow(9), 30*time.Minute)

	appt := book(t, svc, pat.ID, sl)
	if appt.ID == 0 || appt.Status != models.AppointmentScheduled {
		t.Fatalf("appointment = %+v", appt)
	}
	if !appt.StartTime.Equal(sl.StartTime) || !appt.EndTime.Equal(sl.EndTime) {
		t.Fatalf("times = %v-%v", appt.StartTime, appt.EndTime)
	}

	got, err := store.GetSlot(ctx, doc.ID, sl.StartTime, sl.EndTime)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	if got.Availability != models.SlotBooked {
		t.Fatalf("slot = %s, want booked", got.Availability)
	}

	events, err := store.ListEvents(ctx, "appointment", strconv.FormatInt(appt.ID, 10))
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || events[0].EventType != models.EventAppointmentBooked {
		t.Fatalf("events = %+v", events)
	}
}

func TestBookSameSlotConcurrently(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	doc := storetest.Doctor(t, store, "Dr. Grey", "Cardiology")
	sl := storetest.Slot(t, store, doc.ID, storetest.Tomorrow(9), 30*time.Minute)

	const callers = 8
	patients := make([]models.Patient, callers)
	for i := range patients {
		patients[i] = storetest.Patient(t, store, "P"+strconv.Itoa(i), 0)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes []*models.Appointment
		failures  []error
	)
	for _, p := range patients {
		wg.Add(1)
		go func(patientID int64) {
			defer wg.Done()
			appt, err := svc.Book(ctx, BookRequest{PatientID: patientID, DoctorID: doc.ID, StartTime: sl.StartTime, EndTime: sl.EndTime})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			successes = append(successes, appt)
		}(p.ID)
	}
	wg.Wait()

	if len(successes) != 1 {
		t.Fatalf("successes = %d, want 1", len(successes))
	}
	for _, err := range failures {
		if !errors.Is(err, apperr.ErrSlotUnavailable) {
			t.Errorf("loser err = %v, want SlotUnavailable", err)
		}
	}

	got, err := store.GetSlot(ctx, doc.ID, sl.StartTime, sl.EndTime)
	if err != nil || got.Availability != models.SlotBooked {
		t.Fatalf("slot = %+v, %v", got, err)
	}
	byDoctor, err := svc.ListForDoctor(ctx, doc.ID, "", nil)
	if err != nil || len(byDoctor) != 1 {
		t.Fatalf("doctor appointments = %d, %v", len(byDoctor), err)
	}
}

func TestBookRollsBackClaimWhenInsertFails(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	doc := storetest.Doctor(t, store, "Dr. Grey", "Cardiology")
	sl := storetest.Slot(t, store, doc.ID, storetest.Tomorrow(9), 30*time.Minute)

	_, err := svc.Book(ctx, BookRequest{PatientID: 424242, DoctorID: doc.ID, StartTime: sl.StartTime, EndTime: sl.EndTime})
	if !errors.Is(err, apperr.ErrAppointmentCreationFailed) {
		t.Fatalf("err = %v, want AppointmentCreationFailed", err)
	}

	got, err := store.GetSlot(ctx, doc.ID, sl.StartTime, sl.EndTime)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	if got.Availability != models.SlotAvailable {
		t.Fatalf("slot = %s after failed booking, want available", got.Availability)
	}
}

func TestBookValidation(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	doc := storetest.Doctor(t, store, "Dr. Grey", "Cardiology")
	pat := storetest.Patient(t, store, "Ann", 0)
	start := storetest.Tomorrow(9)
	sl := storetest.Slot(t, store, doc.ID, storetest.Tomorrow(10), 30*time.Minute)
	frac := 900 * time.Millisecond

	tests := map[string]BookRequest{
		"fractional seconds": {PatientID: pat.ID, DoctorID: doc.ID, StartTime: sl.StartTime.Add(frac), EndTime: sl.EndTime.Add(frac)},
		"end before start": {PatientID: pat.ID, DoctorID: doc.ID, StartTime: start, EndTime: start.Add(-time.Minute)},
		"empty range":      {PatientID: pat.ID, DoctorID: doc.ID, StartTime: start, EndTime: start},
		"in the past":      {PatientID: pat.ID, DoctorID: doc.ID, StartTime: start.AddDate(0, 0, -3), EndTime: start.AddDate(0, 0, -3).Add(30 * time.Minute)},
		"missing doctor":   {PatientID: pat.ID, StartTime: start, EndTime: start.Add(30 * time.Minute)},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Book(ctx, req); !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
		})
	}

	_, err := svc.Book(ctx, BookRequest{PatientID: pat.ID, DoctorID: doc.ID, StartTime: start, EndTime: start.Add(30 * time.Minute)})
	if !errors.Is(err, apperr.ErrSlotUnavailable) {
		t.Fatalf("missing slot err = %v, want SlotUnavailable", err)
	}

	got, err := store.GetSlot(ctx, doc.ID, sl.StartTime, sl.EndTime)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	if got.Availability != models.SlotAvailable {
		t.Fatalf("availability = %s after rejected bookings", got.Availability)
	}
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	doc := storetest.Doctor(t, store, "Dr. Grey", "Cardiology")
	pat := storetest.Patient(t, store, "Ann", 0)
	appt := book(t, svc, pat.ID, storetest.Slot(t, store, doc.ID, storetest.Tomorrow(9), 30*time.Minute))

	if _, err := svc.UpdateStatus(ctx, appt.ID, "Postponed", doc.ID); !errors.Is(err, apperr.ErrInvalidStatus) {
		t.Fatalf("unknown status err = %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, 999, "Completed", doc.ID); !errors.Is(err, apperr.ErrAppointmentNotFound) {
		t.Fatalf("missing appointment err = %v", err)
	}

	same, err := svc.UpdateStatus(ctx, appt.ID, "Scheduled", doc.ID)
	if err != nil || same.Status != models.AppointmentScheduled {
		t.Fatalf("no-op = %+v, %v", same, err)
	}

	done, err := svc.UpdateStatus(ctx, appt.ID, "Completed", doc.ID)
	if err != nil || done.Status != models.AppointmentCompleted {
		t.Fatalf("complete = %+v, %v", done, err)
	}

	if _, err := svc.UpdateStatus(ctx, appt.ID, "completed", doc.ID); err != nil {
		t.Fatalf("re-issue completed: %v", err)
	}
	for _, next := range []string{"Scheduled", "Cancelled"} {
		if _, err := svc.UpdateStatus(ctx, appt.ID, next, doc.ID); !errors.Is(err, apperr.ErrInvalidTransition) {
			t.Fatalf("completed -> %s err = %v, want InvalidTransition", next, err)
		}
	}

	events, err := store.ListEvents(ctx, "appointment", strconv.FormatInt(appt.ID, 10))
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	// booked + one real transition; no-ops are not recorded
	if len(events) != 2 || events[1].EventType != models.EventAppointmentStatus {
		t.Fatalf("events = %+v", events)
	}
}

func TestAddReview(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	doc := storetest.Doctor(t, store, "Dr. Grey", "Cardiology")
	owner := storetest.Patient(t, store, "Ann", 0)
	other := storetest.Patient(t, store, "Bob", 0)
	appt := book(t, svc, owner.ID, storetest.Slot(t, store, doc.ID, storetest.Tomorrow(9), 30*time.Minute))
	text := "thorough"

	// still scheduled
	if _, err := svc.AddReview(ctx, appt.ID, owner.ID, 5, &text); !errors.Is(err, apperr.ErrNotFoundOrNotEligible) {
		t.Fatalf("review on scheduled err = %v", err)
	}
	got, err := svc.Get(ctx, appt.ID)
	if err != nil || got.Status != models.AppointmentScheduled || got.Rating != nil {
		t.Fatalf("appointment changed: %+v, %v", got, err)
	}

	if _, err := svc.UpdateStatus(ctx, appt.ID, "Completed", doc.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	for _, rating := range []int{0, 6} {
		if _, err := svc.AddReview(ctx, appt.ID, owner.ID, rating, nil); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("rating %d err = %v", rating, err)
		}
	}
	if _, err := svc.AddReview(ctx, appt.ID, other.ID, 4, nil); !errors.Is(err, apperr.ErrNotFoundOrNotEligible) {
		t.Fatalf("foreign patient err = %v", err)
	}
	if _, err := svc.AddReview(ctx, 999, owner.ID, 4, nil); !errors.Is(err, apperr.ErrNotFoundOrNotEligible) {
		t.Fatalf("missing appointment err = %v", err)
	}

	reviewed, err := svc.AddReview(ctx, appt.ID, owner.ID, 5, &text)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if reviewed.Rating == nil || *reviewed.Rating != 5 || reviewed.Review == nil || *reviewed.Review != text {
		t.Fatalf("reviewed = %+v", reviewed)
	}

	again, err := svc.AddReview(ctx, appt.ID, owner.ID, 3, nil)
	if err != nil {
		t.Fatalf("second review: %v", err)
	}
	if *again.Rating != 3 || again.Review != nil {
		t.Fatalf("second review did not replace the first: %+v", again)
	}
}

func TestListings(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	doc := storetest.Doctor(t, store, "Dr. Grey", "Cardiology")
	pat := storetest.Patient(t, store, "Ann", 0)

	first := book(t, svc, pat.ID, storetest.Slot(t, store, doc.ID, storetest.Tomorrow(9), 30*time.Minute))
	second := book(t, svc, pat.ID, storetest.Slot(t, store, doc.ID, storetest.Tomorrow(11), 30*time.Minute))
	if _, err := svc.UpdateStatus(ctx, first.ID, "Cancelled", doc.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	all, err := svc.ListForPatient(ctx, pat.ID, "")
	if err != nil || len(all) != 2 || all[0].ID != second.ID {
		t.Fatalf("patient list = %+v, %v", all, err)
	}
	cancelled, err := svc.ListForPatient(ctx, pat.ID, "Cancelled")
	if err != nil || len(cancelled) != 1 || cancelled[0].ID != first.ID {
		t.Fatalf("cancelled list = %+v, %v", cancelled, err)
	}
	if _, err := svc.ListForPatient(ctx, pat.ID, "lost"); !errors.Is(err, apperr.ErrInvalidStatus) {
		t.Fatalf("bad filter err = %v", err)
	}

	upcoming := true
	soon, err := svc.ListForDoctor(ctx, doc.ID, "", &upcoming)
	if err != nil || len(soon) != 2 || soon[0].ID != first.ID {
		t.Fatalf("upcoming = %+v, %v", soon, err)
	}
	past := false
	old, err := svc.ListForDoctor(ctx, doc.ID, "", &past)
	if err != nil || len(old) != 0 {
		t.Fatalf("past = %+v, %v", old, err)
	}

	none, err := svc.ListForPatient(ctx, 31337, "")
	if err != nil || none == nil || len(none) != 0 {
		t.Fatalf("unknown patient = %#v, %v", none, err)
	}

	if _, err := svc.Get(ctx, 999); !errors.Is(err, apperr.ErrAppointmentNotFound) {
		t.Fatalf("get missing err = %v", err)
	}
}
