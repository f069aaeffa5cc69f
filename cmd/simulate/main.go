package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/medisync-core/internal/api"
	"github.com/hackgods/medisync-core/internal/config"
	"github.com/hackgods/medisync-core/internal/db"
	"github.com/hackgods/medisync-core/internal/logging"
	"github.com/hackgods/medisync-core/internal/storage/models"
	"github.com/hackgods/medisync-core/internal/storage/sqlstore"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	PaymentRatio float64
	ReadRatio    float64
	PatientLimit int
	DoctorLimit  int
	// HotSlots is how many slots booking workers fight over.
	HotSlots  int
	JWTSecret string
}

type bookable struct {
	DoctorID  int64     `json:"doctor_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type booked struct {
	AppointmentID int64
	PatientID     int64
	DoctorID      int64
}

type DataPool struct {
	Patients []int64
	Slots    []bookable
	mu       sync.RWMutex
	booked   []booked
	bills    []openBill
}

type openBill struct {
	ProcessID int64
	PatientID int64
}

func (dp *DataPool) AddBooked(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.booked = append(dp.booked, b)
}

func (dp *DataPool) AddBill(processID, patientID int64) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bills = append(dp.bills, openBill{ProcessID: processID, PatientID: patientID})
}

func (dp *DataPool) randomBooked(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.booked) == 0 {
		return booked{}, false
	}
	return dp.booked[rng.Intn(len(dp.booked))], true
}

func (dp *DataPool) randomBill(rng *rand.Rand) (openBill, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bills) == 0 {
		return openBill{}, false
	}
	return dp.bills[rng.Intn(len(dp.bills))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[min2(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min2(len(latencies)*95/100, len(latencies)-1)]
	return avg, min, max, p50, p95
}

type Metrics struct {
	Booking  OperationMetrics
	Process  OperationMetrics
	Payment  OperationMetrics
	TopUp    OperationMetrics
	ListMine OperationMetrics
	Balance  OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
	tokens  sync.Map // "role:id" -> token
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load base config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(baseCfg.Env, baseCfg.LogLevel)

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("payment", cfg.PaymentRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
	}

	sim.pool, err = sim.loadDataPool(ctx, baseCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().Int("patients", len(sim.pool.Patients)).Int("slots", len(sim.pool.Slots)).Msg("data pool loaded")

	sim.Run()
	sim.PrintReport()
}

func loadConfig(base config.Config) SimConfig {
	secret := base.JWTSecret
	if secret == "" {
		secret = api.DevSecret
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.4),
		PaymentRatio: getFloat("SIM_PAYMENT_RATIO", 0.3),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 200),
		DoctorLimit:  getInt("SIM_DOCTOR_LIMIT", 5),
		HotSlots:     getInt("SIM_HOT_SLOTS", 50),
		JWTSecret:    secret,
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.PaymentRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.PaymentRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.HotSlots <= 0 {
		return fmt.Errorf("SIM_HOT_SLOTS must be > 0")
	}
	return nil
}

// loadDataPool reads patients and doctors from the database and asks the
// API for each doctor's open slots, keeping the first HotSlots of them.
func (s *Simulator) loadDataPool(ctx context.Context, base config.Config) (*DataPool, error) {
	conn, closeDB, err := db.Open(ctx, base.DBDriver, base.PostgresDSN, base.SQLitePath)
	if err != nil {
		return nil, err
	}
	defer closeDB()

	dialect, err := sqlstore.ParseDialect(base.DBDriver)
	if err != nil {
		return nil, err
	}
	store := sqlstore.New(conn, dialect, sqlstore.Options{Logger: s.log})

	patients, err := store.ListPatients(ctx, s.config.PatientLimit)
	if err != nil {
		return nil, err
	}
	doctors, err := store.ListDoctors(ctx)
	if err != nil {
		return nil, err
	}
	if len(patients) == 0 || len(doctors) == 0 {
		return nil, fmt.Errorf("no patients or doctors, run the seed command first")
	}

	pool := &DataPool{}
	for _, p := range patients {
		pool.Patients = append(pool.Patients, p.ID)
	}

	tok := s.token(api.RolePatient, pool.Patients[0])
	for i, d := range doctors {
		if i >= s.config.DoctorLimit || len(pool.Slots) >= s.config.HotSlots {
			break
		}
		var dates api.AvailableDatesResponse
		if _, err := s.call(ctx, http.MethodGet, fmt.Sprintf("/doctors/%d/available-dates", d.ID), tok, nil, &dates); err != nil {
			return nil, err
		}
		for _, date := range dates.Dates {
			if len(pool.Slots) >= s.config.HotSlots {
				break
			}
			var slots []bookable
			if _, err := s.call(ctx, http.MethodGet, fmt.Sprintf("/doctors/%d/slots?date=%s", d.ID, date), tok, nil, &slots); err != nil {
				return nil, err
			}
			for _, sl := range slots {
				if sl.StartTime.After(time.Now()) && len(pool.Slots) < s.config.HotSlots {
					pool.Slots = append(pool.Slots, sl)
				}
			}
		}
	}
	if len(pool.Slots) == 0 {
		return nil, fmt.Errorf("no open slots, run the seed slots command first")
	}
	return pool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.PaymentRatio:
				s.doBilling(ctx, rng)
			default:
				switch rng.Intn(3) {
				case 0:
					s.doListMine(ctx, rng)
				case 1:
					s.doBalance(ctx, rng)
				case 2:
					s.doTopUp(ctx, rng)
				}
			}
		}
	}
}

// doBooking books a random hot slot for a random patient. Most attempts
// lose the race once the slot is taken.
func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	sl := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	var appt api.AppointmentResponse
	status, err := s.call(ctx, http.MethodPost, "/appointments", s.token(api.RolePatient, patientID), sl, &appt)
	latency := time.Since(start)

	if err == nil && status == http.StatusCreated {
		s.pool.AddBooked(booked{AppointmentID: appt.ID, PatientID: appt.PatientID, DoctorID: appt.DoctorID})
	}
	s.metrics.Booking.Record(latency, err == nil && status == http.StatusCreated, isConflict(status))
}

// doBilling either bills a booked appointment or pays an open bill, so
// that several workers pay the same bill concurrently.
func (s *Simulator) doBilling(ctx context.Context, rng *rand.Rand) {
	if rng.Intn(2) == 0 {
		b, ok := s.pool.randomBooked(rng)
		if !ok {
			return
		}
		body := api.CreateProcessRequest{
			Name:   "Consultation",
			Amount: models.Cents(int64(rng.Intn(150)+1) * 100),
		}

		start := time.Now()
		var proc api.ProcessResponse
		status, err := s.call(ctx, http.MethodPost, fmt.Sprintf("/appointments/%d/processes", b.AppointmentID), s.token(api.RoleDoctor, b.DoctorID), body, &proc)
		latency := time.Since(start)

		if err == nil && status == http.StatusCreated {
			s.pool.AddBill(proc.ID, b.PatientID)
		}
		s.metrics.Process.Record(latency, err == nil && status == http.StatusCreated, isConflict(status))
		return
	}

	bill, ok := s.pool.randomBill(rng)
	if !ok {
		return
	}
	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, fmt.Sprintf("/processes/%d/pay", bill.ProcessID), s.token(api.RolePatient, bill.PatientID), nil, nil)
	s.metrics.Payment.Record(time.Since(start), err == nil && status == http.StatusOK, isConflict(status))
}

func (s *Simulator) doTopUp(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	body := api.TopUpRequest{Amount: models.Cents(int64(rng.Intn(100)+1) * 100)}

	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, "/patients/me/balance", s.token(api.RolePatient, patientID), body, nil)
	s.metrics.TopUp.Record(time.Since(start), err == nil && status == http.StatusOK, isConflict(status))
}

func (s *Simulator) doListMine(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	status, err := s.call(ctx, http.MethodGet, "/appointments", s.token(api.RolePatient, patientID), nil, nil)
	s.metrics.ListMine.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doBalance(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	var bal api.BalanceResponse
	status, err := s.call(ctx, http.MethodGet, "/patients/me/balance", s.token(api.RolePatient, patientID), nil, &bal)
	ok := err == nil && status == http.StatusOK
	if ok && bal.Balance < 0 {
		s.log.Error().Int64("patient_id", patientID).Str("balance", bal.Balance.String()).Msg("negative balance observed")
		ok = false
	}
	s.metrics.Balance.Record(time.Since(start), ok, false)
}

func (s *Simulator) token(role api.Role, id int64) string {
	key := fmt.Sprintf("%s:%d", role, id)
	if tok, ok := s.tokens.Load(key); ok {
		return tok.(string)
	}
	tok, err := api.IssueToken(s.config.JWTSecret, id, role, 24*time.Hour)
	if err != nil {
		s.log.Fatal().Err(err).Msg("issue token")
	}
	s.tokens.Store(key, tok)
	return tok
}

// call sends body as JSON and decodes a 2xx response into out.
func (s *Simulator) call(ctx context.Context, method, path, token string, body, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

// isConflict counts the expected losers of a race: taken slot, paid bill,
// short balance or lock contention.
func isConflict(status int) bool {
	switch status {
	case http.StatusConflict, http.StatusPaymentRequired, http.StatusServiceUnavailable:
		return true
	}
	return false
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Hot slots: %d, booked: %d\n", len(s.pool.Slots), len(s.pool.booked))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Create process", &s.metrics.Process)
	printOperationReport("Pay bill", &s.metrics.Payment)
	printOperationReport("Top up", &s.metrics.TopUp)
	printOperationReport("List my appointments", &s.metrics.ListMine)
	printOperationReport("Balance", &s.metrics.Balance)

	if int(atomic.LoadInt64(&s.metrics.Booking.Success)) > len(s.pool.Slots) {
		fmt.Println("WARNING: more bookings succeeded than there are slots")
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}
