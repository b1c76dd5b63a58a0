package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthdesk/clinic-scheduling/internal/config"
	"github.com/healthdesk/clinic-scheduling/internal/db"
)

// The simulator hammers the booking endpoint with many workers chasing the
// same few days of slots, then asks Postgres whether any two scheduled
// appointments for one doctor ended up overlapping. The answer must be zero.

type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	DoctorLimit int
	DaysAhead   int
	PostgresDSN string
}

type DataPool struct {
	Doctors  []uuid.UUID
	Patients []uuid.UUID
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
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

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))

	idx := func(p int) int {
		i := len(latencies) * p / 100
		if i >= len(latencies) {
			i = len(latencies) - 1
		}
		return i
	}
	return avg, latencies[idx(50)], latencies[idx(95)]
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	slots   OperationMetrics
	booking OperationMetrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d doctors, %d patients", len(dataPool.Doctors), len(dataPool.Patients))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	sim.Run()
	sim.PrintReport()

	if err := verifyNoOverlaps(context.Background(), pgPool); err != nil {
		log.Fatalf("verification failed: %v", err)
	}
	log.Println("verification passed: no overlapping scheduled appointments")
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	return SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:    getDuration("SIM_DURATION", 30*time.Second),
		Workers:     getInt("SIM_WORKERS", 20),
		DoctorLimit: getInt("SIM_DOCTOR_LIMIT", 5),
		DaysAhead:   getInt("SIM_DAYS_AHEAD", 3),
		PostgresDSN: baseCfg.PostgresDSN,
	}
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM doctors LIMIT $1`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Doctors = append(dataPool.Doctors, id)
	}

	rows, err = pool.Query(ctx, `SELECT id FROM patients LIMIT 1000`)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}

	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded, run cmd/seed first")
	}
	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run cmd/seed first")
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

type slotResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
		patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
		date := time.Now().AddDate(0, 0, 1+rng.Intn(s.config.DaysAhead))

		slots, ok := s.fetchSlots(ctx, doctorID, date)
		if !ok || len(slots) == 0 {
			continue
		}

		// Everyone grabs from the front few slots to force contention.
		pick := slots[rng.Intn(min(3, len(slots)))]
		s.attemptBooking(ctx, doctorID, patientID, pick)
	}
}

func (s *Simulator) fetchSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]slotResponse, bool) {
	url := fmt.Sprintf("%s/appointments/available_slots?doctor_id=%s&date=%s",
		s.config.APIBaseURL, doctorID, date.Format("2006-01-02"))

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.slots.Record(time.Since(start), false, false)
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		s.slots.Record(time.Since(start), false, false)
		return nil, false
	}

	var slots []slotResponse
	if err := json.NewDecoder(resp.Body).Decode(&slots); err != nil {
		s.slots.Record(time.Since(start), false, false)
		return nil, false
	}

	s.slots.Record(time.Since(start), true, false)
	return slots, true
}

func (s *Simulator) attemptBooking(ctx context.Context, doctorID, patientID uuid.UUID, slot slotResponse) {
	body, _ := json.Marshal(map[string]any{
		"doctor_id":        doctorID.String(),
		"patient_id":       patientID.String(),
		"scheduled_time":   slot.Start.Format(time.RFC3339),
		"duration_minutes": int(slot.End.Sub(slot.Start).Minutes()),
	})

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.booking.Record(time.Since(start), false, false)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusCreated:
		s.booking.Record(time.Since(start), true, false)
	case http.StatusConflict:
		s.booking.Record(time.Since(start), false, true)
	default:
		s.booking.Record(time.Since(start), false, false)
	}
}

func (s *Simulator) PrintReport() {
	report := func(name string, om *OperationMetrics) {
		avg, p50, p95 := om.Stats()
		log.Printf("%-12s total=%d success=%d conflict=%d error=%d avg=%s p50=%s p95=%s",
			name, atomic.LoadInt64(&om.Total), atomic.LoadInt64(&om.Success),
			atomic.LoadInt64(&om.Conflict), atomic.LoadInt64(&om.Error), avg, p50, p95)
	}
	report("slot-fetch", &s.slots)
	report("booking", &s.booking)
}

// verifyNoOverlaps counts pairs of scheduled appointments for the same
// doctor whose intervals intersect. Any nonzero count means the engine let
// a double booking through.
func verifyNoOverlaps(ctx context.Context, pool *pgxpool.Pool) error {
	var pairs int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b
		  ON a.doctor_id = b.doctor_id
		 AND a.id < b.id
		 AND a.status = 'scheduled'
		 AND b.status = 'scheduled'
		 AND a.scheduled_start < b.scheduled_start + make_interval(mins => b.duration_minutes)
		 AND b.scheduled_start < a.scheduled_start + make_interval(mins => a.duration_minutes)
	`).Scan(&pairs)
	if err != nil {
		return fmt.Errorf("overlap query: %w", err)
	}
	if pairs > 0 {
		return fmt.Errorf("found %d overlapping scheduled appointment pairs", pairs)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
