package main

import (
	"context"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthdesk/clinic-scheduling/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	doctorIDs, err := seedDoctors(context.Background(), pool, 40)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedWeeklyRules(context.Background(), pool, doctorIDs); err != nil {
		log.Fatalf("seed weekly rules: %v", err)
	}
	if err := seedExceptions(context.Background(), pool, doctorIDs); err != nil {
		log.Fatalf("seed exceptions: %v", err)
	}

	log.Println("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors", count)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		specialty := specialties[rand.Intn(len(specialties))]

		_, err := pool.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, "Dr. "+gofakeit.Name(), specialty)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	for i := 0; i < count; i++ {
		email := gofakeit.Email()
		_, err := pool.Exec(ctx, `
			INSERT INTO patients (id, name, email, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, uuid.New(), gofakeit.Name(), email)
		if err != nil {
			return err
		}
	}

	return nil
}

// seedWeeklyRules gives every doctor a Monday-Friday pattern: most get a
// straight 9-17 block, the rest a split morning/afternoon day.
func seedWeeklyRules(ctx context.Context, pool *pgxpool.Pool, doctorIDs []uuid.UUID) error {
	log.Printf("seeding weekly rules for %d doctors", len(doctorIDs))

	for _, doctorID := range doctorIDs {
		split := rand.Intn(100) < 30

		for day := 1; day <= 5; day++ { // Monday..Friday
			blocks := [][2]int{{9 * 60, 17 * 60}}
			if split {
				blocks = [][2]int{{9 * 60, 12 * 60}, {14 * 60, 18 * 60}}
			}
			for _, b := range blocks {
				_, err := pool.Exec(ctx, `
					INSERT INTO weekly_rules (id, doctor_id, day_of_week, start_minute, end_minute, available, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, true, now(), now())
				`, uuid.New(), doctorID, day, b[0], b[1])
				if err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// seedExceptions blocks a random upcoming weekday for roughly a quarter of
// the doctors, the way vacation days land in practice.
func seedExceptions(ctx context.Context, pool *pgxpool.Pool, doctorIDs []uuid.UUID) error {
	count := 0
	for _, doctorID := range doctorIDs {
		if rand.Intn(100) >= 25 {
			continue
		}

		date := time.Now().AddDate(0, 0, 1+rand.Intn(14))
		for date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
			date = date.AddDate(0, 0, 1)
		}

		_, err := pool.Exec(ctx, `
			INSERT INTO date_exceptions (id, doctor_id, date, available, start_minute, end_minute, created_at, updated_at)
			VALUES ($1, $2, $3, false, NULL, NULL, now(), now())
			ON CONFLICT (doctor_id, date) DO NOTHING
		`, uuid.New(), doctorID, date.Format("2006-01-02"))
		if err != nil {
			return err
		}
		count++
	}

	log.Printf("seeded %d blocked dates", count)
	return nil
}
