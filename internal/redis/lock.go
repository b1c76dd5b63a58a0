package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("doctor-day lock not acquired")
)

// Locker guards the booking critical section. Bookings for the same doctor
// and calendar date serialize behind one lock; different doctors or dates
// never contend.
type Locker interface {
	WithDoctorDayLock(ctx context.Context, doctorID uuid.UUID, date time.Time, fn func(ctx context.Context) error) error
}

type redisDoctorDayLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDoctorDayLocker creates a locker keyed per doctor and date.
func NewRedisDoctorDayLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisDoctorDayLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisDoctorDayLocker) WithDoctorDayLock(ctx context.Context, doctorID uuid.UUID, date time.Time, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:doctor:%s:%s", doctorID.String(), date.Format("2006-01-02"))
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire doctor-day lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisDoctorDayLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release doctor-day lock: %w", err)
	}
	return nil
}
