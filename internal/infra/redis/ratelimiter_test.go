package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

// sleepRecorder stands in for the real sleep and remembers every requested wait.
type sleepRecorder struct {
	slept []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.slept = append(r.slept, d)
	return nil
}

// waitOnce calls Wait and reports how long it asked to sleep, zero for none.
func (r *sleepRecorder) waitOnce(t *testing.T, throttle *SendThrottle, sender string) (time.Duration, error) {
	t.Helper()

	before := len(r.slept)
	err := throttle.Wait(context.Background(), sender)
	if len(r.slept) > before {
		return r.slept[len(r.slept)-1], err
	}
	return 0, err
}

func TestSendThrottleWaitPacesSends(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_000, 0)
	rec := &sleepRecorder{}
	throttle, err := newSendThrottle(rdb, 2, func() time.Time { return now }, rec.sleep)
	if err != nil {
		t.Fatalf("newSendThrottle() error = %v", err)
	}

	steps := []struct {
		advance   time.Duration
		wantSleep time.Duration
	}{
		{wantSleep: 0},
		{wantSleep: 500 * time.Millisecond},
		{advance: 400 * time.Millisecond, wantSleep: 600 * time.Millisecond},
		{advance: 2 * time.Second, wantSleep: 0},
	}
	for i, step := range steps {
		now = now.Add(step.advance)
		got, err := rec.waitOnce(t, throttle, "whatsapp")
		if err != nil {
			t.Fatalf("Wait() #%d error = %v", i+1, err)
		}
		if got != step.wantSleep {
			t.Fatalf("Wait() #%d slept %s, want %s", i+1, got, step.wantSleep)
		}
	}
}

func TestSendThrottleKeysAreIndependent(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_100, 0)
	rec := &sleepRecorder{}
	throttle, err := newSendThrottle(rdb, 1, func() time.Time { return now }, rec.sleep)
	if err != nil {
		t.Fatalf("newSendThrottle() error = %v", err)
	}

	steps := []struct {
		sender    string
		wantSleep time.Duration
	}{
		{sender: "whatsapp"},
		{sender: " WhatsApp-Verify "},
		{sender: "WHATSAPP", wantSleep: time.Second},
	}
	for _, step := range steps {
		got, err := rec.waitOnce(t, throttle, step.sender)
		if err != nil {
			t.Fatalf("Wait(%q) error = %v", step.sender, err)
		}
		if got != step.wantSleep {
			t.Fatalf("Wait(%q) slept %s, want %s", step.sender, got, step.wantSleep)
		}
	}
}

func TestSendThrottleRejectsEmptySender(t *testing.T) {
	t.Parallel()

	throttle, err := newSendThrottle(newTestRedisClient(t), 1, time.Now, sleepWithContext)
	if err != nil {
		t.Fatalf("newSendThrottle() error = %v", err)
	}

	if err := throttle.Wait(context.Background(), "  "); err == nil {
		t.Fatal("Wait() expected error for empty sender")
	}
}

func TestSendThrottleWaitSleepsUntilBookedSlot(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_200, 0)
	var slept []time.Duration
	throttle, err := newSendThrottle(
		rdb,
		4,
		func() time.Time { return now },
		func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	)
	if err != nil {
		t.Fatalf("newSendThrottle() error = %v", err)
	}

	// Three back-to-back callers book consecutive slots 250ms apart.
	for range 3 {
		if err := throttle.Wait(context.Background(), "whatsapp"); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}

	want := []time.Duration{250 * time.Millisecond, 500 * time.Millisecond}
	if len(slept) != len(want) {
		t.Fatalf("sleeps = %v, want %v", slept, want)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("sleep #%d = %s, want %s", i+1, slept[i], want[i])
		}
	}
}

func TestSendThrottleWaitRefusesSlotPastDeadline(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	// The throttle clock runs well ahead of the wall clock, so the deadline
	// budget must be measured against it rather than against time.Now.
	now := time.Now().Add(time.Hour)
	rec := &sleepRecorder{}
	throttle, err := newSendThrottle(rdb, 1, func() time.Time { return now }, rec.sleep)
	if err != nil {
		t.Fatalf("newSendThrottle() error = %v", err)
	}

	if err := throttle.Wait(context.Background(), "whatsapp"); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	ctx, cancel := context.WithDeadline(context.Background(), now.Add(25*time.Millisecond))
	defer cancel()

	err = throttle.Wait(ctx, "whatsapp")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
	if len(rec.slept) != 0 {
		t.Fatalf("sleeps = %v, want none for a refused slot", rec.slept)
	}

	// The refused caller must not have pushed the next slot further out.
	now = now.Add(time.Second)
	got, err := rec.waitOnce(t, throttle, "whatsapp")
	if err != nil {
		t.Fatalf("Wait() after interval error = %v", err)
	}
	if got != 0 {
		t.Fatalf("Wait() after interval slept %s, want the slot to be open", got)
	}
}

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb
}
