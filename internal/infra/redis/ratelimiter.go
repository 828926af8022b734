package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/newswire-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultSendsPerSec = 20
	sendSlotKeyPrefix  = "sendslot"
	unboundedWait      = -1
)

// reserveSlotScript paces sends at one per interval. The key holds the unix ms
// at which the next slot opens. A slot is booked only when its wait fits in
// ARGV[3] (or ARGV[3] is -1); the script returns that wait in ms, or -1 when
// nothing was booked.
var reserveSlotScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local maxWait = tonumber(ARGV[3])

local nextFree = tonumber(redis.call("GET", KEYS[1]) or "0")
if nextFree < now then
  nextFree = now
end

local wait = nextFree - now
if maxWait >= 0 and wait > maxWait then
  return -1
end

redis.call("SET", KEYS[1], nextFree + interval, "PX", wait + interval)
return wait
`)

var _ ratelimit.Throttle = (*SendThrottle)(nil)

// SendThrottle spaces outbound messages of a sender key evenly, shared by every replica.
type SendThrottle struct {
	client   *goredis.Client
	interval time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewSendThrottle(client *goredis.Client, sendsPerSec int) (*SendThrottle, error) {
	return newSendThrottle(client, sendsPerSec, time.Now, sleepWithContext)
}

func newSendThrottle(
	client *goredis.Client,
	sendsPerSec int,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*SendThrottle, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if sendsPerSec <= 0 {
		sendsPerSec = defaultSendsPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &SendThrottle{
		client:   client,
		interval: max(time.Second/time.Duration(sendsPerSec), time.Millisecond),
		now:      nowFn,
		sleep:    sleepFn,
	}, nil
}

// Wait books the next slot and sleeps until it opens. It refuses to book a
// slot that opens after the ctx deadline.
func (s *SendThrottle) Wait(ctx context.Context, sender string) error {
	maxWait := time.Duration(unboundedWait)
	if deadline, ok := ctx.Deadline(); ok {
		maxWait = max(deadline.Sub(s.now()), 0)
	}

	wait, err := s.reserve(ctx, sender, maxWait)
	if err != nil {
		return err
	}
	if wait < 0 {
		return fmt.Errorf("next send slot opens after deadline: %w", context.DeadlineExceeded)
	}
	if wait == 0 {
		return ctx.Err()
	}
	return s.sleep(ctx, wait)
}

func (s *SendThrottle) reserve(ctx context.Context, sender string, maxWait time.Duration) (time.Duration, error) {
	if s == nil || s.client == nil {
		return 0, fmt.Errorf("send throttle is not initialized")
	}
	key := strings.ToLower(strings.TrimSpace(sender))
	if key == "" {
		return 0, fmt.Errorf("sender is required")
	}

	maxWaitMs := int64(unboundedWait)
	if maxWait >= 0 {
		maxWaitMs = maxWait.Milliseconds()
	}

	waitMs, err := reserveSlotScript.Run(ctx, s.client,
		[]string{sendSlotKeyPrefix + ":" + key},
		s.now().UnixMilli(), s.interval.Milliseconds(), maxWaitMs,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to reserve send slot: %w", err)
	}
	if waitMs < 0 {
		return -1, nil
	}
	return time.Duration(waitMs) * time.Millisecond, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
