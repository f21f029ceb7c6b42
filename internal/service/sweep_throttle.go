package service

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lifecycle/internal/clock"
	"github.com/stemsi/exstem-lifecycle/internal/config"
)

// Sweeper runs a full lifecycle sweep. *Reconciler implements it.
type Sweeper interface {
	SweepAll(ctx context.Context, trigger Trigger) (SweepReport, error)
}

// claimSweep refreshes the marker and returns 1 when it is missing, unreadable
// or at least ARGV[2] seconds older than ARGV[1]. Otherwise it returns 0.
var claimSweep = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
local last = raw and tonumber(raw)
if last and tonumber(ARGV[1]) - last < tonumber(ARGV[2]) then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// SweepThrottle bounds request-triggered sweeps to one per interval using a
// Redis marker holding the unix time of the last run. Checking and refreshing
// the marker is a single script call, so concurrent requests cannot both
// claim the same interval. Losing the marker costs at most an extra sweep.
type SweepThrottle struct {
	rdb      *redis.Client
	sweeper  Sweeper
	clock    *clock.Clock
	interval time.Duration
	ttl      time.Duration
	log      zerolog.Logger
}

// NewSweepThrottle creates a new SweepThrottle.
func NewSweepThrottle(rdb *redis.Client, sweeper Sweeper, clk *clock.Clock, interval, ttl time.Duration, log zerolog.Logger) *SweepThrottle {
	return &SweepThrottle{
		rdb:      rdb,
		sweeper:  sweeper,
		clock:    clk,
		interval: interval,
		ttl:      ttl,
		log:      log.With().Str("component", "sweep_throttle").Logger(),
	}
}

// MaybeSweep runs a sweep when the marker is absent or older than the
// interval, and reports whether it did. Errors are logged, never returned.
func (t *SweepThrottle) MaybeSweep(ctx context.Context) bool {
	key := config.CacheKey.SweepMarkerKey()
	now := t.clock.Now()

	claimed, err := claimSweep.Run(ctx, t.rdb, []string{key},
		now.Unix(),
		strconv.FormatFloat(t.interval.Seconds(), 'f', -1, 64),
		t.ttl.Milliseconds(),
	).Int()
	if err != nil {
		t.log.Warn().Err(err).Msg("Failed to claim sweep marker, skipping sweep")
		return false
	}
	if claimed == 0 {
		return false
	}

	if _, err := t.sweeper.SweepAll(ctx, TriggerSweep); err != nil {
		t.log.Warn().Err(err).Msg("Throttled sweep finished with errors")
	}
	return true
}
