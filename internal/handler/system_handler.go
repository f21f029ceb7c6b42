package handler

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lifecycle/internal/clock"
	"github.com/stemsi/exstem-lifecycle/internal/config"
	"github.com/stemsi/exstem-lifecycle/internal/response"
)

const statusTimeout = 2 * time.Second

// Pinger reports whether a backing store is reachable. *pgxpool.Pool
// implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler reports process and dependency health.
type SystemHandler struct {
	db        Pinger
	rdb       *redis.Client
	clock     *clock.Clock
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(db Pinger, rdb *redis.Client, clk *clock.Clock, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		db:        db,
		rdb:       rdb,
		clock:     clk,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type dependencyStatus struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type sweepStatus struct {
	// LastRun is the civil time of the last request-triggered sweep, empty
	// when the marker is absent.
	LastRun    string `json:"last_run,omitempty"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`
}

type systemStatus struct {
	Now        string           `json:"now"`
	Timezone   string           `json:"timezone"`
	Uptime     string           `json:"uptime"`
	Goroutines int              `json:"goroutines"`
	GoVersion  string           `json:"go_version"`
	Postgres   dependencyStatus `json:"postgres"`
	Redis      dependencyStatus `json:"redis"`
	Sweep      sweepStatus      `json:"sweep"`
}

// Health godoc
// GET /health
// Liveness only; dependencies are not checked.
func (h *SystemHandler) Health(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"status": "ok"})
}

// Status godoc
// GET /api/v1/admin/system/status
// Returns 503 when Postgres or Redis is unreachable.
func (h *SystemHandler) Status(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), statusTimeout)
	defer cancel()

	s := systemStatus{
		Now:        h.clock.NowString(),
		Timezone:   h.clock.Location().String(),
		Uptime:     time.Since(h.startTime).Truncate(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		GoVersion:  runtime.Version(),
		Postgres:   toStatus(h.db.Ping(ctx)),
	}
	s.Redis, s.Sweep = h.redisStatus(ctx)

	status := http.StatusOK
	if !s.Postgres.OK || !s.Redis.OK {
		h.log.Warn().
			Str("postgres", s.Postgres.Error).
			Str("redis", s.Redis.Error).
			Msg("Dependency check failed")
		status = http.StatusServiceUnavailable
	}
	response.Success(c, status, s)
}

// redisStatus pings Redis and reads the sweep marker in a single round trip.
func (h *SystemHandler) redisStatus(ctx context.Context) (dependencyStatus, sweepStatus) {
	key := config.CacheKey.SweepMarkerKey()

	pipe := h.rdb.Pipeline()
	pingCmd := pipe.Ping(ctx)
	markerCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.TTL(ctx, key)
	_, _ = pipe.Exec(ctx)

	if err := pingCmd.Err(); err != nil {
		return toStatus(err), sweepStatus{}
	}

	var sweep sweepStatus
	raw, err := markerCmd.Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return toStatus(err), sweep
	}
	if last, perr := strconv.ParseInt(raw, 10, 64); err == nil && perr == nil {
		sweep.LastRun = h.clock.Format(time.Unix(last, 0))
		if ttl, terr := ttlCmd.Result(); terr == nil && ttl > 0 {
			sweep.TTLSeconds = int64(ttl / time.Second)
		}
	}
	return dependencyStatus{OK: true}, sweep
}

func toStatus(err error) dependencyStatus {
	if err != nil {
		return dependencyStatus{Error: err.Error()}
	}
	return dependencyStatus{OK: true}
}
