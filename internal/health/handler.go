package health

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"bullion-ledger/internal/httputil"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Handler struct {
	pool        *pgxpool.Pool
	rdb         *redis.Client
	startedAt   time.Time
	mode        string
	httpAddr    string
	internalTok string
}

func NewHandler(pool *pgxpool.Pool, rdb *redis.Client, startedAt time.Time, mode, httpAddr, internalToken string) *Handler {
	start := startedAt.UTC()
	if start.IsZero() {
		start = time.Now().UTC()
	}
	return &Handler{
		pool:        pool,
		rdb:         rdb,
		startedAt:   start,
		mode:        strings.TrimSpace(mode),
		httpAddr:    strings.TrimSpace(httpAddr),
		internalTok: strings.TrimSpace(internalToken),
	}
}

type depStat struct {
	Reachable bool   `json:"reachable"`
	PingMs    int64  `json:"ping_ms"`
	Error     string `json:"error,omitempty"`
	CheckedAt string `json:"checked_at"`
}

type liveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	UptimeSec int64  `json:"uptime_sec"`
	Uptime    string `json:"uptime"`
}

type readinessResponse struct {
	Status    string  `json:"status"`
	Timestamp string  `json:"timestamp"`
	UptimeSec int64   `json:"uptime_sec"`
	Uptime    string  `json:"uptime"`
	Database  depStat `json:"database"`
	Redis     depStat `json:"redis"`
}

type poolStats struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	MaxConns      int32 `json:"max_conns"`
	AcquireCount  int64 `json:"acquire_count"`
}

type fullResponse struct {
	Status     string    `json:"status"`
	Timestamp  string    `json:"timestamp"`
	UptimeSec  int64     `json:"uptime_sec"`
	Uptime     string    `json:"uptime"`
	HTTPAddr   string    `json:"http_addr"`
	Mode       string    `json:"mode"`
	PID        int       `json:"pid"`
	GoVersion  string    `json:"go_version"`
	Goroutines int       `json:"goroutines"`
	Database   depStat   `json:"database"`
	Redis      depStat   `json:"redis"`
	Pool       poolStats `json:"pool"`
}

func (h *Handler) uptime(now time.Time) time.Duration {
	uptime := now.Sub(h.startedAt)
	if uptime < 0 {
		return 0
	}
	return uptime
}

func secureTokenEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (h *Handler) requireInternalToken(w http.ResponseWriter, r *http.Request) bool {
	if h.internalTok == "" {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{Error: "internal token is not configured"})
		return false
	}
	provided := strings.TrimSpace(r.Header.Get("X-Internal-Token"))
	if !secureTokenEqual(provided, h.internalTok) {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid internal token"})
		return false
	}
	return true
}

func (h *Handler) checkDB(ctx context.Context) depStat {
	if h.pool == nil {
		return depStat{Error: "pool is not configured", CheckedAt: time.Now().UTC().Format(time.RFC3339)}
	}
	start := time.Now()
	pingCtx, cancel := context.WithTimeout(ctx, time.Second)
	err := h.pool.Ping(pingCtx)
	cancel()
	stat := depStat{
		PingMs:    time.Since(start).Milliseconds(),
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		stat.Error = err.Error()
		return stat
	}
	stat.Reachable = true
	return stat
}

func (h *Handler) checkRedis(ctx context.Context) depStat {
	if h.rdb == nil {
		return depStat{Error: "redis is not configured", CheckedAt: time.Now().UTC().Format(time.RFC3339)}
	}
	start := time.Now()
	pingCtx, cancel := context.WithTimeout(ctx, time.Second)
	err := h.rdb.Ping(pingCtx).Err()
	cancel()
	stat := depStat{
		PingMs:    time.Since(start).Milliseconds(),
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		stat.Error = err.Error()
		return stat
	}
	stat.Reachable = true
	return stat
}

// Live does not touch any dependency.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	uptime := h.uptime(now)
	httputil.WriteJSON(w, http.StatusOK, liveResponse{
		Status:    "ok",
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: int64(uptime.Seconds()),
		Uptime:    uptime.String(),
	})
}

// Ready pings both stores. Without Redis the account locks are gone,
// so a Redis outage makes the service not ready, same as the database.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	uptime := h.uptime(now)
	db := h.checkDB(r.Context())
	rds := h.checkRedis(r.Context())
	status := "ok"
	httpStatus := http.StatusOK
	if !db.Reachable || !rds.Reachable {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, httpStatus, readinessResponse{
		Status:    status,
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: int64(uptime.Seconds()),
		Uptime:    uptime.String(),
		Database:  db,
		Redis:     rds,
	})
}

// Full returns process diagnostics and is protected by X-Internal-Token.
func (h *Handler) Full(w http.ResponseWriter, r *http.Request) {
	if !h.requireInternalToken(w, r) {
		return
	}
	now := time.Now().UTC()
	uptime := h.uptime(now)
	db := h.checkDB(r.Context())
	rds := h.checkRedis(r.Context())

	pool := poolStats{}
	if h.pool != nil {
		stat := h.pool.Stat()
		pool = poolStats{
			TotalConns:    stat.TotalConns(),
			IdleConns:     stat.IdleConns(),
			AcquiredConns: stat.AcquiredConns(),
			MaxConns:      stat.MaxConns(),
			AcquireCount:  stat.AcquireCount(),
		}
	}

	status := "ok"
	httpStatus := http.StatusOK
	if !db.Reachable || !rds.Reachable {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, httpStatus, fullResponse{
		Status:     status,
		Timestamp:  now.Format(time.RFC3339),
		UptimeSec:  int64(uptime.Seconds()),
		Uptime:     uptime.String(),
		HTTPAddr:   h.httpAddr,
		Mode:       h.mode,
		PID:        os.Getpid(),
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
		Database:   db,
		Redis:      rds,
		Pool:       pool,
	})
}

// Metrics returns basic Prometheus-compatible metrics and is protected
// by X-Internal-Token.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	if !h.requireInternalToken(w, r) {
		return
	}
	now := time.Now().UTC()
	uptime := h.uptime(now)
	db := h.checkDB(r.Context())
	rds := h.checkRedis(r.Context())

	dbUp, redisUp := 0, 0
	if db.Reachable {
		dbUp = 1
	}
	if rds.Reachable {
		redisUp = 1
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "# HELP bullion_up Service process is running.\n")
	_, _ = fmt.Fprintf(w, "# TYPE bullion_up gauge\n")
	_, _ = fmt.Fprintf(w, "bullion_up 1\n")
	_, _ = fmt.Fprintf(w, "bullion_uptime_seconds %d\n", int64(uptime.Seconds()))
	_, _ = fmt.Fprintf(w, "bullion_db_up %d\n", dbUp)
	_, _ = fmt.Fprintf(w, "bullion_db_ping_milliseconds %d\n", db.PingMs)
	_, _ = fmt.Fprintf(w, "bullion_redis_up %d\n", redisUp)
	_, _ = fmt.Fprintf(w, "bullion_redis_ping_milliseconds %d\n", rds.PingMs)
	_, _ = fmt.Fprintf(w, "bullion_go_goroutines %d\n", runtime.NumGoroutine())
	_, _ = fmt.Fprintf(w, "bullion_go_mem_alloc_bytes %d\n", mem.Alloc)
	_, _ = fmt.Fprintf(w, "bullion_go_gc_count %d\n", mem.NumGC)
	if h.pool != nil {
		stat := h.pool.Stat()
		_, _ = fmt.Fprintf(w, "bullion_db_pool_total_conns %d\n", stat.TotalConns())
		_, _ = fmt.Fprintf(w, "bullion_db_pool_idle_conns %d\n", stat.IdleConns())
		_, _ = fmt.Fprintf(w, "bullion_db_pool_acquired_conns %d\n", stat.AcquiredConns())
	}
}
