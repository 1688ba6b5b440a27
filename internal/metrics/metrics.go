// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal 记录 HTTP 请求的总数
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of http requests handled by the service.",
		},
		[]string{"path", "method", "code"}, // 按路径、方法、状态码分类
	)

	// LockAcquireTotal counts AcquireWithRetry outcomes (success/timeout/interrupted).
	LockAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "academy_lock_acquire_total",
			Help: "Total number of lock acquisition calls by outcome.",
		},
		[]string{"status"},
	)

	LockAcquireDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "academy_lock_acquire_duration_seconds",
			Help:    "Time spent in AcquireWithRetry, including backoff.",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// LockAttemptsTotal counts single store round-trips (acquired/held/error).
	LockAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "academy_lock_attempts_total",
			Help: "Total number of individual acquisition attempts by result.",
		},
		[]string{"result"},
	)

	LockReleaseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "academy_lock_release_total",
			Help: "Total number of lock releases by outcome.",
		},
		[]string{"status"},
	)

	LockExtendTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "academy_lock_extend_total",
			Help: "Total number of lock extensions by outcome.",
		},
		[]string{"status"},
	)

	// LocksActive 标记当前进程持有的锁数量
	LocksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "academy_locks_active",
			Help: "Number of locks currently held by this process.",
		},
	)

	WatchedAcquisitions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "academy_lock_watched_acquisitions",
			Help: "Recorded acquisitions of a watched lock key.",
		},
		[]string{"key"},
	)

	WatchedTimeouts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "academy_lock_watched_timeouts",
			Help: "Recorded acquisition timeouts of a watched lock key.",
		},
		[]string{"key"},
	)
)

// Outcome label values.
const (
	StatusSuccess     = "success"
	StatusTimeout     = "timeout"
	StatusInterrupted = "interrupted"

	ResultAcquired = "acquired"
	ResultHeld     = "held"
	ResultError    = "error"

	StatusReleased = "released"
	StatusExtended = "extended"
	StatusNotOwner = "not_owner"
	StatusError    = "error"
)
