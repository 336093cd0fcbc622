package monitoring

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	checkinDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkin_decisions_total",
			Help: "Admission decisions per event, outcome and reason",
		},
		[]string{"event_id", "outcome", "reason"},
	)

	overrideGrants = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkin_override_grants_total",
			Help: "Override grant operations per event and outcome",
		},
		[]string{"event_id", "step", "outcome"},
	)

	lockContention = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkin_lock_contention_total",
			Help: "Admission attempts denied because another scanner held the lock",
		},
		[]string{"event_id"},
	)

	activeLocks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "checkin_active_locks_total",
			Help: "Currently held admission locks across all events",
		},
	)

	trustScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "checkin_trust_score",
			Help:    "Trust scores observed at lookup time",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)
)

// TrackDecision records one pipeline outcome. reason is empty for admits.
func TrackDecision(eventID, outcome, reason string) {
	checkinDecisions.WithLabelValues(eventID, outcome, reason).Inc()
}

// TrackOverride records one override protocol step outcome.
func TrackOverride(eventID, step, outcome string) {
	overrideGrants.WithLabelValues(eventID, step, outcome).Inc()
}

// TrackLockContention records a denied lock acquisition.
func TrackLockContention(eventID string) {
	lockContention.WithLabelValues(eventID).Inc()
}

// ObserveTrustScore records a trust score computed during lookup.
func ObserveTrustScore(score int) {
	trustScores.Observe(float64(score))
}

// Monitor periodically sweeps Redis for held admission locks and exports
// the count.
type Monitor struct {
	redis    *redis.Client
	interval time.Duration
}

func NewMonitor(redisClient *redis.Client, interval time.Duration) *Monitor {
	return &Monitor{redis: redisClient, interval: interval}
}

// Run blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.collectLockMetrics(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) collectLockMetrics(ctx context.Context) {
	keys, err := m.redis.Keys(ctx, "checkin:lock:*").Result()
	if err != nil {
		slog.Error("collect lock metrics", "error", err)
		return
	}
	activeLocks.Set(float64(len(keys)))
}
