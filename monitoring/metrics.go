package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	reservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_reservations_total",
			Help: "Reservation attempts by unit kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	settlements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_commits_total",
			Help: "Settlement commits by outcome",
		},
		[]string{"outcome"},
	)

	callbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_callbacks_total",
			Help: "Payment callbacks by outcome",
		},
		[]string{"outcome"},
	)

	stuckSettlements = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "settlement_stuck_total",
			Help: "Paid transactions waiting on a ledger commit retry",
		},
	)

	gatewayCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlement_gateway_call_duration_seconds",
			Help:    "Duration of NetPay gateway calls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation", "status"},
	)

	pendingSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "settlement_pending_sessions_total",
			Help: "Open payment sessions tracked in Redis",
		},
	)
)

func TrackReservation(kind, outcome string) {
	reservations.WithLabelValues(kind, outcome).Inc()
}

func TrackSettlement(outcome string) {
	settlements.WithLabelValues(outcome).Inc()
}

func TrackCallback(outcome string) {
	callbacks.WithLabelValues(outcome).Inc()
}

func SetStuckSettlements(n int) {
	stuckSettlements.Set(float64(n))
}

func ObserveGatewayCall(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	gatewayCallDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}

// Collector periodically samples Redis-held session state.
type Collector struct {
	redis *redis.Client
}

func NewCollector(redisClient *redis.Client) *Collector {
	return &Collector{redis: redisClient}
}

// Run samples until the context is cancelled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collectSessionMetrics(ctx)
		}
	}
}

func (c *Collector) collectSessionMetrics(ctx context.Context) {
	if c.redis == nil {
		return
	}

	var count int
	iter := c.redis.Scan(ctx, 0, "payment:session:*", 500).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return
	}
	pendingSessions.Set(float64(count))
}
