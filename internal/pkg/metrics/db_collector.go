package metrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolStatter is satisfied by *pgxpool.Pool.
type PoolStatter interface {
	Stat() *pgxpool.Stat
}

// RecordDBPoolMetrics updates database pool metrics.
func RecordDBPoolMetrics(pool PoolStatter) {
	stats := pool.Stat()

	DBPoolConnections.WithLabelValues("in_use").Set(float64(stats.AcquiredConns()))
	DBPoolConnections.WithLabelValues("idle").Set(float64(stats.IdleConns()))
	DBPoolConnections.WithLabelValues("constructing").Set(float64(stats.ConstructingConns()))
	DBPoolConnections.WithLabelValues("total").Set(float64(stats.TotalConns()))
	DBPoolConnections.WithLabelValues("max").Set(float64(stats.MaxConns()))

	DBPoolAcquires.Set(float64(stats.AcquireCount()))
	DBPoolEmptyAcquires.Set(float64(stats.EmptyAcquireCount()))
	DBPoolAcquireWait.Set(stats.AcquireDuration().Seconds())
}

// Poll calls collect immediately and then every interval until ctx is done.
func Poll(ctx context.Context, interval time.Duration, collect func(context.Context)) {
	collect(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			collect(ctx)
		case <-ctx.Done():
			return
		}
	}
}
