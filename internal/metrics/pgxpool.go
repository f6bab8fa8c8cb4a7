package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStater is satisfied by *pgxpool.Pool.
type PoolStater interface {
	Stat() *pgxpool.Stat
}

// RegisterPgxPoolMetrics exposes connection pool statistics of the named
// pool as gauges and counters on reg.
func RegisterPgxPoolMetrics(reg prometheus.Registerer, name string, pool PoolStater) {
	labels := prometheus.Labels{"pool": name}
	gauge := func(metric, help string, value func(*pgxpool.Stat) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "fleet_pgxpool_" + metric, Help: help, ConstLabels: labels,
		}, func() float64 { return value(pool.Stat()) })
	}
	counter := func(metric, help string, value func(*pgxpool.Stat) float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "fleet_pgxpool_" + metric, Help: help, ConstLabels: labels,
		}, func() float64 { return value(pool.Stat()) })
	}

	reg.MustRegister(
		gauge("acquired_conns", "Connections currently acquired from the pool",
			func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }),
		gauge("idle_conns", "Idle connections in the pool",
			func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }),
		gauge("max_conns", "Maximum connections the pool may open",
			func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) }),
		counter("empty_acquire_total", "Acquires that had to wait for a connection",
			func(s *pgxpool.Stat) float64 { return float64(s.EmptyAcquireCount()) }),
		counter("acquire_wait_seconds_total", "Time spent waiting for a connection",
			func(s *pgxpool.Stat) float64 { return s.AcquireDuration().Seconds() }),
	)
}
