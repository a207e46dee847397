// Package metrics define las métricas Prometheus del servicio. Vive en un
// paquete propio para que ceremony, session y http las usen sin ciclos.
package metrics

import (
	"net/http"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Resultados usados como label "result".
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

var (
	CeremonyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "passgate_ceremony_total",
		Help: "Ceremonias WebAuthn por tipo, fase y resultado",
	}, []string{"kind", "phase", "result"})

	CounterRollbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "passgate_counter_rollbacks_total",
		Help: "Asserciones rechazadas por retroceso del sign counter",
	})

	InviteRedemptions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "passgate_invite_redemptions_total",
		Help: "Canjes de invitación por resultado",
	}, []string{"result"})

	SessionsIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "passgate_sessions_issued_total",
		Help: "Sesiones emitidas",
	})

	SessionValidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "passgate_session_validations_total",
		Help: "Validaciones de sesión por resultado",
	}, []string{"result"})

	SessionsSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "passgate_sessions_swept_total",
		Help: "Sesiones borradas por el sweeper",
	})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Número total de requests procesadas",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Latencia de los requests HTTP",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	HTTPInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_inflight_requests",
		Help: "Requests en vuelo",
	})

	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "passgate_rate_limited_total",
		Help: "Requests rechazadas por rate limit",
	}, []string{"scope"})
)

var (
	registerOnce sync.Once
	registerErr  error
)

// Register registra todas las métricas en reg (o en el default si es nil).
// Llamadas repetidas no hacen nada.
func Register(reg prometheus.Registerer) error {
	registerOnce.Do(func() {
		for _, c := range []prometheus.Collector{
			CeremonyTotal, CounterRollbacks, InviteRedemptions,
			SessionsIssued, SessionValidations, SessionsSwept,
			HTTPRequestsTotal, HTTPRequestDuration, HTTPInflight, RateLimited,
		} {
			if err := registerCollector(reg, c); err != nil {
				registerErr = err
				return
			}
		}
	})
	return registerErr
}

// RegisterPool agrega gauges del pool pgx. pool puede retornar nil (driver memory).
func RegisterPool(reg prometheus.Registerer, pool func() *pgxpool.Pool) error {
	return registerCollector(reg, newPoolCollector(pool))
}

// Handler expone el gatherer default.
func Handler() http.Handler { return promhttp.Handler() }

// registerCollector registra el collector en el registry indicado, ignorando duplicados.
func registerCollector(reg prometheus.Registerer, collector prometheus.Collector) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

// poolCollector expone el estado del pool de PostgreSQL.
type poolCollector struct {
	pool func() *pgxpool.Pool

	acquiredDesc *prometheus.Desc
	idleDesc     *prometheus.Desc
	totalDesc    *prometheus.Desc
	maxDesc      *prometheus.Desc
}

func newPoolCollector(pool func() *pgxpool.Pool) *poolCollector {
	return &poolCollector{
		pool:         pool,
		acquiredDesc: prometheus.NewDesc("pg_pool_acquired", "Conexiones adquiridas", nil, nil),
		idleDesc:     prometheus.NewDesc("pg_pool_idle", "Conexiones inactivas", nil, nil),
		totalDesc:    prometheus.NewDesc("pg_pool_total", "Conexiones totales", nil, nil),
		maxDesc:      prometheus.NewDesc("pg_pool_max", "Máximo de conexiones configurado", nil, nil),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquiredDesc
	ch <- c.idleDesc
	ch <- c.totalDesc
	ch <- c.maxDesc
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	if c.pool == nil {
		return
	}
	pool := c.pool()
	if pool == nil {
		return
	}
	stat := pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.acquiredDesc, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idleDesc, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.totalDesc, prometheus.GaugeValue, float64(stat.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.maxDesc, prometheus.GaugeValue, float64(stat.MaxConns()))
}
