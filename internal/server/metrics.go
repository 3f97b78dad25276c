package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry          *prometheus.Registry
	transfersTotal    *prometheus.CounterVec
	onrampTotal       *prometheus.CounterVec
	sweepRefundsTotal *prometheus.CounterVec
	pendingTransfers  prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	transfers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailrails_transfers_total",
		Help: "Escrow lifecycle operations by op and outcome",
	}, []string{"op", "status"})

	onramp := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailrails_onramp_sessions_total",
		Help: "Onramp session proxy requests by outcome",
	}, []string{"status"})

	sweeps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailrails_sweep_refunds_total",
		Help: "Refunds attempted by the expiry sweeper",
	}, []string{"result"})

	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mailrails_pending_transfers",
		Help: "Transfers created minus settled by this instance",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(transfers, onramp, sweeps, pending)

	return &metricsRegistry{
		registry:          r,
		transfersTotal:    transfers,
		onrampTotal:       onramp,
		sweepRefundsTotal: sweeps,
		pendingTransfers:  pending,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incTransfer(op, status string) {
	m.transfersTotal.WithLabelValues(op, status).Inc()
}

func (m *metricsRegistry) incOnramp(status string) {
	m.onrampTotal.WithLabelValues(status).Inc()
}

func (m *metricsRegistry) incSweep(result string) {
	m.sweepRefundsTotal.WithLabelValues(result).Inc()
}

func (m *metricsRegistry) pendingDelta(delta float64) {
	m.pendingTransfers.Add(delta)
}
