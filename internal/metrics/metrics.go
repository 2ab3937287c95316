package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	registry        *prometheus.Registry
	claimsTotal     *prometheus.CounterVec
	payoutsTotal    *prometheus.CounterVec
	approvalsTotal  *prometheus.CounterVec
	poolBalance     *prometheus.GaugeVec
	poolUtilization prometheus.Gauge
}

func NewRegistry() *Registry {
	claimsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coverpool_claims_total",
		Help: "Claim submissions by outcome",
	}, []string{"status"})

	payoutsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coverpool_payouts_total",
		Help: "Payout attempts by result",
	}, []string{"result"})

	approvalsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coverpool_approvals_total",
		Help: "Quorum approval calls by result",
	}, []string{"result"})

	poolBalance := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "coverpool_pool_balance",
		Help: "Current pool balance per asset",
	}, []string{"asset"})

	poolUtilization := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coverpool_pool_utilization",
		Help: "Cumulative paid over cumulative deposited",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(claimsTotal, payoutsTotal, approvalsTotal, poolBalance, poolUtilization)

	return &Registry{
		registry:        r,
		claimsTotal:     claimsTotal,
		payoutsTotal:    payoutsTotal,
		approvalsTotal:  approvalsTotal,
		poolBalance:     poolBalance,
		poolUtilization: poolUtilization,
	}
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Registry) IncClaim(status string) {
	m.claimsTotal.WithLabelValues(status).Inc()
}

func (m *Registry) IncPayout(result string) {
	m.payoutsTotal.WithLabelValues(result).Inc()
}

func (m *Registry) IncApproval(result string) {
	m.approvalsTotal.WithLabelValues(result).Inc()
}

func (m *Registry) SetPoolBalance(asset string, balance int64) {
	m.poolBalance.WithLabelValues(asset).Set(float64(balance))
}

func (m *Registry) SetPoolUtilization(ratio float64) {
	m.poolUtilization.Set(ratio)
}
