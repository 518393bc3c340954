package oidc

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the relying party's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	cacheLookups  *prometheus.CounterVec
	fetchErrors   *prometheus.CounterVec
	verifications *prometheus.CounterVec
	stateFailures prometheus.Counter
	callbacks     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oidc_rp",
			Name:      "issuer_cache_lookups_total",
			Help:      "Discovery document and JWKS cache lookups.",
		}, []string{"entry", "result"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oidc_rp",
			Name:      "issuer_fetch_errors_total",
			Help:      "Failed requests to the issuer.",
		}, []string{"entry"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oidc_rp",
			Name:      "id_token_verifications_total",
			Help:      "ID token verifications by result.",
		}, []string{"result"}),
		stateFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oidc_rp",
			Name:      "state_validation_failures_total",
			Help:      "Callbacks rejected because of a state mismatch.",
		}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oidc_rp",
			Name:      "callbacks_total",
			Help:      "Handled callbacks by flow and result.",
		}, []string{"flow", "result"}),
	}

	for _, c := range []prometheus.Collector{m.cacheLookups, m.fetchErrors, m.verifications, m.stateFailures, m.callbacks} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) cacheLookup(entry string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(entry, result).Inc()
}

func (m *Metrics) fetchError(entry string) {
	if m == nil {
		return
	}
	m.fetchErrors.WithLabelValues(entry).Inc()
}

func (m *Metrics) verification(err error) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) stateFailure() {
	if m == nil {
		return
	}
	m.stateFailures.Inc()
}

func (m *Metrics) callback(flow string, err error) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(flow, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
