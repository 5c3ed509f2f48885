package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters for slot reservation and lifecycle flows.
type BookingMetrics struct {
	reservedTotal    *prometheus.CounterVec
	conflictsTotal   *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		reservedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tibacloud",
			Subsystem: "bookings",
			Name:      "reserved_total",
			Help:      "Total slots reserved",
		}, []string{"provider_type"}),
		conflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tibacloud",
			Subsystem: "bookings",
			Name:      "conflicts_total",
			Help:      "Total reservations rejected because the slot was taken",
		}, []string{"provider_type"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tibacloud",
			Subsystem: "bookings",
			Name:      "transitions_total",
			Help:      "Total booking status transitions",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.reservedTotal, m.conflictsTotal, m.transitionsTotal)
	return m
}

func (m *BookingMetrics) ObserveReserved(providerType string) {
	if m == nil {
		return
	}
	m.reservedTotal.WithLabelValues(providerType).Inc()
}

func (m *BookingMetrics) ObserveConflict(providerType string) {
	if m == nil {
		return
	}
	m.conflictsTotal.WithLabelValues(providerType).Inc()
}

func (m *BookingMetrics) ObserveTransition(status string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(status).Inc()
}

// PaymentMetrics exposes counters/histograms for payment session flows.
type PaymentMetrics struct {
	sessionsTotal   *prometheus.CounterVec
	callbacksTotal  *prometheus.CounterVec
	finalizedTotal  *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
	settlementTotal *prometheus.CounterVec
}

func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	m := &PaymentMetrics{
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tibacloud",
			Subsystem: "payments",
			Name:      "sessions_total",
			Help:      "Total payment sessions opened",
		}, []string{"gateway", "status"}),
		callbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tibacloud",
			Subsystem: "payments",
			Name:      "callbacks_total",
			Help:      "Total gateway callbacks received",
		}, []string{"gateway", "outcome"}),
		finalizedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tibacloud",
			Subsystem: "payments",
			Name:      "finalized_total",
			Help:      "Total bookings finalized from successful payments",
		}, []string{"outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tibacloud",
			Subsystem: "payments",
			Name:      "gateway_latency_seconds",
			Help:      "Latency of outbound gateway calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"gateway", "call"}),
		settlementTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tibacloud",
			Subsystem: "payments",
			Name:      "settlement_total",
			Help:      "Total settlement forwarding attempts",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sessionsTotal, m.callbacksTotal, m.finalizedTotal, m.gatewayLatency, m.settlementTotal)
	return m
}

func (m *PaymentMetrics) ObserveSession(gateway, status string) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(gateway, status).Inc()
}

func (m *PaymentMetrics) ObserveCallback(gateway, outcome string) {
	if m == nil {
		return
	}
	m.callbacksTotal.WithLabelValues(gateway, outcome).Inc()
}

func (m *PaymentMetrics) ObserveFinalized(outcome string) {
	if m == nil {
		return
	}
	m.finalizedTotal.WithLabelValues(outcome).Inc()
}

func (m *PaymentMetrics) ObserveGatewayLatency(gateway, call string, seconds float64) {
	if m == nil {
		return
	}
	m.gatewayLatency.WithLabelValues(gateway, call).Observe(seconds)
}

func (m *PaymentMetrics) ObserveSettlement(outcome string) {
	if m == nil {
		return
	}
	m.settlementTotal.WithLabelValues(outcome).Inc()
}
