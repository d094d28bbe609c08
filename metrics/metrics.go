// Package metrics counts server events for Prometheus.
package metrics

import (
	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dnsproxy/dnsproxy/server"
)

// Metrics type
type Metrics struct {
	requests  prometheus.Counter
	responses *prometheus.CounterVec
	errors    prometheus.Counter
}

// New return new metrics registered on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsproxy_requests_total",
			Help: "How many DNS requests received",
		}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dnsproxy_responses_total",
			Help: "How many DNS responses sent",
		}, []string{"qtype", "rcode"}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsproxy_errors_total",
			Help: "How many server errors occurred",
		}),
	}

	for _, c := range []prometheus.Collector{m.requests, m.responses, m.errors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Observe implements server.Observer.
func (m *Metrics) Observe(e server.Event) {
	switch e := e.(type) {
	case server.Requested:
		m.requests.Inc()

	case server.Responded:
		qtype := "-"
		if len(e.Request.Question) > 0 {
			qtype = dns.TypeToString[e.Request.Question[0].Qtype]
		}

		m.responses.With(prometheus.Labels{
			"qtype": qtype,
			"rcode": dns.RcodeToString[e.Response.Rcode],
		}).Inc()

	case server.Errored:
		m.errors.Inc()
	}
}
