package resolver

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	resolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dnsproxy_resolutions_total",
		Help: "Resolutions by the chain that produced the answer",
	}, []string{"path"})

	upstreamFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dnsproxy_upstream_failures_total",
		Help: "Failed upstream exchanges by chain",
	}, []string{"chain"})

	tamperDetections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnsproxy_tamper_detections_total",
		Help: "Untrusted answers discarded because they carried a tamper signature",
	})

	tamperSignatures = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dnsproxy_tamper_signatures",
		Help: "Number of known tamper signature addresses",
	})

	badServers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dnsproxy_bad_servers",
		Help: "Number of untrusted upstream servers",
	})
)

func init() {
	prometheus.MustRegister(resolutions)
	prometheus.MustRegister(upstreamFailures)
	prometheus.MustRegister(tamperDetections)
	prometheus.MustRegister(tamperSignatures)
	prometheus.MustRegister(badServers)
}

const (
	pathBad    = "bad"
	pathGood   = "good"
	pathFailed = "failed"
)
