package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	managedInterfaces = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dnsproxy_managed_interfaces",
		Help: "Number of interfaces redirected to the proxy",
	})

	interfaceChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dnsproxy_interface_changes_total",
		Help: "Interface setups and resets by result",
	}, []string{"action", "result"})
)

func init() {
	prometheus.MustRegister(managedInterfaces)
	prometheus.MustRegister(interfaceChanges)
}
