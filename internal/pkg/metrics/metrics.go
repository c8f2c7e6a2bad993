package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry is the agent-local metrics registry, served on the status
// HTTP endpoint.
var Registry = prometheus.NewRegistry()

var (
	// TransferredBytes counts firmware bytes handed to the install engine.
	TransferredBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fwagent_transferred_bytes_total",
			Help: "Total firmware bytes delivered to the install engine.",
		},
	)

	// InstallAttempts counts install attempts by outcome
	// (ok, need_completion, install_failed).
	InstallAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fwagent_install_attempts_total",
			Help: "Total install attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// TransferFaults counts terminal faults raised during a transfer,
	// by fault kind.
	TransferFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fwagent_transfer_faults_total",
			Help: "Total terminal transfer faults by kind.",
		},
		[]string{"kind"},
	)

	// TransferProgress is the percent progress of the active transfer.
	TransferProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fwagent_transfer_progress_percent",
			Help: "Percent progress of the currently running firmware transfer.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		TransferredBytes,
		InstallAttempts,
		TransferFaults,
		TransferProgress,
	)
}
