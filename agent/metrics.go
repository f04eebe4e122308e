// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// durationBuckets covers typical validator run durations, denser below
// one minute.
var durationBuckets = []float64{
	1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 16, 21, 26, 31, 36,
	41, 46, 51, 56, 64, 74, 85, 95, 106, 116, 127, 148, 169, 190, 211,
	232, 256, 341, 426, 511, 596, 681, 766,
}

type metrics struct {
	duration     prometheus.Histogram
	lastDuration prometheus.Gauge
	lastUpdate   prometheus.Gauge
	updateCount  *prometheus.CounterVec
	running      prometheus.Gauge

	fetchStatus         *prometheus.CounterVec
	pulling             *prometheus.GaugeVec
	pulled              *prometheus.GaugeVec
	removedUnreferenced prometheus.Counter

	hostWarnings *prometheus.GaugeVec
	clientErrors *prometheus.CounterVec

	objectsCount *prometheus.GaugeVec
	buildTime    prometheus.Gauge
	minExpiry    *prometheus.GaugeVec
	vrpsByTA     *prometheus.GaugeVec

	parseErrors  *prometheus.CounterVec
	jsonErrors   prometheus.Counter
	tickFailures prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rpkiclient_duration_seconds",
			Help:    "Time spent calling rpki-client",
			Buckets: durationBuckets,
		}),
		lastDuration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rpkiclient_last_duration_seconds",
			Help: "Duration of the last call to rpki-client",
		}),
		lastUpdate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rpkiclient_last_update",
			Help: "Timestamp of the last successful call to rpki-client",
		}),
		updateCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rpkiclient_update",
			Help: "Number of rpki-client updates",
		}, []string{"returncode"}),
		running: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rpkiclient_running",
			Help: "Number of running rpki-client instances",
		}),
		fetchStatus: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rpkiclient_fetch_status",
			Help: "Count of fetch status per repository and type encountered by rpki-client",
		}, []string{"uri", "type"}),
		pulling: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rpkiclient_pulling",
			Help: "Last time pulling from this repository was started (referenced)",
		}, []string{"uri"}),
		pulled: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rpkiclient_pulled",
			Help: "Last time repo was pulled (before process ended due to timeout)",
		}, []string{"uri"}),
		removedUnreferenced: factory.NewCounter(prometheus.CounterOpts{
			Name: "rpkiclient_removed_unreferenced",
			Help: "Number of removals of repositories that were no longer referenced",
		}),
		hostWarnings: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rpkiclient_warnings",
			Help: "Warnings from rpki-client",
		}, []string{"hostname", "type"}),
		clientErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rpkiclient_errors",
			Help: "Errors from rpki-client itself",
		}, []string{"type"}),
		objectsCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rpki_objects",
			Help: "Number of objects by type",
		}, []string{"type"}),
		buildTime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rpki_objects_buildtime",
			Help: "Time at which the validated objects file was generated",
		}),
		minExpiry: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rpki_objects_min_expiry",
			Help: "First expiry time for file in exported objects by trust anchor",
		}, []string{"ta"}),
		vrpsByTA: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rpki_vrps",
			Help: "Number of exported Validated ROA Payloads by trust anchor",
		}, []string{"ta"}),
		parseErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rpkimon_parse_error",
			Help: "Number of diagnostic lines that could not be interpreted",
		}, []string{"type"}),
		jsonErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "rpkiclient_json_error",
			Help: "Number of errors while parsing the validated objects file",
		}),
		tickFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "rpkimon_tick_failure",
			Help: "Number of scheduler ticks that failed",
		}),
	}
}
