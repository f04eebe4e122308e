// SPDX-License-Identifier: GPL-3.0-or-later

// Package promfile parses a prometheus text-format file and re-exposes
// its samples verbatim through a collector.
package promfile

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Parse reads metric families from prometheus/openmetrics text format.
func Parse(r io.Reader) ([]*dto.MetricFamily, error) {
	var parser expfmt.TextParser

	byName, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return nil, fmt.Errorf("parsing metric families: %w", err)
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	families := make([]*dto.MetricFamily, 0, len(byName))
	for _, name := range names {
		families = append(families, byName[name])
	}

	return families, nil
}

// ParseFile reads metric families from a file on disk.
func ParseFile(path string) ([]*dto.MetricFamily, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return Parse(f)
}

// Collector exposes a swappable list of metric families. Update replaces
// the whole list atomically, so a scrape sees either the previous run's
// families or the current run's, never a mix.
type Collector struct {
	mu       sync.RWMutex
	families []*dto.MetricFamily
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Update replaces the collected families.
func (c *Collector) Update(families []*dto.MetricFamily) {
	c.mu.Lock()
	c.families = families
	c.mu.Unlock()
}

// Describe sends no descriptors, making this an unchecked collector:
// the family set changes between validator runs.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect converts the stored families to const metrics.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	families := c.families
	c.mu.RUnlock()

	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if metric := convert(mf, m); metric != nil {
				ch <- metric
			}
		}
	}
}

func convert(mf *dto.MetricFamily, m *dto.Metric) prometheus.Metric {
	var names, values []string
	for _, lp := range m.GetLabel() {
		names = append(names, lp.GetName())
		values = append(values, lp.GetValue())
	}
	desc := prometheus.NewDesc(mf.GetName(), mf.GetHelp(), names, nil)

	var (
		metric prometheus.Metric
		err    error
	)

	switch mf.GetType() {
	case dto.MetricType_COUNTER:
		metric, err = prometheus.NewConstMetric(desc, prometheus.CounterValue, m.GetCounter().GetValue(), values...)
	case dto.MetricType_GAUGE:
		metric, err = prometheus.NewConstMetric(desc, prometheus.GaugeValue, m.GetGauge().GetValue(), values...)
	case dto.MetricType_UNTYPED:
		metric, err = prometheus.NewConstMetric(desc, prometheus.UntypedValue, m.GetUntyped().GetValue(), values...)
	case dto.MetricType_SUMMARY:
		s := m.GetSummary()
		quantiles := make(map[float64]float64, len(s.GetQuantile()))
		for _, q := range s.GetQuantile() {
			quantiles[q.GetQuantile()] = q.GetValue()
		}
		metric, err = prometheus.NewConstSummary(desc, s.GetSampleCount(), s.GetSampleSum(), quantiles, values...)
	case dto.MetricType_HISTOGRAM:
		h := m.GetHistogram()
		buckets := make(map[float64]uint64, len(h.GetBucket()))
		for _, b := range h.GetBucket() {
			buckets[b.GetUpperBound()] = b.GetCumulativeCount()
		}
		metric, err = prometheus.NewConstHistogram(desc, h.GetSampleCount(), h.GetSampleSum(), buckets, values...)
	default:
		return nil
	}

	if err != nil {
		return nil
	}

	return metric
}
