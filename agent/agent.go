// SPDX-License-Identifier: GPL-3.0-or-later

// Package agent schedules validator runs and owns the cross-run
// reconciliation state.
package agent

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rpkimon/rpkimon/logger"
	"github.com/rpkimon/rpkimon/pkg/promfile"
	"github.com/rpkimon/rpkimon/pkg/rpkiclient"
)

// Agent drives the validator on a fixed interval. A single goroutine
// owns the run/classify/reconcile pipeline; concurrent readers only see
// the last fully formed result.
type Agent struct {
	*logger.Logger

	cfg    *Config
	reg    *prometheus.Registry
	mx     *metrics
	runner *rpkiclient.Runner

	// Metrics file produced by the validator itself, re-exposed verbatim.
	validatorMetrics *promfile.Collector

	// Reconciliation state, touched only by the scheduler goroutine.
	warnings []rpkiclient.HostWarningSummary
	pulling  map[string]bool

	resultMu   sync.RWMutex
	lastResult *rpkiclient.RunResult
}

// New creates an Agent from a validated configuration.
func New(cfg *Config) *Agent {
	log := logger.New().With("component", "agent")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	validatorMetrics := promfile.NewCollector()
	reg.MustRegister(validatorMetrics)

	return &Agent{
		Logger: log,
		cfg:    cfg,
		reg:    reg,
		mx:     newMetrics(reg),
		runner: &rpkiclient.Runner{
			Logger:       log.With("component", "runner"),
			Binary:       cfg.RpkiClient,
			CacheDir:     cfg.CacheDir,
			OutputDir:    cfg.OutputDir,
			TALs:         cfg.TrustAnchorLocators,
			ExtraOpts:    cfg.AdditionalOpts,
			RsyncCommand: cfg.RsyncCommand,
			Timeout:      cfg.Timeout.Duration(),
			Deadline:     cfg.Deadline.Duration(),
		},
		validatorMetrics: validatorMetrics,
		pulling:          make(map[string]bool),
	}
}

// Config returns the effective configuration.
func (a *Agent) Config() *Config { return a.cfg }

// Registry returns the metrics registry for scraping.
func (a *Agent) Registry() *prometheus.Registry { return a.reg }

// LastResult returns the last run's result, or nil before the first run
// has completed.
func (a *Agent) LastResult() *rpkiclient.RunResult {
	a.resultMu.RLock()
	defer a.resultMu.RUnlock()
	return a.lastResult
}

func (a *Agent) setLastResult(res *rpkiclient.RunResult) {
	a.resultMu.Lock()
	a.lastResult = res
	a.resultMu.Unlock()
}

// Run executes the scheduling loop until ctx is cancelled. The first run
// is delayed by a uniformly random duration bounded by the configured
// jitter; after that one run starts per interval, never overlapping, so
// the effective cadence is max(interval, run duration).
func (a *Agent) Run(ctx context.Context) {
	if jitter := a.cfg.Jitter.Duration(); jitter > 0 {
		delay := time.Duration(rand.Int63n(int64(jitter)))
		a.Infof("delaying first run by %s", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	a.Infof("running the validator every %s", a.cfg.Interval)

	tk := time.NewTicker(a.cfg.Interval.Duration())
	defer tk.Stop()

	for {
		a.tick(ctx)
		select {
		case <-ctx.Done():
			a.Info("scheduler stopped")
			return
		case <-tk.C:
		}
	}
}

// tick isolates one run: any failure, including a panic escaping the
// pipeline, is logged and counted, and the next tick proceeds.
func (a *Agent) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.Errorf("recovered from panic: %v", r)
			a.mx.tickFailures.Inc()
		}
	}()

	if err := a.runOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.Errorf("run failed: %v", err)
		a.mx.tickFailures.Inc()
	}
}

func (a *Agent) runOnce(ctx context.Context) error {
	a.mx.running.Inc()
	defer a.mx.running.Dec()

	res, err := a.runner.Run(ctx)
	if err != nil {
		return err
	}

	a.mx.duration.Observe(res.Duration.Seconds())
	a.mx.lastDuration.Set(res.Duration.Seconds())
	a.mx.updateCount.WithLabelValues(strconv.Itoa(res.ExitCode)).Inc()

	a.setLastResult(res)

	a.updateWarningMetrics(rpkiclient.ParseOutput(res.Stderr), res.ExitCode == 0)

	// Result files are ingested on every exit: partial output may exist
	// even after a failed run.
	a.ingestValidatorMetrics()
	a.ingestValidatedObjects(res.ExitCode)

	return nil
}

// updateWarningMetrics reconciles the run's aggregates with the stored
// state. Disappeared (type, host) labels are zeroed, never deleted.
// Unreferenced repositories are removed, but only after a successful
// run; a failed run keeps the previous pulling set so a single failure
// does not erase repository history.
func (a *Agent) updateWarningMetrics(out *rpkiclient.Output, success bool) {
	if success {
		for repo := range a.pulling {
			if out.Pulling[repo] {
				continue
			}
			a.Infof("removing unreferenced repository %s", repo)
			a.mx.removedUnreferenced.Inc()
			a.mx.pulling.DeleteLabelValues(repo)
			a.mx.pulled.DeleteLabelValues(repo)
		}
	}

	for repo := range out.Pulling {
		a.mx.pulling.WithLabelValues(repo).SetToCurrentTime()
	}
	for repo := range out.Pulled {
		a.mx.pulled.WithLabelValues(repo).SetToCurrentTime()
	}

	for _, fs := range out.FetchStatuses {
		a.mx.fetchStatus.WithLabelValues(fs.URI, fs.Type).Add(float64(fs.Count))
	}
	for _, pe := range out.Errors {
		a.mx.clientErrors.WithLabelValues(pe.Type).Inc()
	}

	a.mx.objectsCount.WithLabelValues("vanished_files").Set(float64(len(out.VanishedFiles)))
	a.mx.objectsCount.WithLabelValues("vanished_directories").Set(float64(len(out.VanishedDirectories)))

	if out.IntertwinedLines > 0 {
		a.Debugf("dropped %d intertwined lines", out.IntertwinedLines)
		a.mx.parseErrors.WithLabelValues("intertwined_line").Add(float64(out.IntertwinedLines))
	}
	if out.ParseErrors > 0 {
		a.mx.parseErrors.WithLabelValues("line").Add(float64(out.ParseErrors))
	}

	warnings, malformed := rpkiclient.StatisticsByHost(out.Warnings)
	if malformed > 0 {
		a.mx.parseErrors.WithLabelValues("hostname").Add(float64(malformed))
	}

	for missing := range rpkiclient.MissingLabels(a.warnings, warnings) {
		a.mx.hostWarnings.WithLabelValues(missing.Hostname, missing.Type).Set(0)
	}
	for _, w := range warnings {
		a.mx.hostWarnings.WithLabelValues(w.Hostname, w.Type).Set(float64(w.Count))
	}

	a.warnings = warnings
	if success {
		a.pulling = out.Pulling
	}
}

// ingestValidatorMetrics swaps in the validator's own openmetrics file.
func (a *Agent) ingestValidatorMetrics() {
	path := filepath.Join(a.cfg.OutputDir, "metrics")
	if _, err := os.Stat(path); err != nil {
		return
	}

	families, err := promfile.ParseFile(path)
	if err != nil {
		a.Warningf("parsing validator metrics file: %v", err)
		a.mx.parseErrors.WithLabelValues("openmetrics").Inc()
		return
	}

	a.validatorMetrics.Update(families)
}

// ingestValidatedObjects copies the JSON result file's metadata into the
// object gauges. Only a fully ingested successful run moves the
// last-update timestamp.
func (a *Agent) ingestValidatedObjects(exitCode int) {
	path := filepath.Join(a.cfg.OutputDir, "json")

	f, err := os.Open(path)
	if err != nil {
		a.Warningf("validated objects file is missing: %v", err)
		return
	}
	defer func() { _ = f.Close() }()

	summary, err := rpkiclient.ParseValidated(f)
	if err != nil {
		a.Errorf("parsing %s: %v", path, err)
		a.mx.jsonErrors.Inc()
		return
	}

	if !summary.BuildTime.IsZero() {
		a.mx.buildTime.Set(float64(summary.BuildTime.Unix()))
	}
	for key, value := range summary.Counts {
		a.mx.objectsCount.WithLabelValues(key).Set(value)
	}
	for ta, expires := range summary.MinExpiryByTA {
		a.mx.minExpiry.WithLabelValues(ta).Set(float64(expires))
	}
	for ta, count := range summary.VRPsByTA {
		a.mx.vrpsByTA.WithLabelValues(ta).Set(float64(count))
	}
	if len(summary.MissingKeys) > 0 {
		a.Infof("keys missing in the validated objects metadata: %v", summary.MissingKeys)
	}

	if exitCode == 0 {
		a.mx.lastUpdate.SetToCurrentTime()
	}
}
