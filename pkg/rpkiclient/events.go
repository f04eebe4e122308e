// SPDX-License-Identifier: GPL-3.0-or-later

// Package rpkiclient runs the rpki-client validator and turns its
// diagnostic output into structured events.
package rpkiclient

import "time"

// Event is one structured event classified from a single diagnostic line.
type Event interface {
	event()
}

// Warning is an event tied to an object path inside the cache directory.
type Warning interface {
	Event
	WarningType() string
	WarningPath() string
}

// LabelWarning is a binary condition on one object (missing file,
// overclaiming, revoked certificate, ...).
type LabelWarning struct {
	Type string
	Path string
}

// ExpirationWarning is a time-bounded condition on one object
// (expired or not yet valid manifest).
type ExpirationWarning struct {
	Type    string
	Path    string
	Expires time.Time
}

// ManifestObjectWarning relates a manifest to one object it references.
type ManifestObjectWarning struct {
	Type         string
	ManifestPath string
	Object       string
}

// FetchStatus is a transport-level event for one repository.
// Count carries the event magnitude (number of deltas, serial decrease).
type FetchStatus struct {
	URI   string
	Type  string
	Count int64
}

// ProcessError is a validator-internal failure (assertion failure,
// worker terminated by signal, incomplete processing).
type ProcessError struct {
	Type string
}

func (LabelWarning) event()          {}
func (ExpirationWarning) event()     {}
func (ManifestObjectWarning) event() {}
func (FetchStatus) event()           {}
func (ProcessError) event()          {}

func (w LabelWarning) WarningType() string { return w.Type }
func (w LabelWarning) WarningPath() string { return w.Path }

func (w ExpirationWarning) WarningType() string { return w.Type }
func (w ExpirationWarning) WarningPath() string { return w.Path }

func (w ManifestObjectWarning) WarningType() string { return w.Type }
func (w ManifestObjectWarning) WarningPath() string { return w.ManifestPath }

// RunResult is the outcome of one validator run.
type RunResult struct {
	ExitCode int           `json:"returncode"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
}
