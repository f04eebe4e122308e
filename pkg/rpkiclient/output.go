// SPDX-License-Identifier: GPL-3.0-or-later

package rpkiclient

import (
	"regexp"
	"strings"
)

const linePrefix = "rpki-client: "

// Repository tracking and rsync cleanup markers. These are not part of
// the classification tables: they feed the pulling/pulled sets and the
// vanished path lists.
var (
	rePulling      = regexp.MustCompile(`^rpki-client: (?P<uri>.*): pulling from network$`)
	rePulled       = regexp.MustCompile(`^rpki-client: (?P<uri>.*): loaded from network$`)
	reVanishedFile = regexp.MustCompile(`file has vanished: "(?P<path>[^"]*)"`)
	reVanishedDir  = regexp.MustCompile(`directory has vanished: "(?P<path>[^"]*)"`)
)

// Output holds the aggregated events of one validator run. It is built
// once by ParseOutput and not mutated afterwards.
type Output struct {
	Warnings      []Warning
	FetchStatuses []FetchStatus
	Errors        []ProcessError

	// Repositories a fetch was initiated for / completed for.
	Pulling map[string]bool
	Pulled  map[string]bool

	VanishedFiles       []string
	VanishedDirectories []string

	// Lines corrupted by two validator processes writing to the same
	// descriptor without a flush in between.
	IntertwinedLines int
	// Lines a rule matched but could not interpret.
	ParseErrors int
}

// ParseOutput classifies the validator's whole stderr stream for one run.
// Malformed lines never abort aggregation: intertwined lines are dropped
// and counted, capture errors are counted, and remaining lines proceed.
func ParseOutput(stderr string) *Output {
	out := &Output{
		Pulling: make(map[string]bool),
		Pulled:  make(map[string]bool),
	}

	for _, line := range strings.Split(stderr, "\n") {
		if strings.Count(line, linePrefix) > 1 {
			out.IntertwinedLines++
			continue
		}

		if m := rePulling.FindStringSubmatch(line); m != nil {
			out.Pulling[m[1]] = true
			continue
		}
		if m := rePulled.FindStringSubmatch(line); m != nil {
			out.Pulled[m[1]] = true
			continue
		}
		if m := reVanishedFile.FindStringSubmatch(line); m != nil {
			out.VanishedFiles = append(out.VanishedFiles, m[1])
			continue
		}
		if m := reVanishedDir.FindStringSubmatch(line); m != nil {
			out.VanishedDirectories = append(out.VanishedDirectories, m[1])
			continue
		}

		ev, err := Classify(line)
		if err != nil {
			out.ParseErrors++
			continue
		}

		switch ev := ev.(type) {
		case nil:
		case FetchStatus:
			out.FetchStatuses = append(out.FetchStatuses, ev)
		case ProcessError:
			out.Errors = append(out.Errors, ev)
		case Warning:
			out.Warnings = append(out.Warnings, ev)
		}
	}

	return out
}
