// SPDX-License-Identifier: GPL-3.0-or-later

package rpkiclient

import "sort"

// HostWarningSummary aggregates all warnings of one type for one host
// over a single run.
type HostWarningSummary struct {
	Type     string
	Hostname string
	Count    int
}

// MissingLabel is a (type, hostname) pair that was present in the
// previous run's summaries but is absent from the current run's.
type MissingLabel struct {
	Type     string
	Hostname string
}

// StatisticsByHost groups warnings into one summary per distinct
// (type, host) pair. Warnings whose path has no extractable host are
// skipped; their number is returned alongside the summaries.
func StatisticsByHost(warnings []Warning) (summaries []HostWarningSummary, malformed int) {
	counts := make(map[MissingLabel]int)

	for _, w := range warnings {
		host, err := HostFromPath(w.WarningPath())
		if err != nil {
			malformed++
			continue
		}
		counts[MissingLabel{Type: w.WarningType(), Hostname: host}]++
	}

	summaries = make([]HostWarningSummary, 0, len(counts))
	for key, n := range counts {
		summaries = append(summaries, HostWarningSummary{Type: key.Type, Hostname: key.Hostname, Count: n})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Type != summaries[j].Type {
			return summaries[i].Type < summaries[j].Type
		}
		return summaries[i].Hostname < summaries[j].Hostname
	})

	return summaries, malformed
}

// MissingLabels returns the (type, host) pairs present in previous but
// absent from current. Counts are ignored: the diff is over keys only,
// so the metric sink can zero the gauges instead of deleting them.
func MissingLabels(previous, current []HostWarningSummary) map[MissingLabel]bool {
	seen := make(map[MissingLabel]bool, len(current))
	for _, s := range current {
		seen[MissingLabel{Type: s.Type, Hostname: s.Hostname}] = true
	}

	missing := make(map[MissingLabel]bool)
	for _, s := range previous {
		key := MissingLabel{Type: s.Type, Hostname: s.Hostname}
		if !seen[key] {
			missing[key] = true
		}
	}

	return missing
}
