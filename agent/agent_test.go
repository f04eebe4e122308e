// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpkimon/rpkimon/pkg/confopt"
	"github.com/rpkimon/rpkimon/pkg/rpkiclient"
)

func newTestAgent(t *testing.T, script string) *Agent {
	t.Helper()

	dir := t.TempDir()

	binary := filepath.Join(dir, "rpki-client")
	require.NoError(t, os.WriteFile(binary, []byte(script), 0o755))

	cacheDir := filepath.Join(dir, "cache")
	outputDir := filepath.Join(dir, "output")
	require.NoError(t, os.Mkdir(cacheDir, 0o755))
	require.NoError(t, os.Mkdir(outputDir, 0o755))

	tal := filepath.Join(dir, "ripe.tal")
	require.NoError(t, os.WriteFile(tal, []byte("rsync://rpki.ripe.net/ta/ripe-ncc-ta.cer\n"), 0o644))

	return New(&Config{
		CacheDir:            cacheDir,
		OutputDir:           outputDir,
		RpkiClient:          binary,
		TrustAnchorLocators: []string{tal},
		Interval:            confopt.Duration(time.Minute),
		Timeout:             confopt.Duration(30 * time.Second),
		Host:                "localhost",
		Port:                8888,
	})
}

func TestAgentUpdateWarningMetricsReconciliation(t *testing.T) {
	a := newTestAgent(t, "#!/bin/sh\nexit 0\n")

	first := rpkiclient.ParseOutput(`rpki-client: https://rrdp.ripe.net/notification.xml: pulling from network
rpki-client: https://rrdp.ripe.net/notification.xml: loaded from network
rpki-client: https://chloe.sobornost.net/rpki/news.xml: pulling from network
rpki-client: ca.rg.net/rpki/RGnet-OU/ovsCA/IRKrJK2lVbWOIiRBtE25HqT8lFA.mft: no valid mft available
rpki-client: ca.rg.net/rpki/RGnet-OU/whXtWImKJV6EzE2NjXJn_srFFrA.mft: no valid mft available
`)
	a.updateWarningMetrics(first, true)

	assert.Equal(t, float64(2),
		testutil.ToFloat64(a.mx.hostWarnings.WithLabelValues("ca.rg.net", "no_valid_mft_available")))
	assert.Equal(t, 2, testutil.CollectAndCount(a.mx.pulling))
	assert.Equal(t, 1, testutil.CollectAndCount(a.mx.pulled))

	// The warning disappears on the next run: the label is zeroed, not
	// deleted, so the scrape still observes the transition.
	second := rpkiclient.ParseOutput(`rpki-client: https://rrdp.ripe.net/notification.xml: pulling from network
rpki-client: https://rrdp.ripe.net/notification.xml: loaded from network
`)
	a.updateWarningMetrics(second, true)

	assert.Equal(t, float64(0),
		testutil.ToFloat64(a.mx.hostWarnings.WithLabelValues("ca.rg.net", "no_valid_mft_available")))

	// chloe.sobornost.net is no longer referenced and the run succeeded,
	// so its pulling series is removed.
	assert.Equal(t, 1, testutil.CollectAndCount(a.mx.pulling))
	assert.Equal(t, float64(1), testutil.ToFloat64(a.mx.removedUnreferenced))
}

func TestAgentUpdateWarningMetricsKeepsReposOnFailure(t *testing.T) {
	a := newTestAgent(t, "#!/bin/sh\nexit 0\n")

	first := rpkiclient.ParseOutput(`rpki-client: https://rrdp.ripe.net/notification.xml: pulling from network
rpki-client: https://chloe.sobornost.net/rpki/news.xml: pulling from network
`)
	a.updateWarningMetrics(first, true)
	require.Equal(t, 2, testutil.CollectAndCount(a.mx.pulling))

	// A failed run references only one repository. Nothing is removed and
	// the stored pulling set keeps both, so a later successful run still
	// reconciles against the full set.
	failed := rpkiclient.ParseOutput(`rpki-client: https://rrdp.ripe.net/notification.xml: pulling from network
`)
	a.updateWarningMetrics(failed, false)

	assert.Equal(t, 2, testutil.CollectAndCount(a.mx.pulling))
	assert.Equal(t, float64(0), testutil.ToFloat64(a.mx.removedUnreferenced))
	assert.Contains(t, a.pulling, "https://chloe.sobornost.net/rpki/news.xml")

	success := rpkiclient.ParseOutput(`rpki-client: https://rrdp.ripe.net/notification.xml: pulling from network
`)
	a.updateWarningMetrics(success, true)

	assert.Equal(t, 1, testutil.CollectAndCount(a.mx.pulling))
	assert.Equal(t, float64(1), testutil.ToFloat64(a.mx.removedUnreferenced))
}

func TestAgentUpdateWarningMetricsCounters(t *testing.T) {
	a := newTestAgent(t, "#!/bin/sh\nexit 0\n")

	out := rpkiclient.ParseOutput(`rpki-client: rrdp.ripe.net: notification file not modified
rpki-client: rrdp.ripe.net: notification file not modified
rpki-client: ca.rg.net/rpki/a.mft: mft expired on whenever
rpki-client: nostromo.heficed.net/repo: load from network failed, fallback to rsync
file has vanished: "/cache/.rsync/rpki.example.org/repo/a.roa" (in repo)
directory has vanished: "/cache/.rsync/rpki.example.org/repo" (in repo)
`)
	a.updateWarningMetrics(out, true)

	assert.Equal(t, float64(2), testutil.ToFloat64(
		a.mx.fetchStatus.WithLabelValues("rrdp.ripe.net", "rrdp_notification_not_modified")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		a.mx.fetchStatus.WithLabelValues("nostromo.heficed.net/repo", "rrdp_rsync_fallback")))
	assert.Equal(t, float64(1), testutil.ToFloat64(a.mx.objectsCount.WithLabelValues("vanished_files")))
	assert.Equal(t, float64(1), testutil.ToFloat64(a.mx.objectsCount.WithLabelValues("vanished_directories")))
	assert.Equal(t, float64(1), testutil.ToFloat64(a.mx.parseErrors.WithLabelValues("line")))
}

func TestAgentRunOnce(t *testing.T) {
	a := newTestAgent(t, `#!/bin/sh
echo 'rpki-client: https://rrdp.ripe.net/notification.xml: pulling from network' >&2
echo 'rpki-client: ca.rg.net/rpki/a.mft: no valid mft available' >&2
exit 0
`)

	require.NoError(t, os.WriteFile(filepath.Join(a.cfg.OutputDir, "json"), []byte(`{
  "metadata": {"buildtime": "2023-05-03T06:23:40Z", "roas": 4, "vrps": 42},
  "roas": [{"ta": "ripe", "expires": 1683093820}]
}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(a.cfg.OutputDir, "metrics"), []byte(`# HELP rpki_client_vrps_total Total number of vrps
# TYPE rpki_client_vrps_total gauge
rpki_client_vrps_total 42
`), 0o644))

	require.Nil(t, a.LastResult())
	require.NoError(t, a.runOnce(context.Background()))

	res := a.LastResult()
	require.NotNil(t, res)
	assert.Equal(t, 0, res.ExitCode)

	assert.Equal(t, float64(1), testutil.ToFloat64(a.mx.updateCount.WithLabelValues("0")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(a.mx.hostWarnings.WithLabelValues("ca.rg.net", "no_valid_mft_available")))
	assert.Equal(t, float64(4), testutil.ToFloat64(a.mx.objectsCount.WithLabelValues("roas")))
	assert.Equal(t, float64(1), testutil.ToFloat64(a.mx.vrpsByTA.WithLabelValues("ripe")))
	assert.Equal(t, float64(1683093820), testutil.ToFloat64(a.mx.minExpiry.WithLabelValues("ripe")))
	assert.NotZero(t, testutil.ToFloat64(a.mx.lastUpdate))

	// The validator's own metrics are re-exposed through the registry.
	families, err := a.Registry().Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() == "rpki_client_vrps_total" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAgentRunOnceFailedRunKeepsLastUpdate(t *testing.T) {
	a := newTestAgent(t, "#!/bin/sh\nexit 1\n")

	require.NoError(t, os.WriteFile(filepath.Join(a.cfg.OutputDir, "json"), []byte(`{
  "metadata": {"buildtime": "2023-05-03T06:23:40Z", "roas": 4}
}`), 0o644))

	require.NoError(t, a.runOnce(context.Background()))

	// Partial output is still ingested, but a non-zero exit does not move
	// the last-update timestamp.
	assert.Equal(t, float64(4), testutil.ToFloat64(a.mx.objectsCount.WithLabelValues("roas")))
	assert.Equal(t, float64(0), testutil.ToFloat64(a.mx.lastUpdate))
	assert.Equal(t, float64(1), testutil.ToFloat64(a.mx.updateCount.WithLabelValues("1")))
}

func TestAgentTickCountsFailures(t *testing.T) {
	a := newTestAgent(t, "#!/bin/sh\nexit 0\n")
	a.runner.Binary = filepath.Join(a.cfg.CacheDir, "nope")

	a.tick(context.Background())

	assert.Equal(t, float64(1), testutil.ToFloat64(a.mx.tickFailures))
}

func TestAgentTickRecoversFromPanic(t *testing.T) {
	a := newTestAgent(t, "#!/bin/sh\nexit 0\n")
	a.runner = nil

	assert.NotPanics(t, func() { a.tick(context.Background()) })
	assert.Equal(t, float64(1), testutil.ToFloat64(a.mx.tickFailures))
}

func TestAgentIngestValidatedObjectsErrors(t *testing.T) {
	a := newTestAgent(t, "#!/bin/sh\nexit 0\n")

	// Missing file is only logged.
	a.ingestValidatedObjects(0)
	assert.Equal(t, float64(0), testutil.ToFloat64(a.mx.jsonErrors))

	require.NoError(t, os.WriteFile(filepath.Join(a.cfg.OutputDir, "json"), []byte("{"), 0o644))
	a.ingestValidatedObjects(0)
	assert.Equal(t, float64(1), testutil.ToFloat64(a.mx.jsonErrors))
	assert.Equal(t, float64(0), testutil.ToFloat64(a.mx.lastUpdate))
}

func TestAgentIngestValidatorMetricsErrors(t *testing.T) {
	a := newTestAgent(t, "#!/bin/sh\nexit 0\n")

	require.NoError(t, os.WriteFile(filepath.Join(a.cfg.OutputDir, "metrics"),
		[]byte("rpki_client_vrps_total{ 42\n"), 0o644))

	a.ingestValidatorMetrics()

	assert.Equal(t, float64(1), testutil.ToFloat64(a.mx.parseErrors.WithLabelValues("openmetrics")))
}
