// SPDX-License-Identifier: GPL-3.0-or-later

package rpkiclient

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T, script string) *Runner {
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

	return &Runner{
		Binary:    binary,
		CacheDir:  cacheDir,
		OutputDir: outputDir,
		TALs:      []string{tal},
	}
}

func TestRunnerArgs(t *testing.T) {
	r := newTestRunner(t, "#!/bin/sh\nexit 0\n")

	tests := map[string]struct {
		prepare func(r *Runner)
		want    func(r *Runner) []string
		wantErr bool
	}{
		"default": {
			prepare: func(*Runner) {},
			want: func(r *Runner) []string {
				return []string{"-v", "-j", "-d", r.CacheDir, "-t", r.TALs[0], r.OutputDir}
			},
		},
		"extra opts before rsync command and tals": {
			prepare: func(r *Runner) {
				r.ExtraOpts = []string{"-A", "-R"}
				r.RsyncCommand = r.Binary
			},
			want: func(r *Runner) []string {
				return []string{"-v", "-j", "-d", r.CacheDir, "-A", "-R", "-e", r.Binary, "-t", r.TALs[0], r.OutputDir}
			},
		},
		"multiple tals": {
			prepare: func(r *Runner) {
				r.TALs = append(r.TALs, r.TALs[0])
			},
			want: func(r *Runner) []string {
				return []string{"-v", "-j", "-d", r.CacheDir, "-t", r.TALs[0], "-t", r.TALs[1], r.OutputDir}
			},
		},
		"missing binary": {
			prepare: func(r *Runner) { r.Binary = filepath.Join(r.CacheDir, "nope") },
			wantErr: true,
		},
		"missing rsync command": {
			prepare: func(r *Runner) { r.RsyncCommand = filepath.Join(r.CacheDir, "nope") },
			wantErr: true,
		},
		"cache dir is not a directory": {
			prepare: func(r *Runner) { r.CacheDir = r.Binary },
			wantErr: true,
		},
		"output dir does not exist": {
			prepare: func(r *Runner) { r.OutputDir = filepath.Join(r.OutputDir, "nope") },
			wantErr: true,
		},
		"timeout below -1s": {
			prepare: func(r *Runner) { r.Timeout = -2 * time.Second },
			wantErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			cp := *r
			test.prepare(&cp)

			args, err := cp.Args()

			if test.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, test.want(&cp), args)
		})
	}
}

func TestRunnerRun(t *testing.T) {
	r := newTestRunner(t, "#!/bin/sh\necho out\necho 'rpki-client: rpki.ripe.net/ta: pulling from network' >&2\nexit 3\n")

	res, err := r.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Contains(t, res.Stderr, "pulling from network")
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestRunnerRunTimeout(t *testing.T) {
	r := newTestRunner(t, "#!/bin/sh\necho started >&2\nsleep 10\n")
	r.Timeout = time.Second

	start := time.Now()
	res, err := r.Run(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.NotZero(t, res.ExitCode)
	assert.Less(t, elapsed, 5*time.Second)
	// Output flushed before the kill is still drained.
	assert.Contains(t, res.Stderr, "started")
}

func TestRunnerRunTimeoutWithHungHelper(t *testing.T) {
	// The backgrounded sleep inherits stderr and outlives the kill, like
	// a hung rsync helper would.
	r := newTestRunner(t, "#!/bin/sh\necho started >&2\nsleep 10 >&2 &\nsleep 30\n")
	r.Timeout = time.Second

	start := time.Now()
	res, err := r.Run(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.NotZero(t, res.ExitCode)
	assert.Less(t, elapsed, 5*time.Second)
	assert.Contains(t, res.Stderr, "started")
}

func TestRunnerRunHelperHoldsPipesAfterExit(t *testing.T) {
	r := newTestRunner(t, "#!/bin/sh\necho done >&2\nsleep 10 >&2 &\nexit 0\n")

	start := time.Now()
	res, err := r.Run(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Less(t, elapsed, 5*time.Second)
	assert.Contains(t, res.Stderr, "done")
}

func TestRunnerRunDeadlineEnv(t *testing.T) {
	r := newTestRunner(t, "#!/bin/sh\necho \"DEADLINE=$DEADLINE\"\n")
	r.Deadline = time.Minute

	res, err := r.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	value := strings.TrimPrefix(strings.TrimSpace(res.Stdout), "DEADLINE=")
	require.NotEmpty(t, value)
	assert.Regexp(t, `^[0-9]+$`, value)
}

func TestRunnerRunNoDeadlineEnv(t *testing.T) {
	r := newTestRunner(t, "#!/bin/sh\necho \"DEADLINE=$DEADLINE\"\n")

	res, err := r.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "DEADLINE=", strings.TrimSpace(res.Stdout))
}

func TestLimitedBuffer(t *testing.T) {
	buf := limitedBuffer{limit: 4}

	n, err := buf.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "abcd", buf.String())

	n, err = buf.Write([]byte("gh"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "abcd", buf.String())
}
