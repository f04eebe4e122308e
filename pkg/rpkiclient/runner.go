// SPDX-License-Identifier: GPL-3.0-or-later

package rpkiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rpkimon/rpkimon/logger"
)

// outputLimit bounds each captured stream so a misbehaving validator
// cannot exhaust memory.
const outputLimit = 8 << 20 // 8 MiB

// drainDelay bounds how long Run waits for the output pipes after the
// validator exits or is killed. The validator's helpers (rsync, its
// http worker) inherit the pipes; a hung helper must not stall the
// scheduler past the configured timeout.
const drainDelay = 2 * time.Second

// Runner builds the validator argument vector and executes it.
type Runner struct {
	*logger.Logger

	Binary    string
	CacheDir  string
	OutputDir string

	TALs      []string
	ExtraOpts []string

	// Optional rsync binary or wrapper, passed via -e.
	RsyncCommand string

	// Timeout kills the validator on expiry. Zero or negative means wait
	// indefinitely.
	Timeout time.Duration
	// Deadline, when positive, is passed to the validator via the
	// DEADLINE environment variable as an absolute unix timestamp.
	Deadline time.Duration
}

// Args validates the configuration and builds the argument vector:
// -v -j -d <cacheDir> <extraOpts...> [-e <rsyncCmd>] (-t <tal>)* <outputDir>.
func (r *Runner) Args() ([]string, error) {
	if err := isFile(r.Binary); err != nil {
		return nil, fmt.Errorf("rpki_client: %w", err)
	}
	if r.RsyncCommand != "" {
		if err := isFile(r.RsyncCommand); err != nil {
			return nil, fmt.Errorf("rsync_command: %w", err)
		}
	}
	if err := isDir(r.CacheDir); err != nil {
		return nil, fmt.Errorf("cache_dir: %w", err)
	}
	if err := isDir(r.OutputDir); err != nil {
		return nil, fmt.Errorf("output_dir: %w", err)
	}
	if r.Timeout < -time.Second {
		return nil, fmt.Errorf("illegal timeout %s: should be >= -1s", r.Timeout)
	}

	args := []string{"-v", "-j", "-d", r.CacheDir}
	args = append(args, r.ExtraOpts...)
	if r.RsyncCommand != "" {
		args = append(args, "-e", r.RsyncCommand)
	}
	for _, tal := range r.TALs {
		args = append(args, "-t", tal)
	}
	args = append(args, r.OutputDir)

	return args, nil
}

// Run executes the validator once. A positive Timeout kills the process
// on expiry; buffered output is still drained, bounded by drainDelay in
// case a surviving helper holds the pipes open, and returned in the
// result together with the exit code and wall-clock duration.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	args, err := r.Args()
	if err != nil {
		return nil, err
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.Binary, args...)
	cmd.WaitDelay = drainDelay

	if r.Deadline > 0 {
		deadline := time.Now().Add(r.Deadline).Unix()
		cmd.Env = append(os.Environ(), fmt.Sprintf("DEADLINE=%d", deadline))
	}

	var stdout, stderr limitedBuffer
	stdout.limit, stderr.limit = outputLimit, outputLimit
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.Infof("executing %s", cmd)

	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)

	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		r.Errorf("timeout (%s): killed the validator", r.Timeout)
	case errors.Is(err, exec.ErrWaitDelay):
		r.Warningf("abandoned output pipes still held %s after exit", drainDelay)
	default:
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("executing %s: %w", r.Binary, err)
		}
	}

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	res := &RunResult{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	r.Infof("exited with %d in %s", res.ExitCode, duration)

	return res, nil
}

func isFile(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("'%s' is not a file", path)
	}
	return nil
}

func isDir(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("'%s' is not a directory", path)
	}
	return nil
}

// limitedBuffer keeps the first limit bytes written and silently drops
// the rest, never failing the writer.
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			p = p[:room]
		}
		b.buf.Write(p)
	}
	return n, nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }
