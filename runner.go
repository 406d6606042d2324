// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package forge

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// killGrace is how long the Runner waits after SIGTERM before escalating
// to SIGKILL, mirroring the stop-then-kill escalation containers use.
const killGrace = 5 * time.Second

// stderrTailBytes bounds how much of a failed recipe's stderr is carried
// into a CommandError.
const stderrTailBytes = 4096

// Runner spawns a rule's command, captures its output, and validates
// that every declared output exists afterward.
type Runner struct {
	log *logrus.Entry
}

// NewRunner returns a Runner that logs through log.
func NewRunner(log *logrus.Entry) *Runner { return &Runner{log: log} }

// Run executes r's command in r.Workdir with r.Env, honoring r.Timeout
// and ctx cancellation. On success every path in r.Outputs must exist as
// a file, and every output must resolve inside r.Workdir or the
// project's forge-out/ tree (§4.7's OutputEscape check).
func (run *Runner) Run(ctx context.Context, r *Rule, forgeOut string) error {
	runCtx := ctx
	var cancel context.CancelFunc
	if r.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	for _, out := range r.Outputs {
		if err := checkOutputLocation(out, r.Workdir, forgeOut); err != nil {
			return err
		}
	}

	cmd := exec.CommandContext(runCtx, r.Command, r.Args...)
	// exec.CommandContext's default Cancel hook sends an immediate
	// SIGKILL the instant runCtx is done, racing terminateProcessGroup's
	// SIGTERM-then-grace-then-SIGKILL escalation below and always
	// winning it. Disable the hook so that escalation is the only
	// termination path.
	cmd.Cancel = func() error { return nil }
	cmd.Dir = r.Workdir
	cmd.Env = environFrom(r.Env)
	cmd.Stdin = nil // inherits /dev/null-equivalent

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &prefixedWriter{prefix: r.Name, log: run.log, stream: &stdout}
	cmd.Stderr = &prefixedWriter{prefix: r.Name, log: run.log, stream: &stderr}

	// New process group so a SIGTERM/SIGKILL escalation reaches children
	// the recipe spawned, not just the immediate sh/exe process.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return &IoError{Op: "exec", Path: r.Command, Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-runCtx.Done():
		terminateProcessGroup(cmd, run.log)
		select {
		case err = <-done:
		case <-time.After(killGrace):
			err = runCtx.Err()
		}
		if runCtx.Err() == context.DeadlineExceeded {
			return &TimeoutError{Rule: r.Name}
		}
		if err == nil {
			err = runCtx.Err()
		}
	}

	if err != nil {
		if !r.Keep {
			removeOutputs(r.Outputs)
		}
		exitCode := -1
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		return &CommandError{Rule: r.Name, ExitCode: exitCode, StderrTail: tail(stderr.String(), stderrTailBytes)}
	}

	for _, out := range r.Outputs {
		info, statErr := os.Stat(out)
		if statErr != nil || info.IsDir() {
			if !r.Keep {
				removeOutputs(r.Outputs)
			}
			return &MissingOutputError{Rule: r.Name, Path: out}
		}
	}

	return nil
}

func checkOutputLocation(out, workdir, forgeOut string) error {
	abs := out
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(workdir, out)
	}
	abs = filepath.Clean(abs)

	insideWorkdir := strings.HasPrefix(abs, filepath.Clean(workdir)+string(filepath.Separator)) || abs == filepath.Clean(workdir)
	insideForgeOut := strings.HasPrefix(abs, filepath.Clean(forgeOut)+string(filepath.Separator))
	if !insideWorkdir && !insideForgeOut {
		return newConfigError("OutputEscape", "output %q resolves outside both workdir %q and forge-out/", out, workdir)
	}
	return nil
}

func environFrom(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func removeOutputs(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func terminateProcessGroup(cmd *exec.Cmd, log *logrus.Entry) {
	if cmd.Process == nil {
		return
	}
	pgid := -cmd.Process.Pid
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
		log.WithError(err).Debug("SIGTERM delivery failed, will escalate to SIGKILL")
	}
	go func() {
		time.Sleep(killGrace)
		syscall.Kill(pgid, syscall.SIGKILL)
	}()
}

// prefixedWriter streams a rule's stdout/stderr to the logger prefixed
// by rule name while also buffering it for post-failure reporting.
type prefixedWriter struct {
	prefix string
	log    *logrus.Entry
	stream *bytes.Buffer
	buf    []byte
}

func (w *prefixedWriter) Write(p []byte) (int, error) {
	w.stream.Write(p)
	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(w.buf[:idx])
		w.buf = w.buf[idx+1:]
		w.log.WithField("rule", w.prefix).Debug(line)
	}
	return len(p), nil
}
