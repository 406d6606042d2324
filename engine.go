// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package forge

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// EngineOptions configures an Engine's scheduling behavior. The zero
// value selects runtime.NumCPU() workers, fail-fast on the first error, and no
// per-rule timeout beyond what individual Rules declare.
type EngineOptions struct {
	Jobs      int
	KeepGoing bool
	Log       *logrus.Entry
	Registry  prometheus.Registerer
}

// Engine is the facade assembling the Hasher, CAS, Cache Index, Rule
// Graph, Fingerprint Engine, Scheduler, and Rule Runner into the
// build/run/test/clean entry points. Every invocation is constructed
// explicitly with Open and torn down with Close — no process-global
// state survives between Engine instances.
type Engine struct {
	root     string
	forgeOut string
	graph    *Graph
	cas      *Cas
	index    *CacheIndex
	runner   *Runner
	log      *logrus.Entry
	metrics  *Metrics
	opts     EngineOptions
}

// Open constructs an Engine rooted at projectRoot, loading the existing
// Cache Index from forge-out/cache.json (or starting empty).
func Open(projectRoot string, opts EngineOptions) *Engine {
	if opts.Log == nil {
		opts.Log = defaultLogger()
	}
	runID := uuid.NewString()
	log := opts.Log.WithField("run_id", runID)

	var metrics *Metrics
	if opts.Registry != nil {
		metrics = NewMetrics(opts.Registry)
	}

	forgeOut := filepath.Join(projectRoot, "forge-out")
	return &Engine{
		root:     projectRoot,
		forgeOut: forgeOut,
		graph:    NewGraph(),
		cas:      NewCas(projectRoot),
		index:    LoadCacheIndex(projectRoot, log),
		runner:   NewRunner(log),
		log:      log,
		metrics:  metrics,
		opts:     opts,
	}
}

func defaultLogger() *logrus.Entry {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logrus.NewEntry(log)
}

// AddRule is the engine's sole intake path: the configuration layer (or
// any RuleGenerator) calls this once per rule before Build is invoked.
func (e *Engine) AddRule(r Rule) error { return e.graph.AddRule(r) }

// Log returns the engine's run-scoped logger, for callers (the CLI
// driver) that want to report outside a Build/Run/Test call.
func (e *Engine) Log() *logrus.Entry { return e.log }

// Names returns every rule name in the engine's graph, in registration
// order.
func (e *Engine) Names() []string { return e.graph.Names() }

// RuleByName returns the named rule, or nil if it isn't registered.
func (e *Engine) RuleByName(name string) *Rule { return e.graph.Rule(name) }

// FilteredEdges returns the topologically-ordered names and dependency
// edges of the subgraph Build would actually run for targets/components,
// for `forge graph` to render without executing anything.
func (e *Engine) FilteredEdges(targets, components map[string]bool) ([]string, map[string][]string, error) {
	if err := e.graph.Validate(); err != nil {
		return nil, nil, err
	}
	filtered := e.graph.Filter(targets, components)
	order := filtered.TopoOrder()
	deps := make(map[string][]string, len(order))
	for _, name := range order {
		deps[name] = filtered.Rule(name).Dependencies
	}
	return order, deps, nil
}

// Why computes a rule's fingerprint from the current inputs and reports
// whether the Cache Index holds an entry for it, so a caller can explain
// why a rebuild would (or wouldn't) hit the cache without running one.
func (e *Engine) Why(name string) (string, error) {
	r := e.graph.Rule(name)
	if r == nil {
		return "", fmt.Errorf("rule %q not found", name)
	}
	depFingerprints := make(map[string]string, len(r.Dependencies))
	for _, dep := range r.Dependencies {
		depRule := e.graph.Rule(dep)
		if depRule == nil {
			continue
		}
		fp, err := computeFingerprint(depRule, nil, newHashMemo())
		if err != nil {
			return "", err
		}
		depFingerprints[dep] = fp
	}
	fp, err := computeFingerprint(r, depFingerprints, newHashMemo())
	if err != nil {
		return "", err
	}
	if _, ok := e.index.Lookup(fp); ok {
		return fmt.Sprintf("%s: fingerprint %s is cached", name, fp), nil
	}
	return fmt.Sprintf("%s: fingerprint %s has no cache entry, would rebuild", name, fp), nil
}

// GC removes every object under the CAS root that the Cache Index no
// longer references, returning the number of bytes freed. Objects are
// only evicted if their containing rule hasn't produced them for
// longer than maxAge — approximated here by the object file's mtime,
// since the CAS itself is content-addressed and carries no access log.
func (e *Engine) GC(maxAge time.Duration) (int64, error) {
	referenced := e.index.ReferencedHashes()
	return e.cas.Sweep(referenced, maxAge)
}

// Build validates the graph, filters it to the selected targets and
// components (empty sets mean "everything"), and schedules execution.
func (e *Engine) Build(ctx context.Context, targets, components map[string]bool) (*BuildReport, error) {
	if err := e.graph.Validate(); err != nil {
		return nil, err
	}

	filtered := e.graph.Filter(targets, components)
	order := filtered.TopoOrder()

	sched := NewScheduler(filtered, e.cas, e.index, e.runner, e.forgeOut, e.log, e.metrics, SchedulerOptions{
		Jobs:      e.opts.Jobs,
		KeepGoing: e.opts.KeepGoing,
	})
	states := sched.Run(ctx)

	report := newBuildReport(states, order)

	if err := e.index.Flush(); err != nil {
		e.log.WithError(err).Warn("failed to flush cache index")
	}

	return report, nil
}

// ProcessExit is what Run returns after exec'ing a built binary.
type ProcessExit struct {
	Code   int
	Stdout string
	Stderr string
}

// Run builds target/component, then executes the single binary that
// rule's first output names.
func (e *Engine) Run(ctx context.Context, target, component string) (*ProcessExit, error) {
	name := ruleNameFor(target, component)
	report, err := e.Build(ctx, oneOf(target), oneOf(component))
	if err != nil {
		return nil, err
	}
	if report.Err != nil {
		return nil, report.Err
	}

	r := e.graph.Rule(name)
	if r == nil || len(r.Outputs) == 0 {
		return nil, fmt.Errorf("rule %q produced no runnable output", name)
	}
	bin := r.Outputs[0]

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin)
	cmd.Dir = r.Workdir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err = cmd.Run()

	exit := &ProcessExit{Stdout: stdout.String(), Stderr: stderr.String()}
	if ee, ok := err.(*exec.ExitError); ok {
		exit.Code = ee.ExitCode()
		return exit, nil
	}
	if err != nil {
		return nil, err
	}
	return exit, nil
}

// TestReport is what Test returns: the build that produced the test
// binaries, plus each one's exit result.
type TestReport struct {
	Build   *BuildReport
	Results map[string]*ProcessExit
}

// Test builds component (or every component, if empty) in test mode —
// by convention the configuration layer registers a rule per
// testable component named "<component>_test" — and executes each
// resulting binary.
func (e *Engine) Test(ctx context.Context, target, component string) (*TestReport, error) {
	components := map[string]bool{}
	if component != "" {
		components[component+"_test"] = true
	}

	report, err := e.Build(ctx, oneOf(target), components)
	if err != nil {
		return nil, err
	}

	results := make(map[string]*ProcessExit)
	for _, rr := range report.Rules {
		if rr.Status != Succeeded && rr.Status != CacheHit {
			continue
		}
		if !strings.HasSuffix(rr.Name, "_test") {
			continue
		}
		r := e.graph.Rule(rr.Name)
		if r == nil || len(r.Outputs) == 0 {
			continue
		}

		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, r.Outputs[0])
		cmd.Dir = r.Workdir
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		runErr := cmd.Run()

		exit := &ProcessExit{Stdout: stdout.String(), Stderr: stderr.String()}
		if ee, ok := runErr.(*exec.ExitError); ok {
			exit.Code = ee.ExitCode()
		}
		results[rr.Name] = exit
	}

	return &TestReport{Build: report, Results: results}, nil
}

// Clean recursively deletes forge-out/.
func (e *Engine) Clean() error {
	if err := os.RemoveAll(e.forgeOut); err != nil {
		return &IoError{Op: "remove", Path: e.forgeOut, Err: err}
	}
	return nil
}

// Close flushes the Cache Index. Safe to call even if Build was never
// invoked.
func (e *Engine) Close() error {
	return e.index.Flush()
}

func ruleNameFor(target, component string) string {
	if target == "" {
		return component
	}
	return target + "/" + component
}

func oneOf(s string) map[string]bool {
	if s == "" {
		return nil
	}
	return map[string]bool{s: true}
}
