// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package forge

import (
	"context"
	"hash/fnv"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// stripedLockCount is the number of mutexes used to serialize
// cache-probe-and-execute per fingerprint. It need not match the
// worker count; it only needs to keep unrelated fingerprints from
// contending on the same stripe too often.
const stripedLockCount = 64

// SchedulerOptions configures a Scheduler's concurrency and failure
// handling.
type SchedulerOptions struct {
	// Jobs is the worker count. Zero or negative selects runtime.NumCPU().
	Jobs int
	// KeepGoing, when true, only cancels the dependents of a failed
	// rule instead of the whole remaining build.
	KeepGoing bool
}

// Scheduler is the parallel executor over a validated, filtered Graph.
// It respects dependency order, computes each rule's fingerprint lazily,
// consults the Cache Index and CAS for reuse, and serializes
// cache-probe-plus-execution per fingerprint so concurrent rules sharing
// one never both invoke the Runner.
type Scheduler struct {
	graph  *Graph
	cas    *Cas
	index  *CacheIndex
	runner *Runner
	log    *logrus.Entry
	opts   SchedulerOptions
	forgeOut string
	metrics *Metrics

	stripes [stripedLockCount]sync.Mutex

	mu          sync.Mutex
	states      map[string]*RuleState
	fingerprint map[string]string
	poisoned    map[string]bool
	cancelled   int32
	firstErr    error
	cancel      context.CancelFunc
}

// NewScheduler builds a Scheduler ready to run every rule in graph.
func NewScheduler(graph *Graph, cas *Cas, index *CacheIndex, runner *Runner, forgeOut string, log *logrus.Entry, metrics *Metrics, opts SchedulerOptions) *Scheduler {
	if opts.Jobs <= 0 {
		opts.Jobs = runtime.NumCPU()
	}
	states := make(map[string]*RuleState, len(graph.rules))
	for _, name := range graph.Names() {
		states[name] = &RuleState{Status: Pending}
	}
	return &Scheduler{
		graph:       graph,
		cas:         cas,
		index:       index,
		runner:      runner,
		log:         log,
		opts:        opts,
		forgeOut:    forgeOut,
		metrics:     metrics,
		states:      states,
		fingerprint: make(map[string]string),
		poisoned:    make(map[string]bool),
	}
}

// Run executes every rule in the scheduler's graph and returns the
// terminal RuleState for each; the first error encountered is available
// afterwards from FirstError. It never panics on a rule error; failures
// are recorded per-rule and aggregated by the caller into a BuildReport.
func (s *Scheduler) Run(ctx context.Context) map[string]*RuleState {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel = cancel

	names := s.graph.Names()
	indegree := make(map[string]int, len(names))
	dependents := make(map[string][]string)
	for _, name := range names {
		r := s.graph.Rule(name)
		indegree[name] = len(r.Dependencies)
		for _, dep := range r.Dependencies {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	jobs := make(chan string, len(names))
	var remaining int64 = int64(len(names))
	for _, name := range names {
		if indegree[name] == 0 {
			jobs <- name
		}
	}
	if len(names) == 0 {
		close(jobs)
		return s.states
	}

	group, _ := errgroup.WithContext(ctx)
	for i := 0; i < s.opts.Jobs; i++ {
		group.Go(func() error {
			for name := range jobs {
				s.process(ctx, name)

				s.mu.Lock()
				for _, dependent := range dependents[name] {
					indegree[dependent]--
					if indegree[dependent] == 0 {
						jobs <- dependent
					}
				}
				s.mu.Unlock()

				if atomic.AddInt64(&remaining, -1) == 0 {
					close(jobs)
				}
			}
			return nil
		})
	}
	_ = group.Wait()

	return s.states
}

// process runs the single rule named name through cache-probe and, on a
// miss, execution — recording its terminal RuleState.
func (s *Scheduler) process(ctx context.Context, name string) {
	state := s.states[name]
	r := s.graph.Rule(name)

	if s.isCancelled(name) {
		s.finish(state, Cancelled, &CancelledError{Rule: name}, time.Time{}, time.Time{})
		return
	}

	state.Status = Running
	start := time.Now()
	state.StartedAt = start

	depFingerprints := make(map[string]string, len(r.Dependencies))
	for _, dep := range r.Dependencies {
		s.mu.Lock()
		depFingerprints[dep] = s.fingerprint[dep]
		s.mu.Unlock()
	}

	memo := newHashMemo()
	fp, err := computeFingerprint(r, depFingerprints, memo)
	if err != nil {
		s.fail(name, state, err, start)
		return
	}
	state.Fingerprint = fp
	s.mu.Lock()
	s.fingerprint[name] = fp
	s.mu.Unlock()

	if len(r.Outputs) == 0 {
		// Always-run side-effect rule: never cache-hits.
		if err := s.runner.Run(ctx, r, s.forgeOut); err != nil {
			s.fail(name, state, err, start)
			return
		}
		s.finish(state, Succeeded, nil, start, time.Now())
		return
	}

	stripe := &s.stripes[fingerprintStripe(fp)]
	stripe.Lock()
	defer stripe.Unlock()

	if manifest, ok := s.index.Lookup(fp); ok {
		if s.materializeAll(manifest) {
			if s.metrics != nil {
				s.metrics.cacheHits.Inc()
			}
			s.finish(state, CacheHit, nil, start, time.Now())
			return
		}
		s.index.Invalidate(fp)
	}
	if s.metrics != nil {
		s.metrics.cacheMisses.Inc()
	}

	if err := s.runner.Run(ctx, r, s.forgeOut); err != nil {
		s.fail(name, state, err, start)
		return
	}

	outputs := make(map[string]ContentHash, len(r.Outputs))
	for _, out := range r.Outputs {
		h, err := s.cas.InsertFile(out)
		if err != nil {
			s.fail(name, state, err, start)
			return
		}
		outputs[out] = h
	}
	s.index.Insert(fp, outputs)

	s.finish(state, Succeeded, nil, start, time.Now())
}

func (s *Scheduler) materializeAll(manifest OutputManifest) bool {
	for path, h := range manifest.Outputs {
		if !s.cas.Contains(h) {
			return false
		}
		if err := s.cas.Materialize(h, path); err != nil {
			return false
		}
	}
	return true
}

func (s *Scheduler) fail(name string, state *RuleState, err error, start time.Time) {
	s.finish(state, Failed, err, start, time.Now())
	if s.metrics != nil {
		s.metrics.ruleFailures.Inc()
	}
	s.log.WithError(err).WithField("rule", name).Error("rule failed")

	s.mu.Lock()
	if s.opts.KeepGoing {
		s.poisonDependents(name)
	} else {
		atomic.StoreInt32(&s.cancelled, 1)
		// Fail-fast: reach every in-flight Runner invocation, not just
		// rules that haven't started yet — isCancelled only gates the
		// top of process(), so a sibling already inside runner.Run
		// needs the context cancelled to actually be signalled.
		if s.cancel != nil {
			s.cancel()
		}
	}
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.mu.Unlock()
}

// poisonDependents marks every transitive dependent of a failed rule so
// process() short-circuits them to Cancelled instead of running them.
// Caller must hold s.mu.
func (s *Scheduler) poisonDependents(failed string) {
	var walk func(string)
	walk = func(n string) {
		for _, name := range s.graph.Names() {
			r := s.graph.Rule(name)
			for _, dep := range r.Dependencies {
				if dep == n && !s.poisoned[name] {
					s.poisoned[name] = true
					walk(name)
				}
			}
		}
	}
	walk(failed)
}

func (s *Scheduler) isCancelled(name string) bool {
	if atomic.LoadInt32(&s.cancelled) == 1 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poisoned[name]
}

func (s *Scheduler) finish(state *RuleState, status Status, err error, start, finish time.Time) {
	state.Status = status
	state.Err = err
	if !start.IsZero() {
		state.StartedAt = start
	}
	if !finish.IsZero() {
		state.FinishedAt = finish
	}
	if s.metrics != nil && !start.IsZero() && !finish.IsZero() {
		s.metrics.buildDuration.Observe(finish.Sub(start).Seconds())
	}
}

// FirstError returns the first rule error the scheduler observed, or nil.
func (s *Scheduler) FirstError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

func fingerprintStripe(fp string) int {
	h := fnv.New32a()
	h.Write([]byte(fp))
	return int(h.Sum32() % stripedLockCount)
}
