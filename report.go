// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package forge

import (
	"time"

	"github.com/hashicorp/go-multierror"
)

// RuleReport summarizes one rule's outcome for a BuildReport.
type RuleReport struct {
	Name       string
	Status     Status
	Fingerprint string
	Duration   time.Duration
	Err        error
}

// BuildReport is what build()/run()/test() return to the CLI/driver.
type BuildReport struct {
	Rules []RuleReport
	// Err aggregates every rule failure via hashicorp/go-multierror so a
	// keep_going build can report all of them, not just the first.
	Err error
}

func newBuildReport(states map[string]*RuleState, order []string) *BuildReport {
	report := &BuildReport{Rules: make([]RuleReport, 0, len(states))}
	var merr *multierror.Error
	for _, name := range order {
		st := states[name]
		var dur time.Duration
		if !st.StartedAt.IsZero() && !st.FinishedAt.IsZero() {
			dur = st.FinishedAt.Sub(st.StartedAt)
		}
		report.Rules = append(report.Rules, RuleReport{
			Name:        name,
			Status:      st.Status,
			Fingerprint: st.Fingerprint,
			Duration:    dur,
			Err:         st.Err,
		})
		if st.Status == Failed && st.Err != nil {
			merr = multierror.Append(merr, st.Err)
		}
	}
	if merr != nil {
		report.Err = merr.ErrorOrNil()
	}
	return report
}

// Success reports whether every rule reached a non-Failed terminal state.
func (r *BuildReport) Success() bool { return r.Err == nil }
