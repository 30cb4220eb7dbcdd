// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dpor

import (
	"fmt"

	"github.com/aclements/go-moremath/stats"
	"v.io/x/lib/vlog"

	"github.com/aclements/weft"
)

// Options configures an exploration.
type Options struct {
	// MemType is the memory model to run under.
	MemType weft.MemType

	// Preemptions and Fairness are the bound parameters; zero means
	// the defaults (2 and 5). Set Bound to override both with a
	// custom predicate.
	Preemptions int
	Fairness    int

	// Bound and Backtrack, when non-nil, replace the combined bound
	// built from Preemptions and Fairness and its insertion strategy.
	Bound     BoundFunc
	Backtrack BacktrackFunc

	// Prefer partitions schedule prefixes: prefixes whose new choice
	// satisfies it are explored first.
	Prefer func(weft.ThreadID) bool

	// Settings is passed through to the interpreter (capabilities,
	// invariants). Its MemType field is overridden by MemType.
	Settings weft.Settings
}

func (o *Options) funcs() (BoundFunc, BacktrackFunc) {
	if o.Bound != nil {
		bt := o.Backtrack
		if bt == nil {
			bt = func(bs []BacktrackStep, i int, t weft.ThreadID) { BacktrackAt(bs, i, t, false) }
		}
		return o.Bound, bt
	}
	pb, fb := o.Preemptions, o.Fairness
	if pb == 0 {
		pb = DefaultPreemptionBound
	}
	if fb == 0 {
		fb = DefaultFairBound
	}
	bt := BacktrackFunc(CombinedBacktrack)
	if o.Backtrack != nil {
		bt = o.Backtrack
	}
	return CombinedBound(pb, fb), bt
}

// An Execution is one explored run.
type Execution struct {
	Result weft.Result
	Trace  weft.Trace
}

// Stats aggregates one exploration.
type Stats struct {
	// Executions counts runs reported to the caller. Aborted counts
	// reported runs the bound cut short. Ignored counts runs thrown
	// away because every choice was asleep.
	Executions int
	Aborted    int
	Ignored    int

	// TraceLengths samples the length of every reported trace.
	TraceLengths stats.Sample
}

func (s *Stats) record(ex Execution) {
	s.Executions++
	if ex.Result.Failure == weft.Abort {
		s.Aborted++
	}
	s.TraceLengths.Xs = append(s.TraceLengths.Xs, float64(len(ex.Trace)))
}

func (s *Stats) String() string {
	if len(s.TraceLengths.Xs) == 0 {
		return fmt.Sprintf("%d executions (%d aborted, %d ignored)", s.Executions, s.Aborted, s.Ignored)
	}
	return fmt.Sprintf("%d executions (%d aborted, %d ignored), trace length mean %.1f p50 %.0f p95 %.0f",
		s.Executions, s.Aborted, s.Ignored,
		s.TraceLengths.Mean(), s.TraceLengths.Quantile(0.5), s.TraceLengths.Quantile(0.95))
}

// SCTBound systematically explores p within the configured bounds,
// calling report for every distinct execution. report returning false
// stops the exploration early. Programs are taken as constructors so
// every run interprets a fresh action tree.
func SCTBound(opts Options, prog func() weft.Prog, report func(Execution) bool) *Stats {
	bound, backtrack := opts.funcs()
	settings := opts.Settings
	settings.MemType = opts.MemType

	st := new(Stats)
	tree := NewTree()
	for {
		prefix, ok := FindSchedulePrefix(tree, opts.Prefer)
		if !ok {
			break
		}
		sched := NewSched(opts.MemType, bound, prefix)
		res, trace := weft.RunConcurrency(sched, settings, prog())
		vlog.VI(2).Infof("explored prefix %v: %v (%d steps, ignore=%v boundKill=%v)",
			prefix.Tids, res, len(trace), sched.Ignore, sched.BoundKill)
		IncorporateTrace(opts.MemType, prefix.Conservative, trace, tree)
		if sched.Ignore {
			st.Ignored++
			continue
		}
		bsteps := FindBacktrackSteps(opts.MemType, backtrack, sched.BoundKill, trace)
		IncorporateBacktrackSteps(bound, bsteps, tree)
		ex := Execution{Result: res, Trace: trace}
		st.record(ex)
		if report != nil && !report(ex) {
			break
		}
	}
	return st
}

// SCTBoundAll is SCTBound collecting every execution.
func SCTBoundAll(opts Options, prog func() weft.Prog) ([]Execution, *Stats) {
	var out []Execution
	st := SCTBound(opts, prog, func(ex Execution) bool {
		out = append(out, ex)
		return true
	})
	return out, st
}
