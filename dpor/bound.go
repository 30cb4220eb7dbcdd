// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dpor

import "github.com/aclements/weft"

// Default bounds for SCTBound.
const (
	DefaultPreemptionBound = 2
	DefaultFairBound       = 5
)

// A PrefixStep is one executed step of a schedule prefix as a bound
// function sees it.
type PrefixStep struct {
	Decision weft.Decision
	Thread   weft.ThreadID
	Action   weft.ThreadAction
}

// A CandidateStep is a step a scheduler is considering.
type CandidateStep struct {
	Decision  weft.Decision
	Thread    weft.ThreadID
	Lookahead weft.Lookahead
}

// A BoundFunc decides whether extending prefix with next stays within
// the bound.
type BoundFunc func(prefix []PrefixStep, next CandidateStep) bool

// NoBound admits every schedule.
func NoBound() BoundFunc {
	return func([]PrefixStep, CandidateStep) bool { return true }
}

// preemptions counts the pre-emptive context switches in prefix plus
// the candidate: a SwitchTo whose preceding action was not a Yield.
func preemptions(prefix []PrefixStep, next CandidateStep) int {
	n := 0
	for i, s := range prefix {
		if s.Decision.Kind != weft.SwitchTo {
			continue
		}
		if i > 0 && prefix[i-1].Action.Kind == weft.ActYield {
			continue
		}
		n++
	}
	if next.Decision.Kind == weft.SwitchTo {
		if len(prefix) == 0 || prefix[len(prefix)-1].Action.Kind != weft.ActYield {
			n++
		}
	}
	return n
}

// PreemptionBound admits schedules with at most pb pre-emptions.
func PreemptionBound(pb int) BoundFunc {
	return func(prefix []PrefixStep, next CandidateStep) bool {
		return preemptions(prefix, next) <= pb
	}
}

// yieldSpread returns the difference between the most- and
// least-yielding threads over the prefix plus the candidate.
func yieldSpread(prefix []PrefixStep, next CandidateStep) int {
	counts := make(map[weft.ThreadID]int)
	for _, s := range prefix {
		if _, ok := counts[s.Thread]; !ok {
			counts[s.Thread] = 0
		}
		if s.Action.Kind == weft.ActYield {
			counts[s.Thread]++
		}
	}
	if _, ok := counts[next.Thread]; !ok {
		counts[next.Thread] = 0
	}
	if next.Lookahead.Kind == weft.ActYield {
		counts[next.Thread]++
	}
	min, max, first := 0, 0, true
	for _, n := range counts {
		if first || n < min {
			min = n
		}
		if first || n > max {
			max = n
		}
		first = false
	}
	return max - min
}

// FairBound admits schedules where no thread out-yields another by
// more than fb. This cuts off spinners: a thread yielding in a loop
// while the rest of the program never yields runs out of bound after
// fb yields.
func FairBound(fb int) BoundFunc {
	return func(prefix []PrefixStep, next CandidateStep) bool {
		return yieldSpread(prefix, next) <= fb
	}
}

// CombinedBound admits schedules within both the pre-emption and the
// fair bound.
func CombinedBound(pb, fb int) BoundFunc {
	p, f := PreemptionBound(pb), FairBound(fb)
	return func(prefix []PrefixStep, next CandidateStep) bool {
		return p(prefix, next) && f(prefix, next)
	}
}
