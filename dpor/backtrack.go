// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dpor

import "github.com/aclements/weft"

// A BacktrackStep is one step of a completed execution annotated with
// the backtracking points the analysis wants at it.
type BacktrackStep struct {
	Thread   weft.ThreadID
	Decision weft.Decision
	Action   weft.ThreadAction
	Runnable []weft.ThreadLookahead

	// Backtracks maps threads to re-explore from this point to
	// whether the point is conservative.
	Backtracks map[weft.ThreadID]bool

	// State is the dependency state in which this step executed (just
	// before its action).
	State *DepState
}

// A BacktrackFunc inserts a backtracking point for t at step i,
// possibly adding further points of its own (conservative ones, or
// fairness-driven ones).
type BacktrackFunc func(bs []BacktrackStep, i int, t weft.ThreadID)

func backtrackTo(b *BacktrackStep, t weft.ThreadID, conservative bool) {
	if cur, ok := b.Backtracks[t]; ok {
		if conservative && !cur {
			b.Backtracks[t] = true
		}
		return
	}
	b.Backtracks[t] = conservative
}

// BacktrackAt inserts a backtracking point for t at step i. If t is
// not runnable there, every thread runnable at i is backtracked
// instead. An existing non-conservative point is upgraded when the new
// one is conservative.
func BacktrackAt(bs []BacktrackStep, i int, t weft.ThreadID, conservative bool) {
	b := &bs[i]
	if !lookaheadHas(b.Runnable, t) {
		for _, r := range b.Runnable {
			backtrackTo(b, r.Thread, conservative)
		}
		return
	}
	backtrackTo(b, t, conservative)
}

// PbBacktrack is the pre-emption bound's insertion strategy: the
// requested point, plus a conservative point at the nearest earlier
// context switch (skipping commit steps). The conservative point
// counters the artificial dependencies the bound introduces and is
// never suppressed by sleep sets.
func PbBacktrack(bs []BacktrackStep, i int, t weft.ThreadID) {
	BacktrackAt(bs, i, t, false)
	for j := i - 1; j > 0; j-- {
		if bs[j].Thread != bs[j-1].Thread &&
			bs[j].Action.Kind != weft.ActCommitCRef &&
			bs[j-1].Action.Kind != weft.ActCommitCRef {
			BacktrackAt(bs, j, t, true)
			return
		}
	}
}

// willRelease reports whether a predicted step could unblock another
// thread or end the program.
func willRelease(l weft.Lookahead) bool {
	switch l.Kind {
	case weft.ActYield, weft.ActPutMVar, weft.ActTryPutMVar,
		weft.ActTakeMVar, weft.ActTryTakeMVar, weft.ActSTM,
		weft.ActThrowTo, weft.ActStop:
		return true
	}
	return false
}

// FairBacktrack is the fair bound's insertion strategy: when the
// target is about to perform a release operation, every thread
// runnable at i is backtracked, since the release can shift which
// thread the yield-count spread charges.
func FairBacktrack(bs []BacktrackStep, i int, t weft.ThreadID) {
	if la, ok := lookaheadFor(bs[i].Runnable, t); ok && willRelease(la) {
		for _, r := range bs[i].Runnable {
			backtrackTo(&bs[i], r.Thread, false)
		}
		return
	}
	BacktrackAt(bs, i, t, false)
}

// CombinedBacktrack applies both bounds' insertion strategies.
func CombinedBacktrack(bs []BacktrackStep, i int, t weft.ThreadID) {
	PbBacktrack(bs, i, t)
	FairBacktrack(bs, i, t)
}

// FindBacktrackSteps walks a completed execution and computes where to
// backtrack: for every step j and every thread u runnable there but
// not chosen, each prior thread's most recent step (up to and
// including j) whose action is dependent with u's next step gets a
// point targeting u. If the execution was killed by the bound, the
// final step's alternatives are treated as dependent with everything.
func FindBacktrackSteps(memtype weft.MemType, backtrack BacktrackFunc, boundKill bool, trace weft.Trace) []BacktrackStep {
	if backtrack == nil {
		backtrack = func(bs []BacktrackStep, i int, t weft.ThreadID) { BacktrackAt(bs, i, t, false) }
	}
	state := NewDepState(memtype)
	bs := make([]BacktrackStep, 0, len(trace))
	prev := weft.InitialThread
	for j, e := range trace {
		tid := weft.TidOf(prev, e.Decision)
		bs = append(bs, BacktrackStep{
			Thread:     tid,
			Decision:   e.Decision,
			Action:     e.Action,
			Runnable:   e.Runnable,
			Backtracks: make(map[weft.ThreadID]bool),
			State:      state.Clone(),
		})
		state.Update(tid, e.Action)
		killed := boundKill && j == len(trace)-1
		for _, r := range e.Runnable {
			u := r.Thread
			if u == tid {
				continue
			}
			handled := make(map[weft.ThreadID]bool)
			for i := j; i >= 0; i-- {
				v := bs[i].Thread
				if v == u || handled[v] {
					continue
				}
				if killed || DependentL(bs[i].State, v, bs[i].Action, u, r.Lookahead) {
					backtrack(bs, i, u)
					handled[v] = true
				}
			}
		}
		prev = tid
	}
	return bs
}
