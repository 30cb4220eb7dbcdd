// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dpor

import (
	"testing"

	"github.com/aclements/weft"
)

func step(kind weft.DecisionKind, tid weft.ThreadID, act weft.ActionKind) PrefixStep {
	return PrefixStep{
		Decision: weft.Decision{Kind: kind, Thread: tid},
		Thread:   tid,
		Action:   weft.ThreadAction{Kind: act},
	}
}

func TestPreemptionCounting(t *testing.T) {
	prefix := []PrefixStep{
		step(weft.Start, 0, weft.ActNewCRef),
		step(weft.Continue, 0, weft.ActWriteCRef),
		step(weft.SwitchTo, 1, weft.ActWriteCRef), // pre-emption 1
		step(weft.Continue, 1, weft.ActYield),
		step(weft.SwitchTo, 0, weft.ActReadCRef), // free: follows a yield
	}
	next := CandidateStep{
		Decision:  weft.Decision{Kind: weft.SwitchTo, Thread: 1},
		Thread:    1,
		Lookahead: weft.Lookahead{Kind: weft.ActReadCRef},
	}
	if got := preemptions(prefix, next); got != 2 {
		t.Errorf("want 2 pre-emptions, got %d", got)
	}
	if PreemptionBound(2)(prefix, next) != true {
		t.Errorf("pb=2 should admit 2 pre-emptions")
	}
	if PreemptionBound(1)(prefix, next) != false {
		t.Errorf("pb=1 should reject 2 pre-emptions")
	}
}

func TestFairBound(t *testing.T) {
	prefix := []PrefixStep{
		step(weft.Start, 0, weft.ActNewMVar),
		step(weft.SwitchTo, 1, weft.ActYield),
		step(weft.Continue, 1, weft.ActYield),
		step(weft.Continue, 1, weft.ActYield),
	}
	yieldNext := CandidateStep{
		Decision:  weft.Decision{Kind: weft.Continue, Thread: 1},
		Thread:    1,
		Lookahead: weft.Lookahead{Kind: weft.ActYield},
	}
	if got := yieldSpread(prefix, yieldNext); got != 4 {
		t.Errorf("want spread 4, got %d", got)
	}
	if FairBound(3)(prefix, yieldNext) {
		t.Errorf("fb=3 should reject a fourth yield against a zero-yield thread")
	}
	if !FairBound(4)(prefix, yieldNext) {
		t.Errorf("fb=4 should admit spread 4")
	}
	// A non-yield step by the spinner does not raise the spread.
	other := CandidateStep{
		Decision:  weft.Decision{Kind: weft.Continue, Thread: 1},
		Thread:    1,
		Lookahead: weft.Lookahead{Kind: weft.ActReadCRef},
	}
	if !FairBound(3)(prefix, other) {
		t.Errorf("fb=3 should admit a non-yield step at spread 3")
	}
}

func TestCombinedBound(t *testing.T) {
	prefix := []PrefixStep{
		step(weft.Start, 0, weft.ActWriteCRef),
		step(weft.SwitchTo, 1, weft.ActWriteCRef),
	}
	next := CandidateStep{
		Decision:  weft.Decision{Kind: weft.SwitchTo, Thread: 0},
		Thread:    0,
		Lookahead: weft.Lookahead{Kind: weft.ActReadCRef},
	}
	if !CombinedBound(2, 5)(prefix, next) {
		t.Errorf("combined bound should admit 2 pre-emptions, 0 yields")
	}
	if CombinedBound(1, 5)(prefix, next) {
		t.Errorf("combined bound should reject on the pre-emption side")
	}
}
