// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package weft

import (
	"errors"
	"fmt"
	"testing"
)

// selSched runs a scripted schedule: each selector picks from the
// runnable snapshot. After the script is exhausted it falls back to
// round-robin.
type selSched struct {
	picks []func([]ThreadLookahead) ThreadID
}

func (s *selSched) Schedule(prior *Choice, runnable []ThreadLookahead) (ThreadID, bool) {
	if len(s.picks) == 0 {
		return RoundRobin{}.Schedule(prior, runnable)
	}
	f := s.picks[0]
	s.picks = s.picks[1:]
	return f(runnable), true
}

func pick(t ThreadID) func([]ThreadLookahead) ThreadID {
	return func([]ThreadLookahead) ThreadID { return t }
}

func pickCommit() func([]ThreadLookahead) ThreadID {
	return func(runnable []ThreadLookahead) ThreadID {
		for _, r := range runnable {
			if r.Thread.IsCommit() {
				return r.Thread
			}
		}
		panic("no commit thread runnable")
	}
}

func run(t *testing.T, p Prog) (Result, Trace) {
	t.Helper()
	return RunConcurrency(RoundRobin{}, Settings{}, p)
}

func hasKind(trace Trace, k ActionKind) bool {
	for _, e := range trace {
		if e.Action.Kind == k {
			return true
		}
	}
	return false
}

func TestPutTake(t *testing.T) {
	p := Bind(NewMVar("m"), func(mv Value) Prog {
		m := mv.(MVarID)
		return Seq(
			Fork("producer", Put(m, 42)),
			Take(m),
		)
	})
	res, _ := run(t, p)
	if !res.Ok() || res.Value != 42 {
		t.Errorf("want 42, got %v", res)
	}
}

func TestTakeDeadlock(t *testing.T) {
	p := Bind(NewMVar("m"), func(mv Value) Prog {
		return Take(mv.(MVarID))
	})
	res, trace := run(t, p)
	if res.Failure != Deadlock {
		t.Errorf("want deadlock, got %v", res)
	}
	last := trace[len(trace)-1].Action
	if last.Kind != ActBlockedTakeMVar || last.MVar != 0 {
		t.Errorf("want trace ending in BlockedTakeMVar(m0), got %v", last)
	}
}

func TestTryOpsNeverBlock(t *testing.T) {
	p := Bind(NewMVar("m"), func(mv Value) Prog {
		m := mv.(MVarID)
		return Bind(TryTake(m), func(a Value) Prog {
			return Bind(TryPut(m, 1), func(b Value) Prog {
				return Bind(TryPut(m, 2), func(c Value) Prog {
					return Bind(TryRead(m), func(d Value) Prog {
						return Bind(TryTake(m), func(e Value) Prog {
							return Pure(fmt.Sprintf("%v %v %v %v %v", a, b, c, d, e))
						})
					})
				})
			})
		})
	})
	res, _ := run(t, p)
	want := "[<nil> false] true false [1 true] [1 true]"
	if res.Value != want {
		t.Errorf("want %q, got %v", want, res)
	}
}

func TestReadMVarNonDestructive(t *testing.T) {
	p := Bind(NewMVar("m"), func(mv Value) Prog {
		m := mv.(MVarID)
		return Seq(
			Put(m, 9),
			Bind(Read(m), func(a Value) Prog {
				return Bind(Take(m), func(b Value) Prog {
					return Pure(fmt.Sprintf("%v%v", a, b))
				})
			}),
		)
	})
	res, _ := run(t, p)
	if res.Value != "99" {
		t.Errorf("want 99, got %v", res)
	}
}

func TestMyTIDAndCaps(t *testing.T) {
	p := Bind(MyTID(), func(tid Value) Prog {
		return Seq(SetCaps(4), Bind(GetCaps(), func(n Value) Prog {
			return Pure(fmt.Sprintf("%v/%v", tid, n))
		}))
	})
	res, _ := run(t, p)
	if res.Value != "t0/4" {
		t.Errorf("want t0/4, got %v", res)
	}
}

func TestLift(t *testing.T) {
	calls := 0
	p := Lift(func() Value { calls++; return 7 })
	res, trace := run(t, p)
	if res.Value != 7 || calls != 1 {
		t.Errorf("want 7 after 1 call, got %v after %d", res, calls)
	}
	if !hasKind(trace, ActLift) {
		t.Errorf("no Lift step in trace")
	}
}

func TestMessage(t *testing.T) {
	p := Then(Message("hello"), Pure(1))
	res, trace := run(t, p)
	if res.Value != 1 {
		t.Errorf("want 1, got %v", res)
	}
	found := false
	for _, e := range trace {
		if e.Action.Kind == ActMessage && e.Action.Msg == "hello" {
			found = true
		}
	}
	if !found {
		t.Errorf("no Message(hello) in trace:\n%v", trace)
	}
}

var errBoom = errors.New("boom")

func TestCatchThrow(t *testing.T) {
	p := Catch(Throw(errBoom), func(err error) (Prog, bool) {
		return Pure("caught:" + err.Error()), true
	})
	res, _ := run(t, p)
	if res.Value != "caught:boom" {
		t.Errorf("want caught:boom, got %v", res)
	}
}

func TestUncaughtException(t *testing.T) {
	res, trace := run(t, Throw(errBoom))
	if res.Failure != UncaughtException || res.Err != errBoom {
		t.Errorf("want uncaught boom, got %v", res)
	}
	if trace[len(trace)-1].Action.Kind != ActThrow {
		t.Errorf("want trace ending in Throw, got %v", trace[len(trace)-1].Action)
	}
}

func TestCatchDecline(t *testing.T) {
	p := Catch(Throw(errBoom), func(err error) (Prog, bool) { return nil, false })
	res, _ := run(t, p)
	if res.Failure != UncaughtException {
		t.Errorf("want uncaught, got %v", res)
	}
}

func TestNestedCatch(t *testing.T) {
	inner := Catch(Throw(errBoom), func(err error) (Prog, bool) { return nil, false })
	p := Catch(inner, func(err error) (Prog, bool) {
		return Pure("outer:" + err.Error()), true
	})
	res, _ := run(t, p)
	if res.Value != "outer:boom" {
		t.Errorf("want outer:boom, got %v", res)
	}
}

func TestPopCatchingBalances(t *testing.T) {
	// A body that does not throw pops its handler; a later throw must
	// not see it.
	p := Seq(
		Catch(Pure("fine"), func(err error) (Prog, bool) { return Pure("handled"), true }),
		Throw(errBoom),
	)
	res, _ := run(t, p)
	if res.Failure != UncaughtException {
		t.Errorf("handler leaked across PopCatching: %v", res)
	}
}

func TestThrowToUnmasked(t *testing.T) {
	p := Bind(NewMVar("m"), func(mv Value) Prog {
		m := mv.(MVarID)
		return Bind(Fork("victim", Take(m)), func(vv Value) Prog {
			return Seq(ThrowTo(vv.(ThreadID), errBoom), Pure("ok"))
		})
	})
	res, trace := run(t, p)
	if res.Value != "ok" {
		t.Errorf("want ok, got %v", res)
	}
	if !hasKind(trace, ActThrowTo) {
		t.Errorf("no ThrowTo in trace:\n%v", trace)
	}
}

func TestThrowToUninterruptible(t *testing.T) {
	p := Bind(NewMVar("m"), func(mv Value) Prog {
		m := mv.(MVarID)
		victim := Mask(MaskedUninterruptible, func(restore func(Prog) Prog) Prog {
			return Take(m)
		})
		return Bind(Fork("victim", victim), func(vv Value) Prog {
			return Seq(ThrowTo(vv.(ThreadID), errBoom), Pure("ok"))
		})
	})
	res, trace := run(t, p)
	if res.Failure != Deadlock {
		t.Errorf("want deadlock, got %v", res)
	}
	if !hasKind(trace, ActBlockedThrowTo) {
		t.Errorf("no BlockedThrowTo in trace:\n%v", trace)
	}
}

func TestThrowToInterruptibleMask(t *testing.T) {
	// MaskedInterruptible + blocked on an MVar is interruptible.
	p := Bind(NewMVar("m"), func(mv Value) Prog {
		m := mv.(MVarID)
		victim := Mask(MaskedInterruptible, func(restore func(Prog) Prog) Prog {
			return Take(m)
		})
		return Bind(Fork("victim", victim), func(vv Value) Prog {
			return Seq(ThrowTo(vv.(ThreadID), errBoom), Pure("ok"))
		})
	})
	res, _ := run(t, p)
	if res.Value != "ok" {
		t.Errorf("want ok, got %v", res)
	}
}

func TestMaskRestoreSequence(t *testing.T) {
	p := Mask(MaskedUninterruptible, func(restore func(Prog) Prog) Prog {
		return restore(Pure("x"))
	})
	_, trace := run(t, p)
	var masks []string
	for _, e := range trace {
		if e.Action.Kind == ActSetMasking || e.Action.Kind == ActResetMasking {
			masks = append(masks, e.Action.String())
		}
	}
	want := []string{
		"SetMasking(masked (uninterruptible), explicit=false)",
		"SetMasking(unmasked, explicit=true)",
		"ResetMasking(masked (uninterruptible), explicit=true)",
		"ResetMasking(unmasked, explicit=false)",
	}
	if fmt.Sprint(masks) != fmt.Sprint(want) {
		t.Errorf("want masking sequence %v, got %v", want, masks)
	}
}

func TestForkInheritsMasking(t *testing.T) {
	// A child forked under a mask is uninterruptible, so ThrowTo at it
	// blocks and the program deadlocks.
	p := Bind(NewMVar("m"), func(mv Value) Prog {
		m := mv.(MVarID)
		return Mask(MaskedUninterruptible, func(restore func(Prog) Prog) Prog {
			return Bind(Fork("child", Take(m)), func(vv Value) Prog {
				return Seq(ThrowTo(vv.(ThreadID), errBoom), Pure("ok"))
			})
		})
	})
	res, _ := run(t, p)
	if res.Failure != Deadlock {
		t.Errorf("want deadlock, got %v", res)
	}
}

func TestSubconcurrency(t *testing.T) {
	p := Bind(Sub(Return(5)), func(rv Value) Prog {
		r := rv.(Result)
		if !r.Ok() {
			return Pure("inner failed")
		}
		return Pure(r.Value)
	})
	res, trace := run(t, p)
	if res.Value != 5 {
		t.Errorf("want 5, got %v", res)
	}
	if !hasKind(trace, ActSubconcurrency) || !hasKind(trace, ActStopSubconcurrency) {
		t.Errorf("missing subconcurrency markers:\n%v", trace)
	}
}

func TestSubconcurrencyInnerFailure(t *testing.T) {
	p := Bind(Sub(Throw(errBoom)), func(rv Value) Prog {
		r := rv.(Result)
		return Pure(fmt.Sprintf("%v/%v", r.Failure, r.Err))
	})
	res, _ := run(t, p)
	if res.Value != "uncaught exception/boom" {
		t.Errorf("want inner uncaught to surface in Result, got %v", res)
	}
}

func TestIllegalSubconcurrency(t *testing.T) {
	p := Seq(
		Fork("d", Yield()),
		Sub(Pure(1)),
	)
	res, _ := run(t, p)
	if res.Failure != IllegalSubconcurrency {
		t.Errorf("want illegal subconcurrency, got %v", res)
	}
}

func TestInvariantFailure(t *testing.T) {
	inv := Invariant{Name: "non-negative", Check: func(s Snapshot) error {
		if v := s.ReadCRef(0); v != nil {
			if n, ok := v.(int); ok && n < 0 {
				return fmt.Errorf("cell went negative: %d", n)
			}
		}
		return nil
	}}
	p := Bind(NewCRef("x", 0), func(xv Value) Prog {
		return Then(WriteC(xv.(CRefID), -1), Pure("ok"))
	})
	res, _ := RunConcurrency(RoundRobin{}, Settings{Invariants: []Invariant{inv}}, p)
	if res.Failure != InvariantFailure {
		t.Errorf("want invariant failure, got %v", res)
	}
}

func TestDecisionConsistency(t *testing.T) {
	// I1: if the runnable snapshot at step i does not contain the
	// thread of step i-1, the decision must be Start.
	p := Bind(NewMVar("m"), func(mv Value) Prog {
		m := mv.(MVarID)
		return Seq(
			Fork("a", Put(m, 1)),
			Fork("b", Then(Take(m), Put(m, 2))),
			Take(m),
		)
	})
	_, trace := run(t, p)
	prev := InitialThread
	for i, e := range trace {
		if i > 0 && !containsThread(e.Runnable, prev) && e.Decision.Kind != Start {
			t.Errorf("step %d: prior %v not runnable but decision %v", i, prev, e.Decision)
		}
		prev = TidOf(prev, e.Decision)
	}
}

func TestScriptedWakeOrder(t *testing.T) {
	// Two takers block; a put wakes both; the first scheduled taker
	// wins and the other blocks again.
	p := Bind(NewMVar("m"), func(mv Value) Prog {
		m := mv.(MVarID)
		return Bind(NewMVar("out"), func(ov Value) Prog {
			out := ov.(MVarID)
			taker := func() Prog {
				return Bind(Take(m), func(v Value) Prog { return Put(out, v) })
			}
			return Seq(
				Fork("t1", taker()),
				Fork("t2", taker()),
				Put(m, 1),
				Take(out),
			)
		})
	})
	sched := &selSched{picks: []func([]ThreadLookahead) ThreadID{
		pick(0), pick(0), pick(0), pick(0), // news, forks
		pick(1), pick(2), // both takers block
		pick(0), // put wakes both
	}}
	res, trace := RunConcurrency(sched, Settings{}, p)
	if !res.Ok() || res.Value != 1 {
		t.Fatalf("want 1, got %v", res)
	}
	// The put must report both takers woken.
	found := false
	for _, e := range trace {
		if e.Action.Kind == ActPutMVar && e.Action.MVar == 0 {
			if len(e.Action.Woken) != 2 {
				t.Errorf("want 2 woken, got %v", e.Action.Woken)
			}
			found = true
		}
	}
	if !found {
		t.Fatalf("no PutMVar step in trace:\n%v", trace)
	}
	// One taker re-blocks after losing the race.
	count := 0
	for _, e := range trace {
		if e.Action.Kind == ActBlockedTakeMVar {
			count++
		}
	}
	if count < 3 {
		t.Errorf("want the losing taker to block again (3 blocks), got %d", count)
	}
}
