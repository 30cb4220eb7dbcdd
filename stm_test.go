// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package weft

import (
	"fmt"
	"testing"
)

func TestAtomicallyPure(t *testing.T) {
	// A transaction with no TVar traffic is a single STM step with an
	// empty footprint.
	p := Atomically(STMPure(42))
	res, trace := run(t, p)
	if res.Value != 42 {
		t.Errorf("want 42, got %v", res)
	}
	var stm []ThreadAction
	for _, e := range trace {
		if e.Action.Kind == ActSTM {
			stm = append(stm, e.Action)
		}
	}
	if len(stm) != 1 {
		t.Fatalf("want exactly one STM step, got %d:\n%v", len(stm), trace)
	}
	if len(stm[0].TVarsRead) != 0 || len(stm[0].TVarsWritten) != 0 {
		t.Errorf("want empty footprint, got read %v written %v", stm[0].TVarsRead, stm[0].TVarsWritten)
	}
}

func TestTVarReadWrite(t *testing.T) {
	p := Bind(Atomically(NewTVar("v", 1)), func(vv Value) Prog {
		v := vv.(TVarID)
		return Seq(
			Atomically(WriteTVar(v, 2)),
			Atomically(ReadTVar(v)),
		)
	})
	res, _ := run(t, p)
	if res.Value != 2 {
		t.Errorf("want 2, got %v", res)
	}
}

func TestSTMDeadlock(t *testing.T) {
	res, _ := run(t, Atomically(Retry()))
	if res.Failure != STMDeadlock {
		t.Errorf("want STM deadlock, got %v", res)
	}
}

func TestOrElse(t *testing.T) {
	p := Atomically(OrElse(Retry(), STMPure(9)))
	res, _ := run(t, p)
	if res.Value != 9 {
		t.Errorf("want 9, got %v", res)
	}
}

func TestOrElseRollsBackWrites(t *testing.T) {
	// The first branch writes then retries; its write must not
	// survive into the committed state.
	p := Bind(Atomically(NewTVar("v", 0)), func(vv Value) Prog {
		v := vv.(TVarID)
		tx := OrElse(
			STMThen(WriteTVar(v, 99), Retry()),
			ReadTVar(v),
		)
		return Atomically(tx)
	})
	res, _ := run(t, p)
	if res.Value != 0 {
		t.Errorf("want 0 (rolled back), got %v", res)
	}
}

func TestSTMCatch(t *testing.T) {
	p := Atomically(STMCatch(STMThrow(errBoom), func(err error) (STMProg, bool) {
		return STMPure("caught:" + err.Error()), true
	}))
	res, _ := run(t, p)
	if res.Value != "caught:boom" {
		t.Errorf("want caught:boom, got %v", res)
	}
}

func TestSTMThrowDiscardsWrites(t *testing.T) {
	p := Bind(Atomically(NewTVar("v", 0)), func(vv Value) Prog {
		v := vv.(TVarID)
		failing := Atomically(STMThen(WriteTVar(v, 5), STMThrow(errBoom)))
		return Seq(
			Catch(failing, func(err error) (Prog, bool) { return Pure(nil), true }),
			Atomically(ReadTVar(v)),
		)
	})
	res, trace := run(t, p)
	if res.Value != 0 {
		t.Errorf("want 0 (writes discarded), got %v", res)
	}
	if !hasKind(trace, ActThrownSTM) {
		t.Errorf("no ThrownSTM step in trace:\n%v", trace)
	}
}

func TestSTMRetryWakeup(t *testing.T) {
	p := Bind(Atomically(NewTVar("v", 0)), func(vv Value) Prog {
		v := vv.(TVarID)
		return Bind(NewMVar("done"), func(dv Value) Prog {
			d := dv.(MVarID)
			wait := Atomically(STMBind(ReadTVar(v), func(x Value) STMProg {
				if x.(int) == 0 {
					return Retry()
				}
				return STMPure(x)
			}))
			return Seq(
				Fork("waiter", Bind(wait, func(x Value) Prog { return Put(d, x) })),
				Atomically(WriteTVar(v, 1)),
				Take(d),
			)
		})
	})
	sched := &selSched{picks: []func([]ThreadLookahead) ThreadID{
		pick(0), pick(0), pick(0), // new tvar, new mvar, fork
		pick(1), // waiter retries and blocks
		pick(0), // writer commits and wakes it
	}}
	res, trace := RunConcurrency(sched, Settings{}, p)
	if res.Value != 1 {
		t.Errorf("want 1, got %v", res)
	}
	// BlockedSTM, then an STM step whose woken set names the waiter,
	// then the waiter's successful STM step.
	// The TVar-creating transaction before the block also writes, but
	// wakes nobody; only writes after the block are checked.
	seq := []ActionKind{}
	blocked := false
	for _, e := range trace {
		switch e.Action.Kind {
		case ActBlockedSTM, ActSTM:
			seq = append(seq, e.Action.Kind)
			if e.Action.Kind == ActBlockedSTM {
				blocked = true
			}
			if blocked && e.Action.Kind == ActSTM && len(e.Action.TVarsWritten) > 0 {
				if fmt.Sprint(e.Action.Woken) != "[t1]" {
					t.Errorf("want writer to wake [t1], got %v", e.Action.Woken)
				}
			}
		}
	}
	want := []ActionKind{ActSTM, ActBlockedSTM, ActSTM, ActSTM}
	if fmt.Sprint(seq) != fmt.Sprint(want) {
		t.Errorf("want STM step sequence %v, got %v", want, seq)
	}
}

func TestSTMTraceRecorded(t *testing.T) {
	p := Bind(Atomically(NewTVar("v", 0)), func(vv Value) Prog {
		v := vv.(TVarID)
		return Atomically(STMThen(WriteTVar(v, 1), ReadTVar(v)))
	})
	res, trace := run(t, p)
	if res.Value != 1 {
		t.Errorf("want 1, got %v", res)
	}
	for _, e := range trace {
		if e.Action.Kind == ActSTM && len(e.Action.TVarsWritten) > 0 && len(e.Action.STMTrace) == 0 {
			t.Errorf("STM step carries no inner trace: %v", e.Action)
		}
	}
}
