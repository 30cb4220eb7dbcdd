// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package weft is a single-threaded interpreter for concurrent
// programs. A program is a lazy tree of suspended primitives (threads,
// rendezvous MVars, shared cells under a relaxed memory model,
// transactions, asynchronous exceptions); the interpreter advances one
// simulated thread per step and asks an external Scheduler which. All
// concurrency is interleaving: nothing ever runs in parallel, so a
// deterministic Scheduler yields a deterministic execution and an
// exploring one (package dpor) can enumerate the distinct behaviours
// of a program.
package weft

import (
	"sort"

	"v.io/x/lib/vlog"
)

// A Choice is one made scheduling decision: the chosen thread and the
// action it then took.
type Choice struct {
	Thread ThreadID
	Action ThreadAction
}

// A Scheduler chooses which runnable thread the interpreter advances
// next. It is consulted at every step boundary with the previous
// choice and the runnable threads with their lookaheads (non-empty,
// sorted by thread id). Returning ok == false aborts the execution
// with Abort. Schedulers are stateful; the caller keeps the value
// across a run to read flags it accumulated.
type Scheduler interface {
	Schedule(prior *Choice, runnable []ThreadLookahead) (tid ThreadID, ok bool)
}

// Settings configures one run. The zero value runs under sequential
// consistency with two capabilities.
type Settings struct {
	MemType MemType

	// Caps is the simulated capability count reported by GetCaps.
	// Zero means 2.
	Caps int

	// Invariants are checked after every step; a violation ends the
	// execution with InvariantFailure.
	Invariants []Invariant
}

// A context owns all simulated state of one run. Subconcurrent runs
// share everything except the thread table.
type context struct {
	memtype    MemType
	ids        *IDSource
	threads    map[ThreadID]*thread
	mvars      map[MVarID]*mvar
	crefs      map[CRefID]*cref
	tvars      map[TVarID]Value
	wb         *writeBuffer
	caps       int
	initial    ThreadID
	result     Value
	invariants []Invariant
}

// RunConcurrency executes p to completion under sched, returning the
// result and the trace. The trace is valid even when the result is a
// Failure; for Deadlock it ends with the step that blocked the last
// runnable thread.
func RunConcurrency(sched Scheduler, s Settings, p Prog) (Result, Trace) {
	caps := s.Caps
	if caps == 0 {
		caps = 2
	}
	c := &context{
		memtype:    s.MemType,
		ids:        NewIDSource(),
		threads:    make(map[ThreadID]*thread),
		mvars:      make(map[MVarID]*mvar),
		crefs:      make(map[CRefID]*cref),
		tvars:      make(map[TVarID]Value),
		wb:         newWriteBuffer(),
		caps:       caps,
		initial:    InitialThread,
		invariants: s.Invariants,
	}
	root := newThread(p(func(v Value) action {
		c.result = v
		return aStop{}
	}), Unmasked)
	c.threads[c.initial] = root
	res, trace, _ := c.runLoop(sched, nil)
	return res, trace
}

// runLoop drives the context until termination, deadlock, abort or
// failure. It returns the result, the trace, and the final choice (for
// splicing subconcurrent traces into the outer run).
func (c *context) runLoop(sched Scheduler, prior *Choice) (Result, Trace, *Choice) {
	var trace Trace
	for {
		if _, live := c.threads[c.initial]; !live {
			return Result{Value: c.result}, trace, prior
		}
		runnable := c.runnable()
		if len(runnable) == 0 {
			switch c.threads[c.initial].blocked.kind {
			case onMVarFull, onMVarEmpty, onMask:
				return Result{Failure: Deadlock}, trace, prior
			case onTVar:
				return Result{Failure: STMDeadlock}, trace, prior
			}
			return Result{Failure: InternalError}, trace, prior
		}
		tid, ok := sched.Schedule(prior, runnable)
		if !ok {
			return Result{Failure: Abort}, trace, prior
		}
		if !containsThread(runnable, tid) {
			return Result{Failure: InternalError}, trace, prior
		}
		decision := c.decisionFor(prior, runnable, tid)
		out := c.step(sched, tid)
		vlog.VI(3).Infof("step %d: %v %v", len(trace), decision, out.act)
		trace = append(trace, TraceEntry{Decision: decision, Runnable: runnable, Action: out.act})
		prior = &Choice{Thread: tid, Action: out.act}
		if out.sub != nil {
			trace = append(trace, out.sub...)
			if out.subFinal != nil {
				prior = out.subFinal
			}
		}
		if out.fail != NoFailure {
			return Result{Failure: out.fail, Err: out.err}, trace, prior
		}
		c.wakeMaskWaiters()
		if err := c.checkInvariants(); err != nil {
			return Result{Failure: InvariantFailure, Err: err}, trace, prior
		}
	}
}

// runnable returns every choosable thread with its lookahead, sorted
// by thread id: unblocked simulated threads plus one ephemeral commit
// thread per write-buffer queue with pending writes.
func (c *context) runnable() []ThreadLookahead {
	var out []ThreadLookahead
	for _, tid := range c.sortedThreadIDs() {
		thr := c.threads[tid]
		if thr.blocked.kind == notBlocked {
			out = append(out, ThreadLookahead{Thread: tid, Lookahead: lookaheadOf(thr.cont)})
		}
	}
	for k, q := range c.wb.buf {
		if len(q) == 0 {
			continue
		}
		out = append(out, ThreadLookahead{
			Thread:    commitThreadID(k),
			Lookahead: Lookahead{Kind: ActCommitCRef, Thread: k.tid, CRef: q[0].cref},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Thread < out[j].Thread })
	return out
}

func (c *context) sortedThreadIDs() []ThreadID {
	tids := make([]ThreadID, 0, len(c.threads))
	for tid := range c.threads {
		tids = append(tids, tid)
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })
	return tids
}

// decisionFor labels the choice of tid relative to the prior choice:
// Continue if the same thread, SwitchTo if the prior thread is still
// choosable, Start otherwise.
func (c *context) decisionFor(prior *Choice, runnable []ThreadLookahead, tid ThreadID) Decision {
	if prior == nil {
		return Decision{Kind: Start, Thread: tid}
	}
	if prior.Thread == tid {
		return Decision{Kind: Continue, Thread: tid}
	}
	if containsThread(runnable, prior.Thread) {
		return Decision{Kind: SwitchTo, Thread: tid}
	}
	return Decision{Kind: Start, Thread: tid}
}

func containsThread(runnable []ThreadLookahead, tid ThreadID) bool {
	for _, r := range runnable {
		if r.Thread == tid {
			return true
		}
	}
	return false
}

// wakeMaskWaiters unblocks every thread waiting to deliver an
// asynchronous exception to a target that is now interruptible or
// dead.
func (c *context) wakeMaskWaiters() {
	for _, thr := range c.threads {
		if thr.blocked.kind != onMask {
			continue
		}
		target, live := c.threads[thr.blocked.tid]
		if !live || target.interruptible() {
			thr.blocked = blockedOn{}
		}
	}
}

// RoundRobin is a deterministic scheduler: it always picks the first
// runnable thread after the previously chosen one, in id order.
type RoundRobin struct{}

// Schedule implements Scheduler.
func (RoundRobin) Schedule(prior *Choice, runnable []ThreadLookahead) (ThreadID, bool) {
	if prior != nil {
		for _, r := range runnable {
			if r.Thread > prior.Thread {
				return r.Thread, true
			}
		}
	}
	return runnable[0].Thread, true
}

// RandomSched picks uniformly among runnable threads using Intn, so
// any source of numbers (including a deterministic replay) drives it.
type RandomSched struct {
	Intn func(n int) int
}

// Schedule implements Scheduler.
func (s RandomSched) Schedule(prior *Choice, runnable []ThreadLookahead) (ThreadID, bool) {
	return runnable[s.Intn(len(runnable))].Thread, true
}

