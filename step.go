// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package weft

// stepOut is the outcome of one step: the observed action, the spliced
// trace and final choice of a subconcurrent region, and a terminal
// failure if the step ended the execution.
type stepOut struct {
	act      ThreadAction
	sub      Trace
	subFinal *Choice
	fail     Failure
	err      error
}

// step reduces the chosen thread's head action by exactly one step.
// The caller guarantees the thread is runnable (present and not
// blocked); commit threads are synthesized from the write buffer and
// have no record in the thread table.
func (c *context) step(sched Scheduler, tid ThreadID) stepOut {
	if tid.IsCommit() {
		return c.stepCommit(tid)
	}
	thr := c.threads[tid]
	switch act := thr.cont.(type) {
	case aFork:
		saved := thr.masking
		unmask := func(p Prog) Prog {
			return func(k Cont) action {
				return aResetMask{set: true, explicit: true, state: Unmasked,
					k: func(Value) action {
						return p(func(v Value) action {
							return aResetMask{set: false, explicit: true, state: saved, val: v, k: k}
						})
					}}
			}
		}
		newtid := c.ids.newThreadID(act.name)
		c.threads[newtid] = newThread(act.body(unmask), saved)
		thr.cont = act.k(newtid)
		return stepOut{act: ThreadAction{Kind: ActFork, Thread: newtid}}

	case aMyTID:
		thr.cont = act.k(tid)
		return stepOut{act: ThreadAction{Kind: ActMyThreadID}}

	case aGetCaps:
		thr.cont = act.k(c.caps)
		return stepOut{act: ThreadAction{Kind: ActGetNumCapabilities, Caps: c.caps}}

	case aSetCaps:
		c.caps = act.n
		thr.cont = act.k(nil)
		return stepOut{act: ThreadAction{Kind: ActSetNumCapabilities, Caps: act.n}}

	case aYield:
		thr.cont = act.k(nil)
		return stepOut{act: ThreadAction{Kind: ActYield}}

	case aReturn:
		thr.cont = act.k(act.val)
		return stepOut{act: ThreadAction{Kind: ActReturn}}

	case aStop:
		delete(c.threads, tid)
		return stepOut{act: ThreadAction{Kind: ActStop}}

	case aLift:
		v := act.eff()
		thr.cont = act.k(v)
		return stepOut{act: ThreadAction{Kind: ActLift}}

	case aMessage:
		thr.cont = act.k(nil)
		return stepOut{act: ThreadAction{Kind: ActMessage, Msg: act.msg}}

	case aNewMVar:
		c.writeBarrier(tid)
		m := c.ids.newMVarID(act.name)
		c.mvars[m] = &mvar{}
		thr.knowMVar(m)
		thr.cont = act.k(m)
		return stepOut{act: ThreadAction{Kind: ActNewMVar, MVar: m}}

	case aPutMVar:
		c.writeBarrier(tid)
		mv := c.mvars[act.mvar]
		thr.knowMVar(act.mvar)
		if mv.full {
			thr.blocked = blockedOn{kind: onMVarFull, mvar: act.mvar}
			mv.waitingFull = append(mv.waitingFull, tid)
			return stepOut{act: ThreadAction{Kind: ActBlockedPutMVar, MVar: act.mvar}}
		}
		mv.val, mv.full = act.val, true
		woken := c.wakeQueue(&mv.waitingEmpty)
		thr.cont = act.k(nil)
		return stepOut{act: ThreadAction{Kind: ActPutMVar, MVar: act.mvar, Woken: woken}}

	case aTryPutMVar:
		c.writeBarrier(tid)
		mv := c.mvars[act.mvar]
		thr.knowMVar(act.mvar)
		ok := !mv.full
		var woken []ThreadID
		if ok {
			mv.val, mv.full = act.val, true
			woken = c.wakeQueue(&mv.waitingEmpty)
		}
		thr.cont = act.k(ok)
		return stepOut{act: ThreadAction{Kind: ActTryPutMVar, MVar: act.mvar, OK: ok, Woken: woken}}

	case aReadMVar:
		c.writeBarrier(tid)
		mv := c.mvars[act.mvar]
		thr.knowMVar(act.mvar)
		if !mv.full {
			thr.blocked = blockedOn{kind: onMVarEmpty, mvar: act.mvar}
			mv.waitingEmpty = append(mv.waitingEmpty, tid)
			return stepOut{act: ThreadAction{Kind: ActBlockedReadMVar, MVar: act.mvar}}
		}
		thr.cont = act.k(mv.val)
		return stepOut{act: ThreadAction{Kind: ActReadMVar, MVar: act.mvar}}

	case aTryReadMVar:
		c.writeBarrier(tid)
		mv := c.mvars[act.mvar]
		thr.knowMVar(act.mvar)
		if mv.full {
			thr.cont = act.k(mv.val, true)
		} else {
			thr.cont = act.k(nil, false)
		}
		return stepOut{act: ThreadAction{Kind: ActTryReadMVar, MVar: act.mvar, OK: mv.full}}

	case aTakeMVar:
		c.writeBarrier(tid)
		mv := c.mvars[act.mvar]
		thr.knowMVar(act.mvar)
		if !mv.full {
			thr.blocked = blockedOn{kind: onMVarEmpty, mvar: act.mvar}
			mv.waitingEmpty = append(mv.waitingEmpty, tid)
			return stepOut{act: ThreadAction{Kind: ActBlockedTakeMVar, MVar: act.mvar}}
		}
		v := mv.val
		mv.val, mv.full = nil, false
		woken := c.wakeQueue(&mv.waitingFull)
		thr.cont = act.k(v)
		return stepOut{act: ThreadAction{Kind: ActTakeMVar, MVar: act.mvar, Woken: woken}}

	case aTryTakeMVar:
		c.writeBarrier(tid)
		mv := c.mvars[act.mvar]
		thr.knowMVar(act.mvar)
		ok := mv.full
		var woken []ThreadID
		if ok {
			v := mv.val
			mv.val, mv.full = nil, false
			woken = c.wakeQueue(&mv.waitingFull)
			thr.cont = act.k(v, true)
		} else {
			thr.cont = act.k(nil, false)
		}
		return stepOut{act: ThreadAction{Kind: ActTryTakeMVar, MVar: act.mvar, OK: ok, Woken: woken}}

	case aNewCRef:
		cr := c.ids.newCRefID(act.name)
		c.crefs[cr] = &cref{val: act.val, seen: make(map[ThreadID]Value)}
		thr.knowCRef(cr)
		thr.cont = act.k(cr)
		return stepOut{act: ThreadAction{Kind: ActNewCRef, CRef: cr}}

	case aReadCRef:
		thr.knowCRef(act.cref)
		thr.cont = act.k(c.readCRef(tid, act.cref))
		return stepOut{act: ThreadAction{Kind: ActReadCRef, CRef: act.cref}}

	case aReadCRefCas:
		thr.knowCRef(act.cref)
		thr.cont = act.k(c.readForTicket(tid, act.cref))
		return stepOut{act: ThreadAction{Kind: ActReadCRefCas, CRef: act.cref}}

	case aWriteCRef:
		thr.knowCRef(act.cref)
		if c.memtype == SequentialConsistency {
			c.writeImmediate(act.cref, act.val)
		} else {
			c.bufferWrite(tid, act.cref, act.val)
		}
		thr.cont = act.k(nil)
		return stepOut{act: ThreadAction{Kind: ActWriteCRef, CRef: act.cref}}

	case aModCRef:
		c.writeBarrier(tid)
		thr.knowCRef(act.cref)
		newv, ret := act.f(c.crefs[act.cref].val)
		c.writeImmediate(act.cref, newv)
		thr.cont = act.k(ret)
		return stepOut{act: ThreadAction{Kind: ActModCRef, CRef: act.cref}}

	case aModCRefCas:
		c.writeBarrier(tid)
		thr.knowCRef(act.cref)
		newv, ret := act.f(c.crefs[act.cref].val)
		c.writeImmediate(act.cref, newv)
		thr.cont = act.k(ret)
		return stepOut{act: ThreadAction{Kind: ActModCRefCas, CRef: act.cref}}

	case aCasCRef:
		c.writeBarrier(tid)
		thr.knowCRef(act.cref)
		ok := act.ticket.tick == c.crefs[act.cref].tick
		if ok {
			c.writeImmediate(act.cref, act.val)
		}
		thr.cont = act.k(ok, c.readForTicket(tid, act.cref))
		return stepOut{act: ThreadAction{Kind: ActCasCRef, CRef: act.cref, OK: ok}}

	case aAtom:
		return c.stepAtom(tid, thr, act)

	case aThrow:
		out := stepOut{act: ThreadAction{Kind: ActThrow}}
		out.fail, out.err = c.propagate(tid, act.err)
		return out

	case aThrowTo:
		c.writeBarrier(tid)
		target, live := c.threads[act.thread]
		if !live {
			thr.cont = act.k(nil)
			return stepOut{act: ThreadAction{Kind: ActThrowTo, Thread: act.thread}}
		}
		if !target.interruptible() {
			thr.blocked = blockedOn{kind: onMask, tid: act.thread}
			return stepOut{act: ThreadAction{Kind: ActBlockedThrowTo, Thread: act.thread}}
		}
		c.unblock(act.thread)
		thr.cont = act.k(nil)
		out := stepOut{act: ThreadAction{Kind: ActThrowTo, Thread: act.thread}}
		out.fail, out.err = c.propagate(act.thread, act.err)
		return out

	case aCatching:
		kont := act.k
		thr.handlers = append(thr.handlers, func(err error) (action, bool) {
			p, ok := act.handler(err)
			if !ok {
				return nil, false
			}
			return p(func(v Value) action { return kont(v) }), true
		})
		thr.cont = act.body(func(v Value) action { return aPopCatching{val: v, k: kont} })
		return stepOut{act: ThreadAction{Kind: ActCatching}}

	case aPopCatching:
		if len(thr.handlers) == 0 {
			return stepOut{fail: InternalError}
		}
		thr.handlers = thr.handlers[:len(thr.handlers)-1]
		thr.cont = act.k(act.val)
		return stepOut{act: ThreadAction{Kind: ActPopCatching}}

	case aMasking:
		saved := thr.masking
		restore := func(p Prog) Prog {
			return func(k Cont) action {
				return aResetMask{set: true, explicit: true, state: saved,
					k: func(Value) action {
						return p(func(v Value) action {
							return aResetMask{set: false, explicit: true, state: act.state, val: v, k: k}
						})
					}}
			}
		}
		thr.masking = act.state
		thr.cont = act.body(restore)(func(v Value) action {
			return aResetMask{set: false, explicit: false, state: saved, val: v, k: act.k}
		})
		return stepOut{act: ThreadAction{Kind: ActSetMasking, Masking: act.state}}

	case aResetMask:
		thr.masking = act.state
		thr.cont = act.k(act.val)
		kind := ActResetMasking
		if act.set {
			kind = ActSetMasking
		}
		return stepOut{act: ThreadAction{Kind: kind, Masking: act.state, Explicit: act.explicit}}

	case aSub:
		return c.stepSub(sched, tid, thr, act)

	case aStopSub:
		thr.cont = act.k(nil)
		return stepOut{act: ThreadAction{Kind: ActStopSubconcurrency}}
	}
	return stepOut{fail: InternalError}
}

// stepCommit settles the oldest buffered write named by a commit
// thread id.
func (c *context) stepCommit(tid ThreadID) stepOut {
	for k := range c.wb.buf {
		if commitThreadID(k) == tid {
			writer := k.tid
			cr := c.commitWrite(k)
			return stepOut{act: ThreadAction{Kind: ActCommitCRef, Thread: writer, CRef: cr}}
		}
	}
	return stepOut{fail: InternalError}
}

// stepAtom runs one whole transaction as a single step.
func (c *context) stepAtom(tid ThreadID, thr *thread, act aAtom) stepOut {
	c.writeBarrier(tid)
	res := c.runTransaction(act.tx)
	switch res.kind {
	case txSuccess:
		for tv, v := range res.writes {
			c.tvars[tv] = v
		}
		woken := c.wakeTVarWaiters(res.written)
		thr.cont = act.k(res.val)
		return stepOut{act: ThreadAction{
			Kind: ActSTM, TVarsRead: res.read, TVarsWritten: res.written,
			Woken: woken, STMTrace: res.trace,
		}}
	case txRetry:
		thr.blocked = blockedOn{kind: onTVar, tvars: res.read}
		return stepOut{act: ThreadAction{
			Kind: ActBlockedSTM, TVarsRead: res.read, STMTrace: res.trace,
		}}
	default: // txException
		out := stepOut{act: ThreadAction{
			Kind: ActThrownSTM, TVarsRead: res.read, STMTrace: res.trace,
		}}
		out.fail, out.err = c.propagate(tid, res.err)
		return out
	}
}

// stepSub runs a nested exploration region. The nested run shares the
// scheduler, memory model, id source, capabilities and simulated
// memory; only the thread table is fresh.
func (c *context) stepSub(sched Scheduler, tid ThreadID, thr *thread, act aSub) stepOut {
	if len(c.threads) != 1 {
		return stepOut{fail: IllegalSubconcurrency}
	}
	inner := &context{
		memtype:    c.memtype,
		ids:        c.ids,
		threads:    make(map[ThreadID]*thread),
		mvars:      c.mvars,
		crefs:      c.crefs,
		tvars:      c.tvars,
		wb:         c.wb,
		caps:       c.caps,
		initial:    c.ids.newThreadID("subconcurrency"),
		invariants: c.invariants,
	}
	root := newThread(act.p(func(v Value) action {
		inner.result = v
		return aStop{}
	}), thr.masking)
	inner.threads[inner.initial] = root
	res, subtrace, final := inner.runLoop(sched, &Choice{Thread: tid, Action: ThreadAction{Kind: ActSubconcurrency}})
	c.caps = inner.caps
	thr.cont = aStopSub{k: func(Value) action { return act.k(res) }}
	return stepOut{act: ThreadAction{Kind: ActSubconcurrency}, sub: subtrace, subFinal: final}
}

// wakeQueue unblocks every thread on an MVar wait queue and empties
// it, returning the woken threads. Woken threads re-run their blocked
// operation; losers of the race block again.
func (c *context) wakeQueue(q *[]ThreadID) []ThreadID {
	woken := *q
	for _, t := range woken {
		if thr, ok := c.threads[t]; ok {
			thr.blocked = blockedOn{}
		}
	}
	*q = nil
	return woken
}

// wakeTVarWaiters unblocks every thread watching one of the written
// TVars.
func (c *context) wakeTVarWaiters(written []TVarID) []ThreadID {
	if len(written) == 0 {
		return nil
	}
	set := make(map[TVarID]struct{}, len(written))
	for _, tv := range written {
		set[tv] = struct{}{}
	}
	var woken []ThreadID
	for _, t := range c.sortedThreadIDs() {
		thr := c.threads[t]
		if thr.blocked.kind != onTVar {
			continue
		}
		for _, tv := range thr.blocked.tvars {
			if _, hit := set[tv]; hit {
				thr.blocked = blockedOn{}
				woken = append(woken, t)
				break
			}
		}
	}
	return woken
}

// unblock clears a thread's blocking state, removing it from any MVar
// wait queue it sits on.
func (c *context) unblock(tid ThreadID) {
	thr := c.threads[tid]
	switch thr.blocked.kind {
	case onMVarFull:
		removeTid(&c.mvars[thr.blocked.mvar].waitingFull, tid)
	case onMVarEmpty:
		removeTid(&c.mvars[thr.blocked.mvar].waitingEmpty, tid)
	}
	thr.blocked = blockedOn{}
}

func removeTid(q *[]ThreadID, tid ThreadID) {
	for i, t := range *q {
		if t == tid {
			*q = append((*q)[:i], (*q)[i+1:]...)
			return
		}
	}
}

// propagate delivers err on tid's handler stack. An uncaught exception
// fails the whole execution if tid is the root thread, and otherwise
// kills tid alone.
func (c *context) propagate(tid ThreadID, err error) (Failure, error) {
	thr := c.threads[tid]
	for i := len(thr.handlers) - 1; i >= 0; i-- {
		if cont, ok := thr.handlers[i](err); ok {
			thr.handlers = thr.handlers[:i]
			thr.cont = cont
			thr.blocked = blockedOn{}
			return NoFailure, nil
		}
	}
	if tid == c.initial {
		return UncaughtException, err
	}
	delete(c.threads, tid)
	return NoFailure, nil
}
