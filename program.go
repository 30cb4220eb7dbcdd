// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package weft

// Builder combinators for simulated programs. These construct the lazy
// action trees the interpreter consumes; nothing here runs anything.
// Combinators taking an id (Put, WriteC, ...) are normally used inside
// a Bind closure so the id allocated by an earlier step is in scope.

// stopCont discards the thread's final value and stops it. The run
// loop installs a result-capturing continuation on the initial thread
// instead.
func stopCont(Value) action { return aStop{} }

// Pure yields v without taking a scheduling step.
func Pure(v Value) Prog {
	return func(k Cont) action { return k(v) }
}

// Bind sequences p with f applied to p's result.
func Bind(p Prog, f func(Value) Prog) Prog {
	return func(k Cont) action {
		return p(func(v Value) action { return f(v)(k) })
	}
}

// Then sequences p with q, discarding p's result.
func Then(p, q Prog) Prog {
	return Bind(p, func(Value) Prog { return q })
}

// Seq sequences any number of programs, yielding the last one's value.
func Seq(ps ...Prog) Prog {
	if len(ps) == 0 {
		return Pure(nil)
	}
	p := ps[0]
	for _, q := range ps[1:] {
		p = Then(p, q)
	}
	return p
}

// Defer builds the program only when it is reached, so recursive
// programs (loops) can be expressed without building an infinite tree.
func Defer(f func() Prog) Prog {
	return func(k Cont) action { return f()(k) }
}

// Return yields v after one observable Return step.
func Return(v Value) Prog {
	return func(k Cont) action { return aReturn{val: v, k: k} }
}

// Stop terminates the current thread immediately. The rest of the
// thread's program never runs.
func Stop() Prog {
	return func(Cont) action { return aStop{} }
}

// Fork starts p on a new thread tagged name and yields the new
// ThreadID. The child inherits the parent's masking state.
func Fork(name string, p Prog) Prog {
	return ForkWithUnmask(name, func(func(Prog) Prog) Prog { return p })
}

// ForkWithUnmask is Fork for children that need to unmask themselves:
// f receives a helper that runs a program with masking temporarily
// removed.
func ForkWithUnmask(name string, f func(unmask func(Prog) Prog) Prog) Prog {
	return func(k Cont) action {
		return aFork{
			name: name,
			body: func(unmask func(Prog) Prog) action { return f(unmask)(stopCont) },
			k:    func(t ThreadID) action { return k(t) },
		}
	}
}

// MyTID yields the calling thread's id.
func MyTID() Prog {
	return func(k Cont) action { return aMyTID{k: func(t ThreadID) action { return k(t) }} }
}

// Yield takes one scheduling step that does nothing. Bounded
// schedulers treat a switch after a yield as free.
func Yield() Prog {
	return func(k Cont) action { return aYield{k: k} }
}

// GetCaps yields the simulated capability count.
func GetCaps() Prog {
	return func(k Cont) action { return aGetCaps{k: func(n int) action { return k(n) }} }
}

// SetCaps sets the simulated capability count.
func SetCaps(n int) Prog {
	return func(k Cont) action { return aSetCaps{n: n, k: k} }
}

// Lift runs a host-level effect and yields its result. The effect must
// be deterministically replayable: it runs once per execution
// encounter, and an explorer encounters it once per explored schedule.
func Lift(eff func() Value) Prog {
	return func(k Cont) action { return aLift{eff: eff, k: func(v Value) action { return k(v) }} }
}

// Message records payload in the trace and yields nothing.
func Message(payload Value) Prog {
	return func(k Cont) action { return aMessage{msg: payload, k: k} }
}

// NewMVar allocates an empty MVar tagged name and yields its MVarID.
func NewMVar(name string) Prog {
	return func(k Cont) action {
		return aNewMVar{name: name, k: func(m MVarID) action { return k(m) }}
	}
}

// Put stores v into m, blocking while m is full.
func Put(m MVarID, v Value) Prog {
	return func(k Cont) action { return aPutMVar{mvar: m, val: v, k: k} }
}

// TryPut stores v into m if m is empty, yielding whether it did.
func TryPut(m MVarID, v Value) Prog {
	return func(k Cont) action {
		return aTryPutMVar{mvar: m, val: v, k: func(ok bool) action { return k(ok) }}
	}
}

// Take drains and yields m's value, blocking while m is empty.
func Take(m MVarID) Prog {
	return func(k Cont) action {
		return aTakeMVar{mvar: m, k: func(v Value) action { return k(v) }}
	}
}

// TryTake drains m if it is full, yielding (value, ok). On failure the
// value is nil.
func TryTake(m MVarID) Prog {
	return func(k Cont) action {
		return aTryTakeMVar{mvar: m, k: func(v Value, ok bool) action { return k([2]Value{v, ok}) }}
	}
}

// Read yields m's value without draining it, blocking while m is
// empty.
func Read(m MVarID) Prog {
	return func(k Cont) action {
		return aReadMVar{mvar: m, k: func(v Value) action { return k(v) }}
	}
}

// TryRead yields (value, ok) without draining or blocking.
func TryRead(m MVarID) Prog {
	return func(k Cont) action {
		return aTryReadMVar{mvar: m, k: func(v Value, ok bool) action { return k([2]Value{v, ok}) }}
	}
}

// NewCRef allocates a shared cell tagged name holding v.
func NewCRef(name string, v Value) Prog {
	return func(k Cont) action {
		return aNewCRef{name: name, val: v, k: func(c CRefID) action { return k(c) }}
	}
}

// ReadC yields the value of c visible to the calling thread under the
// run's memory model.
func ReadC(c CRefID) Prog {
	return func(k Cont) action {
		return aReadCRef{cref: c, k: func(v Value) action { return k(v) }}
	}
}

// WriteC stores v into c. Under a relaxed memory model the store is
// buffered until a commit or a barrier.
func WriteC(c CRefID, v Value) Prog {
	return func(k Cont) action { return aWriteCRef{cref: c, val: v, k: k} }
}

// ModC atomically replaces c's value through f, which maps the current
// value to (new value, result). ModC imposes a write barrier.
func ModC(c CRefID, f func(Value) (Value, Value)) Prog {
	return func(k Cont) action {
		return aModCRef{cref: c, f: f, k: func(v Value) action { return k(v) }}
	}
}

// ModCCas is ModC recorded as a ModCRefCas step. Like ModC it is
// atomic in one step, imposes a write barrier and bumps the cell's CAS
// tick.
func ModCCas(c CRefID, f func(Value) (Value, Value)) Prog {
	return func(k Cont) action {
		return aModCRefCas{cref: c, f: f, k: func(v Value) action { return k(v) }}
	}
}

// ReadForCAS yields a Ticket snapshotting c for a later CAS.
func ReadForCAS(c CRefID) Prog {
	return func(k Cont) action {
		return aReadCRefCas{cref: c, k: func(t Ticket) action { return k(t) }}
	}
}

// CAS stores v into c if c has not been written since ticket was
// taken, yielding ([ok, new ticket]).
func CAS(c CRefID, ticket Ticket, v Value) Prog {
	return func(k Cont) action {
		return aCasCRef{cref: c, ticket: ticket, val: v, k: func(ok bool, t Ticket) action {
			return k([2]Value{ok, t})
		}}
	}
}

// Atomically runs tx as a single atomic scheduling step.
func Atomically(tx STMProg) Prog {
	return func(k Cont) action {
		return aAtom{tx: tx, k: func(v Value) action { return k(v) }}
	}
}

// Throw raises err on the calling thread.
func Throw(err error) Prog {
	return func(Cont) action { return aThrow{err: err} }
}

// ThrowTo raises err asynchronously on thread t, blocking until t is
// interruptible.
func ThrowTo(t ThreadID, err error) Prog {
	return func(k Cont) action { return aThrowTo{thread: t, err: err, k: k} }
}

// Catch runs body; if body throws an exception for which handler
// reports true, the handler program runs in its place.
func Catch(body Prog, handler func(error) (Prog, bool)) Prog {
	return func(k Cont) action {
		return aCatching{handler: handler, body: body, k: func(v Value) action { return k(v) }}
	}
}

// CatchAll is Catch with a handler that handles every exception.
func CatchAll(body Prog, handler func(error) Prog) Prog {
	return Catch(body, func(err error) (Prog, bool) { return handler(err), true })
}

// Mask runs body under masking state m. body receives a restore helper
// that runs a program under the masking state the caller had.
func Mask(m MaskingState, body func(restore func(Prog) Prog) Prog) Prog {
	return func(k Cont) action {
		return aMasking{state: m, body: body, k: func(v Value) action { return k(v) }}
	}
}

// Sub explores p as a nested computation in a single observable
// region, yielding its Result. Sub is rejected with
// IllegalSubconcurrency unless the calling thread is the only live
// thread.
func Sub(p Prog) Prog {
	return func(k Cont) action {
		return aSub{p: p, k: func(r Result) action { return k(r) }}
	}
}
