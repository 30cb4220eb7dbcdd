// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package weft

import "fmt"

// Software transactional memory. A transaction runs to completion
// inside one scheduling step of the enclosing thread: it accumulates a
// read log and a write log over TVars, and either commits, retries
// (blocking the thread on its read set), or throws.

// An stmAction is one suspended transactional primitive.
type stmAction interface {
	isSTM()
}

type (
	sNew struct {
		name string
		val  Value
		k    func(TVarID) stmAction
	}
	sRead struct {
		tvar TVarID
		k    func(Value) stmAction
	}
	sWrite struct {
		tvar TVarID
		val  Value
		k    stmAction
	}
	sRetry  struct{}
	sOrElse struct {
		a, b STMProg
		k    func(Value) stmAction
	}
	sCatch struct {
		body    STMProg
		handler func(error) (STMProg, bool)
		k       func(Value) stmAction
	}
	sThrow struct{ err error }
	sStop  struct{ val Value }
)

func (sNew) isSTM()    {}
func (sRead) isSTM()   {}
func (sWrite) isSTM()  {}
func (sRetry) isSTM()  {}
func (sOrElse) isSTM() {}
func (sCatch) isSTM()  {}
func (sThrow) isSTM()  {}
func (sStop) isSTM()   {}

// An STMProg is a suspended transaction producing a Value, built with
// the STM* combinators below.
type STMProg func(k func(Value) stmAction) stmAction

// STMPure yields v.
func STMPure(v Value) STMProg {
	return func(k func(Value) stmAction) stmAction { return k(v) }
}

// STMBind sequences p with f applied to p's result.
func STMBind(p STMProg, f func(Value) STMProg) STMProg {
	return func(k func(Value) stmAction) stmAction {
		return p(func(v Value) stmAction { return f(v)(k) })
	}
}

// STMThen sequences p with q, discarding p's result.
func STMThen(p, q STMProg) STMProg {
	return STMBind(p, func(Value) STMProg { return q })
}

// NewTVar allocates a transactional cell tagged name holding v.
func NewTVar(name string, v Value) STMProg {
	return func(k func(Value) stmAction) stmAction {
		return sNew{name: name, val: v, k: func(tv TVarID) stmAction { return k(tv) }}
	}
}

// ReadTVar yields the transaction's view of tv.
func ReadTVar(tv TVarID) STMProg {
	return func(k func(Value) stmAction) stmAction {
		return sRead{tvar: tv, k: func(v Value) stmAction { return k(v) }}
	}
}

// WriteTVar stores v into tv within the transaction.
func WriteTVar(tv TVarID, v Value) STMProg {
	return func(k func(Value) stmAction) stmAction {
		return sWrite{tvar: tv, val: v, k: k(nil)}
	}
}

// Retry abandons the transaction and blocks the thread until a TVar in
// the transaction's read set changes, then reruns it.
func Retry() STMProg {
	return func(func(Value) stmAction) stmAction { return sRetry{} }
}

// OrElse runs a; if a retries, its writes are rolled back and b runs
// instead.
func OrElse(a, b STMProg) STMProg {
	return func(k func(Value) stmAction) stmAction {
		return sOrElse{a: a, b: b, k: func(v Value) stmAction { return k(v) }}
	}
}

// STMCatch runs body; if it throws an exception for which handler
// reports true, body's writes are rolled back and the handler runs.
func STMCatch(body STMProg, handler func(error) (STMProg, bool)) STMProg {
	return func(k func(Value) stmAction) stmAction {
		return sCatch{body: body, handler: handler, k: func(v Value) stmAction { return k(v) }}
	}
}

// STMThrow aborts the transaction with err; no writes are applied.
func STMThrow(err error) STMProg {
	return func(func(Value) stmAction) stmAction { return sThrow{err: err} }
}

// STMCheck retries unless ok.
func STMCheck(ok bool) STMProg {
	if ok {
		return STMPure(nil)
	}
	return Retry()
}

// A TActionKind tags one recorded transactional primitive.
type TActionKind int

const (
	TNew TActionKind = iota
	TRead
	TWrite
	TRetry
	TOrElse
	TCatch
	TThrow
	TStop
)

var tactionNames = [...]string{
	TNew: "TNew", TRead: "TRead", TWrite: "TWrite", TRetry: "TRetry",
	TOrElse: "TOrElse", TCatch: "TCatch", TThrow: "TThrow", TStop: "TStop",
}

// A TAction is one entry of a transaction's inner trace.
type TAction struct {
	Kind TActionKind
	TVar TVarID
}

func (a TAction) String() string {
	switch a.Kind {
	case TNew, TRead, TWrite:
		return fmt.Sprintf("%s(%v)", tactionNames[a.Kind], a.TVar)
	}
	if int(a.Kind) < len(tactionNames) {
		return tactionNames[a.Kind]
	}
	return fmt.Sprintf("TAction(%d)", int(a.Kind))
}

type txKind int

const (
	txSuccess txKind = iota
	txRetry
	txException
)

// A txResult is the outcome of running one transaction: the kind, the
// value or exception, the footprint, and the inner trace.
type txResult struct {
	kind    txKind
	val     Value
	err     error
	read    []TVarID
	written []TVarID
	writes  map[TVarID]Value // the surviving write log, applied on commit
	trace   []TAction
}

// txState is the mutable state of one transaction run. writes is the
// uncommitted write log; reads and written accumulate the footprint
// across rollbacks (a rolled-back branch still read its TVars).
type txState struct {
	ctx     *context
	writes  map[TVarID]Value
	reads   map[TVarID]struct{}
	written map[TVarID]struct{}
	trace   []TAction
}

func (s *txState) snapshotWrites() map[TVarID]Value {
	m := make(map[TVarID]Value, len(s.writes))
	for k, v := range s.writes {
		m[k] = v
	}
	return m
}

// run reduces a to a terminal action (sStop, sRetry or sThrow),
// executing reads and writes against the transaction log.
func (s *txState) run(a stmAction) stmAction {
	for {
		switch act := a.(type) {
		case sNew:
			tv := s.ctx.ids.newTVarID(act.name)
			s.writes[tv] = act.val
			s.written[tv] = struct{}{}
			s.trace = append(s.trace, TAction{Kind: TNew, TVar: tv})
			a = act.k(tv)
		case sRead:
			v, ok := s.writes[act.tvar]
			if !ok {
				v = s.ctx.tvars[act.tvar]
			}
			s.reads[act.tvar] = struct{}{}
			s.trace = append(s.trace, TAction{Kind: TRead, TVar: act.tvar})
			a = act.k(v)
		case sWrite:
			s.writes[act.tvar] = act.val
			s.written[act.tvar] = struct{}{}
			s.trace = append(s.trace, TAction{Kind: TWrite, TVar: act.tvar})
			a = act.k
		case sOrElse:
			s.trace = append(s.trace, TAction{Kind: TOrElse})
			saved := s.snapshotWrites()
			t := s.run(act.a(func(v Value) stmAction { return sStop{val: v} }))
			if _, retried := t.(sRetry); retried {
				s.writes = saved
				t = s.run(act.b(func(v Value) stmAction { return sStop{val: v} }))
			}
			stop, ok := t.(sStop)
			if !ok {
				return t
			}
			a = act.k(stop.val)
		case sCatch:
			s.trace = append(s.trace, TAction{Kind: TCatch})
			saved := s.snapshotWrites()
			t := s.run(act.body(func(v Value) stmAction { return sStop{val: v} }))
			if thrown, threw := t.(sThrow); threw {
				h, ok := act.handler(thrown.err)
				if !ok {
					return t
				}
				s.writes = saved
				t = s.run(h(func(v Value) stmAction { return sStop{val: v} }))
			}
			stop, ok := t.(sStop)
			if !ok {
				return t
			}
			a = act.k(stop.val)
		case sRetry, sThrow, sStop:
			return a
		default:
			panic("weft: unknown STM action")
		}
	}
}

// runTransaction executes tx against the context's TVars without
// applying any writes; the caller commits on success.
func (c *context) runTransaction(tx STMProg) txResult {
	s := &txState{
		ctx:     c,
		writes:  make(map[TVarID]Value),
		reads:   make(map[TVarID]struct{}),
		written: make(map[TVarID]struct{}),
	}
	t := s.run(tx(func(v Value) stmAction { return sStop{val: v} }))
	res := txResult{read: sortedTVars(s.reads), trace: s.trace}
	switch term := t.(type) {
	case sStop:
		res.kind = txSuccess
		res.val = term.val
		res.written = sortedTVars(s.written)
		res.trace = append(res.trace, TAction{Kind: TStop})
		// Keep only surviving log entries: written records every TVar
		// touched by a write, including rolled-back branches, but the
		// commit applies the final log.
		res.writes = s.writes
	case sRetry:
		res.kind = txRetry
		res.trace = append(res.trace, TAction{Kind: TRetry})
	case sThrow:
		res.kind = txException
		res.err = term.err
		res.trace = append(res.trace, TAction{Kind: TThrow})
	}
	return res
}

func sortedTVars(set map[TVarID]struct{}) []TVarID {
	out := make([]TVarID, 0, len(set))
	for tv := range set {
		out = append(out, tv)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
