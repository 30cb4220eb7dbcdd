// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package weft

type blockKind int

const (
	notBlocked blockKind = iota
	onMVarFull            // waiting for an MVar to drain
	onMVarEmpty           // waiting for an MVar to fill
	onTVar                // waiting for a watched TVar to change
	onMask                // waiting for a ThrowTo target to become interruptible
)

// blockedOn says why a thread cannot run. kind selects which of the
// other fields is meaningful.
type blockedOn struct {
	kind  blockKind
	mvar  MVarID
	tid   ThreadID
	tvars []TVarID
}

// A handler consumes an exception and produces the continuation to
// resume at, or reports that it does not handle this exception.
type handler func(error) (action, bool)

// knownRef records an MVar or CRef a thread has touched.
type knownRef struct {
	mvar bool
	id   int
}

// A thread is one simulated thread. Blocking never consumes the head
// action: a woken thread re-runs it, so a taker that loses a race
// simply blocks again.
type thread struct {
	cont     action
	blocked  blockedOn
	masking  MaskingState
	handlers []handler
	known    map[knownRef]struct{}
}

func newThread(cont action, masking MaskingState) *thread {
	return &thread{cont: cont, masking: masking, known: make(map[knownRef]struct{})}
}

func (t *thread) knowMVar(m MVarID) { t.known[knownRef{mvar: true, id: int(m)}] = struct{}{} }
func (t *thread) knowCRef(c CRefID) { t.known[knownRef{mvar: false, id: int(c)}] = struct{}{} }

// interruptible is the single interrupt predicate shared by ThrowTo
// delivery and the run loop's OnMask wakeups: a thread is
// interruptible when unmasked, or masked interruptibly while blocked
// on an interruptible primitive.
func (t *thread) interruptible() bool {
	if t.masking == Unmasked {
		return true
	}
	if t.masking != MaskedInterruptible {
		return false
	}
	switch t.blocked.kind {
	case onMVarFull, onMVarEmpty, onTVar, onMask:
		return true
	}
	return false
}

// lookaheadOf predicts the next step of a thread whose head action is
// a. The prediction never uses the Blocked* kinds.
func lookaheadOf(a action) Lookahead {
	switch act := a.(type) {
	case aFork:
		// The child id is not allocated yet; the lookahead only says
		// a fork is coming.
		return Lookahead{Kind: ActFork}
	case aMyTID:
		return Lookahead{Kind: ActMyThreadID}
	case aGetCaps:
		return Lookahead{Kind: ActGetNumCapabilities}
	case aSetCaps:
		return Lookahead{Kind: ActSetNumCapabilities, Caps: act.n}
	case aYield:
		return Lookahead{Kind: ActYield}
	case aReturn:
		return Lookahead{Kind: ActReturn}
	case aStop:
		return Lookahead{Kind: ActStop}
	case aLift:
		return Lookahead{Kind: ActLift}
	case aMessage:
		return Lookahead{Kind: ActMessage}
	case aNewMVar:
		return Lookahead{Kind: ActNewMVar}
	case aPutMVar:
		return Lookahead{Kind: ActPutMVar, MVar: act.mvar}
	case aTryPutMVar:
		return Lookahead{Kind: ActTryPutMVar, MVar: act.mvar}
	case aReadMVar:
		return Lookahead{Kind: ActReadMVar, MVar: act.mvar}
	case aTryReadMVar:
		return Lookahead{Kind: ActTryReadMVar, MVar: act.mvar}
	case aTakeMVar:
		return Lookahead{Kind: ActTakeMVar, MVar: act.mvar}
	case aTryTakeMVar:
		return Lookahead{Kind: ActTryTakeMVar, MVar: act.mvar}
	case aNewCRef:
		return Lookahead{Kind: ActNewCRef}
	case aReadCRef:
		return Lookahead{Kind: ActReadCRef, CRef: act.cref}
	case aReadCRefCas:
		return Lookahead{Kind: ActReadCRefCas, CRef: act.cref}
	case aModCRef:
		return Lookahead{Kind: ActModCRef, CRef: act.cref}
	case aModCRefCas:
		return Lookahead{Kind: ActModCRefCas, CRef: act.cref}
	case aWriteCRef:
		return Lookahead{Kind: ActWriteCRef, CRef: act.cref}
	case aCasCRef:
		return Lookahead{Kind: ActCasCRef, CRef: act.cref}
	case aCommit:
		return Lookahead{Kind: ActCommitCRef, Thread: act.thread, CRef: act.cref}
	case aAtom:
		return Lookahead{Kind: ActSTM}
	case aThrow:
		return Lookahead{Kind: ActThrow}
	case aThrowTo:
		return Lookahead{Kind: ActThrowTo, Thread: act.thread}
	case aCatching:
		return Lookahead{Kind: ActCatching}
	case aPopCatching:
		return Lookahead{Kind: ActPopCatching}
	case aMasking:
		return Lookahead{Kind: ActSetMasking, Masking: act.state}
	case aResetMask:
		if act.set {
			return Lookahead{Kind: ActSetMasking, Masking: act.state}
		}
		return Lookahead{Kind: ActResetMasking, Masking: act.state}
	case aSub:
		return Lookahead{Kind: ActSubconcurrency}
	case aStopSub:
		return Lookahead{Kind: ActStopSubconcurrency}
	}
	panic("weft: lookahead of unknown action")
}
