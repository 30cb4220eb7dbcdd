// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dpor

import "github.com/aclements/weft"

// A DepState tracks the domain state the dependency relation needs:
// which cells have pending buffered writes (and whose), and each
// thread's masking state (ThrowTo interruptibility depends on the
// target's mask).
type DepState struct {
	memtype  weft.MemType
	buffered map[weft.CRefID]map[weft.ThreadID]int
	masks    map[weft.ThreadID]weft.MaskingState
}

// NewDepState returns the dependency state at the start of an
// execution under memtype.
func NewDepState(memtype weft.MemType) *DepState {
	return &DepState{
		memtype:  memtype,
		buffered: make(map[weft.CRefID]map[weft.ThreadID]int),
		masks:    make(map[weft.ThreadID]weft.MaskingState),
	}
}

// Clone returns an independent copy of s.
func (s *DepState) Clone() *DepState {
	n := NewDepState(s.memtype)
	for c, writers := range s.buffered {
		m := make(map[weft.ThreadID]int, len(writers))
		for t, k := range writers {
			m[t] = k
		}
		n.buffered[c] = m
	}
	for t, m := range s.masks {
		n.masks[t] = m
	}
	return n
}

// Update advances s over one executed step.
func (s *DepState) Update(tid weft.ThreadID, a weft.ThreadAction) {
	switch a.Kind {
	case weft.ActWriteCRef:
		if s.memtype != weft.SequentialConsistency {
			writers := s.buffered[a.CRef]
			if writers == nil {
				writers = make(map[weft.ThreadID]int)
				s.buffered[a.CRef] = writers
			}
			writers[tid]++
		}
	case weft.ActCommitCRef:
		s.dropBuffered(a.CRef, a.Thread, 1)
	case weft.ActFork:
		s.masks[a.Thread] = s.masks[tid]
	case weft.ActStop:
		delete(s.masks, tid)
	case weft.ActSetMasking, weft.ActResetMasking:
		s.masks[tid] = a.Masking
	}
	if isSynchronised(a.Kind) {
		// The step flushed tid's buffers before acting.
		for c, writers := range s.buffered {
			if _, ok := writers[tid]; ok {
				s.dropBuffered(c, tid, writers[tid])
			}
		}
	}
}

func (s *DepState) dropBuffered(c weft.CRefID, tid weft.ThreadID, n int) {
	writers := s.buffered[c]
	if writers == nil {
		return
	}
	writers[tid] -= n
	if writers[tid] <= 0 {
		delete(writers, tid)
	}
	if len(writers) == 0 {
		delete(s.buffered, c)
	}
}

func (s *DepState) isBuffered(c weft.CRefID) bool {
	return len(s.buffered[c]) > 0
}

func (s *DepState) bufferedBy(c weft.CRefID, tid weft.ThreadID) bool {
	return s.buffered[c][tid] > 0
}

// canInterrupt reports whether a ThrowTo aimed at tid would deliver
// given tid's masking state and the step it is at.
func (s *DepState) canInterrupt(tid weft.ThreadID, a weft.ThreadAction) bool {
	switch s.masks[tid] {
	case weft.Unmasked:
		return true
	case weft.MaskedInterruptible:
		switch a.Kind {
		case weft.ActBlockedPutMVar, weft.ActBlockedReadMVar, weft.ActBlockedTakeMVar,
			weft.ActBlockedSTM, weft.ActBlockedThrowTo:
			return true
		}
	}
	return false
}

// canInterruptL is canInterrupt over a lookahead. A lookahead never
// predicts blocking, so a masked-interruptible target is conservatively
// interruptible whenever the predicted step could block.
func (s *DepState) canInterruptL(tid weft.ThreadID, l weft.Lookahead) bool {
	switch s.masks[tid] {
	case weft.Unmasked:
		return true
	case weft.MaskedInterruptible:
		switch l.Kind {
		case weft.ActPutMVar, weft.ActReadMVar, weft.ActTakeMVar, weft.ActSTM, weft.ActThrowTo:
			return true
		}
	}
	return false
}

// isSynchronised reports whether a step of this kind imposed a write
// barrier on its thread.
func isSynchronised(k weft.ActionKind) bool {
	switch k {
	case weft.ActNewMVar,
		weft.ActPutMVar, weft.ActBlockedPutMVar, weft.ActTryPutMVar,
		weft.ActReadMVar, weft.ActBlockedReadMVar, weft.ActTryReadMVar,
		weft.ActTakeMVar, weft.ActBlockedTakeMVar, weft.ActTryTakeMVar,
		weft.ActSTM, weft.ActBlockedSTM, weft.ActThrownSTM,
		weft.ActModCRef, weft.ActModCRefCas, weft.ActCasCRef,
		weft.ActThrowTo, weft.ActBlockedThrowTo:
		return true
	}
	return false
}

// mvarOf extracts the MVar an action raced on. Creation is excluded:
// no other thread can name an MVar before the creating step's
// continuation shares it.
func mvarOf(a weft.ThreadAction) (weft.MVarID, bool) {
	switch a.Kind {
	case weft.ActPutMVar, weft.ActBlockedPutMVar, weft.ActTryPutMVar,
		weft.ActReadMVar, weft.ActBlockedReadMVar, weft.ActTryReadMVar,
		weft.ActTakeMVar, weft.ActBlockedTakeMVar, weft.ActTryTakeMVar:
		return a.MVar, true
	}
	return 0, false
}

func isFailedTry(a weft.ThreadAction) bool {
	switch a.Kind {
	case weft.ActTryPutMVar, weft.ActTryReadMVar, weft.ActTryTakeMVar:
		return !a.OK
	}
	return false
}

func crefOf(a weft.ThreadAction) (weft.CRefID, bool) {
	switch a.Kind {
	case weft.ActReadCRef, weft.ActReadCRefCas,
		weft.ActModCRef, weft.ActModCRefCas, weft.ActWriteCRef,
		weft.ActCasCRef, weft.ActCommitCRef:
		return a.CRef, true
	}
	return 0, false
}

func isCRefWrite(k weft.ActionKind) bool {
	switch k {
	case weft.ActModCRef, weft.ActModCRefCas, weft.ActWriteCRef,
		weft.ActCasCRef, weft.ActCommitCRef:
		return true
	}
	return false
}

func tvarOverlap(xs, ys []weft.TVarID) bool {
	for _, x := range xs {
		for _, y := range ys {
			if x == y {
				return true
			}
		}
	}
	return false
}

func tvarsTouched(a weft.ThreadAction) []weft.TVarID {
	return append(append([]weft.TVarID(nil), a.TVarsRead...), a.TVarsWritten...)
}

// Dependent reports whether two executed steps by different threads
// cannot be reordered without possibly changing behaviour.
func Dependent(s *DepState, t1 weft.ThreadID, a1 weft.ThreadAction, t2 weft.ThreadID, a2 weft.ThreadAction) bool {
	if t1 == t2 {
		return true
	}
	// Same MVar, except two try operations that both failed: those
	// observed the same emptiness or fullness and commute.
	if m1, ok := mvarOf(a1); ok {
		if m2, ok2 := mvarOf(a2); ok2 && m1 == m2 {
			if !(isFailedTry(a1) && isFailedTry(a2)) {
				return true
			}
		}
	}
	// Same CRef with a write on either side, or any two operations on
	// a cell with buffered writes (reads of such a cell are
	// thread-relative).
	if c1, ok := crefOf(a1); ok {
		if c2, ok2 := crefOf(a2); ok2 && c1 == c2 {
			if isCRefWrite(a1.Kind) || isCRefWrite(a2.Kind) || s.isBuffered(c1) {
				return true
			}
		}
	}
	// A synchronising action commits its thread's buffered writes, so
	// it orders against any operation on a cell that thread has
	// writes buffered on.
	if isSynchronised(a1.Kind) {
		if c2, ok := crefOf(a2); ok && s.bufferedBy(c2, t1) {
			return true
		}
	}
	if isSynchronised(a2.Kind) {
		if c1, ok := crefOf(a1); ok && s.bufferedBy(c1, t2) {
			return true
		}
	}
	// Overlapping TVar footprints with a write on either side.
	if tvarOverlap(tvarsTouched(a1), a2.TVarsWritten) || tvarOverlap(a1.TVarsWritten, tvarsTouched(a2)) {
		return true
	}
	// Asynchronous exceptions aimed at an interruptible thread order
	// against everything that thread does.
	if isThrowTo(a1.Kind) && a1.Thread == t2 && s.canInterrupt(t2, a2) {
		return true
	}
	if isThrowTo(a2.Kind) && a2.Thread == t1 && s.canInterrupt(t1, a1) {
		return true
	}
	// Thread creation and termination order against the affected
	// thread's steps.
	if a1.Kind == weft.ActFork && a1.Thread == t2 {
		return true
	}
	if a2.Kind == weft.ActFork && a2.Thread == t1 {
		return true
	}
	if a1.Kind == weft.ActStop && isThrowTo(a2.Kind) && a2.Thread == t1 {
		return true
	}
	if a2.Kind == weft.ActStop && isThrowTo(a1.Kind) && a1.Thread == t2 {
		return true
	}
	return false
}

func isThrowTo(k weft.ActionKind) bool {
	return k == weft.ActThrowTo || k == weft.ActBlockedThrowTo
}

// DependentL is Dependent with the second side known only as a
// lookahead. The unknown footprint of a future STM step is
// approximated conservatively.
func DependentL(s *DepState, t1 weft.ThreadID, a1 weft.ThreadAction, t2 weft.ThreadID, l weft.Lookahead) bool {
	if t1 == t2 {
		return true
	}
	if m1, ok := mvarOf(a1); ok {
		if m2, ok2 := mvarOfL(l); ok2 && m1 == m2 {
			return true
		}
	}
	if c1, ok := crefOf(a1); ok {
		if c2, ok2 := crefOfL(l); ok2 && c1 == c2 {
			if isCRefWrite(a1.Kind) || isCRefWriteL(l.Kind) || s.isBuffered(c1) {
				return true
			}
		}
	}
	if isSynchronised(a1.Kind) {
		if c2, ok := crefOfL(l); ok && s.bufferedBy(c2, t1) {
			return true
		}
	}
	if isSynchronised(l.Kind) {
		if c1, ok := crefOf(a1); ok && s.bufferedBy(c1, t2) {
			return true
		}
	}
	// An upcoming transaction's footprint is unknown: treat it as
	// overlapping any transactional step.
	if l.Kind == weft.ActSTM && len(tvarsTouched(a1)) > 0 {
		return true
	}
	if l.Kind == weft.ActThrowTo && l.Thread == t1 && s.canInterrupt(t1, a1) {
		return true
	}
	if isThrowTo(a1.Kind) && a1.Thread == t2 && s.canInterruptL(t2, l) {
		return true
	}
	if a1.Kind == weft.ActFork && a1.Thread == t2 {
		return true
	}
	if a1.Kind == weft.ActStop && l.Kind == weft.ActThrowTo && l.Thread == t1 {
		return true
	}
	if l.Kind == weft.ActStop && isThrowTo(a1.Kind) && a1.Thread == t2 {
		return true
	}
	return false
}

func mvarOfL(l weft.Lookahead) (weft.MVarID, bool) {
	switch l.Kind {
	case weft.ActPutMVar, weft.ActTryPutMVar, weft.ActReadMVar,
		weft.ActTryReadMVar, weft.ActTakeMVar, weft.ActTryTakeMVar:
		return l.MVar, true
	}
	return 0, false
}

func crefOfL(l weft.Lookahead) (weft.CRefID, bool) {
	switch l.Kind {
	case weft.ActReadCRef, weft.ActReadCRefCas, weft.ActModCRef,
		weft.ActModCRefCas, weft.ActWriteCRef, weft.ActCasCRef,
		weft.ActCommitCRef:
		return l.CRef, true
	}
	return 0, false
}

func isCRefWriteL(k weft.ActionKind) bool {
	return isCRefWrite(k)
}
