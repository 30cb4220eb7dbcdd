// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dpor

import (
	"testing"

	"github.com/aclements/weft"
)

func TestDependentCRef(t *testing.T) {
	s := NewDepState(weft.SequentialConsistency)
	w := weft.ThreadAction{Kind: weft.ActWriteCRef, CRef: 1}
	r := weft.ThreadAction{Kind: weft.ActReadCRef, CRef: 1}
	r2 := weft.ThreadAction{Kind: weft.ActReadCRef, CRef: 2}

	if !Dependent(s, 1, w, 2, w) {
		t.Errorf("two writes to the same cell should be dependent")
	}
	if !Dependent(s, 1, w, 2, r) {
		t.Errorf("write and read of the same cell should be dependent")
	}
	if Dependent(s, 1, r, 2, r) {
		t.Errorf("two reads of an unbuffered cell should be independent")
	}
	if Dependent(s, 1, w, 2, r2) {
		t.Errorf("operations on different cells should be independent")
	}
}

func TestDependentBufferedReads(t *testing.T) {
	s := NewDepState(weft.TotalStoreOrder)
	s.Update(1, weft.ThreadAction{Kind: weft.ActWriteCRef, CRef: 1})
	r := weft.ThreadAction{Kind: weft.ActReadCRef, CRef: 1}
	if !Dependent(s, 2, r, 3, r) {
		t.Errorf("reads of a buffered cell should be dependent")
	}
	// The commit drains the buffer; reads commute again.
	s.Update(-1, weft.ThreadAction{Kind: weft.ActCommitCRef, Thread: 1, CRef: 1})
	if Dependent(s, 2, r, 3, r) {
		t.Errorf("reads of a drained cell should be independent")
	}
}

func TestDependentBarrierVsBufferedCell(t *testing.T) {
	s := NewDepState(weft.TotalStoreOrder)
	s.Update(1, weft.ThreadAction{Kind: weft.ActWriteCRef, CRef: 7})
	put := weft.ThreadAction{Kind: weft.ActPutMVar, MVar: 0}
	read := weft.ThreadAction{Kind: weft.ActReadCRef, CRef: 7}
	if !Dependent(s, 1, put, 2, read) {
		t.Errorf("a barrier should order against reads of cells its thread has buffered")
	}
	if Dependent(s, 2, put, 3, read) {
		t.Errorf("a barrier by a thread with nothing buffered on the cell should not order against its reads")
	}
}

func TestDependentMVar(t *testing.T) {
	s := NewDepState(weft.SequentialConsistency)
	put := weft.ThreadAction{Kind: weft.ActPutMVar, MVar: 3}
	take := weft.ThreadAction{Kind: weft.ActTakeMVar, MVar: 3}
	other := weft.ThreadAction{Kind: weft.ActTakeMVar, MVar: 4}
	failedTry := weft.ThreadAction{Kind: weft.ActTryTakeMVar, MVar: 3, OK: false}
	okTry := weft.ThreadAction{Kind: weft.ActTryTakeMVar, MVar: 3, OK: true}

	if !Dependent(s, 1, put, 2, take) {
		t.Errorf("put and take on the same MVar should be dependent")
	}
	if Dependent(s, 1, put, 2, other) {
		t.Errorf("operations on different MVars should be independent")
	}
	if Dependent(s, 1, failedTry, 2, failedTry) {
		t.Errorf("two failed tries should be independent")
	}
	if !Dependent(s, 1, okTry, 2, failedTry) {
		t.Errorf("a successful try should be dependent with a failed one")
	}
}

func TestDependentSTM(t *testing.T) {
	s := NewDepState(weft.SequentialConsistency)
	writeV := weft.ThreadAction{Kind: weft.ActSTM, TVarsWritten: []weft.TVarID{1}}
	readV := weft.ThreadAction{Kind: weft.ActSTM, TVarsRead: []weft.TVarID{1}}
	readW := weft.ThreadAction{Kind: weft.ActSTM, TVarsRead: []weft.TVarID{2}}

	if !Dependent(s, 1, writeV, 2, readV) {
		t.Errorf("transactions with write/read overlap should be dependent")
	}
	if Dependent(s, 1, readV, 2, readV) {
		t.Errorf("read-only transactions should be independent")
	}
	if Dependent(s, 1, writeV, 2, readW) {
		t.Errorf("disjoint transactions should be independent")
	}
}

func TestDependentThrowTo(t *testing.T) {
	s := NewDepState(weft.SequentialConsistency)
	throw := weft.ThreadAction{Kind: weft.ActThrowTo, Thread: 2}
	yield := weft.ThreadAction{Kind: weft.ActYield}

	if !Dependent(s, 1, throw, 2, yield) {
		t.Errorf("ThrowTo at an unmasked thread should be dependent with its steps")
	}
	s.Update(2, weft.ThreadAction{Kind: weft.ActSetMasking, Masking: weft.MaskedUninterruptible})
	if Dependent(s, 1, throw, 2, yield) {
		t.Errorf("ThrowTo at an uninterruptible thread should be independent of its running steps")
	}
	// Masked-interruptible but blocked: deliverable again.
	s.Update(2, weft.ThreadAction{Kind: weft.ActSetMasking, Masking: weft.MaskedInterruptible})
	blocked := weft.ThreadAction{Kind: weft.ActBlockedTakeMVar, MVar: 0}
	if !Dependent(s, 1, throw, 2, blocked) {
		t.Errorf("ThrowTo at an interruptibly-masked blocked thread should be dependent")
	}
}

func TestDependentFork(t *testing.T) {
	s := NewDepState(weft.SequentialConsistency)
	fork := weft.ThreadAction{Kind: weft.ActFork, Thread: 2}
	yield := weft.ThreadAction{Kind: weft.ActYield}
	if !Dependent(s, 1, fork, 2, yield) {
		t.Errorf("fork should be dependent with the child's steps")
	}
	if Dependent(s, 1, fork, 3, yield) {
		t.Errorf("fork should be independent of unrelated threads")
	}
}

func TestDependentLConservative(t *testing.T) {
	s := NewDepState(weft.SequentialConsistency)
	stm := weft.ThreadAction{Kind: weft.ActSTM, TVarsRead: []weft.TVarID{1}}
	if !DependentL(s, 1, stm, 2, weft.Lookahead{Kind: weft.ActSTM}) {
		t.Errorf("an upcoming transaction should conservatively depend on any transactional step")
	}
	w := weft.ThreadAction{Kind: weft.ActWriteCRef, CRef: 1}
	if !DependentL(s, 1, w, 2, weft.Lookahead{Kind: weft.ActModCRef, CRef: 1}) {
		t.Errorf("write should depend on an upcoming modify of the same cell")
	}
	if DependentL(s, 1, w, 2, weft.Lookahead{Kind: weft.ActReadCRef, CRef: 2}) {
		t.Errorf("write should be independent of an upcoming read of another cell")
	}
}
