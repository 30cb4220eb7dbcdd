// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package weft

import (
	"fmt"
	"strings"

	"github.com/davecgh/go-spew/spew"
)

// An ActionKind tags one observed (or predicted) primitive.
type ActionKind int

const (
	ActFork ActionKind = iota
	ActMyThreadID
	ActGetNumCapabilities
	ActSetNumCapabilities
	ActYield
	ActReturn
	ActStop
	ActLift
	ActMessage

	ActNewMVar
	ActPutMVar
	ActBlockedPutMVar
	ActTryPutMVar
	ActReadMVar
	ActBlockedReadMVar
	ActTryReadMVar
	ActTakeMVar
	ActBlockedTakeMVar
	ActTryTakeMVar

	ActNewCRef
	ActReadCRef
	ActReadCRefCas
	ActModCRef
	ActModCRefCas
	ActWriteCRef
	ActCasCRef
	ActCommitCRef

	ActSTM
	ActBlockedSTM
	ActThrownSTM

	ActCatching
	ActPopCatching
	ActThrow
	ActThrowTo
	ActBlockedThrowTo
	ActSetMasking
	ActResetMasking

	ActSubconcurrency
	ActStopSubconcurrency
)

var actionKindNames = [...]string{
	ActFork:               "Fork",
	ActMyThreadID:         "MyThreadID",
	ActGetNumCapabilities: "GetNumCapabilities",
	ActSetNumCapabilities: "SetNumCapabilities",
	ActYield:              "Yield",
	ActReturn:             "Return",
	ActStop:               "Stop",
	ActLift:               "Lift",
	ActMessage:            "Message",
	ActNewMVar:            "NewMVar",
	ActPutMVar:            "PutMVar",
	ActBlockedPutMVar:     "BlockedPutMVar",
	ActTryPutMVar:         "TryPutMVar",
	ActReadMVar:           "ReadMVar",
	ActBlockedReadMVar:    "BlockedReadMVar",
	ActTryReadMVar:        "TryReadMVar",
	ActTakeMVar:           "TakeMVar",
	ActBlockedTakeMVar:    "BlockedTakeMVar",
	ActTryTakeMVar:        "TryTakeMVar",
	ActNewCRef:            "NewCRef",
	ActReadCRef:           "ReadCRef",
	ActReadCRefCas:        "ReadCRefCas",
	ActModCRef:            "ModCRef",
	ActModCRefCas:         "ModCRefCas",
	ActWriteCRef:          "WriteCRef",
	ActCasCRef:            "CasCRef",
	ActCommitCRef:         "CommitCRef",
	ActSTM:                "STM",
	ActBlockedSTM:         "BlockedSTM",
	ActThrownSTM:          "ThrownSTM",
	ActCatching:           "Catching",
	ActPopCatching:        "PopCatching",
	ActThrow:              "Throw",
	ActThrowTo:            "ThrowTo",
	ActBlockedThrowTo:     "BlockedThrowTo",
	ActSetMasking:         "SetMasking",
	ActResetMasking:       "ResetMasking",
	ActSubconcurrency:     "Subconcurrency",
	ActStopSubconcurrency: "StopSubconcurrency",
}

func (k ActionKind) String() string {
	if int(k) < len(actionKindNames) && actionKindNames[k] != "" {
		return actionKindNames[k]
	}
	return fmt.Sprintf("ActionKind(%d)", int(k))
}

// A ThreadAction is the observed record of one step. It is a flat
// tagged struct: Kind selects which of the remaining fields are
// meaningful.
type ThreadAction struct {
	Kind ActionKind

	// Thread is the forked child for Fork, the target for ThrowTo and
	// BlockedThrowTo, and the buffering writer for CommitCRef.
	Thread ThreadID

	// MVar and CRef name the cell an MVar or CRef operation touched.
	MVar MVarID
	CRef CRefID

	// TVarsRead and TVarsWritten are the transactional footprint of
	// STM, BlockedSTM and ThrownSTM steps.
	TVarsRead    []TVarID
	TVarsWritten []TVarID

	// Woken lists the threads this step unblocked.
	Woken []ThreadID

	// OK is the success flag of Try* and CasCRef steps.
	OK bool

	// Caps is the capability count got or set.
	Caps int

	// Masking and Explicit describe SetMasking and ResetMasking
	// steps.
	Masking  MaskingState
	Explicit bool

	// Msg is a Message step's payload.
	Msg Value

	// STMTrace records the inner shape of an STM transaction.
	STMTrace []TAction
}

func fmtTids(ts []ThreadID) string {
	ss := make([]string, len(ts))
	for i, t := range ts {
		ss[i] = t.String()
	}
	return "[" + strings.Join(ss, " ") + "]"
}

func sprintValue(v Value) string {
	if v == nil {
		return "()"
	}
	return strings.TrimSuffix(spew.Sdump(v), "\n")
}

func (a ThreadAction) String() string {
	switch a.Kind {
	case ActFork, ActThrowTo, ActBlockedThrowTo:
		return fmt.Sprintf("%v(%v)", a.Kind, a.Thread)
	case ActGetNumCapabilities, ActSetNumCapabilities:
		return fmt.Sprintf("%v(%d)", a.Kind, a.Caps)
	case ActMessage:
		return fmt.Sprintf("Message(%s)", sprintValue(a.Msg))
	case ActNewMVar, ActBlockedPutMVar, ActReadMVar, ActBlockedReadMVar, ActBlockedTakeMVar:
		return fmt.Sprintf("%v(%v)", a.Kind, a.MVar)
	case ActPutMVar, ActTakeMVar:
		return fmt.Sprintf("%v(%v, %v)", a.Kind, a.MVar, fmtTids(a.Woken))
	case ActTryPutMVar, ActTryTakeMVar, ActTryReadMVar:
		return fmt.Sprintf("%v(%v, %v)", a.Kind, a.MVar, a.OK)
	case ActNewCRef, ActReadCRef, ActReadCRefCas, ActModCRef, ActModCRefCas, ActWriteCRef:
		return fmt.Sprintf("%v(%v)", a.Kind, a.CRef)
	case ActCasCRef:
		return fmt.Sprintf("CasCRef(%v, %v)", a.CRef, a.OK)
	case ActCommitCRef:
		return fmt.Sprintf("CommitCRef(%v, %v)", a.Thread, a.CRef)
	case ActSTM:
		return fmt.Sprintf("STM(%v, %v)", a.STMTrace, fmtTids(a.Woken))
	case ActBlockedSTM, ActThrownSTM:
		return fmt.Sprintf("%v(%v)", a.Kind, a.STMTrace)
	case ActSetMasking, ActResetMasking:
		return fmt.Sprintf("%v(%v, explicit=%v)", a.Kind, a.Masking, a.Explicit)
	}
	return a.Kind.String()
}

// A Lookahead predicts a runnable thread's next step without running
// it. Kind is the optimistic outcome: a lookahead never uses the
// Blocked* kinds, the actual step may still block. Ids are those the
// step will touch; an STM lookahead's transactional footprint is
// unknown.
type Lookahead struct {
	Kind    ActionKind
	Thread  ThreadID
	MVar    MVarID
	CRef    CRefID
	Caps    int
	Masking MaskingState
}

func (l Lookahead) String() string {
	switch l.Kind {
	case ActFork, ActThrowTo:
		return fmt.Sprintf("Will%v(%v)", l.Kind, l.Thread)
	case ActNewMVar, ActPutMVar, ActTryPutMVar, ActReadMVar, ActTryReadMVar, ActTakeMVar, ActTryTakeMVar:
		return fmt.Sprintf("Will%v(%v)", l.Kind, l.MVar)
	case ActNewCRef, ActReadCRef, ActReadCRefCas, ActModCRef, ActModCRefCas, ActWriteCRef, ActCasCRef:
		return fmt.Sprintf("Will%v(%v)", l.Kind, l.CRef)
	case ActCommitCRef:
		return fmt.Sprintf("WillCommitCRef(%v, %v)", l.Thread, l.CRef)
	}
	return "Will" + l.Kind.String()
}

// A DecisionKind says how a chosen thread related to the previous one.
type DecisionKind int

const (
	// Start: the previous thread was no longer runnable (or this is
	// the first step).
	Start DecisionKind = iota

	// Continue: the same thread was chosen again.
	Continue

	// SwitchTo: a different thread was chosen while the previous one
	// was still runnable.
	SwitchTo
)

// A Decision labels one scheduling choice. Thread is the chosen
// thread.
type Decision struct {
	Kind   DecisionKind
	Thread ThreadID
}

func (d Decision) String() string {
	switch d.Kind {
	case Start:
		return fmt.Sprintf("Start(%v)", d.Thread)
	case Continue:
		return "Continue"
	case SwitchTo:
		return fmt.Sprintf("SwitchTo(%v)", d.Thread)
	}
	return "unknown decision"
}

// A ThreadLookahead pairs a runnable thread with its predicted next
// step.
type ThreadLookahead struct {
	Thread    ThreadID
	Lookahead Lookahead
}

// A TraceEntry records one step: the scheduling decision, a snapshot
// of every runnable thread with its lookahead at the moment of the
// decision, and the action that then occurred.
type TraceEntry struct {
	Decision Decision
	Runnable []ThreadLookahead
	Action   ThreadAction
}

// A Trace is the totally ordered record of one execution.
type Trace []TraceEntry

func (t Trace) String() string {
	var b strings.Builder
	for i, e := range t {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "  %-14s %v", e.Decision, e.Action)
	}
	return b.String()
}

// TidOf resolves the thread a decision chose, given the previously
// running thread.
func TidOf(prev ThreadID, d Decision) ThreadID {
	if d.Kind == Continue {
		return prev
	}
	return d.Thread
}
