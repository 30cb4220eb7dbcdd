// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package weft

// A Failure describes why an execution did not produce a value.
//
// Deadlock, STMDeadlock, UncaughtException and InvariantFailure are
// properties of the program under test; they are valid outcomes, not
// engine errors. Abort means the scheduler gave up (for a bounded
// scheduler, that every remaining choice was out of bounds).
// IllegalSubconcurrency and InternalError should never occur under a
// conforming scheduler and program.
type Failure int

const (
	// NoFailure is the zero Failure: the execution produced a value.
	NoFailure Failure = iota

	// Deadlock: no thread is runnable and the initial thread is
	// blocked on an MVar or on delivering an asynchronous exception.
	Deadlock

	// STMDeadlock: no thread is runnable and the initial thread is
	// blocked on a transactional retry that nothing can wake.
	STMDeadlock

	// UncaughtException: an exception reached the top of the initial
	// thread's handler stack.
	UncaughtException

	// Abort: the scheduler declined to choose a thread.
	Abort

	// IllegalSubconcurrency: subconcurrency was used while more than
	// one thread was live.
	IllegalSubconcurrency

	// InternalError: the scheduler chose a thread that was not
	// runnable, or the engine observed an impossible state.
	InternalError

	// InvariantFailure: a registered invariant did not hold after a
	// step.
	InvariantFailure
)

var failureNames = [...]string{
	NoFailure:             "no failure",
	Deadlock:              "deadlock",
	STMDeadlock:           "STM deadlock",
	UncaughtException:     "uncaught exception",
	Abort:                 "abort",
	IllegalSubconcurrency: "illegal use of subconcurrency",
	InternalError:         "internal error",
	InvariantFailure:      "invariant failure",
}

func (f Failure) String() string {
	if int(f) < len(failureNames) {
		return failureNames[f]
	}
	return "unknown failure"
}

// Error makes a Failure usable as an error value.
func (f Failure) Error() string { return f.String() }

// A Result is the outcome of one complete execution: either a final
// value from the initial thread or a Failure. Err carries the user
// exception behind UncaughtException and the invariant error behind
// InvariantFailure.
type Result struct {
	Value   Value
	Failure Failure
	Err     error
}

// Ok reports whether the execution produced a value.
func (r Result) Ok() bool { return r.Failure == NoFailure }

func (r Result) String() string {
	if r.Ok() {
		return sprintValue(r.Value)
	}
	if r.Err != nil {
		return r.Failure.String() + ": " + r.Err.Error()
	}
	return r.Failure.String()
}
