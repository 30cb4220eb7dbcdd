// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dpor

import "github.com/aclements/weft"

// A Sched is the DPOR scheduler: it replays a schedule prefix exactly,
// then free-runs with the prior thread preferred, filtered by the
// bound and the sleep set. After a run, Ignore says every choice was
// asleep (the execution reveals nothing new) and BoundKill says the
// bound alone emptied a choice point (the run was cut short).
type Sched struct {
	bound  BoundFunc
	prefix []weft.ThreadID
	sleep  map[weft.ThreadID]weft.ThreadAction
	state  *DepState
	steps  []PrefixStep

	// pending is the choice made by the previous Schedule call,
	// awaiting its action (delivered as the next call's prior).
	pending *PrefixStep

	Ignore    bool
	BoundKill bool
}

// NewSched returns a scheduler for one execution seeded with prefix.
func NewSched(memtype weft.MemType, bound BoundFunc, prefix Prefix) *Sched {
	sleep := make(map[weft.ThreadID]weft.ThreadAction, len(prefix.Sleep))
	for t, a := range prefix.Sleep {
		sleep[t] = a
	}
	return &Sched{
		bound:  bound,
		prefix: append([]weft.ThreadID(nil), prefix.Tids...),
		sleep:  sleep,
		state:  NewDepState(memtype),
	}
}

// Schedule implements weft.Scheduler.
func (s *Sched) Schedule(prior *weft.Choice, runnable []weft.ThreadLookahead) (weft.ThreadID, bool) {
	if prior != nil {
		// Wake sleepers dependent with the prior action, judged in
		// the state the action executed in; then advance the state.
		for t, a := range s.sleep {
			if t != prior.Thread && Dependent(s.state, prior.Thread, prior.Action, t, a) {
				delete(s.sleep, t)
			}
		}
		s.state.Update(prior.Thread, prior.Action)
		if s.pending != nil {
			s.pending.Action = prior.Action
			s.steps = append(s.steps, *s.pending)
			s.pending = nil
		}
	}

	if len(s.prefix) > 0 {
		t := s.prefix[0]
		s.prefix = s.prefix[1:]
		s.choose(prior, runnable, t)
		return t, true
	}

	cands := s.initialise(prior, runnable)

	inBound := cands[:0:0]
	for _, c := range cands {
		dec := s.decisionFor(prior, runnable, c.Thread)
		if s.bound == nil || s.bound(s.steps, CandidateStep{Decision: dec, Thread: c.Thread, Lookahead: c.Lookahead}) {
			inBound = append(inBound, c)
		}
	}
	if len(inBound) == 0 {
		s.BoundKill = true
		return 0, false
	}

	awake := inBound[:0:0]
	for _, c := range inBound {
		if _, asleep := s.sleep[c.Thread]; !asleep {
			awake = append(awake, c)
		}
	}
	if len(awake) == 0 {
		s.Ignore = true
		return 0, false
	}

	t := awake[0].Thread
	s.choose(prior, runnable, t)
	return t, true
}

// initialise orders the candidate threads: keep running the prior
// thread unless it just yielded; otherwise every runnable thread with
// yielders pushed to the end. If a candidate's next step would
// terminate the program while other threads are still live, the
// others (the daemons) run first.
func (s *Sched) initialise(prior *weft.Choice, runnable []weft.ThreadLookahead) []weft.ThreadLookahead {
	cands := runnable
	if prior != nil && prior.Action.Kind != weft.ActYield {
		if la, ok := lookaheadFor(runnable, prior.Thread); ok {
			cands = []weft.ThreadLookahead{{Thread: prior.Thread, Lookahead: la}}
		}
	}

	killsDaemons := false
	for _, c := range cands {
		if c.Lookahead.Kind == weft.ActStop && c.Thread == weft.InitialThread {
			killsDaemons = true
			break
		}
	}
	if killsDaemons && len(runnable) > 1 {
		cands = runnable
	}

	var front, yielders, terminators []weft.ThreadLookahead
	for _, c := range cands {
		switch {
		case c.Lookahead.Kind == weft.ActStop && c.Thread == weft.InitialThread && len(cands) > 1:
			terminators = append(terminators, c)
		case c.Lookahead.Kind == weft.ActYield:
			yielders = append(yielders, c)
		default:
			front = append(front, c)
		}
	}
	return append(append(front, yielders...), terminators...)
}

func (s *Sched) decisionFor(prior *weft.Choice, runnable []weft.ThreadLookahead, t weft.ThreadID) weft.Decision {
	switch {
	case prior == nil:
		return weft.Decision{Kind: weft.Start, Thread: t}
	case prior.Thread == t:
		return weft.Decision{Kind: weft.Continue, Thread: t}
	case lookaheadHas(runnable, prior.Thread):
		return weft.Decision{Kind: weft.SwitchTo, Thread: t}
	}
	return weft.Decision{Kind: weft.Start, Thread: t}
}

func (s *Sched) choose(prior *weft.Choice, runnable []weft.ThreadLookahead, t weft.ThreadID) {
	s.pending = &PrefixStep{Decision: s.decisionFor(prior, runnable, t), Thread: t}
}
