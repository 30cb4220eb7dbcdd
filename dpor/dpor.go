// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dpor explores the distinct schedules of a weft program using
// bounded dynamic partial-order reduction. It keeps a tree of explored
// schedule prefixes, finds pairs of dependent steps whose order has
// not been tried both ways, and re-runs the interpreter with seeded
// schedules until no unexplored to-do points remain within the bound.
package dpor

import (
	"sort"

	"github.com/aclements/weft"
)

// A Node is one position in the exploration tree. The edge into a
// node is labelled by the thread that ran; Action is what it did
// (nil at the root).
type Node struct {
	// Runnable is the set of choosable threads at this point.
	Runnable map[weft.ThreadID]struct{}

	// Todo maps threads to explore from here to whether the entry was
	// added conservatively. Conservative entries are never suppressed
	// by sleep sets.
	Todo map[weft.ThreadID]bool

	// Done maps explored threads to their subtrees.
	Done map[weft.ThreadID]*Node

	// Sleep holds decisions suppressed until a dependent action
	// occurs.
	Sleep map[weft.ThreadID]weft.ThreadAction

	// Taken records what actually ran from here (non-conservative
	// entries only); it seeds the sleep sets of later children.
	Taken map[weft.ThreadID]weft.ThreadAction

	// Action is the step observed at this node.
	Action *weft.ThreadAction
}

func newNode() *Node {
	return &Node{
		Runnable: make(map[weft.ThreadID]struct{}),
		Todo:     make(map[weft.ThreadID]bool),
		Done:     make(map[weft.ThreadID]*Node),
		Sleep:    make(map[weft.ThreadID]weft.ThreadAction),
		Taken:    make(map[weft.ThreadID]weft.ThreadAction),
	}
}

// NewTree returns the initial exploration tree: only the initial
// thread is runnable, and running it is to do.
func NewTree() *Node {
	n := newNode()
	n.Runnable[weft.InitialThread] = struct{}{}
	n.Todo[weft.InitialThread] = false
	return n
}

func (n *Node) runnableHas(t weft.ThreadID) bool {
	_, ok := n.Runnable[t]
	return ok
}

// A Prefix is a schedule to seed the next execution with: the forced
// choices (the last being the newly explored one), whether that choice
// was conservative, and the sleep set at the divergence point.
type Prefix struct {
	Tids         []weft.ThreadID
	Conservative bool
	Sleep        map[weft.ThreadID]weft.ThreadAction
}

type prefixCand struct {
	p         Prefix
	preferred bool
	preemps   int
}

// FindSchedulePrefix returns the next schedule to try, or ok == false
// when the tree is drained. Candidates preferred by prefer (applied to
// the new choice) run first; within a class, candidates with more
// pre-emptions run first, mimicking iterative deepening of the
// pre-emption budget.
func FindSchedulePrefix(root *Node, prefer func(weft.ThreadID) bool) (Prefix, bool) {
	var cands []prefixCand

	var walk func(n *Node, path []weft.ThreadID, prev weft.ThreadID, havePrev bool, preemps int)
	walk = func(n *Node, path []weft.ThreadID, prev weft.ThreadID, havePrev bool, preemps int) {
		preempsTo := func(t weft.ThreadID) int {
			if havePrev && t != prev && n.runnableHas(prev) &&
				(n.Action == nil || n.Action.Kind != weft.ActYield) {
				return preemps + 1
			}
			return preemps
		}
		for t, conservative := range n.Todo {
			tids := make([]weft.ThreadID, len(path)+1)
			copy(tids, path)
			tids[len(path)] = t
			sleep := make(map[weft.ThreadID]weft.ThreadAction, len(n.Sleep)+len(n.Taken))
			for u, a := range n.Sleep {
				sleep[u] = a
			}
			for u, a := range n.Taken {
				sleep[u] = a
			}
			delete(sleep, t)
			cands = append(cands, prefixCand{
				p:         Prefix{Tids: tids, Conservative: conservative, Sleep: sleep},
				preferred: prefer != nil && prefer(t),
				preemps:   preempsTo(t),
			})
		}
		for t, child := range n.Done {
			walk(child, append(path[:len(path):len(path)], t), t, true, preempsTo(t))
		}
	}
	walk(root, nil, 0, false, 0)

	if len(cands) == 0 {
		return Prefix{}, false
	}
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.preferred != b.preferred {
			return a.preferred
		}
		if a.preemps != b.preemps {
			return a.preemps > b.preemps
		}
		return lessTids(a.p.Tids, b.p.Tids)
	})
	return cands[0].p, true
}

func lessTids(a, b []weft.ThreadID) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// IncorporateTrace grows the tree with one completed execution. The
// to-do entry the execution came from is consumed here; conservative
// says whether it was a conservatively added entry (in which case it
// does not join Taken and so never seeds sleep sets).
func IncorporateTrace(memtype weft.MemType, conservative bool, trace weft.Trace, root *Node) {
	state := NewDepState(memtype)
	node := root
	prev := weft.InitialThread
	for i := 0; i < len(trace); i++ {
		e := trace[i]
		tid := weft.TidOf(prev, e.Decision)
		if child, ok := node.Done[tid]; ok {
			state.Update(tid, e.Action)
			node = child
			prev = tid
			continue
		}
		// Divergence: this node gains a new child holding the rest of
		// the trace. The child's sleep set is this node's sleep plus
		// what already ran here, minus entries dependent with the new
		// action.
		sleep := make(map[weft.ThreadID]weft.ThreadAction, len(node.Sleep)+len(node.Taken))
		for u, a := range node.Sleep {
			sleep[u] = a
		}
		for u, a := range node.Taken {
			sleep[u] = a
		}
		delete(sleep, tid)
		delete(node.Todo, tid)
		if !conservative {
			node.Taken[tid] = e.Action
		}
		node.Done[tid] = subtree(state, tid, sleep, trace[i:])
		return
	}
}

// subtree builds the linear chain of nodes for trc, whose first entry
// was executed by tid. state is the dependency state in which that
// entry executed.
func subtree(state *DepState, tid weft.ThreadID, sleep map[weft.ThreadID]weft.ThreadAction, trc weft.Trace) *Node {
	e := trc[0]
	n := newNode()
	act := e.Action
	n.Action = &act
	for u, a := range sleep {
		if !Dependent(state, tid, e.Action, u, a) {
			n.Sleep[u] = a
		}
	}
	state.Update(tid, e.Action)
	if len(trc) > 1 {
		next := trc[1]
		for _, r := range next.Runnable {
			n.Runnable[r.Thread] = struct{}{}
		}
		ntid := weft.TidOf(tid, next.Decision)
		n.Taken[ntid] = next.Action
		n.Done[ntid] = subtree(state, ntid, n.Sleep, trc[1:])
	}
	return n
}

// IncorporateBacktrackSteps adds the backtracking points of one
// analysed execution to the tree as to-do entries, skipping points
// already explored, suppressed by sleep sets (unless conservative), or
// out of bound.
func IncorporateBacktrackSteps(bound BoundFunc, bsteps []BacktrackStep, root *Node) {
	node := root
	var prefix []PrefixStep
	for k := range bsteps {
		b := &bsteps[k]
		for t, conservative := range b.Backtracks {
			if _, done := node.Done[t]; done {
				continue
			}
			if cur, ok := node.Todo[t]; ok {
				if conservative && !cur {
					node.Todo[t] = true
				}
				continue
			}
			if !conservative {
				if _, asleep := node.Sleep[t]; asleep {
					continue
				}
			}
			la, ok := lookaheadFor(b.Runnable, t)
			if !ok {
				continue
			}
			dec := weft.Decision{Kind: weft.Start, Thread: t}
			if len(prefix) > 0 {
				prevTid := prefix[len(prefix)-1].Thread
				switch {
				case t == prevTid:
					dec = weft.Decision{Kind: weft.Continue, Thread: t}
				case lookaheadHas(b.Runnable, prevTid):
					dec = weft.Decision{Kind: weft.SwitchTo, Thread: t}
				}
			}
			if bound != nil && !bound(prefix, CandidateStep{Decision: dec, Thread: t, Lookahead: la}) {
				continue
			}
			node.Todo[t] = conservative
		}
		prefix = append(prefix, PrefixStep{Decision: b.Decision, Thread: b.Thread, Action: b.Action})
		child, ok := node.Done[b.Thread]
		if !ok {
			return
		}
		node = child
	}
}

func lookaheadFor(runnable []weft.ThreadLookahead, t weft.ThreadID) (weft.Lookahead, bool) {
	for _, r := range runnable {
		if r.Thread == t {
			return r.Lookahead, true
		}
	}
	return weft.Lookahead{}, false
}

func lookaheadHas(runnable []weft.ThreadLookahead, t weft.ThreadID) bool {
	_, ok := lookaheadFor(runnable, t)
	return ok
}
