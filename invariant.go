// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package weft

import (
	"fmt"
	"sort"
)

// An Invariant is a named predicate over the simulated state, checked
// after every step.
type Invariant struct {
	Name  string
	Check func(Snapshot) error
}

// A Snapshot is a read-only view of the simulated state offered to
// invariant checks. Reads are authoritative: they bypass write
// buffers.
type Snapshot struct {
	c *context
}

// ReadMVar returns the value of m and whether m is full.
func (s Snapshot) ReadMVar(m MVarID) (Value, bool) {
	mv, ok := s.c.mvars[m]
	if !ok {
		return nil, false
	}
	return mv.val, mv.full
}

// ReadCRef returns the authoritative value of c.
func (s Snapshot) ReadCRef(cr CRefID) Value {
	r, ok := s.c.crefs[cr]
	if !ok {
		return nil
	}
	return r.val
}

// ReadTVar returns the committed value of v.
func (s Snapshot) ReadTVar(v TVarID) Value { return s.c.tvars[v] }

// Threads returns the live simulated threads in id order.
func (s Snapshot) Threads() []ThreadID { return s.c.sortedThreadIDs() }

// ThreadKnown reports the MVars and CRefs t has touched.
func (s Snapshot) ThreadKnown(t ThreadID) (mvars []MVarID, crefs []CRefID) {
	thr, ok := s.c.threads[t]
	if !ok {
		return nil, nil
	}
	for ref := range thr.known {
		if ref.mvar {
			mvars = append(mvars, MVarID(ref.id))
		} else {
			crefs = append(crefs, CRefID(ref.id))
		}
	}
	sort.Slice(mvars, func(i, j int) bool { return mvars[i] < mvars[j] })
	sort.Slice(crefs, func(i, j int) bool { return crefs[i] < crefs[j] })
	return mvars, crefs
}

func (c *context) checkInvariants() error {
	for _, inv := range c.invariants {
		if err := inv.Check(Snapshot{c}); err != nil {
			return fmt.Errorf("invariant %q: %v", inv.Name, err)
		}
	}
	return nil
}
