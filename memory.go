// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package weft

import "sort"

// A MemType selects the simulated memory model for CRef operations.
type MemType int

const (
	// SequentialConsistency: every write is immediately visible to
	// every thread.
	SequentialConsistency MemType = iota

	// TotalStoreOrder: writes drain through one buffer per thread, in
	// program order, with thread-local store forwarding.
	TotalStoreOrder

	// PartialStoreOrder: writes drain through one buffer per
	// (thread, cell), so a thread's writes to different cells may
	// settle out of order.
	PartialStoreOrder
)

func (m MemType) String() string {
	switch m {
	case SequentialConsistency:
		return "SequentialConsistency"
	case TotalStoreOrder:
		return "TotalStoreOrder"
	case PartialStoreOrder:
		return "PartialStoreOrder"
	}
	return "unknown memory model"
}

// An mvar is a rendezvous cell: empty or full, with FIFO wait-sets of
// blocked putters (waitingFull) and blocked readers and takers
// (waitingEmpty). Filling wakes everyone on waitingEmpty; draining
// wakes everyone on waitingFull; the woken threads re-run their
// operation and the losers block again.
type mvar struct {
	val          Value
	full         bool
	waitingFull  []ThreadID
	waitingEmpty []ThreadID
}

// A cref is a shared cell. val is the authoritative value; seen holds
// the newest still-buffered write per thread (store forwarding); tick
// counts authoritative writes for CAS tickets.
type cref struct {
	val  Value
	seen map[ThreadID]Value
	tick int
}

// A Ticket is proof of a ReadForCAS: a CAS against it succeeds iff the
// cell has not been written authoritatively since.
type Ticket struct {
	CRef CRefID
	tick int
	val  Value
}

// Peek returns the value snapshotted when the ticket was taken.
func (t Ticket) Peek() Value { return t.val }

// A wbKey addresses one write-buffer queue: per thread under
// TotalStoreOrder (all == true), per (thread, cell) under
// PartialStoreOrder.
type wbKey struct {
	tid  ThreadID
	all  bool
	cref CRefID
}

type bufferedWrite struct {
	tid  ThreadID
	cref CRefID
	val  Value
}

type writeBuffer struct {
	buf map[wbKey][]bufferedWrite
}

func newWriteBuffer() *writeBuffer {
	return &writeBuffer{buf: make(map[wbKey][]bufferedWrite)}
}

func (c *context) wbKeyFor(tid ThreadID, cr CRefID) wbKey {
	if c.memtype == PartialStoreOrder {
		return wbKey{tid: tid, cref: cr}
	}
	return wbKey{tid: tid, all: true}
}

// bufferWrite enqueues a store and makes it visible to the writing
// thread immediately.
func (c *context) bufferWrite(tid ThreadID, cr CRefID, v Value) {
	k := c.wbKeyFor(tid, cr)
	c.wb.buf[k] = append(c.wb.buf[k], bufferedWrite{tid: tid, cref: cr, val: v})
	c.crefs[cr].seen[tid] = v
}

// writeImmediate stores v authoritatively and bumps the CAS tick.
func (c *context) writeImmediate(cr CRefID, v Value) {
	r := c.crefs[cr]
	r.val = v
	r.tick++
}

// commitWrite settles the oldest write in the queue at k. It returns
// the cell written. After the commit, store forwarding for the writer
// stops unless the writer still has a newer buffered write to the same
// cell.
func (c *context) commitWrite(k wbKey) CRefID {
	q := c.wb.buf[k]
	if len(q) == 0 {
		panic("weft: commit with empty write buffer")
	}
	w := q[0]
	q = q[1:]
	if len(q) == 0 {
		delete(c.wb.buf, k)
	} else {
		c.wb.buf[k] = q
	}
	c.writeImmediate(w.cref, w.val)
	still := false
	for _, later := range q {
		if later.cref == w.cref {
			still = true
			break
		}
	}
	if !still {
		delete(c.crefs[w.cref].seen, w.tid)
	}
	return w.cref
}

// readCRef returns the value of cr visible to tid: its own newest
// buffered write if any, else the authoritative value.
func (c *context) readCRef(tid ThreadID, cr CRefID) Value {
	r := c.crefs[cr]
	if v, ok := r.seen[tid]; ok {
		return v
	}
	return r.val
}

// readForTicket snapshots cr for a later CAS by tid.
func (c *context) readForTicket(tid ThreadID, cr CRefID) Ticket {
	return Ticket{CRef: cr, tick: c.crefs[cr].tick, val: c.readCRef(tid, cr)}
}

// threadKeys returns tid's write-buffer keys with pending writes, in a
// deterministic order (the whole-thread queue, then per-cell queues in
// cell order).
func (c *context) threadKeys(tid ThreadID) []wbKey {
	var keys []wbKey
	for k := range c.wb.buf {
		if k.tid == tid {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].all != keys[j].all {
			return keys[i].all
		}
		return keys[i].cref < keys[j].cref
	})
	return keys
}

// writeBarrier settles every pending write of tid, each queue in
// enqueue order. Synchronising actions call this first, so the buffer
// is empty for tid immediately after any such action.
func (c *context) writeBarrier(tid ThreadID) {
	for _, k := range c.threadKeys(tid) {
		for len(c.wb.buf[k]) > 0 {
			c.commitWrite(k)
		}
	}
}
