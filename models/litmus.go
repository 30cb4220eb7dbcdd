// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package models

import (
	"fmt"

	"github.com/aclements/weft"
)

// TwoWriterRace forks two writers storing 1 and 2 into a shared cell;
// the main thread joins both and reads. The read is either 1 or 2
// under every model.
func TwoWriterRace() weft.Prog {
	return weft.Bind(weft.NewCRef("x", 0), func(xv weft.Value) weft.Prog {
		x := xv.(weft.CRefID)
		return weft.Bind(weft.NewMVar("done1"), func(d1v weft.Value) weft.Prog {
			d1 := d1v.(weft.MVarID)
			return weft.Bind(weft.NewMVar("done2"), func(d2v weft.Value) weft.Prog {
				d2 := d2v.(weft.MVarID)
				writer := func(n int, d weft.MVarID) weft.Prog {
					return weft.Then(weft.WriteC(x, n), weft.Put(d, nil))
				}
				return weft.Seq(
					weft.Fork("w1", writer(1, d1)),
					weft.Fork("w2", writer(2, d2)),
					weft.Take(d1),
					weft.Take(d2),
					weft.ReadC(x),
				)
			})
		})
	})
}

// StoreBuffering is the classic store-buffering shape: each thread
// stores to its own cell then loads the other's. The outcome "0,0"
// requires both loads to run ahead of the buffered stores, so it is
// permitted under TSO and PSO but not under sequential consistency.
func StoreBuffering() weft.Prog {
	return weft.Bind(weft.NewCRef("x", 0), func(xv weft.Value) weft.Prog {
		x := xv.(weft.CRefID)
		return weft.Bind(weft.NewCRef("y", 0), func(yv weft.Value) weft.Prog {
			y := yv.(weft.CRefID)
			return weft.Bind(weft.NewMVar("out1"), func(m1v weft.Value) weft.Prog {
				m1 := m1v.(weft.MVarID)
				return weft.Bind(weft.NewMVar("out2"), func(m2v weft.Value) weft.Prog {
					m2 := m2v.(weft.MVarID)
					side := func(mine, other weft.CRefID, out weft.MVarID) weft.Prog {
						return weft.Then(weft.WriteC(mine, 1),
							weft.Bind(weft.ReadC(other), func(r weft.Value) weft.Prog {
								return weft.Put(out, r)
							}))
					}
					return weft.Seq(
						weft.Fork("t1", side(x, y, m1)),
						weft.Fork("t2", side(y, x, m2)),
						weft.Bind(weft.Take(m1), func(r1 weft.Value) weft.Prog {
							return weft.Bind(weft.Take(m2), func(r2 weft.Value) weft.Prog {
								return weft.Pure(fmt.Sprintf("%v,%v", r1, r2))
							})
						}),
					)
				})
			})
		})
	})
}

// CASRace: one thread snapshots a cell and compare-and-swaps 7 into
// it after joining a second thread that plainly writes 8. The CAS
// fails iff the snapshot was taken before the write, so the final
// value is 7 exactly when the CAS succeeds.
func CASRace() weft.Prog {
	return weft.Bind(weft.NewCRef("x", 0), func(xv weft.Value) weft.Prog {
		x := xv.(weft.CRefID)
		return weft.Bind(weft.NewMVar("done"), func(dv weft.Value) weft.Prog {
			d := dv.(weft.MVarID)
			return weft.Seq(
				weft.Fork("writer", weft.Then(weft.WriteC(x, 8), weft.Put(d, nil))),
				weft.Bind(weft.ReadForCAS(x), func(tv weft.Value) weft.Prog {
					ticket := tv.(weft.Ticket)
					return weft.Then(weft.Take(d),
						weft.Bind(weft.CAS(x, ticket, 7), func(rv weft.Value) weft.Prog {
							ok := rv.([2]weft.Value)[0].(bool)
							return weft.Bind(weft.ReadC(x), func(final weft.Value) weft.Prog {
								return weft.Pure(fmt.Sprintf("cas=%v,x=%v", ok, final))
							})
						}))
				}),
			)
		})
	})
}

// MVarDeadlock takes from an MVar nothing ever fills.
func MVarDeadlock() weft.Prog {
	return weft.Bind(weft.NewMVar("m"), func(mv weft.Value) weft.Prog {
		return weft.Take(mv.(weft.MVarID))
	})
}

// STMWakeup: thread A retries until a TVar becomes non-zero; thread B
// writes it. Every schedule ends with A observing 1.
func STMWakeup() weft.Prog {
	return weft.Bind(weft.Atomically(NewTVarProg()), func(vv weft.Value) weft.Prog {
		v := vv.(weft.TVarID)
		return weft.Bind(weft.NewMVar("done"), func(dv weft.Value) weft.Prog {
			d := dv.(weft.MVarID)
			waitNonZero := weft.Atomically(weft.STMBind(weft.ReadTVar(v), func(x weft.Value) weft.STMProg {
				if x.(int) == 0 {
					return weft.Retry()
				}
				return weft.STMPure(x)
			}))
			return weft.Seq(
				weft.Fork("a", weft.Bind(waitNonZero, func(x weft.Value) weft.Prog {
					return weft.Put(d, x)
				})),
				weft.Fork("b", weft.Atomically(weft.WriteTVar(v, 1))),
				weft.Take(d),
			)
		})
	})
}

// NewTVarProg allocates the TVar used by STMWakeup.
func NewTVarProg() weft.STMProg {
	return weft.NewTVar("v", 0)
}

// FairSpinner forks a thread that yields forever while the main
// thread blocks reading an MVar nothing fills. Only the fair bound
// makes exploration of this program terminate; every schedule ends in
// an abort.
func FairSpinner() weft.Prog {
	var spin func() weft.Prog
	spin = func() weft.Prog {
		return weft.Then(weft.Yield(), weft.Defer(spin))
	}
	return weft.Bind(weft.NewMVar("flag"), func(mv weft.Value) weft.Prog {
		m := mv.(weft.MVarID)
		return weft.Seq(
			weft.Fork("spinner", weft.Defer(spin)),
			weft.Read(m),
		)
	})
}

// All lists the litmus programs.
var All = []Litmus{
	{Name: "two-writer-race", Prog: TwoWriterRace},
	{Name: "store-buffering", Prog: StoreBuffering},
	{Name: "cas-race", Prog: CASRace},
	{Name: "mvar-deadlock", Prog: MVarDeadlock},
	{Name: "stm-wakeup", Prog: STMWakeup},
	{Name: "fair-spinner", Prog: FairSpinner},
}
