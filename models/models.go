// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package models contains litmus-test programs for the weft
// interpreter and compares their permissible outcomes across memory
// models. If an outcome is permitted under model A but not model B,
// then A is weaker than B for that program.
package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/aclements/weft"
	"github.com/aclements/weft/dpor"
)

// A Litmus is a named program under test. Prog constructs a fresh
// action tree per execution.
type Litmus struct {
	Name string
	Prog func() weft.Prog
}

// Outcome renders one execution result as a comparable key.
func Outcome(r weft.Result) string {
	if r.Ok() {
		return fmt.Sprintf("%v", r.Value)
	}
	return r.Failure.String()
}

// An OutcomeSet records the set of permissible outcomes of a program
// under one memory model.
type OutcomeSet struct {
	m map[string]struct{}
}

func NewOutcomeSet(outcomes ...string) *OutcomeSet {
	s := &OutcomeSet{m: make(map[string]struct{})}
	for _, o := range outcomes {
		s.Add(o)
	}
	return s
}

func (s *OutcomeSet) Add(o string) { s.m[o] = struct{}{} }

func (s *OutcomeSet) Has(o string) bool {
	_, ok := s.m[o]
	return ok
}

func (s *OutcomeSet) Len() int { return len(s.m) }

// Contains reports whether every outcome in s2 is also in s.
func (s *OutcomeSet) Contains(s2 *OutcomeSet) bool {
	for o := range s2.m {
		if !s.Has(o) {
			return false
		}
	}
	return true
}

// Equal reports whether s and s2 permit exactly the same outcomes.
func (s *OutcomeSet) Equal(s2 *OutcomeSet) bool {
	return len(s.m) == len(s2.m) && s.Contains(s2)
}

// List returns the outcomes in sorted order.
func (s *OutcomeSet) List() []string {
	out := make([]string, 0, len(s.m))
	for o := range s.m {
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}

func (s *OutcomeSet) String() string {
	return "{" + strings.Join(s.List(), ", ") + "}"
}

// AllModels lists every supported memory model, strongest first.
var AllModels = []weft.MemType{
	weft.SequentialConsistency,
	weft.TotalStoreOrder,
	weft.PartialStoreOrder,
}

// Eval explores l under mem within the default bounds and returns the
// outcome set.
func Eval(l Litmus, mem weft.MemType) (*OutcomeSet, error) {
	if l.Prog == nil {
		return nil, errors.New("litmus has no program")
	}
	outcomes := NewOutcomeSet()
	dpor.SCTBound(dpor.Options{MemType: mem}, l.Prog, func(ex dpor.Execution) bool {
		outcomes.Add(Outcome(ex.Result))
		return true
	})
	return outcomes, nil
}

// EvalModels explores l under every model in mems concurrently. Each
// exploration is single-threaded and independent; only whole
// explorations run in parallel.
func EvalModels(l Litmus, mems []weft.MemType) (map[weft.MemType]*OutcomeSet, error) {
	var g errgroup.Group
	out := make([]*OutcomeSet, len(mems))
	for i, m := range mems {
		i, m := i, m
		g.Go(func() error {
			var err error
			out[i], err = Eval(l, m)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	res := make(map[weft.MemType]*OutcomeSet, len(mems))
	for i, m := range mems {
		res[m] = out[i]
	}
	return res, nil
}
