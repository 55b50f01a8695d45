// Package optimize shrinks the local-variable table of a method.
//
// The LocalMinimizer counts every reference to every local, turns stores
// whose value is never loaded into pops, removes store/load pairs that only
// bounce a value through a local, and renumbers the surviving locals so the
// most used get the lowest slots. It does not merge distinct locals.
package optimize

import (
	"errors"
	"fmt"
	"slices"

	"github.com/tliron/commonlog"

	"github.com/chazu/ilopt/cdfg"
	"github.com/chazu/ilopt/il"
	"github.com/chazu/ilopt/linearize"
)

// ErrInconsistentUseCount reports a local referenced by an instruction but
// missing from the use counts. The graph was changed after counting.
var ErrInconsistentUseCount = errors.New("inconsistent local use count")

var log = commonlog.GetLogger("ilopt.optimize")

// Stats summarizes the decisions of one analysis.
type Stats struct {
	UseCounts map[*il.Local]int // references per local before rewriting
	Pops      int               // stores turned into pops
	Collapsed int               // store/load pairs removed
	Removed   []*il.Local       // declared locals without a slot
	Order     []*il.Local       // surviving locals in slot order
	Reordered bool              // survivors left declaration order
}

// Changed reports whether minimizing altered anything.
func (s *Stats) Changed() bool {
	return s.Pops > 0 || s.Collapsed > 0 || len(s.Removed) > 0 || s.Reordered
}

// LocalMinimizer analyzes one graph and implements linearize.Hooks to emit
// the result.
type LocalMinimizer struct {
	graph *cdfg.Graph

	counts map[*il.Local]int
	pops   map[cdfg.InstrID]bool
	elided map[cdfg.InstrID]bool
	order  []*il.Local
	stats  Stats

	analyzed bool
}

// New returns a minimizer for g.
func New(g *cdfg.Graph) *LocalMinimizer {
	return &LocalMinimizer{
		graph:  g,
		counts: make(map[*il.Local]int),
		pops:   make(map[cdfg.InstrID]bool),
		elided: make(map[cdfg.InstrID]bool),
	}
}

// Analyze runs both passes and assigns slots. It is idempotent.
func (lm *LocalMinimizer) Analyze() error {
	if lm.analyzed {
		return nil
	}
	lm.countUses()
	lm.stats.UseCounts = make(map[*il.Local]int, len(lm.counts))
	for l, n := range lm.counts {
		lm.stats.UseCounts[l] = n
	}

	users := lm.graph.Users()
	for _, b := range lm.graph.Blocks {
		if err := lm.rewriteBlock(b, users); err != nil {
			return fmt.Errorf("%s: %w", lm.graph.Method.FullName(), err)
		}
	}
	lm.assignSlots()
	lm.analyzed = true

	log.Debugf("%s: %d locals kept of %d, %d pops, %d pairs collapsed",
		lm.graph.Method.FullName(), len(lm.order), len(lm.graph.Method.Locals),
		lm.stats.Pops, lm.stats.Collapsed)
	return nil
}

// Stats returns the analysis summary.
func (lm *LocalMinimizer) Stats() *Stats {
	return &lm.stats
}

// IsElided reports whether the instruction is removed from the output.
func (lm *LocalMinimizer) IsElided(id cdfg.InstrID) bool {
	return lm.elided[id]
}

// IsPop reports whether the store instruction is emitted as a pop.
func (lm *LocalMinimizer) IsPop(id cdfg.InstrID) bool {
	return lm.pops[id]
}

// countUses walks every block in post order and every instruction in
// reverse, following operand links with an explicit worklist. Each
// instruction is visited once, so each reference to a local counts once.
func (lm *LocalMinimizer) countUses() {
	g := lm.graph
	visited := make([]bool, g.Len())
	var work []cdfg.InstrID

	for _, bid := range g.PostOrder() {
		b := g.Block(bid)
		for i := len(b.Instructions) - 1; i >= 0; i-- {
			work = append(work[:0], b.Instructions[i])
			for len(work) > 0 {
				id := work[len(work)-1]
				work = work[:len(work)-1]
				if visited[id] {
					continue
				}
				visited[id] = true

				in := g.Instr(id)
				if l := in.Local(); l != nil {
					lm.counts[l]++
				}
				if in.Operand1 != cdfg.NoInstr {
					work = append(work, in.Operand1)
				}
				work = append(work, in.Operand2.IDs()...)
			}
		}
	}
}

// rewriteBlock applies the pop and collapse rules. A load collapses only
// with the store immediately before it in the original block.
func (lm *LocalMinimizer) rewriteBlock(b *cdfg.BasicBlock, users map[cdfg.InstrID][]cdfg.InstrID) error {
	g := lm.graph
	for i, id := range b.Instructions {
		in := g.Instr(id)
		l := in.Local()
		if l == nil {
			continue
		}
		count, ok := lm.counts[l]
		if !ok {
			return fmt.Errorf("%s of %s at IL_%04x: %w", in.Code(), l, in.Offset(), ErrInconsistentUseCount)
		}

		switch code := in.Code(); {
		case code.IsStoreLocal():
			if count == 1 {
				lm.pops[id] = true
				lm.stats.Pops++
				delete(lm.counts, l)
			}

		case code.IsLoadLocal():
			if i == 0 || count != 2 {
				break
			}
			prev := g.Instr(b.Instructions[i-1])
			if !prev.Code().IsStoreLocal() || prev.Local() != l || lm.pops[prev.ID] {
				break
			}
			lm.elided[prev.ID] = true
			lm.elided[id] = true
			lm.relink(id, prev.Operand1, users)
			lm.stats.Collapsed++
			delete(lm.counts, l)
		}
	}
	return nil
}

// relink points every consumer of from at to.
func (lm *LocalMinimizer) relink(from, to cdfg.InstrID, users map[cdfg.InstrID][]cdfg.InstrID) {
	for _, uid := range users[from] {
		u := lm.graph.Instr(uid)
		if u.Operand1 == from {
			u.Operand1 = to
		}
		u.Operand2.Replace(from, to)
	}
	users[to] = append(users[to], users[from]...)
	delete(users, from)
}

// assignSlots orders the surviving locals by descending use count, ties by
// declaration index.
func (lm *LocalMinimizer) assignSlots() {
	declared := lm.graph.Method.Locals
	var survivors []*il.Local
	for _, l := range declared {
		if lm.counts[l] > 0 {
			survivors = append(survivors, l)
		}
	}
	lm.order = slices.Clone(survivors)
	slices.SortStableFunc(lm.order, func(a, b *il.Local) int {
		if ca, cb := lm.counts[a], lm.counts[b]; ca != cb {
			return cb - ca
		}
		return a.Index - b.Index
	})

	lm.stats.Order = lm.order
	lm.stats.Removed = nil
	for _, l := range declared {
		if !slices.Contains(lm.order, l) {
			lm.stats.Removed = append(lm.stats.Removed, l)
		}
	}
	lm.stats.Reordered = !slices.Equal(lm.order, survivors)
}

// PopulateLocals implements linearize.Hooks.
func (lm *LocalMinimizer) PopulateLocals(*linearize.Converter) []*il.Local {
	return lm.order
}

// EmitOperation implements linearize.Hooks.
func (lm *LocalMinimizer) EmitOperation(c *linearize.Converter, in *cdfg.Instruction) bool {
	switch {
	case lm.elided[in.ID]:
		return true
	case lm.pops[in.ID]:
		c.Emit(il.OpPop, nil)
		return true
	}
	return false
}

// MinimizeLocals analyzes the graph if needed and emits the minimized body.
func (lm *LocalMinimizer) MinimizeLocals(opts linearize.Options) (*linearize.Result, error) {
	if err := lm.Analyze(); err != nil {
		return nil, err
	}
	return linearize.NewConverter(lm.graph, lm, opts).Convert()
}
