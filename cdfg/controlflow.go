package cdfg

import (
	"slices"

	"github.com/chazu/ilopt/debuginfo"
	"github.com/chazu/ilopt/il"
)

// InferControlFlow partitions the operations of m into basic blocks and
// links each block to its successors. Local scope boundaries that fall on
// an instruction also start blocks so that scope events can be emitted at
// block granularity.
func InferControlFlow(m *il.MethodBody, scopes []*debuginfo.Scope) (*Graph, error) {
	g := &Graph{
		Method:   m,
		Scopes:   scopes,
		byOffset: make(map[uint32]BlockID),
		entry:    make(map[BlockID]*il.Type),
	}
	var next uint32
	for _, op := range m.Operations {
		if op.Offset != next {
			return nil, g.malformed(op.Offset, "%s does not follow the previous operation (want IL_%04x)", op.Code, next)
		}
		next += uint32(il.Size(op))
	}
	codeSize := m.CodeSize()

	leaders := map[uint32]bool{0: true}
	onBoundary := func(offset uint32) bool {
		return m.OffsetIndex(offset) >= 0
	}
	for _, op := range m.Operations {
		if t, ok := op.Target(); ok {
			if !onBoundary(t) {
				return nil, g.malformed(op.Offset, "%s target IL_%04x outside the instruction stream", op.Code, t)
			}
			leaders[t] = true
		}
		if op.Code == il.OpSwitch {
			for _, t := range op.Targets() {
				if !onBoundary(t) {
					return nil, g.malformed(op.Offset, "switch target IL_%04x outside the instruction stream", t)
				}
				leaders[t] = true
			}
		}
		if op.Code.EndsBlock() {
			if next := op.Offset + uint32(il.Size(op)); next < codeSize {
				leaders[next] = true
			}
		}
	}

	start := func(offset uint32, what string) error {
		if !onBoundary(offset) {
			return g.malformed(offset, "%s is not an instruction boundary", what)
		}
		leaders[offset] = true
		return nil
	}
	end := func(offset uint32, what string) error {
		if offset != codeSize && !onBoundary(offset) {
			return g.malformed(offset, "%s is not an instruction boundary", what)
		}
		leaders[offset] = true
		return nil
	}
	for _, r := range m.Regions {
		if err := start(r.TryStart, "try start"); err != nil {
			return nil, err
		}
		if err := end(r.TryEnd, "try end"); err != nil {
			return nil, err
		}
		if err := start(r.HandlerStart, "handler start"); err != nil {
			return nil, err
		}
		if err := end(r.HandlerEnd, "handler end"); err != nil {
			return nil, err
		}
		if r.Kind == il.HandlerFilter {
			if err := start(r.FilterStart, "filter start"); err != nil {
				return nil, err
			}
		}
	}
	for _, s := range scopes {
		if onBoundary(s.Offset) {
			leaders[s.Offset] = true
		}
		if onBoundary(s.End()) {
			leaders[s.End()] = true
		}
	}

	offsets := make([]uint32, 0, len(leaders))
	for off := range leaders {
		offsets = append(offsets, off)
	}
	slices.Sort(offsets)
	for i, off := range offsets {
		g.Blocks = append(g.Blocks, &BasicBlock{ID: BlockID(i), Offset: off})
		g.byOffset[off] = BlockID(i)
	}

	cur := NoBlock
	for _, op := range m.Operations {
		if id, ok := g.byOffset[op.Offset]; ok {
			cur = id
		}
		in := g.newInstr(op, cur)
		b := g.Blocks[cur]
		b.Instructions = append(b.Instructions, in.ID)
	}

	for _, b := range g.Blocks {
		g.linkSuccessors(b)
	}

	g.addRoot(0)
	for _, r := range m.Regions {
		h := g.byOffset[r.HandlerStart]
		g.addRoot(h)
		switch r.Kind {
		case il.HandlerCatch:
			t := r.CatchType
			if t == nil {
				t = il.Object
			}
			g.entry[h] = t
		case il.HandlerFilter:
			f := g.byOffset[r.FilterStart]
			g.addRoot(f)
			g.entry[h] = il.Object
			g.entry[f] = il.Object
		}
	}
	return g, nil
}

func (g *Graph) linkSuccessors(b *BasicBlock) {
	if len(b.Instructions) == 0 {
		return
	}
	add := func(id BlockID) {
		if !slices.Contains(b.Successors, id) {
			b.Successors = append(b.Successors, id)
		}
	}
	last := g.instrs[b.Instructions[len(b.Instructions)-1]].Op
	if t, ok := last.Target(); ok {
		add(g.byOffset[t])
	}
	for _, t := range last.Targets() {
		add(g.byOffset[t])
	}
	if !last.Code.IsUnconditionalTransfer() && int(b.ID)+1 < len(g.Blocks) {
		add(b.ID + 1)
	}
}

func (g *Graph) addRoot(id BlockID) {
	if !slices.Contains(g.Roots, id) {
		g.Roots = append(g.Roots, id)
	}
}
