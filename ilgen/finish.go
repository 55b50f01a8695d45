package ilgen

import (
	"fmt"

	"github.com/chazu/ilopt/debuginfo"
	"github.com/chazu/ilopt/il"
)

// Options control Finish.
type Options struct {
	// ShortenBranches picks the one-byte displacement form for every branch
	// whose target is in range. Without it every branch is long.
	ShortenBranches bool

	// EliminateBranchesToNext drops unconditional branches whose target is
	// the operation that follows them.
	EliminateBranchesToNext bool
}

// Output is a finished operation stream.
type Output struct {
	Operations     []*il.Operation
	Regions        []*il.ExceptionRegion
	CodeSize       uint32
	Events         []debuginfo.Event
	SequencePoints []debuginfo.SequencePointGroup
	Eliminated     int // branches dropped by EliminateBranchesToNext
}

// Finish lays out the stream and resolves every label. The generator must
// not be used afterwards.
func (g *Generator) Finish(opts Options) (*Output, error) {
	if g.err != nil {
		return nil, g.err
	}
	if g.depth != 0 {
		return nil, fmt.Errorf("%d scopes left open: %w", g.depth, ErrScopeUnbalanced)
	}
	if err := g.checkLabels(); err != nil {
		return nil, err
	}

	out := &Output{}
	if opts.EliminateBranchesToNext {
		out.Eliminated = g.eliminateBranchesToNext()
	}

	codes := make([]il.Opcode, len(g.ops))
	for i, p := range g.ops {
		codes[i] = p.code.LongForm()
	}
	offsets := g.layout(codes)
	if opts.ShortenBranches {
		g.shrink(codes, offsets)
		offsets = g.layout(codes)
	}
	out.CodeSize = offsets[len(g.ops)]

	out.Operations = make([]*il.Operation, 0, len(g.ops))
	for i, p := range g.ops {
		op := &il.Operation{Code: codes[i], Offset: offsets[i], Value: p.value, Location: p.loc}
		switch v := p.value.(type) {
		case *Label:
			op.Value = offsets[v.index]
		case []*Label:
			targets := make([]uint32, len(v))
			for j, l := range v {
				targets[j] = offsets[l.index]
			}
			op.Value = targets
		}
		out.Operations = append(out.Operations, op)
	}

	for _, r := range g.regions {
		region := &il.ExceptionRegion{
			Kind:         r.kind,
			CatchType:    r.catchType,
			TryStart:     offsets[r.tryStart.index],
			TryEnd:       offsets[r.tryEnd.index],
			HandlerStart: offsets[r.handlerStart.index],
			HandlerEnd:   offsets[r.handlerEnd.index],
		}
		if r.filterStart != nil {
			region.FilterStart = offsets[r.filterStart.index]
		}
		out.Regions = append(out.Regions, region)
	}

	var seq debuginfo.SequencePointBuffer
	next := 0
	for i := 0; i <= len(g.ops); i++ {
		for next < len(g.events) && g.events[next].index == i {
			e := g.events[next].event
			e.Offset = offsets[i]
			out.Events = append(out.Events, e)
			next++
		}
		if i < len(g.ops) && g.ops[i].loc != nil {
			loc := g.ops[i].loc
			out.Events = append(out.Events, debuginfo.Event{
				Kind:     debuginfo.EventSequencePoint,
				Offset:   offsets[i],
				Location: loc,
			})
			seq.Add(offsets[i], loc)
		}
	}
	out.SequencePoints = seq.Close()
	return out, nil
}

func (g *Generator) checkLabels() error {
	check := func(l *Label, use string) error {
		if l == nil || !l.Marked() {
			id, origin := -1, uint32(0)
			if l != nil {
				id, origin = l.id, l.Origin
			}
			return &UnresolvedLabelError{Label: id, Origin: origin, Use: use}
		}
		return nil
	}
	for i, p := range g.ops {
		switch v := p.value.(type) {
		case *Label:
			if err := check(v, fmt.Sprintf("%s at %d", p.code, i)); err != nil {
				return err
			}
		case []*Label:
			for _, l := range v {
				if err := check(l, fmt.Sprintf("switch at %d", i)); err != nil {
					return err
				}
			}
		}
	}
	for _, r := range g.regions {
		use := r.kind.String() + " region"
		for _, l := range []*Label{r.tryStart, r.tryEnd, r.handlerStart, r.handlerEnd} {
			if err := check(l, use); err != nil {
				return err
			}
		}
		if r.kind == il.HandlerFilter {
			if err := check(r.filterStart, use); err != nil {
				return err
			}
		}
	}
	return nil
}

// eliminateBranchesToNext removes br and br.s operations targeting the
// following position and remaps every recorded index.
func (g *Generator) eliminateBranchesToNext() int {
	n := len(g.ops)
	remap := make([]int, n+1)
	kept := make([]pending, 0, n)
	for i, p := range g.ops {
		remap[i] = len(kept)
		if l, ok := p.value.(*Label); ok && (p.code == il.OpBr || p.code == il.OpBrS) && l.index == i+1 {
			if p.loc != nil && i+1 < n && g.ops[i+1].loc == nil {
				g.ops[i+1].loc = p.loc
			}
			continue
		}
		kept = append(kept, p)
	}
	remap[n] = len(kept)

	for _, l := range g.labels {
		if l.Marked() {
			l.index = remap[l.index]
		}
	}
	for i := range g.events {
		g.events[i].index = remap[g.events[i].index]
	}
	dropped := n - len(kept)
	g.ops = kept
	return dropped
}

func (g *Generator) size(i int, code il.Opcode) uint32 {
	if code == il.OpSwitch {
		return uint32(1 + 4 + 4*len(g.ops[i].value.([]*Label)))
	}
	return uint32(1 + il.GetOpcodeInfo(code).OperandLen)
}

// layout returns the offset of every operation plus the code size.
func (g *Generator) layout(codes []il.Opcode) []uint32 {
	offsets := make([]uint32, len(codes)+1)
	for i, code := range codes {
		offsets[i+1] = offsets[i] + g.size(i, code)
	}
	return offsets
}

// shrink switches long branches to the short form until no further branch
// fits. Shrinking only ever reduces distances, so a branch chosen short
// stays in range.
func (g *Generator) shrink(codes []il.Opcode, offsets []uint32) {
	for changed := true; changed; {
		changed = false
		for i, code := range codes {
			if !code.IsBranch() || code.IsShortBranch() {
				continue
			}
			target := g.ops[i].value.(*Label)
			disp := int64(offsets[target.index]) - int64(offsets[i]+2)
			if target.index > i {
				disp -= 3 // the target moves back with the end of this branch
			}
			if disp >= -128 && disp <= 127 {
				codes[i] = code.ShortForm()
				changed = true
			}
		}
		if changed {
			copy(offsets, g.layout(codes))
		}
	}
}
