// Package linearize turns a control-and-data-flow graph back into a linear
// method body. Blocks are emitted in their original order through an
// ilgen.Generator; branch targets, exception regions and debug scopes are
// re-attached through labels keyed on original offsets.
//
// A Hooks implementation decides the local table and may replace the
// emission of any instruction. Identity reproduces the input.
package linearize

import (
	"errors"
	"fmt"
	"slices"

	"github.com/chazu/ilopt/cdfg"
	"github.com/chazu/ilopt/debuginfo"
	"github.com/chazu/ilopt/il"
	"github.com/chazu/ilopt/ilgen"
)

var (
	ErrNoSlot      = errors.New("local has no slot")
	ErrStackHeight = errors.New("negative stack height")
)

// Hooks customize a conversion.
type Hooks interface {
	// PopulateLocals returns the original locals to keep, in slot order.
	PopulateLocals(c *Converter) []*il.Local

	// EmitOperation emits in and reports true, or reports false to let the
	// converter emit it unchanged.
	EmitOperation(c *Converter, in *cdfg.Instruction) bool
}

// Identity keeps the declared local table and emits every instruction
// unchanged.
type Identity struct{}

func (Identity) PopulateLocals(c *Converter) []*il.Local {
	return c.Method().Locals
}

func (Identity) EmitOperation(*Converter, *cdfg.Instruction) bool {
	return false
}

// Options control a conversion.
type Options struct {
	ilgen.Options

	// Writer receives the debug events of the new body when set.
	Writer debuginfo.Writer
}

// Result is a converted method.
type Result struct {
	Body   *il.MethodBody
	Output *ilgen.Output
}

// Converter emits one graph. It is not safe for concurrent use.
type Converter struct {
	graph *cdfg.Graph
	gen   *ilgen.Generator
	hooks Hooks
	opts  Options

	labels map[uint32]*ilgen.Label
	slots  map[*il.Local]int
	kept   []*il.Local // original locals by slot
	locals []*il.Local // generator locals by slot, filled on first use

	height    int
	maxHeight int
	err       error
}

// NewConverter prepares a conversion of g.
func NewConverter(g *cdfg.Graph, hooks Hooks, opts Options) *Converter {
	if hooks == nil {
		hooks = Identity{}
	}
	return &Converter{
		graph:  g,
		gen:    ilgen.New(),
		hooks:  hooks,
		opts:   opts,
		labels: make(map[uint32]*ilgen.Label),
		slots:  make(map[*il.Local]int),
	}
}

// Graph returns the graph being converted.
func (c *Converter) Graph() *cdfg.Graph { return c.graph }

// Method returns the original method body.
func (c *Converter) Method() *il.MethodBody { return c.graph.Method }

// Label returns the label for an original offset, creating it on first
// use.
func (c *Converter) Label(offset uint32) *ilgen.Label {
	l, ok := c.labels[offset]
	if !ok {
		l = c.gen.NewLabel(offset)
		c.labels[offset] = l
	}
	return l
}

// Slot returns the slot assigned to an original local.
func (c *Converter) Slot(l *il.Local) (int, bool) {
	s, ok := c.slots[l]
	return s, ok
}

// GeneratorLocal returns the local of the new body standing in for the
// original local l, creating it on first encounter.
func (c *Converter) GeneratorLocal(l *il.Local) (*il.Local, bool) {
	slot, ok := c.slots[l]
	if !ok {
		return nil, false
	}
	return c.localAt(slot), true
}

func (c *Converter) localAt(slot int) *il.Local {
	if c.locals[slot] == nil {
		orig := c.kept[slot]
		c.locals[slot] = &il.Local{
			Index:             slot,
			Name:              orig.Name,
			Type:              orig.Type,
			CompilerGenerated: orig.CompilerGenerated,
		}
	}
	return c.locals[slot]
}

// Convert emits the graph and returns the new body.
func (c *Converter) Convert() (*Result, error) {
	c.kept = c.hooks.PopulateLocals(c)
	c.locals = make([]*il.Local, len(c.kept))
	for i, l := range c.kept {
		c.slots[l] = i
	}

	for _, r := range c.Method().Regions {
		var filter *ilgen.Label
		if r.Kind == il.HandlerFilter {
			filter = c.Label(r.FilterStart)
		}
		c.gen.AddExceptionHandler(r.Kind, r.CatchType,
			c.Label(r.TryStart), c.Label(r.TryEnd),
			c.Label(r.HandlerStart), c.Label(r.HandlerEnd), filter)
	}

	sw := newScopeWalker(c)
	for _, b := range c.graph.Blocks {
		sw.enter(b.Offset)
		c.gen.MarkLabel(c.Label(b.Offset))
		c.height = len(b.OperandStack)
		c.track()
		for _, id := range b.Instructions {
			in := c.graph.Instr(id)
			if in.Op.Location != nil {
				c.gen.MarkSequencePoint(in.Op.Location)
			}
			if !c.hooks.EmitOperation(c, in) {
				c.EmitDefault(in)
			}
			if c.err != nil {
				return nil, c.err
			}
		}
	}
	sw.close()

	out, err := c.gen.Finish(c.opts.Options)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Method().FullName(), err)
	}
	if c.opts.Writer != nil {
		debuginfo.Replay(out.Events, c.opts.Writer)
	}

	for slot := range c.locals {
		c.localAt(slot)
	}
	body := *c.Method()
	body.Operations = out.Operations
	body.Regions = out.Regions
	body.Locals = c.locals
	body.MaxStack = c.maxHeight
	return &Result{Body: &body, Output: out}, nil
}

func (c *Converter) track() {
	if c.height > c.maxHeight {
		c.maxHeight = c.height
	}
}

func (c *Converter) fail(err error) {
	if c.err == nil {
		c.err = fmt.Errorf("%s: %w", c.Method().FullName(), err)
	}
}

func (c *Converter) account(op *il.Operation) {
	pop, push := il.StackEffect(op, c.Method())
	c.height -= pop
	if c.height < 0 {
		c.fail(fmt.Errorf("%s: %w", op.Code, ErrStackHeight))
		return
	}
	c.height += push
	c.track()
}

// Emit appends a non-branch operation.
func (c *Converter) Emit(code il.Opcode, value any) {
	c.account(&il.Operation{Code: code, Value: value})
	c.gen.Emit(code, value)
}

func (c *Converter) emitBranch(code il.Opcode, target uint32) {
	c.account(&il.Operation{Code: code})
	c.gen.EmitBranch(code, c.Label(target))
}

// EmitDefault emits in unchanged apart from label, slot and argument
// remapping.
func (c *Converter) EmitDefault(in *cdfg.Instruction) {
	op := in.Op
	switch {
	case op.Code.IsBranch():
		t, _ := op.Target()
		c.emitBranch(op.Code, t)
	case op.Code == il.OpSwitch:
		targets := op.Targets()
		labels := make([]*ilgen.Label, len(targets))
		for i, t := range targets {
			labels[i] = c.Label(t)
		}
		c.account(op)
		c.gen.EmitSwitch(labels)
	case op.Code.IsLoadLocal():
		c.LoadLocal(op.Local())
	case op.Code.IsStoreLocal():
		c.StoreLocal(op.Local())
	case op.Code.IsLocalAddress():
		c.LoadLocalAddress(op.Local())
	case op.Code.IsLoadArg():
		c.LoadArg(op.Parameter())
	case op.Code.IsStoreArg():
		c.StoreArg(op.Parameter())
	case op.Code.IsArgAddress():
		c.LoadArgAddress(op.Parameter())
	default:
		c.Emit(op.Code, op.Value)
	}
}

func (c *Converter) local(l *il.Local) (int, *il.Local, bool) {
	if l == nil {
		c.fail(ErrNoSlot)
		return 0, nil, false
	}
	gl, ok := c.GeneratorLocal(l)
	if !ok {
		c.fail(fmt.Errorf("%s: %w", l, ErrNoSlot))
		return 0, nil, false
	}
	return gl.Index, gl, true
}

// LoadLocal emits the shortest load of the slot assigned to l.
func (c *Converter) LoadLocal(l *il.Local) {
	slot, gl, ok := c.local(l)
	if !ok {
		return
	}
	c.Emit(pick(slot, il.OpLdloc0, il.OpLdlocS, il.OpLdloc), gl)
}

// StoreLocal emits the shortest store to the slot assigned to l.
func (c *Converter) StoreLocal(l *il.Local) {
	slot, gl, ok := c.local(l)
	if !ok {
		return
	}
	c.Emit(pick(slot, il.OpStloc0, il.OpStlocS, il.OpStloc), gl)
}

// LoadLocalAddress emits the shortest address load of the slot assigned
// to l.
func (c *Converter) LoadLocalAddress(l *il.Local) {
	slot, gl, ok := c.local(l)
	if !ok {
		return
	}
	c.Emit(pick(slot, 0, il.OpLdlocaS, il.OpLdloca), gl)
}

func (c *Converter) LoadArg(p *il.Parameter) {
	c.Emit(pick(c.Method().ArgIndex(p), il.OpLdarg0, il.OpLdargS, il.OpLdarg), p)
}

func (c *Converter) StoreArg(p *il.Parameter) {
	c.Emit(pick(c.Method().ArgIndex(p), 0, il.OpStargS, il.OpStarg), p)
}

func (c *Converter) LoadArgAddress(p *il.Parameter) {
	c.Emit(pick(c.Method().ArgIndex(p), 0, il.OpLdargaS, il.OpLdarga), p)
}

// pick chooses between the numbered forms starting at numbered (0 when the
// family has none), the short form and the long form.
func pick(index int, numbered, short, long il.Opcode) il.Opcode {
	switch {
	case numbered != 0 && index < 4:
		return numbered + il.Opcode(index)
	case index < 256:
		return short
	default:
		return long
	}
}

// scopeWalker opens and closes debug scopes in step with emission.
type scopeWalker struct {
	c      *Converter
	scopes []*debuginfo.Scope
	next   int
	open   []*debuginfo.Scope
	root   bool
}

func newScopeWalker(c *Converter) *scopeWalker {
	scopes := slices.Clone(c.graph.Scopes)
	slices.SortStableFunc(scopes, func(a, b *debuginfo.Scope) int {
		if a.Offset != b.Offset {
			return int(a.Offset) - int(b.Offset)
		}
		return int(b.Length) - int(a.Length)
	})
	sw := &scopeWalker{c: c, scopes: scopes}
	if len(scopes) == 0 {
		sw.root = true
		c.gen.BeginScope()
		for _, l := range c.kept {
			c.gen.AddVariableToCurrentScope(c.localAt(c.slots[l]))
		}
	}
	return sw
}

// enter closes the scopes that end at or before offset and opens those
// that start there.
func (sw *scopeWalker) enter(offset uint32) {
	sw.closeUntil(func(s *debuginfo.Scope) bool { return s.End() > offset })
	for sw.next < len(sw.scopes) && sw.scopes[sw.next].Offset <= offset {
		s := sw.scopes[sw.next]
		sw.next++
		if s.End() <= offset {
			continue
		}
		sw.closeUntil(func(top *debuginfo.Scope) bool { return top.End() >= s.End() })
		sw.c.gen.BeginScope()
		for _, l := range s.Locals {
			if gl, ok := sw.c.GeneratorLocal(l); ok {
				sw.c.gen.AddVariableToCurrentScope(gl)
			}
		}
		for _, k := range s.Constants {
			sw.c.gen.AddConstantToCurrentScope(k)
		}
		sw.open = append(sw.open, s)
	}
}

// closeUntil pops open scopes until keep accepts the innermost one.
func (sw *scopeWalker) closeUntil(keep func(*debuginfo.Scope) bool) {
	for len(sw.open) > 0 && !keep(sw.open[len(sw.open)-1]) {
		sw.c.gen.EndScope()
		sw.open = sw.open[:len(sw.open)-1]
	}
}

func (sw *scopeWalker) close() {
	for range sw.open {
		sw.c.gen.EndScope()
	}
	sw.open = nil
	if sw.root {
		sw.c.gen.EndScope()
	}
}
