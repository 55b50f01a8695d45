// Package ilgen emits a linear operation stream against labels. Branches,
// switch cases and exception regions refer to labels that may be marked
// before or after use; Finish chooses branch encodings, assigns offsets and
// resolves every label.
package ilgen

import (
	"errors"
	"fmt"

	"github.com/chazu/ilopt/debuginfo"
	"github.com/chazu/ilopt/il"
)

var (
	ErrScopeUnbalanced = errors.New("unbalanced debug scopes")
	ErrNoScope         = errors.New("no open debug scope")
	ErrNotBranch       = errors.New("opcode does not take a label")
)

// UnresolvedLabelError reports a label that was referenced but never
// marked.
type UnresolvedLabelError struct {
	Label  int
	Origin uint32
	Use    string
}

func (e *UnresolvedLabelError) Error() string {
	return fmt.Sprintf("label %d (IL_%04x) referenced by %s was never marked", e.Label, e.Origin, e.Use)
}

// Label is a position in the emitted stream.
type Label struct {
	id     int
	index  int // operation index the label precedes; -1 until marked
	Origin uint32
}

// Marked reports whether the label has been placed.
func (l *Label) Marked() bool { return l.index >= 0 }

type pending struct {
	code  il.Opcode
	value any // *Label for branches, []*Label for switch
	loc   *il.Location
}

type pendingRegion struct {
	kind                     il.HandlerKind
	catchType                *il.Type
	tryStart, tryEnd         *Label
	handlerStart, handlerEnd *Label
	filterStart              *Label
}

type pendingEvent struct {
	index int
	event debuginfo.Event
}

// Generator accumulates operations. It is not safe for concurrent use.
type Generator struct {
	ops     []pending
	labels  []*Label
	regions []pendingRegion
	events  []pendingEvent

	loc   *il.Location
	depth int
	err   error
}

// New returns an empty generator.
func New() *Generator {
	return &Generator{}
}

// Len returns the number of operations emitted so far.
func (g *Generator) Len() int { return len(g.ops) }

// NewLabel creates an unmarked label. origin is recorded for diagnostics.
func (g *Generator) NewLabel(origin uint32) *Label {
	l := &Label{id: len(g.labels), index: -1, Origin: origin}
	g.labels = append(g.labels, l)
	return l
}

// MarkLabel places l before the next emitted operation.
func (g *Generator) MarkLabel(l *Label) {
	l.index = len(g.ops)
}

// Emit appends an operation. Branch opcodes must go through EmitBranch.
func (g *Generator) Emit(code il.Opcode, value any) {
	if code.IsBranch() || code == il.OpSwitch {
		g.fail(fmt.Errorf("emit %s: %w", code, ErrNotBranch))
		return
	}
	g.push(code, value)
}

// EmitBranch appends a branch to l.
func (g *Generator) EmitBranch(code il.Opcode, l *Label) {
	if !code.IsBranch() {
		g.fail(fmt.Errorf("emit branch %s: %w", code, ErrNotBranch))
		return
	}
	g.push(code, l)
}

// EmitSwitch appends a switch over labels.
func (g *Generator) EmitSwitch(labels []*Label) {
	g.push(il.OpSwitch, append([]*Label(nil), labels...))
}

func (g *Generator) push(code il.Opcode, value any) {
	g.ops = append(g.ops, pending{code: code, value: value, loc: g.loc})
	g.loc = nil
}

// MarkSequencePoint attaches loc to the next emitted operation.
func (g *Generator) MarkSequencePoint(loc *il.Location) {
	g.loc = loc
}

// AddExceptionHandler registers a protected region. filterStart is only
// used for filter handlers and may be nil otherwise.
func (g *Generator) AddExceptionHandler(kind il.HandlerKind, catchType *il.Type,
	tryStart, tryEnd, handlerStart, handlerEnd, filterStart *Label) {
	g.regions = append(g.regions, pendingRegion{
		kind:         kind,
		catchType:    catchType,
		tryStart:     tryStart,
		tryEnd:       tryEnd,
		handlerStart: handlerStart,
		handlerEnd:   handlerEnd,
		filterStart:  filterStart,
	})
}

// BeginScope opens a debug scope at the current position.
func (g *Generator) BeginScope() {
	g.depth++
	g.event(debuginfo.Event{Kind: debuginfo.EventOpenScope})
}

// EndScope closes the innermost debug scope at the current position.
func (g *Generator) EndScope() {
	if g.depth == 0 {
		g.fail(fmt.Errorf("end scope at %d: %w", len(g.ops), ErrScopeUnbalanced))
		return
	}
	g.depth--
	g.event(debuginfo.Event{Kind: debuginfo.EventCloseScope})
}

// AddVariableToCurrentScope declares l in the innermost open scope.
func (g *Generator) AddVariableToCurrentScope(l *il.Local) {
	if g.depth == 0 {
		g.fail(fmt.Errorf("variable %s: %w", l, ErrNoScope))
		return
	}
	g.event(debuginfo.Event{Kind: debuginfo.EventVariable, Local: l})
}

// AddConstantToCurrentScope declares c in the innermost open scope.
func (g *Generator) AddConstantToCurrentScope(c *debuginfo.Constant) {
	if g.depth == 0 {
		g.fail(fmt.Errorf("constant %s: %w", c.Name, ErrNoScope))
		return
	}
	g.event(debuginfo.Event{Kind: debuginfo.EventConstant, Constant: c})
}

func (g *Generator) event(e debuginfo.Event) {
	g.events = append(g.events, pendingEvent{index: len(g.ops), event: e})
}

func (g *Generator) fail(err error) {
	if g.err == nil {
		g.err = err
	}
}
