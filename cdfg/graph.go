// Package cdfg builds a control-and-data-flow graph from a linear method
// body. Blocks partition the operation stream; every instruction links to
// the instructions that produced its stack inputs.
//
// The graph is an arena: instructions and blocks are addressed by index and
// links between them are plain indices. A graph is built once for one
// method and is not safe for concurrent use.
package cdfg

import (
	"fmt"

	"github.com/chazu/ilopt/debuginfo"
	"github.com/chazu/ilopt/il"
)

// InstrID addresses an instruction in its graph.
type InstrID int32

// BlockID addresses a basic block in its graph.
type BlockID int32

const (
	NoInstr InstrID = -1
	NoBlock BlockID = -1
)

// Instruction is one operation with explicit operand links. Synthetic
// instructions have no operation; they are the operand-stack setup entries
// of a block and carry the value(s) live on the stack at block entry.
type Instruction struct {
	ID        InstrID
	Op        *il.Operation
	Block     BlockID
	Operand1  InstrID
	Operand2  Operand
	Type      *il.Type
	Synthetic bool
}

// Code returns the opcode, or OpNop for synthetic instructions.
func (in *Instruction) Code() il.Opcode {
	if in.Op == nil {
		return il.OpNop
	}
	return in.Op.Code
}

// Offset returns the original offset of the operation.
func (in *Instruction) Offset() uint32 {
	if in.Op == nil {
		return 0
	}
	return in.Op.Offset
}

// Operands returns Operand1 followed by every Operand2 producer.
func (in *Instruction) Operands() []InstrID {
	var ids []InstrID
	if in.Operand1 != NoInstr {
		ids = append(ids, in.Operand1)
	}
	return append(ids, in.Operand2.IDs()...)
}

// Local returns the local referenced by the operation, if any.
func (in *Instruction) Local() *il.Local {
	if in.Op == nil {
		return nil
	}
	return in.Op.Local()
}

func (in *Instruction) String() string {
	if in.Synthetic {
		return fmt.Sprintf("#%d setup(%d %v) %s", in.ID, in.Operand1, in.Operand2.IDs(), in.Type)
	}
	return fmt.Sprintf("#%d %s", in.ID, in.Op)
}

// BasicBlock is a maximal straight-line run of instructions. Only the first
// instruction is a branch target.
type BasicBlock struct {
	ID           BlockID
	Offset       uint32
	Instructions []InstrID
	OperandStack []InstrID // setup instructions, bottom of stack first
	Successors   []BlockID

	stackSet bool
}

// Graph owns the blocks and instructions of one method.
type Graph struct {
	Method *il.MethodBody
	Blocks []*BasicBlock // in offset order; Blocks[i].ID == i
	Roots  []BlockID
	Scopes []*debuginfo.Scope

	instrs   []*Instruction
	byOffset map[uint32]BlockID
	entry    map[BlockID]*il.Type // handler blocks entered with the exception object
}

// Instr returns the instruction with the given id.
func (g *Graph) Instr(id InstrID) *Instruction {
	return g.instrs[id]
}

// Block returns the block with the given id.
func (g *Graph) Block(id BlockID) *BasicBlock {
	return g.Blocks[id]
}

// BlockAt returns the block starting at offset.
func (g *Graph) BlockAt(offset uint32) (*BasicBlock, bool) {
	id, ok := g.byOffset[offset]
	if !ok {
		return nil, false
	}
	return g.Blocks[id], true
}

// Len returns the number of instructions, synthetic ones included.
func (g *Graph) Len() int {
	return len(g.instrs)
}

// Instructions returns every instruction in creation order.
func (g *Graph) Instructions() []*Instruction {
	return g.instrs
}

func (g *Graph) newInstr(op *il.Operation, block BlockID) *Instruction {
	in := &Instruction{
		ID:       InstrID(len(g.instrs)),
		Op:       op,
		Block:    block,
		Operand1: NoInstr,
	}
	g.instrs = append(g.instrs, in)
	return in
}

func (g *Graph) newSetup(block BlockID, producer InstrID, t *il.Type) *Instruction {
	in := g.newInstr(nil, block)
	in.Synthetic = true
	in.Operand1 = producer
	in.Type = t
	return in
}

// Option configures Build.
type Option func(*buildOptions)

type buildOptions struct {
	scopes   debuginfo.ScopeProvider
	resolver il.TypeResolver
}

// WithScopes makes local scope boundaries block leaders and records the
// scopes on the graph.
func WithScopes(p debuginfo.ScopeProvider) Option {
	return func(o *buildOptions) { o.scopes = p }
}

// WithResolver sets the type resolver used by the type inferencer.
func WithResolver(r il.TypeResolver) Option {
	return func(o *buildOptions) { o.resolver = r }
}

// Build runs the control-flow, data-flow and type inferencers.
func Build(m *il.MethodBody, opts ...Option) (*Graph, error) {
	o := buildOptions{resolver: il.DefaultResolver{}}
	for _, opt := range opts {
		opt(&o)
	}
	var scopes []*debuginfo.Scope
	if o.scopes != nil {
		scopes = o.scopes.LocalScopes(m)
	}
	g, err := InferControlFlow(m, scopes)
	if err != nil {
		return nil, err
	}
	if err := g.InferDataFlow(); err != nil {
		return nil, err
	}
	g.InferTypes(o.resolver)
	return g, nil
}
