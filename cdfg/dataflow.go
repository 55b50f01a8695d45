package cdfg

import (
	"github.com/chazu/ilopt/il"
)

// InferDataFlow simulates the evaluation stack through every block and
// links each instruction to the producers of the values it consumes.
//
// Blocks are visited breadth-first from each root so that a block's forward
// predecessors are processed before it. The first edge into a block creates
// its operand-stack setup instructions; later edges, loop back-edges
// included, append their producers to the existing setup instructions.
// Blocks unreachable from any root are processed last and optimistically:
// a stack underflow there materializes an untyped placeholder instead of
// failing.
func (g *Graph) InferDataFlow() error {
	reachable := g.Reachable()
	visited := make([]bool, len(g.Blocks))

	for _, r := range g.Roots {
		b := g.Blocks[r]
		if b.stackSet {
			continue
		}
		b.stackSet = true
		if t, ok := g.entry[r]; ok {
			b.OperandStack = []InstrID{g.newSetup(r, NoInstr, t).ID}
		}
	}

	var queue []BlockID
	for _, r := range g.Roots {
		if !visited[r] {
			visited[r] = true
			queue = append(queue, r)
		}
	}
	run := func() error {
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			succs, err := g.flowBlock(g.Blocks[id], reachable[id])
			if err != nil {
				return err
			}
			for _, s := range succs {
				if !visited[s] {
					visited[s] = true
					queue = append(queue, s)
				}
			}
		}
		return nil
	}
	if err := run(); err != nil {
		return err
	}

	for _, b := range g.Blocks {
		if visited[b.ID] {
			continue
		}
		b.stackSet = true
		visited[b.ID] = true
		queue = append(queue, b.ID)
		if err := run(); err != nil {
			return err
		}
	}
	return nil
}

// flowBlock links the instructions of b and propagates the exit stack to
// its successors.
func (g *Graph) flowBlock(b *BasicBlock, reachable bool) ([]BlockID, error) {
	stack := append([]InstrID(nil), b.OperandStack...)

	var last *il.Operation
	for _, id := range b.Instructions {
		in := g.instrs[id]
		op := in.Op
		last = op

		pop, push := il.StackEffect(op, g.Method)
		if pop > len(stack) {
			if reachable {
				return nil, g.malformed(op.Offset, "stack underflow: %s needs %d, have %d", op.Code, pop, len(stack))
			}
			missing := pop - len(stack)
			placeholders := make([]InstrID, 0, missing)
			for i := 0; i < missing; i++ {
				placeholders = append(placeholders, g.newSetup(b.ID, NoInstr, il.Unknown).ID)
			}
			b.OperandStack = append(placeholders, b.OperandStack...)
			stack = append(placeholders, stack...)
		}

		args := stack[len(stack)-pop:]
		switch {
		case pop == 1:
			in.Operand1 = args[0]
		case pop == 2:
			in.Operand1 = args[0]
			in.Operand2 = Single(args[1])
		case pop > 2:
			in.Operand1 = args[0]
			in.Operand2 = Many(args[1:]...)
		}
		stack = stack[:len(stack)-pop]

		if op.Code == il.OpDup {
			stack = append(stack, in.Operand1, in.ID)
			continue
		}
		for i := 0; i < push; i++ {
			stack = append(stack, in.ID)
		}
	}

	if last != nil && (last.Code == il.OpLeave || last.Code == il.OpLeaveS) {
		stack = nil
	}
	for _, s := range b.Successors {
		if err := g.mergeInto(g.Blocks[s], stack, reachable); err != nil {
			return nil, err
		}
	}
	return b.Successors, nil
}

// mergeInto records stack as flowing into block s.
func (g *Graph) mergeInto(s *BasicBlock, stack []InstrID, reachable bool) error {
	if !s.stackSet {
		s.stackSet = true
		s.OperandStack = make([]InstrID, len(stack))
		for i, producer := range stack {
			s.OperandStack[i] = g.newSetup(s.ID, producer, nil).ID
		}
		return nil
	}
	if len(s.OperandStack) != len(stack) {
		if !reachable {
			return nil
		}
		return g.malformed(s.Offset, "stack height mismatch at merge: have %d, want %d", len(stack), len(s.OperandStack))
	}
	for i, producer := range stack {
		setup := g.instrs[s.OperandStack[i]]
		if producer == setup.ID || producer == setup.Operand1 || setup.Operand2.Contains(producer) {
			continue
		}
		if setup.Operand1 == NoInstr {
			setup.Operand1 = producer
			continue
		}
		setup.Operand2.Append(producer)
	}
	return nil
}
