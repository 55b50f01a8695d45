package il

import (
	"errors"
	"fmt"
)

// Stack checker errors.
var (
	ErrStackUnderflow = errors.New("stack underflow")
	ErrStackMismatch  = errors.New("inconsistent stack depth at merge")
	ErrInvalidTarget  = errors.New("branch target is not an instruction boundary")
)

// StackEffect returns how many values op pops and pushes when executed in m.
func StackEffect(op *Operation, m *MethodBody) (pop, push int) {
	switch op.Code {
	case OpCall, OpCallvirt:
		ref, _ := op.Value.(*MethodRef)
		if ref == nil {
			return 0, 0
		}
		pop = len(ref.Params)
		if !ref.Static {
			pop++
		}
		if ref.ReturnsValue() {
			push = 1
		}
		return pop, push
	case OpNewobj:
		ref, _ := op.Value.(*MethodRef)
		if ref == nil {
			return 0, 1
		}
		return len(ref.Params), 1
	case OpRet:
		if m != nil && m.ReturnsValue() {
			return 1, 0
		}
		return 0, 0
	}
	info := GetOpcodeInfo(op.Code)
	return info.StackPop, info.StackPush
}

// Size returns the encoded size of op in bytes.
func Size(op *Operation) int {
	if op.Code == OpSwitch {
		return 1 + 4 + 4*len(op.Targets())
	}
	return 1 + GetOpcodeInfo(op.Code).OperandLen
}

// Layout assigns sequential offsets to ops starting at zero and returns the
// total code size.
func Layout(ops []*Operation) uint32 {
	var off uint32
	for _, op := range ops {
		op.Offset = off
		off += uint32(Size(op))
	}
	return off
}

type stackEntry struct {
	index int
	depth int
}

// CheckStack simulates operand-stack depth over every path from the entry
// point and from each handler and filter entry. It returns the maximum
// depth reached.
func CheckStack(m *MethodBody) (int, error) {
	n := len(m.Operations)
	if n == 0 {
		return 0, nil
	}
	depths := make([]int, n)
	for i := range depths {
		depths[i] = -1
	}

	var work []stackEntry
	enqueue := func(offset uint32, depth int) error {
		i := m.OffsetIndex(offset)
		if i < 0 {
			return fmt.Errorf("%s: IL_%04x: %w", m.FullName(), offset, ErrInvalidTarget)
		}
		work = append(work, stackEntry{i, depth})
		return nil
	}

	if err := enqueue(0, 0); err != nil {
		return 0, err
	}
	for _, r := range m.Regions {
		if err := enqueue(r.HandlerStart, r.Kind.EntryDepth()); err != nil {
			return 0, err
		}
		if r.Kind == HandlerFilter {
			if err := enqueue(r.FilterStart, 1); err != nil {
				return 0, err
			}
		}
	}

	maxDepth := 0
	for len(work) > 0 {
		e := work[len(work)-1]
		work = work[:len(work)-1]

		i, depth := e.index, e.depth
		maxDepth = max(maxDepth, depth)
		for i < n {
			op := m.Operations[i]
			if depths[i] >= 0 {
				if depths[i] != depth {
					return maxDepth, fmt.Errorf("%s: IL_%04x: have %d, want %d: %w",
						m.FullName(), op.Offset, depth, depths[i], ErrStackMismatch)
				}
				break
			}
			depths[i] = depth

			pop, push := StackEffect(op, m)
			if depth < pop {
				return maxDepth, fmt.Errorf("%s: IL_%04x: %s: %w", m.FullName(), op.Offset, op.Code, ErrStackUnderflow)
			}
			depth += push - pop
			if depth > maxDepth {
				maxDepth = depth
			}

			if t, ok := op.Target(); ok {
				td := depth
				if op.Code == OpLeave || op.Code == OpLeaveS {
					td = 0
				}
				if err := enqueue(t, td); err != nil {
					return maxDepth, err
				}
			}
			for _, t := range op.Targets() {
				if err := enqueue(t, depth); err != nil {
					return maxDepth, err
				}
			}
			if op.Code.IsUnconditionalTransfer() {
				break
			}
			i++
		}
	}
	return maxDepth, nil
}
