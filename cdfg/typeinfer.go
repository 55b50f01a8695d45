package cdfg

import (
	"github.com/chazu/ilopt/il"
)

// InferTypes assigns every instruction the static type of the value it
// pushes. Instructions that push nothing are Void; operations without a
// rule are Unknown. Setup instructions take their producers' type, so the
// pass repeats until no type changes.
func (g *Graph) InferTypes(r il.TypeResolver) {
	if r == nil {
		r = il.DefaultResolver{}
	}
	// Each round can only settle types along one more link of a setup chain.
	for round := 0; round <= len(g.instrs); round++ {
		changed := false
		for _, in := range g.instrs {
			t := g.typeOf(in, r)
			if t == nil {
				t = il.Unknown
			}
			if !il.Same(t, in.Type) {
				in.Type = t
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

func (g *Graph) operandType(id InstrID) *il.Type {
	if id == NoInstr {
		return il.Unknown
	}
	if t := g.instrs[id].Type; t != nil {
		return t
	}
	return il.Unknown
}

func (g *Graph) typeOf(in *Instruction, r il.TypeResolver) *il.Type {
	if in.Synthetic {
		if in.Operand1 == NoInstr {
			return in.Type
		}
		t := g.operandType(in.Operand1)
		if t.Kind != il.KindUnknown {
			return t
		}
		for _, p := range in.Operand2.IDs() {
			if pt := g.operandType(p); pt.Kind != il.KindUnknown {
				return pt
			}
		}
		return t
	}

	op := in.Op
	if _, push := il.StackEffect(op, g.Method); push == 0 {
		return il.Void
	}

	switch c := op.Code; {
	case c.IsLoadArg():
		if p := op.Parameter(); p != nil {
			return p.Type
		}
	case c.IsArgAddress():
		if p := op.Parameter(); p != nil {
			return il.PointerTo(p.Type)
		}
	case c.IsLoadLocal():
		if l := op.Local(); l != nil {
			return l.Type
		}
	case c.IsLocalAddress():
		if l := op.Local(); l != nil {
			return il.PointerTo(l.Type)
		}
	}

	switch op.Code {
	case il.OpLdnull:
		return il.Object
	case il.OpLdcI4S, il.OpLdcI4:
		return il.Int32
	case il.OpLdcI8:
		return il.Int64
	case il.OpLdcR4:
		return il.Float32
	case il.OpLdcR8:
		return il.Float64
	case il.OpLdstr:
		return il.String
	case il.OpDup:
		return g.operandType(in.Operand1)

	case il.OpCall, il.OpCallvirt:
		if ref, ok := op.Value.(*il.MethodRef); ok {
			return ref.Return
		}
	case il.OpNewobj:
		if ref, ok := op.Value.(*il.MethodRef); ok {
			return ref.DeclaringType
		}

	case il.OpAdd, il.OpSub, il.OpMul, il.OpDiv, il.OpRem, il.OpAnd, il.OpOr, il.OpXor:
		b, _ := in.Operand2.ID()
		return commonType(g.operandType(in.Operand1), g.operandType(b), r)
	case il.OpShl, il.OpShr, il.OpNeg, il.OpNot:
		t := g.operandType(in.Operand1)
		if r.KindOf(t) == il.KindBool {
			return il.Int32
		}
		return t
	case il.OpCeq, il.OpCgt, il.OpClt:
		return il.Bool

	case il.OpConvI4:
		return il.Int32
	case il.OpConvI8:
		return il.Int64
	case il.OpConvR4:
		return il.Float32
	case il.OpConvR8:
		return il.Float64
	case il.OpConvI:
		return il.NativeInt

	case il.OpLdfld, il.OpLdsfld:
		if f, ok := op.Value.(*il.FieldRef); ok {
			return f.Type
		}
	case il.OpLdflda:
		if f, ok := op.Value.(*il.FieldRef); ok {
			return il.PointerTo(f.Type)
		}
	case il.OpNewarr:
		if t, ok := op.Value.(*il.Type); ok {
			return il.ArrayOf(t)
		}
	case il.OpLdlen:
		return il.NativeInt
	case il.OpLdelem:
		if t, ok := op.Value.(*il.Type); ok && t != nil {
			return t
		}
		if arr := g.operandType(in.Operand1); arr.IsArray() {
			return arr.Elem
		}
	case il.OpBox:
		return il.Object
	case il.OpUnboxAny, il.OpCastclass, il.OpIsinst:
		if t, ok := op.Value.(*il.Type); ok {
			return t
		}
	}
	return il.Unknown
}

func numericRank(k il.Kind) int {
	switch k {
	case il.KindBool, il.KindInt32:
		return 1
	case il.KindNativeInt:
		return 2
	case il.KindInt64:
		return 3
	case il.KindFloat32:
		return 4
	case il.KindFloat64:
		return 5
	}
	return 0
}

// commonType returns the result type of a binary arithmetic operation.
func commonType(a, b *il.Type, r il.TypeResolver) *il.Type {
	ka, kb := r.KindOf(a), r.KindOf(b)
	if ka == il.KindPointer {
		return a
	}
	if kb == il.KindPointer {
		return b
	}
	ra, rb := numericRank(ka), numericRank(kb)
	if ra == 0 || rb == 0 {
		return il.Unknown
	}
	switch max(ra, rb) {
	case 1:
		return il.Int32
	case 2:
		return il.NativeInt
	case 3:
		return il.Int64
	case 4:
		return il.Float32
	default:
		return il.Float64
	}
}
