package cdfg

import (
	"errors"
	"slices"
	"testing"

	"github.com/chazu/ilopt/debuginfo"
	"github.com/chazu/ilopt/il"
)

func mustBuild(t *testing.T, m *il.MethodBody, opts ...Option) *Graph {
	t.Helper()
	g, err := Build(m, opts...)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

// instrAt returns the instruction for the operation at index i.
func instrAt(g *Graph, m *il.MethodBody, i int) *Instruction {
	for _, in := range g.Instructions() {
		if in.Op == m.Operations[i] {
			return in
		}
	}
	return nil
}

func TestStraightLine(t *testing.T) {
	m := asm(&il.MethodBody{Static: true, ReturnType: il.Int32},
		op(il.OpLdcI4S, int32(1)),
		op(il.OpLdcI4S, int32(2)),
		op(il.OpAdd, nil),
		op(il.OpRet, nil),
	)
	g := mustBuild(t, m)

	if len(g.Blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(g.Blocks))
	}
	if !slices.Equal(g.Roots, []BlockID{0}) {
		t.Errorf("Roots = %v, want [0]", g.Roots)
	}
	one, two, add, ret := instrAt(g, m, 0), instrAt(g, m, 1), instrAt(g, m, 2), instrAt(g, m, 3)
	if add.Operand1 != one.ID {
		t.Errorf("add.Operand1 = %d, want %d", add.Operand1, one.ID)
	}
	if id, ok := add.Operand2.ID(); !ok || id != two.ID {
		t.Errorf("add.Operand2 = %v, want Single(%d)", add.Operand2.IDs(), two.ID)
	}
	if ret.Operand1 != add.ID {
		t.Errorf("ret.Operand1 = %d, want %d", ret.Operand1, add.ID)
	}
	if add.Type != il.Int32 {
		t.Errorf("add.Type = %s, want int32", add.Type)
	}
	if ret.Type != il.Void {
		t.Errorf("ret.Type = %s, want void", ret.Type)
	}
}

func TestConditionalMerge(t *testing.T) {
	p := &il.Parameter{Index: 0, Name: "c", Type: il.Bool}
	m := asm(&il.MethodBody{Static: true, ReturnType: il.Int32, Params: []*il.Parameter{p}},
		op(il.OpLdarg0, p),       // 0
		op(il.OpBrtrueS, to(4)),  // 1
		op(il.OpLdcI4S, int32(1)), // 2
		op(il.OpBrS, to(5)),      // 3
		op(il.OpLdcI4S, int32(2)), // 4
		op(il.OpRet, nil),        // 5
	)
	g := mustBuild(t, m)

	if len(g.Blocks) != 4 {
		t.Fatalf("got %d blocks, want 4", len(g.Blocks))
	}
	wantSuccs := [][]BlockID{{2, 1}, {3}, {3}, nil}
	for i, want := range wantSuccs {
		if !slices.Equal(g.Blocks[i].Successors, want) {
			t.Errorf("block %d successors = %v, want %v", i, g.Blocks[i].Successors, want)
		}
	}

	join := g.Blocks[3]
	if len(join.OperandStack) != 1 {
		t.Fatalf("join operand stack = %v, want one entry", join.OperandStack)
	}
	setup := g.Instr(join.OperandStack[0])
	if !setup.Synthetic {
		t.Error("setup instruction should be synthetic")
	}
	producers := setup.Operands()
	one, two := instrAt(g, m, 2), instrAt(g, m, 4)
	if !slices.Contains(producers, one.ID) || !slices.Contains(producers, two.ID) || len(producers) != 2 {
		t.Errorf("setup producers = %v, want %d and %d", producers, one.ID, two.ID)
	}
	if ret := instrAt(g, m, 5); ret.Operand1 != setup.ID {
		t.Errorf("ret.Operand1 = %d, want setup %d", ret.Operand1, setup.ID)
	}
	if setup.Type != il.Int32 {
		t.Errorf("setup.Type = %s, want int32", setup.Type)
	}
}

func TestLoopBackEdgeReusesSetup(t *testing.T) {
	m := asm(&il.MethodBody{Static: true, ReturnType: il.Int32},
		op(il.OpLdcI4S, int32(0)),  // 0
		op(il.OpLdcI4S, int32(1)),  // 1 loop head
		op(il.OpAdd, nil),          // 2
		op(il.OpDup, nil),          // 3
		op(il.OpLdcI4S, int32(10)), // 4
		op(il.OpBltS, to(1)),       // 5
		op(il.OpRet, nil),          // 6
	)
	g := mustBuild(t, m)

	head, ok := g.BlockAt(m.Operations[1].Offset)
	if !ok {
		t.Fatal("no block at loop head")
	}
	if !slices.Contains(head.Successors, head.ID) {
		t.Errorf("loop head successors %v should include itself", head.Successors)
	}
	if len(head.OperandStack) != 1 {
		t.Fatalf("loop head stack = %v, want one entry", head.OperandStack)
	}
	setup := g.Instr(head.OperandStack[0])
	zero, add := instrAt(g, m, 0), instrAt(g, m, 2)
	if setup.Operand1 != zero.ID {
		t.Errorf("setup.Operand1 = %d, want %d", setup.Operand1, zero.ID)
	}
	if id, ok := setup.Operand2.ID(); !ok || id != add.ID {
		t.Errorf("setup.Operand2 = %v, want Single(%d)", setup.Operand2.IDs(), add.ID)
	}
	if add.Operand1 != setup.ID {
		t.Errorf("add.Operand1 = %d, want setup %d", add.Operand1, setup.ID)
	}
	if dup := instrAt(g, m, 3); dup.Operand1 != add.ID || dup.Type != il.Int32 {
		t.Errorf("dup = %+v, want operand %d typed int32", dup, add.ID)
	}
	blt := instrAt(g, m, 5)
	if blt.Operand1 != instrAt(g, m, 3).ID {
		t.Errorf("blt.Operand1 = %d, want dup", blt.Operand1)
	}
}

func TestSwitchSuccessors(t *testing.T) {
	m := asm(&il.MethodBody{Static: true},
		op(il.OpLdcI4S, int32(1)),    // 0
		op(il.OpSwitch, []to{3, 3, 4}), // 1
		op(il.OpRet, nil),            // 2
		op(il.OpRet, nil),            // 3
		op(il.OpRet, nil),            // 4
	)
	g := mustBuild(t, m)

	b0 := g.Blocks[0]
	want := []BlockID{2, 3, 1}
	if !slices.Equal(b0.Successors, want) {
		t.Errorf("switch successors = %v, want %v", b0.Successors, want)
	}
}

func TestMalformedBranchTarget(t *testing.T) {
	m := asm(&il.MethodBody{Name: "Bad", DeclaringType: il.Class("C"), Static: true},
		op(il.OpBr, uint32(0)),
		op(il.OpRet, nil),
	)
	m.Operations[0].Value = uint32(100)

	_, err := Build(m)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("Build error = %v, want ErrMalformed", err)
	}
	var me *MalformedError
	if !errors.As(err, &me) {
		t.Fatalf("error %T is not a *MalformedError", err)
	}
	if me.Method != "C::Bad" || me.Offset != 0 {
		t.Errorf("MalformedError = %+v, want C::Bad at 0", me)
	}
}

func TestMalformedRegionStart(t *testing.T) {
	m := asm(&il.MethodBody{Static: true},
		op(il.OpLdcI4, int32(1)),
		op(il.OpPop, nil),
		op(il.OpRet, nil),
	)
	m.Regions = []*il.ExceptionRegion{{Kind: il.HandlerFinally, TryStart: 1, TryEnd: 5, HandlerStart: 5, HandlerEnd: 7}}
	if _, err := Build(m); !errors.Is(err, ErrMalformed) {
		t.Fatalf("Build error = %v, want ErrMalformed", err)
	}
}

func TestMalformedOffsets(t *testing.T) {
	tests := []struct {
		name    string
		offsets []uint32
		want    uint32
	}{
		{"not at zero", []uint32{4, 5}, 4},
		{"gap", []uint32{0, 3}, 3},
		{"overlap", []uint32{0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := asm(&il.MethodBody{Static: true}, op(il.OpNop, nil), op(il.OpRet, nil))
			for i, off := range tt.offsets {
				m.Operations[i].Offset = off
			}
			_, err := Build(m)
			var me *MalformedError
			if !errors.As(err, &me) {
				t.Fatalf("Build error = %v, want *MalformedError", err)
			}
			if me.Offset != tt.want {
				t.Errorf("MalformedError.Offset = %d, want %d", me.Offset, tt.want)
			}
		})
	}
}

func TestStackUnderflowReachable(t *testing.T) {
	m := asm(&il.MethodBody{Static: true},
		op(il.OpPop, nil),
		op(il.OpRet, nil),
	)
	if _, err := Build(m); !errors.Is(err, ErrMalformed) {
		t.Fatalf("Build error = %v, want ErrMalformed", err)
	}
}

func TestUnreachableIsOptimistic(t *testing.T) {
	m := asm(&il.MethodBody{Static: true},
		op(il.OpRet, nil),
		op(il.OpPop, nil), // never reached
		op(il.OpRet, nil),
	)
	g := mustBuild(t, m)

	b, _ := g.BlockAt(m.Operations[1].Offset)
	if len(b.OperandStack) != 1 {
		t.Fatalf("unreachable block stack = %v, want one placeholder", b.OperandStack)
	}
	ph := g.Instr(b.OperandStack[0])
	if ph.Type != il.Unknown || ph.Operand1 != NoInstr {
		t.Errorf("placeholder = %+v", ph)
	}
	if pop := instrAt(g, m, 1); pop.Operand1 != ph.ID {
		t.Errorf("pop.Operand1 = %d, want placeholder %d", pop.Operand1, ph.ID)
	}
}

func TestMergeHeightMismatch(t *testing.T) {
	m := asm(&il.MethodBody{Static: true},
		op(il.OpLdcI4S, int32(1)), // 0
		op(il.OpBrtrueS, to(3)),   // 1
		op(il.OpLdcI4S, int32(2)), // 2
		op(il.OpRet, nil),         // 3
	)
	if _, err := Build(m); !errors.Is(err, ErrMalformed) {
		t.Fatalf("Build error = %v, want ErrMalformed", err)
	}
}

func TestCatchHandlerEntry(t *testing.T) {
	exc := il.Class("System.Exception")
	m := asm(&il.MethodBody{Static: true},
		op(il.OpNop, nil),       // 0 try
		op(il.OpLeaveS, to(4)), // 1
		op(il.OpPop, nil),       // 2 catch
		op(il.OpLeaveS, to(4)), // 3
		op(il.OpRet, nil),       // 4
	)
	m.Regions = []*il.ExceptionRegion{{
		Kind:         il.HandlerCatch,
		CatchType:    exc,
		TryStart:     m.Operations[0].Offset,
		TryEnd:       m.Operations[2].Offset,
		HandlerStart: m.Operations[2].Offset,
		HandlerEnd:   m.Operations[4].Offset,
	}}
	g := mustBuild(t, m)

	handler, _ := g.BlockAt(m.Operations[2].Offset)
	if !slices.Contains(g.Roots, handler.ID) {
		t.Errorf("Roots = %v, want handler %d included", g.Roots, handler.ID)
	}
	if len(handler.OperandStack) != 1 {
		t.Fatalf("handler stack = %v, want exactly one entry", handler.OperandStack)
	}
	exObj := g.Instr(handler.OperandStack[0])
	if exObj.Type != exc {
		t.Errorf("exception object type = %s, want %s", exObj.Type, exc)
	}
	if pop := instrAt(g, m, 2); pop.Operand1 != exObj.ID {
		t.Errorf("pop.Operand1 = %d, want %d", pop.Operand1, exObj.ID)
	}
	ret, _ := g.BlockAt(m.Operations[4].Offset)
	if len(ret.OperandStack) != 0 {
		t.Errorf("leave target stack = %v, want empty", ret.OperandStack)
	}
}

func TestEmptyBlockAtCodeEnd(t *testing.T) {
	m := asm(&il.MethodBody{Static: true},
		op(il.OpNop, nil),         // 0 try
		op(il.OpLeaveS, to(2)),   // 1
		op(il.OpEndfinally, nil), // 2 finally
	)
	size := m.CodeSize()
	m.Regions = []*il.ExceptionRegion{{
		Kind:         il.HandlerFinally,
		TryStart:     0,
		TryEnd:       m.Operations[2].Offset,
		HandlerStart: m.Operations[2].Offset,
		HandlerEnd:   size,
	}}
	g := mustBuild(t, m)

	b, ok := g.BlockAt(size)
	if !ok {
		t.Fatalf("no block at code end IL_%04x", size)
	}
	if len(b.Instructions) != 0 {
		t.Errorf("code-end block has %d instructions, want 0", len(b.Instructions))
	}
	if h, _ := g.BlockAt(m.Operations[2].Offset); len(h.OperandStack) != 0 {
		t.Errorf("finally entry stack = %v, want empty", h.OperandStack)
	}
}

func TestFilterRoots(t *testing.T) {
	m := asm(&il.MethodBody{Static: true},
		op(il.OpNop, nil),        // 0 try
		op(il.OpLeaveS, to(6)),  // 1
		op(il.OpPop, nil),        // 2 filter
		op(il.OpLdcI4S, int32(1)), // 3
		op(il.OpEndfilter, nil),  // 4
		op(il.OpPop, nil),        // 5 handler
		op(il.OpRet, nil),        // 6
	)
	m.Regions = []*il.ExceptionRegion{{
		Kind:         il.HandlerFilter,
		TryStart:     0,
		TryEnd:       m.Operations[2].Offset,
		FilterStart:  m.Operations[2].Offset,
		HandlerStart: m.Operations[5].Offset,
		HandlerEnd:   m.Operations[6].Offset,
	}}
	g := mustBuild(t, m)

	if len(g.Roots) != 3 {
		t.Errorf("Roots = %v, want entry, handler and filter", g.Roots)
	}
	for _, i := range []int{2, 5} {
		b, _ := g.BlockAt(m.Operations[i].Offset)
		if len(b.OperandStack) != 1 || g.Instr(b.OperandStack[0]).Type != il.Object {
			t.Errorf("block at op %d stack = %v, want one object", i, b.OperandStack)
		}
	}
}

func TestScopeBoundariesAreLeaders(t *testing.T) {
	m := asm(&il.MethodBody{Static: true},
		op(il.OpNop, nil),
		op(il.OpNop, nil),
		op(il.OpNop, nil),
		op(il.OpRet, nil),
	)
	scopes := debuginfo.ScopeList{
		{Offset: 1, Length: 1},
		{Offset: 0, Length: 40}, // end not on a boundary
	}
	g := mustBuild(t, m, WithScopes(scopes))

	var starts []uint32
	for _, b := range g.Blocks {
		starts = append(starts, b.Offset)
	}
	if want := []uint32{0, 1, 2}; !slices.Equal(starts, want) {
		t.Errorf("block offsets = %v, want %v", starts, want)
	}
	if len(g.Scopes) != 2 {
		t.Errorf("graph scopes = %d, want 2", len(g.Scopes))
	}
}

func TestOrders(t *testing.T) {
	p := &il.Parameter{Index: 0, Name: "c", Type: il.Bool}
	m := asm(&il.MethodBody{Static: true, Params: []*il.Parameter{p}},
		op(il.OpLdarg0, p),     // 0 b0
		op(il.OpBrtrueS, to(3)), // 1
		op(il.OpNop, nil),      // 2 b1
		op(il.OpRet, nil),      // 3 b2
		op(il.OpRet, nil),      // 4 b3 unreachable
	)
	g := mustBuild(t, m)

	po := g.PostOrder()
	if want := []BlockID{2, 1, 0, 3}; !slices.Equal(po, want) {
		t.Errorf("PostOrder = %v, want %v", po, want)
	}
	if rpo := g.ReversePostOrder(); rpo[0] != 3 || rpo[3] != 2 {
		t.Errorf("ReversePostOrder = %v", rpo)
	}
	if preds := g.Predecessors(2); !slices.Equal(preds, []BlockID{0, 1}) {
		t.Errorf("Predecessors(2) = %v, want [0 1]", preds)
	}
	reach := g.Reachable()
	if !reach[0] || !reach[2] || reach[3] {
		t.Errorf("Reachable = %v", reach)
	}
}

func TestTypeRules(t *testing.T) {
	obj := il.Class("Point")
	field := &il.FieldRef{Name: "X", DeclaringType: obj, Type: il.Float64}
	ctor := &il.MethodRef{Name: ".ctor", DeclaringType: obj}
	l := &il.Local{Index: 0, Type: il.Int64}

	m := asm(&il.MethodBody{Static: true, Locals: []*il.Local{l}},
		op(il.OpNewobj, ctor),       // 0 Point
		op(il.OpLdfld, field),       // 1 float64
		op(il.OpLdloc0, l),          // 2 int64
		op(il.OpConvR8, nil),        // 3 float64
		op(il.OpMul, nil),           // 4 float64
		op(il.OpPop, nil),           // 5
		op(il.OpLdloca, l),          // 6 int64&
		op(il.OpPop, nil),           // 7
		op(il.OpLdcI4S, int32(3)),   // 8
		op(il.OpNewarr, il.String),  // 9 string[]
		op(il.OpLdcI4S, int32(0)),   // 10
		op(il.OpLdelem, nil),        // 11 string
		op(il.OpLdnull, nil),        // 12
		op(il.OpCeq, nil),           // 13 bool
		op(il.OpPop, nil),           // 14
		op(il.OpRet, nil),           // 15
	)
	g := mustBuild(t, m)

	tests := []struct {
		index int
		want  string
	}{
		{0, "Point"},
		{1, "float64"},
		{2, "int64"},
		{4, "float64"},
		{5, "void"},
		{6, "int64&"},
		{9, "string[]"},
		{11, "string"},
		{12, "object"},
		{13, "bool"},
	}
	for _, tt := range tests {
		if got := instrAt(g, m, tt.index).Type.String(); got != tt.want {
			t.Errorf("type of op %d (%s) = %s, want %s", tt.index, m.Operations[tt.index].Code, got, tt.want)
		}
	}
}

func TestUnknownOperationDegrades(t *testing.T) {
	m := asm(&il.MethodBody{Static: true},
		op(il.OpLdsfld, nil), // no field reference
		op(il.OpPop, nil),
		op(il.OpRet, nil),
	)
	g := mustBuild(t, m)
	if got := instrAt(g, m, 0).Type; got != il.Unknown {
		t.Errorf("type = %s, want unknown", got)
	}
}
