package linearize

import (
	"errors"
	"slices"
	"testing"

	"github.com/chazu/ilopt/cdfg"
	"github.com/chazu/ilopt/debuginfo"
	"github.com/chazu/ilopt/il"
	"github.com/chazu/ilopt/ilgen"
)

type to int

func op(code il.Opcode, value any) *il.Operation {
	return &il.Operation{Code: code, Value: value}
}

func asm(m *il.MethodBody, ops ...*il.Operation) *il.MethodBody {
	il.Layout(ops)
	for _, o := range ops {
		if t, ok := o.Value.(to); ok {
			o.Value = ops[t].Offset
		}
	}
	m.Operations = ops
	if m.Name == "" {
		m.Name = "M"
	}
	if m.ReturnType == nil {
		m.ReturnType = il.Void
	}
	return m
}

func convert(t *testing.T, m *il.MethodBody, hooks Hooks, opts Options, build ...cdfg.Option) *Result {
	t.Helper()
	g, err := cdfg.Build(m, build...)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	res, err := NewConverter(g, hooks, opts).Convert()
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	return res
}

func codes(ops []*il.Operation) []il.Opcode {
	var cs []il.Opcode
	for _, o := range ops {
		cs = append(cs, o.Code)
	}
	return cs
}

func loopMethod() *il.MethodBody {
	i := &il.Local{Index: 0, Name: "i", Type: il.Int32}
	return asm(&il.MethodBody{Static: true, ReturnType: il.Int32, MaxStack: 2, Locals: []*il.Local{i}},
		op(il.OpLdcI4S, int32(0)),  // 0
		op(il.OpStloc0, i),         // 1
		op(il.OpLdloc0, i),         // 2 head
		op(il.OpLdcI4S, int32(1)),  // 3
		op(il.OpAdd, nil),          // 4
		op(il.OpStloc0, i),         // 5
		op(il.OpLdloc0, i),         // 6
		op(il.OpLdcI4S, int32(10)), // 7
		op(il.OpBltS, to(2)),       // 8
		op(il.OpLdloc0, i),         // 9
		op(il.OpRet, nil),          // 10
	)
}

func TestIdentityRoundTrip(t *testing.T) {
	m := loopMethod()
	res := convert(t, m, Identity{}, Options{Options: ilgen.Options{ShortenBranches: true}})
	body := res.Body

	if !slices.Equal(codes(body.Operations), codes(m.Operations)) {
		t.Fatalf("codes = %v, want %v", codes(body.Operations), codes(m.Operations))
	}
	for i, o := range body.Operations {
		if o.Offset != m.Operations[i].Offset {
			t.Errorf("op %d offset = %d, want %d", i, o.Offset, m.Operations[i].Offset)
		}
	}
	if got, want := body.Operations[8].Value.(uint32), body.Operations[2].Offset; got != want {
		t.Errorf("loop branch target = %d, want %d", got, want)
	}
	if body.MaxStack != 2 {
		t.Errorf("MaxStack = %d, want 2", body.MaxStack)
	}
	if len(body.Locals) != 1 || body.Locals[0] == m.Locals[0] || body.Locals[0].Name != "i" {
		t.Errorf("Locals = %v, want a fresh copy of i", body.Locals)
	}
	if body.Operations[1].Local() != body.Locals[0] {
		t.Error("emitted stloc should reference the new local")
	}
	if depth, err := il.CheckStack(body); err != nil || depth > body.MaxStack {
		t.Errorf("CheckStack = %d, %v; MaxStack %d", depth, err, body.MaxStack)
	}
}

// reversed keeps every local in reverse declaration order.
type reversed struct{}

func (reversed) PopulateLocals(c *Converter) []*il.Local {
	ls := slices.Clone(c.Method().Locals)
	slices.Reverse(ls)
	return ls
}

func (reversed) EmitOperation(*Converter, *cdfg.Instruction) bool { return false }

func TestSlotRemappingPicksForms(t *testing.T) {
	locals := make([]*il.Local, 300)
	for i := range locals {
		locals[i] = &il.Local{Index: i, Type: il.Int32}
	}
	m := asm(&il.MethodBody{Static: true, Locals: locals},
		op(il.OpLdloc, locals[299]),
		op(il.OpStloc, locals[0]),
		op(il.OpLdloc, locals[100]),
		op(il.OpStloc, locals[298]),
		op(il.OpLdlocaS, locals[299]),
		op(il.OpPop, nil),
		op(il.OpRet, nil),
	)
	res := convert(t, m, reversed{}, Options{})

	want := []il.Opcode{il.OpLdloc0, il.OpStloc, il.OpLdlocS, il.OpStloc1, il.OpLdlocaS, il.OpPop, il.OpRet}
	if got := codes(res.Body.Operations); !slices.Equal(got, want) {
		t.Fatalf("codes = %v, want %v", got, want)
	}
	slots := []int{0, 299, 199, 1, 0}
	for i, s := range slots {
		if got := res.Body.Operations[i].Local().Index; got != s {
			t.Errorf("op %d slot = %d, want %d", i, got, s)
		}
	}
	if len(res.Body.Locals) != 300 {
		t.Errorf("got %d locals, want 300", len(res.Body.Locals))
	}
	for i, l := range res.Body.Locals {
		if l.Index != i {
			t.Fatalf("Locals[%d].Index = %d", i, l.Index)
		}
	}
}

func TestArgumentForms(t *testing.T) {
	this := &il.Parameter{Name: "this", Type: il.Class("C")}
	params := make([]*il.Parameter, 5)
	for i := range params {
		params[i] = &il.Parameter{Index: i, Type: il.Int32}
	}
	m := asm(&il.MethodBody{This: this, Params: params},
		op(il.OpLdarg, params[4]),
		op(il.OpStarg, params[0]),
		op(il.OpLdargaS, this),
		op(il.OpPop, nil),
		op(il.OpRet, nil),
	)
	res := convert(t, m, Identity{}, Options{})
	want := []il.Opcode{il.OpLdargS, il.OpStargS, il.OpLdargaS, il.OpPop, il.OpRet}
	if got := codes(res.Body.Operations); !slices.Equal(got, want) {
		t.Errorf("codes = %v, want %v", got, want)
	}
}

func TestRegionRemapping(t *testing.T) {
	exc := il.Class("System.Exception")
	m := asm(&il.MethodBody{Static: true},
		op(il.OpNop, nil),      // 0 try
		op(il.OpLeave, to(4)), // 1
		op(il.OpPop, nil),      // 2 catch
		op(il.OpLeave, to(4)), // 3
		op(il.OpRet, nil),      // 4
	)
	m.Regions = []*il.ExceptionRegion{{
		Kind:         il.HandlerCatch,
		CatchType:    exc,
		TryStart:     0,
		TryEnd:       m.Operations[2].Offset,
		HandlerStart: m.Operations[2].Offset,
		HandlerEnd:   m.Operations[4].Offset,
	}}
	res := convert(t, m, Identity{}, Options{Options: ilgen.Options{ShortenBranches: true}})

	ops := res.Body.Operations
	r := res.Body.Regions[0]
	if r.TryStart != 0 || r.TryEnd != ops[2].Offset || r.HandlerStart != ops[2].Offset || r.HandlerEnd != ops[4].Offset {
		t.Errorf("region = %+v, ops at %d %d", r, ops[2].Offset, ops[4].Offset)
	}
	if ops[1].Code != il.OpLeaveS || ops[2].Offset != 3 {
		t.Errorf("leave = %s, handler at %d; want leave.s and 3", ops[1].Code, ops[2].Offset)
	}
	if r.CatchType != exc {
		t.Errorf("CatchType = %v", r.CatchType)
	}
	if res.Body.MaxStack != 1 {
		t.Errorf("MaxStack = %d, want 1", res.Body.MaxStack)
	}
}

// dropFirst keeps every local but the first.
type dropFirst struct{}

func (dropFirst) PopulateLocals(c *Converter) []*il.Local {
	return c.Method().Locals[1:]
}

func (dropFirst) EmitOperation(c *Converter, in *cdfg.Instruction) bool {
	if in.Local() == c.Method().Locals[0] {
		c.Emit(il.OpPop, nil)
		return true
	}
	return false
}

func TestScopesWalkedInStep(t *testing.T) {
	a := &il.Local{Index: 0, Name: "a", Type: il.Int32}
	b := &il.Local{Index: 1, Name: "b", Type: il.Int32}
	k := &debuginfo.Constant{Name: "K", Type: il.Int32, Value: int32(1)}
	m := asm(&il.MethodBody{Static: true, Locals: []*il.Local{a, b}},
		op(il.OpLdcI4S, int32(1)), // 0
		op(il.OpStloc0, a),        // 2
		op(il.OpLdcI4S, int32(2)), // 3
		op(il.OpStloc1, b),        // 5
		op(il.OpRet, nil),         // 6
	)
	scopes := debuginfo.ScopeList{
		{Offset: 0, Length: 7, Locals: []*il.Local{a}},
		{Offset: 3, Length: 3, Locals: []*il.Local{b}, Constants: []*debuginfo.Constant{k}},
	}
	var rec debuginfo.Recorder
	res := convert(t, m, dropFirst{}, Options{Writer: &rec}, cdfg.WithScopes(scopes))

	want := "open IL_0000\n" +
		"open IL_0003\n" +
		"var 0 b\n" +
		"const K = 1\n" +
		"close IL_0006\n" +
		"close IL_0007\n"
	if got := rec.String(); got != want {
		t.Errorf("events:\n%s\nwant:\n%s", got, want)
	}
	if len(res.Output.Events) != len(rec.Events) {
		t.Errorf("replayed %d of %d events", len(rec.Events), len(res.Output.Events))
	}
	if want := []il.Opcode{il.OpLdcI4S, il.OpPop, il.OpLdcI4S, il.OpStloc0, il.OpRet}; !slices.Equal(codes(res.Body.Operations), want) {
		t.Errorf("codes = %v, want %v", codes(res.Body.Operations), want)
	}
}

func TestRootScopeWithoutProvider(t *testing.T) {
	m := loopMethod()
	var rec debuginfo.Recorder
	convert(t, m, Identity{}, Options{Options: ilgen.Options{ShortenBranches: true}, Writer: &rec})
	want := "open IL_0000\nvar 0 i\nclose IL_000f\n"
	if got := rec.String(); got != want {
		t.Errorf("events:\n%s\nwant:\n%s", got, want)
	}
}

func TestSequencePointsFollowOperations(t *testing.T) {
	doc := &il.Document{Key: "s.cs"}
	l1 := &il.Location{Document: doc, StartLine: 1}
	l2 := &il.Location{Document: doc, StartLine: 2}
	m := asm(&il.MethodBody{Static: true},
		op(il.OpNop, nil),
		op(il.OpNop, nil),
		op(il.OpRet, nil),
	)
	m.Operations[0].Location = l1
	m.Operations[2].Location = l2
	res := convert(t, m, Identity{}, Options{})

	groups := res.Output.SequencePoints
	if len(groups) != 1 || len(groups[0].Points) != 2 {
		t.Fatalf("groups = %+v, want one group of two", groups)
	}
	if p := groups[0].Points[1]; p.Offset != 2 || p.Location != l2 {
		t.Errorf("second point = %+v", p)
	}
}

func TestMissingSlotFails(t *testing.T) {
	a := &il.Local{Index: 0, Type: il.Int32}
	b := &il.Local{Index: 1, Type: il.Int32}
	m := asm(&il.MethodBody{Static: true, Locals: []*il.Local{a, b}},
		op(il.OpLdloc1, b),
		op(il.OpStloc0, a),
		op(il.OpRet, nil),
	)
	g, err := cdfg.Build(m)
	if err != nil {
		t.Fatal(err)
	}
	// Only b has a slot, and the store of a is not intercepted.
	_, err = NewConverter(g, onlySecond{}, Options{}).Convert()
	if !errors.Is(err, ErrNoSlot) {
		t.Fatalf("Convert error = %v, want ErrNoSlot", err)
	}
}

type onlySecond struct{}

func (onlySecond) PopulateLocals(c *Converter) []*il.Local { return c.Method().Locals[1:] }

func (onlySecond) EmitOperation(*Converter, *cdfg.Instruction) bool { return false }
