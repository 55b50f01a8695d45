package wire

import (
	"bytes"
	"errors"
	"slices"
	"testing"

	"github.com/chazu/ilopt/debuginfo"
	"github.com/chazu/ilopt/il"
)

func sampleMethod() (*il.MethodBody, debuginfo.ScopeList) {
	owner := il.Class("Shapes.Circle")
	this := &il.Parameter{Name: "this", Type: owner}
	n := &il.Parameter{Index: 0, Name: "n", Type: il.Int32}
	sum := &il.Local{Index: 0, Name: "sum", Type: il.Float64}
	tmp := &il.Local{Index: 1, Type: il.ArrayOf(il.Int32), CompilerGenerated: true}
	doc := &il.Document{Key: "circle.cs", Language: "C#"}
	radius := &il.FieldRef{Name: "radius", DeclaringType: owner, Type: il.Float64}
	log := &il.MethodRef{Name: "Log", DeclaringType: il.Class("Console"), Params: []*il.Type{il.String}, Return: il.Void, Static: true}

	ops := []*il.Operation{
		{Code: il.OpLdarg0, Value: this, Location: &il.Location{Document: doc, StartLine: 3, StartColumn: 5, EndLine: 3, EndColumn: 20}},
		{Code: il.OpLdfld, Value: radius},
		{Code: il.OpLdcR8, Value: 2.5},
		{Code: il.OpMul, Value: nil},
		{Code: il.OpStloc0, Value: sum, Location: &il.Location{Document: il.HiddenDocument}},
		{Code: il.OpLdarg1, Value: n},
		{Code: il.OpNewarr, Value: il.Int32},
		{Code: il.OpStloc1, Value: tmp},
		{Code: il.OpLdstr, Value: "area"},
		{Code: il.OpCall, Value: log},
		{Code: il.OpLdcI4S, Value: int32(-3)},
		{Code: il.OpSwitch, Value: []uint32{0, 0}},
		{Code: il.OpLdcI8, Value: int64(1) << 40},
		{Code: il.OpPop},
		{Code: il.OpLdcR4, Value: float32(0.5)},
		{Code: il.OpPop},
		{Code: il.OpLdloc0, Value: sum},
		{Code: il.OpBr, Value: uint32(0)},
	}
	il.Layout(ops)
	ops[11].Value = []uint32{ops[12].Offset, ops[16].Offset}
	ops[17].Value = ops[16].Offset

	m := &il.MethodBody{
		Name:          "Area",
		DeclaringType: owner,
		This:          this,
		Params:        []*il.Parameter{n},
		ReturnType:    il.Float64,
		MaxStack:      2,
		LocalsZeroed:  true,
		Locals:        []*il.Local{sum, tmp},
		Operations:    ops,
		Regions: []*il.ExceptionRegion{{
			Kind:         il.HandlerCatch,
			CatchType:    il.Class("System.Exception"),
			TryStart:     ops[5].Offset,
			TryEnd:       ops[8].Offset,
			HandlerStart: ops[8].Offset,
			HandlerEnd:   ops[10].Offset,
		}},
	}
	scopes := debuginfo.ScopeList{
		{Offset: 0, Length: ops[17].Offset, Locals: []*il.Local{sum},
			Constants: []*debuginfo.Constant{{Name: "Pi", Type: il.Float64, Value: 3.14}}},
		{Offset: ops[5].Offset, Length: 4, Locals: []*il.Local{tmp}},
	}
	return m, scopes
}

func TestMethodSetRoundTrip(t *testing.T) {
	m, scopes := sampleMethod()
	set, err := Encode([]*il.MethodBody{m}, debuginfo.ScopeMap{m.FullName(): scopes})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	data, err := Marshal(set)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	back, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	methods, scopeMap, err := Decode(back)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(methods) != 1 {
		t.Fatalf("got %d methods, want 1", len(methods))
	}
	got := methods[0]

	if got.FullName() != "Shapes.Circle::Area" || got.Static || !got.LocalsZeroed || got.MaxStack != 2 {
		t.Errorf("header = %s static=%v zeroed=%v max=%d", got.FullName(), got.Static, got.LocalsZeroed, got.MaxStack)
	}
	if got.ReturnType != il.Float64 {
		t.Errorf("ReturnType = %v, want the predeclared float64", got.ReturnType)
	}
	if got.This == nil || got.This.Name != "this" || len(got.Params) != 1 || got.Params[0].Name != "n" {
		t.Errorf("This, Params = %v, %v", got.This, got.Params)
	}
	if len(got.Locals) != 2 || !got.Locals[1].CompilerGenerated || got.Locals[1].Type.Elem != il.Int32 {
		t.Errorf("Locals = %v", got.Locals)
	}

	if len(got.Operations) != len(m.Operations) {
		t.Fatalf("got %d operations, want %d", len(got.Operations), len(m.Operations))
	}
	for i, op := range got.Operations {
		want := m.Operations[i]
		if op.Code != want.Code || op.Offset != want.Offset {
			t.Errorf("op %d = %s at %d, want %s at %d", i, op.Code, op.Offset, want.Code, want.Offset)
		}
		if op.String() != want.String() {
			t.Errorf("op %d = %q, want %q", i, op, want)
		}
	}
	if got.Operations[0].Value != got.This {
		t.Error("ldarg.0 should reference the decoded this")
	}
	if got.Operations[5].Value != got.Params[0] {
		t.Error("ldarg.1 should reference the decoded n")
	}
	if got.Operations[16].Local() != got.Locals[0] {
		t.Error("ldloc.0 should reference the decoded sum")
	}
	if v, ok := got.Operations[14].Value.(float32); !ok || v != 0.5 {
		t.Errorf("ldc.r4 value = %#v, want float32(0.5)", got.Operations[14].Value)
	}
	if !slices.Equal(got.Operations[11].Targets(), m.Operations[11].Targets()) {
		t.Errorf("switch targets = %v, want %v", got.Operations[11].Targets(), m.Operations[11].Targets())
	}

	loc := got.Operations[0].Location
	if loc == nil || loc.Document.Key != "circle.cs" || loc.Document.Language != "C#" || loc.EndColumn != 20 {
		t.Errorf("location = %v", loc)
	}
	if got.Operations[4].Location.Document != il.HiddenDocument {
		t.Error("hidden location should decode to il.HiddenDocument")
	}

	if len(got.Regions) != 1 || *got.Regions[0] != (il.ExceptionRegion{
		Kind:         il.HandlerCatch,
		CatchType:    got.Regions[0].CatchType,
		TryStart:     m.Regions[0].TryStart,
		TryEnd:       m.Regions[0].TryEnd,
		HandlerStart: m.Regions[0].HandlerStart,
		HandlerEnd:   m.Regions[0].HandlerEnd,
	}) || got.Regions[0].CatchType.Name != "System.Exception" {
		t.Errorf("Regions = %+v", got.Regions)
	}

	gs := scopeMap[got.FullName()]
	if len(gs) != 2 {
		t.Fatalf("got %d scopes, want 2", len(gs))
	}
	if gs[0].Locals[0] != got.Locals[0] || gs[1].Locals[0] != got.Locals[1] {
		t.Error("scope locals should reference the decoded locals")
	}
	if k := gs[0].Constants[0]; k.Name != "Pi" || k.Value != 3.14 || k.Type != il.Float64 {
		t.Errorf("constant = %+v", k)
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	m1, s1 := sampleMethod()
	m2, s2 := sampleMethod()
	enc := func(m *il.MethodBody, s debuginfo.ScopeList) []byte {
		set, err := Encode([]*il.MethodBody{m}, debuginfo.ScopeMap{m.FullName(): s})
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		data, err := Marshal(set)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		return data
	}
	if !bytes.Equal(enc(m1, s1), enc(m2, s2)) {
		t.Error("equal method sets encoded differently")
	}
}

func TestEncodeErrors(t *testing.T) {
	stray := &il.Local{Name: "stray", Type: il.Int32}
	tests := []struct {
		name string
		ops  []*il.Operation
		want error
	}{
		{"undeclared local", []*il.Operation{{Code: il.OpLdloc0, Value: stray}}, ErrInvalid},
		{"unsupported value", []*il.Operation{{Code: il.OpLdcI4, Value: struct{}{}}}, ErrUnsupported},
		{"target on non-branch", []*il.Operation{{Code: il.OpLdcI4, Value: uint32(1)}}, ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &il.MethodBody{Name: "M", ReturnType: il.Void, Operations: tt.ops}
			if _, err := Encode([]*il.MethodBody{m}, nil); !errors.Is(err, tt.want) {
				t.Errorf("Encode error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, _, err := Decode(&MethodSet{Version: 99}); !errors.Is(err, ErrVersion) {
		t.Errorf("Decode version error = %v, want ErrVersion", err)
	}

	data, err := cborEncMode.Marshal(&MethodSet{Version: 2})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Unmarshal(data); !errors.Is(err, ErrVersion) {
		t.Errorf("Unmarshal version error = %v, want ErrVersion", err)
	}
	if _, err := Unmarshal([]byte{0xff, 0x00}); err == nil {
		t.Error("Unmarshal of garbage succeeded")
	}

	tests := []struct {
		name string
		in   Instruction
	}{
		{"bad opcode", Instruction{Code: 0xff}},
		{"local out of range", Instruction{Code: uint8(il.OpLdloc0), Operand: &Operand{Kind: OperandLocal, Int: 3}}},
		{"argument out of range", Instruction{Code: uint8(il.OpLdarg0), Operand: &Operand{Kind: OperandArg, Int: 0}}},
		{"document out of range", Instruction{Code: uint8(il.OpNop), Location: &Location{Doc: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := &MethodSet{Version: Version, Methods: []Method{{Name: "M", Static: true, Instructions: []Instruction{tt.in}}}}
			if _, _, err := Decode(set); !errors.Is(err, ErrInvalid) {
				t.Errorf("Decode error = %v, want ErrInvalid", err)
			}
		})
	}
}
