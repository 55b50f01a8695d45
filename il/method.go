package il

import (
	"fmt"
	"sort"
)

// Local is a local variable declared by a method body. Locals are compared
// by identity; Index is the slot the local occupies in its body.
type Local struct {
	Index             int
	Name              string
	Type              *Type
	CompilerGenerated bool
}

func (l *Local) String() string {
	if l.Name != "" {
		return l.Name
	}
	return fmt.Sprintf("V_%d", l.Index)
}

// Parameter is a declared method parameter. Index is the position in the
// declared parameter list, not counting the implicit this.
type Parameter struct {
	Index int
	Name  string
	Type  *Type
}

func (p *Parameter) String() string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("A_%d", p.Index)
}

// MethodRef is a reference to a callee.
type MethodRef struct {
	Name          string
	DeclaringType *Type
	Params        []*Type
	Return        *Type
	Static        bool
}

func (m *MethodRef) String() string {
	return m.DeclaringType.String() + "::" + m.Name
}

// ReturnsValue reports whether a call to the method pushes a result.
func (m *MethodRef) ReturnsValue() bool {
	return m.Return != nil && m.Return.Kind != KindVoid
}

// FieldRef is a reference to an instance or static field.
type FieldRef struct {
	Name          string
	DeclaringType *Type
	Type          *Type
	Static        bool
}

func (f *FieldRef) String() string {
	return f.DeclaringType.String() + "::" + f.Name
}

// Document identifies a source document referenced by sequence points.
type Document struct {
	Key      string
	Language string
}

func (d *Document) String() string {
	if d == nil {
		return "<none>"
	}
	return d.Key
}

// HiddenDocument is the document of compiler-generated code regions.
var HiddenDocument = &Document{Key: "<hidden>"}

// Location is a source span attached to an operation.
type Location struct {
	Document    *Document
	StartLine   int
	StartColumn int
	EndLine     int
	EndColumn   int
}

func (l *Location) String() string {
	return fmt.Sprintf("%s(%d,%d-%d,%d)", l.Document, l.StartLine, l.StartColumn, l.EndLine, l.EndColumn)
}

// Operation is one instruction of a linear stream.
//
// Value depends on the opcode: a uint32 target offset for branches, []uint32
// for switch, *Local, *Parameter, int32, int64, float32, float64, string,
// *MethodRef, *FieldRef, *Type, or nil.
type Operation struct {
	Code     Opcode
	Offset   uint32
	Value    any
	Location *Location
}

// Target returns the branch target offset of a single-target branch.
func (o *Operation) Target() (uint32, bool) {
	if !o.Code.IsBranch() {
		return 0, false
	}
	t, ok := o.Value.(uint32)
	return t, ok
}

// Targets returns the case targets of a switch.
func (o *Operation) Targets() []uint32 {
	if o.Code != OpSwitch {
		return nil
	}
	ts, _ := o.Value.([]uint32)
	return ts
}

// Local returns the local referenced by a ldloc/stloc/ldloca operation.
func (o *Operation) Local() *Local {
	l, _ := o.Value.(*Local)
	return l
}

// Parameter returns the parameter referenced by an argument operation.
func (o *Operation) Parameter() *Parameter {
	p, _ := o.Value.(*Parameter)
	return p
}

func (o *Operation) String() string {
	switch v := o.Value.(type) {
	case nil:
		return o.Code.String()
	case uint32:
		if o.Code.IsBranch() {
			return fmt.Sprintf("%s IL_%04x", o.Code, v)
		}
		return fmt.Sprintf("%s %d", o.Code, v)
	case []uint32:
		s := o.Code.String() + " ("
		for i, t := range v {
			if i > 0 {
				s += ", "
			}
			s += fmt.Sprintf("IL_%04x", t)
		}
		return s + ")"
	case string:
		return fmt.Sprintf("%s %q", o.Code, v)
	default:
		return fmt.Sprintf("%s %v", o.Code, v)
	}
}

// HandlerKind is the kind of an exception handler.
type HandlerKind uint8

const (
	HandlerCatch HandlerKind = iota
	HandlerFilter
	HandlerFault
	HandlerFinally
)

func (k HandlerKind) String() string {
	switch k {
	case HandlerCatch:
		return "catch"
	case HandlerFilter:
		return "filter"
	case HandlerFault:
		return "fault"
	case HandlerFinally:
		return "finally"
	default:
		return fmt.Sprintf("HandlerKind(%d)", k)
	}
}

// EntryDepth is the operand-stack height on entry to a handler of this kind.
func (k HandlerKind) EntryDepth() int {
	if k == HandlerCatch || k == HandlerFilter {
		return 1
	}
	return 0
}

// ExceptionRegion describes a protected range and its handler. End offsets
// are exclusive. FilterStart is only meaningful for HandlerFilter.
type ExceptionRegion struct {
	Kind         HandlerKind
	CatchType    *Type
	TryStart     uint32
	TryEnd       uint32
	HandlerStart uint32
	HandlerEnd   uint32
	FilterStart  uint32
}

// MethodBody is a complete method: signature, locals, code and regions.
type MethodBody struct {
	Name          string
	DeclaringType *Type
	Static        bool
	This          *Parameter // nil for static methods
	Params        []*Parameter
	ReturnType    *Type
	MaxStack      int
	LocalsZeroed  bool
	Locals        []*Local
	Operations    []*Operation
	Regions       []*ExceptionRegion
}

// FullName returns the declaring type and method name.
func (m *MethodBody) FullName() string {
	if m.DeclaringType == nil {
		return m.Name
	}
	return m.DeclaringType.Name + "::" + m.Name
}

// ReturnsValue reports whether ret pops a value in this method.
func (m *MethodBody) ReturnsValue() bool {
	return m.ReturnType != nil && m.ReturnType.Kind != KindVoid
}

// CodeSize returns the offset just past the last operation.
func (m *MethodBody) CodeSize() uint32 {
	if len(m.Operations) == 0 {
		return 0
	}
	last := m.Operations[len(m.Operations)-1]
	return last.Offset + uint32(Size(last))
}

// ArgIndex returns the argument slot of p: this is slot 0 for instance
// methods and declared parameters follow it.
func (m *MethodBody) ArgIndex(p *Parameter) int {
	if p == m.This {
		return 0
	}
	if m.Static {
		return p.Index
	}
	return p.Index + 1
}

// Arg returns the parameter occupying argument slot i, or nil.
func (m *MethodBody) Arg(i int) *Parameter {
	if !m.Static {
		if i == 0 {
			return m.This
		}
		i--
	}
	if i < 0 || i >= len(m.Params) {
		return nil
	}
	return m.Params[i]
}

// OffsetIndex returns the index of the operation at offset, or -1 when the
// offset is not on an instruction boundary.
func (m *MethodBody) OffsetIndex(offset uint32) int {
	i := sort.Search(len(m.Operations), func(i int) bool {
		return m.Operations[i].Offset >= offset
	})
	if i < len(m.Operations) && m.Operations[i].Offset == offset {
		return i
	}
	return -1
}
