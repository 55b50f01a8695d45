package wire

// Version is the current method-set format version.
const Version = 1

// MethodSet is the unit of interchange: a list of method bodies with their
// debug scopes.
type MethodSet struct {
	Version uint     `cbor:"1,keyasint"`
	Methods []Method `cbor:"2,keyasint"`
}

// TypeRef is a type reference. Predeclared types decode to the shared il
// values.
type TypeRef struct {
	Name string   `cbor:"1,keyasint"`
	Kind uint8    `cbor:"2,keyasint"`
	Elem *TypeRef `cbor:"3,keyasint,omitempty"`
}

// Method is one method body.
type Method struct {
	Name          string        `cbor:"1,keyasint"`
	DeclaringType *TypeRef      `cbor:"2,keyasint,omitempty"`
	Static        bool          `cbor:"3,keyasint"`
	This          *Param        `cbor:"4,keyasint,omitempty"`
	Params        []Param       `cbor:"5,keyasint,omitempty"`
	ReturnType    *TypeRef      `cbor:"6,keyasint,omitempty"`
	MaxStack      int           `cbor:"7,keyasint"`
	LocalsZeroed  bool          `cbor:"8,keyasint,omitempty"`
	Locals        []Local       `cbor:"9,keyasint,omitempty"`
	Instructions  []Instruction `cbor:"10,keyasint"`
	Regions       []Region      `cbor:"11,keyasint,omitempty"`
	Documents     []Document    `cbor:"12,keyasint,omitempty"`
	Scopes        []Scope       `cbor:"13,keyasint,omitempty"`
}

// Param is a declared parameter.
type Param struct {
	Name string   `cbor:"1,keyasint,omitempty"`
	Type *TypeRef `cbor:"2,keyasint"`
}

// Local is a declared local. Its slot is its position in Method.Locals.
type Local struct {
	Name              string   `cbor:"1,keyasint,omitempty"`
	Type              *TypeRef `cbor:"2,keyasint"`
	CompilerGenerated bool     `cbor:"3,keyasint,omitempty"`
}

// Instruction is one operation.
type Instruction struct {
	Code     uint8     `cbor:"1,keyasint"`
	Offset   uint32    `cbor:"2,keyasint"`
	Operand  *Operand  `cbor:"3,keyasint,omitempty"`
	Location *Location `cbor:"4,keyasint,omitempty"`
}

// OperandKind tags the variant held by an Operand.
type OperandKind uint8

const (
	OperandInt32 OperandKind = iota + 1
	OperandInt64
	OperandFloat32
	OperandFloat64
	OperandString
	OperandTarget
	OperandSwitch
	OperandLocal
	OperandArg
	OperandMethod
	OperandField
	OperandType
)

// Operand is the immediate of an instruction or the value of a constant.
// Int carries integers, targets, local slots and argument slots.
type Operand struct {
	Kind    OperandKind `cbor:"1,keyasint"`
	Int     int64       `cbor:"2,keyasint,omitempty"`
	Float   float64     `cbor:"3,keyasint,omitempty"`
	String  string      `cbor:"4,keyasint,omitempty"`
	Targets []uint32    `cbor:"5,keyasint,omitempty"`
	Type    *TypeRef    `cbor:"6,keyasint,omitempty"`
	Method  *MethodRef  `cbor:"7,keyasint,omitempty"`
	Field   *FieldRef   `cbor:"8,keyasint,omitempty"`
}

// MethodRef is a call target.
type MethodRef struct {
	Name          string     `cbor:"1,keyasint"`
	DeclaringType *TypeRef   `cbor:"2,keyasint,omitempty"`
	Params        []*TypeRef `cbor:"3,keyasint,omitempty"`
	Return        *TypeRef   `cbor:"4,keyasint,omitempty"`
	Static        bool       `cbor:"5,keyasint,omitempty"`
}

// FieldRef is a field reference.
type FieldRef struct {
	Name          string   `cbor:"1,keyasint"`
	DeclaringType *TypeRef `cbor:"2,keyasint,omitempty"`
	Type          *TypeRef `cbor:"3,keyasint"`
	Static        bool     `cbor:"4,keyasint,omitempty"`
}

// Region is an exception region.
type Region struct {
	Kind         uint8    `cbor:"1,keyasint"`
	CatchType    *TypeRef `cbor:"2,keyasint,omitempty"`
	TryStart     uint32   `cbor:"3,keyasint"`
	TryEnd       uint32   `cbor:"4,keyasint"`
	HandlerStart uint32   `cbor:"5,keyasint"`
	HandlerEnd   uint32   `cbor:"6,keyasint"`
	FilterStart  uint32   `cbor:"7,keyasint,omitempty"`
}

// Document is a source document. Hidden marks the document of
// compiler-generated code.
type Document struct {
	Key      string `cbor:"1,keyasint"`
	Language string `cbor:"2,keyasint,omitempty"`
	Hidden   bool   `cbor:"3,keyasint,omitempty"`
}

// Location is a source span; Doc indexes Method.Documents.
type Location struct {
	Doc         int `cbor:"1,keyasint"`
	StartLine   int `cbor:"2,keyasint"`
	StartColumn int `cbor:"3,keyasint"`
	EndLine     int `cbor:"4,keyasint"`
	EndColumn   int `cbor:"5,keyasint"`
}

// Scope is a debug scope; Locals are slots in Method.Locals.
type Scope struct {
	Offset    uint32     `cbor:"1,keyasint"`
	Length    uint32     `cbor:"2,keyasint"`
	Locals    []int      `cbor:"3,keyasint,omitempty"`
	Constants []Constant `cbor:"4,keyasint,omitempty"`
}

// Constant is a named scope constant.
type Constant struct {
	Name  string   `cbor:"1,keyasint"`
	Type  *TypeRef `cbor:"2,keyasint,omitempty"`
	Value *Operand `cbor:"3,keyasint,omitempty"`
}
