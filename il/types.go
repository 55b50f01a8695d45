package il

// Kind is the structural classification of a type, as far as the stack
// machine is concerned.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindVoid
	KindBool
	KindInt32
	KindInt64
	KindNativeInt
	KindFloat32
	KindFloat64
	KindString
	KindPointer
	KindValue
	KindReference
)

var kindNames = [...]string{
	KindUnknown:   "unknown",
	KindVoid:      "void",
	KindBool:      "bool",
	KindInt32:     "int32",
	KindInt64:     "int64",
	KindNativeInt: "native int",
	KindFloat32:   "float32",
	KindFloat64:   "float64",
	KindString:    "string",
	KindPointer:   "pointer",
	KindValue:     "valuetype",
	KindReference: "class",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsNumeric reports whether values of this kind participate in arithmetic.
func (k Kind) IsNumeric() bool {
	switch k {
	case KindBool, KindInt32, KindInt64, KindNativeInt, KindFloat32, KindFloat64:
		return true
	}
	return false
}

// Type is a type reference. Types are compared by identity for the
// predeclared types and by name otherwise.
type Type struct {
	Name string
	Kind Kind
	Elem *Type // element type for arrays and pointers
}

// Predeclared types.
var (
	Void      = &Type{Name: "void", Kind: KindVoid}
	Bool      = &Type{Name: "bool", Kind: KindBool}
	Int32     = &Type{Name: "int32", Kind: KindInt32}
	Int64     = &Type{Name: "int64", Kind: KindInt64}
	NativeInt = &Type{Name: "native int", Kind: KindNativeInt}
	Float32   = &Type{Name: "float32", Kind: KindFloat32}
	Float64   = &Type{Name: "float64", Kind: KindFloat64}
	String    = &Type{Name: "string", Kind: KindString}
	Object    = &Type{Name: "object", Kind: KindReference}
	Unknown   = &Type{Name: "?", Kind: KindUnknown}
)

var predeclared = map[string]*Type{
	Void.Name:      Void,
	Bool.Name:      Bool,
	Int32.Name:     Int32,
	Int64.Name:     Int64,
	NativeInt.Name: NativeInt,
	Float32.Name:   Float32,
	Float64.Name:   Float64,
	String.Name:    String,
	Object.Name:    Object,
	Unknown.Name:   Unknown,
}

// Predeclared returns the predeclared type with the given name, or nil.
func Predeclared(name string) *Type {
	return predeclared[name]
}

// PointerTo returns a managed pointer to t.
func PointerTo(t *Type) *Type {
	return &Type{Name: t.String() + "&", Kind: KindPointer, Elem: t}
}

// ArrayOf returns a single-dimensional array of t.
func ArrayOf(t *Type) *Type {
	return &Type{Name: t.String() + "[]", Kind: KindReference, Elem: t}
}

// Class returns a reference type with the given name.
func Class(name string) *Type {
	return &Type{Name: name, Kind: KindReference}
}

// Struct returns a value type with the given name.
func Struct(name string) *Type {
	return &Type{Name: name, Kind: KindValue}
}

func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	return t.Name
}

// IsArray reports whether t is an array type.
func (t *Type) IsArray() bool {
	return t != nil && t.Kind == KindReference && t.Elem != nil
}

// Same reports whether two type references denote the same type.
func Same(a, b *Type) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.Kind != b.Kind || a.Name != b.Name {
		return false
	}
	return Same(a.Elem, b.Elem)
}

// TypeResolver maps a type reference to its structural kind. Resolvers are
// shared between concurrently optimized methods and must be safe for
// concurrent use.
type TypeResolver interface {
	KindOf(t *Type) Kind
}

// DefaultResolver trusts the Kind recorded on the type reference.
type DefaultResolver struct{}

func (DefaultResolver) KindOf(t *Type) Kind {
	if t == nil {
		return KindUnknown
	}
	return t.Kind
}
