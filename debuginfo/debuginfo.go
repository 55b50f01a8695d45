// Package debuginfo describes the debug metadata that accompanies a method
// body: local scopes, scope constants and sequence points. Readers supply
// scopes through a ScopeProvider; the emitter reports new metadata through a
// Writer.
package debuginfo

import (
	"github.com/chazu/ilopt/il"
)

// Constant is a named compile-time constant visible in a scope.
type Constant struct {
	Name  string
	Type  *il.Type
	Value any
}

// Scope is a contiguous range of original offsets in which the listed
// locals and constants are visible. The range is [Offset, Offset+Length).
type Scope struct {
	Offset    uint32
	Length    uint32
	Locals    []*il.Local
	Constants []*Constant
}

// End returns the offset just past the scope.
func (s *Scope) End() uint32 {
	return s.Offset + s.Length
}

// Contains reports whether offset lies inside the scope.
func (s *Scope) Contains(offset uint32) bool {
	return offset >= s.Offset && offset < s.End()
}

// ScopeProvider supplies the local scopes of a method, ordered by start
// offset with enclosing scopes before the scopes they contain.
type ScopeProvider interface {
	LocalScopes(m *il.MethodBody) []*Scope
}

// ScopeList is a ScopeProvider backed by a fixed list.
type ScopeList []*Scope

func (l ScopeList) LocalScopes(*il.MethodBody) []*Scope {
	return l
}

// ScopeMap provides scopes per method, keyed by full method name.
type ScopeMap map[string]ScopeList

func (sm ScopeMap) LocalScopes(m *il.MethodBody) []*Scope {
	return sm[m.FullName()]
}

// Writer receives debug metadata for an emitted method body. Calls arrive
// in the nesting order a symbol writer needs: a scope is opened before its
// variables are added and closed after every scope nested in it.
type Writer interface {
	OpenScope(offset uint32)
	CloseScope(offset uint32)
	AddVariableToScope(local *il.Local)
	AddConstantToScope(constant *Constant)
	MarkSequencePoint(location *il.Location, offset uint32)
}

// SequencePoint correlates an emitted offset with a source span.
type SequencePoint struct {
	Offset   uint32
	Location *il.Location
}

// SequencePointGroup is a contiguous run of sequence points against one
// document.
type SequencePointGroup struct {
	Document *il.Document
	Points   []SequencePoint
}
