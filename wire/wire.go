// Package wire is the CBOR interchange format for method bodies. Method
// sets are written in canonical mode, so equal sets encode to equal bytes.
package wire

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/ilopt/debuginfo"
	"github.com/chazu/ilopt/il"
)

var (
	ErrVersion     = errors.New("unsupported method set version")
	ErrUnsupported = errors.New("unsupported operand")
	ErrInvalid     = errors.New("invalid method")
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal serializes a MethodSet to CBOR bytes.
func Marshal(set *MethodSet) ([]byte, error) {
	data, err := cborEncMode.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal method set: %w", err)
	}
	return data, nil
}

// Unmarshal deserializes a MethodSet from CBOR bytes.
func Unmarshal(data []byte) (*MethodSet, error) {
	var set MethodSet
	if err := cbor.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("wire: unmarshal method set: %w", err)
	}
	if set.Version != Version {
		return nil, fmt.Errorf("wire: version %d: %w", set.Version, ErrVersion)
	}
	return &set, nil
}

// Encode converts method bodies and their scopes to a MethodSet.
func Encode(methods []*il.MethodBody, scopes debuginfo.ScopeMap) (*MethodSet, error) {
	set := &MethodSet{Version: Version, Methods: make([]Method, 0, len(methods))}
	for _, m := range methods {
		dto, err := encodeMethod(m, scopes[m.FullName()])
		if err != nil {
			return nil, fmt.Errorf("wire: encode %s: %w", m.FullName(), err)
		}
		set.Methods = append(set.Methods, dto)
	}
	return set, nil
}

// Decode converts a MethodSet back to method bodies and their scopes,
// keyed by full method name.
func Decode(set *MethodSet) ([]*il.MethodBody, debuginfo.ScopeMap, error) {
	if set.Version != Version {
		return nil, nil, fmt.Errorf("wire: version %d: %w", set.Version, ErrVersion)
	}
	methods := make([]*il.MethodBody, 0, len(set.Methods))
	scopes := make(debuginfo.ScopeMap)
	for i := range set.Methods {
		m, s, err := decodeMethod(&set.Methods[i])
		if err != nil {
			return nil, nil, fmt.Errorf("wire: decode %s: %w", set.Methods[i].Name, err)
		}
		methods = append(methods, m)
		if len(s) > 0 {
			scopes[m.FullName()] = s
		}
	}
	return methods, scopes, nil
}

func encodeType(t *il.Type) *TypeRef {
	if t == nil {
		return nil
	}
	return &TypeRef{Name: t.Name, Kind: uint8(t.Kind), Elem: encodeType(t.Elem)}
}

func decodeType(tr *TypeRef) *il.Type {
	if tr == nil {
		return nil
	}
	if p := il.Predeclared(tr.Name); p != nil && uint8(p.Kind) == tr.Kind && tr.Elem == nil {
		return p
	}
	return &il.Type{Name: tr.Name, Kind: il.Kind(tr.Kind), Elem: decodeType(tr.Elem)}
}

func encodeTypes(ts []*il.Type) []*TypeRef {
	var out []*TypeRef
	for _, t := range ts {
		out = append(out, encodeType(t))
	}
	return out
}

func decodeTypes(trs []*TypeRef) []*il.Type {
	var out []*il.Type
	for _, tr := range trs {
		out = append(out, decodeType(tr))
	}
	return out
}

type encoder struct {
	m      *il.MethodBody
	dto    *Method
	locals map[*il.Local]int
	docs   map[*il.Document]int
}

func encodeMethod(m *il.MethodBody, scopes debuginfo.ScopeList) (Method, error) {
	dto := Method{
		Name:          m.Name,
		DeclaringType: encodeType(m.DeclaringType),
		Static:        m.Static,
		ReturnType:    encodeType(m.ReturnType),
		MaxStack:      m.MaxStack,
		LocalsZeroed:  m.LocalsZeroed,
	}
	e := &encoder{m: m, dto: &dto, locals: make(map[*il.Local]int), docs: make(map[*il.Document]int)}

	if m.This != nil {
		dto.This = &Param{Name: m.This.Name, Type: encodeType(m.This.Type)}
	}
	for _, p := range m.Params {
		dto.Params = append(dto.Params, Param{Name: p.Name, Type: encodeType(p.Type)})
	}
	for i, l := range m.Locals {
		e.locals[l] = i
		dto.Locals = append(dto.Locals, Local{Name: l.Name, Type: encodeType(l.Type), CompilerGenerated: l.CompilerGenerated})
	}

	for _, op := range m.Operations {
		in := Instruction{Code: uint8(op.Code), Offset: op.Offset}
		operand, err := e.operand(op.Code, op.Value)
		if err != nil {
			return Method{}, fmt.Errorf("IL_%04x: %w", op.Offset, err)
		}
		in.Operand = operand
		if op.Location != nil {
			in.Location = &Location{
				Doc:         e.document(op.Location.Document),
				StartLine:   op.Location.StartLine,
				StartColumn: op.Location.StartColumn,
				EndLine:     op.Location.EndLine,
				EndColumn:   op.Location.EndColumn,
			}
		}
		dto.Instructions = append(dto.Instructions, in)
	}

	for _, r := range m.Regions {
		dto.Regions = append(dto.Regions, Region{
			Kind:         uint8(r.Kind),
			CatchType:    encodeType(r.CatchType),
			TryStart:     r.TryStart,
			TryEnd:       r.TryEnd,
			HandlerStart: r.HandlerStart,
			HandlerEnd:   r.HandlerEnd,
			FilterStart:  r.FilterStart,
		})
	}

	for _, s := range scopes {
		ds := Scope{Offset: s.Offset, Length: s.Length}
		for _, l := range s.Locals {
			i, ok := e.locals[l]
			if !ok {
				return Method{}, fmt.Errorf("scope IL_%04x: local %s not declared: %w", s.Offset, l, ErrInvalid)
			}
			ds.Locals = append(ds.Locals, i)
		}
		for _, k := range s.Constants {
			v, err := constantValue(k.Value)
			if err != nil {
				return Method{}, fmt.Errorf("constant %s: %w", k.Name, err)
			}
			ds.Constants = append(ds.Constants, Constant{Name: k.Name, Type: encodeType(k.Type), Value: v})
		}
		dto.Scopes = append(dto.Scopes, ds)
	}
	return dto, nil
}

func (e *encoder) document(d *il.Document) int {
	if i, ok := e.docs[d]; ok {
		return i
	}
	i := len(e.dto.Documents)
	e.docs[d] = i
	if d == nil || d == il.HiddenDocument {
		e.dto.Documents = append(e.dto.Documents, Document{Key: il.HiddenDocument.Key, Hidden: true})
	} else {
		e.dto.Documents = append(e.dto.Documents, Document{Key: d.Key, Language: d.Language})
	}
	return i
}

func (e *encoder) operand(code il.Opcode, v any) (*Operand, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case uint32:
		if !code.IsBranch() {
			return nil, fmt.Errorf("%s: target operand: %w", code, ErrUnsupported)
		}
		return &Operand{Kind: OperandTarget, Int: int64(v)}, nil
	case []uint32:
		return &Operand{Kind: OperandSwitch, Targets: v}, nil
	case *il.Local:
		i, ok := e.locals[v]
		if !ok {
			return nil, fmt.Errorf("%s: local %s not declared: %w", code, v, ErrInvalid)
		}
		return &Operand{Kind: OperandLocal, Int: int64(i)}, nil
	case *il.Parameter:
		return &Operand{Kind: OperandArg, Int: int64(e.m.ArgIndex(v))}, nil
	case *il.MethodRef:
		return &Operand{Kind: OperandMethod, Method: &MethodRef{
			Name:          v.Name,
			DeclaringType: encodeType(v.DeclaringType),
			Params:        encodeTypes(v.Params),
			Return:        encodeType(v.Return),
			Static:        v.Static,
		}}, nil
	case *il.FieldRef:
		return &Operand{Kind: OperandField, Field: &FieldRef{
			Name:          v.Name,
			DeclaringType: encodeType(v.DeclaringType),
			Type:          encodeType(v.Type),
			Static:        v.Static,
		}}, nil
	case *il.Type:
		return &Operand{Kind: OperandType, Type: encodeType(v)}, nil
	}
	op, err := constantValue(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", code, err)
	}
	return op, nil
}

func constantValue(v any) (*Operand, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case int32:
		return &Operand{Kind: OperandInt32, Int: int64(v)}, nil
	case int64:
		return &Operand{Kind: OperandInt64, Int: v}, nil
	case float32:
		return &Operand{Kind: OperandFloat32, Float: float64(v)}, nil
	case float64:
		return &Operand{Kind: OperandFloat64, Float: v}, nil
	case string:
		return &Operand{Kind: OperandString, String: v}, nil
	}
	return nil, fmt.Errorf("%T: %w", v, ErrUnsupported)
}

func decodeMethod(dto *Method) (*il.MethodBody, debuginfo.ScopeList, error) {
	m := &il.MethodBody{
		Name:          dto.Name,
		DeclaringType: decodeType(dto.DeclaringType),
		Static:        dto.Static,
		ReturnType:    decodeType(dto.ReturnType),
		MaxStack:      dto.MaxStack,
		LocalsZeroed:  dto.LocalsZeroed,
	}
	if dto.This != nil {
		m.This = &il.Parameter{Name: dto.This.Name, Type: decodeType(dto.This.Type)}
	}
	for i, p := range dto.Params {
		m.Params = append(m.Params, &il.Parameter{Index: i, Name: p.Name, Type: decodeType(p.Type)})
	}
	for i, l := range dto.Locals {
		m.Locals = append(m.Locals, &il.Local{Index: i, Name: l.Name, Type: decodeType(l.Type), CompilerGenerated: l.CompilerGenerated})
	}

	docs := make([]*il.Document, len(dto.Documents))
	for i, d := range dto.Documents {
		if d.Hidden {
			docs[i] = il.HiddenDocument
		} else {
			docs[i] = &il.Document{Key: d.Key, Language: d.Language}
		}
	}

	for _, in := range dto.Instructions {
		code := il.Opcode(in.Code)
		if !code.Valid() {
			return nil, nil, fmt.Errorf("IL_%04x: opcode %#02x: %w", in.Offset, in.Code, ErrInvalid)
		}
		op := &il.Operation{Code: code, Offset: in.Offset}
		v, err := decodeOperand(m, in.Operand)
		if err != nil {
			return nil, nil, fmt.Errorf("IL_%04x: %w", in.Offset, err)
		}
		op.Value = v
		if loc := in.Location; loc != nil {
			if loc.Doc < 0 || loc.Doc >= len(docs) {
				return nil, nil, fmt.Errorf("IL_%04x: document %d: %w", in.Offset, loc.Doc, ErrInvalid)
			}
			op.Location = &il.Location{
				Document:    docs[loc.Doc],
				StartLine:   loc.StartLine,
				StartColumn: loc.StartColumn,
				EndLine:     loc.EndLine,
				EndColumn:   loc.EndColumn,
			}
		}
		m.Operations = append(m.Operations, op)
	}

	for _, r := range dto.Regions {
		m.Regions = append(m.Regions, &il.ExceptionRegion{
			Kind:         il.HandlerKind(r.Kind),
			CatchType:    decodeType(r.CatchType),
			TryStart:     r.TryStart,
			TryEnd:       r.TryEnd,
			HandlerStart: r.HandlerStart,
			HandlerEnd:   r.HandlerEnd,
			FilterStart:  r.FilterStart,
		})
	}

	var scopes debuginfo.ScopeList
	for _, ds := range dto.Scopes {
		s := &debuginfo.Scope{Offset: ds.Offset, Length: ds.Length}
		for _, i := range ds.Locals {
			if i < 0 || i >= len(m.Locals) {
				return nil, nil, fmt.Errorf("scope IL_%04x: local %d: %w", ds.Offset, i, ErrInvalid)
			}
			s.Locals = append(s.Locals, m.Locals[i])
		}
		for _, k := range ds.Constants {
			v, err := decodeConstant(k.Value)
			if err != nil {
				return nil, nil, fmt.Errorf("constant %s: %w", k.Name, err)
			}
			s.Constants = append(s.Constants, &debuginfo.Constant{Name: k.Name, Type: decodeType(k.Type), Value: v})
		}
		scopes = append(scopes, s)
	}
	return m, scopes, nil
}

func decodeOperand(m *il.MethodBody, op *Operand) (any, error) {
	if op == nil {
		return nil, nil
	}
	switch op.Kind {
	case OperandTarget:
		return uint32(op.Int), nil
	case OperandSwitch:
		return op.Targets, nil
	case OperandLocal:
		if op.Int < 0 || op.Int >= int64(len(m.Locals)) {
			return nil, fmt.Errorf("local %d: %w", op.Int, ErrInvalid)
		}
		return m.Locals[op.Int], nil
	case OperandArg:
		p := m.Arg(int(op.Int))
		if p == nil {
			return nil, fmt.Errorf("argument %d: %w", op.Int, ErrInvalid)
		}
		return p, nil
	case OperandMethod:
		if op.Method == nil {
			return nil, fmt.Errorf("empty method operand: %w", ErrInvalid)
		}
		r := op.Method
		return &il.MethodRef{
			Name:          r.Name,
			DeclaringType: decodeType(r.DeclaringType),
			Params:        decodeTypes(r.Params),
			Return:        decodeType(r.Return),
			Static:        r.Static,
		}, nil
	case OperandField:
		if op.Field == nil {
			return nil, fmt.Errorf("empty field operand: %w", ErrInvalid)
		}
		f := op.Field
		return &il.FieldRef{
			Name:          f.Name,
			DeclaringType: decodeType(f.DeclaringType),
			Type:          decodeType(f.Type),
			Static:        f.Static,
		}, nil
	case OperandType:
		return decodeType(op.Type), nil
	}
	return decodeConstant(op)
}

func decodeConstant(op *Operand) (any, error) {
	if op == nil {
		return nil, nil
	}
	switch op.Kind {
	case OperandInt32:
		return int32(op.Int), nil
	case OperandInt64:
		return op.Int, nil
	case OperandFloat32:
		return float32(op.Float), nil
	case OperandFloat64:
		return op.Float, nil
	case OperandString:
		return op.String, nil
	}
	return nil, fmt.Errorf("operand kind %d: %w", op.Kind, ErrUnsupported)
}
