package hash

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/chazu/ilopt/il"
)

// ---------------------------------------------------------------------------
// Deterministic binary serialization of a method body.
//
// Encoding conventions:
//   - First byte: HashVersion
//   - Integers: big-endian fixed-width (int64=8B, uint32=4B, uint16=2B)
//   - Floats: IEEE 754 big-endian 8B
//   - Strings: uint32 big-endian length + UTF-8 bytes
//   - Booleans: single byte (0/1)
//   - Lists: uint32 count followed by the elements
// ---------------------------------------------------------------------------

// Serialize produces a deterministic byte serialization of m.
func Serialize(m *il.MethodBody) []byte {
	s := &serializer{buf: make([]byte, 0, 256), m: m, slots: make(map[*il.Local]int, len(m.Locals))}
	s.writeByte(HashVersion)
	s.serializeMethod()
	return s.buf
}

type serializer struct {
	buf   []byte
	m     *il.MethodBody
	slots map[*il.Local]int
}

func (s *serializer) writeByte(b byte) {
	s.buf = append(s.buf, b)
}

func (s *serializer) writeBool(v bool) {
	if v {
		s.writeByte(1)
	} else {
		s.writeByte(0)
	}
}

func (s *serializer) writeUint16(v uint16) {
	s.buf = binary.BigEndian.AppendUint16(s.buf, v)
}

func (s *serializer) writeUint32(v uint32) {
	s.buf = binary.BigEndian.AppendUint32(s.buf, v)
}

func (s *serializer) writeInt64(v int64) {
	s.buf = binary.BigEndian.AppendUint64(s.buf, uint64(v))
}

func (s *serializer) writeFloat64(v float64) {
	s.buf = binary.BigEndian.AppendUint64(s.buf, math.Float64bits(v))
}

func (s *serializer) writeString(v string) {
	s.writeUint32(uint32(len(v)))
	s.buf = append(s.buf, v...)
}

func (s *serializer) writeType(t *il.Type) {
	if t == nil {
		s.writeByte(TagNil)
		return
	}
	s.writeByte(TagType)
	s.writeString(t.Name)
	s.writeByte(byte(t.Kind))
	s.writeType(t.Elem)
}

func (s *serializer) writeTypes(ts []*il.Type) {
	s.writeUint32(uint32(len(ts)))
	for _, t := range ts {
		s.writeType(t)
	}
}

func (s *serializer) serializeMethod() {
	m := s.m
	s.writeByte(TagMethod)
	s.writeString(m.FullName())
	s.writeBool(m.Static)
	s.writeType(m.ReturnType)
	s.writeUint32(uint32(len(m.Params)))
	for _, p := range m.Params {
		s.writeType(p.Type)
	}
	s.writeBool(m.LocalsZeroed)

	s.writeUint32(uint32(len(m.Locals)))
	for i, l := range m.Locals {
		s.slots[l] = i
		s.writeByte(TagLocal)
		s.writeType(l.Type)
	}

	s.writeUint32(uint32(len(m.Operations)))
	for _, op := range m.Operations {
		s.writeByte(TagOp)
		s.writeByte(byte(op.Code))
		s.writeUint32(op.Offset)
		s.serializeOperand(op.Value)
	}

	s.writeUint32(uint32(len(m.Regions)))
	for _, r := range m.Regions {
		s.writeByte(TagRegion)
		s.writeByte(byte(r.Kind))
		s.writeType(r.CatchType)
		s.writeUint32(r.TryStart)
		s.writeUint32(r.TryEnd)
		s.writeUint32(r.HandlerStart)
		s.writeUint32(r.HandlerEnd)
		s.writeUint32(r.FilterStart)
	}
}

func (s *serializer) serializeOperand(v any) {
	switch v := v.(type) {
	case nil:
		s.writeByte(TagNone)

	case int32:
		s.writeByte(TagInt32)
		s.writeInt64(int64(v))

	case int64:
		s.writeByte(TagInt64)
		s.writeInt64(v)

	case float32:
		s.writeByte(TagFloat32)
		s.writeFloat64(float64(v))

	case float64:
		s.writeByte(TagFloat64)
		s.writeFloat64(v)

	case string:
		s.writeByte(TagString)
		s.writeString(v)

	case uint32:
		s.writeByte(TagTarget)
		s.writeUint32(v)

	case []uint32:
		s.writeByte(TagSwitch)
		s.writeUint32(uint32(len(v)))
		for _, t := range v {
			s.writeUint32(t)
		}

	case *il.Local:
		s.writeByte(TagLocalRef)
		if slot, ok := s.slots[v]; ok {
			s.writeUint16(uint16(slot))
		} else {
			s.writeUint16(math.MaxUint16)
		}

	case *il.Parameter:
		s.writeByte(TagArgRef)
		s.writeUint16(uint16(s.m.ArgIndex(v)))

	case *il.MethodRef:
		s.writeByte(TagMethodRef)
		s.writeType(v.DeclaringType)
		s.writeString(v.Name)
		s.writeTypes(v.Params)
		s.writeType(v.Return)
		s.writeBool(v.Static)

	case *il.FieldRef:
		s.writeByte(TagFieldRef)
		s.writeType(v.DeclaringType)
		s.writeString(v.Name)
		s.writeType(v.Type)
		s.writeBool(v.Static)

	case *il.Type:
		s.writeByte(TagTypeRef)
		s.writeType(v)

	default:
		s.writeByte(TagOpaque)
		s.writeString(fmt.Sprintf("%T:%v", v, v))
	}
}
