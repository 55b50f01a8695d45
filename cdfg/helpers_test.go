package cdfg

import "github.com/chazu/ilopt/il"

// to is a branch target given as an operation index; asm resolves it to an
// offset after layout.
type to int

func op(code il.Opcode, value any) *il.Operation {
	return &il.Operation{Code: code, Value: value}
}

func asm(m *il.MethodBody, ops ...*il.Operation) *il.MethodBody {
	cases := make(map[*il.Operation][]to)
	for _, o := range ops {
		if ts, ok := o.Value.([]to); ok {
			cases[o] = ts
			o.Value = make([]uint32, len(ts))
		}
	}
	il.Layout(ops)
	for _, o := range ops {
		if t, ok := o.Value.(to); ok {
			o.Value = ops[t].Offset
		}
		if ts, ok := cases[o]; ok {
			out := o.Value.([]uint32)
			for i, t := range ts {
				out[i] = ops[t].Offset
			}
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
