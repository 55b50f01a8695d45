package cdfg

// OperandKind is the shape of an instruction's second operand.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandSingle
	OperandMany
)

// Operand is either absent, a single producer or an ordered list of
// producers. The zero value is absent.
type Operand struct {
	kind OperandKind
	id   InstrID
	ids  []InstrID
}

// None returns an absent operand.
func None() Operand { return Operand{} }

// Single returns an operand holding one producer.
func Single(id InstrID) Operand {
	return Operand{kind: OperandSingle, id: id}
}

// Many returns an operand holding an ordered list of producers.
func Many(ids ...InstrID) Operand {
	return Operand{kind: OperandMany, ids: append([]InstrID(nil), ids...)}
}

// Kind returns the operand's shape.
func (o Operand) Kind() OperandKind { return o.kind }

// IsNone reports whether the operand is absent.
func (o Operand) IsNone() bool { return o.kind == OperandNone }

// ID returns the producer of a single operand.
func (o Operand) ID() (InstrID, bool) {
	if o.kind != OperandSingle {
		return NoInstr, false
	}
	return o.id, true
}

// IDs returns every producer in order. A single operand yields one element.
func (o Operand) IDs() []InstrID {
	switch o.kind {
	case OperandSingle:
		return []InstrID{o.id}
	case OperandMany:
		return o.ids
	}
	return nil
}

// Len returns the number of producers.
func (o Operand) Len() int {
	switch o.kind {
	case OperandSingle:
		return 1
	case OperandMany:
		return len(o.ids)
	}
	return 0
}

// Contains reports whether id is one of the producers.
func (o Operand) Contains(id InstrID) bool {
	switch o.kind {
	case OperandSingle:
		return o.id == id
	case OperandMany:
		for _, x := range o.ids {
			if x == id {
				return true
			}
		}
	}
	return false
}

// Append adds a producer, widening None to Single and Single to Many.
func (o *Operand) Append(id InstrID) {
	switch o.kind {
	case OperandNone:
		*o = Single(id)
	case OperandSingle:
		*o = Operand{kind: OperandMany, ids: []InstrID{o.id, id}}
	case OperandMany:
		o.ids = append(o.ids, id)
	}
}

// Replace substitutes to for every occurrence of from and reports whether
// anything changed.
func (o *Operand) Replace(from, to InstrID) bool {
	changed := false
	switch o.kind {
	case OperandSingle:
		if o.id == from {
			o.id = to
			changed = true
		}
	case OperandMany:
		for i, x := range o.ids {
			if x == from {
				o.ids[i] = to
				changed = true
			}
		}
	}
	return changed
}
