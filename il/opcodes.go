package il

import "fmt"

// Opcode is a single-byte operation code. Short and long forms of the same
// operation are distinct opcodes.
type Opcode uint8

const (
	// Misc (0x00-0x01)
	OpNop   Opcode = 0x00 // No operation
	OpBreak Opcode = 0x01 // Debugger break

	// Arguments (0x02-0x0F)
	OpLdarg0  Opcode = 0x02 // Push argument 0
	OpLdarg1  Opcode = 0x03 // Push argument 1
	OpLdarg2  Opcode = 0x04 // Push argument 2
	OpLdarg3  Opcode = 0x05 // Push argument 3
	OpLdargS  Opcode = 0x06 // Push argument: OpLdargS <index:u8>
	OpLdarg   Opcode = 0x07 // Push argument: OpLdarg <index:u16>
	OpLdargaS Opcode = 0x08 // Push argument address: OpLdargaS <index:u8>
	OpLdarga  Opcode = 0x09 // Push argument address: OpLdarga <index:u16>
	OpStargS  Opcode = 0x0A // Pop into argument: OpStargS <index:u8>
	OpStarg   Opcode = 0x0B // Pop into argument: OpStarg <index:u16>

	// Local variables (0x10-0x1F)
	OpLdloc0  Opcode = 0x10 // Push local 0
	OpLdloc1  Opcode = 0x11 // Push local 1
	OpLdloc2  Opcode = 0x12 // Push local 2
	OpLdloc3  Opcode = 0x13 // Push local 3
	OpLdlocS  Opcode = 0x14 // Push local: OpLdlocS <slot:u8>
	OpLdloc   Opcode = 0x15 // Push local: OpLdloc <slot:u16>
	OpLdlocaS Opcode = 0x16 // Push local address: OpLdlocaS <slot:u8>
	OpLdloca  Opcode = 0x17 // Push local address: OpLdloca <slot:u16>
	OpStloc0  Opcode = 0x18 // Pop into local 0
	OpStloc1  Opcode = 0x19 // Pop into local 1
	OpStloc2  Opcode = 0x1A // Pop into local 2
	OpStloc3  Opcode = 0x1B // Pop into local 3
	OpStlocS  Opcode = 0x1C // Pop into local: OpStlocS <slot:u8>
	OpStloc   Opcode = 0x1D // Pop into local: OpStloc <slot:u16>

	// Constants (0x20-0x2F)
	OpLdnull  Opcode = 0x20 // Push null reference
	OpLdcI4S  Opcode = 0x21 // Push int32: OpLdcI4S <value:i8>
	OpLdcI4   Opcode = 0x22 // Push int32: OpLdcI4 <value:i32>
	OpLdcI8   Opcode = 0x23 // Push int64: OpLdcI8 <value:i64>
	OpLdcR4   Opcode = 0x24 // Push float32: OpLdcR4 <value:f32>
	OpLdcR8   Opcode = 0x25 // Push float64: OpLdcR8 <value:f64>
	OpLdstr   Opcode = 0x26 // Push string: OpLdstr <token:u32>

	// Stack manipulation (0x30-0x37)
	OpDup Opcode = 0x30 // Duplicate top of stack
	OpPop Opcode = 0x31 // Pop top of stack

	// Calls (0x38-0x3F)
	OpCall     Opcode = 0x38 // Call method: OpCall <method:u32>
	OpCallvirt Opcode = 0x39 // Call virtual method: OpCallvirt <method:u32>
	OpNewobj   Opcode = 0x3A // Allocate and construct: OpNewobj <ctor:u32>
	OpRet      Opcode = 0x3B // Return from method (pops return value if any)

	// Control flow (0x40-0x5F)
	OpBr         Opcode = 0x40 // Unconditional branch: OpBr <target:i32>
	OpBrS        Opcode = 0x41 // Unconditional branch: OpBrS <target:i8>
	OpBrfalse    Opcode = 0x42 // Branch if false/zero/null
	OpBrfalseS   Opcode = 0x43
	OpBrtrue     Opcode = 0x44 // Branch if true/non-zero/non-null
	OpBrtrueS    Opcode = 0x45
	OpBeq        Opcode = 0x46 // Branch if a == b
	OpBeqS       Opcode = 0x47
	OpBneUn      Opcode = 0x48 // Branch if a != b (unordered)
	OpBneUnS     Opcode = 0x49
	OpBlt        Opcode = 0x4A // Branch if a < b
	OpBltS       Opcode = 0x4B
	OpBle        Opcode = 0x4C // Branch if a <= b
	OpBleS       Opcode = 0x4D
	OpBgt        Opcode = 0x4E // Branch if a > b
	OpBgtS       Opcode = 0x4F
	OpBge        Opcode = 0x50 // Branch if a >= b
	OpBgeS       Opcode = 0x51
	OpLeave      Opcode = 0x52 // Exit protected region: OpLeave <target:i32>
	OpLeaveS     Opcode = 0x53
	OpSwitch     Opcode = 0x54 // Jump table: OpSwitch <n:u32> <targets:i32*n>
	OpEndfinally Opcode = 0x55 // End of finally/fault handler
	OpEndfilter  Opcode = 0x56 // End of filter block (pops decision)

	// Arithmetic and bitwise (0x60-0x6F)
	OpAdd Opcode = 0x60 // Pop two, push sum
	OpSub Opcode = 0x61 // Pop two, push difference (a - b where b is TOS)
	OpMul Opcode = 0x62 // Pop two, push product
	OpDiv Opcode = 0x63 // Pop two, push quotient
	OpRem Opcode = 0x64 // Pop two, push remainder
	OpAnd Opcode = 0x65 // Pop two, push bitwise and
	OpOr  Opcode = 0x66 // Pop two, push bitwise or
	OpXor Opcode = 0x67 // Pop two, push bitwise xor
	OpShl Opcode = 0x68 // Pop value and amount, push shifted value
	OpShr Opcode = 0x69 // Pop value and amount, push shifted value
	OpNeg Opcode = 0x6A // Negate top of stack
	OpNot Opcode = 0x6B // Bitwise complement of top of stack

	// Comparison (0x70-0x77)
	OpCeq Opcode = 0x70 // Pop two, push 1 if equal else 0
	OpCgt Opcode = 0x71 // Pop two, push 1 if a > b else 0
	OpClt Opcode = 0x72 // Pop two, push 1 if a < b else 0

	// Conversion (0x78-0x7F)
	OpConvI4 Opcode = 0x78
	OpConvI8 Opcode = 0x79
	OpConvR4 Opcode = 0x7A
	OpConvR8 Opcode = 0x7B
	OpConvI  Opcode = 0x7C

	// Object model (0x80-0x8F)
	OpLdfld     Opcode = 0x80 // Pop object, push field: OpLdfld <field:u32>
	OpLdflda    Opcode = 0x81 // Pop object, push field address
	OpStfld     Opcode = 0x82 // Pop object and value, store field
	OpLdsfld    Opcode = 0x83 // Push static field
	OpStsfld    Opcode = 0x84 // Pop into static field
	OpNewarr    Opcode = 0x85 // Pop length, push new array: OpNewarr <elem:u32>
	OpLdlen     Opcode = 0x86 // Pop array, push length
	OpLdelem    Opcode = 0x87 // Pop array and index, push element: OpLdelem <type:u32>
	OpStelem    Opcode = 0x88 // Pop array, index and value, store element
	OpBox       Opcode = 0x89 // Box value type: OpBox <type:u32>
	OpUnboxAny  Opcode = 0x8A // Unbox to value: OpUnboxAny <type:u32>
	OpCastclass Opcode = 0x8B // Checked cast: OpCastclass <type:u32>
	OpIsinst    Opcode = 0x8C // Type test: OpIsinst <type:u32>

	// Exceptions (0x90-0x9F)
	OpThrow   Opcode = 0x90 // Pop exception object and throw it
	OpRethrow Opcode = 0x91 // Rethrow current exception (only inside catch)
)

// Flow classifies how an opcode transfers control.
type Flow uint8

const (
	FlowNext   Flow = iota // Falls through to the next instruction
	FlowBranch             // Unconditional transfer to a target
	FlowCond               // Conditional transfer to a target, otherwise falls through
	FlowSwitch             // Multi-way transfer, otherwise falls through
	FlowReturn             // Leaves the method or handler
	FlowThrow              // Raises an exception
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // How many values popped from stack (-1 = variable)
	StackPush  int    // How many values pushed to stack (-1 = variable)
	OperandLen int    // Number of operand bytes following the opcode (-1 = variable)
	Flow       Flow
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpNop:   {"nop", 0, 0, 0, FlowNext},
	OpBreak: {"break", 0, 0, 0, FlowNext},

	// Arguments
	OpLdarg0:  {"ldarg.0", 0, 1, 0, FlowNext},
	OpLdarg1:  {"ldarg.1", 0, 1, 0, FlowNext},
	OpLdarg2:  {"ldarg.2", 0, 1, 0, FlowNext},
	OpLdarg3:  {"ldarg.3", 0, 1, 0, FlowNext},
	OpLdargS:  {"ldarg.s", 0, 1, 1, FlowNext},
	OpLdarg:   {"ldarg", 0, 1, 2, FlowNext},
	OpLdargaS: {"ldarga.s", 0, 1, 1, FlowNext},
	OpLdarga:  {"ldarga", 0, 1, 2, FlowNext},
	OpStargS:  {"starg.s", 1, 0, 1, FlowNext},
	OpStarg:   {"starg", 1, 0, 2, FlowNext},

	// Locals
	OpLdloc0:  {"ldloc.0", 0, 1, 0, FlowNext},
	OpLdloc1:  {"ldloc.1", 0, 1, 0, FlowNext},
	OpLdloc2:  {"ldloc.2", 0, 1, 0, FlowNext},
	OpLdloc3:  {"ldloc.3", 0, 1, 0, FlowNext},
	OpLdlocS:  {"ldloc.s", 0, 1, 1, FlowNext},
	OpLdloc:   {"ldloc", 0, 1, 2, FlowNext},
	OpLdlocaS: {"ldloca.s", 0, 1, 1, FlowNext},
	OpLdloca:  {"ldloca", 0, 1, 2, FlowNext},
	OpStloc0:  {"stloc.0", 1, 0, 0, FlowNext},
	OpStloc1:  {"stloc.1", 1, 0, 0, FlowNext},
	OpStloc2:  {"stloc.2", 1, 0, 0, FlowNext},
	OpStloc3:  {"stloc.3", 1, 0, 0, FlowNext},
	OpStlocS:  {"stloc.s", 1, 0, 1, FlowNext},
	OpStloc:   {"stloc", 1, 0, 2, FlowNext},

	// Constants
	OpLdnull: {"ldnull", 0, 1, 0, FlowNext},
	OpLdcI4S: {"ldc.i4.s", 0, 1, 1, FlowNext},
	OpLdcI4:  {"ldc.i4", 0, 1, 4, FlowNext},
	OpLdcI8:  {"ldc.i8", 0, 1, 8, FlowNext},
	OpLdcR4:  {"ldc.r4", 0, 1, 4, FlowNext},
	OpLdcR8:  {"ldc.r8", 0, 1, 8, FlowNext},
	OpLdstr:  {"ldstr", 0, 1, 4, FlowNext},

	// Stack
	OpDup: {"dup", 1, 2, 0, FlowNext},
	OpPop: {"pop", 1, 0, 0, FlowNext},

	// Calls
	OpCall:     {"call", -1, -1, 4, FlowNext},
	OpCallvirt: {"callvirt", -1, -1, 4, FlowNext},
	OpNewobj:   {"newobj", -1, 1, 4, FlowNext},
	OpRet:      {"ret", -1, 0, 0, FlowReturn},

	// Control flow
	OpBr:         {"br", 0, 0, 4, FlowBranch},
	OpBrS:        {"br.s", 0, 0, 1, FlowBranch},
	OpBrfalse:    {"brfalse", 1, 0, 4, FlowCond},
	OpBrfalseS:   {"brfalse.s", 1, 0, 1, FlowCond},
	OpBrtrue:     {"brtrue", 1, 0, 4, FlowCond},
	OpBrtrueS:    {"brtrue.s", 1, 0, 1, FlowCond},
	OpBeq:        {"beq", 2, 0, 4, FlowCond},
	OpBeqS:       {"beq.s", 2, 0, 1, FlowCond},
	OpBneUn:      {"bne.un", 2, 0, 4, FlowCond},
	OpBneUnS:     {"bne.un.s", 2, 0, 1, FlowCond},
	OpBlt:        {"blt", 2, 0, 4, FlowCond},
	OpBltS:       {"blt.s", 2, 0, 1, FlowCond},
	OpBle:        {"ble", 2, 0, 4, FlowCond},
	OpBleS:       {"ble.s", 2, 0, 1, FlowCond},
	OpBgt:        {"bgt", 2, 0, 4, FlowCond},
	OpBgtS:       {"bgt.s", 2, 0, 1, FlowCond},
	OpBge:        {"bge", 2, 0, 4, FlowCond},
	OpBgeS:       {"bge.s", 2, 0, 1, FlowCond},
	OpLeave:      {"leave", 0, 0, 4, FlowBranch},
	OpLeaveS:     {"leave.s", 0, 0, 1, FlowBranch},
	OpSwitch:     {"switch", 1, 0, -1, FlowSwitch},
	OpEndfinally: {"endfinally", 0, 0, 0, FlowReturn},
	OpEndfilter:  {"endfilter", 1, 0, 0, FlowReturn},

	// Arithmetic
	OpAdd: {"add", 2, 1, 0, FlowNext},
	OpSub: {"sub", 2, 1, 0, FlowNext},
	OpMul: {"mul", 2, 1, 0, FlowNext},
	OpDiv: {"div", 2, 1, 0, FlowNext},
	OpRem: {"rem", 2, 1, 0, FlowNext},
	OpAnd: {"and", 2, 1, 0, FlowNext},
	OpOr:  {"or", 2, 1, 0, FlowNext},
	OpXor: {"xor", 2, 1, 0, FlowNext},
	OpShl: {"shl", 2, 1, 0, FlowNext},
	OpShr: {"shr", 2, 1, 0, FlowNext},
	OpNeg: {"neg", 1, 1, 0, FlowNext},
	OpNot: {"not", 1, 1, 0, FlowNext},

	// Comparison
	OpCeq: {"ceq", 2, 1, 0, FlowNext},
	OpCgt: {"cgt", 2, 1, 0, FlowNext},
	OpClt: {"clt", 2, 1, 0, FlowNext},

	// Conversion
	OpConvI4: {"conv.i4", 1, 1, 0, FlowNext},
	OpConvI8: {"conv.i8", 1, 1, 0, FlowNext},
	OpConvR4: {"conv.r4", 1, 1, 0, FlowNext},
	OpConvR8: {"conv.r8", 1, 1, 0, FlowNext},
	OpConvI:  {"conv.i", 1, 1, 0, FlowNext},

	// Object model
	OpLdfld:     {"ldfld", 1, 1, 4, FlowNext},
	OpLdflda:    {"ldflda", 1, 1, 4, FlowNext},
	OpStfld:     {"stfld", 2, 0, 4, FlowNext},
	OpLdsfld:    {"ldsfld", 0, 1, 4, FlowNext},
	OpStsfld:    {"stsfld", 1, 0, 4, FlowNext},
	OpNewarr:    {"newarr", 1, 1, 4, FlowNext},
	OpLdlen:     {"ldlen", 1, 1, 0, FlowNext},
	OpLdelem:    {"ldelem", 2, 1, 4, FlowNext},
	OpStelem:    {"stelem", 3, 0, 4, FlowNext},
	OpBox:       {"box", 1, 1, 4, FlowNext},
	OpUnboxAny:  {"unbox.any", 1, 1, 4, FlowNext},
	OpCastclass: {"castclass", 1, 1, 4, FlowNext},
	OpIsinst:    {"isinst", 1, 1, 4, FlowNext},

	// Exceptions
	OpThrow:   {"throw", 1, 0, 0, FlowThrow},
	OpRethrow: {"rethrow", 0, 0, 0, FlowThrow},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// Valid reports whether the opcode is defined.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Flow returns the control-flow class of the opcode.
func (op Opcode) Flow() Flow {
	return GetOpcodeInfo(op).Flow
}

// IsBranch returns true for opcodes carrying a single branch target.
func (op Opcode) IsBranch() bool {
	return op >= OpBr && op <= OpLeaveS
}

// IsConditionalBranch returns true for branches that may fall through.
func (op Opcode) IsConditionalBranch() bool {
	return op.Flow() == FlowCond
}

// IsUnconditionalTransfer returns true if control never falls through to
// the following instruction.
func (op Opcode) IsUnconditionalTransfer() bool {
	switch op.Flow() {
	case FlowBranch, FlowReturn, FlowThrow:
		return true
	}
	return false
}

// EndsBlock returns true if the instruction following this one starts a
// new basic block.
func (op Opcode) EndsBlock() bool {
	return op.Flow() != FlowNext
}

// IsShortBranch returns true for the one-byte displacement branch forms.
func (op Opcode) IsShortBranch() bool {
	return op.IsBranch() && (op-OpBr)%2 == 1
}

// ShortForm returns the one-byte displacement form of a branch opcode.
// Non-branch opcodes are returned unchanged.
func (op Opcode) ShortForm() Opcode {
	if op.IsBranch() && !op.IsShortBranch() {
		return op + 1
	}
	return op
}

// LongForm returns the four-byte displacement form of a branch opcode.
// Non-branch opcodes are returned unchanged.
func (op Opcode) LongForm() Opcode {
	if op.IsShortBranch() {
		return op - 1
	}
	return op
}

// IsLoadLocal returns true for the ldloc family (not ldloca).
func (op Opcode) IsLoadLocal() bool {
	return op >= OpLdloc0 && op <= OpLdloc
}

// IsLocalAddress returns true for ldloca and ldloca.s.
func (op Opcode) IsLocalAddress() bool {
	return op == OpLdlocaS || op == OpLdloca
}

// IsStoreLocal returns true for the stloc family.
func (op Opcode) IsStoreLocal() bool {
	return op >= OpStloc0 && op <= OpStloc
}

// IsLoadArg returns true for the ldarg family (not ldarga).
func (op Opcode) IsLoadArg() bool {
	return op >= OpLdarg0 && op <= OpLdarg
}

// IsArgAddress returns true for ldarga and ldarga.s.
func (op Opcode) IsArgAddress() bool {
	return op == OpLdargaS || op == OpLdarga
}

// IsStoreArg returns true for starg and starg.s.
func (op Opcode) IsStoreArg() bool {
	return op == OpStargS || op == OpStarg
}

// IsCall returns true for call, callvirt and newobj.
func (op Opcode) IsCall() bool {
	return op >= OpCall && op <= OpNewobj
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
