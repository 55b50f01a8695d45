package hash

// HashVersion is the first byte of every serialization. Bump it whenever
// the encoding changes.
const HashVersion byte = 0x01

// Record tags.
const (
	TagMethod byte = 0x01
	TagLocal  byte = 0x02
	TagOp     byte = 0x03
	TagRegion byte = 0x04
	TagType   byte = 0x05
	TagNil    byte = 0x06
)

// Operand tags.
const (
	TagNone      byte = 0x10
	TagInt32     byte = 0x11
	TagInt64     byte = 0x12
	TagFloat32   byte = 0x13
	TagFloat64   byte = 0x14
	TagString    byte = 0x15
	TagTarget    byte = 0x16
	TagSwitch    byte = 0x17
	TagLocalRef  byte = 0x18
	TagArgRef    byte = 0x19
	TagMethodRef byte = 0x1A
	TagFieldRef  byte = 0x1B
	TagTypeRef   byte = 0x1C
	TagOpaque    byte = 0x1F
)
