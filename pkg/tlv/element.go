// Package tlv implements a compact, self-describing Tag-Length-Value
// encoding: a byte-oriented, streaming codec with typed scalars, tagged
// structure fields, and nested containers (structures and arrays), used
// as the wire encoding for every message this module's components
// exchange.
package tlv

// ElementType identifies the shape of a TLV element's value, as encoded
// in the lower 7 bits of the control octet: a fixed-width scalar, a
// length-prefixed string or byte string, a container start, or the
// container terminator.
type ElementType uint8

const (
	ElementTypeInt8   ElementType = iota // Signed integer, 1-octet value
	ElementTypeInt16                     // Signed integer, 2-octet value
	ElementTypeInt32                     // Signed integer, 4-octet value
	ElementTypeInt64                     // Signed integer, 8-octet value
	ElementTypeUInt8                     // Unsigned integer, 1-octet value
	ElementTypeUInt16                    // Unsigned integer, 2-octet value
	ElementTypeUInt32                    // Unsigned integer, 4-octet value
	ElementTypeUInt64                    // Unsigned integer, 8-octet value
	ElementTypeUTF8_1                    // UTF-8 string, 1-octet length prefix
	ElementTypeUTF8_2                    // UTF-8 string, 2-octet length prefix
	ElementTypeUTF8_4                    // UTF-8 string, 4-octet length prefix
	ElementTypeBytes1                    // Octet string, 1-octet length prefix
	ElementTypeBytes2                    // Octet string, 2-octet length prefix
	ElementTypeBytes4                    // Octet string, 4-octet length prefix
	ElementTypeStruct                    // Structure container start
	ElementTypeArray                     // Array container start
	ElementTypeEnd                       // Container terminator
)

// String returns the element type's name, for error messages and logging.
func (e ElementType) String() string {
	switch e {
	case ElementTypeInt8:
		return "Int8"
	case ElementTypeInt16:
		return "Int16"
	case ElementTypeInt32:
		return "Int32"
	case ElementTypeInt64:
		return "Int64"
	case ElementTypeUInt8:
		return "UInt8"
	case ElementTypeUInt16:
		return "UInt16"
	case ElementTypeUInt32:
		return "UInt32"
	case ElementTypeUInt64:
		return "UInt64"
	case ElementTypeUTF8_1, ElementTypeUTF8_2, ElementTypeUTF8_4:
		return "UTF8String"
	case ElementTypeBytes1, ElementTypeBytes2, ElementTypeBytes4:
		return "ByteString"
	case ElementTypeStruct:
		return "Struct"
	case ElementTypeArray:
		return "Array"
	case ElementTypeEnd:
		return "EndOfContainer"
	default:
		return "Unknown"
	}
}

// IsSignedInt reports whether e is a signed integer type.
func (e ElementType) IsSignedInt() bool {
	return e >= ElementTypeInt8 && e <= ElementTypeInt64
}

// IsUnsignedInt reports whether e is an unsigned integer type.
func (e ElementType) IsUnsignedInt() bool {
	return e >= ElementTypeUInt8 && e <= ElementTypeUInt64
}

// isFixedWidth reports whether e's value is a fixed number of bytes
// immediately following the tag, rather than length-prefixed.
func (e ElementType) isFixedWidth() bool {
	return e.IsSignedInt() || e.IsUnsignedInt()
}

// fixedSize returns the value width in bytes for a fixed-width type, or 0
// if e isn't one.
func (e ElementType) fixedSize() int {
	switch e {
	case ElementTypeInt8, ElementTypeUInt8:
		return 1
	case ElementTypeInt16, ElementTypeUInt16:
		return 2
	case ElementTypeInt32, ElementTypeUInt32:
		return 4
	case ElementTypeInt64, ElementTypeUInt64:
		return 8
	default:
		return 0
	}
}

// IsUTF8String reports whether e is a UTF-8 string type, of any length-prefix width.
func (e ElementType) IsUTF8String() bool {
	return e == ElementTypeUTF8_1 || e == ElementTypeUTF8_2 || e == ElementTypeUTF8_4
}

// IsBytes reports whether e is an octet-string type, of any length-prefix width.
func (e ElementType) IsBytes() bool {
	return e == ElementTypeBytes1 || e == ElementTypeBytes2 || e == ElementTypeBytes4
}

// isLengthPrefixed reports whether e's value is preceded by an explicit length field.
func (e ElementType) isLengthPrefixed() bool {
	return e.IsUTF8String() || e.IsBytes()
}

// lengthFieldSize returns the width in bytes of e's length prefix, or 0 if
// e isn't length-prefixed.
func (e ElementType) lengthFieldSize() int {
	switch e {
	case ElementTypeUTF8_1, ElementTypeBytes1:
		return 1
	case ElementTypeUTF8_2, ElementTypeBytes2:
		return 2
	case ElementTypeUTF8_4, ElementTypeBytes4:
		return 4
	default:
		return 0
	}
}

// IsContainer reports whether e opens a structure or array.
func (e ElementType) IsContainer() bool {
	return e == ElementTypeStruct || e == ElementTypeArray
}

// tagKindBit is the control octet's top bit: set for a one-byte context
// tag, clear for an anonymous field. Unlike a vendor/profile tag space,
// this module's structures and arrays never need more than that.
const tagKindBit = 0x80

func buildControlOctet(elem ElementType, kind TagKind) byte {
	b := byte(elem)
	if kind == TagContext {
		b |= tagKindBit
	}
	return b
}

func parseControlOctet(b byte) (ElementType, TagKind) {
	kind := TagAnonymous
	if b&tagKindBit != 0 {
		kind = TagContext
	}
	return ElementType(b &^ tagKindBit), kind
}
