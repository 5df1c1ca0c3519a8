package tlv

import (
	"encoding/binary"
	"io"
	"math"
	"unicode/utf8"
)

// Writer encodes a stream of TLV elements to an io.Writer, tracking
// container nesting so EndContainer always closes the innermost open
// structure or array.
type Writer struct {
	out   io.Writer
	depth int
}

// NewWriter creates a Writer that appends encoded elements to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{out: w}
}

func (w *Writer) putHeader(elem ElementType, tag Tag) error {
	if _, err := w.out.Write([]byte{buildControlOctet(elem, tag.Kind())}); err != nil {
		return err
	}
	return tag.writeTo(w.out)
}

func (w *Writer) putFixed(elem ElementType, tag Tag, value []byte) error {
	if err := w.putHeader(elem, tag); err != nil {
		return err
	}
	_, err := w.out.Write(value)
	return err
}

// PutInt writes a signed integer under tag, choosing the narrowest of the
// four widths this codec supports that holds v.
func (w *Writer) PutInt(tag Tag, v int64) error {
	var buf [8]byte
	switch {
	case v >= math.MinInt8 && v <= math.MaxInt8:
		buf[0] = byte(v)
		return w.putFixed(ElementTypeInt8, tag, buf[:1])
	case v >= math.MinInt16 && v <= math.MaxInt16:
		binary.LittleEndian.PutUint16(buf[:2], uint16(v))
		return w.putFixed(ElementTypeInt16, tag, buf[:2])
	case v >= math.MinInt32 && v <= math.MaxInt32:
		binary.LittleEndian.PutUint32(buf[:4], uint32(v))
		return w.putFixed(ElementTypeInt32, tag, buf[:4])
	default:
		binary.LittleEndian.PutUint64(buf[:8], uint64(v))
		return w.putFixed(ElementTypeInt64, tag, buf[:8])
	}
}

// PutUint writes an unsigned integer under tag, choosing the narrowest of
// the four widths this codec supports that holds v.
func (w *Writer) PutUint(tag Tag, v uint64) error {
	var buf [8]byte
	switch {
	case v <= math.MaxUint8:
		buf[0] = byte(v)
		return w.putFixed(ElementTypeUInt8, tag, buf[:1])
	case v <= math.MaxUint16:
		binary.LittleEndian.PutUint16(buf[:2], uint16(v))
		return w.putFixed(ElementTypeUInt16, tag, buf[:2])
	case v <= math.MaxUint32:
		binary.LittleEndian.PutUint32(buf[:4], uint32(v))
		return w.putFixed(ElementTypeUInt32, tag, buf[:4])
	default:
		binary.LittleEndian.PutUint64(buf[:8], v)
		return w.putFixed(ElementTypeUInt64, tag, buf[:8])
	}
}

// PutString writes a UTF-8 string under tag, returning ErrInvalidUTF8 if
// v isn't valid UTF-8.
func (w *Writer) PutString(tag Tag, v string) error {
	if !utf8.ValidString(v) {
		return ErrInvalidUTF8
	}
	return w.putLengthPrefixed(true, tag, []byte(v))
}

// PutBytes writes an opaque byte string under tag.
func (w *Writer) PutBytes(tag Tag, v []byte) error {
	return w.putLengthPrefixed(false, tag, v)
}

func (w *Writer) putLengthPrefixed(isUTF8 bool, tag Tag, data []byte) error {
	length := uint64(len(data))

	var elem ElementType
	var lenBuf [4]byte
	var lenSize int
	switch {
	case length <= math.MaxUint8:
		lenSize = 1
		lenBuf[0] = byte(length)
		elem = lengthPrefixedType(isUTF8, 1)
	case length <= math.MaxUint16:
		lenSize = 2
		binary.LittleEndian.PutUint16(lenBuf[:2], uint16(length))
		elem = lengthPrefixedType(isUTF8, 2)
	case length <= math.MaxUint32:
		lenSize = 4
		binary.LittleEndian.PutUint32(lenBuf[:4], uint32(length))
		elem = lengthPrefixedType(isUTF8, 4)
	default:
		return ErrElementTooLarge
	}

	if err := w.putHeader(elem, tag); err != nil {
		return err
	}
	if _, err := w.out.Write(lenBuf[:lenSize]); err != nil {
		return err
	}
	_, err := w.out.Write(data)
	return err
}

func lengthPrefixedType(isUTF8 bool, width int) ElementType {
	switch {
	case isUTF8 && width == 1:
		return ElementTypeUTF8_1
	case isUTF8 && width == 2:
		return ElementTypeUTF8_2
	case isUTF8:
		return ElementTypeUTF8_4
	case width == 1:
		return ElementTypeBytes1
	case width == 2:
		return ElementTypeBytes2
	default:
		return ElementTypeBytes4
	}
}

// StartStructure opens a structure container under tag. Fields written
// until the matching EndContainer take context tags.
func (w *Writer) StartStructure(tag Tag) error {
	if err := w.putHeader(ElementTypeStruct, tag); err != nil {
		return err
	}
	w.depth++
	return nil
}

// StartArray opens an array container under tag. Elements written until
// the matching EndContainer are conventionally anonymous.
func (w *Writer) StartArray(tag Tag) error {
	if err := w.putHeader(ElementTypeArray, tag); err != nil {
		return err
	}
	w.depth++
	return nil
}

// EndContainer closes the innermost structure or array opened by
// StartStructure/StartArray.
func (w *Writer) EndContainer() error {
	if w.depth == 0 {
		return ErrNotInContainer
	}
	w.depth--
	_, err := w.out.Write([]byte{byte(ElementTypeEnd)})
	return err
}
