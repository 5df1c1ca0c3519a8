package tlv

import (
	"encoding/binary"
	"io"
	"unicode/utf8"
)

// Reader decodes a stream of TLV elements from an io.Reader, one element
// at a time.
type Reader struct {
	in    io.Reader
	depth int

	has  bool
	elem ElementType
	tag  Tag
	read bool

	fixedBuf [8]byte
	fixedLen int
	strLen   uint64
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{in: r}
}

// Next advances to the next element, first skipping the current
// element's value if the caller never consumed it. Returns io.EOF once
// the underlying reader is exhausted between elements.
func (r *Reader) Next() error {
	if r.has && !r.read {
		if err := r.skipValue(); err != nil {
			return err
		}
	}

	var ctrl [1]byte
	if _, err := io.ReadFull(r.in, ctrl[:]); err != nil {
		return err
	}
	elem, kind := parseControlOctet(ctrl[0])
	if elem > ElementTypeEnd {
		return ErrInvalidElementType
	}
	tag, err := readTag(r.in, kind)
	if err != nil {
		return err
	}
	r.elem, r.tag = elem, tag

	switch {
	case elem.isFixedWidth():
		r.fixedLen = elem.fixedSize()
		if _, err := io.ReadFull(r.in, r.fixedBuf[:r.fixedLen]); err != nil {
			return err
		}
	case elem.isLengthPrefixed():
		if err := r.readLength(elem.lengthFieldSize()); err != nil {
			return err
		}
	default:
		r.fixedLen, r.strLen = 0, 0
	}

	r.has, r.read = true, false
	return nil
}

func (r *Reader) readLength(width int) error {
	var buf [4]byte
	if _, err := io.ReadFull(r.in, buf[:width]); err != nil {
		return err
	}
	switch width {
	case 1:
		r.strLen = uint64(buf[0])
	case 2:
		r.strLen = uint64(binary.LittleEndian.Uint16(buf[:2]))
	case 4:
		r.strLen = uint64(binary.LittleEndian.Uint32(buf[:4]))
	}
	return nil
}

// Type returns the current element's type.
func (r *Reader) Type() ElementType {
	return r.elem
}

// Tag returns the current element's tag.
func (r *Reader) Tag() Tag {
	return r.tag
}

// Int returns the current element's value as a signed integer.
func (r *Reader) Int() (int64, error) {
	if !r.has {
		return 0, ErrNoElement
	}
	if r.read {
		return 0, ErrValueAlreadyRead
	}
	if !r.elem.IsSignedInt() {
		return 0, ErrTypeMismatch
	}
	r.read = true

	switch r.elem {
	case ElementTypeInt8:
		return int64(int8(r.fixedBuf[0])), nil
	case ElementTypeInt16:
		return int64(int16(binary.LittleEndian.Uint16(r.fixedBuf[:2]))), nil
	case ElementTypeInt32:
		return int64(int32(binary.LittleEndian.Uint32(r.fixedBuf[:4]))), nil
	default:
		return int64(binary.LittleEndian.Uint64(r.fixedBuf[:8])), nil
	}
}

// Uint returns the current element's value as an unsigned integer.
func (r *Reader) Uint() (uint64, error) {
	if !r.has {
		return 0, ErrNoElement
	}
	if r.read {
		return 0, ErrValueAlreadyRead
	}
	if !r.elem.IsUnsignedInt() {
		return 0, ErrTypeMismatch
	}
	r.read = true

	switch r.elem {
	case ElementTypeUInt8:
		return uint64(r.fixedBuf[0]), nil
	case ElementTypeUInt16:
		return uint64(binary.LittleEndian.Uint16(r.fixedBuf[:2])), nil
	case ElementTypeUInt32:
		return uint64(binary.LittleEndian.Uint32(r.fixedBuf[:4])), nil
	default:
		return binary.LittleEndian.Uint64(r.fixedBuf[:8]), nil
	}
}

// String returns the current element's value as a UTF-8 string.
func (r *Reader) String() (string, error) {
	if !r.has {
		return "", ErrNoElement
	}
	if r.read {
		return "", ErrValueAlreadyRead
	}
	if !r.elem.IsUTF8String() {
		return "", ErrTypeMismatch
	}
	r.read = true

	if r.strLen == 0 {
		return "", nil
	}
	data := make([]byte, r.strLen)
	if _, err := io.ReadFull(r.in, data); err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", ErrInvalidUTF8
	}
	return string(data), nil
}

// Bytes returns the current element's value as an opaque byte slice.
func (r *Reader) Bytes() ([]byte, error) {
	if !r.has {
		return nil, ErrNoElement
	}
	if r.read {
		return nil, ErrValueAlreadyRead
	}
	if !r.elem.IsBytes() {
		return nil, ErrTypeMismatch
	}
	r.read = true

	if r.strLen == 0 {
		return nil, nil
	}
	data := make([]byte, r.strLen)
	if _, err := io.ReadFull(r.in, data); err != nil {
		return nil, err
	}
	return data, nil
}

// EnterContainer descends into the current structure or array element,
// so that the next Next() reads its first child rather than its sibling.
func (r *Reader) EnterContainer() error {
	if !r.has {
		return ErrNoElement
	}
	if !r.elem.IsContainer() {
		return ErrTypeMismatch
	}
	r.depth++
	r.has, r.read = false, true
	return nil
}

// ExitContainer returns from the container entered by the matching
// EnterContainer, consuming and discarding any elements the caller never
// read.
func (r *Reader) ExitContainer() error {
	if r.depth == 0 {
		return ErrNotInContainer
	}
	if r.has && r.elem == ElementTypeEnd {
		r.depth--
		r.has = false
		return nil
	}

	nested := 1
	for nested > 0 {
		if err := r.Next(); err != nil {
			return err
		}
		switch {
		case r.elem == ElementTypeEnd:
			nested--
		case r.elem.IsContainer():
			nested++
		}
	}
	r.depth--
	r.has = false
	return nil
}

// Skip discards the current element, and everything nested inside it if
// it is a container.
func (r *Reader) Skip() error {
	if !r.has {
		return ErrNoElement
	}
	if r.elem.IsContainer() {
		if err := r.EnterContainer(); err != nil {
			return err
		}
		return r.ExitContainer()
	}
	return r.skipValue()
}

func (r *Reader) skipValue() error {
	if r.read {
		return nil
	}
	r.read = true
	if r.elem.isLengthPrefixed() && r.strLen > 0 {
		_, err := io.CopyN(io.Discard, r.in, int64(r.strLen))
		return err
	}
	return nil
}
