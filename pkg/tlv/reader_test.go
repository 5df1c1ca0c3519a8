package tlv

import (
	"bytes"
	"io"
	"testing"
)

func TestAccessorsRejectBeforeNext(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	if _, err := r.Int(); err != ErrNoElement {
		t.Fatalf("Int before Next: expected ErrNoElement, got %v", err)
	}
	if _, err := r.Uint(); err != ErrNoElement {
		t.Fatalf("Uint before Next: expected ErrNoElement, got %v", err)
	}
	if _, err := r.Bytes(); err != ErrNoElement {
		t.Fatalf("Bytes before Next: expected ErrNoElement, got %v", err)
	}
}

func TestAccessorRejectsTypeMismatch(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.PutString(ContextTag(1), "hello"); err != nil {
		t.Fatalf("PutString: %v", err)
	}
	r := NewReader(&buf)
	if err := r.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if _, err := r.Int(); err != ErrTypeMismatch {
		t.Fatalf("Int on a string element: expected ErrTypeMismatch, got %v", err)
	}
}

func TestAccessorRejectsDoubleRead(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.PutUint(ContextTag(1), 7); err != nil {
		t.Fatalf("PutUint: %v", err)
	}
	r := NewReader(&buf)
	if err := r.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if _, err := r.Uint(); err != nil {
		t.Fatalf("first Uint: %v", err)
	}
	if _, err := r.Uint(); err != ErrValueAlreadyRead {
		t.Fatalf("second Uint: expected ErrValueAlreadyRead, got %v", err)
	}
}

func TestNextSkipsUnreadValue(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.PutBytes(ContextTag(1), []byte("ignored")); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	if err := w.PutUint(ContextTag(2), 99); err != nil {
		t.Fatalf("PutUint: %v", err)
	}

	r := NewReader(&buf)
	if err := r.Next(); err != nil {
		t.Fatalf("Next (first): %v", err)
	}
	// Value of the first element is never read here; Next must skip it.
	if err := r.Next(); err != nil {
		t.Fatalf("Next (second): %v", err)
	}
	v, err := r.Uint()
	if err != nil {
		t.Fatalf("Uint: %v", err)
	}
	if v != 99 {
		t.Fatalf("got %d, want 99", v)
	}
}

func TestEnterContainerRejectsNonContainer(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.PutUint(ContextTag(1), 1); err != nil {
		t.Fatalf("PutUint: %v", err)
	}
	r := NewReader(&buf)
	if err := r.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if err := r.EnterContainer(); err != ErrTypeMismatch {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
}

func TestExitContainerWithoutEnterFails(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	if err := r.ExitContainer(); err != ErrNotInContainer {
		t.Fatalf("expected ErrNotInContainer, got %v", err)
	}
}

func TestExitContainerSkipsUnreadSiblings(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.StartStructure(Anonymous()); err != nil {
		t.Fatalf("StartStructure: %v", err)
	}
	if err := w.PutUint(ContextTag(1), 1); err != nil {
		t.Fatalf("PutUint: %v", err)
	}
	if err := w.PutUint(ContextTag(2), 2); err != nil {
		t.Fatalf("PutUint: %v", err)
	}
	if err := w.EndContainer(); err != nil {
		t.Fatalf("EndContainer: %v", err)
	}
	if err := w.PutUint(ContextTag(3), 3); err != nil {
		t.Fatalf("trailing PutUint: %v", err)
	}

	r := NewReader(&buf)
	if err := r.Next(); err != nil {
		t.Fatalf("Next (struct): %v", err)
	}
	if err := r.EnterContainer(); err != nil {
		t.Fatalf("EnterContainer: %v", err)
	}
	if err := r.ExitContainer(); err != nil {
		t.Fatalf("ExitContainer: %v", err)
	}
	if err := r.Next(); err != nil {
		t.Fatalf("Next (trailing field): %v", err)
	}
	v, err := r.Uint()
	if err != nil {
		t.Fatalf("Uint: %v", err)
	}
	if v != 3 {
		t.Fatalf("got %d, want 3 (exit-container left the stream mid-struct)", v)
	}
}

func TestNextReturnsEOFAtStreamEnd(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	if err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF on an empty stream, got %v", err)
	}
}

func TestStringRejectsInvalidUTF8OnDecode(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.PutBytes(ContextTag(1), []byte{0xff, 0xfe}); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	raw := buf.Bytes()
	// Flip the control octet from Bytes1 to UTF8_1 so Reader.String() sees
	// the same invalid-UTF-8 payload as a string element.
	raw[0] = raw[0]&tagKindBit | byte(ElementTypeUTF8_1)

	r := NewReader(bytes.NewReader(raw))
	if err := r.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if _, err := r.String(); err != ErrInvalidUTF8 {
		t.Fatalf("expected ErrInvalidUTF8, got %v", err)
	}
}
