package tlv

import (
	"bytes"
	"io"
	"testing"
)

// TestRoundtripNestedStructure encodes a structure containing a string
// field, a byte-string field, and an array of anonymous structures (the
// shape pkg/wire uses for every message it defines) and decodes it back.
func TestRoundtripNestedStructure(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	if err := w.StartStructure(Anonymous()); err != nil {
		t.Fatalf("StartStructure: %v", err)
	}
	if err := w.PutString(ContextTag(1), "node-a"); err != nil {
		t.Fatalf("PutString: %v", err)
	}
	if err := w.PutBytes(ContextTag(2), []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	if err := w.StartArray(ContextTag(3)); err != nil {
		t.Fatalf("StartArray: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := w.StartStructure(Anonymous()); err != nil {
			t.Fatalf("StartStructure (element %d): %v", i, err)
		}
		if err := w.PutInt(ContextTag(1), int64(i)); err != nil {
			t.Fatalf("PutInt (element %d): %v", i, err)
		}
		if err := w.EndContainer(); err != nil {
			t.Fatalf("EndContainer (element %d): %v", i, err)
		}
	}
	if err := w.EndContainer(); err != nil {
		t.Fatalf("EndContainer (array): %v", err)
	}
	if err := w.EndContainer(); err != nil {
		t.Fatalf("EndContainer (struct): %v", err)
	}

	r := NewReader(&buf)
	if err := r.Next(); err != nil {
		t.Fatalf("Next (struct): %v", err)
	}
	if r.Type() != ElementTypeStruct {
		t.Fatalf("expected Struct, got %v", r.Type())
	}
	if err := r.EnterContainer(); err != nil {
		t.Fatalf("EnterContainer: %v", err)
	}

	if err := r.Next(); err != nil {
		t.Fatalf("Next (name): %v", err)
	}
	name, err := r.String()
	if err != nil {
		t.Fatalf("String: %v", err)
	}
	if name != "node-a" {
		t.Fatalf("got name %q, want %q", name, "node-a")
	}

	if err := r.Next(); err != nil {
		t.Fatalf("Next (bytes): %v", err)
	}
	raw, err := r.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if !bytes.Equal(raw, []byte{1, 2, 3, 4}) {
		t.Fatalf("got bytes %v, want [1 2 3 4]", raw)
	}

	if err := r.Next(); err != nil {
		t.Fatalf("Next (array): %v", err)
	}
	if r.Type() != ElementTypeArray {
		t.Fatalf("expected Array, got %v", r.Type())
	}
	if err := r.EnterContainer(); err != nil {
		t.Fatalf("EnterContainer (array): %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := r.Next(); err != nil {
			t.Fatalf("Next (element %d): %v", i, err)
		}
		if r.Type() == ElementTypeEnd {
			t.Fatalf("array ended early, after %d elements", i)
		}
		if err := r.EnterContainer(); err != nil {
			t.Fatalf("EnterContainer (element %d): %v", i, err)
		}
		if err := r.Next(); err != nil {
			t.Fatalf("Next (element %d field): %v", i, err)
		}
		v, err := r.Int()
		if err != nil {
			t.Fatalf("Int (element %d): %v", i, err)
		}
		if v != int64(i) {
			t.Fatalf("element %d: got %d, want %d", i, v, i)
		}
		if err := r.ExitContainer(); err != nil {
			t.Fatalf("ExitContainer (element %d): %v", i, err)
		}
	}
	if err := r.Next(); err != nil {
		t.Fatalf("Next (array end): %v", err)
	}
	if r.Type() != ElementTypeEnd {
		t.Fatalf("expected array end marker, got %v", r.Type())
	}
	if err := r.ExitContainer(); err != nil {
		t.Fatalf("ExitContainer (array): %v", err)
	}

	if err := r.ExitContainer(); err != nil {
		t.Fatalf("ExitContainer (struct): %v", err)
	}
	if err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF after the top-level structure, got %v", err)
	}
}

// TestSkipDiscardsWholeSubtree confirms Skip on a container consumes every
// nested element, leaving the reader positioned on the next sibling.
func TestSkipDiscardsWholeSubtree(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.StartStructure(Anonymous()); err != nil {
		t.Fatalf("StartStructure: %v", err)
	}
	if err := w.StartArray(ContextTag(1)); err != nil {
		t.Fatalf("StartArray: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := w.PutUint(Anonymous(), uint64(i)); err != nil {
			t.Fatalf("PutUint (element %d): %v", i, err)
		}
	}
	if err := w.EndContainer(); err != nil {
		t.Fatalf("EndContainer (array): %v", err)
	}
	if err := w.PutString(ContextTag(2), "after"); err != nil {
		t.Fatalf("PutString: %v", err)
	}
	if err := w.EndContainer(); err != nil {
		t.Fatalf("EndContainer (struct): %v", err)
	}

	r := NewReader(&buf)
	if err := r.Next(); err != nil {
		t.Fatalf("Next (struct): %v", err)
	}
	if err := r.EnterContainer(); err != nil {
		t.Fatalf("EnterContainer: %v", err)
	}
	if err := r.Next(); err != nil {
		t.Fatalf("Next (array): %v", err)
	}
	if err := r.Skip(); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if err := r.Next(); err != nil {
		t.Fatalf("Next (after): %v", err)
	}
	v, err := r.String()
	if err != nil {
		t.Fatalf("String: %v", err)
	}
	if v != "after" {
		t.Fatalf("got %q, want %q (Skip did not consume the whole array)", v, "after")
	}
}

// TestRoundtripWideValues exercises every width this codec encodes,
// back to back in one structure.
func TestRoundtripWideValues(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.StartStructure(Anonymous()); err != nil {
		t.Fatalf("StartStructure: %v", err)
	}
	ints := []int64{0, -1, 127, -128, 32000, -70000, 1 << 40, -(1 << 40)}
	for i, v := range ints {
		if err := w.PutInt(ContextTag(uint8(i)), v); err != nil {
			t.Fatalf("PutInt(%d): %v", v, err)
		}
	}
	if err := w.EndContainer(); err != nil {
		t.Fatalf("EndContainer: %v", err)
	}

	r := NewReader(&buf)
	if err := r.Next(); err != nil {
		t.Fatalf("Next (struct): %v", err)
	}
	if err := r.EnterContainer(); err != nil {
		t.Fatalf("EnterContainer: %v", err)
	}
	for i, want := range ints {
		if err := r.Next(); err != nil {
			t.Fatalf("Next (%d): %v", i, err)
		}
		got, err := r.Int()
		if err != nil {
			t.Fatalf("Int (%d): %v", i, err)
		}
		if got != want {
			t.Fatalf("value %d: got %d, want %d", i, got, want)
		}
	}
}
