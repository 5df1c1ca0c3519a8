package crypto

import "testing"

func TestHashDeterministic(t *testing.T) {
	a := Hash([]byte("hardware-id"), []byte("public-key"), []byte("salt"))
	b := Hash([]byte("hardware-id"), []byte("public-key"), []byte("salt"))
	if a != b {
		t.Fatalf("expected identical hash for identical input")
	}
}

func TestHashDistinguishesInput(t *testing.T) {
	a := Hash([]byte("hardware-id"), []byte("public-key"), []byte("salt-1"))
	b := Hash([]byte("hardware-id"), []byte("public-key"), []byte("salt-2"))
	if a == b {
		t.Fatalf("expected distinct hash for distinct salt")
	}
}

func TestHashSliceMatchesHash(t *testing.T) {
	want := Hash([]byte("x"))
	got := HashSlice([]byte("x"))
	if string(got) != string(want[:]) {
		t.Fatalf("HashSlice diverged from Hash")
	}
}
