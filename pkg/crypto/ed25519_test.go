package crypto

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	msg := []byte("hello mesh")
	sig := kp.Sign(msg)

	if !Verify(kp.PublicKey(), msg, sig) {
		t.Fatalf("expected signature to verify")
	}
}

func TestVerifyRejectsFlippedBit(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	msg := []byte("hello mesh")
	sig := kp.Sign(msg)

	tampered := append([]byte{}, msg...)
	tampered[0] ^= 0x01
	if Verify(kp.PublicKey(), tampered, sig) {
		t.Fatalf("expected verification to fail on tampered message")
	}

	tamperedSig := append([]byte{}, sig...)
	tamperedSig[0] ^= 0x01
	if Verify(kp.PublicKey(), msg, tamperedSig) {
		t.Fatalf("expected verification to fail on tampered signature")
	}
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	if Verify([]byte("short"), []byte("msg"), []byte("sig")) {
		t.Fatalf("expected verification to fail on malformed key/signature")
	}
}

func TestKeyPairFromSeedDeterministic(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}

	a, err := KeyPairFromSeed(seed)
	if err != nil {
		t.Fatalf("KeyPairFromSeed: %v", err)
	}
	b, err := KeyPairFromSeed(seed)
	if err != nil {
		t.Fatalf("KeyPairFromSeed: %v", err)
	}

	if string(a.PublicKey()) != string(b.PublicKey()) {
		t.Fatalf("expected identical public keys from identical seed")
	}
}
