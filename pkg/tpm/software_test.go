package tpm

import "testing"

func TestSoftwareProviderQuoteVerifies(t *testing.T) {
	p := NewSoftwareProvider()
	defer p.Close()

	nonce := []byte("challenge-nonce-0123456789ab")
	q, err := p.GenerateQuote(nonce, DefaultPCRSelection)
	if err != nil {
		t.Fatalf("GenerateQuote: %v", err)
	}

	if !p.VerifyQuote(q, q.AttestationKeyPublic) {
		t.Fatalf("expected quote to verify")
	}
}

func TestSoftwareProviderQuoteRejectsTamperedPCR(t *testing.T) {
	p := NewSoftwareProvider()
	defer p.Close()

	nonce := []byte("challenge-nonce-0123456789ab")
	q, err := p.GenerateQuote(nonce, DefaultPCRSelection)
	if err != nil {
		t.Fatalf("GenerateQuote: %v", err)
	}

	q.PCRs[0] = append([]byte{}, q.PCRs[0]...)
	q.PCRs[0][0] ^= 0xFF

	if p.VerifyQuote(q, q.AttestationKeyPublic) {
		t.Fatalf("expected verification to fail on tampered PCR")
	}
}

func TestSoftwareProviderSealUnsealRoundTrip(t *testing.T) {
	p := NewSoftwareProvider()
	defer p.Close()

	secret := []byte("private-key-material")
	sealed, err := p.Seal(secret)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	got, err := p.Unseal(sealed)
	if err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	if string(got) != string(secret) {
		t.Fatalf("unsealed data does not match original")
	}
}

func TestSoftwareProviderUnsealFailsAcrossProviders(t *testing.T) {
	a := NewSoftwareProvider()
	b := NewSoftwareProvider()
	defer a.Close()
	defer b.Close()

	sealed, err := a.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := b.Unseal(sealed); err == nil {
		t.Fatalf("expected unseal by a different provider to fail")
	}
}

func TestSoftwareProviderVariant(t *testing.T) {
	p := NewSoftwareProvider()
	defer p.Close()
	if p.Variant() != VariantSoftware {
		t.Fatalf("expected VariantSoftware, got %v", p.Variant())
	}
}
