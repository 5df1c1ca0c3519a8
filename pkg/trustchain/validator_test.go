package trustchain

import (
	"testing"
	"time"

	"github.com/meshguard/attestmesh/pkg/crypto"
)

func mustSign(t *testing.T, kp *crypto.KeyPair, cert *Certificate) {
	t.Helper()
	cert.Signature = kp.Sign(cert.TBSBytes())
}

func buildChain(t *testing.T) (chain []*Certificate, rootKP *crypto.KeyPair) {
	t.Helper()

	rootKP, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair root: %v", err)
	}
	leafKP, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair leaf: %v", err)
	}

	now := time.Now()
	root := &Certificate{
		Serial: []byte{1}, Subject: "root", Issuer: "root",
		PublicKey: rootKP.PublicKey(),
		NotBefore: now.Add(-time.Hour), NotAfter: now.Add(time.Hour),
	}
	mustSign(t, rootKP, root)

	leaf := &Certificate{
		Serial: []byte{2}, Subject: "leaf", Issuer: "root",
		PublicKey: leafKP.PublicKey(),
		NotBefore: now.Add(-time.Hour), NotAfter: now.Add(time.Hour),
	}
	mustSign(t, rootKP, leaf)

	return []*Certificate{leaf, root}, rootKP
}

func TestValidateAcceptsValidChain(t *testing.T) {
	chain, _ := buildChain(t)
	anchors := NewAnchorSet(chain[1])
	v := NewValidator(anchors, nil)

	if err := v.Validate(chain); err != nil {
		t.Fatalf("expected valid chain to pass, got %v", err)
	}
}

func TestValidateRejectsEmptyChain(t *testing.T) {
	v := NewValidator(NewAnchorSet(), nil)
	if err := v.Validate(nil); err == nil {
		t.Fatalf("expected empty chain to be rejected")
	}
}

func TestValidateRejectsUntrustedRoot(t *testing.T) {
	chain, _ := buildChain(t)
	v := NewValidator(NewAnchorSet(), nil) // no anchors configured
	if err := v.Validate(chain); err == nil {
		t.Fatalf("expected untrusted root to be rejected")
	}
}

func TestValidateRejectsTamperedLeafSignature(t *testing.T) {
	chain, _ := buildChain(t)
	chain[0].Signature[0] ^= 0xFF
	anchors := NewAnchorSet(chain[1])
	v := NewValidator(anchors, nil)
	if err := v.Validate(chain); err == nil {
		t.Fatalf("expected tampered signature to be rejected")
	}
}

func TestValidateRejectsExpiredCertificate(t *testing.T) {
	chain, _ := buildChain(t)
	chain[0].NotAfter = time.Now().Add(-time.Minute)
	anchors := NewAnchorSet(chain[1])
	v := NewValidator(anchors, nil)
	if err := v.Validate(chain); err == nil {
		t.Fatalf("expected expired certificate to be rejected")
	}
}

func TestValidateRejectsIssuerMismatch(t *testing.T) {
	chain, _ := buildChain(t)
	chain[0].Issuer = "someone-else"
	anchors := NewAnchorSet(chain[1])
	v := NewValidator(anchors, nil)
	if err := v.Validate(chain); err == nil {
		t.Fatalf("expected issuer mismatch to be rejected")
	}
}
