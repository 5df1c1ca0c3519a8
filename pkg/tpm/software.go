package tpm

import (
	"crypto/aes"
	"crypto/cipher"
	cryptorand "crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/meshguard/attestmesh/pkg/crypto"
)

// SoftwareProvider simulates a TPM for development and test builds.
//
// WARNING: it provides no actual hardware-backed security guarantee. A
// quote produced here is only as trustworthy as the process memory it ran
// in. The Identity Registry maps attestation produced by this provider to
// trust score 0.7 (Software), never 1.0.
type SoftwareProvider struct {
	deviceKey *crypto.KeyPair
	wrapKey   [32]byte

	mu      sync.Mutex
	counter uint64
}

// NewSoftwareProvider creates a simulated TPM with a fresh, random identity
// and a random seal-wrapping key. Nothing persists across restarts: a blob
// sealed by one provider cannot be unsealed by another.
func NewSoftwareProvider() *SoftwareProvider {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		// crypto/rand failure is unrecoverable; a nil key pair here would
		// silently downgrade every subsequent quote, which the core's
		// fail-visible policy forbids.
		panic(fmt.Sprintf("tpm: software provider: %v", err))
	}

	salt, err := crypto.RandomSalt()
	if err != nil {
		panic(fmt.Sprintf("tpm: software provider: %v", err))
	}
	wrapKey := crypto.PBKDF2SHA256(kp.PublicKey(), salt[:], crypto.PBKDF2IterationsMin, 32)

	p := &SoftwareProvider{deviceKey: kp}
	copy(p.wrapKey[:], wrapKey)
	return p
}

func (p *SoftwareProvider) Variant() Variant { return VariantSoftware }

func (p *SoftwareProvider) GenerateQuote(nonce []byte, sel PCRSelection) (*Quote, error) {
	p.mu.Lock()
	p.counter++
	counter := p.counter
	p.mu.Unlock()

	pcrs := make(map[int][]byte, len(sel))
	for _, idx := range sel {
		pcrs[idx] = simulatedPCRDigest(idx, counter)
	}

	digest := quoteDigest(nonce, pcrs)
	sig := p.deviceKey.Sign(digest)

	return &Quote{
		Nonce:                nonce,
		PCRs:                 pcrs,
		Signature:            sig,
		AttestationKeyPublic: p.deviceKey.PublicKey(),
		CreatedAt:            time.Now(),
	}, nil
}

func (p *SoftwareProvider) VerifyQuote(q *Quote, attestationKey []byte) bool {
	digest := quoteDigest(q.Nonce, q.PCRs)
	return crypto.Verify(attestationKey, digest, q.Signature)
}

func (p *SoftwareProvider) Seal(keyMaterial []byte) (*SealedKey, error) {
	block, err := aes.NewCipher(p.wrapKey[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(cryptorand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealFailed, err)
	}

	sealed := gcm.Seal(nonce, nonce, keyMaterial, nil)
	return &SealedKey{handle: sealed}, nil
}

func (p *SoftwareProvider) Unseal(sk *SealedKey) ([]byte, error) {
	block, err := aes.NewCipher(p.wrapKey[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsealFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsealFailed, err)
	}

	if len(sk.handle) < gcm.NonceSize() {
		return nil, ErrUnsealFailed
	}
	nonce, ciphertext := sk.handle[:gcm.NonceSize()], sk.handle[gcm.NonceSize():]

	data, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsealFailed, err)
	}
	return data, nil
}

func (p *SoftwareProvider) Close() error { return nil }

// quoteDigest hashes the nonce together with the PCR set in index order so
// the digest is stable regardless of map iteration order.
func quoteDigest(nonce []byte, pcrs map[int][]byte) []byte {
	h := crypto.NewHasher()
	h.Write(nonce)
	for idx := 0; idx < 32; idx++ {
		if d, ok := pcrs[idx]; ok {
			h.Write(d)
		}
	}
	return h.Sum(nil)
}

// simulatedPCRDigest produces a deterministic, non-hardware-backed PCR
// value for a given index and attestation counter.
func simulatedPCRDigest(index int, counter uint64) []byte {
	var buf [16]byte
	buf[0] = byte(index)
	for i := 0; i < 8; i++ {
		buf[8+i] = byte(counter >> (8 * i))
	}
	digest := crypto.Hash(buf[:])
	return digest[:]
}
