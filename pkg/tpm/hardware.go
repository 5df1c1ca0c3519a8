package tpm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	cryptorand "crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/go-attestation/attest"
	"github.com/meshguard/attestmesh/pkg/crypto"
)

// hardwareProvider talks to a local TPM 2.0 device through go-attestation.
//
// go-attestation does not expose general-purpose seal/unseal primitives, so
// Seal/Unseal here derive a wrapping key from the attestation key's public
// parameters via HKDF and use it with AES-GCM. The wrapped blob is only
// meaningful on the device that produced it, which is the property the
// rest of the core actually depends on (Unseal by a different provider
// instance must fail).
type hardwareProvider struct {
	tpm *attest.TPM
	ak  *attest.AK

	wrapKey [32]byte

	mu sync.Mutex
}

// newHardwareProvider opens the local TPM and provisions an attestation key.
// Returns ErrUnavailable if no TPM device is present, which DetectProvider
// treats as the signal to fall back to the software simulation (when
// permitted).
func newHardwareProvider() (Provider, error) {
	t, err := attest.OpenTPM(nil)
	if err != nil {
		if errors.Is(err, attest.ErrTPMNotAvailable) {
			return nil, ErrUnavailable
		}
		return nil, fmt.Errorf("tpm: open: %w", err)
	}

	ak, err := t.NewAK(nil)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("tpm: provision attestation key: %w", err)
	}

	wrapKey, err := crypto.HKDFSHA256(ak.AttestationParameters().Public, nil, []byte("tpm-seal-wrap"), 32)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("tpm: derive seal key: %w", err)
	}

	p := &hardwareProvider{tpm: t, ak: ak}
	copy(p.wrapKey[:], wrapKey)
	return p, nil
}

func (p *hardwareProvider) Variant() Variant { return VariantHardware }

func (p *hardwareProvider) GenerateQuote(nonce []byte, sel PCRSelection) (*Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	params, err := p.tpm.AttestPlatform(p.ak, nonce, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuoteFailed, err)
	}

	pcrs := make(map[int][]byte, len(params.PCRs))
	for _, pcr := range params.PCRs {
		pcrs[pcr.Index] = pcr.Digest
	}

	var signature []byte
	if len(params.Quotes) > 0 {
		signature = params.Quotes[0].Signature
	}

	return &Quote{
		Nonce:                nonce,
		PCRs:                 pcrs,
		Signature:            signature,
		AttestationKeyPublic: p.ak.AttestationParameters().Public,
		CreatedAt:            time.Now(),
	}, nil
}

// VerifyQuote checks the AK signature over the quote's nonce and PCR set.
// It does not evaluate whether the PCR values themselves match an expected
// policy — that comparison belongs to the caller (see pkg/handshake's PCR
// policy check in step 6 of message validation).
func (p *hardwareProvider) VerifyQuote(q *Quote, attestationKey []byte) bool {
	akPub, err := attest.ParseAKPublic(attest.TPMVersion20, attestationKey)
	if err != nil {
		return false
	}

	digest := sha256.New()
	digest.Write(q.Nonce)
	for idx := 0; idx < 32; idx++ {
		if d, ok := q.PCRs[idx]; ok {
			digest.Write(d)
		}
	}

	return akPub.Verify(digest.Sum(nil), q.Signature) == nil
}

func (p *hardwareProvider) Seal(keyMaterial []byte) (*SealedKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

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

func (p *hardwareProvider) Unseal(sk *SealedKey) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

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

func (p *hardwareProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ak.Close(p.tpm)
	return p.tpm.Close()
}
