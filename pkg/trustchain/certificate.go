// Package trustchain implements the Certificate Chain Validator: leaf-to-root
// signature verification against a configured trust-anchor set, with
// validity-window checks at every link.
package trustchain

import (
	"encoding/binary"
	"time"

	"github.com/meshguard/attestmesh/pkg/crypto"
)

// Certificate is the core's certificate shape. Chains are ordered
// leaf-to-root: index 0 is the leaf, the last element is the root.
type Certificate struct {
	Serial     []byte
	Subject    string
	Issuer     string
	PublicKey  []byte // 32-byte Ed25519 public key
	NotBefore  time.Time
	NotAfter   time.Time
	Signature  []byte // 64-byte Ed25519 signature over TBS(cert)
	Extensions map[string]string
}

// validAt reports whether now falls within the certificate's validity
// window.
func (c *Certificate) validAt(now time.Time) bool {
	return !now.Before(c.NotBefore) && !now.After(c.NotAfter)
}

// TBSBytes returns the deterministic to-be-signed encoding of the
// certificate: every field except Signature, in a fixed field order and
// length-prefixed so field boundaries are unambiguous. NotBefore and
// NotAfter are encoded as whole Unix seconds, so sub-second differences do
// not change the encoding. An issuer signs this value to produce Signature.
func (c *Certificate) TBSBytes() []byte {
	var buf []byte
	buf = appendLP(buf, c.Serial)
	buf = appendLP(buf, []byte(c.Subject))
	buf = appendLP(buf, []byte(c.Issuer))
	buf = appendLP(buf, c.PublicKey)

	var tbuf [8]byte
	binary.BigEndian.PutUint64(tbuf[:], uint64(c.NotBefore.UTC().Unix()))
	buf = append(buf, tbuf[:]...)
	binary.BigEndian.PutUint64(tbuf[:], uint64(c.NotAfter.UTC().Unix()))
	buf = append(buf, tbuf[:]...)

	keys := sortedKeys(c.Extensions)
	var kbuf [4]byte
	binary.BigEndian.PutUint32(kbuf[:], uint32(len(keys)))
	buf = append(buf, kbuf[:]...)
	for _, k := range keys {
		buf = appendLP(buf, []byte(k))
		buf = appendLP(buf, []byte(c.Extensions[k]))
	}
	return buf
}

// Fingerprint returns the BLAKE3 hash of the certificate's TBS encoding,
// usable as a stable identifier for trust-anchor comparison.
func (c *Certificate) Fingerprint() [crypto.HashSize]byte {
	return crypto.Hash(c.TBSBytes())
}

func appendLP(buf, field []byte) []byte {
	var lbuf [4]byte
	binary.BigEndian.PutUint32(lbuf[:], uint32(len(field)))
	buf = append(buf, lbuf[:]...)
	return append(buf, field...)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
