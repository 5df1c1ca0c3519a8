package wire

import (
	"time"

	"github.com/meshguard/attestmesh/pkg/identity"
	"github.com/meshguard/attestmesh/pkg/tlv"
	"github.com/meshguard/attestmesh/pkg/tpm"
	"github.com/meshguard/attestmesh/pkg/trustchain"
)

// Field tags for the shared sub-structures. Each structure's tag space is
// independent since tags are only ever compared within the structure
// currently being read.
const (
	tagCertSerial = iota
	tagCertSubject
	tagCertIssuer
	tagCertPublicKey
	tagCertNotBefore
	tagCertNotAfter
	tagCertSignature
	tagCertExtensions
)

const (
	tagExtKey = iota
	tagExtValue
)

const (
	tagIdentityNodeID = iota
	tagIdentityPublicKey
	tagIdentityMetadata
)

const (
	tagMetaKey = iota
	tagMetaValue
)

const (
	tagQuoteNonce = iota
	tagQuotePCRs
	tagQuoteSignature
	tagQuoteAttestationKeyPublic
	tagQuoteCreatedAt
)

const (
	tagPCRIndex = iota
	tagPCRDigest
)

func writeCertificate(w *tlv.Writer, tag tlv.Tag, c *trustchain.Certificate) error {
	if err := w.StartStructure(tag); err != nil {
		return err
	}
	if err := w.PutBytes(tlv.ContextTag(tagCertSerial), c.Serial); err != nil {
		return err
	}
	if err := w.PutString(tlv.ContextTag(tagCertSubject), c.Subject); err != nil {
		return err
	}
	if err := w.PutString(tlv.ContextTag(tagCertIssuer), c.Issuer); err != nil {
		return err
	}
	if err := w.PutBytes(tlv.ContextTag(tagCertPublicKey), c.PublicKey); err != nil {
		return err
	}
	if err := w.PutInt(tlv.ContextTag(tagCertNotBefore), c.NotBefore.UTC().UnixNano()); err != nil {
		return err
	}
	if err := w.PutInt(tlv.ContextTag(tagCertNotAfter), c.NotAfter.UTC().UnixNano()); err != nil {
		return err
	}
	if err := w.PutBytes(tlv.ContextTag(tagCertSignature), c.Signature); err != nil {
		return err
	}
	if err := writeStringMap(w, tlv.ContextTag(tagCertExtensions), c.Extensions); err != nil {
		return err
	}
	return w.EndContainer()
}

func readCertificate(r *tlv.Reader) (*trustchain.Certificate, error) {
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}
	c := &trustchain.Certificate{}
	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.Type() == tlv.ElementTypeEnd {
			break
		}
		switch r.Tag().TagNumber() {
		case tagCertSerial:
			v, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			c.Serial = v
		case tagCertSubject:
			v, err := r.String()
			if err != nil {
				return nil, err
			}
			c.Subject = v
		case tagCertIssuer:
			v, err := r.String()
			if err != nil {
				return nil, err
			}
			c.Issuer = v
		case tagCertPublicKey:
			v, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			c.PublicKey = v
		case tagCertNotBefore:
			v, err := r.Int()
			if err != nil {
				return nil, err
			}
			c.NotBefore = time.Unix(0, v).UTC()
		case tagCertNotAfter:
			v, err := r.Int()
			if err != nil {
				return nil, err
			}
			c.NotAfter = time.Unix(0, v).UTC()
		case tagCertSignature:
			v, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			c.Signature = v
		case tagCertExtensions:
			m, err := readStringMap(r)
			if err != nil {
				return nil, err
			}
			c.Extensions = m
		default:
			if err := r.Skip(); err != nil {
				return nil, err
			}
		}
	}
	if err := r.ExitContainer(); err != nil {
		return nil, err
	}
	return c, nil
}

func writeCertChain(w *tlv.Writer, tag tlv.Tag, chain []*trustchain.Certificate) error {
	if err := w.StartArray(tag); err != nil {
		return err
	}
	for _, c := range chain {
		if err := writeCertificate(w, tlv.Anonymous(), c); err != nil {
			return err
		}
	}
	return w.EndContainer()
}

func readCertChain(r *tlv.Reader) ([]*trustchain.Certificate, error) {
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}
	var chain []*trustchain.Certificate
	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.Type() == tlv.ElementTypeEnd {
			break
		}
		c, err := readCertificate(r)
		if err != nil {
			return nil, err
		}
		chain = append(chain, c)
	}
	if err := r.ExitContainer(); err != nil {
		return nil, err
	}
	return chain, nil
}

func writeStringMap(w *tlv.Writer, tag tlv.Tag, m map[string]string) error {
	if err := w.StartArray(tag); err != nil {
		return err
	}
	for k, v := range m {
		if err := w.StartStructure(tlv.Anonymous()); err != nil {
			return err
		}
		if err := w.PutString(tlv.ContextTag(tagMetaKey), k); err != nil {
			return err
		}
		if err := w.PutString(tlv.ContextTag(tagMetaValue), v); err != nil {
			return err
		}
		if err := w.EndContainer(); err != nil {
			return err
		}
	}
	return w.EndContainer()
}

func readStringMap(r *tlv.Reader) (map[string]string, error) {
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.Type() == tlv.ElementTypeEnd {
			break
		}
		if err := r.EnterContainer(); err != nil {
			return nil, err
		}
		var k, v string
		for {
			if err := r.Next(); err != nil {
				return nil, err
			}
			if r.Type() == tlv.ElementTypeEnd {
				break
			}
			switch r.Tag().TagNumber() {
			case tagMetaKey:
				s, err := r.String()
				if err != nil {
					return nil, err
				}
				k = s
			case tagMetaValue:
				s, err := r.String()
				if err != nil {
					return nil, err
				}
				v = s
			default:
				if err := r.Skip(); err != nil {
					return nil, err
				}
			}
		}
		if err := r.ExitContainer(); err != nil {
			return nil, err
		}
		m[k] = v
	}
	if err := r.ExitContainer(); err != nil {
		return nil, err
	}
	return m, nil
}

func writeIdentitySummary(w *tlv.Writer, tag tlv.Tag, nodeID identity.NodeID, publicKey []byte, metadata map[string]string) error {
	if err := w.StartStructure(tag); err != nil {
		return err
	}
	if err := w.PutBytes(tlv.ContextTag(tagIdentityNodeID), nodeID[:]); err != nil {
		return err
	}
	if err := w.PutBytes(tlv.ContextTag(tagIdentityPublicKey), publicKey); err != nil {
		return err
	}
	if err := writeStringMap(w, tlv.ContextTag(tagIdentityMetadata), metadata); err != nil {
		return err
	}
	return w.EndContainer()
}

// DecodedIdentitySummary is the wire-decoded form of an identity summary.
type DecodedIdentitySummary struct {
	NodeID    identity.NodeID
	PublicKey []byte
	Metadata  map[string]string
}

func readIdentitySummary(r *tlv.Reader) (DecodedIdentitySummary, error) {
	var out DecodedIdentitySummary
	if err := r.EnterContainer(); err != nil {
		return out, err
	}
	for {
		if err := r.Next(); err != nil {
			return out, err
		}
		if r.Type() == tlv.ElementTypeEnd {
			break
		}
		switch r.Tag().TagNumber() {
		case tagIdentityNodeID:
			v, err := r.Bytes()
			if err != nil {
				return out, err
			}
			if len(v) != identity.NodeIDSize {
				return out, ErrFieldLength
			}
			copy(out.NodeID[:], v)
		case tagIdentityPublicKey:
			v, err := r.Bytes()
			if err != nil {
				return out, err
			}
			out.PublicKey = v
		case tagIdentityMetadata:
			m, err := readStringMap(r)
			if err != nil {
				return out, err
			}
			out.Metadata = m
		default:
			if err := r.Skip(); err != nil {
				return out, err
			}
		}
	}
	if err := r.ExitContainer(); err != nil {
		return out, err
	}
	return out, nil
}

func writeQuote(w *tlv.Writer, tag tlv.Tag, q *tpm.Quote) error {
	if q == nil {
		return nil
	}
	if err := w.StartStructure(tag); err != nil {
		return err
	}
	if err := w.PutBytes(tlv.ContextTag(tagQuoteNonce), q.Nonce); err != nil {
		return err
	}
	if err := w.StartArray(tlv.ContextTag(tagQuotePCRs)); err != nil {
		return err
	}
	for idx, digest := range q.PCRs {
		if err := w.StartStructure(tlv.Anonymous()); err != nil {
			return err
		}
		if err := w.PutInt(tlv.ContextTag(tagPCRIndex), int64(idx)); err != nil {
			return err
		}
		if err := w.PutBytes(tlv.ContextTag(tagPCRDigest), digest); err != nil {
			return err
		}
		if err := w.EndContainer(); err != nil {
			return err
		}
	}
	if err := w.EndContainer(); err != nil {
		return err
	}
	if err := w.PutBytes(tlv.ContextTag(tagQuoteSignature), q.Signature); err != nil {
		return err
	}
	if err := w.PutBytes(tlv.ContextTag(tagQuoteAttestationKeyPublic), q.AttestationKeyPublic); err != nil {
		return err
	}
	if err := w.PutInt(tlv.ContextTag(tagQuoteCreatedAt), q.CreatedAt.UTC().UnixNano()); err != nil {
		return err
	}
	return w.EndContainer()
}

func readQuote(r *tlv.Reader) (*tpm.Quote, error) {
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}
	q := &tpm.Quote{PCRs: make(map[int][]byte)}
	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.Type() == tlv.ElementTypeEnd {
			break
		}
		switch r.Tag().TagNumber() {
		case tagQuoteNonce:
			v, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			q.Nonce = v
		case tagQuotePCRs:
			if err := r.EnterContainer(); err != nil {
				return nil, err
			}
			for {
				if err := r.Next(); err != nil {
					return nil, err
				}
				if r.Type() == tlv.ElementTypeEnd {
					break
				}
				if err := r.EnterContainer(); err != nil {
					return nil, err
				}
				var idx int64
				var digest []byte
				for {
					if err := r.Next(); err != nil {
						return nil, err
					}
					if r.Type() == tlv.ElementTypeEnd {
						break
					}
					switch r.Tag().TagNumber() {
					case tagPCRIndex:
						n, err := r.Int()
						if err != nil {
							return nil, err
						}
						idx = n
					case tagPCRDigest:
						d, err := r.Bytes()
						if err != nil {
							return nil, err
						}
						digest = d
					default:
						if err := r.Skip(); err != nil {
							return nil, err
						}
					}
				}
				if err := r.ExitContainer(); err != nil {
					return nil, err
				}
				q.PCRs[int(idx)] = digest
			}
			if err := r.ExitContainer(); err != nil {
				return nil, err
			}
		case tagQuoteSignature:
			v, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			q.Signature = v
		case tagQuoteAttestationKeyPublic:
			v, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			q.AttestationKeyPublic = v
		case tagQuoteCreatedAt:
			v, err := r.Int()
			if err != nil {
				return nil, err
			}
			q.CreatedAt = time.Unix(0, v).UTC()
		default:
			if err := r.Skip(); err != nil {
				return nil, err
			}
		}
	}
	if err := r.ExitContainer(); err != nil {
		return nil, err
	}
	return q, nil
}
