package identity

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// fileRecord is the on-disk encoding of a Record. NodeID and PublicKey are
// hex strings so the file is inspectable without tooling.
type fileRecord struct {
	NodeID       string            `json:"node_id"`
	PublicKey    string            `json:"public_key"`
	Attestation  fileAttestation   `json:"attestation"`
	CreatedAt    time.Time         `json:"created_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Revocation   string            `json:"revocation"`
	RevokedAt    time.Time         `json:"revoked_at,omitempty"`
	RevokeReason string            `json:"revoke_reason,omitempty"`
}

type fileAttestation struct {
	Kind               string `json:"kind"`
	Quote              string `json:"quote,omitempty"`
	PCRs               string `json:"pcrs,omitempty"`
	AttestationKeyCert string `json:"attestation_key_cert,omitempty"`
	Certificate        string `json:"certificate,omitempty"`
}

// FileStorage is a JSON-file-backed Storage, so an enrollment made by one
// process (a running node, or the register command of an operator CLI) is
// visible to another process opening the same path. Every mutation
// rewrites the whole file via a temp-file-then-rename, so a reader never
// observes a partially written file.
type FileStorage struct {
	mu   sync.Mutex
	path string
}

// NewFileStorage opens (or creates) a JSON registry file at path.
func NewFileStorage(path string) (*FileStorage, error) {
	fs := &FileStorage{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := fs.writeAll(map[NodeID]*Record{}); err != nil {
			return nil, err
		}
	}
	return fs, nil
}

func (fs *FileStorage) readAll() (map[NodeID]*Record, error) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		return nil, fmt.Errorf("identity: reading %s: %w", fs.path, err)
	}
	var raw []fileRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("identity: parsing %s: %w", fs.path, err)
	}
	out := make(map[NodeID]*Record, len(raw))
	for _, fr := range raw {
		rec, err := fr.toRecord()
		if err != nil {
			return nil, err
		}
		out[rec.NodeID] = rec
	}
	return out, nil
}

func (fs *FileStorage) writeAll(records map[NodeID]*Record) error {
	raw := make([]fileRecord, 0, len(records))
	for _, rec := range records {
		raw = append(raw, toFileRecord(rec))
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("identity: encoding registry: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fs.path), ".registry-*.tmp")
	if err != nil {
		return fmt.Errorf("identity: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("identity: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("identity: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, fs.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("identity: replacing %s: %w", fs.path, err)
	}
	return nil
}

func (fs *FileStorage) Put(rec *Record) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	records, err := fs.readAll()
	if err != nil {
		return err
	}
	records[rec.NodeID] = rec.Clone()
	return fs.writeAll(records)
}

func (fs *FileStorage) Get(id NodeID) (*Record, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	records, err := fs.readAll()
	if err != nil {
		return nil, false, err
	}
	rec, ok := records[id]
	if !ok {
		return nil, false, nil
	}
	return rec.Clone(), true, nil
}

func (fs *FileStorage) Iterate(fn func(*Record) bool) error {
	fs.mu.Lock()
	records, err := fs.readAll()
	fs.mu.Unlock()
	if err != nil {
		return err
	}
	for _, rec := range records {
		if !fn(rec.Clone()) {
			break
		}
	}
	return nil
}

func (fs *FileStorage) MarkRevoked(id NodeID, reason string, at time.Time) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	records, err := fs.readAll()
	if err != nil {
		return err
	}
	rec, ok := records[id]
	if !ok {
		return ErrNotFound
	}
	rec.Revocation = StateRevoked
	rec.RevokeReason = reason
	rec.RevokedAt = at
	return fs.writeAll(records)
}

func toFileRecord(rec *Record) fileRecord {
	return fileRecord{
		NodeID:    fmt.Sprintf("%x", rec.NodeID[:]),
		PublicKey: fmt.Sprintf("%x", rec.PublicKey),
		Attestation: fileAttestation{
			Kind:               rec.Attestation.Kind.String(),
			Quote:              fmt.Sprintf("%x", rec.Attestation.Quote),
			PCRs:               fmt.Sprintf("%x", rec.Attestation.PCRs),
			AttestationKeyCert: fmt.Sprintf("%x", rec.Attestation.AttestationKeyCert),
			Certificate:        fmt.Sprintf("%x", rec.Attestation.Certificate),
		},
		CreatedAt:    rec.CreatedAt,
		Metadata:     rec.Metadata,
		Revocation:   rec.Revocation.String(),
		RevokedAt:    rec.RevokedAt,
		RevokeReason: rec.RevokeReason,
	}
}

func (fr fileRecord) toRecord() (*Record, error) {
	idBytes, err := hex.DecodeString(fr.NodeID)
	if err != nil || len(idBytes) != NodeIDSize {
		return nil, fmt.Errorf("identity: parsing node_id %q: invalid hex or length", fr.NodeID)
	}
	var nodeID NodeID
	copy(nodeID[:], idBytes)

	pub, err := hex.DecodeString(fr.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("identity: parsing public_key: %w", err)
	}
	quote, _ := hex.DecodeString(fr.Attestation.Quote)
	pcrs, _ := hex.DecodeString(fr.Attestation.PCRs)
	akCert, _ := hex.DecodeString(fr.Attestation.AttestationKeyCert)
	cert, _ := hex.DecodeString(fr.Attestation.Certificate)

	rec := &Record{
		NodeID:    nodeID,
		PublicKey: pub,
		Attestation: Attestation{
			Kind:               parseAttestationKind(fr.Attestation.Kind),
			Quote:              quote,
			PCRs:               pcrs,
			AttestationKeyCert: akCert,
			Certificate:        cert,
		},
		CreatedAt:    fr.CreatedAt,
		Metadata:     fr.Metadata,
		Revocation:   parseRevocationState(fr.Revocation),
		RevokedAt:    fr.RevokedAt,
		RevokeReason: fr.RevokeReason,
	}
	return rec, nil
}

func parseAttestationKind(s string) AttestationKind {
	switch s {
	case "tpm":
		return AttestationTpm
	case "software":
		return AttestationSoftware
	default:
		return AttestationNone
	}
}

func parseRevocationState(s string) RevocationState {
	if s == "revoked" {
		return StateRevoked
	}
	return StateActive
}
