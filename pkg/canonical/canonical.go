// Package canonical produces deterministic JSON encodings and content hashes.
//
// Commitments are made over the RFC 8785 (JCS) canonical form of a value, so
// two parties serializing the same logical content always hash identically
// regardless of key order or whitespace.
package canonical

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/blake2b"
)

// Canonicalize returns the RFC 8785 canonical JSON encoding of v.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal for canonicalization: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize JSON: %w", err)
	}
	return canonical, nil
}

// HashContent canonicalizes v and returns the 0x-prefixed hex BLAKE2b-256
// digest of the canonical bytes. This is the commitment hash agents sign.
func HashContent(v interface{}) (string, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	digest := blake2b.Sum256(canonical)
	return "0x" + hex.EncodeToString(digest[:]), nil
}
