// Package storagewrap implements the stackable storage.Backend decorators
// from spec.md §4.3: gzip compression, AES-256-GCM encryption, and
// 1-primary/N-replica fan-out. Composition order is fixed by the caller:
// raw backend -> compression? -> encryption?, compression and encryption
// are mutually exclusive.
package storagewrap

import (
	"encoding/hex"
	"fmt"

	"github.com/objectfs/shadowfs/pkg/errors"
)

const (
	saltHexLen  = 64 // 32-byte salt
	nonceHexLen = 24 // 12-byte nonce
	aadHexLen   = 10 // first 10 hex chars of plaintext sha512
	// FileKeyLen is the fixed serialized length: 64 + 1 + 24 + 1 + 10.
	FileKeyLen = saltHexLen + 1 + nonceHexLen + 1 + aadHexLen
)

// FileKey is the per-object encryption descriptor stored in
// File.encryption_key, per spec.md §4.3.
type FileKey struct {
	Salt  []byte // 32 bytes
	Nonce []byte // 12 bytes
	AAD   string // first 10 hex chars of plaintext sha512
}

// Serialize renders the FileKey as "hex(salt):hex(nonce):aad".
func (k FileKey) Serialize() string {
	return fmt.Sprintf("%s:%s:%s", hex.EncodeToString(k.Salt), hex.EncodeToString(k.Nonce), k.AAD)
}

// ParseFileKey validates and decodes a serialized FileKey.
func ParseFileKey(s string) (FileKey, error) {
	if len(s) != FileKeyLen {
		return FileKey{}, errors.New(errors.ErrCodeIntegrity, "invalid FileKey length").
			WithComponent("storagewrap").WithOperation("parse_file_key").
			WithContext("len", fmt.Sprintf("%d", len(s)))
	}
	saltHex := s[:saltHexLen]
	rest := s[saltHexLen:]
	if len(rest) == 0 || rest[0] != ':' {
		return FileKey{}, malformedFileKey(s)
	}
	rest = rest[1:]
	if len(rest) < nonceHexLen+1+aadHexLen {
		return FileKey{}, malformedFileKey(s)
	}
	nonceHex := rest[:nonceHexLen]
	rest = rest[nonceHexLen:]
	if len(rest) == 0 || rest[0] != ':' {
		return FileKey{}, malformedFileKey(s)
	}
	aad := rest[1:]
	if len(aad) != aadHexLen {
		return FileKey{}, malformedFileKey(s)
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return FileKey{}, malformedFileKey(s)
	}
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return FileKey{}, malformedFileKey(s)
	}
	return FileKey{Salt: salt, Nonce: nonce, AAD: aad}, nil
}

func malformedFileKey(s string) error {
	return errors.New(errors.ErrCodeIntegrity, "malformed FileKey").
		WithComponent("storagewrap").WithOperation("parse_file_key")
}
