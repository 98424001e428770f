// Package objinfo defines the identity of a stored content blob.
//
// An ObjInfo is derived from a metadata.File at a particular logical path;
// it is the value that backends and storage wrappers exchange instead of
// a bare key, so that a wrapper can rewrite how and where the blob is
// physically stored without the backend needing to know why.
package objinfo

import "time"

// DedupPolicy names how a backend tests whether a blob is still
// referenced before deleting it.
type DedupPolicy int

const (
	// DedupPath means two files with the same logical path share identity.
	DedupPath DedupPolicy = iota
	// DedupSHA512 means two files with the same content hash share identity.
	DedupSHA512
)

func (p DedupPolicy) String() string {
	switch p {
	case DedupPath:
		return "PATH"
	case DedupSHA512:
		return "SHA512"
	default:
		return "UNKNOWN"
	}
}

// Info is the identity of a content blob at the moment a backend or
// wrapper touches it. Backends may mutate Encryption, Compression, and
// FullPath in place during Put to report how the object was actually
// stored.
type Info struct {
	Name       string // base name of the file
	Path       string // logical path, leading slash, e.g. "/a/b.txt"
	SHA512     string // hex-encoded SHA-512 of plaintext content
	Size       int64
	Mode       uint32
	AccessedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// Encryption is the serialized FileKey descriptor, empty when the
	// object was not encrypted.
	Encryption string
	// Compression describes the compression applied, e.g. "gzip:6",
	// empty when the object is stored uncompressed.
	Compression string

	// FullPath is populated by a backend's Put to record the physical
	// location actually used (e.g. after hash-addressed key derivation).
	FullPath string

	// StorageKey, when non-empty, is the authoritative backend key for
	// this object and must be used verbatim by DerivedKey instead of
	// deriving one from Path or SHA512. A wrapper that rewrites an
	// object's on-disk identity (e.g. EncryptionWrapper hiding the
	// content digest behind a per-object nonce) sets this so the
	// backend underneath honors the rewrite rather than re-deriving the
	// original key.
	StorageKey string
}

// Clone returns a deep copy safe to mutate independently.
func (i *Info) Clone() *Info {
	c := *i
	return &c
}
