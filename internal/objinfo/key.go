package objinfo

import "strings"

// HashPrefixLen is the number of hex characters of SHA-512 used as a
// hash-addressed storage key, per spec.md's object storage key
// conventions.
const HashPrefixLen = 32

// DerivedKey computes the backend-agnostic storage key for info, before
// any backend-specific prefix is applied. useHashAsFilename selects
// between content-addressed and path-addressed storage. A non-empty
// info.StorageKey overrides both and is returned verbatim, so a wrapper
// that has already rewritten the object's identity (see Info.StorageKey)
// is honored instead of silently bypassed.
func DerivedKey(info *Info, useHashAsFilename bool) string {
	if info.StorageKey != "" {
		return info.StorageKey
	}
	if useHashAsFilename {
		h := info.SHA512
		if len(h) > HashPrefixLen {
			h = h[:HashPrefixLen]
		}
		return h + ".dat"
	}
	return strings.TrimLeft(info.Path, "/")
}
