package tagger

import (
	"crypto/md5" //nolint:gosec // not a security boundary, just a stable short id
	"encoding/hex"
	"fmt"
	"regexp"
)

var hexSuffixPattern = regexp.MustCompile(`^[0-9a-f]{8}$`)

// GenerateStableID returns the id assigned to the element at (file, line,
// column), optionally namespaced by prefix. Identical inputs always produce
// the same id (spec §4.B, §8 property 3).
func GenerateStableID(file string, line, column int, prefix string) string {
	hash := stableHash(file, line, column)
	if prefix == "" {
		return hash
	}
	return prefix + "-" + hash
}

func stableHash(file string, line, column int) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d:%d", file, line, column))) //nolint:gosec
	return hex.EncodeToString(sum[:])[:8]
}

// ParsedID is the result of splitting a jsx id into its optional prefix and
// its 8-hex-char hash.
type ParsedID struct {
	Prefix string
	Hash   string
}

// ParseID splits id into an optional prefix and its trailing 8-hex-char
// hash. It returns ok=false if id is not a valid jsx id.
func ParseID(id string) (ParsedID, bool) {
	if !IsValidID(id) {
		return ParsedID{}, false
	}
	if len(id) == 8 {
		return ParsedID{Hash: id}, true
	}
	// id is "<prefix>-<8hex>"; the hash is always the trailing 8 chars, the
	// prefix is everything before the last '-'.
	prefix := id[:len(id)-9]
	return ParsedID{Prefix: prefix, Hash: id[len(id)-8:]}, true
}

// IsValidID reports whether id is an optional prefix followed by exactly an
// 8-hex-char hash (spec §8 property 4).
func IsValidID(id string) bool {
	if len(id) < 8 {
		return false
	}
	if len(id) == 8 {
		return hexSuffixPattern.MatchString(id)
	}
	if id[len(id)-9] != '-' {
		return false
	}
	return hexSuffixPattern.MatchString(id[len(id)-8:])
}
