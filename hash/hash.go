// Package hash computes content hashes of method bodies.
package hash

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/chazu/ilopt/il"
)

// Method computes the SHA-256 content hash of a method body.
//
// The hash covers the signature, the local types, the operations with
// their operands and the exception regions. Locals are referenced by slot,
// so two bodies that differ only in local names or debug locations hash
// the same.
func Method(m *il.MethodBody) [32]byte {
	return sha256.Sum256(Serialize(m))
}

// Hex returns Method(m) as a lowercase hex string.
func Hex(m *il.MethodBody) string {
	h := Method(m)
	return hex.EncodeToString(h[:])
}
