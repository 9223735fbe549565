package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// OwnerKey returns a path-safe, non-reversible directory name for an owner ID.
func OwnerKey(ownerID string) string {
	sum := sha256.Sum256([]byte(ownerID))
	return hex.EncodeToString(sum[:])
}
