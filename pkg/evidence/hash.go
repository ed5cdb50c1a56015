package evidence

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashContent computes the SHA-256 hash of the content and returns it as a
// hex-encoded string.
//
// Returns an empty string if content is empty.
func HashContent(content []byte) string {
	if len(content) == 0 {
		return ""
	}

	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}
