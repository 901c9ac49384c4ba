// Package ids generates the short random hex identifiers used for
// conversations and messages (component C2).
package ids

import (
	"crypto/rand"
	"encoding/hex"
)

// DefaultHexBytes is the byte length used for conversation and message
// identifiers, producing a 20-character hex string.
const DefaultHexBytes = 10

// GenerateHex returns a lowercase hex string of length nBytes*2 drawn
// from a cryptographically secure random source.
func GenerateHex(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// MustGenerateHex panics on entropy source failure, which never happens
// on supported platforms; used where a caller has no error path (e.g.
// repository inserts filling in a missing id).
func MustGenerateHex(nBytes int) string {
	s, err := GenerateHex(nBytes)
	if err != nil {
		panic(err)
	}
	return s
}
