package server

import (
	"crypto/rand"
	"encoding/hex"
)

const (
	// FileIDLength is the id length for file records.
	FileIDLength = 16
	// SettingsIDLength is the id length for settings rows.
	SettingsIDLength = 8
)

// GenerateID returns a random lowercase hex token of the given length.
// Ids are statistically unique; no coordination with the backing stores is
// needed. A non-positive length falls back to FileIDLength.
func GenerateID(length int) string {
	if length <= 0 {
		length = FileIDLength
	}
	buf := make([]byte, (length+1)/2)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(buf)[:length]
}
