package wal

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// sign computes the hex-encoded SHA-256 digest of entry's JSON
// serialization with the checksum field blanked first. It is pure and
// deterministic: two entries with identical field values (except
// checksum) always produce identical digests.
func sign(e *WALEntry) (string, error) {
	clone := *e
	clone.Checksum = ""
	data, err := json.Marshal(&clone)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// verify recomputes the digest of e and compares it against the stored
// checksum. An entry whose checksum was never set (e.g. freshly built,
// not yet persisted) is treated as unverifiable-but-not-corrupt.
func verify(e *WALEntry) bool {
	if e.Checksum == "" {
		return true
	}
	want, err := sign(e)
	if err != nil {
		return false
	}
	return want == e.Checksum
}
