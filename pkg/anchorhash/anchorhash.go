// Package anchorhash computes the digest that links an off-chain certificate
// record to its ledger anchor. It is the only linkage between the two stores.
package anchorhash

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Size is the length of a hex-encoded digest.
const Size = sha256.Size * 2

// Compute returns the hex SHA-256 of the canonical encoding of
// (identifier, publicKey). Each field is length-prefixed so that no choice of
// separator inside either value can make two distinct pairs encode identically.
func Compute(identifier, publicKey string) string {
	h := sha256.New()
	writeField(h, identifier)
	writeField(h, publicKey)
	return hex.EncodeToString(h.Sum(nil))
}

type byteWriter interface {
	Write(p []byte) (int, error)
}

func writeField(w byteWriter, v string) {
	_, _ = w.Write([]byte(strconv.Itoa(len(v))))
	_, _ = w.Write([]byte{':'})
	_, _ = w.Write([]byte(v))
	_, _ = w.Write([]byte{';'})
}

// Valid reports whether s looks like a digest produced by Compute.
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
