package validation

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"
)

// conditionLength is the decoded size of both condition and fulfilment.
const conditionLength = 32

// decodeBase64URL decodes a base64url value with or without padding.
func decodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// VerifyFulfilment reports whether SHA-256 of the decoded fulfilment equals
// the decoded condition. The comparison is constant time. Any decode error
// or length mismatch yields false; the function never fails.
func VerifyFulfilment(fulfilment, condition string) bool {
	preimage, err := decodeBase64URL(fulfilment)
	if err != nil || len(preimage) != conditionLength {
		return false
	}
	want, err := decodeBase64URL(condition)
	if err != nil || len(want) != conditionLength {
		return false
	}
	digest := sha256.Sum256(preimage)
	return subtle.ConstantTimeCompare(digest[:], want) == 1
}
