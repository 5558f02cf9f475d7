package dkim

import "crypto"

// hashWith applies hash to data and returns the digest.
func hashWith(h crypto.Hash, data []byte) []byte {
	d := h.New()
	d.Write(data)
	return d.Sum(nil)
}

// truncatedBody applies the l= length limit to a canonicalized body.
// https://datatracker.ietf.org/doc/html/rfc6376#section-3.4.5
//
// ok is false when l= names more octets than the canonical body actually
// has: the teacher's original code sliced bodyC[:sig.l] unconditionally,
// which panics on a hostile message; here the caller turns a false ok
// into a PERMFAIL/BODY_LENGTH_MISMATCH verdict instead.
func truncatedBody(sig *SignatureTags, canonicalBody string) (body string, ok bool) {
	if !sig.lPresent {
		return canonicalBody, true
	}
	if sig.l > uint64(len(canonicalBody)) {
		return "", false
	}
	return canonicalBody[:sig.l], true
}
