package dkim

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// verifyFunc checks a signature against this key's public half.
type verifyFunc func(h crypto.Hash, hashed, signature []byte) error

// KeyRecord is a parsed DKIM key record, as published in a
// selector._domainkey.domain TXT record.
// https://datatracker.ietf.org/doc/html/rfc6376#section-3.6.1
type KeyRecord struct {
	// V is the v= tag. Empty means absent; when present it must equal
	// "DKIM1".
	V string

	// H is the permitted hash algorithm list from h=. Empty means "any".
	H []crypto.Hash

	// K is the key type from k=, defaulting to rsa.
	K keyType

	// S is the permitted service type list from s=, defaulting to ["*"].
	S []string

	// T holds the t= flags, notably "s" (strict subdomain check against
	// i=, see StrictDomainCheck).
	T []string

	// P is the raw, base64-decoded public key material. Empty means the
	// key has been revoked.
	P []byte

	// FormatErr is set when P could not be parsed into a usable key (bad
	// encoding, wrong ASN.1 shape, undersized RSA modulus). A revoked key
	// (empty P) is NOT a FormatErr: it parses fine and fails at the
	// verify step instead, per RFC 6376 Section 3.6.1.
	FormatErr error

	verify verifyFunc
}

func (pk *KeyRecord) String() string {
	return fmt.Sprintf("[%s:%.8x]", pk.K, pk.P)
}

// Matches reports whether this key is eligible to verify a signature of
// the given key type and hash, per the key record's k= and h= tags.
func (pk *KeyRecord) Matches(kt keyType, h crypto.Hash) bool {
	if pk.K != kt {
		return false
	}
	if len(pk.H) > 0 {
		return slices.Contains(pk.H, h)
	}
	return true
}

// ServiceTypeOK reports whether this key may be used for email, per its
// s= tag (default "*", meaning any service).
func (pk *KeyRecord) ServiceTypeOK() bool {
	if len(pk.S) == 0 {
		return true
	}
	return slices.Contains(pk.S, "*") || slices.Contains(pk.S, "email")
}

// StrictDomainCheck reports whether t=s is set, requiring the AUID (i=)
// domain to equal (not just be a subdomain of) d=.
func (pk *KeyRecord) StrictDomainCheck() bool {
	return slices.Contains(pk.T, "s")
}

var (
	errInvalidRSAPublicKey = errors.New("invalid RSA public key")
	errNotRSAPublicKey     = errors.New("not an RSA public key")
	errRSAKeyTooSmall      = errors.New("RSA public key too small")
	errInvalidEd25519Key   = errors.New("invalid Ed25519 public key")
)

// parseKeyRecord parses one TXT record's contents (already concatenated,
// if it came as multiple strings) into a KeyRecord.
// https://datatracker.ietf.org/doc/html/rfc6376#section-3.6.1
func parseKeyRecord(v string) *KeyRecord {
	t := parseTags(v)

	pk := &KeyRecord{
		V: t["v"],
		// The default key type is rsa.
		K: keyTypeRSA,
		S: []string{"*"},
	}

	if t["h"] != "" {
		for _, h := range strings.Split(eatWhitespace.Replace(t["h"]), ":") {
			x, err := hashFromString(h)
			if err != nil {
				// Unrecognized algorithms must be ignored.
				// https://datatracker.ietf.org/doc/html/rfc6376#section-3.6.1
				continue
			}
			pk.H = append(pk.H, x)
		}
	}

	if t["k"] != "" {
		kt, err := keyTypeFromString(t["k"])
		if err != nil {
			pk.FormatErr = fmt.Errorf("k=: %w", err)
			return pk
		}
		pk.K = kt
	}

	if t["s"] != "" {
		pk.S = strings.Split(eatWhitespace.Replace(t["s"]), ":")
	}

	if flags := eatWhitespace.Replace(t["t"]); flags != "" {
		pk.T = strings.Split(flags, ":")
	}

	p, err := base64.StdEncoding.DecodeString(eatWhitespace.Replace(t["p"]))
	if err != nil {
		pk.FormatErr = fmt.Errorf("error decoding p=: %w", err)
		return pk
	}
	pk.P = p

	if len(p) == 0 {
		// Revoked key: parses fine, never verifies.
		return pk
	}

	switch pk.K {
	case keyTypeRSA:
		pk.verify, pk.FormatErr = parseRSAPublicKey(p)
	case keyTypeEd25519:
		pk.verify, pk.FormatErr = parseEd25519PublicKey(p)
	}

	return pk
}

func parseRSAPublicKey(p []byte) (verifyFunc, error) {
	// Either PKCS#1 or SubjectPublicKeyInfo.
	// See https://www.rfc-editor.org/errata/eid3017.
	pub, err := x509.ParsePKIXPublicKey(p)
	if err != nil {
		pub, err = x509.ParsePKCS1PublicKey(p)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidRSAPublicKey, err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errNotRSAPublicKey
	}

	// Enforce 1024-bit minimum.
	// https://datatracker.ietf.org/doc/html/rfc8301#section-3.2
	if rsaPub.Size()*8 < 1024 {
		return nil, errRSAKeyTooSmall
	}

	return func(h crypto.Hash, hashed, signature []byte) error {
		return rsa.VerifyPKCS1v15(rsaPub, h, hashed, signature)
	}, nil
}

func parseEd25519PublicKey(p []byte) (verifyFunc, error) {
	// https://datatracker.ietf.org/doc/html/rfc8463
	if len(p) != ed25519.PublicKeySize {
		return nil, errInvalidEd25519Key
	}

	pub := ed25519.PublicKey(p)
	return func(h crypto.Hash, hashed, signature []byte) error {
		if ed25519.Verify(pub, hashed, signature) {
			return nil
		}
		return errors.New("signature verification failed")
	}, nil
}
