package dkim

import (
	"crypto"
	"encoding/base64"
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"

	"blitiri.com.ar/go/dkimverify/internal/envelope"
)

// SignatureTags holds the parsed contents of a single DKIM-Signature
// header. https://datatracker.ietf.org/doc/html/rfc6376#section-3.5
type SignatureTags struct {
	// Source is the raw header value, as it appeared in the message
	// (needed to reconstruct the canonical signed block with b= emptied).
	Source string

	v string

	a       string
	keyType keyType
	hash    crypto.Hash

	// b and bh, decoded from base64. Nil if the corresponding tag was
	// absent or failed to decode.
	b  []byte
	bh []byte

	cH canonicalization
	cB canonicalization

	d string

	h []string

	i string

	// l holds the l= tag; lPresent distinguishes "absent" from "l=0".
	l        uint64
	lPresent bool

	q []string

	s string

	t        time.Time
	tPresent bool

	x        time.Time
	xPresent bool

	z string

	// missing lists required tags (among v, a, b, bh, d, h, s) that were
	// absent from the header, in that fixed order.
	missing []string

	// aErr holds the reason a= could not be resolved into a usable
	// (keyType, hash) pair, if any.
	aErr error
}

var (
	errBadATag            = errors.New("invalid a= tag")
	errUnsupportedHash    = errors.New("unsupported hash")
	errUnsupportedKeyType = errors.New("unsupported key type")
	errNegativeTimestamp  = errors.New("negative timestamp")
)

// parseSignatureTags parses a raw DKIM-Signature header value. It never
// fails outright: required-tag and algorithm problems are recorded on the
// returned value for the orchestrator to turn into verdicts, following
// spec's "parsing does not fail fatally" rule.
func parseSignatureTags(raw string) *SignatureTags {
	t := parseTags(raw)

	sig := &SignatureTags{
		Source: raw,
		v:      t["v"],
		a:      t["a"],
	}

	for _, req := range []string{"v", "a", "b", "bh", "d", "h", "s"} {
		if _, ok := t[req]; !ok {
			sig.missing = append(sig.missing, req)
		}
	}

	if ktS, hS, found := strings.Cut(sig.a, "-"); found {
		kt, err := keyTypeFromString(ktS)
		if err != nil {
			sig.aErr = err
		} else if h, err := hashFromString(hS); err != nil {
			sig.aErr = err
		} else {
			sig.keyType = kt
			sig.hash = h
		}
	} else if sig.a != "" {
		sig.aErr = errBadATag
	}

	if b, err := base64.StdEncoding.DecodeString(eatWhitespace.Replace(t["b"])); err == nil {
		sig.b = b
	}
	if bh, err := base64.StdEncoding.DecodeString(eatWhitespace.Replace(t["bh"])); err == nil {
		sig.bh = bh
	}

	sig.cH, sig.cB = canonicalizationFromString(t["c"])

	sig.d = t["d"]

	if t["h"] != "" {
		sig.h = strings.Split(eatWhitespace.Replace(t["h"]), ":")
	}

	sig.i = t["i"]

	if t["l"] != "" {
		if l, err := strconv.ParseUint(t["l"], 10, 64); err == nil {
			sig.l = l
			sig.lPresent = true
		}
	}

	if t["q"] != "" {
		sig.q = strings.Split(eatWhitespace.Replace(t["q"]), ":")
	}

	sig.s = t["s"]

	if t["t"] != "" {
		if ti, err := unixStrToTime(t["t"]); err == nil {
			sig.t = ti
			sig.tPresent = true
		}
	}

	if t["x"] != "" {
		if xi, err := unixStrToTime(t["x"]); err == nil {
			sig.x = xi
			sig.xPresent = true
		}
	}

	sig.z = eatWhitespace.Replace(t["z"])

	return sig
}

// isMissing reports whether tag was absent from the header, so the
// orchestrator can skip checks that depend on a value it never got.
func (sig *SignatureTags) isMissing(tag string) bool {
	return slices.Contains(sig.missing, tag)
}

// hasFrom reports whether h= names the From header, case-insensitively.
func (sig *SignatureTags) hasFrom() bool {
	return slices.ContainsFunc(sig.h, func(s string) bool {
		return strings.EqualFold(s, "from")
	})
}

// identityMatchesDomain checks the i= / d= relationship of
// https://datatracker.ietf.org/doc/html/rfc6376#section-3.5: i='s domain
// must equal d=, or be a subdomain of it.
func (sig *SignatureTags) identityMatchesDomain() bool {
	if sig.i == "" {
		return true
	}
	domain := envelope.DomainOf(sig.i)
	return domain == sig.d || strings.HasSuffix(domain, "."+sig.d)
}

// queryMethodOK reports whether q= resolves to dns/txt, which is the only
// method this implementation supports. An absent q= defaults to dns/txt.
func (sig *SignatureTags) queryMethodOK() bool {
	return len(sig.q) == 0 || slices.Contains(sig.q, "dns/txt")
}

func unixStrToTime(s string) (time.Time, error) {
	// Technically the timestamp is an "unsigned decimal integer", but
	// since time.Unix takes an int64, we use that and check it's
	// positive.
	ti, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if ti < 0 {
		return time.Time{}, errNegativeTimestamp
	}
	return time.Unix(ti, 0), nil
}

type keyType string

const (
	keyTypeRSA     keyType = "rsa"
	keyTypeEd25519 keyType = "ed25519"
)

func keyTypeFromString(s string) (keyType, error) {
	switch s {
	case "rsa":
		return keyTypeRSA, nil
	case "ed25519":
		return keyTypeEd25519, nil
	default:
		return "", errUnsupportedKeyType
	}
}

// hashFromString resolves the hash half of an a= tag. SHA-1 is accepted
// here; the orchestrator checks it against Config.AllowSHA1 so the PERMFAIL
// can be attributed to policy rather than to an unrecognized token.
func hashFromString(s string) (crypto.Hash, error) {
	switch s {
	case "sha256":
		return crypto.SHA256, nil
	case "sha1":
		return crypto.SHA1, nil
	default:
		return 0, errUnsupportedHash
	}
}
