package dkim

import (
	"bytes"
	"context"
	"crypto"
	"encoding/base64"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"blitiri.com.ar/go/dkimverify/internal/config"
	"blitiri.com.ar/go/dkimverify/internal/envelope"
	"blitiri.com.ar/go/dkimverify/internal/normalize"
)

// keyCacheEntry is the per-call keys-seen cache: at most one DNS (or
// provider) fetch per selector/domain pair, even if a hostile message
// repeats the same pair across several DKIM-Signature headers.
// https://datatracker.ietf.org/doc/html/rfc6376#section-6.1.2
type keyCacheEntry struct {
	keys []*KeyRecord
	err  error
}

// VerifyMessage verifies message using the default DNS-backed key
// provider and the built-in default configuration. It's a convenience
// wrapper around Verify for callers that don't need to customize either.
func VerifyMessage(ctx context.Context, message string) (*Result, error) {
	return Verify(ctx, message, NewDNSKeyProvider(), config.Default())
}

// Verify walks every DKIM-Signature header in message, in order, and
// returns a Result with one verdict list per signature.
// https://datatracker.ietf.org/doc/html/rfc6376#section-6
func Verify(ctx context.Context, message string, provider KeyProvider, cfg *config.Config) (*Result, error) {
	// Bare LF endings are normalized to CRLF once, here, so every later
	// canonicalization step operates on a consistent line ending.
	// https://datatracker.ietf.org/doc/html/rfc6376#section-5.3
	headers, body, err := parseMessage(normalize.StringToCRLF(message))
	if err != nil {
		trace(ctx, "Error parsing message: %v", err)
		return nil, err
	}

	sigHeaders := headers.FindAll("DKIM-Signature")
	if len(sigHeaders) == 0 {
		return &Result{
			Results: [][]*Verdict{{
				{Status: UNSIGNED, Substatus: SubUnsigned, Reason: "No DKIM signatures found"},
			}},
		}, nil
	}

	result := &Result{}
	cache := map[string]*keyCacheEntry{}

	for i, sigH := range sigHeaders {
		if ctx.Err() != nil {
			trace(ctx, "context cancelled, stopping at signature %d", i)
			break
		}

		if i >= cfg.MaxSignatures {
			// Protect against a message with a pathological number of
			// signatures.
			// https://datatracker.ietf.org/doc/html/rfc6376#section-8.4
			trace(ctx, "too many DKIM-Signature headers, stopping at %d", i)
			break
		}

		trace(ctx, "evaluating DKIM-Signature %d: %s", i, sigH.Value)
		verdicts := evaluateSignature(ctx, cfg, provider, sigH, headers, body, cache)
		result.Found++
		result.Results = append(result.Results, verdicts)
	}

	return result, nil
}

func evaluateSignature(ctx context.Context, cfg *config.Config, provider KeyProvider,
	sigH header, headers headers, body string, cache map[string]*keyCacheEntry) []*Verdict {

	sig := parseSignatureTags(sigH.Value)
	var verdicts []*Verdict
	failed := false

	add := func(status Status, sub Substatus, format string, a ...interface{}) {
		verdicts = append(verdicts, &Verdict{
			Status: status, Substatus: sub,
			Reason:   fmt.Sprintf(format, a...),
			Domain:   sig.d,
			Selector: sig.s,
			Tags:     sig,
		})
		if status == PERMFAIL {
			failed = true
		}
	}

	// Step 1: required tags. One verdict per missing tag; dependent
	// checks below are gated on isMissing so they don't pile on.
	// https://datatracker.ietf.org/doc/html/rfc6376#section-6.1.1
	for _, m := range sig.missing {
		add(PERMFAIL, SubTagMissing, "missing required tag: %s=", m)
	}

	// Step 2: v=1.
	if !sig.isMissing("v") && sig.v != "1" {
		add(PERMFAIL, SubVersionInvalid, "v=%q, want \"1\"", sig.v)
	}

	// a= resolves to a supported (keytype, hash) pair.
	if !sig.isMissing("a") {
		if sig.aErr != nil {
			add(PERMFAIL, SubSignatureHashAlgoInvalid, "a=%q: %v", sig.a, sig.aErr)
		} else if sig.hash == crypto.SHA1 && !cfg.AllowSHA1 {
			add(PERMFAIL, SubSignatureHashAlgoInvalid,
				"a=%q rejected: SHA-1 signatures are disabled", sig.a)
		}
	}

	// Step 3: c= header/body algorithms.
	if sig.cH == "" {
		add(PERMFAIL, SubCHeaderAlgoInvalid, "invalid header canonicalization in c=")
	}
	if sig.cB == "" {
		add(PERMFAIL, SubCBodyAlgoInvalid, "invalid body canonicalization in c=")
	}

	// Step 6: i= domain must be d= or a subdomain of it.
	if !sig.isMissing("d") && !sig.identityMatchesDomain() {
		add(PERMFAIL, SubAgentIdentityMismatch, "i=%q is not under d=%q", sig.i, sig.d)
	}

	// Step 7: h= must include From.
	if !sig.isMissing("h") && !sig.hasFrom() {
		add(PERMFAIL, SubFromHeaderNotSigned, "h=%v does not include From", sig.h)
	}

	// Step 8: expiry.
	now := time.Now()
	if sig.xPresent {
		if sig.x.Before(now) {
			add(PERMFAIL, SubSignatureExpired, "x=%s is in the past", sig.x)
		} else if sig.tPresent && sig.x.Before(sig.t) {
			add(PERMFAIL, SubSignatureExpiredAtSigning, "x=%s is before t=%s", sig.x, sig.t)
		}
	}

	// Step 9: stop here if anything above already failed.
	if failed {
		return verdicts
	}

	// Step 10: q= must resolve to dns/txt.
	if !sig.queryMethodOK() {
		add(PERMFAIL, SubPublicKeyFormatInvalid, "q=%v does not include dns/txt", sig.q)
		return verdicts
	}

	// Step 4/5: canonicalize the body and apply the l= length limit.
	canonicalBody := sig.cB.body(body)
	truncated, ok := truncatedBody(sig, canonicalBody)
	if !ok {
		add(PERMFAIL, SubBodyLengthMismatch, "l=%d exceeds canonical body length %d",
			sig.l, len(canonicalBody))
		return verdicts
	}

	// Step 11: fetch keys, deduplicated by selector+domain for this call.
	cacheKey := sig.s + "|" + sig.d
	entry, ok := cache[cacheKey]
	if !ok {
		fetchCtx := ctx
		if d := cfg.DNSTimeout(); d > 0 {
			var cancel func()
			fetchCtx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		keys, err := provider.Fetch(fetchCtx, sig.s, sig.d)
		entry = &keyCacheEntry{keys: keys, err: err}
		cache[cacheKey] = entry
	} else {
		trace(ctx, "reusing cached key lookup for %s", cacheKey)
	}

	if entry.err != nil {
		add(TEMPFAIL, SubPublicKeyNotFound, "key lookup for %s: %v", cacheKey, entry.err)
		return verdicts
	}
	if len(entry.keys) == 0 {
		add(TEMPFAIL, SubPublicKeyNotFound, "no key records found for %s", cacheKey)
		return verdicts
	}

	// Step 12: body hash.
	bodyH := hashWith(sig.hash, []byte(truncated))
	if !bytes.Equal(bodyH, sig.bh) {
		add(PERMFAIL, SubBodySignatureInvalid, "body hash mismatch (got %s)",
			base64.StdEncoding.EncodeToString(bodyH))
		return verdicts
	}
	trace(ctx, "body hash matches: %s", base64.StdEncoding.EncodeToString(bodyH))

	// Build the canonical signed-header block, then the signature's own
	// header with b= emptied.
	// https://datatracker.ietf.org/doc/html/rfc6376#section-3.7
	hasher := sig.hash.New()
	for _, h := range headersToInclude(sigH, sig.h, headers) {
		hsrc := sig.cH.header(h).Source + "\r\n"
		hasher.Write([]byte(hsrc))
	}
	sigC := sig.cH.header(sigH)
	sigCStr := bTag.ReplaceAllString(sigC.Source, "$1")
	hasher.Write([]byte(sigCStr))
	signedData := hasher.Sum(nil)

	// Step 13: every candidate key gets its own verdict; iteration never
	// short-circuits on the first success.
	for _, key := range entry.keys {
		verdicts = append(verdicts, evaluateKey(cfg, sig, key, signedData))
	}

	return verdicts
}

func evaluateKey(cfg *config.Config, sig *SignatureTags, key *KeyRecord, signedData []byte) *Verdict {
	v := func(status Status, sub Substatus, format string, a ...interface{}) *Verdict {
		return &Verdict{
			Status: status, Substatus: sub,
			Reason:   fmt.Sprintf(format, a...),
			Domain:   sig.d,
			Selector: sig.s,
			Tags:     sig,
		}
	}

	if key.FormatErr != nil {
		return v(PERMFAIL, SubPublicKeyFormatInvalid, "%v", key.FormatErr)
	}
	if key.V != "" && key.V != "DKIM1" {
		return v(PERMFAIL, SubPublicKeyVersionMismatch, "key v=%q", key.V)
	}
	if key.K != sig.keyType {
		return v(PERMFAIL, SubPublicKeyTypeMismatch, "key k=%s does not match a=%s", key.K, sig.a)
	}
	if len(key.H) > 0 && !slices.Contains(key.H, sig.hash) {
		return v(PERMFAIL, SubPublicKeyAlgoMismatch, "key h= does not permit %s", sig.a)
	}
	if !key.ServiceTypeOK() {
		return v(PERMFAIL, SubPublicKeyServiceTypeInvalid, "key s=%v excludes email", key.S)
	}
	if cfg.StrictDomainScope && sig.i != "" && key.StrictDomainCheck() {
		domain := envelope.DomainOf(sig.i)
		if domain != sig.d {
			return v(PERMFAIL, SubAgentIdentityMismatch,
				"key t=s requires i= domain to equal d=; got %q != %q", domain, sig.d)
		}
	}

	if key.verify == nil {
		// Revoked (empty p=) or an otherwise unusable key: can never
		// verify, but this is reported the same way as any other
		// cryptographic mismatch.
		// https://datatracker.ietf.org/doc/html/rfc6376#section-3.6.1
		return v(PERMFAIL, SubSignatureMismatch, "key %s has no usable public key material", key)
	}

	if err := key.verify(sig.hash, signedData, sig.b); err != nil {
		return v(PERMFAIL, SubSignatureMismatch, "%v", err)
	}

	return v(SUCCESS, SubSuccess, "")
}

// Regular expression that matches the "b=" tag, to empty it out when
// building the canonical copy of the DKIM-Signature header itself.
// First capture group is the "b=" part (including any whitespace up to
// the '=').
var bTag = regexp.MustCompile(`(b[ \t\r\n]*=)[^;]+`)

// headersToInclude returns the actual headers to include in the hash,
// based on the list given in the h= tag. This is complicated because:
//   - Headers can be listed multiple times. In that case, pick the last
//     instance (which hasn't been already included).
//     https://datatracker.ietf.org/doc/html/rfc6376#section-5.4.2
//   - Headers may appear fewer times than they are requested.
//   - DKIM-Signature may be included, but never the one being verified.
//     https://datatracker.ietf.org/doc/html/rfc6376#section-3.7
//   - Headers may be missing entirely, and that's allowed.
//     https://datatracker.ietf.org/doc/html/rfc6376#section-5.4
func headersToInclude(sigH header, hTag []string, headers headers) []header {
	seen := map[string]int{}
	include := []header{}
	for _, h := range hTag {
		all := headers.FindAll(h)
		slices.Reverse(all)

		lh := strings.ToLower(h)
		i := seen[lh]
		if i >= len(all) {
			continue
		}
		seen[lh]++

		selected := all[i]
		if selected == sigH {
			continue
		}

		include = append(include, selected)
	}

	return include
}
