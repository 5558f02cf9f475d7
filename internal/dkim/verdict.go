package dkim

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Status is the top-level outcome of evaluating one DKIM-Signature header,
// as per https://datatracker.ietf.org/doc/html/rfc6376#section-3.9.
type Status string

const (
	// SUCCESS means the signature verified against at least one candidate
	// key.
	SUCCESS Status = "SUCCESS"

	// PERMFAIL means the signature is definitively bad: malformed data, a
	// policy violation, or a cryptographic mismatch. Retrying will not
	// help.
	PERMFAIL Status = "PERMFAIL"

	// TEMPFAIL means a transient failure, currently only possible during
	// key lookup. The caller may retry later.
	TEMPFAIL Status = "TEMPFAIL"

	// UNSIGNED means the message carried no DKIM-Signature header at all.
	UNSIGNED Status = "UNSIGNED"
)

// Substatus is a stable, closed-set reason code attached to a Verdict. It
// exists so callers can switch on the reason without parsing Reason
// strings.
type Substatus string

const (
	SubTagMissing                Substatus = "TAG_MISSING"
	SubVersionInvalid             Substatus = "VERSION_INVALID"
	SubCHeaderAlgoInvalid         Substatus = "C_HEADER_ALGO_INVALID"
	SubCBodyAlgoInvalid           Substatus = "C_BODY_ALGO_INVALID"
	SubBodyLengthMismatch         Substatus = "BODY_LENGTH_MISMATCH"
	SubAgentIdentityMismatch      Substatus = "AGENT_IDENTITY_MISMATCH"
	SubFromHeaderNotSigned        Substatus = "FROM_HEADER_NOT_SIGNED"
	SubSignatureExpired           Substatus = "SIGNATURE_EXPIRED"
	SubSignatureExpiredAtSigning  Substatus = "SIGNATURE_EXPIRED_AT_SIGNING"
	SubPublicKeyNotFound           Substatus = "PUBLIC_KEY_NOT_FOUND"
	SubPublicKeyFormatInvalid      Substatus = "PUBLIC_KEY_FORMAT_INVALID"
	SubPublicKeyVersionMismatch    Substatus = "PUBLIC_KEY_VERSION_MISMATCH"
	SubPublicKeyAlgoMismatch       Substatus = "PUBLIC_KEY_ALGO_MISMATCH"
	SubPublicKeyTypeMismatch       Substatus = "PUBLIC_KEY_TYPE_MISMATCH"
	SubPublicKeyServiceTypeInvalid Substatus = "PUBLIC_KEY_SERVICE_TYPE_INVALID"
	SubSignatureHashAlgoInvalid    Substatus = "SIGNATURE_HASH_ALGO_INVALID"
	SubBodySignatureInvalid        Substatus = "BODY_SIGNATURE_INVALID"
	SubSignatureMismatch           Substatus = "SIGNATURE_MISMATCH"
	SubSuccess                     Substatus = "SUCCESS"
	SubUnsigned                    Substatus = "UNSIGNED"
)

// Verdict is the outcome of evaluating one DKIM-Signature header against
// one candidate key (or, for a failed check that never reaches a key, one
// such failure for that signature).
type Verdict struct {
	Status    Status
	Substatus Substatus
	Reason    string

	// Domain and Selector, taken from d= and s=, empty if the signature
	// failed to parse far enough to have them.
	Domain   string
	Selector string

	// Tags is a snapshot of the signature's tags, for callers that want to
	// inspect b=, i=, t=, etc. Nil if the header could not be parsed at
	// all.
	Tags *SignatureTags
}

func verdictf(status Status, sub Substatus, format string, a ...interface{}) *Verdict {
	return &Verdict{Status: status, Substatus: sub, Reason: fmt.Sprintf(format, a...)}
}

// Result is the outcome of verifying every DKIM-Signature header in a
// message. The outer slice is indexed by signature position; each inner
// slice holds one or more Verdicts for that signature (one per candidate
// key examined, or one verdict per failed precondition).
type Result struct {
	// Found is how many DKIM-Signature headers were present in the
	// message (capped by Config.MaxSignatures).
	Found int

	Results [][]*Verdict
}

// Valid reports the convenience boolean form: true iff there is exactly
// one signature, and its sole verdict succeeded.
func (r *Result) Valid() bool {
	return len(r.Results) == 1 && len(r.Results[0]) == 1 &&
		r.Results[0][0].Status == SUCCESS
}

// AuthenticationResults returns the DKIM-specific contents for an
// Authentication-Results header; the caller still has to wrap these in
// the header itself.
// https://datatracker.ietf.org/doc/html/rfc8601#section-2.7.1
func (r *Result) AuthenticationResults() string {
	ar := &strings.Builder{}
	if r.Found == 0 {
		ar.WriteString(";dkim=none\r\n")
		return ar.String()
	}

	for _, verdicts := range r.Results {
		for _, v := range verdicts {
			switch v.Status {
			case SUCCESS:
				ar.WriteString(";dkim=pass")
			case TEMPFAIL:
				fmt.Fprintf(ar, ";dkim=temperror  reason=%q\r\n", v.Reason)
			case PERMFAIL:
				if v.Substatus == SubSignatureMismatch ||
					v.Substatus == SubBodySignatureInvalid {
					fmt.Fprintf(ar, ";dkim=fail  reason=%q\r\n", v.Reason)
				} else {
					fmt.Fprintf(ar, ";dkim=permerror  reason=%q\r\n", v.Reason)
				}
			case UNSIGNED:
				ar.WriteString(";dkim=none\r\n")
				continue
			}

			if v.Tags != nil && len(v.Tags.b) > 0 {
				b := base64.StdEncoding.EncodeToString(v.Tags.b)
				fmt.Fprintf(ar, "  header.b=%.12s", b)
			}
			if v.Domain != "" {
				ar.WriteString("  header.d=" + v.Domain)
			}
			ar.WriteString("\r\n")
		}
	}

	return ar.String()
}
