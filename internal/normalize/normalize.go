// Package normalize contains functions to normalize message line endings
// before DKIM canonicalization runs.
package normalize

import "strings"

// ToCRLF rewrites a byte message so every line ending is CRLF, regardless
// of whether the input used bare LF, bare CR, or was already CRLF.
//
// DKIM canonicalization (RFC 6376 §3.4) is defined in terms of CRLF-
// terminated lines; callers that read messages from sources that may use
// other conventions (a Unix mailbox, a message composed with bare LF, ...)
// must normalize before verifying, and must keep verifying against that
// same normalized form.
func ToCRLF(msg []byte) []byte {
	return []byte(StringToCRLF(string(msg)))
}

// StringToCRLF is ToCRLF for strings.
func StringToCRLF(msg string) string {
	// First collapse any existing CRLF down to LF, then promote every LF
	// (including lone CR, which barely exists in practice but is cheap to
	// handle) to CRLF. Doing it in two passes avoids doubling up CRLFs that
	// were already correct.
	msg = strings.ReplaceAll(msg, "\r\n", "\n")
	msg = strings.ReplaceAll(msg, "\r", "\n")
	msg = strings.ReplaceAll(msg, "\n", "\r\n")
	return msg
}
