package verify

import (
	"errors"
	"fmt"
)

// Kind classifies a verification failure. Callers should branch on the
// kind rather than the message text.
type Kind string

const (
	KindMalformedToken        Kind = "malformed-token"
	KindUnsupportedAlgorithm  Kind = "unsupported-algorithm"
	KindMissingKeyID          Kind = "missing-key-id"
	KindKeyFetchFailed        Kind = "key-fetch-failed"
	KindKeyNotFound           Kind = "key-not-found"
	KindInvalidSignature      Kind = "invalid-signature"
	KindIssuerMismatch        Kind = "issuer-mismatch"
	KindAudienceMismatch      Kind = "audience-mismatch"
	KindTenantMismatch        Kind = "tenant-mismatch"
	KindMissingSubject        Kind = "missing-subject"
	KindTokenExpired          Kind = "token-expired"
	KindNotYetValid           Kind = "not-yet-valid"
	KindEmulatorModeViolation Kind = "emulator-mode-violation"
	KindTokenRevoked          Kind = "token-revoked"
	KindRevocationCheckFailed Kind = "revocation-check-failed"
)

// VerificationError is the single error type returned by token
// verification. Code carries the flavor-specific error code
// (e.g. ID_TOKEN_EXPIRED) so HTTP layers can surface it directly.
type VerificationError struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// Is lets errors.Is match two verification errors by kind, so callers can
// compare against e.g. &VerificationError{Kind: KindTokenExpired}.
func (e *VerificationError) Is(target error) bool {
	var ve *VerificationError
	if !errors.As(target, &ve) {
		return false
	}
	return ve.Kind == e.Kind
}

// KindOf extracts the failure kind from err, or "" if err is not a
// verification error.
func KindOf(err error) Kind {
	var ve *VerificationError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return ""
}

// IsExpired reports whether err is specifically a token-expired failure.
// Callers typically treat this as "re-authenticate" rather than as a
// security violation.
func IsExpired(err error) bool {
	return KindOf(err) == KindTokenExpired
}
