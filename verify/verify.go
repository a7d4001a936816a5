// Package verify turns opaque compact-serialized bearer credentials into
// validated, strongly-typed claim sets. It supports the two credential
// flavors issued by the identity backend (ID tokens and session cookies)
// plus the unsigned variant minted by the local emulator.
//
// Checks run in two phases: structural checks (segment shape, algorithm,
// key id) happen before any network call, and semantic claim checks
// (issuer, audience, expiry) only after the signature proved the payload
// was not tampered with.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/open-rails/tokenkit/keys"
)

// Token is a successfully verified credential's claim set. It is immutable
// and owned by the caller.
type Token struct {
	Issuer    string
	Audience  string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time

	// Tenant is empty unless the token is scoped to a tenant.
	Tenant string

	// Claims holds the full claim set, registered and custom.
	Claims map[string]any
}

// UID returns the subject claim under its conventional name.
func (t *Token) UID() string { return t.Subject }

// Verify validates tokenString end to end: parse, structural checks, key
// resolution, signature, then semantic claim checks. Every failure is a
// *VerificationError carrying a specific kind; see KindOf.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Token, error) {
	parsed, err := Parse(tokenString)
	if err != nil {
		return nil, v.invalid(KindMalformedToken, err,
			"%s is malformed", v.articledShortName)
	}

	if err := v.checkStructure(parsed); err != nil {
		return nil, err
	}

	if !v.emulator {
		key, err := v.keySource.GetKey(ctx, parsed.Header.KeyID)
		if err != nil {
			if errors.Is(err, keys.ErrNotFound) {
				return nil, v.invalid(KindKeyNotFound, err,
					"%s references key %q which the key source does not serve; it may have been signed with a retired key",
					v.articledShortName, parsed.Header.KeyID)
			}
			return nil, v.invalid(KindKeyFetchFailed, err,
				"fetching public keys for %s failed", v.articledShortName)
		}
		if err := jwt.SigningMethodRS256.Verify(parsed.SigningInput(), parsed.Signature, key); err != nil {
			return nil, v.invalid(KindInvalidSignature, nil,
				"%s has an invalid signature", v.articledShortName)
		}
	}

	if err := v.checkClaims(parsed); err != nil {
		return nil, err
	}

	return &Token{
		Issuer:    parsed.Payload.Issuer,
		Audience:  parsed.Payload.Audience,
		Subject:   parsed.Payload.Subject,
		IssuedAt:  time.Unix(parsed.Payload.IssuedAt, 0),
		ExpiresAt: time.Unix(parsed.Payload.ExpiresAt, 0),
		Tenant:    parsed.Payload.Tenant,
		Claims:    parsed.Payload.Claims,
	}, nil
}

// VerifyAndCheckRevoked verifies tokenString and additionally consults the
// revocation collaborator: a token issued before the subject's valid-since
// mark is rejected. The revocation lookup runs only after full
// verification, so unverified claims never reach the checker.
func (v *Verifier) VerifyAndCheckRevoked(ctx context.Context, tokenString string, checker RevocationChecker) (*Token, error) {
	token, err := v.Verify(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	validSince, ok, err := checker.ValidSince(ctx, token.Subject)
	if err != nil {
		return nil, v.invalid(KindRevocationCheckFailed, err,
			"checking revocation state for %s failed", v.articledShortName)
	}
	if ok && token.IssuedAt.Before(validSince) {
		return nil, &VerificationError{
			Kind:    KindTokenRevoked,
			Code:    v.revokedCode,
			Message: fmt.Sprintf("the %s has been revoked", v.shortName),
		}
	}
	return token, nil
}

// checkStructure runs the pre-fetch checks: emulator/production agreement,
// algorithm, and key id presence. Failing here never costs a network call.
func (v *Verifier) checkStructure(parsed *ParsedToken) error {
	if v.emulator {
		if !parsed.Unsigned() {
			return v.invalid(KindEmulatorModeViolation, nil,
				"%s carries a signature but the verifier is in emulator mode; emulator tokens are unsigned",
				v.articledShortName)
		}
		if parsed.Header.Algorithm != EmulatorAlgorithm {
			return v.invalid(KindUnsupportedAlgorithm, nil,
				"%s has incorrect algorithm; expected %q in emulator mode but got %q",
				v.articledShortName, EmulatorAlgorithm, parsed.Header.Algorithm)
		}
		return nil
	}

	if parsed.Unsigned() {
		return v.invalid(KindEmulatorModeViolation, nil,
			"%s is unsigned; unsigned tokens are only accepted in emulator mode",
			v.articledShortName)
	}
	// A single accepted algorithm, checked before any key is resolved,
	// closes off algorithm-confusion attacks.
	if parsed.Header.Algorithm != SigningAlgorithm {
		return v.invalid(KindUnsupportedAlgorithm, nil,
			"%s has incorrect algorithm; expected %q but got %q",
			v.articledShortName, SigningAlgorithm, parsed.Header.Algorithm)
	}
	if parsed.Header.KeyID == "" {
		return v.invalid(KindMissingKeyID, nil,
			"%s has no \"kid\" claim; make sure %s is called with %s, and see %s on how to obtain one",
			v.articledShortName, v.verifyMethod, v.articledShortName, v.docURL)
	}
	return nil
}

// checkClaims runs the semantic checks in a fixed order so rejection
// messages are deterministic.
func (v *Verifier) checkClaims(parsed *ParsedToken) error {
	now := v.now()
	payload := parsed.Payload

	if payload.Issuer != v.issuer {
		return v.invalid(KindIssuerMismatch, nil,
			"%s has incorrect issuer; expected %q but got %q",
			v.articledShortName, v.issuer, payload.Issuer)
	}
	if payload.Audience != v.projectID {
		return v.invalid(KindAudienceMismatch, nil,
			"%s has incorrect audience; expected %q but got %q",
			v.articledShortName, v.projectID, payload.Audience)
	}
	if payload.Subject == "" {
		return v.invalid(KindMissingSubject, nil,
			"%s has an empty subject claim", v.articledShortName)
	}
	if payload.IssuedAt > now.Unix() {
		return v.invalid(KindNotYetValid, nil,
			"%s was issued in the future (iat %d, now %d)",
			v.articledShortName, payload.IssuedAt, now.Unix())
	}
	if payload.ExpiresAt <= now.Unix() {
		return &VerificationError{
			Kind:    KindTokenExpired,
			Code:    v.expiredCode,
			Message: fmt.Sprintf("the %s has expired at %d; get a fresh %s and retry", v.shortName, payload.ExpiresAt, v.shortName),
		}
	}
	if v.tenantID != "" && payload.Tenant != v.tenantID {
		return v.invalid(KindTenantMismatch, nil,
			"%s has incorrect tenant; expected %q but got %q",
			v.articledShortName, v.tenantID, payload.Tenant)
	}
	return nil
}

func (v *Verifier) invalid(kind Kind, cause error, format string, args ...any) error {
	return &VerificationError{
		Kind:    kind,
		Code:    v.invalidCode,
		Message: fmt.Sprintf(format, args...),
		Err:     cause,
	}
}
