package verify

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Header is the decoded first segment of a compact token.
type Header struct {
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid,omitempty"`
	Type      string `json:"typ,omitempty"`
}

// Payload is the decoded second segment. Claims retains the full claim set,
// including the registered claims, so custom claims stay accessible.
type Payload struct {
	Issuer    string `json:"iss"`
	Audience  string `json:"aud"`
	Subject   string `json:"sub"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`

	// Tenant is only ever populated from the nested firebase.tenant
	// claim. Both fields are excluded from unmarshaling so a forged
	// top-level "tenant" custom claim cannot reach the tenant check.
	Tenant string         `json:"-"`
	Claims map[string]any `json:"-"`
}

// ParsedToken is the structural decode of a compact token. Parsing makes no
// trust decision: a ParsedToken may still be forged, expired, or unsigned.
// It is built fresh per verification call and never retained.
type ParsedToken struct {
	Header    Header
	Payload   Payload
	Signature []byte

	// raw first and second segments, kept for signature verification.
	signingInput string
}

// firebaseClaim mirrors the nested "firebase" claim, which carries the
// tenant id in multi-tenant projects.
type firebaseClaim struct {
	Tenant string `json:"tenant"`
}

// Parse splits and decodes a compact-serialized token without evaluating
// trust or time. An empty third segment is legal at this layer: it denotes
// an unsigned emulator token, and the verifier decides whether that is
// acceptable.
func Parse(tokenString string) (*ParsedToken, error) {
	segments := strings.Split(tokenString, ".")
	if len(segments) != 3 {
		return nil, fmt.Errorf("expected 3 segments, got %d", len(segments))
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(segments[0])
	if err != nil {
		return nil, fmt.Errorf("decode header segment: %w", err)
	}
	payloadJSON, err := base64.RawURLEncoding.DecodeString(segments[1])
	if err != nil {
		return nil, fmt.Errorf("decode payload segment: %w", err)
	}

	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("unmarshal header: %w", err)
	}

	var payload Payload
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	var allClaims map[string]any
	if err := json.Unmarshal(payloadJSON, &allClaims); err != nil {
		return nil, fmt.Errorf("unmarshal claims: %w", err)
	}
	payload.Claims = allClaims

	if raw, ok := allClaims["firebase"]; ok {
		if b, err := json.Marshal(raw); err == nil {
			var fb firebaseClaim
			if json.Unmarshal(b, &fb) == nil {
				payload.Tenant = fb.Tenant
			}
		}
	}

	var signature []byte
	if segments[2] != "" {
		signature, err = base64.RawURLEncoding.DecodeString(segments[2])
		if err != nil {
			return nil, fmt.Errorf("decode signature segment: %w", err)
		}
	}

	return &ParsedToken{
		Header:       header,
		Payload:      payload,
		Signature:    signature,
		signingInput: segments[0] + "." + segments[1],
	}, nil
}

// SigningInput returns the exact bytes the issuer signed, i.e. the first
// two base64url segments joined by a dot.
func (t *ParsedToken) SigningInput() string { return t.signingInput }

// Unsigned reports whether the token carried an empty signature segment.
func (t *ParsedToken) Unsigned() bool { return len(t.Signature) == 0 }
