package verify

import (
	"encoding/base64"
	"strings"
	"testing"
)

func seg(json string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(json))
}

func TestParseWellFormed(t *testing.T) {
	header := seg(`{"alg":"RS256","kid":"K1","typ":"JWT"}`)
	payload := seg(`{"iss":"https://securetoken.google.com/proj-1","aud":"proj-1","sub":"user-1","iat":100,"exp":3700,"role":"admin"}`)
	sig := base64.RawURLEncoding.EncodeToString([]byte("sig-bytes"))

	parsed, err := Parse(header + "." + payload + "." + sig)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if parsed.Header.Algorithm != "RS256" || parsed.Header.KeyID != "K1" {
		t.Errorf("bad header: %+v", parsed.Header)
	}
	if parsed.Payload.Subject != "user-1" || parsed.Payload.Audience != "proj-1" {
		t.Errorf("bad payload: %+v", parsed.Payload)
	}
	if parsed.Payload.IssuedAt != 100 || parsed.Payload.ExpiresAt != 3700 {
		t.Errorf("bad timestamps: %+v", parsed.Payload)
	}
	if parsed.Payload.Claims["role"] != "admin" {
		t.Errorf("custom claim lost: %+v", parsed.Payload.Claims)
	}
	if string(parsed.Signature) != "sig-bytes" {
		t.Errorf("bad signature bytes: %q", parsed.Signature)
	}
	if parsed.SigningInput() != header+"."+payload {
		t.Errorf("bad signing input: %q", parsed.SigningInput())
	}
	if parsed.Unsigned() {
		t.Error("token with signature reported as unsigned")
	}
}

func TestParseTenantClaim(t *testing.T) {
	header := seg(`{"alg":"RS256","kid":"K1"}`)
	payload := seg(`{"iss":"i","aud":"a","sub":"s","iat":1,"exp":2,"firebase":{"tenant":"tenant-a"}}`)

	parsed, err := Parse(header + "." + payload + ".c2ln")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if parsed.Payload.Tenant != "tenant-a" {
		t.Errorf("expected tenant-a, got %q", parsed.Payload.Tenant)
	}
}

func TestParseIgnoresTopLevelTenantClaim(t *testing.T) {
	header := seg(`{"alg":"RS256","kid":"K1"}`)
	// A top-level "tenant" key is just a custom claim; only the nested
	// firebase.tenant claim carries tenancy.
	payload := seg(`{"iss":"i","aud":"a","sub":"s","iat":1,"exp":2,"tenant":"tenant-a","Tenant":"tenant-a"}`)

	parsed, err := Parse(header + "." + payload + ".c2ln")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if parsed.Payload.Tenant != "" {
		t.Errorf("top-level tenant claim leaked into Payload.Tenant: %q", parsed.Payload.Tenant)
	}
	if parsed.Payload.Claims["tenant"] != "tenant-a" {
		t.Errorf("custom claim lost: %+v", parsed.Payload.Claims)
	}
}

func TestParseEmptySignatureSegmentIsLegal(t *testing.T) {
	header := seg(`{"alg":"none"}`)
	payload := seg(`{"iss":"i","aud":"a","sub":"s"}`)

	parsed, err := Parse(header + "." + payload + ".")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if !parsed.Unsigned() {
		t.Error("empty third segment should parse as unsigned")
	}
}

func TestParseRejectsWrongSegmentCount(t *testing.T) {
	for _, tok := range []string{"", "a", "a.b", "a.b.c.d"} {
		if _, err := Parse(tok); err == nil {
			t.Errorf("expected error for %q", tok)
		}
	}
}

func TestParseRejectsBadEncoding(t *testing.T) {
	good := seg(`{"alg":"RS256"}`)
	if _, err := Parse("!!!." + good + ".c2ln"); err == nil {
		t.Error("expected error for invalid base64 header")
	}
	if _, err := Parse(good + ".!!!.c2ln"); err == nil {
		t.Error("expected error for invalid base64 payload")
	}
	notJSON := seg("not json")
	if _, err := Parse(notJSON + "." + good + ".c2ln"); err == nil {
		t.Error("expected error for non-JSON header")
	}
	if _, err := Parse(good + "." + notJSON + ".c2ln"); err == nil {
		t.Error("expected error for non-JSON payload")
	}
	if _, err := Parse(strings.Join([]string{good, good, "!!!"}, ".")); err == nil {
		t.Error("expected error for invalid base64 signature")
	}
}
