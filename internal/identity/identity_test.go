package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("test-secret")

	token, err := issuer.Issue("sess1", "key1", "stream1", "example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.SessionID != "sess1" || claims.ApiKey != "key1" || claims.StreamKey != "stream1" || claims.Domain != "example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenIssuer("secret-a")
	token, err := issuer.Issue("sess1", "key1", "stream1", "example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other := NewTokenIssuer("secret-b")
	if _, err := other.Verify(token); err == nil {
		t.Fatal("expected verification failure with mismatched secret")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	issuer := NewTokenIssuer("secret")
	if _, err := issuer.Verify("not-a-jwt"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}

func TestTokenFromRequestPrefersAuthorizationHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/events?token=query-token", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	if got := TokenFromRequest(r); got != "header-token" {
		t.Fatalf("got %q, want header-token", got)
	}
}

func TestTokenFromRequestFallsBackToQueryParam(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/events?token=query-token", nil)
	if got := TokenFromRequest(r); got != "query-token" {
		t.Fatalf("got %q, want query-token", got)
	}
}

func TestTokenFromRequestEmptyWhenNeitherPresent(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/events", nil)
	if got := TokenFromRequest(r); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestCompareAdminKey(t *testing.T) {
	if !CompareAdminKey("secret", "secret") {
		t.Fatal("expected matching keys to compare equal")
	}
	if CompareAdminKey("secret", "wrong") {
		t.Fatal("expected mismatched keys to fail")
	}
	if CompareAdminKey("", "") {
		t.Fatal("expected empty configured key to always fail")
	}
	if CompareAdminKey("secret", "") {
		t.Fatal("expected empty supplied key to always fail")
	}
}

func TestDomainAllowlistWildcard(t *testing.T) {
	a := NewDomainAllowlist("*")
	if !a.Allowed("anything.example.com") {
		t.Fatal("expected wildcard allowlist to allow any domain")
	}
}

func TestDomainAllowlistExplicitList(t *testing.T) {
	a := NewDomainAllowlist("a.example.com, b.example.com")
	if !a.Allowed("a.example.com") {
		t.Fatal("expected a.example.com to be allowed")
	}
	if !a.Allowed("b.example.com") {
		t.Fatal("expected b.example.com to be allowed")
	}
	if a.Allowed("c.example.com") {
		t.Fatal("expected c.example.com to be rejected")
	}
}
