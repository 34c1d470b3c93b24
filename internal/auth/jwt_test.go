package auth

import (
	"testing"
	"time"
)

func TestIssueParseRoundTrip(t *testing.T) {
	token, expiresAt, err := Issue("dev-1", RoleDevice, "rollcall-test", "secret", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !expiresAt.After(time.Now()) {
		t.Fatal("token already expired")
	}
	claims, err := Parse(token, "secret", "rollcall-test")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "dev-1" || claims.Role != RoleDevice {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestParseRejects(t *testing.T) {
	token, _, err := Issue("pres-1", RolePresenter, "rollcall-test", "secret", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := Parse(token, "other-key", "rollcall-test"); err == nil {
		t.Fatal("wrong signing key accepted")
	}
	if _, err := Parse(token, "secret", "someone-else"); err == nil {
		t.Fatal("wrong issuer accepted")
	}
	expired, _, err := Issue("pres-1", RolePresenter, "rollcall-test", "secret", -time.Minute)
	if err != nil {
		t.Fatalf("issue expired: %v", err)
	}
	if _, err := Parse(expired, "secret", "rollcall-test"); err == nil {
		t.Fatal("expired token accepted")
	}
}
