package keys

import (
	"strings"
	"testing"
)

func TestNewMasterKey(t *testing.T) {
	k := NewMasterKey()
	if !strings.HasPrefix(k, MasterPrefix) {
		t.Errorf("key %q missing prefix %q", k, MasterPrefix)
	}
	if !IsMaster(k) {
		t.Error("IsMaster() = false for a generated master key")
	}
	if IsTenant(k) {
		t.Error("IsTenant() = true for a master key")
	}
}

func TestNewTenantKey(t *testing.T) {
	k := NewTenantKey()
	if !strings.HasPrefix(k, TenantPrefix) {
		t.Errorf("key %q missing prefix %q", k, TenantPrefix)
	}
	if !IsTenant(k) {
		t.Error("IsTenant() = false for a generated tenant key")
	}
}

func TestKeysAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		k := NewMasterKey()
		if seen[k] {
			t.Fatalf("duplicate key generated: %s", k)
		}
		seen[k] = true
	}
}

func TestNewSessionToken(t *testing.T) {
	tok := NewSessionToken()
	if !strings.HasPrefix(tok, "krapi_sess_") {
		t.Errorf("token %q missing session prefix", tok)
	}
	if NewSessionToken() == tok {
		t.Error("session tokens must be unique")
	}
}

func TestNewPassword(t *testing.T) {
	p := NewPassword()
	if len(p) < 16 {
		t.Errorf("password length %d, want at least 16", len(p))
	}
	if NewPassword() == p {
		t.Error("passwords must be unique")
	}
}

func TestPrefixChecksRejectForeignValues(t *testing.T) {
	for _, v := range []string{"", "krapi_sess_abc", "plain", "master_abc"} {
		if IsMaster(v) {
			t.Errorf("IsMaster(%q) = true", v)
		}
		if IsTenant(v) {
			t.Errorf("IsTenant(%q) = true", v)
		}
	}
}
