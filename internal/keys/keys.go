// Package keys generates the bearer credentials issued by the platform.
// Access keys carry a class prefix so a lookup can route to the
// administrative store or fall through to tenant stores.
package keys

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// Key class prefixes. The prefix is part of the stored value; stripping it
// is never required for lookup.
const (
	MasterPrefix = "krapi_master_"
	TenantPrefix = "krapi_tenant_"
)

const secretBytes = 24

// NewMasterKey returns a control-plane access key.
func NewMasterKey() string {
	return MasterPrefix + randomHex(secretBytes)
}

// NewTenantKey returns a tenant-scoped access key.
func NewTenantKey() string {
	return TenantPrefix + randomHex(secretBytes)
}

// NewSessionToken returns an opaque single-use session token.
func NewSessionToken() string {
	return "krapi_sess_" + randomHex(secretBytes)
}

// NewPassword returns a random password for seeded accounts.
func NewPassword() string {
	return randomHex(12)
}

// IsMaster reports whether key carries the control-plane prefix.
func IsMaster(key string) bool {
	return strings.HasPrefix(key, MasterPrefix)
}

// IsTenant reports whether key carries the tenant prefix.
func IsTenant(key string) bool {
	return strings.HasPrefix(key, TenantPrefix)
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure means the process cannot mint credentials at all.
		panic("keys: read random: " + err.Error())
	}
	return hex.EncodeToString(b)
}
