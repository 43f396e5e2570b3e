package ice

import (
	"testing"

	"github.com/corelink/ice/stun"
	"github.com/stretchr/testify/assert"
)

func TestCredentialManagerShortTermRoundTrip(t *testing.T) {
	m := NewCredentialManager()
	m.Set("ufrag1", CredentialsAuthority{Password: "pw"})

	assert.True(t, m.CheckLocalUser("ufrag1"))
	assert.False(t, m.CheckLocalUser("unknown"))
	assert.Equal(t, stun.ShortTermKey("pw"), m.LocalKey("ufrag1"))
	assert.Nil(t, m.LocalKey("unknown"))
}

func TestCredentialManagerLongTermKeyUsesRealm(t *testing.T) {
	m := NewCredentialManager()
	m.Set("ruser", CredentialsAuthority{Password: "rpass", Realm: "example.org", LongTerm: true})

	want := stun.LongTermKey("ruser", "example.org", "rpass")
	assert.Equal(t, want, m.LocalKey("ruser"))
}

func TestCredentialManagerRemove(t *testing.T) {
	m := NewCredentialManager()
	m.Set("ufrag1", CredentialsAuthority{Password: "pw"})
	m.Remove("ufrag1")
	assert.False(t, m.CheckLocalUser("ufrag1"))
}

func TestCredentialManagerRemoteKeyRequiresMatchingUfrag(t *testing.T) {
	stream := newTestStream(t)
	stream.SetRemoteCredentials("theirufrag", "theirpass")

	m := NewCredentialManager()
	assert.Equal(t, stun.ShortTermKey("theirpass"), m.RemoteKey("theirufrag", stream))
	assert.Nil(t, m.RemoteKey("wrongufrag", stream))
}
