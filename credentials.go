package ice

import (
	"sync"

	"github.com/corelink/ice/stun"
)

// CredentialsAuthority is one entry in the credential manager: a ufrag
// plus the key material needed to verify and sign messages under it
// (spec.md section 4.3). Short-term (ICE) entries carry only Password;
// long-term (TURN) entries additionally carry Realm, from which
// LongTermKey derives the key together with Ufrag and Password.
type CredentialsAuthority struct {
	Ufrag    string
	Password string
	Realm    string
	LongTerm bool
}

// IntegrityKey returns the MESSAGE-INTEGRITY key this authority signs
// and verifies with.
func (c CredentialsAuthority) IntegrityKey() []byte {
	if c.LongTerm {
		return stun.LongTermKey(c.Ufrag, c.Realm, c.Password)
	}
	return stun.ShortTermKey(c.Password)
}

// CredentialManager holds every CredentialsAuthority an agent knows
// about, keyed by ufrag, and implements the check_local_user/local_key/
// remote_key callback contract of spec.md section 6.
type CredentialManager struct {
	mu      sync.RWMutex
	entries map[string]CredentialsAuthority
}

// NewCredentialManager returns an empty manager.
func NewCredentialManager() *CredentialManager {
	return &CredentialManager{entries: make(map[string]CredentialsAuthority)}
}

// Set installs or replaces the authority for ufrag.
func (m *CredentialManager) Set(ufrag string, authority CredentialsAuthority) {
	m.mu.Lock()
	defer m.mu.Unlock()
	authority.Ufrag = ufrag
	m.entries[ufrag] = authority
}

// Remove deletes the authority for ufrag, if any.
func (m *CredentialManager) Remove(ufrag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, ufrag)
}

// CheckLocalUser reports whether ufrag is a known local authority.
func (m *CredentialManager) CheckLocalUser(ufrag string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[ufrag]
	return ok
}

// LocalKey returns the integrity key for ufrag, or nil if unknown.
func (m *CredentialManager) LocalKey(ufrag string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.entries[ufrag]
	if !ok {
		return nil
	}
	return a.IntegrityKey()
}

// RemoteKey returns the integrity key to verify a message claiming to
// be from ufrag within the given media stream's remote credentials.
func (m *CredentialManager) RemoteKey(ufrag string, stream *Stream) []byte {
	remoteUfrag, remotePassword := stream.RemoteCredentials()
	if remoteUfrag == "" || ufrag != remoteUfrag {
		return nil
	}
	return stun.ShortTermKey(remotePassword)
}
