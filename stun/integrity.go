package stun

import (
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // required by RFC 5389/8489 long-term credential key derivation
	"crypto/sha1" //nolint:gosec // MESSAGE-INTEGRITY is defined over HMAC-SHA1 by RFC 5389/8489
	"fmt"
)

// LongTermKey derives the MESSAGE-INTEGRITY key for long-term (TURN)
// credentials: MD5(username ":" realm ":" password).
func LongTermKey(username, realm, password string) []byte {
	h := md5.New() //nolint:gosec
	fmt.Fprintf(h, "%s:%s:%s", username, realm, password)
	return h.Sum(nil)
}

// ShortTermKey is the MESSAGE-INTEGRITY key for short-term (ICE)
// credentials: the stream's local or remote password, used as-is.
func ShortTermKey(password string) []byte {
	return []byte(password)
}

func computeIntegrity(msgUpToAttr []byte, key []byte) []byte {
	h := hmac.New(sha1.New, key) //nolint:gosec
	h.Write(msgUpToAttr)
	return h.Sum(nil)
}

// MessageIntegrity is a Setter that marks a message as requiring a
// MESSAGE-INTEGRITY attribute; the actual HMAC is computed by Encode once
// the key is known, so this only reserves the attribute's presence.
type MessageIntegrity struct{}

// AddTo implements Setter.
func (MessageIntegrity) AddTo(m *Message) error {
	// Placeholder value; Encode recomputes and overwrites it.
	m.rawSetAttr(AttrMessageIntegrity, make([]byte, 20))
	return nil
}
