package stun

import "fmt"

// Well-known STUN/TURN error codes used by the agent's error handling
// design (spec.md section 7).
const (
	CodeUnauthorized       = 401
	CodeAllocationMismatch = 437
	CodeStaleNonce         = 438
	CodeRoleConflict       = 487
	CodeUnknownAttribute   = 420
)

// ErrorCode is the ERROR-CODE attribute: a 3-digit code split into class
// (hundreds digit) and number, plus a human-readable reason phrase.
type ErrorCode struct {
	Code   int
	Reason string
}

// AddTo implements Setter.
func (a ErrorCode) AddTo(m *Message) error {
	v := make([]byte, 4+len(a.Reason))
	v[2] = byte(a.Code / 100)
	v[3] = byte(a.Code % 100)
	copy(v[4:], a.Reason)
	m.rawSetAttr(AttrErrorCode, v)
	return nil
}

// GetFrom implements Getter.
func (a *ErrorCode) GetFrom(m *Message) error {
	raw, ok := m.Get(AttrErrorCode)
	if !ok {
		return fmt.Errorf("stun: ERROR-CODE not present")
	}
	if len(raw.Value) < 4 {
		return ErrMalformed
	}
	a.Code = int(raw.Value[2])*100 + int(raw.Value[3])
	a.Reason = string(raw.Value[4:])
	return nil
}

// UnknownAttributes is the UNKNOWN-ATTRIBUTES attribute: a list of
// attribute types the sender did not understand, used in 420 responses.
type UnknownAttributes struct {
	Types []AttrType
}

// AddTo implements Setter.
func (a UnknownAttributes) AddTo(m *Message) error {
	v := make([]byte, 2*len(a.Types))
	for i, t := range a.Types {
		putUint16(v[2*i:2*i+2], uint16(t))
	}
	m.rawSetAttr(AttrUnknownAttributes, v)
	return nil
}

// GetFrom implements Getter.
func (a *UnknownAttributes) GetFrom(m *Message) error {
	raw, ok := m.Get(AttrUnknownAttributes)
	if !ok {
		return fmt.Errorf("stun: UNKNOWN-ATTRIBUTES not present")
	}
	if len(raw.Value)%2 != 0 {
		return ErrMalformed
	}
	a.Types = nil
	for i := 0; i+2 <= len(raw.Value); i += 2 {
		a.Types = append(a.Types, AttrType(getUint16(raw.Value[i:i+2])))
	}
	return nil
}
