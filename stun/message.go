// Package stun implements a bit-exact encoder/decoder for STUN (RFC 5389/8489)
// and TURN (RFC 5766) messages, including MESSAGE-INTEGRITY and FINGERPRINT.
package stun

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
)

// MagicCookie is the fixed 32-bit value that opens every STUN header.
const MagicCookie uint32 = 0x2112A442

// TransactionIDSize is the length in bytes of the random part of a
// transaction ID (96 bits).
const TransactionIDSize = 12

const headerSize = 20

// Class is the two-bit STUN message class, unpacked from bits 4 and 8
// of the message type (RFC 5389 section 6); see msgType/splitMsgType.
type Class uint16

// Recognized message classes.
const (
	ClassRequest         Class = 0x00
	ClassIndication      Class = 0x01
	ClassSuccessResponse Class = 0x02
	ClassErrorResponse   Class = 0x03
)

func (c Class) String() string {
	switch c {
	case ClassRequest:
		return "request"
	case ClassIndication:
		return "indication"
	case ClassSuccessResponse:
		return "success response"
	case ClassErrorResponse:
		return "error response"
	default:
		return fmt.Sprintf("class(0x%x)", uint16(c))
	}
}

// Method is the STUN/TURN method carried in the low bits of the message type.
type Method uint16

// Recognized methods (STUN binding, TURN allocation family).
const (
	MethodBinding          Method = 0x001
	MethodAllocate         Method = 0x003
	MethodRefresh          Method = 0x004
	MethodSend             Method = 0x006
	MethodData             Method = 0x007
	MethodCreatePermission Method = 0x008
	MethodChannelBind      Method = 0x009
	MethodConnect          Method = 0x00A
	MethodConnectionBind   Method = 0x00B
	MethodConnectionAttempt Method = 0x00C
)

func (m Method) String() string {
	switch m {
	case MethodBinding:
		return "Binding"
	case MethodAllocate:
		return "Allocate"
	case MethodRefresh:
		return "Refresh"
	case MethodSend:
		return "Send"
	case MethodData:
		return "Data"
	case MethodCreatePermission:
		return "CreatePermission"
	case MethodChannelBind:
		return "ChannelBind"
	case MethodConnect:
		return "Connect"
	case MethodConnectionBind:
		return "ConnectionBind"
	case MethodConnectionAttempt:
		return "ConnectionAttempt"
	default:
		return fmt.Sprintf("method(0x%x)", uint16(m))
	}
}

// Errors returned by Decode. Frame-level errors are meant to be dropped
// silently by callers per the codec's decode contract.
var (
	ErrMalformed     = errors.New("stun: malformed message")
	ErrBadFingerprint = errors.New("stun: fingerprint mismatch")
	ErrBadIntegrity  = errors.New("stun: message-integrity mismatch")
)

// UnknownAttrsError is returned when a message carries one or more
// unrecognized attributes whose type is below 0x8000 (mandatory to
// understand).
type UnknownAttrsError struct {
	Types []AttrType
}

func (e *UnknownAttrsError) Error() string {
	return fmt.Sprintf("stun: unknown mandatory attributes: %v", e.Types)
}

// TransactionID is the 96-bit random correlator carried in every message.
type TransactionID [TransactionIDSize]byte

// NewTransactionID generates a cryptographically random transaction ID.
//
// This uses crypto/rand directly rather than pion/randutil: randutil's
// crypto helper (GenerateCryptoRandomString) returns alphabet-based
// strings, not raw byte buffers, so it does not fit a 96-bit binary ID.
func NewTransactionID() (TransactionID, error) {
	var id TransactionID
	if _, err := rand.Read(id[:]); err != nil {
		return id, fmt.Errorf("stun: generate transaction id: %w", err)
	}
	return id, nil
}

// Message is a decoded STUN/TURN message: header fields plus an ordered
// list of attributes as they appeared (or will appear) on the wire.
type Message struct {
	Class         Class
	Method        Method
	TransactionID TransactionID
	Attributes    []RawAttribute
}

// NewMessage builds an empty message with a fresh transaction ID.
func NewMessage(class Class, method Method) (*Message, error) {
	tid, err := NewTransactionID()
	if err != nil {
		return nil, err
	}
	return &Message{Class: class, Method: method, TransactionID: tid}, nil
}

// msgType packs method and class into the 16-bit message type field.
// Method bits are split as 0-3, 4-6, 7-11; class bits are interleaved at
// positions 4 and 8, per RFC 5389 section 6.
func msgType(m Method, c Class) uint16 {
	method := uint16(m)
	a := method & 0x000F       // bits 0-3
	b := (method & 0x0070) << 1 // bits 4-6 -> 5-7
	d := (method & 0x0F80) << 2 // bits 7-11 -> 9-13
	c0 := uint16(c) & 0x01
	c1 := (uint16(c) & 0x02) >> 1
	return a | b | d | (c0 << 4) | (c1 << 8)
}

func splitMsgType(t uint16) (Method, Class) {
	c0 := (t >> 4) & 0x01
	c1 := (t >> 8) & 0x01
	class := Class(c0 | (c1 << 1))
	a := t & 0x000F
	b := (t >> 1) & 0x0070
	d := (t >> 2) & 0x0F80
	return Method(a | b | d), class
}

// Add appends a setter-produced attribute.
func (m *Message) Add(s Setter) error {
	return s.AddTo(m)
}

// Get returns the first attribute with the given type.
func (m *Message) Get(t AttrType) (RawAttribute, bool) {
	for _, a := range m.Attributes {
		if a.Type == t {
			return a, true
		}
	}
	return RawAttribute{}, false
}

// GetAll returns every attribute with the given type, in wire order.
func (m *Message) GetAll(t AttrType) []RawAttribute {
	var out []RawAttribute
	for _, a := range m.Attributes {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

// rawSetAttr replaces (or appends) the single attribute of the given type.
func (m *Message) rawSetAttr(t AttrType, v []byte) {
	for i, a := range m.Attributes {
		if a.Type == t {
			m.Attributes[i].Value = v
			return
		}
	}
	m.Attributes = append(m.Attributes, RawAttribute{Type: t, Value: v})
}

// pad4 returns n rounded up to the next multiple of 4.
func pad4(n int) int {
	return (n + 3) &^ 3
}

func putUint16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func putUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func getUint16(b []byte) uint16    { return binary.BigEndian.Uint16(b) }
func getUint32(b []byte) uint32    { return binary.BigEndian.Uint32(b) }
