package stun

import "fmt"

// Transport protocol numbers carried in REQUESTED-TRANSPORT (RFC 5766
// section 14.7); only UDP (17) is used by a TURN client.
const TransportUDP = 17

// ChannelNumber is the TURN CHANNEL-NUMBER attribute. Valid channel
// numbers are restricted to [0x4000, 0x7FFF] per RFC 5766 section 11.
type ChannelNumber struct{ Number uint16 }

// AddTo implements Setter.
func (a ChannelNumber) AddTo(m *Message) error {
	v := make([]byte, 4)
	putUint16(v[0:2], a.Number)
	m.rawSetAttr(AttrChannelNumber, v)
	return nil
}

// GetFrom implements Getter.
func (a *ChannelNumber) GetFrom(m *Message) error {
	raw, ok := m.Get(AttrChannelNumber)
	if !ok {
		return fmt.Errorf("stun: CHANNEL-NUMBER not present")
	}
	if len(raw.Value) < 2 {
		return ErrMalformed
	}
	a.Number = getUint16(raw.Value[0:2])
	return nil
}

// Lifetime is the TURN LIFETIME attribute, in seconds.
type Lifetime struct{ Seconds uint32 }

// AddTo implements Setter.
func (a Lifetime) AddTo(m *Message) error {
	v := make([]byte, 4)
	putUint32(v, a.Seconds)
	m.rawSetAttr(AttrLifetime, v)
	return nil
}

// GetFrom implements Getter.
func (a *Lifetime) GetFrom(m *Message) error {
	raw, ok := m.Get(AttrLifetime)
	if !ok {
		return fmt.Errorf("stun: LIFETIME not present")
	}
	if len(raw.Value) != 4 {
		return ErrMalformed
	}
	a.Seconds = getUint32(raw.Value)
	return nil
}

// Data is the TURN DATA attribute carrying a relayed application payload.
type Data struct{ Data []byte }

// AddTo implements Setter.
func (a Data) AddTo(m *Message) error {
	m.rawSetAttr(AttrData, a.Data)
	return nil
}

// GetFrom implements Getter.
func (a *Data) GetFrom(m *Message) error {
	raw, ok := m.Get(AttrData)
	if !ok {
		return fmt.Errorf("stun: DATA not present")
	}
	a.Data = raw.Value
	return nil
}

// EvenPort is the TURN EVEN-PORT attribute.
type EvenPort struct{ ReserveNext bool }

// AddTo implements Setter.
func (a EvenPort) AddTo(m *Message) error {
	v := make([]byte, 1)
	if a.ReserveNext {
		v[0] = 0x80
	}
	m.rawSetAttr(AttrEvenPort, v)
	return nil
}

// GetFrom implements Getter.
func (a *EvenPort) GetFrom(m *Message) error {
	raw, ok := m.Get(AttrEvenPort)
	if !ok {
		return fmt.Errorf("stun: EVEN-PORT not present")
	}
	if len(raw.Value) < 1 {
		return ErrMalformed
	}
	a.ReserveNext = raw.Value[0]&0x80 != 0
	return nil
}

// RequestedTransport is the TURN REQUESTED-TRANSPORT attribute.
type RequestedTransport struct{ Protocol byte }

// AddTo implements Setter.
func (a RequestedTransport) AddTo(m *Message) error {
	v := make([]byte, 4)
	v[0] = a.Protocol
	m.rawSetAttr(AttrRequestedTransport, v)
	return nil
}

// GetFrom implements Getter.
func (a *RequestedTransport) GetFrom(m *Message) error {
	raw, ok := m.Get(AttrRequestedTransport)
	if !ok {
		return fmt.Errorf("stun: REQUESTED-TRANSPORT not present")
	}
	if len(raw.Value) < 1 {
		return ErrMalformed
	}
	a.Protocol = raw.Value[0]
	return nil
}

// DontFragment is the zero-length TURN DONT-FRAGMENT attribute.
type DontFragment struct{}

// AddTo implements Setter.
func (DontFragment) AddTo(m *Message) error {
	m.rawSetAttr(AttrDontFragment, nil)
	return nil
}

// GetFrom implements Getter.
func (DontFragment) GetFrom(m *Message) error {
	if _, ok := m.Get(AttrDontFragment); !ok {
		return fmt.Errorf("stun: DONT-FRAGMENT not present")
	}
	return nil
}

// ReservationToken is the TURN RESERVATION-TOKEN attribute.
type ReservationToken struct{ Token [8]byte }

// AddTo implements Setter.
func (a ReservationToken) AddTo(m *Message) error {
	v := make([]byte, 8)
	copy(v, a.Token[:])
	m.rawSetAttr(AttrReservationToken, v)
	return nil
}

// GetFrom implements Getter.
func (a *ReservationToken) GetFrom(m *Message) error {
	raw, ok := m.Get(AttrReservationToken)
	if !ok {
		return fmt.Errorf("stun: RESERVATION-TOKEN not present")
	}
	if len(raw.Value) != 8 {
		return ErrMalformed
	}
	copy(a.Token[:], raw.Value)
	return nil
}

// RequestedAddressFamily is the TURN REQUESTED-ADDRESS-FAMILY attribute
// (RFC 8656); only IPv4 is exercised by this client.
type RequestedAddressFamily struct{ Family byte }

// AddTo implements Setter.
func (a RequestedAddressFamily) AddTo(m *Message) error {
	v := make([]byte, 4)
	v[0] = a.Family
	m.rawSetAttr(AttrRequestedAddressFamily, v)
	return nil
}

// GetFrom implements Getter.
func (a *RequestedAddressFamily) GetFrom(m *Message) error {
	raw, ok := m.Get(AttrRequestedAddressFamily)
	if !ok {
		return fmt.Errorf("stun: REQUESTED-ADDRESS-FAMILY not present")
	}
	if len(raw.Value) < 1 {
		return ErrMalformed
	}
	a.Family = raw.Value[0]
	return nil
}

// ConnectionID is the TURN-TCP CONNECTION-ID attribute (RFC 6062).
type ConnectionID struct{ ID uint32 }

// AddTo implements Setter.
func (a ConnectionID) AddTo(m *Message) error {
	v := make([]byte, 4)
	putUint32(v, a.ID)
	m.rawSetAttr(AttrConnectionID, v)
	return nil
}

// GetFrom implements Getter.
func (a *ConnectionID) GetFrom(m *Message) error {
	raw, ok := m.Get(AttrConnectionID)
	if !ok {
		return fmt.Errorf("stun: CONNECTION-ID not present")
	}
	if len(raw.Value) != 4 {
		return ErrMalformed
	}
	a.ID = getUint32(raw.Value)
	return nil
}

// ChannelData is a TURN ChannelData frame, which bypasses STUN framing
// entirely: a 2-byte channel number, 2-byte length, payload, then padding
// to a 4-byte boundary.
type ChannelData struct {
	Channel uint16
	Data    []byte
}

// Encode serializes the ChannelData frame.
func (c ChannelData) Encode() []byte {
	buf := make([]byte, 4+len(c.Data))
	putUint16(buf[0:2], c.Channel)
	putUint16(buf[2:4], uint16(len(c.Data)))
	copy(buf[4:], c.Data)
	pad := pad4(len(c.Data)) - len(c.Data)
	return append(buf, make([]byte, pad)...)
}

// DecodeChannelData parses a ChannelData frame.
func DecodeChannelData(b []byte) (ChannelData, error) {
	if len(b) < 4 {
		return ChannelData{}, ErrMalformed
	}
	channel := getUint16(b[0:2])
	if channel < 0x4000 || channel > 0x7FFF {
		return ChannelData{}, ErrMalformed
	}
	length := int(getUint16(b[2:4]))
	if 4+length > len(b) {
		return ChannelData{}, ErrMalformed
	}
	return ChannelData{Channel: channel, Data: b[4 : 4+length]}, nil
}
