package stun

import (
	"fmt"
	"net"
)

const (
	familyIPv4 byte = 0x01
	familyIPv6 byte = 0x02
)

func familyOf(ip net.IP) (byte, net.IP, error) {
	if v4 := ip.To4(); v4 != nil {
		return familyIPv4, v4, nil
	}
	if v6 := ip.To16(); v6 != nil {
		return familyIPv6, v6, nil
	}
	return 0, nil, fmt.Errorf("stun: unrecognized IP %v", ip)
}

func encodeAddress(ip net.IP, port int) ([]byte, error) {
	family, raw, err := familyOf(ip)
	if err != nil {
		return nil, err
	}
	v := make([]byte, 4+len(raw))
	v[1] = family
	putUint16(v[2:4], uint16(port))
	copy(v[4:], raw)
	return v, nil
}

func decodeAddress(v []byte) (net.IP, int, error) {
	if len(v) < 4 {
		return nil, 0, ErrMalformed
	}
	family := v[1]
	port := int(getUint16(v[2:4]))
	addr := v[4:]
	switch family {
	case familyIPv4:
		if len(addr) != 4 {
			return nil, 0, ErrMalformed
		}
	case familyIPv6:
		if len(addr) != 16 {
			return nil, 0, ErrMalformed
		}
	default:
		return nil, 0, ErrMalformed
	}
	ip := make(net.IP, len(addr))
	copy(ip, addr)
	return ip, port, nil
}

// xorAddress XORs each byte of addr against the magic-cookie+transaction-id
// keystream, per RFC 5389 section 15.2: the port is XORed against the top
// 16 bits of the magic cookie, the address against the cookie followed by
// the transaction ID, truncated to the address length.
func xorAddress(family byte, addr []byte, tid TransactionID) []byte {
	key := make([]byte, 4+TransactionIDSize)
	putUint32(key[0:4], MagicCookie)
	copy(key[4:], tid[:])

	out := make([]byte, len(addr))
	for i := range addr {
		out[i] = addr[i] ^ key[i]
	}
	return out
}

func xorPort(port int) uint16 {
	return uint16(port) ^ uint16(MagicCookie>>16)
}

func encodeXorAddress(ip net.IP, port int, tid TransactionID) ([]byte, error) {
	family, raw, err := familyOf(ip)
	if err != nil {
		return nil, err
	}
	xored := xorAddress(family, raw, tid)
	v := make([]byte, 4+len(xored))
	v[1] = family
	putUint16(v[2:4], xorPort(port))
	copy(v[4:], xored)
	return v, nil
}

func decodeXorAddress(v []byte, tid TransactionID) (net.IP, int, error) {
	if len(v) < 4 {
		return nil, 0, ErrMalformed
	}
	family := v[1]
	port := int(getUint16(v[2:4])) ^ int(MagicCookie>>16)
	addr := v[4:]
	switch family {
	case familyIPv4:
		if len(addr) != 4 {
			return nil, 0, ErrMalformed
		}
	case familyIPv6:
		if len(addr) != 16 {
			return nil, 0, ErrMalformed
		}
	default:
		return nil, 0, ErrMalformed
	}
	raw := xorAddress(family, addr, tid)
	ip := make(net.IP, len(raw))
	copy(ip, raw)
	return ip, port, nil
}

// addressAttr is the shared implementation for every plain (non-XOR)
// address attribute: MAPPED-ADDRESS, ALTERNATE-SERVER, RESPONSE-ADDRESS,
// SOURCE-ADDRESS, CHANGED-ADDRESS, REFLECTED-FROM, DESTINATION-ADDRESS.
type addressAttr struct {
	Type AttrType
	IP   net.IP
	Port int
}

func (a addressAttr) AddTo(m *Message) error {
	v, err := encodeAddress(a.IP, a.Port)
	if err != nil {
		return err
	}
	m.rawSetAttr(a.Type, v)
	return nil
}

func (a *addressAttr) GetFrom(m *Message) error {
	raw, ok := m.Get(a.Type)
	if !ok {
		return fmt.Errorf("stun: %s not present", a.Type)
	}
	ip, port, err := decodeAddress(raw.Value)
	if err != nil {
		return err
	}
	a.IP, a.Port = ip, port
	return nil
}

// xorAddressAttr is the shared implementation for the XOR address
// attributes: XOR-MAPPED-ADDRESS, XOR-PEER-ADDRESS, XOR-RELAYED-ADDRESS.
type xorAddressAttr struct {
	Type AttrType
	IP   net.IP
	Port int
}

func (a xorAddressAttr) AddTo(m *Message) error {
	v, err := encodeXorAddress(a.IP, a.Port, m.TransactionID)
	if err != nil {
		return err
	}
	m.rawSetAttr(a.Type, v)
	return nil
}

func (a *xorAddressAttr) GetFrom(m *Message) error {
	raw, ok := m.Get(a.Type)
	if !ok {
		return fmt.Errorf("stun: %s not present", a.Type)
	}
	ip, port, err := decodeXorAddress(raw.Value, m.TransactionID)
	if err != nil {
		return err
	}
	a.IP, a.Port = ip, port
	return nil
}

// MappedAddress is the MAPPED-ADDRESS attribute.
type MappedAddress struct {
	IP   net.IP
	Port int
}

// AddTo implements Setter.
func (a MappedAddress) AddTo(m *Message) error {
	return addressAttr{Type: AttrMappedAddress, IP: a.IP, Port: a.Port}.AddTo(m)
}

// GetFrom implements Getter.
func (a *MappedAddress) GetFrom(m *Message) error {
	var raw addressAttr
	raw.Type = AttrMappedAddress
	if err := raw.GetFrom(m); err != nil {
		return err
	}
	a.IP, a.Port = raw.IP, raw.Port
	return nil
}

// XorMappedAddress is the XOR-MAPPED-ADDRESS attribute.
type XorMappedAddress struct {
	IP   net.IP
	Port int
}

// AddTo implements Setter.
func (a XorMappedAddress) AddTo(m *Message) error {
	return xorAddressAttr{Type: AttrXorMappedAddress, IP: a.IP, Port: a.Port}.AddTo(m)
}

// GetFrom implements Getter.
func (a *XorMappedAddress) GetFrom(m *Message) error {
	var raw xorAddressAttr
	raw.Type = AttrXorMappedAddress
	if err := raw.GetFrom(m); err != nil {
		return err
	}
	a.IP, a.Port = raw.IP, raw.Port
	return nil
}

// XorPeerAddress is the TURN XOR-PEER-ADDRESS attribute.
type XorPeerAddress struct {
	IP   net.IP
	Port int
}

// AddTo implements Setter.
func (a XorPeerAddress) AddTo(m *Message) error {
	return xorAddressAttr{Type: AttrXorPeerAddress, IP: a.IP, Port: a.Port}.AddTo(m)
}

// GetFrom implements Getter.
func (a *XorPeerAddress) GetFrom(m *Message) error {
	var raw xorAddressAttr
	raw.Type = AttrXorPeerAddress
	if err := raw.GetFrom(m); err != nil {
		return err
	}
	a.IP, a.Port = raw.IP, raw.Port
	return nil
}

// XorRelayedAddress is the TURN XOR-RELAYED-ADDRESS attribute.
type XorRelayedAddress struct {
	IP   net.IP
	Port int
}

// AddTo implements Setter.
func (a XorRelayedAddress) AddTo(m *Message) error {
	return xorAddressAttr{Type: AttrXorRelayedAddress, IP: a.IP, Port: a.Port}.AddTo(m)
}

// GetFrom implements Getter.
func (a *XorRelayedAddress) GetFrom(m *Message) error {
	var raw xorAddressAttr
	raw.Type = AttrXorRelayedAddress
	if err := raw.GetFrom(m); err != nil {
		return err
	}
	a.IP, a.Port = raw.IP, raw.Port
	return nil
}

// AlternateServer is the ALTERNATE-SERVER attribute.
type AlternateServer struct {
	IP   net.IP
	Port int
}

// AddTo implements Setter.
func (a AlternateServer) AddTo(m *Message) error {
	return addressAttr{Type: AttrAlternateServer, IP: a.IP, Port: a.Port}.AddTo(m)
}

// GetFrom implements Getter.
func (a *AlternateServer) GetFrom(m *Message) error {
	var raw addressAttr
	raw.Type = AttrAlternateServer
	if err := raw.GetFrom(m); err != nil {
		return err
	}
	a.IP, a.Port = raw.IP, raw.Port
	return nil
}
