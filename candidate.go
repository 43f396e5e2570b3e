package ice

import (
	"fmt"
	"net"
	"strconv"

	"github.com/corelink/ice/transport"
)

// CandidateType is the four RFC 8445 candidate kinds (spec.md section 3).
type CandidateType int

// Recognized candidate types.
const (
	CandidateTypeHost CandidateType = iota
	CandidateTypeServerReflexive
	CandidateTypePeerReflexive
	CandidateTypeRelay
)

func (t CandidateType) String() string {
	switch t {
	case CandidateTypeHost:
		return "host"
	case CandidateTypeServerReflexive:
		return "srflx"
	case CandidateTypePeerReflexive:
		return "prflx"
	case CandidateTypeRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// Preference returns the RFC 8445 type preference this spec adopts
// (spec.md section 3 and section 9's explicit correction of the
// source's inverted constants: host=40, relay=126 there, vs RFC values
// here).
func (t CandidateType) Preference() uint32 {
	switch t {
	case CandidateTypeHost:
		return 126
	case CandidateTypePeerReflexive:
		return 110
	case CandidateTypeServerReflexive:
		return 100
	case CandidateTypeRelay:
		return 0
	default:
		return 0
	}
}

// TCPType distinguishes RFC 6544 ICE-over-TCP candidate roles; zero
// value means the candidate is UDP.
type TCPType int

// Recognized TCP candidate roles.
const (
	TCPTypeNone TCPType = iota
	TCPTypeActive
	TCPTypePassive
	TCPTypeSimultaneousOpen
)

func (t TCPType) String() string {
	switch t {
	case TCPTypeActive:
		return "active"
	case TCPTypePassive:
		return "passive"
	case TCPTypeSimultaneousOpen:
		return "so"
	default:
		return "none"
	}
}

// Addr is the net.Addr implementation every candidate's transport
// address is expressed as, so it can be compared against
// transport.Frame.Local/Remote (*net.UDPAddr/*net.TCPAddr) by String().
type Addr struct {
	IP    net.IP
	Port  int
	Proto transport.Network
}

// Network implements net.Addr.
func (a Addr) Network() string { return a.Proto.String() }

// String implements net.Addr, matching net.UDPAddr/net.TCPAddr's
// "ip:port" rendering so frames can be routed by string key.
func (a Addr) String() string {
	return net.JoinHostPort(a.IP.String(), strconv.Itoa(a.Port))
}

// Candidate is the common, wire-relevant shape of a local or remote
// transport address plus ICE metadata (spec.md section 3).
type Candidate struct {
	Transport   transport.Network
	IP          net.IP
	Port        int
	Type        CandidateType
	Foundation  string
	ComponentID int
	Priority    uint32
	RelatedIP   net.IP
	RelatedPort int
	Ufrag       string
	TCPType     TCPType
}

// Addr returns the net.Addr form of this candidate's transport address.
func (c Candidate) Addr() Addr {
	return Addr{IP: c.IP, Port: c.Port, Proto: c.Transport}
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s %s %s", c.Transport, c.Type, c.Addr())
}

// computePriority implements spec.md section 3's priority formula:
// (type_preference << 24) | (local_preference << 8) | (256 - component_id).
func computePriority(typePref uint32, localPref uint16, componentID int) uint32 {
	return (typePref << 24) | (uint32(localPref) << 8) | uint32(256-componentID)
}

// localPreference encodes transport (UDP preferred over TCP) and
// address family (global IPv6 > IPv4 > link-local) into the 16-bit
// local-preference field of the priority formula, per spec.md section 3.
func localPreference(network transport.Network, ip net.IP) uint16 {
	var base uint16 = 32768
	if network != transport.NetworkUDP {
		base -= 8192
	}
	switch {
	case ip.To4() != nil:
		base += 4096
	case ip.IsLinkLocalUnicast():
		// leave base as-is: link-local IPv6 ranks lowest
	default:
		base += 8192 // global IPv6 ranks above IPv4
	}
	return base
}

// LocalCandidate extends Candidate with the back-pointers and owned
// resources spec.md section 3 describes: its component, its base (self
// for host/relay, the originating host for srflx/prflx), its socket,
// and (for relayed candidates) the TURN session that produced it.
type LocalCandidate struct {
	Candidate
	Component *Component
	Base      *LocalCandidate
	Endpoint  transport.Endpoint
	Relay     *turnSession

	harvesterName string
}

// NewHostCandidate builds a host candidate whose base is itself.
func NewHostCandidate(component *Component, network transport.Network, ip net.IP, port int, ufrag string) *LocalCandidate {
	c := &LocalCandidate{
		Candidate: Candidate{
			Transport:   network,
			IP:          ip,
			Port:        port,
			Type:        CandidateTypeHost,
			Foundation:  hostFoundation(network, ip),
			ComponentID: component.ID,
			Ufrag:       ufrag,
		},
		Component: component,
	}
	c.Priority = computePriority(c.Type.Preference(), localPreference(network, ip), component.ID)
	c.Base = c
	return c
}

// NewDerivedCandidate builds a server-reflexive, peer-reflexive, or
// relayed candidate whose base is an existing local (usually host)
// candidate.
func NewDerivedCandidate(base *LocalCandidate, kind CandidateType, ip net.IP, port int) *LocalCandidate {
	component := base.Component
	c := &LocalCandidate{
		Candidate: Candidate{
			Transport:   base.Transport,
			IP:          ip,
			Port:        port,
			Type:        kind,
			Foundation:  derivedFoundation(kind, base),
			ComponentID: component.ID,
			RelatedIP:   base.IP,
			RelatedPort: base.Port,
			Ufrag:       base.Ufrag,
			TCPType:     base.TCPType,
		},
		Component: component,
	}
	if kind == CandidateTypeRelay {
		c.Base = c
	} else {
		c.Base = base
	}
	c.Priority = computePriority(kind.Preference(), localPreference(base.Transport, ip), component.ID)
	return c
}

// hostFoundation and derivedFoundation implement "same kind, same
// source" foundation correlation (spec.md GLOSSARY): candidates that
// would be indistinguishable at the application layer share a
// foundation so pair progress on one unfreezes the others.
func hostFoundation(network transport.Network, ip net.IP) string {
	return fmt.Sprintf("host-%s-%s", network, ip)
}

func derivedFoundation(kind CandidateType, base *LocalCandidate) string {
	return fmt.Sprintf("%s-%s-%s", kind, base.Transport, base.IP)
}

// RemoteCandidate extends Candidate with only the fields carried over
// the wire (spec.md section 3).
type RemoteCandidate struct {
	Candidate
}

// NewRemoteCandidate wraps a candidate description received out of
// band from the peer.
func NewRemoteCandidate(c Candidate) *RemoteCandidate {
	return &RemoteCandidate{Candidate: c}
}

// NewPeerReflexiveRemoteCandidate builds the remote candidate spec.md
// section 4.7 describes discovering from an inbound Binding request's
// source address and PRIORITY attribute.
func NewPeerReflexiveRemoteCandidate(componentID int, addr Addr, priority uint32, ufrag string) *RemoteCandidate {
	return &RemoteCandidate{Candidate: Candidate{
		Transport:   addr.Proto,
		IP:          addr.IP,
		Port:        addr.Port,
		Type:        CandidateTypePeerReflexive,
		Foundation:  fmt.Sprintf("prflx-%s", addr),
		ComponentID: componentID,
		Priority:    priority,
		Ufrag:       ufrag,
	}}
}
