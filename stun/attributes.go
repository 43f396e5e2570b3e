package stun

import "fmt"

// AttrType is a STUN/TURN attribute type. Values below 0x8000 are mandatory
// to understand; Decode keeps an unrecognized one in that range, and
// RejectUnknown reports it in an UnknownAttrsError. Values at or above
// 0x8000 are optional and are preserved opaquely when not recognized.
type AttrType uint16

// Recognized attribute types (spec.md section 4.1).
const (
	AttrMappedAddress     AttrType = 0x0001
	AttrResponseAddress   AttrType = 0x0002
	AttrChangeRequest     AttrType = 0x0003
	AttrSourceAddress     AttrType = 0x0004
	AttrChangedAddress    AttrType = 0x0005
	AttrUsername          AttrType = 0x0006
	AttrPassword          AttrType = 0x0007
	AttrMessageIntegrity  AttrType = 0x0008
	AttrErrorCode         AttrType = 0x0009
	AttrUnknownAttributes AttrType = 0x000A
	AttrReflectedFrom     AttrType = 0x000B
	AttrChannelNumber     AttrType = 0x000C
	AttrLifetime          AttrType = 0x000D
	AttrXorPeerAddress    AttrType = 0x0012
	AttrData              AttrType = 0x0013
	AttrRealm             AttrType = 0x0014
	AttrNonce             AttrType = 0x0015
	AttrXorRelayedAddress AttrType = 0x0016
	AttrRequestedAddressFamily AttrType = 0x0017
	AttrEvenPort          AttrType = 0x0018
	AttrRequestedTransport AttrType = 0x0019
	AttrDontFragment      AttrType = 0x001A
	AttrXorMappedAddress  AttrType = 0x0020
	AttrReservationToken  AttrType = 0x0022
	AttrPriority          AttrType = 0x0024
	AttrUseCandidate      AttrType = 0x0025
	AttrSoftware          AttrType = 0x8022
	AttrAlternateServer   AttrType = 0x8023
	AttrFingerprint       AttrType = 0x8028
	AttrIceControlled     AttrType = 0x8029
	AttrIceControlling    AttrType = 0x802A
	AttrDestinationAddress AttrType = 0x8027
	AttrConnectionID      AttrType = 0x002A
)

func (t AttrType) String() string {
	switch t {
	case AttrMappedAddress:
		return "MAPPED-ADDRESS"
	case AttrResponseAddress:
		return "RESPONSE-ADDRESS"
	case AttrSourceAddress:
		return "SOURCE-ADDRESS"
	case AttrChangedAddress:
		return "CHANGED-ADDRESS"
	case AttrUsername:
		return "USERNAME"
	case AttrPassword:
		return "PASSWORD"
	case AttrMessageIntegrity:
		return "MESSAGE-INTEGRITY"
	case AttrErrorCode:
		return "ERROR-CODE"
	case AttrUnknownAttributes:
		return "UNKNOWN-ATTRIBUTES"
	case AttrReflectedFrom:
		return "REFLECTED-FROM"
	case AttrChannelNumber:
		return "CHANNEL-NUMBER"
	case AttrLifetime:
		return "LIFETIME"
	case AttrXorPeerAddress:
		return "XOR-PEER-ADDRESS"
	case AttrData:
		return "DATA"
	case AttrRealm:
		return "REALM"
	case AttrNonce:
		return "NONCE"
	case AttrXorRelayedAddress:
		return "XOR-RELAYED-ADDRESS"
	case AttrRequestedAddressFamily:
		return "REQUESTED-ADDRESS-FAMILY"
	case AttrEvenPort:
		return "EVEN-PORT"
	case AttrRequestedTransport:
		return "REQUESTED-TRANSPORT"
	case AttrDontFragment:
		return "DONT-FRAGMENT"
	case AttrXorMappedAddress:
		return "XOR-MAPPED-ADDRESS"
	case AttrReservationToken:
		return "RESERVATION-TOKEN"
	case AttrPriority:
		return "PRIORITY"
	case AttrUseCandidate:
		return "USE-CANDIDATE"
	case AttrSoftware:
		return "SOFTWARE"
	case AttrAlternateServer:
		return "ALTERNATE-SERVER"
	case AttrFingerprint:
		return "FINGERPRINT"
	case AttrIceControlled:
		return "ICE-CONTROLLED"
	case AttrIceControlling:
		return "ICE-CONTROLLING"
	case AttrDestinationAddress:
		return "DESTINATION-ADDRESS"
	case AttrConnectionID:
		return "CONNECTION-ID"
	default:
		return fmt.Sprintf("attr(0x%04x)", uint16(t))
	}
}

// Mandatory reports whether an unrecognized attribute of this type is
// reported by RejectUnknown (type < 0x8000).
func (t AttrType) Mandatory() bool {
	return t < 0x8000
}

// RawAttribute is the on-the-wire representation of one TLV attribute.
type RawAttribute struct {
	Type  AttrType
	Value []byte
}

// Setter encodes itself into a Message. Mirrors the AddTo/GetFrom
// attribute pattern used throughout the pion STUN/ICE/TURN stack.
type Setter interface {
	AddTo(m *Message) error
}

// Getter decodes itself out of a Message.
type Getter interface {
	GetFrom(m *Message) error
}

var knownAttrTypes = map[AttrType]bool{
	AttrMappedAddress: true, AttrResponseAddress: true, AttrSourceAddress: true,
	AttrChangedAddress: true, AttrUsername: true, AttrPassword: true,
	AttrMessageIntegrity: true, AttrErrorCode: true, AttrUnknownAttributes: true,
	AttrReflectedFrom: true, AttrChannelNumber: true, AttrLifetime: true,
	AttrXorPeerAddress: true, AttrData: true, AttrRealm: true, AttrNonce: true,
	AttrXorRelayedAddress: true, AttrRequestedAddressFamily: true, AttrEvenPort: true,
	AttrRequestedTransport: true, AttrDontFragment: true, AttrXorMappedAddress: true,
	AttrReservationToken: true, AttrPriority: true, AttrUseCandidate: true,
	AttrSoftware: true, AttrAlternateServer: true, AttrFingerprint: true,
	AttrIceControlled: true, AttrIceControlling: true, AttrDestinationAddress: true,
	AttrConnectionID: true,
}
