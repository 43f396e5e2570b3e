package stun

import "fmt"

// Encode serializes m to wire format. If m carries a MESSAGE-INTEGRITY or
// FINGERPRINT attribute (added via Setter), both are stripped and
// recomputed so they land last, integrity before fingerprint, per
// spec.md section 4.1's encoding contract. integrityKey selects the
// MESSAGE-INTEGRITY key; pass nil if the message carries none.
func Encode(m *Message, integrityKey []byte, alwaysFingerprint bool) ([]byte, error) {
	attrs := make([]RawAttribute, 0, len(m.Attributes))
	haveIntegrity := false
	haveFingerprint := false
	for _, a := range m.Attributes {
		switch a.Type {
		case AttrMessageIntegrity:
			haveIntegrity = true
		case AttrFingerprint:
			haveFingerprint = true
		default:
			attrs = append(attrs, a)
		}
	}

	body := encodeAttrs(attrs)
	head := make([]byte, headerSize)
	putUint16(head[0:2], msgType(m.Method, m.Class))
	putUint32(head[4:8], MagicCookie)
	copy(head[8:20], m.TransactionID[:])

	buf := append(head, body...)

	if haveIntegrity && integrityKey != nil {
		// data-length covers attributes up to and including this one
		// (24 bytes of integrity TLV: 4 header + 20 HMAC), computed over
		// everything preceding it.
		putUint16(buf[2:4], uint16(len(buf)-headerSize+4+20))
		mac := computeIntegrity(buf, integrityKey)
		buf = appendAttr(buf, AttrMessageIntegrity, mac)
	}

	if haveFingerprint || alwaysFingerprint {
		putUint16(buf[2:4], uint16(len(buf)-headerSize+4+4))
		fp := computeFingerprint(buf)
		fpVal := make([]byte, 4)
		putUint32(fpVal, fp)
		buf = appendAttr(buf, AttrFingerprint, fpVal)
	}

	putUint16(buf[2:4], uint16(len(buf)-headerSize))
	return buf, nil
}

func appendAttr(buf []byte, t AttrType, value []byte) []byte {
	hdr := make([]byte, 4)
	putUint16(hdr[0:2], uint16(t))
	putUint16(hdr[2:4], uint16(len(value)))
	buf = append(buf, hdr...)
	buf = append(buf, value...)
	padded := pad4(len(value)) - len(value)
	for i := 0; i < padded; i++ {
		buf = append(buf, 0)
	}
	return buf
}

func encodeAttrs(attrs []RawAttribute) []byte {
	var buf []byte
	for _, a := range attrs {
		buf = appendAttr(buf, a.Type, a.Value)
	}
	return buf
}

// Decode parses b into a Message. It fails with ErrMalformed on any header,
// length or padding inconsistency and with ErrBadFingerprint when a
// FINGERPRINT attribute is present and does not match. Every attribute is
// kept as decoded: unrecognized mandatory-to-understand attributes (type <
// 0x8000) are not rejected here; RejectUnknown reports them.
func Decode(b []byte) (*Message, error) {
	if len(b) < headerSize {
		return nil, ErrMalformed
	}
	t := getUint16(b[0:2])
	length := int(getUint16(b[2:4]))
	cookie := getUint32(b[4:8])
	if cookie != MagicCookie {
		return nil, ErrMalformed
	}
	if headerSize+length != len(b) {
		return nil, ErrMalformed
	}

	method, class := splitMsgType(t)
	m := &Message{Class: class, Method: method}
	copy(m.TransactionID[:], b[8:20])

	body := b[headerSize:]
	off := 0
	for off < len(body) {
		if off+4 > len(body) {
			return nil, ErrMalformed
		}
		at := AttrType(getUint16(body[off : off+2]))
		alen := int(getUint16(body[off+2 : off+4]))
		off += 4
		if off+alen > len(body) {
			return nil, ErrMalformed
		}
		val := body[off : off+alen]
		off += pad4(alen)
		if off > len(body) {
			return nil, ErrMalformed
		}
		m.Attributes = append(m.Attributes, RawAttribute{Type: at, Value: val})

		if at == AttrFingerprint {
			// FINGERPRINT must be the last attribute when present; the
			// bytes preceding it (with data-length patched to end here)
			// are what it was computed over.
			patched := make([]byte, headerSize+off-8)
			copy(patched, b[:headerSize+off-8])
			putUint16(patched[2:4], uint16(off))
			want := getUint32(val)
			got := computeFingerprint(patched)
			if want != got {
				return nil, ErrBadFingerprint
			}
		}
	}

	return m, nil
}

// RejectUnknown returns an UnknownAttrsError listing every mandatory
// (type < 0x8000) attribute in m not in the known-attribute registry.
func RejectUnknown(m *Message) error {
	var unknown []AttrType
	for _, a := range m.Attributes {
		if a.Type.Mandatory() && !knownAttrTypes[a.Type] {
			unknown = append(unknown, a.Type)
		}
	}
	if len(unknown) > 0 {
		return &UnknownAttrsError{Types: unknown}
	}
	return nil
}

// VerifyIntegrity validates MESSAGE-INTEGRITY against key, reconstructing
// the length prefix as it was at signing time (up to and including the
// integrity attribute, excluding FINGERPRINT if present after it).
func VerifyIntegrity(raw []byte, m *Message, key []byte) error {
	attr, ok := m.Get(AttrMessageIntegrity)
	if !ok {
		return ErrBadIntegrity
	}
	if len(attr.Value) != 20 {
		return ErrBadIntegrity
	}

	// Find offset of the MESSAGE-INTEGRITY attribute in raw to truncate
	// and patch the length the way Encode computed it.
	off := indexOfAttr(raw, AttrMessageIntegrity)
	if off < 0 {
		return ErrBadIntegrity
	}
	upTo := off // byte offset of the MI attribute header within raw
	patched := make([]byte, upTo)
	copy(patched, raw[:upTo])
	putUint16(patched[2:4], uint16(upTo-headerSize+4+20))

	mac := computeIntegrity(patched, key)
	if !hmacEqual(mac, attr.Value) {
		return ErrBadIntegrity
	}
	return nil
}

func indexOfAttr(raw []byte, t AttrType) int {
	if len(raw) < headerSize {
		return -1
	}
	off := headerSize
	for off+4 <= len(raw) {
		at := AttrType(getUint16(raw[off : off+2]))
		alen := int(getUint16(raw[off+2 : off+4]))
		if at == t {
			return off
		}
		off += 4 + pad4(alen)
	}
	return -1
}

func hmacEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}

func (m *Message) String() string {
	return fmt.Sprintf("%s %s id=%x attrs=%d", m.Method, m.Class, m.TransactionID, len(m.Attributes))
}
