package stun

import "fmt"

// textAttr is the shared implementation for UTF-8 string attributes:
// USERNAME, REALM, NONCE, SOFTWARE.
type textAttr struct {
	Type AttrType
	Text string
}

func (a textAttr) AddTo(m *Message) error {
	m.rawSetAttr(a.Type, []byte(a.Text))
	return nil
}

func (a *textAttr) GetFrom(m *Message) error {
	raw, ok := m.Get(a.Type)
	if !ok {
		return fmt.Errorf("stun: %s not present", a.Type)
	}
	a.Text = string(raw.Value)
	return nil
}

// Username is the USERNAME attribute. Per RFC 8489 the value is SASLprep
// normalized before use as a credential; normalization happens at the
// credential-lookup boundary (see the ice package's credential manager),
// not in the codec.
type Username struct{ Username string }

// AddTo implements Setter.
func (a Username) AddTo(m *Message) error {
	return textAttr{Type: AttrUsername, Text: a.Username}.AddTo(m)
}

// GetFrom implements Getter.
func (a *Username) GetFrom(m *Message) error {
	var raw textAttr
	raw.Type = AttrUsername
	if err := raw.GetFrom(m); err != nil {
		return err
	}
	a.Username = raw.Text
	return nil
}

// Realm is the REALM attribute.
type Realm struct{ Realm string }

// AddTo implements Setter.
func (a Realm) AddTo(m *Message) error { return textAttr{Type: AttrRealm, Text: a.Realm}.AddTo(m) }

// GetFrom implements Getter.
func (a *Realm) GetFrom(m *Message) error {
	var raw textAttr
	raw.Type = AttrRealm
	if err := raw.GetFrom(m); err != nil {
		return err
	}
	a.Realm = raw.Text
	return nil
}

// Nonce is the NONCE attribute.
type Nonce struct{ Nonce string }

// AddTo implements Setter.
func (a Nonce) AddTo(m *Message) error { return textAttr{Type: AttrNonce, Text: a.Nonce}.AddTo(m) }

// GetFrom implements Getter.
func (a *Nonce) GetFrom(m *Message) error {
	var raw textAttr
	raw.Type = AttrNonce
	if err := raw.GetFrom(m); err != nil {
		return err
	}
	a.Nonce = raw.Text
	return nil
}

// Software is the SOFTWARE attribute.
type Software struct{ Software string }

// AddTo implements Setter.
func (a Software) AddTo(m *Message) error {
	return textAttr{Type: AttrSoftware, Text: a.Software}.AddTo(m)
}

// GetFrom implements Getter.
func (a *Software) GetFrom(m *Message) error {
	var raw textAttr
	raw.Type = AttrSoftware
	if err := raw.GetFrom(m); err != nil {
		return err
	}
	a.Software = raw.Text
	return nil
}
