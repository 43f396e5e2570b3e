package stun

import "fmt"

// Priority is the ICE PRIORITY attribute, carrying the sending candidate's
// (or peer-reflexive) priority.
type Priority struct{ Priority uint32 }

// AddTo implements Setter.
func (a Priority) AddTo(m *Message) error {
	v := make([]byte, 4)
	putUint32(v, a.Priority)
	m.rawSetAttr(AttrPriority, v)
	return nil
}

// GetFrom implements Getter.
func (a *Priority) GetFrom(m *Message) error {
	raw, ok := m.Get(AttrPriority)
	if !ok {
		return fmt.Errorf("stun: PRIORITY not present")
	}
	if len(raw.Value) != 4 {
		return ErrMalformed
	}
	a.Priority = getUint32(raw.Value)
	return nil
}

// UseCandidate is the zero-length ICE USE-CANDIDATE attribute.
type UseCandidate struct{}

// AddTo implements Setter.
func (UseCandidate) AddTo(m *Message) error {
	m.rawSetAttr(AttrUseCandidate, nil)
	return nil
}

// GetFrom implements Getter.
func (UseCandidate) GetFrom(m *Message) error {
	if _, ok := m.Get(AttrUseCandidate); !ok {
		return fmt.Errorf("stun: USE-CANDIDATE not present")
	}
	return nil
}

// tieBreakerAttr is the shared implementation for ICE-CONTROLLING and
// ICE-CONTROLLED, both of which carry a 64-bit tie-breaker.
type tieBreakerAttr struct {
	Type       AttrType
	TieBreaker uint64
}

func (a tieBreakerAttr) AddTo(m *Message) error {
	v := make([]byte, 8)
	putUint32(v[0:4], uint32(a.TieBreaker>>32))
	putUint32(v[4:8], uint32(a.TieBreaker))
	m.rawSetAttr(a.Type, v)
	return nil
}

func (a *tieBreakerAttr) GetFrom(m *Message) error {
	raw, ok := m.Get(a.Type)
	if !ok {
		return fmt.Errorf("stun: %s not present", a.Type)
	}
	if len(raw.Value) != 8 {
		return ErrMalformed
	}
	a.TieBreaker = uint64(getUint32(raw.Value[0:4]))<<32 | uint64(getUint32(raw.Value[4:8]))
	return nil
}

// IceControlling is the ICE-CONTROLLING attribute.
type IceControlling struct{ TieBreaker uint64 }

// AddTo implements Setter.
func (a IceControlling) AddTo(m *Message) error {
	return tieBreakerAttr{Type: AttrIceControlling, TieBreaker: a.TieBreaker}.AddTo(m)
}

// GetFrom implements Getter.
func (a *IceControlling) GetFrom(m *Message) error {
	var raw tieBreakerAttr
	raw.Type = AttrIceControlling
	if err := raw.GetFrom(m); err != nil {
		return err
	}
	a.TieBreaker = raw.TieBreaker
	return nil
}

// IceControlled is the ICE-CONTROLLED attribute.
type IceControlled struct{ TieBreaker uint64 }

// AddTo implements Setter.
func (a IceControlled) AddTo(m *Message) error {
	return tieBreakerAttr{Type: AttrIceControlled, TieBreaker: a.TieBreaker}.AddTo(m)
}

// GetFrom implements Getter.
func (a *IceControlled) GetFrom(m *Message) error {
	var raw tieBreakerAttr
	raw.Type = AttrIceControlled
	if err := raw.GetFrom(m); err != nil {
		return err
	}
	a.TieBreaker = raw.TieBreaker
	return nil
}
