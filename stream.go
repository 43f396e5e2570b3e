package ice

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pion/randutil"
)

const (
	ufragLength    = 8
	passwordLength = 22
)

var ufragCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// generateCredential draws a uniformly random string of n characters
// using pion/randutil, matching the teacher's and pack's established
// way of generating every random token (rtpsender.go, examples/internal/
// signal/rand.go) instead of a hand-rolled crypto/rand helper.
func generateCredential(n int) (string, error) {
	s, err := randutil.GenerateCryptoRandomString(n, ufragCharset)
	if err != nil {
		return "", fmt.Errorf("ice: generate credential: %w", err)
	}
	return s, nil
}

// Stream is one media stream: a named group of components sharing a
// single short-term credential pair (spec.md section 3).
type Stream struct {
	Name string

	LocalUfrag    string
	LocalPassword string

	mu             sync.RWMutex
	remoteUfrag    string
	remotePassword string

	components map[int]*Component
	checkList  *CheckList

	agent *Agent
}

// NewStream generates a fresh local ufrag/password pair (8 and 22
// characters respectively, per spec.md section 3) and returns an empty
// stream owned by agent.
func NewStream(agent *Agent, name string) (*Stream, error) {
	ufrag, err := generateCredential(ufragLength)
	if err != nil {
		return nil, err
	}
	pwd, err := generateCredential(passwordLength)
	if err != nil {
		return nil, err
	}
	return &Stream{
		Name:          name,
		LocalUfrag:    ufrag,
		LocalPassword: pwd,
		components:    make(map[int]*Component),
		agent:         agent,
	}, nil
}

// AddComponent creates and registers a new component, enforcing
// spec.md section 3's "at most one component per (stream, id)"
// invariant.
func (s *Stream) AddComponent(id int) (*Component, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.components[id]; exists {
		return nil, ErrDuplicateComponent
	}
	c := NewComponent(s, id)
	s.components[id] = c
	return c, nil
}

// Component looks up a component by id.
func (s *Stream) Component(id int) (*Component, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.components[id]
	return c, ok
}

// Components returns every component of this stream, ordered by id.
func (s *Stream) Components() []*Component {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Component, 0, len(s.components))
	for _, c := range s.components {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetRemoteCredentials installs the peer's ufrag/password, exchanged
// out-of-band via the application's signalling channel (spec.md
// section 3).
func (s *Stream) SetRemoteCredentials(ufrag, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteUfrag = ufrag
	s.remotePassword = password
}

// RemoteCredentials returns the peer's ufrag/password.
func (s *Stream) RemoteCredentials() (ufrag, password string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remoteUfrag, s.remotePassword
}

// CheckList returns this stream's check list, or nil before Agent.Start
// has built it.
func (s *Stream) CheckList() *CheckList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkList
}

func (s *Stream) setCheckList(cl *CheckList) {
	s.mu.Lock()
	s.checkList = cl
	s.mu.Unlock()
}
