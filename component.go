package ice

import (
	"sync"
	"sync/atomic"
)

// ComponentStats exposes candidate and pair counts, whether a pair is
// nominated, and byte/packet counters per component. Modeled on the teacher's
// stats_go.go, supplementing spec.md (an ambient accessor any
// transport-ish component is expected to carry, short of the
// out-of-scope HTTP introspection endpoint).
type ComponentStats struct {
	LocalCandidates  int
	RemoteCandidates int
	Pairs            int
	Nominated        bool
	BytesSent        uint64
	BytesReceived    uint64
	PacketsSent      uint64
	PacketsReceived  uint64
}

// Component is a sub-stream requiring its own transport address within
// a media stream: 1 = RTP, 2 = RTCP (spec.md section 3).
type Component struct {
	ID     int
	Stream *Stream

	mu     sync.Mutex
	local  []*LocalCandidate
	remote []*RemoteCandidate

	defaultLocal  *LocalCandidate
	defaultRemote *RemoteCandidate

	selected atomic.Pointer[CandidatePair]

	bytesSent, bytesReceived     atomic.Uint64
	packetsSent, packetsReceived atomic.Uint64

	failed atomic.Bool
}

// NewComponent constructs a component owned by stream, initially empty
// of candidates (spec.md section 3's "at most one component per
// (stream, id)" invariant is enforced by Stream.AddComponent).
func NewComponent(stream *Stream, id int) *Component {
	return &Component{ID: id, Stream: stream}
}

// AddLocalCandidate registers a freshly harvested local candidate,
// rejecting a duplicate transport address per spec.md section 3's
// component invariant.
func (c *Component) AddLocalCandidate(cand *LocalCandidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.local {
		if existing.Addr().String() == cand.Addr().String() {
			return ErrDuplicateCandidate
		}
	}
	c.local = append(c.local, cand)
	if c.defaultLocal == nil {
		c.defaultLocal = cand
	}
	return nil
}

// AddRemoteCandidate registers a candidate received from the peer.
func (c *Component) AddRemoteCandidate(cand *RemoteCandidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.remote {
		if existing.Addr().String() == cand.Addr().String() {
			return
		}
	}
	c.remote = append(c.remote, cand)
	if c.defaultRemote == nil {
		c.defaultRemote = cand
	}
}

// LocalCandidates returns a snapshot of this component's local
// candidates.
func (c *Component) LocalCandidates() []*LocalCandidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*LocalCandidate, len(c.local))
	copy(out, c.local)
	return out
}

// RemoteCandidates returns a snapshot of this component's remote
// candidates.
func (c *Component) RemoteCandidates() []*RemoteCandidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*RemoteCandidate, len(c.remote))
	copy(out, c.remote)
	return out
}

// SelectedPair returns the component's currently selected pair, or nil
// before one has been nominated.
func (c *Component) SelectedPair() *CandidatePair { return c.selected.Load() }

// setSelectedPair installs the selected pair and marks it nominated,
// per spec.md section 4.6's "first nominated pair per component becomes
// the selected pair".
func (c *Component) setSelectedPair(p *CandidatePair) {
	p.Nominated = true
	c.selected.Store(p)
}

// Failed reports whether this component has transitioned to the failed
// state (spec.md section 7's NoValidPairs/ConsentLost outcomes).
func (c *Component) Failed() bool { return c.failed.Load() }

func (c *Component) markFailed() { c.failed.Store(true) }

// recordSent and recordReceived feed ComponentStats' counters; called
// from the connectivity-check and (once selected) application data
// paths.
func (c *Component) recordSent(n int) {
	c.bytesSent.Add(uint64(n))
	c.packetsSent.Add(1)
}

func (c *Component) recordReceived(n int) {
	c.bytesReceived.Add(uint64(n))
	c.packetsReceived.Add(1)
}

// Stats returns a snapshot of this component's counters and check-list
// position.
func (c *Component) Stats() ComponentStats {
	c.mu.Lock()
	nLocal, nRemote := len(c.local), len(c.remote)
	c.mu.Unlock()

	pairs := 0
	if cl := c.Stream.CheckList(); cl != nil {
		pairs = cl.pairCountForComponent(c.ID)
	}

	return ComponentStats{
		LocalCandidates:  nLocal,
		RemoteCandidates: nRemote,
		Pairs:            pairs,
		Nominated:        c.selected.Load() != nil,
		BytesSent:        c.bytesSent.Load(),
		BytesReceived:    c.bytesReceived.Load(),
		PacketsSent:      c.packetsSent.Load(),
		PacketsReceived:  c.packetsReceived.Load(),
	}
}

// Close releases every local candidate's owned socket. Non-selected
// candidates are released on agent termination (spec.md section 4.6);
// the selected pair's socket is released last by the agent itself since
// it may still be in use by the application.
func (c *Component) Close(keep *LocalCandidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cand := range c.local {
		if cand == keep || cand.Endpoint == nil {
			continue
		}
		_ = cand.Endpoint.Close()
	}
}
