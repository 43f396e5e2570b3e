package ice

import (
	"fmt"
	"time"

	"github.com/corelink/ice/stun"
)

// PairState is a candidate pair's position in the check-list state
// machine (spec.md section 3).
type PairState int

// Recognized pair states.
const (
	PairFrozen PairState = iota
	PairWaiting
	PairInProgress
	PairSucceeded
	PairFailed
)

func (s PairState) String() string {
	switch s {
	case PairFrozen:
		return "frozen"
	case PairWaiting:
		return "waiting"
	case PairInProgress:
		return "in-progress"
	case PairSucceeded:
		return "succeeded"
	case PairFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CandidatePair is one (local, remote) candidate pair in a component's
// check list (spec.md section 3).
type CandidatePair struct {
	Local      *LocalCandidate
	Remote     *RemoteCandidate
	Foundation string
	Priority   uint64
	State      PairState
	Nominated  bool

	UseCandidateReceived bool
	LastTransactionID    stun.TransactionID

	bindingRequestCount int
	lastCheckSent       time.Time
	component           *Component
}

// newPair builds a pair with its priority and foundation computed from
// its endpoints, per spec.md section 3/4.6.
func newPair(local *LocalCandidate, remote *RemoteCandidate, isControlling bool) *CandidatePair {
	var controlling, controlled uint32
	if isControlling {
		controlling, controlled = local.Priority, remote.Priority
	} else {
		controlling, controlled = remote.Priority, local.Priority
	}
	return &CandidatePair{
		Local:      local,
		Remote:     remote,
		Foundation: local.Foundation + "_" + remote.Foundation,
		Priority:   pairPriority(controlling, controlled),
		State:      PairFrozen,
		component:  local.Component,
	}
}

// pairPriority implements spec.md section 3: 2^32*min(G,D) + 2*max(G,D)
// + (G>D?1:0), where G is the controlling side's candidate priority and
// D is the controlled side's.
func pairPriority(g, d uint32) uint64 {
	var min, max uint64
	if g < d {
		min, max = uint64(g), uint64(d)
	} else {
		min, max = uint64(d), uint64(g)
	}
	p := (uint64(1)<<32)*min + 2*max
	if g > d {
		p++
	}
	return p
}

func (p *CandidatePair) String() string {
	return fmt.Sprintf("%s <-> %s [%s, prio=%d, nominated=%v]", p.Local.Addr(), p.Remote.Addr(), p.State, p.Priority, p.Nominated)
}

// sameEndpoints reports whether p pairs the same local/remote transport
// addresses as other (used for check-list membership tests). net.IP is
// a byte slice, so Addr is compared by its String() form rather than ==.
func (p *CandidatePair) sameEndpoints(local *LocalCandidate, remote *RemoteCandidate) bool {
	return p.Local.Addr().String() == local.Addr().String() && p.Remote.Addr().String() == remote.Addr().String()
}
