package ice

import (
	"net"
	"sort"
	"strconv"
	"sync"
)

// CheckListState is a check list's overall progress (spec.md section 3).
type CheckListState int

// Recognized check-list states.
const (
	CheckListRunning CheckListState = iota
	CheckListCompleted
	CheckListFailed
)

func (s CheckListState) String() string {
	switch s {
	case CheckListRunning:
		return "running"
	case CheckListCompleted:
		return "completed"
	case CheckListFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CheckList holds one stream's ordered candidate pairs plus its
// triggered-check FIFO (spec.md section 3/4.6).
type CheckList struct {
	mu        sync.Mutex
	pairs     []*CandidatePair
	triggered []*CandidatePair
	state     CheckListState
	maxSize   int
}

// NewCheckList builds an empty check list capped at maxSize pairs
// (MAX_CHECK_LIST_SIZE).
func NewCheckList(maxSize int) *CheckList {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &CheckList{maxSize: maxSize}
}

// Build forms the cartesian product of local x remote candidates for
// every component of stream, constrained to equal transport + address
// family, redundancy-prunes it, orders it by pair priority descending,
// caps it at maxSize, and initializes per-foundation freezing: exactly
// one (the highest-priority) pair per component per foundation starts
// waiting, the rest start frozen (spec.md section 4.6).
func (cl *CheckList) Build(stream *Stream, isControlling bool) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	var candidates []*CandidatePair
	for _, c := range stream.Components() {
		for _, local := range c.LocalCandidates() {
			for _, remote := range c.RemoteCandidates() {
				if !addressFamilyMatch(local.IP, remote.IP) {
					continue
				}
				if local.Transport != remote.Transport {
					continue
				}
				candidates = append(candidates, newPair(local, remote, isControlling))
			}
		}
	}

	candidates = prune(candidates)

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})

	if len(candidates) > cl.maxSize {
		candidates = candidates[:cl.maxSize]
	}

	seenFoundation := make(map[string]bool) // per-component foundation already started waiting
	for _, p := range candidates {
		key := foundationComponentKey(p.Foundation, p.Local.ComponentID)
		if !seenFoundation[key] {
			p.State = PairWaiting
			seenFoundation[key] = true
		} else {
			p.State = PairFrozen
		}
	}

	cl.pairs = candidates
	cl.state = CheckListRunning
}

func foundationComponentKey(foundation string, componentID int) string {
	return foundation + "|" + strconv.Itoa(componentID)
}

// addressFamilyMatch reports whether a and b are both IPv4 or both IPv6.
func addressFamilyMatch(a, b net.IP) bool {
	return (a.To4() != nil) == (b.To4() != nil)
}

// prune drops redundant pairs per spec.md section 4.6: if two pairs
// share the same remote and their locals have the same base, only the
// higher-priority local survives.
func prune(pairs []*CandidatePair) []*CandidatePair {
	type key struct{ remote, base string }
	best := make(map[key]*CandidatePair)
	order := make([]key, 0, len(pairs))
	for _, p := range pairs {
		k := key{remote: p.Remote.Addr().String(), base: p.Local.Base.Addr().String()}
		existing, ok := best[k]
		if !ok {
			best[k] = p
			order = append(order, k)
			continue
		}
		if p.Priority > existing.Priority {
			best[k] = p
		}
	}
	out := make([]*CandidatePair, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

// Pairs returns a snapshot of the check list's pairs in priority order.
func (cl *CheckList) Pairs() []*CandidatePair {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	out := make([]*CandidatePair, len(cl.pairs))
	copy(out, cl.pairs)
	return out
}

// State returns the check list's overall state.
func (cl *CheckList) State() CheckListState {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.state
}

// AddTriggered enqueues a pair for an immediate check ahead of the
// ordinary pace-timer schedule, per spec.md section 4.7 ("triggered
// check" in the GLOSSARY).
func (cl *CheckList) AddTriggered(p *CandidatePair) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for _, existing := range cl.triggered {
		if existing == p {
			return
		}
	}
	cl.triggered = append(cl.triggered, p)
}

// PopTriggered dequeues the oldest triggered pair, if any.
func (cl *CheckList) PopTriggered() *CandidatePair {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if len(cl.triggered) == 0 {
		return nil
	}
	p := cl.triggered[0]
	cl.triggered = cl.triggered[1:]
	return p
}

// NextWaiting returns the highest-priority waiting pair, or nil if none
// remain; ties are broken by insertion order since Pairs() is already
// priority-sorted and stable (spec.md section 5's determinism
// guarantee).
func (cl *CheckList) NextWaiting() *CandidatePair {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for _, p := range cl.pairs {
		if p.State == PairWaiting {
			return p
		}
	}
	return nil
}

// Unfreeze transitions every frozen pair sharing foundation to waiting,
// per spec.md section 4.6 ("when a pair succeeds, all pairs sharing its
// foundation... transition frozen to waiting"). Callers apply this
// across every stream's check list, not just the one that succeeded.
func (cl *CheckList) Unfreeze(foundation string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for _, p := range cl.pairs {
		if p.State == PairFrozen && p.Foundation == foundation {
			p.State = PairWaiting
		}
	}
}

// Find returns the pair matching the given local/remote transport
// addresses, if present.
func (cl *CheckList) Find(local *LocalCandidate, remote *RemoteCandidate) *CandidatePair {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for _, p := range cl.pairs {
		if p.sameEndpoints(local, remote) {
			return p
		}
	}
	return nil
}

// AddPair appends a newly discovered pair (e.g. from peer-reflexive
// discovery) to the check list, respecting MAX_CHECK_LIST_SIZE.
func (cl *CheckList) AddPair(p *CandidatePair) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if len(cl.pairs) >= cl.maxSize {
		return
	}
	cl.pairs = append(cl.pairs, p)
	sort.SliceStable(cl.pairs, func(i, j int) bool { return cl.pairs[i].Priority > cl.pairs[j].Priority })
}

// updateState recomputes Running/Completed/Failed from the current pair
// states: Completed once every component covered by this check list has
// a nominated pair, Failed once every pair is in the failed state.
func (cl *CheckList) updateState() {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if len(cl.pairs) == 0 {
		return
	}
	allFailed := true
	nominatedByComponent := make(map[int]bool)
	for _, p := range cl.pairs {
		if p.State != PairFailed {
			allFailed = false
		}
		nominatedByComponent[p.Local.ComponentID] = nominatedByComponent[p.Local.ComponentID] || p.Nominated
	}
	allNominated := true
	for _, nominated := range nominatedByComponent {
		if !nominated {
			allNominated = false
		}
	}
	switch {
	case allNominated:
		cl.state = CheckListCompleted
	case allFailed:
		cl.state = CheckListFailed
	default:
		cl.state = CheckListRunning
	}
}

// pairCountForComponent is used by Component.Stats().
func (cl *CheckList) pairCountForComponent(componentID int) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	n := 0
	for _, p := range cl.pairs {
		if p.Local.ComponentID == componentID {
			n++
		}
	}
	return n
}
