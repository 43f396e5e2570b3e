package ice

import (
	"context"
	"fmt"
	"sync"

	"github.com/corelink/ice/transport"
	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/randutil"
)

// AgentState is the agent's overall lifecycle position (spec.md
// section 4.6's state diagram, collapsed to the states observable from
// outside a single check list).
type AgentState int

// Recognized agent states.
const (
	AgentStateNew AgentState = iota
	AgentStateGathering
	AgentStateRunning
	AgentStateCompleted
	AgentStateFailed
	AgentStateClosed
)

func (s AgentState) String() string {
	switch s {
	case AgentStateNew:
		return "new"
	case AgentStateGathering:
		return "gathering"
	case AgentStateRunning:
		return "running"
	case AgentStateCompleted:
		return "completed"
	case AgentStateFailed:
		return "failed"
	case AgentStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Agent is the central ICE agent (spec.md section 4): it owns every
// media stream, the stun stack, the configured harvesters, and the
// pacing/consent workers, and drives the state machine described in
// section 4.6.
type Agent struct {
	// ID uniquely identifies this agent instance across a process's
	// lifetime; it has no protocol meaning and exists purely to
	// correlate this agent's log lines when several agents run at once.
	ID string

	log      logging.LeveledLogger
	settings *SettingEngine
	stack    *Stack
	events   eventHandlers

	harvesters []Harvester

	mu             sync.RWMutex
	state          AgentState
	gatheringState GatheringState
	controlling    bool
	tieBreaker     uint64
	streams        map[string]*Stream
	streamOrder    []string
	consents       map[string]*consentMonitor

	pacer *pacer

	taskCh    chan func()
	done      chan struct{}
	closeOnce sync.Once
}

// NewAgent constructs an agent with its own stun stack and a fresh
// random tie-breaker (spec.md section 4.6's "new" state); it gathers no
// candidates and starts no checks until GatherCandidates/Start are
// called.
func NewAgent(settings *SettingEngine) (*Agent, error) {
	if settings == nil {
		settings = NewSettingEngine()
	}
	id := uuid.NewString()
	a := &Agent{
		ID:       id,
		log:      settings.loggerFactoryOrDefault().NewLogger("ice " + id[:8]),
		settings: settings,
		stack:    NewStack(settings),
		streams:  make(map[string]*Stream),
		consents: make(map[string]*consentMonitor),
		taskCh:   make(chan func(), 64),
		done:     make(chan struct{}),
		// tie-breaker drawn with pion/randutil's math-random generator,
		// matching the teacher's vendored ICE agent (tieBreaker field).
		tieBreaker: randutil.NewMathRandomGenerator().Uint64(),
	}
	a.pacer = newPacer(settings.pacing.Ta)
	go a.loop()
	return a, nil
}

func (a *Agent) loop() {
	for {
		select {
		case fn := <-a.taskCh:
			fn()
		case <-a.done:
			return
		}
	}
}

// run serializes fn onto the agent's single mutation goroutine, so
// inbound STUN handling, pace-timer ticks and transaction completions
// never race each other while mutating a check list or component.
func (a *Agent) run(fn func()) {
	select {
	case a.taskCh <- fn:
	case <-a.done:
	}
}

// AddHarvester registers a candidate harvester to be run by
// GatherCandidates, in registration order.
func (a *Agent) AddHarvester(h Harvester) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.harvesters = append(a.harvesters, h)
}

// AddStream creates (or returns the existing) named media stream with
// freshly generated local ICE credentials, and registers those
// credentials with the stun stack's credential manager (spec.md
// section 3).
func (a *Agent) AddStream(name string) (*Stream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.streams[name]; ok {
		return existing, nil
	}
	s, err := NewStream(a, name)
	if err != nil {
		return nil, err
	}
	a.streams[name] = s
	a.streamOrder = append(a.streamOrder, name)
	a.stack.Credentials.Set(s.LocalUfrag, CredentialsAuthority{Password: s.LocalPassword})
	return s, nil
}

// Stream looks up a stream by name.
func (a *Agent) Stream(name string) (*Stream, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.streams[name]
	return s, ok
}

// Streams returns every stream in registration order.
func (a *Agent) Streams() []*Stream {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Stream, 0, len(a.streamOrder))
	for _, name := range a.streamOrder {
		out = append(out, a.streams[name])
	}
	return out
}

// IsControlling reports the agent's current ICE role.
func (a *Agent) IsControlling() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.controlling
}

// State returns the agent's current lifecycle state.
func (a *Agent) State() AgentState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Agent) switchRole() {
	a.mu.Lock()
	a.controlling = !a.controlling
	a.mu.Unlock()
	a.log.Infof("ice: role conflict resolved, now controlling=%v", a.IsControlling())
}

func (a *Agent) setGatheringState(s GatheringState) {
	a.mu.Lock()
	a.gatheringState = s
	a.mu.Unlock()
	a.events.fireGatheringState(s)
}

// GatherCandidates runs every configured harvester against every
// component of every stream, registering each resulting candidate's
// endpoint with the stun stack so inbound Binding requests reach
// HandleBindingRequest, and firing OnCandidate as each is discovered
// (spec.md section 4.5). It fires OnCandidate(nil) once at the end, the
// end-of-candidates signal.
func (a *Agent) GatherCandidates(ctx context.Context) error {
	a.setGatheringState(GatheringStateGathering)
	defer a.setGatheringState(GatheringStateComplete)

	a.mu.RLock()
	harvesters := make([]Harvester, len(a.harvesters))
	copy(harvesters, a.harvesters)
	a.mu.RUnlock()

	registered := make(map[transport.Endpoint]bool)
	for _, stream := range a.Streams() {
		for _, comp := range stream.Components() {
			for _, h := range harvesters {
				cands, err := h.Harvest(ctx, comp)
				if err != nil {
					a.log.Warnf("ice: harvester %s failed for stream %s component %d: %v", h.Name(), stream.Name, comp.ID, err)
					continue
				}
				for _, c := range cands {
					if err := comp.AddLocalCandidate(c); err != nil {
						continue
					}
					// Derived candidates (srflx/prflx/mapping) share their
					// base host candidate's socket; only register each
					// distinct endpoint's read loop once.
					if c.Endpoint != nil && !registered[c.Endpoint] {
						registered[c.Endpoint] = true
						a.stack.RegisterEndpoint(c.Endpoint)
						a.stack.OnRequest(c.Endpoint, a.HandleBindingRequest)
					}
					a.events.fireCandidate(c)
				}
			}
		}
	}
	a.events.fireCandidate(nil)
	return nil
}

// Start builds every stream's check list against its remote credentials
// and candidates, then begins the pace-timer-driven connectivity-check
// loop under the given role (spec.md section 4.6). ICE-lite agents
// (spec.md section 6's ICE_LITE) never initiate checks and must always
// start controlled.
func (a *Agent) Start(isControlling bool) error {
	a.mu.Lock()
	if a.state == AgentStateClosed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.state == AgentStateRunning || a.state == AgentStateCompleted || a.state == AgentStateFailed {
		a.mu.Unlock()
		return ErrMultipleStart
	}
	if a.settings.iceLite && isControlling {
		a.mu.Unlock()
		return ErrLiteCannotInitiate
	}
	a.controlling = isControlling
	a.state = AgentStateRunning
	streams := make([]*Stream, 0, len(a.streamOrder))
	for _, name := range a.streamOrder {
		streams = append(streams, a.streams[name])
	}
	a.mu.Unlock()

	for _, stream := range streams {
		remoteUfrag, remotePassword := stream.RemoteCredentials()
		if remoteUfrag == "" {
			return ErrRemoteUfragEmpty
		}
		if remotePassword == "" {
			return ErrRemotePasswordEmpty
		}
		cl := NewCheckList(a.settings.checklist.MaxSize)
		cl.Build(stream, isControlling)
		stream.setCheckList(cl)
		a.stack.Credentials.Set(remoteUfrag, CredentialsAuthority{Password: remotePassword})
	}

	a.events.fireConnectionState(ConnectionStateChecking)
	go a.pacer.run(func() { a.run(a.paceTick) })
	return nil
}

// paceTick is invoked at most once per Ta: it issues a single triggered
// check if one is queued anywhere, else the single highest-priority
// waiting ordinary check across every active stream (spec.md section
// 4.6's pacing rule).
func (a *Agent) paceTick() {
	if a.settings.iceLite {
		return
	}
	for _, stream := range a.Streams() {
		cl := stream.CheckList()
		if cl == nil || cl.State() != CheckListRunning {
			continue
		}
		if p := cl.PopTriggered(); p != nil {
			a.fireCheck(stream, p)
			return
		}
	}

	var bestStream *Stream
	var bestPair *CandidatePair
	for _, stream := range a.Streams() {
		cl := stream.CheckList()
		if cl == nil || cl.State() != CheckListRunning {
			continue
		}
		if p := cl.NextWaiting(); p != nil && (bestPair == nil || p.Priority > bestPair.Priority) {
			bestStream, bestPair = stream, p
		}
	}
	if bestPair != nil {
		a.fireCheck(bestStream, bestPair)
	}
	a.maybeComplete()
}

func (a *Agent) fireCheck(stream *Stream, p *CandidatePair) {
	p.State = PairInProgress
	a.sendConnectivityCheck(stream, p, a.settings.nominator == NominateFirstValid)
}

// recomputeCheckListState refreshes stream's check-list state and
// re-evaluates whether the agent as a whole has completed or failed.
func (a *Agent) recomputeCheckListState(stream *Stream) {
	cl := stream.CheckList()
	if cl == nil {
		return
	}
	cl.updateState()
	a.maybeComplete()
}

// maybeComplete transitions the agent to Completed once every stream's
// check list has a nominated pair, or to Failed once every stream's
// check list has exhausted its pairs without one (spec.md section 7).
func (a *Agent) maybeComplete() {
	a.mu.Lock()
	if a.state != AgentStateRunning {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	streams := a.Streams()
	if len(streams) == 0 {
		return
	}
	allCompleted, allFailed := true, true
	for _, stream := range streams {
		cl := stream.CheckList()
		if cl == nil {
			return
		}
		switch cl.State() {
		case CheckListCompleted:
			allFailed = false
		case CheckListFailed:
			allCompleted = false
		default:
			allCompleted, allFailed = false, false
		}
	}

	switch {
	case allCompleted:
		a.mu.Lock()
		a.state = AgentStateCompleted
		a.mu.Unlock()
		a.events.fireConnectionState(ConnectionStateCompleted)
	case allFailed:
		a.mu.Lock()
		a.state = AgentStateFailed
		a.mu.Unlock()
		a.events.fireConnectionState(ConnectionStateFailed)
	}
}

func (a *Agent) allCheckLists() []*CheckList {
	var out []*CheckList
	for _, s := range a.Streams() {
		if cl := s.CheckList(); cl != nil {
			out = append(out, cl)
		}
	}
	return out
}

// findComponentByEndpoint locates the stream and local candidate that
// own ep, used to route an inbound request to its check list.
func (a *Agent) findComponentByEndpoint(ep transport.Endpoint) (*Stream, *LocalCandidate) {
	for _, stream := range a.Streams() {
		for _, comp := range stream.Components() {
			for _, c := range comp.LocalCandidates() {
				if c.Endpoint == ep {
					return stream, c
				}
			}
		}
	}
	return nil, nil
}

// startConsent launches (once) the consent-freshness monitor for a
// component once it has a selected pair (spec.md section 4.7).
func (a *Agent) startConsent(stream *Stream, comp *Component) {
	key := fmt.Sprintf("%s/%d", stream.Name, comp.ID)
	a.mu.Lock()
	if _, exists := a.consents[key]; exists {
		a.mu.Unlock()
		return
	}
	cm := newConsentMonitor(a, stream, comp)
	a.consents[key] = cm
	a.mu.Unlock()
	go cm.run()
}

// handleConsentLost logs the loss and reports the degraded connection
// to the application; the consent monitor has already marked the
// component failed before calling it (spec.md section 4.7's
// ErrConsentLost outcome). It does not tear the agent down; the
// application decides whether to restart ICE.
func (a *Agent) handleConsentLost(stream *Stream, comp *Component) {
	a.log.Warnf("ice: consent lost on stream %s component %d", stream.Name, comp.ID)
	a.events.fireConnectionState(ConnectionStateDisconnected)
}

// Restart regenerates every stream's local ICE credentials to the given
// pair and discards prior check-list progress, per spec.md section
// 4.6's ICE restart.
func (a *Agent) Restart(ufrag, password string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == AgentStateClosed {
		return ErrClosed
	}
	for _, name := range a.streamOrder {
		stream := a.streams[name]
		a.stack.Credentials.Remove(stream.LocalUfrag)
		stream.LocalUfrag = ufrag
		stream.LocalPassword = password
		stream.setCheckList(nil)
		a.stack.Credentials.Set(ufrag, CredentialsAuthority{Password: password})
	}
	a.state = AgentStateNew
	return nil
}

// OnConnectionStateChange installs the agent's connection-state
// callback. Must be called before Start.
func (a *Agent) OnConnectionStateChange(f OnConnectionStateChangeFunc) { a.events.onConnectionStateChange = f }

// OnGatheringStateChange installs the agent's gathering-state callback.
func (a *Agent) OnGatheringStateChange(f OnGatheringStateChangeFunc) { a.events.onGatheringStateChange = f }

// OnCandidate installs the agent's per-candidate callback.
func (a *Agent) OnCandidate(f OnCandidateFunc) { a.events.onCandidate = f }

// OnSelectedCandidatePairChange installs the agent's selected-pair
// callback.
func (a *Agent) OnSelectedCandidatePairChange(f OnSelectedCandidatePairChangeFunc) {
	a.events.onSelectedPairChange = f
}

// Stats aggregates every component's counters, keyed by "stream/component".
func (a *Agent) Stats() map[string]ComponentStats {
	out := make(map[string]ComponentStats)
	for _, stream := range a.Streams() {
		for _, comp := range stream.Components() {
			out[fmt.Sprintf("%s/%d", stream.Name, comp.ID)] = comp.Stats()
		}
	}
	return out
}

// Free idempotently tears the agent down: stops the pacer and every
// consent monitor, cancels every outstanding transaction, closes every
// local candidate's socket, and stops the stun stack (spec.md section 5).
func (a *Agent) Free() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.state = AgentStateClosed
		consents := make([]*consentMonitor, 0, len(a.consents))
		for _, cm := range a.consents {
			consents = append(consents, cm)
		}
		streams := make([]*Stream, 0, len(a.streamOrder))
		for _, name := range a.streamOrder {
			streams = append(streams, a.streams[name])
		}
		a.mu.Unlock()

		a.pacer.close()
		for _, cm := range consents {
			cm.close()
		}
		for _, stream := range streams {
			for _, comp := range stream.Components() {
				comp.Close(nil)
			}
		}
		a.stack.Close()
		close(a.done)
		a.events.fireConnectionState(ConnectionStateClosed)
	})
	return nil
}
