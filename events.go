package ice

// ConnectionState is the agent's overall connectivity state, reported
// through OnConnectionStateChange (spec.md section 4.6's state diagram).
type ConnectionState int

// Recognized connection states.
const (
	ConnectionStateNew ConnectionState = iota
	ConnectionStateGathering
	ConnectionStateChecking
	ConnectionStateConnected
	ConnectionStateCompleted
	ConnectionStateDisconnected
	ConnectionStateFailed
	ConnectionStateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateNew:
		return "new"
	case ConnectionStateGathering:
		return "gathering"
	case ConnectionStateChecking:
		return "checking"
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateCompleted:
		return "completed"
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateFailed:
		return "failed"
	case ConnectionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// GatheringState reports candidate harvesting progress, mirrored from
// the teacher's OnICEGatheringStateChange naming.
type GatheringState int

// Recognized gathering states.
const (
	GatheringStateNew GatheringState = iota
	GatheringStateGathering
	GatheringStateComplete
)

func (s GatheringState) String() string {
	switch s {
	case GatheringStateNew:
		return "new"
	case GatheringStateGathering:
		return "gathering"
	case GatheringStateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Callback signatures an application installs on an Agent before
// Start(), named and shaped after the teacher's OnICE* hooks
// (peerconnection.go) but generalized from a WebRTC PeerConnection to a
// bare ICE agent (spec.md's supplemented "observability" feature set).
type (
	// OnConnectionStateChangeFunc is invoked whenever the agent's overall
	// connection state changes.
	OnConnectionStateChangeFunc func(ConnectionState)

	// OnGatheringStateChangeFunc is invoked whenever candidate harvesting
	// starts or completes.
	OnGatheringStateChangeFunc func(GatheringState)

	// OnCandidateFunc is invoked once per newly harvested local candidate,
	// nil when harvesting has completed (the teacher's end-of-candidates
	// convention).
	OnCandidateFunc func(*LocalCandidate)

	// OnSelectedCandidatePairChangeFunc is invoked whenever a component's
	// selected pair changes to a newly nominated pair.
	OnSelectedCandidatePairChangeFunc func(streamName string, componentID int, pair *CandidatePair)
)

// eventHandlers groups an Agent's optional callbacks. A nil handler is
// simply skipped.
type eventHandlers struct {
	onConnectionStateChange OnConnectionStateChangeFunc
	onGatheringStateChange  OnGatheringStateChangeFunc
	onCandidate             OnCandidateFunc
	onSelectedPairChange    OnSelectedCandidatePairChangeFunc
}

func (h *eventHandlers) fireConnectionState(s ConnectionState) {
	if h.onConnectionStateChange != nil {
		h.onConnectionStateChange(s)
	}
}

func (h *eventHandlers) fireGatheringState(s GatheringState) {
	if h.onGatheringStateChange != nil {
		h.onGatheringStateChange(s)
	}
}

func (h *eventHandlers) fireCandidate(c *LocalCandidate) {
	if h.onCandidate != nil {
		h.onCandidate(c)
	}
}

func (h *eventHandlers) fireSelectedPairChange(streamName string, componentID int, pair *CandidatePair) {
	if h.onSelectedPairChange != nil {
		h.onSelectedPairChange(streamName, componentID, pair)
	}
}
