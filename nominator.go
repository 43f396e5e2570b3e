package ice

// shouldNominate decides, per the agent's configured NominationStrategy,
// whether a pair that has just succeeded should be nominated now
// (spec.md section 4.6). Only ever consulted on the controlling side;
// the controlled side nominates in response to an inbound USE-CANDIDATE,
// never on its own initiative.
func (a *Agent) shouldNominate(stream *Stream, p *CandidatePair) bool {
	switch a.settings.nominator {
	case NominateFirstValid:
		return true
	case NominateAfterCompletion:
		return allComponentsHaveSucceededPair(stream)
	default: // NominateHighestPriority
		return isBestSucceededForComponent(stream, p)
	}
}

// isBestSucceededForComponent reports whether p is the highest-priority
// pair, among those not yet failed, for its component.
func isBestSucceededForComponent(stream *Stream, p *CandidatePair) bool {
	for _, other := range stream.CheckList().Pairs() {
		if other == p || other.Local.ComponentID != p.Local.ComponentID {
			continue
		}
		if other.State == PairFailed {
			continue
		}
		if other.Priority > p.Priority {
			return false
		}
	}
	return true
}

// allComponentsHaveSucceededPair reports whether every pair in the check
// list has reached a final state (succeeded or failed) — the trigger for
// NominateAfterCompletion's strict regular nomination.
func allComponentsHaveSucceededPair(stream *Stream) bool {
	for _, p := range stream.CheckList().Pairs() {
		if p.State != PairSucceeded && p.State != PairFailed {
			return false
		}
	}
	return true
}

// nominate marks p nominated, installs it as its component's selected
// pair (if not already), and fires OnSelectedCandidatePairChange
// (spec.md section 4.6).
func (a *Agent) nominate(stream *Stream, p *CandidatePair) {
	comp := p.Local.Component
	if comp.SelectedPair() == p {
		return
	}
	comp.setSelectedPair(p)
	a.startConsent(stream, comp)
	a.events.fireSelectedPairChange(stream.Name, comp.ID, p)
}
