package ice

import "context"

// Harvester discovers local candidates for a single component (spec.md
// section 4.5). A harvester that returns an empty, non-error result is
// simply treated as having nothing to contribute for that call; host
// harvesting is expected to always produce at least one candidate, while
// STUN/TURN/mapping harvesters may legitimately find their server
// unreachable and contribute nothing.
type Harvester interface {
	// Name identifies the harvester for logging and candidate
	// provenance (LocalCandidate.harvesterName).
	Name() string
	// Harvest returns every local candidate this harvester can produce
	// for comp.
	Harvest(ctx context.Context, comp *Component) ([]*LocalCandidate, error)
}
