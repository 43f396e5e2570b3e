package ice

import (
	"context"
	"net"

	"github.com/corelink/ice/transport"
)

// MappingHarvester derives server-reflexive candidates from a static
// 1:1 NAT mapping (spec.md section 4.5's "AWS/static mapping" case: a
// host behind a cloud provider's fixed public IP, where the mapping is
// known in advance and a STUN round trip would only confirm it). Every
// UDP host candidate on a component gets one additional candidate at
// the configured public IP and the same port.
type MappingHarvester struct {
	publicIP net.IP
}

// NewMappingHarvester builds a harvester that republishes every UDP
// host candidate's port under publicIP.
func NewMappingHarvester(publicIP net.IP) *MappingHarvester {
	return &MappingHarvester{publicIP: publicIP}
}

// Name implements Harvester.
func (h *MappingHarvester) Name() string { return "mapping" }

// Harvest implements Harvester.
func (h *MappingHarvester) Harvest(_ context.Context, comp *Component) ([]*LocalCandidate, error) {
	var out []*LocalCandidate
	for _, host := range comp.LocalCandidates() {
		if host.Type != CandidateTypeHost || host.Transport != transport.NetworkUDP {
			continue
		}
		mapped := NewDerivedCandidate(host, CandidateTypeServerReflexive, h.publicIP, host.Port)
		mapped.Endpoint = host.Endpoint
		mapped.harvesterName = h.Name()
		out = append(out, mapped)
	}
	return out, nil
}
