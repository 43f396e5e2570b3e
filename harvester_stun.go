package ice

import (
	"context"
	"fmt"
	"net"

	"github.com/corelink/ice/stun"
	"github.com/corelink/ice/transport"
)

// STUNHarvester discovers server-reflexive candidates: one Binding
// request per host candidate per configured server (spec.md sections
// 4.5 and 9's NAT-discovery flow). It piggybacks on the agent's stun
// stack rather than opening a request/response loop of its own, so the
// server's reply is routed through the same transaction table as every
// connectivity check.
type STUNHarvester struct {
	agent   *Agent
	servers []string
}

// NewSTUNHarvester builds a harvester that queries every address in
// servers ("host:port") for each host candidate it is handed.
func NewSTUNHarvester(agent *Agent, servers ...string) *STUNHarvester {
	return &STUNHarvester{agent: agent, servers: servers}
}

// Name implements Harvester.
func (h *STUNHarvester) Name() string { return "stun" }

// Harvest implements Harvester: it only ever derives candidates from
// UDP host candidates already present on comp, so it must be
// registered after a HostHarvester on the same agent.
func (h *STUNHarvester) Harvest(ctx context.Context, comp *Component) ([]*LocalCandidate, error) {
	var out []*LocalCandidate
	for _, host := range comp.LocalCandidates() {
		if host.Type != CandidateTypeHost || host.Transport != transport.NetworkUDP {
			continue
		}
		for _, server := range h.servers {
			srflx, err := h.query(ctx, host, server)
			if err != nil {
				h.agent.log.Debugf("ice: stun query %s via %s: %v", server, host.Addr(), err)
				continue
			}
			out = append(out, srflx)
		}
	}
	return out, nil
}

func (h *STUNHarvester) query(ctx context.Context, host *LocalCandidate, server string) (*LocalCandidate, error) {
	serverAddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", server, err)
	}

	msg, err := stun.NewMessage(stun.ClassRequest, stun.MethodBinding)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		resp *stun.Message
		err  error
	}
	done := make(chan outcome, 1)
	_, err = h.agent.stack.SendRequest(msg, serverAddr, host.Endpoint, nil, func(resp *stun.Message, err error) {
		done <- outcome{resp: resp, err: err}
	}, false)
	if err != nil {
		return nil, err
	}

	select {
	case o := <-done:
		if o.err != nil {
			return nil, o.err
		}
		var mapped stun.XorMappedAddress
		if err := mapped.GetFrom(o.resp); err != nil {
			return nil, fmt.Errorf("missing XOR-MAPPED-ADDRESS: %w", err)
		}
		srflx := NewDerivedCandidate(host, CandidateTypeServerReflexive, mapped.IP, mapped.Port)
		srflx.Endpoint = host.Endpoint
		return srflx, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
