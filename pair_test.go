package ice

import (
	"net"
	"testing"

	"github.com/corelink/ice/transport"
	"github.com/stretchr/testify/assert"
)

func TestPairPriorityWorkedExample(t *testing.T) {
	testCases := []struct {
		g, d uint32
		want uint64
	}{
		{g: 100, d: 200, want: (uint64(1)<<32)*100 + 2*200},
		{g: 200, d: 100, want: (uint64(1)<<32)*100 + 2*200 + 1},
		{g: 50, d: 50, want: (uint64(1)<<32)*50 + 2*50},
	}
	for i, tc := range testCases {
		got := pairPriority(tc.g, tc.d)
		assert.Equal(t, tc.want, got, "testCase: %d %+v", i, tc)
	}
}

func TestPairPriorityBreaksTiesTowardControllingSide(t *testing.T) {
	// equal min/max but g>d must add the tie-break bit, so swapping which
	// side is "controlling" for the same two candidate priorities must
	// change the resulting pair priority.
	controlling := pairPriority(500, 300)
	controlled := pairPriority(300, 500)
	assert.NotEqual(t, controlling, controlled)
	assert.Equal(t, controlling, controlled+1)
}

func TestNewPairAssignsFoundationAndFreezesInitially(t *testing.T) {
	comp := NewComponent(nil, 1)
	local := NewHostCandidate(comp, transport.NetworkUDP, net.ParseIP("192.0.2.1"), 5000, "lfrag")
	remote := NewRemoteCandidate(Candidate{
		Transport:  transport.NetworkUDP,
		IP:         net.ParseIP("198.51.100.2"),
		Port:       4000,
		Foundation: "r0",
	})

	pair := newPair(local, remote, true)
	assert.Equal(t, local.Foundation+"_"+"r0", pair.Foundation)
	assert.Equal(t, PairFrozen, pair.State)
	assert.False(t, pair.Nominated)
}

func TestSameEndpointsComparesByAddrString(t *testing.T) {
	comp := NewComponent(nil, 1)
	local := NewHostCandidate(comp, transport.NetworkUDP, net.ParseIP("192.0.2.1"), 5000, "lfrag")
	remote := NewRemoteCandidate(Candidate{Transport: transport.NetworkUDP, IP: net.ParseIP("198.51.100.2"), Port: 4000})
	pair := newPair(local, remote, true)

	assert.True(t, pair.sameEndpoints(local, remote))

	otherRemote := NewRemoteCandidate(Candidate{Transport: transport.NetworkUDP, IP: net.ParseIP("198.51.100.3"), Port: 4000})
	assert.False(t, pair.sameEndpoints(local, otherRemote))
}
