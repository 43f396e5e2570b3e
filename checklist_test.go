package ice

import (
	"net"
	"testing"

	"github.com/corelink/ice/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStream(t *testing.T) *Stream {
	t.Helper()
	agent, err := NewAgent(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = agent.Free() })
	stream, err := NewStream(agent, "test")
	require.NoError(t, err)
	return stream
}

func TestCheckListBuildPrunesRedundantPairs(t *testing.T) {
	stream := newTestStream(t)
	comp, err := stream.AddComponent(1)
	require.NoError(t, err)

	host := NewHostCandidate(comp, transport.NetworkUDP, net.ParseIP("192.0.2.1"), 5000, stream.LocalUfrag)
	srflx := NewDerivedCandidate(host, CandidateTypeServerReflexive, net.ParseIP("203.0.113.1"), 5000)
	require.NoError(t, comp.AddLocalCandidate(host))
	require.NoError(t, comp.AddLocalCandidate(srflx))

	remote := NewRemoteCandidate(Candidate{Transport: transport.NetworkUDP, IP: net.ParseIP("198.51.100.2"), Port: 4000, Foundation: "r0"})
	comp.AddRemoteCandidate(remote)

	cl := NewCheckList(100)
	cl.Build(stream, true)

	pairs := cl.Pairs()
	require.Len(t, pairs, 1, "host and srflx share a base, so only the higher-priority pairing survives")
	assert.Equal(t, host, pairs[0].Local, "the host candidate outranks its own srflx derivative")
}

func TestCheckListBuildCapsAtMaxSize(t *testing.T) {
	stream := newTestStream(t)
	comp, err := stream.AddComponent(1)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		host := NewHostCandidate(comp, transport.NetworkUDP, net.ParseIP("192.0.2.1"), 5000+i, stream.LocalUfrag)
		require.NoError(t, comp.AddLocalCandidate(host))
		remote := NewRemoteCandidate(Candidate{
			Transport:  transport.NetworkUDP,
			IP:         net.ParseIP("198.51.100.2"),
			Port:       4000 + i,
			Foundation: "r" + string(rune('a'+i)),
		})
		comp.AddRemoteCandidate(remote)
	}

	cl := NewCheckList(3)
	cl.Build(stream, true)
	assert.Len(t, cl.Pairs(), 3)
}

func TestCheckListBuildSkipsMismatchedAddressFamilies(t *testing.T) {
	stream := newTestStream(t)
	comp, err := stream.AddComponent(1)
	require.NoError(t, err)

	host := NewHostCandidate(comp, transport.NetworkUDP, net.ParseIP("192.0.2.1"), 5000, stream.LocalUfrag)
	require.NoError(t, comp.AddLocalCandidate(host))
	remote := NewRemoteCandidate(Candidate{Transport: transport.NetworkUDP, IP: net.ParseIP("2001:db8::1"), Port: 4000, Foundation: "r0"})
	comp.AddRemoteCandidate(remote)

	cl := NewCheckList(100)
	cl.Build(stream, true)
	assert.Empty(t, cl.Pairs())
}

func TestCheckListBuildFreezesAllButOnePairPerFoundation(t *testing.T) {
	stream := newTestStream(t)
	comp, err := stream.AddComponent(1)
	require.NoError(t, err)

	host := NewHostCandidate(comp, transport.NetworkUDP, net.ParseIP("192.0.2.1"), 5000, stream.LocalUfrag)
	require.NoError(t, comp.AddLocalCandidate(host))

	for i := 0; i < 3; i++ {
		remote := NewRemoteCandidate(Candidate{
			Transport:  transport.NetworkUDP,
			IP:         net.ParseIP("198.51.100.2"),
			Port:       4000 + i,
			Foundation: "shared",
		})
		comp.AddRemoteCandidate(remote)
	}

	cl := NewCheckList(100)
	cl.Build(stream, true)

	pairs := cl.Pairs()
	require.Len(t, pairs, 3)
	waiting, frozen := 0, 0
	for _, p := range pairs {
		switch p.State {
		case PairWaiting:
			waiting++
		case PairFrozen:
			frozen++
		}
	}
	assert.Equal(t, 1, waiting, "only the highest-priority pair per foundation starts waiting")
	assert.Equal(t, 2, frozen)
}

func TestCheckListUnfreezeBySharedFoundation(t *testing.T) {
	cl := NewCheckList(100)
	comp := NewComponent(nil, 1)
	local := NewHostCandidate(comp, transport.NetworkUDP, net.ParseIP("192.0.2.1"), 5000, "lfrag")
	r1 := NewRemoteCandidate(Candidate{Transport: transport.NetworkUDP, IP: net.ParseIP("198.51.100.2"), Port: 4000, Foundation: "shared"})
	r2 := NewRemoteCandidate(Candidate{Transport: transport.NetworkUDP, IP: net.ParseIP("198.51.100.3"), Port: 4001, Foundation: "shared"})

	p1 := newPair(local, r1, true)
	p1.Foundation = "f-shared"
	p1.State = PairWaiting
	p2 := newPair(local, r2, true)
	p2.Foundation = "f-shared"
	p2.State = PairFrozen

	cl.pairs = []*CandidatePair{p1, p2}
	cl.Unfreeze("f-shared")
	assert.Equal(t, PairWaiting, p2.State)
}

func TestCheckListTriggeredFIFOIsDeduped(t *testing.T) {
	cl := NewCheckList(100)
	comp := NewComponent(nil, 1)
	local := NewHostCandidate(comp, transport.NetworkUDP, net.ParseIP("192.0.2.1"), 5000, "lfrag")
	remote := NewRemoteCandidate(Candidate{Transport: transport.NetworkUDP, IP: net.ParseIP("198.51.100.2"), Port: 4000})
	p := newPair(local, remote, true)

	cl.AddTriggered(p)
	cl.AddTriggered(p)
	assert.NotNil(t, cl.PopTriggered())
	assert.Nil(t, cl.PopTriggered(), "duplicate enqueue of the same pair must not double the FIFO")
}

func TestCheckListUpdateStateCompletedOnNomination(t *testing.T) {
	cl := NewCheckList(100)
	comp := NewComponent(nil, 1)
	local := NewHostCandidate(comp, transport.NetworkUDP, net.ParseIP("192.0.2.1"), 5000, "lfrag")
	remote := NewRemoteCandidate(Candidate{Transport: transport.NetworkUDP, IP: net.ParseIP("198.51.100.2"), Port: 4000})
	p := newPair(local, remote, true)
	p.Nominated = true
	cl.pairs = []*CandidatePair{p}

	cl.updateState()
	assert.Equal(t, CheckListCompleted, cl.State())
}

func TestCheckListUpdateStateFailedWhenAllPairsFail(t *testing.T) {
	cl := NewCheckList(100)
	comp := NewComponent(nil, 1)
	local := NewHostCandidate(comp, transport.NetworkUDP, net.ParseIP("192.0.2.1"), 5000, "lfrag")
	remote := NewRemoteCandidate(Candidate{Transport: transport.NetworkUDP, IP: net.ParseIP("198.51.100.2"), Port: 4000})
	p := newPair(local, remote, true)
	p.State = PairFailed
	cl.pairs = []*CandidatePair{p}

	cl.updateState()
	assert.Equal(t, CheckListFailed, cl.State())
}
