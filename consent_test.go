package ice

import (
	"net"
	"testing"

	"github.com/corelink/ice/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsentMonitorTickSkipsWithoutSelectedPair(t *testing.T) {
	stream := newTestStream(t)
	comp, err := stream.AddComponent(1)
	require.NoError(t, err)
	stream.SetRemoteCredentials("ruser", "rpass")

	cm := newConsentMonitor(stream.agent, stream, comp)
	cm.tick() // no selected pair yet: must not touch the network or panic
	assert.False(t, comp.Failed())
}

func TestConsentMonitorTickSkipsWithoutRemoteCredentials(t *testing.T) {
	stream := newTestStream(t)
	comp, err := stream.AddComponent(1)
	require.NoError(t, err)

	local := NewHostCandidate(comp, transport.NetworkUDP, net.ParseIP("192.0.2.1"), 5000, stream.LocalUfrag)
	remote := NewRemoteCandidate(Candidate{Transport: transport.NetworkUDP, IP: net.ParseIP("198.51.100.2"), Port: 4000})
	comp.setSelectedPair(newPair(local, remote, true))

	cm := newConsentMonitor(stream.agent, stream, comp)
	cm.tick() // remote ufrag still empty: must bail before sending anything
	assert.False(t, comp.Failed())
}

func TestConsentMonitorHandleResultResetsOnSuccess(t *testing.T) {
	stream := newTestStream(t)
	comp, err := stream.AddComponent(1)
	require.NoError(t, err)

	cm := newConsentMonitor(stream.agent, stream, comp)
	cm.consecutiveFailures = 3
	cm.handleResult(nil, assertTestError{})
	assert.Equal(t, 4, cm.consecutiveFailures)

	cm.handleResult(nil, nil)
	assert.Equal(t, 0, cm.consecutiveFailures)
}

func TestConsentMonitorHandleResultMarksFailedAfterThreshold(t *testing.T) {
	stream := newTestStream(t)
	comp, err := stream.AddComponent(1)
	require.NoError(t, err)
	stream.agent.settings.consent.MaxRetransmissions = 3

	cm := newConsentMonitor(stream.agent, stream, comp)
	cm.handleResult(nil, assertTestError{})
	assert.False(t, comp.Failed())
	cm.handleResult(nil, assertTestError{})
	assert.False(t, comp.Failed())
	cm.handleResult(nil, assertTestError{})
	assert.True(t, comp.Failed())
}

func TestConsentMonitorHandleResultIgnoresCancellation(t *testing.T) {
	stream := newTestStream(t)
	comp, err := stream.AddComponent(1)
	require.NoError(t, err)

	cm := newConsentMonitor(stream.agent, stream, comp)
	cm.handleResult(nil, ErrTransactionCancelled)
	assert.Equal(t, 0, cm.consecutiveFailures)
}

func TestConsentMonitorCloseStopsRun(t *testing.T) {
	stream := newTestStream(t)
	comp, err := stream.AddComponent(1)
	require.NoError(t, err)

	cm := newConsentMonitor(stream.agent, stream, comp)
	done := make(chan struct{})
	go func() {
		cm.run()
		close(done)
	}()
	cm.close()
	<-done // run must return once stop is closed, not hang forever
}

type assertTestError struct{}

func (assertTestError) Error() string { return "synthetic consent failure" }
