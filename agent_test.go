package ice

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/corelink/ice/transport"
	"github.com/pion/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopbackHarvester binds one UDP host candidate on 127.0.0.1 for tests
// that need a real socket without going through interface enumeration.
type loopbackHarvester struct{}

func (loopbackHarvester) Name() string { return "loopback" }

func (loopbackHarvester) Harvest(_ context.Context, comp *Component) ([]*LocalCandidate, error) {
	ep, err := transport.ListenUDP(&net.UDPAddr{IP: net.ParseIP("127.0.0.1")}, transport.DefaultConfig(), logging.NewDefaultLoggerFactory())
	if err != nil {
		return nil, err
	}
	local := ep.LocalAddr().(*net.UDPAddr)
	c := NewHostCandidate(comp, transport.NetworkUDP, local.IP, local.Port, comp.Stream.LocalUfrag)
	c.Endpoint = ep
	return []*LocalCandidate{c}, nil
}

func newConnectedPair(t *testing.T) (controlling, controlled *Agent) {
	t.Helper()
	var err error
	controlling, err = NewAgent(nil)
	require.NoError(t, err)
	controlled, err = NewAgent(nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = controlling.Free()
		_ = controlled.Free()
	})

	controlling.AddHarvester(loopbackHarvester{})
	controlled.AddHarvester(loopbackHarvester{})

	csA, err := controlling.AddStream("audio")
	require.NoError(t, err)
	_, err = csA.AddComponent(1)
	require.NoError(t, err)

	csB, err := controlled.AddStream("audio")
	require.NoError(t, err)
	_, err = csB.AddComponent(1)
	require.NoError(t, err)

	require.NoError(t, controlling.GatherCandidates(context.Background()))
	require.NoError(t, controlled.GatherCandidates(context.Background()))

	compA, _ := csA.Component(1)
	compB, _ := csB.Component(1)
	require.Len(t, compA.LocalCandidates(), 1)
	require.Len(t, compB.LocalCandidates(), 1)

	localA, localB := compA.LocalCandidates()[0], compB.LocalCandidates()[0]

	csA.SetRemoteCredentials(csB.LocalUfrag, csB.LocalPassword)
	csB.SetRemoteCredentials(csA.LocalUfrag, csA.LocalPassword)
	compA.AddRemoteCandidate(NewRemoteCandidate(localB.Candidate))
	compB.AddRemoteCandidate(NewRemoteCandidate(localA.Candidate))

	return controlling, controlled
}

func waitForState(t *testing.T, a *Agent, want ConnectionState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if a.State() == AgentStateCompleted && want == ConnectionStateCompleted {
			return
		}
		if a.State() == AgentStateFailed && want == ConnectionStateFailed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("agent never reached state %v (last: %v)", want, a.State())
}

func TestAgentConnectsOverLoopbackHostCandidates(t *testing.T) {
	controlling, controlled := newConnectedPair(t)

	require.NoError(t, controlling.Start(true))
	require.NoError(t, controlled.Start(false))

	waitForState(t, controlling, ConnectionStateCompleted)
	waitForState(t, controlled, ConnectionStateCompleted)

	for _, a := range []*Agent{controlling, controlled} {
		stream, ok := a.Stream("audio")
		require.True(t, ok)
		comp, ok := stream.Component(1)
		require.True(t, ok)
		assert.NotNil(t, comp.SelectedPair(), "a completed agent must have a selected pair")
	}
}

func TestAgentDoubleStartFails(t *testing.T) {
	controlling, controlled := newConnectedPair(t)
	require.NoError(t, controlling.Start(true))
	require.NoError(t, controlled.Start(false))
	waitForState(t, controlling, ConnectionStateCompleted)

	err := controlling.Start(true)
	assert.ErrorIs(t, err, ErrMultipleStart)
}

func TestICELiteCannotInitiate(t *testing.T) {
	settings := NewSettingEngine()
	settings.SetICELite(true)
	a, err := NewAgent(settings)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Free() })

	stream, err := a.AddStream("audio")
	require.NoError(t, err)
	_, err = stream.AddComponent(1)
	require.NoError(t, err)
	stream.SetRemoteCredentials("rfrag", "rpass12345678901234567")

	err = a.Start(true)
	assert.ErrorIs(t, err, ErrLiteCannotInitiate)
}

func TestAgentStartRejectsEmptyRemoteCredentials(t *testing.T) {
	a, err := NewAgent(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Free() })

	stream, err := a.AddStream("audio")
	require.NoError(t, err)
	_, err = stream.AddComponent(1)
	require.NoError(t, err)

	err = a.Start(true)
	assert.ErrorIs(t, err, ErrRemoteUfragEmpty)
}

func TestAgentRestartRegeneratesCredentialsAndClearsCheckList(t *testing.T) {
	controlling, controlled := newConnectedPair(t)
	require.NoError(t, controlling.Start(true))
	require.NoError(t, controlled.Start(false))
	waitForState(t, controlling, ConnectionStateCompleted)

	require.NoError(t, controlling.Restart("newufrag0", "newpassword1234567890"))
	assert.Equal(t, AgentStateNew, controlling.State())

	stream, ok := controlling.Stream("audio")
	require.True(t, ok)
	assert.Equal(t, "newufrag0", stream.LocalUfrag)
	assert.Nil(t, stream.CheckList(), "restart must discard prior check-list progress")
}
