package ice

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/corelink/ice/stun"
	"github.com/corelink/ice/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSTUNServer answers every Binding request on a loopback UDP socket
// with a success response carrying XOR-MAPPED-ADDRESS set to the
// request's observed source, the same shape a real RFC 5389 server
// returns for basic NAT discovery.
func fakeSTUNServer(t *testing.T) (addr string, close func()) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 1500)
		for {
			n, remote, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req, err := stun.Decode(buf[:n])
			if err != nil {
				continue
			}
			resp := &stun.Message{Class: stun.ClassSuccessResponse, Method: stun.MethodBinding, TransactionID: req.TransactionID}
			_ = resp.Add(stun.XorMappedAddress{IP: remote.IP, Port: remote.Port})
			raw, err := stun.Encode(resp, nil, false)
			if err != nil {
				continue
			}
			_, _ = conn.WriteToUDP(raw, remote)
			select {
			case <-done:
				return
			default:
			}
		}
	}()

	return conn.LocalAddr().String(), func() {
		close(done)
		_ = conn.Close()
	}
}

func TestSTUNHarvesterDiscoversServerReflexiveCandidate(t *testing.T) {
	serverAddr, stop := fakeSTUNServer(t)
	defer stop()

	agent, err := NewAgent(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = agent.Free() })

	agent.AddHarvester(loopbackHarvester{})
	stream, err := agent.AddStream("audio")
	require.NoError(t, err)
	comp, err := stream.AddComponent(1)
	require.NoError(t, err)

	require.NoError(t, agent.GatherCandidates(context.Background()))
	require.Len(t, comp.LocalCandidates(), 1, "loopbackHarvester yields exactly one host candidate")
	host := comp.LocalCandidates()[0]

	h := NewSTUNHarvester(agent, serverAddr)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cands, err := h.Harvest(ctx, comp)
	require.NoError(t, err)
	require.Len(t, cands, 1)

	srflx := cands[0]
	assert.Equal(t, CandidateTypeServerReflexive, srflx.Type)
	assert.Equal(t, host.Endpoint, srflx.Endpoint, "srflx candidate must share its host's socket")
	assert.Equal(t, host.IP, srflx.RelatedIP)
	assert.Equal(t, host.Port, srflx.RelatedPort)
	assert.True(t, srflx.IP.Equal(net.ParseIP("127.0.0.1")), "the fake server always reflects 127.0.0.1 back")
}

func TestSTUNHarvesterSkipsNonUDPHostCandidates(t *testing.T) {
	agent, err := NewAgent(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = agent.Free() })

	stream, err := agent.AddStream("audio")
	require.NoError(t, err)
	comp, err := stream.AddComponent(1)
	require.NoError(t, err)

	tcpHost := NewHostCandidate(comp, transport.NetworkTCPActive, net.ParseIP("192.0.2.1"), 9000, stream.LocalUfrag)
	require.NoError(t, comp.AddLocalCandidate(tcpHost))

	h := NewSTUNHarvester(agent, "127.0.0.1:1")
	cands, err := h.Harvest(context.Background(), comp)
	require.NoError(t, err)
	assert.Empty(t, cands, "a TCP host candidate must never be queried against a STUN server")
}
