package ice

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/corelink/ice/stun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTURNServer implements just enough of RFC 5766's long-term
// credential flow to drive turnSession.allocate: the first Allocate is
// challenged with a 401 carrying REALM+NONCE, and the retried Allocate
// succeeds once MESSAGE-INTEGRITY verifies against the expected
// long-term key.
func fakeTURNServer(t *testing.T, username, realm, password string, relayedIP net.IP, relayedPort int) (addr string, close func()) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	const nonce = "testnonce123"
	key := stun.LongTermKey(username, realm, password)

	go func() {
		buf := make([]byte, 1500)
		for {
			n, remote, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			raw := append([]byte(nil), buf[:n]...)
			req, err := stun.Decode(raw)
			if err != nil {
				continue
			}

			if stun.VerifyIntegrity(raw, req, key) != nil {
				resp := &stun.Message{Class: stun.ClassErrorResponse, Method: req.Method, TransactionID: req.TransactionID}
				_ = resp.Add(stun.ErrorCode{Code: stun.CodeUnauthorized, Reason: "unauthorized"})
				_ = resp.Add(stun.Realm{Realm: realm})
				_ = resp.Add(stun.Nonce{Nonce: nonce})
				out, encErr := stun.Encode(resp, nil, false)
				if encErr == nil {
					_, _ = conn.WriteToUDP(out, remote)
				}
				continue
			}

			resp := &stun.Message{Class: stun.ClassSuccessResponse, Method: req.Method, TransactionID: req.TransactionID}
			switch req.Method {
			case stun.MethodAllocate:
				_ = resp.Add(stun.XorRelayedAddress{IP: relayedIP, Port: relayedPort})
				_ = resp.Add(stun.Lifetime{Seconds: 600})
			case stun.MethodRefresh:
				_ = resp.Add(stun.Lifetime{Seconds: 600})
			case stun.MethodCreatePermission, stun.MethodChannelBind:
				// empty success body is sufficient for these.
			}
			_ = resp.Add(stun.MessageIntegrity{})
			out, err := stun.Encode(resp, key, false)
			if err != nil {
				continue
			}
			_, _ = conn.WriteToUDP(out, remote)
		}
	}()

	return conn.LocalAddr().String(), func() { _ = conn.Close() }
}

func TestTURNHarvesterAllocatesAfterUnauthorizedChallenge(t *testing.T) {
	const username, realm, password = "ruser", "example.org", "rpass"
	relayedIP := net.ParseIP("203.0.113.50")
	serverAddr, stop := fakeTURNServer(t, username, realm, password, relayedIP, 51000)
	defer stop()

	agent, err := NewAgent(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = agent.Free() })

	stream, err := agent.AddStream("audio")
	require.NoError(t, err)
	comp, err := stream.AddComponent(1)
	require.NoError(t, err)

	h := NewTURNHarvester(agent, serverAddr, username, password)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cands, err := h.Harvest(ctx, comp)
	require.NoError(t, err)
	require.Len(t, cands, 1)

	relay := cands[0]
	assert.Equal(t, CandidateTypeRelay, relay.Type)
	assert.Equal(t, relay, relay.Base, "a relay candidate's base is itself")
	assert.True(t, relay.IP.Equal(relayedIP))
	assert.Equal(t, 51000, relay.Port)
	require.NotNil(t, relay.Endpoint)
	t.Cleanup(func() { _ = relay.Endpoint.Close() })
}

func TestTURNSessionEnsurePermissionCachesFreshness(t *testing.T) {
	const username, realm, password = "ruser", "example.org", "rpass"
	serverAddr, stop := fakeTURNServer(t, username, realm, password, net.ParseIP("203.0.113.51"), 52000)
	defer stop()

	agent, err := NewAgent(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = agent.Free() })

	stream, err := agent.AddStream("audio")
	require.NoError(t, err)
	comp, err := stream.AddComponent(1)
	require.NoError(t, err)

	h := NewTURNHarvester(agent, serverAddr, username, password)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cands, err := h.Harvest(ctx, comp)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	sess := cands[0].Relay
	require.NotNil(t, sess)
	t.Cleanup(func() { _ = sess.Close() })

	peer := Addr{IP: net.ParseIP("198.51.100.9"), Port: 4000}
	require.NoError(t, sess.ensurePermission(ctx, peer))

	sess.mu.Lock()
	_, cached := sess.permissions[peer.IP.String()]
	sess.mu.Unlock()
	assert.True(t, cached, "ensurePermission must cache the peer's freshness window")
}
