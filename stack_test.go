package ice

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/corelink/ice/stun"
	"github.com/corelink/ice/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEndpoint is an in-memory transport.Endpoint: WriteTo records what
// was sent instead of touching a real socket, and Frames() is fed
// directly by the test to drive the stack's dispatch logic
// deterministically.
type fakeEndpoint struct {
	local net.Addr
	ch    chan transport.Frame

	mu      sync.Mutex
	written [][]byte
	dest    []net.Addr
	closed  bool
}

func newFakeEndpoint(local string) *fakeEndpoint {
	return &fakeEndpoint{
		local: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: mustPort(local)},
		ch:    make(chan transport.Frame, 8),
	}
}

func mustPort(s string) int {
	switch s {
	case "a":
		return 4001
	case "b":
		return 4002
	default:
		return 4000
	}
}

func (f *fakeEndpoint) Network() transport.Network { return transport.NetworkUDP }
func (f *fakeEndpoint) LocalAddr() net.Addr         { return f.local }
func (f *fakeEndpoint) Frames() <-chan transport.Frame { return f.ch }

func (f *fakeEndpoint) WriteTo(b []byte, remote net.Addr) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), b...)
	f.written = append(f.written, cp)
	f.dest = append(f.dest, remote)
	return len(b), nil
}

func (f *fakeEndpoint) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	close(f.ch)
	return nil
}

func (f *fakeEndpoint) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func newTestStack(t *testing.T) *Stack {
	t.Helper()
	s := NewStack(NewSettingEngine())
	t.Cleanup(s.Close)
	return s
}

func encodeMessage(t *testing.T, class stun.Class, method stun.Method, id stun.TransactionID) []byte {
	t.Helper()
	msg := &stun.Message{Class: class, Method: method, TransactionID: id}
	raw, err := stun.Encode(msg, nil, false)
	require.NoError(t, err)
	return raw
}

func newTestTransactionID(t *testing.T) stun.TransactionID {
	t.Helper()
	id, err := stun.NewTransactionID()
	require.NoError(t, err)
	return id
}

func TestStackDispatchesRequestToPerEndpointListener(t *testing.T) {
	s := newTestStack(t)
	ep := newFakeEndpoint("a")

	var gotRemote net.Addr
	s.OnRequest(ep, func(msg *stun.Message, raw []byte, e transport.Endpoint, remote net.Addr) {
		gotRemote = remote
	})

	id := newTestTransactionID(t)
	raw := encodeMessage(t, stun.ClassRequest, stun.MethodBinding, id)
	remote := &net.UDPAddr{IP: net.ParseIP("198.51.100.1"), Port: 9000}
	s.handleFrame(ep, transport.Frame{Data: raw, Local: ep.LocalAddr(), Remote: remote})

	assert.Equal(t, remote, gotRemote)
}

func TestStackFallsBackToGlobalRequestListener(t *testing.T) {
	s := newTestStack(t)
	ep := newFakeEndpoint("a")

	called := false
	s.OnRequest(nil, func(msg *stun.Message, raw []byte, e transport.Endpoint, remote net.Addr) {
		called = true
	})

	id := newTestTransactionID(t)
	raw := encodeMessage(t, stun.ClassRequest, stun.MethodBinding, id)
	s.handleFrame(ep, transport.Frame{Data: raw, Local: ep.LocalAddr(), Remote: ep.LocalAddr()})

	assert.True(t, called, "a request on an endpoint with no dedicated listener falls back to the global one")
}

func TestStackDispatchesIndicationSeparatelyFromRequests(t *testing.T) {
	s := newTestStack(t)
	ep := newFakeEndpoint("a")

	var requestCalls, indicationCalls int
	s.OnRequest(ep, func(*stun.Message, []byte, transport.Endpoint, net.Addr) { requestCalls++ })
	s.OnIndication(ep, func(*stun.Message, []byte, transport.Endpoint, net.Addr) { indicationCalls++ })

	id := newTestTransactionID(t)
	raw := encodeMessage(t, stun.ClassIndication, stun.MethodBinding, id)
	s.handleFrame(ep, transport.Frame{Data: raw, Local: ep.LocalAddr(), Remote: ep.LocalAddr()})

	assert.Equal(t, 0, requestCalls)
	assert.Equal(t, 1, indicationCalls)
}

func TestStackResendsCachedResponseOnRetransmittedRequest(t *testing.T) {
	s := newTestStack(t)
	ep := newFakeEndpoint("a")
	remote := &net.UDPAddr{IP: net.ParseIP("198.51.100.1"), Port: 9000}

	id := newTestTransactionID(t)
	respRaw := encodeMessage(t, stun.ClassSuccessResponse, stun.MethodBinding, id)
	s.Transactions.CacheResponse(id, respRaw, remote)

	calls := 0
	s.OnRequest(ep, func(*stun.Message, []byte, transport.Endpoint, net.Addr) { calls++ })

	reqRaw := encodeMessage(t, stun.ClassRequest, stun.MethodBinding, id)
	s.handleFrame(ep, transport.Frame{Data: reqRaw, Local: ep.LocalAddr(), Remote: remote})

	assert.Equal(t, 0, calls, "a cached response absorbs the retransmitted request instead of reaching the listener")
	assert.Equal(t, 1, ep.writeCount(), "the cached response must be resent verbatim")
}

func TestStackDropsFrameWithoutIntegrityWhenRequired(t *testing.T) {
	settings := NewSettingEngine()
	settings.SetRequireMessageIntegrity(true)
	s := NewStack(settings)
	t.Cleanup(s.Close)
	ep := newFakeEndpoint("a")

	called := false
	s.OnRequest(nil, func(*stun.Message, []byte, transport.Endpoint, net.Addr) { called = true })

	raw := encodeMessage(t, stun.ClassRequest, stun.MethodBinding, newTestTransactionID(t))
	s.handleFrame(ep, transport.Frame{Data: raw, Local: ep.LocalAddr(), Remote: ep.LocalAddr()})

	assert.False(t, called, "REQUIRE_MESSAGE_INTEGRITY must drop a request carrying no MESSAGE-INTEGRITY")
}

func TestStackRoutesUndecodableFrameToRawListener(t *testing.T) {
	s := newTestStack(t)
	ep := newFakeEndpoint("a")

	var got []byte
	s.OnRawFrame(ep, func(frame transport.Frame) { got = frame.Data })

	garbage := []byte{0x40, 0x00, 0x00, 0x04, 1, 2, 3, 4} // ChannelData: no STUN magic cookie
	s.handleFrame(ep, transport.Frame{Data: garbage, Local: ep.LocalAddr(), Remote: ep.LocalAddr()})

	assert.Equal(t, garbage, got)
}

func TestStackCompletesTransactionOnSuccessResponse(t *testing.T) {
	s := newTestStack(t)
	ep := newFakeEndpoint("a")
	remote := &net.UDPAddr{IP: net.ParseIP("198.51.100.1"), Port: 9000}

	msg, err := stun.NewMessage(stun.ClassRequest, stun.MethodBinding)
	require.NoError(t, err)

	resultCh := make(chan error, 1)
	_, err = s.SendRequest(msg, remote, ep, nil, func(resp *stun.Message, err error) {
		resultCh <- err
	}, false)
	require.NoError(t, err)

	respRaw := encodeMessage(t, stun.ClassSuccessResponse, stun.MethodBinding, msg.TransactionID)
	s.handleFrame(ep, transport.Frame{Data: respRaw, Local: ep.LocalAddr(), Remote: remote})

	select {
	case err := <-resultCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("response handler was never invoked")
	}
}

func TestStackRegisterAndUnregisterEndpoint(t *testing.T) {
	s := newTestStack(t)
	ep := newFakeEndpoint("a")
	s.RegisterEndpoint(ep)
	s.OnRequest(ep, func(*stun.Message, []byte, transport.Endpoint, net.Addr) {})

	s.UnregisterEndpoint(ep)
	s.mu.RLock()
	_, hasEndpoint := s.endpoints[ep.LocalAddr().String()]
	_, hasListener := s.requestListeners[ep.LocalAddr().String()]
	s.mu.RUnlock()
	assert.False(t, hasEndpoint)
	assert.False(t, hasListener)
}
