package ice

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/corelink/ice/stun"
	"github.com/corelink/ice/transport"
)

// TURNHarvester allocates a relayed transport address from a TURN
// server per component, following the long-term credential flow of
// RFC 5766 section 6: an unauthenticated Allocate draws the 401
// challenge, a second Allocate carries USERNAME/REALM/NONCE and
// MESSAGE-INTEGRITY (spec.md sections 4.5 and 9).
type TURNHarvester struct {
	agent    *Agent
	server   string
	username string
	password string
}

// NewTURNHarvester builds a harvester that allocates one relay
// candidate per component from the given TURN server ("host:port").
func NewTURNHarvester(agent *Agent, server, username, password string) *TURNHarvester {
	return &TURNHarvester{agent: agent, server: server, username: username, password: password}
}

// Name implements Harvester.
func (h *TURNHarvester) Name() string { return "turn" }

// Harvest implements Harvester: one relay candidate per component. If
// resolving the server, binding the control socket or the allocation
// fails, it returns no candidates together with that error.
func (h *TURNHarvester) Harvest(ctx context.Context, comp *Component) ([]*LocalCandidate, error) {
	serverAddr, err := net.ResolveUDPAddr("udp", h.server)
	if err != nil {
		return nil, fmt.Errorf("resolve turn server %s: %w", h.server, err)
	}

	control, err := transport.ListenUDP(&net.UDPAddr{}, transport.DefaultConfig(), h.agent.settings.loggerFactoryOrDefault())
	if err != nil {
		return nil, fmt.Errorf("bind turn control socket: %w", err)
	}

	sess := newTURNSession(h.agent, control, serverAddr, h.username, h.password)
	if err := sess.allocate(ctx); err != nil {
		sess.Close()
		return nil, err
	}

	local := control.LocalAddr().(*net.UDPAddr)
	base := NewHostCandidate(comp, transport.NetworkUDP, local.IP, local.Port, comp.Stream.LocalUfrag)
	relay := NewDerivedCandidate(base, CandidateTypeRelay, sess.relayedIP(), sess.relayedPort())
	relay.Endpoint = sess
	relay.Relay = sess
	relay.harvesterName = h.Name()

	go sess.refreshLoop()
	return []*LocalCandidate{relay}, nil
}

// turnSession is a single TURN allocation: the long-term credential
// material, permission/channel bookkeeping, and the transport.Endpoint
// a relay LocalCandidate sends and receives through (spec.md section
// 4.5, RFC 5766). It owns a dedicated control socket, separate from any
// host candidate, and demuxes that socket's STUN responses,
// Send/Data indications, and ChannelData frames itself rather than
// through the agent's connectivity-check dispatch.
type turnSession struct {
	agent    *Agent
	control  *transport.UDPEndpoint
	server   net.Addr
	username string
	password string

	mu          sync.Mutex
	realm       string
	nonce       string
	relayIP     net.IP
	relayPort   int
	lifetime    time.Duration
	permissions map[string]time.Time
	channels    map[string]uint16
	peerByChan  map[uint16]Addr
	nextChannel uint16

	frames    chan transport.Frame
	done      chan struct{}
	closeOnce sync.Once
}

func newTURNSession(agent *Agent, control *transport.UDPEndpoint, server net.Addr, username, password string) *turnSession {
	s := &turnSession{
		agent:       agent,
		control:     control,
		server:      server,
		username:    username,
		password:    password,
		permissions: make(map[string]time.Time),
		channels:    make(map[string]uint16),
		peerByChan:  make(map[uint16]Addr),
		nextChannel: 0x4000,
		frames:      make(chan transport.Frame, 256),
		done:        make(chan struct{}),
	}
	agent.stack.RegisterEndpoint(control)
	agent.stack.OnIndication(control, s.handleIndication)
	agent.stack.OnRawFrame(control, s.handleRawFrame)
	return s
}

func (s *turnSession) relayedIP() net.IP {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relayIP
}

func (s *turnSession) relayedPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relayPort
}

func (s *turnSession) key() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stun.LongTermKey(s.username, s.realm, s.password)
}

func (s *turnSession) addAuth(msg *stun.Message) {
	s.mu.Lock()
	username, realm, nonce := s.username, s.realm, s.nonce
	s.mu.Unlock()
	_ = msg.Add(stun.Username{Username: username})
	_ = msg.Add(stun.Realm{Realm: realm})
	_ = msg.Add(stun.Nonce{Nonce: nonce})
	_ = msg.Add(stun.MessageIntegrity{})
}

// allocate runs the two-step unauthenticated-then-authenticated
// Allocate exchange (RFC 5766 section 6.2).
func (s *turnSession) allocate(ctx context.Context) error {
	msg, err := stun.NewMessage(stun.ClassRequest, stun.MethodAllocate)
	if err != nil {
		return err
	}
	_ = msg.Add(stun.RequestedTransport{Protocol: stun.TransportUDP})

	resp, err := s.roundTrip(ctx, msg, nil)
	if err != nil {
		return err
	}

	if resp.Class == stun.ClassErrorResponse {
		var ec stun.ErrorCode
		if getErr := ec.GetFrom(resp); getErr == nil && ec.Code == stun.CodeUnauthorized {
			var realm stun.Realm
			var nonce stun.Nonce
			_ = realm.GetFrom(resp)
			_ = nonce.GetFrom(resp)
			s.mu.Lock()
			s.realm, s.nonce = realm.Realm, nonce.Nonce
			s.mu.Unlock()
			return s.allocateAuthenticated(ctx)
		}
		return fmt.Errorf("ice: turn allocate refused: %d", ec.Code)
	}
	return s.applyAllocateSuccess(resp)
}

func (s *turnSession) allocateAuthenticated(ctx context.Context) error {
	msg, err := stun.NewMessage(stun.ClassRequest, stun.MethodAllocate)
	if err != nil {
		return err
	}
	_ = msg.Add(stun.RequestedTransport{Protocol: stun.TransportUDP})
	s.addAuth(msg)

	resp, err := s.roundTrip(ctx, msg, s.key())
	if err != nil {
		return err
	}
	if resp.Class == stun.ClassErrorResponse {
		var ec stun.ErrorCode
		_ = ec.GetFrom(resp)
		return fmt.Errorf("ice: turn allocate refused after auth: %d", ec.Code)
	}
	return s.applyAllocateSuccess(resp)
}

func (s *turnSession) applyAllocateSuccess(resp *stun.Message) error {
	var relayed stun.XorRelayedAddress
	if err := relayed.GetFrom(resp); err != nil {
		return fmt.Errorf("ice: turn allocate success missing XOR-RELAYED-ADDRESS: %w", err)
	}
	var lifetime stun.Lifetime
	secs := uint32(600)
	if lifetime.GetFrom(resp) == nil {
		secs = lifetime.Seconds
	}
	s.mu.Lock()
	s.relayIP, s.relayPort = relayed.IP, relayed.Port
	s.lifetime = time.Duration(secs) * time.Second
	s.mu.Unlock()
	return nil
}

// refreshLoop re-allocates the lease 60 seconds before LIFETIME expires,
// per spec.md section 4.5's TURN keepalive contract, until Close or a
// refusal ends the session.
func (s *turnSession) refreshLoop() {
	for {
		s.mu.Lock()
		lifetime := s.lifetime
		s.mu.Unlock()
		if lifetime <= 0 {
			lifetime = 600 * time.Second
		}
		wait := lifetime - 60*time.Second
		if wait <= 0 {
			wait = lifetime / 2
		}
		select {
		case <-time.After(wait):
		case <-s.done:
			return
		}
		if err := s.refresh(context.Background()); err != nil {
			s.agent.log.Warnf("ice: turn refresh failed: %v", err)
			return
		}
	}
}

func (s *turnSession) refresh(ctx context.Context) error {
	msg, err := stun.NewMessage(stun.ClassRequest, stun.MethodRefresh)
	if err != nil {
		return err
	}
	_ = msg.Add(stun.Lifetime{Seconds: 600})
	s.addAuth(msg)
	resp, err := s.roundTrip(ctx, msg, s.key())
	if err != nil {
		return err
	}
	if resp.Class == stun.ClassErrorResponse {
		var ec stun.ErrorCode
		_ = ec.GetFrom(resp)
		if ec.Code == stun.CodeStaleNonce {
			var nonce stun.Nonce
			_ = nonce.GetFrom(resp)
			s.mu.Lock()
			s.nonce = nonce.Nonce
			s.mu.Unlock()
			return s.refresh(ctx)
		}
		return fmt.Errorf("ice: turn refresh refused: %d", ec.Code)
	}
	var lifetime stun.Lifetime
	if lifetime.GetFrom(resp) == nil {
		s.mu.Lock()
		s.lifetime = time.Duration(lifetime.Seconds) * time.Second
		s.mu.Unlock()
	}
	return nil
}

// ensurePermission installs (or refreshes, near its 5-minute expiry) a
// CreatePermission for peer's address, required before any relayed
// traffic to or from it is allowed (RFC 5766 section 8).
func (s *turnSession) ensurePermission(ctx context.Context, peer Addr) error {
	key := peer.IP.String()
	s.mu.Lock()
	expiry, ok := s.permissions[key]
	fresh := ok && time.Now().Before(expiry)
	s.mu.Unlock()
	if fresh {
		return nil
	}

	msg, err := stun.NewMessage(stun.ClassRequest, stun.MethodCreatePermission)
	if err != nil {
		return err
	}
	_ = msg.Add(stun.XorPeerAddress{IP: peer.IP, Port: peer.Port})
	s.addAuth(msg)
	resp, err := s.roundTrip(ctx, msg, s.key())
	if err != nil {
		return err
	}
	if resp.Class == stun.ClassErrorResponse {
		var ec stun.ErrorCode
		_ = ec.GetFrom(resp)
		if ec.Code == stun.CodeStaleNonce {
			var nonce stun.Nonce
			_ = nonce.GetFrom(resp)
			s.mu.Lock()
			s.nonce = nonce.Nonce
			s.mu.Unlock()
			return s.ensurePermission(ctx, peer)
		}
		return fmt.Errorf("ice: turn create permission refused: %d", ec.Code)
	}
	s.mu.Lock()
	s.permissions[key] = time.Now().Add(4 * time.Minute)
	s.mu.Unlock()
	return nil
}

// bindChannel lazily binds a channel number to peer on first use,
// falling back to plain Send/Data indications if the bind fails
// (spec.md section 4.5's ChannelBind as an optional optimization).
func (s *turnSession) bindChannel(ctx context.Context, peer Addr) (uint16, bool) {
	key := peer.String()
	s.mu.Lock()
	if ch, ok := s.channels[key]; ok {
		s.mu.Unlock()
		return ch, true
	}
	ch := s.nextChannel
	if ch > 0x7FFF {
		s.mu.Unlock()
		return 0, false
	}
	s.nextChannel++
	s.mu.Unlock()

	msg, err := stun.NewMessage(stun.ClassRequest, stun.MethodChannelBind)
	if err != nil {
		return 0, false
	}
	_ = msg.Add(stun.ChannelNumber{Number: ch})
	_ = msg.Add(stun.XorPeerAddress{IP: peer.IP, Port: peer.Port})
	s.addAuth(msg)
	resp, err := s.roundTrip(ctx, msg, s.key())
	if err != nil || resp.Class == stun.ClassErrorResponse {
		return 0, false
	}
	s.mu.Lock()
	s.channels[key] = ch
	s.peerByChan[ch] = peer
	s.mu.Unlock()
	return ch, true
}

// roundTrip sends msg through the agent's stun stack (so retransmission
// and FINGERPRINT/MESSAGE-INTEGRITY signing follow the same contract as
// every connectivity check) and blocks for its outcome.
func (s *turnSession) roundTrip(ctx context.Context, msg *stun.Message, key []byte) (*stun.Message, error) {
	type outcome struct {
		resp *stun.Message
		err  error
	}
	done := make(chan outcome, 1)
	_, err := s.agent.stack.SendRequest(msg, s.server, s.control, key, func(resp *stun.Message, err error) {
		done <- outcome{resp: resp, err: err}
	}, false)
	if err != nil {
		return nil, err
	}
	select {
	case o := <-done:
		return o.resp, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleIndication processes a Data indication relaying inbound peer
// traffic (RFC 5766 section 10.3).
func (s *turnSession) handleIndication(msg *stun.Message, _ []byte, _ transport.Endpoint, _ net.Addr) {
	if msg.Method != stun.MethodData {
		return
	}
	var peer stun.XorPeerAddress
	var data stun.Data
	if peer.GetFrom(msg) != nil || data.GetFrom(msg) != nil {
		return
	}
	frame := transport.Frame{
		Data:   data.Data,
		Local:  s.LocalAddr(),
		Remote: Addr{IP: peer.IP, Port: peer.Port, Proto: transport.NetworkUDP},
	}
	select {
	case s.frames <- frame:
	case <-s.done:
	}
}

// handleRawFrame processes a ChannelData frame, the non-STUN fast path
// for traffic on a bound channel (RFC 5766 section 11.4).
func (s *turnSession) handleRawFrame(frame transport.Frame) {
	cd, err := stun.DecodeChannelData(frame.Data)
	if err != nil {
		return
	}
	s.mu.Lock()
	peer, ok := s.peerByChan[cd.Channel]
	s.mu.Unlock()
	if !ok {
		return
	}
	out := transport.Frame{Data: cd.Data, Local: s.LocalAddr(), Remote: peer}
	select {
	case s.frames <- out:
	case <-s.done:
	}
}

// Network implements transport.Endpoint.
func (s *turnSession) Network() transport.Network { return transport.NetworkUDP }

// LocalAddr implements transport.Endpoint, returning the relayed
// transport address peers observe as this candidate's source.
func (s *turnSession) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Addr{IP: s.relayIP, Port: s.relayPort, Proto: transport.NetworkUDP}
}

// WriteTo implements transport.Endpoint: it installs a permission for
// remote (if needed), prefers a bound channel, and falls back to a Send
// indication otherwise.
func (s *turnSession) WriteTo(b []byte, remote net.Addr) (int, error) {
	peer := toAddr(remote)
	ctx := context.Background()
	if err := s.ensurePermission(ctx, peer); err != nil {
		return 0, err
	}
	if ch, ok := s.bindChannel(ctx, peer); ok {
		frame := stun.ChannelData{Channel: ch, Data: b}.Encode()
		return s.control.WriteTo(frame, s.server)
	}

	msg, err := stun.NewMessage(stun.ClassIndication, stun.MethodSend)
	if err != nil {
		return 0, err
	}
	_ = msg.Add(stun.XorPeerAddress{IP: peer.IP, Port: peer.Port})
	_ = msg.Add(stun.Data{Data: b})
	if err := s.agent.stack.SendIndication(msg, s.control, s.server, nil); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Frames implements transport.Endpoint.
func (s *turnSession) Frames() <-chan transport.Frame { return s.frames }

// Close implements transport.Endpoint: it tears down the control
// socket and stops demuxing, taking the relay candidate's Frames()
// channel with it.
func (s *turnSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.agent.stack.UnregisterEndpoint(s.control)
		_ = s.control.Close()
		close(s.frames)
	})
	return nil
}

func toAddr(a net.Addr) Addr {
	if ad, ok := a.(Addr); ok {
		return ad
	}
	return Addr{IP: addrIP(a), Port: addrPort(a), Proto: transport.NetworkUDP}
}
