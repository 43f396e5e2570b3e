package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/packetio"
)

// AcceptorStrategy selects how many physical sockets back the logical
// endpoints an agent registers, per spec.md section 4.2/6
// (ACCEPTOR_STRATEGY).
type AcceptorStrategy int

// Recognized strategies, numbered to match the ACCEPTOR_STRATEGY option.
const (
	SocketPerInstance AcceptorStrategy = iota
	AcceptorPerTransportPerSession
	SharedAcceptor
)

func (s AcceptorStrategy) String() string {
	switch s {
	case SocketPerInstance:
		return "socket-per-instance"
	case AcceptorPerTransportPerSession:
		return "acceptor-per-transport-per-session"
	case SharedAcceptor:
		return "shared-acceptor"
	default:
		return "unknown"
	}
}

// sweeperInterval and sweeperTimeout back the periodic reclaim sweep
// spec.md section 5 requires of the process-wide socket registry.
const (
	sweeperInterval = 60 * time.Second
	sweeperTimeout  = 60 * time.Second
)

// Session is one demultiplexed logical stream over a possibly-shared
// physical socket, identified by its fixed remote address.
type Session struct {
	acceptor  *Acceptor
	remote    net.Addr
	buf       *packetio.Buffer
	lastTouch time.Time
	mu        sync.Mutex
}

// Read implements io.Reader over the session's reassembly buffer,
// decoupling the acceptor's single read goroutine from whatever drains
// this session (spec.md section 5's "I/O threads separate from worker
// threads").
func (s *Session) Read(p []byte) (int, error) { return s.buf.Read(p) }

// WriteTo sends a frame to this session's remote address over the
// shared physical endpoint.
func (s *Session) WriteTo(b []byte) (int, error) {
	s.touch()
	return s.acceptor.ep.WriteTo(b, s.remote)
}

// RemoteAddr returns the session's fixed peer address.
func (s *Session) RemoteAddr() net.Addr { return s.remote }

func (s *Session) touch() {
	s.mu.Lock()
	s.lastTouch = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTouch
}

// Close removes the session from its acceptor and releases its buffer.
// It does not close the underlying physical socket, which may be shared.
func (s *Session) Close() error {
	s.acceptor.unregister(s.remote)
	return s.buf.Close()
}

// Acceptor owns one physical Endpoint and demultiplexes its inbound
// frames to registered Sessions by remote address (spec.md section 4.2).
type Acceptor struct {
	ep  Endpoint
	log logging.LeveledLogger

	mu       sync.Mutex
	sessions map[string]*Session
	wildcard func(remote net.Addr) // called for frames with no matching session
}

func newAcceptor(ep Endpoint, log logging.LeveledLogger) *Acceptor {
	a := &Acceptor{ep: ep, log: log, sessions: make(map[string]*Session)}
	go a.demux()
	return a
}

// Register binds a new logical Session for remote on this acceptor's
// socket. Overwrites any prior registration for the same remote.
func (a *Acceptor) Register(remote net.Addr) *Session {
	s := &Session{acceptor: a, remote: remote, buf: packetio.NewBuffer(), lastTouch: time.Now()}
	a.mu.Lock()
	a.sessions[remote.String()] = s
	a.mu.Unlock()
	return s
}

// OnUnmatched installs the handler invoked when a frame arrives from a
// remote address with no registered Session, e.g. to accept a fresh
// inbound TCP-SO/connectivity-check source.
func (a *Acceptor) OnUnmatched(fn func(remote net.Addr)) {
	a.mu.Lock()
	a.wildcard = fn
	a.mu.Unlock()
}

func (a *Acceptor) unregister(remote net.Addr) {
	a.mu.Lock()
	delete(a.sessions, remote.String())
	a.mu.Unlock()
}

// LocalAddr returns the underlying socket's bound address.
func (a *Acceptor) LocalAddr() net.Addr { return a.ep.LocalAddr() }

func (a *Acceptor) demux() {
	for frame := range a.ep.Frames() {
		a.mu.Lock()
		s, ok := a.sessions[frame.Remote.String()]
		wildcard := a.wildcard
		a.mu.Unlock()

		if ok {
			s.touch()
			if _, err := s.buf.Write(frame.Data); err != nil {
				a.log.Debugf("session buffer for %s full, dropping frame: %v", frame.Remote, err)
			}
			continue
		}
		if wildcard != nil {
			wildcard(frame.Remote)
			continue
		}
		a.log.Debugf("dropping frame from unregistered remote %s on %s", frame.Remote, a.ep.LocalAddr())
	}
}

// Close releases the acceptor's physical socket and every session's
// buffer.
func (a *Acceptor) Close() error {
	a.mu.Lock()
	for _, s := range a.sessions {
		_ = s.buf.Close()
	}
	a.sessions = make(map[string]*Session)
	a.mu.Unlock()
	return a.ep.Close()
}

func (a *Acceptor) sweep(timeout time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	for k, s := range a.sessions {
		if now.Sub(s.idleSince()) > timeout {
			a.log.Debugf("sweeping abandoned session %s on %s", k, a.ep.LocalAddr())
			_ = s.buf.Close()
			delete(a.sessions, k)
		}
	}
}

// Pool is the process-wide registry of acceptors, implementing the
// SocketPerInstance/AcceptorPerTransportPerSession/SharedAcceptor
// strategies of spec.md section 4.2 and the sweeper of section 5.
type Pool struct {
	strategy AcceptorStrategy
	log      logging.LeveledLogger

	mu        sync.Mutex
	acceptors map[string]*Acceptor

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// NewPool constructs a Pool and starts its sweeper goroutine.
func NewPool(strategy AcceptorStrategy, loggerFactory logging.LoggerFactory) *Pool {
	p := &Pool{
		strategy:  strategy,
		log:       loggerFactory.NewLogger("transport"),
		acceptors: make(map[string]*Acceptor),
		sweepStop: make(chan struct{}),
	}
	go p.sweepLoop()
	return p
}

func acceptorKey(n Network, local net.Addr) string {
	return fmt.Sprintf("%s|%s", n, local)
}

// Bind returns the Acceptor that should own ep, creating one per the
// configured strategy: SharedAcceptor reuses one acceptor per
// (transport, local-address) for the whole process;
// AcceptorPerTransportPerSession and SocketPerInstance each keep ep's
// acceptor private to its caller.
func (p *Pool) Bind(ep Endpoint) *Acceptor {
	if p.strategy != SharedAcceptor {
		return newAcceptor(ep, p.log)
	}

	key := acceptorKey(ep.Network(), ep.LocalAddr())
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.acceptors[key]; ok {
		return a
	}
	a := newAcceptor(ep, p.log)
	p.acceptors[key] = a
	return a
}

// Release drops the pool's reference to an acceptor bound under
// SharedAcceptor; it never closes the acceptor (callers track their own
// session lifetime via Session.Close).
func (p *Pool) Release(ep Endpoint) {
	key := acceptorKey(ep.Network(), ep.LocalAddr())
	p.mu.Lock()
	delete(p.acceptors, key)
	p.mu.Unlock()
}

func (p *Pool) sweepLoop() {
	t := time.NewTicker(sweeperInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			p.mu.Lock()
			acceptors := make([]*Acceptor, 0, len(p.acceptors))
			for _, a := range p.acceptors {
				acceptors = append(acceptors, a)
			}
			p.mu.Unlock()
			for _, a := range acceptors {
				a.sweep(sweeperTimeout)
			}
		case <-p.sweepStop:
			return
		}
	}
}

// Close stops the sweeper and closes every acceptor still registered.
func (p *Pool) Close() error {
	p.sweepOnce.Do(func() { close(p.sweepStop) })
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, a := range p.acceptors {
		_ = a.Close()
		delete(p.acceptors, k)
	}
	return nil
}
