package ice

import (
	"fmt"
	"net"
	"sync"

	"github.com/corelink/ice/stun"
	"github.com/corelink/ice/transport"
	"github.com/pion/logging"
)

// RequestListener handles an inbound STUN/TURN request once the stack
// has ruled out retransmission absorption (spec.md section 4.3). raw is
// the undecoded wire form, needed to verify MESSAGE-INTEGRITY once the
// listener has looked up the right key.
type RequestListener func(msg *stun.Message, raw []byte, ep transport.Endpoint, remote net.Addr)

// IndicationListener handles an inbound STUN/TURN indication.
type IndicationListener func(msg *stun.Message, raw []byte, ep transport.Endpoint, remote net.Addr)

// Stack is the stun stack of spec.md section 4.3: transaction table,
// credential manager, registered listeners and the socket registry,
// implemented as a single owned service shared by every harvester and
// the connectivity-check engine (spec.md section 9's "global mutable
// state -> single owned service" design note).
type Stack struct {
	log          logging.LeveledLogger
	settings     *SettingEngine
	Transactions *TransactionTable
	Credentials  *CredentialManager

	mu                  sync.RWMutex
	endpoints           map[string]transport.Endpoint
	requestListeners    map[string]RequestListener
	indicationListeners map[string]IndicationListener
	rawListeners        map[string]RawFrameListener
}

// RawFrameListener receives a frame the stack could not decode as STUN,
// used by TURN's ChannelData fast path (RFC 5766 section 11.4), whose
// frames never carry the STUN magic cookie.
type RawFrameListener func(frame transport.Frame)

// NewStack constructs a stack bound to settings and starts its
// transaction table's retransmission worker.
func NewStack(settings *SettingEngine) *Stack {
	lf := settings.loggerFactoryOrDefault()
	return &Stack{
		log:                 lf.NewLogger("stun"),
		settings:            settings,
		Transactions:        NewTransactionTable(lf),
		Credentials:         NewCredentialManager(),
		endpoints:           make(map[string]transport.Endpoint),
		requestListeners:    make(map[string]RequestListener),
		indicationListeners: make(map[string]IndicationListener),
		rawListeners:        make(map[string]RawFrameListener),
	}
}

// RegisterEndpoint adds ep to the socket registry and starts routing its
// inbound frames through the stack's dispatch logic (spec.md
// section 4.3's inbound dispatch steps).
func (s *Stack) RegisterEndpoint(ep transport.Endpoint) {
	s.mu.Lock()
	s.endpoints[ep.LocalAddr().String()] = ep
	s.mu.Unlock()
	go s.readLoop(ep)
}

// UnregisterEndpoint drops ep and its listeners from the registry. It
// does not close ep; callers that own the socket close it separately.
func (s *Stack) UnregisterEndpoint(ep transport.Endpoint) {
	key := ep.LocalAddr().String()
	s.mu.Lock()
	delete(s.endpoints, key)
	delete(s.requestListeners, key)
	delete(s.indicationListeners, key)
	delete(s.rawListeners, key)
	s.mu.Unlock()
}

// OnRawFrame installs ep's fallback listener for frames that fail STUN
// decoding. Used by TURN sessions to catch ChannelData frames on the
// control socket.
func (s *Stack) OnRawFrame(ep transport.Endpoint, listener RawFrameListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawListeners[listenerKey(ep)] = listener
}

// OnRequest installs the request listener for ep's local address, or
// the global fallback if ep is nil.
func (s *Stack) OnRequest(ep transport.Endpoint, listener RequestListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestListeners[listenerKey(ep)] = listener
}

// OnIndication installs the indication listener for ep's local address,
// or the global fallback if ep is nil.
func (s *Stack) OnIndication(ep transport.Endpoint, listener IndicationListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indicationListeners[listenerKey(ep)] = listener
}

func listenerKey(ep transport.Endpoint) string {
	if ep == nil {
		return ""
	}
	return ep.LocalAddr().String()
}

func (s *Stack) readLoop(ep transport.Endpoint) {
	for frame := range ep.Frames() {
		s.handleFrame(ep, frame)
	}
}

func (s *Stack) handleFrame(ep transport.Endpoint, frame transport.Frame) {
	msg, err := stun.Decode(frame.Data)
	if err != nil {
		if listener := s.lookupRawListener(ep); listener != nil {
			listener(frame)
			return
		}
		s.log.Debugf("dropping malformed/bad-fingerprint frame from %s: %v", frame.Remote, err)
		return
	}
	if s.settings.security.RequireMessageIntegrity {
		if _, ok := msg.Get(stun.AttrMessageIntegrity); !ok {
			s.log.Debugf("dropping frame from %s: no MESSAGE-INTEGRITY and REQUIRE_MESSAGE_INTEGRITY set", frame.Remote)
			return
		}
	}

	switch msg.Class {
	case stun.ClassSuccessResponse, stun.ClassErrorResponse:
		s.Transactions.Complete(msg.TransactionID, msg)

	case stun.ClassRequest:
		if cached, ok := s.Transactions.CachedResponse(msg.TransactionID); ok {
			if _, err := ep.WriteTo(cached.raw, cached.destination); err != nil {
				s.log.Debugf("failed to resend cached response to %s: %v", cached.destination, err)
			}
			return
		}
		if listener := s.lookupRequestListener(ep); listener != nil {
			listener(msg, frame.Data, ep, frame.Remote)
		}

	case stun.ClassIndication:
		if listener := s.lookupIndicationListener(ep); listener != nil {
			listener(msg, frame.Data, ep, frame.Remote)
		}

	default:
		s.log.Debugf("dropping frame from %s: unrecognized message class %v", frame.Remote, msg.Class)
	}
}

func (s *Stack) lookupRequestListener(ep transport.Endpoint) RequestListener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.requestListeners[listenerKey(ep)]; ok {
		return l
	}
	return s.requestListeners[""]
}

func (s *Stack) lookupIndicationListener(ep transport.Endpoint) IndicationListener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.indicationListeners[listenerKey(ep)]; ok {
		return l
	}
	return s.indicationListeners[""]
}

func (s *Stack) lookupRawListener(ep transport.Endpoint) RawFrameListener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rawListeners[listenerKey(ep)]
}

// SendRequest serializes msg (signing it with integrityKey if msg
// carries a MESSAGE-INTEGRITY placeholder), registers a client
// transaction, sends the first copy, and arranges for handler to be
// called with the eventual response or failure (spec.md section 4.3).
func (s *Stack) SendRequest(msg *stun.Message, destination net.Addr, ep transport.Endpoint, integrityKey []byte, handler ResponseHandler, keepAfterResponse bool) (stun.TransactionID, error) {
	raw, err := stun.Encode(msg, integrityKey, s.settings.security.AlwaysSign)
	if err != nil {
		return msg.TransactionID, fmt.Errorf("ice: encode request: %w", err)
	}

	t := &clientTransaction{
		id:                 msg.TransactionID,
		raw:                raw,
		destination:        destination,
		source:             ep.LocalAddr(),
		handler:            handler,
		reliable:           ep.Network() != transport.NetworkUDP,
		rto:                s.settings.transactions.InitialRTO,
		maxRTO:             s.settings.transactions.MaxRTO,
		maxRetransmissions: s.settings.transactions.MaxRetransmissions,
		keepAfterResponse:  keepAfterResponse || s.settings.transactions.KeepAfterResponse,
		send: func(raw []byte, dest net.Addr) error {
			_, err := ep.WriteTo(raw, dest)
			return err
		},
	}
	s.Transactions.Register(t)
	if err := t.send(raw, destination); err != nil {
		s.Transactions.remove(msg.TransactionID)
		return msg.TransactionID, fmt.Errorf("ice: send request: %w", err)
	}
	return msg.TransactionID, nil
}

// SendResponse serializes and sends a final response, caching it for
// spec.md section 4.3/4.4's retransmission-absorption window.
func (s *Stack) SendResponse(id stun.TransactionID, msg *stun.Message, ep transport.Endpoint, destination net.Addr, integrityKey []byte) error {
	raw, err := stun.Encode(msg, integrityKey, s.settings.security.AlwaysSign)
	if err != nil {
		return fmt.Errorf("ice: encode response: %w", err)
	}
	s.Transactions.CacheResponse(id, raw, destination)
	if _, err := ep.WriteTo(raw, destination); err != nil {
		return fmt.Errorf("ice: send response: %w", err)
	}
	return nil
}

// SendIndication serializes and fire-and-forget sends msg.
func (s *Stack) SendIndication(msg *stun.Message, ep transport.Endpoint, destination net.Addr, integrityKey []byte) error {
	raw, err := stun.Encode(msg, integrityKey, s.settings.security.AlwaysSign)
	if err != nil {
		return fmt.Errorf("ice: encode indication: %w", err)
	}
	if _, err := ep.WriteTo(raw, destination); err != nil {
		return fmt.Errorf("ice: send indication: %w", err)
	}
	return nil
}

// Close stops the transaction table's worker and cancels every
// outstanding transaction.
func (s *Stack) Close() {
	s.Transactions.CancelAll()
	s.Transactions.Close()
}
