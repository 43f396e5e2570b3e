package ice

import (
	"net"
	"strings"
	"time"

	"github.com/corelink/ice/stun"
	"github.com/corelink/ice/transport"
)

// peerReflexivePriority computes the PRIORITY value a check advertises:
// the priority the sender's local candidate would have if the remote
// peer learned it as peer-reflexive instead of its actual type (RFC 8445
// section 7.1.1, spec.md section 3).
func peerReflexivePriority(local *LocalCandidate) uint32 {
	return computePriority(CandidateTypePeerReflexive.Preference(), localPreference(local.Transport, local.IP), local.ComponentID)
}

// sendConnectivityCheck builds and sends a Binding request for pair, per
// spec.md section 4.7's outbound check contract.
func (a *Agent) sendConnectivityCheck(stream *Stream, pair *CandidatePair, useCandidate bool) {
	remoteUfrag, remotePassword := stream.RemoteCredentials()
	if remoteUfrag == "" {
		pair.State = PairFailed
		return
	}

	msg, err := stun.NewMessage(stun.ClassRequest, stun.MethodBinding)
	if err != nil {
		a.log.Warnf("ice: generate transaction id: %v", err)
		return
	}
	_ = msg.Add(stun.Priority{Priority: peerReflexivePriority(pair.Local)})
	if a.IsControlling() {
		_ = msg.Add(stun.IceControlling{TieBreaker: a.tieBreaker})
		if useCandidate {
			_ = msg.Add(stun.UseCandidate{})
		}
	} else {
		_ = msg.Add(stun.IceControlled{TieBreaker: a.tieBreaker})
	}
	_ = msg.Add(stun.Username{Username: remoteUfrag + ":" + stream.LocalUfrag})
	_ = msg.Add(stun.MessageIntegrity{})

	pair.State = PairInProgress
	pair.bindingRequestCount++
	pair.lastCheckSent = time.Now()
	pair.LastTransactionID = msg.TransactionID

	key := stun.ShortTermKey(remotePassword)
	_, err = a.stack.SendRequest(msg, pair.Remote.Addr(), pair.Local.Endpoint, key, func(resp *stun.Message, err error) {
		a.run(func() { a.handleCheckResult(stream, pair, resp, err, useCandidate) })
	}, false)
	if err != nil {
		a.log.Debugf("ice: send connectivity check to %s: %v", pair.Remote.Addr(), err)
		pair.State = PairFailed
	}
}

// handleCheckResult processes the outcome of an outbound connectivity
// check: transaction failure, a STUN error response (including 487 role
// conflict), or a success response carrying XOR-MAPPED-ADDRESS (spec.md
// section 4.7).
func (a *Agent) handleCheckResult(stream *Stream, pair *CandidatePair, resp *stun.Message, err error, nominating bool) {
	if err != nil {
		if err != ErrTransactionCancelled {
			pair.State = PairFailed
			a.recomputeCheckListState(stream)
		}
		return
	}

	if resp.Class == stun.ClassErrorResponse {
		var ec stun.ErrorCode
		if getErr := ec.GetFrom(resp); getErr == nil && ec.Code == stun.CodeRoleConflict {
			a.handleRoleConflictOnResponse(stream, pair)
			return
		}
		pair.State = PairFailed
		a.recomputeCheckListState(stream)
		return
	}

	var mapped stun.XorMappedAddress
	if err := mapped.GetFrom(resp); err != nil {
		pair.State = PairFailed
		a.recomputeCheckListState(stream)
		return
	}

	local := a.resolveLocalCandidate(pair, mapped.IP, mapped.Port)
	cl := stream.CheckList()
	valid := cl.Find(local, pair.Remote)
	if valid == nil {
		valid = newPair(local, pair.Remote, a.IsControlling())
		valid.Foundation = pair.Foundation
		cl.AddPair(valid)
	}
	valid.State = PairSucceeded

	for _, other := range a.allCheckLists() {
		other.Unfreeze(valid.Foundation)
	}

	if a.IsControlling() && a.shouldNominate(stream, valid) {
		if nominating {
			a.nominate(stream, valid)
		} else if !valid.Nominated {
			a.sendConnectivityCheck(stream, valid, true)
		}
	}
	a.recomputeCheckListState(stream)
}

// resolveLocalCandidate finds the local candidate matching a mapped
// address reported in a success response, or constructs a fresh
// peer-reflexive local candidate if the NAT rebound the request to an
// address this agent had not yet observed (spec.md section 4.7,
// RFC 8445 section 7.2.5.3.1).
func (a *Agent) resolveLocalCandidate(pair *CandidatePair, ip net.IP, port int) *LocalCandidate {
	comp := pair.Local.Component
	for _, c := range comp.LocalCandidates() {
		if c.IP.Equal(ip) && c.Port == port {
			return c
		}
	}
	prflx := NewDerivedCandidate(pair.Local, CandidateTypePeerReflexive, ip, port)
	prflx.Endpoint = pair.Local.Endpoint
	if err := comp.AddLocalCandidate(prflx); err != nil {
		return pair.Local
	}
	a.events.fireCandidate(prflx)
	return prflx
}

// handleRoleConflictOnResponse arbitrates a 487 received in response to
// our own request: by RFC 8445 section 7.2.5.2.1, receiving a 487 always
// means switching role and retrying the check, since sending a request
// in our current role was itself the conflict.
func (a *Agent) handleRoleConflictOnResponse(stream *Stream, pair *CandidatePair) {
	a.switchRole()
	pair.State = PairWaiting
	stream.CheckList().AddTriggered(pair)
}

// HandleBindingRequest processes an inbound Binding request: credential
// verification, role-conflict arbitration, peer-reflexive discovery,
// triggered-check enqueue, and the Binding success reply (spec.md
// section 4.7).
func (a *Agent) HandleBindingRequest(msg *stun.Message, raw []byte, ep transport.Endpoint, remote net.Addr) {
	var username stun.Username
	if err := username.GetFrom(msg); err != nil {
		return
	}
	parts := strings.SplitN(username.Username, ":", 2)
	if len(parts) != 2 {
		return
	}
	localUfrag := parts[0]
	if !a.stack.Credentials.CheckLocalUser(localUfrag) {
		a.replyError(msg, ep, remote, nil, stun.CodeUnauthorized, "unknown ufrag")
		return
	}
	key := a.stack.Credentials.LocalKey(localUfrag)
	if err := stun.VerifyIntegrity(raw, msg, key); err != nil {
		a.replyError(msg, ep, remote, key, stun.CodeUnauthorized, "bad message integrity")
		return
	}

	stream, local := a.findComponentByEndpoint(ep)
	if stream == nil || local == nil {
		return
	}

	var tieBreaker uint64
	var remoteRole RemoteRole
	var controlling stun.IceControlling
	var controlled stun.IceControlled
	switch {
	case controlling.GetFrom(msg) == nil:
		remoteRole = RemoteRoleControlling
		tieBreaker = controlling.TieBreaker
	case controlled.GetFrom(msg) == nil:
		remoteRole = RemoteRoleControlled
		tieBreaker = controlled.TieBreaker
	}

	switch ResolveRoleConflict(a.IsControlling(), a.tieBreaker, remoteRole, tieBreaker) {
	case RoleActionReject487:
		a.replyError(msg, ep, remote, key, stun.CodeRoleConflict, "role conflict")
		return
	case RoleActionSwitchRole:
		a.switchRole()
	}

	var priorityAttr stun.Priority
	_ = priorityAttr.GetFrom(msg)

	remoteAddr := Addr{IP: addrIP(remote), Port: addrPort(remote), Proto: local.Transport}
	remoteUfrag, _ := stream.RemoteCredentials()
	remoteCand := a.findRemoteCandidate(local.Component, remoteAddr)
	if remoteCand == nil {
		remoteCand = NewPeerReflexiveRemoteCandidate(local.Component.ID, remoteAddr, priorityAttr.Priority, remoteUfrag)
		local.Component.AddRemoteCandidate(remoteCand)
	}

	cl := stream.CheckList()
	pair := cl.Find(local, remoteCand)
	if pair == nil {
		pair = newPair(local, remoteCand, a.IsControlling())
		cl.AddPair(pair)
	}

	var useCandidate stun.UseCandidate
	requestedNomination := useCandidate.GetFrom(msg) == nil

	switch pair.State {
	case PairSucceeded:
		// already valid; fall through to reply and possible nomination.
	case PairInProgress:
		cl.AddTriggered(pair)
	default:
		pair.State = PairWaiting
		cl.AddTriggered(pair)
	}

	if requestedNomination && !a.IsControlling() {
		pair.State = PairSucceeded
		a.nominate(stream, pair)
	}

	a.replySuccess(msg, ep, remote, key)
	a.recomputeCheckListState(stream)
}

func (a *Agent) findRemoteCandidate(comp *Component, addr Addr) *RemoteCandidate {
	for _, c := range comp.RemoteCandidates() {
		if c.Addr().String() == addr.String() {
			return c
		}
	}
	return nil
}

func addrIP(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.UDPAddr:
		return v.IP
	case *net.TCPAddr:
		return v.IP
	case Addr:
		return v.IP
	default:
		return nil
	}
}

func addrPort(a net.Addr) int {
	switch v := a.(type) {
	case *net.UDPAddr:
		return v.Port
	case *net.TCPAddr:
		return v.Port
	case Addr:
		return v.Port
	default:
		return 0
	}
}

// replyError sends a STUN error response, signed if key is non-nil.
func (a *Agent) replyError(req *stun.Message, ep transport.Endpoint, remote net.Addr, key []byte, code int, reason string) {
	resp := &stun.Message{Class: stun.ClassErrorResponse, Method: req.Method, TransactionID: req.TransactionID}
	_ = resp.Add(stun.ErrorCode{Code: code, Reason: reason})
	if key != nil {
		_ = resp.Add(stun.MessageIntegrity{})
	}
	if err := a.stack.SendResponse(req.TransactionID, resp, ep, remote, key); err != nil {
		a.log.Debugf("ice: send error response to %s: %v", remote, err)
	}
}

// replySuccess sends a Binding success response carrying the requester's
// observed transport address in XOR-MAPPED-ADDRESS.
func (a *Agent) replySuccess(req *stun.Message, ep transport.Endpoint, remote net.Addr, key []byte) {
	resp := &stun.Message{Class: stun.ClassSuccessResponse, Method: req.Method, TransactionID: req.TransactionID}
	_ = resp.Add(stun.XorMappedAddress{IP: addrIP(remote), Port: addrPort(remote)})
	_ = resp.Add(stun.MessageIntegrity{})
	if err := a.stack.SendResponse(req.TransactionID, resp, ep, remote, key); err != nil {
		a.log.Debugf("ice: send success response to %s: %v", remote, err)
	}
}
