package ice

import "errors"

// Sentinel errors returned by the public Agent API and its subsystems,
// matching spec.md section 7's error kinds where they surface as
// synchronous returns rather than asynchronous events.
var (
	ErrClosed               = errors.New("ice: agent closed")
	ErrMultipleStart        = errors.New("ice: agent already started")
	ErrRemoteUfragEmpty     = errors.New("ice: remote ufrag is empty")
	ErrRemotePasswordEmpty  = errors.New("ice: remote password is empty")
	ErrNoComponent          = errors.New("ice: no such component")
	ErrNoStream             = errors.New("ice: no such stream")
	ErrDuplicateComponent   = errors.New("ice: component already exists for this stream")
	ErrDuplicateCandidate   = errors.New("ice: local candidate with this transport address already exists")
	ErrBindFailed           = errors.New("ice: failed to bind host candidate after all retries")
	ErrNoValidPairs         = errors.New("ice: check list has no valid pairs")
	ErrConsentLost          = errors.New("ice: consent freshness check failed")
	ErrUnauthorized         = errors.New("ice: unauthorized (401)")
	ErrStaleNonce           = errors.New("ice: stale nonce (438)")
	ErrAllocationMismatch   = errors.New("ice: allocation mismatch (437)")
	ErrRoleConflict         = errors.New("ice: role conflict (487)")
	ErrTransactionTimeout   = errors.New("ice: transaction timed out")
	ErrTransactionCancelled = errors.New("ice: transaction cancelled")
	ErrLiteCannotInitiate   = errors.New("ice: ICE-lite agents never initiate connectivity checks")
	ErrChannelNumberRange   = errors.New("ice: channel number outside [0x4000, 0x7FFF]")
)
