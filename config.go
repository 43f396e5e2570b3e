package ice

import (
	"time"

	"github.com/pion/logging"
)

// NominationStrategy selects when the controlling agent marks a pair
// nominated by sending USE-CANDIDATE, per spec.md section 4.6.
type NominationStrategy int

// Recognized nomination strategies.
const (
	// NominateHighestPriority waits for the highest-priority pair per
	// component to succeed (or the check list to near completion)
	// before sending one additional check with USE-CANDIDATE. Default.
	NominateHighestPriority NominationStrategy = iota
	// NominateFirstValid sets USE-CANDIDATE on every outgoing check
	// (aggressive nomination); the first pair to succeed is nominated.
	NominateFirstValid
	// NominateAfterCompletion nominates only once every pair in the
	// check list has reached a final state (strict regular nomination).
	NominateAfterCompletion
)

// SettingEngine groups every configuration knob from spec.md section 6
// behind setter methods, mirroring the teacher's SettingEngine pattern
// (settingengine.go) rather than a flat public struct.
type SettingEngine struct {
	transactions struct {
		InitialRTO          time.Duration
		MaxRTO              time.Duration
		MaxRetransmissions  int
		KeepAfterResponse   bool
		PropagateDuplicates bool
	}
	checklist struct {
		MaxSize int
	}
	consent struct {
		Interval           time.Duration
		MaxWaitInterval    time.Duration
		OriginalWait       time.Duration
		MaxRetransmissions int
		NoKeepAlives       bool
	}
	pacing struct {
		Ta time.Duration
	}
	security struct {
		Software               string
		AlwaysSign              bool
		RequireMessageIntegrity bool
	}
	termination struct {
		Delay time.Duration
	}
	host struct {
		BindRetries      int
		BindWildcard     bool
		AllowedInterfaces []string
		BlockedInterfaces []string
		AllowedAddresses  []string
		BlockedAddresses  []string
		DisableIPv6            bool
		DisableLinkLocal       bool
	}
	remoteFilter struct {
		SkipPrivateHosts  bool
		SkipCGNAT         bool
		SkipNonPublicHosts bool
	}
	socket struct {
		RecvBufferSize int
		SendBufferSize int
		IdleTimeout    time.Duration
		Linger         int
		TrafficClass   int
	}
	acceptorStrategy int
	iceLite          bool
	nominator        NominationStrategy
	loggerFactory    logging.LoggerFactory
}

// NewSettingEngine returns a SettingEngine populated with spec.md
// section 6's documented defaults.
func NewSettingEngine() *SettingEngine {
	e := &SettingEngine{}
	e.transactions.InitialRTO = 100 * time.Millisecond
	e.transactions.MaxRTO = 1600 * time.Millisecond
	e.transactions.MaxRetransmissions = 6
	e.checklist.MaxSize = 100
	e.consent.Interval = 5 * time.Second
	e.consent.MaxWaitInterval = 1600 * time.Millisecond
	e.consent.OriginalWait = 500 * time.Millisecond
	e.consent.MaxRetransmissions = 6
	e.pacing.Ta = 20 * time.Millisecond
	e.termination.Delay = 3 * time.Second
	e.host.BindRetries = 3
	e.socket.RecvBufferSize = 1500
	e.socket.SendBufferSize = 1500
	e.socket.IdleTimeout = 30 * time.Second
	e.socket.Linger = -1
	e.acceptorStrategy = int(SharedAcceptorStrategy)
	e.nominator = NominateHighestPriority
	e.loggerFactory = logging.NewDefaultLoggerFactory()
	return e
}

// SharedAcceptorStrategy mirrors transport.SharedAcceptor without
// importing the transport package into this file's const block; see
// SetAcceptorStrategy.
const SharedAcceptorStrategy = 2

// SetTransactionTimers overrides the client transaction RTO schedule
// (FIRST_CTRAN_RETRANS_AFTER, MAX_CTRAN_RETRANS_TIMER,
// MAX_CTRAN_RETRANSMISSIONS).
func (e *SettingEngine) SetTransactionTimers(initial, max time.Duration, maxRetransmissions int) {
	e.transactions.InitialRTO = initial
	e.transactions.MaxRTO = max
	e.transactions.MaxRetransmissions = maxRetransmissions
}

// SetKeepTransactionsAfterResponse sets KEEP_CRANS_AFTER_A_RESPONSE.
func (e *SettingEngine) SetKeepTransactionsAfterResponse(keep bool) {
	e.transactions.KeepAfterResponse = keep
}

// SetPropagateReceivedRetransmissions sets
// PROPAGATE_RECEIVED_RETRANSMISSIONS.
func (e *SettingEngine) SetPropagateReceivedRetransmissions(propagate bool) {
	e.transactions.PropagateDuplicates = propagate
}

// SetMaxCheckListSize sets MAX_CHECK_LIST_SIZE.
func (e *SettingEngine) SetMaxCheckListSize(n int) { e.checklist.MaxSize = n }

// SetConsentFreshness sets the four CONSENT_FRESHNESS_* knobs.
func (e *SettingEngine) SetConsentFreshness(interval, maxWait, originalWait time.Duration, maxRetransmissions int) {
	e.consent.Interval = interval
	e.consent.MaxWaitInterval = maxWait
	e.consent.OriginalWait = originalWait
	e.consent.MaxRetransmissions = maxRetransmissions
}

// SetNoKeepAlives sets NO_KEEP_ALIVES.
func (e *SettingEngine) SetNoKeepAlives(disable bool) { e.consent.NoKeepAlives = disable }

// SetPaceTimer sets TA_PACE_TIMER.
func (e *SettingEngine) SetPaceTimer(ta time.Duration) { e.pacing.Ta = ta }

// SetSoftware sets the SOFTWARE attribute value.
func (e *SettingEngine) SetSoftware(software string) { e.security.Software = software }

// SetAlwaysSign sets ALWAYS_SIGN.
func (e *SettingEngine) SetAlwaysSign(always bool) { e.security.AlwaysSign = always }

// SetRequireMessageIntegrity sets REQUIRE_MESSAGE_INTEGRITY.
func (e *SettingEngine) SetRequireMessageIntegrity(require bool) {
	e.security.RequireMessageIntegrity = require
}

// SetTerminationDelay sets TERMINATION_DELAY, floored at 500ms per
// spec.md section 4.6.
func (e *SettingEngine) SetTerminationDelay(d time.Duration) {
	if d < 500*time.Millisecond {
		d = 500 * time.Millisecond
	}
	e.termination.Delay = d
}

// SetHostBindRetries sets BIND_RETRIES.
func (e *SettingEngine) SetHostBindRetries(n int) { e.host.BindRetries = n }

// SetHostBindWildcard sets BIND_WILDCARD.
func (e *SettingEngine) SetHostBindWildcard(wildcard bool) { e.host.BindWildcard = wildcard }

// SetInterfaceFilter sets ALLOWED_INTERFACES/BLOCKED_INTERFACES from
// lists of interface names.
func (e *SettingEngine) SetInterfaceFilter(allowed, blocked []string) {
	e.host.AllowedInterfaces = allowed
	e.host.BlockedInterfaces = blocked
}

// SetAddressFilter sets ALLOWED_ADDRESSES/BLOCKED_ADDRESSES.
func (e *SettingEngine) SetAddressFilter(allowed, blocked []string) {
	e.host.AllowedAddresses = allowed
	e.host.BlockedAddresses = blocked
}

// SetDisableIPv6 sets DISABLE_IPv6.
func (e *SettingEngine) SetDisableIPv6(disable bool) { e.host.DisableIPv6 = disable }

// SetDisableLinkLocalAddresses sets DISABLE_LINK_LOCAL_ADDRESSES.
func (e *SettingEngine) SetDisableLinkLocalAddresses(disable bool) { e.host.DisableLinkLocal = disable }

// SetSkipRemotePrivateHosts sets SKIP_REMOTE_PRIVATE_HOSTS.
func (e *SettingEngine) SetSkipRemotePrivateHosts(skip bool) { e.remoteFilter.SkipPrivateHosts = skip }

// SetSkipRemoteCGNAT sets SKIP_REMOTE_CGNAT.
func (e *SettingEngine) SetSkipRemoteCGNAT(skip bool) { e.remoteFilter.SkipCGNAT = skip }

// SetSkipRemoteNonPublicHosts sets SKIP_REMOTE_NON_PUBLIC_HOSTS.
func (e *SettingEngine) SetSkipRemoteNonPublicHosts(skip bool) { e.remoteFilter.SkipNonPublicHosts = skip }

// SetSocketBuffers sets SO_RCVBUF/SO_SNDBUF.
func (e *SettingEngine) SetSocketBuffers(recv, send int) {
	e.socket.RecvBufferSize = recv
	e.socket.SendBufferSize = send
}

// SetSocketIdleTimeout sets SO_TIMEOUT.
func (e *SettingEngine) SetSocketIdleTimeout(d time.Duration) { e.socket.IdleTimeout = d }

// SetSocketLinger sets SO_LINGER.
func (e *SettingEngine) SetSocketLinger(linger int) { e.socket.Linger = linger }

// SetTrafficClass sets TRAFFIC_CLASS (IP TOS/DSCP).
func (e *SettingEngine) SetTrafficClass(tc int) { e.socket.TrafficClass = tc }

// SetAcceptorStrategy sets ACCEPTOR_STRATEGY; strategy should be one of
// transport.SocketPerInstance(0), transport.AcceptorPerTransportPerSession(1),
// or transport.SharedAcceptor(2).
func (e *SettingEngine) SetAcceptorStrategy(strategy int) { e.acceptorStrategy = strategy }

// SetICELite enables ICE_LITE mode.
func (e *SettingEngine) SetICELite(lite bool) { e.iceLite = lite }

// SetNominationStrategy selects the nomination strategy (default
// NominateHighestPriority per spec.md's Open Question decision).
func (e *SettingEngine) SetNominationStrategy(s NominationStrategy) { e.nominator = s }

// SetLoggerFactory sets the pion/logging factory every subsystem draws
// its scoped logger from.
func (e *SettingEngine) SetLoggerFactory(f logging.LoggerFactory) { e.loggerFactory = f }

func (e *SettingEngine) loggerFactoryOrDefault() logging.LoggerFactory {
	if e.loggerFactory != nil {
		return e.loggerFactory
	}
	return logging.NewDefaultLoggerFactory()
}
