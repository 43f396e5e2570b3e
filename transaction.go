package ice

import (
	"net"
	"sort"
	"sync"
	"time"

	"github.com/corelink/ice/stun"
	"github.com/pion/logging"
)

// TransactionState is a client transaction's position in spec.md
// section 4.4's state machine.
type TransactionState int

// Recognized client transaction states.
const (
	TransactionWaiting TransactionState = iota
	TransactionSucceeded
	TransactionFailed
	TransactionCancelled
)

// ResponseHandler receives the final outcome of a client transaction:
// either a non-error response, or one of ErrTransactionTimeout /
// ErrTransactionCancelled (spec.md section 7).
type ResponseHandler func(resp *stun.Message, err error)

// clientTransaction is one outstanding Binding/Allocate/etc. request
// awaiting a response, with RFC 5389 exponential back-off retransmission
// (spec.md section 4.4). UDP transactions retransmit; TCP transactions
// (reliable == true) are never retransmitted and never time out: they end
// only on a response or on cancellation.
type clientTransaction struct {
	id          stun.TransactionID
	raw         []byte
	destination net.Addr
	source      net.Addr
	handler     ResponseHandler
	reliable    bool

	keepAfterResponse bool

	rto                time.Duration
	maxRTO             time.Duration
	retransmitCount    int
	maxRetransmissions int

	state    TransactionState
	nextFire time.Time

	send func(raw []byte, destination net.Addr) error

	mu sync.Mutex
}

func (t *clientTransaction) fire(table *TransactionTable) {
	t.mu.Lock()
	if t.state != TransactionWaiting {
		t.mu.Unlock()
		return
	}
	if t.reliable {
		t.mu.Unlock()
		return
	}
	t.retransmitCount++
	if t.retransmitCount > t.maxRetransmissions {
		t.state = TransactionFailed
		handler := t.handler
		t.mu.Unlock()
		table.remove(t.id)
		if handler != nil {
			handler(nil, ErrTransactionTimeout)
		}
		return
	}
	_ = t.send(t.raw, t.destination)
	t.rto *= 2
	if t.rto > t.maxRTO {
		t.rto = t.maxRTO
	}
	t.nextFire = time.Now().Add(t.rto)
	t.mu.Unlock()
	table.reschedule(t)
}

func (t *clientTransaction) complete(resp *stun.Message) {
	t.mu.Lock()
	if t.state != TransactionWaiting {
		t.mu.Unlock()
		return
	}
	t.state = TransactionSucceeded
	handler := t.handler
	t.mu.Unlock()
	if handler != nil {
		handler(resp, nil)
	}
}

func (t *clientTransaction) cancel() {
	t.mu.Lock()
	if t.state != TransactionWaiting {
		t.mu.Unlock()
		return
	}
	t.state = TransactionCancelled
	handler := t.handler
	t.mu.Unlock()
	if handler != nil {
		handler(nil, ErrTransactionCancelled)
	}
}

// cachedResponse backs server-side retransmission absorption (spec.md
// section 4.4): a request id seen within the cache TTL of its response
// triggers a resend instead of redelivery to the application.
type cachedResponse struct {
	raw       []byte
	destination net.Addr
	expires   time.Time
}

const responseCacheTTL = 16 * time.Second

// TransactionTable is the stun stack's transaction table: the client
// side's outstanding requests, keyed by transaction id, plus the server
// side's response cache for retransmission absorption (spec.md
// section 4.3/4.4). A single background worker, keyed by next-fire
// time, drives every pending retransmission rather than one timer per
// transaction (spec.md section 9's design note).
type TransactionTable struct {
	log logging.LeveledLogger

	mu       sync.Mutex
	byID     map[stun.TransactionID]*clientTransaction
	pending  []*clientTransaction // sorted ascending by nextFire
	cache    map[stun.TransactionID]*cachedResponse
	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// NewTransactionTable starts the table's retransmission worker.
func NewTransactionTable(loggerFactory logging.LoggerFactory) *TransactionTable {
	tt := &TransactionTable{
		log:   loggerFactory.NewLogger("stun"),
		byID:  make(map[stun.TransactionID]*clientTransaction),
		cache: make(map[stun.TransactionID]*cachedResponse),
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
	go tt.run()
	return tt
}

// Register inserts a new client transaction, replacing (and cancelling)
// any earlier transaction sharing the same id — spec.md section 4.4
// treats a colliding id as a programming error resolved by "later
// registration wins".
func (tt *TransactionTable) Register(t *clientTransaction) {
	tt.mu.Lock()
	if old, exists := tt.byID[t.id]; exists {
		tt.mu.Unlock()
		old.cancel()
		tt.mu.Lock()
	}
	tt.byID[t.id] = t
	t.nextFire = time.Now().Add(t.rto)
	tt.insertLocked(t)
	tt.mu.Unlock()
	tt.poke()
}

func (tt *TransactionTable) insertLocked(t *clientTransaction) {
	if t.reliable {
		return
	}
	i := sort.Search(len(tt.pending), func(i int) bool { return tt.pending[i].nextFire.After(t.nextFire) })
	tt.pending = append(tt.pending, nil)
	copy(tt.pending[i+1:], tt.pending[i:])
	tt.pending[i] = t
}

func (tt *TransactionTable) reschedule(t *clientTransaction) {
	tt.mu.Lock()
	tt.insertLocked(t)
	tt.mu.Unlock()
	tt.poke()
}

func (tt *TransactionTable) poke() {
	select {
	case tt.wake <- struct{}{}:
	default:
	}
}

// Lookup returns the open transaction for id, if any.
func (tt *TransactionTable) Lookup(id stun.TransactionID) (*clientTransaction, bool) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	t, ok := tt.byID[id]
	return t, ok
}

// Complete delivers a final response and removes the transaction unless
// KeepAfterResponse was set, in which case it is kept for duplicate
// detection (spec.md section 4.4).
func (tt *TransactionTable) Complete(id stun.TransactionID, resp *stun.Message) {
	tt.mu.Lock()
	t, ok := tt.byID[id]
	keep := ok && t.keepAfterResponse
	if ok && !keep {
		delete(tt.byID, id)
	}
	tt.mu.Unlock()
	if ok {
		t.complete(resp)
	}
}

func (tt *TransactionTable) remove(id stun.TransactionID) {
	tt.mu.Lock()
	delete(tt.byID, id)
	tt.mu.Unlock()
}

// CancelAll cancels every outstanding client transaction, notifying each
// collector of ErrTransactionCancelled (spec.md section 5's teardown
// guarantee).
func (tt *TransactionTable) CancelAll() {
	tt.mu.Lock()
	all := make([]*clientTransaction, 0, len(tt.byID))
	for _, t := range tt.byID {
		all = append(all, t)
	}
	tt.byID = make(map[stun.TransactionID]*clientTransaction)
	tt.pending = nil
	tt.mu.Unlock()
	for _, t := range all {
		t.cancel()
	}
}

// CacheResponse records a server-side response for retransmission
// absorption, keyed by the request's transaction id, with a 16 second
// TTL (spec.md section 4.3).
func (tt *TransactionTable) CacheResponse(id stun.TransactionID, raw []byte, destination net.Addr) {
	tt.mu.Lock()
	tt.cache[id] = &cachedResponse{raw: raw, destination: destination, expires: time.Now().Add(responseCacheTTL)}
	tt.mu.Unlock()
}

// CachedResponse returns the cached response for id if it is still
// within its TTL.
func (tt *TransactionTable) CachedResponse(id stun.TransactionID) (*cachedResponse, bool) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	c, ok := tt.cache[id]
	if !ok {
		return nil, false
	}
	if time.Now().After(c.expires) {
		delete(tt.cache, id)
		return nil, false
	}
	return c, true
}

func (tt *TransactionTable) run() {
	for {
		tt.mu.Lock()
		if len(tt.pending) == 0 {
			tt.mu.Unlock()
			select {
			case <-tt.wake:
				continue
			case <-tt.stop:
				return
			}
		}
		next := tt.pending[0]
		wait := time.Until(next.nextFire)
		tt.mu.Unlock()

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-tt.wake:
				timer.Stop()
				continue
			case <-tt.stop:
				timer.Stop()
				return
			}
		}

		tt.mu.Lock()
		if len(tt.pending) == 0 {
			tt.mu.Unlock()
			continue
		}
		t := tt.pending[0]
		if time.Now().Before(t.nextFire) {
			tt.mu.Unlock()
			continue
		}
		tt.pending = tt.pending[1:]
		tt.mu.Unlock()

		t.fire(tt)
	}
}

// Close stops the retransmission worker.
func (tt *TransactionTable) Close() {
	tt.stopOnce.Do(func() { close(tt.stop) })
}
