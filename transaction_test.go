package ice

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/corelink/ice/stun"
	"github.com/pion/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransactionTable(t *testing.T) *TransactionTable {
	t.Helper()
	tt := NewTransactionTable(logging.NewDefaultLoggerFactory())
	t.Cleanup(tt.Close)
	return tt
}

func TestTransactionRetransmitsUntilLimitThenTimesOut(t *testing.T) {
	tt := newTestTransactionTable(t)

	var mu sync.Mutex
	var sends int
	sendCh := make(chan struct{}, 16)

	id, err := stun.NewTransactionID()
	require.NoError(t, err)

	result := make(chan error, 1)
	txn := &clientTransaction{
		id:                 id,
		raw:                []byte("x"),
		destination:        &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1},
		rto:                5 * time.Millisecond,
		maxRTO:             20 * time.Millisecond,
		maxRetransmissions: 3,
		send: func(raw []byte, destination net.Addr) error {
			mu.Lock()
			sends++
			mu.Unlock()
			sendCh <- struct{}{}
			return nil
		},
		handler: func(resp *stun.Message, err error) { result <- err },
	}
	tt.Register(txn)

	for i := 0; i < 3; i++ {
		select {
		case <-sendCh:
		case <-time.After(time.Second):
			t.Fatalf("retransmission %d never fired", i)
		}
	}

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrTransactionTimeout)
	case <-time.After(time.Second):
		t.Fatal("transaction never timed out")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, sends, "exactly maxRetransmissions retransmissions must fire before timeout")
}

func TestTransactionCompleteDeliversResponseAndStopsRetransmission(t *testing.T) {
	tt := newTestTransactionTable(t)

	id, err := stun.NewTransactionID()
	require.NoError(t, err)

	sendCh := make(chan struct{}, 16)
	result := make(chan *stun.Message, 1)
	txn := &clientTransaction{
		id:                 id,
		raw:                []byte("x"),
		destination:        &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1},
		rto:                10 * time.Millisecond,
		maxRTO:             50 * time.Millisecond,
		maxRetransmissions: 7,
		send: func(raw []byte, destination net.Addr) error {
			sendCh <- struct{}{}
			return nil
		},
		handler: func(resp *stun.Message, err error) { result <- resp },
	}
	tt.Register(txn)

	resp := &stun.Message{Class: stun.ClassSuccessResponse, Method: stun.MethodBinding, TransactionID: id}
	tt.Complete(id, resp)

	select {
	case got := <-result:
		assert.Equal(t, resp, got)
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}

	_, stillPending := tt.Lookup(id)
	assert.False(t, stillPending, "completed transaction must be removed from the table")
}

func TestReliableTransactionNeverRetransmits(t *testing.T) {
	tt := newTestTransactionTable(t)

	id, err := stun.NewTransactionID()
	require.NoError(t, err)

	var sends int
	var mu sync.Mutex
	txn := &clientTransaction{
		id:                 id,
		reliable:           true,
		rto:                5 * time.Millisecond,
		maxRTO:             20 * time.Millisecond,
		maxRetransmissions: 3,
		send: func(raw []byte, destination net.Addr) error {
			mu.Lock()
			sends++
			mu.Unlock()
			return nil
		},
	}
	tt.Register(txn)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, sends, "a reliable (TCP) transaction must never be retransmitted")
}

func TestCancelAllNotifiesEveryOutstandingTransaction(t *testing.T) {
	tt := newTestTransactionTable(t)

	const n = 5
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		id, err := stun.NewTransactionID()
		require.NoError(t, err)
		tt.Register(&clientTransaction{
			id:                 id,
			rto:                time.Minute,
			maxRTO:             time.Minute,
			maxRetransmissions: 1,
			send:               func(raw []byte, destination net.Addr) error { return nil },
			handler:            func(resp *stun.Message, err error) { results <- err },
		})
	}

	tt.CancelAll()

	for i := 0; i < n; i++ {
		select {
		case err := <-results:
			assert.ErrorIs(t, err, ErrTransactionCancelled)
		case <-time.After(time.Second):
			t.Fatal("not every transaction was cancelled")
		}
	}
}

func TestCachedResponseExpiresAfterTTL(t *testing.T) {
	tt := newTestTransactionTable(t)
	id, err := stun.NewTransactionID()
	require.NoError(t, err)

	tt.cache[id] = &cachedResponse{raw: []byte("r"), expires: time.Now().Add(-time.Second)}
	_, ok := tt.CachedResponse(id)
	assert.False(t, ok, "an expired cache entry must not be returned")

	tt.CacheResponse(id, []byte("r"), &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1})
	got, ok := tt.CachedResponse(id)
	require.True(t, ok)
	assert.Equal(t, []byte("r"), got.raw)
}
