package ice

import (
	"sync"
	"time"

	"github.com/corelink/ice/stun"
)

// consentMonitor implements RFC 7675 consent freshness for one
// component's selected pair: a Binding request every CONSENT_FRESHNESS_
// INTERVAL, with the component marked failed after
// MAX_RETRANSMISSIONS consecutive unanswered checks (spec.md sections
// 4.7 and 6).
type consentMonitor struct {
	agent  *Agent
	stream *Stream
	comp   *Component

	mu          sync.Mutex
	consecutiveFailures int

	stop     chan struct{}
	stopOnce sync.Once
}

func newConsentMonitor(agent *Agent, stream *Stream, comp *Component) *consentMonitor {
	return &consentMonitor{agent: agent, stream: stream, comp: comp, stop: make(chan struct{})}
}

func (c *consentMonitor) run() {
	interval := c.agent.settings.consent.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.tick()
		case <-c.stop:
			return
		}
	}
}

func (c *consentMonitor) tick() {
	if c.agent.settings.consent.NoKeepAlives {
		return
	}
	pair := c.comp.SelectedPair()
	if pair == nil {
		return
	}
	remoteUfrag, remotePassword := c.stream.RemoteCredentials()
	if remoteUfrag == "" {
		return
	}

	msg, err := stun.NewMessage(stun.ClassRequest, stun.MethodBinding)
	if err != nil {
		return
	}
	_ = msg.Add(stun.Username{Username: remoteUfrag + ":" + c.stream.LocalUfrag})
	_ = msg.Add(stun.MessageIntegrity{})

	_, err = c.agent.stack.SendRequest(msg, pair.Remote.Addr(), pair.Local.Endpoint, stun.ShortTermKey(remotePassword), c.handleResult, false)
	if err != nil {
		c.handleResult(nil, err)
	}
}

func (c *consentMonitor) handleResult(_ *stun.Message, err error) {
	if err == nil {
		c.mu.Lock()
		c.consecutiveFailures = 0
		c.mu.Unlock()
		return
	}
	if err == ErrTransactionCancelled {
		return
	}

	c.mu.Lock()
	c.consecutiveFailures++
	lost := c.consecutiveFailures >= maxInt(c.agent.settings.consent.MaxRetransmissions, 1)
	c.mu.Unlock()

	if lost {
		c.comp.markFailed()
		c.agent.handleConsentLost(c.stream, c.comp)
	}
}

func (c *consentMonitor) close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
