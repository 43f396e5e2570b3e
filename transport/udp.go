package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/pion/logging"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// ErrClosed is returned by operations on a closed endpoint.
var ErrClosed = errors.New("transport: endpoint closed")

// UDPEndpoint is a bound UDP socket shared by the stun stack and, for host
// candidates, the harvester that created it.
type UDPEndpoint struct {
	conn   *net.UDPConn
	local  *net.UDPAddr
	log    logging.LeveledLogger
	frames chan Frame

	v4 *ipv4.PacketConn
	v6 *ipv6.PacketConn

	closeOnce sync.Once
	done      chan struct{}
}

// queueDepth bounds the per-endpoint inbound frame queue; a slow stack
// worker applies backpressure to the OS socket buffer rather than to the
// reader goroutine blocking forever.
const queueDepth = 256

// ListenUDP binds a UDP socket on laddr and starts its read loop.
// BIND_RETRIES (spec.md section 6) is the caller's responsibility: it
// should call ListenUDP in a retry loop on ErrClosed-unrelated bind
// failures.
func ListenUDP(laddr *net.UDPAddr, cfg Config, loggerFactory logging.LoggerFactory) (*UDPEndpoint, error) {
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: bind udp %s: %w", laddr, err)
	}

	e := &UDPEndpoint{
		conn:   conn,
		local:  conn.LocalAddr().(*net.UDPAddr),
		log:    loggerFactory.NewLogger("transport"),
		frames: make(chan Frame, queueDepth),
		done:   make(chan struct{}),
	}

	if cfg.ReceiveBufferSize > 0 {
		_ = conn.SetReadBuffer(cfg.ReceiveBufferSize)
	}
	if cfg.SendBufferSize > 0 {
		_ = conn.SetWriteBuffer(cfg.SendBufferSize)
	}

	if e.local.IP.To4() != nil {
		e.v4 = ipv4.NewPacketConn(conn)
		if cfg.TrafficClass != 0 {
			if err := e.v4.SetTOS(cfg.TrafficClass); err != nil {
				e.log.Warnf("failed to set TOS on %s: %v", e.local, err)
			}
		}
	} else {
		e.v6 = ipv6.NewPacketConn(conn)
		if cfg.TrafficClass != 0 {
			if err := e.v6.SetTrafficClass(cfg.TrafficClass); err != nil {
				e.log.Warnf("failed to set traffic class on %s: %v", e.local, err)
			}
		}
	}

	go e.readLoop()
	return e, nil
}

func (e *UDPEndpoint) readLoop() {
	buf := make([]byte, 1<<16)
	for {
		n, remote, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-e.done:
			default:
				e.log.Debugf("udp read loop on %s ending: %v", e.local, err)
			}
			close(e.frames)
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case e.frames <- Frame{Data: data, Local: e.local, Remote: remote}:
		case <-e.done:
			close(e.frames)
			return
		}
	}
}

// Network implements Endpoint.
func (e *UDPEndpoint) Network() Network { return NetworkUDP }

// LocalAddr implements Endpoint.
func (e *UDPEndpoint) LocalAddr() net.Addr { return e.local }

// WriteTo implements Endpoint.
func (e *UDPEndpoint) WriteTo(b []byte, remote net.Addr) (int, error) {
	ua, ok := remote.(*net.UDPAddr)
	if !ok {
		return 0, fmt.Errorf("transport: %T is not a *net.UDPAddr", remote)
	}
	return e.conn.WriteToUDP(b, ua)
}

// Frames implements Endpoint.
func (e *UDPEndpoint) Frames() <-chan Frame { return e.frames }

// Close implements Endpoint.
func (e *UDPEndpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.done)
		err = e.conn.Close()
	})
	return err
}
