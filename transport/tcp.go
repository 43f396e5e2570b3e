package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/pion/logging"
)

// ErrFrameTooLarge is returned when an RFC 4571 frame's length prefix
// exceeds the 65535-byte maximum payload spec.md section 6 allows.
var ErrFrameTooLarge = errors.New("transport: frame exceeds 65535 bytes")

const maxFrameSize = 65535

// TCPEndpoint frames one TCP connection per RFC 4571: a two-byte
// big-endian length prefix before every STUN message or application
// chunk, counting only the payload bytes (spec.md section 4.2/6).
type TCPEndpoint struct {
	conn    net.Conn
	network Network
	local   net.Addr
	remote  net.Addr
	log     logging.LeveledLogger
	frames  chan Frame

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

// DialTCP actively opens a TCP session to raddr (RFC 6544 active role).
func DialTCP(laddr, raddr *net.TCPAddr, cfg Config, loggerFactory logging.LoggerFactory) (*TCPEndpoint, error) {
	d := net.Dialer{LocalAddr: laddr}
	conn, err := d.Dial("tcp", raddr.String())
	if err != nil {
		return nil, fmt.Errorf("transport: dial tcp %s: %w", raddr, err)
	}
	return newTCPEndpoint(conn, NetworkTCPActive, cfg, loggerFactory), nil
}

// AcceptTCP wraps an already-accepted connection (RFC 6544 passive role).
func AcceptTCP(conn net.Conn, cfg Config, loggerFactory logging.LoggerFactory) *TCPEndpoint {
	return newTCPEndpoint(conn, NetworkTCPPassive, cfg, loggerFactory)
}

func newTCPEndpoint(conn net.Conn, network Network, cfg Config, loggerFactory logging.LoggerFactory) *TCPEndpoint {
	if tc, ok := conn.(*net.TCPConn); ok {
		if cfg.Linger >= 0 {
			_ = tc.SetLinger(cfg.Linger)
		}
		if cfg.ReceiveBufferSize > 0 {
			_ = tc.SetReadBuffer(cfg.ReceiveBufferSize)
		}
		if cfg.SendBufferSize > 0 {
			_ = tc.SetWriteBuffer(cfg.SendBufferSize)
		}
	}

	e := &TCPEndpoint{
		conn:    conn,
		network: network,
		local:   conn.LocalAddr(),
		remote:  conn.RemoteAddr(),
		log:     loggerFactory.NewLogger("transport"),
		frames:  make(chan Frame, queueDepth),
		done:    make(chan struct{}),
	}
	go e.readLoop()
	return e
}

func (e *TCPEndpoint) readLoop() {
	defer close(e.frames)
	var lenBuf [2]byte
	for {
		if _, err := io.ReadFull(e.conn, lenBuf[:]); err != nil {
			select {
			case <-e.done:
			default:
				e.log.Debugf("tcp read loop on %s ending: %v", e.local, err)
			}
			return
		}
		n := binary.BigEndian.Uint16(lenBuf[:])
		data := make([]byte, n)
		if _, err := io.ReadFull(e.conn, data); err != nil {
			e.log.Debugf("tcp read loop on %s ending mid-frame: %v", e.local, err)
			return
		}
		select {
		case e.frames <- Frame{Data: data, Local: e.local, Remote: e.remote}:
		case <-e.done:
			return
		}
	}
}

// Network implements Endpoint.
func (e *TCPEndpoint) Network() Network { return e.network }

// LocalAddr implements Endpoint.
func (e *TCPEndpoint) LocalAddr() net.Addr { return e.local }

// RemoteAddr returns the fixed remote address of this session.
func (e *TCPEndpoint) RemoteAddr() net.Addr { return e.remote }

// WriteTo implements Endpoint. remote is ignored beyond a sanity check
// since a TCP session's peer is fixed at accept/dial time.
func (e *TCPEndpoint) WriteTo(b []byte, remote net.Addr) (int, error) {
	if len(b) > maxFrameSize {
		return 0, ErrFrameTooLarge
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(b)))
	if _, err := e.conn.Write(lenBuf[:]); err != nil {
		return 0, err
	}
	n, err := e.conn.Write(b)
	return n, err
}

// Frames implements Endpoint.
func (e *TCPEndpoint) Frames() <-chan Frame { return e.frames }

// Close implements Endpoint.
func (e *TCPEndpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.done)
		err = e.conn.Close()
	})
	return err
}
