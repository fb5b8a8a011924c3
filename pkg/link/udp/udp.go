// Package udp implements a datagram link. One datagram carries one
// frame, so there is no length prefix; frames are capped at the
// practical UDP payload limit and delivery is lossy by nature, which
// matches the best-effort contract of the layer above.
package udp

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/olegsmith/akka/pkg/link"
)

const maxFrame = 64 * 1024

type Link struct{}

func New() *Link { return &Link{} }

func (t *Link) Scheme() string { return "udp" }

func (t *Link) Listen(ctx context.Context, address string) (link.Listener, error) {
	laddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	c, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	l := &listener{
		conn:     c,
		sessions: make(map[string]*session),
		newCh:    make(chan *session, 8),
		closeCh:  make(chan struct{}),
	}
	go l.readLoop()
	go func() { <-ctx.Done(); _ = l.Close() }()
	return l, nil
}

func (t *Link) Dial(ctx context.Context, address string) (link.Session, error) {
	raddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	c, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	s := &session{
		conn:     c,
		raddr:    raddr,
		outbound: true,
		rx:       make(chan []byte, 32),
		closed:   make(chan struct{}),
	}
	go s.recvLoop()
	go func() { <-ctx.Done(); _ = s.Close() }()
	return s, nil
}

// listener demultiplexes one shared socket into per-remote sessions.
type listener struct {
	conn     *net.UDPConn
	mu       sync.Mutex
	sessions map[string]*session
	newCh    chan *session
	closeCh  chan struct{}
}

func (l *listener) Addr() net.Addr { return l.conn.LocalAddr() }

func (l *listener) Accept(ctx context.Context) (link.Session, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("udp listener closed")
	case s := <-l.newCh:
		return s, nil
	}
}

func (l *listener) Close() error {
	select {
	case <-l.closeCh:
	default:
		close(l.closeCh)
	}
	return l.conn.Close()
}

func (l *listener) readLoop() {
	buf := make([]byte, maxFrame)
	for {
		n, raddr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		key := raddr.String()
		l.mu.Lock()
		s, ok := l.sessions[key]
		if !ok {
			s = &session{
				conn:   l.conn,
				raddr:  raddr,
				rx:     make(chan []byte, 32),
				closed: make(chan struct{}),
			}
			l.sessions[key] = s
			select {
			case l.newCh <- s:
			default:
				delete(l.sessions, key)
				l.mu.Unlock()
				continue
			}
		}
		l.mu.Unlock()
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		// per-remote queue; lossy when the reader lags
		select {
		case s.rx <- pkt:
		default:
		}
	}
}

type session struct {
	conn     *net.UDPConn
	raddr    *net.UDPAddr
	outbound bool
	rx       chan []byte
	closed   chan struct{}
	once     sync.Once
}

func (s *session) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *session) RemoteAddr() net.Addr { return s.raddr }

func (s *session) SendFrame(b []byte) error {
	if len(b) > maxFrame {
		return errors.New("udp: frame exceeds datagram limit")
	}
	var err error
	if s.outbound {
		_, err = s.conn.Write(b)
	} else {
		_, err = s.conn.WriteToUDP(b, s.raddr)
	}
	return err
}

func (s *session) RecvFrame() ([]byte, error) {
	select {
	case pkt := <-s.rx:
		return pkt, nil
	case <-s.closed:
		return nil, errors.New("udp session closed")
	}
}

// recvLoop feeds the rx queue for outbound (connected) sockets.
// Inbound sessions are fed by the listener's demux instead.
func (s *session) recvLoop() {
	buf := make([]byte, maxFrame)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			return
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		select {
		case s.rx <- pkt:
		default:
		}
	}
}

func (s *session) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		if s.outbound {
			err = s.conn.Close()
		}
	})
	return err
}
