// Package link provides the connection layer consumed by the remoting
// core: concrete links (tcp, quic, mem) that carry opaque frames, and a
// pool that keeps one canonical outbound session per remote endpoint.
package link

import (
	"context"
	"net"
)

// Link provides dialing/listening for one protocol scheme.
type Link interface {
	// Scheme is the address scheme this link serves ("tcp", "quic", "mem").
	Scheme() string
	// Listen starts accepting inbound sessions on address (host:port or
	// a link-specific endpoint name).
	Listen(ctx context.Context, address string) (Listener, error)
	// Dial creates an outbound session to address.
	Dial(ctx context.Context, address string) (Session, error)
}

// Session is a bidirectional frame pipe to one remote endpoint.
// SendFrame is safe for concurrent use; RecvFrame expects one reader.
type Session interface {
	// SendFrame sends one message frame as opaque bytes.
	SendFrame([]byte) error
	// RecvFrame receives the next message frame and returns its bytes.
	RecvFrame() ([]byte, error)
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	Close() error
}

// Listener accepts inbound sessions.
type Listener interface {
	// Accept blocks until an inbound session is available or ctx is done.
	Accept(ctx context.Context) (Session, error)
	// Addr returns the local listening address.
	Addr() net.Addr
	// Close stops the listener and unblocks Accept.
	Close() error
}
