// Package quic implements a link over QUIC (quic-go) with length-prefixed
// frames on a single bidirectional stream per session. The dialer opens
// the stream; the accepting side picks it up on first read.
package quic

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"github.com/olegsmith/akka/pkg/link"
)

const alpn = "akka-remoting"

type Link struct {
	tlsConf  *tls.Config
	quicConf *quicgo.Config
}

func New() *Link {
	// Ephemeral self-signed certificate for the server side; peers are
	// not verified at the TLS layer.
	cert, _ := selfSignedCert()
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpn},
		MinVersion:   tls.VersionTLS13,
	}
	return &Link{tlsConf: tlsConf, quicConf: &quicgo.Config{}}
}

func (t *Link) Scheme() string { return "quic" }

func (t *Link) Listen(ctx context.Context, address string) (link.Listener, error) {
	l, err := quicgo.ListenAddr(address, t.tlsConf, t.quicConf)
	if err != nil {
		return nil, err
	}
	ql := &listener{l: l, ctx: ctx, newCh: make(chan *session, 8), closeCh: make(chan struct{})}
	go ql.acceptLoop(ctx)
	go func() { <-ctx.Done(); _ = ql.Close() }()
	return ql, nil
}

func (t *Link) Dial(ctx context.Context, address string) (link.Session, error) {
	tlsClient := &tls.Config{
		InsecureSkipVerify: true, // NOTE: identity is carried in the envelope, not TLS.
		NextProtos:         []string{alpn},
		MinVersion:         tls.VersionTLS13,
	}
	c, err := quicgo.DialAddr(ctx, address, tlsClient, t.quicConf)
	if err != nil {
		return nil, err
	}
	s := &session{c: c, ctx: ctx}
	go func() { <-ctx.Done(); _ = s.Close() }()
	return s, nil
}

type listener struct {
	l       *quicgo.Listener
	ctx     context.Context
	newCh   chan *session
	closeCh chan struct{}
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (link.Session, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("quic listener closed")
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
	return l.l.Close()
}

func (l *listener) acceptLoop(ctx context.Context) {
	for {
		c, err := l.l.Accept(ctx)
		if err != nil {
			return
		}
		s := &session{c: c, ctx: l.ctx, inbound: true}
		select {
		case l.newCh <- s:
		default:
			_ = s.Close()
		}
	}
}

type session struct {
	c       quicgo.Connection
	ctx     context.Context
	inbound bool

	mu sync.Mutex
	st quicgo.Stream
	br *bufio.Reader
	bw *bufio.Writer
}

func (s *session) LocalAddr() net.Addr  { return s.c.LocalAddr() }
func (s *session) RemoteAddr() net.Addr { return s.c.RemoteAddr() }

func (s *session) Close() error {
	return s.c.CloseWithError(0, "")
}

// ensureStream opens (dialer) or accepts (listener) the session stream
// on first use. Callers hold s.mu.
func (s *session) ensureStream() error {
	if s.st != nil {
		return nil
	}
	var (
		st  quicgo.Stream
		err error
	)
	if s.inbound {
		st, err = s.c.AcceptStream(s.ctx)
	} else {
		st, err = s.c.OpenStreamSync(s.ctx)
	}
	if err != nil {
		return err
	}
	s.st = st
	s.br = bufio.NewReader(st)
	s.bw = bufio.NewWriter(st)
	return nil
}

func (s *session) SendFrame(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureStream(); err != nil {
		return err
	}
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
	if _, err := s.bw.Write(lenbuf[:]); err != nil {
		return err
	}
	if _, err := s.bw.Write(b); err != nil {
		return err
	}
	return s.bw.Flush()
}

func (s *session) RecvFrame() ([]byte, error) {
	s.mu.Lock()
	if err := s.ensureStream(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	br := s.br
	s.mu.Unlock()

	var lenbuf [4]byte
	if _, err := io.ReadFull(br, lenbuf[:]); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint32(lenbuf[:]))
	if n < 0 || n > (1<<24) {
		return nil, errors.New("invalid frame size")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// selfSignedCert generates a short-lived self-signed TLS certificate.
func selfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
