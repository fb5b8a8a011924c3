package remoting

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/olegsmith/akka/pkg/link"
	"github.com/olegsmith/akka/pkg/link/mem"
	"github.com/olegsmith/akka/pkg/wire"
)

// fakeLink records every frame sent through dialed sessions, so tests
// can observe the outbound path without real sockets.
type fakeLink struct {
	mu        sync.Mutex
	listenErr error
	frames    chan []byte
}

func newFakeLink() *fakeLink { return &fakeLink{frames: make(chan []byte, 16)} }

func (f *fakeLink) Scheme() string { return "tcp" }

func (f *fakeLink) setListenErr(err error) {
	f.mu.Lock()
	f.listenErr = err
	f.mu.Unlock()
}

func (f *fakeLink) Listen(ctx context.Context, address string) (link.Listener, error) {
	f.mu.Lock()
	err := f.listenErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &fakeListener{addr: fakeAddr(address), closed: make(chan struct{})}, nil
}

func (f *fakeLink) Dial(ctx context.Context, address string) (link.Session, error) {
	return &fakeSession{frames: f.frames, done: make(chan struct{})}, nil
}

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

type fakeListener struct {
	addr   fakeAddr
	closed chan struct{}
	once   sync.Once
}

func (l *fakeListener) Addr() net.Addr { return l.addr }

func (l *fakeListener) Accept(ctx context.Context) (link.Session, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, errors.New("listener closed")
	}
}

func (l *fakeListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

type fakeSession struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *fakeSession) SendFrame(b []byte) error {
	select {
	case s.frames <- b:
		return nil
	case <-s.done:
		return io.ErrClosedPipe
	}
}

func (s *fakeSession) RecvFrame() ([]byte, error) {
	<-s.done
	return nil, io.EOF
}

func (s *fakeSession) LocalAddr() net.Addr  { return fakeAddr("local") }
func (s *fakeSession) RemoteAddr() net.Addr { return fakeAddr("remote") }
func (s *fakeSession) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func startTransport(t *testing.T, fl *fakeLink) *NetTransport {
	t.Helper()
	tr := New(Options{
		System: "sysA",
		Links:  []link.Link{fl},
		Bind:   []Endpoint{{Scheme: "tcp", Address: "127.0.0.1:2552"}},
	})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		select {
		case <-tr.Shutdown():
		case <-time.After(5 * time.Second):
			t.Errorf("shutdown did not complete")
		}
	})
	return tr
}

func recvFrame(t *testing.T, fl *fakeLink) *wire.Envelope {
	t.Helper()
	select {
	case frame := <-fl.frames:
		reg := wire.NewRegistry()
		if c, err := wire.CBOR(); err == nil {
			reg.Register(c)
		}
		var env wire.Envelope
		if _, err := wire.DecodeEnvelope(reg, frame, &env); err != nil {
			t.Fatalf("decode outbound frame: %v", err)
		}
		return &env
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame sent")
		return nil
	}
}

func TestStartPublishesAddresses(t *testing.T) {
	tr := startTransport(t, newFakeLink())

	def := tr.DefaultAddress()
	if def.String() != "tcp://sysA@127.0.0.1:2552" {
		t.Fatalf("unexpected default address %q", def)
	}
	addrs := tr.Addresses()
	if len(addrs) != 1 || addrs[0] != def {
		t.Fatalf("unexpected address set %v", addrs)
	}
	local, err := tr.LocalAddressForRemote(mustAddr(t, "tcp://sysB@host2:2553"))
	if err != nil || local != def {
		t.Fatalf("local resolution: %v %v", local, err)
	}
	if tr.State() != StateRunning {
		t.Fatalf("expected running, got %s", tr.State())
	}
}

func TestSendStampsSenderAndUID(t *testing.T) {
	fl := newFakeLink()
	tr := startTransport(t, fl)

	tr.Send(Message{
		Payload:   []byte("ping"),
		Recipient: PeerIdentity{Address: mustAddr(t, "tcp://sysB@127.0.0.1:2553")},
		Path:      "/user/echo",
	})
	env := recvFrame(t, fl)
	if env.Sender != tr.DefaultAddress().String() {
		t.Fatalf("sender not stamped with local address: %q", env.Sender)
	}
	if env.SenderUID != uint64(tr.UID()) {
		t.Fatalf("sender uid not stamped: %d", env.SenderUID)
	}
	if env.Path != "/user/echo" || string(env.Payload) != "ping" {
		t.Fatalf("envelope mangled: %+v", env)
	}
}

func TestSendHonorsExplicitSender(t *testing.T) {
	fl := newFakeLink()
	tr := startTransport(t, fl)

	from := mustAddr(t, "tcp://sysA@10.0.0.1:9999")
	tr.Send(Message{
		Payload:   []byte("x"),
		Sender:    &from,
		Recipient: PeerIdentity{Address: mustAddr(t, "tcp://sysB@127.0.0.1:2553")},
	})
	if env := recvFrame(t, fl); env.Sender != from.String() {
		t.Fatalf("explicit sender not honored: %q", env.Sender)
	}
}

func TestSendToQuarantinedPeerIsDropped(t *testing.T) {
	fl := newFakeLink()
	tr := startTransport(t, fl)
	peer := mustAddr(t, "tcp://sysB@127.0.0.1:2553")

	tr.Quarantine(peer, 42, "remote restarted")
	tr.Send(Message{Payload: []byte("stale"), Recipient: PeerIdentity{Address: peer, UID: 42}})
	tr.Send(Message{Payload: []byte("fresh"), Recipient: PeerIdentity{Address: peer, UID: 43}})

	env := recvFrame(t, fl)
	if env.RecipientUID != 43 || string(env.Payload) != "fresh" {
		t.Fatalf("expected only the fresh incarnation's message, got %+v", env)
	}
	select {
	case frame := <-fl.frames:
		t.Fatalf("quarantined message leaked: %d bytes", len(frame))
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendBeforeStartIsDropped(t *testing.T) {
	fl := newFakeLink()
	tr := New(Options{System: "sysA", Links: []link.Link{fl},
		Bind: []Endpoint{{Scheme: "tcp", Address: "127.0.0.1:2552"}}})

	tr.Send(Message{Payload: []byte("early"), Recipient: PeerIdentity{Address: mustAddr(t, "tcp://sysB@h:1")}})
	select {
	case <-fl.frames:
		t.Fatalf("send before start must be dropped")
	case <-time.After(50 * time.Millisecond):
	}
	if _, err := tr.LocalAddressForRemote(mustAddr(t, "tcp://sysB@h:1")); !errors.Is(err, ErrNoLocalAddress) {
		t.Fatalf("expected ErrNoLocalAddress, got %v", err)
	}
}

func TestStartFailureRevertsToCreated(t *testing.T) {
	fl := newFakeLink()
	fl.setListenErr(errors.New("address in use"))
	tr := New(Options{System: "sysA", Links: []link.Link{fl},
		Bind: []Endpoint{{Scheme: "tcp", Address: "127.0.0.1:2552"}}})

	err := tr.Start(context.Background())
	if !errors.Is(err, ErrTransportStart) {
		t.Fatalf("expected ErrTransportStart, got %v", err)
	}
	if tr.State() != StateCreated {
		t.Fatalf("failed start must revert to created, got %s", tr.State())
	}

	fl.setListenErr(nil)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("retry after failed start: %v", err)
	}
	if tr.State() != StateRunning {
		t.Fatalf("retry should reach running, got %s", tr.State())
	}
	<-tr.Shutdown()
}

func TestShutdownIsIdempotent(t *testing.T) {
	fl := newFakeLink()
	tr := New(Options{System: "sysA", Links: []link.Link{fl},
		Bind: []Endpoint{{Scheme: "tcp", Address: "127.0.0.1:2552"}}})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	ch1 := tr.Shutdown()
	ch2 := tr.Shutdown()
	if ch1 != ch2 {
		t.Fatalf("shutdown must return the same channel on every call")
	}
	select {
	case <-ch1:
	case <-time.After(5 * time.Second):
		t.Fatalf("shutdown did not complete")
	}
	if tr.State() != StateTerminated {
		t.Fatalf("expected terminated, got %s", tr.State())
	}
	// a third call after completion still returns the closed channel
	if _, open := <-tr.Shutdown(); open {
		t.Fatalf("completed shutdown channel must be closed")
	}
}

func TestShutdownWithoutStart(t *testing.T) {
	tr := New(Options{System: "sysA", Links: []link.Link{newFakeLink()}})
	select {
	case <-tr.Shutdown():
	case <-time.After(time.Second):
		t.Fatalf("created transport must terminate immediately")
	}
	if tr.State() != StateTerminated {
		t.Fatalf("expected terminated, got %s", tr.State())
	}
	if err := tr.Start(context.Background()); err == nil {
		t.Fatalf("start after terminate must be rejected")
	}
}

// Start and Shutdown racing from separate goroutines must always end
// in Terminated with the completion channel closed, whichever wins.
func TestConcurrentStartShutdown(t *testing.T) {
	for i := 0; i < 200; i++ {
		fl := newFakeLink()
		tr := New(Options{System: "sysA", Links: []link.Link{fl},
			Bind: []Endpoint{{Scheme: "tcp", Address: "127.0.0.1:2552"}}})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = tr.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			tr.Shutdown()
		}()
		wg.Wait()

		select {
		case <-tr.Shutdown():
		case <-time.After(5 * time.Second):
			t.Fatalf("iteration %d: shutdown never completed", i)
		}
		if tr.State() != StateTerminated {
			t.Fatalf("iteration %d: expected terminated, got %s", i, tr.State())
		}
	}
}

func TestDropQuarantineCommand(t *testing.T) {
	fl := newFakeLink()
	tr := startTransport(t, fl)
	peer := mustAddr(t, "tcp://sysB@127.0.0.1:2553")
	tr.Quarantine(peer, 42, "bad handshake")

	p := tr.ManagementCommand(context.Background(), Command{Name: CmdDropQuarantine, Address: peer, UID: 42})
	if v, ok := waitResult(t, p); !ok || !v {
		t.Fatalf("trusted drop-quarantine should be handled, got v=%v ok=%v", v, ok)
	}
	if tr.registry.IsQuarantined(peer, 42) {
		t.Fatalf("entry should be removed")
	}
}

func TestDropQuarantineRefusedUntrusted(t *testing.T) {
	fl := newFakeLink()
	tr := New(Options{System: "sysA", Links: []link.Link{fl}, UntrustedMode: true,
		Bind: []Endpoint{{Scheme: "tcp", Address: "127.0.0.1:2552"}}})
	peer := mustAddr(t, "tcp://sysB@127.0.0.1:2553")
	tr.Quarantine(peer, 42, "bad handshake")

	p := tr.ManagementCommand(context.Background(), Command{Name: CmdDropQuarantine, Address: peer, UID: 42})
	if v, ok := waitResult(t, p); !ok || v {
		t.Fatalf("untrusted drop-quarantine must resolve false, got v=%v ok=%v", v, ok)
	}
	if !tr.registry.IsQuarantined(peer, 42) {
		t.Fatalf("entry must survive the refused command")
	}
	tr.mgmt.drain()
}

func TestManagementCommandsAgainstTransport(t *testing.T) {
	fl := newFakeLink()
	tr := startTransport(t, fl)

	if v, ok := waitResult(t, tr.ManagementCommand(context.Background(), Command{Name: CmdStats})); !ok || !v {
		t.Fatalf("stats should be handled, got v=%v ok=%v", v, ok)
	}
	if v, ok := waitResult(t, tr.ManagementCommand(context.Background(), Command{Name: CmdFlush})); !ok || !v {
		t.Fatalf("flush over an empty queue should be handled, got v=%v ok=%v", v, ok)
	}
	if v, ok := waitResult(t, tr.ManagementCommand(context.Background(), Command{Name: "bogus"})); !ok || v {
		t.Fatalf("unknown command must resolve false, got v=%v ok=%v", v, ok)
	}
}

func TestShutdownForcesPendingCommandFalse(t *testing.T) {
	fl := newFakeLink()
	tr := startTransport(t, fl)
	peer := PeerIdentity{Address: mustAddr(t, "tcp://sysB@127.0.0.1:2553")}

	// overload the destination so a flush cannot complete on its own
	for i := 0; i < 32; i++ {
		tr.Send(Message{Payload: []byte("bulk"), Recipient: peer})
	}
	p := tr.ManagementCommand(context.Background(), Command{Name: CmdFlush})
	done := tr.Shutdown()
	if v, ok := waitResult(t, p); !ok || v {
		t.Fatalf("pending flush must be forced to false on shutdown, got v=%v ok=%v", v, ok)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("shutdown did not complete")
	}
}

type chanHandler struct{ ch chan *wire.Envelope }

func (h *chanHandler) Deliver(env *wire.Envelope) {
	select {
	case h.ch <- env:
	default:
	}
}

// Two transports wired over the in-process link: the full outbound and
// inbound path, including inbound quarantine filtering.
func TestMemLinkEndToEnd(t *testing.T) {
	shared := mem.New()
	inbox := &chanHandler{ch: make(chan *wire.Envelope, 8)}

	a := New(Options{System: "sysA", Links: []link.Link{shared},
		Bind: []Endpoint{{Scheme: "mem", Address: "nodea:1"}}})
	b := New(Options{System: "sysB", Links: []link.Link{shared},
		Bind:    []Endpoint{{Scheme: "mem", Address: "nodeb:1"}},
		Handler: inbox})
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start a: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start b: %v", err)
	}
	t.Cleanup(func() { <-a.Shutdown(); <-b.Shutdown() })

	target := PeerIdentity{Address: b.DefaultAddress()}
	a.Send(Message{Payload: []byte("hello"), Recipient: target, Path: "/user/greeter"})

	var env *wire.Envelope
	select {
	case env = <-inbox.ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("message never delivered")
	}
	if string(env.Payload) != "hello" || env.Path != "/user/greeter" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if env.Sender != a.DefaultAddress().String() || env.SenderUID != uint64(a.UID()) {
		t.Fatalf("sender identity not carried: %q uid=%d", env.Sender, env.SenderUID)
	}

	// quarantining the sender incarnation silences further traffic
	b.Quarantine(a.DefaultAddress(), a.UID(), "operator decision")
	a.Send(Message{Payload: []byte("ignored"), Recipient: target})
	select {
	case env := <-inbox.ch:
		t.Fatalf("quarantined sender's message delivered: %+v", env)
	case <-time.After(200 * time.Millisecond):
	}
}
