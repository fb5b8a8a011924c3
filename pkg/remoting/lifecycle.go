package remoting

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"go.uber.org/zap"

	"github.com/olegsmith/akka/pkg/link"
	"github.com/olegsmith/akka/pkg/wire"
)

// State is the transport lifecycle state. Transitions are monotonic:
// Created → Starting → Running → ShuttingDown → Terminated. The only
// exception is a failed Start, which reverts to Created so the caller
// may retry from scratch.
type State int32

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting-down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ErrTransportStart wraps any bind failure during Start. The attempt is
// not retryable as such; the transport is left in Created and a fresh
// Start may be issued.
var ErrTransportStart = errors.New("remoting: transport start failed")

// Start binds all configured endpoints, publishes the address book and
// begins accepting inbound sessions. On any bind failure every already
// bound listener is closed and the state reverts to Created.
func (t *NetTransport) Start(ctx context.Context) error {
	if !t.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("remoting: start rejected in state %s", t.State())
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())

	var (
		bound     []Address
		listeners []link.Listener
	)
	fail := func(err error) error {
		for _, l := range listeners {
			_ = l.Close()
		}
		t.cancel()
		if !t.state.CompareAndSwap(int32(StateStarting), int32(StateCreated)) {
			// Shutdown raced in mid-start and is waiting on us to
			// finish its contract.
			t.mgmt.drain()
			t.state.Store(int32(StateTerminated))
			close(t.done)
		}
		return fmt.Errorf("%w: %w", ErrTransportStart, err)
	}

	for _, ep := range t.opts.Bind {
		l := t.pool.LinkFor(ep.Scheme)
		if l == nil {
			return fail(fmt.Errorf("no link for scheme %q", ep.Scheme))
		}
		lst, err := l.Listen(t.ctx, ep.Address)
		if err != nil {
			return fail(fmt.Errorf("listen %s://%s: %w", ep.Scheme, ep.Address, err))
		}
		addr, err := boundAddress(ep.Scheme, t.opts.System, lst.Addr())
		if err != nil {
			_ = lst.Close()
			return fail(err)
		}
		listeners = append(listeners, lst)
		bound = append(bound, addr)
	}
	if len(bound) == 0 {
		return fail(errors.New("no endpoints configured"))
	}

	// The book must be complete before the transport reports running:
	// the serialization layer reads the default address synchronously
	// from the moment Start returns.
	t.book.publish(bound, bound[0])
	t.listeners = listeners
	t.sweepStop = make(chan struct{})
	go t.registry.sweep(t.sweepStop)

	for _, lst := range listeners {
		t.wg.Add(1)
		go t.acceptLoop(lst)
	}

	if !t.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		// Shutdown raced in mid-start; everything is live, so run the
		// full teardown here and let its completion channel close.
		t.teardown()
		return fmt.Errorf("remoting: start aborted by shutdown")
	}
	t.lifecycleLog("transport started",
		zap.String("default", bound[0].String()),
		zap.Int("endpoints", len(bound)),
		zap.Uint64("uid", uint64(t.uid)))
	return nil
}

// Shutdown transitions to ShuttingDown immediately and tears the
// transport down in the background. Safe to call from any state and any
// number of times; every call observes the same completion channel.
func (t *NetTransport) Shutdown() <-chan struct{} {
	t.shutdownOnce.Do(func() {
		for {
			switch State(t.state.Load()) {
			case StateCreated:
				// never ran: nothing to drain beyond pending commands
				if t.state.CompareAndSwap(int32(StateCreated), int32(StateTerminated)) {
					t.mgmt.drain()
					close(t.done)
					return
				}
			case StateStarting:
				// Start is mid-flight; claim the shutdown and let
				// Start finish the teardown when its final transition
				// fails.
				if t.state.CompareAndSwap(int32(StateStarting), int32(StateShuttingDown)) {
					return
				}
			case StateRunning:
				if t.state.CompareAndSwap(int32(StateRunning), int32(StateShuttingDown)) {
					go t.teardown()
					return
				}
			default:
				return
			}
		}
	})
	return t.done
}

func (t *NetTransport) teardown() {
	t.lifecycleLog("transport shutting down")
	t.cancel()
	for _, l := range t.listeners {
		_ = l.Close()
	}
	t.sessMu.Lock()
	for s := range t.sessions {
		_ = s.Close()
	}
	t.sessMu.Unlock()
	t.mgmt.drain()
	t.pool.Close()
	close(t.sweepStop)
	t.wg.Wait()
	t.state.Store(int32(StateTerminated))
	t.lifecycleLog("transport terminated")
	close(t.done)
}

func (t *NetTransport) acceptLoop(l link.Listener) {
	defer t.wg.Done()
	for {
		s, err := l.Accept(t.ctx)
		if err != nil {
			select {
			case <-t.ctx.Done():
			default:
				t.log.Warn("accept failed", zap.String("addr", l.Addr().String()), zap.Error(err))
			}
			return
		}
		t.sessMu.Lock()
		t.sessions[s] = struct{}{}
		t.sessMu.Unlock()
		t.wg.Add(1)
		go t.serveSession(s)
	}
}

// serveSession reads envelopes off one inbound session and delivers
// them. Messages from quarantined peers are dropped; a frame from a
// quarantined incarnation closes the whole session.
func (t *NetTransport) serveSession(s link.Session) {
	defer t.wg.Done()
	defer func() {
		t.sessMu.Lock()
		delete(t.sessions, s)
		t.sessMu.Unlock()
		_ = s.Close()
	}()
	for {
		frame, err := s.RecvFrame()
		if err != nil {
			return
		}
		var env wire.Envelope
		if _, err := wire.DecodeEnvelope(t.codecs, frame, &env); err != nil {
			t.log.Warn("undecodable inbound frame", zap.Int("bytes", len(frame)), zap.Error(err))
			continue
		}
		sender, err := ParseAddress(env.Sender)
		if err != nil {
			t.log.Warn("inbound envelope with bad sender", zap.String("sender", env.Sender))
			continue
		}
		if t.registry.IsQuarantined(sender, UID(env.SenderUID)) {
			if t.metrics != nil {
				t.metrics.Drop("inbound-quarantined")
			}
			t.lifecycleLog("closing session to quarantined peer", zap.String("peer", sender.String()))
			return
		}
		if env.RecipientUID != 0 && UID(env.RecipientUID) != t.uid {
			// addressed to a previous incarnation of this node
			if t.metrics != nil {
				t.metrics.Drop("uid-mismatch")
			}
			continue
		}
		if t.metrics != nil {
			t.metrics.InboundMessages.Inc()
		}
		if t.opts.Handler != nil {
			t.opts.Handler.Deliver(&env)
		}
	}
}

// boundAddress derives the advertised Address for a bound listener.
// Wildcard hosts are rewritten to loopback so the address is dialable.
func boundAddress(scheme, system string, na net.Addr) (Address, error) {
	host, portStr, err := net.SplitHostPort(na.String())
	if err != nil {
		return Address{}, fmt.Errorf("listener address %q: %w", na.String(), err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Address{}, fmt.Errorf("listener address %q: bad port: %w", na.String(), err)
	}
	if host == "" || host == "::" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return Address{Protocol: scheme, System: system, Host: host, Port: port}, nil
}
