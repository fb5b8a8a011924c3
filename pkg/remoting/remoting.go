package remoting

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/olegsmith/akka/pkg/link"
	"github.com/olegsmith/akka/pkg/observability"
	"github.com/olegsmith/akka/pkg/wire"
)

// Transport is the capability set the actor runtime programs against.
// Implementations are swappable at construction; NetTransport is the
// network-backed one, and any link set (tcp, quic, mem) can back it.
type Transport interface {
	// Start binds the configured endpoints and publishes the local
	// address set. The default address is available once Start returns.
	Start(ctx context.Context) error
	// Shutdown rejects new sends immediately, force-resolves pending
	// management results and tears the transport down. Idempotent; the
	// returned channel closes when teardown completes and is the same
	// on every call.
	Shutdown() <-chan struct{}
	// Addresses returns all bound local addresses.
	Addresses() []Address
	// DefaultAddress returns the canonical local address.
	DefaultAddress() Address
	// LocalAddressForRemote picks the local origin address to use when
	// contacting remote.
	LocalAddressForRemote(remote Address) (Address, error)
	// Send forwards one message, best-effort. Quarantined and
	// shutdown-time sends are dropped silently.
	Send(msg Message)
	// ManagementCommand submits an administrative command and returns
	// its asynchronously resolved boolean result.
	ManagementCommand(ctx context.Context, cmd Command) *PendingResult
	// Quarantine excludes a peer; see QuarantineRegistry.Quarantine.
	Quarantine(addr Address, uid UID, reason string)
}

// InboundHandler receives envelopes accepted from remote peers.
type InboundHandler interface {
	Deliver(env *wire.Envelope)
}

// Endpoint names one inbound bind: a link scheme plus its
// link-specific listen address.
type Endpoint struct {
	Scheme  string
	Address string
}

// Options configures a NetTransport.
type Options struct {
	// System is the actor system name stamped into local addresses.
	System string
	// Links are the available connection layers, keyed by scheme.
	Links []link.Link
	// Bind lists the endpoints to listen on; the first successfully
	// bound one becomes the default address.
	Bind []Endpoint

	GateTimeout    time.Duration
	CommandTimeout time.Duration
	OutboundQueue  int

	// UntrustedMode refuses administrative management commands.
	UntrustedMode bool
	// LogLifecycleEvents raises lifecycle logging to Info.
	LogLifecycleEvents bool

	Handler    InboundHandler
	Logger     *zap.Logger
	Registerer prometheus.Registerer
}

// NetTransport is the wired implementation of Transport.
type NetTransport struct {
	opts    Options
	log     *zap.Logger
	metrics *observability.RemotingMetrics

	uid      UID
	book     *AddressBook
	resolver *Resolver
	registry *QuarantineRegistry
	mgmt     *managementChannel
	pool     *link.Pool
	disp     *dispatcher
	codecs   *wire.Registry

	state     atomic.Int32
	ctx       context.Context
	cancel    context.CancelFunc
	listeners []link.Listener
	sweepStop chan struct{}

	sessMu   sync.Mutex
	sessions map[link.Session]struct{}

	wg           sync.WaitGroup
	shutdownOnce sync.Once
	done         chan struct{}
}

var _ Transport = (*NetTransport)(nil)

// New builds a NetTransport in state Created. Start must be called
// before any address or send operation.
func New(opts Options) *NetTransport {
	log := opts.Logger
	if log == nil {
		log = zap.L()
	}
	log = log.Named("remoting")

	metrics := observability.NewRemotingMetrics(opts.Registerer)
	codecs := wire.NewRegistry()
	if c, err := wire.CBOR(); err == nil {
		codecs.Register(c)
	}

	book := NewAddressBook()
	resolver := NewResolver(book)
	registry := NewQuarantineRegistry(opts.GateTimeout, log, metrics)
	pool := link.NewPool(opts.Links, opts.OutboundQueue, log)
	registry.SetSessionDropper(func(a Address) {
		pool.Drop(a.Protocol, a.HostPort())
	})

	t := &NetTransport{
		opts:     opts,
		log:      log,
		metrics:  metrics,
		uid:      NewUID(),
		book:     book,
		resolver: resolver,
		registry: registry,
		pool:     pool,
		codecs:   codecs,
		sessions: make(map[link.Session]struct{}),
		done:     make(chan struct{}),
	}
	t.mgmt = newManagementChannel(commandTargetFunc(t.handleCommand), opts.CommandTimeout, log, metrics)
	t.disp = &dispatcher{
		resolver: resolver,
		registry: registry,
		pool:     pool,
		codecs:   codecs,
		format:   wire.FormatCBOR,
		localUID: t.uid,
		running:  func() bool { return t.State() == StateRunning },
		log:      log,
		metrics:  metrics,
	}
	return t
}

type commandTargetFunc func(ctx context.Context, cmd Command) bool

func (f commandTargetFunc) HandleCommand(ctx context.Context, cmd Command) bool {
	return f(ctx, cmd)
}

// State returns the current lifecycle state.
func (t *NetTransport) State() State { return State(t.state.Load()) }

// UID is this transport instance's incarnation identifier.
func (t *NetTransport) UID() UID { return t.uid }

func (t *NetTransport) Addresses() []Address    { return t.book.Addresses() }
func (t *NetTransport) DefaultAddress() Address { return t.book.DefaultAddress() }

func (t *NetTransport) LocalAddressForRemote(remote Address) (Address, error) {
	return t.resolver.LocalAddressFor(remote)
}

func (t *NetTransport) Send(msg Message) { t.disp.send(msg) }

func (t *NetTransport) Quarantine(addr Address, uid UID, reason string) {
	t.registry.Quarantine(addr, uid, reason)
}

// ManagementCommand submits cmd, minting a correlation token when the
// caller did not set one.
func (t *NetTransport) ManagementCommand(ctx context.Context, cmd Command) *PendingResult {
	if cmd.Token == "" {
		cmd.Token = wire.NewCorrelation()
	}
	return t.mgmt.Submit(ctx, cmd)
}

// handleCommand executes one management command against the transport.
func (t *NetTransport) handleCommand(ctx context.Context, cmd Command) bool {
	switch cmd.Name {
	case CmdFlush:
		return t.pool.Flush(ctx)
	case CmdStats:
		st := t.pool.Stats()
		gated, quarantined := t.registry.counts()
		t.log.Info("transport stats",
			zap.Int("destinations", st.Destinations),
			zap.Int("queued", st.Queued),
			zap.Int("gated", gated),
			zap.Int("quarantined", quarantined))
		return true
	case CmdDropQuarantine:
		if t.opts.UntrustedMode {
			t.log.Warn("administrative command refused in untrusted mode",
				zap.String("cmd", cmd.Name), zap.String("token", cmd.Token))
			return false
		}
		return t.registry.Reset(cmd.Address, cmd.UID)
	default:
		return false
	}
}

// lifecycleLog logs transport lifecycle events at Info when configured,
// Debug otherwise.
func (t *NetTransport) lifecycleLog(msg string, fields ...zap.Field) {
	if t.opts.LogLifecycleEvents {
		t.log.Info(msg, fields...)
		return
	}
	t.log.Debug(msg, fields...)
}
