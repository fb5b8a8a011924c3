package remoting

import (
	"go.uber.org/zap"

	"github.com/olegsmith/akka/pkg/link"
	"github.com/olegsmith/akka/pkg/observability"
	"github.com/olegsmith/akka/pkg/wire"
)

// Message is one outbound actor message. Sender nil means the origin is
// stamped with the resolved local address. Delivery is best-effort:
// quarantined, unroutable and shutdown-time messages are dropped
// silently, matching the at-most-once semantics of the layer above.
type Message struct {
	Payload     []byte
	Sender      *Address
	Recipient   PeerIdentity
	Path        string
	Correlation string
}

// dispatcher is the send-path orchestrator. It holds no state of its
// own: it consults the quarantine registry, resolves the local origin
// and hands the encoded frame to the connection layer. It never blocks
// on network I/O; the pool's per-destination queue absorbs the handoff.
type dispatcher struct {
	resolver *Resolver
	registry *QuarantineRegistry
	pool     *link.Pool
	codecs   *wire.Registry
	format   wire.Format
	localUID UID
	running  func() bool
	log      *zap.Logger
	metrics  *observability.RemotingMetrics
}

func (d *dispatcher) send(msg Message) {
	if !d.running() {
		d.drop("not-running", msg)
		return
	}
	if d.registry.IsQuarantined(msg.Recipient.Address, msg.Recipient.UID) {
		d.drop("quarantined", msg)
		return
	}
	local, err := d.resolver.LocalAddressFor(msg.Recipient.Address)
	if err != nil {
		// contract violation: send before the transport is running
		d.log.Error("local address resolution failed", zap.Error(err))
		d.drop("no-local-address", msg)
		return
	}
	sender := local
	if msg.Sender != nil {
		sender = *msg.Sender
	}
	env := wire.Envelope{
		Sender:       sender.String(),
		SenderUID:    uint64(d.localUID),
		Recipient:    msg.Recipient.Address.String(),
		RecipientUID: uint64(msg.Recipient.UID),
		Path:         msg.Path,
		Correlation:  msg.Correlation,
		Payload:      msg.Payload,
	}
	frame, err := wire.EncodeEnvelope(d.codecs, d.format, &env)
	if err != nil {
		d.log.Error("envelope encode failed", zap.Error(err))
		d.drop("encode", msg)
		return
	}
	if !d.pool.Enqueue(msg.Recipient.Address.Protocol, msg.Recipient.Address.HostPort(), frame) {
		d.drop("backpressure", msg)
		return
	}
	if d.metrics != nil {
		d.metrics.SentFrames.Inc()
	}
}

func (d *dispatcher) drop(reason string, msg Message) {
	if d.metrics != nil {
		d.metrics.Drop(reason)
	}
	d.log.Debug("message dropped",
		zap.String("reason", reason),
		zap.String("recipient", msg.Recipient.String()))
}
