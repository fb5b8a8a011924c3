package remoting

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/olegsmith/akka/pkg/observability"
)

// QuarantineRegistry is the fault-isolation state machine. It tracks two
// kinds of exclusion:
//
//   - permanent quarantine of a specific incarnation (address + UID),
//     which never expires and never gates other UIDs at the address;
//   - a UID-agnostic gate on an address, which excludes every
//     incarnation until a bounded timeout elapses, used when a fault is
//     observed before the peer's UID is known.
//
// A gate call never downgrades an existing per-UID quarantine: the two
// entry kinds are kept independently, and lookups apply the stronger one.
type QuarantineRegistry struct {
	mu          sync.RWMutex
	gateTimeout time.Duration
	gates       map[Address]time.Time
	permanent   map[PeerIdentity]quarantineEntry

	now     func() time.Time
	onDrop  func(Address)
	log     *zap.Logger
	metrics *observability.RemotingMetrics
}

type quarantineEntry struct {
	Reason string
	Since  time.Time
}

// DefaultGateTimeout applies when no timeout is configured.
const DefaultGateTimeout = time.Minute

func NewQuarantineRegistry(gateTimeout time.Duration, log *zap.Logger, m *observability.RemotingMetrics) *QuarantineRegistry {
	if gateTimeout <= 0 {
		gateTimeout = DefaultGateTimeout
	}
	if log == nil {
		log = zap.L()
	}
	return &QuarantineRegistry{
		gateTimeout: gateTimeout,
		gates:       make(map[Address]time.Time),
		permanent:   make(map[PeerIdentity]quarantineEntry),
		now:         time.Now,
		log:         log,
		metrics:     m,
	}
}

// SetSessionDropper installs the hook used to tear down the live session
// to an address on strong quarantine. Set once during transport wiring.
func (q *QuarantineRegistry) SetSessionDropper(fn func(Address)) { q.onDrop = fn }

// Quarantine excludes a peer. With a non-zero uid the exclusion is
// permanent for that exact incarnation and the session to the address is
// torn down. With uid zero the address is gated: the session is closed
// and every incarnation is excluded until the gate expires.
func (q *QuarantineRegistry) Quarantine(addr Address, uid UID, reason string) {
	q.mu.Lock()
	if uid != 0 {
		key := PeerIdentity{Address: addr, UID: uid}
		if _, dup := q.permanent[key]; !dup {
			q.permanent[key] = quarantineEntry{Reason: reason, Since: q.now()}
			if q.metrics != nil {
				q.metrics.QuarantinedPeers.Inc()
			}
		}
	} else {
		if _, dup := q.gates[addr]; !dup && q.metrics != nil {
			q.metrics.GatedPeers.Inc()
		}
		q.gates[addr] = q.now().Add(q.gateTimeout)
	}
	q.mu.Unlock()

	if uid != 0 {
		q.log.Warn("peer quarantined",
			zap.String("addr", addr.String()),
			zap.Uint64("uid", uint64(uid)),
			zap.String("reason", reason))
	} else {
		q.log.Warn("peer gated",
			zap.String("addr", addr.String()),
			zap.Duration("timeout", q.gateTimeout),
			zap.String("reason", reason))
	}
	if q.onDrop != nil {
		q.onDrop(addr)
	}
}

// IsQuarantined reports whether a matching permanent entry exists for
// (addr, uid), or an unexpired gate exists for addr. A permanent entry
// for one UID does not exclude other UIDs at the same address.
func (q *QuarantineRegistry) IsQuarantined(addr Address, uid UID) bool {
	q.mu.RLock()
	if uid != 0 {
		if _, ok := q.permanent[PeerIdentity{Address: addr, UID: uid}]; ok {
			q.mu.RUnlock()
			return true
		}
	}
	exp, gated := q.gates[addr]
	q.mu.RUnlock()
	if !gated {
		return false
	}
	if q.now().Before(exp) {
		return true
	}
	// lazy expiry
	q.ExpireGates(q.now())
	return false
}

// ExpireGates purges gates whose expiry has passed.
func (q *QuarantineRegistry) ExpireGates(now time.Time) {
	q.mu.Lock()
	for addr, exp := range q.gates {
		if !now.Before(exp) {
			delete(q.gates, addr)
			if q.metrics != nil {
				q.metrics.GatedPeers.Dec()
			}
			q.log.Debug("gate expired", zap.String("addr", addr.String()))
		}
	}
	q.mu.Unlock()
}

// Reset removes a quarantine entry by administrative override. With a
// non-zero uid it removes the permanent entry for that incarnation,
// otherwise the address gate. Returns whether anything was removed.
func (q *QuarantineRegistry) Reset(addr Address, uid UID) bool {
	q.mu.Lock()
	var removed bool
	if uid != 0 {
		key := PeerIdentity{Address: addr, UID: uid}
		if _, ok := q.permanent[key]; ok {
			delete(q.permanent, key)
			removed = true
			if q.metrics != nil {
				q.metrics.QuarantinedPeers.Dec()
			}
		}
	} else if _, ok := q.gates[addr]; ok {
		delete(q.gates, addr)
		removed = true
		if q.metrics != nil {
			q.metrics.GatedPeers.Dec()
		}
	}
	q.mu.Unlock()
	if removed {
		q.log.Warn("quarantine reset by operator",
			zap.String("addr", addr.String()), zap.Uint64("uid", uint64(uid)))
	}
	return removed
}

// sweep runs ExpireGates periodically until stop is closed.
func (q *QuarantineRegistry) sweep(stop <-chan struct{}) {
	interval := q.gateTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-t.C:
			q.ExpireGates(now)
		}
	}
}

func (q *QuarantineRegistry) counts() (gated, quarantined int) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.gates), len(q.permanent)
}
