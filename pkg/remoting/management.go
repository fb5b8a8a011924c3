package remoting

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/olegsmith/akka/pkg/observability"
)

// Management command names understood by the transport.
const (
	// CmdFlush waits until all outbound queues have drained.
	CmdFlush = "flush"
	// CmdStats logs a snapshot of connection-layer occupancy.
	CmdStats = "stats"
	// CmdDropQuarantine removes a quarantine entry for Address/UID.
	// Refused in untrusted mode.
	CmdDropQuarantine = "drop-quarantine"
)

// Command is an administrative request against the transport. Token is
// a unique correlation id minted at submission.
type Command struct {
	Name    string
	Address Address
	UID     UID
	Token   string
}

// CommandTarget executes one management command, reporting whether it
// was handled. Unknown commands report false.
type CommandTarget interface {
	HandleCommand(ctx context.Context, cmd Command) bool
}

// PendingResult is the observable outcome of one submitted command.
// It resolves exactly once, to true (handled) or false (dropped or
// unsupported); Cancel suppresses delivery without undoing execution.
type PendingResult struct {
	once sync.Once
	ch   chan bool
}

func newPendingResult() *PendingResult {
	return &PendingResult{ch: make(chan bool, 1)}
}

// Result returns a channel that yields the single boolean outcome and
// is then closed. A cancelled result closes without a value.
func (p *PendingResult) Result() <-chan bool { return p.ch }

// Cancel gives up on the result. The underlying command may still run.
func (p *PendingResult) Cancel() {
	p.once.Do(func() { close(p.ch) })
}

// resolve reports whether this call performed the resolution.
func (p *PendingResult) resolve(v bool) bool {
	resolved := false
	p.once.Do(func() {
		p.ch <- v
		close(p.ch)
		resolved = true
	})
	return resolved
}

// managementChannel dispatches commands to a CommandTarget off the
// caller's goroutine and tracks outstanding results so shutdown can
// force-resolve them to false.
type managementChannel struct {
	mu       sync.Mutex
	target   CommandTarget
	pending  map[*PendingResult]struct{}
	draining bool
	timeout  time.Duration
	log      *zap.Logger
	metrics  *observability.RemotingMetrics
}

func newManagementChannel(target CommandTarget, timeout time.Duration, log *zap.Logger, m *observability.RemotingMetrics) *managementChannel {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = zap.L()
	}
	return &managementChannel{
		target:  target,
		pending: make(map[*PendingResult]struct{}),
		timeout: timeout,
		log:     log,
		metrics: m,
	}
}

// Submit enqueues cmd and returns its pending result. After drain has
// run, commands resolve to false immediately.
func (m *managementChannel) Submit(ctx context.Context, cmd Command) *PendingResult {
	p := newPendingResult()
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		m.finish(p, false)
		return p
	}
	m.pending[p] = struct{}{}
	m.mu.Unlock()

	go func() {
		cctx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()
		ok := m.target.HandleCommand(cctx, cmd)
		m.mu.Lock()
		delete(m.pending, p)
		m.mu.Unlock()
		m.finish(p, ok)
		m.log.Debug("management command resolved",
			zap.String("cmd", cmd.Name), zap.String("token", cmd.Token), zap.Bool("handled", ok))
	}()
	return p
}

// drain force-resolves every outstanding result to false and rejects
// further submissions. Called once on shutdown.
func (m *managementChannel) drain() {
	m.mu.Lock()
	m.draining = true
	outstanding := make([]*PendingResult, 0, len(m.pending))
	for p := range m.pending {
		outstanding = append(outstanding, p)
		delete(m.pending, p)
	}
	m.mu.Unlock()
	for _, p := range outstanding {
		m.finish(p, false)
	}
}

func (m *managementChannel) finish(p *PendingResult, ok bool) {
	if !p.resolve(ok) {
		return
	}
	if m.metrics != nil {
		outcome := "dropped"
		if ok {
			outcome = "handled"
		}
		m.metrics.CommandResults.WithLabelValues(outcome).Inc()
	}
}
