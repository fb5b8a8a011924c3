package link

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pool keeps at most one canonical outbound session per remote endpoint
// and a bounded send queue in front of it, so callers never block on
// network I/O. Frames that do not fit the queue are dropped; delivery
// is best-effort.
type Pool struct {
	mu    sync.Mutex
	links map[string]Link
	peers map[string]*outbound
	queue int
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type outbound struct {
	link     Link
	endpoint string
	ch       chan []byte
	done     chan struct{}
	once     sync.Once

	sessMu sync.Mutex
	sess   Session
}

// close stops the sender and closes the live session, unblocking a
// send that is in flight on it.
func (o *outbound) close() {
	o.once.Do(func() { close(o.done) })
	o.sessMu.Lock()
	if o.sess != nil {
		_ = o.sess.Close()
	}
	o.sessMu.Unlock()
}

func (o *outbound) setSession(s Session) {
	o.sessMu.Lock()
	o.sess = s
	o.sessMu.Unlock()
}

// PoolStats is a snapshot of pool occupancy.
type PoolStats struct {
	Destinations int
	Queued       int
}

// NewPool builds a pool over the given links, keyed by scheme.
// queueLen bounds each per-destination send queue.
func NewPool(links []Link, queueLen int, log *zap.Logger) *Pool {
	if queueLen <= 0 {
		queueLen = 256
	}
	if log == nil {
		log = zap.L()
	}
	byScheme := make(map[string]Link, len(links))
	for _, l := range links {
		byScheme[l.Scheme()] = l
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		links:  byScheme,
		peers:  make(map[string]*outbound),
		queue:  queueLen,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// LinkFor returns the link registered for a scheme, or nil.
func (p *Pool) LinkFor(scheme string) Link {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.links[scheme]
}

func key(scheme, endpoint string) string { return scheme + "://" + endpoint }

// Enqueue hands one frame to the destination's sender, creating the
// sender and its session on first use. Returns false when the
// destination's queue is full or the scheme has no link; the frame is
// dropped in both cases.
func (p *Pool) Enqueue(scheme, endpoint string, frame []byte) bool {
	p.mu.Lock()
	select {
	case <-p.ctx.Done():
		p.mu.Unlock()
		return false
	default:
	}
	k := key(scheme, endpoint)
	o := p.peers[k]
	if o == nil {
		l := p.links[scheme]
		if l == nil {
			p.mu.Unlock()
			p.log.Warn("no link for scheme", zap.String("scheme", scheme))
			return false
		}
		o = &outbound{link: l, endpoint: endpoint, ch: make(chan []byte, p.queue), done: make(chan struct{})}
		p.peers[k] = o
		p.wg.Add(1)
		go p.run(o)
	}
	p.mu.Unlock()

	select {
	case o.ch <- frame:
		return true
	default:
		return false
	}
}

// run is the per-destination sender: it opens the session lazily,
// reuses it across frames and redials after a send failure.
func (p *Pool) run(o *outbound) {
	defer p.wg.Done()
	var sess Session
	defer func() {
		if sess != nil {
			_ = sess.Close()
		}
	}()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-o.done:
			return
		case frame := <-o.ch:
			if sess == nil {
				s, err := o.link.Dial(p.ctx, o.endpoint)
				if err != nil {
					p.log.Warn("dial failed", zap.String("scheme", o.link.Scheme()), zap.String("endpoint", o.endpoint), zap.Error(err))
					continue
				}
				sess = s
				o.setSession(s)
			}
			if err := sess.SendFrame(frame); err != nil {
				p.log.Warn("send failed", zap.String("endpoint", o.endpoint), zap.Error(err))
				_ = sess.Close()
				sess = nil
				o.setSession(nil)
			}
		}
	}
}

// Drop tears down the destination's session and sender and discards
// everything still queued. Used on quarantine.
func (p *Pool) Drop(scheme, endpoint string) {
	p.mu.Lock()
	k := key(scheme, endpoint)
	o := p.peers[k]
	delete(p.peers, k)
	p.mu.Unlock()
	if o != nil {
		o.close()
	}
}

// Flush waits until all per-destination queues are empty or ctx is done.
func (p *Pool) Flush(ctx context.Context) bool {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		if p.Stats().Queued == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
	}
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := PoolStats{Destinations: len(p.peers)}
	for _, o := range p.peers {
		st.Queued += len(o.ch)
	}
	return st
}

// Destinations returns the currently tracked destination keys, sorted.
func (p *Pool) Destinations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.peers))
	for k := range p.peers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Close stops all senders and closes their sessions.
func (p *Pool) Close() {
	p.cancel()
	p.mu.Lock()
	for k, o := range p.peers {
		o.close()
		delete(p.peers, k)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
