package backendpool

import (
	"container/heap"
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hadimousavi79/cf-xray-proxy/internal/metrics"
)

// Pool holds the managed set of backend origins and performs weighted,
// health-aware selection.
type Pool struct {
	log *zap.Logger

	mu       sync.RWMutex
	backends []*Backend
	sticky   bool

	healthyTable *aliasTable
	fullTable    *aliasTable
	order        *indexHeap // sticky-mode min-index heap over currently-healthy positions

	probeInterval time.Duration
	probeClient   *http.Client
	probeInFlight int32 // accessed only via atomic-free single-flag compare under mu; see maybeStartProbe

	// anyHealthyFallback latches true the first time Select had to fall
	// back to the full (possibly-unhealthy) backend set, so /health can
	// surface the event.
	fallbackMu        sync.Mutex
	anyHealthyFallback bool
}

// Options configures a new Pool.
type Options struct {
	Sticky        bool
	ProbeInterval time.Duration
	ProbeClient   *http.Client // nil uses a client with a 4s timeout
}

// New builds a Pool from the given (url, weight) backend descriptors.
// Duplicate URLs collapse, summing weights. Callers normally pre-collapse
// via config.FromEnv, but New defends against direct construction too.
func New(log *zap.Logger, descriptors []BackendDescriptor, opts Options) *Pool {
	byURL := map[string]*Backend{}
	var order []string
	for _, d := range descriptors {
		if existing, ok := byURL[d.URL.String()]; ok {
			existing.Weight += d.Weight
			continue
		}
		b := NewBackend(d.URL, d.Weight)
		byURL[d.URL.String()] = b
		order = append(order, d.URL.String())
	}
	backends := make([]*Backend, 0, len(order))
	for _, u := range order {
		backends = append(backends, byURL[u])
	}

	interval := opts.ProbeInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	client := opts.ProbeClient
	if client == nil {
		client = &http.Client{Timeout: 4 * time.Second}
	}

	p := &Pool{
		log:           log,
		backends:      backends,
		sticky:        opts.Sticky,
		probeInterval: interval,
		probeClient:   client,
	}
	p.rebuildLocked()
	return p
}

// BackendDescriptor is the input shape for New; kept distinct from
// config.Backend so this package has no dependency on internal/config.
type BackendDescriptor struct {
	URL    *url.URL
	Weight int
}

// Len reports the number of configured backends.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.backends)
}

// Snapshot returns the backends in configured order, for /health and
// /status reporting. Callers must not mutate the returned slice's Backend
// pointers' exported fields.
func (p *Pool) Snapshot() []*Backend {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Backend, len(p.backends))
	copy(out, p.backends)
	return out
}

// AnyHealthyFallbackOccurred reports whether Select has ever had to fall
// back to the full backend set because no healthy backend outside its
// exclude set was available.
func (p *Pool) AnyHealthyFallbackOccurred() bool {
	p.fallbackMu.Lock()
	defer p.fallbackMu.Unlock()
	return p.anyHealthyFallback
}

// Select picks a backend, excluding any whose Identity() is present in
// exclude. Opportunistically triggers a health-probe cycle first if one
// is due.
func (p *Pool) Select(exclude map[string]bool) *Backend {
	p.maybeStartProbe()

	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.backends) == 0 {
		return nil
	}

	if p.sticky && len(p.backends) > 1 {
		if b := p.selectStickyLocked(exclude); b != nil {
			return b
		}
	}

	if b := p.selectFromTableLocked(p.healthyTable, exclude); b != nil {
		return b
	}

	// No healthy backends matched: fall back to the full set to avoid a
	// total blackhole, and latch that this ever happened for /health.
	p.fallbackMu.Lock()
	p.anyHealthyFallback = true
	p.fallbackMu.Unlock()
	metrics.BackendFallbackTotal.Inc()

	if b := p.selectFromTableLocked(p.fullTable, exclude); b != nil {
		return b
	}

	return p.backends[0]
}

// selectFromTableLocked implements a sample-N-times-then-scan strategy:
// draw from the alias table up to max(4, 2n) times, falling back to an ordered
// scan if every draw lands on an excluded backend. Caller must hold p.mu
// (read lock suffices; table structures are rebuilt only under the write
// lock).
func (p *Pool) selectFromTableLocked(t *aliasTable, exclude map[string]bool) *Backend {
	if t == nil || t.empty() {
		return nil
	}
	n := len(t.indices)
	attempts := n * 2
	if attempts < 4 {
		attempts = 4
	}
	for i := 0; i < attempts; i++ {
		idx := t.sample()
		b := p.backends[idx]
		if len(exclude) == 0 || !exclude[b.Identity()] {
			return b
		}
	}
	// Exhausted random attempts: scan the table in order.
	for _, idx := range t.indices {
		b := p.backends[idx]
		if len(exclude) == 0 || !exclude[b.Identity()] {
			return b
		}
	}
	return nil
}

// selectStickyLocked implements sticky mode: "first healthy backend in
// configured order" via a min-index heap, falling back to a linear scan
// when the heap's head is excluded.
func (p *Pool) selectStickyLocked(exclude map[string]bool) *Backend {
	if p.order == nil || p.order.Len() == 0 {
		return nil
	}
	for _, idx := range p.order.indices() {
		b := p.backends[idx]
		if len(exclude) == 0 || !exclude[b.Identity()] {
			return b
		}
	}
	return nil
}

// ReportSuccess records a successful request/probe outcome for the backend
// identified by identity, rebuilding the selection structures if its health
// bit flips.
func (p *Pool) ReportSuccess(identity string) {
	p.withBackend(identity, func(b *Backend) bool { return b.ReportSuccess() })
}

// ReportFailure records a failed request/probe outcome.
func (p *Pool) ReportFailure(identity string) {
	p.withBackend(identity, func(b *Backend) bool { return b.ReportFailure() })
}

func (p *Pool) withBackend(identity string, report func(*Backend) bool) {
	p.mu.RLock()
	var target *Backend
	for _, b := range p.backends {
		if b.Identity() == identity {
			target = b
			break
		}
	}
	p.mu.RUnlock()
	if target == nil {
		return
	}
	if changed := report(target); changed {
		p.mu.Lock()
		p.rebuildLocked()
		p.mu.Unlock()
		if p.log != nil {
			p.log.Info("backend health transition", zap.String("backend", identity), zap.Bool("healthy", target.Healthy()))
		}
	}
}

// rebuildLocked recomputes the healthy-subset alias table, the full alias
// table, and the sticky-mode heap. Caller must hold p.mu (write lock).
func (p *Pool) rebuildLocked() {
	var healthyIdx, healthyW, fullIdx, fullW []int
	for i, b := range p.backends {
		fullIdx = append(fullIdx, i)
		fullW = append(fullW, b.Weight)
		if b.Healthy() {
			healthyIdx = append(healthyIdx, i)
			healthyW = append(healthyW, b.Weight)
		}
	}
	p.healthyTable = newAliasTable(healthyIdx, healthyW)
	p.fullTable = newAliasTable(fullIdx, fullW)

	h := &indexHeap{}
	heap.Init(h)
	for _, i := range healthyIdx {
		heap.Push(h, i)
	}
	p.order = h
}

// maybeStartProbe dispatches one probe cycle if the interval has elapsed
// and no cycle is currently in flight. The next-check timestamp is set
// before dispatch (on every backend) to prevent double-scheduling.
func (p *Pool) maybeStartProbe() {
	p.mu.RLock()
	backends := make([]*Backend, len(p.backends))
	copy(backends, p.backends)
	interval := p.probeInterval
	p.mu.RUnlock()

	if len(backends) == 0 {
		return
	}

	now := time.Now()
	due := false
	for _, b := range backends {
		if b.DueForProbe(now, interval) {
			due = true
			break
		}
	}
	if !due {
		return
	}

	p.mu.Lock()
	if p.probeInFlight != 0 {
		p.mu.Unlock()
		return
	}
	p.probeInFlight = 1
	p.mu.Unlock()

	// Mark scheduling before dispatch so concurrent Select calls don't
	// also trigger a cycle.
	for _, b := range backends {
		b.MarkProbeScheduled(now)
	}

	go p.runProbeCycle(backends)
}

func (p *Pool) runProbeCycle(backends []*Backend) {
	defer func() {
		p.mu.Lock()
		p.probeInFlight = 0
		p.mu.Unlock()
	}()

	var wg sync.WaitGroup
	for _, b := range backends {
		wg.Add(1)
		go func(b *Backend) {
			defer wg.Done()
			p.probeOne(b)
		}(b)
	}
	wg.Wait()
}

// probeOne performs a GET /health against the backend origin with a hard
// 4s timeout; any status < 500 counts as success.
func (p *Pool) probeOne(b *Backend) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()

	reqURL := *b.URL
	reqURL.Path = "/health"
	reqURL.RawQuery = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		p.ReportFailure(b.Identity())
		return
	}

	resp, err := p.probeClient.Do(req)
	if err != nil {
		p.ReportFailure(b.Identity())
		return
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 500 {
		p.ReportSuccess(b.Identity())
	} else {
		p.ReportFailure(b.Identity())
	}
}

// indexHeap is a min-index container/heap.Interface implementation used
// for sticky-mode "first healthy in configured order" selection.
type indexHeap struct {
	data []int
}

func (h *indexHeap) Len() int            { return len(h.data) }
func (h *indexHeap) Less(i, j int) bool  { return h.data[i] < h.data[j] }
func (h *indexHeap) Swap(i, j int)       { h.data[i], h.data[j] = h.data[j], h.data[i] }
func (h *indexHeap) Push(x interface{})  { h.data = append(h.data, x.(int)) }
func (h *indexHeap) Pop() interface{} {
	old := h.data
	n := len(old)
	v := old[n-1]
	h.data = old[:n-1]
	return v
}

// indices returns the heap's contents in ascending order without mutating
// the heap (a fresh copy is sorted via heap pop semantics).
func (h *indexHeap) indices() []int {
	cp := &indexHeap{data: append([]int(nil), h.data...)}
	out := make([]int, 0, cp.Len())
	for cp.Len() > 0 {
		out = append(out, heap.Pop(cp).(int))
	}
	return out
}
