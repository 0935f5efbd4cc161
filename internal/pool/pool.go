// Package pool arbitrates which model endpoint serves the next call. All
// endpoint state lives in one goroutine; callers talk to it over channels.
package pool

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/MimeLyc/contextual-book-translator/pkg/log"
)

var (
	ErrNoCandidates = errors.New("no endpoint candidates")
	ErrClosed       = errors.New("endpoint pool closed")
)

const (
	DefaultFailureCooldown = 60 * time.Second
	DefaultStaleBusy       = 600 * time.Second
)

type Status string

const (
	StatusIdle Status = "idle"
	StatusBusy Status = "busy"
)

// Endpoint is a point-in-time copy of one endpoint record.
type Endpoint struct {
	URL            string    `json:"url"`
	Status         Status    `json:"status"`
	LastFailureAt  time.Time `json:"last_failure_at,omitempty"`
	UsageCount     int64     `json:"usage_count"`
	LastCheckoutAt time.Time `json:"last_checkout_at,omitempty"`
	Healthy        bool      `json:"healthy"`
}

type record struct {
	status         Status
	lastFailureAt  time.Time
	usageCount     int64
	lastCheckoutAt time.Time
}

type Option func(*Pool)

func WithFailureCooldown(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.cooldown = d
		}
	}
}

func WithStaleBusy(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.staleBusy = d
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}

type checkoutReq struct {
	candidates []string
	reply      chan string
}

type markReq struct {
	url    string
	failed bool
}

type Pool struct {
	cooldown  time.Duration
	staleBusy time.Duration
	now       func() time.Time

	checkoutCh chan checkoutReq
	markCh     chan markReq
	snapshotCh chan chan []Endpoint
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// New starts the arbiter goroutine. Call Close to stop it.
func New(opts ...Option) *Pool {
	p := &Pool{
		cooldown:   DefaultFailureCooldown,
		staleBusy:  DefaultStaleBusy,
		now:        time.Now,
		checkoutCh: make(chan checkoutReq),
		markCh:     make(chan markReq),
		snapshotCh: make(chan chan []Endpoint),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.loop()
	return p
}

// Checkout picks an endpoint among candidates and marks it busy. It never
// waits for an endpoint to become free; when none looks healthy the whole
// candidate set is eligible.
func (p *Pool) Checkout(ctx context.Context, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", ErrNoCandidates
	}
	req := checkoutReq{
		candidates: append([]string(nil), candidates...),
		reply:      make(chan string, 1),
	}
	select {
	case p.checkoutCh <- req:
	case <-p.stopCh:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case url := <-req.reply:
		return url, nil
	case <-p.stopCh:
		return "", ErrClosed
	}
}

func (p *Pool) Checkin(url string) {
	p.mark(markReq{url: url})
}

// ReportFailure releases url and deprioritizes it for the cool-down window.
func (p *Pool) ReportFailure(url string) {
	p.mark(markReq{url: url, failed: true})
}

func (p *Pool) mark(req markReq) {
	select {
	case p.markCh <- req:
	case <-p.stopCh:
	}
}

func (p *Pool) Snapshot() []Endpoint {
	reply := make(chan []Endpoint, 1)
	select {
	case p.snapshotCh <- reply:
	case <-p.stopCh:
		return nil
	}
	select {
	case ret := <-reply:
		return ret
	case <-p.stopCh:
		return nil
	}
}

func (p *Pool) Close() {
	select {
	case <-p.stopCh:
		return
	default:
	}
	close(p.stopCh)
	<-p.doneCh
}

func (p *Pool) loop() {
	defer close(p.doneCh)
	table := make(map[string]*record)

	for {
		select {
		case <-p.stopCh:
			return
		case req := <-p.checkoutCh:
			req.reply <- p.checkout(table, req.candidates)
		case req := <-p.markCh:
			p.apply(table, req)
		case reply := <-p.snapshotCh:
			reply <- p.snapshot(table)
		}
	}
}

// healthy: the last failure is older than the cool-down, or the last
// checkout is older than the stale-busy window.
func (p *Pool) healthy(r *record, now time.Time) bool {
	if r.lastFailureAt.IsZero() || now.Sub(r.lastFailureAt) >= p.cooldown {
		return true
	}
	return !r.lastCheckoutAt.IsZero() && now.Sub(r.lastCheckoutAt) >= p.staleBusy
}

func (p *Pool) checkout(table map[string]*record, candidates []string) string {
	now := p.now()

	for _, url := range candidates {
		r, ok := table[url]
		if !ok {
			table[url] = &record{status: StatusIdle}
			continue
		}
		// a checkout that never checked in is treated as a dead worker
		if r.status == StatusBusy && now.Sub(r.lastCheckoutAt) >= p.staleBusy {
			log.Warn("Endpoint %s busy since %s, releasing", url, r.lastCheckoutAt.Format(time.RFC3339))
			r.status = StatusIdle
		}
	}

	unique := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, url := range candidates {
		if !seen[url] {
			seen[url] = true
			unique = append(unique, url)
		}
	}

	eligible := make([]string, 0, len(unique))
	for _, url := range unique {
		if p.healthy(table[url], now) {
			eligible = append(eligible, url)
		}
	}
	if len(eligible) == 0 {
		eligible = unique
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := table[eligible[i]], table[eligible[j]]
		if (a.status == StatusIdle) != (b.status == StatusIdle) {
			return a.status == StatusIdle
		}
		return a.usageCount < b.usageCount
	})

	winner := eligible[0]
	r := table[winner]
	r.status = StatusBusy
	r.lastCheckoutAt = now
	r.usageCount++
	return winner
}

func (p *Pool) apply(table map[string]*record, req markReq) {
	r, ok := table[req.url]
	if !ok {
		r = &record{}
		table[req.url] = r
	}
	r.status = StatusIdle
	if req.failed {
		r.lastFailureAt = p.now()
		log.Warn("Endpoint %s reported failure, cooling down for %s", req.url, p.cooldown)
	}
}

func (p *Pool) snapshot(table map[string]*record) []Endpoint {
	now := p.now()
	ret := make([]Endpoint, 0, len(table))
	for url, r := range table {
		ret = append(ret, Endpoint{
			URL:            url,
			Status:         r.status,
			LastFailureAt:  r.lastFailureAt,
			UsageCount:     r.usageCount,
			LastCheckoutAt: r.lastCheckoutAt,
			Healthy:        p.healthy(r, now),
		})
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].URL < ret[j].URL })
	return ret
}
