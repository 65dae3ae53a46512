// Package netstate tracks whether the system of record is reachable and
// broadcasts changes to subscribers.
package netstate

import (
	"context"
	"sync"
	"time"

	"github.com/pashudhan/fieldsync/internal/logging"
)

// Notifier holds the current connectivity state. Subscribers receive the
// new state on every change; a slow subscriber only ever sees the latest
// value.
type Notifier struct {
	mu     sync.Mutex
	online bool
	subs   map[chan bool]struct{}
	logger logging.Logger
}

func NewNotifier(logger logging.Logger) *Notifier {
	return &Notifier{subs: make(map[chan bool]struct{}), logger: logger.With("module", "netstate")}
}

func (n *Notifier) Online() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

// Set updates the state and notifies subscribers when it changed.
func (n *Notifier) Set(online bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.online == online {
		return
	}
	n.online = online
	n.logger.Info(context.Background(), "connectivity changed", "online", online)
	for ch := range n.subs {
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
}

// Subscribe returns a channel of state changes and a cancel function that
// must be called to stop receiving. The current state is delivered first.
func (n *Notifier) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 1)
	n.mu.Lock()
	n.subs[ch] = struct{}{}
	ch <- n.online
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, ch)
			n.mu.Unlock()
		})
	}
}

// Pinger checks reachability of the system of record.
type Pinger interface {
	Health(ctx context.Context) error
}

// Prober periodically pings the server and feeds the result to a Notifier.
type Prober struct {
	pinger   Pinger
	notifier *Notifier
	interval time.Duration
	timeout  time.Duration
}

func NewProber(p Pinger, n *Notifier, interval, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Prober{pinger: p, notifier: n, interval: interval, timeout: timeout}
}

// Probe pings once and records the outcome.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.pinger.Health(ctx)
	cancel()
	p.notifier.Set(err == nil)
	return err == nil
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	p.Probe(ctx)
	if p.interval <= 0 {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}
