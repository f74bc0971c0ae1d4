// Package health probes the node's subsystems for the /health endpoints.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds each probe when the registry is built without one.
const DefaultTimeout = 2 * time.Second

// Status is the outcome of one probe.
type Status struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// Checker probes a subsystem. A nil error means healthy; detail is
// reported either way unless err replaces it.
type Checker func(ctx context.Context) (detail string, err error)

type probe struct {
	name  string
	check Checker
}

// Registry runs registered probes concurrently, each under its own deadline.
type Registry struct {
	mu      sync.RWMutex
	probes  []probe
	timeout time.Duration
}

// NewRegistry returns an empty registry. timeout <= 0 selects DefaultTimeout.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Registry{timeout: timeout}
}

// Register adds a probe. Results keep registration order.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes = append(r.probes, probe{name: name, check: check})
}

// CheckAll runs every probe and reports whether all of them passed.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	probes := append([]probe(nil), r.probes...)
	r.mu.RUnlock()

	statuses := make([]Status, len(probes))
	var g errgroup.Group
	for i, p := range probes {
		g.Go(func() error {
			statuses[i] = r.run(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	healthy := true
	for _, st := range statuses {
		healthy = healthy && st.Healthy
	}
	return healthy, statuses
}

type result struct {
	detail string
	err    error
}

// run gives up on a probe that ignores its context once the deadline passes.
func (r *Registry) run(ctx context.Context, p probe) Status {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan result, 1)
	go func() {
		detail, err := p.check(ctx)
		done <- result{detail, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = fmt.Errorf("timed out after %s", r.timeout)
	}

	st := Status{Name: p.name, Healthy: res.err == nil, Detail: res.detail, LatencyMS: time.Since(start).Milliseconds()}
	if res.err != nil {
		st.Detail = res.err.Error()
	}
	return st
}

// Pinger is anything that can report reachability, such as a state store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck probes p.
func PingCheck(p Pinger) Checker {
	return func(ctx context.Context) (string, error) {
		return "", p.Ping(ctx)
	}
}

// HeadCheck passes once head returns a block number and reports the height.
func HeadCheck(head func(ctx context.Context) (uint64, error)) Checker {
	return func(ctx context.Context) (string, error) {
		n, err := head(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("head %d", n), nil
	}
}
