// Package probe implements the work a job does on each tick.
package probe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Kind names a prober implementation in job configuration.
type Kind string

const (
	KindHTTP      Kind = "http"
	KindHeartbeat Kind = "heartbeat"
)

// ErrUnknownKind is returned for a kind with no registered prober.
var ErrUnknownKind = errors.New("unknown probe kind")

// Prober checks a target once. Implementations must honour ctx cancellation.
type Prober interface {
	Probe(ctx context.Context, target string) error
}

// ProberFunc adapts a plain function to Prober.
type ProberFunc func(ctx context.Context, target string) error

func (f ProberFunc) Probe(ctx context.Context, target string) error {
	return f(ctx, target)
}

// Registry maps kinds to probers.
type Registry struct {
	mu      sync.RWMutex
	probers map[Kind]Prober
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{probers: make(map[Kind]Prober)}
}

// DefaultRegistry returns a registry with the built-in http and heartbeat probers.
func DefaultRegistry(opts HTTPOptions) *Registry {
	r := NewRegistry()
	r.Register(KindHTTP, NewHTTPProber(opts))
	r.Register(KindHeartbeat, HeartbeatProber{})
	return r
}

// Register adds or replaces the prober for kind.
func (r *Registry) Register(kind Kind, p Prober) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probers[kind] = p
}

// ForKind returns the prober registered for kind.
func (r *Registry) ForKind(kind Kind) (Prober, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.probers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return p, nil
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.probers))
	for k := range r.probers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
