// Package health aggregates subsystem probes for the /health endpoint.
package health

import (
	"context"
	"fmt"
	"sync"
)

// Status is the outcome of probing one subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes a subsystem. It must respect ctx: probes share the request
// deadline of the health endpoint.
type Checker func(ctx context.Context) Status

// Registry runs registered probes on demand.
type Registry struct {
	mu     sync.RWMutex
	names  []string
	probes map[string]Checker
}

// NewRegistry creates an empty probe registry.
func NewRegistry() *Registry {
	return &Registry{probes: make(map[string]Checker)}
}

// Register adds a probe under a name. Registering the same name again
// replaces the earlier probe.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.probes[name]; !exists {
		r.names = append(r.names, name)
	}
	r.probes[name] = check
}

// CheckAll runs every probe concurrently and reports the aggregate along with
// per-subsystem results in registration order. A panicking probe is reported
// as unhealthy rather than taking down the endpoint.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	names := make([]string, len(r.names))
	copy(names, r.names)
	probes := make(map[string]Checker, len(r.probes))
	for n, p := range r.probes {
		probes[n] = p
	}
	r.mu.RUnlock()

	statuses := make([]Status, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string, probe Checker) {
			defer wg.Done()
			defer func() {
				if v := recover(); v != nil {
					statuses[i] = Status{
						Name:    name,
						Healthy: false,
						Detail:  fmt.Sprintf("probe panicked: %v", v),
					}
				}
			}()
			statuses[i] = probe(ctx)
		}(i, name, probes[name])
	}
	wg.Wait()

	healthy := true
	for _, st := range statuses {
		if !st.Healthy {
			healthy = false
			break
		}
	}
	return healthy, statuses
}
