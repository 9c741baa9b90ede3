// Package provider is the capability boundary to upstream top-up suppliers.
package provider

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

type TopupRequest struct {
	ProviderCode  string
	CustomerInput string
	AllowDot      bool
	MaxPrice      int64
	OrderID       string
}

type TopupResult struct {
	Status        Status
	ProviderPrice int64
	SerialNumber  string
	Reference     string
	Message       string
	Raw           json.RawMessage
}

// Provider performs a top-up. Transport failures and timeouts are returned
// as errors and never as StatusFailed.
type Provider interface {
	Name() string
	Topup(ctx context.Context, req TopupRequest) (TopupResult, error)
}

// Registry resolves providers by the name frozen in the product snapshot.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(ps))}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for n := range r.providers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
