package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// SplitPath splits "<domain>:<address>" at the first colon.
func SplitPath(path string) (domain, address string, err error) {
	domain, address, ok := strings.Cut(path, ":")
	if !ok || domain == "" || address == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return domain, address, nil
}

// Router is a Backend that dispatches to one Backend per path domain.
type Router struct {
	mu       sync.RWMutex
	backends map[string]Backend
	order    []string
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{backends: make(map[string]Backend)}
}

// Register adds b for domain, replacing any previous registration.
func (r *Router) Register(domain string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[domain]; !ok {
		r.order = append(r.order, domain)
	}
	r.backends[domain] = b
}

// Domains returns the registered domains in registration order.
func (r *Router) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Router) backend(domain string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[domain]
	return b, ok
}

// FindDevices queries the backend for domain, or every backend in
// registration order when domain is empty. With several backends, results
// of the healthy ones are returned together with the joined errors.
func (r *Router) FindDevices(ctx context.Context, domain string) ([]Found, error) {
	if domain != "" {
		b, ok := r.backend(domain)
		if !ok {
			return nil, fmt.Errorf("%w: domain %q", ErrAdapterNotFound, domain)
		}
		return b.FindDevices(ctx, domain)
	}

	var found []Found
	var errs []error
	for _, d := range r.Domains() {
		b, ok := r.backend(d)
		if !ok {
			continue
		}
		f, err := b.FindDevices(ctx, d)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d, err))
			continue
		}
		found = append(found, f...)
	}
	return found, errors.Join(errs...)
}

// Open opens a driver from the backend registered for the path domain.
func (r *Router) Open(path string) (Driver, error) {
	domain, _, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	b, ok := r.backend(domain)
	if !ok {
		return nil, fmt.Errorf("%w: domain %q", ErrAdapterNotFound, domain)
	}
	return b.Open(path)
}

var _ Backend = (*Router)(nil)
