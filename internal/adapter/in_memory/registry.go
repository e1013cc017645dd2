package in_memory

import (
	"context"
	"sort"
	"sync"

	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/olyamironova/market-engine/internal/port"
)

var _ port.ConnectionRegistry = (*Registry)(nil)

// Registry keeps channel membership for a single process.
type Registry struct {
	mu      sync.RWMutex
	members map[domain.Channel]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{members: make(map[domain.Channel]map[string]struct{})}
}

func (r *Registry) Add(ctx context.Context, channel domain.Channel, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.members[channel]
	if !ok {
		set = make(map[string]struct{})
		r.members[channel] = set
	}
	set[connID] = struct{}{}
	return nil
}

func (r *Registry) Remove(ctx context.Context, channel domain.Channel, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.members[channel]
	if !ok {
		return nil
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.members, channel)
	}
	return nil
}

func (r *Registry) Members(ctx context.Context, channel domain.Channel) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]string, 0, len(r.members[channel]))
	for id := range r.members[channel] {
		res = append(res, id)
	}
	sort.Strings(res)
	return res, nil
}
