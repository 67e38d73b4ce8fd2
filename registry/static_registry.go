package registry

import (
	"context"
	"sort"
	"sync"
)

// StaticRegistry keeps instances in memory. It serves fixed server lists from
// configuration and tests; TTLs are ignored.
type StaticRegistry struct {
	mu       sync.Mutex
	services map[string]map[string]ServerInstance
	watchers map[string][]chan []ServerInstance
}

// NewStaticRegistry returns a registry holding instances under service.
func NewStaticRegistry(service string, instances ...ServerInstance) *StaticRegistry {
	r := &StaticRegistry{
		services: make(map[string]map[string]ServerInstance),
		watchers: make(map[string][]chan []ServerInstance),
	}
	for _, inst := range instances {
		r.put(service, inst)
	}
	return r
}

func (r *StaticRegistry) put(service string, instance ServerInstance) {
	m, ok := r.services[service]
	if !ok {
		m = make(map[string]ServerInstance)
		r.services[service] = m
	}
	m[instance.Addr] = instance
}

func (r *StaticRegistry) Register(ctx context.Context, service string, instance ServerInstance, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(service, instance)
	r.notify(service)
	return nil
}

func (r *StaticRegistry) Deregister(ctx context.Context, service string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services[service], addr)
	r.notify(service)
	return nil
}

// Discover returns the instances of service ordered by address.
func (r *StaticRegistry) Discover(ctx context.Context, service string) ([]ServerInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(service), nil
}

func (r *StaticRegistry) Watch(ctx context.Context, service string) <-chan []ServerInstance {
	ch := make(chan []ServerInstance, 1)
	r.mu.Lock()
	r.watchers[service] = append(r.watchers[service], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		ws := r.watchers[service]
		for i, w := range ws {
			if w == ch {
				r.watchers[service] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (r *StaticRegistry) list(service string) []ServerInstance {
	instances := make([]ServerInstance, 0, len(r.services[service]))
	for _, inst := range r.services[service] {
		instances = append(instances, inst)
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].Addr < instances[j].Addr })
	return instances
}

// notify hands the new list to every watcher, replacing a list the watcher
// has not read yet. Called with mu held.
func (r *StaticRegistry) notify(service string) {
	instances := r.list(service)
	for _, ch := range r.watchers[service] {
		select {
		case <-ch:
		default:
		}
		ch <- instances
	}
}
