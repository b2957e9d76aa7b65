package relay

import "sync"

// Registry indexes open connections by id and by subscribed key.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
	byKey map[string]map[string]*Conn
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Conn),
		byKey: make(map[string]map[string]*Conn),
	}
}

func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID] = c
}

// Remove drops c from every index and returns the key it was subscribed to.
func (r *Registry) Remove(c *Conn) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c.ID)
	c.mu.Lock()
	key := c.key
	c.mu.Unlock()
	r.detachLocked(c.ID, key)
	return key
}

// SetKey moves c to key and returns the key it left. ok is false when c is
// no longer registered; nothing is changed then.
func (r *Registry) SetKey(c *Conn, key string) (prev string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, registered := r.conns[c.ID]; !registered {
		return "", false
	}

	c.mu.Lock()
	prev = c.key
	c.key = key
	c.mu.Unlock()

	if prev != key {
		r.detachLocked(c.ID, prev)
	}
	subs, found := r.byKey[key]
	if !found {
		subs = make(map[string]*Conn)
		r.byKey[key] = subs
	}
	subs[c.ID] = c
	return prev, true
}

func (r *Registry) detachLocked(id, key string) {
	if key == "" {
		return
	}
	subs, ok := r.byKey[key]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(r.byKey, key)
	}
}

func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Subscribers returns the connections subscribed to key.
func (r *Registry) Subscribers(key string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.byKey[key]
	out := make([]*Conn, 0, len(subs))
	for _, c := range subs {
		out = append(out, c)
	}
	return out
}

// AllExcept returns every connection but the one with id skip.
func (r *Registry) AllExcept(skip string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for id, c := range r.conns {
		if id != skip {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) All() []*Conn { return r.AllExcept("") }

// Keys returns every key with at least one subscriber.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		out = append(out, k)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
