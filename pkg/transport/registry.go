package transport

import (
	"slices"
	"sync"
)

// registry tracks live connections and the device ids they announced.
type registry struct {
	mu      sync.RWMutex
	conns   map[*ServerConn]struct{}
	devices map[string]*ServerConn
}

func newRegistry() *registry {
	return &registry{
		conns:   make(map[*ServerConn]struct{}),
		devices: make(map[string]*ServerConn),
	}
}

// add tracks a newly accepted connection.
func (r *registry) add(c *ServerConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c] = struct{}{}
}

// register points deviceID at c and returns the connection it replaced, if any.
func (r *registry) register(deviceID string, c *ServerConn) *ServerConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.devices[deviceID]
	r.devices[deviceID] = c
	if prev == c {
		return nil
	}
	return prev
}

// lookup returns the connection registered for deviceID.
func (r *registry) lookup(deviceID string) *ServerConn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices[deviceID]
}

// remove drops c from the live set. If the device entry points at c it is
// handed to another live connection claiming the same id, or deleted.
// An entry owned by another connection is left alone. It returns the
// connection now owning the entry (nil if the entry was deleted) and
// whether the entry was touched at all.
func (r *registry) remove(c *ServerConn) (owner *ServerConn, touched bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.conns, c)

	id := c.DeviceID()
	if id == "" || r.devices[id] != c {
		return nil, false
	}
	for other := range r.conns {
		if other.DeviceID() == id {
			r.devices[id] = other
			return other, true
		}
	}
	delete(r.devices, id)
	return nil, true
}

// all returns a snapshot of the live connections.
func (r *registry) all() []*ServerConn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ServerConn, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	return out
}

// deviceIDs returns the registered device ids in sorted order.
func (r *registry) deviceIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
