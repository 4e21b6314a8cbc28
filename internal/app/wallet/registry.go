// Package wallet owns the connector catalog and the wallet session.
//
// The Registry answers "which wallets can I use right now"; the Store drives
// the Disconnected → Connecting → Connected state machine, persists the
// chosen connector id and tears the session down on network changes.
package wallet

import (
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/starkpass/starkpass/internal/domain"
)

// Registry is the set of known wallet connectors.
type Registry struct {
	mu         sync.RWMutex
	connectors []domain.Connector
	log        log.Logger
}

// NewRegistry creates a registry holding connectors in display order.
func NewRegistry(connectors ...domain.Connector) *Registry {
	r := &Registry{log: log.New("component", "registry")}
	for _, c := range connectors {
		r.Register(c)
	}
	return r
}

// Register adds a connector. A connector with an id already present
// replaces the old one in place.
func (r *Registry) Register(c domain.Connector) {
	if c == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.connectors {
		if existing.ID() == c.ID() {
			r.connectors[i] = c
			return
		}
	}
	r.connectors = append(r.connectors, c)
}

// All returns a descriptor for every registered connector with its current
// availability.
func (r *Registry) All() []domain.ConnectorDescriptor {
	r.mu.RLock()
	list := append([]domain.Connector{}, r.connectors...)
	r.mu.RUnlock()

	out := make([]domain.ConnectorDescriptor, 0, len(list))
	for _, c := range list {
		out = append(out, domain.ConnectorDescriptor{
			ID:          c.ID(),
			DisplayName: c.DisplayName(),
			Icon:        c.Icon(),
			Available:   r.probe(c),
		})
	}
	return out
}

// ListAvailable returns descriptors for connectors whose probe succeeds.
func (r *Registry) ListAvailable() []domain.ConnectorDescriptor {
	all := r.All()
	out := make([]domain.ConnectorDescriptor, 0, len(all))
	for _, d := range all {
		if d.Available {
			out = append(out, d)
		}
	}
	return out
}

// Lookup returns the connector with id if it is registered and available.
func (r *Registry) Lookup(id string) (domain.Connector, error) {
	r.mu.RLock()
	var found domain.Connector
	for _, c := range r.connectors {
		if c.ID() == id {
			found = c
			break
		}
	}
	r.mu.RUnlock()

	if found == nil || !r.probe(found) {
		return nil, domain.Wrap(domain.CodeConnectorUnavailable, "wallet connector "+id+" unavailable", nil)
	}
	return found, nil
}

// probe treats a panicking probe as "unavailable".
func (r *Registry) probe(c domain.Connector) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Warn("Connector probe panicked", "connector", c.ID(), "panic", p)
			ok = false
		}
	}()
	return c.Probe()
}
