package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry resolves vendor connectors by id.
type Registry interface {
	Register(connector VendorConnector) error
	Get(connectorID string) (VendorConnector, bool)
	List() []VendorConnector
}

type ConnectorRegistry struct {
	mu         sync.RWMutex
	connectors map[string]VendorConnector
}

func NewConnectorRegistry() *ConnectorRegistry {
	return &ConnectorRegistry{connectors: make(map[string]VendorConnector)}
}

func (r *ConnectorRegistry) Register(connector VendorConnector) error {
	if connector == nil {
		return fmt.Errorf("core: connector is nil")
	}
	id := strings.TrimSpace(connector.ID())
	if id == "" {
		return fmt.Errorf("core: connector id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.connectors[id]; exists {
		return fmt.Errorf("core: connector already registered: %s", id)
	}
	r.connectors[id] = connector
	return nil
}

func (r *ConnectorRegistry) Get(connectorID string) (VendorConnector, bool) {
	id := strings.TrimSpace(connectorID)
	if id == "" {
		return nil, false
	}
	r.mu.RLock()
	connector, ok := r.connectors[id]
	r.mu.RUnlock()
	return connector, ok
}

func (r *ConnectorRegistry) List() []VendorConnector {
	r.mu.RLock()
	keys := make([]string, 0, len(r.connectors))
	for id := range r.connectors {
		keys = append(keys, id)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	connectors := make([]VendorConnector, 0, len(keys))
	r.mu.RLock()
	for _, id := range keys {
		connectors = append(connectors, r.connectors[id])
	}
	r.mu.RUnlock()
	return connectors
}

var _ Registry = (*ConnectorRegistry)(nil)
