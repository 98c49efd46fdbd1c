package channel

import (
	"sync"

	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// ConnectionKey identifies one live channel connection.
type ConnectionKey struct {
	TenantID  string
	ChannelID string
}

// SessionRegistry holds the live channel adapters, keyed by tenant and
// channel. The dispatcher looks adapters up here instead of reaching
// into transport globals; a missing entry means the channel is offline
// and the turn is dropped. Thread-safe.
type SessionRegistry struct {
	mu       sync.RWMutex
	adapters map[ConnectionKey]Adapter
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		adapters: make(map[ConnectionKey]Adapter),
	}
}

// Register installs the adapter for a tenant channel, replacing any
// previous connection.
func (r *SessionRegistry) Register(tenantID, channelID string, adapter Adapter) error {
	if adapter == nil {
		return schema.NewError(schema.ErrCodeValidation, "cannot register nil channel adapter")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[ConnectionKey{TenantID: tenantID, ChannelID: channelID}] = adapter
	return nil
}

// Unregister removes the adapter for a tenant channel. Removing an
// absent entry is a no-op.
func (r *SessionRegistry) Unregister(tenantID, channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, ConnectionKey{TenantID: tenantID, ChannelID: channelID})
}

// Get returns the live adapter for a tenant channel.
func (r *SessionRegistry) Get(tenantID, channelID string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[ConnectionKey{TenantID: tenantID, ChannelID: channelID}]
	return a, ok
}

// Connected reports whether the tenant channel has a live adapter.
func (r *SessionRegistry) Connected(tenantID, channelID string) bool {
	_, ok := r.Get(tenantID, channelID)
	return ok
}

// Keys returns a snapshot of the registered connection keys.
func (r *SessionRegistry) Keys() []ConnectionKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]ConnectionKey, 0, len(r.adapters))
	for k := range r.adapters {
		keys = append(keys, k)
	}
	return keys
}
