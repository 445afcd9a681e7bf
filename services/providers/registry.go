package providers

import (
	"errors"
	"sync"
)

var (
	// ErrProviderNotFound is returned when no client is registered for a stage
	ErrProviderNotFound = errors.New("provider not found")

	// ErrProviderAlreadyRegistered is returned when trying to register a duplicate stage
	ErrProviderAlreadyRegistered = errors.New("provider already registered")
)

// Registry holds the upstream clients keyed by the stage they serve
// ("forward", "secondary"), preserving registration order.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
	order   []string
}

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]Client),
	}
}

// Register registers a client under its stage name
func (r *Registry) Register(client Client) error {
	if client == nil {
		return errors.New("client cannot be nil")
	}

	stage := client.Config().Name
	if stage == "" {
		return errors.New("stage name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[stage]; exists {
		return ErrProviderAlreadyRegistered
	}

	r.clients[stage] = client
	r.order = append(r.order, stage)
	return nil
}

// Get retrieves the client registered for a stage
func (r *Registry) Get(stage string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, exists := r.clients[stage]
	if !exists {
		return nil, ErrProviderNotFound
	}
	return client, nil
}

// Stages returns the registered stage configurations in registration order
func (r *Registry) Stages() []StrategyConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	configs := make([]StrategyConfig, 0, len(r.order))
	for _, stage := range r.order {
		configs = append(configs, r.clients[stage].Config())
	}
	return configs
}

// Count returns the number of registered clients
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}
