package config

import (
	"fmt"
	"sync"
)

// ChainConfig defines a multi-stage agent chain configuration
type ChainConfig struct {
	// Alert types this chain handles (required, min 1)
	AlertTypes []string `yaml:"alert_types"`

	// Human-readable description
	Description string `yaml:"description,omitempty"`

	// Stages to execute in order (required, min 1)
	Stages []StageConfig `yaml:"stages"`
}

// StageConfig defines a single stage in a chain
type StageConfig struct {
	// Stage name (required, unique within the chain)
	Name string `yaml:"name"`

	// Agent to execute (required)
	Agent string `yaml:"agent"`

	// Stage-level iteration strategy override
	IterationStrategy IterationStrategy `yaml:"iteration_strategy,omitempty"`
}

// ChainRegistry stores chain configurations and the alert_type → chain_id
// index. Both are immutable after construction; the RWMutex guards the maps
// for the race detector's benefit only.
type ChainRegistry struct {
	chains     map[string]*ChainConfig
	alertTypes map[string]string // alert_type → chain_id
	mu         sync.RWMutex
}

// BuildChainRegistry assembles a registry from the built-in and user-supplied
// chain sources. Both checks are strict, no silent override:
//   - a chain_id present in both sources fails with ErrDuplicateChainID
//   - an alert_type claimed by two chains fails with ErrAlertTypeConflict
func BuildChainRegistry(builtin, user map[string]*ChainConfig) (*ChainRegistry, error) {
	chains := make(map[string]*ChainConfig, len(builtin)+len(user))
	for id, chain := range builtin {
		chains[id] = chain
	}
	for id, chain := range user {
		if _, exists := chains[id]; exists {
			return nil, fmt.Errorf("%w: %q is declared by both built-in and user configuration", ErrDuplicateChainID, id)
		}
		chains[id] = chain
	}

	alertTypes := make(map[string]string)
	for id, chain := range chains {
		for _, at := range chain.AlertTypes {
			if owner, exists := alertTypes[at]; exists && owner != id {
				return nil, fmt.Errorf("%w: %q is claimed by chains %q and %q", ErrAlertTypeConflict, at, owner, id)
			}
			alertTypes[at] = id
		}
	}

	return &ChainRegistry{chains: chains, alertTypes: alertTypes}, nil
}

// NewChainRegistry creates a registry from a single source (convenience for
// tests). Fails on alert-type conflicts within the source.
func NewChainRegistry(chains map[string]*ChainConfig) (*ChainRegistry, error) {
	return BuildChainRegistry(nil, chains)
}

// Get retrieves a chain configuration by ID (thread-safe)
func (r *ChainRegistry) Get(chainID string) (*ChainConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain, exists := r.chains[chainID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrChainNotFound, chainID)
	}
	return chain, nil
}

// GetByAlertType resolves the chain handling the given alert type.
// Fails with *UnknownAlertTypeError listing known types lexicographically.
func (r *ChainRegistry) GetByAlertType(alertType string) (string, *ChainConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chainID, exists := r.alertTypes[alertType]
	if !exists {
		return "", nil, NewUnknownAlertTypeError(alertType, r.knownAlertTypesLocked())
	}
	return chainID, r.chains[chainID], nil
}

// AlertTypes returns all registered alert types (thread-safe, returns copy).
func (r *ChainRegistry) AlertTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.knownAlertTypesLocked()
}

// knownAlertTypesLocked assumes the lock is held.
func (r *ChainRegistry) knownAlertTypesLocked() []string {
	types := make([]string, 0, len(r.alertTypes))
	for at := range r.alertTypes {
		types = append(types, at)
	}
	return types
}

// GetAll returns all chain configurations (thread-safe, returns copy)
func (r *ChainRegistry) GetAll() map[string]*ChainConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*ChainConfig, len(r.chains))
	for k, v := range r.chains {
		result[k] = v
	}
	return result
}

// Has checks if a chain exists in the registry (thread-safe)
func (r *ChainRegistry) Has(chainID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.chains[chainID]
	return exists
}

// Len returns the number of chains in the registry (thread-safe)
func (r *ChainRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chains)
}
