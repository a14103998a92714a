package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrConfigNotFound indicates configuration file was not found
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrInvalidYAML indicates YAML parsing failed
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// ErrValidationFailed indicates configuration validation failed
	ErrValidationFailed = errors.New("configuration validation failed")

	// ErrAgentNotFound indicates agent was not found in registry
	ErrAgentNotFound = errors.New("agent not found")

	// ErrChainNotFound indicates chain was not found in registry
	ErrChainNotFound = errors.New("chain not found")

	// ErrMCPServerNotFound indicates MCP server was not found in registry
	ErrMCPServerNotFound = errors.New("MCP server not found")

	// ErrLLMProviderNotFound indicates LLM provider was not found in registry
	ErrLLMProviderNotFound = errors.New("LLM provider not found")

	// ErrDuplicateChainID indicates a chain_id is declared by both the
	// built-in and the user-supplied source
	ErrDuplicateChainID = errors.New("duplicate chain id")

	// ErrAlertTypeConflict indicates two chains claim the same alert type
	ErrAlertTypeConflict = errors.New("alert type claimed by multiple chains")
)

// UnknownAlertTypeError is returned when no chain handles an alert type.
// KnownTypes is sorted lexicographically so the message (and API responses
// built from it) are deterministic.
type UnknownAlertTypeError struct {
	AlertType  string
	KnownTypes []string
}

// NewUnknownAlertTypeError builds the error with a sorted copy of knownTypes.
func NewUnknownAlertTypeError(alertType string, knownTypes []string) *UnknownAlertTypeError {
	sorted := make([]string, len(knownTypes))
	copy(sorted, knownTypes)
	sort.Strings(sorted)
	return &UnknownAlertTypeError{AlertType: alertType, KnownTypes: sorted}
}

// Error returns formatted error message
func (e *UnknownAlertTypeError) Error() string {
	return fmt.Sprintf("unknown alert type %q (known types: %s)",
		e.AlertType, strings.Join(e.KnownTypes, ", "))
}

// ValidationError wraps configuration validation errors with context
type ValidationError struct {
	Component string // Component being validated (agent, chain, mcp_server, llm_provider)
	ID        string // ID of the component
	Field     string // Field name (optional)
	Err       error  // Underlying error
}

// Error returns formatted error message
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s '%s': field '%s': %v", e.Component, e.ID, e.Field, e.Err)
	}
	return fmt.Sprintf("%s '%s': %v", e.Component, e.ID, e.Err)
}

// Unwrap returns the underlying error
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new validation error
func NewValidationError(component, id, field string, err error) *ValidationError {
	return &ValidationError{Component: component, ID: id, Field: field, Err: err}
}

// LoadError wraps configuration loading errors with file context
type LoadError struct {
	File string // Configuration file being loaded
	Err  error  // Underlying error
}

// Error returns formatted error message
func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

// Unwrap returns the underlying error
func (e *LoadError) Unwrap() error {
	return e.Err
}

// NewLoadError creates a new load error
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}
