// Package contract declares task kinds: the input and output schemas a task
// must satisfy and the descriptor handed to its executor.
//
// Contracts are registered while a process definition loads. Sealing the
// registry afterwards freezes it for the lifetime of the run.
package contract

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Metadata is human-facing information about a contract.
type Metadata struct {
	Title       string   `yaml:"title" json:"title"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Labels      []string `yaml:"labels" json:"labels,omitempty"`
}

// Execution is the descriptor passed through to the executor verbatim.
type Execution struct {
	// Executor names the backend that runs this kind (e.g. a NATS subject suffix).
	Executor     string         `yaml:"executor" json:"executor,omitempty"`
	Agent        string         `yaml:"agent" json:"agent,omitempty"`
	Instructions []string       `yaml:"instructions" json:"instructions,omitempty"`
	Timeout      time.Duration  `yaml:"timeout" json:"timeout,omitempty"`
	Params       map[string]any `yaml:"params" json:"params,omitempty"`
}

// Contract is a registered task kind. Treat it as read-only.
type Contract struct {
	Kind      string    `json:"kind"`
	Input     Schema    `json:"input"`
	Output    Schema    `json:"output"`
	Metadata  Metadata  `json:"metadata"`
	Execution Execution `json:"execution"`

	// Compiled at registration. Contracts built directly compile on each
	// validation.
	input, output *jsonschema.Schema
}

// ValidateInput checks a task input against the input schema.
func (c *Contract) ValidateInput(v map[string]any) FieldErrors {
	if c.input == nil {
		return c.Input.Validate(v)
	}
	return validate(c.input, v)
}

// ValidateOutput checks a task output against the output schema.
func (c *Contract) ValidateOutput(v map[string]any) FieldErrors {
	if c.output == nil {
		return c.Output.Validate(v)
	}
	return validate(c.output, v)
}

// Registry maps task kinds to contracts.
type Registry struct {
	mu        sync.RWMutex
	contracts map[string]*Contract
	sealed    bool
}

// NewRegistry returns an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{contracts: make(map[string]*Contract)}
}

// Register adds a contract. Both schemas must be well formed and kind must
// not already be registered.
func (r *Registry) Register(kind string, input, output Schema, meta Metadata, exec Execution) error {
	if kind == "" {
		return ErrEmptyKind
	}
	if err := input.Check(); err != nil {
		return fmt.Errorf("contract %q input: %w", kind, err)
	}
	if err := output.Check(); err != nil {
		return fmt.Errorf("contract %q output: %w", kind, err)
	}
	in, err := input.compile()
	if err != nil {
		return fmt.Errorf("contract %q input: %w: %v", kind, ErrInvalidSchema, err)
	}
	out, err := output.compile()
	if err != nil {
		return fmt.Errorf("contract %q output: %w: %v", kind, ErrInvalidSchema, err)
	}
	if exec.Timeout < 0 {
		return fmt.Errorf("contract %q: negative execution timeout", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("register %q: %w", kind, ErrRegistrySealed)
	}
	if _, exists := r.contracts[kind]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateContract, kind)
	}

	r.contracts[kind] = &Contract{
		Kind:      kind,
		Input:     input,
		Output:    output,
		Metadata:  meta,
		Execution: exec,
		input:     in,
		output:    out,
	}
	return nil
}

// Lookup returns the contract for kind.
func (r *Registry) Lookup(kind string) (*Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.contracts[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrContractNotFound, kind)
	}
	return c, nil
}

// Seal freezes the registry. Later Register calls fail with ErrRegistrySealed.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.contracts))
	for k := range r.contracts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
