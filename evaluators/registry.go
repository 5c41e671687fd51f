// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package evaluators

import (
	"fmt"
	"sync"
)

// Registry holds every evaluator available to the quality orchestrator,
// keyed by name. Evaluators are registered, not hardcoded: adding a fourth
// evaluator requires only calling Register, never a change to the
// orchestrator itself.
type Registry struct {
	mu         sync.RWMutex
	evaluators map[string]Evaluator
}

// NewRegistry creates an empty evaluator registry.
func NewRegistry() *Registry {
	return &Registry{evaluators: make(map[string]Evaluator)}
}

// Register adds an evaluator under its own Name(), overwriting any
// previously registered evaluator with the same name.
func (r *Registry) Register(e Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[e.Name()] = e
}

// Get returns the named evaluator.
func (r *Registry) Get(name string) (Evaluator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.evaluators[name]
	if !ok {
		return nil, fmt.Errorf("%w: no evaluator registered as %q", ErrEvaluation, name)
	}
	return e, nil
}

// All returns every registered evaluator. Order is unspecified; callers
// that need deterministic iteration should sort by Name().
func (r *Registry) All() []Evaluator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]Evaluator, 0, len(r.evaluators))
	for _, e := range r.evaluators {
		all = append(all, e)
	}
	return all
}
