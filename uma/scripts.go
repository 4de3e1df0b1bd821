/*
 * Copyright 2019 Kopano and its licensors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License, version 3,
 * as published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package uma

import (
	"context"
	"fmt"
	"sync"
)

// A ScriptContext carries the correlated state of one claims gathering flow
// into script callbacks.
type ScriptContext struct {
	ClientID          string
	Ticket            string
	ClaimsRedirectURI string
	State             string

	Permissions []*Permission

	Step int
}

// A ClaimsGatheringScript drives the interactive, multi step collection of
// claims from the requesting party. Implementations are external
// collaborators registered by name at configuration time.
type ClaimsGatheringScript interface {
	// StepsCount returns the total number of steps of this script for the
	// provided flow.
	StepsCount(ctx context.Context, sc *ScriptContext) int

	// PageForStep returns the page path for the provided step. The path
	// is resolved against the configured gathering page base.
	PageForStep(ctx context.Context, step int, sc *ScriptContext) string
}

// A ScriptRegistry resolves claims gathering scripts by name.
type ScriptRegistry struct {
	mutex   sync.RWMutex
	scripts map[string]ClaimsGatheringScript
}

// NewScriptRegistry creates a new empty ScriptRegistry.
func NewScriptRegistry() *ScriptRegistry {
	return &ScriptRegistry{
		scripts: make(map[string]ClaimsGatheringScript),
	}
}

// Register adds the provided script to the associated registry under the
// provided name.
func (r *ScriptRegistry) Register(name string, script ClaimsGatheringScript) error {
	if name == "" {
		return fmt.Errorf("script name must not be empty")
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.scripts[name]; ok {
		return fmt.Errorf("script %v already registered", name)
	}
	r.scripts[name] = script
	return nil
}

// Get resolves the script registered under the provided name.
func (r *ScriptRegistry) Get(name string) (ClaimsGatheringScript, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	script, ok := r.scripts[name]
	return script, ok
}
