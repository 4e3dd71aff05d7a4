package common

import (
	"sort"
	"strings"
	"sync"
)

// Switchboard is an in-memory PauseView the daemon mutates through its
// administrative surface. Switches default to open.
type Switchboard struct {
	mu      sync.RWMutex
	modules map[string]bool
	actions map[string]bool
}

// NewSwitchboard returns a switchboard with every switch open.
func NewSwitchboard() *Switchboard {
	return &Switchboard{
		modules: make(map[string]bool),
		actions: make(map[string]bool),
	}
}

// SetModulePaused halts or resumes an entire module.
func (s *Switchboard) SetModulePaused(module string, paused bool) {
	module = strings.TrimSpace(module)
	if s == nil || module == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if paused {
		s.modules[module] = true
	} else {
		delete(s.modules, module)
	}
}

// SetActionPaused halts or resumes one flow within a module.
func (s *Switchboard) SetActionPaused(module, action string, paused bool) {
	module = strings.TrimSpace(module)
	action = strings.TrimSpace(action)
	if s == nil || module == "" || action == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := module + "/" + action
	if paused {
		s.actions[key] = true
	} else {
		delete(s.actions, key)
	}
}

// IsPaused reports whether the whole module is halted.
func (s *Switchboard) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modules[module]
}

// IsActionPaused reports whether one flow within a module is halted.
func (s *Switchboard) IsActionPaused(module, action string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actions[module+"/"+action]
}

// Paused lists the currently halted modules and actions, sorted for
// deterministic reporting.
func (s *Switchboard) Paused() (modules, actions []string) {
	if s == nil {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for module := range s.modules {
		modules = append(modules, module)
	}
	for action := range s.actions {
		actions = append(actions, action)
	}
	sort.Strings(modules)
	sort.Strings(actions)
	return modules, actions
}
