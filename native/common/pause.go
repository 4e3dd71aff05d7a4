package common

import "errors"

// ErrModulePaused is returned when a module has been halted by governance.
var ErrModulePaused = errors.New("module paused")

// ErrActionPaused is returned when a single flow within a module is halted
// while the rest of the module keeps operating.
var ErrActionPaused = errors.New("action paused")

// PauseView exposes the pause switches consulted before any state mutation.
type PauseView interface {
	IsPaused(module string) bool
	IsActionPaused(module, action string) bool
}

// Guard rejects the call when the module as a whole is paused. A nil view
// means pausing is not configured and everything is allowed.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// GuardAction rejects the call when either the module or the specific action
// is paused.
func GuardAction(p PauseView, module, action string) error {
	if err := Guard(p, module); err != nil {
		return err
	}
	if p == nil || action == "" {
		return nil
	}
	if p.IsActionPaused(module, action) {
		return ErrActionPaused
	}
	return nil
}
