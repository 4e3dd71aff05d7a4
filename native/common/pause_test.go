package common

import (
	"errors"
	"testing"
)

func TestGuardNilViewAllowsEverything(t *testing.T) {
	if err := Guard(nil, "fixedlending"); err != nil {
		t.Fatalf("nil view should allow: %v", err)
	}
	if err := GuardAction(nil, "fixedlending", "borrow"); err != nil {
		t.Fatalf("nil view should allow actions: %v", err)
	}
}

func TestSwitchboardModulePause(t *testing.T) {
	board := NewSwitchboard()
	if err := Guard(board, "fixedlending"); err != nil {
		t.Fatalf("open switch should allow: %v", err)
	}

	board.SetModulePaused("fixedlending", true)
	if err := Guard(board, "fixedlending"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := GuardAction(board, "fixedlending", "supply"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("module pause must cover every action, got %v", err)
	}
	if err := Guard(board, "other"); err != nil {
		t.Fatalf("unrelated module must stay open: %v", err)
	}

	board.SetModulePaused("fixedlending", false)
	if err := Guard(board, "fixedlending"); err != nil {
		t.Fatalf("resumed module should allow: %v", err)
	}
}

func TestSwitchboardActionPause(t *testing.T) {
	board := NewSwitchboard()
	board.SetActionPaused("fixedlending", "borrow", true)

	if err := GuardAction(board, "fixedlending", "borrow"); !errors.Is(err, ErrActionPaused) {
		t.Fatalf("expected ErrActionPaused, got %v", err)
	}
	if err := GuardAction(board, "fixedlending", "supply"); err != nil {
		t.Fatalf("sibling action must stay open: %v", err)
	}
	if err := Guard(board, "fixedlending"); err != nil {
		t.Fatalf("action pause must not halt the module: %v", err)
	}

	modules, actions := board.Paused()
	if len(modules) != 0 || len(actions) != 1 || actions[0] != "fixedlending/borrow" {
		t.Fatalf("unexpected pause listing: %v %v", modules, actions)
	}
}
