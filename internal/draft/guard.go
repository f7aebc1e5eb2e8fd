package draft

import "sync"

// FocusReporter reports whether the edit surface currently holds input
// focus. It must be synchronous and must never block; the UI layer
// registers one per editor.
type FocusReporter func() bool

// Guard decides whether a background draft refresh may be applied. While
// the human is mid-edit a refresh would discard unsaved keystrokes, so the
// refresh is suppressed and the next save boundary reconciles instead.
//
// This is a focus heuristic, not a merge: an edit begun while an
// unfocused refresh is in flight can still race. Single human author plus
// one assistant, so that trade is acceptable here.
type Guard struct {
	mu       sync.RWMutex
	reporter FocusReporter
}

// NewGuard creates a guard with no focus reporter. Without a reporter,
// refreshes are always allowed.
func NewGuard() *Guard {
	return &Guard{}
}

// SetFocusReporter registers the editor's focus query.
func (g *Guard) SetFocusReporter(r FocusReporter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reporter = r
}

// Editing reports whether the user is actively editing right now.
func (g *Guard) Editing() bool {
	g.mu.RLock()
	r := g.reporter
	g.mu.RUnlock()
	if r == nil {
		return false
	}
	return r()
}
