package keys

import "github.com/gdamore/tcell/v2"

// Action represents a keybinding action.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
	Visible     bool
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Registry holds keybindings organized by page scope.
type Registry struct {
	Global map[string]*Action
	Pages  map[string]map[string]*Action
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{
		Global: make(map[string]*Action),
		Pages:  make(map[string]map[string]*Action),
	}
}

// AddGlobal registers a global keybinding.
func (r *Registry) AddGlobal(name string, action *Action) {
	r.Global[name] = action
}

// AddPage registers a page-specific keybinding.
func (r *Registry) AddPage(page, name string, action *Action) {
	if r.Pages[page] == nil {
		r.Pages[page] = make(map[string]*Action)
	}
	r.Pages[page][name] = action
}

// Hints returns visible keybinding descriptions for a given page.
func (r *Registry) Hints(page string) []string {
	var hints []string
	if bindings, ok := r.Pages[page]; ok {
		for _, a := range bindings {
			if a.Visible {
				hints = append(hints, a.Description)
			}
		}
	}
	for _, a := range r.Global {
		if a.Visible {
			hints = append(hints, a.Description)
		}
	}
	return hints
}

// HandleEvent dispatches a key event to the matching action on the given
// page. Returns true if a handler matched.
func (r *Registry) HandleEvent(page string, ev *tcell.EventKey) bool {
	// Page-specific bindings win over globals.
	if bindings, ok := r.Pages[page]; ok {
		for _, a := range bindings {
			if a.Matches(ev) {
				a.Handler()
				return true
			}
		}
	}
	for _, a := range r.Global {
		if a.Matches(ev) {
			a.Handler()
			return true
		}
	}
	return false
}
