package workflow

import (
	"fmt"
	"sync"
)

// Option is one entry of a statically declared choice list.
type Option struct {
	ID          string `json:"id" yaml:"id"`
	Label       string `json:"label" yaml:"label"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Selection enforces single-select semantics over a fixed option set.
type Selection struct {
	mu       sync.RWMutex
	options  []Option
	index    map[string]int
	selected string
}

// SelectionState is the serialisable view of a Selection.
type SelectionState struct {
	Options  []Option `json:"options"`
	Selected string   `json:"selected,omitempty"`
}

// NewSelection validates the option ids and returns a selection with nothing chosen.
func NewSelection(options []Option) (*Selection, error) {
	index := make(map[string]int, len(options))
	for i, opt := range options {
		if opt.ID == "" {
			return nil, fmt.Errorf("workflow: option %d has empty id", i)
		}
		if _, exists := index[opt.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateOption, opt.ID)
		}
		index[opt.ID] = i
	}
	out := make([]Option, len(options))
	copy(out, options)
	return &Selection{options: out, index: index}, nil
}

// MustSelection panics on invalid option lists; used for compiled-in catalogs.
func MustSelection(options []Option) *Selection {
	s, err := NewSelection(options)
	if err != nil {
		panic(err)
	}
	return s
}

// WithDefault preselects id. Unknown ids are ignored.
func (s *Selection) WithDefault(id string) *Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[id]; ok {
		s.selected = id
	}
	return s
}

// Select replaces the current choice. Unknown ids leave the selection untouched.
func (s *Selection) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOption, id)
	}
	s.selected = id
	return nil
}

// Selected returns the chosen option, if any.
func (s *Selection) Selected() (Option, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == "" {
		return Option{}, false
	}
	return s.options[s.index[s.selected]], true
}

// SelectedID is the chosen option id, empty when nothing is selected.
func (s *Selection) SelectedID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// IsSelected reports whether id is the current choice.
func (s *Selection) IsSelected(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return id != "" && s.selected == id
}

// HasSelection reports whether any option is chosen.
func (s *Selection) HasSelection() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected != ""
}

// Options returns a copy of the options in catalog order.
func (s *Selection) Options() []Option {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Option, len(s.options))
	copy(out, s.options)
	return out
}

// State is the read model of the selection.
func (s *Selection) State() SelectionState {
	return SelectionState{Options: s.Options(), Selected: s.SelectedID()}
}
