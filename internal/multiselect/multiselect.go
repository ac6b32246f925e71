// Package multiselect models a search-filterable multi-select input: the
// option list, the selection, the search term and keyboard highlighting.
// The model holds no presentation; a view renders it from Snapshot.
package multiselect

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownOption is returned when selecting a value that is not an option.
var ErrUnknownOption = errors.New("unknown option")

// Option is one selectable item.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Key is a keyboard key the model reacts to.
type Key string

const (
	KeyArrowDown Key = "ArrowDown"
	KeyArrowUp   Key = "ArrowUp"
	KeyEnter     Key = "Enter"
	KeyEscape    Key = "Escape"
)

// SampleOptions is the demo option list.
var SampleOptions = []Option{
	{"apple", "Apple"},
	{"banana", "Banana"},
	{"orange", "Orange"},
	{"grape", "Grape"},
	{"strawberry", "Strawberry"},
	{"blueberry", "Blueberry"},
	{"mango", "Mango"},
	{"pineapple", "Pineapple"},
	{"watermelon", "Watermelon"},
	{"kiwi", "Kiwi"},
	{"peach", "Peach"},
	{"plum", "Plum"},
	{"cherry", "Cherry"},
	{"lemon", "Lemon"},
	{"lime", "Lime"},
}

// Filter returns the options whose label contains search, ignoring case,
// and that are not already selected. Order follows options.
func Filter(options, selected []Option, search string) []Option {
	needle := strings.ToLower(search)
	taken := make(map[string]bool, len(selected))
	for _, s := range selected {
		taken[s.Value] = true
	}

	out := make([]Option, 0, len(options))
	for _, o := range options {
		if taken[o.Value] {
			continue
		}
		if strings.Contains(strings.ToLower(o.Label), needle) {
			out = append(out, o)
		}
	}
	return out
}

// Model is the state of one multi-select input. It is not safe for
// concurrent use.
type Model struct {
	options     []Option
	selected    []Option
	search      string
	open        bool
	highlighted int // index into Filtered(), -1 for none
}

// New creates a closed model with nothing selected.
func New(options []Option) *Model {
	return &Model{
		options:     append([]Option(nil), options...),
		highlighted: -1,
	}
}

// Filtered returns the options currently offered in the dropdown.
func (m *Model) Filtered() []Option {
	return Filter(m.options, m.selected, m.search)
}

// Selected returns the selection in selection order.
func (m *Model) Selected() []Option {
	return append([]Option(nil), m.selected...)
}

// IsOpen reports whether the dropdown is open.
func (m *Model) IsOpen() bool { return m.open }

// Highlighted returns the highlighted index into Filtered, or -1.
func (m *Model) Highlighted() int { return m.highlighted }

// Search returns the search term.
func (m *Model) Search() string { return m.search }

// SetSearch changes the search term, opens the dropdown and drops the
// highlight.
func (m *Model) SetSearch(s string) {
	m.search = s
	m.open = true
	m.highlighted = -1
}

// Focus opens the dropdown.
func (m *Model) Focus() { m.open = true }

// Close closes the dropdown.
func (m *Model) Close() { m.open = false }

// Toggle opens or closes the dropdown.
func (m *Model) Toggle() { m.open = !m.open }

// Highlight moves the highlight to i when it is within Filtered.
func (m *Model) Highlight(i int) {
	if i >= -1 && i < len(m.Filtered()) {
		m.highlighted = i
	}
}

// Select adds the option with value to the selection and clears the search.
// Selecting an already selected value is a no-op.
func (m *Model) Select(value string) error {
	for _, s := range m.selected {
		if s.Value == value {
			return nil
		}
	}
	for _, o := range m.options {
		if o.Value == value {
			m.selected = append(m.selected, o)
			m.search = ""
			m.highlighted = -1
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownOption, value)
}

// Remove drops value from the selection.
func (m *Model) Remove(value string) {
	out := m.selected[:0]
	for _, s := range m.selected {
		if s.Value != value {
			out = append(out, s)
		}
	}
	m.selected = out
}

// ClearAll empties the selection.
func (m *Model) ClearAll() {
	m.selected = nil
}

// KeyDown applies a key press. A closed dropdown opens on the arrows and
// Enter and ignores everything else. When open, the arrows move the
// highlight within the filtered list (ArrowUp from the top clears it), Enter
// selects the highlighted option and Escape closes.
func (m *Model) KeyDown(key Key) {
	if !m.open {
		switch key {
		case KeyArrowDown, KeyArrowUp, KeyEnter:
			m.open = true
		}
		return
	}

	filtered := m.Filtered()
	switch key {
	case KeyArrowDown:
		if m.highlighted < len(filtered)-1 {
			m.highlighted++
		}
	case KeyArrowUp:
		if m.highlighted > 0 {
			m.highlighted--
		} else {
			m.highlighted = -1
		}
	case KeyEnter:
		if m.highlighted >= 0 && m.highlighted < len(filtered) {
			m.Select(filtered[m.highlighted].Value)
		}
	case KeyEscape:
		m.open = false
	}
}

// EmptyMessageKey returns the catalog key to show when the dropdown has
// nothing to offer, or "" when it does.
func (m *Model) EmptyMessageKey() string {
	if len(m.Filtered()) > 0 {
		return ""
	}
	if m.search != "" {
		return "multiselect.noResults"
	}
	return "multiselect.allSelected"
}

// Snapshot is a serializable view of a Model.
type Snapshot struct {
	Options      []Option `json:"options"`
	Selected     []Option `json:"selected"`
	Search       string   `json:"search"`
	Open         bool     `json:"open"`
	Highlighted  int      `json:"highlighted"`
	EmptyMessage string   `json:"emptyMessage,omitempty"` // catalog key
	Count        int      `json:"count"`
}

// Snapshot captures the model for rendering.
func (m *Model) Snapshot() Snapshot {
	return Snapshot{
		Options:      m.Filtered(),
		Selected:     m.Selected(),
		Search:       m.search,
		Open:         m.open,
		Highlighted:  m.highlighted,
		EmptyMessage: m.EmptyMessageKey(),
		Count:        len(m.selected),
	}
}

// Restore rebuilds a model over options from a client-held state: the
// selected values and the search term. Unknown values are dropped.
func Restore(options []Option, selected []string, search string) *Model {
	m := New(options)
	for _, v := range selected {
		m.Select(v)
	}
	m.search = search
	return m
}
