// Package form defines the onboarding form data model: the three form sections,
// the ordered wizard steps and the per-section error set.
package form

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownSection is returned for section names outside the form.
	ErrUnknownSection = errors.New("unknown form section")
	// ErrUnknownStep is returned for step names outside the wizard.
	ErrUnknownStep = errors.New("unknown wizard step")
)

// Theme is the display theme preference.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
	ThemeAuto  Theme = "auto"
)

// Valid reports whether t is one of the known themes.
func (t Theme) Valid() bool {
	switch t {
	case ThemeLight, ThemeDark, ThemeAuto:
		return true
	}
	return false
}

// PersonalInfo is the first form section.
type PersonalInfo struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	DateOfBirth string `json:"dateOfBirth"`
}

// Address is the second form section.
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

// Preferences is the third form section.
type Preferences struct {
	Newsletter    bool   `json:"newsletter"`
	Notifications bool   `json:"notifications"`
	Theme         Theme  `json:"theme"`
	Language      string `json:"language"`
}

// Data is the aggregate form data. All fields are plain scalars, so a Data
// value copies safely by assignment.
type Data struct {
	PersonalInfo PersonalInfo `json:"personalInfo"`
	Address      Address      `json:"address"`
	Preferences  Preferences  `json:"preferences"`
}

// DefaultData returns an empty form with default preferences.
func DefaultData() Data {
	return Data{
		Preferences: Preferences{
			Theme:    ThemeAuto,
			Language: "en",
		},
	}
}

// Section names a group of fields within Data.
type Section string

const (
	SectionPersonalInfo Section = "personalInfo"
	SectionAddress      Section = "address"
	SectionPreferences  Section = "preferences"
)

// Sections lists the form sections in step order.
var Sections = []Section{SectionPersonalInfo, SectionAddress, SectionPreferences}

// ParseSection converts a section name into a Section.
func ParseSection(s string) (Section, error) {
	for _, sec := range Sections {
		if string(sec) == s {
			return sec, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownSection, s)
}

// Errors maps a section to its field errors. Each field error is a message
// kind such as "personalInfo.email.invalid"; display text is resolved by the
// caller. A section key exists only when it holds at least one field error.
type Errors map[Section]map[string]string

// Has reports whether any section has errors.
func (e Errors) Has() bool {
	for _, fields := range e {
		if len(fields) > 0 {
			return true
		}
	}
	return false
}

// Set records a field error, creating the section entry as needed.
func (e Errors) Set(section Section, field, kind string) {
	fields, ok := e[section]
	if !ok {
		fields = make(map[string]string)
		e[section] = fields
	}
	fields[field] = kind
}

// Field returns the error kind for one field, or "" when there is none.
func (e Errors) Field(section Section, field string) string {
	return e[section][field]
}

// Clone returns a deep copy.
func (e Errors) Clone() Errors {
	out := make(Errors, len(e))
	for sec, fields := range e {
		cp := make(map[string]string, len(fields))
		for k, v := range fields {
			cp[k] = v
		}
		out[sec] = cp
	}
	return out
}
