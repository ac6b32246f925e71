// Package validation checks one wizard step's form section and reports field
// errors as message kinds. Validate is pure: it reads only the section that
// belongs to the step and never mutates its input.
package validation

import (
	"regexp"
	"strings"

	"github.com/livetemplate/formwizard/internal/form"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[\d\s\-()]+$`)
	zipPattern   = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
)

// rule checks one field. It returns the failure suffix ("required",
// "invalid") or "" when the value passes.
type rule func(value string) string

func required(v string) string {
	if strings.TrimSpace(v) == "" {
		return "required"
	}
	return ""
}

// present is like required but does not trim; date inputs never carry
// surrounding whitespace.
func present(v string) string {
	if v == "" {
		return "required"
	}
	return ""
}

func matches(re *regexp.Regexp) rule {
	return func(v string) string {
		if !re.MatchString(v) {
			return "invalid"
		}
		return ""
	}
}

type fieldRules struct {
	name  string
	value string
	rules []rule
}

// Validate returns the errors for step. Steps without rules (preferences,
// review) always return an empty set.
func Validate(step form.Step, data form.Data) form.Errors {
	errs := form.Errors{}

	switch step {
	case form.StepPersonalInfo:
		p := data.PersonalInfo
		check(errs, form.SectionPersonalInfo, []fieldRules{
			{"firstName", p.FirstName, []rule{required}},
			{"lastName", p.LastName, []rule{required}},
			{"email", p.Email, []rule{required, matches(emailPattern)}},
			{"phone", p.Phone, []rule{required, matches(phonePattern)}},
			{"dateOfBirth", p.DateOfBirth, []rule{present}},
		})
	case form.StepAddress:
		a := data.Address
		check(errs, form.SectionAddress, []fieldRules{
			{"street", a.Street, []rule{required}},
			{"city", a.City, []rule{required}},
			{"state", a.State, []rule{required}},
			{"zipCode", a.ZipCode, []rule{required, matches(zipPattern)}},
			{"country", a.Country, []rule{required}},
		})
	}

	return errs
}

// check applies each field's rules in order; the first failure wins.
func check(errs form.Errors, section form.Section, fields []fieldRules) {
	for _, f := range fields {
		for _, r := range f.rules {
			if suffix := r(f.value); suffix != "" {
				errs.Set(section, f.name, Kind(section, f.name, suffix))
				break
			}
		}
	}
}

// Kind builds the message kind for a field failure. Kinds double as i18n
// catalog keys.
func Kind(section form.Section, field, suffix string) string {
	return string(section) + "." + field + "." + suffix
}
