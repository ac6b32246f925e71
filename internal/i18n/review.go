package i18n

import (
	"strings"
	"time"
	"unicode"

	"github.com/livetemplate/formwizard/internal/form"
)

// ReviewField is one labeled value on the review step.
type ReviewField struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ReviewSection groups the fields of one form section. Step is where the
// section is edited.
type ReviewSection struct {
	Section form.Section  `json:"section"`
	Step    form.Step     `json:"step"`
	Title   string        `json:"title"`
	Fields  []ReviewField `json:"fields"`
}

// Review renders data for the review step.
func (l *Localizer) Review(data form.Data) []ReviewSection {
	p, a, prefs := data.PersonalInfo, data.Address, data.Preferences

	newsletter := l.T("review.newsletter.notSubscribed")
	if prefs.Newsletter {
		newsletter = l.T("review.newsletter.subscribed")
	}
	notifications := l.T("review.notifications.disabled")
	if prefs.Notifications {
		notifications = l.T("review.notifications.enabled")
	}

	return []ReviewSection{
		{
			Section: form.SectionPersonalInfo,
			Step:    form.StepPersonalInfo,
			Title:   l.T("review.personalInfo"),
			Fields: []ReviewField{
				{l.T("review.name"), strings.TrimSpace(p.FirstName + " " + p.LastName)},
				{l.T("review.email"), p.Email},
				{l.T("review.phone"), FormatPhone(p.Phone)},
				{l.T("review.dateOfBirth"), l.formatDate(p.DateOfBirth)},
			},
		},
		{
			Section: form.SectionAddress,
			Step:    form.StepAddress,
			Title:   l.T("review.address"),
			Fields: []ReviewField{
				{l.T("review.street"), a.Street},
				{l.T("review.city"), a.City},
				{l.T("review.state"), a.State},
				{l.T("review.zipCode"), a.ZipCode},
				{l.T("review.country"), a.Country},
			},
		},
		{
			Section: form.SectionPreferences,
			Step:    form.StepPreferences,
			Title:   l.T("review.preferences"),
			Fields: []ReviewField{
				{l.T("review.newsletter"), newsletter},
				{l.T("review.notifications"), notifications},
				{l.T("review.theme"), capitalize(string(prefs.Theme))},
				{l.T("review.language"), strings.ToUpper(prefs.Language)},
			},
		},
	}
}

// FormatPhone renders a ten-digit number as (555) 123-4567. Anything else is
// returned unchanged.
func FormatPhone(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if len(digits) != 10 {
		return phone
	}
	return "(" + digits[:3] + ") " + digits[3:6] + "-" + digits[6:]
}

func (l *Localizer) formatDate(s string) string {
	if s == "" {
		return l.T("review.notProvided")
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return s
	}
	return d.Format("January 2, 2006")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
