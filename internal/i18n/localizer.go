package i18n

import (
	"strconv"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/livetemplate/formwizard/internal/form"
)

// Translator resolves message keys to display text.
type Translator interface {
	T(key string) string
}

// Localizer is a Catalog bound to one language.
type Localizer struct {
	catalog *Catalog
	lang    string
	printer *message.Printer
}

// Localizer binds c to lang. Unknown languages resolve through the base
// language.
func (c *Catalog) Localizer(lang string) *Localizer {
	if !c.Supports(lang) {
		lang = BaseLanguage
	}
	return &Localizer{
		catalog: c,
		lang:    lang,
		printer: message.NewPrinter(language.Make(lang)),
	}
}

// Language returns the bound language code.
func (l *Localizer) Language() string { return l.lang }

// T returns the message for key.
func (l *Localizer) T(key string) string {
	return l.catalog.T(l.lang, key)
}

// Errors replaces every error kind in errs with its display text.
func (l *Localizer) Errors(errs form.Errors) map[form.Section]map[string]string {
	out := make(map[form.Section]map[string]string, len(errs))
	for section, fields := range errs {
		if len(fields) == 0 {
			continue
		}
		texts := make(map[string]string, len(fields))
		for field, kind := range fields {
			texts[field] = l.T(kind)
		}
		out[section] = texts
	}
	return out
}

// ProgressLabel renders e.g. "Step 2 of 4 (50%)" for a zero-based index.
func (l *Localizer) ProgressLabel(index, total int) string {
	percent := 0
	if total > 0 {
		percent = int(float64(index+1)/float64(total)*100 + 0.5)
	}
	return l.printer.Sprintf("%s %d %s %d (%d%%)",
		l.T("progress.step"), index+1, l.T("progress.of"), total, percent)
}

// AutosaveLabel renders the save indicator: "Saving..." while unsaved,
// otherwise "All changes saved" with the age of the last save when known.
func (l *Localizer) AutosaveLabel(isSaved bool, lastSavedAt *time.Time, now time.Time) string {
	if !isSaved {
		return l.T("autosave.saving")
	}
	saved := l.T("autosave.saved")
	if lastSavedAt == nil {
		return saved
	}
	return saved + " (" + l.SavedAgo(now.Sub(*lastSavedAt)) + ")"
}

// SavedAgo renders how long ago a save happened: "Just now" under a minute,
// then whole minutes, then whole hours.
func (l *Localizer) SavedAgo(age time.Duration) string {
	secs := int(age / time.Second)
	switch {
	case secs < 60:
		return l.T("autosave.justNow")
	case secs < 3600:
		return strconv.Itoa(secs/60) + " " + l.T("autosave.minutesAgo")
	default:
		return strconv.Itoa(secs/3600) + " " + l.T("autosave.hoursAgo")
	}
}

// StepTitle returns the display name of step.
func (l *Localizer) StepTitle(step form.Step) string {
	return l.T(step.TitleKey())
}

// SelectionSummary renders "3 items selected", or "" for an empty selection.
func (l *Localizer) SelectionSummary(n int) string {
	if n <= 0 {
		return ""
	}
	noun := l.T("multiselect.itemsSelected")
	if n == 1 {
		noun = l.T("multiselect.itemSelected")
	}
	return l.printer.Sprintf("%d %s %s", n, noun, l.T("multiselect.selected"))
}
