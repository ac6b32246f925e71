package formwizard

import (
	"time"

	"github.com/livetemplate/formwizard/internal/form"
	"github.com/livetemplate/formwizard/internal/i18n"
	"github.com/livetemplate/formwizard/internal/wizard"
)

// View is everything a client needs to render the wizard: the raw state
// plus the derived, localized values.
type View struct {
	State           wizard.State                       `json:"state"`
	Language        string                             `json:"language"`
	Languages       []string                           `json:"languages"`
	Progress        float64                            `json:"progress"`
	ProgressPercent int                                `json:"progressPercent"`
	ProgressLabel   string                             `json:"progressLabel"`
	StepTitle       string                             `json:"stepTitle"`
	Steps           []StepView                         `json:"steps"`
	Errors          map[form.Section]map[string]string `json:"errors"`
	AutosaveLabel   string                             `json:"autosaveLabel"`
	Review          []i18n.ReviewSection               `json:"review,omitempty"` // only on the review step
}

// StepView is a step status with its localized title.
type StepView struct {
	wizard.StepStatus
	Title string `json:"title"`
}

// BuildView derives the view of state for the given localizer.
func BuildView(state wizard.State, l *i18n.Localizer, languages []string, now time.Time) *View {
	current := state.CurrentStep

	statuses := wizard.StatusesAt(current)
	steps := make([]StepView, len(statuses))
	for i, st := range statuses {
		steps[i] = StepView{StepStatus: st, Title: l.StepTitle(st.Step)}
	}

	v := &View{
		State:           state,
		Language:        l.Language(),
		Languages:       languages,
		Progress:        wizard.ProgressAt(current),
		ProgressPercent: wizard.PercentAt(current),
		ProgressLabel:   l.ProgressLabel(current.Index(), len(form.Steps)),
		StepTitle:       l.StepTitle(current),
		Steps:           steps,
		Errors:          l.Errors(state.Errors),
		AutosaveLabel:   l.AutosaveLabel(state.IsSaved, state.LastSavedAt, now),
	}
	if current == form.StepReview {
		v.Review = l.Review(state.FormData)
	}
	return v
}
