package form

import "fmt"

// Step is one of the ordered wizard stages.
type Step string

const (
	StepPersonalInfo Step = "personal-info"
	StepAddress      Step = "address"
	StepPreferences  Step = "preferences"
	StepReview       Step = "review"
)

// Steps lists the wizard steps in navigation order.
var Steps = []Step{StepPersonalInfo, StepAddress, StepPreferences, StepReview}

// Index returns the position of s in Steps, or -1 if s is unknown.
func (s Step) Index() int {
	for i, step := range Steps {
		if step == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	return s.Index() >= 0
}

// Next returns the following step and false when s is the last step.
func (s Step) Next() (Step, bool) {
	i := s.Index()
	if i < 0 || i >= len(Steps)-1 {
		return s, false
	}
	return Steps[i+1], true
}

// Prev returns the preceding step and false when s is the first step.
func (s Step) Prev() (Step, bool) {
	i := s.Index()
	if i <= 0 {
		return s, false
	}
	return Steps[i-1], true
}

// Section returns the form section edited on step s. The review step has no
// section of its own.
func (s Step) Section() (Section, bool) {
	switch s {
	case StepPersonalInfo:
		return SectionPersonalInfo, true
	case StepAddress:
		return SectionAddress, true
	case StepPreferences:
		return SectionPreferences, true
	}
	return "", false
}

// TitleKey returns the catalog key of the step title.
func (s Step) TitleKey() string {
	switch s {
	case StepPersonalInfo:
		return "step.personalInfo"
	case StepAddress:
		return "step.address"
	case StepPreferences:
		return "step.preferences"
	case StepReview:
		return "step.review"
	}
	return string(s)
}

// ParseStep converts a step name into a Step.
func ParseStep(s string) (Step, error) {
	step := Step(s)
	if !step.Valid() {
		return "", fmt.Errorf("%w %q", ErrUnknownStep, s)
	}
	return step, nil
}
