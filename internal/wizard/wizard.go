// Package wizard implements the four-step onboarding state machine.
//
// A Wizard owns one session's State. Every operation takes the wizard's
// lock, so callers on any goroutine see a single logical thread of
// mutations. Navigation forward is gated on validation of the current step;
// navigation backward never is. Data edits schedule a debounced save through
// a Persister.
package wizard

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/livetemplate/formwizard/internal/form"
	"github.com/livetemplate/formwizard/internal/persist"
	"github.com/livetemplate/formwizard/internal/validation"
)

// State is the full wizard state.
type State struct {
	CurrentStep  form.Step   `json:"currentStep"`
	FormData     form.Data   `json:"formData"`
	Errors       form.Errors `json:"errors"`
	IsSubmitting bool        `json:"isSubmitting"`
	IsSaved      bool        `json:"isSaved"`
	LastSavedAt  *time.Time  `json:"lastSavedAt"` // nil whenever IsSaved is false
}

func initialState() State {
	return State{
		CurrentStep: form.StepPersonalInfo,
		FormData:    form.DefaultData(),
		Errors:      form.Errors{},
		IsSaved:     true,
	}
}

func (s State) clone() State {
	c := s
	c.Errors = s.Errors.Clone()
	if s.LastSavedAt != nil {
		t := *s.LastSavedAt
		c.LastSavedAt = &t
	}
	return c
}

// StepStatus describes one step for a progress indicator.
type StepStatus struct {
	Step      form.Step `json:"step"`
	Index     int       `json:"index"`
	Active    bool      `json:"active"`
	Completed bool      `json:"completed"` // before the current step
	Reachable bool      `json:"reachable"` // at or before the current step
}

// Persister loads and saves a wizard's form data. *persist.Adapter is the
// production implementation.
type Persister interface {
	Load(ctx context.Context) (form.Data, bool)
	ScheduleSave(data form.Data, onSaved func(time.Time))
	Clear(ctx context.Context)
	Flush(ctx context.Context) error
	Now() time.Time
}

var _ Persister = (*persist.Adapter)(nil)

// Observer receives wizard events for metrics.
type Observer interface {
	ObserveValidationFailure(step form.Step)
	ObserveSubmission(err error)
}

// Options configures a Wizard.
type Options struct {
	Submitter Submitter   // SimulatedSubmitter with defaults when nil
	Notifier  Notifier    // optional
	Observer  Observer    // optional
	Logger    *zap.Logger // no-op when nil

	// OnChange is called, without the wizard lock held, after state changes
	// that happen outside a caller's request: autosave completion and the
	// submission lifecycle.
	OnChange func(State)
}

// Wizard is the state machine for one session.
type Wizard struct {
	mu    sync.Mutex
	state State
	rev   uint64 // bumped on every change to FormData

	persist   Persister
	submitter Submitter
	notifier  Notifier
	observer  Observer
	logger    *zap.Logger
	onChange  func(State)
}

// New creates a Wizard and rehydrates it from p. Saved data that cannot be
// read leaves the defaults in place.
func New(ctx context.Context, p Persister, opts Options) *Wizard {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Submitter == nil {
		opts.Submitter = &SimulatedSubmitter{}
	}

	w := &Wizard{
		state:     initialState(),
		persist:   p,
		submitter: opts.Submitter,
		notifier:  opts.Notifier,
		observer:  opts.Observer,
		logger:    opts.Logger,
		onChange:  opts.OnChange,
	}

	if data, ok := p.Load(ctx); ok {
		now := p.Now()
		w.state.FormData = data
		w.state.IsSaved = true
		w.state.LastSavedAt = &now
		w.logger.Debug("restored saved form data")
	}
	return w
}

// Snapshot returns a copy of the current state.
func (w *Wizard) Snapshot() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.clone()
}

// CurrentStep returns the active step.
func (w *Wizard) CurrentStep() form.Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.CurrentStep
}

// UpdateSection merges the fields set in patch into their section, marks
// the state unsaved and schedules a save. The state is untouched when the
// patch is rejected.
func (w *Wizard) UpdateSection(patch form.Patch) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data := w.state.FormData
	if err := patch.Apply(&data); err != nil {
		return err
	}
	w.state.FormData = data
	w.state.IsSaved = false
	w.state.LastSavedAt = nil
	w.rev++

	w.persist.ScheduleSave(data, w.savedCallback(w.rev))
	return nil
}

// UpdatePersonalInfo is UpdateSection for the personal info section.
func (w *Wizard) UpdatePersonalInfo(p form.PersonalInfoPatch) error {
	return w.UpdateSection(p)
}

// UpdateAddress is UpdateSection for the address section.
func (w *Wizard) UpdateAddress(p form.AddressPatch) error {
	return w.UpdateSection(p)
}

// UpdatePreferences is UpdateSection for the preferences section.
func (w *Wizard) UpdatePreferences(p form.PreferencesPatch) error {
	return w.UpdateSection(p)
}

// UpdateFields decodes a field map into a patch for section and applies it.
// Unknown fields and mistyped values are rejected.
func (w *Wizard) UpdateFields(section form.Section, fields map[string]any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}
	patch, err := form.DecodePatch(section, raw)
	if err != nil {
		return err
	}
	return w.UpdateSection(patch)
}

// savedCallback marks the state saved, unless the data changed again after
// the save was scheduled.
func (w *Wizard) savedCallback(rev uint64) func(time.Time) {
	return func(at time.Time) {
		w.mu.Lock()
		if w.rev != rev {
			w.mu.Unlock()
			return
		}
		w.state.IsSaved = true
		w.state.LastSavedAt = &at
		snapshot := w.state.clone()
		w.mu.Unlock()

		w.changed(snapshot)
	}
}

// Advance validates the current step and moves to the next one. On failure
// the step's errors are recorded and returned and the step is unchanged. It
// reports whether the wizard moved; advancing from the last step is a no-op.
func (w *Wizard) Advance() (bool, form.Errors) {
	w.mu.Lock()
	defer w.mu.Unlock()

	current := w.state.CurrentStep
	if errs := w.checkStepLocked(current); errs != nil {
		return false, errs
	}

	next, ok := current.Next()
	if !ok {
		return false, nil
	}
	w.state.CurrentStep = next
	w.logger.Debug("advanced", zap.String("from", string(current)), zap.String("to", string(next)))
	return true, nil
}

// Retreat moves to the previous step without validating. It reports whether
// the wizard moved.
func (w *Wizard) Retreat() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	current := w.state.CurrentStep
	prev, ok := current.Prev()
	if !ok {
		return false
	}
	w.state.CurrentStep = prev
	w.logger.Debug("retreated", zap.String("from", string(current)), zap.String("to", string(prev)))
	return true
}

// GoToStep jumps to target. Backward jumps and staying put always succeed.
// Forward jumps require the current step to validate; only the current step
// is checked, not the steps in between.
func (w *Wizard) GoToStep(target form.Step) (bool, form.Errors, error) {
	if !target.Valid() {
		return false, nil, fmt.Errorf("%w: %q", form.ErrUnknownStep, target)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	current := w.state.CurrentStep
	if target.Index() > current.Index() {
		if errs := w.checkStepLocked(current); errs != nil {
			return false, errs, nil
		}
	}
	w.state.CurrentStep = target
	w.logger.Debug("jumped", zap.String("from", string(current)), zap.String("to", string(target)))
	return true, nil, nil
}

// checkStepLocked validates step. Failures are recorded under the step's
// section and returned; success drops that section's errors and returns
// nil.
func (w *Wizard) checkStepLocked(step form.Step) form.Errors {
	errs := validation.Validate(step, w.state.FormData)
	section, hasSection := step.Section()

	if errs.Has() {
		if hasSection {
			if w.state.Errors == nil {
				w.state.Errors = form.Errors{}
			}
			w.state.Errors[section] = errs.Clone()[section]
		}
		if w.observer != nil {
			w.observer.ObserveValidationFailure(step)
		}
		return errs
	}

	if hasSection {
		delete(w.state.Errors, section)
	}
	return nil
}

// Validate runs the rules for step and replaces the whole error set with
// the result. It reports whether the step is valid.
func (w *Wizard) Validate(step form.Step) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	errs := validation.Validate(step, w.state.FormData)
	w.state.Errors = errs
	if errs.Has() {
		if w.observer != nil {
			w.observer.ObserveValidationFailure(step)
		}
		return false
	}
	return true
}

// ResetForm deletes the saved data, canceling any pending save, and then
// restores the defaults. A submission in flight keeps its guard.
func (w *Wizard) ResetForm(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.persist.Clear(ctx)

	submitting := w.state.IsSubmitting
	w.state = initialState()
	w.state.IsSubmitting = submitting
	w.rev++
	w.logger.Debug("form reset")
}

// Progress returns the completed fraction, (index+1)/4.
func (w *Wizard) Progress() float64 {
	return ProgressAt(w.CurrentStep())
}

// ProgressPercent returns Progress as a rounded percentage.
func (w *Wizard) ProgressPercent() int {
	return PercentAt(w.CurrentStep())
}

// StepStatuses describes every step relative to the current one.
func (w *Wizard) StepStatuses() []StepStatus {
	return StatusesAt(w.CurrentStep())
}

// ProgressAt returns the completed fraction when step is active.
func ProgressAt(step form.Step) float64 {
	return float64(step.Index()+1) / float64(len(form.Steps))
}

// PercentAt returns ProgressAt as a rounded percentage.
func PercentAt(step form.Step) int {
	return int(math.Round(ProgressAt(step) * 100))
}

// StatusesAt describes every step relative to current.
func StatusesAt(current form.Step) []StepStatus {
	idx := current.Index()
	statuses := make([]StepStatus, len(form.Steps))
	for i, step := range form.Steps {
		statuses[i] = StepStatus{
			Step:      step,
			Index:     i,
			Active:    i == idx,
			Completed: i < idx,
			Reachable: i <= idx,
		}
	}
	return statuses
}

// Flush writes any pending save now. Call it before dropping the wizard.
func (w *Wizard) Flush(ctx context.Context) error {
	return w.persist.Flush(ctx)
}

func (w *Wizard) changed(s State) {
	if w.onChange != nil {
		w.onChange(s)
	}
}
