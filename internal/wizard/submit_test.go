package wizard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetemplate/formwizard/internal/form"
)

type recordingNotifier struct {
	mu    sync.Mutex
	items []Notification
}

func (n *recordingNotifier) Notify(note Notification) {
	n.mu.Lock()
	n.items = append(n.items, note)
	n.mu.Unlock()
}

func (n *recordingNotifier) all() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.items...)
}

type recordingObserver struct {
	failures    []form.Step
	submissions []error
}

func (o *recordingObserver) ObserveValidationFailure(step form.Step) {
	o.failures = append(o.failures, step)
}

func (o *recordingObserver) ObserveSubmission(err error) {
	o.submissions = append(o.submissions, err)
}

// Scenario: a successful submission clears storage and resets the form.
func TestSubmitSuccess(t *testing.T) {
	notes := &recordingNotifier{}
	var submitted form.Data
	h := newHarness(t, Options{
		Notifier: notes,
		Submitter: SubmitterFunc(func(ctx context.Context, data form.Data) error {
			submitted = data
			return nil
		}),
	})
	require.NoError(t, h.wizard.UpdatePersonalInfo(validPersonalInfo()))
	h.clock.Advance(time.Second)
	h.wizard.Advance()
	require.Equal(t, 1, h.store.Len())

	require.NoError(t, h.wizard.Submit(context.Background()))

	assert.Equal(t, "Ada", submitted.PersonalInfo.FirstName)
	assert.Equal(t, 0, h.store.Len())
	s := h.wizard.Snapshot()
	assert.Equal(t, initialState(), s)
	assert.False(t, s.IsSubmitting)
	assert.Equal(t, []Notification{{Kind: NotifySuccess, MessageKey: "review.success"}}, notes.all())
}

func TestSubmitFailureKeepsData(t *testing.T) {
	notes := &recordingNotifier{}
	obs := &recordingObserver{}
	boom := errors.New("503")
	h := newHarness(t, Options{
		Notifier: notes,
		Observer: obs,
		Submitter: SubmitterFunc(func(context.Context, form.Data) error {
			return boom
		}),
	})
	require.NoError(t, h.wizard.UpdatePersonalInfo(validPersonalInfo()))
	h.wizard.Advance()
	h.clock.Advance(time.Second)

	err := h.wizard.Submit(context.Background())
	var submitErr *SubmitError
	require.ErrorAs(t, err, &submitErr)
	assert.ErrorIs(t, err, boom)

	s := h.wizard.Snapshot()
	assert.False(t, s.IsSubmitting)
	assert.Equal(t, form.StepAddress, s.CurrentStep)
	assert.Equal(t, "Ada", s.FormData.PersonalInfo.FirstName)
	assert.Equal(t, 1, h.store.Len(), "saved data survives a failed submission")

	got := notes.all()
	require.Len(t, got, 1)
	assert.Equal(t, NotifyFailure, got[0].Kind)
	assert.Equal(t, "review.error", got[0].MessageKey)
	assert.Equal(t, []error{boom}, obs.submissions)
}

// Scenario: a second submit while the first is pending is rejected.
func TestSubmitGuardsReentry(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex

	h := newHarness(t, Options{
		Submitter: SubmitterFunc(func(ctx context.Context, data form.Data) error {
			mu.Lock()
			calls++
			mu.Unlock()
			close(started)
			<-release
			return nil
		}),
	})

	done := make(chan error, 1)
	go func() { done <- h.wizard.Submit(context.Background()) }()
	<-started

	assert.True(t, h.wizard.Snapshot().IsSubmitting)
	assert.ErrorIs(t, h.wizard.Submit(context.Background()), ErrSubmissionInProgress)

	// edits and navigation stay allowed while submitting
	require.NoError(t, h.wizard.UpdateAddress(validAddress()))
	assert.False(t, h.wizard.Retreat())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, calls)
	assert.False(t, h.wizard.Snapshot().IsSubmitting)
}

func TestSubmitReportsLifecycle(t *testing.T) {
	var states []bool
	h := newHarness(t, Options{OnChange: func(s State) { states = append(states, s.IsSubmitting) }})
	require.NoError(t, h.wizard.Submit(context.Background()))
	assert.Equal(t, []bool{true, false}, states)
}

func TestSimulatedSubmitter(t *testing.T) {
	ctx := context.Background()

	ok := &SimulatedSubmitter{Delay: time.Millisecond}
	assert.NoError(t, ok.Submit(ctx, form.DefaultData()))

	failing := &SimulatedSubmitter{Delay: -1, FailureRate: 0.5, Rand: func() float64 { return 0.1 }}
	assert.ErrorIs(t, failing.Submit(ctx, form.DefaultData()), ErrSimulatedFailure)

	lucky := &SimulatedSubmitter{Delay: -1, FailureRate: 0.5, Rand: func() float64 { return 0.9 }}
	assert.NoError(t, lucky.Submit(ctx, form.DefaultData()))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	slow := &SimulatedSubmitter{Delay: time.Hour}
	assert.ErrorIs(t, slow.Submit(canceled, form.DefaultData()), context.Canceled)
}

func TestValidationFailuresAreObserved(t *testing.T) {
	obs := &recordingObserver{}
	h := newHarness(t, Options{Observer: obs})
	h.wizard.Advance()
	h.wizard.GoToStep(form.StepReview)
	h.wizard.Validate(form.StepAddress)
	assert.Equal(t, []form.Step{form.StepPersonalInfo, form.StepPersonalInfo, form.StepAddress}, obs.failures)
}
