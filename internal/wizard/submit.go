package wizard

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/livetemplate/formwizard/internal/form"
)

// ErrSubmissionInProgress is returned by Submit while another submission
// for the same wizard is running.
var ErrSubmissionInProgress = errors.New("submission already in progress")

// ErrSimulatedFailure is the error SimulatedSubmitter fails with.
var ErrSimulatedFailure = errors.New("simulated submission failure")

// SubmitError wraps the error returned by a Submitter.
type SubmitError struct {
	Err error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submission failed: %v", e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// Submitter delivers completed form data.
type Submitter interface {
	Submit(ctx context.Context, data form.Data) error
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, data form.Data) error

func (f SubmitterFunc) Submit(ctx context.Context, data form.Data) error {
	return f(ctx, data)
}

// DefaultSubmitDelay is the round trip SimulatedSubmitter waits by default.
const DefaultSubmitDelay = 2 * time.Second

// SimulatedSubmitter stands in for a real endpoint. It waits Delay and then
// succeeds, or fails with probability FailureRate.
type SimulatedSubmitter struct {
	Delay       time.Duration // DefaultSubmitDelay when zero; negative means no wait
	FailureRate float64       // 0..1

	// Rand returns a value in [0,1). Defaults to math/rand/v2.
	Rand func() float64
}

func (s *SimulatedSubmitter) Submit(ctx context.Context, data form.Data) error {
	delay := s.Delay
	if delay == 0 {
		delay = DefaultSubmitDelay
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if s.FailureRate > 0 {
		roll := rand.Float64
		if s.Rand != nil {
			roll = s.Rand
		}
		if roll() < s.FailureRate {
			return ErrSimulatedFailure
		}
	}
	return nil
}

// Notification kinds.
const (
	NotifySuccess = "success"
	NotifyFailure = "failure"
)

// Notification is a user-facing outcome of a submission. MessageKey is an
// i18n catalog key.
type Notification struct {
	Kind       string `json:"kind"`
	MessageKey string `json:"messageKey"`
	Err        error  `json:"-"`
}

// Notifier surfaces notifications to the user.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// Submit sends the current data to the Submitter. The lock is released while
// the submitter runs, so edits and navigation stay possible; a second Submit
// in that window fails with ErrSubmissionInProgress. On success the saved
// data is cleared and the form reset. On failure the step and data are kept
// and a *SubmitError is returned. IsSubmitting is cleared either way.
func (w *Wizard) Submit(ctx context.Context) error {
	w.mu.Lock()
	if w.state.IsSubmitting {
		w.mu.Unlock()
		return ErrSubmissionInProgress
	}
	w.state.IsSubmitting = true
	data := w.state.FormData
	snapshot := w.state.clone()
	w.mu.Unlock()
	w.changed(snapshot)

	defer func() {
		w.mu.Lock()
		w.state.IsSubmitting = false
		snapshot := w.state.clone()
		w.mu.Unlock()
		w.changed(snapshot)
	}()

	err := w.submitter.Submit(ctx, data)
	if w.observer != nil {
		w.observer.ObserveSubmission(err)
	}

	if err != nil {
		w.logger.Error("submission failed", zap.Error(err))
		w.notify(Notification{Kind: NotifyFailure, MessageKey: "review.error", Err: err})
		return &SubmitError{Err: err}
	}

	w.logger.Info("form submitted")
	w.persist.Clear(ctx)
	w.notify(Notification{Kind: NotifySuccess, MessageKey: "review.success"})
	w.ResetForm(ctx)
	return nil
}

func (w *Wizard) notify(n Notification) {
	if w.notifier != nil {
		w.notifier.Notify(n)
	}
}
