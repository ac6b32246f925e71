// Package metrics exposes Prometheus metrics for the wizard service.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/livetemplate/formwizard/internal/form"
	"github.com/livetemplate/formwizard/internal/wizard"
)

// Collector records autosave, validation, submission and session metrics.
// A nil *Collector is valid and records nothing.
type Collector struct {
	autosaves          *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	submissions        *prometheus.CounterVec
	activeSessions     prometheus.Gauge
	websocketClients   prometheus.Gauge
}

// NewCollector creates a collector registered with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		autosaves: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "formwizard_autosaves_total",
				Help: "Total number of form data writes by status",
			},
			[]string{"status"},
		),
		validationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "formwizard_validation_failures_total",
				Help: "Total number of blocked step validations",
			},
			[]string{"step"},
		),
		submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "formwizard_submissions_total",
				Help: "Total number of form submissions by outcome",
			},
			[]string{"outcome"},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "formwizard_active_sessions",
				Help: "Current number of wizard sessions held in memory",
			},
		),
		websocketClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "formwizard_websocket_clients",
				Help: "Current number of connected WebSocket clients",
			},
		),
	}
}

// ObserveAutosave counts a form data write.
func (c *Collector) ObserveAutosave(err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.autosaves.WithLabelValues(status).Inc()
}

// ObserveValidationFailure counts a step that failed validation.
func (c *Collector) ObserveValidationFailure(step form.Step) {
	if c == nil {
		return
	}
	c.validationFailures.WithLabelValues(string(step)).Inc()
}

// ObserveSubmission counts a finished submission.
func (c *Collector) ObserveSubmission(err error) {
	if c == nil {
		return
	}
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, wizard.ErrSimulatedFailure):
		outcome = "simulated_failure"
	default:
		outcome = "failure"
	}
	c.submissions.WithLabelValues(outcome).Inc()
}

// SessionOpened increments the active session gauge.
func (c *Collector) SessionOpened() {
	if c != nil {
		c.activeSessions.Inc()
	}
}

// SessionClosed decrements the active session gauge.
func (c *Collector) SessionClosed() {
	if c != nil {
		c.activeSessions.Dec()
	}
}

// ClientConnected increments the WebSocket client gauge.
func (c *Collector) ClientConnected() {
	if c != nil {
		c.websocketClients.Inc()
	}
}

// ClientDisconnected decrements the WebSocket client gauge.
func (c *Collector) ClientDisconnected() {
	if c != nil {
		c.websocketClients.Dec()
	}
}
