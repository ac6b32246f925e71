package formwizard

import (
	"errors"
	"strings"
	"testing"

	"github.com/livetemplate/formwizard/internal/form"
)

func TestFieldErrorFormatting(t *testing.T) {
	err := NewFieldError("update", "unknown section").
		WithField("section").
		WithHint("use personalInfo, address or preferences").
		WithCause(form.ErrUnknownSection)

	errMsg := err.Error()
	t.Logf("Error message: %s", errMsg)

	if !strings.HasPrefix(errMsg, "update: section: unknown section") {
		t.Errorf("Error should start with action, field and message")
	}

	if !strings.Contains(errMsg, form.ErrUnknownSection.Error()) {
		t.Errorf("Error should include the cause")
	}

	if !strings.HasSuffix(errMsg, "(use personalInfo, address or preferences)") {
		t.Errorf("Error should end with the hint")
	}

	if !errors.Is(err, form.ErrUnknownSection) {
		t.Errorf("Error should unwrap to its cause")
	}
}

func TestFieldErrorMinimal(t *testing.T) {
	err := NewFieldError("goto", "unknown step")
	if got := err.Error(); got != "goto: unknown step" {
		t.Errorf("Error() = %q, want %q", got, "goto: unknown step")
	}
	if errors.Unwrap(err) != nil {
		t.Errorf("Error without cause should not unwrap")
	}
}
