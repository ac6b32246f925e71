package form

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepNavigationOrder(t *testing.T) {
	next, ok := StepPersonalInfo.Next()
	assert.True(t, ok)
	assert.Equal(t, StepAddress, next)

	_, ok = StepReview.Next()
	assert.False(t, ok, "review is the last step")

	prev, ok := StepReview.Prev()
	assert.True(t, ok)
	assert.Equal(t, StepPreferences, prev)

	_, ok = StepPersonalInfo.Prev()
	assert.False(t, ok, "personal-info is the first step")

	assert.Equal(t, -1, Step("payment").Index())
}

func TestParseStep(t *testing.T) {
	step, err := ParseStep("preferences")
	require.NoError(t, err)
	assert.Equal(t, StepPreferences, step)

	_, err = ParseStep("payment")
	assert.True(t, errors.Is(err, ErrUnknownStep))
}

func TestParseSection(t *testing.T) {
	sec, err := ParseSection("address")
	require.NoError(t, err)
	assert.Equal(t, SectionAddress, sec)

	_, err = ParseSection("billing")
	assert.True(t, errors.Is(err, ErrUnknownSection))
}

func TestErrorsSetAndClone(t *testing.T) {
	errs := Errors{}
	assert.False(t, errs.Has())

	errs.Set(SectionAddress, "city", "address.city.required")
	assert.True(t, errs.Has())
	assert.Equal(t, "address.city.required", errs.Field(SectionAddress, "city"))
	assert.Equal(t, "", errs.Field(SectionPersonalInfo, "email"))

	cp := errs.Clone()
	cp.Set(SectionAddress, "street", "address.street.required")
	assert.Len(t, errs[SectionAddress], 1, "clone must not alias the original")
}

func TestPatchApplyLeavesUnsetFields(t *testing.T) {
	d := DefaultData()
	d.PersonalInfo.LastName = "Doe"

	p := PersonalInfoPatch{FirstName: String("John")}
	require.NoError(t, p.Apply(&d))

	assert.Equal(t, "John", d.PersonalInfo.FirstName)
	assert.Equal(t, "Doe", d.PersonalInfo.LastName)
	assert.Equal(t, DefaultData().Address, d.Address)
}

func TestPreferencesPatchRejectsUnknownTheme(t *testing.T) {
	d := DefaultData()
	purple := Theme("purple")
	err := PreferencesPatch{Theme: &purple, Newsletter: Bool(true)}.Apply(&d)
	require.Error(t, err)
	assert.False(t, d.Preferences.Newsletter, "rejected patch must not partially apply")
}

func TestDecodePatch(t *testing.T) {
	p, err := DecodePatch(SectionAddress, []byte(`{"city":"New York","zipCode":"10001"}`))
	require.NoError(t, err)
	assert.Equal(t, SectionAddress, p.Section())

	d := DefaultData()
	require.NoError(t, p.Apply(&d))
	assert.Equal(t, "New York", d.Address.City)
	assert.Equal(t, "10001", d.Address.ZipCode)

	_, err = DecodePatch(SectionAddress, []byte(`{"planet":"Mars"}`))
	assert.Error(t, err)

	_, err = DecodePatch(SectionAddress, []byte(`{"city":"Pune"} {"city":"Goa"}`))
	assert.Error(t, err, "only one object is accepted")

	_, err = DecodePatch(SectionAddress, []byte("{\"city\":\"Pune\"}\n"))
	assert.NoError(t, err, "trailing whitespace is fine")

	_, err = DecodePatch(Section("billing"), []byte(`{}`))
	assert.True(t, errors.Is(err, ErrUnknownSection))
}

func TestDecodeData(t *testing.T) {
	want := DefaultData()
	want.PersonalInfo.FirstName = "Jane"
	want.Preferences.Theme = ThemeDark
	raw, err := json.Marshal(want)
	require.NoError(t, err)

	got, err := DecodeData(raw)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{{`},
		{"missing section", `{"personalInfo":{},"address":{}}`},
		{"unknown field", `{"personalInfo":{},"address":{},"preferences":{"theme":"auto"},"extra":1}`},
		{"bad theme", `{"personalInfo":{},"address":{},"preferences":{"theme":"neon"}}`},
		{"wrong type", `{"personalInfo":{"firstName":3},"address":{},"preferences":{"theme":"auto"}}`},
		{"trailing garbage", `{"personalInfo":{},"address":{},"preferences":{"theme":"auto"}} this is not json`},
		{"two objects", `{"personalInfo":{},"address":{},"preferences":{"theme":"auto"}}{"x":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeData([]byte(tt.raw))
			assert.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)
		})
	}
}
