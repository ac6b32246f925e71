package form

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Patch is a partial update of one form section. Nil fields are left
// untouched when the patch is applied.
type Patch interface {
	Section() Section
	Apply(d *Data) error
}

// PersonalInfoPatch updates fields of PersonalInfo.
type PersonalInfoPatch struct {
	FirstName   *string `json:"firstName,omitempty"`
	LastName    *string `json:"lastName,omitempty"`
	Email       *string `json:"email,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	DateOfBirth *string `json:"dateOfBirth,omitempty"`
}

func (PersonalInfoPatch) Section() Section { return SectionPersonalInfo }

func (p PersonalInfoPatch) Apply(d *Data) error {
	setString(&d.PersonalInfo.FirstName, p.FirstName)
	setString(&d.PersonalInfo.LastName, p.LastName)
	setString(&d.PersonalInfo.Email, p.Email)
	setString(&d.PersonalInfo.Phone, p.Phone)
	setString(&d.PersonalInfo.DateOfBirth, p.DateOfBirth)
	return nil
}

// AddressPatch updates fields of Address.
type AddressPatch struct {
	Street  *string `json:"street,omitempty"`
	City    *string `json:"city,omitempty"`
	State   *string `json:"state,omitempty"`
	ZipCode *string `json:"zipCode,omitempty"`
	Country *string `json:"country,omitempty"`
}

func (AddressPatch) Section() Section { return SectionAddress }

func (p AddressPatch) Apply(d *Data) error {
	setString(&d.Address.Street, p.Street)
	setString(&d.Address.City, p.City)
	setString(&d.Address.State, p.State)
	setString(&d.Address.ZipCode, p.ZipCode)
	setString(&d.Address.Country, p.Country)
	return nil
}

// PreferencesPatch updates fields of Preferences.
type PreferencesPatch struct {
	Newsletter    *bool   `json:"newsletter,omitempty"`
	Notifications *bool   `json:"notifications,omitempty"`
	Theme         *Theme  `json:"theme,omitempty"`
	Language      *string `json:"language,omitempty"`
}

func (PreferencesPatch) Section() Section { return SectionPreferences }

// Apply rejects unknown themes before touching d.
func (p PreferencesPatch) Apply(d *Data) error {
	if p.Theme != nil && !p.Theme.Valid() {
		return fmt.Errorf("invalid theme %q", *p.Theme)
	}
	if p.Newsletter != nil {
		d.Preferences.Newsletter = *p.Newsletter
	}
	if p.Notifications != nil {
		d.Preferences.Notifications = *p.Notifications
	}
	if p.Theme != nil {
		d.Preferences.Theme = *p.Theme
	}
	setString(&d.Preferences.Language, p.Language)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// String returns a pointer to s, for building patches.
func String(s string) *string { return &s }

// Bool returns a pointer to b, for building patches.
func Bool(b bool) *bool { return &b }

// DecodePatch decodes a JSON object of field values into the patch type of
// the given section. Unknown fields are rejected.
func DecodePatch(section Section, raw []byte) (Patch, error) {
	var (
		p   Patch
		err error
	)
	switch section {
	case SectionPersonalInfo:
		var v PersonalInfoPatch
		err = decodeStrict(raw, &v)
		p = v
	case SectionAddress:
		var v AddressPatch
		err = decodeStrict(raw, &v)
		p = v
	case SectionPreferences:
		var v PreferencesPatch
		err = decodeStrict(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownSection, section)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s patch: %w", section, err)
	}
	return p, nil
}

// decodeStrict decodes exactly one JSON value into v. Unknown fields and
// anything after the value are errors.
func decodeStrict(raw []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

// storedData mirrors Data with pointer sections so a missing section can be
// told apart from an empty one.
type storedData struct {
	PersonalInfo *PersonalInfo `json:"personalInfo"`
	Address      *Address      `json:"address"`
	Preferences  *Preferences  `json:"preferences"`
}

// ErrShapeMismatch is returned by DecodeData for JSON that does not have the
// exact shape of Data.
var ErrShapeMismatch = errors.New("form data shape mismatch")

// DecodeData strictly decodes a persisted Data blob. Unknown fields, missing
// sections and unknown themes are all treated as a shape mismatch.
func DecodeData(raw []byte) (Data, error) {
	var s storedData
	if err := decodeStrict(raw, &s); err != nil {
		return Data{}, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	if s.PersonalInfo == nil || s.Address == nil || s.Preferences == nil {
		return Data{}, fmt.Errorf("%w: missing section", ErrShapeMismatch)
	}
	if !s.Preferences.Theme.Valid() {
		return Data{}, fmt.Errorf("%w: invalid theme %q", ErrShapeMismatch, s.Preferences.Theme)
	}
	return Data{
		PersonalInfo: *s.PersonalInfo,
		Address:      *s.Address,
		Preferences:  *s.Preferences,
	}, nil
}
