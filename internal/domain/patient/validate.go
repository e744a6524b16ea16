package patient

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/asaskevich/govalidator"
)

const (
	minNameLen    = 2
	maxNameLen    = 50
	minContactLen = 10
	maxAgeYears   = 150
)

var phonePattern = regexp.MustCompile(`^[\d\s\-+()]+$`)

var dateLayouts = []string{"2006-01-02", time.RFC3339Nano, time.RFC3339}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func validateName(label, v string) []string {
	n := utf8.RuneCountInString(v)
	switch {
	case n == 0:
		return []string{label + " is required"}
	case n < minNameLen:
		return []string{label + " must be at least 2 characters"}
	case n > maxNameLen:
		return []string{label + " must be less than 50 characters"}
	}
	return nil
}

func validateDOB(dob, now time.Time) []string {
	switch {
	case dob.IsZero():
		return []string{"Date of birth is required"}
	case !dob.Before(now):
		return []string{"Date of birth must be in the past"}
	case ageAt(dob, now) > maxAgeYears:
		return []string{"Please enter a valid date of birth"}
	}
	return nil
}

func validateContactNumber(v string) []string {
	if v == "" {
		return []string{"Contact number is required"}
	}
	var msgs []string
	if !phonePattern.MatchString(v) {
		msgs = append(msgs, "Contact number can only contain numbers, spaces, and +-()")
	}
	if utf8.RuneCountInString(v) < minContactLen {
		msgs = append(msgs, "Contact number must be at least 10 characters")
	}
	return msgs
}

// validateProfile checks every profile rule on p and returns the messages of
// the rules that failed, in field order.
func validateProfile(p *Patient, now time.Time, skipDOB bool) []string {
	var msgs []string
	msgs = append(msgs, validateName("First name", p.FirstName)...)
	msgs = append(msgs, validateName("Last name", p.LastName)...)
	if !skipDOB {
		msgs = append(msgs, validateDOB(p.DateOfBirth, now)...)
	}
	switch {
	case p.Gender == "":
		msgs = append(msgs, "Gender is required")
	case !validGenders[p.Gender]:
		msgs = append(msgs, "Gender must be one of Male, Female, Other")
	}
	msgs = append(msgs, validateContactNumber(p.ContactNumber)...)
	if p.Email != "" && !govalidator.IsEmail(p.Email) {
		msgs = append(msgs, "Invalid email address")
	}
	if ec := p.EmergencyContact; ec != nil && ec.Phone != "" && !phonePattern.MatchString(ec.Phone) {
		msgs = append(msgs, "Phone can only contain numbers, spaces, and +-()")
	}
	return msgs
}

func normalizeEmergencyContact(ec *EmergencyContact) *EmergencyContact {
	if ec == nil {
		return nil
	}
	out := &EmergencyContact{
		Name:  strings.TrimSpace(ec.Name),
		Phone: strings.TrimSpace(ec.Phone),
	}
	if out.Name == "" && out.Phone == "" {
		return nil
	}
	return out
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// newPatientFromInput trims and normalizes the input and validates the result.
func newPatientFromInput(in PatientInput, now time.Time) (*Patient, error) {
	p := &Patient{
		FirstName:        strings.TrimSpace(in.FirstName),
		LastName:         strings.TrimSpace(in.LastName),
		Gender:           strings.TrimSpace(in.Gender),
		ContactNumber:    strings.TrimSpace(in.ContactNumber),
		Email:            normalizeEmail(in.Email),
		Address:          strings.TrimSpace(in.Address),
		EmergencyContact: normalizeEmergencyContact(in.EmergencyContact),
		History:          strings.TrimSpace(in.History),
	}

	var msgs []string
	skipDOB := false
	if dob := strings.TrimSpace(in.DateOfBirth); dob != "" {
		t, ok := parseDate(dob)
		if !ok {
			msgs = append(msgs, "Date of birth is not a valid date")
			skipDOB = true
		}
		p.DateOfBirth = t
	}

	msgs = append(validateProfile(p, now, skipDOB), msgs...)
	if len(msgs) > 0 {
		return nil, newValidationError(msgs...)
	}
	p.normalize()
	return p, nil
}

// applyPatch overwrites only the supplied fields of p and re-validates the
// merged profile.
func applyPatch(p *Patient, patch PatientPatch, now time.Time) error {
	var msgs []string
	skipDOB := false

	if patch.FirstName != nil {
		p.FirstName = strings.TrimSpace(*patch.FirstName)
	}
	if patch.LastName != nil {
		p.LastName = strings.TrimSpace(*patch.LastName)
	}
	if patch.DateOfBirth != nil {
		t, ok := parseDate(strings.TrimSpace(*patch.DateOfBirth))
		if !ok {
			msgs = append(msgs, "Date of birth is not a valid date")
			skipDOB = true
		} else {
			p.DateOfBirth = t
		}
	}
	if patch.Gender != nil {
		p.Gender = strings.TrimSpace(*patch.Gender)
	}
	if patch.ContactNumber != nil {
		p.ContactNumber = strings.TrimSpace(*patch.ContactNumber)
	}
	if patch.Email != nil {
		p.Email = normalizeEmail(*patch.Email)
	}
	if patch.Address != nil {
		p.Address = strings.TrimSpace(*patch.Address)
	}
	if patch.EmergencyContact != nil {
		p.EmergencyContact = normalizeEmergencyContact(patch.EmergencyContact)
	}
	if patch.History != nil {
		p.History = strings.TrimSpace(*patch.History)
	}

	msgs = append(validateProfile(p, now, skipDOB), msgs...)
	if len(msgs) > 0 {
		return newValidationError(msgs...)
	}
	return nil
}
