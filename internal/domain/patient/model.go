package patient

import (
	"time"

	"github.com/google/uuid"
)

// Gender values accepted on a patient profile.
const (
	GenderMale   = "Male"
	GenderFemale = "Female"
	GenderOther  = "Other"
)

var validGenders = map[string]bool{
	GenderMale:   true,
	GenderFemale: true,
	GenderOther:  true,
}

// EmergencyContact is the optional next-of-kin block on a patient profile.
type EmergencyContact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Attachment is a stored file. URL holds the encoded content (a data URL),
// not a pointer to external storage.
type Attachment struct {
	ID         uuid.UUID `json:"id"`
	Filename   string    `json:"filename"`
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Visit is owned by exactly one Patient and is persisted only as part of it.
type Visit struct {
	ID               uuid.UUID    `json:"id"`
	Date             time.Time    `json:"date"`
	Reason           string       `json:"reason"`
	Diagnosis        string       `json:"diagnosis"`
	Procedure        string       `json:"procedure"`
	Doctor           string       `json:"doctor"`
	NextSteps        string       `json:"nextSteps"`
	VisitAttachments []Attachment `json:"visitAttachments"`
	CreatedAt        time.Time    `json:"createdAt"`
}

// Patient is the aggregate root. Visits and attachments are embedded and
// every change to them is written back as a whole document.
type Patient struct {
	ID               uuid.UUID         `json:"id"`
	PatientID        string            `json:"patientId"`
	FirstName        string            `json:"firstName"`
	LastName         string            `json:"lastName"`
	DateOfBirth      time.Time         `json:"dateOfBirth"`
	Gender           string            `json:"gender"`
	ContactNumber    string            `json:"contactNumber"`
	Email            string            `json:"email,omitempty"`
	Address          string            `json:"address,omitempty"`
	EmergencyContact *EmergencyContact `json:"emergencyContact,omitempty"`
	History          string            `json:"history,omitempty"`
	Attachments      []Attachment      `json:"attachments"`
	Visits           []Visit           `json:"visits"`
	Revision         int64             `json:"revision"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// Age returns the patient's age in whole years at now.
func (p *Patient) Age(now time.Time) int {
	return ageAt(p.DateOfBirth, now)
}

func ageAt(dob, now time.Time) int {
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}

func (p *Patient) visitIndex(id uuid.UUID) int {
	for i := range p.Visits {
		if p.Visits[i].ID == id {
			return i
		}
	}
	return -1
}

// normalize replaces nil sequences with empty ones so the aggregate always
// serializes arrays, never null.
func (p *Patient) normalize() {
	if p.Attachments == nil {
		p.Attachments = []Attachment{}
	}
	if p.Visits == nil {
		p.Visits = []Visit{}
	}
	for i := range p.Visits {
		if p.Visits[i].VisitAttachments == nil {
			p.Visits[i].VisitAttachments = []Attachment{}
		}
	}
}

// PatientInput carries the profile fields supplied on creation.
type PatientInput struct {
	FirstName        string            `json:"firstName"`
	LastName         string            `json:"lastName"`
	DateOfBirth      string            `json:"dateOfBirth"`
	Gender           string            `json:"gender"`
	ContactNumber    string            `json:"contactNumber"`
	Email            string            `json:"email"`
	Address          string            `json:"address"`
	EmergencyContact *EmergencyContact `json:"emergencyContact"`
	History          string            `json:"history"`
}

// PatientPatch carries a partial profile update. A nil field is left unchanged.
type PatientPatch struct {
	FirstName        *string           `json:"firstName"`
	LastName         *string           `json:"lastName"`
	DateOfBirth      *string           `json:"dateOfBirth"`
	Gender           *string           `json:"gender"`
	ContactNumber    *string           `json:"contactNumber"`
	Email            *string           `json:"email"`
	Address          *string           `json:"address"`
	EmergencyContact *EmergencyContact `json:"emergencyContact"`
	History          *string           `json:"history"`
}

// VisitInput carries the fields supplied when a visit is added. Date is
// optional and defaults to the current time.
type VisitInput struct {
	Date      string `json:"date"`
	Reason    string `json:"reason"`
	Diagnosis string `json:"diagnosis"`
	Procedure string `json:"procedure"`
	Doctor    string `json:"doctor"`
	NextSteps string `json:"nextSteps"`
}

// VisitPatch carries a partial visit update.
type VisitPatch struct {
	Date      *string `json:"date"`
	Reason    *string `json:"reason"`
	Diagnosis *string `json:"diagnosis"`
	Procedure *string `json:"procedure"`
	Doctor    *string `json:"doctor"`
	NextSteps *string `json:"nextSteps"`
}
