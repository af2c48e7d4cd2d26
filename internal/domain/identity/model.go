package identity

import (
	"time"

	"github.com/google/uuid"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

var bloodGroups = map[string]bool{
	"A+": true, "A-": true, "B+": true, "B-": true,
	"AB+": true, "AB-": true, "O+": true, "O-": true,
}

// Patient is registered by a radiologist. ID doubles as the patient's login
// subject, so reports and notifications addressed to the patient are
// visible to them.
type Patient struct {
	ID             uuid.UUID `db:"id" json:"id"`
	RegisteredBy   uuid.UUID `db:"registered_by" json:"registered_by"`
	FullName       string    `db:"full_name" json:"full_name"`
	Age            int       `db:"age" json:"age"`
	Gender         Gender    `db:"gender" json:"gender"`
	ContactNumber  string    `db:"contact_number" json:"contact_number"`
	Email          string    `db:"email" json:"email"`
	MedicalHistory *string   `db:"medical_history" json:"medical_history,omitempty"`
	BloodGroup     *string   `db:"blood_group" json:"blood_group,omitempty"`
	Allergies      *string   `db:"allergies" json:"allergies,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Doctor is a reviewing physician. ID is the doctor's login subject.
type Doctor struct {
	ID             uuid.UUID `db:"id" json:"id"`
	DisplayName    string    `db:"display_name" json:"display_name"`
	Specialization string    `db:"specialization" json:"specialization"`
	LicenseNumber  string    `db:"license_number" json:"license_number"`
	HospitalName   string    `db:"hospital_name" json:"hospital_name"`
	Experience     int       `db:"experience" json:"experience"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
