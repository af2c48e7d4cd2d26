package prescription

import (
	"time"

	"github.com/google/uuid"

	"github.com/medscan/triage/internal/domain/report"
)

type Medication struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Duration  string `json:"duration"`
}

// Prescription is the doctor's treatment plan for one report. There is at
// most one per report and it is never edited.
type Prescription struct {
	ID               uuid.UUID    `db:"id" json:"id"`
	ReportID         uuid.UUID    `db:"report_id" json:"report_id"`
	DoctorID         uuid.UUID    `db:"doctor_id" json:"doctor_id"`
	PatientID        uuid.UUID    `db:"patient_id" json:"patient_id"`
	Diagnosis        string       `db:"diagnosis" json:"diagnosis"`
	PrescriptionText *string      `db:"prescription_text" json:"prescription_text,omitempty"`
	Precautions      *string      `db:"precautions" json:"precautions,omitempty"`
	Instructions     *string      `db:"instructions" json:"instructions,omitempty"`
	Medications      []Medication `db:"medications" json:"medications"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at" json:"updated_at"`
}

// AttachInput is a doctor's request to prescribe against a report. A nil
// PatientID means the report's patient.
type AttachInput struct {
	ReportID         uuid.UUID    `json:"-"`
	DoctorID         uuid.UUID    `json:"-"`
	PatientID        *uuid.UUID   `json:"patient_id,omitempty"`
	Diagnosis        string       `json:"diagnosis"`
	PrescriptionText *string      `json:"prescription_text,omitempty"`
	Precautions      *string      `json:"precautions,omitempty"`
	Instructions     *string      `json:"instructions,omitempty"`
	Medications      []Medication `json:"medications"`
}

// AttachResult pairs the new prescription with the report state after the
// linked transitions ran.
type AttachResult struct {
	Prescription *Prescription  `json:"prescription"`
	Report       *report.Report `json:"report"`
}

type Filter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
}
