package report

import (
	"time"

	"github.com/google/uuid"

	"github.com/medscan/triage/internal/domain/findings"
	"github.com/medscan/triage/internal/platform/auth"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

type Modality string

const (
	ModalityXRay       Modality = "xray"
	ModalityCT         Modality = "ct"
	ModalityMRI        Modality = "mri"
	ModalityUltrasound Modality = "ultrasound"
)

func (m Modality) Valid() bool {
	switch m {
	case ModalityXRay, ModalityCT, ModalityMRI, ModalityUltrasound:
		return true
	}
	return false
}

// Report is one imaging study and its review lifecycle. Anomalies are set at
// creation and never change; Status moves pending -> completed once;
// SentToPatient can only become true after completion.
type Report struct {
	ID              uuid.UUID          `db:"id" json:"id"`
	PatientID       uuid.UUID          `db:"patient_id" json:"patient_id"`
	DoctorID        uuid.UUID          `db:"doctor_id" json:"doctor_id"`
	RadiologistID   *uuid.UUID         `db:"radiologist_id" json:"radiologist_id,omitempty"`
	ImageRef        string             `db:"image_ref" json:"image_ref"`
	Modality        Modality           `db:"modality" json:"modality"`
	Anomalies       []findings.Anomaly `db:"anomalies" json:"anomalies"`
	Narrative       *string            `db:"narrative" json:"narrative,omitempty"`
	Findings        *string            `db:"findings" json:"findings,omitempty"`
	Recommendations *string            `db:"recommendations" json:"recommendations,omitempty"`
	Status          Status             `db:"status" json:"status"`
	SentToPatient   bool               `db:"sent_to_patient" json:"sent_to_patient"`
	CreatedAt       time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time          `db:"updated_at" json:"updated_at"`
}

// State describes the report's position in the workflow for error messages.
func (r *Report) State() string {
	if r.SentToPatient {
		return "completed+sent"
	}
	return string(r.Status)
}

// CanComplete reports whether the pending -> completed transition applies.
func (r *Report) CanComplete() bool {
	return r.Status == StatusPending
}

// CanDeliver reports whether the report may be sent to the patient.
func (r *Report) CanDeliver() bool {
	return r.Status == StatusCompleted && !r.SentToPatient
}

// HasNarrative reports whether a narrative was stored with the report.
func (r *Report) HasNarrative() bool {
	return r.Narrative != nil && *r.Narrative != ""
}

// VisibleTo reports whether id may read the report. Patients only see
// reports that have been delivered to them.
func (r *Report) VisibleTo(id auth.Identity) bool {
	switch id.Role {
	case auth.RoleDoctor:
		return r.DoctorID == id.UserID
	case auth.RoleRadiologist:
		return r.RadiologistID != nil && *r.RadiologistID == id.UserID
	case auth.RolePatient:
		return r.PatientID == id.UserID && r.SentToPatient
	}
	return false
}

// CreateInput carries the output of the analysis pipeline.
type CreateInput struct {
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	RadiologistID *uuid.UUID
	ImageRef      string
	Modality      Modality
	Anomalies     []findings.Anomaly
	Narrative     *string
}

// ReviewNotes is the doctor's own write-up, accepted only with completion.
type ReviewNotes struct {
	Findings        *string `json:"findings,omitempty"`
	Recommendations *string `json:"recommendations,omitempty"`
}

// Filter selects reports for listing. Zero-valued fields are ignored.
type Filter struct {
	DoctorID      *uuid.UUID
	PatientID     *uuid.UUID
	RadiologistID *uuid.UUID
	Status        *Status
	SentOnly      bool
}
