package notification

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies a notification for the client. Only the workflow emits
// new_report, report and new_patient_registered; the rest are accepted for
// records created by other producers.
type Type string

const (
	TypeReport               Type = "report"
	TypePrescription         Type = "prescription"
	TypeAppointment          Type = "appointment"
	TypeSystem               Type = "system"
	TypeNewReport            Type = "new_report"
	TypeReportReady          Type = "report_ready"
	TypeNewPatientRegistered Type = "new_patient_registered"
	TypePrescriptionReady    Type = "prescription_ready"
)

var validTypes = map[Type]bool{
	TypeReport: true, TypePrescription: true, TypeAppointment: true, TypeSystem: true,
	TypeNewReport: true, TypeReportReady: true, TypeNewPatientRegistered: true,
	TypePrescriptionReady: true,
}

// Valid reports whether t is a known notification type.
func (t Type) Valid() bool {
	return validTypes[t]
}

// EventType is the websocket event name used when a notification is pushed.
const EventType = "notification.created"

// Notification is an in-app message for one user. IsRead is the only field
// that changes after creation.
type Notification struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	UserID    uuid.UUID  `db:"user_id" json:"user_id"`
	Type      Type       `db:"type" json:"type"`
	Message   string     `db:"message" json:"message"`
	ReportID  *uuid.UUID `db:"report_id" json:"report_id,omitempty"`
	IsRead    bool       `db:"is_read" json:"is_read"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// CreateInput is what a producer supplies for a new notification.
type CreateInput struct {
	UserID   uuid.UUID
	Type     Type
	Message  string
	ReportID *uuid.UUID
}
