package intake

import (
	"github.com/google/uuid"

	"github.com/medscan/triage/internal/domain/findings"
	"github.com/medscan/triage/internal/domain/report"
	"github.com/medscan/triage/internal/platform/blobstore"
)

// SubmitInput is one radiologist upload: the study image plus the routing
// needed to open a report for it.
type SubmitInput struct {
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	RadiologistID uuid.UUID
	Modality      report.Modality
	FileName      string
	ContentType   string
	Image         []byte
	Progress      blobstore.ProgressFunc
}

// Analysis is the outcome of running the classifier and narrative steps on
// an image. NarrativeDegraded is set when the narrative could not be
// generated and the caller chose to continue without it.
type Analysis struct {
	Anomalies         []findings.Anomaly `json:"anomalies"`
	Normal            bool               `json:"normal"`
	Narrative         *string            `json:"narrative,omitempty"`
	NarrativeDegraded bool               `json:"narrative_degraded"`
}

type SubmitResult struct {
	Report            *report.Report    `json:"report"`
	Image             *blobstore.Object `json:"image"`
	NarrativeDegraded bool              `json:"narrative_degraded"`
}
