// Package prescription links a doctor's treatment plan to a report and
// drives the report to its delivered state.
package prescription

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medscan/triage/internal/domain/notification"
	"github.com/medscan/triage/internal/domain/report"
	"github.com/medscan/triage/internal/platform/apperr"
	"github.com/medscan/triage/internal/platform/auth"
)

const (
	maxMedications       = 50
	msgPrescriptionReady = "A prescription has been added to your report"
)

// Reports is the part of the report workflow that attachment depends on.
// *report.Service satisfies it.
type Reports interface {
	Get(ctx context.Context, id uuid.UUID) (*report.Report, error)
	GetFor(ctx context.Context, caller auth.Identity, id uuid.UUID) (*report.Report, error)
	Finalize(ctx context.Context, reportID, doctorID uuid.UUID) (*report.Report, error)
}

type Notifier interface {
	Create(ctx context.Context, in notification.CreateInput) (*notification.Notification, error)
}

type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	repo     Repository
	reports  Reports
	notifier Notifier
	tx       Transactor
	logger   zerolog.Logger
}

func NewService(repo Repository, reports Reports, notifier Notifier, tx Transactor, logger zerolog.Logger) *Service {
	return &Service{repo: repo, reports: reports, notifier: notifier, tx: tx, logger: logger}
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.InTx(ctx, fn)
}

// Attach creates the prescription for a report, then completes the report
// if it is still pending and delivers it if it has not been sent. All of it
// runs in one transaction, so a failed transition leaves no prescription.
func (s *Service) Attach(ctx context.Context, in AttachInput) (*AttachResult, error) {
	p, err := buildPrescription(in)
	if err != nil {
		return nil, err
	}

	var result *AttachResult
	err = s.inTx(ctx, func(ctx context.Context) error {
		rep, err := s.reports.Get(ctx, in.ReportID)
		if err != nil {
			return err
		}
		if rep.DoctorID != in.DoctorID {
			return fmt.Errorf("%w: report is assigned to another doctor", apperr.ErrForbidden)
		}
		if in.PatientID != nil && *in.PatientID != rep.PatientID {
			return apperr.Invalid("patient_id", "does not match the report's patient")
		}
		p.PatientID = rep.PatientID

		if _, err := s.repo.GetByReport(ctx, in.ReportID); err == nil {
			return fmt.Errorf("report %s: %w", in.ReportID, apperr.ErrDuplicatePrescription)
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}

		if err := s.repo.Create(ctx, p); err != nil {
			return err
		}

		alreadySent := rep.SentToPatient
		final, err := s.reports.Finalize(ctx, rep.ID, in.DoctorID)
		if err != nil {
			return err
		}
		if alreadySent {
			if err := s.notifyPatient(ctx, p); err != nil {
				return err
			}
		}
		result = &AttachResult{Prescription: p, Report: final}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("prescription_id", p.ID.String()).
		Str("report_id", p.ReportID.String()).
		Int("medications", len(p.Medications)).
		Msg("prescription attached")
	return result, nil
}

func (s *Service) notifyPatient(ctx context.Context, p *Prescription) error {
	if s.notifier == nil {
		return nil
	}
	reportID := p.ReportID
	_, err := s.notifier.Create(ctx, notification.CreateInput{
		UserID:   p.PatientID,
		Type:     notification.TypePrescriptionReady,
		Message:  msgPrescriptionReady,
		ReportID: &reportID,
	})
	if err != nil {
		return fmt.Errorf("notify prescription: %w", err)
	}
	return nil
}

func buildPrescription(in AttachInput) (*Prescription, error) {
	if in.ReportID == uuid.Nil {
		return nil, apperr.Required("report_id")
	}
	if in.DoctorID == uuid.Nil {
		return nil, apperr.Required("doctor_id")
	}
	diagnosis := strings.TrimSpace(in.Diagnosis)
	if diagnosis == "" {
		return nil, apperr.Required("diagnosis")
	}
	if len(in.Medications) > maxMedications {
		return nil, apperr.Invalid("medications", "at most %d entries", maxMedications)
	}

	meds := make([]Medication, 0, len(in.Medications))
	for i, m := range in.Medications {
		m.Name = strings.TrimSpace(m.Name)
		m.Dosage = strings.TrimSpace(m.Dosage)
		m.Frequency = strings.TrimSpace(m.Frequency)
		m.Duration = strings.TrimSpace(m.Duration)
		if m.Name == "" {
			return nil, apperr.Invalid("medications", "entry %d has no name", i)
		}
		meds = append(meds, m)
	}

	return &Prescription{
		ReportID:         in.ReportID,
		DoctorID:         in.DoctorID,
		Diagnosis:        diagnosis,
		PrescriptionText: trimOptional(in.PrescriptionText),
		Precautions:      trimOptional(in.Precautions),
		Instructions:     trimOptional(in.Instructions),
		Medications:      meds,
	}, nil
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// -- Reads --

// GetByReport returns the prescription of a report the caller can see.
func (s *Service) GetByReport(ctx context.Context, caller auth.Identity, reportID uuid.UUID) (*Prescription, error) {
	if _, err := s.reports.GetFor(ctx, caller, reportID); err != nil {
		return nil, err
	}
	return s.repo.GetByReport(ctx, reportID)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	return s.repo.List(ctx, Filter{PatientID: &patientID}, limit, offset)
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	return s.repo.List(ctx, Filter{DoctorID: &doctorID}, limit, offset)
}
