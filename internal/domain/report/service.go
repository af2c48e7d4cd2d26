// Package report owns the report lifecycle: creation from analysis output,
// completion by the assigned doctor, and delivery to the patient.
package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medscan/triage/internal/domain/findings"
	"github.com/medscan/triage/internal/domain/notification"
	"github.com/medscan/triage/internal/platform/apperr"
	"github.com/medscan/triage/internal/platform/auth"
)

const (
	msgNewReport   = "A new report has been created"
	msgReportReady = "Your report is ready"
)

// Notifier records a notification for a user.
type Notifier interface {
	Create(ctx context.Context, in notification.CreateInput) (*notification.Notification, error)
}

// Directory answers whether the ids on a new report refer to known people.
type Directory interface {
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
	DoctorExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Transactor runs fn inside a store transaction. *db.Transactor satisfies
// it.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	repo     Repository
	notifier Notifier
	dir      Directory
	tx       Transactor
	logger   zerolog.Logger
}

// NewService creates the workflow service. dir and tx may be nil: without a
// directory only the shape of ids is checked, and without a transactor each
// step runs directly against the repository.
func NewService(repo Repository, notifier Notifier, dir Directory, tx Transactor, logger zerolog.Logger) *Service {
	return &Service{repo: repo, notifier: notifier, dir: dir, tx: tx, logger: logger}
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.InTx(ctx, fn)
}

// -- Create --

// Create stores a pending report and notifies the assigned doctor. The
// report and its notification are written in one transaction.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Report, error) {
	if err := s.validateCreate(ctx, in); err != nil {
		return nil, err
	}

	anomalies := in.Anomalies
	if anomalies == nil {
		anomalies = []findings.Anomaly{}
	}
	rep := &Report{
		PatientID:     in.PatientID,
		DoctorID:      in.DoctorID,
		RadiologistID: in.RadiologistID,
		ImageRef:      strings.TrimSpace(in.ImageRef),
		Modality:      in.Modality,
		Anomalies:     anomalies,
		Narrative:     in.Narrative,
		Status:        StatusPending,
	}

	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, rep); err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		return s.notify(ctx, rep.DoctorID, notification.TypeNewReport, msgNewReport, rep.ID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("report_id", rep.ID.String()).
		Str("doctor_id", rep.DoctorID.String()).
		Int("anomalies", len(rep.Anomalies)).
		Bool("narrative", rep.HasNarrative()).
		Msg("report created")
	return rep, nil
}

func (s *Service) validateCreate(ctx context.Context, in CreateInput) error {
	if in.PatientID == uuid.Nil {
		return apperr.Required("patient_id")
	}
	if in.DoctorID == uuid.Nil {
		return apperr.Required("doctor_id")
	}
	if in.RadiologistID != nil && *in.RadiologistID == uuid.Nil {
		return apperr.Invalid("radiologist_id", "must not be the nil uuid")
	}
	if strings.TrimSpace(in.ImageRef) == "" {
		return apperr.Required("image_ref")
	}
	if !in.Modality.Valid() {
		return apperr.Invalid("modality", "must be one of xray, ct, mri, ultrasound")
	}
	for i, a := range in.Anomalies {
		if !a.Type.Valid() {
			return apperr.Invalid("anomalies", "entry %d has an unknown type", i)
		}
		if a.Confidence < 0 || a.Confidence > 1 {
			return apperr.Invalid("anomalies", "entry %d confidence %v out of range", i, a.Confidence)
		}
	}

	if s.dir == nil {
		return nil
	}
	ok, err := s.dir.PatientExists(ctx, in.PatientID)
	if err != nil {
		return fmt.Errorf("check patient: %w", err)
	}
	if !ok {
		return apperr.Invalid("patient_id", "does not refer to a registered patient")
	}
	ok, err = s.dir.DoctorExists(ctx, in.DoctorID)
	if err != nil {
		return fmt.Errorf("check doctor: %w", err)
	}
	if !ok {
		return apperr.Invalid("doctor_id", "does not refer to an active doctor")
	}
	return nil
}

// -- Transitions --

// Complete moves the report from pending to completed. A second call fails
// with ErrInvalidTransition. On a transition error the stored report is
// returned alongside the error.
func (s *Service) Complete(ctx context.Context, reportID, doctorID uuid.UUID, notes ReviewNotes) (*Report, error) {
	var out *Report
	err := s.inTx(ctx, func(ctx context.Context) error {
		rep, err := s.loadForDoctor(ctx, reportID, doctorID)
		if err != nil {
			return err
		}
		out, err = s.complete(ctx, rep, notes)
		return err
	})
	return out, err
}

// DeliverToPatient marks a completed report as sent and notifies the
// patient exactly once.
func (s *Service) DeliverToPatient(ctx context.Context, reportID, doctorID uuid.UUID) (*Report, error) {
	var out *Report
	err := s.inTx(ctx, func(ctx context.Context) error {
		rep, err := s.loadForDoctor(ctx, reportID, doctorID)
		if err != nil {
			return err
		}
		out, err = s.deliver(ctx, rep)
		return err
	})
	return out, err
}

// SendToPatient completes the report and delivers it. Both steps commit
// together; each keeps its own precondition.
func (s *Service) SendToPatient(ctx context.Context, reportID, doctorID uuid.UUID, notes ReviewNotes) (*Report, error) {
	var out *Report
	err := s.inTx(ctx, func(ctx context.Context) error {
		rep, err := s.loadForDoctor(ctx, reportID, doctorID)
		if err != nil {
			return err
		}
		if out, err = s.complete(ctx, rep, notes); err != nil {
			return err
		}
		out, err = s.deliver(ctx, out)
		return err
	})
	return out, err
}

// Finalize brings a report to completed and delivered, skipping whichever
// step has already happened. Prescription attachment uses it.
func (s *Service) Finalize(ctx context.Context, reportID, doctorID uuid.UUID) (*Report, error) {
	var out *Report
	err := s.inTx(ctx, func(ctx context.Context) error {
		rep, err := s.loadForDoctor(ctx, reportID, doctorID)
		if err != nil {
			return err
		}
		if rep.CanComplete() {
			if rep, err = s.complete(ctx, rep, ReviewNotes{}); err != nil {
				out = rep
				return err
			}
		}
		if rep.CanDeliver() {
			if rep, err = s.deliver(ctx, rep); err != nil {
				out = rep
				return err
			}
		}
		out = rep
		return nil
	})
	return out, err
}

func (s *Service) loadForDoctor(ctx context.Context, reportID, doctorID uuid.UUID) (*Report, error) {
	rep, err := s.repo.GetByID(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if rep.DoctorID != doctorID {
		return nil, fmt.Errorf("%w: report is assigned to another doctor", apperr.ErrForbidden)
	}
	return rep, nil
}

func (s *Service) complete(ctx context.Context, rep *Report, notes ReviewNotes) (*Report, error) {
	if !rep.CanComplete() {
		return rep, apperr.Transition("complete", rep.State())
	}
	notes = normalizeNotes(notes)
	ok, err := s.repo.MarkCompleted(ctx, rep.ID, notes)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.conflict(ctx, rep.ID, "complete")
	}
	s.logger.Info().Str("report_id", rep.ID.String()).Msg("report completed")
	return s.repo.GetByID(ctx, rep.ID)
}

func (s *Service) deliver(ctx context.Context, rep *Report) (*Report, error) {
	if !rep.CanDeliver() {
		return rep, apperr.Transition("deliver", rep.State())
	}
	ok, err := s.repo.MarkSent(ctx, rep.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.conflict(ctx, rep.ID, "deliver")
	}
	if err := s.notify(ctx, rep.PatientID, notification.TypeReport, msgReportReady, rep.ID); err != nil {
		return nil, err
	}
	s.logger.Info().Str("report_id", rep.ID.String()).Msg("report delivered to patient")
	return s.repo.GetByID(ctx, rep.ID)
}

// conflict re-reads the report after a lost conditional write so the caller
// sees the state that won.
func (s *Service) conflict(ctx context.Context, id uuid.UUID, action string) (*Report, error) {
	cur, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return cur, apperr.Transition(action, cur.State())
}

func (s *Service) notify(ctx context.Context, userID uuid.UUID, typ notification.Type, msg string, reportID uuid.UUID) error {
	if s.notifier == nil {
		return nil
	}
	if _, err := s.notifier.Create(ctx, notification.CreateInput{
		UserID:   userID,
		Type:     typ,
		Message:  msg,
		ReportID: &reportID,
	}); err != nil {
		return fmt.Errorf("notify %s: %w", typ, err)
	}
	return nil
}

func normalizeNotes(n ReviewNotes) ReviewNotes {
	trim := func(s *string) *string {
		if s == nil {
			return nil
		}
		v := strings.TrimSpace(*s)
		if v == "" {
			return nil
		}
		return &v
	}
	return ReviewNotes{Findings: trim(n.Findings), Recommendations: trim(n.Recommendations)}
}

// -- Reads --

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Report, error) {
	return s.repo.GetByID(ctx, id)
}

// GetFor returns the report if caller may see it.
func (s *Service) GetFor(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Report, error) {
	rep, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rep.VisibleTo(caller) {
		return nil, apperr.NotFound("report")
	}
	return rep, nil
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID, status *Status, limit, offset int) ([]*Report, int, error) {
	return s.repo.List(ctx, Filter{DoctorID: &doctorID, Status: status}, limit, offset)
}

// ListByPatient returns only reports that have been delivered to the
// patient.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Report, int, error) {
	return s.repo.List(ctx, Filter{PatientID: &patientID, SentOnly: true}, limit, offset)
}

func (s *Service) ListByRadiologist(ctx context.Context, radiologistID uuid.UUID, status *Status, limit, offset int) ([]*Report, int, error) {
	return s.repo.List(ctx, Filter{RadiologistID: &radiologistID, Status: status}, limit, offset)
}

// ListFor picks the listing that matches the caller's role.
func (s *Service) ListFor(ctx context.Context, caller auth.Identity, status *Status, limit, offset int) ([]*Report, int, error) {
	switch caller.Role {
	case auth.RoleDoctor:
		return s.ListByDoctor(ctx, caller.UserID, status, limit, offset)
	case auth.RoleRadiologist:
		return s.ListByRadiologist(ctx, caller.UserID, status, limit, offset)
	case auth.RolePatient:
		return s.ListByPatient(ctx, caller.UserID, limit, offset)
	}
	return nil, 0, apperr.ErrForbidden
}
