// Package identity is the directory of patients and doctors that the
// report workflow addresses.
package identity

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medscan/triage/internal/domain/notification"
	"github.com/medscan/triage/internal/platform/apperr"
)

// Notifier records a notification for a user.
type Notifier interface {
	Create(ctx context.Context, in notification.CreateInput) (*notification.Notification, error)
}

const maxAge = 150

type Service struct {
	patients PatientRepository
	doctors  DoctorRepository
	notifier Notifier
	logger   zerolog.Logger
}

func NewService(patients PatientRepository, doctors DoctorRepository, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{patients: patients, doctors: doctors, notifier: notifier, logger: logger}
}

// -- Patient --

// RegisterPatient stores p on behalf of radiologistID and notifies the
// radiologist. A nil p.ID is replaced with a fresh id.
func (s *Service) RegisterPatient(ctx context.Context, radiologistID uuid.UUID, p *Patient) error {
	if radiologistID == uuid.Nil {
		return apperr.Required("registered_by")
	}
	if err := normalizePatient(p); err != nil {
		return err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.RegisteredBy = radiologistID

	if err := s.patients.Create(ctx, p); err != nil {
		return err
	}

	if s.notifier != nil {
		_, err := s.notifier.Create(ctx, notification.CreateInput{
			UserID:  radiologistID,
			Type:    notification.TypeNewPatientRegistered,
			Message: fmt.Sprintf("Patient %s has been registered", p.FullName),
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("patient_id", p.ID.String()).Msg("registration notification failed")
		}
	}
	return nil
}

func normalizePatient(p *Patient) error {
	p.FullName = strings.TrimSpace(p.FullName)
	p.ContactNumber = strings.TrimSpace(p.ContactNumber)
	p.Email = strings.TrimSpace(p.Email)

	if p.FullName == "" {
		return apperr.Required("full_name")
	}
	if p.Age < 0 || p.Age > maxAge {
		return apperr.Invalid("age", "must be between 0 and %d", maxAge)
	}
	if !p.Gender.Valid() {
		return apperr.Invalid("gender", "must be male, female or other")
	}
	if p.ContactNumber == "" {
		return apperr.Required("contact_number")
	}
	if p.Email == "" {
		return apperr.Required("email")
	}
	addr, err := mail.ParseAddress(p.Email)
	if err != nil || addr.Address != p.Email {
		return apperr.Invalid("email", "is not a valid address")
	}
	if p.BloodGroup != nil {
		bg := strings.ToUpper(strings.TrimSpace(*p.BloodGroup))
		if !bloodGroups[bg] {
			return apperr.Invalid("blood_group", "unknown blood group %q", *p.BloodGroup)
		}
		p.BloodGroup = &bg
	}
	p.MedicalHistory = trimOptional(p.MedicalHistory)
	p.Allergies = trimOptional(p.Allergies)
	return nil
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

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) ListPatientsByRadiologist(ctx context.Context, radiologistID uuid.UUID, limit, offset int) ([]*Patient, int, error) {
	return s.patients.ListByRegistrar(ctx, radiologistID, limit, offset)
}

func (s *Service) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.patients.Exists(ctx, id)
}

// -- Doctor --

// CreateDoctor stores a doctor profile. d.ID is the doctor's own user id.
func (s *Service) CreateDoctor(ctx context.Context, d *Doctor) error {
	if d.ID == uuid.Nil {
		return apperr.Required("id")
	}
	d.DisplayName = strings.TrimSpace(d.DisplayName)
	d.Specialization = strings.TrimSpace(d.Specialization)
	d.LicenseNumber = strings.TrimSpace(d.LicenseNumber)
	d.HospitalName = strings.TrimSpace(d.HospitalName)
	if d.DisplayName == "" {
		return apperr.Required("display_name")
	}
	if d.Specialization == "" {
		return apperr.Required("specialization")
	}
	if d.LicenseNumber == "" {
		return apperr.Required("license_number")
	}
	if d.Experience < 0 {
		return apperr.Invalid("experience", "must not be negative")
	}
	d.IsActive = true
	return s.doctors.Create(ctx, d)
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) ListActiveDoctors(ctx context.Context, limit, offset int) ([]*Doctor, int, error) {
	return s.doctors.ListActive(ctx, limit, offset)
}

// DoctorExists reports whether id is an active doctor who can be assigned
// reports.
func (s *Service) DoctorExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.doctors.ExistsActive(ctx, id)
}
