package identity

import (
	"context"

	"github.com/google/uuid"
)

type PatientRepository interface {
	// Create inserts p. p.ID must already be set.
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	ListByRegistrar(ctx context.Context, radiologistID uuid.UUID, limit, offset int) ([]*Patient, int, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

type DoctorRepository interface {
	// Create inserts d. d.ID must already be set.
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListActive(ctx context.Context, limit, offset int) ([]*Doctor, int, error)
	// ExistsActive reports whether an active doctor with id exists.
	ExistsActive(ctx context.Context, id uuid.UUID) (bool, error)
}
