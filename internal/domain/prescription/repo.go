package prescription

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts p. A second prescription for the same report fails with
	// apperr.ErrDuplicatePrescription.
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	GetByReport(ctx context.Context, reportID uuid.UUID) (*Prescription, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Prescription, int, error)
}
