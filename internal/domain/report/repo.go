package report

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id uuid.UUID) (*Report, error)
	// List returns matching reports, newest first.
	List(ctx context.Context, f Filter, limit, offset int) ([]*Report, int, error)

	// MarkCompleted moves a pending report to completed and stores notes.
	// It returns false if the report was no longer pending at write time.
	MarkCompleted(ctx context.Context, id uuid.UUID, notes ReviewNotes) (bool, error)
	// MarkSent sets sent_to_patient on a completed, unsent report. It
	// returns false if that precondition no longer held at write time.
	MarkSent(ctx context.Context, id uuid.UUID) (bool, error)
}
