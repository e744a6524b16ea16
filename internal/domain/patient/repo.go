package patient

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the document store for Patient aggregates. Nested sequences
// are never written independently: callers mutate a loaded aggregate and Save
// it whole.
type Repository interface {
	// Create inserts p, assigning ID, Revision and timestamps. A taken
	// PatientID fails with ErrDuplicateKey.
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// LatestPatientID returns the greatest PatientID starting with prefix,
	// ordered numerically by suffix, or "" when there is none.
	LatestPatientID(ctx context.Context, prefix string) (string, error)
	// Search matches query case-insensitively as a substring of firstName,
	// lastName, patientId, contactNumber or email. A blank query matches
	// everything. Results are newest first.
	Search(ctx context.Context, query string, limit, offset int) ([]*Patient, error)
	// Save rewrites the whole document if the stored revision still equals
	// p.Revision, then advances p.Revision and p.UpdatedAt. A stale revision
	// fails with ErrConflict.
	Save(ctx context.Context, p *Patient) error
}
