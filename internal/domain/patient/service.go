package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/records/internal/platform/auth"
)

// DefaultSearchLimit caps the number of patients returned by Search.
const DefaultSearchLimit = 50

// Metrics receives domain events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	PatientCreated()
	VisitAdded()
	AttachmentAdded(scope string)
	WriteConflict()
}

type noopMetrics struct{}

func (noopMetrics) PatientCreated()        {}
func (noopMetrics) VisitAdded()            {}
func (noopMetrics) AttachmentAdded(string) {}
func (noopMetrics) WriteConflict()         {}

// Service owns the validation and mutation rules of the Patient aggregate.
// Every operation loads the whole aggregate, mutates it in memory and saves
// it back; concurrent writers are detected through the revision check in
// Repository.Save.
type Service struct {
	repo        Repository
	ids         *IDGenerator
	logger      zerolog.Logger
	metrics     Metrics
	now         func() time.Time
	searchLimit int
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:        repo,
		ids:         NewIDGenerator(repo),
		logger:      logger.With().Str("component", "patient").Logger(),
		metrics:     noopMetrics{},
		now:         time.Now,
		searchLimit: DefaultSearchLimit,
	}
}

// SetMetrics attaches a metrics sink. Passing nil restores the no-op sink.
func (s *Service) SetMetrics(m Metrics) {
	if m == nil {
		m = noopMetrics{}
	}
	s.metrics = m
}

// SetSearchLimit lowers the maximum number of search results. Values
// outside 1..DefaultSearchLimit leave the default cap in place.
func (s *Service) SetSearchLimit(n int) {
	if n > 0 && n <= DefaultSearchLimit {
		s.searchLimit = n
	}
}

// NextPatientID previews the identifier the next Create would assign.
func (s *Service) NextPatientID(ctx context.Context) (string, error) {
	return s.ids.Next(ctx)
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Patient, auth.Identity, error) {
	ident, err := auth.RequireIdentity(ctx)
	if err != nil {
		return nil, ident, err
	}
	p, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ident, errPatientNotFound
	}
	if err != nil {
		return nil, ident, fmt.Errorf("load patient: %w", err)
	}
	p.normalize()
	return p, ident, nil
}

func (s *Service) save(ctx context.Context, p *Patient, ident auth.Identity) error {
	err := s.repo.Save(ctx, p)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConflict):
		s.metrics.WriteConflict()
		s.logger.Warn().
			Str("patient_id", p.PatientID).
			Int64("revision", p.Revision).
			Str("actor", ident.UserID).
			Msg("concurrent modification rejected")
		return err
	case errors.Is(err, ErrNotFound):
		return errPatientNotFound
	default:
		return fmt.Errorf("save patient: %w", err)
	}
}

// -- Patient --

func (s *Service) Create(ctx context.Context, in PatientInput) (*Patient, error) {
	ident, err := auth.RequireIdentity(ctx)
	if err != nil {
		return nil, err
	}
	p, err := newPatientFromInput(in, s.now())
	if err != nil {
		return nil, err
	}

	p.PatientID, err = s.ids.Next(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			s.logger.Warn().Str("patient_id", p.PatientID).Msg("patient id collision on create")
			return nil, err
		}
		return nil, fmt.Errorf("create patient: %w", err)
	}

	s.metrics.PatientCreated()
	s.logger.Info().
		Str("patient_id", p.PatientID).
		Str("id", p.ID.String()).
		Str("actor", ident.UserID).
		Msg("patient created")
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, _, err := s.load(ctx, id)
	return p, err
}

// Search returns up to the search limit of patients whose identifying fields
// contain query, newest first. A blank query lists the newest patients.
func (s *Service) Search(ctx context.Context, query string, limit, offset int) ([]*Patient, error) {
	if _, err := auth.RequireIdentity(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.searchLimit {
		limit = s.searchLimit
	}
	if offset < 0 {
		offset = 0
	}
	patients, err := s.repo.Search(ctx, strings.TrimSpace(query), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("search patients: %w", err)
	}
	for _, p := range patients {
		p.normalize()
	}
	if patients == nil {
		patients = []*Patient{}
	}
	return patients, nil
}

// Update overwrites only the fields present in patch. The identifier,
// nested sequences and timestamps are never touched.
func (s *Service) Update(ctx context.Context, id uuid.UUID, patch PatientPatch) (*Patient, error) {
	p, ident, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := applyPatch(p, patch, s.now()); err != nil {
		return nil, err
	}
	if err := s.save(ctx, p, ident); err != nil {
		return nil, err
	}
	return p, nil
}

// -- Patient attachments --

func (s *Service) AddAttachment(ctx context.Context, id uuid.UUID, filename, content string) (*Patient, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" || content == "" {
		return nil, newValidationError("No file provided")
	}
	p, ident, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Attachments = append(p.Attachments, Attachment{
		ID:         uuid.New(),
		Filename:   filename,
		URL:        content,
		UploadedAt: s.now().UTC(),
	})
	if err := s.save(ctx, p, ident); err != nil {
		return nil, err
	}
	s.metrics.AttachmentAdded("patient")
	return p, nil
}

// RemoveAttachment splices the attachment at index out of the sequence. A
// negative or out-of-range index is reported as not found rather than
// silently ignored.
func (s *Service) RemoveAttachment(ctx context.Context, id uuid.UUID, index int) (*Patient, error) {
	if index < 0 {
		return nil, errInvalidIndex
	}
	p, ident, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if index >= len(p.Attachments) {
		return nil, errAttachmentNotFound
	}
	p.Attachments = append(p.Attachments[:index], p.Attachments[index+1:]...)
	if err := s.save(ctx, p, ident); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) RemoveAttachmentByID(ctx context.Context, id, attachmentID uuid.UUID) (*Patient, error) {
	p, ident, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	kept, removed := withoutAttachment(p.Attachments, attachmentID)
	if !removed {
		return nil, errAttachmentNotFound
	}
	p.Attachments = kept
	if err := s.save(ctx, p, ident); err != nil {
		return nil, err
	}
	return p, nil
}

func withoutAttachment(list []Attachment, id uuid.UUID) ([]Attachment, bool) {
	kept := make([]Attachment, 0, len(list))
	for _, a := range list {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	return kept, len(kept) != len(list)
}
