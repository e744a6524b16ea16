package patient

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

func (s *Service) ListVisits(ctx context.Context, patientID uuid.UUID) ([]Visit, error) {
	p, _, err := s.load(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return p.Visits, nil
}

// AddVisit appends a visit to the patient. Reason is required; a missing date
// defaults to now and the remaining text fields default to "".
func (s *Service) AddVisit(ctx context.Context, patientID uuid.UUID, in VisitInput) (*Visit, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, newValidationError("Visit reason is required")
	}

	now := s.now().UTC()
	date := now
	if d := strings.TrimSpace(in.Date); d != "" {
		t, ok := parseDate(d)
		if !ok {
			return nil, newValidationError("Visit date is not a valid date")
		}
		date = t
	}

	p, ident, err := s.load(ctx, patientID)
	if err != nil {
		return nil, err
	}

	p.Visits = append(p.Visits, Visit{
		ID:               uuid.New(),
		Date:             date,
		Reason:           reason,
		Diagnosis:        strings.TrimSpace(in.Diagnosis),
		Procedure:        strings.TrimSpace(in.Procedure),
		Doctor:           strings.TrimSpace(in.Doctor),
		NextSteps:        strings.TrimSpace(in.NextSteps),
		VisitAttachments: []Attachment{},
		CreatedAt:        now,
	})
	if err := s.save(ctx, p, ident); err != nil {
		return nil, err
	}

	s.metrics.VisitAdded()
	v := p.Visits[len(p.Visits)-1]
	s.logger.Info().
		Str("patient_id", p.PatientID).
		Str("visit_id", v.ID.String()).
		Str("actor", ident.UserID).
		Msg("visit added")
	return &v, nil
}

func (s *Service) GetVisit(ctx context.Context, patientID, visitID uuid.UUID) (*Visit, error) {
	p, _, err := s.load(ctx, patientID)
	if err != nil {
		return nil, err
	}
	i := p.visitIndex(visitID)
	if i < 0 {
		return nil, errVisitNotFound
	}
	v := p.Visits[i]
	return &v, nil
}

// UpdateVisit overwrites only the supplied fields of one visit.
func (s *Service) UpdateVisit(ctx context.Context, patientID, visitID uuid.UUID, patch VisitPatch) (*Visit, error) {
	p, ident, err := s.load(ctx, patientID)
	if err != nil {
		return nil, err
	}
	i := p.visitIndex(visitID)
	if i < 0 {
		return nil, errVisitNotFound
	}
	v := &p.Visits[i]

	if patch.Date != nil {
		t, ok := parseDate(strings.TrimSpace(*patch.Date))
		if !ok {
			return nil, newValidationError("Visit date is not a valid date")
		}
		v.Date = t
	}
	if patch.Reason != nil {
		reason := strings.TrimSpace(*patch.Reason)
		if reason == "" {
			return nil, newValidationError("Visit reason is required")
		}
		v.Reason = reason
	}
	if patch.Diagnosis != nil {
		v.Diagnosis = strings.TrimSpace(*patch.Diagnosis)
	}
	if patch.Procedure != nil {
		v.Procedure = strings.TrimSpace(*patch.Procedure)
	}
	if patch.Doctor != nil {
		v.Doctor = strings.TrimSpace(*patch.Doctor)
	}
	if patch.NextSteps != nil {
		v.NextSteps = strings.TrimSpace(*patch.NextSteps)
	}

	if err := s.save(ctx, p, ident); err != nil {
		return nil, err
	}
	out := p.Visits[i]
	return &out, nil
}

func (s *Service) DeleteVisit(ctx context.Context, patientID, visitID uuid.UUID) error {
	p, ident, err := s.load(ctx, patientID)
	if err != nil {
		return err
	}
	i := p.visitIndex(visitID)
	if i < 0 {
		return errVisitNotFound
	}
	p.Visits = append(p.Visits[:i], p.Visits[i+1:]...)
	if err := s.save(ctx, p, ident); err != nil {
		return err
	}
	s.logger.Info().
		Str("patient_id", p.PatientID).
		Str("visit_id", visitID.String()).
		Str("actor", ident.UserID).
		Msg("visit deleted")
	return nil
}

// -- Visit attachments --

func (s *Service) AddVisitAttachment(ctx context.Context, patientID, visitID uuid.UUID, filename, content string) (*Attachment, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" || content == "" {
		return nil, newValidationError("filename and data are required")
	}
	p, ident, err := s.load(ctx, patientID)
	if err != nil {
		return nil, err
	}
	i := p.visitIndex(visitID)
	if i < 0 {
		return nil, errVisitNotFound
	}

	a := Attachment{
		ID:         uuid.New(),
		Filename:   filename,
		URL:        content,
		UploadedAt: s.now().UTC(),
	}
	p.Visits[i].VisitAttachments = append(p.Visits[i].VisitAttachments, a)
	if err := s.save(ctx, p, ident); err != nil {
		return nil, err
	}
	s.metrics.AttachmentAdded("visit")
	return &a, nil
}

// RemoveVisitAttachment filters the attachment out by id and reports
// NotFound when nothing was removed.
func (s *Service) RemoveVisitAttachment(ctx context.Context, patientID, visitID, attachmentID uuid.UUID) error {
	p, ident, err := s.load(ctx, patientID)
	if err != nil {
		return err
	}
	i := p.visitIndex(visitID)
	if i < 0 {
		return errVisitNotFound
	}
	kept, removed := withoutAttachment(p.Visits[i].VisitAttachments, attachmentID)
	if !removed {
		return errAttachmentNotFound
	}
	p.Visits[i].VisitAttachments = kept
	return s.save(ctx, p, ident)
}
