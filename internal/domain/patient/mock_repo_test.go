package patient

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/records/internal/platform/auth"
)

// mockRepo is an in-memory Repository with the same revision check as the
// real stores. Stored aggregates are cloned on the way in and out.
type mockRepo struct {
	mu       sync.Mutex
	patients map[uuid.UUID]*Patient
	clock    time.Time

	// failWith, when set, is returned by every call.
	failWith error
	// beforeSave runs ahead of every Save, outside the lock.
	beforeSave func(p *Patient)
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		patients: make(map[uuid.UUID]*Patient),
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *mockRepo) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *mockRepo) Create(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	for _, existing := range m.patients {
		if existing.PatientID == p.PatientID {
			return &DuplicateKeyError{Key: "patientId", Value: p.PatientID}
		}
	}
	now := m.tick()
	p.ID = uuid.New()
	p.Revision = 1
	p.CreatedAt = now
	p.UpdatedAt = now
	m.patients[p.ID] = clonePatient(p)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePatient(p), nil
}

func (m *mockRepo) LatestPatientID(_ context.Context, prefix string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return "", m.failWith
	}
	latest := ""
	for _, p := range m.patients {
		if !strings.HasPrefix(p.PatientID, prefix) {
			continue
		}
		if len(p.PatientID) > len(latest) || (len(p.PatientID) == len(latest) && p.PatientID > latest) {
			latest = p.PatientID
		}
	}
	return latest, nil
}

func (m *mockRepo) Search(_ context.Context, query string, limit, offset int) ([]*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	q := strings.ToLower(query)
	var matched []*Patient
	for _, p := range m.patients {
		fields := []string{p.FirstName, p.LastName, p.PatientID, p.ContactNumber, p.Email}
		for _, f := range fields {
			if strings.Contains(strings.ToLower(f), q) {
				matched = append(matched, clonePatient(p))
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *mockRepo) Save(_ context.Context, p *Patient) error {
	if hook := m.beforeSave; hook != nil {
		m.beforeSave = nil
		hook(p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	stored, ok := m.patients[p.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Revision != p.Revision {
		return &ConflictError{Revision: p.Revision}
	}
	p.Revision++
	p.UpdatedAt = m.tick()
	m.patients[p.ID] = clonePatient(p)
	return nil
}

func (m *mockRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.patients)
}

type countingMetrics struct {
	mu          sync.Mutex
	created     int
	visits      int
	attachments map[string]int
	conflicts   int
}

func (c *countingMetrics) PatientCreated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created++
}

func (c *countingMetrics) VisitAdded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visits++
}

func (c *countingMetrics) WriteConflict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conflicts++
}

func (c *countingMetrics) AttachmentAdded(scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attachments == nil {
		c.attachments = map[string]int{}
	}
	c.attachments[scope]++
}

var fixedNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	svc := NewService(repo, zerolog.Nop())
	svc.now = func() time.Time { return fixedNow }
	svc.ids.now = svc.now
	return svc, repo
}

func clinicCtx() context.Context {
	return auth.WithIdentity(context.Background(), auth.Identity{
		UserID: "user-1",
		Roles:  []string{auth.RoleClinic},
	})
}

func janeInput() PatientInput {
	return PatientInput{
		FirstName:     "Jane",
		LastName:      "Doe",
		DateOfBirth:   "1990-01-01",
		Gender:        GenderFemale,
		ContactNumber: "555-1234567",
	}
}

func strPtr(s string) *string { return &s }

// clonePatient deep-copies p so the fake store never shares memory with
// the service.
func clonePatient(p *Patient) *Patient {
	c := *p
	if p.EmergencyContact != nil {
		ec := *p.EmergencyContact
		c.EmergencyContact = &ec
	}
	c.Attachments = append([]Attachment(nil), p.Attachments...)
	c.Visits = make([]Visit, len(p.Visits))
	for i, v := range p.Visits {
		v.VisitAttachments = append([]Attachment(nil), v.VisitAttachments...)
		c.Visits[i] = v
	}
	c.normalize()
	return &c
}
