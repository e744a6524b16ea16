package patient

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinic/records/internal/platform/auth"
)

func TestService_Create(t *testing.T) {
	svc, repo := newTestService()
	metrics := &countingMetrics{}
	svc.SetMetrics(metrics)

	in := janeInput()
	in.Email = "  Jane.Doe@Example.COM "
	p, err := svc.Create(clinicCtx(), in)
	require.NoError(t, err)

	assert.Equal(t, "PAT-2026-0001", p.PatientID)
	assert.Regexp(t, regexp.MustCompile(`^PAT-2026-\d{4,}$`), p.PatientID)
	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.Equal(t, "jane.doe@example.com", p.Email)
	assert.Equal(t, int64(1), p.Revision)
	assert.Empty(t, p.Visits)
	assert.NotNil(t, p.Visits)
	assert.NotNil(t, p.Attachments)
	assert.Equal(t, 1, repo.count())
	assert.Equal(t, 1, metrics.created)
}

func TestService_Create_SequentialIDs(t *testing.T) {
	svc, _ := newTestService()

	first, err := svc.Create(clinicCtx(), janeInput())
	require.NoError(t, err)
	second, err := svc.Create(clinicCtx(), janeInput())
	require.NoError(t, err)

	assert.Equal(t, "PAT-2026-0001", first.PatientID)
	assert.Equal(t, "PAT-2026-0002", second.PatientID)

	next, err := svc.NextPatientID(clinicCtx())
	require.NoError(t, err)
	assert.Equal(t, "PAT-2026-0003", next)
}

func TestService_Create_RequiresIdentity(t *testing.T) {
	svc, repo := newTestService()

	_, err := svc.Create(context.Background(), janeInput())
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
	assert.Equal(t, 0, repo.count())
}

func TestService_Create_Validation(t *testing.T) {
	svc, repo := newTestService()

	tests := []struct {
		name   string
		mutate func(*PatientInput)
		want   string
	}{
		{"future dob", func(in *PatientInput) { in.DateOfBirth = "2030-01-01" }, "Date of birth must be in the past"},
		{"too old", func(in *PatientInput) { in.DateOfBirth = "1850-01-01" }, "Please enter a valid date of birth"},
		{"bad gender", func(in *PatientInput) { in.Gender = "Unknown" }, "Gender must be one of Male, Female, Other"},
		{"short name", func(in *PatientInput) { in.FirstName = " J " }, "First name must be at least 2 characters"},
		{"bad email", func(in *PatientInput) { in.Email = "not-an-email" }, "Invalid email address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := janeInput()
			tt.mutate(&in)
			_, err := svc.Create(clinicCtx(), in)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, ve.Messages, tt.want)
		})
	}
	assert.Equal(t, 0, repo.count())
}

func TestService_Create_AggregatesMessages(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Create(clinicCtx(), PatientInput{})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{
		"First name is required",
		"Last name is required",
		"Date of birth is required",
		"Gender is required",
		"Contact number is required",
	}, ve.Messages)
	assert.Equal(t, "First name is required, Last name is required, Date of birth is required, Gender is required, Contact number is required", err.Error())
}

// staleLatestRepo hides existing identifiers from the generator so Create
// collides with a stored patient.
type staleLatestRepo struct {
	*mockRepo
}

func (staleLatestRepo) LatestPatientID(context.Context, string) (string, error) {
	return "", nil
}

func TestService_Create_DuplicateKey(t *testing.T) {
	svc, repo := newTestService()
	_, err := svc.Create(clinicCtx(), janeInput())
	require.NoError(t, err)

	racing := NewService(staleLatestRepo{repo}, svc.logger)
	racing.now = svc.now
	racing.ids.now = svc.now

	_, err = racing.Create(clinicCtx(), janeInput())
	assert.ErrorIs(t, err, ErrDuplicateKey)
	var dup *DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "PAT-2026-0001", dup.Value)
	assert.Equal(t, 1, repo.count())
}

func TestService_Create_StoreUnavailable(t *testing.T) {
	svc, repo := newTestService()
	storeErr := errors.New("connection refused")
	repo.failWith = storeErr

	_, err := svc.Create(clinicCtx(), janeInput())
	assert.ErrorIs(t, err, storeErr)
	assert.Contains(t, err.Error(), "lookup latest patient id")
}

func TestService_Get(t *testing.T) {
	svc, _ := newTestService()
	created, err := svc.Create(clinicCtx(), janeInput())
	require.NoError(t, err)

	got, err := svc.Get(clinicCtx(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.PatientID, got.PatientID)
	assert.Equal(t, "Jane", got.FirstName)
	assert.Equal(t, "Doe", got.LastName)

	_, err = svc.Get(clinicCtx(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.EqualError(t, err, "Patient not found")
}

func TestService_Get_StoreError(t *testing.T) {
	svc, repo := newTestService()
	repo.failWith = errors.New("boom")

	_, err := svc.Get(clinicCtx(), uuid.New())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "boom")
}

func TestService_Search(t *testing.T) {
	svc, _ := newTestService()
	inputs := []PatientInput{janeInput(), janeInput(), janeInput()}
	inputs[1].FirstName, inputs[1].Email = "Bob", "bob@clinic.test"
	inputs[2].FirstName, inputs[2].LastName = "Alice", "Smith"
	for _, in := range inputs {
		_, err := svc.Create(clinicCtx(), in)
		require.NoError(t, err)
	}

	all, err := svc.Search(clinicCtx(), "  ", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Alice", all[0].FirstName, "newest first")
	assert.Equal(t, "Jane", all[2].FirstName)

	byEmail, err := svc.Search(clinicCtx(), "BOB@CLINIC", 0, 0)
	require.NoError(t, err)
	require.Len(t, byEmail, 1)
	assert.Equal(t, "Bob", byEmail[0].FirstName)

	byID, err := svc.Search(clinicCtx(), "pat-2026-0003", 0, 0)
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, "Alice", byID[0].FirstName)

	none, err := svc.Search(clinicCtx(), "zzz", 0, 0)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestService_Search_Limit(t *testing.T) {
	svc, _ := newTestService()
	svc.SetSearchLimit(2)
	for i := 0; i < 3; i++ {
		_, err := svc.Create(clinicCtx(), janeInput())
		require.NoError(t, err)
	}

	page, err := svc.Search(clinicCtx(), "", 10, -1)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := svc.Search(clinicCtx(), "", 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "PAT-2026-0001", rest[0].PatientID)
}

func TestService_SearchLimit_NeverAboveDefault(t *testing.T) {
	svc, _ := newTestService()
	svc.SetSearchLimit(500)
	for i := 0; i < DefaultSearchLimit+5; i++ {
		_, err := svc.Create(clinicCtx(), janeInput())
		require.NoError(t, err)
	}

	page, err := svc.Search(clinicCtx(), "", 1000, 0)
	require.NoError(t, err)
	assert.Len(t, page, DefaultSearchLimit)
}

func TestService_Update_Partial(t *testing.T) {
	svc, _ := newTestService()
	in := janeInput()
	in.Address = "1 Main St"
	created, err := svc.Create(clinicCtx(), in)
	require.NoError(t, err)

	patch := PatientPatch{LastName: strPtr("X")}
	_, err = svc.Update(clinicCtx(), created.ID, patch)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve, "single-character last name is rejected")

	patch = PatientPatch{LastName: strPtr("Smith")}
	first, err := svc.Update(clinicCtx(), created.ID, patch)
	require.NoError(t, err)
	second, err := svc.Update(clinicCtx(), created.ID, patch)
	require.NoError(t, err)

	assert.Equal(t, "Smith", second.LastName)
	assert.Equal(t, created.FirstName, second.FirstName)
	assert.Equal(t, created.PatientID, second.PatientID)
	assert.Equal(t, "1 Main St", second.Address)
	assert.True(t, created.DateOfBirth.Equal(second.DateOfBirth))
	assert.Equal(t, first.LastName, second.LastName)
	assert.Equal(t, int64(3), second.Revision)
	assert.True(t, second.CreatedAt.Equal(created.CreatedAt))
}

func TestService_Update_InvalidNotPersisted(t *testing.T) {
	svc, _ := newTestService()
	created, err := svc.Create(clinicCtx(), janeInput())
	require.NoError(t, err)

	_, err = svc.Update(clinicCtx(), created.ID, PatientPatch{
		DateOfBirth: strPtr("tomorrow"),
		Gender:      strPtr("Male"),
	})
	require.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "Date of birth is not a valid date")

	got, err := svc.Get(clinicCtx(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, GenderFemale, got.Gender)
	assert.Equal(t, int64(1), got.Revision)
}

func TestService_Update_NotFound(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Update(clinicCtx(), uuid.New(), PatientPatch{FirstName: strPtr("Jo")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_Update_Conflict(t *testing.T) {
	svc, repo := newTestService()
	metrics := &countingMetrics{}
	svc.SetMetrics(metrics)
	created, err := svc.Create(clinicCtx(), janeInput())
	require.NoError(t, err)

	// Another writer saves between our load and our save.
	repo.beforeSave = func(*Patient) {
		other, err := repo.GetByID(context.Background(), created.ID)
		require.NoError(t, err)
		other.History = "written concurrently"
		require.NoError(t, repo.Save(context.Background(), other))
	}

	_, err = svc.Update(clinicCtx(), created.ID, PatientPatch{FirstName: strPtr("Janet")})
	assert.ErrorIs(t, err, ErrConflict)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "conflict", ce.Kind())
	assert.Equal(t, 1, metrics.conflicts)

	got, err := svc.Get(clinicCtx(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane", got.FirstName)
	assert.Equal(t, "written concurrently", got.History)
}

func TestService_Attachments(t *testing.T) {
	svc, _ := newTestService()
	metrics := &countingMetrics{}
	svc.SetMetrics(metrics)
	created, err := svc.Create(clinicCtx(), janeInput())
	require.NoError(t, err)

	_, err = svc.AddAttachment(clinicCtx(), created.ID, " ", "data:text/plain;base64,aGk=")
	assert.True(t, IsValidation(err))

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		_, err = svc.AddAttachment(clinicCtx(), created.ID, name, "data:text/plain;base64,aGk=")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, metrics.attachments["patient"])

	_, err = svc.RemoveAttachment(clinicCtx(), created.ID, -1)
	assert.EqualError(t, err, "Invalid index")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.RemoveAttachment(clinicCtx(), created.ID, 3)
	assert.EqualError(t, err, "Attachment not found")

	p, err := svc.RemoveAttachment(clinicCtx(), created.ID, 1)
	require.NoError(t, err)
	require.Len(t, p.Attachments, 2)
	assert.Equal(t, "a.txt", p.Attachments[0].Filename)
	assert.Equal(t, "c.txt", p.Attachments[1].Filename)

	p, err = svc.RemoveAttachmentByID(clinicCtx(), created.ID, p.Attachments[1].ID)
	require.NoError(t, err)
	require.Len(t, p.Attachments, 1)
	assert.Equal(t, "a.txt", p.Attachments[0].Filename)

	_, err = svc.RemoveAttachmentByID(clinicCtx(), created.ID, uuid.New())
	assert.EqualError(t, err, "Attachment not found")

	_, err = svc.RemoveAttachment(clinicCtx(), uuid.New(), 0)
	assert.EqualError(t, err, "Patient not found")
}
