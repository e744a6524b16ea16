//go:build integration

package patient

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmongo "github.com/testcontainers/testcontainers-go/modules/mongodb"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/clinic/records/internal/platform/db"
	"github.com/clinic/records/internal/platform/mongodb"
	"github.com/clinic/records/migrations"
)

func newPostgresRepo(t *testing.T) Repository {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("records"),
		tcpostgres.WithUsername("records"),
		tcpostgres.WithPassword("records"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := db.NewPool(ctx, connStr, 4, 1)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	applied, err := db.NewMigrator(pool, migrations.FS).Up(ctx, db.DefaultSchema)
	require.NoError(t, err)
	require.Positive(t, applied)

	return NewRepoPG(pool)
}

func newMongoRepo(t *testing.T) Repository {
	t.Helper()
	ctx := context.Background()

	container, err := tcmongo.Run(ctx, "mongo:7")
	require.NoError(t, err, "start mongo container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := mongodb.Connect(ctx, uri, "records_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	repo, err := NewRepoMongo(ctx, client.Database())
	require.NoError(t, err)
	return repo
}

func TestRepository_Postgres(t *testing.T) {
	runRepositoryContract(t, newPostgresRepo(t))
}

func TestRepository_Mongo(t *testing.T) {
	runRepositoryContract(t, newMongoRepo(t))
}

func newStoredPatient(patientID, first, email string) *Patient {
	return &Patient{
		PatientID:     patientID,
		FirstName:     first,
		LastName:      "Doe",
		DateOfBirth:   time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
		Gender:        GenderFemale,
		ContactNumber: "555-1234567",
		Email:         email,
	}
}

// runRepositoryContract exercises the behavior every store must share. The
// subtests build on each other and run in order.
func runRepositoryContract(t *testing.T, repo Repository) {
	ctx := context.Background()
	var jane *Patient

	t.Run("create and get", func(t *testing.T) {
		jane = newStoredPatient("PAT-2026-0001", "Jane", "jane@example.com")
		jane.EmergencyContact = &EmergencyContact{Name: "John", Phone: "555-7654321"}
		require.NoError(t, repo.Create(ctx, jane))
		assert.NotEqual(t, uuid.Nil, jane.ID)
		assert.Equal(t, int64(1), jane.Revision)
		assert.False(t, jane.CreatedAt.IsZero())

		got, err := repo.GetByID(ctx, jane.ID)
		require.NoError(t, err)
		assert.Equal(t, jane.PatientID, got.PatientID)
		assert.Equal(t, "John", got.EmergencyContact.Name)
		assert.True(t, got.DateOfBirth.Equal(jane.DateOfBirth))
		assert.NotNil(t, got.Visits)
		assert.NotNil(t, got.Attachments)

		_, err = repo.GetByID(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate patient id", func(t *testing.T) {
		err := repo.Create(ctx, newStoredPatient("PAT-2026-0001", "Other", ""))
		assert.ErrorIs(t, err, ErrDuplicateKey)
	})

	t.Run("save nested sequences", func(t *testing.T) {
		p, err := repo.GetByID(ctx, jane.ID)
		require.NoError(t, err)

		now := time.Now().UTC().Truncate(time.Millisecond)
		p.Attachments = append(p.Attachments, Attachment{
			ID: uuid.New(), Filename: "a.txt", URL: "data:text/plain;base64,aGk=", UploadedAt: now,
		})
		p.Visits = append(p.Visits, Visit{
			ID:        uuid.New(),
			Date:      now,
			Reason:    "Checkup",
			CreatedAt: now,
			VisitAttachments: []Attachment{{
				ID: uuid.New(), Filename: "scan.png", URL: "data:image/png;base64,AAEC", UploadedAt: now,
			}},
		})
		require.NoError(t, repo.Save(ctx, p))
		assert.Equal(t, int64(2), p.Revision)

		got, err := repo.GetByID(ctx, jane.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Revision)
		require.Len(t, got.Visits, 1)
		assert.Equal(t, p.Visits[0].ID, got.Visits[0].ID)
		require.Len(t, got.Visits[0].VisitAttachments, 1)
		assert.Equal(t, "scan.png", got.Visits[0].VisitAttachments[0].Filename)
		require.Len(t, got.Attachments, 1)
		assert.True(t, got.Attachments[0].UploadedAt.Equal(now))
	})

	t.Run("stale revision conflicts", func(t *testing.T) {
		a, err := repo.GetByID(ctx, jane.ID)
		require.NoError(t, err)
		b, err := repo.GetByID(ctx, jane.ID)
		require.NoError(t, err)

		a.History = "first writer"
		require.NoError(t, repo.Save(ctx, a))

		b.History = "second writer"
		err = repo.Save(ctx, b)
		assert.ErrorIs(t, err, ErrConflict)
		assert.Equal(t, int64(2), b.Revision, "failed save leaves the revision untouched")

		got, err := repo.GetByID(ctx, jane.ID)
		require.NoError(t, err)
		assert.Equal(t, "first writer", got.History)

		missing := newStoredPatient("PAT-2026-9998", "Ghost", "")
		missing.ID = uuid.New()
		assert.ErrorIs(t, repo.Save(ctx, missing), ErrNotFound)
	})

	t.Run("latest patient id", func(t *testing.T) {
		for _, id := range []string{"PAT-2025-0500", "PAT-2026-9999", "PAT-2026-10000", "PAT-2026-0002"} {
			require.NoError(t, repo.Create(ctx, newStoredPatient(id, "Seed", "")))
			time.Sleep(5 * time.Millisecond)
		}

		latest, err := repo.LatestPatientID(ctx, YearPrefix(2026))
		require.NoError(t, err)
		assert.Equal(t, "PAT-2026-10000", latest)

		latest, err = repo.LatestPatientID(ctx, YearPrefix(2025))
		require.NoError(t, err)
		assert.Equal(t, "PAT-2025-0500", latest)

		latest, err = repo.LatestPatientID(ctx, YearPrefix(2024))
		require.NoError(t, err)
		assert.Equal(t, "", latest)
	})

	t.Run("search", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, newStoredPatient("PAT-2026-0100", "Bob", "bob_100%@clinic.test")))

		all, err := repo.Search(ctx, "", 50, 0)
		require.NoError(t, err)
		require.Len(t, all, 6)
		assert.Equal(t, "Bob", all[0].FirstName, "newest first")

		byName, err := repo.Search(ctx, "jAnE", 50, 0)
		require.NoError(t, err)
		require.Len(t, byName, 1)
		assert.Equal(t, jane.ID, byName[0].ID)

		literal, err := repo.Search(ctx, "100%", 50, 0)
		require.NoError(t, err)
		require.Len(t, literal, 1)
		assert.Equal(t, "Bob", literal[0].FirstName)

		wildcard, err := repo.Search(ctx, "_", 50, 0)
		require.NoError(t, err)
		assert.Len(t, wildcard, 1, "underscore matches literally")

		byID, err := repo.Search(ctx, "2026-10000", 50, 0)
		require.NoError(t, err)
		require.Len(t, byID, 1)

		page, err := repo.Search(ctx, "seed", 2, 1)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "PAT-2026-10000", page[0].PatientID)
		assert.Equal(t, "PAT-2026-9999", page[1].PatientID)
	})
}
