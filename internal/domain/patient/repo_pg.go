package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// repoPG stores each aggregate as one JSONB document in patient_record. The
// searchable profile fields are duplicated into plain columns so they can be
// indexed; the document is the source of truth for everything else.
type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const recordCols = `id, document, revision, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	now := time.Now().UTC()
	p.ID = uuid.New()
	p.Revision = 1
	p.CreatedAt = now
	p.UpdatedAt = now
	p.normalize()

	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode patient document: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO patient_record (
			id, patient_id, first_name, last_name, contact_number, email,
			document, revision, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.PatientID, p.FirstName, p.LastName, p.ContactNumber, p.Email,
		doc, p.Revision, p.CreatedAt, p.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return &DuplicateKeyError{Key: "patientId", Value: p.PatientID}
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordCols+` FROM patient_record WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *repoPG) LatestPatientID(ctx context.Context, prefix string) (string, error) {
	var latest string
	err := r.pool.QueryRow(ctx, `
		SELECT patient_id FROM patient_record
		WHERE patient_id LIKE $1
		ORDER BY length(patient_id) DESC, patient_id DESC
		LIMIT 1`, escapeLike(prefix)+"%").Scan(&latest)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return latest, err
}

func (r *repoPG) Search(ctx context.Context, query string, limit, offset int) ([]*Patient, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if query == "" {
		rows, err = r.pool.Query(ctx, `
			SELECT `+recordCols+` FROM patient_record
			ORDER BY created_at DESC
			LIMIT $1 OFFSET $2`, limit, offset)
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT `+recordCols+` FROM patient_record
			WHERE first_name ILIKE $1
				OR last_name ILIKE $1
				OR patient_id ILIKE $1
				OR contact_number ILIKE $1
				OR email ILIKE $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3`, "%"+escapeLike(query)+"%", limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

func (r *repoPG) Save(ctx context.Context, p *Patient) error {
	prevRev, prevUpdated := p.Revision, p.UpdatedAt
	p.Revision = prevRev + 1
	p.UpdatedAt = time.Now().UTC()
	p.normalize()

	restore := func() {
		p.Revision, p.UpdatedAt = prevRev, prevUpdated
	}

	doc, err := json.Marshal(p)
	if err != nil {
		restore()
		return fmt.Errorf("encode patient document: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE patient_record SET
			first_name=$3, last_name=$4, contact_number=$5, email=$6,
			document=$7, revision=$8, updated_at=$9
		WHERE id = $1 AND revision = $2`,
		p.ID, prevRev, p.FirstName, p.LastName, p.ContactNumber, p.Email,
		doc, p.Revision, p.UpdatedAt,
	)
	if err != nil {
		restore()
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	restore()
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM patient_record WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return &ConflictError{Revision: prevRev}
}

func scanRecord(row pgx.Row) (*Patient, error) {
	var (
		id       uuid.UUID
		doc      []byte
		revision int64
		created  time.Time
		updated  time.Time
	)
	if err := row.Scan(&id, &doc, &revision, &created, &updated); err != nil {
		return nil, err
	}
	var p Patient
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("decode patient document %s: %w", id, err)
	}
	p.ID = id
	p.Revision = revision
	p.CreatedAt = created.UTC()
	p.UpdatedAt = updated.UTC()
	p.normalize()
	return &p, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match literally inside a LIKE/ILIKE pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
