package patient

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const patientsCollectionName = "patients"

type repoMongo struct {
	collection *mongo.Collection
}

// NewRepoMongo returns a Repository backed by the patients collection of db
// and makes sure its indexes exist.
func NewRepoMongo(ctx context.Context, db *mongo.Database) (Repository, error) {
	repo := &repoMongo{collection: db.Collection(patientsCollectionName)}
	if err := repo.initialize(ctx); err != nil {
		return nil, fmt.Errorf("create patient indexes: %w", err)
	}
	return repo, nil
}

func (r *repoMongo) initialize(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "patientId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("UniquePatientID"),
		},
		{
			Keys:    bson.D{{Key: "firstName", Value: 1}, {Key: "lastName", Value: 1}},
			Options: options.Index().SetName("PatientName"),
		},
		{
			Keys:    bson.D{{Key: "contactNumber", Value: 1}},
			Options: options.Index().SetName("PatientContactNumber"),
		},
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetName("PatientEmail"),
		},
		{
			Keys:    bson.D{{Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("PatientCreatedAt"),
		},
	})
	return err
}

func (r *repoMongo) Create(ctx context.Context, p *Patient) error {
	now := time.Now().UTC()
	p.ID = uuid.New()
	p.Revision = 1
	p.CreatedAt = now
	p.UpdatedAt = now
	p.normalize()

	_, err := r.collection.InsertOne(ctx, toPatientDoc(p))
	if mongo.IsDuplicateKeyError(err) {
		return &DuplicateKeyError{Key: "patientId", Value: p.PatientID}
	}
	return err
}

func (r *repoMongo) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var doc patientDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return doc.toPatient()
}

func (r *repoMongo) LatestPatientID(ctx context.Context, prefix string) (string, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"patientId": primitive.Regex{Pattern: "^" + regexp.QuoteMeta(prefix)}}}},
		{{Key: "$project", Value: bson.M{"patientId": 1, "idLen": bson.M{"$strLenCP": "$patientId"}}}},
		{{Key: "$sort", Value: bson.D{{Key: "idLen", Value: -1}, {Key: "patientId", Value: -1}}}},
		{{Key: "$limit", Value: 1}},
	}
	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return "", err
	}
	defer cursor.Close(ctx)

	if !cursor.Next(ctx) {
		return "", cursor.Err()
	}
	var out struct {
		PatientID string `bson:"patientId"`
	}
	if err := cursor.Decode(&out); err != nil {
		return "", err
	}
	return out.PatientID, nil
}

func (r *repoMongo) Search(ctx context.Context, query string, limit, offset int) ([]*Patient, error) {
	filter := bson.M{}
	if query != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(query), Options: "i"}
		filter = bson.M{"$or": bson.A{
			bson.M{"firstName": re},
			bson.M{"lastName": re},
			bson.M{"patientId": re},
			bson.M{"contactNumber": re},
			bson.M{"email": re},
		}}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []patientDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	patients := make([]*Patient, 0, len(docs))
	for i := range docs {
		p, err := docs[i].toPatient()
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	return patients, nil
}

func (r *repoMongo) Save(ctx context.Context, p *Patient) error {
	prevRev, prevUpdated := p.Revision, p.UpdatedAt
	p.Revision = prevRev + 1
	p.UpdatedAt = time.Now().UTC()
	p.normalize()

	res, err := r.collection.ReplaceOne(ctx,
		bson.M{"_id": p.ID.String(), "revision": prevRev},
		toPatientDoc(p),
	)
	if err == nil && res.MatchedCount > 0 {
		return nil
	}

	p.Revision, p.UpdatedAt = prevRev, prevUpdated
	if err != nil {
		return err
	}
	n, err := r.collection.CountDocuments(ctx, bson.M{"_id": p.ID.String()})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return &ConflictError{Revision: prevRev}
}

// -- BSON documents --

type attachmentDoc struct {
	ID         string    `bson:"_id"`
	Filename   string    `bson:"filename"`
	URL        string    `bson:"url"`
	UploadedAt time.Time `bson:"uploadedAt"`
}

type visitDoc struct {
	ID               string          `bson:"_id"`
	Date             time.Time       `bson:"date"`
	Reason           string          `bson:"reason"`
	Diagnosis        string          `bson:"diagnosis"`
	Procedure        string          `bson:"procedure"`
	Doctor           string          `bson:"doctor"`
	NextSteps        string          `bson:"nextSteps"`
	VisitAttachments []attachmentDoc `bson:"visitAttachments"`
	CreatedAt        time.Time       `bson:"createdAt"`
}

type emergencyContactDoc struct {
	Name  string `bson:"name"`
	Phone string `bson:"phone"`
}

type patientDoc struct {
	ID               string               `bson:"_id"`
	PatientID        string               `bson:"patientId"`
	FirstName        string               `bson:"firstName"`
	LastName         string               `bson:"lastName"`
	DateOfBirth      time.Time            `bson:"dateOfBirth"`
	Gender           string               `bson:"gender"`
	ContactNumber    string               `bson:"contactNumber"`
	Email            string               `bson:"email"`
	Address          string               `bson:"address,omitempty"`
	EmergencyContact *emergencyContactDoc `bson:"emergencyContact,omitempty"`
	History          string               `bson:"history,omitempty"`
	Attachments      []attachmentDoc      `bson:"attachments"`
	Visits           []visitDoc           `bson:"visits"`
	Revision         int64                `bson:"revision"`
	CreatedAt        time.Time            `bson:"createdAt"`
	UpdatedAt        time.Time            `bson:"updatedAt"`
}

func toAttachmentDocs(list []Attachment) []attachmentDoc {
	out := make([]attachmentDoc, len(list))
	for i, a := range list {
		out[i] = attachmentDoc{ID: a.ID.String(), Filename: a.Filename, URL: a.URL, UploadedAt: a.UploadedAt}
	}
	return out
}

func toPatientDoc(p *Patient) *patientDoc {
	d := &patientDoc{
		ID:            p.ID.String(),
		PatientID:     p.PatientID,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		DateOfBirth:   p.DateOfBirth,
		Gender:        p.Gender,
		ContactNumber: p.ContactNumber,
		Email:         p.Email,
		Address:       p.Address,
		History:       p.History,
		Attachments:   toAttachmentDocs(p.Attachments),
		Visits:        make([]visitDoc, len(p.Visits)),
		Revision:      p.Revision,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
	if p.EmergencyContact != nil {
		d.EmergencyContact = &emergencyContactDoc{Name: p.EmergencyContact.Name, Phone: p.EmergencyContact.Phone}
	}
	for i, v := range p.Visits {
		d.Visits[i] = visitDoc{
			ID:               v.ID.String(),
			Date:             v.Date,
			Reason:           v.Reason,
			Diagnosis:        v.Diagnosis,
			Procedure:        v.Procedure,
			Doctor:           v.Doctor,
			NextSteps:        v.NextSteps,
			VisitAttachments: toAttachmentDocs(v.VisitAttachments),
			CreatedAt:        v.CreatedAt,
		}
	}
	return d
}

func fromAttachmentDocs(list []attachmentDoc) ([]Attachment, error) {
	out := make([]Attachment, len(list))
	for i, a := range list {
		id, err := uuid.Parse(a.ID)
		if err != nil {
			return nil, fmt.Errorf("attachment id %q: %w", a.ID, err)
		}
		out[i] = Attachment{ID: id, Filename: a.Filename, URL: a.URL, UploadedAt: a.UploadedAt.UTC()}
	}
	return out, nil
}

func (d *patientDoc) toPatient() (*Patient, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("patient id %q: %w", d.ID, err)
	}
	attachments, err := fromAttachmentDocs(d.Attachments)
	if err != nil {
		return nil, err
	}
	p := &Patient{
		ID:            id,
		PatientID:     d.PatientID,
		FirstName:     d.FirstName,
		LastName:      d.LastName,
		DateOfBirth:   d.DateOfBirth.UTC(),
		Gender:        d.Gender,
		ContactNumber: d.ContactNumber,
		Email:         d.Email,
		Address:       d.Address,
		History:       d.History,
		Attachments:   attachments,
		Visits:        make([]Visit, len(d.Visits)),
		Revision:      d.Revision,
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
	}
	if d.EmergencyContact != nil {
		p.EmergencyContact = &EmergencyContact{Name: d.EmergencyContact.Name, Phone: d.EmergencyContact.Phone}
	}
	for i, v := range d.Visits {
		vid, err := uuid.Parse(v.ID)
		if err != nil {
			return nil, fmt.Errorf("visit id %q: %w", v.ID, err)
		}
		va, err := fromAttachmentDocs(v.VisitAttachments)
		if err != nil {
			return nil, err
		}
		p.Visits[i] = Visit{
			ID:               vid,
			Date:             v.Date.UTC(),
			Reason:           v.Reason,
			Diagnosis:        v.Diagnosis,
			Procedure:        v.Procedure,
			Doctor:           v.Doctor,
			NextSteps:        v.NextSteps,
			VisitAttachments: va,
			CreatedAt:        v.CreatedAt.UTC(),
		}
	}
	p.normalize()
	return p, nil
}
