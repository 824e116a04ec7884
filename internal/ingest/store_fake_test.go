package ingest

import (
	"context"
	"time"

	"github.com/fundscout/fundscout/internal/db"
	"github.com/fundscout/fundscout/internal/models"
	"github.com/google/uuid"
)

// fakeStore is an in-memory Store for exercising the matcher, lifecycle,
// link validator and featured selector without a database.
type fakeStore struct {
	funders map[string]uuid.UUID
	opps    []models.OpportunityRecord

	featuredCandidates []models.FeaturedCandidate

	inserts     int
	updates     int
	patches     int
	clearedRuns int
	featuredIDs []uuid.UUID
	quarantined map[uuid.UUID]string
	touched     []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		funders:     make(map[string]uuid.UUID),
		quarantined: make(map[uuid.UUID]string),
	}
}

func (f *fakeStore) UpsertFunder(_ context.Context, fs *models.FunderSource) (uuid.UUID, error) {
	if id, ok := f.funders[fs.Slug]; ok {
		return id, nil
	}
	id := uuid.New()
	f.funders[fs.Slug] = id
	return id, nil
}

func (f *fakeStore) TouchFunderChecked(context.Context, uuid.UUID, time.Time) error { return nil }

func (f *fakeStore) OpportunitiesByFunder(_ context.Context, funderID uuid.UUID) ([]models.OpportunityRecord, error) {
	var out []models.OpportunityRecord
	for _, o := range f.opps {
		if o.FunderID == funderID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) OpportunityBySourceURL(_ context.Context, funderID uuid.UUID, sourceURL string) (*models.OpportunityRecord, error) {
	for i := range f.opps {
		if f.opps[i].FunderID == funderID && f.opps[i].SourceURL == sourceURL {
			o := f.opps[i]
			return &o, nil
		}
	}
	return nil, db.ErrNotFound
}

func (f *fakeStore) InsertOpportunity(_ context.Context, o *models.OpportunityRecord) error {
	for _, existing := range f.opps {
		if existing.Slug == o.Slug {
			return db.ErrDuplicate
		}
		if o.SourceURL != "" && existing.FunderID == o.FunderID && existing.SourceURL == o.SourceURL {
			return db.ErrDuplicate
		}
	}
	o.ID = uuid.New()
	o.CreatedAt = time.Now().UTC()
	o.UpdatedAt = o.CreatedAt
	f.opps = append(f.opps, *o)
	f.inserts++
	return nil
}

func (f *fakeStore) UpdateOpportunity(_ context.Context, o *models.OpportunityRecord) error {
	for i := range f.opps {
		if f.opps[i].ID == o.ID {
			updated := *o
			updated.UpdatedAt = time.Now().UTC()
			f.opps[i] = updated
			f.updates++
			return nil
		}
	}
	return db.ErrNotFound
}

func (f *fakeStore) PatchFederalFields(_ context.Context, id uuid.UUID, status string, deadlineAt *time.Time, deadlineDisplay, contentHash string) error {
	for i := range f.opps {
		if f.opps[i].ID == id {
			f.opps[i].Status = status
			f.opps[i].DeadlineAt = deadlineAt
			f.opps[i].DeadlineDisplay = deadlineDisplay
			f.opps[i].ContentHash = contentHash
			f.patches++
			return nil
		}
	}
	return db.ErrNotFound
}

func (f *fakeStore) SetFocusAreas(context.Context, uuid.UUID, []string) error { return nil }

func (f *fakeStore) CloseExpired(_ context.Context, asOf time.Time) (int64, error) {
	var n int64
	for i := range f.opps {
		if expired(&f.opps[i], asOf) {
			f.opps[i].Status = models.StatusClosed
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) MarkClosingSoon(_ context.Context, asOf, _ time.Time) (int64, error) {
	var n int64
	for i := range f.opps {
		if closingSoon(&f.opps[i], asOf) {
			f.opps[i].Status = models.StatusClosingSoon
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ActiveVerifiedWithURL(context.Context) ([]models.OpportunityRecord, error) {
	var out []models.OpportunityRecord
	for _, o := range f.opps {
		if o.Active() && o.Verified && o.ApplicationURL != "" {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) Quarantine(_ context.Context, id uuid.UUID, note string) error {
	for i := range f.opps {
		if f.opps[i].ID == id {
			f.opps[i].Status = models.StatusClosed
			f.opps[i].Verified = false
			f.opps[i].ReviewNote = note
			f.quarantined[id] = note
			return nil
		}
	}
	return db.ErrNotFound
}

func (f *fakeStore) TouchOpportunity(_ context.Context, id uuid.UUID) error {
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakeStore) FeaturedCandidates(context.Context) ([]models.FeaturedCandidate, error) {
	return f.featuredCandidates, nil
}

func (f *fakeStore) ClearFeatured(context.Context) error {
	f.clearedRuns++
	f.featuredIDs = nil
	return nil
}

func (f *fakeStore) SetFeatured(_ context.Context, ids []uuid.UUID) error {
	f.featuredIDs = ids
	return nil
}

func (f *fakeStore) BeginRun(context.Context) (uuid.UUID, error) { return uuid.New(), nil }

func (f *fakeStore) CompleteRun(context.Context, *models.RunSummary) error { return nil }
