package patient

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/neuroscribe/internal/platform/blobstore"
	"github.com/ehr/neuroscribe/pkg/optional"
)

// SummaryGenerator produces the narrative risk summary for a submission.
// Implementations absorb their own failures and always return usable text.
type SummaryGenerator interface {
	GenerateSummary(ctx context.Context, data ClinicalData) string
}

// SubmissionRecorder is told about every accepted submission.
type SubmissionRecorder interface {
	SubmissionAccepted(rec PatientRecord)
}

// ListQuery filters a dashboard listing. Empty fields match everything.
type ListQuery struct {
	Search string
	Status Status
}

// Service ties a submission together: the scan goes to the blob store, the
// metrics go to the summary generator, and the result goes to the Store.
type Service struct {
	store     *Store
	blobs     blobstore.BlobStore
	summaries SummaryGenerator
	recorders []SubmissionRecorder
	logger    zerolog.Logger
}

func NewService(store *Store, blobs blobstore.BlobStore, summaries SummaryGenerator, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		blobs:     blobs,
		summaries: summaries,
		logger:    logger.With().Str("component", "patient_service").Logger(),
	}
}

// AddRecorder attaches recorders told about every accepted submission.
func (s *Service) AddRecorder(r ...SubmissionRecorder) {
	s.recorders = append(s.recorders, r...)
}

// Store returns the underlying record store.
func (s *Service) Store() *Store {
	return s.store
}

// Submit validates sub, stores its scan, generates the summary and creates
// the record. The returned record is still Processing.
func (s *Service) Submit(ctx context.Context, sub Submission, submittedBy string) (PatientRecord, error) {
	if err := ValidateSubmission(sub); err != nil {
		return PatientRecord{}, err
	}

	meta, err := s.blobs.Upload(ctx, blobstore.BlobMetadata{
		FileName:    sub.FileName,
		ContentType: sub.ContentType,
		Category:    blobstore.CategoryMRI,
		CreatedBy:   submittedBy,
		Tags:        map[string]string{"patient_name": sub.Name},
	}, sub.File)
	if err != nil {
		return PatientRecord{}, fmt.Errorf("store imaging file: %w", err)
	}

	summary := s.summaries.GenerateSummary(ctx, sub.ClinicalData)

	rec := s.store.Create(NewRecord{
		Name:         strings.TrimSpace(sub.Name),
		ClinicalData: sub.ClinicalData,
		ImagingFile: ImagingFile{
			BlobID:      meta.ID,
			FileName:    meta.FileName,
			ContentType: meta.ContentType,
			Size:        meta.Size,
		},
		Summary: optional.Some(summary),
	})

	s.logger.Info().
		Str("record_id", rec.ID.String()).
		Str("submitted_by", submittedBy).
		Int64("imaging_bytes", meta.Size).
		Msg("patient submission accepted")

	for _, r := range s.recorders {
		r.SubmissionAccepted(rec)
	}
	return rec, nil
}

// List returns records matching q, newest first.
func (s *Service) List(ctx context.Context, q ListQuery) ([]PatientRecord, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]PatientRecord, 0, len(all))
	for _, rec := range all {
		if q.Status != "" && rec.Status != q.Status {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(rec.Name), needle) {
			continue
		}
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out, nil
}

// Get returns a single record.
func (s *Service) Get(id uuid.UUID) (PatientRecord, error) {
	return s.store.Get(id)
}

// OpenImaging returns the scan attached to record id. The caller closes it.
func (s *Service) OpenImaging(ctx context.Context, id uuid.UUID) (io.ReadCloser, *blobstore.BlobMetadata, error) {
	rec, err := s.store.Get(id)
	if err != nil {
		return nil, nil, err
	}
	rc, meta, err := s.blobs.Download(ctx, rec.ImagingFile.BlobID)
	if err != nil {
		return nil, nil, fmt.Errorf("open imaging file for %s: %w", id, err)
	}
	return rc, meta, nil
}
