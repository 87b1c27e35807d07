package patient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/neuroscribe/internal/platform/blobstore"
	"github.com/ehr/neuroscribe/pkg/optional"
)

var (
	demoJaneSmithID     = uuid.MustParse("f9c8b3a4-1e5d-4f6b-8c7a-9d2e1f3a5b6c")
	demoRobertJohnsonID = uuid.MustParse("a1b2c3d4-5e6f-4a8b-9c0d-e1f2a3b4c5d6")
)

type demoPatient struct {
	id          uuid.UUID
	name        string
	data        ClinicalData
	fileName    string
	age         time.Duration
	prediction  string
	summaryText string
}

var demoPatients = []demoPatient{
	{
		id:         demoJaneSmithID,
		name:       "Jane Smith",
		data:       ClinicalData{Age: 80, Sex: SexFemale, MMSE: 20, CDR: 1.0, ETIV: 1850, NWBV: 0.68, ASF: 0.95},
		fileName:   "mri_001.nii",
		age:        48 * time.Hour,
		prediction: "Mild Demented",
		summaryText: "Patient presents with values indicating moderate cognitive impairment, notably an MMSE score of 20. " +
			"The CDR of 1.0 is consistent with mild dementia. Brain volume metrics should be compared with normative data for this demographic.",
	},
	{
		id:       demoRobertJohnsonID,
		name:     "Robert Johnson",
		data:     ClinicalData{Age: 68, Sex: SexMale, MMSE: 26, CDR: 0.5, ETIV: 1950, NWBV: 0.71, ASF: 0.91},
		fileName: "mri_002.nii",
		age:      24 * time.Hour,
		summaryText: "Patient presents with age as a notable factor. MMSE score is borderline, and CDR of 0.5 suggests very mild cognitive impairment. " +
			"Brain volume metrics appear within a normal range but require further contextual analysis.",
	},
}

// SeedDemoData loads the two demo patients shown on a fresh dashboard: one
// already classified, one still Processing. Their scans are empty files.
func SeedDemoData(ctx context.Context, store *Store, blobs blobstore.BlobStore, now time.Time) error {
	records := make([]PatientRecord, 0, len(demoPatients))
	for _, p := range demoPatients {
		meta, err := blobs.Upload(ctx, blobstore.BlobMetadata{
			FileName:  p.fileName,
			Category:  blobstore.CategoryMRI,
			CreatedBy: "seed",
			Tags:      map[string]string{"patient_name": p.name},
		}, strings.NewReader(""))
		if err != nil {
			return fmt.Errorf("seed imaging file %s: %w", p.fileName, err)
		}

		rec := PatientRecord{
			ID:           p.id,
			Name:         p.name,
			ClinicalData: p.data,
			ImagingFile: ImagingFile{
				BlobID:      meta.ID,
				FileName:    meta.FileName,
				ContentType: meta.ContentType,
				Size:        meta.Size,
			},
			Status:      StatusProcessing,
			SubmittedAt: now.Add(-p.age),
			Summary:     optional.Some(p.summaryText),
		}
		if p.prediction != "" {
			rec = rec.completed(p.prediction)
		}
		records = append(records, rec)
	}
	return store.Restore(records...)
}
