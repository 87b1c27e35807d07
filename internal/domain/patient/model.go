package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/neuroscribe/pkg/optional"
)

// Sex is the patient's recorded sex.
type Sex string

const (
	SexMale   Sex = "Male"
	SexFemale Sex = "Female"
)

// Valid reports whether s is one of the supported values.
func (s Sex) Valid() bool {
	return s == SexMale || s == SexFemale
}

// Status is the classification state of a record.
type Status string

const (
	StatusProcessing Status = "Processing"
	StatusComplete   Status = "Complete"
	// StatusError is reserved for a classifier that can fail. Nothing
	// produces it today.
	StatusError Status = "Error"
)

// ParseStatus maps a case-insensitive status name to a Status.
func ParseStatus(s string) (Status, bool) {
	for _, st := range []Status{StatusProcessing, StatusComplete, StatusError} {
		if strings.EqualFold(s, string(st)) {
			return st, true
		}
	}
	return "", false
}

// ClinicalData holds the measurements submitted with a record.
type ClinicalData struct {
	Age  int     `json:"age"`
	Sex  Sex     `json:"sex"`
	MMSE int     `json:"mmse"`
	CDR  float64 `json:"cdr"`
	ETIV float64 `json:"etiv"`
	NWBV float64 `json:"nwbv"`
	ASF  float64 `json:"asf"`
}

// ImagingFile is a handle to an uploaded scan in the blob store. The record
// never reads its content.
type ImagingFile struct {
	BlobID      string `json:"blob_id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// PatientRecord is one submitted patient. Every field is a value type, so a
// copied record shares nothing with the store's copy.
type PatientRecord struct {
	ID           uuid.UUID              `json:"id"`
	Name         string                 `json:"name"`
	ClinicalData ClinicalData           `json:"clinical_data"`
	ImagingFile  ImagingFile            `json:"imaging_file"`
	Status       Status                 `json:"status"`
	SubmittedAt  time.Time              `json:"submitted_at"`
	Prediction   optional.Value[string] `json:"prediction"`
	Summary      optional.Value[string] `json:"summary"`
}

// NewRecord is the caller-supplied part of a record.
type NewRecord struct {
	Name         string
	ClinicalData ClinicalData
	ImagingFile  ImagingFile
	Summary      optional.Value[string]
}

// completed returns a copy of r in the Complete state with the given label.
func (r PatientRecord) completed(label string) PatientRecord {
	r.Status = StatusComplete
	r.Prediction = optional.Some(label)
	return r
}
