package patient

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

// ErrInvalidSubmission wraps every field-level validation failure.
var ErrInvalidSubmission = errors.New("invalid submission")

// FieldError reports a single invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error { return ErrInvalidSubmission }

// Submission is a clinician's form post: metrics plus the scan to attach.
type Submission struct {
	Name         string
	ClinicalData ClinicalData
	FileName     string
	ContentType  string
	File         io.Reader
}

// ValidateSubmission checks a submission before it reaches the store, which
// itself accepts anything of the right shape. All failures are joined.
func ValidateSubmission(sub Submission) error {
	var errs []error
	add := func(field, msg string) {
		errs = append(errs, &FieldError{Field: field, Message: msg})
	}

	if strings.TrimSpace(sub.Name) == "" {
		add("name", "is required")
	}
	if sub.File == nil || strings.TrimSpace(sub.FileName) == "" {
		add("mri_file", "MRI scan file is required.")
	}

	d := sub.ClinicalData
	if d.Age <= 0 {
		add("age", "must be a positive integer")
	}
	if !d.Sex.Valid() {
		add("sex", fmt.Sprintf("must be %s or %s", SexMale, SexFemale))
	}
	if d.MMSE < 0 || d.MMSE > 30 {
		add("mmse", "must be between 0 and 30")
	}
	// NaN slips past the range checks and cannot be encoded as JSON.
	switch {
	case !finite(d.CDR):
		add("cdr", "must be a finite number")
	case d.CDR < 0:
		add("cdr", "must not be negative")
	}
	for _, m := range []struct {
		field string
		v     float64
	}{{"etiv", d.ETIV}, {"nwbv", d.NWBV}, {"asf", d.ASF}} {
		switch {
		case !finite(m.v):
			add(m.field, "must be a finite number")
		case m.v <= 0:
			add(m.field, "must be positive")
		}
	}

	return errors.Join(errs...)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// FieldErrors extracts the FieldErrors contained in err.
func FieldErrors(err error) []*FieldError {
	if err == nil {
		return nil
	}
	var out []*FieldError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, FieldErrors(e)...)
		}
		return out
	}
	var fe *FieldError
	if errors.As(err, &fe) {
		out = append(out, fe)
	}
	return out
}
