package patient

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func validSubmission() Submission {
	return Submission{
		Name:         "Jane Smith",
		ClinicalData: ClinicalData{Age: 80, Sex: SexFemale, MMSE: 20, CDR: 1.0, ETIV: 1850, NWBV: 0.68, ASF: 0.95},
		FileName:     "mri_001.nii",
		ContentType:  "application/octet-stream",
		File:         strings.NewReader("scan"),
	}
}

func TestValidateSubmission_Valid(t *testing.T) {
	if err := ValidateSubmission(validSubmission()); err != nil {
		t.Errorf("expected valid submission, got %v", err)
	}
}

func TestValidateSubmission_Fields(t *testing.T) {
	tests := []struct {
		field  string
		mutate func(*Submission)
	}{
		{"name", func(s *Submission) { s.Name = "  " }},
		{"mri_file", func(s *Submission) { s.File = nil }},
		{"mri_file", func(s *Submission) { s.FileName = "" }},
		{"age", func(s *Submission) { s.ClinicalData.Age = 0 }},
		{"sex", func(s *Submission) { s.ClinicalData.Sex = "Other" }},
		{"mmse", func(s *Submission) { s.ClinicalData.MMSE = 31 }},
		{"mmse", func(s *Submission) { s.ClinicalData.MMSE = -1 }},
		{"cdr", func(s *Submission) { s.ClinicalData.CDR = -0.5 }},
		{"etiv", func(s *Submission) { s.ClinicalData.ETIV = 0 }},
		{"nwbv", func(s *Submission) { s.ClinicalData.NWBV = -1 }},
		{"asf", func(s *Submission) { s.ClinicalData.ASF = 0 }},
		{"cdr", func(s *Submission) { s.ClinicalData.CDR = math.NaN() }},
		{"cdr", func(s *Submission) { s.ClinicalData.CDR = math.Inf(1) }},
		{"etiv", func(s *Submission) { s.ClinicalData.ETIV = math.NaN() }},
		{"etiv", func(s *Submission) { s.ClinicalData.ETIV = math.Inf(1) }},
		{"nwbv", func(s *Submission) { s.ClinicalData.NWBV = math.Inf(-1) }},
		{"asf", func(s *Submission) { s.ClinicalData.ASF = math.NaN() }},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			sub := validSubmission()
			tt.mutate(&sub)

			err := ValidateSubmission(sub)
			if !errors.Is(err, ErrInvalidSubmission) {
				t.Fatalf("expected ErrInvalidSubmission, got %v", err)
			}
			fes := FieldErrors(err)
			if len(fes) != 1 || fes[0].Field != tt.field {
				t.Errorf("expected single %s error, got %v", tt.field, fes)
			}
		})
	}
}

func TestValidateSubmission_MissingFileMessage(t *testing.T) {
	sub := validSubmission()
	sub.File = nil

	fes := FieldErrors(ValidateSubmission(sub))
	if len(fes) != 1 || fes[0].Message != "MRI scan file is required." {
		t.Errorf("unexpected errors %v", fes)
	}
}

func TestValidateSubmission_NonFiniteMessage(t *testing.T) {
	sub := validSubmission()
	sub.ClinicalData.ETIV = math.NaN()

	fes := FieldErrors(ValidateSubmission(sub))
	if len(fes) != 1 || fes[0].Message != "must be a finite number" {
		t.Errorf("unexpected errors %v", fes)
	}
}

func TestValidateSubmission_CollectsAll(t *testing.T) {
	fes := FieldErrors(ValidateSubmission(Submission{}))

	fields := map[string]bool{}
	for _, fe := range fes {
		fields[fe.Field] = true
	}
	for _, want := range []string{"name", "mri_file", "age", "sex", "etiv", "nwbv", "asf"} {
		if !fields[want] {
			t.Errorf("expected error for %s, got %v", want, fes)
		}
	}
}

func TestFieldErrors_Nil(t *testing.T) {
	if fes := FieldErrors(nil); fes != nil {
		t.Errorf("expected nil, got %v", fes)
	}
}
