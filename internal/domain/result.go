package domain

import (
	"time"
)

// Status classifies the outcome of grading one submission.
type Status int

const (
	// StatusSuccess means properties were extracted and marked.
	StatusSuccess Status = iota
	// StatusExtractionFailed means the export step never produced an
	// interchange file.
	StatusExtractionFailed
	// StatusPropertyCalculationFailed means an interchange file was produced
	// but the geometry kernel could not compute properties from it.
	StatusPropertyCalculationFailed
)

// String returns the label used in reports.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusExtractionFailed:
		return "ExtractionFailed"
	case StatusPropertyCalculationFailed:
		return "PropertyCalculationFailed"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so statuses serialize as
// their labels.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Submission is a single student artifact awaiting grading.
type Submission struct {
	// StudentID identifies the student; usually the file stem.
	StudentID string `json:"student_id"`

	// SourcePath is the native CAD document submitted by the student.
	SourcePath string `json:"source_path"`
}

// SubmissionResult records the outcome of grading one submission.
// Properties and Marks are nil unless Status is StatusSuccess.
// Results are created once and never mutated.
type SubmissionResult struct {
	StudentID  string               `json:"student_id"`
	SourcePath string               `json:"source_path"`
	Properties *GeometricProperties `json:"properties,omitempty"`
	Marks      *MarkSet             `json:"marks,omitempty"`
	Status     Status               `json:"status"`

	// Attempts is the number of export attempts spent on this submission.
	Attempts int `json:"attempts"`

	// Err holds the final extraction failure for failed submissions.
	Err error `json:"-"`
}

// NewSuccessResult builds a result for a submission that was marked.
func NewSuccessResult(sub Submission, props GeometricProperties, marks MarkSet, attempts int) SubmissionResult {
	return SubmissionResult{
		StudentID:  sub.StudentID,
		SourcePath: sub.SourcePath,
		Properties: &props,
		Marks:      &marks,
		Status:     StatusSuccess,
		Attempts:   attempts,
	}
}

// NewFailedResult builds a result for a submission whose extraction failed.
func NewFailedResult(sub Submission, status Status, attempts int, err error) SubmissionResult {
	return SubmissionResult{
		StudentID:  sub.StudentID,
		SourcePath: sub.SourcePath,
		Status:     status,
		Attempts:   attempts,
		Err:        err,
	}
}

// Succeeded reports whether the submission was marked.
func (r SubmissionResult) Succeeded() bool { return r.Status == StatusSuccess }

// Total returns the aggregate score, zero for failed submissions.
func (r SubmissionResult) Total() float64 {
	if r.Marks == nil {
		return 0
	}
	return r.Marks.Total()
}

// BatchRun captures a complete grading run: the reference values it marked
// against and every result in discovery order.
type BatchRun struct {
	// ID uniquely identifies this run (a UUID).
	ID string `json:"id"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Expected ExpectedProperties `json:"expected"`
	Results  []SubmissionResult `json:"results"`
}

// RunSummary aggregates a run's outcomes.
type RunSummary struct {
	Total                     int     `json:"total"`
	Succeeded                 int     `json:"succeeded"`
	ExtractionFailed          int     `json:"extraction_failed"`
	PropertyCalculationFailed int     `json:"property_calculation_failed"`
	MeanScore                 float64 `json:"mean_score"`
}

// Summary counts results per status. MeanScore averages the aggregate
// score over successful submissions only.
func (b BatchRun) Summary() RunSummary {
	s := RunSummary{Total: len(b.Results)}
	sum := 0.0
	for _, r := range b.Results {
		switch r.Status {
		case StatusSuccess:
			s.Succeeded++
			sum += r.Total()
		case StatusExtractionFailed:
			s.ExtractionFailed++
		case StatusPropertyCalculationFailed:
			s.PropertyCalculationFailed++
		}
	}
	if s.Succeeded > 0 {
		s.MeanScore = sum / float64(s.Succeeded)
	}
	return s
}
