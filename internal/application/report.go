package application

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/ahrav/go-cadmark/internal/domain"
)

// ReportHeader is the fixed column order of every report.
var ReportHeader = []string{
	"StudentID",
	"Volume",
	"SurfaceArea",
	"CenterOfGravity",
	"VolumeMark",
	"SurfaceAreaMark",
	"CGMark",
}

// Table is a rendered report: a header plus one row per submission.
type Table struct {
	Header []string
	Rows   [][]string
}

// FormatResults renders results in the order given. Raw properties use
// three decimals and marks two. Failed submissions show their status label
// in every numeric column rather than a number.
func FormatResults(results []domain.SubmissionResult) Table {
	t := Table{
		Header: append([]string(nil), ReportHeader...),
		Rows:   make([][]string, 0, len(results)),
	}
	for _, r := range results {
		t.Rows = append(t.Rows, formatRow(r))
	}
	return t
}

func formatRow(r domain.SubmissionResult) []string {
	if r.Status != domain.StatusSuccess || r.Properties == nil || r.Marks == nil {
		label := r.Status.String()
		if r.Status == domain.StatusSuccess {
			// A success without values can only come from a hand-built
			// result; never print zeros for it.
			label = domain.StatusExtractionFailed.String()
		}
		row := make([]string, len(ReportHeader))
		row[0] = r.StudentID
		for i := 1; i < len(row); i++ {
			row[i] = label
		}
		return row
	}

	p, m := r.Properties, r.Marks
	return []string{
		r.StudentID,
		fmt.Sprintf("%.3f", p.Volume),
		fmt.Sprintf("%.3f", p.SurfaceArea),
		p.CenterOfGravity.String(),
		fmt.Sprintf("%.2f", m.VolumeMark),
		fmt.Sprintf("%.2f", m.SurfaceAreaMark),
		fmt.Sprintf("%.2f", m.CGMark),
	}
}

// WriteCSV writes the report for results to w.
func WriteCSV(w io.Writer, results []domain.SubmissionResult) error {
	t := FormatResults(results)
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("write report header: %w", err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("write report rows: %w", err)
	}
	return nil
}
