package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/t77yq/gradeflow/internal/model"
)

// Mode selects the serialization format for a report
type Mode string

const (
	ModeText Mode = "text"
	ModeCSV  Mode = "csv"
	ModeJSON Mode = "json"
)

// Report is a rendered view of one student's academic record
type Report struct {
	Student     model.Student   `json:"student"`
	Grades      []model.Grade   `json:"grades"`
	Average     float64         `json:"average"`
	Band        model.GradeBand `json:"band"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// BuildReport assembles a report for one student
func BuildReport(student model.Student, grades []model.Grade) *Report {
	var sum float64
	for _, g := range grades {
		sum += g.Score
	}

	var avg float64
	if len(grades) > 0 {
		avg = sum / float64(len(grades))
	}

	return &Report{
		Student:     student,
		Grades:      grades,
		Average:     avg,
		Band:        model.BandFor(avg),
		GeneratedAt: time.Now(),
	}
}

// Render serializes the report in the given mode
func (r *Report) Render(mode Mode) ([]byte, error) {
	switch mode {
	case ModeJSON:
		return json.MarshalIndent(r, "", "  ")
	case ModeCSV:
		return r.renderCSV()
	case ModeText, "":
		return r.renderText(), nil
	default:
		return nil, fmt.Errorf("unknown export mode: %s", mode)
	}
}

func (r *Report) renderText() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Report for %s (%s), year %d\n", r.Student.Name, r.Student.ID, r.Student.Year)
	fmt.Fprintf(&buf, "Generated at %s\n\n", r.GeneratedAt.Format(time.RFC3339))
	for _, g := range r.Grades {
		fmt.Fprintf(&buf, "  %-14s %6.2f  (%s)\n", g.Course, g.Score, model.BandFor(g.Score))
	}
	fmt.Fprintf(&buf, "\nAverage: %.2f (%s)\n", r.Average, r.Band)
	return buf.Bytes()
}

func (r *Report) renderCSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"student_id", "course", "score", "band", "recorded_at"}); err != nil {
		return nil, err
	}
	for _, g := range r.Grades {
		record := []string{
			g.StudentID,
			g.Course,
			strconv.FormatFloat(g.Score, 'f', 2, 64),
			string(model.BandFor(g.Score)),
			g.RecordedAt.Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Extension returns the file extension for the mode
func (m Mode) Extension() string {
	switch m {
	case ModeJSON:
		return ".json"
	case ModeCSV:
		return ".csv"
	default:
		return ".txt"
	}
}
