package model

import "time"

// GradeBand represents a letter band derived from a numeric score
type GradeBand string

const (
	GradeBandA GradeBand = "A"
	GradeBandB GradeBand = "B"
	GradeBandC GradeBand = "C"
	GradeBandD GradeBand = "D"
	GradeBandF GradeBand = "F"
)

// Student represents a student record
type Student struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Year int    `json:"year"`
}

// Grade represents a single recorded grade for a student
type Grade struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"student_id"`
	Course     string    `json:"course"`
	Score      float64   `json:"score"`
	RecordedAt time.Time `json:"recorded_at"`
}

// BandFor maps a numeric score to its grade band
func BandFor(score float64) GradeBand {
	switch {
	case score >= 90:
		return GradeBandA
	case score >= 80:
		return GradeBandB
	case score >= 70:
		return GradeBandC
	case score >= 60:
		return GradeBandD
	default:
		return GradeBandF
	}
}
