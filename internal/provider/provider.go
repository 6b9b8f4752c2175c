package provider

import (
	"context"
	"errors"

	"github.com/t77yq/gradeflow/internal/model"
)

// ErrStudentNotFound is returned when a student is not found
var ErrStudentNotFound = errors.New("student not found")

// DataProvider exposes read-only queries over student and grade records.
// Implementations must be safe for concurrent reads from multiple workers.
type DataProvider interface {
	// ListStudents returns all students
	ListStudents(ctx context.Context) ([]model.Student, error)

	// FindStudent returns the student with the given ID
	FindStudent(ctx context.Context, id string) (model.Student, error)

	// GradesFor returns all grades recorded for a student
	GradesFor(ctx context.Context, id string) ([]model.Grade, error)
}
