package provider

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/t77yq/gradeflow/internal/model"
)

// MemoryProvider is an in-memory DataProvider backed by a read-write lock
type MemoryProvider struct {
	mu       sync.RWMutex
	students map[string]model.Student
	grades   map[string][]model.Grade
	order    []string
}

// NewMemoryProvider creates an empty in-memory provider
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		students: make(map[string]model.Student),
		grades:   make(map[string][]model.Grade),
	}
}

// AddStudent adds a student record
func (p *MemoryProvider) AddStudent(s model.Student) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.students[s.ID]; !ok {
		p.order = append(p.order, s.ID)
	}
	p.students[s.ID] = s
}

// AddGrade adds a grade for a student
func (p *MemoryProvider) AddGrade(g model.Grade) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.grades[g.StudentID] = append(p.grades[g.StudentID], g)
}

// ListStudents implements DataProvider.ListStudents
func (p *MemoryProvider) ListStudents(ctx context.Context) ([]model.Student, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	students := make([]model.Student, 0, len(p.order))
	for _, id := range p.order {
		students = append(students, p.students[id])
	}
	return students, nil
}

// FindStudent implements DataProvider.FindStudent
func (p *MemoryProvider) FindStudent(ctx context.Context, id string) (model.Student, error) {
	if err := ctx.Err(); err != nil {
		return model.Student{}, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	s, ok := p.students[id]
	if !ok {
		return model.Student{}, fmt.Errorf("%w: %s", ErrStudentNotFound, id)
	}
	return s, nil
}

// GradesFor implements DataProvider.GradesFor
func (p *MemoryProvider) GradesFor(ctx context.Context, id string) ([]model.Grade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	grades := make([]model.Grade, len(p.grades[id]))
	copy(grades, p.grades[id])
	return grades, nil
}

// Seed populates the provider with generated demo records
func (p *MemoryProvider) Seed(studentCount, gradesPerStudent int) {
	courses := []string{"Mathematics", "Physics", "Chemistry", "Biology", "History", "Literature"}

	for i := 0; i < studentCount; i++ {
		student := model.Student{
			ID:   fmt.Sprintf("S%04d", i+1),
			Name: fmt.Sprintf("Student %d", i+1),
			Year: 1 + i%4,
		}
		p.AddStudent(student)

		for j := 0; j < gradesPerStudent; j++ {
			p.AddGrade(model.Grade{
				ID:         uuid.New().String(),
				StudentID:  student.ID,
				Course:     courses[j%len(courses)],
				Score:      50 + rand.Float64()*50,
				RecordedAt: time.Now().Add(-time.Duration(rand.Intn(720)) * time.Hour),
			})
		}
	}
}
