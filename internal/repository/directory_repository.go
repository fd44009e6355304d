package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/academix/school-attendance-api/internal/models"
)

// DirectoryRepository answers membership questions about classes,
// students, and teachers that attendance flows depend on.
type DirectoryRepository struct {
	db *sqlx.DB
}

// NewDirectoryRepository creates a directory repository.
func NewDirectoryRepository(db *sqlx.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// ClassExists reports whether the class id is known.
func (r *DirectoryRepository) ClassExists(ctx context.Context, classID string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM classes WHERE id = $1)`, classID); err != nil {
		return false, fmt.Errorf("check class exists: %w", err)
	}
	return exists, nil
}

// FindClass loads a class by id.
func (r *DirectoryRepository) FindClass(ctx context.Context, classID string) (*models.Class, error) {
	var class models.Class
	if err := r.db.GetContext(ctx, &class, `SELECT id, name FROM classes WHERE id = $1`, classID); err != nil {
		return nil, err
	}
	return &class, nil
}

// TeacherHasAccess reports whether the teacher is assigned to the class.
func (r *DirectoryRepository) TeacherHasAccess(ctx context.Context, teacherID, classID string) (bool, error) {
	var exists bool
	const query = `SELECT EXISTS (SELECT 1 FROM class_teachers WHERE teacher_id = $1 AND class_id = $2)`
	if err := r.db.GetContext(ctx, &exists, query, teacherID, classID); err != nil {
		return false, fmt.Errorf("check teacher access: %w", err)
	}
	return exists, nil
}

// StudentEnrolled reports whether the student belongs to the class.
func (r *DirectoryRepository) StudentEnrolled(ctx context.Context, studentID, classID string) (bool, error) {
	var exists bool
	const query = `SELECT EXISTS (SELECT 1 FROM class_students WHERE student_id = $1 AND class_id = $2)`
	if err := r.db.GetContext(ctx, &exists, query, studentID, classID); err != nil {
		return false, fmt.Errorf("check student enrollment: %w", err)
	}
	return exists, nil
}

// CountStudents returns the enrolled student count for a class.
func (r *DirectoryRepository) CountStudents(ctx context.Context, classID string) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM class_students WHERE class_id = $1`, classID); err != nil {
		return 0, fmt.Errorf("count class students: %w", err)
	}
	return total, nil
}

// ListStudents returns the roster for a class ordered by last name.
func (r *DirectoryRepository) ListStudents(ctx context.Context, classID string) ([]models.Student, error) {
	const query = `SELECT s.id, s.first_name, s.last_name
		FROM students s JOIN class_students cs ON cs.student_id = s.id
		WHERE cs.class_id = $1 ORDER BY s.last_name ASC, s.first_name ASC`
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, classID); err != nil {
		return nil, fmt.Errorf("list class students: %w", err)
	}
	return students, nil
}
