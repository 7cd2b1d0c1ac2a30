// Package store provides the relational data source for course-advisor:
// schema, read queries, collaborator write paths, and dataset import/export.
package store

import (
	"context"
	"errors"

	"github.com/rcliao/course-advisor/internal/model"
	"github.com/rcliao/course-advisor/internal/skillset"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = errors.New("not found")

// DefaultCourseLimit caps a catalog scan.
const DefaultCourseLimit = 200

// CourseParams holds parameters for scanning the course catalog.
type CourseParams struct {
	Exclude []int // course ids to leave out (already enrolled)
	Limit   int   // 0 means DefaultCourseLimit
}

// CertificateParams holds parameters for recording a certificate.
type CertificateParams struct {
	StudentID       string
	SkillType       model.SkillType
	SkillName       string
	CertificateName string
}

// Reader is the read side consumed by the recommendation pipeline.
type Reader interface {
	// StudentSkills returns the self-reported hard and soft skills.
	// A student with no skill row has two empty sets.
	StudentSkills(ctx context.Context, studentID string) (hard, soft skillset.Set, err error)

	// StudentEnrollments returns enrollments keyed by course id.
	StudentEnrollments(ctx context.Context, studentID string) (map[int]model.Enrollment, error)

	// CertificateSkills returns the skills named on the student's certificates.
	CertificateSkills(ctx context.Context, studentID string) (skillset.Set, error)

	// SelectedCompany returns the most recent company selection, or ErrNotFound.
	SelectedCompany(ctx context.Context, studentID string) (model.CompanySelection, error)

	// StudentCompanyIDs lists every company the student has ever selected.
	StudentCompanyIDs(ctx context.Context, studentID string) ([]string, error)

	// CompanyRequirement returns a posting with its ordered required skills.
	CompanyRequirement(ctx context.Context, companyID string) (model.CompanyRequirement, error)

	// Courses scans the catalog joined with its skill map, newest semester first.
	// A course with several skill-map rows appears once per row.
	Courses(ctx context.Context, p CourseParams) ([]model.Course, error)

	// HistoricalEnrollments returns every enrollment of every student.
	HistoricalEnrollments(ctx context.Context) ([]model.HistoricalEnrollment, error)
}

// Writer is the collaborator write side. Every call that changes skills,
// certificates or company selection must be followed by cache invalidation.
type Writer interface {
	AddSkill(ctx context.Context, studentID string, t model.SkillType, name string) error
	RemoveSkill(ctx context.Context, studentID, name string) error
	AddCertificate(ctx context.Context, p CertificateParams) (int64, error)
	RemoveCertificate(ctx context.Context, studentID string, certID int64) error
	SelectCompany(ctx context.Context, studentID, companyID string) (model.CompanySelection, error)
}

// Store is the full data source.
type Store interface {
	Reader
	Writer

	// SkillCatalog lists known skills, optionally filtered by type.
	SkillCatalog(ctx context.Context, t model.SkillType) ([]SkillRecord, error)

	// Close closes the store.
	Close() error
}
