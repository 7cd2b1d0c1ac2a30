package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/course-advisor/internal/model"
	"github.com/rcliao/course-advisor/internal/skillset"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLStore implements Store over database/sql. SQLite is the default
// backend; MySQL is selected by a mysql:// DSN.
type SQLStore struct {
	db      *sql.DB
	driver  string
	path    string
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// Open opens the store named by dsn. A "mysql://" prefix selects MySQL;
// anything else is treated as a SQLite file path.
func Open(dsn string) (*SQLStore, error) {
	if strings.HasPrefix(dsn, "mysql://") {
		return NewMySQLStore(dsn)
	}
	return NewSQLiteStore(dsn)
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := newSQLStore(db, "sqlite", dbPath)
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func newSQLStore(db *sql.DB, driver, path string) *SQLStore {
	return &SQLStore{
		db:      db,
		driver:  driver,
		path:    path,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// newID returns a monotonic ULID, so generated keys sort in insertion order.
func (s *SQLStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS student (
		student_id  TEXT PRIMARY KEY,
		full_name   TEXT,
		email       TEXT
	);

	CREATE TABLE IF NOT EXISTS course (
		course_id     INTEGER PRIMARY KEY,
		subject       TEXT,
		curriculum    TEXT,
		sks           INTEGER,
		concentration TEXT,
		type          TEXT,
		semester      INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_course_semester ON course(semester DESC);

	CREATE TABLE IF NOT EXISTS enrollment (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id  TEXT NOT NULL,
		course_id   INTEGER NOT NULL REFERENCES course(course_id),
		grade       TEXT,
		semester    INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_enrollment_student ON enrollment(student_id);

	CREATE TABLE IF NOT EXISTS skill (
		skill_id    TEXT PRIMARY KEY,
		skill_name  TEXT,
		skill_type  TEXT
	);

	CREATE TABLE IF NOT EXISTS skill_map (
		sm_id       TEXT PRIMARY KEY,
		course_id   INTEGER REFERENCES course(course_id),
		course_name TEXT,
		hard_skill  TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_skill_map_course ON skill_map(course_id);

	CREATE TABLE IF NOT EXISTS certificate (
		c_id             INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id       TEXT NOT NULL,
		skill_type       TEXT,
		skill_name       TEXT,
		certificate_name TEXT,
		date_uploaded    TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_certificate_student ON certificate(student_id);

	CREATE TABLE IF NOT EXISTS studentskill (
		ss_id       INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id  TEXT NOT NULL UNIQUE,
		hard_skill  TEXT,
		soft_skill  TEXT
	);

	CREATE TABLE IF NOT EXISTS company_requirement (
		cr_id        TEXT PRIMARY KEY,
		company_name TEXT,
		position     TEXT,
		job_desc     TEXT
	);

	CREATE TABLE IF NOT EXISTS company_requirement_skill (
		crs_id      TEXT PRIMARY KEY,
		cr_id       TEXT REFERENCES company_requirement(cr_id),
		skill_id    TEXT REFERENCES skill(skill_id),
		skill_type  TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_crs_cr ON company_requirement_skill(cr_id);

	CREATE TABLE IF NOT EXISTS student_company_choice (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id  TEXT NOT NULL,
		company_id  TEXT REFERENCES company_requirement(cr_id),
		position    TEXT,
		created_at  TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_choice_student ON student_company_choice(student_id, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLStore) StudentSkills(ctx context.Context, studentID string) (skillset.Set, skillset.Set, error) {
	var hard, soft string
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(hard_skill, ''), COALESCE(soft_skill, '')
		 FROM studentskill WHERE student_id = ?`, studentID).Scan(&hard, &soft)
	if errors.Is(err, sql.ErrNoRows) {
		return skillset.Set{}, skillset.Set{}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("query student skills: %w", err)
	}
	return skillset.Parse(hard), skillset.Parse(soft), nil
}

func (s *SQLStore) StudentEnrollments(ctx context.Context, studentID string) (map[int]model.Enrollment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.course_id, COALESCE(c.subject, ''), COALESCE(c.concentration, ''), COALESCE(e.grade, '')
		 FROM enrollment e
		 JOIN course c ON e.course_id = c.course_id
		 WHERE e.student_id = ?
		 ORDER BY e.id`, studentID)
	if err != nil {
		return nil, fmt.Errorf("query enrollments: %w", err)
	}
	defer rows.Close()

	out := make(map[int]model.Enrollment)
	for rows.Next() {
		var e model.Enrollment
		if err := rows.Scan(&e.CourseID, &e.Name, &e.Category, &e.Grade); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		e.Grade = strings.TrimSpace(e.Grade)
		if e.Grade != "" {
			e.Progress = 100
		}
		out[e.CourseID] = e
	}
	return out, rows.Err()
}

func (s *SQLStore) CertificateSkills(ctx context.Context, studentID string) (skillset.Set, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(skill_name, '') FROM certificate WHERE student_id = ?`, studentID)
	if err != nil {
		return nil, fmt.Errorf("query certificates: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return skillset.New(names...), nil
}

// SelectedCompany picks the newest selection by parsed created_at, ties
// going to the highest id. Collaborators write created_at in more than one
// text layout, so the comparison happens after parsing rather than in SQL.
func (s *SQLStore) SelectedCompany(ctx context.Context, studentID string) (model.CompanySelection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, student_id, company_id, COALESCE(position, ''), COALESCE(created_at, '')
		 FROM student_company_choice
		 WHERE student_id = ? AND company_id IS NOT NULL AND company_id <> ''
		 ORDER BY id DESC`, studentID)
	if err != nil {
		return model.CompanySelection{}, fmt.Errorf("query company selection: %w", err)
	}
	defer rows.Close()

	var best model.CompanySelection
	found := false
	for rows.Next() {
		var id int64
		var sel model.CompanySelection
		var createdAt string
		if err := rows.Scan(&id, &sel.StudentID, &sel.CompanyID, &sel.Position, &createdAt); err != nil {
			return model.CompanySelection{}, fmt.Errorf("scan company selection: %w", err)
		}
		sel.CreatedAt = parseTime(createdAt)
		// Rows arrive by id desc, so only a strictly newer time replaces best.
		if !found || sel.CreatedAt.After(best.CreatedAt) {
			best, found = sel, true
		}
	}
	if err := rows.Err(); err != nil {
		return model.CompanySelection{}, fmt.Errorf("query company selection: %w", err)
	}
	if !found {
		return model.CompanySelection{}, ErrNotFound
	}
	return best, nil
}

func (s *SQLStore) StudentCompanyIDs(ctx context.Context, studentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT company_id FROM student_company_choice
		 WHERE student_id = ? AND company_id IS NOT NULL AND company_id <> ''
		 ORDER BY company_id`, studentID)
	if err != nil {
		return nil, fmt.Errorf("query company choices: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLStore) CompanyRequirement(ctx context.Context, companyID string) (model.CompanyRequirement, error) {
	req := model.CompanyRequirement{CompanyID: companyID, RequiredSkills: []model.RequiredSkill{}}
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(company_name, ''), COALESCE(position, '')
		 FROM company_requirement WHERE cr_id = ?`, companyID).Scan(&req.CompanyName, &req.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return req, ErrNotFound
	}
	if err != nil {
		return req, fmt.Errorf("query company requirement: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(s.skill_name, ''), COALESCE(crs.skill_type, s.skill_type, '')
		 FROM company_requirement_skill crs
		 JOIN skill s ON crs.skill_id = s.skill_id
		 WHERE crs.cr_id = ?
		 ORDER BY crs.crs_id`, companyID)
	if err != nil {
		return req, fmt.Errorf("query required skills: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return req, fmt.Errorf("scan required skill: %w", err)
		}
		if strings.TrimSpace(name) == "" {
			continue
		}
		st, _ := model.ParseSkillType(typ)
		req.RequiredSkills = append(req.RequiredSkills, model.RequiredSkill{Name: strings.TrimSpace(name), Type: st})
	}
	return req, rows.Err()
}

func (s *SQLStore) Courses(ctx context.Context, p CourseParams) ([]model.Course, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultCourseLimit
	}

	var where string
	args := make([]interface{}, 0, len(p.Exclude)+1)
	if len(p.Exclude) > 0 {
		marks := make([]string, len(p.Exclude))
		for i, id := range p.Exclude {
			marks[i] = "?"
			args = append(args, id)
		}
		where = "WHERE c.course_id NOT IN (" + strings.Join(marks, ", ") + ")"
	}
	args = append(args, limit)

	// The cap counts catalog x skill_map rows, newest semester first, and is
	// applied before relevance filtering. Older relevant courses beyond it are
	// not considered; this mirrors the original catalog scan.
	query := fmt.Sprintf(`
		SELECT c.course_id, COALESCE(c.subject, ''), COALESCE(c.concentration, ''),
		       COALESCE(c.curriculum, ''), COALESCE(c.sks, 0), COALESCE(c.type, ''),
		       COALESCE(c.semester, 0), COALESCE(sm.hard_skill, '')
		FROM course c
		LEFT JOIN skill_map sm ON sm.course_id = c.course_id
		%s
		ORDER BY c.semester DESC, c.course_id, sm.sm_id
		LIMIT ?`, where)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query courses: %w", err)
	}
	defer rows.Close()

	var courses []model.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

func (s *SQLStore) HistoricalEnrollments(ctx context.Context) ([]model.HistoricalEnrollment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.student_id, e.course_id, COALESCE(e.grade, ''), COALESCE(c.sks, 0), COALESCE(sm.hard_skill, '')
		 FROM enrollment e
		 JOIN course c ON e.course_id = c.course_id
		 LEFT JOIN skill_map sm ON sm.course_id = c.course_id
		 ORDER BY e.id, sm.sm_id`)
	if err != nil {
		return nil, fmt.Errorf("query historical enrollments: %w", err)
	}
	defer rows.Close()

	var out []model.HistoricalEnrollment
	for rows.Next() {
		var h model.HistoricalEnrollment
		var taught string
		if err := rows.Scan(&h.StudentID, &h.CourseID, &h.Grade, &h.Credits, &taught); err != nil {
			return nil, fmt.Errorf("scan historical enrollment: %w", err)
		}
		h.TaughtSkills = skillset.Parse(taught)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *SQLStore) SkillCatalog(ctx context.Context, t model.SkillType) ([]SkillRecord, error) {
	query := `SELECT skill_id, COALESCE(skill_name, ''), COALESCE(skill_type, '') FROM skill`
	var args []interface{}
	if t != "" {
		query += ` WHERE skill_type = ?`
		args = append(args, string(t))
	}
	query += ` ORDER BY skill_name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query skills: %w", err)
	}
	defer rows.Close()

	var out []SkillRecord
	for rows.Next() {
		var r SkillRecord
		if err := rows.Scan(&r.SkillID, &r.SkillName, &r.SkillType); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCourse(row scanner) (model.Course, error) {
	var c model.Course
	var concentration, curriculum, typ, taught string
	err := row.Scan(&c.ID, &c.Name, &concentration, &curriculum, &c.Credits, &typ, &c.Semester, &taught)
	if err != nil {
		return c, fmt.Errorf("scan course: %w", err)
	}
	c.Category = concentration
	if c.Category == "" {
		c.Category = typ
	}
	c.Description = fmt.Sprintf("%s (%s)", curriculum, typ)
	c.Difficulty = model.DifficultyFromCredits(c.Credits)
	c.TaughtSkills = skillset.Parse(taught)
	return c, nil
}

// parseTime accepts the stored layout plus the common SQL datetime forms.
func parseTime(s string) time.Time {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
