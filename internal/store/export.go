package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidDataset wraps validation failures of an imported dataset.
var ErrInvalidDataset = errors.New("invalid dataset")

var validate = validator.New()

// Dataset is the JSON interchange form of the whole data source, used to
// seed a database and to export one.
type Dataset struct {
	Students      []StudentRecord      `json:"students,omitempty" validate:"dive"`
	Courses       []CourseRecord       `json:"courses,omitempty" validate:"dive"`
	SkillMaps     []SkillMapRecord     `json:"skill_maps,omitempty" validate:"dive"`
	Skills        []SkillRecord        `json:"skills,omitempty" validate:"dive"`
	StudentSkills []StudentSkillRecord `json:"student_skills,omitempty" validate:"dive"`
	Enrollments   []EnrollmentRecord   `json:"enrollments,omitempty" validate:"dive"`
	Certificates  []CertificateRecord  `json:"certificates,omitempty" validate:"dive"`
	Companies     []CompanyRecord      `json:"companies,omitempty" validate:"dive"`
	Selections    []SelectionRecord    `json:"selections,omitempty" validate:"dive"`
}

type StudentRecord struct {
	StudentID string `json:"student_id" validate:"required"`
	FullName  string `json:"full_name,omitempty"`
	Email     string `json:"email,omitempty"`
}

type CourseRecord struct {
	CourseID      int    `json:"course_id" validate:"required"`
	Subject       string `json:"subject"`
	Curriculum    string `json:"curriculum,omitempty"`
	SKS           int    `json:"sks" validate:"gte=0"`
	Concentration string `json:"concentration,omitempty"`
	Type          string `json:"type,omitempty"`
	Semester      int    `json:"semester" validate:"gte=0"`
}

// SkillMapRecord lists the hard skills a course teaches as one
// comma-separated field.
type SkillMapRecord struct {
	SMID       string `json:"sm_id,omitempty"`
	CourseID   int    `json:"course_id" validate:"required"`
	CourseName string `json:"course_name,omitempty"`
	HardSkill  string `json:"hard_skill"`
}

type SkillRecord struct {
	SkillID   string `json:"skill_id" validate:"required"`
	SkillName string `json:"skill_name"`
	SkillType string `json:"skill_type"`
}

type StudentSkillRecord struct {
	StudentID string `json:"student_id" validate:"required"`
	HardSkill string `json:"hard_skill"`
	SoftSkill string `json:"soft_skill"`
}

type EnrollmentRecord struct {
	StudentID string `json:"student_id" validate:"required"`
	CourseID  int    `json:"course_id" validate:"required"`
	Grade     string `json:"grade,omitempty"`
	Semester  int    `json:"semester,omitempty"`
}

type CertificateRecord struct {
	ID              int64  `json:"c_id,omitempty"`
	StudentID       string `json:"student_id" validate:"required"`
	SkillType       string `json:"skill_type"`
	SkillName       string `json:"skill_name"`
	CertificateName string `json:"certificate_name,omitempty"`
}

type CompanyRecord struct {
	CRID        string               `json:"cr_id" validate:"required"`
	CompanyName string               `json:"company_name"`
	Position    string               `json:"position"`
	JobDesc     string               `json:"job_desc,omitempty"`
	Skills      []CompanySkillRecord `json:"skills" validate:"dive"`
}

type CompanySkillRecord struct {
	SkillID   string `json:"skill_id" validate:"required"`
	SkillType string `json:"skill_type,omitempty"`
}

type SelectionRecord struct {
	StudentID string    `json:"student_id" validate:"required"`
	CompanyID string    `json:"company_id" validate:"required"`
	Position  string    `json:"position,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Import loads a dataset in one transaction. Keyed rows (students, courses,
// skills, skill maps, companies, student skills) are upserted; event rows
// (enrollments, certificates, selections) are appended. Returns the number
// of rows written. The dataset is validated before anything is written.
func (s *SQLStore) Import(ctx context.Context, d Dataset) (int, error) {
	if err := validate.Struct(d); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDataset, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	n := 0
	exec := func(what, query string, args ...interface{}) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("import %s: %w", what, err)
		}
		n++
		return nil
	}

	for _, r := range d.Students {
		q := s.upsert("student", "student_id", "full_name", "email")
		if err := exec("student", q, r.StudentID, r.FullName, r.Email); err != nil {
			return n, err
		}
	}
	for _, r := range d.Courses {
		q := s.upsert("course", "course_id", "subject", "curriculum", "sks", "concentration", "type", "semester")
		if err := exec("course", q, r.CourseID, r.Subject, r.Curriculum, r.SKS, r.Concentration, r.Type, r.Semester); err != nil {
			return n, err
		}
	}
	for _, r := range d.Skills {
		q := s.upsert("skill", "skill_id", "skill_name", "skill_type")
		if err := exec("skill", q, r.SkillID, r.SkillName, r.SkillType); err != nil {
			return n, err
		}
	}
	for _, r := range d.SkillMaps {
		id := r.SMID
		if id == "" {
			id = s.newID()
		}
		q := s.upsert("skill_map", "sm_id", "course_id", "course_name", "hard_skill")
		if err := exec("skill map", q, id, r.CourseID, r.CourseName, r.HardSkill); err != nil {
			return n, err
		}
	}
	for _, r := range d.StudentSkills {
		q := s.upsert("studentskill", "student_id", "hard_skill", "soft_skill")
		if err := exec("student skill", q, r.StudentID, r.HardSkill, r.SoftSkill); err != nil {
			return n, err
		}
	}
	for _, r := range d.Enrollments {
		if err := exec("enrollment",
			`INSERT INTO enrollment (student_id, course_id, grade, semester) VALUES (?, ?, ?, ?)`,
			r.StudentID, r.CourseID, nullIfEmpty(r.Grade), r.Semester); err != nil {
			return n, err
		}
	}
	for _, r := range d.Certificates {
		if err := exec("certificate",
			`INSERT INTO certificate (student_id, skill_type, skill_name, certificate_name, date_uploaded) VALUES (?, ?, ?, ?, ?)`,
			r.StudentID, r.SkillType, r.SkillName, r.CertificateName, s.now().Format(timeLayout)); err != nil {
			return n, err
		}
	}
	for _, r := range d.Companies {
		q := s.upsert("company_requirement", "cr_id", "company_name", "position", "job_desc")
		if err := exec("company", q, r.CRID, r.CompanyName, r.Position, r.JobDesc); err != nil {
			return n, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM company_requirement_skill WHERE cr_id = ?`, r.CRID); err != nil {
			return n, fmt.Errorf("import company skills: %w", err)
		}
		for _, sk := range r.Skills {
			if err := exec("company skill",
				`INSERT INTO company_requirement_skill (crs_id, cr_id, skill_id, skill_type) VALUES (?, ?, ?, ?)`,
				s.newID(), r.CRID, sk.SkillID, nullIfEmpty(sk.SkillType)); err != nil {
				return n, err
			}
		}
	}
	for _, r := range d.Selections {
		created := r.CreatedAt
		if created.IsZero() {
			created = s.now()
		}
		if err := exec("selection",
			`INSERT INTO student_company_choice (student_id, company_id, position, created_at) VALUES (?, ?, ?, ?)`,
			r.StudentID, r.CompanyID, r.Position, created.UTC().Format(timeLayout)); err != nil {
			return n, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// Export reads the whole data source back into a Dataset.
func (s *SQLStore) Export(ctx context.Context) (*Dataset, error) {
	d := &Dataset{}

	err := s.each(ctx, `SELECT student_id, COALESCE(full_name, ''), COALESCE(email, '') FROM student ORDER BY student_id`,
		func(row scanner) error {
			var r StudentRecord
			if err := row.Scan(&r.StudentID, &r.FullName, &r.Email); err != nil {
				return err
			}
			d.Students = append(d.Students, r)
			return nil
		})
	if err != nil {
		return nil, err
	}

	err = s.each(ctx, `SELECT course_id, COALESCE(subject, ''), COALESCE(curriculum, ''), COALESCE(sks, 0),
	                          COALESCE(concentration, ''), COALESCE(type, ''), COALESCE(semester, 0)
	                   FROM course ORDER BY course_id`,
		func(row scanner) error {
			var r CourseRecord
			if err := row.Scan(&r.CourseID, &r.Subject, &r.Curriculum, &r.SKS, &r.Concentration, &r.Type, &r.Semester); err != nil {
				return err
			}
			d.Courses = append(d.Courses, r)
			return nil
		})
	if err != nil {
		return nil, err
	}

	err = s.each(ctx, `SELECT sm_id, COALESCE(course_id, 0), COALESCE(course_name, ''), COALESCE(hard_skill, '') FROM skill_map ORDER BY sm_id`,
		func(row scanner) error {
			var r SkillMapRecord
			if err := row.Scan(&r.SMID, &r.CourseID, &r.CourseName, &r.HardSkill); err != nil {
				return err
			}
			d.SkillMaps = append(d.SkillMaps, r)
			return nil
		})
	if err != nil {
		return nil, err
	}

	if d.Skills, err = s.SkillCatalog(ctx, ""); err != nil {
		return nil, err
	}

	err = s.each(ctx, `SELECT student_id, COALESCE(hard_skill, ''), COALESCE(soft_skill, '') FROM studentskill ORDER BY student_id`,
		func(row scanner) error {
			var r StudentSkillRecord
			if err := row.Scan(&r.StudentID, &r.HardSkill, &r.SoftSkill); err != nil {
				return err
			}
			d.StudentSkills = append(d.StudentSkills, r)
			return nil
		})
	if err != nil {
		return nil, err
	}

	err = s.each(ctx, `SELECT student_id, course_id, COALESCE(grade, ''), COALESCE(semester, 0) FROM enrollment ORDER BY id`,
		func(row scanner) error {
			var r EnrollmentRecord
			if err := row.Scan(&r.StudentID, &r.CourseID, &r.Grade, &r.Semester); err != nil {
				return err
			}
			d.Enrollments = append(d.Enrollments, r)
			return nil
		})
	if err != nil {
		return nil, err
	}

	err = s.each(ctx, `SELECT c_id, student_id, COALESCE(skill_type, ''), COALESCE(skill_name, ''), COALESCE(certificate_name, '')
	                   FROM certificate ORDER BY c_id`,
		func(row scanner) error {
			var r CertificateRecord
			if err := row.Scan(&r.ID, &r.StudentID, &r.SkillType, &r.SkillName, &r.CertificateName); err != nil {
				return err
			}
			d.Certificates = append(d.Certificates, r)
			return nil
		})
	if err != nil {
		return nil, err
	}

	companies := map[string]int{}
	err = s.each(ctx, `SELECT cr_id, COALESCE(company_name, ''), COALESCE(position, ''), COALESCE(job_desc, '')
	                   FROM company_requirement ORDER BY cr_id`,
		func(row scanner) error {
			r := CompanyRecord{Skills: []CompanySkillRecord{}}
			if err := row.Scan(&r.CRID, &r.CompanyName, &r.Position, &r.JobDesc); err != nil {
				return err
			}
			companies[r.CRID] = len(d.Companies)
			d.Companies = append(d.Companies, r)
			return nil
		})
	if err != nil {
		return nil, err
	}

	err = s.each(ctx, `SELECT COALESCE(cr_id, ''), COALESCE(skill_id, ''), COALESCE(skill_type, '')
	                   FROM company_requirement_skill ORDER BY crs_id`,
		func(row scanner) error {
			var crID string
			var r CompanySkillRecord
			if err := row.Scan(&crID, &r.SkillID, &r.SkillType); err != nil {
				return err
			}
			if i, ok := companies[crID]; ok {
				d.Companies[i].Skills = append(d.Companies[i].Skills, r)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	err = s.each(ctx, `SELECT student_id, COALESCE(company_id, ''), COALESCE(position, ''), COALESCE(created_at, '')
	                   FROM student_company_choice ORDER BY id`,
		func(row scanner) error {
			var r SelectionRecord
			var created string
			if err := row.Scan(&r.StudentID, &r.CompanyID, &r.Position, &created); err != nil {
				return err
			}
			r.CreatedAt = parseTime(created)
			d.Selections = append(d.Selections, r)
			return nil
		})
	if err != nil {
		return nil, err
	}

	return d, nil
}

func (s *SQLStore) each(ctx context.Context, query string, fn func(scanner) error) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return fmt.Errorf("export: %w", err)
		}
	}
	return rows.Err()
}

// upsert builds an insert-or-update statement for the active dialect.
func (s *SQLStore) upsert(table, key string, cols ...string) string {
	all := append([]string{key}, cols...)
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(all)), ", ")
	sets := make([]string, len(cols))
	for i, c := range cols {
		if s.driver == "mysql" {
			sets[i] = c + " = VALUES(" + c + ")"
		} else {
			sets[i] = c + " = excluded." + c
		}
	}
	head := "INSERT INTO " + table + " (" + strings.Join(all, ", ") + ") VALUES (" + marks + ")"
	if s.driver == "mysql" {
		return head + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	return head + " ON CONFLICT(" + key + ") DO UPDATE SET " + strings.Join(sets, ", ")
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
