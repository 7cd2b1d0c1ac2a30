package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rcliao/course-advisor/internal/model"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleDataset() Dataset {
	t0 := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	return Dataset{
		Students: []StudentRecord{{StudentID: "s1", FullName: "Student One"}, {StudentID: "s2"}},
		Courses: []CourseRecord{
			{CourseID: 101, Subject: "Cloud Ops", Curriculum: "2020", SKS: 3, Concentration: "Infrastructure", Type: "Elective", Semester: 6},
			{CourseID: 102, Subject: "Intro Python", Curriculum: "2020", SKS: 2, Type: "Core", Semester: 1},
			{CourseID: 103, Subject: "Data Systems", Curriculum: "2020", SKS: 5, Concentration: "Data", Type: "Core", Semester: 4},
		},
		SkillMaps: []SkillMapRecord{
			{SMID: "sm1", CourseID: 101, HardSkill: "Docker, Kubernetes"},
			{SMID: "sm2", CourseID: 102, HardSkill: "python"},
			{SMID: "sm3", CourseID: 103, HardSkill: "SQL, python"},
		},
		Skills: []SkillRecord{
			{SkillID: "k1", SkillName: "Python", SkillType: "Hard"},
			{SkillID: "k2", SkillName: "Docker", SkillType: "Hard"},
			{SkillID: "k3", SkillName: "Leadership", SkillType: "Soft"},
		},
		StudentSkills: []StudentSkillRecord{
			{StudentID: "s1", HardSkill: "Python, SQL ,python", SoftSkill: "Communication"},
		},
		Enrollments: []EnrollmentRecord{
			{StudentID: "s1", CourseID: 102, Grade: "A"},
			{StudentID: "s1", CourseID: 103},
			{StudentID: "s2", CourseID: 102, Grade: "D"},
		},
		Certificates: []CertificateRecord{{StudentID: "s1", SkillType: "Hard", SkillName: " Python "}},
		Companies: []CompanyRecord{
			{CRID: "c1", CompanyName: "Acme", Position: "Backend Intern", Skills: []CompanySkillRecord{
				{SkillID: "k1"}, {SkillID: "k2"}, {SkillID: "k3", SkillType: "Soft"},
			}},
			{CRID: "c2", CompanyName: "Globex", Position: "Data Intern", Skills: []CompanySkillRecord{{SkillID: "k1"}}},
		},
		Selections: []SelectionRecord{
			{StudentID: "s1", CompanyID: "c2", CreatedAt: t0},
			{StudentID: "s1", CompanyID: "c1", CreatedAt: t0.Add(time.Hour)},
		},
	}
}

func seededStore(t *testing.T) *SQLStore {
	t.Helper()
	s := newTestStore(t)
	if _, err := s.Import(context.Background(), sampleDataset()); err != nil {
		t.Fatalf("import: %v", err)
	}
	return s
}

func TestStudentSkillsNormalized(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)

	hard, soft, err := s.StudentSkills(ctx, "s1")
	if err != nil {
		t.Fatalf("student skills: %v", err)
	}
	if hard.Len() != 2 || !hard.Contains("python") || !hard.Contains("sql") {
		t.Errorf("expected hard {python, sql}, got %v", hard)
	}
	if soft.Len() != 1 || !soft.Contains("communication") {
		t.Errorf("expected soft {communication}, got %v", soft)
	}

	hard, soft, err = s.StudentSkills(ctx, "nobody")
	if err != nil {
		t.Fatalf("missing student should not error: %v", err)
	}
	if !hard.Empty() || !soft.Empty() {
		t.Error("expected empty sets for missing student")
	}
}

func TestStudentEnrollmentsProgress(t *testing.T) {
	s := seededStore(t)
	enr, err := s.StudentEnrollments(context.Background(), "s1")
	if err != nil {
		t.Fatalf("enrollments: %v", err)
	}
	if len(enr) != 2 {
		t.Fatalf("expected 2 enrollments, got %d", len(enr))
	}
	if enr[102].Progress != 100 || enr[102].Name != "Intro Python" {
		t.Errorf("unexpected graded enrollment: %+v", enr[102])
	}
	if enr[103].Progress != 0 || enr[103].Category != "Data" {
		t.Errorf("unexpected ungraded enrollment: %+v", enr[103])
	}
}

func TestCertificateSkills(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)

	certs, err := s.CertificateSkills(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if certs.Len() != 1 || !certs.Contains("python") {
		t.Errorf("expected {python}, got %v", certs)
	}

	id, err := s.AddCertificate(ctx, CertificateParams{StudentID: "s1", SkillType: model.SkillHard, SkillName: "Docker"})
	if err != nil {
		t.Fatalf("add certificate: %v", err)
	}
	certs, _ = s.CertificateSkills(ctx, "s1")
	if !certs.Contains("docker") {
		t.Errorf("expected docker after add, got %v", certs)
	}

	if err := s.RemoveCertificate(ctx, "s1", id); err != nil {
		t.Fatalf("remove certificate: %v", err)
	}
	if err := s.RemoveCertificate(ctx, "s1", id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second remove, got %v", err)
	}
}

func TestSelectedCompanyLatestWins(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)

	sel, err := s.SelectedCompany(ctx, "s1")
	if err != nil {
		t.Fatalf("selected company: %v", err)
	}
	if sel.CompanyID != "c1" {
		t.Errorf("expected latest selection c1, got %s", sel.CompanyID)
	}

	if _, err := s.SelectedCompany(ctx, "s2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	s.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if _, err := s.SelectCompany(ctx, "s1", "c2"); err != nil {
		t.Fatalf("select company: %v", err)
	}
	sel, _ = s.SelectedCompany(ctx, "s1")
	if sel.CompanyID != "c2" || sel.Position != "Data Intern" {
		t.Errorf("expected c2/Data Intern after reselect, got %+v", sel)
	}

	ids, err := s.StudentCompanyIDs(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 distinct companies, got %v", ids)
	}

	if _, err := s.SelectCompany(ctx, "s1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown company, got %v", err)
	}
}

func TestSelectedCompanyMixedTimeLayouts(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)

	// An external writer's space-separated timestamp, later the same day.
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO student_company_choice (student_id, company_id, position, created_at) VALUES (?, ?, ?, ?)`,
		"s2", "c2", "Data Intern", "2025-03-01 15:00:00"); err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	if _, err := s.SelectCompany(ctx, "s2", "c1"); err != nil {
		t.Fatalf("select company: %v", err)
	}

	sel, err := s.SelectedCompany(ctx, "s2")
	if err != nil {
		t.Fatalf("selected company: %v", err)
	}
	if sel.CompanyID != "c2" {
		t.Errorf("expected the 15:00 selection c2 to win over 09:00, got %s at %s", sel.CompanyID, sel.CreatedAt)
	}

	// Equal times fall back to the most recent row.
	s.now = func() time.Time { return time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC) }
	if _, err := s.SelectCompany(ctx, "s2", "c1"); err != nil {
		t.Fatal(err)
	}
	if sel, _ := s.SelectedCompany(ctx, "s2"); sel.CompanyID != "c1" {
		t.Errorf("expected the newer row c1 on a time tie, got %s", sel.CompanyID)
	}
}

func TestCompanyRequirementOrdered(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)

	req, err := s.CompanyRequirement(ctx, "c1")
	if err != nil {
		t.Fatalf("company requirement: %v", err)
	}
	if req.Position != "Backend Intern" || req.CompanyName != "Acme" {
		t.Errorf("unexpected requirement header: %+v", req)
	}
	want := []string{"Python", "Docker", "Leadership"}
	if len(req.RequiredSkills) != len(want) {
		t.Fatalf("expected %d skills, got %d", len(want), len(req.RequiredSkills))
	}
	for i, name := range want {
		if req.RequiredSkills[i].Name != name {
			t.Errorf("skill %d: expected %s, got %s", i, name, req.RequiredSkills[i].Name)
		}
	}
	if req.RequiredSkills[2].Type != model.SkillSoft {
		t.Errorf("expected Soft type override, got %q", req.RequiredSkills[2].Type)
	}

	if _, err := s.CompanyRequirement(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCoursesExcludeAndOrder(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)

	all, err := s.Courses(ctx, CourseParams{})
	if err != nil {
		t.Fatalf("courses: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 courses, got %d", len(all))
	}
	if all[0].ID != 101 || all[1].ID != 103 || all[2].ID != 102 {
		t.Errorf("expected semester-desc order 101,103,102, got %d,%d,%d", all[0].ID, all[1].ID, all[2].ID)
	}
	c := all[0]
	if c.Description != "2020 (Elective)" || c.Category != "Infrastructure" || c.Difficulty != model.Intermediate {
		t.Errorf("unexpected course mapping: %+v", c)
	}
	if all[2].Category != "Core" {
		t.Errorf("expected category to fall back to type, got %q", all[2].Category)
	}
	if !c.TaughtSkills.Contains("kubernetes") {
		t.Errorf("expected taught skills parsed, got %v", c.TaughtSkills)
	}

	some, err := s.Courses(ctx, CourseParams{Exclude: []int{101, 102}})
	if err != nil {
		t.Fatal(err)
	}
	if len(some) != 1 || some[0].ID != 103 {
		t.Errorf("expected only course 103, got %+v", some)
	}

	limited, _ := s.Courses(ctx, CourseParams{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("expected limit 1, got %d", len(limited))
	}
}

func TestHistoricalEnrollments(t *testing.T) {
	s := seededStore(t)
	hist, err := s.HistoricalEnrollments(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(hist))
	}
	if hist[0].StudentID != "s1" || hist[0].Grade != "A" || hist[0].Credits != 2 {
		t.Errorf("unexpected first row: %+v", hist[0])
	}
}

func TestAddAndRemoveSkill(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)

	if err := s.AddSkill(ctx, "s1", model.SkillHard, "Docker"); err != nil {
		t.Fatalf("add skill: %v", err)
	}
	if err := s.AddSkill(ctx, "s1", model.SkillHard, "docker"); err != nil {
		t.Fatalf("re-add skill: %v", err)
	}
	if err := s.AddSkill(ctx, "s2", model.SkillSoft, "Teamwork"); err != nil {
		t.Fatalf("add skill to new row: %v", err)
	}

	hard, _, _ := s.StudentSkills(ctx, "s1")
	if hard.Len() != 3 || !hard.Contains("docker") {
		t.Errorf("expected docker added once, got %v", hard)
	}
	_, soft, _ := s.StudentSkills(ctx, "s2")
	if !soft.Contains("teamwork") {
		t.Errorf("expected teamwork, got %v", soft)
	}

	if err := s.RemoveSkill(ctx, "s1", "PYTHON"); err != nil {
		t.Fatalf("remove skill: %v", err)
	}
	hard, _, _ = s.StudentSkills(ctx, "s1")
	if hard.Contains("python") {
		t.Errorf("expected python removed, got %v", hard)
	}
}

func TestExportReimport(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)

	d, err := s.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(d.Companies) != 2 || len(d.Companies[0].Skills) != 3 {
		t.Fatalf("unexpected exported companies: %+v", d.Companies)
	}

	other := newTestStore(t)
	if _, err := other.Import(ctx, *d); err != nil {
		t.Fatalf("reimport: %v", err)
	}
	a, _ := s.Stats(ctx)
	b, _ := other.Stats(ctx)
	for i := range a.Tables {
		if a.Tables[i].Rows != b.Tables[i].Rows {
			t.Errorf("table %s: %d rows vs %d", a.Tables[i].Table, a.Tables[i].Rows, b.Tables[i].Rows)
		}
	}
}

func TestSkillCatalog(t *testing.T) {
	s := seededStore(t)
	soft, err := s.SkillCatalog(context.Background(), model.SkillSoft)
	if err != nil {
		t.Fatal(err)
	}
	if len(soft) != 1 || soft[0].SkillName != "Leadership" {
		t.Errorf("expected only Leadership, got %+v", soft)
	}
}

func TestMySQLDSN(t *testing.T) {
	got := mysqlDSN("mysql://user:pw@db.local:3306/advisor?parseTime=true")
	want := "user:pw@tcp(db.local:3306)/advisor?parseTime=true"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestDBPathCreation(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sub", "dir", "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("expected db file to be created")
	}
}

func TestImportRejectsInvalidDataset(t *testing.T) {
	s := newTestStore(t)
	d := Dataset{
		Students:    []StudentRecord{{StudentID: "s1"}},
		Enrollments: []EnrollmentRecord{{StudentID: "s1"}},
	}
	n, err := s.Import(context.Background(), d)
	if !errors.Is(err, ErrInvalidDataset) {
		t.Fatalf("expected ErrInvalidDataset, got %v", err)
	}
	if n != 0 {
		t.Errorf("expected nothing written, got %d", n)
	}
	if st, _ := s.Stats(context.Background()); st != nil {
		for _, tb := range st.Tables {
			if tb.Table == "student" && tb.Rows != 0 {
				t.Errorf("expected no students after a rejected import, got %d", tb.Rows)
			}
		}
	}
}
