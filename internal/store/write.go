package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rcliao/course-advisor/internal/model"
	"github.com/rcliao/course-advisor/internal/skillset"
)

// AddSkill appends name to the student's hard or soft skill field unless
// an equal (normalized) token is already there.
func (s *SQLStore) AddSkill(ctx context.Context, studentID string, t model.SkillType, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("skill name is empty")
	}
	column := "hard_skill"
	if t == model.SkillSoft {
		column = "soft_skill"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var hard, soft sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT hard_skill, soft_skill FROM studentskill WHERE student_id = ?`, studentID).Scan(&hard, &soft)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO studentskill (student_id, `+column+`) VALUES (?, ?)`, studentID, name)
		if err != nil {
			return fmt.Errorf("insert student skill: %w", err)
		}
		return tx.Commit()
	case err != nil:
		return fmt.Errorf("query student skill: %w", err)
	}

	current := hard.String
	if t == model.SkillSoft {
		current = soft.String
	}
	if skillset.Parse(current).Contains(name) {
		return nil
	}
	updated := appendToken(current, name)
	if _, err := tx.ExecContext(ctx,
		`UPDATE studentskill SET `+column+` = ? WHERE student_id = ?`, updated, studentID); err != nil {
		return fmt.Errorf("update student skill: %w", err)
	}
	return tx.Commit()
}

// RemoveSkill drops name from both skill fields. Removing an absent skill
// is not an error.
func (s *SQLStore) RemoveSkill(ctx context.Context, studentID, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var hard, soft sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT hard_skill, soft_skill FROM studentskill WHERE student_id = ?`, studentID).Scan(&hard, &soft)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("query student skill: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE studentskill SET hard_skill = ?, soft_skill = ? WHERE student_id = ?`,
		removeToken(hard.String, name), removeToken(soft.String, name), studentID); err != nil {
		return fmt.Errorf("update student skill: %w", err)
	}
	return tx.Commit()
}

func (s *SQLStore) AddCertificate(ctx context.Context, p CertificateParams) (int64, error) {
	if strings.TrimSpace(p.SkillName) == "" {
		return 0, errors.New("certificate skill name is empty")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO certificate (student_id, skill_type, skill_name, certificate_name, date_uploaded)
		 VALUES (?, ?, ?, ?, ?)`,
		p.StudentID, string(p.SkillType), strings.TrimSpace(p.SkillName), p.CertificateName,
		s.now().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("insert certificate: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLStore) RemoveCertificate(ctx context.Context, studentID string, certID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM certificate WHERE c_id = ? AND student_id = ?`, certID, studentID)
	if err != nil {
		return fmt.Errorf("delete certificate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("certificate %d for %s: %w", certID, studentID, ErrNotFound)
	}
	return nil
}

// SelectCompany records a new selection event stamped now. The newest
// event becomes the student's current selection.
func (s *SQLStore) SelectCompany(ctx context.Context, studentID, companyID string) (model.CompanySelection, error) {
	var position sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT position FROM company_requirement WHERE cr_id = ?`, companyID).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CompanySelection{}, fmt.Errorf("company %s: %w", companyID, ErrNotFound)
	}
	if err != nil {
		return model.CompanySelection{}, fmt.Errorf("query company: %w", err)
	}

	sel := model.CompanySelection{
		StudentID: studentID,
		CompanyID: companyID,
		Position:  position.String,
		CreatedAt: s.now(),
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO student_company_choice (student_id, company_id, position, created_at) VALUES (?, ?, ?, ?)`,
		sel.StudentID, sel.CompanyID, sel.Position, sel.CreatedAt.Format(timeLayout)); err != nil {
		return sel, fmt.Errorf("insert company choice: %w", err)
	}
	return sel, nil
}

func appendToken(field, token string) string {
	if strings.TrimSpace(field) == "" {
		return token
	}
	return strings.TrimRight(strings.TrimSpace(field), ",") + ", " + token
}

func removeToken(field, token string) string {
	target := skillset.Normalize(token)
	var kept []string
	for _, part := range strings.Split(field, ",") {
		p := strings.TrimSpace(part)
		if p == "" || skillset.Normalize(p) == target {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, ", ")
}
