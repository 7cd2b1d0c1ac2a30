package recommend

import (
	"fmt"
	"strings"

	"github.com/rcliao/course-advisor/internal/model"
)

// Evaluate applies the profile gate. Completion is 50 points per satisfied
// condition; nothing is recommended unless both hold.
func Evaluate(cfg Config, p model.StudentProfile, sel model.CompanySelection, hasSelection bool) model.ProfileStatus {
	st := model.ProfileStatus{
		StudentID:           p.StudentID,
		SkillsCount:         p.SkillsCount(),
		HasInternship:       hasSelection,
		MissingRequirements: []string{},
	}
	st.HasSkills = st.SkillsCount >= cfg.MinSkillsRequired

	if st.HasSkills {
		st.CompletionPercentage += 50
	} else {
		st.MissingRequirements = append(st.MissingRequirements,
			fmt.Sprintf("Add at least %d skills to your profile (currently %d).", cfg.MinSkillsRequired, st.SkillsCount))
	}
	if hasSelection {
		st.CompletionPercentage += 50
		st.CompanyID = sel.CompanyID
	} else {
		st.MissingRequirements = append(st.MissingRequirements, "Select an internship position.")
	}
	st.ProfileComplete = st.HasSkills && st.HasInternship
	return st
}

// GateMessage renders the explanation attached to a gated result.
func GateMessage(st model.ProfileStatus) string {
	if st.ProfileComplete {
		return ""
	}
	return "Complete your profile to get course recommendations: " + strings.Join(st.MissingRequirements, " ")
}
