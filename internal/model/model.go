// Package model defines the core course-advisor data types.
package model

import (
	"strings"
	"time"

	"github.com/rcliao/course-advisor/internal/skillset"
)

// SkillType distinguishes technical from interpersonal skills.
type SkillType string

const (
	SkillHard SkillType = "Hard"
	SkillSoft SkillType = "Soft"
)

// ParseSkillType accepts "Hard", "hard skill", "Soft Skill" and similar.
func ParseSkillType(s string) (SkillType, bool) {
	switch {
	case strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), "hard"):
		return SkillHard, true
	case strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), "soft"):
		return SkillSoft, true
	}
	return "", false
}

// Difficulty is derived from a course's credit weight.
type Difficulty string

const (
	Beginner     Difficulty = "Beginner"
	Intermediate Difficulty = "Intermediate"
	Advanced     Difficulty = "Advanced"
)

// DifficultyFromCredits maps credits: <=2 Beginner, 3-4 Intermediate, else Advanced.
func DifficultyFromCredits(credits int) Difficulty {
	switch {
	case credits <= 2:
		return Beginner
	case credits <= 4:
		return Intermediate
	default:
		return Advanced
	}
}

// Weight returns the numeric difficulty used as a model feature.
func (d Difficulty) Weight() float64 {
	switch d {
	case Intermediate:
		return 2
	case Advanced:
		return 3
	default:
		return 1
	}
}

// Priority is the recommendation urgency bucket.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

// Rank orders priorities Low < Medium < High.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// Enrollment is one course a student has taken or is taking.
type Enrollment struct {
	CourseID int    `json:"course_id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Grade    string `json:"grade,omitempty"`
	Progress int    `json:"progress"`
}

// StudentProfile is the read-side view of a student.
type StudentProfile struct {
	StudentID         string             `json:"student_id"`
	HardSkills        skillset.Set       `json:"hard_skills"`
	SoftSkills        skillset.Set       `json:"soft_skills"`
	CertificateSkills skillset.Set       `json:"certificate_skills"`
	Enrollments       map[int]Enrollment `json:"enrollments"`
}

// AllSkills returns hard ∪ soft skills.
func (p StudentProfile) AllSkills() skillset.Set {
	return p.HardSkills.Union(p.SoftSkills)
}

// SkillsCount is |hard| + |soft|, the number the profile gate compares.
func (p StudentProfile) SkillsCount() int {
	return p.HardSkills.Len() + p.SoftSkills.Len()
}

// EnrolledIDs returns the ids of every enrolled course.
func (p StudentProfile) EnrolledIDs() []int {
	ids := make([]int, 0, len(p.Enrollments))
	for id := range p.Enrollments {
		ids = append(ids, id)
	}
	return ids
}

// CompletionRate is the share of enrollments with progress >= 80.
func (p StudentProfile) CompletionRate() float64 {
	if len(p.Enrollments) == 0 {
		return 0
	}
	completed := 0
	for _, e := range p.Enrollments {
		if e.Progress >= 80 {
			completed++
		}
	}
	return float64(completed) / float64(len(p.Enrollments))
}

// RequiredSkill is one skill an internship position asks for.
type RequiredSkill struct {
	Name string    `json:"name"`
	Type SkillType `json:"type"`
}

// CompanyRequirement is an internship posting and the skills it requires.
type CompanyRequirement struct {
	CompanyID      string          `json:"company_id"`
	CompanyName    string          `json:"company_name"`
	Position       string          `json:"position"`
	RequiredSkills []RequiredSkill `json:"required_skills"`
}

// SkillNames returns the required skills as a normalized set.
func (c CompanyRequirement) SkillNames() skillset.Set {
	names := make([]string, 0, len(c.RequiredSkills))
	for _, s := range c.RequiredSkills {
		names = append(names, s.Name)
	}
	return skillset.New(names...)
}

// CompanySelection is a student's choice of internship posting.
type CompanySelection struct {
	StudentID string    `json:"student_id"`
	CompanyID string    `json:"company_id"`
	Position  string    `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

// Course is a catalog entry with the skills it teaches.
type Course struct {
	ID           int          `json:"course_id"`
	Name         string       `json:"name"`
	Category     string       `json:"category"`
	Description  string       `json:"description"`
	Credits      int          `json:"credits"`
	Difficulty   Difficulty   `json:"difficulty"`
	Semester     int          `json:"semester"`
	TaughtSkills skillset.Set `json:"taught_skills"`
}

// HistoricalEnrollment is one enrollment row used to build training data.
type HistoricalEnrollment struct {
	StudentID    string       `json:"student_id"`
	CourseID     int          `json:"course_id"`
	Grade        string       `json:"grade,omitempty"`
	Credits      int          `json:"credits"`
	TaughtSkills skillset.Set `json:"taught_skills"`
}

// SkillAnalysis holds counts derived from a recommendation's skill sets.
type SkillAnalysis struct {
	GapsCovered      int `json:"gaps_covered"`
	Reinforced       int `json:"reinforced"`
	CompanySupported int `json:"company_supported"`
	Taught           int `json:"taught"`
}

// Recommendation is a scored course suggestion.
type Recommendation struct {
	CourseID              int           `json:"course_id"`
	Name                  string        `json:"name"`
	Category              string        `json:"category"`
	Description           string        `json:"description"`
	Difficulty            Difficulty    `json:"difficulty"`
	Score                 float64       `json:"score"`
	Priority              Priority      `json:"priority"`
	Reasons               []string      `json:"reasons"`
	CoversSkills          skillset.Set  `json:"covers_skills"`
	ReinforcesSkills      skillset.Set  `json:"reinforces_skills"`
	SupportsCompanySkills skillset.Set  `json:"supports_company_skills"`
	TaughtSkills          skillset.Set  `json:"taught_skills"`
	SkillAnalysis         SkillAnalysis `json:"skill_analysis"`
	LearningOutcomes      string        `json:"learning_outcomes"`
	SkillSummary          string        `json:"skill_summary"`
}

// ProfileStatus is the outcome of the profile-completeness gate.
type ProfileStatus struct {
	StudentID            string   `json:"student_id"`
	ProfileComplete      bool     `json:"profile_complete"`
	HasSkills            bool     `json:"has_skills"`
	HasInternship        bool     `json:"has_internship"`
	SkillsCount          int      `json:"skills_count"`
	CompanyID            string   `json:"company_id,omitempty"`
	MissingRequirements  []string `json:"missing_requirements"`
	CompletionPercentage int      `json:"completion_percentage"`
}

// Metadata describes how a Result was produced.
type Metadata struct {
	RequestID        string    `json:"request_id"`
	StudentID        string    `json:"student_id"`
	CompanyID        string    `json:"company_id,omitempty"`
	Position         string    `json:"position,omitempty"`
	ModelKind        string    `json:"model_kind,omitempty"`
	Scorer           string    `json:"scorer,omitempty"`
	CacheHit         bool      `json:"cache_hit"`
	TotalCandidates  int       `json:"total_candidates"`
	SkillFulfillment float64   `json:"skill_fulfillment"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// Result is the response of a recommendation request.
type Result struct {
	HasSkills         bool             `json:"has_skills"`
	HasInternship     bool             `json:"has_internship"`
	Recommendations   []Recommendation `json:"recommendations"`
	SkillGap          []string         `json:"skill_gap"`
	Message           string           `json:"message"`
	ProfileCompletion int              `json:"profile_completion"`
	Metadata          Metadata         `json:"metadata"`
}
