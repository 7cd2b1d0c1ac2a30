// Package features builds the fixed-length vector fed to the course
// classifier. Training rows and scoring-time rows both go through Build.
package features

import (
	"github.com/rcliao/course-advisor/internal/model"
	"github.com/rcliao/course-advisor/internal/skillset"
)

// Count is the vector length.
const Count = 6

// Vector layout.
const (
	GapCovered = iota
	Reinforced
	CompletionRate
	Difficulty
	StudentSkills
	RequiredSkills
)

// Names labels each position, in order.
var Names = [Count]string{
	"gap_covered",
	"reinforced",
	"completion_rate",
	"difficulty",
	"student_skills",
	"required_skills",
}

// Vector is one feature row.
type Vector [Count]float64

// Slice returns the vector as a slice, the shape the classifier consumes.
func (v Vector) Slice() []float64 {
	out := make([]float64, Count)
	copy(out, v[:])
	return out
}

// Input is everything Build needs about a (course, student, company) context.
type Input struct {
	Taught         skillset.Set
	Student        skillset.Set
	Certified      skillset.Set
	Required       skillset.Set
	CompletionRate float64
	Difficulty     model.Difficulty
}

// Build computes:
//
//	0 |taught ∩ (required − student)|
//	1 |taught ∩ student ∩ certified|
//	2 completion rate in [0,1]
//	3 difficulty (Beginner=1, Intermediate=2, Advanced=3)
//	4 |student|
//	5 |required|
func Build(in Input) Vector {
	gap := in.Required.Minus(in.Student)
	return Vector{
		GapCovered:     float64(in.Taught.Intersect(gap).Len()),
		Reinforced:     float64(in.Taught.Intersect(in.Student).Intersect(in.Certified).Len()),
		CompletionRate: in.CompletionRate,
		Difficulty:     in.Difficulty.Weight(),
		StudentSkills:  float64(in.Student.Len()),
		RequiredSkills: float64(in.Required.Len()),
	}
}
