package recommend

import (
	"errors"
	"fmt"
	"math"

	"github.com/rcliao/course-advisor/internal/features"
	"github.com/rcliao/course-advisor/internal/forest"
	"github.com/rcliao/course-advisor/internal/model"
	"github.com/rcliao/course-advisor/internal/skillset"
)

// Scorer names.
const (
	ScorerGapHeuristic = "gap_heuristic"
	ScorerClassifier   = "classifier"
)

// Heuristic weights.
const (
	weightGap               = 2.0
	weightReinforceRequired = 1.5
	weightReinforceOther    = 0.5
	weightSupport           = 1.0
	weightCompletion        = 0.1
)

// classifierScale maps a positive-class probability onto [0,3].
const classifierScale = 3.0

// Context is the student and company state every course is scored against.
type Context struct {
	Student        skillset.Set
	Certified      skillset.Set
	Required       skillset.Set
	Gap            skillset.Set
	CompletionRate float64
}

// NewContext derives the scoring context from a profile and required skills.
func NewContext(p model.StudentProfile, required skillset.Set) Context {
	student := p.AllSkills()
	return Context{
		Student:        student,
		Certified:      orEmpty(p.CertificateSkills),
		Required:       orEmpty(required),
		Gap:            orEmpty(required).Minus(student),
		CompletionRate: p.CompletionRate(),
	}
}

// annotation is the set-intersection view of one course.
type annotation struct {
	covers     skillset.Set
	reinforces skillset.Set
	supports   skillset.Set
}

func annotate(sc Context, c model.Course) annotation {
	taught := orEmpty(c.TaughtSkills)
	return annotation{
		covers:     taught.Intersect(sc.Gap),
		reinforces: taught.Intersect(sc.Student).Intersect(sc.Certified),
		supports:   taught.Intersect(sc.Required),
	}
}

// Scorer turns candidate courses into scored recommendations.
type Scorer interface {
	Name() string
	Score(sc Context, courses []model.Course) ([]model.Recommendation, error)
}

// GapHeuristic scores by weighted skill-set overlap.
type GapHeuristic struct {
	Threshold float64
}

func (GapHeuristic) Name() string { return ScorerGapHeuristic }

// Score drops courses with no company relevance before scoring and courses
// at or below the threshold after. It never fails.
func (g GapHeuristic) Score(sc Context, courses []model.Course) ([]model.Recommendation, error) {
	out := make([]model.Recommendation, 0, len(courses))
	for _, c := range courses {
		a := annotate(sc, c)
		if a.covers.Empty() && a.supports.Empty() {
			continue
		}
		score := heuristicScore(sc, a)
		if score <= g.Threshold {
			continue
		}
		out = append(out, newRecommendation(c, a, score))
	}
	return out, nil
}

func heuristicScore(sc Context, a annotation) float64 {
	reinforcedReq := a.reinforces.Intersect(sc.Required).Len()
	reinforcedOther := a.reinforces.Minus(sc.Required).Len()
	supportOnly := a.supports.Minus(a.covers).Minus(a.reinforces).Len()

	return weightGap*float64(a.covers.Len()) +
		weightReinforceRequired*float64(reinforcedReq) +
		weightReinforceOther*float64(reinforcedOther) +
		weightSupport*float64(supportOnly) +
		weightCompletion*sc.CompletionRate
}

// Classifier scores by the forest's pass probability. Explanations come
// from the same set intersections the heuristic uses.
type Classifier struct {
	Forest *forest.Forest
}

func (Classifier) Name() string { return ScorerClassifier }

func (c Classifier) Score(sc Context, courses []model.Course) (out []model.Recommendation, err error) {
	if c.Forest == nil {
		return nil, forest.ErrNotFitted
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("classifier panicked: %v", r)
		}
	}()

	X := make([][]float64, len(courses))
	for i, course := range courses {
		X[i] = features.Build(features.Input{
			Taught:         orEmpty(course.TaughtSkills),
			Student:        sc.Student,
			Certified:      sc.Certified,
			Required:       sc.Required,
			CompletionRate: sc.CompletionRate,
			Difficulty:     course.Difficulty,
		}).Slice()
	}
	proba, err := c.Forest.PredictProbaBatch(X)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	if len(proba) != len(courses) {
		return nil, fmt.Errorf("%w: %d probabilities for %d courses", forest.ErrShapeMismatch, len(proba), len(courses))
	}

	out = make([]model.Recommendation, 0, len(courses))
	for i, course := range courses {
		out = append(out, newRecommendation(course, annotate(sc, course), proba[i]*classifierScale))
	}
	return out, nil
}

// Fallback tries Primary and scores with Secondary when it fails.
type Fallback struct {
	Primary   Scorer
	Secondary Scorer
	// OnFallback is called with the primary's error before falling back.
	OnFallback func(error)
}

// ErrNoScorer is returned by a Fallback with nothing to run.
var ErrNoScorer = errors.New("no scorer configured")

func (f Fallback) Name() string {
	if f.Primary != nil {
		return f.Primary.Name()
	}
	if f.Secondary != nil {
		return f.Secondary.Name()
	}
	return ""
}

// ScoreWith returns the recommendations and the name of the scorer that
// produced them.
func (f Fallback) ScoreWith(sc Context, courses []model.Course) ([]model.Recommendation, string, error) {
	if f.Primary != nil {
		recs, err := f.Primary.Score(sc, courses)
		if err == nil {
			return recs, f.Primary.Name(), nil
		}
		if f.OnFallback != nil {
			f.OnFallback(err)
		}
	}
	if f.Secondary == nil {
		return nil, "", ErrNoScorer
	}
	recs, err := f.Secondary.Score(sc, courses)
	return recs, f.Secondary.Name(), err
}

func (f Fallback) Score(sc Context, courses []model.Course) ([]model.Recommendation, error) {
	recs, _, err := f.ScoreWith(sc, courses)
	return recs, err
}

// PriorityFor maps a score and gap coverage onto a priority bucket.
func PriorityFor(score float64, gapsCovered int) model.Priority {
	switch {
	case score >= 4.0:
		return model.PriorityHigh
	case score >= 3.0 && gapsCovered > 0:
		return model.PriorityHigh
	case score >= 2.0 || gapsCovered > 0:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

// Reasons explains a recommendation from its skill sets.
func Reasons(covers, reinforces, supports skillset.Set) []string {
	var reasons []string
	if !covers.Empty() {
		reasons = append(reasons, "Covers missing skills: "+covers.Join()+".")
	}
	if !reinforces.Empty() {
		reasons = append(reasons, "Reinforces certified skills: "+reinforces.Join()+".")
	}
	if other := supports.Minus(covers).Minus(reinforces); !other.Empty() {
		reasons = append(reasons, "Supports company requirements: "+other.Join()+".")
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "Recommended based on your profile.")
	}
	return reasons
}

func newRecommendation(c model.Course, a annotation, score float64) model.Recommendation {
	score = round2(score)
	return model.Recommendation{
		CourseID:              c.ID,
		Name:                  c.Name,
		Category:              c.Category,
		Description:           c.Description,
		Difficulty:            c.Difficulty,
		Score:                 score,
		Priority:              PriorityFor(score, a.covers.Len()),
		Reasons:               Reasons(a.covers, a.reinforces, a.supports),
		CoversSkills:          a.covers,
		ReinforcesSkills:      a.reinforces,
		SupportsCompanySkills: a.supports,
		TaughtSkills:          orEmpty(c.TaughtSkills),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func orEmpty(s skillset.Set) skillset.Set {
	if s == nil {
		return skillset.Set{}
	}
	return s
}
