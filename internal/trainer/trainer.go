// Package trainer turns the enrollment history into a model for scoring.
//
// The output is always usable: when history is too thin, the classifier is
// disabled, or fitting fails, Train returns a Rule model carrying only
// descriptive scalars for the heuristic scorer.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/course-advisor/internal/features"
	"github.com/rcliao/course-advisor/internal/forest"
	"github.com/rcliao/course-advisor/internal/metrics"
	"github.com/rcliao/course-advisor/internal/model"
	"github.com/rcliao/course-advisor/internal/skillset"
)

// ErrInsufficientRows means the training set is below Config.MinRows.
var ErrInsufficientRows = errors.New("insufficient training rows")

// Kind tags the active model variant.
type Kind string

const (
	KindRule       Kind = "rule"
	KindClassifier Kind = "classifier"
)

// RuleModel carries no learned weights.
type RuleModel struct {
	CompletionRate    float64 `json:"completion_rate"`
	CompanySkillCount int     `json:"company_skill_count"`
	CertSkillCount    int     `json:"cert_skill_count"`
}

// ClassifierModel is a fitted forest and the size of its training set.
type ClassifierModel struct {
	Forest   *forest.Forest `json:"forest"`
	RowCount int            `json:"row_count"`
}

// Model is a tagged variant: exactly one of Rule or Classifier is set,
// matching Kind.
type Model struct {
	Kind       Kind             `json:"kind"`
	Rule       *RuleModel       `json:"rule,omitempty"`
	Classifier *ClassifierModel `json:"classifier,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	TrainedAt  time.Time        `json:"trained_at"`
}

// IsClassifier reports whether a fitted forest is available.
func (m *Model) IsClassifier() bool {
	return m != nil && m.Kind == KindClassifier && m.Classifier != nil && m.Classifier.Forest != nil
}

var passingGrades = map[string]struct{}{
	"A": {}, "A-": {}, "B+": {}, "B": {}, "B-": {}, "C+": {}, "C": {}, "PASS": {}, "P": {},
}

// Label returns 1 for a passing grade and 0 otherwise, including no grade.
func Label(grade string) int {
	g := strings.ToUpper(strings.TrimSpace(grade))
	if g == "" {
		return 0
	}
	if _, ok := passingGrades[g]; ok {
		return 1
	}
	return 0
}

// Row is one training example.
type Row struct {
	Features features.Vector `json:"features"`
	Label    int             `json:"label"`
}

// TrainingSet is the global set built from every historical enrollment.
type TrainingSet struct {
	Rows    []Row     `json:"rows"`
	BuiltAt time.Time `json:"built_at"`
}

// Matrix returns the set in the shape forest.Fit consumes.
func (ts *TrainingSet) Matrix() ([][]float64, []int) {
	X := make([][]float64, len(ts.Rows))
	y := make([]int, len(ts.Rows))
	for i, r := range ts.Rows {
		X[i] = r.Features.Slice()
		y[i] = r.Label
	}
	return X, y
}

// Source is the fail-soft read side the trainer needs.
type Source interface {
	HistoricalEnrollments(ctx context.Context) []model.HistoricalEnrollment
	Profile(ctx context.Context, studentID string) model.StudentProfile
	SelectedCompany(ctx context.Context, studentID string) (model.CompanySelection, bool)
	CompanyRequirement(ctx context.Context, companyID string) model.CompanyRequirement
}

type studentSnapshot struct {
	skills     skillset.Set
	certs      skillset.Set
	required   skillset.Set
	completion float64
}

// BuildTrainingSet scans all enrollments. Each student's current skills,
// certificates, selected company and completion rate stand in for the
// context at enrollment time; they are read once per student.
func BuildTrainingSet(ctx context.Context, src Source, now time.Time) *TrainingSet {
	history := src.HistoricalEnrollments(ctx)
	ts := &TrainingSet{Rows: make([]Row, 0, len(history)), BuiltAt: now}

	memo := make(map[string]studentSnapshot)
	for _, h := range history {
		snap, ok := memo[h.StudentID]
		if !ok {
			p := src.Profile(ctx, h.StudentID)
			snap = studentSnapshot{
				skills:     p.AllSkills(),
				certs:      p.CertificateSkills,
				required:   skillset.Set{},
				completion: p.CompletionRate(),
			}
			if sel, ok := src.SelectedCompany(ctx, h.StudentID); ok {
				snap.required = src.CompanyRequirement(ctx, sel.CompanyID).SkillNames()
			}
			memo[h.StudentID] = snap
		}

		ts.Rows = append(ts.Rows, Row{
			Features: features.Build(features.Input{
				Taught:         h.TaughtSkills,
				Student:        snap.skills,
				Certified:      snap.certs,
				Required:       snap.required,
				CompletionRate: snap.completion,
				Difficulty:     model.DifficultyFromCredits(h.Credits),
			}),
			Label: Label(h.Grade),
		})
	}
	return ts
}

// Snapshotter supplies a prebuilt training set, if one is ready.
type Snapshotter interface {
	Snapshot() (*TrainingSet, bool)
}

// Config controls training.
type Config struct {
	// UseClassifier enables the forest. When false every model is Rule.
	UseClassifier bool

	// MinRows is the smallest training set the forest is fitted on. Default: 5
	MinRows int

	Forest forest.Config
}

// DefaultConfig returns the classifier enabled with a 5-row minimum and
// the default forest.
func DefaultConfig() Config {
	return Config{UseClassifier: true, MinRows: 5, Forest: forest.DefaultConfig()}
}

// Trainer builds models.
type Trainer struct {
	src       Source
	cfg       Config
	log       zerolog.Logger
	snapshots Snapshotter
	now       func() time.Time
}

// New creates a Trainer.
func New(src Source, cfg Config, log zerolog.Logger) *Trainer {
	if cfg.MinRows <= 0 {
		cfg.MinRows = 5
	}
	return &Trainer{
		src: src,
		cfg: cfg,
		log: log.With().Str("component", "trainer").Logger(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithSnapshots makes Train prefer a background-built training set.
func (t *Trainer) WithSnapshots(s Snapshotter) *Trainer {
	t.snapshots = s
	return t
}

// TrainingSet returns the freshest snapshot or builds one synchronously.
func (t *Trainer) TrainingSet(ctx context.Context) *TrainingSet {
	if t.snapshots != nil {
		if ts, ok := t.snapshots.Snapshot(); ok {
			return ts
		}
	}
	return BuildTrainingSet(ctx, t.src, t.now())
}

// Train returns a model for the given student context. It never fails;
// every failure path yields a Rule model with Reason set.
func (t *Trainer) Train(ctx context.Context, profile model.StudentProfile, required skillset.Set) *Model {
	return t.train(ctx, nil, profile, required)
}

// TrainOn is Train on a training set the caller already holds.
func (t *Trainer) TrainOn(ctx context.Context, ts *TrainingSet, profile model.StudentProfile, required skillset.Set) *Model {
	return t.train(ctx, ts, profile, required)
}

func (t *Trainer) train(ctx context.Context, ts *TrainingSet, profile model.StudentProfile, required skillset.Set) (m *Model) {
	start := time.Now()
	rule := &Model{
		Kind: KindRule,
		Rule: &RuleModel{
			CompletionRate:    profile.CompletionRate(),
			CompanySkillCount: required.Len(),
			CertSkillCount:    profile.CertificateSkills.Len(),
		},
		TrainedAt: t.now(),
	}

	defer func() {
		if r := recover(); r != nil {
			t.log.Error().Interface("panic", r).Msg("training panicked")
			rule.Reason = fmt.Sprintf("training panicked: %v", r)
			m = rule
		}
		metrics.ModelsTrained.WithLabelValues(string(m.Kind)).Inc()
		metrics.TrainingDuration.Observe(time.Since(start).Seconds())
	}()

	if !t.cfg.UseClassifier {
		rule.Reason = "classifier disabled"
		return rule
	}

	if ts == nil {
		ts = t.TrainingSet(ctx)
	}
	metrics.TrainingRows.Set(float64(len(ts.Rows)))

	fitted, err := t.fit(ts)
	if err != nil {
		metrics.Degradations.WithLabelValues("model_unavailable").Inc()
		t.log.Warn().Err(err).Int("rows", len(ts.Rows)).Msg("classifier unavailable, using rule model")
		rule.Reason = err.Error()
		return rule
	}

	t.log.Info().Int("rows", len(ts.Rows)).Int("trees", len(fitted.Trees)).Msg("trained classifier")
	return &Model{
		Kind:       KindClassifier,
		Classifier: &ClassifierModel{Forest: fitted, RowCount: len(ts.Rows)},
		TrainedAt:  t.now(),
	}
}

func (t *Trainer) fit(ts *TrainingSet) (*forest.Forest, error) {
	if len(ts.Rows) < t.cfg.MinRows {
		return nil, fmt.Errorf("%w: %d < %d", ErrInsufficientRows, len(ts.Rows), t.cfg.MinRows)
	}
	X, y := ts.Matrix()
	f, err := forest.Fit(X, y, t.cfg.Forest)
	if err != nil {
		return nil, fmt.Errorf("fit forest: %w", err)
	}
	return f, nil
}
