// Package recommend runs the course recommendation pipeline: profile gate,
// cache lookup, aggregation, model acquisition, scoring and the final
// merge/filter step.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/rcliao/course-advisor/internal/cache"
	"github.com/rcliao/course-advisor/internal/metrics"
	"github.com/rcliao/course-advisor/internal/model"
	"github.com/rcliao/course-advisor/internal/skillset"
	"github.com/rcliao/course-advisor/internal/trainer"
)

// ErrEmptyStudentID is returned when an operation is called without a student.
var ErrEmptyStudentID = errors.New("student id is required")

// Source is the fail-soft read side the engine consumes.
type Source interface {
	StudentData(ctx context.Context, studentID string) model.StudentProfile
	Profile(ctx context.Context, studentID string) model.StudentProfile
	SelectedCompany(ctx context.Context, studentID string) (model.CompanySelection, bool)
	StudentCompanyIDs(ctx context.Context, studentID string) []string
	CompanyRequirement(ctx context.Context, companyID string) model.CompanyRequirement
	CandidateCourses(ctx context.Context, excluded []int, required skillset.Set) []model.Course
}

// ModelTrainer produces a model for a student context. It never fails.
type ModelTrainer interface {
	Train(ctx context.Context, profile model.StudentProfile, required skillset.Set) *trainer.Model
}

// Engine serves the exposed recommendation operations.
type Engine struct {
	src     Source
	trainer ModelTrainer
	cache   *cache.ModelCache
	cfg     Config
	log     zerolog.Logger
	now     func() time.Time

	inflight singleflight.Group
}

// NewEngine creates an Engine.
func NewEngine(src Source, tr ModelTrainer, mc *cache.ModelCache, cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		src:     src,
		trainer: tr,
		cache:   mc,
		cfg:     cfg,
		log:     log.With().Str("component", "recommend").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CheckProfileStatus evaluates the profile gate, caching the outcome.
func (e *Engine) CheckProfileStatus(ctx context.Context, studentID string) (model.ProfileStatus, error) {
	if studentID == "" {
		return model.ProfileStatus{}, ErrEmptyStudentID
	}
	start := time.Now()

	var st model.ProfileStatus
	if e.cache.Get(ctx, studentID, "", cache.KindProfileStatus, &st) {
		metrics.ObserveRequest("check_profile_status", "ok", start)
		return st, nil
	}

	profile := e.src.StudentData(ctx, studentID)
	profile.StudentID = studentID
	sel, ok := e.src.SelectedCompany(ctx, studentID)
	st = Evaluate(e.cfg, profile, sel, ok)

	// Reads under a done context come back empty; that outcome is not the
	// student's profile and must not be cached or reported.
	if err := ctx.Err(); err != nil {
		metrics.ObserveRequest("check_profile_status", "canceled", start)
		return model.ProfileStatus{}, fmt.Errorf("check profile status: %w", err)
	}
	if err := e.cache.Set(ctx, studentID, "", cache.KindProfileStatus, st); err != nil {
		e.log.Debug().Err(err).Str("student_id", studentID).Msg("profile status not cached")
	}
	metrics.ObserveRequest("check_profile_status", "ok", start)
	return st, nil
}

// GetRecommendations returns the ranked course list for a student. An
// explicit companyID overrides the selected company for scoring; the gate
// still requires a selection to exist.
func (e *Engine) GetRecommendations(ctx context.Context, studentID, companyID string) (*model.Result, error) {
	if studentID == "" {
		metrics.Requests.WithLabelValues("get_recommendations", "error").Inc()
		return nil, ErrEmptyStudentID
	}
	start := time.Now()
	requestID := ulid.Make().String()
	log := e.log.With().Str("request_id", requestID).Str("student_id", studentID).Logger()

	st, err := e.CheckProfileStatus(ctx, studentID)
	if err != nil {
		if ctx.Err() != nil {
			metrics.ObserveRequest("get_recommendations", "canceled", start)
		}
		return nil, err
	}
	if !st.ProfileComplete {
		log.Info().Bool("has_skills", st.HasSkills).Bool("has_internship", st.HasInternship).Msg("profile gate closed")
		metrics.ObserveRequest("get_recommendations", "gated", start)
		return e.gated(st, requestID), nil
	}
	if companyID == "" {
		companyID = st.CompanyID
	}

	var res model.Result
	if e.cache.Get(ctx, studentID, companyID, cache.KindRecommendations, &res) {
		res.Metadata.RequestID = requestID
		res.Metadata.CacheHit = true
		metrics.ObserveRequest("get_recommendations", "ok", start)
		return &res, nil
	}

	res, err = e.compute(ctx, log, studentID, companyID)
	if err != nil {
		metrics.ObserveRequest("get_recommendations", "canceled", start)
		log.Debug().Err(err).Msg("recommendation request abandoned")
		return nil, err
	}
	res.HasSkills, res.HasInternship = st.HasSkills, st.HasInternship
	res.ProfileCompletion = st.CompletionPercentage

	if err := e.cache.Set(ctx, studentID, companyID, cache.KindRecommendations, res); err != nil {
		log.Debug().Err(err).Msg("recommendations not cached")
	}
	res.Metadata.RequestID = requestID

	metrics.RecommendationsReturned.Observe(float64(len(res.Recommendations)))
	metrics.ObserveRequest("get_recommendations", "ok", start)
	log.Info().Str("company_id", companyID).Int("returned", len(res.Recommendations)).
		Str("scorer", res.Metadata.Scorer).Dur("took", time.Since(start)).Msg("recommendations computed")
	return &res, nil
}

func (e *Engine) gated(st model.ProfileStatus, requestID string) *model.Result {
	return &model.Result{
		HasSkills:         st.HasSkills,
		HasInternship:     st.HasInternship,
		Recommendations:   []model.Recommendation{},
		SkillGap:          []string{},
		Message:           GateMessage(st),
		ProfileCompletion: st.CompletionPercentage,
		Metadata: model.Metadata{
			RequestID:   requestID,
			StudentID:   st.StudentID,
			CompanyID:   st.CompanyID,
			GeneratedAt: e.now(),
		},
	}
}

// compute returns an error only when ctx ends mid-request, since the fail-soft
// reads cannot then be told apart from real data.
func (e *Engine) compute(ctx context.Context, log zerolog.Logger, studentID, companyID string) (model.Result, error) {
	profile := e.src.Profile(ctx, studentID)
	profile.StudentID = studentID
	req := e.src.CompanyRequirement(ctx, companyID)
	if err := ctx.Err(); err != nil {
		return model.Result{}, fmt.Errorf("compute recommendations: %w", err)
	}
	required := req.SkillNames()
	sc := NewContext(profile, required)

	m := e.Model(ctx, studentID, companyID, profile, required)
	courses := e.src.CandidateCourses(ctx, profile.EnrolledIDs(), required)
	if err := ctx.Err(); err != nil {
		return model.Result{}, fmt.Errorf("compute recommendations: %w", err)
	}

	scored, scorer := e.score(log, m, sc, courses)
	recs := Finalize(scored, required, e.cfg.MaxResults)

	return model.Result{
		Recommendations: recs,
		SkillGap:        []string(sc.Gap),
		Message:         resultMessage(req, len(recs)),
		Metadata: model.Metadata{
			StudentID:        studentID,
			CompanyID:        companyID,
			Position:         req.Position,
			ModelKind:        string(m.Kind),
			Scorer:           scorer,
			TotalCandidates:  len(courses),
			SkillFulfillment: SkillFulfillment(required, sc.Student),
			GeneratedAt:      e.now(),
		},
	}, nil
}

func (e *Engine) score(log zerolog.Logger, m *trainer.Model, sc Context, courses []model.Course) ([]model.Recommendation, string) {
	heuristic := GapHeuristic{Threshold: e.cfg.MinScoreThreshold}
	s := Fallback{Secondary: heuristic}
	if e.cfg.UseClassifier && m.IsClassifier() {
		s.Primary = Classifier{Forest: m.Classifier.Forest}
		s.OnFallback = func(err error) {
			metrics.Degradations.WithLabelValues("scoring").Inc()
			log.Warn().Err(err).Msg("classifier scoring failed, using gap heuristic")
		}
	}
	recs, name, err := s.ScoreWith(sc, courses)
	if err != nil {
		log.Error().Err(err).Msg("scoring failed")
		return []model.Recommendation{}, name
	}
	return recs, name
}

// Model returns the cached model for (student, company) or trains one.
// Concurrent misses for the same key share a single training run, which is
// detached from the first caller's cancellation. The result is cached only
// when that caller's inputs were read under a live context.
func (e *Engine) Model(ctx context.Context, studentID, companyID string, profile model.StudentProfile, required skillset.Set) *trainer.Model {
	var m trainer.Model
	if e.cache.Get(ctx, studentID, companyID, cache.KindModel, &m) {
		return &m
	}

	key := cache.Key(studentID, companyID, cache.KindModel)
	v, _, _ := e.inflight.Do(key, func() (any, error) {
		trainCtx := context.WithoutCancel(ctx)
		trained := e.trainer.Train(trainCtx, profile, required)
		if ctx.Err() != nil {
			e.log.Debug().Str("key", key).Msg("model not cached, caller context done")
			return trained, nil
		}
		if err := e.cache.Set(trainCtx, studentID, companyID, cache.KindModel, trained); err != nil {
			e.log.Debug().Err(err).Str("key", key).Msg("model not cached")
		}
		return trained, nil
	})
	return v.(*trainer.Model)
}

// GetSkillGap returns the required skills of the company (or the selected
// one) the student lacks, sorted.
func (e *Engine) GetSkillGap(ctx context.Context, studentID, companyID string) ([]string, error) {
	if studentID == "" {
		return nil, ErrEmptyStudentID
	}
	start := time.Now()
	if companyID == "" {
		sel, ok := e.src.SelectedCompany(ctx, studentID)
		if !ok {
			metrics.ObserveRequest("get_skill_gap", "ok", start)
			return []string{}, nil
		}
		companyID = sel.CompanyID
	}
	profile := e.src.StudentData(ctx, studentID)
	required := e.src.CompanyRequirement(ctx, companyID).SkillNames()
	if err := ctx.Err(); err != nil {
		metrics.ObserveRequest("get_skill_gap", "canceled", start)
		return nil, fmt.Errorf("skill gap: %w", err)
	}
	metrics.ObserveRequest("get_skill_gap", "ok", start)
	return []string(required.Minus(profile.AllSkills())), nil
}

// InvalidateCache drops every cached entry of the student. Collaborators
// call it after any skill, certificate or selection change.
func (e *Engine) InvalidateCache(ctx context.Context, studentID string) (int, error) {
	if studentID == "" {
		return 0, ErrEmptyStudentID
	}
	start := time.Now()
	n, err := e.cache.Invalidate(ctx, studentID)
	if err == nil {
		metrics.ObserveRequest("invalidate_cache", "ok", start)
		return n, nil
	}

	e.log.Warn().Err(err).Str("student_id", studentID).Msg("prefix invalidation failed, deleting known keys")
	ids := e.src.StudentCompanyIDs(ctx, studentID)
	if err := e.cache.InvalidateCompanies(ctx, studentID, ids); err != nil {
		metrics.ObserveRequest("invalidate_cache", "error", start)
		return 0, fmt.Errorf("invalidate cache for %s: %w", studentID, err)
	}
	metrics.ObserveRequest("invalidate_cache", "ok", start)
	return n, nil
}

// SkillFulfillment is the share of required skills the student already
// has, as a percentage rounded to 2 decimals. Certificates do not count.
func SkillFulfillment(required, student skillset.Set) float64 {
	if required.Empty() {
		return 0
	}
	return round2(100 * float64(required.Intersect(student).Len()) / float64(required.Len()))
}

func resultMessage(req model.CompanyRequirement, n int) string {
	target := req.Position
	if target == "" {
		target = "your selected internship"
	}
	if n == 0 {
		return fmt.Sprintf("No relevant courses found for %s.", target)
	}
	return fmt.Sprintf("Found %d recommended courses for %s.", n, target)
}
