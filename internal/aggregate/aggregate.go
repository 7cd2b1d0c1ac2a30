// Package aggregate is the read side of the recommendation pipeline. Every
// operation fails soft: a data-source error is logged and counted, and the
// caller receives empty data instead of an error.
//
// Reads go through a circuit breaker so a failing database is not hammered
// by every request; while the breaker is open reads degrade immediately.
package aggregate

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/rcliao/course-advisor/internal/metrics"
	"github.com/rcliao/course-advisor/internal/model"
	"github.com/rcliao/course-advisor/internal/skillset"
	"github.com/rcliao/course-advisor/internal/store"
)

const breakerName = "data-source"

// Config controls the circuit breaker and catalog scan.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker. Default: 5
	FailureThreshold uint32

	// Timeout is how long the breaker stays open before probing. Default: 30s
	Timeout time.Duration

	// CourseLimit caps the catalog scan. Default: store.DefaultCourseLimit
	CourseLimit int
}

// Aggregator wraps a store.Reader with fail-soft semantics.
type Aggregator struct {
	src         store.Reader
	cb          *gobreaker.CircuitBreaker[any]
	log         zerolog.Logger
	courseLimit int
}

// New creates an Aggregator.
func New(src store.Reader, cfg Config, log zerolog.Logger) *Aggregator {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CourseLimit <= 0 {
		cfg.CourseLimit = store.DefaultCourseLimit
	}

	a := &Aggregator{
		src:         src,
		log:         log.With().Str("component", "aggregate").Logger(),
		courseLimit: cfg.CourseLimit,
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	a.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// A missing row is an answer, and a caller giving up says nothing
		// about the database; neither counts toward tripping.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, store.ErrNotFound) || canceled(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return a
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// read runs fn through the breaker and records the outcome.
func read[T any](a *Aggregator, fn func() (T, error)) (T, error) {
	var zero T
	out, err := a.cb.Execute(func() (any, error) {
		v, err := fn()
		return v, err
	})
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "rejected").Inc()
		return zero, err
	case errors.Is(err, store.ErrNotFound):
		return zero, err
	case canceled(err):
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "canceled").Inc()
		return zero, err
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "failure").Inc()
		return zero, err
	}
	v, ok := out.(T)
	if !ok {
		return zero, nil
	}
	return v, nil
}

func canceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (a *Aggregator) fail(op string, err error) *zerolog.Event {
	if canceled(err) {
		return a.log.Debug().Err(err).Str("op", op)
	}
	metrics.Degradations.WithLabelValues("data_source").Inc()
	return a.log.Error().Err(err).Str("op", op)
}

// StudentData returns the student's hard and soft skills and enrollments.
// Certificate skills are fetched separately by CertificateSkills.
func (a *Aggregator) StudentData(ctx context.Context, studentID string) model.StudentProfile {
	p := model.StudentProfile{
		StudentID:         studentID,
		HardSkills:        skillset.Set{},
		SoftSkills:        skillset.Set{},
		CertificateSkills: skillset.Set{},
		Enrollments:       map[int]model.Enrollment{},
	}

	type skills struct{ hard, soft skillset.Set }
	sk, err := read(a, func() (skills, error) {
		h, s, err := a.src.StudentSkills(ctx, studentID)
		return skills{h, s}, err
	})
	if err != nil {
		a.fail("student_skills", err).Str("student_id", studentID).Msg("data source error")
	} else {
		p.HardSkills, p.SoftSkills = orEmpty(sk.hard), orEmpty(sk.soft)
	}

	enr, err := read(a, func() (map[int]model.Enrollment, error) {
		return a.src.StudentEnrollments(ctx, studentID)
	})
	if err != nil {
		a.fail("student_enrollments", err).Str("student_id", studentID).Msg("data source error")
	} else if enr != nil {
		p.Enrollments = enr
	}
	return p
}

// Profile is StudentData plus certificate skills.
func (a *Aggregator) Profile(ctx context.Context, studentID string) model.StudentProfile {
	p := a.StudentData(ctx, studentID)
	p.CertificateSkills = a.CertificateSkills(ctx, studentID)
	return p
}

// CertificateSkills returns the student's certified skills.
func (a *Aggregator) CertificateSkills(ctx context.Context, studentID string) skillset.Set {
	certs, err := read(a, func() (skillset.Set, error) {
		return a.src.CertificateSkills(ctx, studentID)
	})
	if err != nil {
		a.fail("certificate_skills", err).Str("student_id", studentID).Msg("data source error")
		return skillset.Set{}
	}
	return orEmpty(certs)
}

// SelectedCompany returns the student's current selection. ok is false when
// there is none or it could not be read.
func (a *Aggregator) SelectedCompany(ctx context.Context, studentID string) (model.CompanySelection, bool) {
	sel, err := read(a, func() (model.CompanySelection, error) {
		return a.src.SelectedCompany(ctx, studentID)
	})
	if errors.Is(err, store.ErrNotFound) {
		return model.CompanySelection{}, false
	}
	if err != nil {
		a.fail("selected_company", err).Str("student_id", studentID).Msg("data source error")
		return model.CompanySelection{}, false
	}
	return sel, true
}

// StudentCompanyIDs lists every company the student has selected.
func (a *Aggregator) StudentCompanyIDs(ctx context.Context, studentID string) []string {
	ids, err := read(a, func() ([]string, error) {
		return a.src.StudentCompanyIDs(ctx, studentID)
	})
	if err != nil {
		a.fail("student_company_ids", err).Str("student_id", studentID).Msg("data source error")
		return nil
	}
	return ids
}

// CompanyRequirement returns the posting; RequiredSkills is empty when the
// company is unknown or unreadable.
func (a *Aggregator) CompanyRequirement(ctx context.Context, companyID string) model.CompanyRequirement {
	empty := model.CompanyRequirement{CompanyID: companyID, RequiredSkills: []model.RequiredSkill{}}
	if companyID == "" {
		return empty
	}
	req, err := read(a, func() (model.CompanyRequirement, error) {
		return a.src.CompanyRequirement(ctx, companyID)
	})
	if errors.Is(err, store.ErrNotFound) {
		a.log.Warn().Str("company_id", companyID).Msg("company requirement not found")
		return empty
	}
	if err != nil {
		a.fail("company_requirement", err).Str("company_id", companyID).Msg("data source error")
		return empty
	}
	if req.RequiredSkills == nil {
		req.RequiredSkills = []model.RequiredSkill{}
	}
	return req
}

// CompanyRequiredSkills returns the ordered required skills of a posting.
func (a *Aggregator) CompanyRequiredSkills(ctx context.Context, companyID string) []model.RequiredSkill {
	return a.CompanyRequirement(ctx, companyID).RequiredSkills
}

// CandidateCourses returns catalog courses the student is not enrolled in
// whose taught skills intersect required. An empty required set yields no
// candidates.
func (a *Aggregator) CandidateCourses(ctx context.Context, excluded []int, required skillset.Set) []model.Course {
	if required.Empty() {
		return []model.Course{}
	}
	courses, err := read(a, func() ([]model.Course, error) {
		return a.src.Courses(ctx, store.CourseParams{Exclude: excluded, Limit: a.courseLimit})
	})
	if err != nil {
		a.fail("candidate_courses", err).Int("excluded", len(excluded)).Msg("data source error")
		return []model.Course{}
	}

	skip := make(map[int]struct{}, len(excluded))
	for _, id := range excluded {
		skip[id] = struct{}{}
	}
	out := make([]model.Course, 0, len(courses))
	for _, c := range courses {
		if _, ok := skip[c.ID]; ok {
			continue
		}
		if c.TaughtSkills.Intersects(required) {
			out = append(out, c)
		}
	}
	return out
}

// HistoricalEnrollments returns every enrollment row, or nil on failure.
func (a *Aggregator) HistoricalEnrollments(ctx context.Context) []model.HistoricalEnrollment {
	rows, err := read(a, func() ([]model.HistoricalEnrollment, error) {
		return a.src.HistoricalEnrollments(ctx)
	})
	if err != nil {
		a.fail("historical_enrollments", err).Msg("data source error")
		return nil
	}
	return rows
}

func orEmpty(s skillset.Set) skillset.Set {
	if s == nil {
		return skillset.Set{}
	}
	return s
}
