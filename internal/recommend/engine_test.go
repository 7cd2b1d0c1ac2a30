package recommend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rcliao/course-advisor/internal/cache"
	"github.com/rcliao/course-advisor/internal/logging"
	"github.com/rcliao/course-advisor/internal/model"
	"github.com/rcliao/course-advisor/internal/skillset"
	"github.com/rcliao/course-advisor/internal/trainer"
)

type fakeSource struct {
	profiles     map[string]model.StudentProfile
	selections   map[string]model.CompanySelection
	companies    map[string]model.CompanyRequirement
	courses      []model.Course
	history      []model.HistoricalEnrollment
	profileCalls int
}

// Reads under a done context come back empty, as the aggregator's do.
func (f *fakeSource) StudentData(ctx context.Context, id string) model.StudentProfile {
	if ctx.Err() != nil {
		return model.StudentProfile{StudentID: id}
	}
	p := f.profiles[id]
	p.CertificateSkills = nil
	return p
}

func (f *fakeSource) Profile(ctx context.Context, id string) model.StudentProfile {
	f.profileCalls++
	if ctx.Err() != nil {
		return model.StudentProfile{StudentID: id}
	}
	return f.profiles[id]
}

func (f *fakeSource) SelectedCompany(ctx context.Context, id string) (model.CompanySelection, bool) {
	if ctx.Err() != nil {
		return model.CompanySelection{}, false
	}
	sel, ok := f.selections[id]
	return sel, ok
}

func (f *fakeSource) StudentCompanyIDs(ctx context.Context, id string) []string {
	if sel, ok := f.selections[id]; ok {
		return []string{sel.CompanyID}
	}
	return nil
}

func (f *fakeSource) CompanyRequirement(ctx context.Context, id string) model.CompanyRequirement {
	return f.companies[id]
}

func (f *fakeSource) CandidateCourses(ctx context.Context, excluded []int, required skillset.Set) []model.Course {
	skip := map[int]bool{}
	for _, id := range excluded {
		skip[id] = true
	}
	var out []model.Course
	for _, c := range f.courses {
		if !skip[c.ID] && c.TaughtSkills.Intersects(required) {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeSource) HistoricalEnrollments(ctx context.Context) []model.HistoricalEnrollment {
	return f.history
}

type countingTrainer struct {
	model   *trainer.Model
	calls   int
	ctxDone int
}

func (c *countingTrainer) Train(ctx context.Context, p model.StudentProfile, required skillset.Set) *trainer.Model {
	c.calls++
	if ctx.Err() != nil {
		c.ctxDone++
	}
	return c.model
}

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func ruleModel() *trainer.Model {
	return &trainer.Model{Kind: trainer.KindRule, Rule: &trainer.RuleModel{}}
}

func exampleSource() *fakeSource {
	return &fakeSource{
		profiles: map[string]model.StudentProfile{
			"s1": {
				StudentID:         "s1",
				HardSkills:        skillset.New("python", "sql"),
				SoftSkills:        skillset.New("communication"),
				CertificateSkills: skillset.New("python"),
				Enrollments:       map[int]model.Enrollment{9: {CourseID: 9, Progress: 100}},
			},
			"thin": {StudentID: "thin", HardSkills: skillset.New("python")},
			"nosel": {
				StudentID:  "nosel",
				HardSkills: skillset.New("python", "sql", "go"),
			},
		},
		selections: map[string]model.CompanySelection{
			"s1":   {StudentID: "s1", CompanyID: "c1"},
			"thin": {StudentID: "thin", CompanyID: "c1"},
		},
		companies: map[string]model.CompanyRequirement{
			"c1": {CompanyID: "c1", Position: "Backend Intern", RequiredSkills: []model.RequiredSkill{
				{Name: "Python", Type: model.SkillHard},
				{Name: "Docker", Type: model.SkillHard},
				{Name: "Leadership", Type: model.SkillSoft},
			}},
			"c2": {CompanyID: "c2", Position: "Data Intern", RequiredSkills: []model.RequiredSkill{
				{Name: "Excel", Type: model.SkillHard},
			}},
		},
		courses: []model.Course{
			course(1, 3, "docker"),
			course(2, 3, "python"),
			course(3, 5, "leadership", "docker"),
			course(4, 2, "excel"),
			course(9, 3, "docker"),
		},
	}
}

func newTestEngine(t *testing.T, src Source, tr ModelTrainer) (*Engine, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	store := cache.NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })
	mc := cache.NewModelCache(store, cache.DefaultTTLs(), clock, logging.Nop())
	return NewEngine(src, tr, mc, DefaultConfig(), logging.Nop()), clock
}

func TestGateRejectsThinProfile(t *testing.T) {
	e, _ := newTestEngine(t, exampleSource(), &countingTrainer{model: ruleModel()})
	res, err := e.GetRecommendations(context.Background(), "thin", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.HasSkills || !res.HasInternship || len(res.Recommendations) != 0 {
		t.Errorf("expected gated result, got %+v", res)
	}
	if res.ProfileCompletion != 50 || res.Message == "" {
		t.Errorf("expected 50%% and a message, got %d %q", res.ProfileCompletion, res.Message)
	}
}

func TestGateRejectsMissingSelection(t *testing.T) {
	tr := &countingTrainer{model: ruleModel()}
	e, _ := newTestEngine(t, exampleSource(), tr)
	res, err := e.GetRecommendations(context.Background(), "nosel", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.HasSkills || res.HasInternship || len(res.Recommendations) != 0 {
		t.Errorf("expected gated result, got %+v", res)
	}
	if tr.calls != 0 {
		t.Error("expected no training behind a closed gate")
	}
}

func TestRecommendationsExample(t *testing.T) {
	e, _ := newTestEngine(t, exampleSource(), &countingTrainer{model: ruleModel()})
	res, err := e.GetRecommendations(context.Background(), "s1", "")
	if err != nil {
		t.Fatal(err)
	}
	if !res.HasSkills || !res.HasInternship || res.ProfileCompletion != 100 {
		t.Fatalf("expected open gate, got %+v", res)
	}
	if len(res.SkillGap) != 2 || res.SkillGap[0] != "docker" || res.SkillGap[1] != "leadership" {
		t.Errorf("unexpected skill gap %v", res.SkillGap)
	}

	var ids []int
	for _, r := range res.Recommendations {
		ids = append(ids, r.CourseID)
	}
	// 3 covers two gaps; 1 covers docker; 2 reinforces python; 9 is enrolled.
	want := []int{3, 1, 2}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
	if res.Recommendations[1].Score <= res.Recommendations[2].Score {
		t.Error("expected the docker course to outscore the python course")
	}
	md := res.Metadata
	if md.Scorer != ScorerGapHeuristic || md.ModelKind != string(trainer.KindRule) || md.CacheHit {
		t.Errorf("unexpected metadata %+v", md)
	}
	if md.SkillFulfillment != 33.33 || md.Position != "Backend Intern" || md.RequestID == "" {
		t.Errorf("unexpected metadata %+v", md)
	}
}

func TestRecommendationsCachedAndInvalidated(t *testing.T) {
	ctx := context.Background()
	src := exampleSource()
	tr := &countingTrainer{model: ruleModel()}
	e, _ := newTestEngine(t, src, tr)

	first, _ := e.GetRecommendations(ctx, "s1", "")
	second, _ := e.GetRecommendations(ctx, "s1", "")
	if !second.Metadata.CacheHit || src.profileCalls != 1 {
		t.Errorf("expected cache hit on the second call, profile reads %d", src.profileCalls)
	}
	if first.Metadata.RequestID == second.Metadata.RequestID {
		t.Error("expected a fresh request id per call")
	}
	if len(second.Recommendations) != len(first.Recommendations) {
		t.Error("expected cached recommendations to match")
	}

	if _, err := e.InvalidateCache(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	third, _ := e.GetRecommendations(ctx, "s1", "")
	if third.Metadata.CacheHit || src.profileCalls != 2 {
		t.Error("expected recomputation after invalidation")
	}
	if tr.calls != 2 {
		t.Errorf("expected model retrained after invalidation, got %d trainings", tr.calls)
	}
}

func TestRecommendationsExpireAfterTTL(t *testing.T) {
	ctx := context.Background()
	src := exampleSource()
	tr := &countingTrainer{model: ruleModel()}
	e, clock := newTestEngine(t, src, tr)

	e.GetRecommendations(ctx, "s1", "")
	clock.now = clock.now.Add(7 * time.Hour)
	res, _ := e.GetRecommendations(ctx, "s1", "")
	if res.Metadata.CacheHit || src.profileCalls != 2 {
		t.Error("expected a stale entry at T+7h to be recomputed")
	}
	if tr.calls != 1 {
		t.Errorf("expected the 24h model to be reused, got %d trainings", tr.calls)
	}
}

func TestExplicitCompanyOverridesSelection(t *testing.T) {
	e, _ := newTestEngine(t, exampleSource(), &countingTrainer{model: ruleModel()})
	res, err := e.GetRecommendations(context.Background(), "s1", "c2")
	if err != nil {
		t.Fatal(err)
	}
	if res.Metadata.CompanyID != "c2" || len(res.Recommendations) != 1 || res.Recommendations[0].CourseID != 4 {
		t.Errorf("expected only the excel course for c2, got %+v", res.Recommendations)
	}
}

func TestClassifierModelScores(t *testing.T) {
	m := &trainer.Model{Kind: trainer.KindClassifier, Classifier: &trainer.ClassifierModel{Forest: leafForest(6, 0.9), RowCount: 10}}
	e, _ := newTestEngine(t, exampleSource(), &countingTrainer{model: m})
	res, _ := e.GetRecommendations(context.Background(), "s1", "")
	if res.Metadata.Scorer != ScorerClassifier {
		t.Fatalf("expected classifier scorer, got %s", res.Metadata.Scorer)
	}
	for _, r := range res.Recommendations {
		if r.Score != 2.7 {
			t.Errorf("expected 2.7 for course %d, got %.2f", r.CourseID, r.Score)
		}
	}
}

func TestBrokenClassifierFallsBack(t *testing.T) {
	m := &trainer.Model{Kind: trainer.KindClassifier, Classifier: &trainer.ClassifierModel{Forest: leafForest(4, 0.9)}}
	e, _ := newTestEngine(t, exampleSource(), &countingTrainer{model: m})
	res, _ := e.GetRecommendations(context.Background(), "s1", "")
	if res.Metadata.Scorer != ScorerGapHeuristic || len(res.Recommendations) != 3 {
		t.Errorf("expected heuristic fallback with 3 results, got %s %d", res.Metadata.Scorer, len(res.Recommendations))
	}
}

func TestThinHistoryUsesRuleModel(t *testing.T) {
	src := exampleSource()
	src.history = []model.HistoricalEnrollment{
		{StudentID: "s1", CourseID: 9, Grade: "A", Credits: 3, TaughtSkills: skillset.New("docker")},
		{StudentID: "s1", CourseID: 2, Grade: "F", Credits: 3, TaughtSkills: skillset.New("python")},
	}
	tr := trainer.New(src, trainer.DefaultConfig(), logging.Nop())
	e, _ := newTestEngine(t, src, tr)

	res, _ := e.GetRecommendations(context.Background(), "s1", "")
	if res.Metadata.ModelKind != string(trainer.KindRule) || res.Metadata.Scorer != ScorerGapHeuristic {
		t.Fatalf("expected rule model and heuristic, got %+v", res.Metadata)
	}
	recs := res.Recommendations
	if len(recs) == 0 {
		t.Fatal("expected recommendations from the heuristic path")
	}
	for i := 1; i < len(recs); i++ {
		a, b := recs[i-1], recs[i]
		if a.CoversSkills.Len() < b.CoversSkills.Len() ||
			(a.CoversSkills.Len() == b.CoversSkills.Len() && a.Score < b.Score) {
			t.Errorf("results out of order at %d: %+v before %+v", i, a, b)
		}
	}
}

func TestSkillGap(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, exampleSource(), &countingTrainer{model: ruleModel()})

	gap, err := e.GetSkillGap(ctx, "s1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(gap) != 2 || gap[0] != "docker" || gap[1] != "leadership" {
		t.Errorf("unexpected gap %v", gap)
	}
	if gap, _ := e.GetSkillGap(ctx, "nosel", ""); len(gap) != 0 {
		t.Errorf("expected empty gap without a selection, got %v", gap)
	}
	if gap, _ := e.GetSkillGap(ctx, "nosel", "c2"); len(gap) != 1 || gap[0] != "excel" {
		t.Errorf("expected [excel], got %v", gap)
	}
}

func TestProfileStatusCached(t *testing.T) {
	ctx := context.Background()
	src := exampleSource()
	e, clock := newTestEngine(t, src, &countingTrainer{model: ruleModel()})

	st, _ := e.CheckProfileStatus(ctx, "nosel")
	if st.HasInternship {
		t.Fatal("expected no internship")
	}
	src.selections["nosel"] = model.CompanySelection{CompanyID: "c2"}
	if st, _ := e.CheckProfileStatus(ctx, "nosel"); st.HasInternship {
		t.Error("expected the cached status within 5m")
	}
	clock.now = clock.now.Add(5 * time.Minute)
	if st, _ := e.CheckProfileStatus(ctx, "nosel"); !st.HasInternship || st.CompanyID != "c2" {
		t.Errorf("expected refreshed status, got %+v", st)
	}
}

func TestEmptyStudentID(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, exampleSource(), &countingTrainer{model: ruleModel()})
	if _, err := e.GetRecommendations(ctx, "", ""); !errors.Is(err, ErrEmptyStudentID) {
		t.Errorf("expected ErrEmptyStudentID, got %v", err)
	}
	if _, err := e.GetSkillGap(ctx, "", ""); !errors.Is(err, ErrEmptyStudentID) {
		t.Errorf("expected ErrEmptyStudentID, got %v", err)
	}
	if _, err := e.CheckProfileStatus(ctx, ""); !errors.Is(err, ErrEmptyStudentID) {
		t.Errorf("expected ErrEmptyStudentID, got %v", err)
	}
	if _, err := e.InvalidateCache(ctx, ""); !errors.Is(err, ErrEmptyStudentID) {
		t.Errorf("expected ErrEmptyStudentID, got %v", err)
	}
}

func canceledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func TestCanceledStatusIsNotCached(t *testing.T) {
	e, _ := newTestEngine(t, exampleSource(), &countingTrainer{model: ruleModel()})

	if _, err := e.CheckProfileStatus(canceledContext(), "s1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	st, err := e.CheckProfileStatus(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if !st.ProfileComplete {
		t.Errorf("expected complete profile after an abandoned check, got %+v", st)
	}
}

func TestCanceledRecommendationsAreNotCached(t *testing.T) {
	tr := &countingTrainer{model: ruleModel()}
	e, _ := newTestEngine(t, exampleSource(), tr)

	if _, err := e.GetRecommendations(canceledContext(), "s1", ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if tr.calls != 0 {
		t.Errorf("expected no training for an abandoned request, got %d", tr.calls)
	}

	res, err := e.GetRecommendations(context.Background(), "s1", "")
	if err != nil {
		t.Fatal(err)
	}
	if !res.HasSkills || !res.HasInternship || len(res.Recommendations) == 0 {
		t.Errorf("expected a full result after the abandoned request, got %+v", res)
	}
	if res.Metadata.CacheHit {
		t.Error("expected a fresh computation, not a cached degraded result")
	}
}

func TestModelTrainingDetachedFromCaller(t *testing.T) {
	tr := &countingTrainer{model: ruleModel()}
	e, _ := newTestEngine(t, exampleSource(), tr)
	required := skillset.New("python", "docker")

	if m := e.Model(canceledContext(), "s1", "c1", model.StudentProfile{}, required); m == nil {
		t.Fatal("expected a model")
	}
	if tr.ctxDone != 0 {
		t.Error("expected training to run under a live context")
	}

	e.Model(context.Background(), "s1", "c1", model.StudentProfile{}, required)
	if tr.calls != 2 {
		t.Errorf("expected the abandoned caller's model to stay uncached, trained %d times", tr.calls)
	}
	e.Model(context.Background(), "s1", "c1", model.StudentProfile{}, required)
	if tr.calls != 2 {
		t.Errorf("expected the live caller's model to be cached, trained %d times", tr.calls)
	}
}
