package recommend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rcliao/course-advisor/internal/model"
	"github.com/rcliao/course-advisor/internal/skillset"
)

// Merge collapses recommendations sharing a course id. The higher score
// wins the score/priority pair, ties go to the higher priority, and every
// skill set and reason is unioned. Derived display fields are recomputed
// from the merged sets. Output keeps first-seen order.
func Merge(recs []model.Recommendation) []model.Recommendation {
	index := make(map[int]int, len(recs))
	out := make([]model.Recommendation, 0, len(recs))
	for _, r := range recs {
		i, ok := index[r.CourseID]
		if !ok {
			index[r.CourseID] = len(out)
			r.Reasons = unionStrings(nil, r.Reasons)
			out = append(out, r)
			continue
		}
		out[i] = mergeOne(out[i], r)
	}
	for i := range out {
		derive(&out[i])
	}
	return out
}

func mergeOne(a, b model.Recommendation) model.Recommendation {
	m := a
	if b.Score > a.Score || (b.Score == a.Score && b.Priority.Rank() > a.Priority.Rank()) {
		m.Score, m.Priority = b.Score, b.Priority
	}
	m.CoversSkills = orEmpty(a.CoversSkills).Union(orEmpty(b.CoversSkills))
	m.ReinforcesSkills = orEmpty(a.ReinforcesSkills).Union(orEmpty(b.ReinforcesSkills))
	m.SupportsCompanySkills = orEmpty(a.SupportsCompanySkills).Union(orEmpty(b.SupportsCompanySkills))
	m.TaughtSkills = orEmpty(a.TaughtSkills).Union(orEmpty(b.TaughtSkills))
	m.Reasons = unionStrings(a.Reasons, b.Reasons)
	return m
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// derive fills the presentation fields from the skill sets.
func derive(r *model.Recommendation) {
	r.CoversSkills = orEmpty(r.CoversSkills)
	r.ReinforcesSkills = orEmpty(r.ReinforcesSkills)
	r.SupportsCompanySkills = orEmpty(r.SupportsCompanySkills)
	r.TaughtSkills = orEmpty(r.TaughtSkills)

	r.SkillAnalysis = model.SkillAnalysis{
		GapsCovered:      r.CoversSkills.Len(),
		Reinforced:       r.ReinforcesSkills.Len(),
		CompanySupported: r.SupportsCompanySkills.Len(),
		Taught:           r.TaughtSkills.Len(),
	}
	r.LearningOutcomes = learningOutcomes(r)
	r.SkillSummary = skillSummary(r.SkillAnalysis)
}

func learningOutcomes(r *model.Recommendation) string {
	var parts []string
	if !r.CoversSkills.Empty() {
		parts = append(parts, "Gain "+r.CoversSkills.Join()+".")
	}
	if !r.ReinforcesSkills.Empty() {
		parts = append(parts, "Strengthen "+r.ReinforcesSkills.Join()+".")
	}
	if len(parts) == 0 {
		if r.TaughtSkills.Empty() {
			return "General course content."
		}
		parts = append(parts, "Practice "+r.TaughtSkills.Join()+".")
	}
	return strings.Join(parts, " ")
}

func skillSummary(a model.SkillAnalysis) string {
	var parts []string
	if a.GapsCovered > 0 {
		parts = append(parts, plural(a.GapsCovered, "skill gap", "skill gaps")+" covered")
	}
	if a.Reinforced > 0 {
		parts = append(parts, plural(a.Reinforced, "certified skill", "certified skills")+" reinforced")
	}
	if a.CompanySupported > 0 {
		parts = append(parts, plural(a.CompanySupported, "company skill", "company skills")+" supported")
	}
	if len(parts) == 0 {
		return plural(a.Taught, "skill", "skills") + " taught"
	}
	return strings.Join(parts, "; ")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}

// Relevant reports whether a merged recommendation earns a place in the
// final list.
func Relevant(r model.Recommendation, required skillset.Set) bool {
	if !r.CoversSkills.Empty() {
		return true
	}
	if r.ReinforcesSkills.Intersects(required) && r.Score >= 1.0 {
		return true
	}
	return r.Score >= 2.0
}

// Finalize merges, filters, sorts by (gaps covered, score) descending and
// truncates to limit. Course id breaks remaining ties.
func Finalize(recs []model.Recommendation, required skillset.Set, limit int) []model.Recommendation {
	merged := Merge(recs)
	out := make([]model.Recommendation, 0, len(merged))
	for _, r := range merged {
		if Relevant(r, required) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.CoversSkills.Len() != b.CoversSkills.Len() {
			return a.CoversSkills.Len() > b.CoversSkills.Len()
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.CourseID < b.CourseID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
