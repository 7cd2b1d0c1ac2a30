package recommend

import "fmt"

// Config holds the recommendation thresholds.
type Config struct {
	// MinSkillsRequired is the smallest hard+soft skill count that passes
	// the profile gate. Default: 3
	MinSkillsRequired int

	// MinScoreThreshold drops heuristic scores at or below it. Default: 0.5
	MinScoreThreshold float64

	// MaxResults truncates the final list. Default: 10
	MaxResults int

	// UseClassifier lets a fitted forest score candidates.
	UseClassifier bool
}

// DefaultConfig returns the stock thresholds with the classifier enabled.
func DefaultConfig() Config {
	return Config{
		MinSkillsRequired: 3,
		MinScoreThreshold: 0.5,
		MaxResults:        10,
		UseClassifier:     true,
	}
}

// Validate rejects thresholds the pipeline cannot honor.
func (c Config) Validate() error {
	if c.MinSkillsRequired < 0 {
		return fmt.Errorf("min_skills_required must be >= 0, got %d", c.MinSkillsRequired)
	}
	if c.MinScoreThreshold < 0 {
		return fmt.Errorf("min_score_threshold must be >= 0, got %g", c.MinScoreThreshold)
	}
	if c.MaxResults <= 0 {
		return fmt.Errorf("max_results must be positive, got %d", c.MaxResults)
	}
	return nil
}
