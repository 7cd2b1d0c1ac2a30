package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	t.Setenv(PathEnvVar, "")
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Cache.Backend != "memory" || cfg.Cache.RecommendationTTL != 6*time.Hour {
		t.Errorf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.Recommend.MinSkillsRequired != 3 || cfg.Recommend.MaxResults != 10 || !cfg.Recommend.UseClassifier {
		t.Errorf("unexpected recommend defaults: %+v", cfg.Recommend)
	}
	if cfg.Training.Trees != 200 || cfg.Training.Seed != 42 {
		t.Errorf("unexpected training defaults: %+v", cfg.Training)
	}
	if !strings.HasSuffix(cfg.DSN(), filepath.Join(".course-advisor", "advisor.db")) {
		t.Errorf("unexpected default DSN %q", cfg.DSN())
	}
}

func TestFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "advisor.yaml")
	yaml := "database:\n  dsn: /tmp/x.db\ncache:\n  recommendation_ttl: 2h\nrecommend:\n  max_results: 5\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COURSE_ADVISOR_RECOMMEND__MAX_RESULTS", "7")
	t.Setenv("COURSE_ADVISOR_TRAINING__REFRESH_INTERVAL", "15m")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DSN() != "/tmp/x.db" {
		t.Errorf("expected file DSN, got %q", cfg.DSN())
	}
	if cfg.Cache.RecommendationTTL != 2*time.Hour {
		t.Errorf("expected 2h from file, got %s", cfg.Cache.RecommendationTTL)
	}
	if cfg.Recommend.MaxResults != 7 {
		t.Errorf("expected env to override file, got %d", cfg.Recommend.MaxResults)
	}
	if cfg.Training.RefreshInterval != 15*time.Minute {
		t.Errorf("expected 15m refresh, got %s", cfg.Training.RefreshInterval)
	}
}

func TestExplicitMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for a missing explicit file")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Cache.Backend = "memcached"
	if cfg.Validate() == nil {
		t.Error("expected unknown backend rejected")
	}

	cfg = Default()
	cfg.Cache.Backend = "redis"
	if cfg.Validate() == nil {
		t.Error("expected redis without url rejected")
	}

	cfg = Default()
	cfg.Cache.ProfileStatusTTL = 0
	if cfg.Validate() == nil {
		t.Error("expected zero TTL rejected")
	}

	cfg = Default()
	cfg.Recommend.MinScoreThreshold = -0.1
	if cfg.Validate() == nil {
		t.Error("expected negative threshold rejected")
	}
}

func TestEnvKey(t *testing.T) {
	if got := envKey("COURSE_ADVISOR_CACHE__REDIS_URL"); got != "cache.redis_url" {
		t.Errorf("unexpected key %q", got)
	}
}
