// Package cli implements the course-advisor CLI commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/rcliao/course-advisor/internal/aggregate"
	"github.com/rcliao/course-advisor/internal/cache"
	"github.com/rcliao/course-advisor/internal/config"
	"github.com/rcliao/course-advisor/internal/forest"
	"github.com/rcliao/course-advisor/internal/logging"
	"github.com/rcliao/course-advisor/internal/recommend"
	"github.com/rcliao/course-advisor/internal/store"
	"github.com/rcliao/course-advisor/internal/trainer"
)

var (
	configPath string
	dbPath     string
	formatFlag string

	cfg *config.Config
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "course-advisor",
	Short: "Course recommendations for internship preparation",
	Long:  "Recommends courses that close the gap between a student's skills and their selected internship position.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if dbPath != "" {
			c.Database.DSN = dbPath
		}
		cfg = c
		logging.Init(logging.Config{Level: c.Log.Level, Format: c.Log.Format})
		return nil
	},
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $COURSE_ADVISOR_CONFIG or ./course-advisor.yaml)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database DSN: SQLite path or mysql:// URL (default: ~/.course-advisor/advisor.db)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

func openStore() (*store.SQLStore, error) {
	return store.Open(cfg.DSN())
}

// app is the wired pipeline behind the recommendation commands.
type app struct {
	store     *store.SQLStore
	agg       *aggregate.Aggregator
	trainer   *trainer.Trainer
	refresher *trainer.Refresher
	engine    *recommend.Engine
	cacheDB   cache.Store
}

func openApp(ctx context.Context) (*app, error) {
	s, err := openStore()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var cs cache.Store
	switch cfg.Cache.Backend {
	case "redis":
		rs, err := cache.NewRedisStore(ctx, cfg.Cache.RedisURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open redis cache: %w", err)
		}
		cs = rs
	default:
		cs = cache.NewMemoryStore(10 * time.Minute)
	}

	log := logging.Logger()
	agg := aggregate.New(s, aggregate.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Timeout:          cfg.Breaker.Timeout,
		CourseLimit:      cfg.Recommend.CourseLimit,
	}, log)

	fc := forest.DefaultConfig()
	fc.Trees = cfg.Training.Trees
	fc.MaxDepth = cfg.Training.MaxDepth
	fc.Seed = cfg.Training.Seed
	tr := trainer.New(agg, trainer.Config{
		UseClassifier: cfg.Recommend.UseClassifier,
		MinRows:       cfg.Training.MinRows,
		Forest:        fc,
	}, log)

	mc := cache.NewModelCache(cs, cache.TTLs{
		Model:           cfg.Cache.ModelTTL,
		Recommendations: cfg.Cache.RecommendationTTL,
		ProfileStatus:   cfg.Cache.ProfileStatusTTL,
	}, nil, log)

	rc := recommend.Config{
		MinSkillsRequired: cfg.Recommend.MinSkillsRequired,
		MinScoreThreshold: cfg.Recommend.MinScoreThreshold,
		MaxResults:        cfg.Recommend.MaxResults,
		UseClassifier:     cfg.Recommend.UseClassifier,
	}
	if err := rc.Validate(); err != nil {
		cs.Close()
		s.Close()
		return nil, err
	}

	return &app{
		store:   s,
		agg:     agg,
		trainer: tr,
		engine:  recommend.NewEngine(agg, tr, mc, rc, log),
		cacheDB: cs,
	}, nil
}

// startRefresher runs the background training refresh when configured.
func (a *app) startRefresher(ctx context.Context) error {
	if cfg.Training.RefreshInterval <= 0 || !cfg.Recommend.UseClassifier {
		return nil
	}
	r, err := trainer.NewRefresher(a.agg, cfg.Training.RefreshInterval, logging.Logger())
	if err != nil {
		return err
	}
	if err := r.Start(ctx); err != nil {
		return err
	}
	a.refresher = r
	a.trainer.WithSnapshots(r)
	return nil
}

func (a *app) Close() {
	if a.refresher != nil {
		a.refresher.Stop()
	}
	a.cacheDB.Close()
	a.store.Close()
}

func mustOpenApp(cmd *cobra.Command) *app {
	a, err := openApp(cmd.Context())
	if err != nil {
		exitErr("open", err)
	}
	return a
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		exitErr("encode output", err)
	}
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
