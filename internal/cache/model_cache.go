package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/rcliao/course-advisor/internal/metrics"
)

// Kind names what a cache entry holds.
type Kind string

const (
	KindModel           Kind = "model"
	KindRecommendations Kind = "recommendations"
	KindProfileStatus   Kind = "profile_status"
)

// Kinds lists every kind, for invalidation.
var Kinds = []Kind{KindModel, KindRecommendations, KindProfileStatus}

// NoCompany is the key segment used when no company applies.
const NoCompany = "none"

// Clock supplies the current time. Tests inject a fixed clock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// TTLs are the validity windows per kind.
type TTLs struct {
	Model           time.Duration
	Recommendations time.Duration
	ProfileStatus   time.Duration
}

// DefaultTTLs returns 24h for models, 6h for recommendations and 5m for
// profile status.
func DefaultTTLs() TTLs {
	return TTLs{
		Model:           24 * time.Hour,
		Recommendations: 6 * time.Hour,
		ProfileStatus:   5 * time.Minute,
	}
}

func (t TTLs) forKind(k Kind) time.Duration {
	switch k {
	case KindModel:
		return t.Model
	case KindRecommendations:
		return t.Recommendations
	default:
		return t.ProfileStatus
	}
}

// entry is the stored envelope. Validity is decided on read from
// CreatedAt and TTL; the backing store's own expiry is only retention.
type entry struct {
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	TTL       time.Duration   `json:"ttl"`
}

// ModelCache stores typed payloads keyed by (student, company, kind).
// Store failures are logged and behave as misses.
type ModelCache struct {
	store Store
	clock Clock
	ttls  TTLs
	log   zerolog.Logger
}

// NewModelCache creates a ModelCache. A nil clock means SystemClock.
func NewModelCache(store Store, ttls TTLs, clock Clock, log zerolog.Logger) *ModelCache {
	if clock == nil {
		clock = SystemClock{}
	}
	return &ModelCache{
		store: store,
		clock: clock,
		ttls:  ttls,
		log:   log.With().Str("component", "cache").Logger(),
	}
}

// Key renders ml:<student>:<company|none>:<kind>.
func Key(studentID, companyID string, kind Kind) string {
	if companyID == "" {
		companyID = NoCompany
	}
	return fmt.Sprintf("ml:%s:%s:%s", studentID, companyID, kind)
}

func studentPrefix(studentID string) string {
	return "ml:" + studentID + ":"
}

// Get decodes a valid entry into v and reports whether it was a hit.
// An entry is valid iff now - created_at < ttl.
func (c *ModelCache) Get(ctx context.Context, studentID, companyID string, kind Kind, v any) bool {
	key := Key(studentID, companyID, kind)
	hit := c.get(ctx, key, v)
	metrics.CacheResult(string(kind), hit)
	c.log.Debug().Str("key", key).Bool("hit", hit).Msg("cache lookup")
	return hit
}

func (c *ModelCache) get(ctx context.Context, key string, v any) bool {
	raw, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		return false
	}
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		return false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache entry undecodable")
		return false
	}
	if c.clock.Now().Sub(e.CreatedAt) >= e.TTL {
		return false
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache payload undecodable")
		return false
	}
	return true
}

// Set stores v under the kind's TTL, stamped with the clock's now.
func (c *ModelCache) Set(ctx context.Context, studentID, companyID string, kind Kind, v any) error {
	key := Key(studentID, companyID, kind)
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}
	ttl := c.ttls.forKind(kind)
	raw, err := json.Marshal(entry{Payload: payload, CreatedAt: c.clock.Now(), TTL: ttl})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.store.Set(ctx, key, raw, ttl); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Invalidate removes every entry of the student: all kinds, all companies.
func (c *ModelCache) Invalidate(ctx context.Context, studentID string) (int, error) {
	n, err := c.store.DeletePrefix(ctx, studentPrefix(studentID))
	if err != nil {
		c.log.Warn().Err(err).Str("student_id", studentID).Msg("cache invalidation failed")
		return n, fmt.Errorf("invalidate %s: %w", studentID, err)
	}
	c.log.Debug().Str("student_id", studentID).Int("removed", n).Msg("cache invalidated")
	return n, nil
}

// InvalidateCompanies deletes each kind for the listed companies and for
// NoCompany. It is the fallback when a store cannot delete by prefix.
func (c *ModelCache) InvalidateCompanies(ctx context.Context, studentID string, companyIDs []string) error {
	ids := append([]string{NoCompany}, companyIDs...)
	keys := make([]string, 0, len(ids)*len(Kinds))
	for _, id := range ids {
		for _, k := range Kinds {
			keys = append(keys, Key(studentID, id, k))
		}
	}
	return c.store.Delete(ctx, keys...)
}
