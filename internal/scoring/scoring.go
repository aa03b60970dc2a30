// Package scoring ranks items by combining independent sub-signals into one
// comparable number. Scoring reads stored features only, never the network,
// and takes the reference time as an argument, so the same inputs always
// produce the same score.
package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"techradar/engine/internal/models"
)

// FallbackFeature marks items scored without a provider event time. The
// ingest path records it in raw_features so the recency penalty is visible
// when inspecting an item.
const FallbackFeature = "recency_fallback"

// Config holds the scoring weights and the keyword set. Each sub-signal is
// normalized to [0, 1] before the weighted combination; the owning source's
// weight multiplies the total.
type Config struct {
	// HalfLife is the recency decay half-life.
	HalfLife time.Duration

	// Keywords matched case-insensitively against title and text features.
	Keywords []string

	// Sub-signal weights.
	RecencyWeight  float64
	VelocityWeight float64
	ReleaseWeight  float64
	KeywordWeight  float64

	// VelocityScale is the delta at which the velocity signal reaches 0.5.
	VelocityScale float64

	// KeywordHit is the bonus per matched keyword; the keyword signal caps
	// at 1.0 regardless of hit count so it can never dominate the total.
	KeywordHit float64
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		HalfLife:       48 * time.Hour,
		RecencyWeight:  0.45,
		VelocityWeight: 0.25,
		ReleaseWeight:  0.20,
		KeywordWeight:  0.10,
		VelocityScale:  50,
		KeywordHit:     0.34,
	}
}

// Score computes the item's priority. sourceWeight multiplies the combined
// signal; a zero or negative weight is treated as the neutral 1.0.
func (c Config) Score(item *models.Item, sourceWeight float64, now time.Time) float64 {
	if sourceWeight <= 0 {
		sourceWeight = 1.0
	}

	combined := c.RecencyWeight*c.recency(item, now) +
		c.VelocityWeight*c.velocity(item.RawFeatures) +
		c.ReleaseWeight*releaseImpact(item.RawFeatures) +
		c.KeywordWeight*c.keywordResonance(item)

	return sourceWeight * combined
}

// recency decays exponentially with the age of the event. Items without an
// event time fall back to discovered_at; the ingest path flags those rows
// with FallbackFeature.
func (c Config) recency(item *models.Item, now time.Time) float64 {
	ref := item.DiscoveredAt
	if item.EventTime.Valid {
		ref = item.EventTime.Time
	}

	age := now.Sub(ref)
	if age < 0 {
		age = 0
	}

	halfLife := c.HalfLife
	if halfLife <= 0 {
		halfLife = 48 * time.Hour
	}
	return math.Exp(-math.Ln2 * age.Hours() / halfLife.Hours())
}

// velocity squashes the observed activity deltas into [0, 1). Negative or
// missing deltas clamp to zero instead of dragging the score down.
func (c Config) velocity(features models.Features) float64 {
	var total float64
	for _, name := range []string{"stars_delta", "forks_delta", "likes_delta", "downloads_delta"} {
		if v := features.Float(name); v > 0 {
			total += v
		}
	}
	if total <= 0 {
		return 0
	}

	scale := c.VelocityScale
	if scale <= 0 {
		scale = 50
	}
	return total / (total + scale)
}

// releaseImpact boosts major releases over patches. The classification is a
// pure semver-shape heuristic; anything unparseable gets the neutral middle.
func releaseImpact(features models.Features) float64 {
	raw, ok := features.Get("version")
	if !ok {
		return 0.5
	}

	v, err := semver.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return 0.5
	}

	switch {
	case v.Prerelease() != "":
		return 0.4
	case v.Minor() == 0 && v.Patch() == 0:
		return 1.0
	case v.Patch() == 0:
		return 0.6
	default:
		return 0.3
	}
}

// keywordResonance counts case-insensitive keyword matches in the title and
// the text-bearing features, bounded so the bonus stays additive.
func (c Config) keywordResonance(item *models.Item) float64 {
	if len(c.Keywords) == 0 {
		return 0
	}

	var sb strings.Builder
	sb.WriteString(item.Title)
	for _, name := range []string{"categories", "pipeline_tag", "feed_title"} {
		if v, ok := item.RawFeatures.Get(name); ok {
			sb.WriteByte(' ')
			sb.WriteString(v)
		}
	}
	haystack := strings.ToLower(sb.String())

	perHit := c.KeywordHit
	if perHit <= 0 {
		perHit = 0.34
	}

	var bonus float64
	for _, kw := range c.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(haystack, kw) {
			bonus += perHit
		}
	}
	return math.Min(bonus, 1.0)
}
