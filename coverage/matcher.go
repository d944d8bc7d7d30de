// Package coverage scores migrated detection rules against the built-in
// analytics catalog and reports whether an existing analytic likely already
// covers a rule.
package coverage

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"xmigrate/catalog"
	"xmigrate/metrics"

	"go.uber.org/zap"
)

const weightTolerance = 1e-6

var (
	// ErrConfig is returned when matcher configuration is invalid.
	ErrConfig = errors.New("invalid matcher config")

	// ErrInvalidInput is returned when Evaluate is handed a nil rule or
	// index. No partial scoring is produced.
	ErrInvalidInput = errors.New("invalid matcher input")
)

// Config controls scoring. Weights must sum to 1.0.
type Config struct {
	TopN          int     `mapstructure:"top_n"`
	Threshold     float64 `mapstructure:"threshold"`
	NameWeight    float64 `mapstructure:"name_weight"`
	KeywordWeight float64 `mapstructure:"keyword_weight"`
}

// DefaultConfig returns the standard scoring configuration.
func DefaultConfig() Config {
	return Config{
		TopN:          5,
		Threshold:     0.30,
		NameWeight:    0.6,
		KeywordWeight: 0.4,
	}
}

// Validate checks ranges and that the weights sum to 1.0 within tolerance.
// Invalid configuration is never silently corrected.
func (c Config) Validate() error {
	if c.TopN <= 0 {
		return fmt.Errorf("%w: top_n must be positive, got %d", ErrConfig, c.TopN)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("%w: threshold must be in [0,1], got %v", ErrConfig, c.Threshold)
	}
	if c.NameWeight < 0 || c.NameWeight > 1 || c.KeywordWeight < 0 || c.KeywordWeight > 1 {
		return fmt.Errorf("%w: weights must be in [0,1], got name=%v keyword=%v", ErrConfig, c.NameWeight, c.KeywordWeight)
	}
	if math.Abs(c.NameWeight+c.KeywordWeight-1.0) > weightTolerance {
		return fmt.Errorf("%w: weights must sum to 1.0, got %v", ErrConfig, c.NameWeight+c.KeywordWeight)
	}
	return nil
}

// Rule is the matcher's view of a migrated rule. How tags and techniques
// were derived (manual entry, parsed metadata, heuristics) is the caller's
// concern.
type Rule struct {
	Name       string
	Tags       []string
	Techniques []string
}

// Match pairs a catalog analytic with its similarity score.
type Match struct {
	Analytic *catalog.AnalyticRecord `json:"analytic"`
	Score    float64                 `json:"score"`
}

// Result is the outcome of evaluating one rule against the catalog.
// Matches is sorted by score descending; equal scores keep catalog order.
type Result struct {
	Covered    bool    `json:"covered"`
	Confidence float64 `json:"confidence"`
	Matches    []Match `json:"matches"`
}

// Matcher scores rules against a catalog index. It is stateless apart from
// its configuration, so a single Matcher is safe for concurrent use.
type Matcher struct {
	cfg    Config
	logger *zap.SugaredLogger
}

// NewMatcher validates the configuration and builds a Matcher.
func NewMatcher(cfg Config, logger *zap.SugaredLogger) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Matcher{cfg: cfg, logger: logger}, nil
}

// Config returns the matcher's configuration.
func (m *Matcher) Config() Config {
	return m.cfg
}

// Evaluate scores rule against every analytic in idx and returns the top
// matches with a coverage verdict. It is a pure function of its inputs:
// identical calls return identical results, including match order. An empty
// catalog yields covered=false, confidence=0, no matches.
func (m *Matcher) Evaluate(rule *Rule, idx *catalog.Index) (*Result, error) {
	if rule == nil {
		return nil, fmt.Errorf("%w: rule is nil", ErrInvalidInput)
	}
	if idx == nil {
		return nil, fmt.Errorf("%w: catalog index is nil", ErrInvalidInput)
	}

	start := time.Now()
	records := idx.All()

	ruleName := normalize(rule.Name)
	ruleTechniques := normalizeTechniques(rule.Techniques)
	ruleTags := normalizeAll(rule.Tags)

	scored := make([]Match, 0, len(records))
	for i := range records {
		a := &records[i]
		sName := ratio(ruleName, normalize(a.Name))
		sKw := m.keywordScore(ruleTechniques, ruleTags, a)
		total := clamp01(m.cfg.NameWeight*sName + m.cfg.KeywordWeight*sKw)
		scored = append(scored, Match{Analytic: a, Score: total})
	}

	// Stable: analytics with equal scores keep catalog load order.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	top := m.cfg.TopN
	if top > len(scored) {
		top = len(scored)
	}

	result := &Result{Matches: scored[:top]}
	if len(result.Matches) > 0 {
		result.Confidence = result.Matches[0].Score
		result.Covered = result.Confidence > m.cfg.Threshold
	}

	metrics.CoverageEvaluations.Inc()
	metrics.CoverageDuration.Observe(time.Since(start).Seconds())
	return result, nil
}

// keywordScore combines technique-set overlap and tag overlap. Each signal
// only contributes when the rule actually carries that kind of metadata;
// a rule with neither scores 0.
func (m *Matcher) keywordScore(ruleTechniques, ruleTags []string, a *catalog.AnalyticRecord) float64 {
	parts := 0
	sum := 0.0

	if len(ruleTechniques) > 0 {
		analyticTechniques := normalizeTechniques(a.Techniques)
		hits := 0
		for _, t := range ruleTechniques {
			for _, at := range analyticTechniques {
				if t == at {
					hits++
					break
				}
			}
		}
		sum += float64(hits) / float64(len(ruleTechniques))
		parts++
	}

	if len(ruleTags) > 0 {
		analyticTags := normalizeAll(a.Tags)
		hits := 0
		for _, tag := range ruleTags {
			for _, at := range analyticTags {
				// Exact normalized match or substring; no stemming.
				if tag == at || strings.Contains(at, tag) {
					hits++
					break
				}
			}
		}
		sum += float64(hits) / float64(len(ruleTags))
		parts++
	}

	if parts == 0 {
		return 0
	}
	return sum / float64(parts)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if n := normalize(v); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Technique IDs compare case-insensitively in canonical upper form (T1078).
func normalizeTechniques(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if n := strings.ToUpper(strings.TrimSpace(v)); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
