// Package service holds the business logic between the HTTP handlers and
// the parsing, conversion, coverage, and storage layers.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"xmigrate/catalog"
	"xmigrate/convert"
	"xmigrate/core"
	"xmigrate/coverage"
	"xmigrate/metrics"
	"xmigrate/parse"
	"xmigrate/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNoRules is returned by operations that need a loaded working set.
var ErrNoRules = errors.New("no rules loaded")

// MigrationStore defines the persistence operations the service needs.
// Defined here, in the consumer package.
type MigrationStore interface {
	SaveMigration(summary *core.MigrationSummary, rules []core.DetectionRule, results []*coverage.Result) (int64, error)
	GetMigrations() ([]core.MigrationSummary, error)
	GetMigrationDetails(id int64) (*storage.MigrationDetails, error)
	DeleteMigration(id int64) error
	GetStats() (*storage.MigrationStats, error)
}

// UploadResult summarizes one processed upload.
type UploadResult struct {
	MigrationID int64  `json:"migration_id"`
	Count       int    `json:"count"`
	Converted   int    `json:"converted"`
	Failed      int    `json:"failed"`
	Message     string `json:"message"`
}

// MigrationService owns the in-memory working set of rules for the current
// migration session. Uploads replace the set; edits, coverage analysis,
// reports, and exports all operate on it. Completed uploads are also
// persisted as history.
type MigrationService struct {
	matcher *coverage.Matcher
	cache   *coverage.ResultCache
	store   MigrationStore
	aql     *convert.AQLConverter
	logger  *zap.SugaredLogger
	loadIdx func() (*catalog.Index, error)

	mu    sync.RWMutex
	index *catalog.Index
	rules []core.DetectionRule
}

// NewMigrationService wires the service. loadIndex is called once now and
// again on ReloadCatalog. Required dependencies panic if nil.
func NewMigrationService(
	matcher *coverage.Matcher,
	cache *coverage.ResultCache,
	store MigrationStore,
	aql *convert.AQLConverter,
	loadIndex func() (*catalog.Index, error),
	logger *zap.SugaredLogger,
) (*MigrationService, error) {
	if matcher == nil {
		panic("matcher is required")
	}
	if store == nil {
		panic("store is required")
	}
	if aql == nil {
		panic("aql converter is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	idx, err := loadIndex()
	if err != nil {
		return nil, fmt.Errorf("failed to load analytics catalog: %w", err)
	}

	return &MigrationService{
		matcher: matcher,
		cache:   cache,
		store:   store,
		aql:     aql,
		logger:  logger,
		loadIdx: loadIndex,
		index:   idx,
	}, nil
}

// ProcessUpload parses an uploaded export, converts every rule to XQL,
// scores coverage, persists the migration, and replaces the working set.
func (s *MigrationService) ProcessUpload(ctx context.Context, platform core.SourcePlatform, fileName string, data []byte) (*UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	var rules []core.DetectionRule
	var err error
	switch platform {
	case core.PlatformSplunk:
		rules, err = parse.Splunk(data, s.logger)
	case core.PlatformQRadar:
		rules, err = parse.QRadar(data, s.logger)
	default:
		return nil, fmt.Errorf("unsupported source platform %q", platform)
	}
	if err != nil {
		return nil, err
	}
	metrics.RulesUploaded.WithLabelValues(string(platform)).Add(float64(len(rules)))

	converted := 0
	for i := range rules {
		rule := &rules[i]
		xql, convErr := s.convertQuery(platform, rule.OriginalQuery)
		if convErr != nil || xql == "" {
			if convErr != nil {
				s.logger.Warnf("Failed to convert rule %s: %v", rule.ID, convErr)
			}
			metrics.Conversions.WithLabelValues(string(platform), "failed").Inc()
			rule.Status = core.StatusPending
			continue
		}
		rule.ConvertedQuery = xql
		rule.Status = core.StatusTranslated
		metrics.Conversions.WithLabelValues(string(platform), "success").Inc()
		converted++
	}

	results := make([]*coverage.Result, len(rules))
	for i := range rules {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled: %w", err)
		}
		res, evalErr := s.evaluateCoverage(&rules[i])
		if evalErr != nil {
			s.logger.Warnf("Coverage evaluation failed for rule %s: %v", rules[i].ID, evalErr)
			continue
		}
		results[i] = res
	}

	summary := &core.MigrationSummary{
		SourcePlatform: platform,
		FileName:       fileName,
		TotalRules:     len(rules),
		Converted:      converted,
		Failed:         len(rules) - converted,
		CreatedAt:      time.Now().UTC(),
	}
	migrationID, err := s.store.SaveMigration(summary, rules, results)
	if err != nil {
		return nil, fmt.Errorf("failed to persist migration: %w", err)
	}

	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()

	s.logger.Infow("Processed upload",
		"platform", platform,
		"file", fileName,
		"rules", len(rules),
		"converted", converted,
		"migration_id", migrationID)

	return &UploadResult{
		MigrationID: migrationID,
		Count:       len(rules),
		Converted:   converted,
		Failed:      len(rules) - converted,
		Message:     fmt.Sprintf("Processed %d rules", len(rules)),
	}, nil
}

func (s *MigrationService) convertQuery(platform core.SourcePlatform, query string) (string, error) {
	switch platform {
	case core.PlatformSplunk:
		return convert.SPLToXQL(query)
	case core.PlatformQRadar:
		return s.aql.Convert(query)
	default:
		return "", fmt.Errorf("unsupported source platform %q", platform)
	}
}

// Rules returns a copy of the working set.
func (s *MigrationService) Rules() []core.DetectionRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.DetectionRule, len(s.rules))
	copy(out, s.rules)
	return out
}

// GetRule returns one working-set rule by ID.
func (s *MigrationService) GetRule(ruleID string) (*core.DetectionRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.rules {
		if s.rules[i].ID == ruleID {
			rule := s.rules[i]
			return &rule, nil
		}
	}
	return nil, storage.ErrRuleNotFound
}

// UpdateRule replaces a working-set rule after manual review. The rule ID
// and source platform are immutable; status moves to reviewed when the
// caller supplies a converted query.
func (s *MigrationService) UpdateRule(ruleID string, updated *core.DetectionRule) (*core.DetectionRule, error) {
	if updated == nil {
		return nil, errors.New("updated rule is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].ID != ruleID {
			continue
		}
		existing := &s.rules[i]
		updated.ID = existing.ID
		updated.SourcePlatform = existing.SourcePlatform
		updated.CreatedAt = existing.CreatedAt
		updated.UpdatedAt = time.Now().UTC()
		if updated.Status == "" {
			updated.Status = existing.Status
		}
		if err := updated.Validate(); err != nil {
			return nil, fmt.Errorf("invalid rule update: %w", err)
		}
		s.rules[i] = *updated
		rule := s.rules[i]
		return &rule, nil
	}
	return nil, storage.ErrRuleNotFound
}

// AddRule appends a hand-written rule to the working set. A missing ID is
// assigned a fresh UUID.
func (s *MigrationService) AddRule(rule *core.DetectionRule) (*core.DetectionRule, error) {
	if rule == nil {
		return nil, errors.New("rule is nil")
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if rule.Status == "" {
		rule.Status = core.StatusPending
	}
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].ID == rule.ID {
			return nil, fmt.Errorf("rule %s already exists", rule.ID)
		}
	}
	s.rules = append(s.rules, *rule)
	added := *rule
	return &added, nil
}

// DeleteRule removes a rule from the working set.
func (s *MigrationService) DeleteRule(ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].ID == ruleID {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return nil
		}
	}
	return storage.ErrRuleNotFound
}

// MarkExported flags working-set rules as pushed to the tenant.
func (s *MigrationService) MarkExported(ruleIDs []string) {
	set := make(map[string]struct{}, len(ruleIDs))
	for _, id := range ruleIDs {
		set[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for i := range s.rules {
		if _, ok := set[s.rules[i].ID]; ok {
			s.rules[i].Status = core.StatusExported
			s.rules[i].UpdatedAt = now
		}
	}
}

// Coverage evaluates one working-set rule against the analytics catalog.
func (s *MigrationService) Coverage(ruleID string) (*coverage.Result, error) {
	rule, err := s.GetRule(ruleID)
	if err != nil {
		return nil, err
	}
	return s.evaluateCoverage(rule)
}

// CoverageAll evaluates every working-set rule, returning results parallel
// to Rules().
func (s *MigrationService) CoverageAll() ([]core.DetectionRule, []*coverage.Result, error) {
	rules := s.Rules()
	if len(rules) == 0 {
		return nil, nil, ErrNoRules
	}
	results := make([]*coverage.Result, len(rules))
	for i := range rules {
		res, err := s.evaluateCoverage(&rules[i])
		if err != nil {
			return nil, nil, err
		}
		results[i] = res
	}
	return rules, results, nil
}

// evaluateCoverage scores one rule, consulting the result cache first.
// The cache key is a hash of the fields that drive scoring, so edits that
// change the score also change the key.
func (s *MigrationService) evaluateCoverage(rule *core.DetectionRule) (*coverage.Result, error) {
	key := rule.ContentHash()
	if s.cache != nil {
		if cached := s.cache.Get(key); cached != nil {
			metrics.CoverageCacheHits.Inc()
			return cached, nil
		}
	}

	s.mu.RLock()
	idx := s.index
	s.mu.RUnlock()

	res, err := s.matcher.Evaluate(&coverage.Rule{
		Name:       rule.Name,
		Tags:       rule.Tags,
		Techniques: rule.Techniques,
	}, idx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Put(key, res)
	}
	return res, nil
}

// ReloadCatalog re-reads the analytics dataset and drops cached results.
// The old index stays live if the reload fails.
func (s *MigrationService) ReloadCatalog() (int, error) {
	idx, err := s.loadIdx()
	if err != nil {
		return 0, fmt.Errorf("failed to reload analytics catalog: %w", err)
	}

	s.mu.Lock()
	s.index = idx
	s.mu.Unlock()
	if s.cache != nil {
		s.cache.Purge()
	}

	s.logger.Infof("Reloaded analytics catalog: %d analytics", idx.Len())
	return idx.Len(), nil
}

// CatalogSize returns the number of loaded analytics.
func (s *MigrationService) CatalogSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len()
}

// Migrations lists persisted migration summaries.
func (s *MigrationService) Migrations() ([]core.MigrationSummary, error) {
	return s.store.GetMigrations()
}

// MigrationDetails returns one persisted migration with its rules.
func (s *MigrationService) MigrationDetails(id int64) (*storage.MigrationDetails, error) {
	return s.store.GetMigrationDetails(id)
}

// DeleteMigration removes a persisted migration.
func (s *MigrationService) DeleteMigration(id int64) error {
	return s.store.DeleteMigration(id)
}

// Stats aggregates persisted migration history.
func (s *MigrationService) Stats() (*storage.MigrationStats, error) {
	return s.store.GetStats()
}

// Summary computes per-status counts over the working set, for dashboards.
func (s *MigrationService) Summary() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for i := range s.rules {
		counts[string(s.rules[i].Status)]++
	}
	counts["total"] = len(s.rules)
	return counts
}
