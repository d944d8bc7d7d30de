package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"xmigrate/core"
	"xmigrate/coverage"
)

// StoredMatch is one persisted coverage match.
type StoredMatch struct {
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	Severity string  `json:"severity"`
	Tags     string  `json:"tags"`
}

// StoredRule is a rule snapshot inside a saved migration.
type StoredRule struct {
	core.DetectionRule
	CoverageScore float64       `json:"coverage_score"`
	BestMatch     string        `json:"best_match,omitempty"`
	Matches       []StoredMatch `json:"coverage_matches,omitempty"`
}

// MigrationDetails is a migration with its full rule set.
type MigrationDetails struct {
	core.MigrationSummary
	Rules []StoredRule `json:"rules"`
}

// MigrationStats aggregates across all saved migrations.
type MigrationStats struct {
	TotalMigrations int64   `json:"total_migrations"`
	TotalRules      int64   `json:"total_rules"`
	TotalConverted  int64   `json:"total_converted"`
	AvgSuccessRate  float64 `json:"avg_success_rate"`
}

// MigrationStorage persists migration snapshots.
type MigrationStorage struct {
	sqlite *SQLite
}

// NewMigrationStorage creates a storage handler over an open database.
func NewMigrationStorage(sqlite *SQLite) *MigrationStorage {
	return &MigrationStorage{sqlite: sqlite}
}

// SaveMigration stores a migration summary with its rules and their
// coverage results in one transaction. results may contain nil entries for
// rules that were not evaluated. Returns the new migration ID.
func (ms *MigrationStorage) SaveMigration(summary *core.MigrationSummary, rules []core.DetectionRule, results []*coverage.Result) (int64, error) {
	if len(results) != len(rules) {
		return 0, fmt.Errorf("rule/result count mismatch: %d vs %d", len(rules), len(results))
	}

	tx, err := ms.sqlite.WriteDB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := summary.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	res, err := tx.Exec(`
		INSERT INTO migrations (created_at, source_platform, file_name, total_rules, converted_rules, failed_rules)
		VALUES (?, ?, ?, ?, ?, ?)`,
		createdAt.Format(time.RFC3339), string(summary.SourcePlatform), summary.FileName,
		summary.TotalRules, summary.Converted, summary.Failed)
	if err != nil {
		return 0, fmt.Errorf("failed to insert migration: %w", err)
	}
	migrationID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read migration id: %w", err)
	}

	for i := range rules {
		rule := &rules[i]
		score := 0.0
		bestMatch := ""
		if results[i] != nil {
			score = results[i].Confidence
			if len(results[i].Matches) > 0 {
				bestMatch = results[i].Matches[0].Analytic.Name
			}
		}

		ruleRes, err := tx.Exec(`
			INSERT INTO rules (migration_id, rule_id, name, description, original_query,
			                   converted_query, status, severity, coverage_score, best_match)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			migrationID, rule.ID, rule.Name, rule.Description, rule.OriginalQuery,
			rule.ConvertedQuery, string(rule.Status), string(rule.Severity), score, bestMatch)
		if err != nil {
			return 0, fmt.Errorf("failed to insert rule %s: %w", rule.ID, err)
		}
		rulePK, err := ruleRes.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("failed to read rule id: %w", err)
		}

		if results[i] == nil {
			continue
		}
		for _, match := range results[i].Matches {
			if _, err := tx.Exec(`
				INSERT INTO coverage_matches (rule_pk, match_name, match_score, severity, tags)
				VALUES (?, ?, ?, ?, ?)`,
				rulePK, match.Analytic.Name, match.Score,
				string(match.Analytic.Severity), strings.Join(match.Analytic.Tags, ", ")); err != nil {
				return 0, fmt.Errorf("failed to insert coverage match: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit migration: %w", err)
	}
	return migrationID, nil
}

// GetMigrations returns all migration summaries, newest first.
func (ms *MigrationStorage) GetMigrations() ([]core.MigrationSummary, error) {
	rows, err := ms.sqlite.ReadDB.Query(`
		SELECT id, created_at, source_platform, file_name, total_rules, converted_rules, failed_rules
		FROM migrations
		ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	summaries := make([]core.MigrationSummary, 0)
	for rows.Next() {
		var s core.MigrationSummary
		var platform, created string
		if err := rows.Scan(&s.ID, &created, &platform, &s.FileName, &s.TotalRules, &s.Converted, &s.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		s.SourcePlatform = core.SourcePlatform(platform)
		if s.CreatedAt, err = time.Parse(time.RFC3339, created); err != nil {
			return nil, fmt.Errorf("failed to parse created_at for migration %d: %w", s.ID, err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// GetMigrationDetails returns one migration with its rules and coverage
// matches, or ErrMigrationNotFound.
func (ms *MigrationStorage) GetMigrationDetails(id int64) (*MigrationDetails, error) {
	details := &MigrationDetails{}
	var platform, created string
	err := ms.sqlite.ReadDB.QueryRow(`
		SELECT id, created_at, source_platform, file_name, total_rules, converted_rules, failed_rules
		FROM migrations WHERE id = ?`, id).
		Scan(&details.ID, &created, &platform, &details.FileName,
			&details.TotalRules, &details.Converted, &details.Failed)
	if err == sql.ErrNoRows {
		return nil, ErrMigrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query migration %d: %w", id, err)
	}
	details.SourcePlatform = core.SourcePlatform(platform)
	if details.CreatedAt, err = time.Parse(time.RFC3339, created); err != nil {
		return nil, fmt.Errorf("failed to parse created_at for migration %d: %w", id, err)
	}

	rows, err := ms.sqlite.ReadDB.Query(`
		SELECT id, rule_id, name, description, original_query, converted_query,
		       status, severity, coverage_score, best_match
		FROM rules WHERE migration_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	rulePKs := make([]int64, 0)
	for rows.Next() {
		var r StoredRule
		var pk int64
		var status, severity string
		if err := rows.Scan(&pk, &r.DetectionRule.ID, &r.Name, &r.Description,
			&r.OriginalQuery, &r.ConvertedQuery, &status, &severity,
			&r.CoverageScore, &r.BestMatch); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		r.SourcePlatform = details.SourcePlatform
		r.Status = core.RuleStatus(status)
		r.Severity = core.Severity(severity)
		details.Rules = append(details.Rules, r)
		rulePKs = append(rulePKs, pk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, pk := range rulePKs {
		matches, err := ms.getMatches(pk)
		if err != nil {
			return nil, err
		}
		details.Rules[i].Matches = matches
	}
	return details, nil
}

func (ms *MigrationStorage) getMatches(rulePK int64) ([]StoredMatch, error) {
	rows, err := ms.sqlite.ReadDB.Query(`
		SELECT match_name, match_score, severity, tags
		FROM coverage_matches WHERE rule_pk = ? ORDER BY match_score DESC, id`, rulePK)
	if err != nil {
		return nil, fmt.Errorf("failed to query coverage matches: %w", err)
	}
	defer rows.Close()

	var matches []StoredMatch
	for rows.Next() {
		var m StoredMatch
		if err := rows.Scan(&m.Name, &m.Score, &m.Severity, &m.Tags); err != nil {
			return nil, fmt.Errorf("failed to scan coverage match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// DeleteMigration removes a migration and, through cascade, its rules and
// matches.
func (ms *MigrationStorage) DeleteMigration(id int64) error {
	res, err := ms.sqlite.WriteDB.Exec(`DELETE FROM migrations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete migration %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return ErrMigrationNotFound
	}
	return nil
}

// GetStats aggregates counts and the average conversion success rate.
func (ms *MigrationStorage) GetStats() (*MigrationStats, error) {
	stats := &MigrationStats{}
	var totalRules, totalConverted sql.NullInt64
	var avgRate sql.NullFloat64
	err := ms.sqlite.ReadDB.QueryRow(`
		SELECT COUNT(*),
		       SUM(total_rules),
		       SUM(converted_rules),
		       AVG(CASE WHEN total_rules > 0 THEN converted_rules * 1.0 / total_rules END)
		FROM migrations`).
		Scan(&stats.TotalMigrations, &totalRules, &totalConverted, &avgRate)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	stats.TotalRules = totalRules.Int64
	stats.TotalConverted = totalConverted.Int64
	stats.AvgSuccessRate = avgRate.Float64
	return stats, nil
}
