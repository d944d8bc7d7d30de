// Package cmd provides the offline command-line workflow: convert a SIEM
// rule export, check analytics coverage, and produce reports or a content
// pack without running the HTTP server.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"xmigrate/catalog"
	"xmigrate/config"
	"xmigrate/convert"
	"xmigrate/core"
	"xmigrate/coverage"
	"xmigrate/parse"
	"xmigrate/report"
	"xmigrate/xsiam"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags for migrate commands
var (
	outputJSON bool
	noColor    bool
	quiet      bool
)

const (
	maxExportFileSize = 10 * 1024 * 1024 // 10MB - protection against memory exhaustion
	defaultTimeout    = 5 * time.Minute
)

// validateFilePath rejects paths that traverse outside the working
// directory, including URL-encoded forms.
func validateFilePath(filename string) error {
	decoded, err := url.QueryUnescape(filename)
	if err != nil {
		decoded = filename
	}

	if strings.Contains(decoded, "..") || strings.Contains(filename, "..") {
		return fmt.Errorf("path traversal detected: '..' not allowed in file path")
	}

	cleanPath := filepath.Clean(decoded)
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	if !strings.HasPrefix(absPath, workDir) {
		return fmt.Errorf("path escapes current directory")
	}

	return nil
}

// NewMigrateCmd creates the root migrate command with all subcommands.
func NewMigrateCmd() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate SIEM detection rules to Cortex XSIAM",
		Long: `Migrate detection rules exported from Splunk or QRadar to Cortex XSIAM.

Parses an export file, converts queries to XQL, checks which rules the
built-in analytics catalog already covers, and writes reports, a content
pack, or pushes rules straight to a tenant.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	migrateCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	migrateCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	migrateCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")

	migrateCmd.AddCommand(newConvertCmd())
	migrateCmd.AddCommand(newCoverageCmd())
	migrateCmd.AddCommand(newPackCmd())
	migrateCmd.AddCommand(newPushCmd())
	migrateCmd.AddCommand(newCatalogCmd())

	return migrateCmd
}

// pipeline bundles everything the offline commands need.
type pipeline struct {
	cfg     *config.Config
	logger  *zap.SugaredLogger
	index   *catalog.Index
	matcher *coverage.Matcher
	aql     *convert.AQLConverter
}

// initPipeline loads configuration, the analytics catalog, and the
// converters. Returns the pipeline and a cleanup function.
func initPipeline() (*pipeline, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	sugar := logger.Sugar()

	idx, err := catalog.Load(cfg.DataPaths.CatalogPath, sugar)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load analytics catalog: %w", err)
	}

	matcher, err := coverage.NewMatcher(cfg.Coverage, sugar)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build matcher: %w", err)
	}

	aql := convert.NewAQLConverter()
	if cfg.DataPaths.FieldMappingsPath != "" {
		fields, err := convert.LoadFieldMappings(cfg.DataPaths.FieldMappingsPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load field mappings: %w", err)
		}
		aql = convert.NewAQLConverterWithFields(fields)
	}

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			sugar.Debugf("Failed to sync logger during cleanup: %v", err)
		}
	}

	return &pipeline{cfg: cfg, logger: sugar, index: idx, matcher: matcher, aql: aql}, cleanup, nil
}

// loadRules reads and parses an export file, then converts every rule.
// Rules whose query cannot be converted stay pending.
func (p *pipeline) loadRules(platform core.SourcePlatform, filename string) ([]core.DetectionRule, int, error) {
	if err := validateFilePath(filename); err != nil {
		return nil, 0, fmt.Errorf("invalid file path: %w", err)
	}

	fileInfo, err := os.Stat(filename)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to stat file: %w", err)
	}
	if fileInfo.Size() > maxExportFileSize {
		return nil, 0, fmt.Errorf("file too large: maximum size is %d bytes, got %d bytes",
			maxExportFileSize, fileInfo.Size())
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read file: %w", err)
	}

	var rules []core.DetectionRule
	switch platform {
	case core.PlatformSplunk:
		rules, err = parse.Splunk(data, p.logger)
	case core.PlatformQRadar:
		rules, err = parse.QRadar(data, p.logger)
	default:
		return nil, 0, fmt.Errorf("unsupported source platform %q", platform)
	}
	if err != nil {
		return nil, 0, err
	}

	converted := 0
	for i := range rules {
		rule := &rules[i]
		var xql string
		var convErr error
		switch platform {
		case core.PlatformSplunk:
			xql, convErr = convert.SPLToXQL(rule.OriginalQuery)
		case core.PlatformQRadar:
			xql, convErr = p.aql.Convert(rule.OriginalQuery)
		}
		if convErr != nil || xql == "" {
			rule.Status = core.StatusPending
			continue
		}
		rule.ConvertedQuery = xql
		rule.Status = core.StatusTranslated
		converted++
	}

	return rules, converted, nil
}

// evaluateAll scores every rule against the catalog.
func (p *pipeline) evaluateAll(rules []core.DetectionRule) ([]*coverage.Result, error) {
	results := make([]*coverage.Result, len(rules))
	for i := range rules {
		res, err := p.matcher.Evaluate(&coverage.Rule{
			Name:       rules[i].Name,
			Tags:       rules[i].Tags,
			Techniques: rules[i].Techniques,
		}, p.index)
		if err != nil {
			return nil, fmt.Errorf("coverage evaluation failed for rule %s: %w", rules[i].ID, err)
		}
		results[i] = res
	}
	return results, nil
}

// newConvertCmd creates the 'convert' subcommand
func newConvertCmd() *cobra.Command {
	var (
		platformName string
		outputFile   string
		format       string
	)

	cmd := &cobra.Command{
		Use:   "convert <export-file>",
		Short: "Convert an export file to XQL",
		Long:  "Parse a Splunk or QRadar rule export and convert every query to XQL.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			platform, err := core.ParsePlatform(platformName)
			if err != nil {
				return err
			}

			p, cleanup, err := initPipeline()
			if err != nil {
				return err
			}
			defer cleanup()

			rules, converted, err := p.loadRules(platform, args[0])
			if err != nil {
				return err
			}

			if outputFile != "" {
				if err := writeRulesFile(outputFile, format, rules); err != nil {
					return err
				}
				if !quiet {
					successColor.Printf("✓ Wrote %d rules to %s\n", len(rules), outputFile)
				}
			}

			if outputJSON {
				return outputAsJSON(rules)
			}

			renderRulesTable(rules)
			if !quiet {
				if converted == len(rules) {
					successColor.Printf("✓ Converted %d/%d rules\n", converted, len(rules))
				} else {
					warningColor.Printf("⚠ Converted %d/%d rules, %d need manual review\n",
						converted, len(rules), len(rules)-converted)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&platformName, "platform", "p", "", "Source platform (splunk, qradar)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write converted rules to a file")
	cmd.Flags().StringVar(&format, "format", "json", "Output file format (json, yaml)")
	_ = cmd.MarkFlagRequired("platform")

	return cmd
}

// newCoverageCmd creates the 'coverage' subcommand
func newCoverageCmd() *cobra.Command {
	var (
		platformName string
		csvFile      string
		showProgress bool
	)

	cmd := &cobra.Command{
		Use:   "coverage <export-file>",
		Short: "Check analytics coverage for an export",
		Long:  "Convert an export and report which rules the XSIAM analytics catalog already covers.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			platform, err := core.ParsePlatform(platformName)
			if err != nil {
				return err
			}

			p, cleanup, err := initPipeline()
			if err != nil {
				return err
			}
			defer cleanup()

			rules, _, err := p.loadRules(platform, args[0])
			if err != nil {
				return err
			}
			if len(rules) == 0 {
				warningColor.Println("No rules found in export")
				return nil
			}

			var s *spinner.Spinner
			if showProgress && !outputJSON && !quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = " Checking coverage..."
				s.Start()
			}

			results, err := p.evaluateAll(rules)

			if s != nil {
				s.Stop()
			}
			if err != nil {
				return err
			}

			if csvFile != "" {
				if err := validateFilePath(csvFile); err != nil {
					return fmt.Errorf("invalid file path: %w", err)
				}
				f, err := os.Create(csvFile)
				if err != nil {
					return fmt.Errorf("failed to create file: %w", err)
				}
				defer f.Close()
				if err := report.WriteCSV(f, rules, results); err != nil {
					return fmt.Errorf("failed to write report: %w", err)
				}
				if !quiet {
					successColor.Printf("✓ Wrote coverage report to %s\n", csvFile)
				}
			}

			if outputJSON {
				return outputAsJSON(results)
			}

			renderCoverageTable(rules, results)
			return nil
		},
	}

	cmd.Flags().StringVarP(&platformName, "platform", "p", "", "Source platform (splunk, qradar)")
	cmd.Flags().StringVar(&csvFile, "csv", "", "Write a CSV coverage report to a file")
	cmd.Flags().BoolVar(&showProgress, "progress", true, "Show progress indicator")
	_ = cmd.MarkFlagRequired("platform")

	return cmd
}

// newPackCmd creates the 'pack' subcommand
func newPackCmd() *cobra.Command {
	var (
		platformName string
		outputFile   string
		packName     string
	)

	cmd := &cobra.Command{
		Use:   "pack <export-file>",
		Short: "Build an XSIAM content pack",
		Long:  "Convert an export and bundle the converted rules into an XSIAM content pack ZIP.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			platform, err := core.ParsePlatform(platformName)
			if err != nil {
				return err
			}

			p, cleanup, err := initPipeline()
			if err != nil {
				return err
			}
			defer cleanup()

			rules, converted, err := p.loadRules(platform, args[0])
			if err != nil {
				return err
			}
			if converted == 0 {
				return fmt.Errorf("no rules could be converted; nothing to pack")
			}

			if err := validateFilePath(outputFile); err != nil {
				return fmt.Errorf("invalid file path: %w", err)
			}
			f, err := os.Create(outputFile)
			if err != nil {
				return fmt.Errorf("failed to create file: %w", err)
			}
			defer f.Close()

			if err := report.WriteContentPack(f, packName, rules); err != nil {
				return fmt.Errorf("failed to build content pack: %w", err)
			}

			if !quiet {
				successColor.Printf("✓ Packed %d rules into %s\n", converted, outputFile)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&platformName, "platform", "p", "", "Source platform (splunk, qradar)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "content_pack.zip", "Output ZIP path")
	cmd.Flags().StringVar(&packName, "name", "MigratedRules", "Content pack name")
	_ = cmd.MarkFlagRequired("platform")

	return cmd
}

// newPushCmd creates the 'push' subcommand
func newPushCmd() *cobra.Command {
	var (
		platformName string
		showProgress bool
	)

	cmd := &cobra.Command{
		Use:   "push <export-file>",
		Short: "Push converted rules to an XSIAM tenant",
		Long: `Convert an export and upload the converted rules as correlation rules
to the XSIAM tenant configured under the xsiam config section.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			platform, err := core.ParsePlatform(platformName)
			if err != nil {
				return err
			}

			p, cleanup, err := initPipeline()
			if err != nil {
				return err
			}
			defer cleanup()

			if !p.cfg.XSIAMConfigured() {
				return fmt.Errorf("XSIAM tenant not configured (set xsiam.fqdn, xsiam.api_key, xsiam.api_key_id)")
			}

			client, err := xsiam.NewClient(p.cfg.XSIAM, p.logger)
			if err != nil {
				return fmt.Errorf("failed to build XSIAM client: %w", err)
			}

			rules, converted, err := p.loadRules(platform, args[0])
			if err != nil {
				return err
			}

			pushable := make([]core.DetectionRule, 0, converted)
			for _, rule := range rules {
				if rule.ConvertedQuery != "" {
					pushable = append(pushable, rule)
				}
			}
			if len(pushable) == 0 {
				return fmt.Errorf("no converted rules to push")
			}

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			if !quiet {
				infoColor.Printf("Testing connection to tenant %s\n", p.cfg.XSIAM.FQDN)
			}
			if err := client.TestConnection(ctx); err != nil {
				errorColor.Printf("✗ Connection test failed: %v\n", err)
				return err
			}

			var s *spinner.Spinner
			if showProgress && !outputJSON && !quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = fmt.Sprintf(" Pushing %d rules...", len(pushable))
				s.Start()
			}

			result, err := client.BulkUpload(ctx, pushable)

			if s != nil {
				s.Stop()
			}
			if err != nil {
				return fmt.Errorf("bulk upload failed: %w", err)
			}

			if outputJSON {
				return outputAsJSON(result)
			}

			renderPushResult(result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&platformName, "platform", "p", "", "Source platform (splunk, qradar)")
	cmd.Flags().BoolVar(&showProgress, "progress", true, "Show progress indicator")
	_ = cmd.MarkFlagRequired("platform")

	return cmd
}

// newCatalogCmd creates the 'catalog' subcommand
func newCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Show the loaded analytics catalog",
		Long:  "Validate and summarize the XSIAM analytics catalog the coverage check runs against.",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, cleanup, err := initPipeline()
			if err != nil {
				return err
			}
			defer cleanup()

			if outputJSON {
				return outputAsJSON(p.index.All())
			}

			renderCatalogSummary(p.index)
			return nil
		},
	}
}

// writeRulesFile writes rules to a file as JSON or YAML.
func writeRulesFile(filename, format string, rules []core.DetectionRule) error {
	if err := validateFilePath(filename); err != nil {
		return fmt.Errorf("invalid file path: %w", err)
	}

	var data []byte
	var err error
	switch format {
	case "json":
		data, err = json.MarshalIndent(rules, "", "  ")
	case "yaml":
		data, err = yaml.Marshal(rules)
	default:
		return fmt.Errorf("unsupported format %q (use json or yaml)", format)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// outputAsJSON outputs data as JSON to stdout.
func outputAsJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
