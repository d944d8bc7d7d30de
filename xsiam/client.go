// Package xsiam pushes migrated correlation rules to a Cortex XSIAM tenant
// through its public API.
package xsiam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"xmigrate/core"
	"xmigrate/metrics"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrAuth is returned when the tenant rejects the API credentials.
	ErrAuth = errors.New("XSIAM authentication failed")

	// ErrNotConfigured is returned when the client is missing credentials.
	ErrNotConfigured = errors.New("XSIAM client not configured")
)

// Config carries tenant credentials and client tuning.
type Config struct {
	FQDN        string        `mapstructure:"fqdn"`
	APIKey      string        `mapstructure:"api_key"`
	APIKeyID    string        `mapstructure:"api_key_id"`
	Timeout     time.Duration `mapstructure:"timeout"`
	UploadRate  float64       `mapstructure:"upload_rate"`
	UploadBurst int           `mapstructure:"upload_burst"`
}

// Validate checks that the fields needed to reach a tenant are present.
func (c Config) Validate() error {
	if strings.TrimSpace(c.FQDN) == "" {
		return fmt.Errorf("%w: fqdn is required", ErrNotConfigured)
	}
	if c.APIKey == "" || c.APIKeyID == "" {
		return fmt.Errorf("%w: api_key and api_key_id are required", ErrNotConfigured)
	}
	return nil
}

// Client talks to one XSIAM tenant. Safe for concurrent use.
type Client struct {
	baseURL  string
	apiKey   string
	apiKeyID string
	http     *http.Client
	limiter  *rate.Limiter
	logger   *zap.SugaredLogger
}

// NewClient builds a client for the tenant in cfg.
func NewClient(cfg Config, logger *zap.SugaredLogger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	uploadRate := cfg.UploadRate
	if uploadRate <= 0 {
		uploadRate = 5
	}
	burst := cfg.UploadBurst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL:  fmt.Sprintf("https://api-%s/xsiam/public/v1", cfg.FQDN),
		apiKey:   cfg.APIKey,
		apiKeyID: cfg.APIKeyID,
		http:     &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(uploadRate), burst),
		logger:   logger,
	}, nil
}

// newClientForTest points the client at an arbitrary base URL.
func newClientForTest(baseURL string, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL:  baseURL,
		apiKey:   "test-key",
		apiKeyID: "1",
		http:     &http.Client{Timeout: 5 * time.Second},
		limiter:  rate.NewLimiter(rate.Inf, 1),
		logger:   logger,
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("x-xdr-auth-id", c.apiKeyID)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

// TestConnection performs an authenticated healthcheck against the tenant.
func (c *Client) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthcheck", nil)
	if err != nil {
		return fmt.Errorf("failed to create healthcheck request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("XSIAM connection failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrAuth
	default:
		return fmt.Errorf("XSIAM healthcheck returned status %d", resp.StatusCode)
	}
}

// correlationRulePayload is the create-rule request body.
type correlationRulePayload struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	XQLQuery    string            `json:"xql_query"`
	Severity    string            `json:"severity"`
	Status      string            `json:"status"`
	Metadata    map[string]string `json:"metadata"`
}

// uploadResponse is the subset of the create-rule response we use.
type uploadResponse struct {
	RuleID string `json:"rule_id"`
}

// UploadRule creates one correlation rule on the tenant and returns the
// tenant-assigned rule ID.
func (c *Client) UploadRule(ctx context.Context, rule *core.DetectionRule) (string, error) {
	if rule.ConvertedQuery == "" {
		return "", fmt.Errorf("rule %s has no converted query", rule.ID)
	}

	severity := string(rule.Severity)
	if rule.Severity == core.SeverityUnknown || severity == "" {
		severity = string(core.SeverityMedium)
	}
	payload := correlationRulePayload{
		Name:        rule.Name,
		Description: rule.Description,
		XQLQuery:    rule.ConvertedQuery,
		Severity:    severity,
		Status:      "enabled",
		Metadata: map[string]string{
			"source":            "migration_assistant",
			"original_platform": string(rule.SourcePlatform),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal rule payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/correlation_rules", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.XSIAMUploads.WithLabelValues("error").Inc()
		return "", fmt.Errorf("XSIAM upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		metrics.XSIAMUploads.WithLabelValues("error").Inc()
		return "", ErrAuth
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		metrics.XSIAMUploads.WithLabelValues("error").Inc()
		return "", fmt.Errorf("XSIAM upload returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		// The rule was created; a malformed body only costs us the ID.
		c.logger.Warnf("Failed to decode XSIAM upload response for rule %s: %v", rule.ID, err)
	}

	metrics.XSIAMUploads.WithLabelValues("success").Inc()
	return parsed.RuleID, nil
}

// UploadError records one failed rule in a bulk upload.
type UploadError struct {
	Rule  string `json:"rule"`
	Error string `json:"error"`
}

// BulkResult summarizes a bulk upload.
type BulkResult struct {
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Errors     []UploadError `json:"errors,omitempty"`
}

// BulkUpload pushes rules one at a time, paced by the client's rate limiter.
// Individual failures are collected rather than aborting the batch; a
// cancelled context stops the remainder.
func (c *Client) BulkUpload(ctx context.Context, rules []core.DetectionRule) (*BulkResult, error) {
	result := &BulkResult{Total: len(rules)}

	for i := range rules {
		if err := c.limiter.Wait(ctx); err != nil {
			return result, fmt.Errorf("bulk upload interrupted: %w", err)
		}

		rule := &rules[i]
		if _, err := c.UploadRule(ctx, rule); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return result, err
			}
			result.Failed++
			result.Errors = append(result.Errors, UploadError{Rule: rule.Name, Error: err.Error()})
			c.logger.Warnf("Failed to upload rule %s: %v", rule.Name, err)
			continue
		}
		result.Successful++
	}

	c.logger.Infof("Bulk upload finished: %d/%d rules pushed", result.Successful, result.Total)
	return result, nil
}
