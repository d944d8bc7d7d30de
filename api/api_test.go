package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"xmigrate/catalog"
	"xmigrate/config"
	"xmigrate/convert"
	"xmigrate/core"
	"xmigrate/coverage"
	"xmigrate/service"
	"xmigrate/storage"
	"xmigrate/xsiam"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// mockStore is an in-memory MigrationStore.
type mockStore struct {
	saved  int64
	purged map[int64]bool
}

func (m *mockStore) SaveMigration(summary *core.MigrationSummary, rules []core.DetectionRule, results []*coverage.Result) (int64, error) {
	m.saved++
	return m.saved, nil
}

func (m *mockStore) GetMigrations() ([]core.MigrationSummary, error) {
	return []core.MigrationSummary{}, nil
}

func (m *mockStore) GetMigrationDetails(id int64) (*storage.MigrationDetails, error) {
	return nil, storage.ErrMigrationNotFound
}

func (m *mockStore) DeleteMigration(id int64) error {
	if m.purged == nil {
		m.purged = make(map[int64]bool)
	}
	if id > m.saved || m.purged[id] {
		return storage.ErrMigrationNotFound
	}
	m.purged[id] = true
	return nil
}

func (m *mockStore) GetStats() (*storage.MigrationStats, error) {
	return &storage.MigrationStats{TotalMigrations: m.saved}, nil
}

// fakePusher records bulk uploads.
type fakePusher struct {
	connErr error
	pushed  []core.DetectionRule
	failAll bool
}

func (f *fakePusher) TestConnection(ctx context.Context) error {
	return f.connErr
}

func (f *fakePusher) BulkUpload(ctx context.Context, rules []core.DetectionRule) (*xsiam.BulkResult, error) {
	f.pushed = rules
	result := &xsiam.BulkResult{Total: len(rules)}
	for _, r := range rules {
		if f.failAll {
			result.Failed++
			result.Errors = append(result.Errors, xsiam.UploadError{Rule: r.Name, Error: "rejected"})
			continue
		}
		result.Successful++
	}
	return result, nil
}

const testCatalog = `[
	{"name": "Brute Force Attempt", "severity": "high", "techniques": ["T1110"], "tags": ["authentication"]}
]`

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.API.Port = 8081
	cfg.API.MaxUploadBytes = 1 << 20
	cfg.API.RateLimit.RequestsPerSecond = 1000
	cfg.API.RateLimit.Burst = 1000
	cfg.API.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Coverage = coverage.DefaultConfig()
	cfg.CoverageCacheSize = 64
	return cfg
}

func newTestAPI(t *testing.T, cfg *config.Config, pusher RulePusher) *API {
	t.Helper()
	logger := zap.NewNop().Sugar()

	matcher, err := coverage.NewMatcher(cfg.Coverage, logger)
	require.NoError(t, err)
	cache, err := coverage.NewResultCache(cfg.CoverageCacheSize)
	require.NoError(t, err)

	svc, err := service.NewMigrationService(matcher, cache, &mockStore{}, convert.NewAQLConverter(),
		func() (*catalog.Index, error) {
			return catalog.Parse([]byte(testCatalog), logger)
		}, logger)
	require.NoError(t, err)

	newPusher := func(xsiam.Config) (RulePusher, error) {
		return &fakePusher{}, nil
	}
	a := NewAPI(svc, pusher, newPusher, cfg, logger)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a
}

func doRequest(a *API, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func multipartUpload(t *testing.T, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func uploadSplunkRules(t *testing.T, a *API) {
	t.Helper()
	body, contentType := multipartUpload(t, "saved_searches.json",
		`[{"title": "Brute Force Detected", "search": "index=auth action=failure"}]`)
	req := httptest.NewRequest("POST", "/api/upload/splunk", body)
	req.Header.Set("Content-Type", contentType)
	rec := doRequest(a, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealthCheck(t *testing.T) {
	a := newTestAPI(t, testConfig(), nil)

	rec := doRequest(a, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["catalog_size"])
}

func TestUploadAndListRules(t *testing.T) {
	a := newTestAPI(t, testConfig(), nil)
	uploadSplunkRules(t, a)

	rec := doRequest(a, httptest.NewRequest("GET", "/api/rules", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var rules []core.DetectionRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rules))
	require.Len(t, rules, 1)
	assert.Equal(t, "Brute Force Detected", rules[0].Name)
	assert.Equal(t, core.StatusTranslated, rules[0].Status)
}

func TestUploadInvalidPlatform(t *testing.T) {
	a := newTestAPI(t, testConfig(), nil)

	body, contentType := multipartUpload(t, "x.json", `[]`)
	req := httptest.NewRequest("POST", "/api/upload/arcsight", body)
	req.Header.Set("Content-Type", contentType)
	assert.Equal(t, http.StatusBadRequest, doRequest(a, req).Code)
}

func TestUploadMissingFile(t *testing.T) {
	a := newTestAPI(t, testConfig(), nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest("POST", "/api/upload/splunk", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, doRequest(a, req).Code)
}

func TestRuleCRUDOverHTTP(t *testing.T) {
	a := newTestAPI(t, testConfig(), nil)

	payload := `{"name": "Manual Rule", "source_platform": "splunk", "original_query": "index=x"}`
	rec := doRequest(a, httptest.NewRequest("POST", "/api/rules", strings.NewReader(payload)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created core.DetectionRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	rec = doRequest(a, httptest.NewRequest("GET", "/api/rules/"+created.ID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	update := `{"name": "Manual Rule v2", "source_platform": "splunk", "converted_query": "dataset = x_raw", "status": "reviewed"}`
	rec = doRequest(a, httptest.NewRequest("PUT", "/api/rules/"+created.ID, strings.NewReader(update)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var updated core.DetectionRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "Manual Rule v2", updated.Name)
	assert.Equal(t, core.StatusReviewed, updated.Status)

	rec = doRequest(a, httptest.NewRequest("DELETE", "/api/rules/"+created.ID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(a, httptest.NewRequest("GET", "/api/rules/"+created.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRuleValidation(t *testing.T) {
	a := newTestAPI(t, testConfig(), nil)

	cases := map[string]string{
		"missing name": `{"source_platform": "splunk"}`,
		"bad platform": `{"name": "X", "source_platform": "arcsight"}`,
		"bad status":   `{"name": "X", "source_platform": "splunk", "status": "bogus"}`,
	}
	for name, payload := range cases {
		rec := doRequest(a, httptest.NewRequest("POST", "/api/rules", strings.NewReader(payload)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestCoverageEndpoint(t *testing.T) {
	a := newTestAPI(t, testConfig(), nil)
	uploadSplunkRules(t, a)

	rec := doRequest(a, httptest.NewRequest("GET", "/api/coverage/spl-0", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var result coverage.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Covered)
	require.NotEmpty(t, result.Matches)
	assert.Equal(t, "Brute Force Attempt", result.Matches[0].Analytic.Name)

	rec = doRequest(a, httptest.NewRequest("GET", "/api/coverage/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCSVReportRequiresRules(t *testing.T) {
	a := newTestAPI(t, testConfig(), nil)
	rec := doRequest(a, httptest.NewRequest("GET", "/api/reports/coverage/csv", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCSVReport(t *testing.T) {
	a := newTestAPI(t, testConfig(), nil)
	uploadSplunkRules(t, a)

	rec := doRequest(a, httptest.NewRequest("GET", "/api/reports/coverage/csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Brute Force Detected")
	assert.Contains(t, rec.Body.String(), "=== SUMMARY STATISTICS ===")
}

func TestContentPackExport(t *testing.T) {
	a := newTestAPI(t, testConfig(), nil)

	rec := doRequest(a, httptest.NewRequest("POST", "/api/export/content-pack", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	uploadSplunkRules(t, a)
	rec = doRequest(a, httptest.NewRequest("POST", "/api/export/content-pack", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	// ZIP local file header magic.
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))
}

func TestXSIAMEndpointsWithoutTenant(t *testing.T) {
	a := newTestAPI(t, testConfig(), nil)

	rec := doRequest(a, httptest.NewRequest("GET", "/api/xsiam/test", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doRequest(a, httptest.NewRequest("POST", "/api/xsiam/push", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestXSIAMTestConnection(t *testing.T) {
	pusher := &fakePusher{}
	a := newTestAPI(t, testConfig(), pusher)

	rec := doRequest(a, httptest.NewRequest("GET", "/api/xsiam/test", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])

	pusher.connErr = errors.New("auth failed")
	rec = doRequest(a, httptest.NewRequest("GET", "/api/xsiam/test", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
}

func TestXSIAMConfigLifecycle(t *testing.T) {
	a := newTestAPI(t, testConfig(), nil)

	rec := doRequest(a, httptest.NewRequest("GET", "/api/xsiam/config", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["configured"])

	payload := `{"fqdn": "tenant.xdr.us.paloaltonetworks.com", "api_key": "key", "api_key_id": "1"}`
	rec = doRequest(a, httptest.NewRequest("POST", "/api/xsiam/config", strings.NewReader(payload)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["configured"])
	assert.Equal(t, "tenant.xdr.us.paloaltonetworks.com", body["fqdn"])
	// Credentials are never echoed back.
	assert.NotContains(t, rec.Body.String(), `"key"`)

	rec = doRequest(a, httptest.NewRequest("GET", "/api/xsiam/config", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["configured"])

	// The test endpoint now has a tenant client.
	rec = doRequest(a, httptest.NewRequest("GET", "/api/xsiam/test", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSetXSIAMConfigValidation(t *testing.T) {
	a := newTestAPI(t, testConfig(), nil)

	rec := doRequest(a, httptest.NewRequest("POST", "/api/xsiam/config",
		strings.NewReader(`{"fqdn": "tenant.example.com"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestXSIAMPushMarksExported(t *testing.T) {
	pusher := &fakePusher{}
	a := newTestAPI(t, testConfig(), pusher)
	uploadSplunkRules(t, a)

	rec := doRequest(a, httptest.NewRequest("POST", "/api/xsiam/push", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, pusher.pushed, 1)

	var result xsiam.BulkResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Successful)

	rule, err := a.svc.GetRule("spl-0")
	require.NoError(t, err)
	assert.Equal(t, core.StatusExported, rule.Status)
}

func TestXSIAMPushKeepsFailedRules(t *testing.T) {
	pusher := &fakePusher{failAll: true}
	a := newTestAPI(t, testConfig(), pusher)
	uploadSplunkRules(t, a)

	rec := doRequest(a, httptest.NewRequest("POST", "/api/xsiam/push", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rule, err := a.svc.GetRule("spl-0")
	require.NoError(t, err)
	assert.NotEqual(t, core.StatusExported, rule.Status)
}

func TestCatalogReload(t *testing.T) {
	a := newTestAPI(t, testConfig(), nil)

	rec := doRequest(a, httptest.NewRequest("POST", "/api/catalog/reload", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["analytics"])
}

func TestStatsEndpoint(t *testing.T) {
	a := newTestAPI(t, testConfig(), nil)
	uploadSplunkRules(t, a)

	rec := doRequest(a, httptest.NewRequest("GET", "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["catalog_size"])
	workingSet := body["working_set"].(map[string]interface{})
	assert.Equal(t, float64(1), workingSet["total"])
}

func TestRateLimiting(t *testing.T) {
	cfg := testConfig()
	cfg.API.RateLimit.RequestsPerSecond = 1
	cfg.API.RateLimit.Burst = 1
	a := newTestAPI(t, cfg, nil)

	req := httptest.NewRequest("GET", "/health", nil)
	req.RemoteAddr = "203.0.113.5:1234"
	assert.Equal(t, http.StatusOK, doRequest(a, req).Code)

	req = httptest.NewRequest("GET", "/health", nil)
	req.RemoteAddr = "203.0.113.5:1234"
	assert.Equal(t, http.StatusTooManyRequests, doRequest(a, req).Code)

	// A different client is unaffected.
	req = httptest.NewRequest("GET", "/health", nil)
	req.RemoteAddr = "203.0.113.6:1234"
	assert.Equal(t, http.StatusOK, doRequest(a, req).Code)
}

func TestBasicAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.Username = "admin"
	hashed, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	cfg.Auth.HashedPassword = string(hashed)
	a := newTestAPI(t, cfg, nil)

	rec := doRequest(a, httptest.NewRequest("GET", "/api/rules", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest("GET", "/api/rules", nil)
	req.SetBasicAuth("admin", "wrong")
	assert.Equal(t, http.StatusUnauthorized, doRequest(a, req).Code)

	req = httptest.NewRequest("GET", "/api/rules", nil)
	req.SetBasicAuth("admin", "correct horse")
	assert.Equal(t, http.StatusOK, doRequest(a, req).Code)
}

func TestBasicAuthLockout(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.Username = "admin"
	hashed, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	cfg.Auth.HashedPassword = string(hashed)
	a := newTestAPI(t, cfg, nil)

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/api/rules", nil)
		req.RemoteAddr = "198.51.100.9:1234"
		req.SetBasicAuth("admin", fmt.Sprintf("wrong-%d", i))
		assert.Equal(t, http.StatusUnauthorized, doRequest(a, req).Code)
	}

	// Even correct credentials are refused while locked out.
	req := httptest.NewRequest("GET", "/api/rules", nil)
	req.RemoteAddr = "198.51.100.9:1234"
	req.SetBasicAuth("admin", "correct horse")
	assert.Equal(t, http.StatusTooManyRequests, doRequest(a, req).Code)
}

func TestCORSHeaders(t *testing.T) {
	a := newTestAPI(t, testConfig(), nil)

	req := httptest.NewRequest("OPTIONS", "/api/rules", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := doRequest(a, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("OPTIONS", "/api/rules", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = doRequest(a, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMigrationEndpoints(t *testing.T) {
	a := newTestAPI(t, testConfig(), nil)
	uploadSplunkRules(t, a)

	rec := doRequest(a, httptest.NewRequest("GET", "/api/migrations", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(a, httptest.NewRequest("GET", "/api/migrations/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(a, httptest.NewRequest("GET", "/api/migrations/99", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(a, httptest.NewRequest("DELETE", "/api/migrations/1", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(a, httptest.NewRequest("DELETE", "/api/migrations/1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
