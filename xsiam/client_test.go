package xsiam

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"xmigrate/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{FQDN: "tenant.xdr.us", APIKey: "k", APIKeyID: "1"}, false},
		{"missing fqdn", Config{APIKey: "k", APIKeyID: "1"}, true},
		{"missing key", Config{FQDN: "tenant.xdr.us", APIKeyID: "1"}, true},
		{"missing key id", Config{FQDN: "tenant.xdr.us", APIKey: "k"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrNotConfigured))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewClientBaseURL(t *testing.T) {
	client, err := NewClient(Config{FQDN: "tenant.xdr.us", APIKey: "k", APIKeyID: "1"}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "https://api-tenant.xdr.us/xsiam/public/v1", client.baseURL)
}

func TestTestConnection(t *testing.T) {
	var gotAuth, gotAuthID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAuthID = r.Header.Get("x-xdr-auth-id")
		assert.Equal(t, "/healthcheck", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newClientForTest(srv.URL, testLogger())
	require.NoError(t, client.TestConnection(context.Background()))
	assert.Equal(t, "test-key", gotAuth)
	assert.Equal(t, "1", gotAuthID)
}

func TestTestConnectionAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := newClientForTest(srv.URL, testLogger())
	err := client.TestConnection(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuth))
}

func TestUploadRule(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/correlation_rules", r.URL.Path)

		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "Brute Force Detected", payload["name"])
		assert.Equal(t, "dataset = auth_raw", payload["xql_query"])
		assert.Equal(t, "high", payload["severity"])
		assert.Equal(t, "enabled", payload["status"])
		meta := payload["metadata"].(map[string]interface{})
		assert.Equal(t, "migration_assistant", meta["source"])
		assert.Equal(t, "splunk", meta["original_platform"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"rule_id": "xsiam-7"})
	}))
	defer srv.Close()

	client := newClientForTest(srv.URL, testLogger())
	ruleID, err := client.UploadRule(context.Background(), &core.DetectionRule{
		ID:             "spl-0",
		Name:           "Brute Force Detected",
		SourcePlatform: core.PlatformSplunk,
		ConvertedQuery: "dataset = auth_raw",
		Severity:       core.SeverityHigh,
	})
	require.NoError(t, err)
	assert.Equal(t, "xsiam-7", ruleID)
}

func TestUploadRuleUnknownSeverityDefaultsToMedium(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "medium", payload["severity"])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newClientForTest(srv.URL, testLogger())
	_, err := client.UploadRule(context.Background(), &core.DetectionRule{
		ID:             "spl-1",
		Name:           "No Severity",
		SourcePlatform: core.PlatformSplunk,
		ConvertedQuery: "dataset = xdr_data",
		Severity:       core.SeverityUnknown,
	})
	require.NoError(t, err)
}

func TestUploadRuleRequiresConvertedQuery(t *testing.T) {
	client := newClientForTest("http://unused", testLogger())
	_, err := client.UploadRule(context.Background(), &core.DetectionRule{ID: "spl-2", Name: "Pending"})
	require.Error(t, err)
}

func TestUploadRuleServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newClientForTest(srv.URL, testLogger())
	_, err := client.UploadRule(context.Background(), &core.DetectionRule{
		ID: "spl-3", Name: "Rule", ConvertedQuery: "dataset = xdr_data",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestBulkUploadCollectsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		if payload["name"] == "Broken Rule" {
			http.Error(w, "invalid query", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"rule_id": "xsiam-1"})
	}))
	defer srv.Close()

	client := newClientForTest(srv.URL, testLogger())
	result, err := client.BulkUpload(context.Background(), []core.DetectionRule{
		{ID: "r1", Name: "Good Rule", ConvertedQuery: "dataset = xdr_data"},
		{ID: "r2", Name: "Broken Rule", ConvertedQuery: "dataset = xdr_data"},
		{ID: "r3", Name: "Another Good Rule", ConvertedQuery: "dataset = xdr_data"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "Broken Rule", result.Errors[0].Rule)
}

func TestBulkUploadCancelled(t *testing.T) {
	client := newClientForTest("http://unused", testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.BulkUpload(ctx, []core.DetectionRule{
		{ID: "r1", Name: "Rule", ConvertedQuery: "dataset = xdr_data"},
	})
	require.Error(t, err)
}
