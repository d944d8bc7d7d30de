package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"xmigrate/core"
	"xmigrate/report"
	"xmigrate/service"
	"xmigrate/storage"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

var validate = validator.New()

// ruleRequest is the payload for creating or updating a working-set rule.
type ruleRequest struct {
	Name           string   `json:"name" validate:"required,max=200"`
	Description    string   `json:"description" validate:"max=2000"`
	SourcePlatform string   `json:"source_platform" validate:"required,oneof=splunk qradar"`
	OriginalQuery  string   `json:"original_query"`
	ConvertedQuery string   `json:"converted_query"`
	Status         string   `json:"status" validate:"omitempty,oneof=pending translated reviewed exported"`
	Severity       string   `json:"severity" validate:"max=20"`
	Tags           []string `json:"tags" validate:"max=50,dive,max=100"`
	Techniques     []string `json:"techniques" validate:"max=50,dive,max=20"`
}

func (req *ruleRequest) toRule() *core.DetectionRule {
	return &core.DetectionRule{
		Name:           req.Name,
		Description:    req.Description,
		SourcePlatform: core.SourcePlatform(req.SourcePlatform),
		OriginalQuery:  req.OriginalQuery,
		ConvertedQuery: req.ConvertedQuery,
		Status:         core.RuleStatus(req.Status),
		Severity:       core.ParseSeverity(req.Severity),
		Tags:           req.Tags,
		Techniques:     req.Techniques,
	}
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError logs the full error and sends a terse message to the client.
func writeError(w http.ResponseWriter, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	if logger != nil {
		if err != nil {
			logger.Errorw(message, "error", err.Error(), "status_code", statusCode)
		} else {
			logger.Errorw(message, "status_code", statusCode)
		}
	}
	http.Error(w, message, statusCode)
}

// decodeJSONBody decodes a JSON request body, rejecting unknown fields.
func (a *API) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, a.config.API.MaxUploadBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", err, a.logger)
		return err
	}
	return nil
}

// uploadRules accepts a multipart rule export and runs the full pipeline:
// parse, convert, score, persist.
func (a *API) uploadRules(w http.ResponseWriter, r *http.Request) {
	platform, err := core.ParsePlatform(mux.Vars(r)["platform"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid platform", err, a.logger)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.API.MaxUploadBytes)
	if err := r.ParseMultipartForm(a.config.API.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart upload", err, a.logger)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing file field", err, a.logger)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read upload", err, a.logger)
		return
	}

	result, err := a.svc.ProcessUpload(r.Context(), platform, header.Filename, data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to process upload", err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) getRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Rules())
}

func (a *API) getRule(w http.ResponseWriter, r *http.Request) {
	rule, err := a.svc.GetRule(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, storage.ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, "Rule not found", err, a.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get rule", err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (a *API) createRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid rule: %v", err), err, a.logger)
		return
	}

	added, err := a.svc.AddRule(req.toRule())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to create rule", err, a.logger)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (a *API) updateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid rule: %v", err), err, a.logger)
		return
	}

	updated, err := a.svc.UpdateRule(mux.Vars(r)["id"], req.toRule())
	if err != nil {
		if errors.Is(err, storage.ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, "Rule not found", err, a.logger)
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to update rule", err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) deleteRule(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteRule(mux.Vars(r)["id"]); err != nil {
		if errors.Is(err, storage.ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, "Rule not found", err, a.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete rule", err, a.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getCoverage(w http.ResponseWriter, r *http.Request) {
	result, err := a.svc.Coverage(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, storage.ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, "Rule not found", err, a.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, "Coverage analysis failed", err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) reloadCatalog(w http.ResponseWriter, r *http.Request) {
	count, err := a.svc.ReloadCatalog()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Catalog reload failed", err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"analytics": count})
}

func (a *API) getMigrations(w http.ResponseWriter, r *http.Request) {
	migrations, err := a.svc.Migrations()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list migrations", err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, migrations)
}

func (a *API) getMigrationDetails(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid migration ID", err, a.logger)
		return
	}

	details, err := a.svc.MigrationDetails(id)
	if err != nil {
		if errors.Is(err, storage.ErrMigrationNotFound) {
			writeError(w, http.StatusNotFound, "Migration not found", err, a.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get migration", err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (a *API) deleteMigration(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid migration ID", err, a.logger)
		return
	}

	if err := a.svc.DeleteMigration(id); err != nil {
		if errors.Is(err, storage.ErrMigrationNotFound) {
			writeError(w, http.StatusNotFound, "Migration not found", err, a.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete migration", err, a.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.svc.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute stats", err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"history":      stats,
		"working_set":  a.svc.Summary(),
		"catalog_size": a.svc.CatalogSize(),
	})
}

func (a *API) getCoverageReportCSV(w http.ResponseWriter, r *http.Request) {
	rules, results, err := a.svc.CoverageAll()
	if err != nil {
		if errors.Is(err, service.ErrNoRules) {
			writeError(w, http.StatusBadRequest, "No rules to analyze", err, a.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, "Coverage analysis failed", err, a.logger)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, rules, results); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate report", err, a.logger)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename=Coverage_Report.csv`)
	_, _ = w.Write(buf.Bytes())
}

func (a *API) exportContentPack(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := report.WriteContentPack(&buf, "MigratedRules", a.svc.Rules()); err != nil {
		if errors.Is(err, report.ErrNoRules) {
			writeError(w, http.StatusBadRequest, "No rules to export", err, a.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to build content pack", err, a.logger)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename=MigratedRules_ContentPack.zip`)
	_, _ = w.Write(buf.Bytes())
}

// xsiamConfigRequest carries tenant credentials set at runtime. Credentials
// are accepted but never echoed back.
type xsiamConfigRequest struct {
	FQDN     string `json:"fqdn" validate:"required,max=200"`
	APIKey   string `json:"api_key" validate:"required"`
	APIKeyID string `json:"api_key_id" validate:"required"`
}

func (a *API) getXSIAMConfig(w http.ResponseWriter, r *http.Request) {
	a.pusherMu.RLock()
	configured := a.pusher != nil
	fqdn := a.tenantFQDN
	a.pusherMu.RUnlock()

	resp := map[string]interface{}{"configured": configured}
	if configured {
		resp["fqdn"] = fqdn
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) setXSIAMConfig(w http.ResponseWriter, r *http.Request) {
	if a.newPusher == nil {
		writeError(w, http.StatusServiceUnavailable, "Runtime tenant configuration not supported", nil, a.logger)
		return
	}

	var req xsiamConfigRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid tenant config: %v", err), err, a.logger)
		return
	}

	// Timeouts and upload pacing come from the static config.
	cfg := a.config.XSIAM
	cfg.FQDN = req.FQDN
	cfg.APIKey = req.APIKey
	cfg.APIKeyID = req.APIKeyID

	pusher, err := a.newPusher(cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to configure tenant", err, a.logger)
		return
	}
	a.setPusher(pusher, req.FQDN)

	a.logger.Infof("XSIAM tenant configured: %s", req.FQDN)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"configured": true,
		"fqdn":       req.FQDN,
	})
}

func (a *API) testXSIAMConnection(w http.ResponseWriter, r *http.Request) {
	pusher := a.getPusher()
	if pusher == nil {
		writeError(w, http.StatusServiceUnavailable, "XSIAM tenant not configured", nil, a.logger)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := pusher.TestConnection(ctx); err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"message": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Successfully connected to XSIAM",
	})
}

func (a *API) pushToXSIAM(w http.ResponseWriter, r *http.Request) {
	pusher := a.getPusher()
	if pusher == nil {
		writeError(w, http.StatusServiceUnavailable, "XSIAM tenant not configured", nil, a.logger)
		return
	}

	pushable := make([]core.DetectionRule, 0)
	for _, rule := range a.svc.Rules() {
		if rule.ConvertedQuery != "" {
			pushable = append(pushable, rule)
		}
	}
	if len(pushable) == 0 {
		writeError(w, http.StatusBadRequest, "No converted rules to push", nil, a.logger)
		return
	}

	result, err := pusher.BulkUpload(r.Context(), pushable)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Bulk upload failed", err, a.logger)
		return
	}

	// Flag everything that went through as exported.
	failed := make(map[string]struct{}, len(result.Errors))
	for _, e := range result.Errors {
		failed[e.Rule] = struct{}{}
	}
	exported := make([]string, 0, result.Successful)
	for _, rule := range pushable {
		if _, bad := failed[rule.Name]; !bad {
			exported = append(exported, rule.ID)
		}
	}
	a.svc.MarkExported(exported)

	writeJSON(w, http.StatusOK, result)
}

func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"catalog_size": a.svc.CatalogSize(),
	})
}
