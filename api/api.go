// Package api exposes the migration assistant over HTTP: uploads, rule
// review, coverage analysis, reports, exports, and XSIAM push.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"xmigrate/config"
	"xmigrate/core"
	"xmigrate/coverage"
	"xmigrate/service"
	"xmigrate/storage"
	"xmigrate/xsiam"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// rateLimiterEntry holds a rate limiter with last seen time.
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// authFailureEntry holds auth failure count and last failure time.
type authFailureEntry struct {
	count    int
	lastFail time.Time
}

// MigrationManager is the service surface the handlers need.
type MigrationManager interface {
	ProcessUpload(ctx context.Context, platform core.SourcePlatform, fileName string, data []byte) (*service.UploadResult, error)
	Rules() []core.DetectionRule
	GetRule(ruleID string) (*core.DetectionRule, error)
	AddRule(rule *core.DetectionRule) (*core.DetectionRule, error)
	UpdateRule(ruleID string, rule *core.DetectionRule) (*core.DetectionRule, error)
	DeleteRule(ruleID string) error
	MarkExported(ruleIDs []string)
	Coverage(ruleID string) (*coverage.Result, error)
	CoverageAll() ([]core.DetectionRule, []*coverage.Result, error)
	ReloadCatalog() (int, error)
	CatalogSize() int
	Summary() map[string]int
	Migrations() ([]core.MigrationSummary, error)
	MigrationDetails(id int64) (*storage.MigrationDetails, error)
	DeleteMigration(id int64) error
	Stats() (*storage.MigrationStats, error)
}

// RulePusher is the XSIAM client surface the handlers need. A nil pusher
// means no tenant is configured and the push endpoints return 503.
type RulePusher interface {
	TestConnection(ctx context.Context) error
	BulkUpload(ctx context.Context, rules []core.DetectionRule) (*xsiam.BulkResult, error)
}

// PusherFactory builds a RulePusher from tenant credentials supplied at
// runtime through the config endpoint.
type PusherFactory func(cfg xsiam.Config) (RulePusher, error)

// API holds the HTTP server.
type API struct {
	router         *mux.Router
	handler        http.Handler
	server         *http.Server
	svc            MigrationManager
	newPusher      PusherFactory
	pusherMu       sync.RWMutex
	pusher         RulePusher
	tenantFQDN     string
	config         *config.Config
	logger         *zap.SugaredLogger
	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	authFailures   map[string]*authFailureEntry
	authFailuresMu sync.Mutex
	stopCh         chan struct{}
}

// NewAPI creates the API server. pusher may be nil; newPusher may be nil
// when runtime tenant configuration is not supported.
func NewAPI(svc MigrationManager, pusher RulePusher, newPusher PusherFactory, cfg *config.Config, logger *zap.SugaredLogger) *API {
	api := &API{
		router:       mux.NewRouter(),
		svc:          svc,
		pusher:       pusher,
		newPusher:    newPusher,
		tenantFQDN:   cfg.XSIAM.FQDN,
		config:       cfg,
		logger:       logger,
		rateLimiters: make(map[string]*rateLimiterEntry),
		authFailures: make(map[string]*authFailureEntry),
		stopCh:       make(chan struct{}),
	}
	api.setupRoutes()
	go api.cleanupRateLimiters()
	return api
}

// getPusher returns the current tenant client, or nil.
func (a *API) getPusher() RulePusher {
	a.pusherMu.RLock()
	defer a.pusherMu.RUnlock()
	return a.pusher
}

func (a *API) setPusher(p RulePusher, fqdn string) {
	a.pusherMu.Lock()
	defer a.pusherMu.Unlock()
	a.pusher = p
	a.tenantFQDN = fqdn
}

// setupRoutes sets up the API routes. CORS wraps the whole router rather
// than going through Use so preflight OPTIONS requests are answered before
// method matching rejects them.
func (a *API) setupRoutes() {
	a.router.Use(a.rateLimitMiddleware)
	if a.config.Auth.Enabled {
		a.router.Use(a.basicAuthMiddleware)
	}
	a.handler = a.corsMiddleware(a.router)

	a.router.HandleFunc("/api/upload/{platform}", a.uploadRules).Methods("POST")

	a.router.HandleFunc("/api/rules", a.getRules).Methods("GET")
	a.router.HandleFunc("/api/rules", a.createRule).Methods("POST")
	a.router.HandleFunc("/api/rules/{id}", a.getRule).Methods("GET")
	a.router.HandleFunc("/api/rules/{id}", a.updateRule).Methods("PUT")
	a.router.HandleFunc("/api/rules/{id}", a.deleteRule).Methods("DELETE")

	a.router.HandleFunc("/api/coverage/{id}", a.getCoverage).Methods("GET")
	a.router.HandleFunc("/api/catalog/reload", a.reloadCatalog).Methods("POST")

	a.router.HandleFunc("/api/migrations", a.getMigrations).Methods("GET")
	a.router.HandleFunc("/api/migrations/{id}", a.getMigrationDetails).Methods("GET")
	a.router.HandleFunc("/api/migrations/{id}", a.deleteMigration).Methods("DELETE")
	a.router.HandleFunc("/api/stats", a.getStats).Methods("GET")

	a.router.HandleFunc("/api/reports/coverage/csv", a.getCoverageReportCSV).Methods("GET")
	a.router.HandleFunc("/api/export/content-pack", a.exportContentPack).Methods("POST")

	a.router.HandleFunc("/api/xsiam/config", a.getXSIAMConfig).Methods("GET")
	a.router.HandleFunc("/api/xsiam/config", a.setXSIAMConfig).Methods("POST")
	a.router.HandleFunc("/api/xsiam/test", a.testXSIAMConnection).Methods("GET")
	a.router.HandleFunc("/api/xsiam/push", a.pushToXSIAM).Methods("POST")

	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())
}

// Start starts the API server.
func (a *API) Start(addr string) error {
	a.server = &http.Server{
		Addr:    addr,
		Handler: a.handler,
	}
	return a.server.ListenAndServe()
}

// StartTLS starts the API server with TLS.
func (a *API) StartTLS(addr, certFile, keyFile string) error {
	a.server = &http.Server{
		Addr:    addr,
		Handler: a.handler,
	}
	return a.server.ListenAndServeTLS(certFile, keyFile)
}

// Stop stops the API server.
func (a *API) Stop(ctx context.Context) error {
	close(a.stopCh)
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}
