// Package server assembles the reducer HTTP server: database, stores, the
// reduction worker pool, the publication coordinator and the API routers.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"

	"github.com/tabulahq/reducer/pkg/audit"
	"github.com/tabulahq/reducer/pkg/authz"
	"github.com/tabulahq/reducer/pkg/cache"
	"github.com/tabulahq/reducer/pkg/config"
	"github.com/tabulahq/reducer/pkg/filestore"
	"github.com/tabulahq/reducer/pkg/ha"
	"github.com/tabulahq/reducer/pkg/hierarchy"
	"github.com/tabulahq/reducer/pkg/publication"
	"github.com/tabulahq/reducer/pkg/reduction"
	"github.com/tabulahq/reducer/pkg/selection"
	"github.com/tabulahq/reducer/pkg/tenancy"
)

// APIBasePath is the base path all resource routes are mounted under.
const APIBasePath = "/api/reduction/v1alpha1"

// Server wires together all reducer components behind a chi router.
type Server struct {
	cfg    *config.Config
	db     *gorm.DB
	files  filestore.FileStore
	logger *slog.Logger

	hierStore   *hierarchy.Store
	hierService *hierarchy.Service
	groups      *selection.GroupStore
	tasks       *reduction.TaskStore
	pubStore    *publication.Store

	dispatcher  *reduction.Dispatcher
	reduction   *reduction.Service
	coordinator *publication.Coordinator

	auditStore   *audit.Store
	cacheManager *cache.Manager
	authorizer   authz.Authorizer
	watcher      *hierarchy.Watcher
	retention    *audit.RetentionWorker

	mu              sync.RWMutex
	initialLoadDone bool
	startedAt       time.Time
}

// Option configures optional server components.
type Option func(*Server)

// WithFileStore overrides the file store used for master and reduced files.
func WithFileStore(fs filestore.FileStore) Option {
	return func(s *Server) { s.files = fs }
}

// New creates a server from configuration and an open database handle.
func New(cfg *config.Config, db *gorm.DB, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		db:        db,
		files:     filestore.NewOSStore(),
		logger:    logger,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init migrates the schema, builds all components, recovers interrupted
// tasks and loads the content registry. It must be called before
// MountRoutes or Start.
func (s *Server) Init(ctx context.Context) error {
	// Replicas sharing a database serialize their migrations.
	err := ha.NewMigrationLocker(s.db).WithLock(ctx, func() error {
		return s.db.AutoMigrate(
			&hierarchy.ContentItem{},
			&hierarchy.HierarchyField{},
			&hierarchy.HierarchyFieldValue{},
			&selection.SelectionGroup{},
			&selection.GroupAcknowledgment{},
			&reduction.Task{},
			&publication.Request{},
			&audit.Event{},
		)
	})
	if err != nil {
		return fmt.Errorf("failed to auto-migrate schema: %w", err)
	}

	s.hierStore = hierarchy.NewStore(s.db)
	s.hierService = hierarchy.NewService(s.hierStore)
	s.groups = selection.NewGroupStore(s.db)
	s.tasks = reduction.NewTaskStore(s.db)
	s.pubStore = publication.NewStore(s.db)
	s.auditStore = audit.NewStore(s.db)

	// Tasks left Validating or Processing by a previous process are failed
	// before the worker pool starts, so nothing resumes half-done.
	recovered, err := s.tasks.RecoverInterrupted()
	if err != nil {
		return fmt.Errorf("failed to recover interrupted tasks: %w", err)
	}
	if recovered > 0 {
		s.logger.Warn("failed tasks interrupted by previous shutdown", "count", recovered)
	}

	workerCfg := s.cfg.ReductionConfig()
	worker := reduction.NewWorker(s.tasks, s.hierStore, s.files, workerCfg.WorkDir, s.logger)
	promoter := reduction.NewPromoter(s.db, s.tasks, s.groups, s.files, workerCfg.ServeDir, nil, s.logger)
	monitor := reduction.NewMonitor(s.tasks, promoter, s.logger)
	s.dispatcher = reduction.NewDispatcher(ctx, worker, monitor, s.tasks, workerCfg.Concurrency, s.logger)

	s.coordinator = publication.NewCoordinator(s.db, s.pubStore, s.tasks, s.groups,
		s.hierStore, s.files, s.dispatcher, s.logger)
	s.reduction = reduction.NewService(s.db, s.tasks, s.groups, s.hierStore, s.files,
		s.dispatcher, s.coordinator, s.logger)

	if err := s.setupAuthorizer(); err != nil {
		return err
	}
	s.cacheManager = cache.NewManager(s.cfg.CacheSettings())

	if s.cfg.Registry.Path != "" {
		reg, err := hierarchy.LoadRegistry(s.cfg.Registry.Path)
		if err != nil {
			return fmt.Errorf("failed to load content registry: %w", err)
		}
		result, err := s.hierStore.Sync(reg, s.files, s.logger)
		if err != nil {
			return fmt.Errorf("failed to sync content registry: %w", err)
		}
		s.logger.Info("content registry synced",
			"path", s.cfg.Registry.Path,
			"itemsCreated", result.ItemsCreated, "itemsUpdated", result.ItemsUpdated,
			"fieldsCreated", result.FieldsCreated)

		if s.cfg.Registry.Watch {
			s.watcher = hierarchy.NewWatcher(s.cfg.Registry.Path, s.hierStore, s.files, s.logger, func() {
				s.cacheManager.InvalidateAll()
			})
		}
	}

	if s.cfg.Audit.Enabled {
		s.retention = audit.NewRetentionWorker(s.auditStore, s.cfg.Audit.RetentionDays, s.logger)
	}

	s.mu.Lock()
	s.initialLoadDone = true
	s.mu.Unlock()
	return nil
}

func (s *Server) setupAuthorizer() error {
	switch authz.Mode(s.cfg.Authz.Mode) {
	case authz.ModeRoles:
		roleAuthz := &authz.RoleAuthorizer{OperatorRole: s.cfg.Authz.OperatorRole}
		s.authorizer = authz.NewCachedAuthorizer(roleAuthz, s.cfg.Authz.CacheTTL)
		s.logger.Info("using role-based authorization", "operatorRole", s.cfg.Authz.OperatorRole)
	case authz.ModeNone:
		s.authorizer = nil
		s.logger.Info("authorization disabled")
	default:
		return fmt.Errorf("unknown authz mode %q", s.cfg.Authz.Mode)
	}
	return nil
}

// identityMiddleware selects header-based or JWT identity extraction.
func (s *Server) identityMiddleware() (func(http.Handler) http.Handler, error) {
	if s.cfg.Authz.JWTEnabled {
		return authz.JWTIdentityMiddleware(authz.JWTConfig{
			RolesClaim:   s.cfg.Authz.JWTRolesClaim,
			PublicKeyPEM: []byte(s.cfg.Authz.JWTPublicKeyPEM),
			Issuer:       s.cfg.Authz.JWTIssuer,
			Audience:     s.cfg.Authz.JWTAudience,
			Logger:       s.logger,
		})
	}
	return authz.IdentityMiddleware(), nil
}

// MountRoutes builds the full router with middleware and all API routes.
func (s *Server) MountRoutes() (chi.Router, error) {
	identity, err := s.identityMiddleware()
	if err != nil {
		return nil, fmt.Errorf("failed to build identity middleware: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	allowedOrigins := s.cfg.CORS.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Remote-User", "X-Remote-Group", "X-Client-Id"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(tenancy.NewMiddleware(tenancy.Mode(s.cfg.Tenancy.Mode)))
	r.Use(identity)

	if s.cfg.Audit.Enabled {
		r.Use(audit.Middleware(s.auditStore, s.cfg.AuditSettings(), s.logger))
		s.logger.Info("audit middleware enabled",
			"logDenied", s.cfg.Audit.LogDenied,
			"retentionDays", s.cfg.Audit.RetentionDays)
	}

	r.Route(APIBasePath, func(api chi.Router) {
		hierarchy.Routes(api.With(s.cacheManager.HierarchyMiddleware()), s.hierService, s.hierStore, s.authorizer)
		reduction.Routes(api, s.reduction, s.hierService, s.authorizer)
		publication.Routes(api, s.coordinator, s.authorizer)
		audit.Routes(api, s.auditStore, s.authorizer)
		api.Get("/contents/{contentId}/status", publication.ContentStatusHandler(s.coordinator))
	})

	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)
	return r, nil
}

// Start launches the background workers: the registry watcher and the audit
// retention sweep. It returns immediately; workers stop when ctx is canceled.
func (s *Server) Start(ctx context.Context) {
	if s.watcher != nil {
		go func() {
			if err := s.watcher.Run(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("registry watcher stopped", "error", err)
			}
		}()
	}
	if s.retention != nil {
		go s.retention.Run(ctx)
	}
}

// Shutdown waits for in-flight reduction tasks to finish or cancel.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reduction exposes the reduction service, mainly for tests.
func (s *Server) Reduction() *reduction.Service { return s.reduction }

// Coordinator exposes the publication coordinator, mainly for tests.
func (s *Server) Coordinator() *publication.Coordinator { return s.coordinator }

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	uptime := time.Since(s.startedAt).Round(time.Second).String()
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "alive",
		"uptime": uptime,
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	initialLoadDone := s.initialLoadDone
	s.mu.RUnlock()

	allReady := true

	dbStatus := map[string]string{"status": "up"}
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus["status"] = "down"
		dbStatus["error"] = err.Error()
		allReady = false
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus["status"] = "down"
		dbStatus["error"] = err.Error()
		allReady = false
	}

	loadStatus := map[string]string{"status": "complete"}
	if !initialLoadDone {
		loadStatus["status"] = "pending"
		allReady = false
	}

	status := "ready"
	code := http.StatusOK
	if !allReady {
		status = "not_ready"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"components": map[string]any{
			"database":     dbStatus,
			"initial_load": loadStatus,
		},
	})
}
