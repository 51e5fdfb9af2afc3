// Package api serves the scan dashboard: start a scan, follow its progress,
// read the result and browse recent history.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/catalog"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/config"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/history"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/logger"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/orchestrator"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/ratelimit"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/report"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/resolver"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/validation"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/worker"
	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/types"
)

// Scanner runs one scan. *orchestrator.Orchestrator satisfies it.
type Scanner interface {
	RunScan(ctx context.Context, target string, mode types.ScanMode, onProgress orchestrator.ProgressFunc) (*types.ScanResult, error)
	Catalog() *catalog.Catalog
}

// Lookup resolves a host. *resolver.Resolver satisfies it.
type Lookup interface {
	Lookup(ctx context.Context, target string) (*resolver.Result, error)
}

// LimiterStats reports backend pacing. *ratelimit.Limiter satisfies it.
type LimiterStats interface {
	GetStats() ratelimit.Stats
}

type Deps struct {
	Scanner        Scanner
	History        history.Store
	Resolver       Lookup
	Logger         *logger.Logger
	Metrics        *Metrics
	BackendLimiter LimiterStats

	// APIKey enables bearer authentication on /api routes when set.
	APIKey              string
	RateLimit           config.RateLimitConfig
	MaxConcurrentScans  int
	AllowPrivateTargets bool
}

type Server struct {
	router   *gin.Engine
	scanner  Scanner
	store    history.Store
	resolver Lookup
	registry *Registry
	pool     *worker.Pool
	metrics  *Metrics
	limiter  LimiterStats
	logger   *logger.Logger
	upgrader websocket.Upgrader

	allowPrivate bool

	// baseCtx outlives requests; scans are cancelled through the registry.
	baseCtx context.Context
}

type startScanRequest struct {
	Target  string `json:"url" binding:"required"`
	Mode    string `json:"scan_mode"`
	Resolve bool   `json:"resolve"`
}

type dnsLookupRequest struct {
	Domain string `json:"domain" binding:"required"`
}

func NewServer(ctx context.Context, deps Deps) (*Server, error) {
	if deps.Scanner == nil {
		return nil, errors.New("scanner is required")
	}
	if deps.History == nil {
		deps.History = history.NewMemoryStore(history.DefaultCapacity)
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:   router,
		scanner:  deps.Scanner,
		store:    deps.History,
		resolver: deps.Resolver,
		registry: NewRegistry(),
		pool:     worker.NewPool(deps.MaxConcurrentScans, deps.Logger),
		metrics:  deps.Metrics,
		limiter:  deps.BackendLimiter,
		logger:   deps.Logger.WithComponent("api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return allowedOrigin(r.Header.Get("Origin")) },
		},
		allowPrivate: deps.AllowPrivateTargets,
		baseCtx:      ctx,
	}

	router.Use(LoggingMiddleware(s.logger), CORSMiddleware())

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	apiGroup := router.Group("/api")
	if deps.APIKey != "" {
		apiGroup.Use(AuthMiddleware(deps.APIKey, s.logger))
	}
	if deps.RateLimit.RequestsPerSecond > 0 {
		apiGroup.Use(RateLimitMiddleware(deps.RateLimit))
	}
	apiGroup.GET("/phases", s.handlePhases)
	apiGroup.GET("/scans", s.handleListScans)
	apiGroup.POST("/scans", s.handleStartScan)
	apiGroup.GET("/scans/:id", s.handleGetScan)
	apiGroup.DELETE("/scans/:id", s.handleCancelScan)
	apiGroup.GET("/scans/:id/stream", s.handleStream)
	apiGroup.GET("/scans/:id/report", s.handleReport)
	apiGroup.GET("/history", s.handleHistory)
	apiGroup.POST("/dns-lookup", s.handleDNSLookup)

	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Shutdown cancels running scans and waits for them to record their outcome.
func (s *Server) Shutdown(ctx context.Context) error {
	n := s.registry.CancelAll()
	s.logger.Infow("Cancelling running scans", "count", n)

	return s.pool.Close(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":       "healthy",
		"version":      logger.Version,
		"time":         time.Now().UTC(),
		"active_scans": s.pool.Active(),
	}
	if s.limiter != nil {
		stats := s.limiter.GetStats()
		resp["backend_limiter"] = gin.H{
			"tracked_hosts": stats.TrackedHosts,
			"burst_size":    stats.BurstSize,
			"min_delay":     stats.MinDelay.String(),
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePhases(c *gin.Context) {
	cat := s.scanner.Catalog()
	out := gin.H{}
	for _, mode := range cat.Modes() {
		phases, _ := cat.Phases(mode)
		out[string(mode)] = gin.H{
			"phases":      phases,
			"total_tests": cat.TotalTests(mode),
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleListScans(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.List())
}

func (s *Server) handleStartScan(c *gin.Context) {
	var req startScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request must include url"})
		return
	}

	target := strings.TrimSpace(req.Target)
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": orchestrator.ErrEmptyTarget.Error()})
		return
	}
	check := validation.ValidateTarget(target, validation.Options{AllowPrivate: s.allowPrivate})
	if err := check.Err(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mode := types.ScanModeLight
	if req.Mode != "" {
		m, err := types.ParseScanMode(req.Mode)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		mode = m
	}
	if _, ok := s.scanner.Catalog().Phases(mode); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": orchestrator.ErrUnknownMode.Error()})
		return
	}

	id := history.NewID()
	scanCtx, cancel := context.WithCancel(s.baseCtx)
	s.registry.Add(id, target, mode, cancel)

	err := s.pool.TrySubmit(id, func() {
		s.runScan(scanCtx, cancel, id, target, mode, req.Resolve)
	})
	if err != nil {
		cancel()
		s.registry.Remove(id)
		status := http.StatusTooManyRequests
		if errors.Is(err, worker.ErrPoolClosed) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	s.metrics.ScanStarted(mode)

	s.logger.Infow("Scan accepted",
		"scan_id", id,
		"target", target,
		"mode", string(mode),
		"target_type", string(check.TargetType),
		"active_scans", s.pool.Active(),
	)

	c.JSON(http.StatusAccepted, gin.H{
		"scan_id":  id,
		"status":   types.ScanStatusScanning,
		"warnings": check.Warnings,
	})
}

func (s *Server) runScan(ctx context.Context, cancel context.CancelFunc, id, target string, mode types.ScanMode, resolve bool) {
	defer cancel()

	log := s.logger.WithScanID(id).WithTarget(target)
	start := time.Now()

	finished := false
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		log.LogPanic(ctx, rec, "api.runScan")
		if finished {
			return
		}
		s.metrics.ScanFinished(mode, types.ScanStatusError, time.Since(start), nil)
		s.registry.Finish(id, types.ScanStatusError, nil, fmt.Errorf("scan aborted: %v", rec))
	}()

	result, err := s.scanner.RunScan(ctx, target, mode, func(p types.ScanProgress) {
		s.registry.UpdateProgress(id, p)
		log.LogScanProgress(ctx, id, p.Progress, string(types.ScanStatusScanning), map[string]interface{}{
			"current_group":   p.CurrentGroup,
			"current_test":    p.CurrentTest,
			"completed_tests": p.CompletedTests,
			"total_tests":     p.TotalTests,
		})
	})

	status := types.ScanStatusCompleted
	switch {
	case errors.Is(err, orchestrator.ErrScanCancelled):
		status = types.ScanStatusCancelled
	case err != nil:
		status = types.ScanStatusError
	}

	if err == nil {
		if resolve && s.resolver != nil {
			if res, lookupErr := s.resolver.Lookup(ctx, target); lookupErr == nil {
				result.ResolvedIP = res.IP
			} else {
				log.Warnw("Could not resolve target", "error", lookupErr)
			}
		}

		entry := history.ToHistoryEntry(result, id)
		if storeErr := s.store.Add(context.WithoutCancel(ctx), entry); storeErr != nil {
			log.LogError(ctx, storeErr, "history.Add")
		}
	}

	s.metrics.ScanFinished(mode, status, time.Since(start), result)
	s.registry.Finish(id, status, result, err)
	finished = true

	log.Infow("Scan finished",
		"status", string(status),
		"duration", time.Since(start).String(),
	)
}

func (s *Server) handleGetScan(c *gin.Context) {
	job, err := s.registry.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Scan not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleReport(c *gin.Context) {
	job, err := s.registry.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Scan not found"})
		return
	}
	if job.Result == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Scan has no result", "status": job.Status})
		return
	}
	c.JSON(http.StatusOK, report.NewDocument(job.Result))
}

func (s *Server) handleCancelScan(c *gin.Context) {
	id := c.Param("id")
	switch err := s.registry.Cancel(id); {
	case errors.Is(err, ErrScanNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Scan not found"})
	case errors.Is(err, ErrScanNotRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusAccepted, gin.H{"scan_id": id, "status": "cancelling"})
	}
}

func (s *Server) handleStream(c *gin.Context) {
	id := c.Param("id")
	events, unsubscribe, err := s.registry.Subscribe(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Scan not found"})
		return
	}
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warnw("WebSocket upgrade failed", "scan_id", id, "error", err)
		return
	}
	defer conn.Close()

	// Reader loop only notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "scan finished"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func (s *Server) handleHistory(c *gin.Context) {
	entries, err := s.store.List(c.Request.Context())
	if err != nil {
		s.logger.LogError(c.Request.Context(), err, "history.List")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) handleDNSLookup(c *gin.Context) {
	if s.resolver == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "DNS lookup is not configured"})
		return
	}

	var req dnsLookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request must include domain"})
		return
	}

	res, err := s.resolver.Lookup(c.Request.Context(), req.Domain)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"error": resolver.ErrNoRecords.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}
