package api

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fundscout/fundscout/internal/auth"
	"github.com/fundscout/fundscout/internal/db"
	"github.com/fundscout/fundscout/internal/ingest"
	"github.com/fundscout/fundscout/internal/logger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server exposes the scheduler trigger surface: health, recent run
// summaries, and the admin endpoints that kick off pipeline stages in the
// background.
type Server struct {
	Echo     *echo.Echo
	Store    *db.Store
	Pipeline *ingest.Pipeline
	Log      logger.Logger

	jobMu      sync.Mutex
	runningJob *backgroundJob
}

type backgroundJob struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"` // running, completed, failed
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func NewServer(store *db.Store, pipeline *ingest.Pipeline, log logger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	allowedOrigins := []string{"http://localhost:4200"}
	if extra := os.Getenv("CORS_ORIGINS"); extra != "" {
		for _, o := range strings.Split(extra, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret"},
	}))

	s := &Server{
		Echo:     e,
		Store:    store,
		Pipeline: pipeline,
		Log:      log,
	}

	s.routes()
	return s
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)

	api := s.Echo.Group("/api/v1")
	api.GET("/runs", s.handleListRuns)

	admin := api.Group("")
	admin.Use(auth.Middleware)
	admin.POST("/ingest/run", s.handleTriggerRun)
	admin.POST("/ingest/validate-links", s.handleTriggerLinkSweep)
	admin.POST("/ingest/featured", s.handleTriggerFeatured)
	admin.GET("/jobs/:id", s.handleJobStatus)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleListRuns(c echo.Context) error {
	limit := 20
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	runs, err := s.Store.ListRecentRuns(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) handleTriggerRun(c echo.Context) error {
	return s.startJob(c, "ingest_run", func(ctx context.Context) (any, error) {
		return s.Pipeline.RunAll(ctx)
	})
}

func (s *Server) handleTriggerLinkSweep(c echo.Context) error {
	return s.startJob(c, "validate_links", func(ctx context.Context) (any, error) {
		checked, quarantined, err := s.Pipeline.ValidateLinks(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]int{"checked": checked, "quarantined": quarantined}, nil
	})
}

func (s *Server) handleTriggerFeatured(c echo.Context) error {
	return s.startJob(c, "featured", func(ctx context.Context) (any, error) {
		selected, err := s.Pipeline.RefreshFeatured(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]int{"selected": selected}, nil
	})
}

// startJob launches one background job at a time; a second trigger while a
// job runs gets 409 with the running job's id.
func (s *Server) startJob(c echo.Context, kind string, fn func(ctx context.Context) (any, error)) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" {
		id := s.runningJob.ID
		s.jobMu.Unlock()
		return c.JSON(http.StatusConflict, map[string]string{
			"error":  "another job is already running",
			"job_id": id,
		})
	}

	job := &backgroundJob{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    "running",
		StartedAt: time.Now().UTC(),
	}
	s.runningJob = job
	s.jobMu.Unlock()

	go func() {
		result, err := fn(context.Background())

		s.jobMu.Lock()
		defer s.jobMu.Unlock()
		job.EndedAt = time.Now().UTC()
		if err != nil {
			job.Status = "failed"
			job.Error = err.Error()
			s.Log.Error("background job failed",
				logger.String("kind", kind), logger.Error(err))
			return
		}
		job.Status = "completed"
		job.Result = result
	}()

	return c.JSON(http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": job.Status,
	})
}

func (s *Server) handleJobStatus(c echo.Context) error {
	queried := c.Param("id")

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	job := s.runningJob
	if job == nil || job.ID != queried {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}

	resp := map[string]interface{}{
		"id":         job.ID,
		"kind":       job.Kind,
		"status":     job.Status,
		"started_at": job.StartedAt,
	}
	if !job.EndedAt.IsZero() {
		resp["ended_at"] = job.EndedAt
		resp["duration"] = job.EndedAt.Sub(job.StartedAt).String()
	}
	if job.Result != nil {
		resp["result"] = job.Result
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}

	return c.JSON(http.StatusOK, resp)
}
