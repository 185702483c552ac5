package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/runflow/engine"
	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/logger"
	"github.com/kbukum/runflow/repository"
	"github.com/kbukum/runflow/run"
	"github.com/kbukum/runflow/server/endpoint"
	"github.com/kbukum/runflow/server/middleware"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 1000
)

// LaunchResponse is the body of a successful run launch.
type LaunchResponse struct {
	RunID      string `json:"run_id"`
	Repository string `json:"repository"`
	Job        string `json:"job"`
}

type api struct {
	engine *engine.Engine
	log    *logger.Logger
}

// MountAPI registers the operational endpoints and the v1 API backed by eng.
func (s *Server) MountAPI(serviceName string, eng *engine.Engine, health endpoint.HealthChecker) {
	a := &api{engine: eng, log: s.log}
	r := s.engine

	r.GET("/healthz", endpoint.Health(serviceName, health))
	r.GET("/version", endpoint.Version())

	var guard []gin.HandlerFunc
	if s.config.Auth.Enabled() {
		guard = append(guard, middleware.Auth(middleware.HS256Validator(s.config.Auth.JWTSecret, s.config.Auth.Issuer)))
	}
	launch := guard
	if s.config.LaunchRateLimit > 0 {
		launch = handlers(guard, middleware.RateLimit(s.config.LaunchRateLimit, nil))
	}

	v1 := r.Group("/api/v1")
	v1.GET("/repositories", a.listRepositories)
	v1.GET("/repositories/:repo/jobs/:job", a.getJob)
	v1.POST("/repositories/:repo/jobs/:job/runs", handlers(launch, a.launchRun)...)
	v1.GET("/runs", a.listRuns)
	v1.GET("/runs/:id", a.getRun)
	v1.POST("/runs/:id/cancel", handlers(guard, a.cancelRun)...)
}

// handlers returns a new chain of base followed by h.
func handlers(base []gin.HandlerFunc, h ...gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(base)+len(h))
	return append(append(out, base...), h...)
}

func (a *api) listRepositories(c *gin.Context) {
	sel := repository.Selector{Repository: c.Query("repository"), Location: c.Query("location")}
	listing, err := a.engine.Workspace().List(sel)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	RespondOKWithMeta(c, listing, &Meta{Count: len(listing)})
}

func (a *api) getJob(c *gin.Context) {
	j, err := a.engine.Workspace().Job(c.Param("repo"), c.Param("job"))
	if err != nil {
		RespondWithError(c, err)
		return
	}
	RespondOK(c, j.Info())
}

func (a *api) launchRun(c *gin.Context) {
	repo, job := c.Param("repo"), c.Param("job")
	id, err := a.engine.Start(c.Request.Context(), repo, job)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	a.log.WithContext(c.Request.Context()).Info("run launched", logger.Fields(
		logger.FieldRunID, id, logger.FieldRepository, repo, logger.FieldJob, job, "subject", c.GetString(middleware.ContextSubject),
	))
	RespondAccepted(c, LaunchResponse{RunID: id, Repository: repo, Job: job})
}

func (a *api) listRuns(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	runs, err := a.engine.ListRuns(c.Request.Context(), f)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	RespondOKWithMeta(c, runs, &Meta{Count: len(runs), Limit: f.Limit})
}

func (a *api) getRun(c *gin.Context) {
	r, err := a.engine.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondWithError(c, err)
		return
	}
	RespondOK(c, r)
}

func (a *api) cancelRun(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := a.engine.Cancel(ctx, id); err != nil {
		RespondWithError(c, err)
		return
	}
	r, err := a.engine.GetRun(ctx, id)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	RespondOK(c, r)
}

// parseFilter reads the run list query: repeatable status, repository,
// job, since and until (RFC3339) and limit.
func parseFilter(c *gin.Context) (run.Filter, error) {
	f := run.Filter{
		Repository: c.Query("repository"),
		JobName:    c.Query("job"),
		Limit:      defaultRunLimit,
	}
	for _, raw := range c.QueryArray("status") {
		st, ok := run.ParseStatus(raw)
		if !ok {
			return f, errors.InvalidInput("status", "unknown status "+strconv.Quote(raw))
		}
		f.Statuses = append(f.Statuses, st)
	}
	var err error
	if f.CreatedAfter, err = parseTime(c, "since"); err != nil {
		return f, err
	}
	if f.CreatedBefore, err = parseTime(c, "until"); err != nil {
		return f, err
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRunLimit {
			return f, errors.InvalidInput("limit", "must be between 1 and "+strconv.Itoa(maxRunLimit))
		}
		f.Limit = n
	}
	return f, nil
}

func parseTime(c *gin.Context, key string) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.InvalidInput(key, "must be an RFC3339 timestamp")
	}
	return t, nil
}
