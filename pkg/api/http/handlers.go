package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aescanero/modjob/internal/application/jobs"
	"github.com/aescanero/modjob/pkg/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response is the envelope of every API response
type Response struct {
	Status  domain.ResultStatus `json:"status"`
	Message string              `json:"message,omitempty"`
	Data    interface{}         `json:"data,omitempty"`
}

func success(c *gin.Context, code int, data interface{}) {
	c.JSON(code, Response{Status: domain.ResultStatusSuccess, Data: data})
}

func failure(c *gin.Context, code int, message string) {
	c.JSON(code, Response{Status: domain.ResultStatusFailure, Message: message})
}

// JobSubmitRequest represents a job submission request
type JobSubmitRequest struct {
	Module        string         `json:"module" binding:"required"`
	Operation     string         `json:"operation" binding:"required"`
	Payload       domain.Payload `json:"payload"`
	Priority      *int           `json:"priority"`
	ConnectionID  string         `json:"connection_id"`
	CorrelationID string         `json:"correlation_id"`
}

// JobResultResponse is the data of a finished or accepted job
type JobResultResponse struct {
	JobID      string      `json:"job_id"`
	Status     string      `json:"status"`
	Result     interface{} `json:"result,omitempty"`
	ErrorKind  string      `json:"error_kind,omitempty"`
	DurationMs int64       `json:"duration_ms,omitempty"`
}

// ModuleStatusRequest represents a manual module status change
type ModuleStatusRequest struct {
	Status domain.ModuleStatus `json:"status" binding:"required"`
}

// handleHealth reports the aggregate module status
func (s *Server) handleHealth(c *gin.Context) {
	status := s.modules.Status()

	code := http.StatusOK
	if status != domain.ModuleStatusStarted {
		code = http.StatusServiceUnavailable
	}

	checks := make(map[string]domain.ModuleStatus)
	for _, m := range s.modules.Modules() {
		checks[m.Name] = m.Status
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}

// handleSubmitJob submits a job and waits up to the configured time for
// its result. Jobs delivered over a websocket connection, or that do not
// finish in time, are answered with 202 and their id.
func (s *Server) handleSubmitJob(c *gin.Context) {
	var req JobSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Debug("invalid request", zap.Error(err))
		failure(c, http.StatusBadRequest, err.Error())
		return
	}

	requester := &domain.Requester{}
	if r := RequesterFromContext(c.Request.Context()); r != nil {
		*requester = *r
	}
	requester.ConnectionID = req.ConnectionID
	requester.CorrelationID = req.CorrelationID

	opts := []jobs.Option{jobs.WithRequester(requester)}
	if req.Priority != nil {
		opts = append(opts, jobs.WithPriority(*req.Priority))
	}

	handle, err := s.jobs.Submit(c.Request.Context(), req.Module, req.Operation, req.Payload, opts...)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, jobs.ErrModuleNotFound) || errors.Is(err, jobs.ErrOperationNotFound) {
			code = http.StatusNotFound
		}
		failure(c, code, err.Error())
		return
	}

	accepted := JobResultResponse{JobID: handle.ID(), Status: string(domain.JobStatusQueued)}
	if requester.Async() || s.jobWait <= 0 {
		success(c, http.StatusAccepted, accepted)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.jobWait)
	defer cancel()

	result, err := handle.Wait(ctx)
	if err != nil {
		success(c, http.StatusAccepted, accepted)
		return
	}

	data := JobResultResponse{
		JobID:      result.JobID,
		Status:     string(domain.JobStatusCompleted),
		Result:     result.Data,
		ErrorKind:  string(jobs.KindOf(result.Err)),
		DurationMs: result.Duration.Milliseconds(),
	}
	if result.Success() {
		success(c, http.StatusOK, data)
		return
	}

	c.JSON(failureCode(result.Err), Response{
		Status:  domain.ResultStatusFailure,
		Message: result.Message(),
		Data:    data,
	})
}

func failureCode(err error) int {
	switch jobs.KindOf(err) {
	case jobs.KindValidation:
		return http.StatusUnprocessableEntity
	case jobs.KindAuthorization:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// handleGetJob returns a live or archived job
func (s *Server) handleGetJob(c *gin.Context) {
	rec, err := s.jobs.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			failure(c, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("failed to get job", zap.String("job_id", c.Param("id")), zap.Error(err))
		failure(c, http.StatusInternalServerError, err.Error())
		return
	}
	success(c, http.StatusOK, rec)
}

func (s *Server) handleQueued(c *gin.Context) {
	success(c, http.StatusOK, s.jobs.Queued())
}

func (s *Server) handleActive(c *gin.Context) {
	success(c, http.StatusOK, s.jobs.Active())
}

func (s *Server) handleStats(c *gin.Context) {
	success(c, http.StatusOK, s.jobs.Stats())
}

func (s *Server) handleModules(c *gin.Context) {
	success(c, http.StatusOK, s.modules.Modules())
}

// handleSetModuleStatus lets operators recover a module by hand
func (s *Server) handleSetModuleStatus(c *gin.Context) {
	var req ModuleStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failure(c, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Status.Valid() {
		failure(c, http.StatusBadRequest, "invalid module status: "+string(req.Status))
		return
	}

	name := c.Param("name")
	if err := s.modules.SetStatus(name, req.Status); err != nil {
		failure(c, http.StatusNotFound, err.Error())
		return
	}

	s.logger.Info("module status changed via API",
		zap.String("module", name),
		zap.String("status", string(req.Status)))

	success(c, http.StatusOK, gin.H{"module": name, "status": req.Status})
}
