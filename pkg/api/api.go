// Package api implements the Submission API (§6): HTTP endpoints to
// submit an analysis job, poll its status, stream its events, fetch its
// result, and request cooperative cancellation.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/dealbench/dealbench/pkg/events"
	"github.com/dealbench/dealbench/pkg/job"
	"github.com/dealbench/dealbench/pkg/masking"
	"github.com/dealbench/dealbench/pkg/orchestrator"
)

// Server wires the Job Manager, Scheduler, event fan-out, and masking
// service behind a gin.Engine.
type Server struct {
	Jobs        *job.Manager
	Scheduler   *orchestrator.Scheduler
	Connections *events.ConnectionManager
	Publisher   *events.Publisher
	Masking     *masking.Service

	engine *gin.Engine
}

// NewServer builds the gin.Engine and registers routes.
func NewServer(jobs *job.Manager, sched *orchestrator.Scheduler, connMgr *events.ConnectionManager, pub *events.Publisher, maskSvc *masking.Service) *Server {
	s := &Server{Jobs: jobs, Scheduler: sched, Connections: connMgr, Publisher: pub, Masking: maskSvc}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.registerRoutes()
	return s
}

// Engine exposes the underlying gin.Engine (for http.ListenAndServe or tests).
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) registerRoutes() {
	s.engine.POST("/analysis", s.submitAnalysis)
	s.engine.GET("/analysis/:job_id", s.getStatus)
	s.engine.GET("/analysis/:job_id/events", s.streamEvents)
	s.engine.GET("/analysis/:job_id/result", s.getResult)
	s.engine.POST("/analysis/:job_id/cancel", s.cancelAnalysis)
}

type submitRequest struct {
	Target    string   `json:"target" binding:"required"`
	Acquirer  string   `json:"acquirer"`
	DealValue *float64 `json:"deal_value"`
	Thesis    string   `json:"thesis"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

// submitAnalysis implements "POST /analysis" (§6): validates minimal
// required params, creates the job, and starts the pipeline in the
// background. Returns 202 if accepted.
func (s *Server) submitAnalysis(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	j, err := s.Jobs.Create(job.Params{
		Target:    req.Target,
		Acquirer:  req.Acquirer,
		DealValue: req.DealValue,
		Thesis:    req.Thesis,
	})
	if err != nil {
		if errors.Is(err, job.ErrEmptyTarget) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.Publisher.PublishJobProgress(j.ID, 0, 0)

	go s.Scheduler.Run(context.Background(), j)

	c.JSON(http.StatusAccepted, submitResponse{JobID: j.ID})
}

type statusResponse struct {
	Status       string   `json:"status"`
	Progress     progress `json:"progress"`
	CurrentAgent string   `json:"current_agent,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

type progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// getStatus implements "GET /analysis/{job_id}" (§6, §7 "User-visible failure").
func (s *Server) getStatus(c *gin.Context) {
	j, err := s.Jobs.Get(c.Param("job_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	snap := j.Snapshot()

	resp := statusResponse{
		Status:       string(snap.Status),
		Progress:     progress{Completed: snap.Completed, Total: snap.Total},
		CurrentAgent: snap.CurrentAgent,
	}
	if snap.TerminalError != nil {
		msg := snap.TerminalError.Message
		if snap.TerminalError.Remediation != "" {
			msg = msg + " — " + snap.TerminalError.Remediation
		}
		resp.Errors = []string{msg}
	}
	c.JSON(http.StatusOK, resp)
}

// streamEvents implements "GET /analysis/{job_id}/events" (§6) over a
// websocket, reusing the same ConnectionManager the progress channel
// already fans events out through.
func (s *Server) streamEvents(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := s.Jobs.Get(jobID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.Connections.HandleConnection(c.Request.Context(), conn, s.Publisher.Replay)
}

type resultResponse struct {
	ArtifactPaths []string       `json:"artifact_paths"`
	Document      map[string]any `json:"synthesized_data"`
}

// getResult implements "GET /analysis/{job_id}/result" (§6): available
// only when status is completed.
func (s *Server) getResult(c *gin.Context) {
	j, err := s.Jobs.Get(c.Param("job_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	snap := j.Snapshot()
	if snap.Status != job.StatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "result not available until the job completes", "status": snap.Status})
		return
	}

	doc, err := j.State.MustGetSynthesized()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	masked, _ := s.Masking.MaskPayload(doc).(map[string]any)
	c.JSON(http.StatusOK, resultResponse{ArtifactPaths: snap.ArtifactPaths, Document: masked})
}

// cancelAnalysis implements "POST /analysis/{job_id}/cancel" (§6):
// cooperative cancellation via the Job Manager's cancel registry.
func (s *Server) cancelAnalysis(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := s.Jobs.Get(jobID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if !s.Jobs.Cancel(jobID) {
		c.JSON(http.StatusConflict, gin.H{"error": "job is not currently running"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancellation requested"})
}
