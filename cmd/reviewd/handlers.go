package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/proctorview/playback/internal/metrics"
	"github.com/proctorview/playback/internal/player"
	"github.com/proctorview/playback/pkg/models"
)

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := api.repo.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

// List interviews endpoint
func (api *API) listInterviews(c *gin.Context) {
	limit := 20
	offset := 0

	interviews, err := api.repo.ListInterviews(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"interviews": interviews,
		"limit":      limit,
		"offset":     offset,
	})
}

// Get interview endpoint
func (api *API) getInterview(c *gin.Context) {
	interviewID := c.Param("id")

	// Check cache first
	if cached, err := api.cache.GetInterview(c.Request.Context(), interviewID); err == nil && cached != nil {
		c.JSON(http.StatusOK, cached)
		return
	}

	interview, err := api.repo.GetInterview(c.Request.Context(), interviewID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Interview not found"})
		return
	}

	if err := api.cache.SetInterview(c.Request.Context(), interview, 5*time.Minute); err != nil {
		api.log.WithError(err).Warn("Interview cache store failed")
	}

	c.JSON(http.StatusOK, interview)
}

// List anomalies endpoint
func (api *API) listAnomalies(c *gin.Context) {
	interviewID := c.Param("id")

	anomalies, err := api.repo.ListAnomalies(c.Request.Context(), interviewID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"anomalies": anomalies})
}

// Create review session endpoint
func (api *API) createSession(c *gin.Context) {
	var req struct {
		InterviewID string `json:"interview_id" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	interview, err := api.repo.GetInterview(c.Request.Context(), req.InterviewID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Interview not found"})
		return
	}

	// In-progress interviews get a live adapter on top of the recorded chunks
	liveURL := ""
	if interview.Status == models.InterviewStatusInProgress {
		liveURL, err = api.storage.GetURL(c.Request.Context(), "live/"+interview.SessionID+"/index.m3u8")
		if err != nil {
			api.log.WithError(err).Warn("Live manifest URL resolution failed")
			liveURL = ""
		}
	}

	session, err := api.registry.Create(c.Request.Context(), interview.SessionID, liveURL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session": session,
		"live":    session.Live != nil,
	})
}

// List sessions endpoint
func (api *API) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": api.registry.List()})
}

// playerState summarizes one stream for the state endpoint
type playerState struct {
	State       string  `json:"state"`
	Chunk       int     `json:"chunk"`
	CurrentTime float64 `json:"current_time"`
	Duration    float64 `json:"duration"`
	Playing     bool    `json:"playing"`
	Error       string  `json:"error,omitempty"`
}

func snapshotPlayer(p *player.Player) playerState {
	st := playerState{
		State:       p.State().String(),
		Chunk:       p.CurrentChunk(),
		CurrentTime: p.GlobalCurrentTime(),
		Duration:    p.TotalDuration(),
		Playing:     p.IsPlaying(),
	}
	if err := p.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}

// Get session state endpoint
func (api *API) getSessionState(c *gin.Context) {
	session, ok := api.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session":      session,
		"screen":       snapshotPlayer(session.Screen),
		"camera":       snapshotPlayer(session.Camera),
		"current_time": session.Sync.CurrentTime(),
		"duration":     session.Sync.TotalDuration(),
		"playing":      session.Sync.IsPlaying(),
	})
}

// Close session endpoint
func (api *API) closeSession(c *gin.Context) {
	if err := api.registry.Close(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Session closed"})
}

// Play endpoint
func (api *API) play(c *gin.Context) {
	session, ok := api.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	session.Sync.Play()
	c.JSON(http.StatusOK, gin.H{"playing": true})
}

// Pause endpoint
func (api *API) pause(c *gin.Context) {
	session, ok := api.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	session.Sync.Pause()
	c.JSON(http.StatusOK, gin.H{"playing": false})
}

// Seek endpoint
func (api *API) seek(c *gin.Context) {
	session, ok := api.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	var req struct {
		Time float64 `json:"time"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Time < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "time must be non-negative"})
		return
	}

	metrics.SeeksTotal.WithLabelValues("user").Inc()
	session.Sync.SeekToGlobalTime(req.Time)

	c.JSON(http.StatusOK, gin.H{"current_time": req.Time})
}

// Seek-to-anomaly endpoint
func (api *API) seekToAnomaly(c *gin.Context) {
	var req struct {
		AnomalyID string `json:"anomaly_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	anomaly, err := api.repo.GetAnomaly(c.Request.Context(), req.AnomalyID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Anomaly not found"})
		return
	}

	if err := api.registry.SeekToAnomaly(c.Param("id"), anomaly); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"anomaly":      anomaly,
		"current_time": anomaly.Time,
	})
}

// Live status endpoint
func (api *API) liveStatus(c *gin.Context) {
	session, ok := api.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	if session.Live == nil {
		c.JSON(http.StatusOK, gin.H{"live": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"live":   session.Live.Status().Live,
		"status": session.Live.Status(),
	})
}
