package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mescon/repeatd/internal/config"
	"github.com/mescon/repeatd/internal/services"
)

// intervalParam accepts "30s", "@every 1m", "1500" or a bare JSON number of milliseconds.
type intervalParam time.Duration

func (p *intervalParam) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = 0
		return nil
	}
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}
	d, err := config.ParseInterval(raw)
	if err != nil {
		return err
	}
	*p = intervalParam(d)
	return nil
}

type createJobRequest struct {
	Name     string        `json:"name"`
	Kind     string        `json:"kind" binding:"required"`
	Target   string        `json:"target"`
	Interval intervalParam `json:"interval"`
	Delay    intervalParam `json:"delay"`
}

type updateIntervalRequest struct {
	Interval *intervalParam `json:"interval" binding:"required"`
}

func (s *RESTServer) listJobs(c *gin.Context) {
	jobs := s.jobs.List()
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

func (s *RESTServer) getJob(c *gin.Context) {
	info, ok := s.jobs.Get(c.Param("id"))
	if !ok {
		respondNotFound(c, ErrMsgJobNotFound)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *RESTServer) createJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err, false)
		return
	}

	info, err := s.jobs.AddJob(services.JobConfig{
		Name:     req.Name,
		Kind:     req.Kind,
		Target:   req.Target,
		Interval: time.Duration(req.Interval),
		Delay:    time.Duration(req.Delay),
	})
	if errors.Is(err, services.ErrInvalidJob) {
		respondBadRequest(c, err, true)
		return
	}
	if err != nil {
		respondInternalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

// abortJob aborts a job. With ?wait=true the response is held until the
// job's in-flight run has finished.
func (s *RESTServer) abortJob(c *gin.Context) {
	id := c.Param("id")
	done, err := s.jobs.AbortJob(id)
	if errors.Is(err, services.ErrJobNotFound) {
		respondNotFound(c, ErrMsgJobNotFound)
		return
	}
	if err != nil {
		respondInternalError(c, err)
		return
	}

	wait, _ := strconv.ParseBool(c.DefaultQuery("wait", "false"))
	if !wait {
		c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "aborting"})
		return
	}
	if !s.waitFor(c, done) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": "aborted"})
}

func (s *RESTServer) updateJobInterval(c *gin.Context) {
	var req updateIntervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err, false)
		return
	}

	id := c.Param("id")
	err := s.jobs.SetJobInterval(id, time.Duration(*req.Interval))
	switch {
	case errors.Is(err, services.ErrJobNotFound):
		respondNotFound(c, ErrMsgJobNotFound)
		return
	case errors.Is(err, services.ErrInvalidJob):
		respondBadRequest(c, err, true)
		return
	case err != nil:
		respondInternalError(c, err)
		return
	}

	info, ok := s.jobs.Get(id)
	if !ok {
		respondNotFound(c, ErrMsgJobNotFound)
		return
	}
	c.JSON(http.StatusOK, info)
}

// abortAll aborts every job and waits for all of them to finish.
func (s *RESTServer) abortAll(c *gin.Context) {
	count := s.jobs.Len()
	done := s.jobs.AbortAll()
	if !s.waitFor(c, done) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "aborted", "count": count})
}

// waitFor blocks until done closes. It writes a timeout response and returns
// false if abortTimeout passes or the client goes away first.
func (s *RESTServer) waitFor(c *gin.Context, done <-chan struct{}) bool {
	timer := time.NewTimer(s.abortTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		respondWithError(c, http.StatusGatewayTimeout, ErrMsgAbortTimeout, nil)
	case <-c.Request.Context().Done():
		respondWithError(c, http.StatusGatewayTimeout, ErrMsgAbortTimeout, c.Request.Context().Err())
	}
	return false
}
