package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mescon/repeatd/internal/config"
	"github.com/mescon/repeatd/internal/domain"
	"github.com/mescon/repeatd/internal/logger"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// formatUptime returns a human-readable uptime string
func formatUptime(uptime time.Duration) string {
	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

func (s *RESTServer) handleHealth(c *gin.Context) {
	uptime := s.clock.Now().Sub(s.startTime)

	resp := gin.H{
		"status":            "healthy",
		"version":           config.Version,
		"uptime":            formatUptime(uptime),
		"uptime_seconds":    int64(uptime.Seconds()),
		"jobs":              s.jobs.Len(),
		"websocket_clients": s.hub.ClientCount(),
	}
	if s.eventBus != nil {
		resp["events_dropped"] = s.eventBus.Dropped()
	}
	if s.notifier != nil && s.notifier.Enabled() {
		sent, failed := s.notifier.Stats()
		resp["notifications"] = gin.H{"sent": sent, "failed": failed}
	}
	if s.journal != nil {
		if stats, err := s.journal.Stats(); err == nil {
			resp["journal"] = stats
		} else {
			logger.Warnf("Failed to read event journal stats: %v", err)
			resp["journal"] = gin.H{"error": "unavailable"}
		}
	}
	c.JSON(http.StatusOK, resp)
}

// getRecentEvents returns the newest events, oldest first, from the journal
// when one is configured and from the bus history otherwise.
func (s *RESTServer) getRecentEvents(c *gin.Context) {
	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondBadRequest(c, fmt.Errorf("limit must be a positive integer"), true)
			return
		}
		limit = min(n, maxEventLimit)
	}

	jobID := c.Query("job_id")

	var events []domain.Event
	if s.journal != nil {
		var err error
		if events, err = s.journal.RecentEvents(limit, jobID); err != nil {
			respondInternalError(c, err)
			return
		}
	} else {
		events = filterEvents(s.eventBus.Recent(0), jobID, limit)
	}
	if events == nil {
		events = []domain.Event{}
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"total":  len(events),
	})
}

// filterEvents keeps the last limit events belonging to jobID. An empty
// jobID matches every event.
func filterEvents(events []domain.Event, jobID string, limit int) []domain.Event {
	if jobID != "" {
		kept := events[:0:0]
		for _, e := range events {
			if e.JobID == jobID {
				kept = append(kept, e)
			}
		}
		events = kept
	}
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events
}

func (s *RESTServer) testNotification(c *gin.Context) {
	if s.notifier == nil || !s.notifier.Enabled() {
		respondServiceUnavailable(c, "Notifications")
		return
	}
	if err := s.notifier.SendTest(); err != nil {
		logger.Warnf("Test notification failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Test notification failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}
