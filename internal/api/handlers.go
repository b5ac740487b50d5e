package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/sync"
)

type pushRequest struct {
	Source string            `json:"source"`
	Tasks  []json.RawMessage `json:"tasks"`
	// Timestamp is the client's send time; informational only.
	Timestamp string `json:"timestamp,omitempty"`
}

type pullMetadata struct {
	Count     int        `json:"count"`
	Since     *time.Time `json:"since"`
	Timestamp time.Time  `json:"timestamp"`
}

func (s *Server) handleHealth(c *gin.Context) {
	clients := 0
	if s.hub != nil {
		clients = s.hub.ClientCount()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"clients": clients,
	})
}

func (s *Server) handlePush(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)

	var req pushRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	result, err := s.svc.PushRaw(c.Request.Context(), req.Source, req.Tasks)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

func (s *Server) handlePull(c *gin.Context) {
	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := parseSince(raw)
		if err != nil {
			badRequest(c, "invalid since: expected an ISO-8601 timestamp")
			return
		}
		since = &t
	}

	var sinceTime time.Time
	if since != nil {
		sinceTime = *since
	}

	records, err := s.svc.Pull(c.Request.Context(), c.Query("source"), sinceTime)
	if err != nil {
		s.fail(c, err)
		return
	}
	if records == nil {
		records = []*schema.TaskRecord{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    records,
		"metadata": pullMetadata{
			Count:     len(records),
			Since:     since,
			Timestamp: schema.NormalizeTime(time.Now()),
		},
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	report, err := s.svc.Status(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    report,
	})
}

func (s *Server) handleClear(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)

	var req sync.ClearRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	result, err := s.svc.Clear(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

// parseSince accepts RFC 3339 with or without fractional seconds, and a
// bare date.
func parseSince(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("unrecognized timestamp")
}

// fail maps service errors onto HTTP statuses.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case sync.IsValidation(err):
		badRequest(c, err.Error())
	case sync.IsFatal(err):
		s.logger.Error("storage unavailable", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "storage unavailable, retry later",
		})
	default:
		s.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   msg,
	})
}
