// Package api exposes the scheduler and log store's core operations —
// latest results, read/wait logs, search/count logs, update push
// subscriptions — as thin gin handlers. No business logic lives here;
// every handler is a direct translation of request to core call and core
// result to JSON.
package api

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/last-emo-boy/statuswatch/internal/logstore"
	"github.com/last-emo-boy/statuswatch/internal/probe"
	"github.com/last-emo-boy/statuswatch/internal/scheduler"
)

// API wires the scheduler and log store into gin route handlers.
type API struct {
	sched *scheduler.Scheduler
	store *logstore.Store
}

// New builds an API over sched and store.
func New(sched *scheduler.Scheduler, store *logstore.Store) *API {
	return &API{sched: sched, store: store}
}

// Register attaches every route to r.
func (a *API) Register(r gin.IRouter) {
	r.Use(RequestID())
	r.GET("/results", a.latestResults)
	r.GET("/logs", a.readLogs)
	r.GET("/logs/wait", a.waitLogs)
	r.GET("/checks/:id/logs", a.searchLog)
	r.GET("/checks/:id/count", a.countLogs)
	r.PUT("/subscriptions", a.updateSubscriptions)
}

func (a *API) latestResults(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"results": a.sched.LatestResults()})
}

func (a *API) readLogs(c *gin.Context) {
	var buf []scheduler.LogEntry
	a.sched.ReadLogs(&buf)
	c.JSON(http.StatusOK, gin.H{"entries": buf})
}

// waitLogs blocks until at least one entry is buffered, then drains and
// returns it — a convenience combination of wait_logs()+read_logs(buf)
// for HTTP long-polling clients.
func (a *API) waitLogs(c *gin.Context) {
	a.sched.WaitLogs()
	var buf []scheduler.LogEntry
	a.sched.ReadLogs(&buf)
	c.JSON(http.StatusOK, gin.H{"entries": buf})
}

func parseLogFilter(c *gin.Context) (logstore.LogFilter, error) {
	filter := logstore.DefaultFilter()
	if v := c.Query("min_time"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filter, err
		}
		t := time.UnixMilli(ms)
		filter.MinTime = &t
	}
	if v := c.Query("max_time"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filter, err
		}
		t := time.UnixMilli(ms)
		filter.MaxTime = &t
	}
	if v := c.Query("include_up"); v == "false" {
		filter.IncludeUp = false
	}
	if v := c.Query("include_warn"); v == "false" {
		filter.IncludeWarn = false
	}
	if v := c.Query("include_error"); v == "false" {
		filter.IncludeError = false
	}
	return filter, nil
}

func parseOrder(c *gin.Context) logstore.LogOrder {
	switch c.Query("order") {
	case "asc":
		return logstore.TimeAsc
	case "desc":
		return logstore.TimeDesc
	default:
		return logstore.Unordered
	}
}

func (a *API) searchLog(c *gin.Context) {
	checkID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid check id"})
		return
	}
	filter, err := parseLogFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	type entry struct {
		ID   int64             `json:"id"`
		Time time.Time         `json:"time"`
		Result probe.Result    `json:"result"`
	}
	var entries []entry
	err = a.store.SearchLog(checkID, filter, parseOrder(c), func(id int64, log logstore.CheckLog) bool {
		entries = append(entries, entry{ID: id, Time: log.Time, Result: log.Result})
		return true
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (a *API) countLogs(c *gin.Context) {
	checkID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid check id"})
		return
	}
	filter, err := parseLogFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	counts, err := a.store.CountLogs(checkID, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, counts)
}

// subscriptionRequest is the wire shape for updating a subscriber's push
// preferences: their identity plus the full preference list to replace it
// with.
type subscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Auth     string `json:"auth" binding:"required"`   // base64url, 16 bytes
	P256DH   string `json:"p256dh" binding:"required"` // base64url, 65 bytes uncompressed
	Checks   []struct {
		CheckID    int64 `json:"check_id"`
		NotifyWarn bool  `json:"notify_warn"`
	} `json:"checks"`
}

func (a *API) updateSubscriptions(c *gin.Context) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	auth, err := base64.RawURLEncoding.DecodeString(req.Auth)
	if err != nil || len(auth) != 16 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "auth must be 16 bytes, base64url-encoded"})
		return
	}
	p256dh, err := base64.RawURLEncoding.DecodeString(req.P256DH)
	if err != nil || len(p256dh) != 65 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "p256dh must be 65 bytes uncompressed, base64url-encoded"})
		return
	}

	list := make([]logstore.PushSubscription, len(req.Checks))
	for i, ch := range req.Checks {
		list[i] = logstore.PushSubscription{CheckID: ch.CheckID, NotifyWarn: ch.NotifyWarn}
	}

	if err := a.store.UpdatePushSubscriptions(req.Endpoint, auth, p256dh, list); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
