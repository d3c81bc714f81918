package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gotrs-io/autoreply/internal/ledger"
	"github.com/gotrs-io/autoreply/internal/services/autoreply"
	"github.com/gotrs-io/autoreply/internal/version"
)

// processEmails runs synchronously and answers with the run summary. Runs
// that could not start because of missing configuration still answer 200
// with success=false; unexpected failures answer 500.
func (r *Router) processEmails(origin autoreply.Origin) gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.runner == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "processing is not configured"})
			return
		}
		// A client that hangs up must not abort a run that may already have sent replies.
		sum := r.runner.Run(context.WithoutCancel(c.Request.Context()), origin)
		status := http.StatusOK
		if sum.Aborted() {
			status = http.StatusInternalServerError
		}
		c.JSON(status, sum)
	}
}

func (r *Router) listLogs(c *gin.Context) {
	var f ledger.Filter

	if raw := strings.TrimSpace(c.Query("level")); raw != "" {
		level, err := ledger.ParseLevel(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f.Level = level
	}
	f.Account = strings.TrimSpace(c.Query("account"))
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		f.Limit = n
	}

	entries := r.logs.Query(f)
	if entries == nil {
		entries = []ledger.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (r *Router) clearLogs(c *gin.Context) {
	if err := r.logs.Clear(); err != nil {
		r.logger.Error("failed to clear logs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to clear logs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "logs cleared"})
}

func (r *Router) listJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": r.jobs.Jobs()})
}

func (r *Router) pollStatus(c *gin.Context) {
	account := c.Param("account")
	st, err := r.status.Get(c.Request.Context(), account)
	if err != nil {
		r.logger.Warn("failed to read poll status", zap.String("account", account), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "poll status unavailable"})
		return
	}
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no poll recorded for account"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": st})
}

func (r *Router) healthCheck(c *gin.Context) {
	if r.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := r.db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "autoreply",
		"version": version.GetInfo(),
	})
}

func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
