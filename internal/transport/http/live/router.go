package livehttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tradeloop/internal/coordinator"
	"tradeloop/internal/logger"
	"tradeloop/internal/trader"
	"tradeloop/internal/types"

	"github.com/gin-gonic/gin"
)

const (
	defaultLimit = 20
	maxLimit     = 200
)

// Pipeline is the coordinator surface the API reads and approves through.
type Pipeline interface {
	Snapshot() *coordinator.View
	TopOpportunities(limit int) []coordinator.Opportunity
	PendingApprovals() []coordinator.Opportunity
	Learning() coordinator.LearningView
	Resolve(ctx context.Context, id string, approve bool) error
}

// Account is the executor surface. It is nil in scan-only mode.
type Account interface {
	Positions() []types.Position
	History(limit int) []types.Trade
	PnL(now time.Time) trader.PnLSummary
}

type FailureLog interface {
	List(ctx context.Context, component string, limit int) ([]logger.Failure, error)
}

type Router struct {
	pipeline Pipeline
	account  Account
	failures FailureLog
	now      func() time.Time
}

func NewRouter(p Pipeline, a Account, f FailureLog) *Router {
	return &Router{pipeline: p, account: a, failures: f, now: time.Now}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/status", r.handleStatus)
	group.GET("/opportunities", r.handleOpportunities)
	group.GET("/pending", r.handlePending)
	group.POST("/approvals/:id", r.handleApproval)
	group.GET("/learning", r.handleLearning)
	group.GET("/positions", r.handlePositions)
	group.GET("/trades", r.handleTrades)
	group.GET("/pnl", r.handlePnL)
	group.GET("/failures", r.handleFailures)
}

type approvalRequest struct {
	Approve *bool `json:"approve" binding:"required"`
}

func (r *Router) handleStatus(c *gin.Context) {
	v := r.pipeline.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"mode":            v.Mode,
		"trading_enabled": v.TradingEnabled,
		"pending":         len(v.Pending),
		"updated_at":      v.UpdatedAt,
	})
}

func (r *Router) handleOpportunities(c *gin.Context) {
	limit := parseLimit(c)
	c.JSON(http.StatusOK, gin.H{"opportunities": r.pipeline.TopOpportunities(limit), "limit": limit})
}

func (r *Router) handlePending(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pending": r.pipeline.PendingApprovals()})
}

func (r *Router) handleApproval(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	var req approvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"approve\": true|false}"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()
	err := r.pipeline.Resolve(ctx, id, *req.Approve)
	switch {
	case err == nil:
		logger.Infof("[api] approval id=%s approve=%v ip=%s", id, *req.Approve, c.ClientIP())
		c.JSON(http.StatusOK, gin.H{"id": id, "approved": *req.Approve})
	case errors.Is(err, coordinator.ErrUnknownApproval):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, coordinator.ErrStopped), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		logger.Warnf("[api] approval id=%s failed: %v", id, err)
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	}
}

func (r *Router) handleLearning(c *gin.Context) {
	c.JSON(http.StatusOK, r.pipeline.Learning())
}

func (r *Router) handlePositions(c *gin.Context) {
	if !r.requireAccount(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": r.account.Positions()})
}

func (r *Router) handleTrades(c *gin.Context) {
	if !r.requireAccount(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": r.account.History(parseLimit(c))})
}

func (r *Router) handlePnL(c *gin.Context) {
	if !r.requireAccount(c) {
		return
	}
	c.JSON(http.StatusOK, r.account.PnL(r.now()))
}

func (r *Router) handleFailures(c *gin.Context) {
	if r.failures == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dead-letter store disabled"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	list, err := r.failures.List(ctx, strings.TrimSpace(c.Query("component")), parseLimit(c))
	if err != nil {
		logger.Errorf("[api] failures list failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"failures": list})
}

func (r *Router) requireAccount(c *gin.Context) bool {
	if r.account == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "executor disabled in this mode"})
		return false
	}
	return true
}

func parseLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
