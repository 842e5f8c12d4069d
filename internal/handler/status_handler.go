package handler

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kami1983/sl-runes-agent/internal/service"
)

// StatusHandler 红包列表、状态与统计
type StatusHandler struct {
	status *service.StatusService
	stats  *service.StatsService
}

// NewStatusHandler 创建状态处理器
func NewStatusHandler(status *service.StatusService, stats *service.StatsService) *StatusHandler {
	return &StatusHandler{status: status, stats: stats}
}

// ListRequest 用户红包列表请求, args 为页码
type ListRequest struct {
	Args       string `json:"args"`
	ShareCount int    `json:"share_count"`
}

// List 当前用户的红包
// POST /sl/list
func (h *StatusHandler) List(c *gin.Context) {
	var body ListRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	page := 1
	if raw := strings.TrimSpace(body.Args); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			BadRequest(c, "无效的页码")
			return
		}
		page = p
	}

	result, err := h.status.ListOwned(c.Request.Context(), GetUID(c), page, body.ShareCount)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, result)
}

// Status 本地红包状态, page_start 从 0 开始
// GET /sl/status
func (h *StatusHandler) Status(c *gin.Context) {
	pageStart := queryInt(c, "page_start", 0)
	pageSize := queryInt(c, "page_size", 0)

	var tid *int
	if raw := c.Query("tid"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			BadRequest(c, "无效的 tid")
			return
		}
		tid = &v
	}

	page, err := h.status.ListStatus(c.Request.Context(), pageStart, pageSize, tid)
	if err != nil {
		Fail(c, err)
		return
	}
	SuccessPaged(c, page.Rows, page.Page, page.PageSize, page.Total)
}

// Stats 最近 duration 秒的统计, 缺省为全部
// GET /sl/stats
func (h *StatusHandler) Stats(c *gin.Context) {
	seconds := queryInt(c, "duration", 0)
	if seconds < 0 {
		BadRequest(c, "无效的 duration")
		return
	}

	stats, err := h.stats.Stats(c.Request.Context(), time.Duration(seconds)*time.Second)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, stats)
}
