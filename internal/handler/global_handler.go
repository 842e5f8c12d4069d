package handler

import (
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/kami1983/sl-runes-agent/internal/repository"
	"github.com/kami1983/sl-runes-agent/internal/service"
)

// GlobalHandler 全局键值
type GlobalHandler struct {
	globals   *service.GlobalVarService
	envelopes *service.EnvelopeService
}

// NewGlobalHandler 创建全局键值处理器; envelopes 为 nil 时更新不做代理检查
func NewGlobalHandler(globals *service.GlobalVarService, envelopes *service.EnvelopeService) *GlobalHandler {
	return &GlobalHandler{globals: globals, envelopes: envelopes}
}

// GetKeysRequest 查询请求, keys 为逗号分隔的键名
type GetKeysRequest struct {
	Keys string `json:"keys"`
}

// UpdateKeys 批量写入, 请求体为键值对象
// POST /sl/global/keys/update
func (h *GlobalHandler) UpdateKeys(c *gin.Context) {
	var body map[string]string
	if err := c.ShouldBindJSON(&body); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	if h.envelopes != nil {
		if err := h.envelopes.CheckAgent(ctx); err != nil {
			Fail(c, err)
			return
		}
	}

	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]repository.KeyValue, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, repository.KeyValue{Key: k, Value: body[k]})
	}

	if err := h.globals.UpdateKeys(ctx, pairs); err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"updated": len(pairs)})
}

// GetKeys 按键名查询
// POST /sl/global/keys/get
func (h *GlobalHandler) GetKeys(c *gin.Context) {
	var body GetKeysRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	values, err := h.globals.GetKeys(c.Request.Context(), body.Keys)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, values)
}
