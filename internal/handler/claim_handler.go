package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/kami1983/sl-runes-agent/internal/service"
)

// ClaimHandler 领取
type ClaimHandler struct {
	claims *service.ClaimService
}

// NewClaimHandler 创建领取处理器
func NewClaimHandler(claims *service.ClaimService) *ClaimHandler {
	return &ClaimHandler{claims: claims}
}

// GrabResponse 领取响应, 附带领取人用户名
type GrabResponse struct {
	Res      *service.GrabResult `json:"res"`
	Username string              `json:"username"`
}

// Grab 领取一份
// POST /sl/grab
func (h *ClaimHandler) Grab(c *gin.Context) {
	var body RidRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	id, ok := parseEnvelopeID(body.Rid)
	if !ok {
		BadRequest(c, "无效的红包编号")
		return
	}

	result, err := h.claims.Grab(c.Request.Context(), GetUID(c), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, &GrabResponse{Res: result, Username: GetUsername(c)})
}
