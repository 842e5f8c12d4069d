package handler

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kami1983/sl-runes-agent/internal/service"
	"github.com/kami1983/sl-runes-agent/internal/token"
)

// 金额 份数 [F] [留言], F 表示平均分配
var createArgsPattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s+(\d+)(?:\s+(F\b))?(?:\s+(.*))?$`)

// EnvelopeHandler 红包创建、发送、撤销与详情
type EnvelopeHandler struct {
	envelopes *service.EnvelopeService
	escrow    *service.EscrowService
	tokens    *token.Registry
}

// NewEnvelopeHandler 创建红包处理器
func NewEnvelopeHandler(envelopes *service.EnvelopeService, escrow *service.EscrowService, tokens *token.Registry) *EnvelopeHandler {
	return &EnvelopeHandler{envelopes: envelopes, escrow: escrow, tokens: tokens}
}

// CreateRequest 创建红包请求; Args 非空时优先解析 Args
type CreateRequest struct {
	Tid        int    `json:"tid"`
	Args       string `json:"args"`
	Amount     string `json:"amount"`
	Count      int    `json:"count"`
	Random     *bool  `json:"random"`
	Memo       string `json:"memo"`
	ExpireDays int    `json:"expire_days"`
}

// RidRequest 按编号操作的请求
type RidRequest struct {
	Rid      json.Number `json:"rid"`
	Receiver string      `json:"receiver"`
}

// GetRequest 查询详情请求, args 为红包编号
type GetRequest struct {
	Args json.Number `json:"args"`
}

// WalletResponse 钱包信息
type WalletResponse struct {
	Address  string            `json:"address"`
	Balances map[string]string `json:"balances"`
}

// parseCreateArgs 解析 "金额 份数 [F] [留言]"
func parseCreateArgs(args string) (amount string, count int, random bool, memo string, ok bool) {
	m := createArgsPattern.FindStringSubmatch(strings.TrimSpace(args))
	if m == nil {
		return "", 0, false, "", false
	}
	count, err := strconv.Atoi(m[2])
	if err != nil || strconv.Itoa(count) != m[2] {
		return "", 0, false, "", false
	}
	return m[1], count, m[3] == "", strings.TrimSpace(m[4]), true
}

func (r *CreateRequest) toService(uid int64) (*service.CreateEnvelopeRequest, bool) {
	req := &service.CreateEnvelopeRequest{
		Tid:        r.Tid,
		UID:        uid,
		ExpireDays: r.ExpireDays,
	}
	if strings.TrimSpace(r.Args) != "" {
		amount, count, random, memo, ok := parseCreateArgs(r.Args)
		if !ok {
			return nil, false
		}
		req.Amount, req.ShareCount, req.IsRandom, req.Memo = amount, count, random, memo
		return req, true
	}

	if r.Amount == "" || r.Count <= 0 {
		return nil, false
	}
	req.Amount = r.Amount
	req.ShareCount = r.Count
	req.IsRandom = r.Random == nil || *r.Random
	req.Memo = r.Memo
	return req, true
}

// Create 创建红包
// POST /sl/create
func (h *EnvelopeHandler) Create(c *gin.Context) {
	var body CreateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	req, ok := body.toService(GetUID(c))
	if !ok {
		BadRequest(c, "格式: 金额 份数 [F] [留言]")
		return
	}

	result, err := h.envelopes.Create(c.Request.Context(), req)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, result)
}

// Send 发送前检查并标记已发送
// POST /sl/send
func (h *EnvelopeHandler) Send(c *gin.Context) {
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

	ctx := c.Request.Context()
	ticket, err := h.envelopes.PrepareSend(ctx, GetUID(c), id)
	if err != nil {
		Fail(c, err)
		return
	}
	if body.Receiver != "" {
		err = h.envelopes.MarkSentTo(ctx, id, body.Receiver)
	} else {
		err = h.envelopes.MarkSent(ctx, id)
	}
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, ticket)
}

// Revoke 撤销过期红包
// POST /sl/revoke
func (h *EnvelopeHandler) Revoke(c *gin.Context) {
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

	result, err := h.envelopes.Revoke(c.Request.Context(), GetUID(c), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, result)
}

// Get 红包详情
// POST /sl/get
func (h *EnvelopeHandler) Get(c *gin.Context) {
	var body GetRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	id, ok := parseEnvelopeID(body.Args)
	if !ok {
		BadRequest(c, "无效的红包编号")
		return
	}

	detail, err := h.envelopes.GetEnvelope(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, detail)
}

// Wallet 用户托管地址与各代币余额
// POST /sl/wallet
func (h *EnvelopeHandler) Wallet(c *gin.Context) {
	address, balances, err := h.escrow.Balances(c.Request.Context(), GetUID(c), h.tokens.All())
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, &WalletResponse{Address: address, Balances: balances})
}
