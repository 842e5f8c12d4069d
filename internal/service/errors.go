package service

import (
	"net/http"
	"strconv"

	"google.golang.org/grpc/codes"

	"github.com/kami1983/sl-runes-agent/internal/ledger"
	"github.com/kami1983/sl-runes-agent/pkg/errors"
)

// 业务错误, 远端拒绝时 Details["code"] 为远端错误码原值
var (
	ErrInvalidAmountFormat      = errors.NewWithStatus("INVALID_AMOUNT_FORMAT", "金额格式无效", http.StatusBadRequest, codes.InvalidArgument)
	ErrInvalidShareCount        = errors.NewWithStatus("INVALID_SHARE_COUNT", "份数无效", http.StatusBadRequest, codes.InvalidArgument)
	ErrBelowMinimumShare        = errors.NewWithStatus("BELOW_MINIMUM_SHARE", "单份金额低于下限", http.StatusBadRequest, codes.InvalidArgument)
	ErrAmountExceedsMaximum     = errors.NewWithStatus("AMOUNT_EXCEEDS_MAXIMUM", "金额超过上限", http.StatusBadRequest, codes.InvalidArgument)
	ErrShareCountExceedsMaximum = errors.NewWithStatus("SHARE_COUNT_EXCEEDS_MAXIMUM", "份数超过上限", http.StatusBadRequest, codes.InvalidArgument)
	ErrTokenNotFound            = errors.NewWithStatus("TOKEN_NOT_FOUND", "代币不存在", http.StatusBadRequest, codes.InvalidArgument)
	ErrInsufficientBalance      = errors.NewWithStatus("INSUFFICIENT_BALANCE", "余额不足", http.StatusBadRequest, codes.FailedPrecondition)
	ErrTransferFailed           = errors.NewWithStatus("TRANSFER_FAILED", "托管转账失败", http.StatusBadGateway, codes.Unavailable)

	ErrRemoteRegistrationRejected = errors.NewWithStatus("REMOTE_REGISTRATION_REJECTED", "远端拒绝登记", http.StatusUnprocessableEntity, codes.FailedPrecondition)
	ErrRemoteGrabRejected         = errors.NewWithStatus("REMOTE_GRAB_REJECTED", "远端拒绝领取", http.StatusUnprocessableEntity, codes.FailedPrecondition)
	ErrRemoteRevocationRejected   = errors.NewWithStatus("REMOTE_REVOCATION_REJECTED", "远端拒绝撤销", http.StatusUnprocessableEntity, codes.FailedPrecondition)
	ErrRemoteUnavailable          = errors.NewWithStatus("REMOTE_UNAVAILABLE", "远端账本不可用", http.StatusBadGateway, codes.Unavailable)

	ErrNotFound        = errors.NewWithStatus("ENVELOPE_NOT_FOUND", "红包不存在", http.StatusNotFound, codes.NotFound)
	ErrAlreadyRevoked  = errors.NewWithStatus("ALREADY_REVOKED", "红包已撤销", http.StatusConflict, codes.FailedPrecondition)
	ErrNotYetExpired   = errors.NewWithStatus("NOT_YET_EXPIRED", "红包未过期", http.StatusConflict, codes.FailedPrecondition)
	ErrAlreadySent     = errors.NewWithStatus("ALREADY_SENT", "红包已发送", http.StatusConflict, codes.FailedPrecondition)
	ErrEnvelopeExpired = errors.NewWithStatus("ENVELOPE_EXPIRED", "红包已过期", http.StatusConflict, codes.FailedPrecondition)
	ErrNotAgent        = errors.NewWithStatus("NOT_AGENT", "代理账户未授权", http.StatusUnauthorized, codes.PermissionDenied)
)

const (
	detailCode = "code"
	detailID   = "id"
	detailLeg  = "leg"
)

// withCode 附加远端风格的错误码, 需要时附加红包编号
func withCode(base *errors.Error, code int64, envelopeID int64) *errors.Error {
	e := base.WithDetailInt(detailCode, code)
	if envelopeID > 0 && ledger.CarriesEnvelopeID(code) {
		e = e.WithDetailInt(detailID, envelopeID)
	}
	return e
}

// remoteRejection 将远端调用错误转换为业务错误; 非业务拒绝视为远端不可用
func remoteRejection(base *errors.Error, err error, envelopeID int64) error {
	if re, ok := ledger.AsRemote(err); ok {
		return withCode(errors.Wrap(base, err), re.Code, envelopeID)
	}
	return errors.Wrap(ErrRemoteUnavailable, err)
}

// RemoteCode 提取错误中的远端错误码
func RemoteCode(err error) (int64, bool) {
	raw, ok := errors.GetDetails(err)[detailCode]
	if !ok {
		return 0, false
	}
	code, perr := strconv.ParseInt(raw, 10, 64)
	if perr != nil {
		return 0, false
	}
	return code, true
}
