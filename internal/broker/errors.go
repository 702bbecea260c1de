package broker

import (
	"context"
	"errors"
	"net"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

var (
	// ErrInvalidRequest 表示请求在发往券商前即违反约定，属于调用方错误。
	ErrInvalidRequest = errors.New("invalid broker request")
	// ErrMissingField 表示券商的成功响应缺少必要字段。
	ErrMissingField = errors.New("broker response missing required field")
	// ErrTimeout 表示调用方给定的超时已到而底层 SDK 尚未返回。
	ErrTimeout = errors.New("broker call timed out")
	// ErrUnknownOrder 表示无法在券商侧定位到指定订单。
	ErrUnknownOrder = errors.New("broker order not found")
)

// IsContractViolation 判断错误是否属于调用方违反约定，
// 这类错误原样传播，不转换为缺失结果。
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}

// FailureKind 提取运行期失败的分类标签，仅用于日志与事件记录。
func FailureKind(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrMissingField):
		return "schema"
	case errors.Is(err, ErrUnknownOrder):
		return "order"
	case errors.Is(err, ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.OnMaintenanceErrType:
			return "network"
		case ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType:
			return "throttle"
		case ccxt.AuthenticationErrorErrType:
			return "auth"
		case ccxt.InsufficientFundsErrType:
			return "funds"
		case ccxt.InvalidOrderErrType,
			ccxt.OrderNotFoundErrType:
			return "order"
		case ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return "schema"
		default:
			return "broker"
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return "network"
	}

	return "broker"
}
