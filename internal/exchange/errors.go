package exchange

import (
	"errors"
)

var (
	// ErrMaintenance 表示交易所处于维护状态，需要上层跳过交易。
	ErrMaintenance = errors.New("exchange on maintenance")
	// ErrEmptyBook 表示盘口缺少买一或卖一，上层需退避后重试。
	ErrEmptyBook = errors.New("order book is empty")
	// ErrPostOnlyRejected 表示 Post-Only 订单因会立即成交被拒绝，不在网关层重试。
	ErrPostOnlyRejected = errors.New("post-only order would cross the book")
	// ErrOrderNotFound 表示订单在交易所已不存在，需要通过成交记录对账。
	ErrOrderNotFound = errors.New("order not found")
	// ErrGatewayUnavailable 表示网络重试次数耗尽，当前分片应放弃。
	ErrGatewayUnavailable = errors.New("exchange gateway unavailable")
	// ErrInsufficientBalance 表示余额不足，本次执行立即终止。
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidOrder 表示订单参数非法，本次执行立即终止。
	ErrInvalidOrder = errors.New("invalid order")
)

// IsFatal 判断错误是否应立即终止整次执行，不做任何重试。
func IsFatal(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrInvalidOrder)
}
