package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventType 标识执行过程中的结构化事件。
type EventType string

const (
	EventOrderPlaced        EventType = "order_placed"
	EventOrderReplaced      EventType = "order_replaced"
	EventPartialFill        EventType = "partial_fill"
	EventChunkCompleted     EventType = "chunk_completed"
	EventExecutionCompleted EventType = "execution_completed"
)

// Event 为一条执行事件，Payload 内容随事件类型变化。
type Event struct {
	Type      EventType
	Symbol    string
	Timestamp time.Time
	Payload   map[string]interface{}
}

// Recorder 接收执行事件，由上层决定落库或忽略。
// 实现不应阻塞执行循环，记录失败只影响审计数据，不影响执行。
type Recorder interface {
	Record(ctx context.Context, event Event)
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, Event) {}

// classify 根据成交比例与阈值得出最终状态。
func classify(target, filled decimal.Decimal, threshold float64) Status {
	if !filled.IsPositive() {
		return StatusFailed
	}
	ratio := filled.Div(target)
	if ratio.GreaterThanOrEqual(decimal.NewFromFloat(threshold)) {
		return StatusSuccess
	}
	return StatusPartial
}

// buildResult 汇总各分片结果。均价按成交金额加权。
func buildResult(
	delta PositionDelta,
	target decimal.Decimal,
	filled decimal.Decimal,
	value decimal.Decimal,
	replaces int,
	elapsed time.Duration,
	threshold float64,
	cleanupPending bool,
	execErr error,
) Result {
	result := Result{
		Symbol:         delta.Symbol,
		TargetQuantity: target,
		FilledQuantity: filled,
		Replaces:       replaces,
		Elapsed:        elapsed,
		CleanupPending: cleanupPending,
	}

	if filled.IsPositive() && value.IsPositive() {
		result.AveragePrice = value.Div(filled)
	}

	result.Status = classify(target, filled, threshold)
	if execErr != nil {
		result.Error = execErr.Error()
	}

	return result
}
