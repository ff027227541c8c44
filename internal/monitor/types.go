package monitor

import (
	"encoding/json"
	"time"

	"jlp-hedge/internal/execution"
)

// StoredEvent 为已落库的执行事件。
type StoredEvent struct {
	ID        int64
	Type      execution.EventType
	Symbol    string
	Timestamp time.Time
	Payload   json.RawMessage
}
