package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"jlp-hedge/internal/execution"
	"jlp-hedge/internal/store"
)

// Service 持久化执行过程事件，供事后审计与复盘查询。
// 落库失败只影响审计数据，记录接口不向执行链路返回错误。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ execution.Recorder = (*Service)(nil)

// NewService 初始化事件服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS execution_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	symbol TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_execution_events_type ON execution_events(event_type);
CREATE INDEX IF NOT EXISTS idx_execution_events_symbol ON execution_events(symbol);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个执行事件。
func (s *Service) Record(ctx context.Context, event execution.Event) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		s.logger.Warn("序列化执行事件失败",
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
		return
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO execution_events (event_type, symbol, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(event.Type), event.Symbol, string(payload), ts.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		s.logger.Warn("写入执行事件失败",
			zap.String("event_type", string(event.Type)),
			zap.String("symbol", event.Symbol),
			zap.Error(err),
		)
	}
}

// ListEvents 按交易对与类型检索最近事件，两个过滤条件均可为空。
func (s *Service) ListEvents(ctx context.Context, symbol string, eventType execution.EventType, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, event_type, symbol, payload, created_at FROM execution_events`
	var conds []string
	args := make([]interface{}, 0, 3)
	if symbol != "" {
		conds = append(conds, `symbol = ?`)
		args = append(args, symbol)
	}
	if eventType != "" {
		conds = append(conds, `event_type = ?`)
		args = append(args, string(eventType))
	}
	for i, cond := range conds {
		if i == 0 {
			query += ` WHERE ` + cond
		} else {
			query += ` AND ` + cond
		}
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]StoredEvent, 0, limit)
	for rows.Next() {
		var (
			id      int64
			typ     string
			sym     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&id, &typ, &sym, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, StoredEvent{
			ID:        id,
			Type:      execution.EventType(typ),
			Symbol:    sym,
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
