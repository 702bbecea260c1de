package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"broker-gateway/internal/store"
)

// Call 描述一次网关调用的落库记录。
type Call struct {
	Operation string      `json:"operation"`
	OK        bool        `json:"ok"`
	Kind      string      `json:"kind,omitempty"`
	Error     string      `json:"error,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Recorder 负责持久化调用流水。
type Recorder struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRecorder 初始化流水记录器，创建所需表结构。
func NewRecorder(store *store.Store, logger *zap.Logger) (*Recorder, error) {
	if store == nil {
		return nil, fmt.Errorf("journal: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Recorder{
		db:     store.DB(),
		logger: logger,
	}

	if err := r.initSchema(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Recorder) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS gateway_calls (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	operation TEXT NOT NULL,
	ok INTEGER NOT NULL,
	kind TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_gateway_calls_operation ON gateway_calls(operation);
`
	if _, err := r.db.Exec(stmt); err != nil {
		return fmt.Errorf("journal: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单条调用流水。
func (r *Recorder) Record(ctx context.Context, call Call) error {
	var payload []byte
	if call.Payload != nil {
		data, err := json.Marshal(call.Payload)
		if err != nil {
			return fmt.Errorf("journal: 序列化负载失败: %w", err)
		}
		payload = data
	}

	if call.Timestamp.IsZero() {
		call.Timestamp = time.Now().UTC()
	}

	ok := 0
	if call.OK {
		ok = 1
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO gateway_calls (operation, ok, kind, error, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		call.Operation, ok, call.Kind, call.Error, string(payload), call.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("journal: 写入流水失败: %w", err)
	}

	return nil
}

// RecordCall 写入流水，失败只告警不影响调用方。
func (r *Recorder) RecordCall(ctx context.Context, call Call) {
	if err := r.Record(ctx, call); err != nil {
		r.logger.Warn("记录调用流水失败",
			zap.String("operation", call.Operation),
			zap.Error(err),
		)
	}
}

// ListCalls 按操作名检索最近的调用流水。
func (r *Recorder) ListCalls(ctx context.Context, operation string, limit int) ([]Call, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT operation, ok, kind, error, payload, created_at FROM gateway_calls`
	args := make([]interface{}, 0, 2)
	if operation != "" {
		query += ` WHERE operation = ?`
		args = append(args, operation)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: 查询流水失败: %w", err)
	}
	defer rows.Close()

	calls := make([]Call, 0, limit)
	for rows.Next() {
		var (
			op      string
			ok      int
			kind    string
			errText string
			payload string
			created string
		)
		if scanErr := rows.Scan(&op, &ok, &kind, &errText, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("journal: 解析流水失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		call := Call{
			Operation: op,
			OK:        ok == 1,
			Kind:      kind,
			Error:     errText,
			Timestamp: ts,
		}
		if payload != "" {
			call.Payload = json.RawMessage(payload)
		}
		calls = append(calls, call)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: 读取流水失败: %w", err)
	}

	return calls, nil
}
