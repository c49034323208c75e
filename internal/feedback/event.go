package feedback

import (
	"context"
	"encoding/json"
	"time"
)

// Event 平仓结果，供学习服务更新策略
type Event struct {
	PositionID      string    `json:"position_id"`
	AccountID       string    `json:"account_id"`
	Symbol          string    `json:"symbol"`
	Action          string    `json:"action"` // LONG / SHORT
	Pnl             float64   `json:"pnl"`
	PnlPercent      float64   `json:"pnl_percent"`
	DurationSeconds int64     `json:"duration_seconds"`
	Strategy        string    `json:"strategy"`
	CloseReason     string    `json:"close_reason"`
	ClosedAt        time.Time `json:"closed_at"`
}

func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Emitter 非阻塞投递，返回是否已入队
type Emitter interface {
	Emit(e Event) bool
}

// Sink 实际的外部投递通道，返回 accepted=false 表示对端拒收
type Sink interface {
	SendTradeFeedback(ctx context.Context, e Event) (bool, error)
}

// NopSink 未配置通道时丢弃事件
type NopSink struct{}

func (NopSink) SendTradeFeedback(context.Context, Event) (bool, error) {
	return true, nil
}
