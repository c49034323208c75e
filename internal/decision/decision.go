package decision

import (
	"context"
	"errors"
)

const (
	ActionLong  = "LONG"
	ActionShort = "SHORT"
	ActionHold  = "HOLD"
)

var ErrBadResponse = errors.New("decision: malformed response")

type Role string

const (
	RoleDecision Role = "decision"
	RoleRisk     Role = "risk"
	RoleMarket   Role = "market"
)

// Context 一次决策请求的输入
type Context struct {
	AccountID         string
	Symbol            string
	Timeframes        []string
	Interval          string
	CurrentPrice      float64
	Indicators        map[string]any
	Features          []float64
	StrategyVersionID *string
	Methodology       string
}

// Decision 决策源输出，HOLD 表示不产生信号
type Decision struct {
	Action         string
	Confidence     float64
	EntryPrice     *float64
	StopLoss       *float64
	TakeProfit     *float64
	ExpectedReturn float64
	ModelVersion   string
	Reasoning      map[Role]string
}

func (d *Decision) IsHold() bool {
	return d.Action != ActionLong && d.Action != ActionShort
}

// Source 外部决策服务
type Source interface {
	Decide(ctx context.Context, c Context) (*Decision, error)
}
