package venue

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrCredentialsNotFound = errors.New("venue: credentials not found")
	ErrInvalidQuantity     = errors.New("venue: quantity below minimum")
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

type OrderParams struct {
	Symbol     string
	Side       string // BUY / SELL
	Quantity   decimal.Decimal
	ReduceOnly bool
}

type OrderResult struct {
	OrderID     string
	AvgPrice    float64
	ExecutedQty float64
	Status      string
}

// Venue 单个账户的下单通道
type Venue interface {
	PlaceOrder(ctx context.Context, p OrderParams) (*OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetBalance(ctx context.Context, asset string) (float64, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

type Credentials struct {
	APIKey    string
	SecretKey string
}

// CredentialResolver 账户 -> 交易所凭证
type CredentialResolver interface {
	Resolve(accountID string) (Credentials, error)
}

// Factory 按凭证构建 Venue
type Factory interface {
	New(creds Credentials) Venue
}

// CloseSide 平仓方向与持仓方向相反
func CloseSide(positionSide string) string {
	if positionSide == "SHORT" {
		return SideBuy
	}
	return SideSell
}

// OpenSide 开仓方向
func OpenSide(direction string) string {
	if direction == "SHORT" {
		return SideSell
	}
	return SideBuy
}
