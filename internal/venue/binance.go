package venue

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/spf13/cast"

	"github.com/utrading/utrading-signal-engine/internal/cache"
	"github.com/utrading/utrading-signal-engine/pkg/logger"
)

// BinanceFactory 每个账户一个 futures.Client
type BinanceFactory struct {
	baseURL string
	timeout time.Duration
	symbols *cache.SymbolCache
}

func NewBinanceFactory(baseURL string, timeout time.Duration, symbols *cache.SymbolCache) *BinanceFactory {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &BinanceFactory{baseURL: baseURL, timeout: timeout, symbols: symbols}
}

func (f *BinanceFactory) New(creds Credentials) Venue {
	client := futures.NewClient(creds.APIKey, creds.SecretKey)
	if f.baseURL != "" {
		client.BaseURL = f.baseURL
	}
	client.HTTPClient = &http.Client{Timeout: f.timeout}
	return &BinanceVenue{client: client, symbols: f.symbols}
}

// BinanceVenue U 本位合约市价单
type BinanceVenue struct {
	client  *futures.Client
	symbols *cache.SymbolCache
}

func (v *BinanceVenue) PlaceOrder(ctx context.Context, p OrderParams) (*OrderResult, error) {
	qty := p.Quantity
	if v.symbols != nil {
		qty = v.symbols.RoundQuantity(p.Symbol, qty)
		if meta, ok := v.symbols.Get(p.Symbol); ok && qty.LessThan(meta.MinQty) {
			return nil, fmt.Errorf("%w: %s %s < %s", ErrInvalidQuantity, p.Symbol, qty, meta.MinQty)
		}
	}
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: %s %s", ErrInvalidQuantity, p.Symbol, qty)
	}

	side := futures.SideTypeBuy
	if p.Side == SideSell {
		side = futures.SideTypeSell
	}

	svc := v.client.NewCreateOrderService().
		Symbol(p.Symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(qty.String()).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if p.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance create order %s %s: %w", p.Symbol, p.Side, err)
	}

	res := &OrderResult{
		OrderID:     strconv.FormatInt(resp.OrderID, 10),
		AvgPrice:    cast.ToFloat64(resp.AvgPrice),
		ExecutedQty: cast.ToFloat64(resp.ExecutedQuantity),
		Status:      string(resp.Status),
	}
	logger.Info().
		Str("symbol", p.Symbol).
		Str("side", p.Side).
		Str("qty", qty.String()).
		Bool("reduce_only", p.ReduceOnly).
		Str("order_id", res.OrderID).
		Float64("avg_price", res.AvgPrice).
		Msg("binance order placed")
	return res, nil
}

func (v *BinanceVenue) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := cast.ToInt64E(orderID)
	if err != nil {
		return fmt.Errorf("invalid order id %q: %w", orderID, err)
	}
	_, err = v.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	return err
}

// GetBalance 可用余额
func (v *BinanceVenue) GetBalance(ctx context.Context, asset string) (float64, error) {
	balances, err := v.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance balance: %w", err)
	}
	for _, b := range balances {
		if b != nil && b.Asset == asset {
			return cast.ToFloat64(b.AvailableBalance), nil
		}
	}
	return 0, nil
}

func (v *BinanceVenue) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage <= 0 {
		leverage = 1
	}
	_, err := v.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	return err
}
