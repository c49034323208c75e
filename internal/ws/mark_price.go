package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/utrading/utrading-signal-engine/internal/market"
	"github.com/utrading/utrading-signal-engine/internal/monitor"
	"github.com/utrading/utrading-signal-engine/pkg/logger"
)

var errUnexpectedPayload = errors.New("ws: unexpected mark price payload")

// MarkPriceStream 订阅 !markPrice@arr 推送，写入 StreamPrices，断线后指数退避重连
type MarkPriceStream struct {
	url     string
	prices  *market.StreamPrices
	minWait time.Duration
	maxWait time.Duration

	mu     sync.RWMutex
	client *Client
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMarkPriceStream(url string, prices *market.StreamPrices) *MarkPriceStream {
	return &MarkPriceStream{
		url:     url,
		prices:  prices,
		minWait: time.Second,
		maxWait: time.Minute,
	}
}

func (s *MarkPriceStream) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

func (s *MarkPriceStream) run(ctx context.Context) {
	defer s.wg.Done()
	wait := s.minWait

	for {
		if ctx.Err() != nil {
			return
		}

		disconnected := make(chan struct{})
		client := NewClient(s.url)
		client.SetMessageHandler(s.handle)
		client.SetDisconnectCallback(func() { close(disconnected) })

		if err := client.Connect(ctx); err != nil {
			logger.Warn().Err(err).Dur("retry_in", wait).Msg("mark price stream connect failed")
		} else {
			s.setClient(client)
			monitor.SetStreamConnected(true)
			logger.Info().Str("url", s.url).Msg("mark price stream connected")
			wait = s.minWait

			select {
			case <-disconnected:
				logger.Warn().Msg("mark price stream disconnected")
			case <-ctx.Done():
			}
			_ = client.Close()
			s.setClient(nil)
			monitor.SetStreamConnected(false)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		wait *= 2
		if wait > s.maxWait {
			wait = s.maxWait
		}
	}
}

func (s *MarkPriceStream) setClient(c *Client) {
	s.mu.Lock()
	s.client = c
	s.mu.Unlock()
}

// handle 解析 [{"e":"markPriceUpdate","E":..,"s":"BTCUSDT","p":"..."}]，也接受单个对象
func (s *MarkPriceStream) handle(msg []byte) error {
	if !gjson.ValidBytes(msg) {
		return errUnexpectedPayload
	}
	root := gjson.ParseBytes(msg)
	if data := root.Get("data"); data.Exists() {
		// 组合流格式 {"stream":..,"data":..}
		root = data
	}

	n := 0
	apply := func(item gjson.Result) {
		symbol := item.Get("s").String()
		price := item.Get("p").Float()
		if symbol == "" || price <= 0 {
			return
		}
		at := time.Now()
		if ms := item.Get("E").Int(); ms > 0 {
			at = time.UnixMilli(ms)
		}
		s.prices.Update(symbol, price, at)
		n++
	}

	switch {
	case root.IsArray():
		root.ForEach(func(_, item gjson.Result) bool {
			apply(item)
			return true
		})
	case root.IsObject():
		apply(root)
	default:
		return errUnexpectedPayload
	}

	if n == 0 {
		return errUnexpectedPayload
	}
	return nil
}

func (s *MarkPriceStream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client != nil && s.client.IsConnected()
}

func (s *MarkPriceStream) Stats() map[string]any {
	return map[string]any{
		"connected": s.IsConnected(),
		"symbols":   s.prices.Len(),
	}
}

func (s *MarkPriceStream) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
