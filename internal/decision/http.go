package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/utrading/utrading-signal-engine/internal/monitor"
)

// HTTPSource POST {endpoint}/predict
type HTTPSource struct {
	endpoint    string
	methodology string
	client      *http.Client
}

func NewHTTPSource(endpoint, methodology string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if methodology == "" {
		methodology = "SMC"
	}
	return &HTTPSource{
		endpoint:    strings.TrimRight(endpoint, "/"),
		methodology: methodology,
		client:      &http.Client{Timeout: timeout},
	}
}

type predictRequest struct {
	Symbol       string    `json:"symbol"`
	Features     []float64 `json:"features"`
	Methodology  string    `json:"methodology"`
	CurrentPrice float64   `json:"currentPrice,omitempty"`
}

func (s *HTTPSource) Decide(ctx context.Context, c Context) (*Decision, error) {
	methodology := c.Methodology
	if methodology == "" {
		methodology = s.methodology
	}
	body, err := json.Marshal(predictRequest{
		Symbol:       c.Symbol,
		Features:     c.Features,
		Methodology:  methodology,
		CurrentPrice: c.CurrentPrice,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		monitor.IncDecisionCall("error")
		return nil, fmt.Errorf("decision request %s: %w", c.Symbol, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		monitor.IncDecisionCall("error")
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		monitor.IncDecisionCall("error")
		return nil, fmt.Errorf("decision request %s: status %d: %s", c.Symbol, resp.StatusCode, truncate(data, 200))
	}

	d, err := parsePrediction(data)
	if err != nil {
		monitor.IncDecisionCall("error")
		return nil, err
	}
	monitor.IncDecisionCall(strings.ToLower(d.Action))
	return d, nil
}

// parsePrediction 缺失可选字段时保持 nil
func parsePrediction(data []byte) (*Decision, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrBadResponse
	}
	r := gjson.ParseBytes(data)

	action := strings.ToUpper(r.Get("action").String())
	switch action {
	case ActionLong, ActionShort, ActionHold:
	default:
		return nil, fmt.Errorf("%w: action %q", ErrBadResponse, action)
	}

	confidence := r.Get("confidence").Float()
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v", ErrBadResponse, confidence)
	}

	d := &Decision{
		Action:         action,
		Confidence:     confidence,
		EntryPrice:     optionalPrice(r.Get("entry")),
		StopLoss:       optionalPrice(r.Get("stopLoss")),
		TakeProfit:     optionalPrice(r.Get("takeProfit")),
		ExpectedReturn: r.Get("expectedReturn").Float(),
		ModelVersion:   r.Get("modelVersion").String(),
		Reasoning: map[Role]string{
			RoleDecision: r.Get("reasoning").String(),
			RoleMarket:   r.Get("smcAnalysis").String(),
			RoleRisk:     r.Get("volumeAnalysis").String(),
		},
	}
	if rr := r.Get("riskRewardRatio"); rr.Exists() && rr.Type == gjson.Number {
		d.Reasoning[RoleRisk] = strings.TrimSpace(fmt.Sprintf("%s RR %.2f", d.Reasoning[RoleRisk], rr.Float()))
	}
	return d, nil
}

func optionalPrice(v gjson.Result) *float64 {
	if !v.Exists() || v.Type != gjson.Number {
		return nil
	}
	f := v.Float()
	if f <= 0 {
		return nil
	}
	return &f
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
