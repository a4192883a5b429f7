package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/openbell/openbell/internal/domain"
	"github.com/openbell/openbell/internal/observ"
)

// Zerodha talks to the Kite Connect HTTP API. Orders go to NFO as intraday
// (MIS) market orders; that matches the one-trade-a-day strategy and avoids
// overnight margin.
type Zerodha struct {
	baseURL     string
	apiKey      string
	accessToken string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// ZerodhaConfig carries credentials and endpoint overrides.
type ZerodhaConfig struct {
	BaseURL     string
	APIKey      string
	AccessToken string
	Timeout     time.Duration
}

func NewZerodha(cfg ZerodhaConfig) (*Zerodha, error) {
	if cfg.APIKey == "" || cfg.AccessToken == "" {
		return nil, fmt.Errorf("zerodha: api key and access token are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.kite.trade"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 7 * time.Second
	}
	return &Zerodha{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		accessToken: cfg.AccessToken,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		// Kite allows 10 req/s; stay under it
		rateLimiter: rate.NewLimiter(rate.Limit(8), 2),
	}, nil
}

func (z *Zerodha) Name() string { return "zerodha" }

// Authenticate verifies the token by loading the user profile. Also serves
// as connection pre-warming so the first real order skips the TLS setup.
func (z *Zerodha) Authenticate(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := z.doJSON(ctx, http.MethodGet, "/user/profile", nil, &resp); err != nil {
		return fmt.Errorf("zerodha: authenticate: %w", err)
	}
	if resp.Status != "success" {
		return fmt.Errorf("zerodha: authenticate: status %q", resp.Status)
	}
	observ.Log("broker_authenticated", map[string]any{"broker": z.Name()})
	return nil
}

func (z *Zerodha) PlaceOrder(ctx context.Context, req OrderRequest) (Order, error) {
	form := url.Values{
		"tradingsymbol":    {req.Symbol},
		"exchange":         {"NFO"},
		"transaction_type": {string(req.Side)},
		"order_type":       {string(req.Kind)},
		"quantity":         {fmt.Sprintf("%d", req.Quantity)},
		"product":          {"MIS"},
		"validity":         {"DAY"},
	}
	if req.Kind == Limit {
		form.Set("price", fmt.Sprintf("%.2f", req.Price))
	}
	if req.Tag != "" {
		form.Set("tag", req.Tag)
	}

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			OrderID string `json:"order_id"`
		} `json:"data"`
		Message string `json:"message"`
	}
	if err := z.doJSON(ctx, http.MethodPost, "/orders/regular", form, &resp); err != nil {
		return Order{}, err
	}
	if resp.Status != "success" || resp.Data.OrderID == "" {
		return Order{}, fmt.Errorf("%w: %s", domain.ErrOrderRejected, resp.Message)
	}
	return Order{
		ID:       resp.Data.OrderID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Kind:     req.Kind,
		Quantity: req.Quantity,
		Status:   StatusPending,
		PlacedAt: time.Now(),
	}, nil
}

func (z *Zerodha) GetOrderStatus(ctx context.Context, orderID string) (Order, error) {
	var resp struct {
		Status string `json:"status"`
		Data   []struct {
			OrderID           string  `json:"order_id"`
			Tradingsymbol     string  `json:"tradingsymbol"`
			TransactionType   string  `json:"transaction_type"`
			OrderType         string  `json:"order_type"`
			Quantity          int     `json:"quantity"`
			Status            string  `json:"status"`
			AveragePrice      float64 `json:"average_price"`
			StatusMessage     string  `json:"status_message"`
			OrderTimestampStr string  `json:"order_timestamp"`
		} `json:"data"`
	}
	if err := z.doJSON(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, &resp); err != nil {
		return Order{}, err
	}
	if len(resp.Data) == 0 {
		return Order{}, fmt.Errorf("zerodha: order %s not found", orderID)
	}
	// The history endpoint returns every state the order passed through;
	// the last entry is current.
	last := resp.Data[len(resp.Data)-1]
	return Order{
		ID:       last.OrderID,
		Symbol:   last.Tradingsymbol,
		Side:     Side(last.TransactionType),
		Kind:     Kind(last.OrderType),
		Quantity: last.Quantity,
		Status:   mapKiteStatus(last.Status),
		AvgPrice: last.AveragePrice,
		Reason:   last.StatusMessage,
	}, nil
}

func (z *Zerodha) CancelOrder(ctx context.Context, orderID string) error {
	var resp struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := z.doJSON(ctx, http.MethodDelete, "/orders/regular/"+url.PathEscape(orderID), nil, &resp); err != nil {
		return err
	}
	if resp.Status != "success" {
		return fmt.Errorf("zerodha: cancel %s: %s", orderID, resp.Message)
	}
	return nil
}

func (z *Zerodha) GetLastPrice(ctx context.Context, symbol string) (float64, error) {
	instrument := "NFO:" + symbol
	var resp struct {
		Status string `json:"status"`
		Data   map[string]struct {
			LastPrice float64 `json:"last_price"`
		} `json:"data"`
	}
	path := "/quote/ltp?i=" + url.QueryEscape(instrument)
	if err := z.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrBrokerUnreachable, err)
	}
	d, ok := resp.Data[instrument]
	if !ok || d.LastPrice <= 0 {
		return 0, fmt.Errorf("zerodha: no ltp for %s", symbol)
	}
	return d.LastPrice, nil
}

func (z *Zerodha) GetPositions(ctx context.Context) ([]Holding, error) {
	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Net []struct {
				Tradingsymbol string  `json:"tradingsymbol"`
				Quantity      int     `json:"quantity"`
				AveragePrice  float64 `json:"average_price"`
			} `json:"net"`
		} `json:"data"`
	}
	if err := z.doJSON(ctx, http.MethodGet, "/portfolio/positions", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]Holding, 0, len(resp.Data.Net))
	for _, p := range resp.Data.Net {
		if p.Quantity == 0 {
			continue
		}
		out = append(out, Holding{Symbol: p.Tradingsymbol, Quantity: p.Quantity, AvgPrice: p.AveragePrice})
	}
	return out, nil
}

func (z *Zerodha) doJSON(ctx context.Context, method, path string, form url.Values, out any) error {
	if err := z.rateLimiter.Wait(ctx); err != nil {
		return err
	}
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, z.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("X-Kite-Version", "3")
	req.Header.Set("Authorization", "token "+z.apiKey+":"+z.accessToken)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := z.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBrokerUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("zerodha: HTTP %d: token expired or invalid", resp.StatusCode)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: HTTP %d", domain.ErrBrokerUnreachable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("zerodha: decode response: %w", err)
	}
	return nil
}

func mapKiteStatus(s string) Status {
	switch strings.ToUpper(s) {
	case "COMPLETE":
		return StatusComplete
	case "REJECTED":
		return StatusRejected
	case "CANCELLED":
		return StatusCancelled
	default:
		return StatusPending
	}
}
