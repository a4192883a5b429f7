package marketdata

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
)

// YahooProvider is the fallback data source. NSE symbols map to Yahoo's
// ".NS" suffix convention. Slower and coarser than the exchange feed but
// answers from a different infrastructure, which is the point of a fallback.
type YahooProvider struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// YahooConfig holds tunables for the Yahoo provider.
type YahooConfig struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
}

func NewYahooProvider(cfg YahooConfig) *YahooProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://query1.finance.yahoo.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 2
	}
	return &YahooProvider{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
	}
}

func (y *YahooProvider) Name() string { return "yahoo" }

func (y *YahooProvider) GetInstrumentSnapshots(ctx context.Context, symbols []string) ([]domain.InstrumentSnapshot, error) {
	mapped := make([]string, len(symbols))
	for i, s := range symbols {
		mapped[i] = strings.ToUpper(s) + ".NS"
	}

	var resp struct {
		QuoteResponse struct {
			Result []struct {
				Symbol                     string  `json:"symbol"`
				RegularMarketPrice         float64 `json:"regularMarketPrice"`
				RegularMarketPreviousClose float64 `json:"regularMarketPreviousClose"`
				RegularMarketChangePercent float64 `json:"regularMarketChangePercent"`
				RegularMarketVolume        int64   `json:"regularMarketVolume"`
				RegularMarketTime          int64   `json:"regularMarketTime"`
			} `json:"result"`
			Error any `json:"error"`
		} `json:"quoteResponse"`
	}
	u := y.baseURL + "/v7/finance/quote?symbols=" + url.QueryEscape(strings.Join(mapped, ","))
	if err := y.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	if resp.QuoteResponse.Error != nil {
		return nil, newProviderError(y.Name(), "", fmt.Sprintf("api error: %v", resp.QuoteResponse.Error), nil)
	}

	snaps := make([]domain.InstrumentSnapshot, 0, len(resp.QuoteResponse.Result))
	for _, r := range resp.QuoteResponse.Result {
		snaps = append(snaps, domain.InstrumentSnapshot{
			Symbol:        strings.TrimSuffix(strings.ToUpper(r.Symbol), ".NS"),
			LastPrice:     r.RegularMarketPrice,
			PrevClose:     r.RegularMarketPreviousClose,
			ChangePercent: r.RegularMarketChangePercent,
			Volume:        r.RegularMarketVolume,
			Timestamp:     time.Unix(r.RegularMarketTime, 0),
			Source:        y.Name(),
		})
	}
	return snaps, nil
}

func (y *YahooProvider) GetOptionChain(ctx context.Context, symbol string) (domain.OptionChainSnapshot, error) {
	var resp struct {
		OptionChain struct {
			Result []struct {
				Options []struct {
					Calls []struct {
						Strike       float64 `json:"strike"`
						OpenInterest int64   `json:"openInterest"`
					} `json:"calls"`
					Puts []struct {
						Strike       float64 `json:"strike"`
						OpenInterest int64   `json:"openInterest"`
					} `json:"puts"`
				} `json:"options"`
			} `json:"result"`
			Error any `json:"error"`
		} `json:"optionChain"`
	}
	u := y.baseURL + "/v7/finance/options/" + url.PathEscape(strings.ToUpper(symbol)+".NS")
	if err := y.getJSON(ctx, u, &resp); err != nil {
		return domain.OptionChainSnapshot{}, err
	}
	if resp.OptionChain.Error != nil || len(resp.OptionChain.Result) == 0 {
		return domain.OptionChainSnapshot{}, newProviderError(y.Name(), symbol, "no option chain", nil)
	}

	byStrike := map[float64]*domain.StrikeOI{}
	var order []float64
	row := func(strike float64) *domain.StrikeOI {
		r, ok := byStrike[strike]
		if !ok {
			r = &domain.StrikeOI{Strike: strike}
			byStrike[strike] = r
			order = append(order, strike)
		}
		return r
	}
	for _, o := range resp.OptionChain.Result[0].Options {
		for _, c := range o.Calls {
			row(c.Strike).CallOI += c.OpenInterest
		}
		for _, p := range o.Puts {
			row(p.Strike).PutOI += p.OpenInterest
		}
	}
	sortFloats(order)
	strikes := make([]domain.StrikeOI, 0, len(order))
	for _, k := range order {
		strikes = append(strikes, *byStrike[k])
	}

	return domain.OptionChainSnapshot{
		Underlying: strings.ToUpper(symbol),
		Strikes:    strikes,
		Timestamp:  time.Now(),
		Source:     y.Name(),
	}, nil
}

func (y *YahooProvider) getJSON(ctx context.Context, rawurl string, out any) error {
	if err := y.rateLimiter.Wait(ctx); err != nil {
		return newNetworkError(y.Name(), "", "rate limit wait cancelled", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return newNetworkError(y.Name(), "", "build request", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return newNetworkError(y.Name(), "", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &FetchError{Type: "rate_limit", Provider: y.Name(), Message: "throttled"}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return newProviderError(y.Name(), "", fmt.Sprintf("HTTP %d: %s", resp.StatusCode, body), nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newProviderError(y.Name(), "", "decode response", err)
	}
	return nil
}
