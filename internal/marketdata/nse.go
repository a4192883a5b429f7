package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/openbell/openbell/internal/domain"
)

// NSEProvider fetches live NSE data from the public exchange endpoints.
// NSE requires a browser-ish session: a warm-up GET to the root page sets
// cookies that the /api routes check.
type NSEProvider struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter

	warmMu   sync.Mutex // serializes warmup across concurrent fetches
	warmedAt time.Time
}

// NSEConfig holds tunables for the NSE provider.
type NSEConfig struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
}

// NewNSEProvider builds the provider with a cookie-holding HTTP client.
func NewNSEProvider(cfg NSEConfig) *NSEProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.nseindia.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 3
	}
	jar := newCookieJar()
	return &NSEProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Jar:     jar,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
	}
}

func (n *NSEProvider) Name() string { return "nse" }

// GetInstrumentSnapshots pulls the NIFTY 50 index constituents in one call
// and filters down to the requested symbols.
func (n *NSEProvider) GetInstrumentSnapshots(ctx context.Context, symbols []string) ([]domain.InstrumentSnapshot, error) {
	var resp struct {
		Timestamp string `json:"timestamp"`
		Data      []struct {
			Symbol        string  `json:"symbol"`
			LastPrice     float64 `json:"lastPrice"`
			PreviousClose float64 `json:"previousClose"`
			PChange       float64 `json:"pChange"`
			TotalVolume   int64   `json:"totalTradedVolume"`
		} `json:"data"`
	}
	u := n.baseURL + "/api/equity-stockIndices?index=" + url.QueryEscape("NIFTY 50")
	if err := n.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}

	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[strings.ToUpper(s)] = true
	}
	ts := parseNSETime(resp.Timestamp)

	snaps := make([]domain.InstrumentSnapshot, 0, len(symbols))
	for _, d := range resp.Data {
		sym := strings.ToUpper(d.Symbol)
		if !want[sym] {
			continue
		}
		snaps = append(snaps, domain.InstrumentSnapshot{
			Symbol:        sym,
			LastPrice:     d.LastPrice,
			PrevClose:     d.PreviousClose,
			ChangePercent: d.PChange,
			Volume:        d.TotalVolume,
			Timestamp:     ts,
			Source:        n.Name(),
		})
	}
	return snaps, nil
}

// GetOptionChain pulls the equity option chain for one underlying.
func (n *NSEProvider) GetOptionChain(ctx context.Context, symbol string) (domain.OptionChainSnapshot, error) {
	var resp struct {
		Records struct {
			Timestamp string `json:"timestamp"`
			Data      []struct {
				StrikePrice float64 `json:"strikePrice"`
				CE          *struct {
					OpenInterest int64 `json:"openInterest"`
				} `json:"CE"`
				PE *struct {
					OpenInterest int64 `json:"openInterest"`
				} `json:"PE"`
			} `json:"data"`
		} `json:"records"`
	}
	u := n.baseURL + "/api/option-chain-equities?symbol=" + url.QueryEscape(strings.ToUpper(symbol))
	if err := n.getJSON(ctx, u, &resp); err != nil {
		return domain.OptionChainSnapshot{}, err
	}

	// The feed repeats strikes per expiry; aggregate OI by strike.
	byStrike := map[float64]*domain.StrikeOI{}
	order := make([]float64, 0, len(resp.Records.Data))
	for _, d := range resp.Records.Data {
		row, ok := byStrike[d.StrikePrice]
		if !ok {
			row = &domain.StrikeOI{Strike: d.StrikePrice}
			byStrike[d.StrikePrice] = row
			order = append(order, d.StrikePrice)
		}
		if d.CE != nil {
			row.CallOI += d.CE.OpenInterest
		}
		if d.PE != nil {
			row.PutOI += d.PE.OpenInterest
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
		Timestamp:  parseNSETime(resp.Records.Timestamp),
		Source:     n.Name(),
	}, nil
}

func (n *NSEProvider) getJSON(ctx context.Context, rawurl string, out any) error {
	if err := n.rateLimiter.Wait(ctx); err != nil {
		return newNetworkError(n.Name(), "", "rate limit wait cancelled", err)
	}
	if err := n.warmup(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return newNetworkError(n.Name(), "", "build request", err)
	}
	setBrowserHeaders(req)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return newNetworkError(n.Name(), "", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &FetchError{Type: "rate_limit", Provider: n.Name(), Message: "throttled by exchange"}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return newProviderError(n.Name(), "", fmt.Sprintf("HTTP %d: %s", resp.StatusCode, body), nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newProviderError(n.Name(), "", "decode response", err)
	}
	return nil
}

// warmup establishes the session cookie, at most once per half hour. The
// chain prefetch fans requests across workers; only one of them performs the
// warmup while the rest wait on the lock.
func (n *NSEProvider) warmup(ctx context.Context) error {
	n.warmMu.Lock()
	defer n.warmMu.Unlock()
	if time.Since(n.warmedAt) < 30*time.Minute {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL, nil)
	if err != nil {
		return newNetworkError(n.Name(), "", "build warmup request", err)
	}
	setBrowserHeaders(req)
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return newNetworkError(n.Name(), "", "session warmup failed", err)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	resp.Body.Close()
	n.warmedAt = time.Now()
	return nil
}

func setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
}

// parseNSETime handles the exchange's "02-Jan-2006 15:04:05" stamps in IST.
// Falls back to now so a missing stamp reads as fresh rather than ancient.
func parseNSETime(s string) time.Time {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		loc = time.FixedZone("IST", 5*3600+1800)
	}
	t, err := time.ParseInLocation("02-Jan-2006 15:04:05", s, loc)
	if err != nil {
		return time.Now()
	}
	return t
}
