package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func newNSETestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "nsit", Value: "session"})
	})
	mux.HandleFunc("/api/option-chain-equities", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// strikes repeat per expiry; 1000 appears twice and must aggregate
		w.Write([]byte(`{"records":{"timestamp":"02-Jan-2026 09:14:00","data":[
			{"strikePrice":1000,"CE":{"openInterest":100},"PE":{"openInterest":90}},
			{"strikePrice":1000,"CE":{"openInterest":10},"PE":{"openInterest":10}},
			{"strikePrice":1050,"CE":{"openInterest":50},"PE":{"openInterest":60}}]}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNSEOptionChainAggregatesStrikes(t *testing.T) {
	srv := newNSETestServer(t)
	p := NewNSEProvider(NSEConfig{BaseURL: srv.URL, RatePerSecond: 1000})

	chain, err := p.GetOptionChain(context.Background(), "reliance")
	if err != nil {
		t.Fatal(err)
	}
	if chain.Underlying != "RELIANCE" {
		t.Errorf("underlying = %q", chain.Underlying)
	}
	if len(chain.Strikes) != 2 {
		t.Fatalf("strikes = %+v, want 2 aggregated rows", chain.Strikes)
	}
	if chain.Strikes[0].Strike != 1000 || chain.Strikes[0].CallOI != 110 || chain.Strikes[0].PutOI != 100 {
		t.Errorf("strike 1000 OI = %+v, want call 110 put 100", chain.Strikes[0])
	}
}

// The chain prefetch pool hits one shared provider from several goroutines;
// the session warmup must hold up under that.
func TestNSEConcurrentChainFetch(t *testing.T) {
	srv := newNSETestServer(t)
	p := NewNSEProvider(NSEConfig{BaseURL: srv.URL, RatePerSecond: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			chain, err := p.GetOptionChain(context.Background(), "RELIANCE")
			if err != nil {
				t.Errorf("concurrent fetch: %v", err)
				return
			}
			if len(chain.Strikes) == 0 {
				t.Error("concurrent fetch returned empty chain")
			}
		}()
	}
	wg.Wait()
}
