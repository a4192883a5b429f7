package marketdata

import (
	"net/http"
	"net/http/cookiejar"
	"sort"
)

func newCookieJar() http.CookieJar {
	jar, err := cookiejar.New(nil)
	if err != nil {
		// cookiejar.New with nil options cannot fail today; be safe anyway
		return nil
	}
	return jar
}

func sortFloats(v []float64) {
	sort.Float64s(v)
}
