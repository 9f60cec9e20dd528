package domain

import "time"

// Route is one candidate execution plan inside a quote.
type Route struct {
	ID           string
	Steps        []RouteStep
	OutputAmount string
	EstGasUSD    float64
}

// Quote is a time-bounded price/route proposal. A swap may only be created
// from it before ExpiresAt.
type Quote struct {
	ID           string
	FromToken    string
	ToToken      string
	FromChain    string
	ToChain      string
	InputAmount  string
	OutputAmount string
	PriceImpact  float64
	Routes       []Route
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the quote's validity window has passed.
func (q Quote) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// FindRoute returns the route with the given id.
func (q Quote) FindRoute(routeID string) (Route, bool) {
	for _, r := range q.Routes {
		if r.ID == routeID {
			return r, true
		}
	}
	return Route{}, false
}
