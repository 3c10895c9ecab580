// Package findata wraps the financial-data provider (§6 "Financial-data
// provider"): annual statements, market overview, peer lists, and
// treasury rates, behind the narrow interfaces the
// ingestion stage and agent.Context need.
package findata

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// Client is a rate-limited HTTP client over the financial-data provider's
// REST endpoints. The provider's own bucket (§5 "External-provider
// clients own their own rate-limit token buckets") is modeled with
// golang.org/x/time/rate: calls block until a token is available.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
}

// New constructs a Client against baseURL, allowing at most
// requestsPerSecond sustained requests with a burst of the same size.
func New(baseURL, apiKey string, requestsPerSecond float64, timeout time.Duration) *Client {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	return &Client{
		http:    resty.New().SetBaseURL(baseURL).SetAuthToken(apiKey).SetTimeout(timeout),
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)),
	}
}

func (c *Client) get(ctx context.Context, path string, query map[string]string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("findata: rate limiter: %w", err)
	}
	req := c.http.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	resp, err := req.Get(path)
	if err != nil {
		return "", fmt.Errorf("findata: request %s: %w", path, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("findata: %s returned status %d", path, resp.StatusCode())
	}
	return resp.String(), nil
}

// Statements satisfies agent.FinancialDataSource: annual per-year rows
// (revenue, operating and net income, EBITDA, R&D, non-recurring items,
// shares outstanding, net debt) for ticker, shaped as the ingestion
// stage's "financial_data" raw key. Quarterly periods are not requested.
func (c *Client) Statements(ctx context.Context, ticker string) (map[string]any, error) {
	body, err := c.get(ctx, "/statements", map[string]string{"ticker": ticker, "period": "annual"})
	if err != nil {
		return nil, err
	}
	return statementsToYears(body), nil
}

// statementsToYears extracts the provider's per-year rows into the
// ordered-records shape agents and synthesis expect, using gjson so the
// raw JSON is never held onto as a provider-native object (§9 "Numeric-
// library tables crossing boundaries").
func statementsToYears(body string) map[string]any {
	rows := gjson.Get(body, "years")
	years := make([]any, 0)
	rows.ForEach(func(_, row gjson.Result) bool {
		years = append(years, map[string]any{
			"year":              row.Get("year").Num,
			"revenue":           row.Get("revenue").Num,
			"operating_income":  row.Get("operating_income").Num,
			"net_income":        row.Get("net_income").Num,
			"ebitda":            row.Get("ebitda").Num,
			"r_and_d":           row.Get("r_and_d").Num,
			"non_recurring":     row.Get("non_recurring").Num,
			"shares_outstanding": row.Get("shares_outstanding").Num,
			"net_debt":          row.Get("net_debt").Num,
		})
		return true
	})
	return map[string]any{"years": years}
}

// MarketData fetches sector, demand-trend, and market-growth data for market-strategist's
// "market_data" raw key.
func (c *Client) MarketData(ctx context.Context, ticker string) (map[string]any, error) {
	body, err := c.get(ctx, "/market-overview", map[string]string{"ticker": ticker})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"sector":        gjson.Get(body, "sector").String(),
		"demand_trend":  gjson.Get(body, "demand_trend").String(),
		"market_growth": gjson.Get(body, "market_growth").Num,
	}, nil
}

// PeerData fetches the provider's peer list/screener result for
// competitive-benchmarking's "peer_data" raw key.
func (c *Client) PeerData(ctx context.Context, ticker string) (map[string]any, error) {
	body, err := c.get(ctx, "/peers", map[string]string{"ticker": ticker})
	if err != nil {
		return nil, err
	}
	peers := make([]string, 0)
	gjson.Get(body, "peers").ForEach(func(_, p gjson.Result) bool {
		peers = append(peers, p.String())
		return true
	})
	return map[string]any{"peers": peers}, nil
}

// MacroData fetches treasury rates and macro indicators for
// macroeconomic-analyst's "macro_data" raw key.
func (c *Client) MacroData(ctx context.Context) (map[string]any, error) {
	body, err := c.get(ctx, "/treasury-rates", nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"ten_year_yield": gjson.Get(body, "ten_year_yield").Num,
		"fed_funds_rate": gjson.Get(body, "fed_funds_rate").Num,
	}, nil
}
