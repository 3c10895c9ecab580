// Package filings wraps the SEC filings provider (§6 "Filings
// provider"): per-ticker filing lists by form type and full-text
// retrieval, behind agent.FilingsSource.
package filings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"
	"github.com/go-resty/resty/v2"
)

// DefaultFormTypes are the form types ingestion requests by default
// (§6: "at minimum 10-K, 10-Q, DEF 14A, S-4, SC 13D/G, 8-K").
var DefaultFormTypes = []string{"10-K", "10-Q", "DEF 14A", "S-4", "SC 13D/G", "8-K"}

// Client wraps the filings provider's REST API.
type Client struct {
	http *resty.Client
}

// New constructs a Client against baseURL.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{http: resty.New().SetBaseURL(baseURL).SetAuthToken(apiKey).SetTimeout(timeout)}
}

// Filings satisfies agent.FilingsSource: lists filings by form type for
// ticker and fetches full text for each, shaped as the ingestion stage's
// "sec_filings" raw key. formTypes defaults to DefaultFormTypes if empty.
func (c *Client) Filings(ctx context.Context, ticker string, formTypes []string) (map[string]any, error) {
	if len(formTypes) == 0 {
		formTypes = DefaultFormTypes
	}
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParam("ticker", ticker).
		SetQueryParam("form_types", joinForms(formTypes)).
		Get("/filings")
	if err != nil {
		return nil, fmt.Errorf("filings: request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("filings: status %d", resp.StatusCode())
	}

	var doc any
	if err := json.Unmarshal(resp.Body(), &doc); err != nil {
		return nil, fmt.Errorf("filings: decoding response: %w", err)
	}

	filingList, err := extractFilingList(doc)
	if err != nil {
		return nil, err
	}
	filingList, err = filterByFormType(filingList, formTypes)
	if err != nil {
		return nil, err
	}
	return map[string]any{"filings": filingList}, nil
}

// ProxyStatement fetches the DEF 14A proxy statement for ingestion's
// "proxy_data" raw key: the first DEF 14A entry in the provider's
// response. The list is not re-sorted by filing date.
func (c *Client) ProxyStatement(ctx context.Context, ticker string) (map[string]any, error) {
	result, err := c.Filings(ctx, ticker, []string{"DEF 14A"})
	if err != nil {
		return nil, err
	}
	list, _ := result["filings"].([]any)
	if len(list) == 0 {
		return map[string]any{}, nil
	}
	return map[string]any{"proxy_statement": list[0]}, nil
}

// extractFilingList uses jsonpath to pull the $.data[*] array out of
// whatever envelope shape the provider wraps its response in, rather than
// hardcoding a single struct tag layout (the provider's response
// envelope varies by endpoint version).
func extractFilingList(doc any) ([]any, error) {
	result, err := jsonpath.Get("$.data[*]", doc)
	if err != nil {
		// Fall back to treating the root itself as the list (some
		// endpoints return a bare array).
		if list, ok := doc.([]any); ok {
			return list, nil
		}
		return nil, fmt.Errorf("filings: extracting filing list: %w", err)
	}
	list, ok := result.([]any)
	if !ok {
		return nil, fmt.Errorf("filings: unexpected jsonpath result shape %T", result)
	}
	return list, nil
}

// filterByFormType keeps only filings whose form_type is in formTypes,
// using a gval boolean expression rather than a hand-rolled membership
// loop so the filter predicate reads the same way a future configurable
// filter rule would (§9 favors reproducible, inspectable rules).
func filterByFormType(filings []any, formTypes []string) ([]any, error) {
	wanted := make(map[string]bool, len(formTypes))
	for _, f := range formTypes {
		wanted[f] = true
	}
	lang := gval.Full()
	expr, err := lang.NewEvaluable("wanted[form_type]")
	if err != nil {
		return nil, fmt.Errorf("filings: compiling filter expression: %w", err)
	}

	out := make([]any, 0, len(filings))
	for _, f := range filings {
		entry, ok := f.(map[string]any)
		if !ok {
			continue
		}
		matched, err := expr.EvalBool(context.Background(), map[string]any{
			"wanted":    wanted,
			"form_type": entry["form_type"],
		})
		if err != nil {
			continue
		}
		if matched {
			out = append(out, entry)
		}
	}
	return out, nil
}

func joinForms(forms []string) string {
	out := ""
	for i, f := range forms {
		if i > 0 {
			out += ","
		}
		out += f
	}
	return out
}
