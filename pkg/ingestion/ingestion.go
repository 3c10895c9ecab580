// Package ingestion implements pipeline stage 1 (§4.1): fetching
// financial/market/filing data for the target (and acquirer, if
// supplied) in parallel and populating the raw-data state keys under a
// single write. Ingestion is not an agent — it has no LLM prompt — but
// it owns its state keys the same way an agent owns its declared
// outputs, via a dedicated state.Handle.
package ingestion

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dealbench/dealbench/pkg/state"
)

// Name is the stable identifier ingestion uses as a state writer, and
// the required-agent name the scheduler checks on failure (§4.1
// "Required agents: ingestion, financial-analyst, synthesis,
// consistency-validator").
const Name = "ingestion"

// OwnedKeys are every raw-data key ingestion is the sole writer of.
var OwnedKeys = []string{
	"financial_data",
	"sec_filings",
	"proxy_data",
	"market_data",
	"peer_data",
	"macro_data",
}

// FinancialDataSource is the subset of pkg/adapters/findata ingestion consumes.
type FinancialDataSource interface {
	Statements(ctx context.Context, ticker string) (map[string]any, error)
	MarketData(ctx context.Context, ticker string) (map[string]any, error)
	PeerData(ctx context.Context, ticker string) (map[string]any, error)
	MacroData(ctx context.Context) (map[string]any, error)
}

// FilingsSource is the subset of pkg/adapters/filings ingestion consumes.
type FilingsSource interface {
	Filings(ctx context.Context, ticker string, formTypes []string) (map[string]any, error)
	ProxyStatement(ctx context.Context, ticker string) (map[string]any, error)
}

// Stage runs the ingestion pipeline stage.
type Stage struct {
	FinData FinancialDataSource
	Filings FilingsSource
}

// New constructs an ingestion Stage.
func New(finData FinancialDataSource, filings FilingsSource) *Stage {
	return &Stage{FinData: finData, Filings: filings}
}

// Run fetches every raw-data key for target in parallel (golang.org/x/
// sync/errgroup) and commits them to st through a single ingestion-owned
// handle. If the acquirer is supplied, its statements are fetched too
// and merged under financial_data.acquirer.
func (s *Stage) Run(ctx context.Context, st *state.State, target, acquirer string) error {
	g, gctx := errgroup.WithContext(ctx)

	var financialData, marketData, peerData, macroData, secFilings, proxyData map[string]any
	var acquirerFinancialData map[string]any

	g.Go(func() error {
		var err error
		financialData, err = s.FinData.Statements(gctx, target)
		if err != nil {
			return fmt.Errorf("ingestion: fetching financial statements for %s: %w", target, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		marketData, err = s.FinData.MarketData(gctx, target)
		if err != nil {
			return fmt.Errorf("ingestion: fetching market data for %s: %w", target, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		peerData, err = s.FinData.PeerData(gctx, target)
		if err != nil {
			return fmt.Errorf("ingestion: fetching peer data for %s: %w", target, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		macroData, err = s.FinData.MacroData(gctx)
		if err != nil {
			return fmt.Errorf("ingestion: fetching macro data: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		secFilings, err = s.Filings.Filings(gctx, target, nil)
		if err != nil {
			return fmt.Errorf("ingestion: fetching SEC filings for %s: %w", target, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		proxyData, err = s.Filings.ProxyStatement(gctx, target)
		if err != nil {
			return fmt.Errorf("ingestion: fetching proxy statement for %s: %w", target, err)
		}
		return nil
	})
	if acquirer != "" {
		g.Go(func() error {
			var err error
			acquirerFinancialData, err = s.FinData.Statements(gctx, acquirer)
			if err != nil {
				return fmt.Errorf("ingestion: fetching financial statements for acquirer %s: %w", acquirer, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if acquirerFinancialData != nil {
		if financialData == nil {
			financialData = make(map[string]any)
		}
		financialData["acquirer"] = acquirerFinancialData
	}

	h := st.HandleFor(Name, OwnedKeys)
	writes := map[string]any{
		"financial_data": financialData,
		"market_data":     marketData,
		"peer_data":       peerData,
		"macro_data":      macroData,
		"sec_filings":     secFilings,
		"proxy_data":      proxyData,
	}
	for key, value := range writes {
		if err := h.Set(key, value); err != nil {
			return fmt.Errorf("ingestion: committing %s: %w", key, err)
		}
	}
	return nil
}
