// Package financial implements the quantitative core used by the
// financial-analyst agent: normalization/exclusion, CAGR (simple and
// recency-weighted), multi-scenario DCF, and a Monte-Carlo distribution
// over the DCF inputs. Grounded on the statistics helpers of the
// aristath-sentinel trader's pkg/formulas, generalized from market
// return series to annual financial-statement series.
package financial

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// YearValue pairs a fiscal year with an observed value (e.g. revenue, net
// margin) for a single line item across a multi-year statement history.
type YearValue struct {
	Year  int
	Value float64
}

// ExtremeMarginThreshold is the absolute margin beyond which a year is
// excluded from normalized income (§4.2: "excludes years whose reported
// net or operating margin exceeds ±100%").
const ExtremeMarginThreshold = 1.0

// Exclusion records why a fiscal year was dropped from the normalized series.
type Exclusion struct {
	Year   int
	Reason string
	Margin float64
}

// ExcludeExtremeMarginYears filters out years whose net or operating
// margin magnitude exceeds ExtremeMarginThreshold, returning the
// remaining years and the exclusion records for normalized_financials.exclusions.
func ExcludeExtremeMarginYears(netMargins, opMargins map[int]float64) (kept []int, exclusions []Exclusion) {
	years := make(map[int]struct{}, len(netMargins)+len(opMargins))
	for y := range netMargins {
		years[y] = struct{}{}
	}
	for y := range opMargins {
		years[y] = struct{}{}
	}
	for y := range years {
		nm, hasNM := netMargins[y]
		om, hasOM := opMargins[y]
		if hasNM && math.Abs(nm) > ExtremeMarginThreshold {
			exclusions = append(exclusions, Exclusion{Year: y, Reason: "net margin exceeds ±100%", Margin: nm})
			continue
		}
		if hasOM && math.Abs(om) > ExtremeMarginThreshold {
			exclusions = append(exclusions, Exclusion{Year: y, Reason: "operating margin exceeds ±100%", Margin: om})
			continue
		}
		kept = append(kept, y)
	}
	return kept, exclusions
}

// SimpleCAGR computes the compound annual growth rate between the first
// and last values of a time-ordered series.
func SimpleCAGR(series []YearValue) float64 {
	if len(series) < 2 {
		return 0
	}
	first, last := series[0], series[len(series)-1]
	if first.Value <= 0 || last.Value <= 0 {
		return 0
	}
	years := float64(last.Year - first.Year)
	if years <= 0 {
		return 0
	}
	return math.Pow(last.Value/first.Value, 1/years) - 1
}

// RecencyWeights returns normalized exponential-decay weights for a
// series of the given length, most-recent observation last, decay factor
// 0.85 per year back (§4.2, §8 "recency weights normalize"). Weights sum
// to 1.0 within 1e-9.
func RecencyWeights(n int) []float64 {
	if n <= 0 {
		return nil
	}
	const decay = 0.85
	weights := make([]float64, n)
	sum := 0.0
	// index n-1 is most recent (k=0 years back); index 0 is oldest.
	for i := 0; i < n; i++ {
		k := n - 1 - i
		w := math.Pow(decay, float64(k))
		weights[i] = w
		sum += w
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

// RecencyWeightedCAGR computes a weighted year-over-year growth-rate
// average using RecencyWeights, rather than the simple first/last formula.
// This lets recent years dominate the estimate.
func RecencyWeightedCAGR(series []YearValue) float64 {
	if len(series) < 2 {
		return 0
	}
	growthRates := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		prev, cur := series[i-1].Value, series[i].Value
		if prev <= 0 {
			growthRates = append(growthRates, 0)
			continue
		}
		growthRates = append(growthRates, (cur-prev)/prev)
	}
	weights := RecencyWeights(len(growthRates))
	return stat.Mean(growthRates, weights)
}
