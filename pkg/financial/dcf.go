package financial

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// DCFInputs parameterizes a single discounted-cash-flow run.
type DCFInputs struct {
	BaseFreeCashFlow   float64
	GrowthRate         float64 // near-term FCF growth
	WACC               float64
	TerminalGrowthRate float64
	ProjectionYears     int
	NetDebt            float64
	SharesOutstanding  float64
}

// DCFOutputs is one scenario's resolved valuation.
type DCFOutputs struct {
	EnterpriseValue     float64
	EquityValue         float64
	EquityValuePerShare float64
	WACC                float64
	TerminalGrowthRate  float64
	WACCAdjusted        bool // true if WACC was corrected to exceed terminal growth
}

// minWACCSpreadBps is the minimum spread, as a decimal rate (0.01 = 100
// basis points), enforced between WACC and terminal growth when they are
// equal or inverted (§8 boundary:
// "uses WACC = terminal growth + 100bps").
const minWACCSpreadBps = 0.01

// Compute runs a single-scenario DCF. If WACC does not exceed terminal
// growth, it is corrected to terminal growth + 100bps and WACCAdjusted is true.
func Compute(in DCFInputs) DCFOutputs {
	wacc := in.WACC
	adjusted := false
	if wacc <= in.TerminalGrowthRate {
		wacc = in.TerminalGrowthRate + minWACCSpreadBps
		adjusted = true
	}

	pv := 0.0
	fcf := in.BaseFreeCashFlow
	years := in.ProjectionYears
	if years <= 0 {
		years = 5
	}
	for y := 1; y <= years; y++ {
		fcf *= 1 + in.GrowthRate
		pv += fcf / math.Pow(1+wacc, float64(y))
	}

	terminalFCF := fcf * (1 + in.TerminalGrowthRate)
	terminalValue := terminalFCF / (wacc - in.TerminalGrowthRate)
	discountedTerminal := terminalValue / math.Pow(1+wacc, float64(years))

	ev := pv + discountedTerminal
	equity := ev - in.NetDebt
	perShare := 0.0
	if in.SharesOutstanding > 0 {
		perShare = equity / in.SharesOutstanding
	}

	return DCFOutputs{
		EnterpriseValue:     ev,
		EquityValue:         equity,
		EquityValuePerShare: perShare,
		WACC:                wacc,
		TerminalGrowthRate:  in.TerminalGrowthRate,
		WACCAdjusted:        adjusted,
	}
}

// ScenarioSet holds the base/optimistic/pessimistic DCF scenarios that
// ComputeScenarios produces by adjusting growth and WACC around the base
// case by the given spreads.
type ScenarioSet struct {
	Base        DCFOutputs
	Optimistic  DCFOutputs
	Pessimistic DCFOutputs
}

func ComputeScenarios(base DCFInputs, growthSpread, waccSpread float64) ScenarioSet {
	optimistic := base
	optimistic.GrowthRate += growthSpread
	optimistic.WACC -= waccSpread

	pessimistic := base
	pessimistic.GrowthRate -= growthSpread
	pessimistic.WACC += waccSpread

	return ScenarioSet{
		Base:        Compute(base),
		Optimistic:  Compute(optimistic),
		Pessimistic: Compute(pessimistic),
	}
}

// MonteCarloResult summarizes a sampled distribution of enterprise values.
type MonteCarloResult struct {
	Mean   float64
	StdDev float64
	P5     float64
	P50    float64
	P95    float64
	Trials int
}

// RunMonteCarlo samples `trials` DCF runs with growth rate and WACC drawn
// from normal distributions centered on the base case, and returns
// summary statistics of the resulting enterprise value distribution
// (§4.2: "Monte-Carlo style distribution"). src may be nil (uses the
// package-global source) or a fixed-seed rand.Source for reproducible tests.
func RunMonteCarlo(base DCFInputs, growthStdDev, waccStdDev float64, trials int, src rand.Source) MonteCarloResult {
	if trials <= 0 {
		trials = 1000
	}
	growthDist := distuv.Normal{Mu: base.GrowthRate, Sigma: growthStdDev, Src: src}
	waccDist := distuv.Normal{Mu: base.WACC, Sigma: waccStdDev, Src: src}

	evs := make([]float64, trials)
	for i := 0; i < trials; i++ {
		in := base
		in.GrowthRate = growthDist.Rand()
		in.WACC = waccDist.Rand()
		evs[i] = Compute(in).EnterpriseValue
	}

	sort.Float64s(evs)
	return MonteCarloResult{
		Mean:   mean(evs),
		StdDev: stddev(evs),
		P5:     percentile(evs, 0.05),
		P50:    percentile(evs, 0.50),
		P95:    percentile(evs, 0.95),
		Trials: trials,
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	m := mean(xs)
	if len(xs) < 2 {
		return 0
	}
	sumSq := 0.0
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
