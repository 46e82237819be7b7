package amm

import "fmt"

// ImpactLevel classifies a trade's price impact.
type ImpactLevel string

const (
	ImpactLow      ImpactLevel = "LOW"
	ImpactModerate ImpactLevel = "MODERATE"
	ImpactHigh     ImpactLevel = "HIGH"
	ImpactVeryHigh ImpactLevel = "VERY_HIGH"
	ImpactCritical ImpactLevel = "CRITICAL"
)

// Classification thresholds in percent.
const (
	warnThresholdPct     = 1.0
	moderateThresholdPct = 5.0
	highThresholdPct     = 15.0
	blockThresholdPct    = 20.0
)

// ImpactAnalysis is the policy verdict for a computed price impact.
type ImpactAnalysis struct {
	Level       ImpactLevel
	ImpactPct   float64
	ShouldWarn  bool
	ShouldBlock bool
	Warning     string
}

// AnalyzeImpact classifies a price impact percentage and decides whether
// the trade should carry a warning or be blocked outright.
func AnalyzeImpact(pct float64) ImpactAnalysis {
	a := ImpactAnalysis{ImpactPct: pct}

	switch {
	case pct <= warnThresholdPct:
		a.Level = ImpactLow
	case pct <= moderateThresholdPct:
		a.Level = ImpactModerate
	case pct <= highThresholdPct:
		a.Level = ImpactHigh
	case pct <= blockThresholdPct:
		a.Level = ImpactVeryHigh
	default:
		a.Level = ImpactCritical
	}

	a.ShouldWarn = pct > warnThresholdPct
	a.ShouldBlock = pct > blockThresholdPct

	if a.ShouldWarn && !a.ShouldBlock {
		a.Warning = fmt.Sprintf("price impact of %.2f%% is %s; consider reducing trade size", pct, a.Level)
	}

	return a
}
