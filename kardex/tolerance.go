package kardex

import "github.com/shopspring/decimal"

const priceScale = 6

var (
	DefaultAutoAdjustLimit = decimal.NewFromFloat(0.5)
	DefaultEpsilon         = decimal.New(1, -6)
)

// Settings carries the tolerances of one engine.
type Settings struct {
	// AutoAdjustLimit is the largest short-fall covered by an automatic tolerance
	// adjustment. Zero disables auto adjustment.
	AutoAdjustLimit decimal.Decimal
	// Epsilon bounds how far a running balance may dip below zero.
	Epsilon decimal.Decimal
	// SuspendOnShortfall flags the remaining transactions of a batch as blocked
	// once one disposal is sent to review, instead of processing them.
	SuspendOnShortfall bool
}

func DefaultSettings() Settings {
	return Settings{
		AutoAdjustLimit: DefaultAutoAdjustLimit,
		Epsilon:         DefaultEpsilon,
	}
}

type Verdict int

const (
	VerdictCovered Verdict = iota
	VerdictAutoAdjust
	VerdictReview
)

func (v Verdict) String() string {
	switch v {
	case VerdictCovered:
		return "covered"
	case VerdictAutoAdjust:
		return "auto_adjust"
	case VerdictReview:
		return "review"
	}
	return "unknown"
}

type Assessment struct {
	Verdict   Verdict
	Shortfall decimal.Decimal
}

// ToleranceChecker decides what happens to a disposal that exceeds the open lots.
type ToleranceChecker struct {
	AutoAdjustLimit decimal.Decimal
}

func (c ToleranceChecker) Assess(requested, available decimal.Decimal) Assessment {
	shortfall := requested.Sub(available)
	if !shortfall.IsPositive() {
		return Assessment{Verdict: VerdictCovered, Shortfall: decimal.Zero}
	}
	if c.AutoAdjustLimit.IsPositive() && shortfall.LessThanOrEqual(c.AutoAdjustLimit) {
		return Assessment{Verdict: VerdictAutoAdjust, Shortfall: shortfall}
	}
	return Assessment{Verdict: VerdictReview, Shortfall: shortfall}
}

func roundPrice(d decimal.Decimal) decimal.Decimal {
	return d.Round(priceScale)
}
