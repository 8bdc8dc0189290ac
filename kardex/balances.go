package kardex

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyClosings carries the closing balance forward for every calendar day in
// [from, to]. Days before the first entry produce nothing.
func DailyClosings(key GroupKey, entries []LedgerEntry, from, to time.Time) []DailyBalance {
	if len(entries) == 0 || from.IsZero() || to.IsZero() {
		return nil
	}
	from, to = NormalizeDate(from), NormalizeDate(to)
	if to.Before(from) {
		return nil
	}
	var (
		out  []DailyBalance
		idx  int
		last *LedgerEntry
	)
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		for idx < len(entries) && !NormalizeDate(entries[idx].Date).After(day) {
			last = &entries[idx]
			idx++
		}
		if last == nil {
			continue
		}
		out = append(out, DailyBalance{
			Group:       key,
			Date:        day,
			Quantity:    last.RunningQuantity,
			TotalCost:   last.RunningTotalCost,
			AverageCost: roundPrice(last.AverageCost()),
		})
	}
	return out
}

// GroupSummary aggregates the movements of a ledger window.
type GroupSummary struct {
	Group            GroupKey        `json:"group"`
	From             time.Time       `json:"from"`
	To               time.Time       `json:"to"`
	OpeningQuantity  decimal.Decimal `json:"opening_quantity"`
	OpeningTotalCost decimal.Decimal `json:"opening_total_cost"`
	AcquiredQuantity decimal.Decimal `json:"acquired_quantity"`
	AcquiredCost     decimal.Decimal `json:"acquired_cost"`
	ConsumedQuantity decimal.Decimal `json:"consumed_quantity"`
	ConsumedCost     decimal.Decimal `json:"consumed_cost"`
	RealizedResult   decimal.Decimal `json:"realized_result"`
	ClosingQuantity  decimal.Decimal `json:"closing_quantity"`
	ClosingTotalCost decimal.Decimal `json:"closing_total_cost"`
	Entries          int             `json:"entries"`
}

// Summarize folds entries in [from, to] on top of the balance before from.
func Summarize(key GroupKey, entries []LedgerEntry, from, to time.Time) GroupSummary {
	l := NewLedger(key, entries)
	s := GroupSummary{
		Group:            key,
		From:             from,
		To:               to,
		OpeningQuantity:  decimal.Zero,
		OpeningTotalCost: decimal.Zero,
		AcquiredQuantity: decimal.Zero,
		AcquiredCost:     decimal.Zero,
		ConsumedQuantity: decimal.Zero,
		ConsumedCost:     decimal.Zero,
		RealizedResult:   decimal.Zero,
	}
	if !from.IsZero() {
		if opening, ok := l.LastBefore(from); ok {
			s.OpeningQuantity = opening.RunningQuantity
			s.OpeningTotalCost = opening.RunningTotalCost
		}
	}
	s.ClosingQuantity, s.ClosingTotalCost = s.OpeningQuantity, s.OpeningTotalCost
	for _, e := range l.InRange(from, to) {
		s.Entries++
		if e.IsIngress() {
			s.AcquiredQuantity = s.AcquiredQuantity.Add(e.AcquiredQuantity)
			s.AcquiredCost = s.AcquiredCost.Add(e.AcquiredQuantity.Mul(e.AcquiredUnitCost))
		} else {
			s.ConsumedQuantity = s.ConsumedQuantity.Add(e.ConsumedQuantity)
			s.ConsumedCost = s.ConsumedCost.Add(e.ConsumedQuantity.Mul(e.ConsumedUnitCost))
			s.RealizedResult = s.RealizedResult.Add(e.RealizedResult)
		}
		s.ClosingQuantity, s.ClosingTotalCost = e.RunningQuantity, e.RunningTotalCost
	}
	return s
}

// Valuation prices a position with the nearest custodian snapshot.
type Valuation struct {
	Group              GroupKey        `json:"group"`
	Date               time.Time       `json:"date"`
	Quantity           decimal.Decimal `json:"quantity"`
	TotalCost          decimal.Decimal `json:"total_cost"`
	AverageCost        decimal.Decimal `json:"average_cost"`
	SnapshotDate       time.Time       `json:"snapshot_date"`
	SnapshotQuantity   decimal.Decimal `json:"snapshot_quantity"`
	MarketPrice        decimal.Decimal `json:"market_price"`
	MarketValue        decimal.Decimal `json:"market_value"`
	UnrealizedResult   decimal.Decimal `json:"unrealized_result"`
	QuantityDifference decimal.Decimal `json:"quantity_difference"`
}

func Value(key GroupKey, date time.Time, entry LedgerEntry, hasEntry bool, snap BalanceSnapshot) Valuation {
	v := Valuation{
		Group:            key,
		Date:             date,
		Quantity:         decimal.Zero,
		TotalCost:        decimal.Zero,
		AverageCost:      decimal.Zero,
		SnapshotDate:     snap.Date,
		SnapshotQuantity: snap.Quantity,
		MarketPrice:      snap.MarketPrice,
	}
	if hasEntry {
		v.Quantity = entry.RunningQuantity
		v.TotalCost = entry.RunningTotalCost
		v.AverageCost = roundPrice(entry.AverageCost())
	}
	v.MarketValue = v.Quantity.Mul(snap.MarketPrice)
	v.UnrealizedResult = v.MarketValue.Sub(v.TotalCost)
	v.QuantityDifference = snap.Quantity.Sub(v.Quantity)
	return v
}
