package kardex

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot is an open acquisition that has not been fully consumed.
type Lot struct {
	Sequence          int             `json:"sequence"`
	TransactionID     int64           `json:"transaction_id"`
	AcquisitionDate   time.Time       `json:"acquisition_date"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
}

// Draw is one (lot, quantityTaken) pair of a disposal.
type Draw struct {
	Lot      Lot
	Quantity decimal.Decimal
}

func (d Draw) Cost() decimal.Decimal {
	return d.Quantity.Mul(d.Lot.UnitCost)
}

type MatchResult struct {
	Draws     []Draw
	Requested decimal.Decimal
	Matched   decimal.Decimal
	Shortfall decimal.Decimal
}

func (r MatchResult) ConsumedCost() decimal.Decimal {
	total := decimal.Zero
	for _, d := range r.Draws {
		total = total.Add(d.Cost())
	}
	return total
}

// WeightedCost is Σ(quantityTaken × unitCost) / requested.
func (r MatchResult) WeightedCost() decimal.Decimal {
	if !r.Requested.IsPositive() {
		return decimal.Zero
	}
	return r.ConsumedCost().Div(r.Requested)
}

func (r MatchResult) RealizedResult(unitPrice decimal.Decimal) decimal.Decimal {
	return r.Matched.Mul(unitPrice).Sub(r.ConsumedCost())
}

func (r MatchResult) Complete() bool {
	return !r.Shortfall.IsPositive()
}

// LotQueue holds open lots oldest first. It is private to one group replay.
type LotQueue struct {
	lots []Lot
}

func NewLotQueue(lots ...Lot) *LotQueue {
	q := &LotQueue{}
	for _, l := range lots {
		q.Push(l)
	}
	return q
}

func (q *LotQueue) Push(l Lot) {
	if !l.RemainingQuantity.IsPositive() {
		return
	}
	q.lots = append(q.lots, l)
}

func (q *LotQueue) Len() int { return len(q.lots) }

func (q *LotQueue) Available() decimal.Decimal {
	total := decimal.Zero
	for _, l := range q.lots {
		total = total.Add(l.RemainingQuantity)
	}
	return total
}

func (q *LotQueue) TotalCost() decimal.Decimal {
	total := decimal.Zero
	for _, l := range q.lots {
		total = total.Add(l.RemainingQuantity.Mul(l.UnitCost))
	}
	return total
}

// Lots returns a copy of the open lots, oldest first.
func (q *LotQueue) Lots() []Lot {
	out := make([]Lot, len(q.lots))
	copy(out, q.lots)
	return out
}

// Match consumes oldest lots first until quantity is satisfied or the queue is empty.
// A short-fall is reported in the result, never as an error.
func (q *LotQueue) Match(quantity decimal.Decimal) MatchResult {
	res := MatchResult{
		Requested: quantity,
		Matched:   decimal.Zero,
		Shortfall: decimal.Zero,
	}
	remaining := quantity
	for remaining.IsPositive() && len(q.lots) > 0 {
		head := &q.lots[0]
		take := decimal.Min(remaining, head.RemainingQuantity)
		res.Draws = append(res.Draws, Draw{Lot: *head, Quantity: take})
		res.Matched = res.Matched.Add(take)
		remaining = remaining.Sub(take)
		head.RemainingQuantity = head.RemainingQuantity.Sub(take)
		if !head.RemainingQuantity.IsPositive() {
			q.lots = q.lots[1:]
		}
	}
	if remaining.IsPositive() {
		res.Shortfall = remaining
	}
	return res
}

// Clone copies the queue so a caller can try a match without committing to it.
func (q *LotQueue) Clone() *LotQueue {
	return &LotQueue{lots: q.Lots()}
}
