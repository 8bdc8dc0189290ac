package kardex

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type MovementKind string

const (
	MovementIngress MovementKind = "INGRESO"
	MovementEgress  MovementKind = "EGRESO"
	MovementOther   MovementKind = "OTHER"
)

func (k MovementKind) IsValid() bool {
	switch k {
	case MovementIngress, MovementEgress, MovementOther:
		return true
	}
	return false
}

// SpecialKind tags the movement types the system itself creates or reacts to.
type SpecialKind string

const (
	SpecialNone                SpecialKind = "NONE"
	SpecialOpeningBalance      SpecialKind = "SALDO_INICIAL"
	SpecialBalancingAdjustment SpecialKind = "AJUSTE_CUADRATURA"
	SpecialToleranceAdjustment SpecialKind = "AJUSTE_AUTO_TOLERANCIA"
	SpecialManualAdjustmentIn  SpecialKind = "AJUSTE_INGRESO"
	SpecialManualAdjustmentOut SpecialKind = "AJUSTE_EGRESO"
)

func (s SpecialKind) IsValid() bool {
	switch s {
	case SpecialNone, SpecialOpeningBalance, SpecialBalancingAdjustment,
		SpecialToleranceAdjustment, SpecialManualAdjustmentIn, SpecialManualAdjustmentOut:
		return true
	}
	return false
}

// IsFoundational reports whether retracting a transaction of this kind invalidates the whole group.
func (s SpecialKind) IsFoundational() bool {
	return s == SpecialOpeningBalance || s == SpecialBalancingAdjustment
}

func (s SpecialKind) IsAdjustment() bool {
	return s != SpecialNone && s != ""
}

type MovementType struct {
	ID      int64        `json:"id"`
	Name    string       `json:"name"`
	Kind    MovementKind `json:"kind"`
	Special SpecialKind  `json:"special"`
}

type ReviewReason string

const (
	ReviewNone             ReviewReason = ""
	ReviewInsufficientLots ReviewReason = "INSUFFICIENT_LOTS"
	ReviewBlocked          ReviewReason = "BLOCKED"
)

type Transaction struct {
	ID                     int64           `json:"id"`
	Group                  GroupKey        `json:"group"`
	Date                   time.Time       `json:"date"`
	MovementTypeID         int64           `json:"movement_type_id"`
	MovementName           string          `json:"movement_name"`
	Kind                   MovementKind    `json:"kind"`
	Special                SpecialKind     `json:"special"`
	Quantity               decimal.Decimal `json:"quantity"`
	UnitPrice              decimal.Decimal `json:"unit_price"`
	ExcludeFromCosting     bool            `json:"exclude_from_costing"`
	Costed                 bool            `json:"costed"`
	NeedsReview            bool            `json:"needs_review"`
	ReviewReason           ReviewReason    `json:"review_reason,omitempty"`
	ReferenceTransactionID int64           `json:"reference_transaction_id,omitempty"`
	Note                   string          `json:"note,omitempty"`
}

// Magnitude is the unsigned quantity the engine works with.
func (t Transaction) Magnitude() decimal.Decimal {
	return t.Quantity.Abs()
}

func (t Transaction) IsOpeningBalance() bool {
	return t.Special.IsFoundational()
}

// IsCostable reports whether the transaction belongs to the costable stream.
func (t Transaction) IsCostable() bool {
	return !t.ExcludeFromCosting && (t.Kind == MovementIngress || t.Kind == MovementEgress)
}

func kindRank(k MovementKind) int {
	if k == MovementIngress {
		return 0
	}
	return 1
}

func openingRank(t Transaction) int {
	if t.IsOpeningBalance() {
		return 0
	}
	return 1
}

// processingLess orders by date, opening balance first, ingress before egress, then id.
func processingLess(a, b Transaction) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	if ra, rb := openingRank(a), openingRank(b); ra != rb {
		return ra < rb
	}
	if ka, kb := kindRank(a.Kind), kindRank(b.Kind); ka != kb {
		return ka < kb
	}
	return a.ID < b.ID
}

// SortTransactions sorts in processing order. A tolerance adjustment is placed
// immediately before the transaction it corrects when both are present.
func SortTransactions(txs []Transaction) {
	anchored := make(map[int64][]Transaction)
	rest := make([]Transaction, 0, len(txs))
	present := make(map[int64]bool, len(txs))
	for _, t := range txs {
		present[t.ID] = true
	}
	for _, t := range txs {
		if t.Special == SpecialToleranceAdjustment && t.ReferenceTransactionID != 0 && present[t.ReferenceTransactionID] {
			anchored[t.ReferenceTransactionID] = append(anchored[t.ReferenceTransactionID], t)
			continue
		}
		rest = append(rest, t)
	}
	sort.SliceStable(rest, func(i, j int) bool { return processingLess(rest[i], rest[j]) })
	out := txs[:0]
	for _, t := range rest {
		if adj, ok := anchored[t.ID]; ok {
			sort.SliceStable(adj, func(i, j int) bool { return adj[i].ID < adj[j].ID })
			out = append(out, adj...)
		}
		out = append(out, t)
	}
}

type LedgerEntry struct {
	Group              GroupKey        `json:"group"`
	Sequence           int             `json:"sequence"`
	TransactionID      int64           `json:"transaction_id"`
	Date               time.Time       `json:"date"`
	Kind               MovementKind    `json:"kind"`
	AcquiredQuantity   decimal.Decimal `json:"acquired_quantity"`
	AcquiredUnitCost   decimal.Decimal `json:"acquired_unit_cost"`
	ConsumedQuantity   decimal.Decimal `json:"consumed_quantity"`
	ConsumedUnitCost   decimal.Decimal `json:"consumed_unit_cost"`
	LotSequence        int             `json:"lot_sequence,omitempty"`
	LotAcquisitionDate *time.Time      `json:"lot_acquisition_date,omitempty"`
	DisposalUnitPrice  decimal.Decimal `json:"disposal_unit_price"`
	RealizedResult     decimal.Decimal `json:"realized_result"`
	RunningQuantity    decimal.Decimal `json:"running_quantity"`
	RunningTotalCost   decimal.Decimal `json:"running_total_cost"`
}

func (e LedgerEntry) IsIngress() bool { return e.Kind == MovementIngress }

// AverageCost is the FIFO average cost after this entry, zero for an empty position.
func (e LedgerEntry) AverageCost() decimal.Decimal {
	if e.RunningQuantity.IsZero() {
		return decimal.Zero
	}
	return e.RunningTotalCost.Div(e.RunningQuantity)
}

// effect is the signed change this entry applies to the running totals.
func (e LedgerEntry) effect() (decimal.Decimal, decimal.Decimal) {
	if e.IsIngress() {
		return e.AcquiredQuantity, e.AcquiredQuantity.Mul(e.AcquiredUnitCost)
	}
	return e.ConsumedQuantity.Neg(), e.ConsumedQuantity.Mul(e.ConsumedUnitCost).Neg()
}

type GroupBalance struct {
	Group        GroupKey        `json:"group"`
	Quantity     decimal.Decimal `json:"quantity"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	AverageCost  decimal.Decimal `json:"average_cost"`
	LastDate     time.Time       `json:"last_date"`
	LastSequence int             `json:"last_sequence"`
}

type DailyBalance struct {
	Group       GroupKey        `json:"group"`
	Date        time.Time       `json:"date"`
	Quantity    decimal.Decimal `json:"quantity"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	AverageCost decimal.Decimal `json:"average_cost"`
}

// BalanceSnapshot is an independent custodian observation. It never feeds costing.
type BalanceSnapshot struct {
	Group       GroupKey        `json:"group"`
	Date        time.Time       `json:"date"`
	Quantity    decimal.Decimal `json:"quantity"`
	MarketPrice decimal.Decimal `json:"market_price"`
	Source      string          `json:"source,omitempty"`
}

// NormalizeDate truncates to the UTC calendar day.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
