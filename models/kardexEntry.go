package models

import (
	"time"

	"github.com/mmdatafocus/kardex_backend/kardex"
	"github.com/shopspring/decimal"
)

// KardexEntry is one persisted ledger row. Rows are append-only within a costing pass.
type KardexEntry struct {
	ID                 int64           `gorm:"primaryKey" json:"id"`
	CompanyID          int64           `gorm:"uniqueIndex:idx_kardex_entry_seq;not null" json:"company_id"`
	Account            string          `gorm:"uniqueIndex:idx_kardex_entry_seq;size:100;not null" json:"account"`
	CustodianID        int64           `gorm:"uniqueIndex:idx_kardex_entry_seq;not null" json:"custodian_id"`
	InstrumentID       int64           `gorm:"uniqueIndex:idx_kardex_entry_seq;not null" json:"instrument_id"`
	Sequence           int             `gorm:"uniqueIndex:idx_kardex_entry_seq;not null" json:"sequence"`
	TransactionID      int64           `gorm:"index;not null" json:"transaction_id"`
	EntryDate          time.Time       `gorm:"index;not null" json:"entry_date"`
	Kind               string          `gorm:"size:10;not null" json:"kind"`
	AcquiredQuantity   decimal.Decimal `gorm:"type:decimal(28,10);default:0" json:"acquired_quantity"`
	AcquiredUnitCost   decimal.Decimal `gorm:"type:decimal(28,10);default:0" json:"acquired_unit_cost"`
	ConsumedQuantity   decimal.Decimal `gorm:"type:decimal(28,10);default:0" json:"consumed_quantity"`
	ConsumedUnitCost   decimal.Decimal `gorm:"type:decimal(28,10);default:0" json:"consumed_unit_cost"`
	LotSequence        int             `gorm:"default:0" json:"lot_sequence"`
	LotAcquisitionDate *time.Time      `json:"lot_acquisition_date"`
	DisposalUnitPrice  decimal.Decimal `gorm:"type:decimal(28,10);default:0" json:"disposal_unit_price"`
	RealizedResult     decimal.Decimal `gorm:"type:decimal(28,10);default:0" json:"realized_result"`
	RunningQuantity    decimal.Decimal `gorm:"type:decimal(28,10);default:0" json:"running_quantity"`
	RunningTotalCost   decimal.Decimal `gorm:"type:decimal(28,10);default:0" json:"running_total_cost"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (e KardexEntry) toDomain() kardex.LedgerEntry {
	entry := kardex.LedgerEntry{
		Group:             kardex.GroupKey{CompanyID: e.CompanyID, Account: e.Account, CustodianID: e.CustodianID, InstrumentID: e.InstrumentID},
		Sequence:          e.Sequence,
		TransactionID:     e.TransactionID,
		Date:              kardex.NormalizeDate(e.EntryDate.UTC()),
		Kind:              kardex.MovementKind(e.Kind),
		AcquiredQuantity:  e.AcquiredQuantity,
		AcquiredUnitCost:  e.AcquiredUnitCost,
		ConsumedQuantity:  e.ConsumedQuantity,
		ConsumedUnitCost:  e.ConsumedUnitCost,
		LotSequence:       e.LotSequence,
		DisposalUnitPrice: e.DisposalUnitPrice,
		RealizedResult:    e.RealizedResult,
		RunningQuantity:   e.RunningQuantity,
		RunningTotalCost:  e.RunningTotalCost,
	}
	if e.LotAcquisitionDate != nil {
		d := kardex.NormalizeDate(e.LotAcquisitionDate.UTC())
		entry.LotAcquisitionDate = &d
	}
	return entry
}

func entryRecord(e kardex.LedgerEntry) KardexEntry {
	record := KardexEntry{
		CompanyID:         e.Group.CompanyID,
		Account:           e.Group.Account,
		CustodianID:       e.Group.CustodianID,
		InstrumentID:      e.Group.InstrumentID,
		Sequence:          e.Sequence,
		TransactionID:     e.TransactionID,
		EntryDate:         kardex.NormalizeDate(e.Date),
		Kind:              string(e.Kind),
		AcquiredQuantity:  e.AcquiredQuantity,
		AcquiredUnitCost:  e.AcquiredUnitCost,
		ConsumedQuantity:  e.ConsumedQuantity,
		ConsumedUnitCost:  e.ConsumedUnitCost,
		LotSequence:       e.LotSequence,
		DisposalUnitPrice: e.DisposalUnitPrice,
		RealizedResult:    e.RealizedResult,
		RunningQuantity:   e.RunningQuantity,
		RunningTotalCost:  e.RunningTotalCost,
	}
	if e.LotAcquisitionDate != nil {
		d := kardex.NormalizeDate(*e.LotAcquisitionDate)
		record.LotAcquisitionDate = &d
	}
	return record
}
