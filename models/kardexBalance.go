package models

import (
	"time"

	"github.com/mmdatafocus/kardex_backend/kardex"
	"github.com/shopspring/decimal"
)

type KardexGroupBalance struct {
	CompanyID    int64           `gorm:"primaryKey;autoIncrement:false" json:"company_id"`
	Account      string          `gorm:"primaryKey;size:100" json:"account"`
	CustodianID  int64           `gorm:"primaryKey;autoIncrement:false" json:"custodian_id"`
	InstrumentID int64           `gorm:"primaryKey;autoIncrement:false" json:"instrument_id"`
	Quantity     decimal.Decimal `gorm:"type:decimal(28,10);default:0" json:"quantity"`
	TotalCost    decimal.Decimal `gorm:"type:decimal(28,10);default:0" json:"total_cost"`
	AverageCost  decimal.Decimal `gorm:"type:decimal(28,10);default:0" json:"average_cost"`
	LastDate     time.Time       `json:"last_date"`
	LastSequence int             `gorm:"default:0" json:"last_sequence"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (b KardexGroupBalance) toDomain() kardex.GroupBalance {
	return kardex.GroupBalance{
		Group:        kardex.GroupKey{CompanyID: b.CompanyID, Account: b.Account, CustodianID: b.CustodianID, InstrumentID: b.InstrumentID},
		Quantity:     b.Quantity,
		TotalCost:    b.TotalCost,
		AverageCost:  b.AverageCost,
		LastDate:     kardex.NormalizeDate(b.LastDate.UTC()),
		LastSequence: b.LastSequence,
	}
}

func groupBalanceRecord(b kardex.GroupBalance) KardexGroupBalance {
	return KardexGroupBalance{
		CompanyID:    b.Group.CompanyID,
		Account:      b.Group.Account,
		CustodianID:  b.Group.CustodianID,
		InstrumentID: b.Group.InstrumentID,
		Quantity:     b.Quantity,
		TotalCost:    b.TotalCost,
		AverageCost:  b.AverageCost,
		LastDate:     kardex.NormalizeDate(b.LastDate),
		LastSequence: b.LastSequence,
	}
}

// KardexDailyBalance is the closing position of a group on one calendar day.
type KardexDailyBalance struct {
	CompanyID    int64           `gorm:"primaryKey;autoIncrement:false" json:"company_id"`
	Account      string          `gorm:"primaryKey;size:100" json:"account"`
	CustodianID  int64           `gorm:"primaryKey;autoIncrement:false" json:"custodian_id"`
	InstrumentID int64           `gorm:"primaryKey;autoIncrement:false" json:"instrument_id"`
	BalanceDate  time.Time       `gorm:"primaryKey" json:"balance_date"`
	Quantity     decimal.Decimal `gorm:"type:decimal(28,10);default:0" json:"quantity"`
	TotalCost    decimal.Decimal `gorm:"type:decimal(28,10);default:0" json:"total_cost"`
	AverageCost  decimal.Decimal `gorm:"type:decimal(28,10);default:0" json:"average_cost"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (b KardexDailyBalance) toDomain() kardex.DailyBalance {
	return kardex.DailyBalance{
		Group:       kardex.GroupKey{CompanyID: b.CompanyID, Account: b.Account, CustodianID: b.CustodianID, InstrumentID: b.InstrumentID},
		Date:        kardex.NormalizeDate(b.BalanceDate.UTC()),
		Quantity:    b.Quantity,
		TotalCost:   b.TotalCost,
		AverageCost: b.AverageCost,
	}
}

func dailyBalanceRecord(b kardex.DailyBalance) KardexDailyBalance {
	return KardexDailyBalance{
		CompanyID:    b.Group.CompanyID,
		Account:      b.Group.Account,
		CustodianID:  b.Group.CustodianID,
		InstrumentID: b.Group.InstrumentID,
		BalanceDate:  kardex.NormalizeDate(b.Date),
		Quantity:     b.Quantity,
		TotalCost:    b.TotalCost,
		AverageCost:  b.AverageCost,
	}
}

// BalanceSnapshot is a custodian reported position. It never feeds costing.
type BalanceSnapshot struct {
	CompanyID    int64           `gorm:"primaryKey;autoIncrement:false" json:"company_id"`
	Account      string          `gorm:"primaryKey;size:100" json:"account"`
	CustodianID  int64           `gorm:"primaryKey;autoIncrement:false" json:"custodian_id"`
	InstrumentID int64           `gorm:"primaryKey;autoIncrement:false" json:"instrument_id"`
	SnapshotDate time.Time       `gorm:"primaryKey" json:"snapshot_date"`
	Quantity     decimal.Decimal `gorm:"type:decimal(28,10);default:0" json:"quantity"`
	MarketPrice  decimal.Decimal `gorm:"type:decimal(28,10);default:0" json:"market_price"`
	Source       string          `gorm:"size:50" json:"source"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s BalanceSnapshot) toDomain() kardex.BalanceSnapshot {
	return kardex.BalanceSnapshot{
		Group:       kardex.GroupKey{CompanyID: s.CompanyID, Account: s.Account, CustodianID: s.CustodianID, InstrumentID: s.InstrumentID},
		Date:        kardex.NormalizeDate(s.SnapshotDate.UTC()),
		Quantity:    s.Quantity,
		MarketPrice: s.MarketPrice,
		Source:      s.Source,
	}
}

func snapshotRecord(s kardex.BalanceSnapshot) BalanceSnapshot {
	return BalanceSnapshot{
		CompanyID:    s.Group.CompanyID,
		Account:      s.Group.Account,
		CustodianID:  s.Group.CustodianID,
		InstrumentID: s.Group.InstrumentID,
		SnapshotDate: kardex.NormalizeDate(s.Date),
		Quantity:     s.Quantity,
		MarketPrice:  s.MarketPrice,
		Source:       s.Source,
	}
}
