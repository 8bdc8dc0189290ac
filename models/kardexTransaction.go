package models

import (
	"time"

	"github.com/mmdatafocus/kardex_backend/kardex"
	"github.com/shopspring/decimal"
)

// KardexTransaction is a custody movement of one group.
type KardexTransaction struct {
	ID                     int64           `gorm:"primaryKey" json:"id"`
	CompanyID              int64           `gorm:"index:idx_kardex_tx_group;not null" json:"company_id"`
	Account                string          `gorm:"index:idx_kardex_tx_group;size:100;not null" json:"account"`
	CustodianID            int64           `gorm:"index:idx_kardex_tx_group;not null" json:"custodian_id"`
	InstrumentID           int64           `gorm:"index:idx_kardex_tx_group;not null" json:"instrument_id"`
	TransactionDate        time.Time       `gorm:"index;not null" json:"transaction_date"`
	MovementTypeID         int64           `gorm:"index;not null" json:"movement_type_id"`
	MovementType           MovementType    `gorm:"foreignKey:MovementTypeID" json:"movement_type"`
	Quantity               decimal.Decimal `gorm:"type:decimal(28,10);default:0" json:"quantity"`
	UnitPrice              decimal.Decimal `gorm:"type:decimal(28,10);default:0" json:"unit_price"`
	ExcludeFromCosting     bool            `gorm:"not null;default:false" json:"exclude_from_costing"`
	Costed                 bool            `gorm:"index;not null;default:false" json:"costed"`
	NeedsReview            bool            `gorm:"index;not null;default:false" json:"needs_review"`
	ReviewReason           string          `gorm:"size:30" json:"review_reason"`
	ReferenceTransactionID int64           `gorm:"index;default:0" json:"reference_transaction_id"`
	Note                   string          `gorm:"type:text" json:"note"`
	CreatedAt              time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t KardexTransaction) group() kardex.GroupKey {
	return kardex.GroupKey{CompanyID: t.CompanyID, Account: t.Account, CustodianID: t.CustodianID, InstrumentID: t.InstrumentID}
}

// toDomain expects MovementType to be loaded.
func (t KardexTransaction) toDomain() kardex.Transaction {
	return kardex.Transaction{
		ID:                     t.ID,
		Group:                  t.group(),
		Date:                   kardex.NormalizeDate(t.TransactionDate.UTC()),
		MovementTypeID:         t.MovementTypeID,
		MovementName:           t.MovementType.Name,
		Kind:                   kardex.MovementKind(t.MovementType.Kind),
		Special:                kardex.SpecialKind(t.MovementType.Special),
		Quantity:               t.Quantity,
		UnitPrice:              t.UnitPrice,
		ExcludeFromCosting:     t.ExcludeFromCosting,
		Costed:                 t.Costed,
		NeedsReview:            t.NeedsReview,
		ReviewReason:           kardex.ReviewReason(t.ReviewReason),
		ReferenceTransactionID: t.ReferenceTransactionID,
		Note:                   t.Note,
	}
}

func transactionRecord(tx kardex.Transaction) KardexTransaction {
	return KardexTransaction{
		ID:                     tx.ID,
		CompanyID:              tx.Group.CompanyID,
		Account:                tx.Group.Account,
		CustodianID:            tx.Group.CustodianID,
		InstrumentID:           tx.Group.InstrumentID,
		TransactionDate:        kardex.NormalizeDate(tx.Date),
		MovementTypeID:         tx.MovementTypeID,
		Quantity:               tx.Quantity,
		UnitPrice:              tx.UnitPrice,
		ExcludeFromCosting:     tx.ExcludeFromCosting,
		Costed:                 tx.Costed,
		NeedsReview:            tx.NeedsReview,
		ReviewReason:           string(tx.ReviewReason),
		ReferenceTransactionID: tx.ReferenceTransactionID,
		Note:                   tx.Note,
	}
}
