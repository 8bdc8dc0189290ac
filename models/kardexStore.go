package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/kardex_backend/kardex"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const batchSize = 200

// Store is the gorm backed kardex.Store. Reads outside a unit of work see committed rows.
type Store struct {
	repo
}

func NewStore(db *gorm.DB) *Store {
	return &Store{repo: repo{db: db}}
}

func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) Begin(ctx context.Context) (kardex.UnitOfWork, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &unitOfWork{repo: repo{db: tx}}, nil
}

type unitOfWork struct {
	repo
	done bool
}

func (u *unitOfWork) Commit() error {
	if u.done {
		return errors.New("unit of work already finished")
	}
	u.done = true
	return u.db.Commit().Error
}

func (u *unitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	return u.db.Rollback().Error
}

type repo struct {
	db *gorm.DB
}

func whereGroup(db *gorm.DB, key kardex.GroupKey) *gorm.DB {
	return db.Where("company_id = ? AND account = ? AND custodian_id = ? AND instrument_id = ?",
		key.CompanyID, key.Account, key.CustodianID, key.InstrumentID)
}

func (r repo) MovementTypeBySpecial(ctx context.Context, special kardex.SpecialKind) (kardex.MovementType, bool, error) {
	var record MovementType
	err := r.db.WithContext(ctx).Where("special = ?", string(special)).Order("id").First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return kardex.MovementType{}, false, nil
	}
	if err != nil {
		return kardex.MovementType{}, false, err
	}
	return record.toDomain(), true, nil
}

func (r repo) Transaction(ctx context.Context, id int64) (kardex.Transaction, bool, error) {
	var record KardexTransaction
	err := r.db.WithContext(ctx).Preload("MovementType").First(&record, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return kardex.Transaction{}, false, nil
	}
	if err != nil {
		return kardex.Transaction{}, false, err
	}
	return record.toDomain(), true, nil
}

func toTransactions(records []KardexTransaction) []kardex.Transaction {
	txs := make([]kardex.Transaction, 0, len(records))
	for _, record := range records {
		txs = append(txs, record.toDomain())
	}
	return txs
}

func (r repo) UncostedTransactions(ctx context.Context) ([]kardex.Transaction, error) {
	db := r.db.WithContext(ctx)
	costable := db.Model(&MovementType{}).Select("id").Where("kind <> ?", string(kardex.MovementOther))
	var records []KardexTransaction
	err := db.Preload("MovementType").
		Where("costed = ? AND needs_review = ? AND exclude_from_costing = ?", false, false, false).
		Where("movement_type_id IN (?)", costable).
		Order("transaction_date, id").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return toTransactions(records), nil
}

func (r repo) GroupTransactions(ctx context.Context, key kardex.GroupKey) ([]kardex.Transaction, error) {
	var records []KardexTransaction
	err := whereGroup(r.db.WithContext(ctx).Preload("MovementType"), key).
		Order("transaction_date, id").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return toTransactions(records), nil
}

func (r repo) Groups(ctx context.Context) ([]kardex.GroupKey, error) {
	var keys []kardex.GroupKey
	err := r.db.WithContext(ctx).Model(&KardexTransaction{}).
		Distinct("company_id", "account", "custodian_id", "instrument_id").
		Order("company_id, account, custodian_id, instrument_id").
		Scan(&keys).Error
	return keys, err
}

func (r repo) CreateTransaction(ctx context.Context, tx kardex.Transaction) (kardex.Transaction, error) {
	if err := tx.Group.Validate(); err != nil {
		return kardex.Transaction{}, err
	}
	db := r.db.WithContext(ctx)
	var mt MovementType
	if err := db.First(&mt, tx.MovementTypeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return kardex.Transaction{}, fmt.Errorf("movement type %d does not exist", tx.MovementTypeID)
		}
		return kardex.Transaction{}, err
	}
	switch kardex.MovementKind(mt.Kind) {
	case kardex.MovementIngress:
		tx.Quantity = tx.Quantity.Abs()
	case kardex.MovementEgress:
		tx.Quantity = tx.Quantity.Abs().Neg()
	}
	record := transactionRecord(tx)
	record.ID = 0
	if err := db.Omit(clause.Associations).Create(&record).Error; err != nil {
		return kardex.Transaction{}, err
	}
	record.MovementType = mt
	return record.toDomain(), nil
}

func (r repo) MarkCosted(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&KardexTransaction{}).Where("id IN ?", ids).Update("costed", true).Error
}

func (r repo) FlagForReview(ctx context.Context, id int64, reason kardex.ReviewReason, note string) error {
	db := r.db.WithContext(ctx)
	if err := r.requireTransaction(db, id); err != nil {
		return err
	}
	return db.Model(&KardexTransaction{}).Where("id = ?", id).Updates(map[string]interface{}{
		"costed":        false,
		"needs_review":  true,
		"review_reason": string(reason),
		"note":          note,
	}).Error
}

func (r repo) ClearReview(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&KardexTransaction{}).Where("id IN ?", ids).Updates(map[string]interface{}{
		"needs_review":  false,
		"review_reason": string(kardex.ReviewNone),
	}).Error
}

func (r repo) ResetGroupFlags(ctx context.Context, key kardex.GroupKey, clearNotes bool) error {
	values := map[string]interface{}{
		"costed":        false,
		"needs_review":  false,
		"review_reason": string(kardex.ReviewNone),
	}
	if clearNotes {
		values["note"] = ""
	}
	return whereGroup(r.db.WithContext(ctx).Model(&KardexTransaction{}), key).Updates(values).Error
}

func (r repo) DeleteTransaction(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Delete(&KardexTransaction{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: id=%d", kardex.ErrTransactionNotFound, id)
	}
	return nil
}

func (r repo) requireTransaction(db *gorm.DB, id int64) error {
	var count int64
	if err := db.Model(&KardexTransaction{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: id=%d", kardex.ErrTransactionNotFound, id)
	}
	return nil
}

func (r repo) GroupEntries(ctx context.Context, key kardex.GroupKey) ([]kardex.LedgerEntry, error) {
	var records []KardexEntry
	if err := whereGroup(r.db.WithContext(ctx), key).Order("sequence").Find(&records).Error; err != nil {
		return nil, err
	}
	entries := make([]kardex.LedgerEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, record.toDomain())
	}
	return entries, nil
}

func (r repo) AppendEntries(ctx context.Context, entries []kardex.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	records := make([]KardexEntry, 0, len(entries))
	for _, e := range entries {
		records = append(records, entryRecord(e))
	}
	return r.db.WithContext(ctx).CreateInBatches(&records, batchSize).Error
}

func (r repo) DeleteGroupEntries(ctx context.Context, key kardex.GroupKey) error {
	return whereGroup(r.db.WithContext(ctx), key).Delete(&KardexEntry{}).Error
}

func (r repo) DeleteTransactionEntries(ctx context.Context, transactionID int64) (int, error) {
	res := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).Delete(&KardexEntry{})
	return int(res.RowsAffected), res.Error
}

func (r repo) GroupBalance(ctx context.Context, key kardex.GroupKey) (kardex.GroupBalance, bool, error) {
	var record KardexGroupBalance
	err := whereGroup(r.db.WithContext(ctx), key).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return kardex.GroupBalance{}, false, nil
	}
	if err != nil {
		return kardex.GroupBalance{}, false, err
	}
	return record.toDomain(), true, nil
}

func (r repo) SaveGroupBalance(ctx context.Context, balance kardex.GroupBalance) error {
	record := groupBalanceRecord(balance)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "company_id"}, {Name: "account"}, {Name: "custodian_id"}, {Name: "instrument_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "total_cost", "average_cost", "last_date", "last_sequence", "updated_at"}),
	}).Create(&record).Error
}

func (r repo) DailyBalances(ctx context.Context, key kardex.GroupKey, from, to time.Time) ([]kardex.DailyBalance, error) {
	query := whereGroup(r.db.WithContext(ctx), key)
	if !from.IsZero() {
		query = query.Where("balance_date >= ?", kardex.NormalizeDate(from))
	}
	if !to.IsZero() {
		query = query.Where("balance_date <= ?", kardex.NormalizeDate(to))
	}
	var records []KardexDailyBalance
	if err := query.Order("balance_date").Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]kardex.DailyBalance, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (r repo) SaveDailyBalances(ctx context.Context, balances []kardex.DailyBalance) error {
	if len(balances) == 0 {
		return nil
	}
	records := make([]KardexDailyBalance, 0, len(balances))
	for _, b := range balances {
		records = append(records, dailyBalanceRecord(b))
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "company_id"}, {Name: "account"}, {Name: "custodian_id"}, {Name: "instrument_id"}, {Name: "balance_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "total_cost", "average_cost", "updated_at"}),
	}).CreateInBatches(&records, batchSize).Error
}

func (r repo) DeleteGroupBalances(ctx context.Context, key kardex.GroupKey) error {
	db := r.db.WithContext(ctx)
	if err := whereGroup(db, key).Delete(&KardexGroupBalance{}).Error; err != nil {
		return err
	}
	return whereGroup(db, key).Delete(&KardexDailyBalance{}).Error
}

func (r repo) SnapshotOnOrBefore(ctx context.Context, key kardex.GroupKey, date time.Time) (kardex.BalanceSnapshot, bool, error) {
	var record BalanceSnapshot
	err := whereGroup(r.db.WithContext(ctx), key).
		Where("snapshot_date <= ?", kardex.NormalizeDate(date)).
		Order("snapshot_date DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return kardex.BalanceSnapshot{}, false, nil
	}
	if err != nil {
		return kardex.BalanceSnapshot{}, false, err
	}
	return record.toDomain(), true, nil
}

func (r repo) SaveSnapshot(ctx context.Context, snapshot kardex.BalanceSnapshot) error {
	if err := snapshot.Group.Validate(); err != nil {
		return err
	}
	record := snapshotRecord(snapshot)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "company_id"}, {Name: "account"}, {Name: "custodian_id"}, {Name: "instrument_id"}, {Name: "snapshot_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "market_price", "source", "updated_at"}),
	}).Create(&record).Error
}

var (
	_ kardex.Store      = (*Store)(nil)
	_ kardex.UnitOfWork = (*unitOfWork)(nil)
)
