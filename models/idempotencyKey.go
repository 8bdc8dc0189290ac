package models

import (
	"context"
	"errors"
	"strings"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "STARTED"
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
	IdempotencyStatusFailed    IdempotencyStatus = "FAILED"
)

// staleStartedAfter lets a redelivery take over a STARTED row whose worker died.
const staleStartedAfter = 5 * time.Minute

var ErrIdempotencyInProgress = errors.New("idempotency in progress")

// IdempotencyKey records push deliveries per handler.
// Unique constraint: (company_id, handler_name, message_id).
type IdempotencyKey struct {
	ID          int64             `gorm:"primaryKey" json:"id"`
	CompanyID   int64             `gorm:"not null;index:uniq_idem,unique" json:"company_id"`
	HandlerName string            `gorm:"size:100;not null;index:uniq_idem,unique" json:"handler_name"`
	MessageId   string            `gorm:"size:255;not null;index:uniq_idem,unique" json:"message_id"`
	Status      IdempotencyStatus `gorm:"size:20;not null;index" json:"status"`
	LastError   *string           `gorm:"type:text" json:"last_error"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IdempotencyStore is the database-backed message ledger of the push handlers.
type IdempotencyStore struct {
	db *gorm.DB
}

func NewIdempotencyStore(db *gorm.DB) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

func (s *IdempotencyStore) scope(ctx context.Context, companyID int64, handlerName, messageID string) *gorm.DB {
	return s.db.WithContext(ctx).Model(&IdempotencyKey{}).
		Where("company_id = ? AND handler_name = ? AND message_id = ?", companyID, handlerName, messageID)
}

// Begin inserts STARTED. If SUCCEEDED exists, returns (true, nil) meaning "skip safely".
func (s *IdempotencyStore) Begin(ctx context.Context, companyID int64, handlerName, messageID string) (skip bool, err error) {
	key := IdempotencyKey{
		CompanyID:   companyID,
		HandlerName: handlerName,
		MessageId:   messageID,
		Status:      IdempotencyStatusStarted,
	}
	if err := s.db.WithContext(ctx).Create(&key).Error; err == nil {
		return false, nil
	} else if !isDuplicateKeyErr(err) {
		return false, err
	}

	var existing IdempotencyKey
	if err := s.scope(ctx, companyID, handlerName, messageID).First(&existing).Error; err != nil {
		return false, err
	}

	switch existing.Status {
	case IdempotencyStatusSucceeded:
		return true, nil
	case IdempotencyStatusStarted:
		// Another worker is on it; a non-2xx makes Pub/Sub retry later.
		if time.Since(existing.UpdatedAt) < staleStartedAfter {
			return false, ErrIdempotencyInProgress
		}
	}
	return false, s.db.WithContext(ctx).Model(&IdempotencyKey{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{"status": IdempotencyStatusStarted, "last_error": nil, "updated_at": time.Now().UTC()}).Error
}

func (s *IdempotencyStore) Succeeded(ctx context.Context, companyID int64, handlerName, messageID string) error {
	return s.scope(ctx, companyID, handlerName, messageID).
		Updates(map[string]interface{}{"status": IdempotencyStatusSucceeded, "last_error": nil}).Error
}

func (s *IdempotencyStore) Failed(ctx context.Context, companyID int64, handlerName, messageID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.scope(ctx, companyID, handlerName, messageID).
		Updates(map[string]interface{}{"status": IdempotencyStatusFailed, "last_error": &msg}).Error
}
